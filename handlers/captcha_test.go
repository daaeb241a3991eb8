package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quasarr/config"
	"quasarr/internal/state"
	"quasarr/internal/store"
	"quasarr/models"
	"quasarr/services/categories"
	"quasarr/services/download"
	"quasarr/services/jdownloader"
	"quasarr/services/notify"
	"quasarr/services/packages"
	"quasarr/services/protected"
	"quasarr/services/sites"
	"quasarr/services/stats"
)

type captchaFixture struct {
	handler   *CaptchaHandler
	protected *protected.Service
	download  *download.Service
	stats     *stats.Service
	state     *state.Registry
}

func newCaptchaFixture(t *testing.T) captchaFixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := state.NewRegistry()
	reg.SetAddresses("http://localhost:8080", "http://localhost:8080")

	prot := protected.NewService(db)
	st := stats.NewService(db)
	cats := categories.NewService(db)
	jd := jdownloader.NewManager("", "", "")
	siteRegistry := sites.NewRegistry()
	env := &sites.Env{
		Store:    db,
		State:    reg,
		Settings: func() (config.Settings, error) { return config.DefaultSettings(), nil },
	}
	dl := download.NewService(prot, jd, siteRegistry, env, cats, st, notify.NewService("", ""), reg)
	pkgs := packages.NewService(jd, prot)

	return captchaFixture{
		handler:   NewCaptchaHandler(prot, dl, pkgs, cats, st, reg),
		protected: prot,
		download:  dl,
		stats:     st,
		state:     reg,
	}
}

func (f captchaFixture) park(t *testing.T, title string) string {
	t.Helper()

	id := models.PackageID("movies", title)
	require.NoError(t, f.protected.Save(id, models.ProtectedPackage{
		Title: title,
		Links: [][2]string{{"https://filecrypt.cc/Container/abc.html", "rapidgator"}},
	}))
	return id
}

func TestQuickTransferBadPayloadKeepsPackage(t *testing.T) {
	f := newCaptchaFixture(t)
	id := f.park(t, "Some.Movie.2024.1080p.WEB.h264-GRP")

	req := httptest.NewRequest(http.MethodGet,
		"/captcha/quick-transfer?pkg_id="+url.QueryEscape(id)+"&links=%21%21%21", nil)
	rec := httptest.NewRecorder()
	f.handler.QuickTransfer(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "malformed transfers answer a plain page, not a redirect")
	assert.Contains(t, rec.Body.String(), "Transfer failed")
	assert.True(t, f.protected.Exists(id), "a broken transfer must not touch the package")
}

func TestQuickTransferRejectsUndeflatableLinks(t *testing.T) {
	f := newCaptchaFixture(t)
	id := f.park(t, "Some.Movie.2024.1080p.WEB.h264-GRP")

	// Valid base64url, but the bytes are not a DEFLATE stream.
	req := httptest.NewRequest(http.MethodGet,
		"/captcha/quick-transfer?pkg_id="+url.QueryEscape(id)+"&links=bm90LWRlZmxhdGU", nil)
	rec := httptest.NewRecorder()
	f.handler.QuickTransfer(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Transfer failed")
	assert.True(t, f.protected.Exists(id))
}

func TestFilecryptDecryptFailureCountsManual(t *testing.T) {
	f := newCaptchaFixture(t)
	id := f.park(t, "Some.Movie.2024.1080p.WEB.h264-GRP")

	form := url.Values{"package_id": {id}, "token": {"solved-token"}}
	req := httptest.NewRequest(http.MethodPost, "/captcha/decrypt-filecrypt",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// A dead context makes the crypter call fail without leaving the process,
	// which lands in the same zero-links error branch.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	f.handler.DecryptFileCrypt(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":false`)
	assert.Equal(t, int64(1), f.stats.Get(stats.FailedDecryptionsManual))
	assert.True(t, f.protected.Exists(id), "a failed decrypt leaves the package solvable")
}

func TestUserDeleteSkipsDecryptionFailureCounters(t *testing.T) {
	f := newCaptchaFixture(t)
	id := f.park(t, "Some.Movie.2024.1080p.WEB.h264-GRP")

	req := httptest.NewRequest(http.MethodGet, "/captcha/delete/"+id, nil)
	req = mux.SetURLVars(req, map[string]string{"package_id": id})
	rec := httptest.NewRecorder()
	f.handler.Delete(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.False(t, f.protected.Exists(id))
	assert.Equal(t, int64(1), f.stats.Get(stats.FailedDownloads))
	assert.Zero(t, f.stats.Get(stats.FailedDecryptionsManual),
		"a user delete is not a decryption failure")
}

func TestHelperFailAcceptsTitle(t *testing.T) {
	f := newCaptchaFixture(t)
	title := "Some.Movie.2024.1080p.WEB.h264-GRP"
	id := f.park(t, title)

	h := NewHelperHandler(newTestManager(t, nil), f.protected, f.download, f.state)

	req := httptest.NewRequest(http.MethodPost, "/sponsors_helper/api/fail/",
		strings.NewReader(`{"title":"`+title+`"}`))
	rec := httptest.NewRecorder()
	h.Fail(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":true`)
	assert.False(t, f.protected.Exists(id))
}

func TestHelperFailRejectsUnknownRef(t *testing.T) {
	f := newCaptchaFixture(t)
	f.park(t, "Some.Movie.2024.1080p.WEB.h264-GRP")

	h := NewHelperHandler(newTestManager(t, nil), f.protected, f.download, f.state)

	req := httptest.NewRequest(http.MethodPost, "/sponsors_helper/api/fail/",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Fail(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
