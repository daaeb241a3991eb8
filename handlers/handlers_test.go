package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quasarr/config"
	"quasarr/internal/state"
	"quasarr/internal/store"
	"quasarr/models"
	"quasarr/payload"
	"quasarr/services/categories"
	"quasarr/services/search"
	"quasarr/services/sites"
)

func newTestManager(t *testing.T, mutate func(*config.Settings)) *config.Manager {
	t.Helper()

	m := config.NewManager(filepath.Join(t.TempDir(), "settings.json"))
	settings, err := m.Load()
	require.NoError(t, err)
	if mutate != nil {
		mutate(&settings)
		require.NoError(t, m.Save(settings))
	}
	return m
}

func TestRequireAPIKey(t *testing.T) {
	m := newTestManager(t, func(s *config.Settings) { s.API.Key = "secret" })
	auth := NewAuthHandler(m)

	next := auth.RequireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	next.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api?apikey=wrong", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	next.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api?apikey=secret", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("X-Api-Key", "secret")
	next.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionCookieRoundTrip(t *testing.T) {
	server := config.ServerSettings{AuthMode: "form", AuthUser: "admin", AuthPass: "hunter2"}
	auth := NewAuthHandler(nil)

	value, err := makeSessionCookie(server, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: value})
	assert.True(t, auth.validSessionCookie(req, server))

	// A different password invalidates every outstanding cookie.
	changed := server
	changed.AuthPass = "other"
	assert.False(t, auth.validSessionCookie(req, changed))

	// Tampered payloads fail closed.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "e30." + strings.Split(value, ".")[1]})
	assert.False(t, auth.validSessionCookie(req, server))
}

func TestGateWhitelistSkipsAuth(t *testing.T) {
	// Pin the env-driven credential overrides so the ambient shell (USER is
	// almost always set) cannot leak into the loaded settings.
	t.Setenv("AUTH", "basic")
	t.Setenv("USER", "admin")
	t.Setenv("PASS", "hunter2")

	m := newTestManager(t, func(s *config.Settings) {
		s.Server.AuthMode = "basic"
		s.Server.AuthUser = "admin"
		s.Server.AuthPass = "hunter2"
	})
	auth := NewAuthHandler(m)

	gated := auth.Gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	gated.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api?t=caps", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "machine endpoints bypass the UI gate")

	rec = httptest.NewRecorder()
	gated.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	req.SetBasicAuth("admin", "hunter2")
	gated.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func newTestIndexer(t *testing.T) *IndexerHandler {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := state.NewRegistry()
	reg.SetAddresses("http://localhost:8080", "")
	env := &sites.Env{
		Store:    db,
		State:    reg,
		Settings: func() (config.Settings, error) { return config.DefaultSettings(), nil },
	}

	cats := categories.NewService(db)
	svc := search.NewService(sites.NewRegistry(), env, cats, nil)
	return NewIndexerHandler(svc, cats, reg, "1.0.0")
}

func TestIndexerCaps(t *testing.T) {
	h := newTestIndexer(t)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api?t=caps", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "xml")
	assert.Contains(t, body, `<caps>`)
	assert.Contains(t, body, `id="2000"`)
	assert.Contains(t, body, `id="5000"`)
}

func TestIndexerPlaceholderOnlyForBareProbes(t *testing.T) {
	h := newTestIndexer(t)

	// No criteria at all: placeholder keeps the channel non-empty.
	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api?t=movie", nil))
	assert.Contains(t, rec.Body.String(), "Quasarr.has.no.results")

	// A real search with no hits answers an empty channel.
	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api?t=movie&imdbid=tt0133093", nil))
	assert.NotContains(t, rec.Body.String(), "Quasarr.has.no.results")

	// Unknown modes answer an empty channel rather than an error.
	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api?t=details", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<rss")
}

func TestPhraseSearchGatedByUserAgent(t *testing.T) {
	h := newTestIndexer(t)

	req := httptest.NewRequest(http.MethodGet, "/api?t=search&q=dune", nil)
	req.Header.Set("User-Agent", "Sonarr/4.0")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	assert.NotContains(t, rec.Body.String(), "<item>")

	req = httptest.NewRequest(http.MethodGet, "/api?t=search", nil)
	req.Header.Set("User-Agent", "LazyLibrarian/1.7")
	rec = httptest.NewRecorder()
	h.Handle(rec, req)
	assert.Contains(t, rec.Body.String(), "Quasarr.has.no.results")
}

func TestDownloadHandlerServesEnvelope(t *testing.T) {
	registry := sites.NewRegistry()
	registry.MustRegister(sites.NewNX())
	h := NewDownloadHandler(registry)

	intent := models.DownloadIntent{
		Title:     "Some.Movie.2024.1080p.WEB.h264-GRP",
		URL:       "https://nx.example/release/some-movie",
		SizeMB:    4300,
		IMDBID:    "tt0133093",
		SourceKey: "nx",
	}
	token, err := payload.Encode(intent)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/download/?payload="+url.QueryEscape(token), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-nzb", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), intent.Title)

	// The served envelope must decode back to the same intent.
	parsed, err := payload.ParseNZB(rec.Body.Bytes(), registry.Known)
	require.NoError(t, err)
	assert.Equal(t, intent, parsed)

	rec = httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/download/?payload=garbage", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveCategoryFallsBackToUserAgent(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	h := &SabnzbdHandler{Categories: categories.NewService(db)}

	cases := []struct {
		ua   string
		want string
	}{
		{"Sonarr/4.0.0", "tv"},
		{"Radarr/5.2.6", "movies"},
		{"Lidarr/2.0", "music"},
		{"LazyLibrarian/1.7", "books"},
		{"Readarr/0.3", "books"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api?mode=addurl", nil)
		req.Header.Set("User-Agent", tc.ua)
		assert.Equal(t, tc.want, h.resolveCategory(req), tc.ua)
	}

	req := httptest.NewRequest(http.MethodGet, "/api?mode=addurl&cat=tv", nil)
	req.Header.Set("User-Agent", "Radarr/5.2.6")
	assert.Equal(t, "tv", h.resolveCategory(req), "explicit cat wins over user agent")
}

func TestNormalizeIMDBID(t *testing.T) {
	assert.Equal(t, "tt0133093", normalizeIMDBID("0133093"))
	assert.Equal(t, "tt0133093", normalizeIMDBID("tt0133093"))
	assert.Equal(t, "", normalizeIMDBID("  "))
}
