package jdownloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSchedule(t *testing.T) {
	for attempt := uint(0); attempt < 10; attempt++ {
		assert.Equal(t, 3*time.Second, BackoffDelay(attempt), "attempt %d", attempt)
	}
	for attempt := uint(10); attempt < 15; attempt++ {
		assert.Equal(t, 60*time.Second, BackoffDelay(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 300*time.Second, BackoffDelay(15))
	assert.Equal(t, 300*time.Second, BackoffDelay(100))
}

func TestWarnThrottle(t *testing.T) {
	var warned []uint
	for attempt := uint(1); attempt <= 60; attempt++ {
		if shouldWarn(attempt) {
			warned = append(warned, attempt)
		}
	}
	assert.Equal(t, []uint{10, 15, 20, 30, 40, 50, 60}, warned)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	token := createSecret("user@example.org", "hunter2", "device")
	require.Len(t, token, 32)

	for _, plaintext := range []string{"", "a", "exactly sixteen!", `{"rid":42,"url":"/test"}`} {
		sealed, err := encrypt(token, []byte(plaintext))
		require.NoError(t, err)

		opened, err := decrypt(token, sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(opened))
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	token := createSecret("user@example.org", "hunter2", "device")

	_, err := decrypt(token, "not base64!!!")
	assert.Error(t, err)

	_, err = decrypt(token, "YWJj") // 3 bytes, not block aligned
	assert.Error(t, err)
}

func TestUpdateTokenChainsSession(t *testing.T) {
	secret := createSecret("user@example.org", "hunter2", "server")

	tok1, err := updateToken(secret, "deadbeef")
	require.NoError(t, err)
	tok2, err := updateToken(secret, "deadbeee")
	require.NoError(t, err)
	assert.NotEqual(t, tok1, tok2)

	_, err = updateToken(secret, "not-hex")
	assert.Error(t, err)
}

func TestSignIsDeterministic(t *testing.T) {
	key := createSecret("user@example.org", "hunter2", "server")
	q := "/my/connect?email=user%40example.org&appkey=quasarr&rid=1"
	assert.Equal(t, sign(key, q), sign(key, q))
	assert.NotEqual(t, sign(key, q), sign(key, q+"x"))
	assert.Len(t, sign(key, q), 64)
}

func TestEnforcedDeviceBaseline(t *testing.T) {
	got := map[string]any{}
	for _, s := range enforcedSettings {
		got[s.iface+"/"+s.key] = s.want
	}

	assert.Equal(t, "ALWAYS", got["org.jdownloader.settings.GeneralSettings/AutoStartDownloadOption"])
	assert.Equal(t, "SKIP_FILE", got["org.jdownloader.settings.GeneralSettings/IfFileExistsAction"])
	assert.Equal(t, "NEVER", got["org.jdownloader.settings.GeneralSettings/CleanupAfterDownloadAction"])
	assert.Equal(t, "INCLUDE_OFFLINE", got["org.jdownloader.gui.views.linkgrabber.addlinksdialog.LinkgrabberSettings/DefaultOnAddedOfflineLinksAction"])
	assert.Equal(t, false, got["org.jdownloader.settings.GraphicalUserInterfaceSettings/BannerEnabled"])
	assert.Equal(t, "CUSTOM_HIDDEN", got["org.jdownloader.settings.GraphicalUserInterfaceSettings/DonateButtonState"])
	assert.Equal(t, "NULL", got["org.jdownloader.extraction.ExtractionExtension/DeleteArchiveFilesAfterExtractionAction"])
	assert.Equal(t, "OVERWRITE_FILE", got["org.jdownloader.extraction.ExtractionExtension/IfFileExistsAction"])

	assert.Contains(t, extractionBlacklist, `.*\.sfv`)
	assert.Contains(t, extractionBlacklist, `.*\.jpe?g`)
	assert.Contains(t, extractionBlacklist, `.*\.exe`)
	assert.Equal(t, extractionBlacklist, got["org.jdownloader.extraction.ExtractionExtension/BlacklistPatterns"])
}

func TestSettingEqual(t *testing.T) {
	assert.True(t, settingEqual("ALWAYS", "ALWAYS"))
	assert.False(t, settingEqual("NEVER", "ALWAYS"))
	assert.True(t, settingEqual(false, false))
	assert.False(t, settingEqual(true, false))

	// Decoded device values arrive as []any; the enforced lists are []string.
	assert.True(t, settingEqual([]any{"a", "b"}, []string{"a", "b"}))
	assert.False(t, settingEqual([]any{"a"}, []string{"a", "b"}))
}

// testView builds a View with pre-resolved device answers so the archive
// logic can be exercised without a connection.
func testView(archives map[int64]bool, archivesErr error, links []LinkInfo) *View {
	return &View{
		m:                  NewManager("", "", ""),
		ctx:                context.Background(),
		id:                 "test",
		grabberPackages:    &fetched[[]PackageInfo]{},
		grabberLinks:       &fetched[[]LinkInfo]{},
		downloaderPackages: &fetched[[]PackageInfo]{done: true},
		downloaderLinks:    &fetched[[]LinkInfo]{done: true, value: links},
		collecting:         &fetched[bool]{},
		archives:           &fetched[map[int64]bool]{done: true, value: archives, err: archivesErr},
	}
}

func TestIsArchivePrefersBatchedClassification(t *testing.T) {
	links := []LinkInfo{
		{PackageUUID: 42, Name: "movie.mkv"},
		{PackageUUID: 43, Name: "movie.part1.rar"},
		{PackageUUID: 44, Name: "movie.mkv"},
	}
	v := testView(map[int64]bool{42: true}, nil, links)

	assert.True(t, v.IsArchive(42), "confirmed by the device despite plain extensions")
	assert.True(t, v.IsArchive(43), "unconfirmed packages fall back to extensions")
	assert.False(t, v.IsArchive(44), "unconfirmed non-archive stays non-archive")
}

func TestIsArchiveAssumesArchiveOnQueryFailure(t *testing.T) {
	v := testView(nil, errors.New("device unreachable"), nil)
	assert.True(t, v.IsArchive(42))

	// A disconnected manager degrades the same way end to end.
	disconnected := NewManager("", "", "").NewView(context.Background())
	assert.True(t, disconnected.IsArchive(42))
}

func TestArchiveNameDetection(t *testing.T) {
	for _, name := range []string{"movie.rar", "movie.part1.RAR", "movie.r01", "movie.001", "movie.zip", "movie.7z"} {
		assert.True(t, archiveNameRe.MatchString(name), name)
	}
	for _, name := range []string{"movie.mkv", "movie.mp4", "notes.txt"} {
		assert.False(t, archiveNameRe.MatchString(name), name)
	}
}
