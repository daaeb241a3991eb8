package packages

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quasarr/internal/store"
	"quasarr/models"
	"quasarr/services/jdownloader"
	"quasarr/services/protected"
)

func newTestService(t *testing.T) (*Service, *protected.Service) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	prot := protected.NewService(db)
	// A disconnected manager makes every device view empty, which isolates
	// the protected-slot synthesis.
	return NewService(jdownloader.NewManager("", "", ""), prot), prot
}

func TestQueueSynthesizesCaptchaSlots(t *testing.T) {
	svc, prot := newTestService(t)

	id := models.PackageID("movies", "Some.Movie.2024.1080p")
	require.NoError(t, prot.Save(id, models.ProtectedPackage{
		Title: "Some.Movie.2024.1080p",
		Links: [][2]string{{"https://crypter.example/abc", "rapidgator"}},
	}))

	queue := svc.Queue(context.Background())
	require.Len(t, queue, 1)
	assert.Equal(t, id, queue[0].NzoID)
	assert.Equal(t, "[CAPTCHA not solved!] Some.Movie.2024.1080p", queue[0].Filename)
	assert.Equal(t, "movies", queue[0].Category)
	assert.Equal(t, 0, queue[0].Percentage)
}

func TestDeleteRemovesProtectedEntry(t *testing.T) {
	svc, prot := newTestService(t)

	id := models.PackageID("tv", "Some.Show.S01.1080p")
	require.NoError(t, prot.Save(id, models.ProtectedPackage{
		Title: "Some.Show.S01.1080p",
		Links: [][2]string{{"https://crypter.example/xyz", "ddownload"}},
	}))

	require.NoError(t, svc.Delete(context.Background(), id))
	assert.False(t, prot.Exists(id))
	assert.Empty(t, svc.Queue(context.Background()))
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "00:00:00", formatETA(-1))
	assert.Equal(t, "00:01:30", formatETA(90))
	assert.Equal(t, "02:05:07", formatETA(2*3600+5*60+7))
}

func TestStripStatusPrefix(t *testing.T) {
	assert.Equal(t, "Quasarr_movies_abc", stripStatusPrefix("[Downloading] Quasarr_movies_abc"))
	assert.Equal(t, "plain_name", stripStatusPrefix("plain_name"))
}
