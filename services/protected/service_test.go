package protected

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quasarr/internal/store"
	"quasarr/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(db)
}

func pkg(title string, createdAt int64) models.ProtectedPackage {
	return models.ProtectedPackage{
		Title:     title,
		Links:     [][2]string{{"https://crypter.example/" + title, "rapidgator"}},
		CreatedAt: createdAt,
	}
}

func TestSaveReplacesInPlace(t *testing.T) {
	svc := newTestService(t)
	id := models.PackageID("movies", "Some.Movie.1080p")

	require.NoError(t, svc.Save(id, pkg("Some.Movie.1080p", 0)))
	require.NoError(t, svc.Save(id, pkg("Some.Movie.1080p", 0)))

	assert.Len(t, svc.All(), 1)
}

func TestSaveRejectsEmptyLinks(t *testing.T) {
	svc := newTestService(t)
	err := svc.Save("Quasarr_movies_x", models.ProtectedPackage{Title: "x"})
	assert.Error(t, err)
}

func TestOldestSkipsDisabled(t *testing.T) {
	svc := newTestService(t)
	now := time.Now().Unix()

	first := models.PackageID("movies", "First.Movie.1080p")
	second := models.PackageID("movies", "Second.Movie.1080p")
	require.NoError(t, svc.Save(first, pkg("First.Movie.1080p", now-100)))
	require.NoError(t, svc.Save(second, pkg("Second.Movie.1080p", now)))

	oldest, ok := svc.Oldest()
	require.True(t, ok)
	assert.Equal(t, first, oldest.ID)

	require.NoError(t, svc.Disable(first))
	oldest, ok = svc.Oldest()
	require.True(t, ok)
	assert.Equal(t, second, oldest.ID)

	// Disabled packages stay listed; they are only invisible to the helper.
	assert.Len(t, svc.All(), 2)
}

func TestDeleteIsTheOnlyExit(t *testing.T) {
	svc := newTestService(t)
	id := models.PackageID("tv", "Some.Show.S01.1080p")
	require.NoError(t, svc.Save(id, pkg("Some.Show.S01.1080p", 0)))

	require.NoError(t, svc.Delete(id))
	assert.False(t, svc.Exists(id))
	_, ok := svc.Oldest()
	assert.False(t, ok)
}

func TestMirrorsOfDeduplicates(t *testing.T) {
	p := models.ProtectedPackage{
		Links: [][2]string{
			{"https://a", "rapidgator"},
			{"https://b", "ddownload"},
			{"https://c", "rapidgator"},
			{"https://d", ""},
		},
	}
	assert.Equal(t, []string{"rapidgator", "ddownload"}, MirrorsOf(p))
}
