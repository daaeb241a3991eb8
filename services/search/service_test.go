package search

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quasarr/config"
	"quasarr/internal/state"
	"quasarr/internal/store"
	"quasarr/models"
	"quasarr/services/categories"
	"quasarr/services/metadata"
	"quasarr/services/sites"
)

type stubAdapter struct {
	id       string
	caps     sites.Capabilities
	releases []models.Release
	err      error
	calls    atomic.Int32
}

func (s *stubAdapter) ID() string              { return s.id }
func (s *stubAdapter) Caps() sites.Capabilities { return s.caps }

func (s *stubAdapter) Feed(ctx context.Context, env *sites.Env, category string) ([]models.Release, error) {
	s.calls.Add(1)
	return s.releases, s.err
}

func (s *stubAdapter) Search(ctx context.Context, env *sites.Env, req sites.SearchRequest) ([]models.Release, error) {
	s.calls.Add(1)
	return s.releases, s.err
}

func (s *stubAdapter) DownloadLinks(ctx context.Context, env *sites.Env, intent models.DownloadIntent, mirrors []string) (models.LinkResult, error) {
	return models.LinkResult{}, nil
}

func newTestService(t *testing.T, adapters ...sites.Adapter) (*Service, *sites.Registry) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := sites.NewRegistry()
	registry.MustRegister(adapters...)

	settings := config.DefaultSettings()
	for _, a := range adapters {
		settings.Hostnames[a.ID()] = a.ID() + ".example"
	}

	reg := state.NewRegistry()
	reg.SetAddresses("http://localhost:8080", "")

	env := &sites.Env{
		Store:    db,
		State:    reg,
		Settings: func() (config.Settings, error) { return settings, nil },
	}
	return NewService(registry, env, categories.NewService(db), nil), registry
}

func release(title string, age time.Duration) models.Release {
	return models.Release{Title: title, Date: time.Now().Add(-age)}
}

func TestRunMergesAndSortsByDate(t *testing.T) {
	a := &stubAdapter{
		id:   "aa",
		caps: sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMovies}},
		releases: []models.Release{
			release("Old.Movie.2020.1080p", 48*time.Hour),
			release("New.Movie.2024.1080p", time.Hour),
		},
	}
	b := &stubAdapter{
		id:       "bb",
		caps:     sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMovies}},
		releases: []models.Release{release("Mid.Movie.2022.1080p", 24*time.Hour)},
	}
	svc, _ := newTestService(t, a, b)

	result := svc.Run(context.Background(), Request{CategoryID: 2000, Query: "movie"})

	require.Len(t, result.Releases, 3)
	assert.Equal(t, "New.Movie.2024.1080p", result.Releases[0].Title)
	assert.Equal(t, "Mid.Movie.2022.1080p", result.Releases[1].Title)
	assert.Equal(t, "Old.Movie.2020.1080p", result.Releases[2].Title)
	assert.Equal(t, 3, result.Total)
}

func TestRunFailingSourceDoesNotAbortOthers(t *testing.T) {
	good := &stubAdapter{
		id:       "aa",
		caps:     sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMovies}},
		releases: []models.Release{release("Some.Movie.1080p", time.Hour)},
	}
	bad := &stubAdapter{
		id:   "bb",
		caps: sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMovies}},
		err:  errors.New("boom"),
	}
	svc, _ := newTestService(t, good, bad)

	result := svc.Run(context.Background(), Request{CategoryID: 2000, Query: "movie"})

	require.Len(t, result.Releases, 1)
	require.Len(t, result.Statuses, 2)
	assert.NoError(t, result.Statuses[0].Err)
	assert.Error(t, result.Statuses[1].Err)
	assert.Contains(t, result.StatusBar(), "🔴 bb")
	assert.Contains(t, result.StatusBar(), "🟢 aa (1)")
}

func TestRunServesRepeatQueryFromCache(t *testing.T) {
	a := &stubAdapter{
		id:       "aa",
		caps:     sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMovies}},
		releases: []models.Release{release("Some.Movie.1080p", time.Hour)},
	}
	svc, _ := newTestService(t, a)

	req := Request{CategoryID: 2000, Query: "movie"}
	first := svc.Run(context.Background(), req)
	second := svc.Run(context.Background(), req)

	assert.False(t, first.FullyCached)
	assert.True(t, second.FullyCached)
	assert.Greater(t, second.CacheRemaining, time.Duration(0))
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Contains(t, second.StatusBar(), "served from cache")
}

func TestRunPaginatesInteractiveOnly(t *testing.T) {
	var releases []models.Release
	for i := 0; i < 5; i++ {
		releases = append(releases, release("Movie.1080p", time.Duration(i)*time.Hour))
	}
	a := &stubAdapter{
		id:       "aa",
		caps:     sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMovies}},
		releases: releases,
	}
	svc, _ := newTestService(t, a)

	paged := svc.Run(context.Background(), Request{CategoryID: 2000, Query: "movie", Offset: 1, Limit: 2})
	assert.Len(t, paged.Releases, 2)
	assert.Equal(t, 5, paged.Total)

	feed := svc.Run(context.Background(), Request{CategoryID: 2000, Offset: 1, Limit: 2})
	assert.Len(t, feed.Releases, 5)
}

func TestEligibleHonorsWhitelistAndCaps(t *testing.T) {
	imdbOnly := &stubAdapter{
		id:   "aa",
		caps: sites.Capabilities{IMDbMovies: true, BaseTypes: []string{models.BaseTypeMovies}},
	}
	phraseOnly := &stubAdapter{
		id:   "bb",
		caps: sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMovies}},
	}
	music := &stubAdapter{
		id:   "cc",
		caps: sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMusic}},
	}
	svc, _ := newTestService(t, imdbOnly, phraseOnly, music)

	byIMDB := svc.eligible(Request{CategoryID: 2000, IMDBID: "tt0133093"})
	require.Len(t, byIMDB, 1)
	assert.Equal(t, "aa", byIMDB[0].ID())

	byPhrase := svc.eligible(Request{CategoryID: 2000, Query: "matrix"})
	require.Len(t, byPhrase, 1)
	assert.Equal(t, "bb", byPhrase[0].ID())

	// With a title resolver available, phrase-only sources join id searches.
	svc.metadata = metadata.NewService(svc.env.Store, svc.env.State)
	byIMDB = svc.eligible(Request{CategoryID: 2000, IMDBID: "tt0133093"})
	require.Len(t, byIMDB, 2)
}

func TestEpochZeroSinksToEnd(t *testing.T) {
	a := &stubAdapter{
		id:   "aa",
		caps: sites.Capabilities{Phrase: true, BaseTypes: []string{models.BaseTypeMovies}},
		releases: []models.Release{
			{Title: "Undated.Movie.1080p"},
			release("Dated.Movie.1080p", time.Hour),
		},
	}
	svc, _ := newTestService(t, a)

	result := svc.Run(context.Background(), Request{CategoryID: 2000, Query: "movie"})
	require.Len(t, result.Releases, 2)
	assert.Equal(t, "Dated.Movie.1080p", result.Releases[0].Title)
}
