// Package search fans one query out across every eligible site adapter,
// caches per-source answers, and merges the union into a date-sorted, paged
// result for the indexer facade.
package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"quasarr/models"
	"quasarr/services/categories"
	"quasarr/services/metadata"
	"quasarr/services/sites"
)

// Per-source deadlines. Feed requests back RSS polling and may take longer;
// interactive searches keep the *arr client waiting.
const (
	FeedTimeout   = 30 * time.Second
	SearchTimeout = 10 * time.Second
)

// DefaultLimit caps one page of interactive results.
const DefaultLimit = 100

type Service struct {
	registry   *sites.Registry
	env        *sites.Env
	categories *categories.Service
	metadata   *metadata.Service
	cache      *queryCache
}

func NewService(registry *sites.Registry, env *sites.Env, cats *categories.Service, meta *metadata.Service) *Service {
	return &Service{
		registry:   registry,
		env:        env,
		categories: cats,
		metadata:   meta,
		cache:      newQueryCache(),
	}
}

// Request is one incoming indexer query.
type Request struct {
	CategoryID int
	Query      string
	IMDBID     string
	Season     int
	Episode    int
	Offset     int
	Limit      int
}

// Interactive reports whether this is a phrase or imdb search (paged) rather
// than a feed poll (full union).
func (r Request) Interactive() bool {
	return r.Query != "" || r.IMDBID != ""
}

type badge int

const (
	badgeHits badge = iota
	badgeEmpty
	badgeError
)

// SourceStatus is one source's outcome, rendered as a status-bar badge.
type SourceStatus struct {
	Source string
	Hits   int
	Err    error
}

func (s SourceStatus) badge() badge {
	switch {
	case s.Err != nil:
		return badgeError
	case s.Hits == 0:
		return badgeEmpty
	default:
		return badgeHits
	}
}

// Result is the merged answer for one request.
type Result struct {
	Releases []models.Release
	Statuses []SourceStatus
	Total    int
	Elapsed  time.Duration

	// CacheRemaining is the minimum remaining TTL across cache hits; it is
	// nonzero only when every participating source answered from cache.
	CacheRemaining time.Duration
	FullyCached    bool
}

// StatusBar renders one badge per source for the web UI footer.
func (r Result) StatusBar() string {
	parts := make([]string, 0, len(r.Statuses)+1)
	for _, s := range r.Statuses {
		switch s.badge() {
		case badgeError:
			parts = append(parts, fmt.Sprintf("🔴 %s", s.Source))
		case badgeEmpty:
			parts = append(parts, fmt.Sprintf("⚫ %s", s.Source))
		default:
			parts = append(parts, fmt.Sprintf("🟢 %s (%d)", s.Source, s.Hits))
		}
	}
	if r.FullyCached {
		parts = append(parts, fmt.Sprintf("served from cache (%ds left)", int(r.CacheRemaining.Seconds())))
	} else {
		parts = append(parts, fmt.Sprintf("time taken %.1fs", r.Elapsed.Seconds()))
	}
	return strings.Join(parts, " | ")
}

// eligible selects the configured adapters that can answer this request,
// honoring the category's source whitelist and each adapter's capabilities.
func (s *Service) eligible(req Request) []sites.Adapter {
	baseType := s.categories.BaseTypeFor(req.CategoryID)
	whitelist := s.categories.SourcesFor(req.CategoryID)

	var out []sites.Adapter
	for _, a := range s.registry.Configured(s.env) {
		caps := a.Caps()
		if !caps.SupportsBaseType(baseType) {
			continue
		}
		if len(whitelist) > 0 && !containsFold(whitelist, a.ID()) {
			continue
		}
		if req.IMDBID != "" {
			// Sources without id search still participate when the id can
			// be translated into a title phrase.
			if !supportsIMDB(caps, baseType) && !(caps.Phrase && s.metadata != nil) {
				continue
			}
		} else if req.Query != "" && !caps.Phrase {
			continue
		}
		out = append(out, a)
	}
	return out
}

type sourceOutcome struct {
	status    SourceStatus
	releases  []models.Release
	remaining time.Duration
	fromCache bool
}

// Run executes the fan-out. On caller disconnect the remaining sources are
// abandoned, but tasks already started run to completion so their answers
// still land in the cache.
func (s *Service) Run(ctx context.Context, req Request) Result {
	start := time.Now()

	adapters := s.eligible(req)
	baseType := s.categories.BaseTypeFor(req.CategoryID)
	category := downloadCategoryFor(baseType)

	timeout := SearchTimeout
	if !req.Interactive() {
		timeout = FeedTimeout
	}

	var (
		mu       sync.Mutex
		outcomes []sourceOutcome
	)

	p := pool.New().WithMaxGoroutines(max(len(adapters), 1))
	for _, a := range adapters {
		p.Go(func() {
			outcome := s.querySource(ctx, a, req, baseType, category, timeout)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[search] caller gone, abandoning remaining sources")
	}

	mu.Lock()
	gathered := make([]sourceOutcome, len(outcomes))
	copy(gathered, outcomes)
	mu.Unlock()

	return s.assemble(req, gathered, time.Since(start))
}

func (s *Service) querySource(ctx context.Context, a sites.Adapter, req Request, baseType, category string, timeout time.Duration) sourceOutcome {
	key := cacheKey(a.ID(), strconv.Itoa(req.CategoryID), req.Query, req.IMDBID,
		strconv.Itoa(req.Season), strconv.Itoa(req.Episode), strconv.FormatBool(req.Interactive()))

	if releases, remaining, ok := s.cache.get(key, time.Now()); ok {
		return sourceOutcome{
			status:    SourceStatus{Source: a.ID(), Hits: len(releases)},
			releases:  releases,
			remaining: remaining,
			fromCache: true,
		}
	}

	// Detached from the caller so a disconnect does not waste work that is
	// about to become a cache entry.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var (
		releases []models.Release
		err      error
	)
	if req.Interactive() {
		sreq := sites.SearchRequest{
			Category: category,
			BaseType: baseType,
			Query:    req.Query,
			IMDBID:   req.IMDBID,
			Season:   req.Season,
			Episode:  req.Episode,
		}
		if sreq.IMDBID != "" && !supportsIMDB(a.Caps(), baseType) {
			title, terr := s.metadata.Title(taskCtx, sreq.IMDBID)
			if terr != nil {
				log.Printf("[search] %s needs a title for %s: %v", a.ID(), sreq.IMDBID, terr)
				return sourceOutcome{status: SourceStatus{Source: a.ID(), Err: terr}}
			}
			sreq.Query = title
			sreq.IMDBID = ""
		}
		releases, err = a.Search(taskCtx, s.env, sreq)
	} else {
		releases, err = a.Feed(taskCtx, s.env, category)
	}
	if err != nil {
		log.Printf("[search] %s failed: %v", a.ID(), err)
		return sourceOutcome{status: SourceStatus{Source: a.ID(), Err: err}}
	}

	s.cache.put(key, releases, time.Now())
	return sourceOutcome{
		status:   SourceStatus{Source: a.ID(), Hits: len(releases)},
		releases: releases,
	}
}

func (s *Service) assemble(req Request, outcomes []sourceOutcome, elapsed time.Duration) Result {
	result := Result{Elapsed: elapsed, FullyCached: len(outcomes) > 0}

	for _, o := range outcomes {
		result.Statuses = append(result.Statuses, o.status)
		result.Releases = append(result.Releases, o.releases...)
		if o.fromCache {
			if result.CacheRemaining == 0 || o.remaining < result.CacheRemaining {
				result.CacheRemaining = o.remaining
			}
		} else {
			result.FullyCached = false
		}
	}
	sort.Slice(result.Statuses, func(i, j int) bool {
		return result.Statuses[i].Source < result.Statuses[j].Source
	})
	if !result.FullyCached {
		result.CacheRemaining = 0
	}

	// Newest first; missing dates collapse to the epoch and sink to the end
	// without disturbing source order.
	sort.SliceStable(result.Releases, func(i, j int) bool {
		return result.Releases[i].Date.After(result.Releases[j].Date)
	})
	result.Total = len(result.Releases)

	if req.Interactive() {
		limit := req.Limit
		if limit <= 0 {
			limit = DefaultLimit
		}
		offset := req.Offset
		if offset > len(result.Releases) {
			offset = len(result.Releases)
		}
		end := offset + limit
		if end > len(result.Releases) {
			end = len(result.Releases)
		}
		result.Releases = result.Releases[offset:end]
	}
	return result
}

// downloadCategoryFor maps a base media type onto the download-category name
// adapters use for mirror preference.
func downloadCategoryFor(baseType string) string {
	switch baseType {
	case models.BaseTypeTV:
		return "tv"
	case models.BaseTypeBooks:
		return "books"
	case models.BaseTypeMagazines:
		return "magazines"
	case models.BaseTypeMusic:
		return "music"
	default:
		return "movies"
	}
}

func supportsIMDB(caps sites.Capabilities, baseType string) bool {
	if baseType == models.BaseTypeTV {
		return caps.IMDbSeries
	}
	return caps.IMDbMovies
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
