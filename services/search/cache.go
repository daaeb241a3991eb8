package search

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"quasarr/models"
)

// CacheTTL is how long one source's answer for one exact query is reused.
const CacheTTL = 300 * time.Second

// cacheKey derives a stable key from the operation name and its arguments.
func cacheKey(fn string, args ...string) string {
	sum := sha256.Sum256([]byte(fn + "\x00" + strings.Join(args, "\x00")))
	return hex.EncodeToString(sum[:16])
}

type cacheEntry struct {
	releases []models.Release
	expiry   time.Time
}

// queryCache holds per-source query results with a fixed TTL. Reads report the
// remaining lifetime so the aggregator can tell callers how stale a fully
// cached answer is.
type queryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newQueryCache() *queryCache {
	return &queryCache{entries: make(map[string]cacheEntry)}
}

func (c *queryCache) get(key string, now time.Time) ([]models.Release, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, 0, false
	}
	if !now.Before(e.expiry) {
		delete(c.entries, key)
		return nil, 0, false
	}
	return e.releases, e.expiry.Sub(now), true
}

func (c *queryCache) put(key string, releases []models.Release, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic sweep keeps the map from accumulating dead queries.
	for k, e := range c.entries {
		if !now.Before(e.expiry) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{releases: releases, expiry: now.Add(CacheTTL)}
}
