// Package update polls the project release feed and announces new versions
// once each.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"quasarr/internal/store"
	"quasarr/services/notify"
)

// Interval is the poll cadence of the supervisor loop.
const Interval = time.Hour

const (
	releaseURL     = "https://api.github.com/repos/rix1337/Quasarr/releases/latest"
	lastCheckedKey = "last_checked_version"
	configTable    = "config"
)

type Service struct {
	version string
	db      *store.DB
	notify  *notify.Service
	httpc   *http.Client
}

func NewService(version string, db *store.DB, not *notify.Service) *Service {
	return &Service{
		version: version,
		db:      db,
		notify:  not,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Check fetches the latest release once and notifies when it is new. Each
// version is announced a single time, tracked in the config table.
func (s *Service) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetch release feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release feed returned %d", resp.StatusCode)
	}

	var latest release
	if err := json.Unmarshal(body, &latest); err != nil {
		return fmt.Errorf("decode release feed: %w", err)
	}

	latestVersion := normalizeVersion(latest.TagName)
	if latestVersion == "" || latestVersion == normalizeVersion(s.version) {
		return nil
	}

	if announced, _ := s.db.Retrieve(configTable, lastCheckedKey); announced == latestVersion {
		return nil
	}

	log.Printf("[update] version %s available (running %s)", latestVersion, s.version)
	s.notify.UpdateAvailable(s.version, latestVersion, latest.HTMLURL)
	return s.db.Store(configTable, lastCheckedKey, latestVersion)
}

// Run is the hourly supervisor loop. The first check happens immediately.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		if err := s.Check(ctx); err != nil {
			log.Printf("[update] check failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
