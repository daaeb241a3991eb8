// Package metadata resolves IMDb ids to canonical titles, cached in the
// store. The search aggregator uses it to turn id searches into title
// phrases for sites that only support free-text search.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quasarr/internal/state"
	"quasarr/internal/store"
)

const table = "imdb_metadata"

// TTL before a cached title is refreshed. Titles rarely change, so this is
// generous.
const TTL = 30 * 24 * time.Hour

type Service struct {
	db    *store.DB
	state *state.Registry
	httpc *http.Client
}

func NewService(db *store.DB, st *state.Registry) *Service {
	return &Service{
		db:    db,
		state: st,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

type record struct {
	Title     string    `json:"title"`
	FetchedAt time.Time `json:"fetched_at"`
}

type suggestion struct {
	D []struct {
		ID    string `json:"id"`
		Label string `json:"l"`
	} `json:"d"`
}

// Title returns the canonical title for an imdb id, hitting the suggestion
// API only on cache miss or expiry.
func (s *Service) Title(ctx context.Context, imdbID string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(imdbID))
	if id == "" {
		return "", fmt.Errorf("empty imdb id")
	}
	if !strings.HasPrefix(id, "tt") {
		id = "tt" + id
	}

	if raw, ok := s.db.Retrieve(table, id); ok {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil &&
			rec.Title != "" && time.Since(rec.FetchedAt) < TTL {
			return rec.Title, nil
		}
	}

	title, err := s.fetch(ctx, id)
	if err != nil {
		return "", err
	}

	if data, err := json.Marshal(record{Title: title, FetchedAt: time.Now()}); err == nil {
		_ = s.db.Store(table, id, string(data))
	}
	return title, nil
}

func (s *Service) fetch(ctx context.Context, id string) (string, error) {
	url := fmt.Sprintf("https://v2.sg.media-imdb.com/suggestion/%c/%s.json", id[0], id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.state.UserAgent())

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("imdb lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("imdb lookup returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed suggestion
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode imdb suggestion: %w", err)
	}
	for _, d := range parsed.D {
		if strings.EqualFold(d.ID, id) && d.Label != "" {
			return d.Label, nil
		}
	}
	return "", fmt.Errorf("no title for %s", id)
}
