// Package sites defines the adapter contract for the release-indexing sites
// Quasarr searches, plus the registry that turns the shortname riding in a
// payload into a typed adapter.
package sites

import (
	"context"
	"fmt"

	"quasarr/config"
	"quasarr/internal/state"
	"quasarr/internal/store"
	"quasarr/models"
	"quasarr/payload"
	"quasarr/services/flaresolverr"
	"quasarr/services/sessions"
)

// Capabilities is the static metadata the search router uses to decide which
// adapters participate in a query.
type Capabilities struct {
	IMDbMovies    bool     // supports imdb-id movie search
	IMDbSeries    bool     // supports imdb-id series search (season/episode forwarded)
	Phrase        bool     // supports free-text phrase search (books, magazines, music)
	BaseTypes     []string // models.BaseType* values the site carries
	RequiresLogin bool
	RequiresSolver bool // needs the challenge solver for every request
}

// SupportsBaseType reports whether the site carries a media type.
func (c Capabilities) SupportsBaseType(baseType string) bool {
	for _, b := range c.BaseTypes {
		if b == baseType {
			return true
		}
	}
	return false
}

// Env bundles the shared collaborators handed to every adapter call.
type Env struct {
	Store    *store.DB
	State    *state.Registry
	Sessions *sessions.Service
	Solver   *flaresolverr.Client

	// Settings returns the current configuration; adapters read their
	// hostname and credentials from it on every call so edits apply without
	// a restart.
	Settings func() (config.Settings, error)
}

// Hostname resolves the configured hostname for a source key, empty when the
// site is not set up.
func (e *Env) Hostname(key string) string {
	s, err := e.Settings()
	if err != nil {
		return ""
	}
	return s.Hostnames[key]
}

// SelfLink builds the URL a *arr client downloads the emulated NZB from. The
// encoded intent rides in the payload parameter.
func (e *Env) SelfLink(intent models.DownloadIntent) (string, error) {
	token, err := payload.Encode(intent)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/download/?payload=%s", e.State.ExternalAddress(), token), nil
}

// SearchRequest carries one query to an adapter.
type SearchRequest struct {
	Category string // download-category name, drives mirror preference
	BaseType string
	Query    string // free-text phrase; empty for imdb searches
	IMDBID   string
	Season   int
	Episode  int
}

// Adapter is one release-indexing site. Implementations mark their operation
// state in hostname_issues (error on failure, cleared on success) and return
// empty results when they need the challenge solver and none is available.
type Adapter interface {
	ID() string
	Caps() Capabilities

	// Feed returns the site's latest releases for a category.
	Feed(ctx context.Context, env *Env, category string) ([]models.Release, error)

	// Search performs an imdb-id or phrase search depending on capabilities.
	Search(ctx context.Context, env *Env, req SearchRequest) ([]models.Release, error)

	// DownloadLinks resolves an accepted intent into plain or protected
	// links, honoring the category's preferred mirrors.
	DownloadLinks(ctx context.Context, env *Env, intent models.DownloadIntent, mirrors []string) (models.LinkResult, error)
}
