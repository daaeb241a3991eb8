// Package categories persists the two category taxonomies: download categories
// (mirror preferences for the download manager side) and search categories
// (Newznab ids with base types and source whitelists). Defaults are
// synthesized when the store holds none.
package categories

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"quasarr/internal/store"
	"quasarr/models"
)

const (
	downloadTable = "categories_download"
	searchTable   = "categories_search"
)

type Service struct {
	db *store.DB
}

func NewService(db *store.DB) *Service {
	return &Service{db: db}
}

// Download returns all download categories, seeding defaults on first use.
func (s *Service) Download() []models.DownloadCategory {
	entries := s.db.RetrieveAll(downloadTable)
	if len(entries) == 0 {
		defaults := models.DefaultDownloadCategories()
		for _, c := range defaults {
			s.saveDownload(c)
		}
		return defaults
	}

	out := make([]models.DownloadCategory, 0, len(entries))
	for _, e := range entries {
		var c models.DownloadCategory
		if err := json.Unmarshal([]byte(e.Value), &c); err != nil {
			log.Printf("[categories] corrupt download category %q: %v", e.Key, err)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Search returns all search categories sorted by id, seeding defaults on
// first use. Custom categories beyond the cap are dropped with a log line.
func (s *Service) Search() []models.SearchCategory {
	entries := s.db.RetrieveAll(searchTable)
	if len(entries) == 0 {
		defaults := models.DefaultSearchCategories()
		for _, c := range defaults {
			s.saveSearch(c)
		}
		return defaults
	}

	var out []models.SearchCategory
	customs := 0
	for _, e := range entries {
		var c models.SearchCategory
		if err := json.Unmarshal([]byte(e.Value), &c); err != nil {
			log.Printf("[categories] corrupt search category %q: %v", e.Key, err)
			continue
		}
		if c.ID >= models.CustomCategoryOffset {
			if customs >= models.MaxCustomCategories {
				log.Printf("[categories] ignoring custom category %d (%s): cap of %d reached",
					c.ID, c.Name, models.MaxCustomCategories)
				continue
			}
			customs++
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SaveDownload upserts a download category by name.
func (s *Service) SaveDownload(c models.DownloadCategory) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("download category needs a name")
	}
	return s.saveDownload(c)
}

func (s *Service) saveDownload(c models.DownloadCategory) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Store(downloadTable, strings.ToLower(c.Name), string(data))
}

// SaveSearch upserts a search category by id. Custom ids must sit in the
// custom range.
func (s *Service) SaveSearch(c models.SearchCategory) error {
	if c.ID <= 0 {
		return fmt.Errorf("search category needs a positive id")
	}
	return s.saveSearch(c)
}

func (s *Service) saveSearch(c models.SearchCategory) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Store(searchTable, strconv.Itoa(c.ID), string(data))
}

func (s *Service) DeleteDownload(name string) error {
	return s.db.Delete(downloadTable, strings.ToLower(name))
}

func (s *Service) DeleteSearch(id int) error {
	return s.db.Delete(searchTable, strconv.Itoa(id))
}

// MirrorsFor returns the preferred mirrors of a download category; empty
// means any mirror is acceptable.
func (s *Service) MirrorsFor(name string) []string {
	for _, c := range s.Download() {
		if strings.EqualFold(c.Name, name) {
			return c.Mirrors
		}
	}
	return nil
}

// ForID resolves a numeric search-category id, including customs.
func (s *Service) ForID(id int) (models.SearchCategory, bool) {
	for _, c := range s.Search() {
		if c.ID == id {
			return c, true
		}
	}
	return models.SearchCategory{}, false
}

// BaseTypeFor resolves a numeric id to its base media type.
func (s *Service) BaseTypeFor(id int) string {
	return models.BaseTypeForCategoryID(id, s.Search())
}

// SourcesFor returns the source whitelist of a search category; empty means
// every source supporting the base type participates.
func (s *Service) SourcesFor(id int) []string {
	if c, ok := s.ForID(id); ok {
		return c.Sources
	}
	return nil
}
