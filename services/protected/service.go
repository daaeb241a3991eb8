// Package protected persists link packages that still sit behind a CAPTCHA.
// A package enters when the download pipeline hits a crypter, and leaves only
// by deletion: solved (links handed to the download manager) or failed.
package protected

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"quasarr/internal/store"
	"quasarr/models"
)

const table = "protected"

// Entry pairs a package with its id for list views.
type Entry struct {
	ID      string
	Package models.ProtectedPackage
}

type Service struct {
	db *store.DB
}

func NewService(db *store.DB) *Service {
	return &Service{db: db}
}

// Save persists a package under its stable id, replacing any previous record
// so re-enqueueing the same title never duplicates.
func (s *Service) Save(id string, pkg models.ProtectedPackage) error {
	if len(pkg.Links) == 0 {
		return fmt.Errorf("refusing to store package %s without links", id)
	}
	if pkg.CreatedAt == 0 {
		pkg.CreatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("marshal package %s: %w", id, err)
	}
	return s.db.Store(table, id, string(data))
}

// Get returns one package by id.
func (s *Service) Get(id string) (models.ProtectedPackage, bool) {
	raw, ok := s.db.Retrieve(table, id)
	if !ok {
		return models.ProtectedPackage{}, false
	}
	var pkg models.ProtectedPackage
	if err := json.Unmarshal([]byte(raw), &pkg); err != nil {
		log.Printf("[protected] corrupt package %s: %v", id, err)
		return models.ProtectedPackage{}, false
	}
	return pkg, true
}

// All returns every package oldest-first.
func (s *Service) All() []Entry {
	var out []Entry
	for _, e := range s.db.RetrieveAll(table) {
		var pkg models.ProtectedPackage
		if err := json.Unmarshal([]byte(e.Value), &pkg); err != nil {
			log.Printf("[protected] corrupt package %s: %v", e.Key, err)
			continue
		}
		out = append(out, Entry{ID: e.Key, Package: pkg})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Package.CreatedAt < out[j].Package.CreatedAt
	})
	return out
}

// Oldest returns the oldest package the sponsor helper may work on, skipping
// disabled ones.
func (s *Service) Oldest() (Entry, bool) {
	for _, e := range s.All() {
		if !e.Package.Disabled {
			return e, true
		}
	}
	return Entry{}, false
}

// Disable flags a package so the helper skips it. It stays solvable manually;
// the flag is never cleared.
func (s *Service) Disable(id string) error {
	pkg, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("package %s not found", id)
	}
	pkg.Disabled = true
	data, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	return s.db.Update(table, id, string(data))
}

// Delete removes a package. This is the only way out of the store.
func (s *Service) Delete(id string) error {
	return s.db.Delete(table, id)
}

// Exists reports whether an id belongs to a stored package.
func (s *Service) Exists(id string) bool {
	_, ok := s.db.Retrieve(table, id)
	return ok
}

// MirrorsOf lists the distinct mirrors across a package's links, in order.
func MirrorsOf(pkg models.ProtectedPackage) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range pkg.Links {
		mirror := strings.TrimSpace(l[1])
		if mirror == "" || seen[mirror] {
			continue
		}
		seen[mirror] = true
		out = append(out, mirror)
	}
	return out
}
