package jdownloader

import (
	"context"
	"log"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// View is a per-request snapshot of the device. Each remote list is fetched
// at most once per View, so building the queue and history responses for one
// HTTP request costs a bounded number of API round trips no matter how many
// packages they inspect.
type View struct {
	m   *Manager
	ctx context.Context
	id  string // correlates the view's log lines

	grabberPackages    *fetched[[]PackageInfo]
	grabberLinks       *fetched[[]LinkInfo]
	downloaderPackages *fetched[[]PackageInfo]
	downloaderLinks    *fetched[[]LinkInfo]
	collecting         *fetched[bool]
	archives           *fetched[map[int64]bool]
}

type fetched[T any] struct {
	done  bool
	value T
	err   error
}

func (f *fetched[T]) get(load func() (T, error)) (T, error) {
	if !f.done {
		f.value, f.err = load()
		f.done = true
	}
	return f.value, f.err
}

// NewView opens a snapshot bound to one request's context.
func (m *Manager) NewView(ctx context.Context) *View {
	return &View{
		m:                  m,
		ctx:                ctx,
		id:                 uuid.NewString()[:8],
		grabberPackages:    &fetched[[]PackageInfo]{},
		grabberLinks:       &fetched[[]LinkInfo]{},
		downloaderPackages: &fetched[[]PackageInfo]{},
		downloaderLinks:    &fetched[[]LinkInfo]{},
		collecting:         &fetched[bool]{},
		archives:           &fetched[map[int64]bool]{},
	}
}

func (v *View) GrabberPackages() ([]PackageInfo, error) {
	return v.grabberPackages.get(func() ([]PackageInfo, error) {
		return v.m.queryGrabberPackages(v.ctx)
	})
}

func (v *View) GrabberLinks() ([]LinkInfo, error) {
	return v.grabberLinks.get(func() ([]LinkInfo, error) {
		return v.m.queryGrabberLinks(v.ctx)
	})
}

func (v *View) DownloaderPackages() ([]PackageInfo, error) {
	return v.downloaderPackages.get(func() ([]PackageInfo, error) {
		return v.m.queryDownloaderPackages(v.ctx)
	})
}

func (v *View) DownloaderLinks() ([]LinkInfo, error) {
	return v.downloaderLinks.get(func() ([]LinkInfo, error) {
		return v.m.queryDownloaderLinks(v.ctx)
	})
}

// IsCollecting reports whether the linkgrabber is still resolving links.
func (v *View) IsCollecting() bool {
	collecting, err := v.collecting.get(func() (bool, error) {
		return v.m.isCollecting(v.ctx)
	})
	if err != nil {
		log.Printf("[jdownloader/%s] isCollecting: %v", v.id, err)
		return false
	}
	return collecting
}

// GrabberLinksFor filters the cached linkgrabber links down to one package.
func (v *View) GrabberLinksFor(packageUUID int64) []LinkInfo {
	links, err := v.GrabberLinks()
	if err != nil {
		return nil
	}
	return filterLinks(links, packageUUID)
}

// DownloaderLinksFor filters the cached download-list links to one package.
func (v *View) DownloaderLinksFor(packageUUID int64) []LinkInfo {
	links, err := v.DownloaderLinks()
	if err != nil {
		return nil
	}
	return filterLinks(links, packageUUID)
}

func filterLinks(links []LinkInfo, packageUUID int64) []LinkInfo {
	var out []LinkInfo
	for _, l := range links {
		if l.PackageUUID == packageUUID {
			out = append(out, l)
		}
	}
	return out
}

var archiveNameRe = regexp.MustCompile(`(?i)\.(rar|zip|7z|tar|gz|r\d{2}|\d{3})$`)

// archivePackages classifies every download-list package in one batched
// extraction query; the memoized map holds confirmed archives only.
func (v *View) archivePackages() (map[int64]bool, error) {
	return v.archives.get(func() (map[int64]bool, error) {
		packages, err := v.DownloaderPackages()
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(packages))
		for _, p := range packages {
			ids = append(ids, p.UUID)
		}

		infos, err := v.m.queryArchiveInfo(v.ctx, ids)
		if err != nil {
			return nil, err
		}
		confirmed := make(map[int64]bool, len(infos))
		for _, info := range infos {
			for _, id := range info.PackageUUIDs {
				confirmed[id] = true
			}
		}
		return confirmed, nil
	})
}

// IsArchive decides whether a download-list package is an archive, driving
// the extraction badges. The batched extraction query is authoritative for
// the packages it confirms; anything it leaves unconfirmed falls back to
// per-link extraction state and filename extensions. When the device queries
// fail we assume an archive, which keeps the queue view pessimistic instead
// of declaring a half-extracted package done.
func (v *View) IsArchive(packageUUID int64) bool {
	confirmed, err := v.archivePackages()
	if err != nil {
		log.Printf("[jdownloader/%s] archive check degraded: %v", v.id, err)
		return true
	}
	if confirmed[packageUUID] {
		return true
	}

	links, err := v.DownloaderLinks()
	if err != nil {
		log.Printf("[jdownloader/%s] archive check degraded: %v", v.id, err)
		return true
	}

	for _, l := range links {
		if l.PackageUUID != packageUUID {
			continue
		}
		if l.ExtractionStatus != "" {
			return true
		}
		if archiveNameRe.MatchString(path.Ext(l.Name)) {
			return true
		}
	}
	return false
}

// Extracting reports whether any link of the package is mid-extraction.
func (v *View) Extracting(packageUUID int64) bool {
	for _, l := range v.DownloaderLinksFor(packageUUID) {
		status := strings.ToUpper(l.ExtractionStatus)
		if status == "RUNNING" || status == "EXTRACTING" {
			return true
		}
	}
	return false
}

// ExtractionFailed reports whether extraction ended in an error state.
func (v *View) ExtractionFailed(packageUUID int64) bool {
	for _, l := range v.DownloaderLinksFor(packageUUID) {
		status := strings.ToUpper(l.ExtractionStatus)
		if strings.Contains(status, "ERROR") {
			return true
		}
	}
	return false
}
