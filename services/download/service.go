// Package download implements the pipeline behind the SABnzbd addurl/addfile
// modes: resolve a decoded intent into links via its site adapter, then either
// hand plain URLs straight to JDownloader or park crypter links as a
// protected package for the CAPTCHA engine.
package download

import (
	"context"
	"fmt"
	"log"
	"strings"

	"quasarr/internal/state"
	"quasarr/models"
	"quasarr/services/categories"
	"quasarr/services/jdownloader"
	"quasarr/services/notify"
	"quasarr/services/protected"
	"quasarr/services/sites"
	"quasarr/services/stats"
)

type Service struct {
	protected  *protected.Service
	jd         *jdownloader.Manager
	registry   *sites.Registry
	env        *sites.Env
	categories *categories.Service
	stats      *stats.Service
	notify     *notify.Service
	state      *state.Registry
}

func NewService(
	prot *protected.Service,
	jd *jdownloader.Manager,
	registry *sites.Registry,
	env *sites.Env,
	cats *categories.Service,
	st *stats.Service,
	not *notify.Service,
	reg *state.Registry,
) *Service {
	return &Service{
		protected:  prot,
		jd:         jd,
		registry:   registry,
		env:        env,
		categories: cats,
		stats:      st,
		notify:     not,
		state:      reg,
	}
}

// Outcome reports what the pipeline did with one intent.
type Outcome struct {
	PackageID string
	Protected bool // parked for CAPTCHA solving
	Failed    bool // nothing resolvable
}

// Run executes the pipeline for one decoded intent. The returned package id
// is always usable as an nzo_id, even on failure.
func (s *Service) Run(ctx context.Context, category string, intent models.DownloadIntent) Outcome {
	packageID := models.PackageID(category, intent.Title)
	outcome := Outcome{PackageID: packageID}

	adapter, ok := s.registry.Get(intent.SourceKey)
	if !ok {
		log.Printf("[download] unknown source %q for %s", intent.SourceKey, intent.Title)
		outcome.Failed = true
		s.stats.Increment(stats.FailedDownloads, 1)
		return outcome
	}

	mirrors := s.categories.MirrorsFor(category)
	result, err := adapter.DownloadLinks(ctx, s.env, intent, mirrors)
	if err != nil {
		log.Printf("[download] resolve links for %s via %s: %v", intent.Title, intent.SourceKey, err)
		outcome.Failed = true
		s.stats.Increment(stats.FailedDownloads, 1)
		s.notify.Failed(intent.Title, fmt.Sprintf("link resolution failed: %v", err))
		return outcome
	}

	switch {
	case len(result.Direct) > 0:
		if err := s.SubmitDirect(ctx, packageID, intent.Title, category, intent.Password, result.Direct); err != nil {
			log.Printf("[download] submit %s: %v", intent.Title, err)
			outcome.Failed = true
			s.stats.Increment(stats.FailedDownloads, 1)
			s.notify.Failed(intent.Title, fmt.Sprintf("download manager rejected links: %v", err))
		}

	case len(result.Protected) > 0:
		if err := s.park(packageID, intent, result.Protected); err != nil {
			log.Printf("[download] park %s: %v", intent.Title, err)
			outcome.Failed = true
			s.stats.Increment(stats.FailedDownloads, 1)
			return outcome
		}
		outcome.Protected = true

	default:
		log.Printf("[download] no links found for %s", intent.Title)
		outcome.Failed = true
		s.stats.Increment(stats.FailedDownloads, 1)
		s.notify.Failed(intent.Title, "no usable links found")
	}
	return outcome
}

// SubmitDirect hands plain URLs to the download manager as one package and
// bumps the counters. Duplicate submissions are left to the manager's own
// dedup.
func (s *Service) SubmitDirect(ctx context.Context, packageID, title, category, password string, urls []string) error {
	if len(urls) == 0 {
		return fmt.Errorf("no links to submit")
	}

	err := s.jd.AddLinks(ctx, jdownloader.AddLinksRequest{
		Links:            strings.Join(urls, "\n"),
		PackageName:      packageID,
		Comment:          title,
		DownloadPassword: password,
		ExtractPassword:  password,
		AutostartEnabled: true,
		AutoExtract:      true,
	})
	if err != nil {
		return err
	}

	s.stats.Increment(stats.PackagesDownloaded, 1)
	s.stats.Increment(stats.LinksProcessed, int64(len(urls)))
	log.Printf("[download] submitted %d links for %s (%s)", len(urls), title, packageID)
	return nil
}

// park stores crypter links as a protected package and announces the CAPTCHA.
// Replace-in-place keeps re-enqueues of the same title from duplicating.
func (s *Service) park(packageID string, intent models.DownloadIntent, links []models.ProtectedLink) error {
	pairs := make([][2]string, 0, len(links))
	mirror := ""
	for _, l := range links {
		pairs = append(pairs, [2]string{l.URL, l.Mirror})
		if mirror == "" {
			mirror = l.Mirror
		}
	}

	if existing, ok := s.protected.Get(packageID); ok {
		// Keep the original enqueue time so helper ordering stays stable.
		log.Printf("[download] replacing protected package %s (first seen %d)", packageID, existing.CreatedAt)
	}

	err := s.protected.Save(packageID, models.ProtectedPackage{
		Title:       intent.Title,
		Links:       pairs,
		Password:    intent.Password,
		Mirror:      mirror,
		OriginalURL: intent.URL,
	})
	if err != nil {
		return err
	}

	s.notify.CaptchaRequired(intent.Title, s.state.ExternalAddress()+"/captcha")
	return nil
}

// CompletePackage is the solved path shared by the sponsor helper, the
// userscript bridge, and the interactive solver: submit the plain links, then
// drop the protected record so the package is visible in exactly one place.
func (s *Service) CompletePackage(ctx context.Context, packageID string, urls []string, auto bool, details *notify.SolveDetails) error {
	pkg, ok := s.protected.Get(packageID)
	if !ok {
		return fmt.Errorf("package %s not found", packageID)
	}

	category := models.CategoryFromPackageID(packageID)
	if err := s.SubmitDirect(ctx, packageID, pkg.Title, category, pkg.Password, normalizeURLs(urls)); err != nil {
		if auto {
			s.stats.Increment(stats.FailedDecryptionsAuto, 1)
		} else {
			s.stats.Increment(stats.FailedDecryptionsManual, 1)
		}
		return err
	}

	if err := s.protected.Delete(packageID); err != nil {
		log.Printf("[download] drop solved package %s: %v", packageID, err)
	}
	if auto {
		s.stats.Increment(stats.CaptchaDecryptionsAuto, 1)
	} else {
		s.stats.Increment(stats.CaptchaDecryptionsManual, 1)
	}
	s.notify.Solved(pkg.Title, len(urls), details)
	return nil
}

// FailPackage drops a package from the protected store and records the
// failure. Callers that also own a download-manager entry remove it via the
// package manager's delete path.
func (s *Service) FailPackage(packageID string, auto bool) {
	title := packageID
	if pkg, ok := s.protected.Get(packageID); ok {
		title = pkg.Title
	}

	if err := s.protected.Delete(packageID); err != nil {
		log.Printf("[download] drop failed package %s: %v", packageID, err)
	}

	s.stats.Increment(stats.FailedDownloads, 1)
	if auto {
		s.stats.Increment(stats.FailedDecryptionsAuto, 1)
	} else {
		s.stats.Increment(stats.FailedDecryptionsManual, 1)
	}
	s.notify.Failed(title, "link decryption failed")
}

// DiscardPackage records a user-initiated removal. The caller already purged
// the package from the protected store and the download manager, so this only
// counts the loss; no decryption-failure notification fires.
func (s *Service) DiscardPackage(packageID, title string) {
	if title == "" {
		title = packageID
	}
	s.stats.Increment(stats.FailedDownloads, 1)
	log.Printf("[download] package %s discarded by user (%s)", title, packageID)
}

// normalizeURLs trims and schemes the raw links a solver hands back.
func normalizeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			u = "https://" + u
		}
		out = append(out, u)
	}
	return out
}
