// Package packages derives the emulated SABnzbd queue and history from one
// JDownloader snapshot per request, plus the ordered delete that keeps a
// package from surviving in two places.
package packages

import (
	"context"
	"fmt"
	"log"
	"strings"

	"quasarr/models"
	"quasarr/services/jdownloader"
	"quasarr/services/protected"
)

type Service struct {
	jd        *jdownloader.Manager
	protected *protected.Service
}

func NewService(jd *jdownloader.Manager, prot *protected.Service) *Service {
	return &Service{jd: jd, protected: prot}
}

// Queue builds the queue view: linkgrabber entries, active downloads, and
// protected packages still waiting for a CAPTCHA. Exactly one device snapshot
// is taken for the whole request.
func (s *Service) Queue(ctx context.Context) []models.QueueSlot {
	view := s.jd.NewView(ctx)
	slots := []models.QueueSlot{}
	seen := map[string]bool{}

	if grabber, err := view.GrabberPackages(); err == nil {
		for _, p := range grabber {
			slots = append(slots, queueSlot(p.Name, models.StatusLinkgrabber, 0,
				mb(p.BytesTotal), mb(p.BytesTotal), "00:00:00"))
			seen[p.Name] = true
		}
	} else {
		log.Printf("[packages] linkgrabber view: %v", err)
	}

	if downloads, err := view.DownloaderPackages(); err == nil {
		for _, p := range downloads {
			if p.Finished && !view.Extracting(p.UUID) {
				continue // history's business
			}

			status := models.StatusDownloading
			switch {
			case view.Extracting(p.UUID):
				status = models.StatusExtracting
			case !p.Enabled:
				status = models.StatusPaused
			case !p.Running && p.Speed == 0:
				status = models.StatusPaused
			}

			percent := 0
			if p.BytesTotal > 0 {
				percent = int(p.BytesLoaded * 100 / p.BytesTotal)
			}
			slots = append(slots, queueSlot(p.Name, status, percent,
				mb(p.BytesTotal), mb(p.BytesTotal-p.BytesLoaded), formatETA(p.ETA)))
			seen[p.Name] = true
		}
	} else {
		log.Printf("[packages] downloader view: %v", err)
	}

	// Protected packages have no device entry yet; synthesize CAPTCHA slots.
	for _, e := range s.protected.All() {
		if seen[e.ID] {
			continue
		}
		slots = append(slots, models.QueueSlot{
			NzoID:      e.ID,
			Filename:   string(models.StatusCaptchaNotSolved) + " " + e.Package.Title,
			Category:   models.CategoryFromPackageID(e.ID),
			Percentage: 0,
			TimeLeft:   "00:00:00",
			Status:     "Queued",
		})
	}
	return slots
}

// History builds the history view: finished downloads with extraction state.
func (s *Service) History(ctx context.Context) []models.HistorySlot {
	view := s.jd.NewView(ctx)
	slots := []models.HistorySlot{}

	downloads, err := view.DownloaderPackages()
	if err != nil {
		log.Printf("[packages] downloader view: %v", err)
		return slots
	}

	for _, p := range downloads {
		if !p.Finished || view.Extracting(p.UUID) {
			continue
		}

		status := "Completed"
		failMessage := ""
		if view.ExtractionFailed(p.UUID) {
			status = "Failed"
			failMessage = "extraction failed"
		} else if view.IsArchive(p.UUID) && strings.Contains(strings.ToLower(p.Status), "error") {
			status = "Failed"
			failMessage = p.Status
		}

		slots = append(slots, models.HistorySlot{
			NzoID:       p.Name,
			Name:        strings.TrimSpace(stripStatusPrefix(p.Name)),
			Category:    models.CategoryFromPackageID(p.Name),
			Status:      status,
			FailMessage: failMessage,
			Bytes:       p.BytesTotal,
			Storage:     p.SaveTo,
		})
	}
	return slots
}

// Delete removes a package everywhere, in order: protected store first, then
// the device's linkgrabber and download list including files on disk. Device
// removal failures are logged and swallowed so the protected-store removal
// always sticks.
func (s *Service) Delete(ctx context.Context, nzoID string) error {
	if s.protected.Exists(nzoID) {
		if err := s.protected.Delete(nzoID); err != nil {
			return fmt.Errorf("drop protected package: %w", err)
		}
	}

	view := s.jd.NewView(ctx)

	if grabber, err := view.GrabberPackages(); err == nil {
		var ids []int64
		for _, p := range grabber {
			if p.Name == nzoID {
				ids = append(ids, p.UUID)
			}
		}
		if len(ids) > 0 {
			if err := s.jd.RemoveGrabberLinks(ctx, nil, ids); err != nil {
				log.Printf("[packages] remove %s from linkgrabber: %v", nzoID, err)
			}
		}
	}

	if downloads, err := view.DownloaderPackages(); err == nil {
		var ids []int64
		for _, p := range downloads {
			if p.Name == nzoID {
				ids = append(ids, p.UUID)
			}
		}
		if len(ids) > 0 {
			if err := s.jd.RemoveDownloaderLinks(ctx, nil, ids); err != nil {
				log.Printf("[packages] remove %s from download list: %v", nzoID, err)
			}
		}
	}
	return nil
}

func queueSlot(name string, status models.QueueStatus, percent int, sizeMB, leftMB float64, eta string) models.QueueSlot {
	return models.QueueSlot{
		NzoID:      name,
		Filename:   string(status) + " " + stripStatusPrefix(name),
		Category:   models.CategoryFromPackageID(name),
		Percentage: percent,
		SizeMB:     sizeMB,
		SizeLeftMB: leftMB,
		TimeLeft:   eta,
		Status:     "Downloading",
	}
}

func mb(bytes int64) float64 {
	return float64(bytes) / 1024 / 1024
}

// formatETA renders device ETA seconds as HH:MM:SS; unknown becomes zero.
func formatETA(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

// stripStatusPrefix removes a bracketed status already baked into a name so
// prefixes never stack.
func stripStatusPrefix(name string) string {
	if strings.HasPrefix(name, "[") {
		if end := strings.Index(name, "]"); end >= 0 {
			return strings.TrimSpace(name[end+1:])
		}
	}
	return name
}
