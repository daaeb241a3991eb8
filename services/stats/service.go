// Package stats maintains the monotonic process-safe counters shown in the
// web UI and used by the CAPTCHA engine.
package stats

import (
	"log"
	"strconv"

	"quasarr/internal/store"
)

// Counter keys persisted in the statistics table.
const (
	PackagesDownloaded       = "packages_downloaded"
	LinksProcessed           = "links_processed"
	CaptchaDecryptionsAuto   = "captcha_decryptions_auto"
	CaptchaDecryptionsManual = "captcha_decryptions_manual"
	FailedDownloads          = "failed_downloads"
	FailedDecryptionsAuto    = "failed_decryptions_auto"
	FailedDecryptionsManual  = "failed_decryptions_manual"
)

const table = "statistics"

var allKeys = []string{
	PackagesDownloaded, LinksProcessed,
	CaptchaDecryptionsAuto, CaptchaDecryptionsManual,
	FailedDownloads, FailedDecryptionsAuto, FailedDecryptionsManual,
}

type Service struct {
	db *store.DB
}

func NewService(db *store.DB) *Service {
	return &Service{db: db}
}

// Increment bumps a counter by delta. The store's Mutate serializes the
// read-modify-write, which keeps the counters monotonic across writers.
func (s *Service) Increment(key string, delta int64) {
	if delta <= 0 {
		return
	}
	err := s.db.Mutate(table, key, func(current string, ok bool) string {
		n := int64(0)
		if ok {
			n, _ = strconv.ParseInt(current, 10, 64)
		}
		return strconv.FormatInt(n+delta, 10)
	})
	if err != nil {
		log.Printf("[stats] increment %s: %v", key, err)
	}
}

// Get reads one counter; unset counters read as zero.
func (s *Service) Get(key string) int64 {
	value, ok := s.db.Retrieve(table, key)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(value, 10, 64)
	return n
}

// Snapshot returns all counters for the statistics endpoint.
func (s *Service) Snapshot() map[string]int64 {
	snap := make(map[string]int64, len(allKeys))
	for _, key := range allKeys {
		snap[key] = s.Get(key)
	}
	return snap
}
