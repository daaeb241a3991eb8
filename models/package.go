package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// PackageIDPrefix starts every package id handed to SABnzbd clients.
const PackageIDPrefix = "Quasarr"

// NotQuasarrCategory labels download-manager packages that were not created
// through Quasarr.
const NotQuasarrCategory = "not_quasarr"

// ProtectedPackage is a persisted link package awaiting CAPTCHA solution.
// Links hold [url, mirror] pairs in submission order.
type ProtectedPackage struct {
	Title       string      `json:"title"`
	Links       [][2]string `json:"links"`
	Password    string      `json:"password,omitempty"`
	Mirror      string      `json:"mirror,omitempty"`
	OriginalURL string      `json:"original_url,omitempty"`
	Disabled    bool        `json:"disabled,omitempty"`
	CreatedAt   int64       `json:"created_at,omitempty"` // unix seconds, oldest-first helper ordering
}

// PackageID builds the stable id "Quasarr_<category>_<hash>" for a release
// title. The hash is a short stable digest so re-enqueueing the same title in
// the same category never duplicates.
func PackageID(category, title string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(title)))
	return fmt.Sprintf("%s_%s_%s", PackageIDPrefix, category, hex.EncodeToString(sum[:])[:16])
}

// CategoryFromPackageID recovers the category segment from a package id.
// Anything not produced by PackageID maps to NotQuasarrCategory.
func CategoryFromPackageID(id string) string {
	parts := strings.Split(id, "_")
	if len(parts) < 3 || parts[0] != PackageIDPrefix {
		return NotQuasarrCategory
	}
	return strings.Join(parts[1:len(parts)-1], "_")
}

// QueueStatus values are rendered as a bracketed prefix on the slot filename,
// which is how SABnzbd clients learn the package state.
type QueueStatus string

const (
	StatusCaptchaNotSolved QueueStatus = "[CAPTCHA not solved!]"
	StatusLinkgrabber      QueueStatus = "[Linkgrabber]"
	StatusPaused           QueueStatus = "[Paused]"
	StatusExtracting       QueueStatus = "[Extracting]"
	StatusDownloading      QueueStatus = "[Downloading]"
)

// QueueSlot is one entry of the emulated SABnzbd queue.
type QueueSlot struct {
	NzoID      string  `json:"nzo_id"`
	Filename   string  `json:"filename"`
	Category   string  `json:"cat"`
	Percentage int     `json:"percentage,string"`
	SizeMB     float64 `json:"mb,string"`
	SizeLeftMB float64 `json:"mbleft,string"`
	TimeLeft   string  `json:"timeleft"`
	Status     string  `json:"status"`
}

// HistorySlot is one entry of the emulated SABnzbd history.
type HistorySlot struct {
	NzoID        string `json:"nzo_id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Status       string `json:"status"`
	FailMessage  string `json:"fail_message"`
	Bytes        int64  `json:"bytes"`
	Storage      string `json:"storage"`
	CompletedAt  int64  `json:"completed"`
	DownloadTime int64  `json:"download_time"`
}
