package models

import (
	"fmt"
	"strings"
	"time"
)

// ReleaseType distinguishes releases whose links are already plain URLs from
// releases that still sit behind a link crypter.
type ReleaseType string

const (
	ReleaseTypeDirect    ReleaseType = "direct"
	ReleaseTypeProtected ReleaseType = "protected"
)

// Release is a single search hit produced by a site adapter.
type Release struct {
	Title    string      `json:"title"`
	Hostname string      `json:"hostname"` // source shortname, e.g. "nx"
	IMDBID   string      `json:"imdbId,omitempty"`
	Link     string      `json:"link"` // self-URL carrying the encoded payload
	SizeMB   int64       `json:"sizeMb"`
	Date     time.Time   `json:"date"`
	Source   string      `json:"source"` // external URL of the release page
	Password string      `json:"password,omitempty"`
	Type     ReleaseType `json:"type"`
}

// SizeBytes returns the release size as reported to Newznab clients.
func (r Release) SizeBytes() int64 {
	return r.SizeMB * 1024 * 1024
}

// PubDate renders the release date in RFC-822 form for RSS output. Missing
// dates collapse to the epoch so sorting stays stable.
func (r Release) PubDate() string {
	d := r.Date
	if d.IsZero() {
		d = time.Unix(0, 0).UTC()
	}
	return d.Format(time.RFC1123Z)
}

// DownloadIntent is the tuple carried inside an emulated NZB. It is the only
// piece of state handed from the indexer facade to the download-client facade.
type DownloadIntent struct {
	Title     string
	URL       string
	SizeMB    int64
	Password  string
	IMDBID    string
	SourceKey string
	ReleaseID string // site-specific numeric id; kept separate from Password
}

func (d DownloadIntent) String() string {
	return fmt.Sprintf("%s (%d MB) from %s", d.Title, d.SizeMB, d.SourceKey)
}

// ProtectedLink is one crypter URL plus the mirror it resolves to.
type ProtectedLink struct {
	URL    string `json:"url"`
	Mirror string `json:"mirror"`
}

// LinkResult is what a site adapter's download-link resolution yields: either
// plain hoster URLs or crypter URLs that still need a CAPTCHA.
type LinkResult struct {
	Direct    []string
	Protected []ProtectedLink
}

// Empty reports whether the adapter found nothing usable.
func (l LinkResult) Empty() bool {
	return len(l.Direct) == 0 && len(l.Protected) == 0
}

// HostnameIssue records the most recent failure of a site operation. It is
// cleared on the next successful call of the same operation.
type HostnameIssue struct {
	Operation string    `json:"operation"` // feed | search | download
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NormalizeSourceKey lowercases and trims a source shortname.
func NormalizeSourceKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
