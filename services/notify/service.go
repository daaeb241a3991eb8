// Package notify sends Discord webhook notifications for package lifecycle
// events. Without a configured webhook every call is a no-op.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	colorInfo    = 0x3498db
	colorSuccess = 0x2ecc71
	colorFailure = 0xe74c3c
)

type Service struct {
	webhookURL string
	silentMax  bool
	httpc      *http.Client
}

func NewService(webhookURL, silent string) *Service {
	return &Service{
		webhookURL: strings.TrimSpace(webhookURL),
		silentMax:  strings.EqualFold(silent, "max"),
		httpc:      &http.Client{Timeout: 10 * time.Second},
	}
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type webhookBody struct {
	Username string  `json:"username"`
	Embeds   []embed `json:"embeds"`
}

func (s *Service) send(e embed) {
	if s.webhookURL == "" {
		return
	}
	body, err := json.Marshal(webhookBody{Username: "Quasarr", Embeds: []embed{e}})
	if err != nil {
		log.Printf("[notify] marshal webhook: %v", err)
		return
	}
	resp, err := s.httpc.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[notify] discord webhook: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[notify] discord webhook returned %d", resp.StatusCode)
	}
}

// CaptchaRequired announces a freshly enqueued protected package.
func (s *Service) CaptchaRequired(title, captchaURL string) {
	s.send(embed{
		Title:       "CAPTCHA required",
		Description: fmt.Sprintf("**%s** is waiting for link decryption.\n%s", title, captchaURL),
		Color:       colorInfo,
	})
}

// SolveDetails carries the optional sponsor-helper accounting info.
type SolveDetails struct {
	Cost      string
	Balance   string
	Currency  string
	Providers []string
}

// Solved announces a successful decryption. Suppressed in SILENT=max mode.
func (s *Service) Solved(title string, links int, details *SolveDetails) {
	if s.silentMax {
		return
	}
	e := embed{
		Title:       "Links decrypted",
		Description: fmt.Sprintf("**%s** (%d links) was submitted to JDownloader.", title, links),
		Color:       colorSuccess,
	}
	if details != nil {
		if details.Cost != "" {
			value := details.Cost
			if details.Currency != "" {
				value += " " + details.Currency
			}
			e.Fields = append(e.Fields, embedField{Name: "Cost", Value: value, Inline: true})
		}
		if details.Balance != "" {
			value := details.Balance
			if details.Currency != "" {
				value += " " + details.Currency
			}
			e.Fields = append(e.Fields, embedField{Name: "Balance", Value: value, Inline: true})
		}
		if len(details.Providers) > 0 {
			e.Fields = append(e.Fields, embedField{Name: "Providers", Value: strings.Join(details.Providers, ", ")})
		}
	}
	s.send(e)
}

// Failed announces a failed package.
func (s *Service) Failed(title, reason string) {
	s.send(embed{
		Title:       "Download failed",
		Description: fmt.Sprintf("**%s**: %s", title, reason),
		Color:       colorFailure,
	})
}

// UpdateAvailable announces a newer release, once per version.
func (s *Service) UpdateAvailable(current, latest, url string) {
	s.send(embed{
		Title:       "Update available",
		Description: fmt.Sprintf("Quasarr %s is available (running %s).\n%s", latest, current, url),
		Color:       colorInfo,
	})
}
