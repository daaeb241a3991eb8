package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"quasarr/config"
	"quasarr/internal/state"
	"quasarr/services/download"
	"quasarr/services/notify"
	"quasarr/services/protected"
)

// helperMaxAttempts is handed to the helper with every package.
const helperMaxAttempts = 3

// HelperHandler implements the sponsor-helper REST surface. The helper polls
// for work, solves CAPTCHAs externally, and reports plain links back.
type HelperHandler struct {
	Manager   *config.Manager
	Protected *protected.Service
	Download  *download.Service
	State     *state.Registry
}

func NewHelperHandler(m *config.Manager, prot *protected.Service, dl *download.Service, st *state.Registry) *HelperHandler {
	return &HelperHandler{Manager: m, Protected: prot, Download: dl, State: st}
}

// RequireActive wraps routes that only make sense while the helper is alive.
func (h *HelperHandler) RequireActive(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.State.HelperActive(time.Now()) {
			writeJSONError(w, http.StatusForbidden, "helper not active")
			return
		}
		next(w, r)
	}
}

func (h *HelperHandler) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "pong")
}

// Credentials hands the helper a site login so it can resolve premium links.
func (h *HelperHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Manager.Load()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "configuration unavailable")
		return
	}

	creds, ok := settings.CredentialsFor(mux.Vars(r)["host"])
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no credentials for host")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user": creds.User, "pass": creds.Pass})
}

// Mirrors lists the distinct mirrors of one package.
func (h *HelperHandler) Mirrors(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["package_id"]
	pkg, ok := h.Protected.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "package not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mirrors": protected.MirrorsOf(pkg)})
}

type toDecryptPackage struct {
	Name        string      `json:"name"`
	ID          string      `json:"id"`
	URL         [][2]string `json:"url"`
	Mirror      string      `json:"mirror,omitempty"`
	Password    string      `json:"password,omitempty"`
	MaxAttempts int         `json:"max_attempts"`
}

// ToDecrypt hands out the oldest non-disabled package. Polling this endpoint
// is what marks the helper alive.
func (h *HelperHandler) ToDecrypt(w http.ResponseWriter, r *http.Request) {
	h.State.MarkHelperSeen(time.Now())

	entry, ok := h.Protected.Oldest()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "nothing to decrypt")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"to_decrypt": toDecryptPackage{
			Name:        entry.Package.Title,
			ID:          entry.ID,
			URL:         entry.Package.Links,
			Mirror:      entry.Package.Mirror,
			Password:    entry.Package.Password,
			MaxAttempts: helperMaxAttempts,
		},
	})
}

type downloadReport struct {
	Name      string   `json:"name"`
	PackageID string   `json:"package_id"`
	URLs      []string `json:"urls"`
	Password  string   `json:"password"`
	Cost      string   `json:"cost"`
	Balance   string   `json:"balance"`
	Currency  string   `json:"currency"`
	Providers []string `json:"providers"`
}

// DownloadReport is the helper's success callback: submit links, drop the
// package, announce with the accounting details.
func (h *HelperHandler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	var report downloadReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad report body")
		return
	}
	if report.PackageID == "" || len(report.URLs) == 0 {
		writeJSONError(w, http.StatusBadRequest, "package_id and urls required")
		return
	}

	details := &notify.SolveDetails{
		Cost:      report.Cost,
		Balance:   report.Balance,
		Currency:  report.Currency,
		Providers: report.Providers,
	}
	if err := h.Download.CompletePackage(r.Context(), report.PackageID, report.URLs, true, details); err != nil {
		log.Printf("[helper] complete %s: %v", report.PackageID, err)
		writeJSON(w, http.StatusOK, map[string]bool{"status": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

type packageRef struct {
	PackageID string `json:"package_id"`
	Name      string `json:"name"`
	Title     string `json:"title"`
}

// Disable flags a package so the helper stops retrying it. It stays solvable
// manually.
func (h *HelperHandler) Disable(w http.ResponseWriter, r *http.Request) {
	var ref packageRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil || ref.PackageID == "" {
		writeJSONError(w, http.StatusBadRequest, "package_id required")
		return
	}
	if err := h.Protected.Disable(ref.PackageID); err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

// Fail removes a package entirely; the helper gave up on it.
func (h *HelperHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var ref packageRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad body")
		return
	}

	id := ref.PackageID
	if id == "" {
		for _, e := range h.Protected.All() {
			title := e.Package.Title
			if (ref.Name != "" && title == ref.Name) || (ref.Title != "" && title == ref.Title) {
				id = e.ID
				break
			}
		}
	}
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "package_id, name or title required")
		return
	}

	h.Download.FailPackage(id, true)
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

type sponsorStatus struct {
	Activate bool `json:"activate"`
}

// SetSponsorStatus toggles helper activity explicitly.
func (h *HelperHandler) SetSponsorStatus(w http.ResponseWriter, r *http.Request) {
	var status sponsorStatus
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad body")
		return
	}
	h.State.SetHelperActive(status.Activate, time.Now())
	writeJSON(w, http.StatusOK, map[string]bool{"status": true, "active": status.Activate})
}
