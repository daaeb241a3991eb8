package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"quasarr/config"
	"quasarr/internal/state"
	"quasarr/internal/store"
	"quasarr/services/jdownloader"
	"quasarr/services/sites"
	"quasarr/services/stats"
)

// AdminHandler exposes the configuration and status endpoints behind the UI
// auth gate.
type AdminHandler struct {
	Manager *config.Manager
	Store   *store.DB
	State   *state.Registry
	Stats   *stats.Service
	JD      *jdownloader.Manager
	Version string
}

func NewAdminHandler(m *config.Manager, db *store.DB, st *state.Registry, stat *stats.Service, jd *jdownloader.Manager, version string) *AdminHandler {
	return &AdminHandler{Manager: m, Store: db, State: st, Stats: stat, JD: jd, Version: version}
}

// Status reports overall health for the web UI landing page.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Manager.Load()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":       h.Version,
		"configured":    settings.Configured(),
		"jdownloader":   h.JD.Connected(),
		"device":        h.JD.DeviceName(),
		"flaresolverr":  h.State.FlaresolverrAvailable(),
		"helper_active": h.State.HelperActive(time.Now()),
		"hostnames":     settings.Hostnames,
	})
}

// GetSettings returns the persisted configuration with secrets masked.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Manager.Load()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	settings.JDownloader.Pass = mask(settings.JDownloader.Pass)
	settings.Server.AuthPass = mask(settings.Server.AuthPass)
	for key, creds := range settings.Credentials {
		creds.Pass = mask(creds.Pass)
		settings.Credentials[key] = creds
	}
	writeJSON(w, http.StatusOK, settings)
}

// SaveSettings replaces the persisted configuration. Masked secrets coming
// back unchanged keep their stored values.
func (h *AdminHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	current, err := h.Manager.Load()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var incoming config.Settings
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad settings body")
		return
	}

	incoming.API.Key = current.API.Key // key changes only via regenerate
	if isMasked(incoming.JDownloader.Pass) {
		incoming.JDownloader.Pass = current.JDownloader.Pass
	}
	if isMasked(incoming.Server.AuthPass) {
		incoming.Server.AuthPass = current.Server.AuthPass
	}
	for key, creds := range incoming.Credentials {
		if isMasked(creds.Pass) {
			if prior, ok := current.Credentials[key]; ok {
				creds.Pass = prior.Pass
				incoming.Credentials[key] = creds
			}
		}
	}

	if err := h.Manager.Save(incoming); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[admin] settings saved")
	writeJSON(w, http.StatusOK, map[string]bool{"status": true})
}

// RegenerateKey rotates the API key and returns the new one.
func (h *AdminHandler) RegenerateKey(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Manager.Load()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	key, err := GenerateAPIKey()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "key generation failed")
		return
	}
	settings.API.Key = key
	if err := h.Manager.Save(settings); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[admin] api key regenerated")
	writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
}

// HostnameIssues returns the per-site operation failures for the UI.
func (h *AdminHandler) HostnameIssues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"issues": sites.Issues(h.Store)})
}

// Statistics returns the counter snapshot.
func (h *AdminHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stats": h.Stats.Snapshot()})
}

// GenerateAPIKey produces the 256-bit hex key used by the apikey guard.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

const maskValue = "********"

func mask(s string) string {
	if s == "" {
		return ""
	}
	return maskValue
}

func isMasked(s string) bool {
	return s == maskValue
}
