// Package api wires every handler onto the router. All route registration
// lives here so the surface is readable in one place.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"quasarr/handlers"
)

// Handlers bundles the constructed handler set for registration.
type Handlers struct {
	Auth       *handlers.AuthHandler
	API        *handlers.APIHandler
	Download   *handlers.DownloadHandler
	Captcha    *handlers.CaptchaHandler
	Cutcaptcha *handlers.CutcaptchaHandler
	Helper     *handlers.HelperHandler
	Admin      *handlers.AdminHandler
}

// NewRouter builds the full route table.
func NewRouter(h Handlers) http.Handler {
	r := mux.NewRouter()

	// *arr-facing machine endpoints, apikey-guarded.
	r.Handle("/api", h.Auth.RequireAPIKey(http.HandlerFunc(h.API.Handle))).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/download/", h.Auth.RequireAPIKey(http.HandlerFunc(h.Download.Handle))).Methods(http.MethodGet)

	// UI auth.
	r.HandleFunc("/login", h.Auth.Login).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/logout", h.Auth.Logout).Methods(http.MethodGet)

	// CAPTCHA workflow. quick-transfer stays open: package ids are opaque.
	r.HandleFunc("/captcha", h.Captcha.Page).Methods(http.MethodGet)
	r.HandleFunc("/captcha/quick-transfer", h.Captcha.QuickTransfer).Methods(http.MethodGet)
	r.HandleFunc("/captcha/delete/{package_id}", h.Captcha.Delete).Methods(http.MethodGet)
	r.HandleFunc("/captcha/bypass-submit", h.Captcha.BypassSubmit).Methods(http.MethodPost)
	r.HandleFunc("/captcha/decrypt-filecrypt", h.Captcha.DecryptFileCrypt).Methods(http.MethodPost)
	r.HandleFunc("/captcha/cutcaptcha", h.Cutcaptcha.Page).Methods(http.MethodGet)
	r.HandleFunc("/captcha/js/{filename}", h.Cutcaptcha.Script).Methods(http.MethodGet)
	r.HandleFunc("/captcha/{kind}.user.js", h.Captcha.Userscript).Methods(http.MethodGet)
	r.HandleFunc("/captcha/{id}.{ext:html|json|check}", h.Cutcaptcha.Widget).Methods(http.MethodGet, http.MethodPost)

	// Sponsor-helper REST, apikey-guarded; most routes also need an active
	// helper.
	helper := r.PathPrefix("/sponsors_helper/api").Subrouter()
	helper.Use(h.Auth.RequireAPIKey)
	helper.HandleFunc("/ping/", h.Helper.Ping).Methods(http.MethodGet)
	helper.HandleFunc("/to_decrypt/", h.Helper.ToDecrypt).Methods(http.MethodGet)
	helper.HandleFunc("/set_sponsor_status/", h.Helper.SetSponsorStatus).Methods(http.MethodPut)
	helper.HandleFunc("/credentials/{host}/", h.Helper.RequireActive(h.Helper.Credentials)).Methods(http.MethodGet)
	helper.HandleFunc("/mirrors/{package_id}/", h.Helper.RequireActive(h.Helper.Mirrors)).Methods(http.MethodGet)
	helper.HandleFunc("/download/", h.Helper.RequireActive(h.Helper.DownloadReport)).Methods(http.MethodPost)
	helper.HandleFunc("/disable/", h.Helper.RequireActive(h.Helper.Disable)).Methods(http.MethodPost)
	helper.HandleFunc("/fail/", h.Helper.RequireActive(h.Helper.Fail)).Methods(http.MethodDelete)

	// Admin and status endpoints behind the UI auth gate.
	r.HandleFunc("/", h.Admin.Status).Methods(http.MethodGet)
	r.HandleFunc("/settings", h.Admin.GetSettings).Methods(http.MethodGet)
	r.HandleFunc("/settings", h.Admin.SaveSettings).Methods(http.MethodPost)
	r.HandleFunc("/settings/regenerate-key", h.Admin.RegenerateKey).Methods(http.MethodPost)
	r.HandleFunc("/settings/hostname-issues", h.Admin.HostnameIssues).Methods(http.MethodGet)
	r.HandleFunc("/settings/stats", h.Admin.Statistics).Methods(http.MethodGet)

	return h.Auth.Gate(r)
}
