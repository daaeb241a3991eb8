package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"quasarr/config"
)

const (
	sessionCookie = "quasarr_session"
	sessionMaxAge = 30 * 24 * time.Hour
)

// authWhitelist lists path prefixes that skip the UI auth gate. The helper
// REST prefix and the machine endpoints carry their own API-key guard; the
// quick-transfer callback is safe because package ids are opaque.
var authWhitelist = []string{
	"/login",
	"/logout",
	"/sponsors_helper/",
	"/captcha/quick-transfer",
	"/api",
	"/download/",
}

// AuthHandler implements the UI auth gate (none, basic, form) and the apikey
// guard for the machine-facing routes.
type AuthHandler struct {
	Manager *config.Manager
}

func NewAuthHandler(m *config.Manager) *AuthHandler {
	return &AuthHandler{Manager: m}
}

// RequireAPIKey guards machine endpoints: 401 without a key, 403 on mismatch.
func (h *AuthHandler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		settings, err := h.Manager.Load()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "configuration unavailable")
			return
		}

		key := r.URL.Query().Get("apikey")
		if key == "" {
			key = r.Header.Get("X-Api-Key")
		}
		if key == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing apikey")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(settings.API.Key)) != 1 {
			writeJSONError(w, http.StatusForbidden, "invalid apikey")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Gate applies the configured UI auth mode to everything not whitelisted.
func (h *AuthHandler) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range authWhitelist {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		settings, err := h.Manager.Load()
		if err != nil {
			http.Error(w, "configuration unavailable", http.StatusInternalServerError)
			return
		}

		switch settings.Server.AuthMode {
		case "basic":
			user, pass, ok := r.BasicAuth()
			if !ok || !credentialsMatch(user, pass, settings.Server) {
				w.Header().Set("WWW-Authenticate", `Basic realm="Quasarr"`)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
		case "form":
			if !h.validSessionCookie(r, settings.Server) {
				clearSessionCookie(w)
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func credentialsMatch(user, pass string, s config.ServerSettings) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.AuthUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.AuthPass)) == 1
	return userOK && passOK
}

type sessionPayload struct {
	U   string `json:"u"`   // sha256("user:"+user), hex
	Exp int64  `json:"exp"` // unix seconds
}

func sessionSecret(pass string) []byte {
	sum := sha256.Sum256([]byte(pass))
	return sum[:]
}

func userDigest(user string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte("user:"+user)))
}

// makeSessionCookie signs a fresh session: b64(payload)."."b64(mac).
func makeSessionCookie(s config.ServerSettings, now time.Time) (string, error) {
	payload, err := json.Marshal(sessionPayload{
		U:   userDigest(s.AuthUser),
		Exp: now.Add(sessionMaxAge).Unix(),
	})
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, sessionSecret(s.AuthPass))
	mac.Write(payload)

	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// validSessionCookie verifies signature, user digest, and expiry in constant
// time. Any malformed part fails closed.
func (h *AuthHandler) validSessionCookie(r *http.Request, s config.ServerSettings) bool {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}

	parts := strings.SplitN(cookie.Value, ".", 2)
	if len(parts) != 2 {
		return false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	gotMAC, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, sessionSecret(s.AuthPass))
	mac.Write(payload)
	if !hmac.Equal(gotMAC, mac.Sum(nil)) {
		return false
	}

	var parsed sessionPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(parsed.U), []byte(userDigest(s.AuthUser))) != 1 {
		return false
	}
	return time.Now().Unix() < parsed.Exp
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

const loginPage = `<!DOCTYPE html>
<html><head><title>Quasarr Login</title></head><body>
<h1>Quasarr</h1>
<form method="POST" action="/login">
  <label>User <input type="text" name="user" autofocus></label><br>
  <label>Password <input type="password" name="pass"></label><br>
  <button type="submit">Sign in</button>
</form>
</body></html>
`

// Login serves the form and sets the session cookie on valid credentials.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Manager.Load()
	if err != nil {
		http.Error(w, "configuration unavailable", http.StatusInternalServerError)
		return
	}
	if settings.Server.AuthMode != "form" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, loginPage)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if !credentialsMatch(r.PostFormValue("user"), r.PostFormValue("pass"), settings.Server) {
		log.Printf("[auth] failed login from %s", r.RemoteAddr)
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	value, err := makeSessionCookie(settings.Server, time.Now())
	if err != nil {
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout deletes the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}
