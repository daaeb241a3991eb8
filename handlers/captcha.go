package handlers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/flate"

	"quasarr/internal/state"
	"quasarr/models"
	"quasarr/services/categories"
	"quasarr/services/crypters"
	"quasarr/services/download"
	"quasarr/services/packages"
	"quasarr/services/protected"
	"quasarr/services/stats"
)

// crypterKinds maps a marker in the crypter URL to the page that can solve
// it. Anything unrecognized lands on the generic filecrypt page.
var crypterKinds = []struct{ marker, kind string }{
	{"filecrypt.", "filecrypt"},
	{"hide.", "hide"},
	{"junkies", "junkies"},
	{"keeplinks.", "keeplinks"},
	{"tolink.", "tolink"},
}

// CaptchaHandler implements the manual and semi-automated CAPTCHA workflows.
type CaptchaHandler struct {
	Protected  *protected.Service
	Download   *download.Service
	Packages   *packages.Service
	Categories *categories.Service
	Stats      *stats.Service
	State      *state.Registry
}

func NewCaptchaHandler(
	prot *protected.Service,
	dl *download.Service,
	pkgs *packages.Service,
	cats *categories.Service,
	st *stats.Service,
	reg *state.Registry,
) *CaptchaHandler {
	return &CaptchaHandler{
		Protected:  prot,
		Download:   dl,
		Packages:   pkgs,
		Categories: cats,
		Stats:      st,
		State:      reg,
	}
}

func crypterKindFor(link string) string {
	for _, c := range crypterKinds {
		if strings.Contains(link, c.marker) {
			return c.kind
		}
	}
	return "filecrypt"
}

var captchaPageTmpl = template.Must(template.New("captcha").Parse(`<!DOCTYPE html>
<html><head><title>Quasarr CAPTCHA</title></head><body>
<h1>Waiting for link decryption</h1>
{{if not .Packages}}<p>No protected packages. Nothing to do.</p>{{end}}
{{if .Packages}}
<form method="GET" action="/captcha">
  <select name="package_id" onchange="this.form.submit()">
  {{range .Packages}}<option value="{{.ID}}" {{if eq .ID $.Selected}}selected{{end}}>{{.Package.Title}}</option>{{end}}
  </select>
</form>
{{end}}
{{if .Current}}
<h2>{{.Current.Package.Title}}</h2>
<p><a href="{{.TransferLink}}" target="_blank">Open crypter with userscript support</a>
   (install <a href="/captcha/{{.Kind}}.user.js">{{.Kind}}.user.js</a> first)</p>
{{if eq .Kind "filecrypt"}}
<p><a href="/captcha/cutcaptcha?package_id={{.Current.ID}}">Solve in page</a></p>
{{end}}
<form method="POST" action="/captcha/bypass-submit" enctype="multipart/form-data">
  <input type="hidden" name="package_id" value="{{.Current.ID}}">
  <textarea name="links" rows="6" cols="80" placeholder="Paste decrypted links"></textarea><br>
  <input type="file" name="dlc_file" accept=".dlc"><br>
  <button type="submit">Submit</button>
</form>
<p><a href="/captcha/delete/{{.Current.ID}}">Delete this package</a></p>
{{end}}
</body></html>
`))

// Page is the main CAPTCHA switch: pick a package, route to its crypter page.
func (h *CaptchaHandler) Page(w http.ResponseWriter, r *http.Request) {
	all := h.Protected.All()

	selected := r.URL.Query().Get("package_id")
	var current *protected.Entry
	for i := range all {
		if all[i].ID == selected {
			current = &all[i]
			break
		}
	}
	if current == nil && len(all) > 0 {
		current = &all[0]
		selected = current.ID
	}

	data := struct {
		Packages     []protected.Entry
		Selected     string
		Current      *protected.Entry
		Kind         string
		TransferLink string
	}{Packages: all, Selected: selected, Current: current}

	if current != nil {
		link := firstLink(current.Package.Links)
		data.Kind = crypterKindFor(link)
		data.TransferLink = h.transferLink(link, *current)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := captchaPageTmpl.Execute(w, data); err != nil {
		log.Printf("[captcha] render page: %v", err)
	}
}

func firstLink(links [][2]string) string {
	if len(links) == 0 {
		return ""
	}
	return links[0][0]
}

// transferLink prepares the crypter URL the userscript understands: the
// callback target and package identity ride as query parameters.
func (h *CaptchaHandler) transferLink(link string, e protected.Entry) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := u.Query()
	q.Set("transfer_url", h.State.ExternalAddress()+"/captcha/quick-transfer")
	q.Set("pkg_id", e.ID)
	q.Set("pkg_title", e.Package.Title)
	if e.Package.Password != "" {
		q.Set("pkg_pass", e.Package.Password)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Userscript serves the per-crypter helper script.
func (h *CaptchaHandler) Userscript(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSuffix(mux.Vars(r)["kind"], ".user.js")
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	fmt.Fprintf(w, userscriptTemplate, kind, kind, kind)
}

// The userscript collects unlocked links on the crypter page, compresses them
// (raw DEFLATE, base64url) and calls back into quick-transfer.
const userscriptTemplate = `// ==UserScript==
// @name         Quasarr %s transfer
// @namespace    quasarr
// @version      1.0
// @description  Sends decrypted %s links back to Quasarr
// @match        *://*.%s*/*
// @grant        none
// ==/UserScript==
(function () {
  'use strict';
  const params = new URLSearchParams(window.location.search);
  const transferUrl = params.get('transfer_url');
  const pkgId = params.get('pkg_id');
  if (!transferUrl || !pkgId) return;

  function collectLinks() {
    return Array.from(document.querySelectorAll('a[href]'))
      .map(a => a.href)
      .filter(u => /https?:\/\//.test(u) && !u.includes(window.location.hostname));
  }

  async function send(links) {
    const raw = new TextEncoder().encode(links.join('\n'));
    const stream = new Blob([raw]).stream().pipeThrough(new CompressionStream('deflate-raw'));
    const compressed = new Uint8Array(await new Response(stream).arrayBuffer());
    const b64 = btoa(String.fromCharCode(...compressed))
      .replace(/\+/g, '-').replace(/\//g, '_').replace(/=+$/, '');
    window.location.href = transferUrl + '?pkg_id=' + encodeURIComponent(pkgId) + '&links=' + b64;
  }

  const timer = setInterval(() => {
    const links = collectLinks();
    if (links.length > 0) {
      clearInterval(timer);
      send(links);
    }
  }, 2000);
})();
`

var transferErrorTmpl = template.Must(template.New("transferError").Parse(`<!DOCTYPE html>
<html><head><title>Quasarr CAPTCHA</title></head><body>
<h1>Transfer failed</h1>
<p>{{.Message}}</p>
<p>The package is untouched. <a href="/captcha?package_id={{.PackageID}}">Try again</a></p>
</body></html>
`))

// errorPage answers a broken userscript callback with a plain page. The
// status stays 200 so the browser renders it instead of retrying the
// redirect chain.
func (h *CaptchaHandler) errorPage(w http.ResponseWriter, pkgID, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct{ PackageID, Message string }{pkgID, message}
	if err := transferErrorTmpl.Execute(w, data); err != nil {
		log.Printf("[captcha] render error page: %v", err)
	}
}

// QuickTransfer receives the userscript callback: base64url-encoded raw
// DEFLATE link text.
func (h *CaptchaHandler) QuickTransfer(w http.ResponseWriter, r *http.Request) {
	pkgID := r.URL.Query().Get("pkg_id")
	encoded := r.URL.Query().Get("links")
	if pkgID == "" || encoded == "" {
		writeJSONError(w, http.StatusBadRequest, "pkg_id and links required")
		return
	}

	links, err := decodeQuickTransfer(encoded)
	if err != nil {
		log.Printf("[captcha] quick-transfer decode for %s: %v", pkgID, err)
		h.errorPage(w, pkgID, "The transferred links could not be decoded.")
		return
	}

	if err := h.Download.CompletePackage(r.Context(), pkgID, links, false, nil); err != nil {
		log.Printf("[captcha] quick-transfer submit for %s: %v", pkgID, err)
		http.Redirect(w, r, "/captcha?package_id="+url.QueryEscape(pkgID)+"&failed=1", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/captcha", http.StatusFound)
}

func decodeQuickTransfer(encoded string) ([]string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}

	reader := flate.NewReader(bytes.NewReader(raw))
	defer reader.Close()
	text, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress links: %w", err)
	}

	var links []string
	for _, line := range strings.Split(string(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			links = append(links, line)
		}
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("no links in transfer")
	}
	return links, nil
}

// Delete removes a package on the user's say-so: protected store, device and
// files all go. This is a discard, not a decryption failure, so no failure
// notification fires.
func (h *CaptchaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["package_id"]

	title := id
	if pkg, ok := h.Protected.Get(id); ok {
		title = pkg.Title
	}
	if err := h.Packages.Delete(r.Context(), id); err != nil {
		log.Printf("[captcha] delete %s: %v", id, err)
	}
	h.Download.DiscardPackage(id, title)
	http.Redirect(w, r, "/captcha", http.StatusFound)
}

// BypassSubmit handles the manual fallback: pasted links or an uploaded DLC
// container.
func (h *CaptchaHandler) BypassSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad form")
		return
	}

	pkgID := r.PostFormValue("package_id")
	if pkgID == "" {
		writeJSONError(w, http.StatusBadRequest, "package_id required")
		return
	}

	var links []string
	for _, line := range strings.Split(r.PostFormValue("links"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			links = append(links, line)
		}
	}

	if len(links) == 0 {
		if file, _, err := r.FormFile("dlc_file"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(file)
			if err == nil && looksLikeDLC(data) {
				if decrypted, err := crypters.DecryptDLC(r.Context(), data); err == nil {
					links = decrypted
				} else {
					log.Printf("[captcha] dlc decrypt for %s: %v", pkgID, err)
				}
			}
		}
	}

	if len(links) == 0 {
		http.Redirect(w, r, "/captcha?package_id="+url.QueryEscape(pkgID)+"&failed=1", http.StatusFound)
		return
	}

	if err := h.Download.CompletePackage(r.Context(), pkgID, links, false, nil); err != nil {
		log.Printf("[captcha] bypass submit for %s: %v", pkgID, err)
		http.Redirect(w, r, "/captcha?package_id="+url.QueryEscape(pkgID)+"&failed=1", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/captcha", http.StatusFound)
}

// looksLikeDLC accepts base64 text blobs; real containers sniff as plain
// text, so binary uploads are rejected.
func looksLikeDLC(data []byte) bool {
	kind := mimetype.Detect(data)
	return kind.Is("text/plain") || strings.HasPrefix(kind.String(), "text/")
}

// DecryptFileCrypt receives the solved cutcaptcha token and unlocks the
// folder server-side.
func (h *CaptchaHandler) DecryptFileCrypt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad form")
		return
	}

	pkgID := r.PostFormValue("package_id")
	token := r.PostFormValue("token")
	if pkgID == "" || token == "" {
		writeJSONError(w, http.StatusBadRequest, "package_id and token required")
		return
	}

	pkg, ok := h.Protected.Get(pkgID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "package not found")
		return
	}

	mirrors := h.Categories.MirrorsFor(models.CategoryFromPackageID(pkgID))

	fc := crypters.NewFileCrypt(h.State.UserAgent())
	links, err := fc.Links(r.Context(), token, pkg.Title, firstLink(pkg.Links), pkg.Password, mirrors)
	if err != nil {
		log.Printf("[captcha] filecrypt decrypt for %s: %v", pkgID, err)
		// The package stays parked so the user can try again.
		h.Stats.Increment(stats.FailedDecryptionsManual, 1)
		writeJSON(w, http.StatusOK, map[string]any{"status": false, "error": err.Error()})
		return
	}

	if err := h.Download.CompletePackage(r.Context(), pkgID, links, false, nil); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "links": len(links)})
}
