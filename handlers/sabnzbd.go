package handlers

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"quasarr/models"
	"quasarr/payload"
	"quasarr/services/categories"
	"quasarr/services/download"
	"quasarr/services/jdownloader"
	"quasarr/services/packages"
	"quasarr/services/sites"
)

// SabnzbdHandler emulates the SABnzbd JSON API on /api (mode=...).
type SabnzbdHandler struct {
	Registry   *sites.Registry
	Download   *download.Service
	Packages   *packages.Service
	Categories *categories.Service
	JD         *jdownloader.Manager
	Version    string
}

func NewSabnzbdHandler(
	registry *sites.Registry,
	dl *download.Service,
	pkgs *packages.Service,
	cats *categories.Service,
	jd *jdownloader.Manager,
	version string,
) *SabnzbdHandler {
	return &SabnzbdHandler{
		Registry:   registry,
		Download:   dl,
		Packages:   pkgs,
		Categories: cats,
		JD:         jd,
		Version:    version,
	}
}

func (h *SabnzbdHandler) Handle(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if r.Method == http.MethodPost && (mode == "addfile" || mode == "") {
		h.addFile(w, r)
		return
	}

	switch mode {
	case "auth":
		writeJSON(w, http.StatusOK, map[string]string{"auth": "apikey"})
	case "version":
		writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
	case "get_cats":
		h.getCats(w)
	case "get_config":
		h.getConfig(w)
	case "fullstatus":
		h.fullStatus(w)
	case "addurl":
		h.addURL(w, r)
	case "queue":
		h.queue(w, r)
	case "history":
		h.history(w, r)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"status": false})
	}
}

func (h *SabnzbdHandler) categoryNames() []string {
	names := []string{"*"}
	for _, c := range h.Categories.Download() {
		names = append(names, c.Name)
	}
	return names
}

func (h *SabnzbdHandler) getCats(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": h.categoryNames()})
}

func (h *SabnzbdHandler) getConfig(w http.ResponseWriter) {
	cats := make([]map[string]any, 0)
	for i, name := range h.categoryNames() {
		cats = append(cats, map[string]any{"name": name, "order": i, "dir": ""})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"config": map[string]any{
			"misc": map[string]any{
				"quasarr":      true,
				"complete_dir": "/downloads",
			},
			"categories": cats,
		},
	})
}

func (h *SabnzbdHandler) fullStatus(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": map[string]any{
			"quasarr":     true,
			"version":     h.Version,
			"paused":      false,
			"jdownloader": h.JD.Connected(),
		},
	})
}

// resolveCategory maps the query cat onto a known download category, falling
// back to the client identity when absent.
func (h *SabnzbdHandler) resolveCategory(r *http.Request) string {
	cat := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("cat")))
	if cat != "" && cat != "*" {
		for _, c := range h.Categories.Download() {
			if strings.EqualFold(c.Name, cat) {
				return c.Name
			}
		}
		return cat
	}

	ua := strings.ToLower(r.UserAgent())
	switch {
	case strings.Contains(ua, "sonarr"):
		return "tv"
	case strings.Contains(ua, "lidarr"):
		return "music"
	case strings.Contains(ua, "lazylibrarian"), strings.Contains(ua, "readarr"):
		return "books"
	default:
		return "movies"
	}
}

func (h *SabnzbdHandler) addURL(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	token, err := payload.ExtractToken(name)
	if err != nil {
		log.Printf("[sabnzbd] addurl without payload: %v", err)
		writeJSON(w, http.StatusOK, map[string]bool{"status": false})
		return
	}

	intent, err := payload.Decode(token, h.Registry.Known)
	if err != nil {
		log.Printf("[sabnzbd] reject addurl: %v", err)
		writeJSON(w, http.StatusOK, map[string]bool{"status": false})
		return
	}
	h.enqueue(w, r, intent)
}

// addFile accepts the multipart NZB upload. The envelope is sniffed before
// parsing; anything that is not XML is rejected outright.
func (h *SabnzbdHandler) addFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"status": false})
		return
	}

	file, _, err := r.FormFile("name")
	if err != nil {
		if file, _, err = r.FormFile("nzbfile"); err != nil {
			writeJSON(w, http.StatusOK, map[string]bool{"status": false})
			return
		}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{"status": false})
		return
	}

	if kind := mimetype.Detect(data); !kind.Is("text/xml") && !kind.Is("application/xml") && !kind.Is("text/plain") {
		log.Printf("[sabnzbd] reject upload of type %s", kind)
		writeJSON(w, http.StatusOK, map[string]bool{"status": false})
		return
	}

	intent, err := payload.ParseNZB(data, h.Registry.Known)
	if err != nil {
		log.Printf("[sabnzbd] reject upload: %v", err)
		writeJSON(w, http.StatusOK, map[string]bool{"status": false})
		return
	}
	h.enqueue(w, r, intent)
}

func (h *SabnzbdHandler) enqueue(w http.ResponseWriter, r *http.Request, intent models.DownloadIntent) {
	category := h.resolveCategory(r)
	outcome := h.Download.Run(r.Context(), category, intent)

	response := map[string]any{
		"status":  true,
		"nzo_ids": []string{outcome.PackageID},
	}
	if outcome.Failed {
		response["quasarr_error"] = true
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *SabnzbdHandler) queue(w http.ResponseWriter, r *http.Request) {
	if h.handleDelete(w, r) {
		return
	}
	slots := h.Packages.Queue(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"queue": map[string]any{
			"paused":          false,
			"noofslots":       len(slots),
			"slots":           slots,
			"speed":           "0",
			"timeleft":        "0:00:00",
			"mb":              "0",
			"mbleft":          "0",
			"diskspace1":      "100",
			"diskspacetotal1": "100",
		},
	})
}

func (h *SabnzbdHandler) history(w http.ResponseWriter, r *http.Request) {
	if h.handleDelete(w, r) {
		return
	}
	slots := h.Packages.History(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"history": map[string]any{
			"noofslots": len(slots),
			"slots":     slots,
		},
	})
}

// handleDelete implements name=delete&value=<nzo_id>[,...] on both queue and
// history, removing each package from the protected store and the download
// manager including files.
func (h *SabnzbdHandler) handleDelete(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Get("name") != "delete" {
		return false
	}

	ids := strings.Split(r.URL.Query().Get("value"), ",")
	status := true
	deleted := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := h.Packages.Delete(r.Context(), id); err != nil {
			log.Printf("[sabnzbd] delete %s: %v", id, err)
			status = false
			continue
		}
		deleted = append(deleted, id)
	}

	response := map[string]any{"status": status, "nzo_ids": deleted}
	if !status {
		response["quasarr_error"] = true
	}
	writeJSON(w, http.StatusOK, response)
	return true
}

// APIHandler multiplexes /api between the two facades: SABnzbd requests carry
// mode, Newznab requests carry t.
type APIHandler struct {
	Indexer *IndexerHandler
	Sabnzbd *SabnzbdHandler
}

func NewAPIHandler(indexer *IndexerHandler, sabnzbd *SabnzbdHandler) *APIHandler {
	return &APIHandler{Indexer: indexer, Sabnzbd: sabnzbd}
}

func (h *APIHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost || r.URL.Query().Get("mode") != "" {
		h.Sabnzbd.Handle(w, r)
		return
	}
	h.Indexer.Handle(w, r)
}

// DownloadHandler serves the emulated NZB under /download/?payload=….
type DownloadHandler struct {
	Registry *sites.Registry
}

func NewDownloadHandler(registry *sites.Registry) *DownloadHandler {
	return &DownloadHandler{Registry: registry}
}

func (h *DownloadHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("payload")
	intent, err := payload.Decode(token, h.Registry.Known)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := payload.BuildNZB(intent)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-nzb")
	w.Header().Set("Content-Disposition", `attachment; filename="`+intent.Title+`.nzb"`)
	if _, err := w.Write(doc); err != nil {
		log.Printf("[download] write nzb: %v", err)
	}
}
