package handlers

import (
	"bytes"
	"encoding/xml"
	"log"
	"net/http"
	"strconv"
	"strings"

	"quasarr/internal/state"
	"quasarr/models"
	"quasarr/services/categories"
	"quasarr/services/search"
)

const projectHomepage = "https://github.com/rix1337/Quasarr"

// IndexerHandler emulates a Newznab indexer on GET /api (t=...).
type IndexerHandler struct {
	Search     *search.Service
	Categories *categories.Service
	State      *state.Registry
	Version    string
}

func NewIndexerHandler(s *search.Service, c *categories.Service, st *state.Registry, version string) *IndexerHandler {
	return &IndexerHandler{Search: s, Categories: c, State: st, Version: version}
}

type capsDoc struct {
	XMLName    xml.Name       `xml:"caps"`
	Server     capsServer     `xml:"server"`
	Limits     capsLimits     `xml:"limits"`
	Searching  capsSearching  `xml:"searching"`
	Categories capsCategories `xml:"categories"`
}

type capsServer struct {
	Title   string `xml:"title,attr"`
	Version string `xml:"version,attr"`
}

type capsLimits struct {
	Max     int `xml:"max,attr"`
	Default int `xml:"default,attr"`
}

type capsSearchMode struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type capsSearching struct {
	Search      capsSearchMode `xml:"search"`
	TVSearch    capsSearchMode `xml:"tv-search"`
	MovieSearch capsSearchMode `xml:"movie-search"`
	BookSearch  capsSearchMode `xml:"book-search"`
	MusicSearch capsSearchMode `xml:"audio-search"`
}

type capsCategory struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type capsCategories struct {
	Categories []capsCategory `xml:"category"`
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	GUID      rssGUID      `xml:"guid"`
	Link      string       `xml:"link"`
	Comments  string       `xml:"comments,omitempty"`
	PubDate   string       `xml:"pubDate"`
	Enclosure rssEnclosure `xml:"enclosure"`
}

func (h *IndexerHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("t") {
	case "caps":
		h.caps(w)
	case "movie":
		h.search(w, r, 2000)
	case "tvsearch":
		h.search(w, r, 5000)
	case "book":
		h.search(w, r, 7000)
	case "music":
		h.search(w, r, 3000)
	case "search":
		h.phraseSearch(w, r)
	default:
		// Unknown modes answer an empty channel, not an error; *arr probes
		// rely on that.
		h.respond(w, nil)
	}
}

func (h *IndexerHandler) caps(w http.ResponseWriter) {
	doc := capsDoc{
		Server:    capsServer{Title: "Quasarr", Version: h.Version},
		Limits:    capsLimits{Max: search.DefaultLimit, Default: search.DefaultLimit},
		Searching: capsSearching{
			Search:      capsSearchMode{Available: "yes", SupportedParams: "q"},
			TVSearch:    capsSearchMode{Available: "yes", SupportedParams: "imdbid,season,ep"},
			MovieSearch: capsSearchMode{Available: "yes", SupportedParams: "imdbid"},
			BookSearch:  capsSearchMode{Available: "yes", SupportedParams: "q,author,title"},
			MusicSearch: capsSearchMode{Available: "yes", SupportedParams: "q,artist,album"},
		},
	}
	for _, c := range h.Categories.Search() {
		doc.Categories.Categories = append(doc.Categories.Categories, capsCategory{ID: c.ID, Name: c.Name})
	}
	h.write(w, doc)
}

// search handles the imdb-id driven modes plus book/music phrase modes.
func (h *IndexerHandler) search(w http.ResponseWriter, r *http.Request, defaultCategory int) {
	q := r.URL.Query()

	phrase := strings.TrimSpace(q.Get("q"))
	if author, title := q.Get("author"), q.Get("title"); author != "" || title != "" {
		phrase = strings.TrimSpace(author + " " + title)
	}
	if artist, album := q.Get("artist"), q.Get("album"); artist != "" || album != "" {
		phrase = strings.TrimSpace(artist + " " + album)
	}

	season, _ := strconv.Atoi(q.Get("season"))
	episode, _ := strconv.Atoi(q.Get("ep"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	req := search.Request{
		CategoryID: h.categoryID(q.Get("cat"), defaultCategory),
		Query:      phrase,
		IMDBID:     normalizeIMDBID(q.Get("imdbid")),
		Season:     season,
		Episode:    episode,
		Offset:     offset,
		Limit:      limit,
	}

	result := h.Search.Run(r.Context(), req)
	log.Printf("[indexer] %s", result.StatusBar())

	items := h.items(result.Releases)
	if len(items) == 0 && req.IMDBID == "" && req.Query == "" {
		items = []rssItem{h.placeholderItem()}
	}
	h.respond(w, items)
}

// phraseSearch is the t=search mode, accepted only from clients that actually
// rely on it. Sonarr falls back to t=search for titles we cannot match, so
// everyone else gets an empty channel.
func (h *IndexerHandler) phraseSearch(w http.ResponseWriter, r *http.Request) {
	ua := strings.ToLower(r.UserAgent())
	switch {
	case strings.Contains(ua, "lazylibrarian"):
		h.search(w, r, 7000)
	case strings.Contains(ua, "lidarr"):
		h.search(w, r, 3000)
	default:
		h.respond(w, nil)
	}
}

// categoryID picks the first usable id from the comma-separated cat param.
func (h *IndexerHandler) categoryID(raw string, fallback int) int {
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || id <= 0 {
			continue
		}
		return id
	}
	return fallback
}

func (h *IndexerHandler) items(releases []models.Release) []rssItem {
	items := make([]rssItem, 0, len(releases))
	for _, rel := range releases {
		items = append(items, rssItem{
			Title:    rel.Title,
			GUID:     rssGUID{IsPermaLink: "false", Value: rel.Link},
			Link:     rel.Link,
			Comments: rel.Source,
			PubDate:  rel.PubDate(),
			Enclosure: rssEnclosure{
				URL:    rel.Link,
				Length: rel.SizeBytes(),
				Type:   "application/x-nzb",
			},
		})
	}
	return items
}

// placeholderItem keeps empty feed responses well-formed for clients that
// treat a zero-item channel as an indexer failure.
func (h *IndexerHandler) placeholderItem() rssItem {
	return rssItem{
		Title:     "Quasarr.has.no.results.for.this.request",
		GUID:      rssGUID{IsPermaLink: "false", Value: projectHomepage},
		Link:      projectHomepage,
		PubDate:   models.Release{}.PubDate(),
		Enclosure: rssEnclosure{URL: projectHomepage, Length: 1, Type: "application/x-nzb"},
	}
}

func (h *IndexerHandler) respond(w http.ResponseWriter, items []rssItem) {
	h.write(w, rssDoc{
		Version: "2.0",
		Channel: rssChannel{Title: "Quasarr", Items: items},
	})
}

func (h *IndexerHandler) write(w http.ResponseWriter, doc any) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		log.Printf("[indexer] encode response: %v", err)
		writeXML(w, http.StatusInternalServerError, []byte(xml.Header))
		return
	}
	writeXML(w, http.StatusOK, buf.Bytes())
}

// normalizeIMDBID accepts both "tt0133093" and the bare number Radarr sends.
func normalizeIMDBID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "tt") {
		raw = "tt" + raw
	}
	return raw
}
