package sites

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/charmap"

	"quasarr/models"
	"quasarr/utils/validator"
)

// dwAdapter scrapes a challenge-protected site: an RSS feed (still served in
// ISO-8859-1) for recent releases and HTML result pages for searches. Without
// a configured solver it stays silent rather than producing block pages.
type dwAdapter struct{}

func NewDW() Adapter { return dwAdapter{} }

func (dwAdapter) ID() string { return "dw" }

func (dwAdapter) Caps() Capabilities {
	return Capabilities{
		IMDbMovies:     true,
		IMDbSeries:     true,
		Phrase:         true,
		BaseTypes:      []string{models.BaseTypeMovies, models.BaseTypeTV},
		RequiresSolver: true,
	}
}

var dwSizeRe = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(GB|MB)`)

type dwFeed struct {
	Channel struct {
		Items []dwItem `xml:"item"`
	} `xml:"channel"`
}

type dwItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description"`
}

// latin1CharsetReader lets encoding/xml consume the site's legacy encoding.
func latin1CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "iso-8859-1", "latin1", "windows-1252":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "utf-8", "":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", charset)
}

var errSolverUnavailable = errors.New("challenge solver not available")

var dwDirectClient = &http.Client{Timeout: 20 * time.Second}

// fetch prefers a plain request when the site is known to answer without the
// solver, falls back to the solver, and probes direct access when no solver
// is configured so an unprotected hostname still works.
func (a dwAdapter) fetch(ctx context.Context, env *Env, target string) (string, error) {
	if SkipSolver(env.Store, a.ID()) {
		if body, err := a.fetchDirect(ctx, env, target); err == nil {
			return body, nil
		}
		ClearSkipSolver(env.Store, a.ID())
	}

	if !env.State.FlaresolverrAvailable() {
		body, err := a.fetchDirect(ctx, env, target)
		if err == nil {
			MarkSkipSolver(env.Store, a.ID())
			return body, nil
		}
		return "", errSolverUnavailable
	}

	sol, err := env.Solver.Get(ctx, target)
	if err != nil {
		return "", err
	}
	if sol.Status >= 400 {
		return "", fmt.Errorf("site returned %d", sol.Status)
	}
	return sol.Response, nil
}

func (a dwAdapter) fetchDirect(ctx context.Context, env *Env, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", env.State.UserAgent())

	resp, err := dwDirectClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("site returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// parseSizeMB reads "4,3 GB" / "700 MB" markers out of feed descriptions.
func parseSizeMB(text string) int64 {
	m := dwSizeRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(m[2], "GB") {
		value *= 1024
	}
	return int64(value)
}

func (a dwAdapter) Feed(ctx context.Context, env *Env, category string) ([]models.Release, error) {
	host := env.Hostname(a.ID())
	if host == "" {
		return nil, fmt.Errorf("hostname not configured")
	}
	feedCat := "movies"
	if category == "tv" {
		feedCat = "serien"
	}

	body, err := a.fetch(ctx, env, fmt.Sprintf("https://%s/feed/?cat=%s", host, feedCat))
	if errors.Is(err, errSolverUnavailable) {
		return nil, nil
	}
	if err != nil {
		MarkIssue(env.Store, a.ID(), "feed", err)
		return nil, err
	}

	dec := xml.NewDecoder(strings.NewReader(body))
	dec.CharsetReader = latin1CharsetReader
	var feed dwFeed
	if err := dec.Decode(&feed); err != nil {
		err = fmt.Errorf("parse feed: %w", err)
		MarkIssue(env.Store, a.ID(), "feed", err)
		return nil, err
	}
	ClearIssue(env.Store, a.ID(), "feed")

	baseType := models.BaseTypeMovies
	if category == "tv" {
		baseType = models.BaseTypeTV
	}
	return a.convert(env, feed.Channel.Items, validator.Options{BaseType: baseType}), nil
}

func (a dwAdapter) Search(ctx context.Context, env *Env, req SearchRequest) ([]models.Release, error) {
	host := env.Hostname(a.ID())
	if host == "" {
		return nil, fmt.Errorf("hostname not configured")
	}
	query := req.Query
	if req.IMDBID != "" {
		query = req.IMDBID
	}

	body, err := a.fetch(ctx, env, fmt.Sprintf("https://%s/?s=%s", host, url.QueryEscape(query)))
	if errors.Is(err, errSolverUnavailable) {
		return nil, nil
	}
	if err != nil {
		MarkIssue(env.Store, a.ID(), "search", err)
		return nil, err
	}

	items, err := a.parseSearchPage(body)
	if err != nil {
		MarkIssue(env.Store, a.ID(), "search", err)
		return nil, err
	}
	ClearIssue(env.Store, a.ID(), "search")

	opts := validator.Options{
		SearchString: req.Query,
		Season:       req.Season,
		Episode:      req.Episode,
		IMDBID:       req.IMDBID,
		BaseType:     req.BaseType,
	}
	return a.convert(env, items, opts), nil
}

// parseSearchPage walks the result listing: each hit is an anchor with class
// "release-title" whose text is the release name.
func (a dwAdapter) parseSearchPage(body string) ([]dwItem, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	var items []dwItem
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "release-title") {
			item := dwItem{Link: attr(n, "href"), Title: strings.TrimSpace(textContent(n))}
			if item.Title != "" && item.Link != "" {
				items = append(items, item)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return items, nil
}

func (a dwAdapter) convert(env *Env, items []dwItem, opts validator.Options) []models.Release {
	var out []models.Release
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if err := validator.CheckTitle(title, opts); err != nil {
			continue
		}

		sizeMB := parseSizeMB(item.Description)
		imdbID := validator.ExtractIMDB(item.Description)
		if err := validator.CheckIMDB(opts.IMDBID, imdbID); err != nil {
			continue
		}

		intent := models.DownloadIntent{
			Title:     title,
			URL:       item.Link,
			SizeMB:    sizeMB,
			IMDBID:    imdbID,
			SourceKey: a.ID(),
		}
		link, err := env.SelfLink(intent)
		if err != nil {
			continue
		}

		date, _ := time.Parse(time.RFC1123Z, item.PubDate)
		out = append(out, models.Release{
			Title:    title,
			Hostname: a.ID(),
			IMDBID:   imdbID,
			Link:     link,
			SizeMB:   sizeMB,
			Date:     date,
			Source:   item.Link,
			Type:     models.ReleaseTypeProtected,
		})
	}
	return out
}

func (a dwAdapter) DownloadLinks(ctx context.Context, env *Env, intent models.DownloadIntent, mirrors []string) (models.LinkResult, error) {
	body, err := a.fetch(ctx, env, intent.URL)
	if err != nil {
		MarkIssue(env.Store, a.ID(), "download", err)
		return models.LinkResult{}, err
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		err = fmt.Errorf("parse release page: %w", err)
		MarkIssue(env.Store, a.ID(), "download", err)
		return models.LinkResult{}, err
	}
	ClearIssue(env.Store, a.ID(), "download")

	// Crypter anchors sit inside the download box; the hoster name is the
	// anchor text.
	var result models.LinkResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			if strings.Contains(href, "filecrypt.") {
				mirror := models.NormalizeSourceKey(textContent(n))
				if len(mirrors) == 0 || mirrorAllowed(mirror, mirrors) {
					result.Protected = append(result.Protected, models.ProtectedLink{URL: href, Mirror: mirror})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return result, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
