package crypters

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"quasarr/models"
)

// FileCrypt unlocks filecrypt folders. One instance per request; it carries
// its own cookie jar because the folder session is bound to the CAPTCHA
// token.
type FileCrypt struct {
	httpc     *http.Client
	userAgent string
}

func NewFileCrypt(userAgent string) *FileCrypt {
	jar, _ := cookiejar.New(nil)
	return &FileCrypt{
		httpc:     &http.Client{Jar: jar, Timeout: 30 * time.Second},
		userAgent: userAgent,
	}
}

// Links posts a solved CAPTCHA token to a folder and collects the unlocked
// hoster links, filtered to the preferred mirrors when given.
func (f *FileCrypt) Links(ctx context.Context, token, title, folderURL, password string, mirrors []string) ([]string, error) {
	form := url.Values{"cap_token": {token}}
	if password != "" {
		form.Set("password", password)
	}

	page, err := f.post(ctx, folderURL, form)
	if err != nil {
		return nil, fmt.Errorf("unlock folder: %w", err)
	}
	if strings.Contains(page, "cap_token") && strings.Contains(page, "captcha") {
		return nil, fmt.Errorf("captcha token rejected for %s", title)
	}

	links, err := f.resolveContainer(ctx, folderURL, page, mirrors)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("no links unlocked for %s", title)
	}
	return links, nil
}

// resolveContainer walks the unlocked folder page. Each row hides the real
// hoster URL behind a /Link/ redirect; following it yields the target.
func (f *FileCrypt) resolveContainer(ctx context.Context, folderURL, page string, mirrors []string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse folder page: %w", err)
	}

	base, err := url.Parse(folderURL)
	if err != nil {
		return nil, err
	}

	var refs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "a" || n.Data == "button") {
			for _, a := range n.Attr {
				if (a.Key == "href" || a.Key == "onclick") && strings.Contains(a.Val, "/Link/") {
					refs = append(refs, extractLinkRef(a.Val))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var out []string
	for _, ref := range refs {
		target, err := base.Parse(ref)
		if err != nil {
			continue
		}
		resolved, err := f.followRedirect(ctx, target.String())
		if err != nil {
			log.Printf("[filecrypt] follow %s: %v", ref, err)
			continue
		}
		if len(mirrors) > 0 && !hostMatchesAny(resolved, mirrors) {
			continue
		}
		out = append(out, resolved)
	}
	return out, nil
}

// extractLinkRef pulls the /Link/ path out of an href or an onclick opener.
func extractLinkRef(val string) string {
	idx := strings.Index(val, "/Link/")
	ref := val[idx:]
	for _, stop := range []string{"'", `"`, ")", " "} {
		if cut := strings.Index(ref, stop); cut >= 0 {
			ref = ref[:cut]
		}
	}
	return ref
}

// followRedirect resolves one /Link/ hop without following further; the
// Location header is the hoster URL.
func (f *FileCrypt) followRedirect(ctx context.Context, linkURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, linkURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)

	noRedirect := *f.httpc
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); loc != "" {
		return loc, nil
	}

	// Some folders render an intermediate page with the target in a frame.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if src := frameSource(string(body)); src != "" {
		return src, nil
	}
	return "", fmt.Errorf("no redirect target")
}

func frameSource(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	var src string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if src != "" {
			return
		}
		if n.Type == html.ElementNode && (n.Data == "iframe" || n.Data == "frame") {
			for _, a := range n.Attr {
				if a.Key == "src" && strings.HasPrefix(a.Val, "http") {
					src = a.Val
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return src
}

func (f *FileCrypt) post(ctx context.Context, target string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("folder returned %d", resp.StatusCode)
	}
	return string(body), nil
}

func hostMatchesAny(rawURL string, mirrors []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, m := range mirrors {
		if strings.Contains(host, models.NormalizeSourceKey(m)) {
			return true
		}
	}
	return false
}
