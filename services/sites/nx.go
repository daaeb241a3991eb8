package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quasarr/models"
	"quasarr/services/sessions"
	"quasarr/utils/validator"
)

// nxAdapter talks to a JSON-API site that requires a logged-in session. Search
// hits arrive pre-structured, so the adapter mostly validates and repackages.
type nxAdapter struct{}

func NewNX() Adapter { return nxAdapter{} }

func (nxAdapter) ID() string { return "nx" }

func (nxAdapter) Caps() Capabilities {
	return Capabilities{
		IMDbMovies:    true,
		IMDbSeries:    true,
		Phrase:        true,
		BaseTypes:     []string{models.BaseTypeMovies, models.BaseTypeTV},
		RequiresLogin: true,
	}
}

type nxRelease struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	SizeMB    int64  `json:"size_mb"`
	IMDBID    string `json:"imdb_id"`
	Password  string `json:"password"`
	PublishAt string `json:"publish_at"`
}

type nxListResponse struct {
	Result struct {
		List []nxRelease `json:"list"`
	} `json:"result"`
}

type nxDetailResponse struct {
	Result struct {
		Links []struct {
			URL    string `json:"url"`
			Hoster string `json:"hoster"`
		} `json:"links"`
		Password string `json:"password"`
	} `json:"result"`
}

func (a nxAdapter) login(base string, env *Env) sessions.LoginFunc {
	return func(ctx context.Context, client *http.Client) (map[string]string, error) {
		settings, err := env.Settings()
		if err != nil {
			return nil, err
		}
		creds, ok := settings.CredentialsFor(a.ID())
		if !ok {
			return nil, fmt.Errorf("no credentials configured")
		}

		body, err := json.Marshal(map[string]string{
			"username": creds.User,
			"password": creds.Pass,
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/user/auth", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", env.State.UserAgent())

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("auth returned %d", resp.StatusCode)
		}

		// The session cookie lands in the jar; no extra headers needed.
		return nil, nil
	}
}

var errNXRejected = errors.New("request rejected")

var nxAnonClient = &http.Client{Timeout: 20 * time.Second}

func (a nxAdapter) doGET(ctx context.Context, env *Env, client *http.Client, headers map[string]string, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", env.State.UserAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w", target, errNXRejected)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", target, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// getJSON fetches an API path with the site session, retrying once through a
// fresh login when the session has gone stale server-side. Read endpoints
// that answered anonymously before (or when no login is configured) go
// through a plain client first.
func (a nxAdapter) getJSON(ctx context.Context, env *Env, base, path string, out any) error {
	hasCreds := false
	if settings, err := env.Settings(); err == nil {
		_, hasCreds = settings.CredentialsFor(a.ID())
	}

	if SkipLogin(env.Store, a.ID()) || !hasCreds {
		err := a.doGET(ctx, env, nxAnonClient, nil, base+path, out)
		if err == nil {
			MarkSkipLogin(env.Store, a.ID())
			return nil
		}
		ClearSkipLogin(env.Store, a.ID())
		if !hasCreds || !errors.Is(err, errNXRejected) {
			return err
		}
	}

	login := a.login(base, env)
	for attempt := 0; attempt < 2; attempt++ {
		session, err := env.Sessions.RetrieveAndValidate(ctx, a.ID(), base, login)
		if err != nil {
			return err
		}
		err = a.doGET(ctx, env, session.HTTP, session.Headers, base+path, out)
		if errors.Is(err, errNXRejected) {
			env.Sessions.Invalidate(a.ID())
			continue
		}
		return err
	}
	return fmt.Errorf("session rejected twice for %s", path)
}

func nxCategorySegment(baseType string) string {
	if baseType == models.BaseTypeTV {
		return "episode"
	}
	return "movie"
}

func (a nxAdapter) Feed(ctx context.Context, env *Env, category string) ([]models.Release, error) {
	base := "https://" + env.Hostname(a.ID())
	if base == "https://" {
		return nil, fmt.Errorf("hostname not configured")
	}

	baseType := models.BaseTypeMovies
	if category == "tv" {
		baseType = models.BaseTypeTV
	}

	var parsed nxListResponse
	path := fmt.Sprintf("/api/frontend/releases/category/%s/tag/all/0/50", nxCategorySegment(baseType))
	if err := a.getJSON(ctx, env, base, path, &parsed); err != nil {
		MarkIssue(env.Store, a.ID(), "feed", err)
		return nil, err
	}
	ClearIssue(env.Store, a.ID(), "feed")

	return a.convert(env, base, parsed.Result.List, validator.Options{BaseType: baseType}), nil
}

func (a nxAdapter) Search(ctx context.Context, env *Env, req SearchRequest) ([]models.Release, error) {
	base := "https://" + env.Hostname(a.ID())
	if base == "https://" {
		return nil, fmt.Errorf("hostname not configured")
	}

	query := req.Query
	if req.IMDBID != "" {
		query = req.IMDBID
	}

	var parsed nxListResponse
	path := "/api/frontend/search/" + url.PathEscape(query)
	if err := a.getJSON(ctx, env, base, path, &parsed); err != nil {
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
	return a.convert(env, base, parsed.Result.List, opts), nil
}

func (a nxAdapter) convert(env *Env, base string, list []nxRelease, opts validator.Options) []models.Release {
	var out []models.Release
	for _, r := range list {
		if err := validator.CheckTitle(r.Name, opts); err != nil {
			continue
		}
		if err := validator.CheckIMDB(opts.IMDBID, r.IMDBID); err != nil {
			continue
		}

		source := base + "/release/" + r.Slug
		intent := models.DownloadIntent{
			Title:     r.Name,
			URL:       source,
			SizeMB:    r.SizeMB,
			Password:  r.Password,
			IMDBID:    r.IMDBID,
			SourceKey: a.ID(),
		}
		link, err := env.SelfLink(intent)
		if err != nil {
			log.Printf("[nx] build self link for %s: %v", r.Name, err)
			continue
		}

		date, _ := time.Parse(time.RFC3339, r.PublishAt)
		out = append(out, models.Release{
			Title:    r.Name,
			Hostname: a.ID(),
			IMDBID:   r.IMDBID,
			Link:     link,
			SizeMB:   r.SizeMB,
			Date:     date,
			Source:   source,
			Password: r.Password,
			Type:     models.ReleaseTypeProtected,
		})
	}
	return out
}

func (a nxAdapter) DownloadLinks(ctx context.Context, env *Env, intent models.DownloadIntent, mirrors []string) (models.LinkResult, error) {
	base := "https://" + env.Hostname(a.ID())
	if base == "https://" {
		return models.LinkResult{}, fmt.Errorf("hostname not configured")
	}

	slug := intent.URL[strings.LastIndex(intent.URL, "/")+1:]
	var parsed nxDetailResponse
	if err := a.getJSON(ctx, env, base, "/api/frontend/releases/"+url.PathEscape(slug), &parsed); err != nil {
		MarkIssue(env.Store, a.ID(), "download", err)
		return models.LinkResult{}, err
	}
	ClearIssue(env.Store, a.ID(), "download")

	var result models.LinkResult
	for _, l := range parsed.Result.Links {
		mirror := models.NormalizeSourceKey(l.Hoster)
		if len(mirrors) > 0 && !mirrorAllowed(mirror, mirrors) {
			continue
		}
		result.Protected = append(result.Protected, models.ProtectedLink{URL: l.URL, Mirror: mirror})
	}
	return result, nil
}

func mirrorAllowed(mirror string, allowed []string) bool {
	for _, m := range allowed {
		if strings.EqualFold(m, mirror) {
			return true
		}
	}
	return false
}
