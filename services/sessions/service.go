// Package sessions manages per-site authenticated HTTP clients. A session is
// either fresh (validated within its TTL) or rebuilt atomically; serialized
// cookie jars live in the store's sessions table.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"quasarr/internal/store"
)

// TTL is how long a persisted session is trusted without revalidation.
const TTL = 24 * time.Hour

const table = "sessions"

var ErrLoginFailed = errors.New("login failed")

// LoginFunc performs a site login against the given client and returns any
// derived headers (auth tokens and the like) to attach to future requests.
type LoginFunc func(ctx context.Context, client *http.Client) (headers map[string]string, err error)

// Client is one authenticated site session.
type Client struct {
	HTTP    *http.Client
	Headers map[string]string
	Expiry  time.Time
}

// Fresh reports whether the session is still within its TTL.
func (c *Client) Fresh(now time.Time) bool {
	return c != nil && now.Before(c.Expiry)
}

type serializedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain"`
	Path    string    `json:"path"`
	Expires time.Time `json:"expires,omitempty"`
	Secure  bool      `json:"secure,omitempty"`
}

type record struct {
	Cookies []serializedCookie `json:"cookies"`
	Headers map[string]string  `json:"headers,omitempty"`
	Expiry  time.Time          `json:"expiry"`
}

// Service caches validated sessions in memory and persists them to the store.
type Service struct {
	db *store.DB

	mu     sync.Mutex
	cached map[string]*Client
}

func NewService(db *store.DB) *Service {
	return &Service{db: db, cached: make(map[string]*Client)}
}

// RetrieveAndValidate returns a usable session for the site, rebuilding via
// login when none exists or the stored one has expired.
func (s *Service) RetrieveAndValidate(ctx context.Context, site, baseURL string, login LoginFunc) (*Client, error) {
	now := time.Now()

	s.mu.Lock()
	if c, ok := s.cached[site]; ok && c.Fresh(now) {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	if c := s.loadPersisted(site, baseURL, now); c != nil {
		s.mu.Lock()
		s.cached[site] = c
		s.mu.Unlock()
		return c, nil
	}

	return s.CreateAndPersist(ctx, site, baseURL, login)
}

// CreateAndPersist performs a fresh login and atomically replaces any prior
// session, both in memory and in the store.
func (s *Service) CreateAndPersist(ctx context.Context, site, baseURL string, login LoginFunc) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	headers, err := login(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrLoginFailed, site, err)
	}

	c := &Client{
		HTTP:    client,
		Headers: headers,
		Expiry:  time.Now().Add(TTL),
	}

	s.persist(site, baseURL, c)

	s.mu.Lock()
	s.cached[site] = c
	s.mu.Unlock()

	log.Printf("[sessions] created session for %s (valid until %s)", site, c.Expiry.Format(time.RFC3339))
	return c, nil
}

// Invalidate drops the session for a site everywhere. The next call recreates
// it; callers do this at most once per outbound request.
func (s *Service) Invalidate(site string) {
	s.mu.Lock()
	delete(s.cached, site)
	s.mu.Unlock()
	if err := s.db.Delete(table, site); err != nil {
		log.Printf("[sessions] drop persisted session for %s: %v", site, err)
	}
}

func (s *Service) persist(site, baseURL string, c *Client) {
	u, err := url.Parse(baseURL)
	if err != nil {
		log.Printf("[sessions] bad base url for %s: %v", site, err)
		return
	}

	rec := record{Headers: c.Headers, Expiry: c.Expiry}
	if c.HTTP.Jar != nil {
		for _, ck := range c.HTTP.Jar.Cookies(u) {
			rec.Cookies = append(rec.Cookies, serializedCookie{
				Name: ck.Name, Value: ck.Value,
				Domain: u.Hostname(), Path: "/",
			})
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[sessions] marshal session for %s: %v", site, err)
		return
	}
	if err := s.db.Store(table, site, string(data)); err != nil {
		log.Printf("[sessions] persist session for %s: %v", site, err)
	}
}

func (s *Service) loadPersisted(site, baseURL string, now time.Time) *Client {
	raw, ok := s.db.Retrieve(table, site)
	if !ok {
		return nil
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.Printf("[sessions] corrupt session record for %s: %v", site, err)
		s.Invalidate(site)
		return nil
	}
	if !now.Before(rec.Expiry) {
		return nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil
	}
	cookies := make([]*http.Cookie, 0, len(rec.Cookies))
	for _, ck := range rec.Cookies {
		cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: ck.Path})
	}
	jar.SetCookies(u, cookies)

	return &Client{
		HTTP:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
		Headers: rec.Headers,
		Expiry:  rec.Expiry,
	}
}
