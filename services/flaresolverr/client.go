// Package flaresolverr talks to an external FlareSolverr-shaped challenge
// solver. Adapters use it for sites behind anti-bot challenges; the startup
// checker stores the solver's browser identity into shared state so every
// outbound request carries a consistent user agent.
package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"quasarr/internal/state"
)

// Timeout applies to every solver round trip, per-call.
const Timeout = 15 * time.Second

var ErrNotConfigured = errors.New("flaresolverr not configured")

type Client struct {
	url   string
	httpc *http.Client
}

func NewClient(solverURL string) *Client {
	return &Client{
		url:   strings.TrimRight(strings.TrimSpace(solverURL), "/"),
		httpc: &http.Client{Timeout: Timeout},
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.url != ""
}

// Cookie is a solver-provided cookie to replay against the target site.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Solution is the solver's answer for one challenge-protected page.
type Solution struct {
	Status    int      `json:"status"`
	URL       string   `json:"url"`
	UserAgent string   `json:"userAgent"`
	Cookies   []Cookie `json:"cookies"`
	Response  string   `json:"response"`
}

type request struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	MaxTimeout int    `json:"maxTimeout,omitempty"`
}

type response struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Solution Solution `json:"solution"`
}

// Get fetches a page through the solver.
func (c *Client) Get(ctx context.Context, targetURL string) (*Solution, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(request{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: int(Timeout / time.Millisecond),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flaresolverr request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read solver response: %w", err)
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode solver response: %w", err)
	}
	if parsed.Status != "ok" {
		return nil, fmt.Errorf("flaresolverr: %s", parsed.Message)
	}
	return &parsed.Solution, nil
}

// Ping asks the solver for a throwaway page just to learn its user agent.
func (c *Client) Ping(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var ua string
	err := retry.Do(
		func() error {
			sol, err := c.Get(ctx, "https://www.google.com")
			if err != nil {
				return err
			}
			ua = sol.UserAgent
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
	return ua, err
}

// Check runs the one-shot startup probe: it records the solver URL and
// availability in shared state, and adopts the solver's user agent when the
// probe succeeds.
func Check(ctx context.Context, c *Client, registry *state.Registry) {
	if !c.Configured() {
		log.Printf("[flaresolverr] no solver configured, using fallback user agent")
		registry.SetFlaresolverr("", false)
		return
	}

	ua, err := c.Ping(ctx)
	if err != nil {
		log.Printf("[flaresolverr] solver unreachable: %v", err)
		registry.SetFlaresolverr(c.url, false)
		return
	}

	registry.SetFlaresolverr(c.url, true)
	registry.SetUserAgent(ua)
	log.Printf("[flaresolverr] solver available, user agent %q", ua)
}
