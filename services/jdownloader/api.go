// Package jdownloader drives a remote JDownloader instance over the
// My.JDownloader cloud API: encrypted transport, device discovery, the
// linkgrabber/downloader views, and the connection supervisor that keeps the
// device reachable.
package jdownloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	apiURL  = "https://api.jdownloader.org"
	appKey  = "quasarr"
	apiVer  = 1
	timeout = 30 * time.Second
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrDeviceNotFound = errors.New("device not found")
	ErrSessionExpired = errors.New("session expired")
)

// Device is one JDownloader instance registered to the account.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type apiError struct {
	Type string `json:"type"`
	Src  string `json:"src"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("remote api error: %s (%s)", e.Type, e.Src)
}

// client is the low-level transport. All methods are safe for concurrent use;
// the session mutex guards token rotation during reconnects.
type client struct {
	email    string
	password string
	httpc    *http.Client

	rid atomic.Int64

	mu            sync.Mutex
	sessionToken  string
	regainToken   string
	serverToken   []byte // signs session-scoped calls
	deviceToken   []byte // encrypts device-scoped calls
	loginSecret   []byte
	deviceSecret  []byte
}

func newClient(email, password string) *client {
	c := &client{
		email:        email,
		password:     password,
		httpc:        &http.Client{Timeout: timeout},
		loginSecret:  createSecret(email, password, "server"),
		deviceSecret: createSecret(email, password, "device"),
	}
	c.rid.Store(randomInt31())
	return c
}

func (c *client) nextRID() int64 {
	return c.rid.Add(1)
}

type connectResponse struct {
	SessionToken string `json:"sessiontoken"`
	RegainToken  string `json:"regaintoken"`
}

// connect performs the credential handshake and derives the session tokens.
func (c *client) connect(ctx context.Context) error {
	query := fmt.Sprintf("/my/connect?email=%s&appkey=%s&rid=%d",
		url.QueryEscape(strings.ToLower(c.email)), appKey, c.nextRID())

	var resp connectResponse
	if err := c.signedCall(ctx, query, c.loginSecret, &resp); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return c.adoptSession(resp)
}

// reconnect exchanges the regain token for a fresh session without resending
// credentials. Falls back to a full connect when no session exists yet.
func (c *client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	regain, session := c.regainToken, c.sessionToken
	serverToken := c.serverToken
	c.mu.Unlock()

	if regain == "" {
		return c.connect(ctx)
	}

	query := fmt.Sprintf("/my/reconnect?sessiontoken=%s&regaintoken=%s&rid=%d",
		url.QueryEscape(session), url.QueryEscape(regain), c.nextRID())

	var resp connectResponse
	if err := c.signedCall(ctx, query, serverToken, &resp); err != nil {
		return c.connect(ctx)
	}
	return c.adoptSession(resp)
}

func (c *client) adoptSession(resp connectResponse) error {
	serverToken, err := updateToken(c.loginSecret, resp.SessionToken)
	if err != nil {
		return err
	}
	deviceToken, err := updateToken(c.deviceSecret, resp.SessionToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionToken = resp.SessionToken
	c.regainToken = resp.RegainToken
	c.serverToken = serverToken
	c.deviceToken = deviceToken
	c.mu.Unlock()
	return nil
}

// signedCall GETs a session-scoped endpoint. The query string is HMAC-signed
// and the response body comes back AES-encrypted under the same key.
func (c *client) signedCall(ctx context.Context, query string, key []byte, out any) error {
	signed := query + "&signature=" + sign(key, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+signed, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return remoteError(body, resp.StatusCode)
	}

	plain, err := decrypt(key, string(body))
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, out)
}

type listDevicesResponse struct {
	List []Device `json:"list"`
}

func (c *client) listDevices(ctx context.Context) ([]Device, error) {
	c.mu.Lock()
	session, serverToken := c.sessionToken, c.serverToken
	c.mu.Unlock()
	if session == "" {
		return nil, ErrNotConnected
	}

	query := fmt.Sprintf("/my/listdevices?sessiontoken=%s&rid=%d",
		url.QueryEscape(session), c.nextRID())

	var resp listDevicesResponse
	if err := c.signedCall(ctx, query, serverToken, &resp); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return resp.List, nil
}

type deviceRequest struct {
	URL    string   `json:"url"`
	Params []string `json:"params,omitempty"`
	RID    int64    `json:"rid"`
	APIVer int      `json:"apiVer"`
}

type deviceResponse struct {
	RID  int64           `json:"rid"`
	Data json.RawMessage `json:"data"`
}

// callDevice invokes an action on a device. Params are marshalled
// individually, matching the remote's positional-JSON convention. A session
// failure surfaces as ErrSessionExpired so the manager can regain and retry.
func (c *client) callDevice(ctx context.Context, deviceID, action string, out any, params ...any) error {
	c.mu.Lock()
	session, deviceToken := c.sessionToken, c.deviceToken
	c.mu.Unlock()
	if session == "" {
		return ErrNotConnected
	}

	rid := c.nextRID()
	req := deviceRequest{URL: action, RID: rid, APIVer: apiVer}
	for _, p := range params {
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode param: %w", err)
		}
		req.Params = append(req.Params, string(encoded))
	}

	plain, err := json.Marshal(req)
	if err != nil {
		return err
	}
	sealed, err := encrypt(deviceToken, plain)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/t_%s_%s%s", apiURL,
		url.PathEscape(session), url.PathEscape(deviceID), action)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte(sealed)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/aesjson-jd; charset=utf-8")

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}
	if httpResp.StatusCode == http.StatusForbidden || httpResp.StatusCode == http.StatusUnauthorized {
		return ErrSessionExpired
	}
	if httpResp.StatusCode != http.StatusOK {
		return remoteError(body, httpResp.StatusCode)
	}

	plainResp, err := decrypt(deviceToken, string(body))
	if err != nil {
		return err
	}

	var envelope deviceResponse
	if err := json.Unmarshal(plainResp, &envelope); err != nil {
		return fmt.Errorf("decode device response: %w", err)
	}
	if envelope.RID != rid {
		return fmt.Errorf("response rid mismatch: sent %d, got %d", rid, envelope.RID)
	}
	if out != nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

// remoteError extracts the api error type from an error body; TOKEN_INVALID
// maps to ErrSessionExpired so callers regain the session.
func remoteError(body []byte, status int) error {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Type != "" {
		if strings.Contains(apiErr.Type, "TOKEN_INVALID") || strings.Contains(apiErr.Type, "SESSION") {
			return ErrSessionExpired
		}
		return &apiErr
	}
	return fmt.Errorf("remote api returned %d", status)
}
