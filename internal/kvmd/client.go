// Package kvmd implements the HTTP transport for kvmd-style device
// management APIs: header and session-token authentication, auth
// failure classification, and typed wrappers for the device endpoints.
package kvmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hfi/kvmd-client/internal/metrics"
	"github.com/hfi/kvmd-client/internal/totp"
)

const (
	headerUser    = "X-KVMD-User"
	headerPasswd  = "X-KVMD-Passwd"
	sessionCookie = "auth_token"

	defaultTimeout = 30 * time.Second
)

// Options configures a device client
type Options struct {
	Hostname  string
	Username  string
	Password  string
	Secret    string // base32 TOTP secret, empty when no second factor
	Scheme    string // "https" (default) or "http"
	VerifyTLS bool
	Timeout   time.Duration

	// Codes supplies one-time codes when Secret is set. Leaving it nil
	// with a Secret configured fails client construction.
	Codes *totp.Cache

	Logger zerolog.Logger
}

// Client is an authenticated handle to one kvmd device.
//
// A Client is not safe for concurrent use. The connection registry
// hands each pooled handle to one in-flight operation at a time;
// callers wanting parallel operations against one device must
// serialize access themselves.
type Client struct {
	id       string
	hostname string
	username string
	password string
	secret   string
	scheme   string

	baseURL string
	http    *http.Client
	codes   *totp.Cache
	log     zerolog.Logger

	authToken  string
	headerPass string
}

// New creates a device client and computes its header credentials.
// It performs no network I/O; a configured secret without a working
// code engine is the only construction failure.
func New(opts Options) (*Client, error) {
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !opts.VerifyTLS, //#nosec G402 -- devices commonly run self-signed certs; verification is operator-controlled
		},
	}

	c := &Client{
		id:       uuid.NewString(),
		hostname: opts.Hostname,
		username: opts.Username,
		password: opts.Password,
		secret:   opts.Secret,
		scheme:   scheme,
		baseURL:  scheme + "://" + opts.Hostname,
		codes:    opts.Codes,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
	c.log = opts.Logger.With().
		Str("host", c.hostname).
		Str("user", c.username).
		Str("connection_id", c.id).
		Logger()

	if err := c.refreshAuth(false); err != nil {
		return nil, err
	}

	return c, nil
}

// ID returns the client's correlation ID
func (c *Client) ID() string { return c.id }

// Hostname returns the device hostname
func (c *Client) Hostname() string { return c.hostname }

// Username returns the authenticating user
func (c *Client) Username() string { return c.username }

// Scheme returns the transport scheme
func (c *Client) Scheme() string { return c.scheme }

// HasSecondFactor reports whether a TOTP secret is configured
func (c *Client) HasSecondFactor() bool { return c.secret != "" }

// HasSession reports whether a session token is currently held
func (c *Client) HasSession() bool { return c.authToken != "" }

// refreshAuth recomputes the header credential, appending a one-time
// code to the password when a secret is configured
func (c *Client) refreshAuth(refresh bool) error {
	passwd := c.password

	if c.secret != "" {
		if c.codes == nil {
			return totp.ErrUnavailable
		}
		code, err := c.codes.Code(c.secret, refresh)
		if err != nil {
			return err
		}
		passwd += code
	}

	c.headerPass = passwd
	return nil
}

// RefreshAuth recomputes the header credentials with a forced fresh
// one-time code. The retry helper calls this after a code-window
// expiry rejection.
func (c *Client) RefreshAuth() error {
	return c.refreshAuth(true)
}

// buildURL joins the base URL with an endpoint path
func (c *Client) buildURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// do issues one request, preferring the session token over header
// credentials when a token is held
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.buildURL(path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.authToken != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.authToken})
	} else {
		req.Header.Set(headerUser, c.username)
		req.Header.Set(headerPasswd, c.headerPass)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RecordRequestDuration(method, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", u, err)
	}

	return resp, nil
}

// classifyAuthFailure maps auth-related status codes to the error taxonomy
func (c *Client) classifyAuthFailure(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrAuthRequired
	case http.StatusForbidden:
		if c.secret != "" {
			return &SecondFactorExpiredError{Host: c.hostname}
		}
		return ErrAuthRejected
	}
	return nil
}

// apiEnvelope is the common kvmd response shape
type apiEnvelope struct {
	Ok     *bool           `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// handleResponse classifies failures and decodes the payload into out
func (c *Client) handleResponse(resp *http.Response, out any, expected int) error {
	defer resp.Body.Close()

	if err := c.classifyAuthFailure(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expected {
		msg := ""
		var envelope apiEnvelope
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
			msg = envelope.Error
		} else if len(body) > 0 {
			msg = strings.TrimSpace(string(body))
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if len(body) == 0 {
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		if out == nil {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// API-level errors ride in a 200 with ok=false
	if envelope.Ok != nil && !*envelope.Ok {
		msg := envelope.Error
		if msg == "" {
			msg = "unknown API error"
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}

	payload := body
	if len(envelope.Result) > 0 {
		payload = envelope.Result
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// Get performs an authenticated GET and decodes the result into out
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, params, nil, "")
	if err != nil {
		return err
	}
	return c.handleResponse(resp, out, http.StatusOK)
}

// Post performs an authenticated POST and decodes the result into out
func (c *Client) Post(ctx context.Context, path string, params url.Values, body io.Reader, contentType string, out any) error {
	resp, err := c.do(ctx, http.MethodPost, path, params, body, contentType)
	if err != nil {
		return err
	}
	return c.handleResponse(resp, out, http.StatusOK)
}

// getRaw performs an authenticated GET for endpoints that return
// non-JSON payloads (logs, metrics, snapshots)
func (c *Client) getRaw(ctx context.Context, path string, params url.Values) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, params, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if err := c.classifyAuthFailure(resp.StatusCode); err != nil {
			return nil, err
		}
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return io.ReadAll(resp.Body)
}

// Login authenticates against the device and captures the session
// token on success. A refused login is a state, not an error: the
// boolean is false and err is nil. err is reserved for transport
// failures and an unavailable second factor.
func (c *Client) Login(ctx context.Context) (bool, error) {
	passwd := c.password
	if c.secret != "" {
		if c.codes == nil {
			return false, totp.ErrUnavailable
		}
		code, err := c.codes.Code(c.secret, false)
		if err != nil {
			return false, err
		}
		passwd += code
	}

	form := url.Values{
		"user":   {c.username},
		"passwd": {passwd},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("/api/auth/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RecordRequestDuration(http.MethodPost, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordLogin(false)
		c.log.Debug().Int("status", resp.StatusCode).Msg("login refused")
		return false, nil
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			c.authToken = ck.Value
		}
	}
	metrics.RecordLogin(true)
	c.log.Debug().Msg("login succeeded")

	return true, nil
}

// CheckAuth probes /api/auth/check. It tries the held session token
// first and falls back to header credentials, dropping a token the
// device no longer accepts.
func (c *Client) CheckAuth(ctx context.Context) bool {
	if c.authToken != "" {
		resp, err := c.do(ctx, http.MethodGet, "/api/auth/check", nil, nil, "")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		// Token stale, retry with fresh header credentials
		c.authToken = ""
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/auth/check", nil, nil, "")
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Logout invalidates the session token server-side. Calling it with
// no token held is a successful no-op.
func (c *Client) Logout(ctx context.Context) error {
	if c.authToken == "" {
		return nil
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: "logout rejected"}
	}

	c.authToken = ""
	return nil
}
