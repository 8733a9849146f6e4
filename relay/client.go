// Package relay implements the HTTP client side of the relay connect
// protocol: PKCE session creation, long-polled credential retrieval, and
// best-effort server-side cleanup.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultWait is the long-poll duration per retrieval call
	DefaultWait = 30 * time.Second

	// pingTimeout bounds the health probe; the relay answering slowly
	// is as useless as the relay not answering
	pingTimeout = 5 * time.Second
)

/* Terminal retrieval errors: the poll loop must stop on these
 * Every other retrieval error is transient and polling continues
 */
var (
	// ErrPending means no credential has been stored yet; keep polling
	ErrPending = errors.New("credentials not yet available")

	// ErrExpired means the relay session has expired
	ErrExpired = errors.New("relay session expired")

	// ErrInvalidVerifier means the relay rejected the code verifier
	ErrInvalidVerifier = errors.New("invalid code verifier")

	// ErrTooManyAttempts means the relay's retrieval attempt cap was hit
	ErrTooManyAttempts = errors.New("maximum retrieval attempts exceeded")
)

// IsTerminal reports whether a retrieval error must not be retried
func IsTerminal(err error) bool {
	return errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidVerifier) ||
		errors.Is(err, ErrTooManyAttempts)
}

// Session is the relay's answer to session creation
type Session struct {
	SessionID string `json:"session_id"`
	ExpiresIn int    `json:"expires_in"`
}

// Credentials is the payload released once the verifier matches
type Credentials struct {
	PublicToken string         `json:"public_token"`
	AccessToken string         `json:"access_token"`
	Provider    string         `json:"provider"`
	Metadata    map[string]any `json:"metadata"`
}

// errorBody is the relay's error envelope
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to one relay service
type Client struct {
	baseURL    string
	webhookID  string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a relay client. The webhook ID and API key
// authenticate this gateway against the relay.
func NewClient(baseURL, webhookID, apiKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		webhookID: webhookID,
		apiKey:    apiKey,
		// No global timeout: retrieval long-polls well past any sane
		// default, so every call carries its own context deadline
		httpClient: &http.Client{},
	}
}

// Ping probes the relay's health endpoint within a bounded timeout
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinging relay: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay health returned %d", resp.StatusCode)
	}
	return nil
}

// CreateSession registers a PKCE session on the relay.
// Only the challenge crosses the wire; the verifier stays local.
func (c *Client) CreateSession(ctx context.Context, challenge, method string) (Session, error) {
	body, err := json.Marshal(map[string]string{
		"code_challenge":        challenge,
		"code_challenge_method": method,
	})
	if err != nil {
		return Session{}, fmt.Errorf("marshaling session request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/connect/session", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("creating relay session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, c.decodeError(resp)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("decoding session response: %w", err)
	}
	if session.SessionID == "" {
		return Session{}, fmt.Errorf("relay returned empty session id")
	}
	return session, nil
}

// RetrieveCredentials long-polls the relay for the stored credential,
// presenting the code verifier. The relay re-derives the challenge and
// matches it before releasing anything.
func (c *Client) RetrieveCredentials(ctx context.Context, sessionID, verifier string, wait time.Duration) (Credentials, error) {
	if wait <= 0 {
		wait = DefaultWait
	}

	query := url.Values{
		"code_verifier": {verifier},
		"wait":          {"true"},
		"timeout":       {strconv.Itoa(int(wait.Seconds()))},
	}
	path := fmt.Sprintf("/api/connect/credentials/%s?%s", url.PathEscape(sessionID), query.Encode())

	// Give the HTTP round trip headroom beyond the server-side wait
	ctx, cancel := context.WithTimeout(ctx, wait+10*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Credentials{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("retrieving credentials: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var creds Credentials
		if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
			return Credentials{}, fmt.Errorf("decoding credentials: %w", err)
		}
		return creds, nil
	case http.StatusNoContent, http.StatusRequestTimeout:
		io.Copy(io.Discard, resp.Body)
		return Credentials{}, ErrPending
	default:
		return Credentials{}, c.decodeError(resp)
	}
}

// DeleteCredentials removes the server-side credential copy.
// Callers treat failure as non-fatal; the relay expires sessions anyway.
func (c *Client) DeleteCredentials(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	path := fmt.Sprintf("/api/connect/credentials/%s", url.PathEscape(sessionID))
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("relay delete returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building relay request: %w", err)
	}
	if c.webhookID != "" {
		req.Header.Set("X-Webhook-ID", c.webhookID)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// decodeError maps the relay's error envelope onto the sentinels the
// poll loop routes on
func (c *Client) decodeError(resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("relay returned %d", resp.StatusCode)
	}

	switch body.Error.Code {
	case "expired":
		return ErrExpired
	case "invalid_code_verifier":
		return ErrInvalidVerifier
	case "max_attempts_exceeded":
		return ErrTooManyAttempts
	case "pending":
		return ErrPending
	default:
		return fmt.Errorf("relay error %s: %s", body.Error.Code, body.Error.Message)
	}
}
