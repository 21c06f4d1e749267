// Package agentrun talks to the hosted conversational agent runtime: session
// management and the /run_sse endpoint.
package agentrun

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultSessionTimeout = 60 * time.Second
	defaultRunTimeout     = 300 * time.Second
	maxEventLine          = 4 << 20
	maxRunBody            = 32 << 20
	sseDataPrefix         = "data: "
)

// ErrSessionNotFound is returned by GetSession when the runtime has no such
// session for the user.
var ErrSessionNotFound = errors.New("agentrun: session not found")

// ErrResponseTooLarge is returned instead of a truncated body.
var ErrResponseTooLarge = errors.New("agentrun: response body too large")

// HTTPStatusError captures non-2xx runtime responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("agentrun: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// runRequest is the /run_sse payload.
type runRequest struct {
	AppName    string  `json:"app_name"`
	UserID     string  `json:"user_id"`
	SessionID  string  `json:"session_id"`
	NewMessage content `json:"new_message"`
	Streaming  bool    `json:"streaming"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type createSessionRequest struct {
	State map[string]any `json:"state"`
}

// Client is a focused client for one agent app on the runtime.
type Client struct {
	baseURL        string
	appName        string
	httpClient     *http.Client
	tokens         oauth2.TokenSource
	sessionTimeout time.Duration
	runTimeout     time.Duration
	runBodyLimit   int64
	logger         *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenSource authenticates every request with tokens from ts. Without
// it requests carry no Authorization header.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

func WithTimeouts(session, run time.Duration) Option {
	return func(c *Client) {
		if session > 0 {
			c.sessionTimeout = session
		}
		if run > 0 {
			c.runTimeout = run
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for appName hosted at baseURL.
func NewClient(baseURL, appName string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("agentrun: base url must not be empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("agentrun: invalid base url: %w", err)
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return nil, errors.New("agentrun: app name must not be empty")
	}
	c := &Client{
		baseURL:        baseURL,
		appName:        appName,
		httpClient:     &http.Client{},
		sessionTimeout: defaultSessionTimeout,
		runTimeout:     defaultRunTimeout,
		runBodyLimit:   maxRunBody,
		logger:         slog.Default().With("component", "agentrun"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) sessionURL(userID, sessionID string) string {
	return fmt.Sprintf("%s/apps/%s/users/%s/sessions/%s",
		c.baseURL, url.PathEscape(c.appName), url.PathEscape(userID), url.PathEscape(sessionID))
}

func (c *Client) runURL() string {
	return c.baseURL + "/run_sse"
}

// GetSession returns nil when sessionID exists for userID and
// ErrSessionNotFound when the runtime answers 404.
func (c *Client) GetSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.sessionTimeout)
	defer cancel()

	target := c.sessionURL(userID, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("agentrun: create get session request: %w", err)
	}
	_, err = c.do(req, target, 1<<20)
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("agentrun: get session: %w", err)
	}
	return nil
}

// CreateSession creates sessionID for userID with empty state.
func (c *Client) CreateSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.sessionTimeout)
	defer cancel()

	body, err := json.Marshal(createSessionRequest{State: map[string]any{}})
	if err != nil {
		return fmt.Errorf("agentrun: marshal create session request: %w", err)
	}
	target := c.sessionURL(userID, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agentrun: create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := c.do(req, target, 1<<20); err != nil {
		return fmt.Errorf("agentrun: create session: %w", err)
	}
	c.logger.InfoContext(ctx, "agent session created", "user_id", userID, "session_id", sessionID)
	return nil
}

// EnsureSession creates the session if the runtime does not know it yet.
func (c *Client) EnsureSession(ctx context.Context, userID, sessionID string) error {
	err := c.GetSession(ctx, userID, sessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return c.CreateSession(ctx, userID, sessionID)
}

// DeleteSession removes sessionID for userID.
func (c *Client) DeleteSession(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.sessionTimeout)
	defer cancel()

	target := c.sessionURL(userID, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("agentrun: create delete session request: %w", err)
	}
	if _, err := c.do(req, target, 1<<20); err != nil {
		return fmt.Errorf("agentrun: delete session: %w", err)
	}
	return nil
}

// Run sends message into an existing session and returns every event the
// runtime emitted, in order.
func (c *Client) Run(ctx context.Context, userID, sessionID, message string) ([]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	body, err := json.Marshal(runRequest{
		AppName:   c.appName,
		UserID:    userID,
		SessionID: sessionID,
		NewMessage: content{
			Role:  "user",
			Parts: []part{{Text: message}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("agentrun: marshal run request: %w", err)
	}
	target := c.runURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agentrun: create run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req, target, c.runBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("agentrun: run: %w", err)
	}
	events, err := c.parseEvents(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("agentrun: read events: %w", err)
	}
	return events, nil
}

// Send makes sure the session exists and then runs message in it.
func (c *Client) Send(ctx context.Context, userID, sessionID, message string) ([]json.RawMessage, error) {
	if err := c.EnsureSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return c.Run(ctx, userID, sessionID, message)
}

// parseEvents keeps the JSON payload of every "data: " line. Lines that are
// not valid JSON are logged and skipped.
func (c *Client) parseEvents(ctx context.Context, raw []byte) ([]json.RawMessage, error) {
	var events []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		payload := []byte(strings.TrimPrefix(line, sseDataPrefix))
		if !json.Valid(payload) {
			c.logger.WarnContext(ctx, "skipping undecodable agent event", "line", truncate(line, 200))
			continue
		}
		events = append(events, json.RawMessage(payload))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) do(req *http.Request, target string, limit int64) ([]byte, error) {
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("fetch auth token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        target,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(buf)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrResponseTooLarge, limit, target)
	}
	return buf, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
