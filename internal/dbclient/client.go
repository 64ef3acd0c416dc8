// Package dbclient is the client of the backend service: typed REST calls
// over the chat tables plus realtime change subscriptions over one shared
// websocket.
package dbclient

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
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingCredentials is returned by New when the URL or API key is empty.
	ErrMissingCredentials = errors.New("dbclient: database url and api key are required")
	// ErrUnauthorized is matched by API errors with status 401.
	ErrUnauthorized = errors.New("dbclient: unauthorized")
	// ErrNotFound is matched by API errors with status 404 and by lookups
	// that found no matching row.
	ErrNotFound = errors.New("dbclient: not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dbclient: client closed")
)

const (
	headerAPIKey       = "apikey"
	headerSessionToken = "X-Session-Token"

	defaultTimeout = 10 * time.Second
)

// APIError is a non-2xx response of the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dbclient: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("dbclient: %d: %s", e.Status, e.Message)
}

// Is maps status codes to the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithDispatchBuffer sets how many change events may wait for their
// handlers before new ones are dropped.
func WithDispatchBuffer(n int) Option {
	return func(c *Client) { c.dispatchBuffer = n }
}

// Client talks to one backend with one API key. It is safe for concurrent
// use.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	log     *zerolog.Logger

	dispatchBuffer int

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*Subscription
	pending map[string]chan error
	refSeq  uint64
	events  chan dispatch
	closed  bool
	quit    chan struct{}
	started bool
}

// New builds a client for the backend at rawURL. It fails with
// ErrMissingCredentials when either credential is empty.
func New(rawURL, apiKey string, opts ...Option) (*Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	apiKey = strings.TrimSpace(apiKey)
	if rawURL == "" || apiKey == "" {
		return nil, ErrMissingCredentials
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dbclient: parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("dbclient: url %q must be an absolute http(s) url", rawURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	nop := zerolog.Nop()
	c := &Client{
		baseURL:        u,
		apiKey:         apiKey,
		http:           &http.Client{Timeout: defaultTimeout},
		log:            &nop,
		dispatchBuffer: 64,
		subs:           make(map[string]*Subscription),
		pending:        make(map[string]chan error),
		quit:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan dispatch, c.dispatchBuffer)
	return c, nil
}

// URL returns the backend base URL.
func (c *Client) URL() string {
	return c.baseURL.String()
}

// Close drops every subscription and closes the realtime connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.quit)

	for ref, ch := range c.pending {
		ch <- ErrClosed
		delete(c.pending, ref)
	}
	c.subs = make(map[string]*Subscription)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, "client closed"); err != nil && websocket.CloseStatus(err) == -1 {
		return fmt.Errorf("dbclient: close realtime: %w", err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do performs one REST call. body and out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, sessionToken string) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/rest/v1" + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dbclient: encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("dbclient: build request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionToken != "" {
		req.Header.Set(headerSessionToken, sessionToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dbclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb errorBody
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb); err == nil {
			if eb.Error != "" {
				apiErr.Message = eb.Error
			}
			apiErr.Code = eb.Code
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dbclient: decode %s %s: %w", method, path, err)
	}
	return nil
}
