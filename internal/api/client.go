package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TokenSource supplies the bearer token for each request. An empty token
// sends no Authorization header.
type TokenSource interface {
	Token() (string, error)
}

// Client reads snapshots from the parking backend REST API. It is safe for
// concurrent use.
type Client struct {
	baseURL   string
	tokens    TokenSource
	userAgent string
	hc        *http.Client
	logger    *slog.Logger
	retry     retryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient returns a client rooted at baseURL, which carries the API prefix
// (http://localhost:8000/api/v1). tokens may be nil.
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		hc:      &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
		retry:   retryPolicy{retries: 3, base: time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithRetries sets how many times a failed read is retried and the first
// backoff, which doubles per retry.
func WithRetries(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) { c.retry = retryPolicy{retries: retries, base: backoff} }
}

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Apply it before
// WithTimeout, which mutates whichever client is installed.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}
