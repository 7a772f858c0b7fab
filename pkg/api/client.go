package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/arise/pkg/slogx"
	"golang.org/x/time/rate"
)

// Client talks to the ARISE backend. It issues the unauthenticated token
// calls itself; authorized calls go through Authorized, which attaches a
// bearer token from a TokenSource.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is wrapped with
// request logging.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithTimeout sets the per-request timeout (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a backend client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = slogx.OrDefault(c.logger)

	// Copy so a caller-supplied client is not mutated
	hc := *c.HTTPClient
	if _, ok := hc.Transport.(*slogx.Transport); !ok {
		hc.Transport = slogx.NewTransport(hc.Transport, c.logger)
	}
	c.HTTPClient = &hc

	return c
}
