package client

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client. Useful for custom
// transports and test doubles.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRequestTimeout sets the per-request timeout. Ignored when
// WithHTTPClient is also given.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the logger used for stream lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}
