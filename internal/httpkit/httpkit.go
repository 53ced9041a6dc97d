// Package httpkit provides shared HTTP client construction for all
// outbound calls. It enforces consistent dial/TLS timeouts, connection
// pool limits, and a User-Agent header across provider adapters.
package httpkit

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// UserAgent identifies outbound requests from this runtime.
const UserAgent = "gyre/1.0"

// Default timeouts and connection pool limits for the shared transport.
const (
	// DefaultDialTimeout is the maximum time to establish a TCP connection.
	DefaultDialTimeout = 10 * time.Second

	// DefaultTLSHandshakeTimeout is the maximum time for the TLS handshake.
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultResponseHeader is the maximum time to wait for response
	// headers after a request is fully written. Provider adapters raise
	// this — models can think for a long time before the first byte.
	DefaultResponseHeader = 15 * time.Second

	// DefaultIdleConnTimeout is how long idle connections stay pooled.
	DefaultIdleConnTimeout = 90 * time.Second
)

// NewTransport creates an http.Transport with the shared defaults.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		ForceAttemptHTTP2:     true,
	}
}

// ClientOption configures a Client built by NewClient.
type ClientOption func(*http.Client)

// WithTimeout sets the overall request timeout. Zero disables it;
// callers then rely on ctx deadlines for cancellation.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *http.Client) { c.Timeout = d }
}

// WithTransport overrides the default transport. Use sparingly — the
// default transport handles connection pooling.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *http.Client) { c.Transport = &userAgentTransport{base: t} }
}

// NewClient builds an *http.Client with the shared transport and a
// 30 second default timeout.
func NewClient(opts ...ClientOption) *http.Client {
	c := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &userAgentTransport{base: NewTransport()},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// userAgentTransport injects the User-Agent header on every request
// unless one is already set.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		// Clone per the RoundTripper contract: never mutate the original.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", UserAgent)
	}
	return t.base.RoundTrip(req)
}

// ReadErrorBody reads up to limit bytes of an error response body for
// inclusion in error messages, collapsing whitespace.
func ReadErrorBody(r io.Reader, limit int64) string {
	b, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(string(b)), " ")
}
