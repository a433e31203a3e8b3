package httpclient

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Client sends requests built with Request() through its Connector, follows
// redirects, keeps session cookies and records traces and metrics.
//
// A Client owns its connector: call Close when done with it. A Client using
// the default pooled connector is safe for concurrent use.
//
// Create a Client using New():
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://www.example.com"),
//	    httpclient.WithServiceName("crawler"),
//	)
//	defer client.Close()
//
//	resp, err := client.Request("Search").
//	    Query("wd", "golang").
//	    Get(ctx, "/s")
//	if err != nil {
//	    return err
//	}
//	text, err := resp.Text()
type Client struct {
	config *internalConfig

	// connector hands out transports per request settings.
	connector Connector

	// transport is the instrumented chain every exchange goes through.
	transport http.RoundTripper

	baseURL        string
	defaultHeaders []Param
	codec          Codec
	logger         zerolog.Logger

	// debug enables request/response logging.
	debug bool

	// generateCurl enables cURL command generation.
	generateCurl bool

	// limiter is set when WithRateLimit is used.
	limiter *rateLimitTransport

	unregisterPoolMetrics func() error

	closed atomic.Bool
}

// New creates a Client.
//
// The transport chain is, outermost first: tracing and metrics, circuit
// breaker (WithCircuitBreaker), rate limiter (WithRateLimit), then the
// connector, or the mock transport when WithMockTransport is set.
//
// Example - Basic usage:
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("my-service"),
//	)
//	defer client.Close()
//
//	resp, err := client.Request("Home").Get(ctx, "https://example.com/")
//
// Example - Tuned pool and debug logging:
//
//	client := httpclient.New(
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	    httpclient.WithDebug(true),
//	)
func New(opts ...Option) *Client {
	cfg := newConfig(opts...)
	connector := cfg.connector()

	var base http.RoundTripper = &dispatchTransport{
		connector: connector,
		defaults:  cfg.defaultSettings(),
	}
	if cfg.MockTransport != nil {
		base = cfg.MockTransport
	}

	limited := newRateLimitTransport(base, cfg.RateLimitConfig)
	withBreaker := newCircuitBreakerTransport(limited, cfg)
	instrumented := newOtelTransport(withBreaker, cfg)

	c := &Client{
		config:         cfg,
		connector:      connector,
		transport:      instrumented,
		baseURL:        cfg.BaseURL,
		defaultHeaders: params(cfg.DefaultHeaders),
		codec:          cfg.Codec,
		logger:         cfg.logger(),
		debug:          cfg.Debug,
		generateCurl:   cfg.GenerateCurl,
	}
	if rl, ok := limited.(*rateLimitTransport); ok {
		c.limiter = rl
	}

	unregister, err := registerPoolMetrics(cfg.Meter, connector, cfg.baseAttributes())
	if err != nil {
		c.logger.Warn().Err(err).Msg("register connector metrics")
		unregister = func() error { return nil }
	}
	c.unregisterPoolMetrics = unregister

	return c
}

// RateLimiterStats returns a snapshot of the client rate limiters, one per
// host with a per-host configuration. It is empty without WithRateLimit.
func (c *Client) RateLimiterStats() []RateLimiterStats {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.stats()
}

// Request creates a new RequestBuilder for the given operation name,
// initialized from the client Config.
//
// The operation name is used for:
//   - OpenTelemetry span naming (e.g., "HTTP GET Search")
//   - Debug logging identification
//
// Example:
//
//	resp, err := client.Request("CreateUser").
//	    Path("/users").
//	    BodyJSON(user).
//	    Post(ctx)
func (c *Client) Request(operationName string) *RequestBuilder {
	hc := c.config.httpConfig
	return &RequestBuilder{
		client:         c,
		operationName:  operationName,
		method:         MethodGet,
		defaults:       c.defaultHeaders,
		proxy:          c.config.Proxy,
		userAgent:      hc.UserAgent,
		retry:          c.config.RetryConfig,
		verify:         hc.Verify,
		followRedirect: hc.FollowRedirect,
		compress:       hc.Compress,
		connectTimeout: hc.ConnectTimeout,
		socketTimeout:  hc.SocketTimeout,
	}
}

// NewSession creates an empty Session for requests of this client.
func (c *Client) NewSession() *Session {
	return NewSession()
}

// Connector returns the connector owned by the client.
func (c *Client) Connector() Connector {
	return c.connector
}

// HTTP returns an *http.Client over the instrumented transport chain, for
// third-party libraries that expect one.
//
// Requests sent this way use the client's default timeouts, trust and proxy
// settings. Cookies, redirects and content decoding are left to the
// *http.Client and are not handled by this package.
func (c *Client) HTTP() *http.Client {
	return &http.Client{Transport: c.transport}
}

// Close releases the connector. Requests sent after Close fail with
// ErrClientClosed; responses already returned stay readable.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return errors.Join(c.unregisterPoolMetrics(), c.connector.Close())
}
