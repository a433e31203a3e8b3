package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// TransportSettings is the timeout, trust and proxy descriptor a Request
// hands to its Connector.
type TransportSettings struct {
	// ConnectTimeout bounds TCP connection establishment. Zero means no limit.
	ConnectTimeout time.Duration

	// SocketTimeout bounds each read from the connection. Zero means no limit.
	SocketTimeout time.Duration

	// Verify enables TLS certificate verification.
	Verify bool

	// RootCAs replaces the system trust anchors when set.
	RootCAs *x509.CertPool

	// Proxy routes the connection through a proxy when set.
	Proxy *Proxy
}

// settingsKey is the comparable identity of TransportSettings.
type settingsKey struct {
	connectTimeout time.Duration
	socketTimeout  time.Duration
	verify         bool
	rootCAs        *x509.CertPool
	proxy          string
}

func (s TransportSettings) key() settingsKey {
	return settingsKey{
		connectTimeout: s.ConnectTimeout,
		socketTimeout:  s.SocketTimeout,
		verify:         s.Verify,
		rootCAs:        s.RootCAs,
		proxy:          s.Proxy.key(),
	}
}

// Connector opens transports for requests.
//
// Acquire returns a round tripper configured for settings and a release
// function. The executor calls release exactly once, after the response
// body of the exchange is closed or after the round trip failed.
type Connector interface {
	Acquire(settings TransportSettings) (http.RoundTripper, func(), error)
	Close() error
}

// Compile-time interface checks.
var (
	_ Connector = (*PooledConnector)(nil)
	_ Connector = (*SingleConnector)(nil)
)

// =============================================================================
// PooledConnector
// =============================================================================

// PooledConnector keeps one keep-alive *http.Transport per distinct
// TransportSettings and reuses it across requests. It is safe for
// concurrent use. Close tears every pool down.
type PooledConnector struct {
	cfg       Config
	tlsConfig *tls.Config

	mu         sync.RWMutex
	transports map[settingsKey]*http.Transport
	closed     bool
}

// NewPooledConnector creates a PooledConnector sized by cfg.
func NewPooledConnector(cfg Config) *PooledConnector {
	return newPooledConnector(cfg, nil)
}

func newPooledConnector(cfg Config, tlsConfig *tls.Config) *PooledConnector {
	return &PooledConnector{
		cfg:        cfg,
		tlsConfig:  tlsConfig,
		transports: make(map[settingsKey]*http.Transport),
	}
}

// Acquire returns the pooled transport for settings, creating it on first
// use. Release is a no-op: closing the response body returns the
// connection to the pool.
func (c *PooledConnector) Acquire(settings TransportSettings) (http.RoundTripper, func(), error) {
	t, err := c.getOrCreate(settings)
	if err != nil {
		return nil, nil, err
	}
	return t, func() {}, nil
}

func (c *PooledConnector) getOrCreate(settings TransportSettings) (*http.Transport, error) {
	key := settings.key()

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClientClosed
	}
	if t, ok := c.transports[key]; ok {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.closed {
		return nil, ErrClientClosed
	}
	if t, ok := c.transports[key]; ok {
		return t, nil
	}

	t, err := buildTransport(c.cfg, c.tlsConfig, settings)
	if err != nil {
		return nil, err
	}
	c.transports[key] = t
	return t, nil
}

// Len returns the number of live pools.
func (c *PooledConnector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.transports)
}

// Close closes idle connections of every pool and rejects later Acquire
// calls with ErrClientClosed. In-flight responses stay readable.
func (c *PooledConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, t := range c.transports {
		t.CloseIdleConnections()
		delete(c.transports, key)
	}
	c.closed = true
	return nil
}

// =============================================================================
// SingleConnector
// =============================================================================

// SingleConnector opens a fresh connection for every exchange and closes it
// on release.
//
// SingleConnector is NOT safe for concurrent use: it tracks the transport of
// the exchange in flight, so a Client using it must send one request at a
// time.
type SingleConnector struct {
	cfg       Config
	tlsConfig *tls.Config

	current *http.Transport
	closed  bool
}

// NewSingleConnector creates a SingleConnector configured by cfg.
func NewSingleConnector(cfg Config) *SingleConnector {
	return newSingleConnector(cfg, nil)
}

func newSingleConnector(cfg Config, tlsConfig *tls.Config) *SingleConnector {
	cfg.DisableKeepAlives = true
	return &SingleConnector{cfg: cfg, tlsConfig: tlsConfig}
}

// Acquire builds a one-off transport. Release closes its connection.
func (c *SingleConnector) Acquire(settings TransportSettings) (http.RoundTripper, func(), error) {
	if c.closed {
		return nil, nil, ErrClientClosed
	}

	t, err := buildTransport(c.cfg, c.tlsConfig, settings)
	if err != nil {
		return nil, nil, err
	}
	c.current = t

	release := func() {
		t.CloseIdleConnections()
		if c.current == t {
			c.current = nil
		}
	}
	return t, release, nil
}

// Close closes the connection of the exchange in flight, if any.
func (c *SingleConnector) Close() error {
	if c.current != nil {
		c.current.CloseIdleConnections()
		c.current = nil
	}
	c.closed = true
	return nil
}

// =============================================================================
// Transport construction
// =============================================================================

// buildTransport creates an http.Transport for settings on top of the pool
// configuration in cfg.
func buildTransport(cfg Config, base *tls.Config, settings TransportSettings) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:       settings.ConnectTimeout,
		KeepAlive:     cfg.KeepAlive,
		FallbackDelay: cfg.FallbackDelay,
	}

	dial := dialer.DialContext
	var proxyFunc func(*http.Request) (*url.URL, error)

	if p := settings.Proxy; p != nil {
		switch p.Scheme {
		case ProxyHTTP:
			proxyFunc = http.ProxyURL(p.URL())
		case ProxySOCKS:
			socksDial, err := socksDialer(p, dialer)
			if err != nil {
				return nil, err
			}
			dial = socksDial
		default:
			return nil, fmt.Errorf("%w: scheme %q", ErrInvalidProxy, p.Scheme)
		}
	} else if cfg.ProxyFromEnvironment {
		proxyFunc = http.ProxyFromEnvironment
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if base != nil {
		tlsConfig = base.Clone()
	}
	//nolint:gosec // verification is a per-request caller decision
	tlsConfig.InsecureSkipVerify = !settings.Verify
	if settings.RootCAs != nil {
		tlsConfig.RootCAs = settings.RootCAs
	}

	return &http.Transport{
		Proxy:                  proxyFunc,
		DialContext:            withSocketTimeout(dial, settings.SocketTimeout),
		TLSClientConfig:        tlsConfig,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:        cfg.MaxConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		DisableKeepAlives:      cfg.DisableKeepAlives,
		DisableCompression:     true,
		WriteBufferSize:        cfg.WriteBufferSize,
		ReadBufferSize:         cfg.ReadBufferSize,
		MaxResponseHeaderBytes: cfg.MaxResponseHeaderBytes,
		ForceAttemptHTTP2:      cfg.ForceHTTP2,
	}, nil
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// socksDialer returns a dial function that tunnels through a SOCKS5 proxy.
func socksDialer(p *Proxy, forward *net.Dialer) (dialFunc, error) {
	var auth *proxy.Auth
	if p.User != "" {
		auth = &proxy.Auth{User: p.User, Password: p.Password}
	}

	d, err := proxy.SOCKS5("tcp", p.Addr, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}

	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}

// withSocketTimeout wraps every dialed connection in a deadlineConn.
func withSocketTimeout(dial dialFunc, timeout time.Duration) dialFunc {
	if timeout <= 0 {
		return dial
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: conn, timeout: timeout}, nil
	}
}

// deadlineConn arms a read deadline before every Read, so a peer that stops
// sending for longer than timeout fails the read with a timeout error.
// Idle pooled connections are dropped once the timeout elapses.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// =============================================================================
// Dispatch
// =============================================================================

type settingsContextKey struct{}

func withSettings(ctx context.Context, s TransportSettings) context.Context {
	return context.WithValue(ctx, settingsContextKey{}, s)
}

func settingsFromContext(ctx context.Context) (TransportSettings, bool) {
	s, ok := ctx.Value(settingsContextKey{}).(TransportSettings)
	return s, ok
}

// dispatchTransport is the innermost round tripper of a Client. It checks
// out a transport from the connector for the settings carried by the
// request context and ties the connector release to the response body.
type dispatchTransport struct {
	connector Connector
	defaults  TransportSettings
}

func (d *dispatchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	settings, ok := settingsFromContext(req.Context())
	if !ok {
		settings = d.defaults
	}

	rt, release, err := d.connector.Acquire(settings)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		release()
		return nil, err
	}

	resp.Body = &releaseBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// releaseBody runs the connector release once, after the body is closed.
type releaseBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
