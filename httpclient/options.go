package httpclient

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/sentinel-requests/httpclient"

	// DefaultUserAgent is sent when neither the Config nor the request
	// sets a User-Agent.
	DefaultUserAgent = "sentinel-requests/1.0"
)

// =============================================================================
// Config - Transport and Request Defaults
// =============================================================================

// Config holds connection pool settings and the defaults every RequestBuilder
// starts from. Use DefaultConfig() or one of the presets, then change what
// you need.
//
// Every field can also be loaded from the environment with ConfigFromEnv.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.SocketTimeout = 5 * time.Second
//	cfg.MaxIdleConnsPerHost = 50
//
//	client := httpclient.New(
//	    httpclient.WithConfig(cfg),
//	    httpclient.WithServiceName("crawler"),
//	)
type Config struct {
	// =======================================================================
	// Request Defaults
	// =======================================================================

	// ConnectTimeout bounds TCP connection establishment, before any TLS
	// handshake. Zero means no limit.
	// Example:
	//   - Internal services: 2s
	//   - Public sites: 5s (default)
	// Default: 5s
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"`

	// SocketTimeout bounds every single read from the connection. A server
	// that keeps trickling bytes never trips it; a server that stalls for
	// longer than SocketTimeout does.
	// Zero means no limit.
	// Default: 15s
	SocketTimeout time.Duration `envconfig:"SOCKET_TIMEOUT"`

	// UserAgent is the User-Agent header value.
	// Default: DefaultUserAgent
	UserAgent string `envconfig:"USER_AGENT"`

	// Compress requests gzip/deflate encoded responses and decodes them.
	// Default: true
	Compress bool `envconfig:"COMPRESS"`

	// FollowRedirect follows 3xx responses up to MaxRedirects hops.
	// Default: true
	FollowRedirect bool `envconfig:"FOLLOW_REDIRECT"`

	// Verify enables TLS certificate verification.
	// Turning it off is only meant for test environments.
	// Default: true
	Verify bool `envconfig:"VERIFY"`

	// Pooled selects the PooledConnector. When false every exchange opens
	// and closes its own connection through a SingleConnector, and the
	// Client must not be shared between goroutines.
	// Default: true
	Pooled bool `envconfig:"POOLED"`

	// ProxyFromEnvironment uses HTTP_PROXY, HTTPS_PROXY and NO_PROXY for
	// requests without an explicit proxy.
	// Default: true
	ProxyFromEnvironment bool `envconfig:"PROXY_FROM_ENVIRONMENT"`

	// =======================================================================
	// Connection Pool Settings
	// =======================================================================

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	// Rule of thumb: 2-3x your peak concurrent requests.
	// Default: 100
	MaxIdleConns int `envconfig:"MAX_IDLE_CONNS"`

	// MaxIdleConnsPerHost caps idle connections per host. Raise it when most
	// traffic goes to a single site.
	// Default: 20
	MaxIdleConnsPerHost int `envconfig:"MAX_IDLE_CONNS_PER_HOST"`

	// MaxConnsPerHost caps idle plus active connections per host.
	// Zero means unlimited.
	// Default: 100
	MaxConnsPerHost int `envconfig:"MAX_CONNS_PER_HOST"`

	// IdleConnTimeout is how long an idle connection stays in the pool.
	// Keep it below the server side idle timeout to avoid resets.
	// Default: 90s
	IdleConnTimeout time.Duration `envconfig:"IDLE_CONN_TIMEOUT"`

	// TLSHandshakeTimeout bounds the TLS handshake.
	// Default: 10s
	TLSHandshakeTimeout time.Duration `envconfig:"TLS_HANDSHAKE_TIMEOUT"`

	// ExpectContinueTimeout is how long to wait for "100 Continue" after
	// sending "Expect: 100-continue".
	// Default: 1s
	ExpectContinueTimeout time.Duration `envconfig:"EXPECT_CONTINUE_TIMEOUT"`

	// ResponseHeaderTimeout bounds the wait for response headers after the
	// request is written. Zero leaves it to SocketTimeout.
	// Default: 0
	ResponseHeaderTimeout time.Duration `envconfig:"RESPONSE_HEADER_TIMEOUT"`

	// KeepAlive is the TCP keep-alive probe interval.
	// Default: 30s
	KeepAlive time.Duration `envconfig:"KEEP_ALIVE"`

	// FallbackDelay is the RFC 6555 "Happy Eyeballs" delay for dual-stack
	// hosts. Negative disables it.
	// Default: 300ms
	FallbackDelay time.Duration `envconfig:"FALLBACK_DELAY"`

	// WriteBufferSize is the per-connection write buffer.
	// Default: 64KB
	WriteBufferSize int `envconfig:"WRITE_BUFFER_SIZE"`

	// ReadBufferSize is the per-connection read buffer.
	// Default: 64KB
	ReadBufferSize int `envconfig:"READ_BUFFER_SIZE"`

	// MaxResponseHeaderBytes limits response header size.
	// Default: 0 (net/http default, about 1MB)
	MaxResponseHeaderBytes int64 `envconfig:"MAX_RESPONSE_HEADER_BYTES"`

	// DisableKeepAlives closes every connection after one exchange.
	// Default: false
	DisableKeepAlives bool `envconfig:"DISABLE_KEEP_ALIVES"`

	// ForceHTTP2 attempts HTTP/2 on custom dialers and TLS configs.
	// Default: false
	ForceHTTP2 bool `envconfig:"FORCE_HTTP2"`
}

// DefaultConfig returns balanced settings for general use.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.ConnectTimeout = 2 * time.Second
//	client := httpclient.New(httpclient.WithConfig(cfg))
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       5 * time.Second,
		SocketTimeout:        15 * time.Second,
		UserAgent:            DefaultUserAgent,
		Compress:             true,
		FollowRedirect:       true,
		Verify:               true,
		Pooled:               true,
		ProxyFromEnvironment: true,

		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		KeepAlive:             30 * time.Second,
		FallbackDelay:         300 * time.Millisecond,
		WriteBufferSize:       64 * 1024,
		ReadBufferSize:        64 * 1024,
	}
}

// HighThroughputConfig returns settings for many concurrent requests to a
// few hosts: larger pools, larger buffers and no per-host connection cap.
//
// Best for:
//   - Crawlers and scrapers
//   - Data pipelines
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.SocketTimeout = 30 * time.Second

	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second

	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig returns settings that fail fast.
//
// Best for:
//   - User-facing calls
//   - Health checks
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.SocketTimeout = 5 * time.Second

	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second

	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond

	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// ConservativeConfig returns resource-conscious settings for constrained
// environments or processes holding many clients.
//
// Best for:
//   - Serverless functions
//   - Sidecars with memory limits
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.SocketTimeout = 10 * time.Second

	cfg.MaxIdleConns = 20
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 20
	cfg.IdleConnTimeout = 30 * time.Second

	cfg.WriteBufferSize = 4 * 1024
	cfg.ReadBufferSize = 4 * 1024
	return cfg
}

// ConfigFromEnv returns DefaultConfig overridden by environment variables.
//
// Each field is read from PREFIX_<NAME> (for example
// CRAWLER_CONNECT_TIMEOUT=2s), falling back to the unprefixed <NAME>.
// Unset variables keep their default. Durations use time.ParseDuration.
//
// Example:
//
//	cfg, err := httpclient.ConfigFromEnv("CRAWLER")
//	if err != nil {
//	    return err
//	}
//	client := httpclient.New(httpclient.WithConfig(cfg))
func ConfigFromEnv(prefix string) (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("httpclient: load config from env: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds everything New needs to assemble a Client.
type internalConfig struct {
	httpConfig Config

	// === Requests ===

	BaseURL        string
	DefaultHeaders map[string]string
	Codec          Codec
	Proxy          *Proxy

	// Connector overrides the connector selected by Config.Pooled.
	Connector Connector

	// TLSConfig is the base TLS configuration of every transport.
	TLSConfig *tls.Config

	// === Logging ===

	Logger       *zerolog.Logger
	Debug        bool
	GenerateCurl bool

	// === OpenTelemetry ===

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics
	Propagators    propagation.TextMapPropagator

	// ServiceName is added as "http.client.name" to spans and metrics.
	ServiceName string

	// EnableNetworkTrace records DNS, connect, TLS and TTFB timings.
	EnableNetworkTrace bool

	// === Resilience (opt-in) ===

	BreakerConfig   *BreakerConfig
	RateLimitConfig *RateLimitConfig
	RetryConfig     *RetryConfig
	Interceptors    InterceptorChain

	// MockTransport replaces the connector for tests.
	MockTransport *MockTransport
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:     DefaultConfig(),
		Codec:          GoJSONCodec{},
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Propagators: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		EnableNetworkTrace: true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Instruments stay nil on failure and every record call is a no-op.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// logger returns the configured logger, or the default stderr logger at
// warn level (debug level with WithDebug).
func (cfg *internalConfig) logger() zerolog.Logger {
	if cfg.Logger != nil {
		return *cfg.Logger
	}

	level := zerolog.WarnLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("component", "httpclient").
		Logger()
}

// connector returns the configured connector, or the one selected by
// Config.Pooled.
func (cfg *internalConfig) connector() Connector {
	if cfg.Connector != nil {
		return cfg.Connector
	}
	if cfg.httpConfig.Pooled {
		return newPooledConnector(cfg.httpConfig, cfg.TLSConfig)
	}
	return newSingleConnector(cfg.httpConfig, cfg.TLSConfig)
}

// defaultSettings is used for requests that reach the transport chain
// without a RequestBuilder, e.g. through Client.HTTP().
func (cfg *internalConfig) defaultSettings() TransportSettings {
	return TransportSettings{
		ConnectTimeout: cfg.httpConfig.ConnectTimeout,
		SocketTimeout:  cfg.httpConfig.SocketTimeout,
		Verify:         cfg.httpConfig.Verify,
		Proxy:          cfg.Proxy,
	}
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options - Functional Options for Client Configuration
// =============================================================================

// Option configures the Client.
type Option func(*internalConfig)

// WithConfig sets pool settings and request defaults.
// Start from DefaultConfig(), a preset or ConfigFromEnv().
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	)
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithBaseURL sets the URL relative request targets are appended to.
//
// Example:
//
//	client := httpclient.New(httpclient.WithBaseURL("https://api.example.com/v1"))
//	resp, err := client.Request("ListUsers").Get(ctx, "/users")
func WithBaseURL(baseURL string) Option {
	return func(cfg *internalConfig) {
		cfg.BaseURL = baseURL
	}
}

// WithDefaultHeader adds a header sent with every request. A request header
// with the same name replaces it.
func WithDefaultHeader(key, value string) Option {
	return func(cfg *internalConfig) {
		if cfg.DefaultHeaders == nil {
			cfg.DefaultHeaders = make(map[string]string)
		}
		cfg.DefaultHeaders[key] = value
	}
}

// WithDefaultHeaders adds headers sent with every request.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(cfg *internalConfig) {
		if cfg.DefaultHeaders == nil {
			cfg.DefaultHeaders = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.DefaultHeaders[k] = v
		}
	}
}

// WithConnector replaces the connector. The Client takes ownership and
// closes it in Client.Close.
//
// Example - one connection per request:
//
//	client := httpclient.New(
//	    httpclient.WithConnector(httpclient.NewSingleConnector(httpclient.DefaultConfig())),
//	)
func WithConnector(c Connector) Option {
	return func(cfg *internalConfig) {
		cfg.Connector = c
	}
}

// WithJSONCodec sets the codec used by JSON bodies and RawResponse.JSON.
// The default is GoJSONCodec.
//
// Example:
//
//	client := httpclient.New(httpclient.WithJSONCodec(httpclient.NewSonicCodec()))
func WithJSONCodec(codec Codec) Option {
	return func(cfg *internalConfig) {
		if codec != nil {
			cfg.Codec = codec
		}
	}
}

// WithLogger sets the logger. The logger's own level decides what is
// written; WithDebug only enables exchange logging.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = &logger
	}
}

// WithDebug logs every exchange and redirect hop at debug level.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}

// WithGenerateCurl records an equivalent cURL command on every RawResponse.
//
// Example:
//
//	client := httpclient.New(httpclient.WithGenerateCurl(true))
//	resp, _ := client.Request("Debug").Get(ctx, "https://example.com")
//	fmt.Println(resp.CurlCommand())
func WithGenerateCurl(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.GenerateCurl = enabled
	}
}

// WithServiceName sets an identifier for this client in traces and metrics.
// It is added as the "http.client.name" attribute and names the circuit
// breaker.
//
// Example:
//
//	client := httpclient.New(httpclient.WithServiceName("price-crawler"))
//
//	// In your traces, you'll see:
//	//   Span: HTTP GET
//	//   └── http.client.name: price-crawler
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithPropagators replaces the W3C TraceContext + Baggage propagators.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithDisableNetworkTrace turns off DNS, connect, TLS and TTFB timing.
func WithDisableNetworkTrace() Option {
	return func(cfg *internalConfig) {
		cfg.EnableNetworkTrace = false
	}
}

// WithTLSConfig sets the base TLS configuration, e.g. for client
// certificates. InsecureSkipVerify and RootCAs are still decided per
// request.
//
// Example - Mutual TLS with client certificate:
//
//	cert, _ := tls.LoadX509KeyPair("client.crt", "client.key")
//	client := httpclient.New(
//	    httpclient.WithTLSConfig(&tls.Config{
//	        Certificates: []tls.Certificate{cert},
//	    }),
//	)
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxy sets the default proxy of every request. Requests may still
// set their own.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithProxy(httpclient.SOCKSProxy("127.0.0.1", 1080)),
//	)
func WithProxy(p *Proxy) Option {
	return func(cfg *internalConfig) {
		cfg.Proxy = p
	}
}

// WithCircuitBreaker wraps the transport in a circuit breaker.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("inventory"),
//	    httpclient.WithCircuitBreaker(httpclient.DefaultBreakerConfig()),
//	)
func WithCircuitBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithRateLimit limits the rate of exchanges, redirect hops included.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRateLimit(httpclient.RateLimitConfig{
//	        RequestsPerSecond: 5,
//	        Burst:             1,
//	        WaitOnLimit:       true,
//	    }),
//	)
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimitConfig = &rl
	}
}

// WithRetryConfig makes every RequestBuilder retry with cfg unless the
// builder sets its own policy.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	)
func WithRetryConfig(rc RetryConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RetryConfig = &rc
	}
}

// WithRequestInterceptor adds a hook that runs on every outgoing exchange
// after all headers are set.
func WithRequestInterceptor(i RequestInterceptor) Option {
	return func(cfg *internalConfig) {
		cfg.Interceptors.AddRequestInterceptor(i)
	}
}

// WithResponseInterceptor adds a hook that runs on every response before
// cookies are stored and redirects are followed.
func WithResponseInterceptor(i ResponseInterceptor) Option {
	return func(cfg *internalConfig) {
		cfg.Interceptors.AddResponseInterceptor(i)
	}
}
