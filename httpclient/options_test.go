package httpclient

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestConfigPresets(t *testing.T) {
	tests := []struct {
		name              string
		cfg               Config
		wantSocketTimeout time.Duration
		wantMaxIdle       int
		wantMaxIdlePer    int
		wantMaxPerHost    int
		wantBuffer        int
	}{
		{
			name:              "given DefaultConfig, then returns balanced settings",
			cfg:               DefaultConfig(),
			wantSocketTimeout: 15 * time.Second,
			wantMaxIdle:       100,
			wantMaxIdlePer:    20,
			wantMaxPerHost:    100,
			wantBuffer:        64 * 1024,
		},
		{
			name:              "given HighThroughputConfig, then uncaps hosts with large pools",
			cfg:               HighThroughputConfig(),
			wantSocketTimeout: 30 * time.Second,
			wantMaxIdle:       500,
			wantMaxIdlePer:    100,
			wantMaxPerHost:    0,
			wantBuffer:        128 * 1024,
		},
		{
			name:              "given LowLatencyConfig, then fails fast",
			cfg:               LowLatencyConfig(),
			wantSocketTimeout: 5 * time.Second,
			wantMaxIdle:       50,
			wantMaxIdlePer:    25,
			wantMaxPerHost:    50,
			wantBuffer:        32 * 1024,
		},
		{
			name:              "given ConservativeConfig, then keeps pools small",
			cfg:               ConservativeConfig(),
			wantSocketTimeout: 10 * time.Second,
			wantMaxIdle:       20,
			wantMaxIdlePer:    5,
			wantMaxPerHost:    20,
			wantBuffer:        4 * 1024,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantSocketTimeout, tt.cfg.SocketTimeout)
			assert.Equal(t, tt.wantMaxIdle, tt.cfg.MaxIdleConns)
			assert.Equal(t, tt.wantMaxIdlePer, tt.cfg.MaxIdleConnsPerHost)
			assert.Equal(t, tt.wantMaxPerHost, tt.cfg.MaxConnsPerHost)
			assert.Equal(t, tt.wantBuffer, tt.cfg.ReadBufferSize)
			assert.Equal(t, tt.wantBuffer, tt.cfg.WriteBufferSize)

			// Request defaults are shared by every preset.
			assert.Equal(t, DefaultUserAgent, tt.cfg.UserAgent)
			assert.True(t, tt.cfg.Compress)
			assert.True(t, tt.cfg.FollowRedirect)
			assert.True(t, tt.cfg.Verify)
			assert.True(t, tt.cfg.Pooled)
			assert.True(t, tt.cfg.ProxyFromEnvironment)
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg Config)
		wantErr bool
	}{
		{
			name: "given no variables, then returns DefaultConfig",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "given prefixed variables, then overrides those fields",
			env: map[string]string{
				"CRAWLER_CONNECT_TIMEOUT":    "2s",
				"CRAWLER_SOCKET_TIMEOUT":     "1m",
				"CRAWLER_USER_AGENT":         "crawler/2.0",
				"CRAWLER_FOLLOW_REDIRECT":    "false",
				"CRAWLER_MAX_CONNS_PER_HOST": "8",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)
				assert.Equal(t, time.Minute, cfg.SocketTimeout)
				assert.Equal(t, "crawler/2.0", cfg.UserAgent)
				assert.False(t, cfg.FollowRedirect)
				assert.Equal(t, 8, cfg.MaxConnsPerHost)
				assert.True(t, cfg.Compress)
			},
		},
		{
			name: "given an unprefixed variable, then falls back to it",
			env:  map[string]string{"POOLED": "false"},
			check: func(t *testing.T, cfg Config) {
				assert.False(t, cfg.Pooled)
			},
		},
		{
			name: "given prefixed and unprefixed variables, then the prefixed one wins",
			env:  map[string]string{"VERIFY": "false", "CRAWLER_VERIFY": "true"},
			check: func(t *testing.T, cfg Config) {
				assert.True(t, cfg.Verify)
			},
		},
		{
			name:    "given an invalid duration, then fails",
			env:     map[string]string{"CRAWLER_SOCKET_TIMEOUT": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := ConfigFromEnv("CRAWLER")

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "httpclient: load config from env")
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestNewConfig(t *testing.T) {
	t.Run("given no options, then uses defaults", func(t *testing.T) {
		cfg := newConfig()

		assert.Equal(t, DefaultConfig(), cfg.httpConfig)
		assert.Equal(t, GoJSONCodec{}, cfg.Codec)
		assert.True(t, cfg.EnableNetworkTrace)
		assert.NotNil(t, cfg.Tracer)
		assert.NotNil(t, cfg.Meter)
		assert.NotNil(t, cfg.Metrics)
		assert.NotNil(t, cfg.Propagators)
		assert.Nil(t, cfg.BreakerConfig)
		assert.Nil(t, cfg.RateLimitConfig)
		assert.Nil(t, cfg.RetryConfig)
	})

	t.Run("given options, then applies them in order", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS13}

		cfg := newConfig(
			WithConfig(ConservativeConfig()),
			WithBaseURL("https://example.com/v1"),
			WithDefaultHeader("X-A", "1"),
			WithDefaultHeaders(map[string]string{"X-B": "2", "X-A": "3"}),
			WithJSONCodec(NewSonicCodec()),
			WithJSONCodec(nil),
			WithServiceName("crawler"),
			WithTracerProvider(tp),
			WithMeterProvider(noop.NewMeterProvider()),
			WithPropagators(propagation.TraceContext{}),
			WithDisableNetworkTrace(),
			WithTLSConfig(tlsCfg),
			WithProxy(HTTPProxy("proxy.local", 3128)),
			WithCircuitBreaker(DefaultBreakerConfig()),
			WithRateLimit(DefaultRateLimitConfig()),
			WithRetryConfig(DefaultRetryConfig()),
			WithDebug(true),
			WithGenerateCurl(true),
		)

		assert.Equal(t, ConservativeConfig(), cfg.httpConfig)
		assert.Equal(t, "https://example.com/v1", cfg.BaseURL)
		assert.Equal(t, map[string]string{"X-A": "3", "X-B": "2"}, cfg.DefaultHeaders)
		assert.IsType(t, SonicCodec{}, cfg.Codec)
		assert.Equal(t, "crawler", cfg.ServiceName)
		assert.Equal(t, propagation.TraceContext{}, cfg.Propagators)
		assert.False(t, cfg.EnableNetworkTrace)
		assert.Same(t, tlsCfg, cfg.TLSConfig)
		assert.Equal(t, "http://proxy.local:3128", cfg.Proxy.String())
		assert.NotNil(t, cfg.BreakerConfig)
		assert.NotNil(t, cfg.RateLimitConfig)
		require.NotNil(t, cfg.RetryConfig)
		assert.Equal(t, uint(DefaultMaxRetries), cfg.RetryConfig.MaxRetries)
		assert.True(t, cfg.Debug)
		assert.True(t, cfg.GenerateCurl)
	})
}

func TestInternalConfig_Logger(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		wantLevel zerolog.Level
	}{
		{name: "given no logger, then logs warnings", wantLevel: zerolog.WarnLevel},
		{name: "given debug, then logs debug", opts: []Option{WithDebug(true)}, wantLevel: zerolog.DebugLevel},
		{name: "given a logger, then keeps its level", opts: []Option{WithLogger(zerolog.Nop()), WithDebug(true)}, wantLevel: zerolog.Disabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := newConfig(tt.opts...).logger()
			assert.Equal(t, tt.wantLevel, logger.GetLevel())
		})
	}
}

func TestInternalConfig_Connector(t *testing.T) {
	pooled := newConfig().connector()
	single := newConfig(WithConfig(func() Config { c := DefaultConfig(); c.Pooled = false; return c }())).connector()
	custom := NewSingleConnector(DefaultConfig())

	assert.IsType(t, &PooledConnector{}, pooled)
	assert.IsType(t, &SingleConnector{}, single)
	assert.Same(t, custom, newConfig(WithConnector(custom)).connector())
}

func TestInternalConfig_DefaultSettings(t *testing.T) {
	cfg := newConfig(WithConfig(LowLatencyConfig()), WithProxy(SOCKSProxy("127.0.0.1", 1080)))

	s := cfg.defaultSettings()

	assert.Equal(t, 2*time.Second, s.ConnectTimeout)
	assert.Equal(t, 5*time.Second, s.SocketTimeout)
	assert.True(t, s.Verify)
	assert.Equal(t, "socks5://127.0.0.1:1080", s.Proxy.String())
}

func TestBaseAttributes(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want []attribute.KeyValue
	}{
		{name: "given no service name, then returns nothing", want: []attribute.KeyValue{}},
		{
			name: "given a service name, then adds http.client.name",
			opts: []Option{WithServiceName("crawler")},
			want: []attribute.KeyValue{attribute.String("http.client.name", "crawler")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newConfig(tt.opts...).baseAttributes())
		})
	}
}
