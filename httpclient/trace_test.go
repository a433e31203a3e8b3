package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "given nil, then returns empty", err: nil, want: ""},
		{name: "given ErrRateLimited, then rate_limited", err: ErrRateLimited, want: ErrorTypeRateLimited},
		{name: "given open breaker, then circuit_open", err: gobreaker.ErrOpenState, want: ErrorTypeCircuitOpen},
		{name: "given busy half-open breaker, then circuit_open", err: gobreaker.ErrTooManyRequests, want: ErrorTypeCircuitOpen},
		{name: "given closed client, then client_closed", err: fmt.Errorf("acquire: %w", ErrClientClosed), want: ErrorTypeClientClosed},
		{name: "given invalid proxy, then proxy_error", err: ErrInvalidProxy, want: ErrorTypeProxy},
		{name: "given cancelled context, then cancelled", err: context.Canceled, want: ErrorTypeCancelled},
		{name: "given expired context, then timeout", err: context.DeadlineExceeded, want: ErrorTypeTimeout},
		{name: "given timeout net.Error, then timeout", err: &net.OpError{Op: "read", Err: &timeoutError{}}, want: ErrorTypeTimeout},
		{name: "given unknown host, then dns_error", err: &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, want: ErrorTypeDNSError},
		{name: "given a bad TLS record, then tls_error", err: &tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}, want: ErrorTypeTLSError},
		{
			name: "given an untrusted certificate, then tls_error",
			err:  &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}},
			want: ErrorTypeTLSError,
		},
		{name: "given ECONNREFUSED, then connection_refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, want: ErrorTypeConnectionRefused},
		{name: "given ECONNRESET, then connection_reset", err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, want: ErrorTypeConnectionReset},
		{name: "given EOF, then eof", err: fmt.Errorf("read body: %w", io.EOF), want: ErrorTypeEOF},
		{name: "given a timeout message, then timeout", err: errors.New("net/http: TLS handshake timeout"), want: ErrorTypeTimeout},
		{name: "given a SOCKS failure, then proxy_error", err: errors.New("socks connect tcp 127.0.0.1:1080: general failure"), want: ErrorTypeProxy},
		{name: "given a proxyconnect failure, then proxy_error", err: errors.New("proxyconnect tcp: unexpected status 407"), want: ErrorTypeProxy},
		{name: "given an x509 message, then tls_error", err: errors.New("x509: certificate has expired"), want: ErrorTypeTLSError},
		{name: "given anything else, then unknown", err: errors.New("something odd"), want: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestErrorTypeFromStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, ""},
		{http.StatusFound, ""},
		{http.StatusNotFound, "404"},
		{http.StatusServiceUnavailable, "503"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("given %d, then %q", tt.status, tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, errorTypeFromStatusCode(tt.status))
		})
	}
}

func TestSetSpanError(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	setSpanError(span, errors.New("boom"), ErrorTypeUnknown)
	span.End()

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, codes.Error, got[0].Status.Code)
	assert.Equal(t, "boom", got[0].Status.Description)
	assert.Contains(t, got[0].Attributes, errorTypeAttr(ErrorTypeUnknown))
	require.Len(t, got[0].Events, 1)
	assert.Equal(t, "exception", got[0].Events[0].Name)
}

func TestNetworkTrace_AddTraceEvents(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		nt         networkTrace
		wantEvents []string
	}{
		{
			name:       "given an empty trace, then adds nothing",
			wantEvents: nil,
		},
		{
			name: "given a fresh TLS connection, then adds every phase",
			nt: networkTrace{
				dnsStart:          now,
				dnsDone:           now.Add(time.Millisecond),
				connectStart:      now.Add(time.Millisecond),
				connectDone:       now.Add(2 * time.Millisecond),
				tlsStart:          now.Add(2 * time.Millisecond),
				tlsDone:           now.Add(5 * time.Millisecond),
				gotConnTime:       now.Add(5 * time.Millisecond),
				wroteRequestTime:  now.Add(6 * time.Millisecond),
				firstResponseTime: now.Add(9 * time.Millisecond),
			},
			wantEvents: []string{
				"dns.start", "dns.done",
				"connect.start", "connect.done",
				"tls.start", "tls.done",
				"got_conn", "wrote_request", "got_first_response_byte",
			},
		},
		{
			name: "given a reused connection, then adds only the exchange events",
			nt: networkTrace{
				gotConnTime:       now,
				connReused:        true,
				wroteRequestTime:  now.Add(time.Millisecond),
				firstResponseTime: now.Add(3 * time.Millisecond),
			},
			wantEvents: []string{"got_conn", "wrote_request", "got_first_response_byte"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := tracetest.NewInMemoryExporter()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
			t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

			_, span := tp.Tracer("test").Start(context.Background(), "op")
			tt.nt.addTraceEvents(span)
			span.End()

			var names []string
			for _, e := range spans.GetSpans()[0].Events {
				names = append(names, e.Name)
			}
			assert.Equal(t, tt.wantEvents, names)
		})
	}
}

func TestNetworkTrace_RecordTimingMetrics(t *testing.T) {
	now := time.Now()
	nt := &networkTrace{
		dnsStart:          now,
		dnsDone:           now.Add(time.Millisecond),
		connectStart:      now,
		connectDone:       now.Add(time.Millisecond),
		wroteRequestTime:  now,
		firstResponseTime: now.Add(time.Millisecond),
	}

	t.Run("given phases without TLS, then records their histograms only", func(t *testing.T) {
		m, reader := newTestMetrics(t)

		nt.recordTimingMetrics(context.Background(), m, nil)

		got := collect(t, reader)
		assert.Contains(t, got, "http.client.dns.duration")
		assert.Contains(t, got, "http.client.connection.duration")
		assert.Contains(t, got, "http.client.ttfb")
		assert.NotContains(t, got, "http.client.tls.duration")
	})

	t.Run("given nil metrics, then does nothing", func(t *testing.T) {
		assert.NotPanics(t, func() { nt.recordTimingMetrics(context.Background(), nil, nil) })
	})
}

func TestNetworkTrace_EndToEnd(t *testing.T) {
	srv := newServer(t, func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { writeText(w, http.StatusOK, "ok") })
	})

	tests := []struct {
		name       string
		opts       []Option
		wantEvents bool
	}{
		{name: "given network tracing, then the span carries connection events", wantEvents: true},
		{name: "given network tracing disabled, then the span has no events", opts: []Option{WithDisableNetworkTrace()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel := newTelemetry(t)
			client := newClient(t, srv, append(tel.options(), tt.opts...)...)

			resp, err := client.Request("Ping").Get(context.Background(), "/")
			require.NoError(t, err)
			require.NoError(t, resp.Close())

			spans := tel.spans.GetSpans()
			require.Len(t, spans, 1)
			names := map[string]bool{}
			for _, e := range spans[0].Events {
				names[e.Name] = true
			}
			assert.Equal(t, tt.wantEvents, names["got_conn"])
			assert.Equal(t, tt.wantEvents, names["connect.done"])
			assert.Equal(t, tt.wantEvents, names["got_first_response_byte"])
			assert.Equal(t, tt.wantEvents, tel.hasMetric(t, "http.client.ttfb"))
		})
	}
}
