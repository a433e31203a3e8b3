package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http/httptrace"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Values of the error.type attribute for failures that carry no status code.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeProxy             = "proxy_error"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeCircuitOpen       = "circuit_open"
	ErrorTypeClientClosed      = "client_closed"
	ErrorTypeUnknown           = "unknown"
)

// networkTrace is filled by the httptrace hooks of a single exchange.
// A redirect hop is a new exchange and gets a fresh one.
type networkTrace struct {
	dnsStart, dnsDone         time.Time
	connectStart, connectDone time.Time
	tlsStart, tlsDone         time.Time

	gotConnTime       time.Time
	wroteRequestTime  time.Time
	firstResponseTime time.Time

	connReused bool
	connIdle   bool
	peer       string
	alpn       string
	resolved   []string
}

func createClientTrace(nt *networkTrace) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { nt.dnsStart = time.Now() },
		DNSDone: func(info httptrace.DNSDoneInfo) {
			nt.dnsDone = time.Now()
			for _, a := range info.Addrs {
				nt.resolved = append(nt.resolved, a.String())
			}
		},
		ConnectStart:      func(string, string) { nt.connectStart = time.Now() },
		ConnectDone:       func(string, string, error) { nt.connectDone = time.Now() },
		TLSHandshakeStart: func() { nt.tlsStart = time.Now() },
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			nt.tlsDone = time.Now()
			nt.alpn = state.NegotiatedProtocol
		},
		GotConn: func(info httptrace.GotConnInfo) {
			nt.gotConnTime = time.Now()
			nt.connReused = info.Reused
			nt.connIdle = info.WasIdle
			if info.Conn != nil && info.Conn.RemoteAddr() != nil {
				nt.peer = info.Conn.RemoteAddr().String()
			}
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { nt.wroteRequestTime = time.Now() },
		GotFirstResponseByte: func() { nt.firstResponseTime = time.Now() },
	}
}

// phase is a start/done pair of the connection setup. Phases a reused
// connection skipped have zero timestamps.
type phase struct {
	name        string
	start, done time.Time
	attrs       []attribute.KeyValue
}

func (p phase) complete() bool { return !p.start.IsZero() && !p.done.IsZero() }

func (p phase) took() time.Duration { return p.done.Sub(p.start) }

func millis(d time.Duration) float64 { return float64(d.Milliseconds()) }

func (nt *networkTrace) phases() []phase {
	return []phase{
		{name: "dns", start: nt.dnsStart, done: nt.dnsDone, attrs: []attribute.KeyValue{
			attribute.StringSlice("dns.addresses", nt.resolved),
		}},
		{name: "connect", start: nt.connectStart, done: nt.connectDone},
		{name: "tls", start: nt.tlsStart, done: nt.tlsDone, attrs: []attribute.KeyValue{
			attribute.String("tls.protocol", nt.alpn),
		}},
	}
}

func (nt *networkTrace) addTraceEvents(span trace.Span) {
	for _, p := range nt.phases() {
		if !p.complete() {
			continue
		}
		attrs := append([]attribute.KeyValue{attribute.Float64(p.name+".duration_ms", millis(p.took()))}, p.attrs...)
		span.AddEvent(p.name+".start", trace.WithTimestamp(p.start))
		span.AddEvent(p.name+".done", trace.WithTimestamp(p.done), trace.WithAttributes(attrs...))
	}

	if !nt.gotConnTime.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConnTime), trace.WithAttributes(
			attribute.Bool("connection.reused", nt.connReused),
			attribute.Bool("connection.was_idle", nt.connIdle),
			attribute.String("network.peer.address", nt.peer),
		))
	}
	if !nt.wroteRequestTime.IsZero() {
		span.AddEvent("wrote_request", trace.WithTimestamp(nt.wroteRequestTime))
	}
	if !nt.firstResponseTime.IsZero() {
		var ttfb time.Duration
		if !nt.wroteRequestTime.IsZero() {
			ttfb = nt.firstResponseTime.Sub(nt.wroteRequestTime)
		}
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.firstResponseTime),
			trace.WithAttributes(attribute.Float64("ttfb_ms", millis(ttfb))))
	}
}

func (nt *networkTrace) recordTimingMetrics(ctx context.Context, m *metrics, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}

	record := map[string]func(context.Context, time.Duration, []attribute.KeyValue){
		"dns":     m.recordDNSDuration,
		"connect": m.recordConnectionDuration,
		"tls":     m.recordTLSDuration,
	}
	for _, p := range nt.phases() {
		if p.complete() {
			record[p.name](ctx, p.took(), attrs)
		}
	}

	ttfb := phase{start: nt.wroteRequestTime, done: nt.firstResponseTime}
	if ttfb.complete() {
		m.recordTTFB(ctx, ttfb.took(), attrs)
	}
}

// Sentinels mapped to an error type before any unwrapping of net errors.
// Order matters: the first match wins.
var sentinelErrorTypes = []struct {
	err  error
	kind string
}{
	{ErrRateLimited, ErrorTypeRateLimited},
	{gobreaker.ErrOpenState, ErrorTypeCircuitOpen},
	{gobreaker.ErrTooManyRequests, ErrorTypeCircuitOpen},
	{ErrClientClosed, ErrorTypeClientClosed},
	{ErrInvalidProxy, ErrorTypeProxy},
	{context.Canceled, ErrorTypeCancelled},
	{context.DeadlineExceeded, ErrorTypeTimeout},
}

// Substrings of the lowercased message for errors that lost their type,
// as happens with proxy dialers and some TLS failures.
var messageErrorTypes = []struct {
	needles []string
	kind    string
}{
	{[]string{"timeout"}, ErrorTypeTimeout},
	{[]string{"connection refused"}, ErrorTypeConnectionRefused},
	{[]string{"connection reset"}, ErrorTypeConnectionReset},
	{[]string{"socks", "proxyconnect"}, ErrorTypeProxy},
	{[]string{"no such host", "dns"}, ErrorTypeDNSError},
	{[]string{"tls", "certificate", "x509"}, ErrorTypeTLSError},
	{[]string{"eof"}, ErrorTypeEOF},
}

// classifyError maps err to an error.type value. nil maps to "".
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	for _, s := range sentinelErrorTypes {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}

	var (
		netErr  net.Error
		dnsErr  *net.DNSError
		recErr  *tls.RecordHeaderError
		certErr *tls.CertificateVerificationError
	)
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTypeTimeout
	case errors.As(err, &dnsErr):
		return ErrorTypeDNSError
	case errors.As(err, &recErr), errors.As(err, &certErr):
		return ErrorTypeTLSError
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorTypeConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ErrorTypeConnectionReset
	case errors.Is(err, io.EOF):
		return ErrorTypeEOF
	}

	msg := strings.ToLower(err.Error())
	for _, m := range messageErrorTypes {
		for _, needle := range m.needles {
			if strings.Contains(msg, needle) {
				return m.kind
			}
		}
	}
	return ErrorTypeUnknown
}

// errorTypeFromStatusCode returns the status code as error.type for 4xx and 5xx.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode < 400 {
		return ""
	}
	return strconv.Itoa(statusCode)
}

func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}
