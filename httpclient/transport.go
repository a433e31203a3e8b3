package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ http.RoundTripper = (*otelTransport)(nil)

type operationContextKey struct{}

// withOperation tags ctx with the operation name of a Request.
func withOperation(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, operationContextKey{}, name)
}

func operationFromContext(ctx context.Context) string {
	name, _ := ctx.Value(operationContextKey{}).(string)
	return name
}

// otelTransport is the outermost round tripper of a Client. Each exchange,
// redirect hops included, gets its own client span. The span stays open
// until the response body is read to EOF or closed.
type otelTransport struct {
	base       http.RoundTripper
	cfg        *internalConfig
	propagator propagation.TextMapPropagator
}

func newOtelTransport(base http.RoundTripper, cfg *internalConfig) *otelTransport {
	propagator := cfg.Propagators
	if propagator == nil {
		propagator = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}
	return &otelTransport{
		base:       base,
		cfg:        cfg,
		propagator: propagator,
	}
}

// spanName returns "HTTP {method}", or "HTTP {method} {operation}" for a
// named request.
func spanName(method, operation string) string {
	if operation == "" {
		return "HTTP " + method
	}
	return "HTTP " + method + " " + operation
}

func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()
	operation := operationFromContext(ctx)

	ctx, span := t.cfg.Tracer.Start(ctx, spanName(req.Method, operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req, operation)...),
	)

	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	baseAttrs := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.Metrics.recordActiveRequestEnd(ctx, baseAttrs)

	if req.ContentLength > 0 {
		t.cfg.Metrics.recordRequestBodySize(ctx, req.ContentLength, baseAttrs)
	}

	var nt *networkTrace
	if t.cfg.EnableNetworkTrace {
		nt = &networkTrace{}
		ctx = httptrace.WithClientTrace(ctx, createClientTrace(nt))
	}

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	duration := time.Since(start)

	if nt != nil {
		nt.addTraceEvents(span)
		nt.recordTimingMetrics(ctx, t.cfg.Metrics, baseAttrs)
	}

	if err != nil {
		errorType := classifyError(err)
		setSpanError(span, err, errorType)
		span.End()
		t.cfg.Metrics.recordError(ctx, errorType, baseAttrs)
		t.cfg.Metrics.recordRequestDuration(ctx, duration,
			append(t.peerAttributes(req), attribute.String("error.type", errorType)))
		return nil, err
	}

	span.SetAttributes(t.responseAttributes(resp)...)
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
	}

	t.cfg.Metrics.recordRequestDuration(ctx, duration, t.metricsAttributes(req, resp))

	// The span context is detached from the request so recording after
	// cancellation still reaches the exporter.
	metricsCtx := context.WithoutCancel(ctx)
	resp.Body = newSpanBody(span, resp.Body, func(n int64, transfer time.Duration) {
		t.cfg.Metrics.recordResponseBodySize(metricsCtx, n, baseAttrs)
		t.cfg.Metrics.recordContentTransferDuration(metricsCtx, transfer, baseAttrs)
	})

	return resp, nil
}

// peerAttributes returns the base attributes plus method, server address
// and port.
func (t *otelTransport) peerAttributes(req *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))

	if req.URL == nil {
		return attrs
	}
	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}
	if port := serverPort(req); port > 0 {
		attrs = append(attrs, attribute.Int("server.port", port))
	}
	return attrs
}

// serverPort returns the explicit URL port or the scheme default.
func serverPort(req *http.Request) int {
	if port := req.URL.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return 0
		}
		return p
	}
	switch req.URL.Scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}

func (t *otelTransport) requestAttributes(req *http.Request, operation string) []attribute.KeyValue {
	attrs := t.peerAttributes(req)

	if operation != "" {
		attrs = append(attrs, attribute.String("http.client.operation", operation))
	}
	if req.URL != nil {
		attrs = append(attrs,
			attribute.String("url.full", redactedURL(req)),
			attribute.String("url.scheme", req.URL.Scheme),
		)
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	if ua := req.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	if s, ok := settingsFromContext(req.Context()); ok && s.Proxy != nil {
		attrs = append(attrs, attribute.String("http.client.proxy", s.Proxy.String()))
	}
	return attrs
}

// redactedURL drops userinfo from the URL.
func redactedURL(req *http.Request) string {
	if req.URL.User == nil {
		return req.URL.String()
	}
	u := *req.URL
	u.User = nil
	return u.String()
}

func (t *otelTransport) responseAttributes(resp *http.Response) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.response.body.size", resp.ContentLength))
	}
	if encoding := resp.Header.Get("Content-Encoding"); encoding != "" {
		attrs = append(attrs, attribute.String("http.response.content_encoding", encoding))
	}
	if resp.Proto != "" {
		// "HTTP/1.1" -> "1.1", "HTTP/2.0" -> "2"
		version := strings.TrimPrefix(resp.Proto, "HTTP/")
		if version == "2.0" {
			version = "2"
		}
		attrs = append(attrs, attribute.String("network.protocol.version", version))
	}
	return attrs
}

func (t *otelTransport) metricsAttributes(req *http.Request, resp *http.Response) []attribute.KeyValue {
	attrs := t.peerAttributes(req)
	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		attrs = append(attrs, attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
	}
	return attrs
}
