package httpclient

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Histogram bucket boundaries.
var (
	latencyBuckets = []float64{
		0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
	}
	networkBuckets = []float64{
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
	}
	transferBuckets = []float64{
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
	}
	sizeBuckets = []float64{
		0, 100, 1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024,
	}
	retryBuckets = []float64{
		0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
	}
)

// metrics holds the metric instruments of a Client.
// A nil *metrics, or a nil instrument, records nothing.
type metrics struct {
	// === Exchange ===

	requestDuration  metric.Float64Histogram
	requestBodySize  metric.Int64Histogram
	responseBodySize metric.Int64Histogram
	activeRequests   metric.Int64UpDownCounter
	requestErrors    metric.Int64Counter

	// === Network timing ===

	connectionDuration      metric.Float64Histogram
	dnsDuration             metric.Float64Histogram
	tlsDuration             metric.Float64Histogram
	ttfb                    metric.Float64Histogram
	contentTransferDuration metric.Float64Histogram

	// === Redirects and cookies ===

	// redirects counts followed redirect hops by status code.
	redirects metric.Int64Counter

	// cookiesStored counts cookies parsed from Set-Cookie headers.
	cookiesStored metric.Int64Counter

	// === Resilience ===

	breakerRequests metric.Int64Counter
	breakerState    metric.Int64Gauge
	retryAttempts   metric.Int64Counter
	retryExhausted  metric.Int64Counter
	retryDuration   metric.Float64Histogram
}

// instrumentBuilder creates instruments and collects their errors.
type instrumentBuilder struct {
	meter metric.Meter
	errs  []error
}

func (b *instrumentBuilder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *instrumentBuilder) bytes(name, desc string) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *instrumentBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.errs = append(b.errs, err)
	return c
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	b := &instrumentBuilder{meter: meter}
	m := &metrics{
		requestDuration: b.seconds("http.client.request.duration",
			"Duration of HTTP client exchanges in seconds", latencyBuckets),
		requestBodySize: b.bytes("http.client.request.body.size",
			"Size of HTTP client request bodies in bytes"),
		responseBodySize: b.bytes("http.client.response.body.size",
			"Size of HTTP client response bodies in bytes"),
		requestErrors: b.counter("http.client.request.error",
			"Number of HTTP client request errors", "{error}"),

		connectionDuration: b.seconds("http.client.connection.duration",
			"Time to establish HTTP connection in seconds", networkBuckets),
		dnsDuration: b.seconds("http.client.dns.duration",
			"DNS lookup duration in seconds", networkBuckets),
		tlsDuration: b.seconds("http.client.tls.duration",
			"TLS handshake duration in seconds", networkBuckets),
		ttfb: b.seconds("http.client.ttfb",
			"Time to first response byte in seconds", latencyBuckets),
		contentTransferDuration: b.seconds("http.client.content_transfer.duration",
			"Response body download duration in seconds", transferBuckets),

		redirects: b.counter("http.client.redirects",
			"Number of followed HTTP redirects", "{redirect}"),
		cookiesStored: b.counter("http.client.cookies.received",
			"Number of cookies received in Set-Cookie headers", "{cookie}"),

		breakerRequests: b.counter("http.client.breaker.requests",
			"Number of requests seen by the circuit breaker by result", "{request}"),
		retryAttempts: b.counter("http.client.retry.attempts",
			"Number of HTTP client retry attempts", "{attempt}"),
		retryExhausted: b.counter("http.client.retry.exhausted",
			"Number of requests that exhausted all retries", "{request}"),
		retryDuration: b.seconds("http.client.retry.duration",
			"Total time spent in retry loop in seconds", retryBuckets),
	}

	var err error
	m.activeRequests, err = meter.Int64UpDownCounter("http.client.active_requests",
		metric.WithDescription("Number of active HTTP client requests"),
		metric.WithUnit("{request}"),
	)
	b.errs = append(b.errs, err)

	m.breakerState, err = meter.Int64Gauge("http.client.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
	)
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func withExtra(attrs []attribute.KeyValue, extra ...attribute.KeyValue) metric.MeasurementOption {
	all := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	all = append(all, attrs...)
	all = append(all, extra...)
	return metric.WithAttributes(all...)
}

func (m *metrics) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.requestBodySize == nil {
		return
	}
	m.requestBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.responseBodySize == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil || m.requestErrors == nil {
		return
	}
	m.requestErrors.Add(ctx, 1, withExtra(attrs, attribute.String("error.type", errorType)))
}

func (m *metrics) recordConnectionDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.connectionDuration == nil {
		return
	}
	m.connectionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordDNSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.dnsDuration == nil {
		return
	}
	m.dnsDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordTLSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.tlsDuration == nil {
		return
	}
	m.tlsDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordTTFB(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.ttfb == nil {
		return
	}
	m.ttfb.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordContentTransferDuration records the time from response headers to
// body close.
func (m *metrics) recordContentTransferDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.contentTransferDuration == nil {
		return
	}
	m.contentTransferDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordRedirect counts one followed redirect hop.
func (m *metrics) recordRedirect(ctx context.Context, status int, attrs []attribute.KeyValue) {
	if m == nil || m.redirects == nil {
		return
	}
	m.redirects.Add(ctx, 1, withExtra(attrs, attribute.Int("http.response.status_code", status)))
}

// recordCookiesStored counts cookies received in one exchange.
func (m *metrics) recordCookiesStored(ctx context.Context, n int, attrs []attribute.KeyValue) {
	if m == nil || m.cookiesStored == nil {
		return
	}
	m.cookiesStored.Add(ctx, int64(n), metric.WithAttributes(attrs...))
}

// recordBreakerRequest counts a breaker outcome: success, failure or rejected.
func (m *metrics) recordBreakerRequest(ctx context.Context, name, result string) {
	if m == nil || m.breakerRequests == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.String("breaker.result", result),
	))
}

// recordBreakerState records the breaker state after a transition.
func (m *metrics) recordBreakerState(ctx context.Context, name string, state int64) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker.name", name)))
}

func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, withExtra(attrs, attribute.Int("retry.attempt", attempt)))
}

func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.retryExhausted == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryDuration(ctx context.Context, attrs []attribute.KeyValue, d time.Duration) {
	if m == nil || m.retryDuration == nil {
		return
	}
	m.retryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
