package httpclient

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig configures ExecuteWithRetry. Use DefaultRetryConfig() and
// adjust from there.
//
// Every attempt is a full Execute: redirects are followed again and a
// session sees the cookies of failed attempts. A request whose body comes
// from a reader is sent once, since the reader cannot be replayed.
//
//	cfg := httpclient.DefaultRetryConfig()
//	cfg.MaxRetries = 5
//	client := httpclient.New(httpclient.WithRetryConfig(cfg))
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	// Zero disables retries.
	MaxRetries uint

	// InitialInterval is the first backoff interval.
	InitialInterval time.Duration

	// MaxInterval caps each backoff interval.
	MaxInterval time.Duration

	// MaxElapsedTime bounds the whole retry loop. Zero means no bound.
	MaxElapsedTime time.Duration

	// Multiplier grows the interval after each attempt.
	Multiplier float64

	// JitterFactor randomizes each interval by ± that fraction.
	JitterFactor float64

	// Classifier decides which outcomes are retried.
	// Default: DefaultClassifier.
	Classifier RetryClassifier

	// BackOff replaces the exponential backoff built from the fields above.
	// It is Reset before every retry loop, so it must not be shared between
	// concurrent requests.
	BackOff backoff.BackOff

	// RespectRetryAfter waits for the Retry-After delay of a 429 or 503
	// response instead of the backoff interval.
	RespectRetryAfter bool
}

const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
)

// DefaultRetryConfig returns 3 retries starting at 500ms, doubling up to
// 30s, with ±50% jitter and a 2 minute budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialInterval:   DefaultInitialInterval,
		MaxInterval:       DefaultMaxInterval,
		MaxElapsedTime:    DefaultMaxElapsedTime,
		Multiplier:        DefaultMultiplier,
		JitterFactor:      DefaultJitterFactor,
		RespectRetryAfter: true,
	}
}

// PoliteRetryConfig suits crawling third-party sites: 2 retries, a slow
// constant pace and Retry-After honored.
func PoliteRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.MaxElapsedTime = time.Minute
	cfg.BackOff = &ConstantBackOffWithJitter{Interval: 5 * time.Second, JitterFactor: 0.3}
	return cfg
}

// NoRetryConfig disables retries.
func NoRetryConfig() RetryConfig {
	return RetryConfig{}
}

// IsEnabled reports whether cfg allows at least one retry.
func (cfg RetryConfig) IsEnabled() bool {
	return cfg.MaxRetries > 0
}

func (cfg RetryConfig) backOff() backoff.BackOff {
	if cfg.BackOff != nil {
		cfg.BackOff.Reset()
		return cfg.BackOff
	}
	return ExponentialBackOffFromConfig(cfg)
}

// retryableResponse carries a response the classifier wants retried. Its
// body is discarded only once the next attempt is certain.
type retryableResponse struct {
	resp       *RawResponse
	retryAfter error
}

func (e *retryableResponse) Error() string {
	return "httpclient: retryable status " + strconv.Itoa(e.resp.StatusCode())
}

// Unwrap exposes a *backoff.RetryAfterError when the server asked for a
// delay.
func (e *retryableResponse) Unwrap() error { return e.retryAfter }

// retryAfter parses a Retry-After header given in seconds. HTTP dates are
// ignored.
func retryAfter(resp *RawResponse) error {
	v := resp.Header("Retry-After")
	if v == "" {
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return nil
	}
	return backoff.RetryAfter(secs)
}

// ExecuteWithRetry runs Execute until the outcome is not retryable or cfg
// is exhausted. When retries run out on a retryable status, the last
// response is returned with its body unread, like Execute would.
//
// The caller must consume or Close the returned response.
func (c *Client) ExecuteWithRetry(ctx context.Context, req *Request, cfg RetryConfig) (*RawResponse, error) {
	if !cfg.IsEnabled() || !req.body.replayable() {
		return c.Execute(ctx, req)
	}

	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultClassifier
	}

	attrs := c.config.baseAttributes()
	if req.operationName != "" {
		attrs = append(attrs, attribute.String("http.client.operation", req.operationName))
	}
	span := trace.SpanFromContext(ctx)

	var (
		attempt int
		start   = time.Now()
	)

	opts := []backoff.RetryOption{
		backoff.WithBackOff(cfg.backOff()),
		backoff.WithMaxTries(cfg.MaxRetries + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			var rr *retryableResponse
			if errors.As(err, &rr) {
				c.discard(rr.resp)
			}
			c.logger.Debug().
				Err(err).
				Str("operation", req.operationName).
				Int("attempt", attempt).
				Dur("delay", next).
				Msg("retrying request")
			recordRetryEvent(span, attempt, err, next)
			c.config.Metrics.recordRetryAttempt(ctx, attrs, attempt)
		}),
	}
	if cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
	}

	resp, err := backoff.Retry(ctx, func() (*RawResponse, error) {
		resp, err := c.Execute(ctx, req)
		if !classifier(resp, err) {
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}
		if err != nil {
			return nil, err
		}

		rr := &retryableResponse{resp: resp}
		if cfg.RespectRetryAfter {
			rr.retryAfter = retryAfter(resp)
		}
		return nil, rr
	}, opts...)

	c.config.Metrics.recordRetryDuration(ctx, attrs, time.Since(start))
	if attempt > 0 {
		span.SetAttributes(
			attribute.Int("http.retry_count", attempt),
			attribute.Bool("http.retry_success", err == nil),
		)
	}

	var rr *retryableResponse
	if errors.As(err, &rr) {
		if attempt > 0 {
			c.config.Metrics.recordRetryExhausted(ctx, attrs)
		}
		return rr.resp, nil
	}
	if err != nil && attempt > 0 {
		c.config.Metrics.recordRetryExhausted(ctx, attrs)
	}
	return resp, err
}

// recordRetryEvent adds an http.retry event to the caller's span.
func recordRetryEvent(span trace.Span, attempt int, err error, next time.Duration) {
	if !span.IsRecording() {
		return
	}

	reason := "status"
	var te *TransportError
	switch {
	case errors.As(err, &te):
		reason = te.Type
	case errors.Is(err, ErrRateLimited):
		reason = ErrorTypeRateLimited
	}

	span.AddEvent("http.retry", trace.WithAttributes(
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.delay_ms", next.Milliseconds()),
		attribute.String("retry.reason", reason),
	))
}
