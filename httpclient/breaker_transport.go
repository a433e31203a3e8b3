package httpclient

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const defaultBreakerName = "sentinel-requests"

// errClassifiedFailure marks a response the classifier counted as a
// failure. The response itself is still handed to the caller.
var errClassifiedFailure = errors.New("classified failure")

// circuitBreakerTransport runs each exchange inside a circuit breaker,
// either the client-wide one or the one of the request host.
type circuitBreakerTransport struct {
	next       http.RoundTripper
	classifier BreakerClassifier
	metrics    *metrics
	name       string
	perHost    bool

	newBreaker func(name string) CircuitBreaker

	mu       sync.Mutex
	breakers map[string]CircuitBreaker
}

func (t *circuitBreakerTransport) breakerFor(req *http.Request) (string, CircuitBreaker) {
	name := t.name
	if t.perHost {
		name += ":" + req.URL.Host
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cb, ok := t.breakers[name]
	if !ok {
		cb = t.newBreaker(name)
		t.breakers[name] = cb
	}
	return name, cb
}

func (t *circuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	name, cb := t.breakerFor(req)

	res, err := cb.Execute(func() (any, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose
		if t.classifier(resp, err) {
			if err != nil {
				return resp, err
			}
			return resp, errClassifiedFailure
		}
		return resp, err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		t.metrics.recordBreakerRequest(ctx, name, "rejected")
		return nil, err
	case errors.Is(err, errClassifiedFailure):
		t.metrics.recordBreakerRequest(ctx, name, "failure")
		if resp, ok := res.(*http.Response); ok && resp != nil {
			return resp, nil
		}
		return nil, err
	case err != nil:
		t.metrics.recordBreakerRequest(ctx, name, "failure")
		return nil, err
	}

	t.metrics.recordBreakerRequest(ctx, name, "success")
	if resp, ok := res.(*http.Response); ok && resp != nil {
		return resp, nil
	}
	return nil, errors.New("httpclient: circuit breaker returned no response")
}

// newCircuitBreakerTransport wraps next when cfg has a breaker configured.
func newCircuitBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	if cfg.BreakerConfig == nil {
		return next
	}
	bc := *cfg.BreakerConfig
	if bc.Classifier == nil {
		bc.Classifier = DefaultBreakerClassifier
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultBreakerName
	}

	logger := cfg.logger()
	return &circuitBreakerTransport{
		next:       next,
		classifier: bc.Classifier,
		metrics:    cfg.Metrics,
		name:       name,
		perHost:    bc.PerHost,
		breakers:   make(map[string]CircuitBreaker),
		newBreaker: func(name string) CircuitBreaker {
			return newGoBreaker(name, bc, cfg.Metrics, logger)
		},
	}
}

func newGoBreaker(name string, bc BreakerConfig, m *metrics, logger zerolog.Logger) CircuitBreaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: bc.readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.recordBreakerState(context.Background(), name, int64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	if bc.Store == nil {
		return gobreaker.NewCircuitBreaker[any](st)
	}

	dcb, err := gobreaker.NewDistributedCircuitBreaker[any](bc.Store, st)
	if err != nil {
		// A local breaker still protects this process.
		logger.Warn().Err(err).Str("breaker", name).Msg("distributed circuit breaker unavailable, using local state")
		return gobreaker.NewCircuitBreaker[any](st)
	}
	return dcb
}
