package httpclient

import (
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis, so that several
// processes share one breaker state per remote host.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	cfg := httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb))
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is the subset of gobreaker.CircuitBreaker the breaker
// transport uses.
type CircuitBreaker interface {
	Execute(req func() (any, error)) (any, error)
}

// RoundTripper is http.RoundTripper under a local name so mocks can be
// generated for the breaker transport tests.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// BreakerClassifier reports whether an exchange counts as a failure for the
// breaker. Redirect responses pass through it like any other response.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the circuit breaker of a Client.
//
// Closed lets requests through, Open rejects them with
// gobreaker.ErrOpenState, Half-Open lets MaxRequests probes through.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open.
	// Zero means 1.
	MaxRequests uint32

	// Interval is the period after which counts reset while closed.
	// Zero never resets.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests before the
	// failure ratio is considered.
	FailureThreshold uint32

	// FailureRatio trips the breaker when failures/requests reaches it.
	FailureRatio float64

	// ConsecutiveFailures trips the breaker after that many failures in a
	// row. Zero disables the rule.
	ConsecutiveFailures uint32

	// PerHost keeps one breaker per remote host instead of one per client.
	PerHost bool

	// Store shares breaker state across processes. Nil keeps it in memory.
	Store gobreaker.SharedDataStore

	// Classifier decides which exchanges are failures.
	// Default: DefaultBreakerClassifier.
	Classifier BreakerClassifier

	// OnStateChange is called after each state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns an in-memory breaker shared by all hosts:
//   - Interval: 10s
//   - Timeout: 10s
//   - FailureThreshold: 20 requests
//   - FailureRatio: 0.5
//   - ConsecutiveFailures: 5
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// PerHostBreakerConfig is DefaultBreakerConfig with one breaker per host.
func PerHostBreakerConfig() BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.PerHost = true
	return cfg
}

// DistributedBreakerConfig is PerHostBreakerConfig with its state kept in
// store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := PerHostBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts network errors and 5xx responses as
// failures. 429 is left to retries.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= 500
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// readyToTrip turns the thresholds of cfg into a gobreaker trip function.
func (cfg BreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if cfg.FailureThreshold > 0 && counts.Requests < cfg.FailureThreshold {
		return false
	}
	if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
		return true
	}
	if cfg.FailureRatio > 0 && counts.Requests > 0 {
		return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
	}
	return false
}
