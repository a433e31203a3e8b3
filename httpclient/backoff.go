package httpclient

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	_ backoff.BackOff = (*DecorrelatedJitterBackOff)(nil)
	_ backoff.BackOff = (*ConstantBackOffWithJitter)(nil)
)

// DecorrelatedJitterBackOff draws each interval at random between Base and
// three times the previous interval, capped at Cap.
//
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type DecorrelatedJitterBackOff struct {
	Base time.Duration
	Cap  time.Duration

	sleep time.Duration
}

// NewDecorrelatedJitterBackOff returns Base 500ms and Cap 30s.
func NewDecorrelatedJitterBackOff() *DecorrelatedJitterBackOff {
	return &DecorrelatedJitterBackOff{
		Base: 500 * time.Millisecond,
		Cap:  30 * time.Second,
	}
}

func (b *DecorrelatedJitterBackOff) Reset() {
	b.sleep = b.Base
}

func (b *DecorrelatedJitterBackOff) NextBackOff() time.Duration {
	if b.sleep == 0 {
		b.sleep = b.Base
	}
	b.sleep = randomBetween(b.Base, min(b.Cap, b.sleep*3))
	return b.sleep
}

// ConstantBackOffWithJitter waits Interval ± Interval*JitterFactor.
// Polite crawlers use it to pace retries against one site.
type ConstantBackOffWithJitter struct {
	Interval     time.Duration
	JitterFactor float64
}

// NewConstantBackOffWithJitter returns 1s ± 50%.
func NewConstantBackOffWithJitter() *ConstantBackOffWithJitter {
	return &ConstantBackOffWithJitter{
		Interval:     time.Second,
		JitterFactor: 0.5,
	}
}

func (b *ConstantBackOffWithJitter) Reset() {}

func (b *ConstantBackOffWithJitter) NextBackOff() time.Duration {
	return applyJitter(b.Interval, b.JitterFactor)
}

// applyJitter returns a value in [interval*(1-f), interval*(1+f)], with f
// clamped to [0, 1].
//
//nolint:gosec // jitter does not need a cryptographic source
func applyJitter(interval time.Duration, f float64) time.Duration {
	if f <= 0 {
		return interval
	}
	f = min(f, 1)

	delta := float64(interval) * f
	lo := float64(interval) - delta
	return time.Duration(lo + rand.Float64()*2*delta)
}

//nolint:gosec // jitter does not need a cryptographic source
func randomBetween(lo, hi time.Duration) time.Duration {
	if lo >= hi {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}

// ExponentialBackOffFromConfig returns the backoff of cfg. Jitter is never
// turned off: a non-positive JitterFactor falls back to DefaultJitterFactor.
func ExponentialBackOffFromConfig(cfg RetryConfig) *backoff.ExponentialBackOff {
	jitter := cfg.JitterFactor
	if jitter <= 0 {
		jitter = DefaultJitterFactor
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.RandomizationFactor = jitter
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	return b
}
