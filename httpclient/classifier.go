package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/sony/gobreaker/v2"
)

// RetryClassifier decides whether an Execute outcome is worth another
// attempt. Exactly one of resp and err is non-nil.
//
// Example retrying every 5xx:
//
//	cfg := httpclient.DefaultRetryConfig()
//	cfg.Classifier = func(resp *httpclient.RawResponse, err error) bool {
//	    if resp != nil && resp.StatusCode() >= 500 {
//	        return true
//	    }
//	    return httpclient.DefaultClassifier(resp, err)
//	}
type RetryClassifier func(resp *RawResponse, err error) bool

// DefaultClassifier retries transient failures.
//
// Retries on:
//   - network errors: timeouts, refused and reset connections, EOF
//   - ErrRateLimited from a non-waiting limiter
//   - 429, 502, 503 and 504 responses
//
// Does not retry on:
//   - build errors and redirect errors
//   - cancellation or an expired context
//   - certificate errors and unknown hosts
//   - an open circuit breaker
//   - any other status code
func DefaultClassifier(resp *RawResponse, err error) bool {
	if err == nil {
		return resp != nil && isRetryableStatusCode(resp.StatusCode())
	}

	var (
		buildErr    *BuildError
		redirectErr *RedirectError
	)
	switch {
	case errors.As(err, &buildErr), errors.As(err, &redirectErr):
		return false
	case errors.Is(err, ErrClientClosed):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	case errors.Is(err, ErrRateLimited):
		return true
	case isPermanentError(err):
		return false
	}

	// Interceptor failures are not transport errors.
	if !IsTransportError(err) {
		return false
	}
	return true
}

func isRetryableStatusCode(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableNetworkError reports errors that usually go away on their own.
func isRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return containsAny(err, "connection refused", "connection reset", "i/o timeout",
		"temporary failure", "server closed", "broken pipe", "eof")
}

// isPermanentError reports errors a retry cannot fix.
func isPermanentError(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EHOSTDOWN) {
		return true
	}

	return containsAny(err, "x509:", "certificate", "tls:", "no route to host", "permission denied")
}

func containsAny(err error, patterns ...string) bool {
	s := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// NeverRetryClassifier disables retries while keeping the rest of a
// RetryConfig.
func NeverRetryClassifier() RetryClassifier {
	return func(*RawResponse, error) bool { return false }
}

// StatusCodeClassifier retries the given status codes and transient
// network errors.
//
//	classifier := httpclient.StatusCodeClassifier(500, 502, 503, 504)
func StatusCodeClassifier(codes ...int) RetryClassifier {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return func(resp *RawResponse, err error) bool {
		if err != nil {
			return IsTransportError(err) && !isPermanentError(err) && isRetryableNetworkError(err)
		}
		_, ok := set[resp.StatusCode()]
		return ok
	}
}
