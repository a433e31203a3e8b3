package httpclient

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to test for them; the concrete error
// returned is usually one of BuildError, TransportError or RedirectError.
var (
	// ErrInvalidURL is returned when the target URL cannot be parsed or is
	// not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")

	// ErrUnsupportedMethod is returned for methods outside GET, HEAD, POST,
	// PUT, DELETE, OPTIONS, PATCH and TRACE.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrUnsupportedCharset is returned when the caller names a charset that
	// cannot be resolved.
	ErrUnsupportedCharset = errors.New("unsupported charset")

	// ErrInvalidProxy is returned for proxy URLs whose scheme is neither http
	// nor socks.
	ErrInvalidProxy = errors.New("invalid proxy")

	// ErrMissingLocation is returned when a redirect response carries no
	// Location header.
	ErrMissingLocation = errors.New("redirect response without location header")

	// ErrTooManyRedirects is returned when a redirect chain exceeds
	// MaxRedirects hops.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrBodyConsumed is returned by a RawResponse decoder when the body was
	// already consumed by an earlier call.
	ErrBodyConsumed = errors.New("response body already consumed")

	// ErrClientClosed is returned when a request is sent through a closed
	// Client or Connector.
	ErrClientClosed = errors.New("client closed")
)

// BuildError reports a request that could not be constructed.
// It is returned by RequestBuilder.Build and never retried.
type BuildError struct {
	// Field names the builder input that was rejected, e.g. "url" or "body".
	Field string
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("httpclient: build request: %s: %v", e.Field, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// TransportError wraps every I/O failure of an exchange: dial errors, TLS
// failures, read timeouts, resets and context cancellation.
//
// Type carries the same classification used for the error.type span
// attribute (see the ErrorType constants).
type TransportError struct {
	Method string
	URL    string
	Type   string
	Err    error
}

func newTransportError(method, url string, err error) *TransportError {
	return &TransportError{
		Method: method,
		URL:    url,
		Type:   classifyError(err),
		Err:    err,
	}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("httpclient: %s %s: %s: %v", e.Method, e.URL, e.Type, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a connect, socket or context
// timeout.
func (e *TransportError) Timeout() bool {
	return e.Type == ErrorTypeTimeout
}

// RedirectError reports a redirect chain that violated protocol policy:
// either a redirect without Location or more than MaxRedirects hops.
type RedirectError struct {
	// URL is the URL whose response triggered the error.
	URL string

	// Hops is the number of redirects already followed.
	Hops int

	Err error
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("httpclient: redirect from %s after %d hops: %v", e.URL, e.Hops, e.Err)
}

func (e *RedirectError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is, or wraps, a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRedirectError reports whether err is, or wraps, a *RedirectError.
func IsRedirectError(err error) bool {
	var re *RedirectError
	return errors.As(err, &re)
}
