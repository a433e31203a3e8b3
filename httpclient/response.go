package httpclient

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/sentinel-requests/cookie"
)

// RawResponse is the result of Client.Execute: status, headers, the cookies
// set by this exchange and an unread body.
//
// The body can be consumed exactly once, by one of Text, TextCharset, Bytes,
// JSON, JSONCharset, WriteToFile, WriteTo or Discard. Each of them releases
// the connection on every path; a second call returns ErrBodyConsumed.
// Close is an idempotent Discard for use with defer.
//
// Example:
//
//	resp, err := client.Request("GetUser").Get(ctx, "/users/1")
//	if err != nil {
//	    return err
//	}
//	defer resp.Close()
//
//	if !resp.IsSuccess() {
//	    return fmt.Errorf("unexpected status %d", resp.StatusCode())
//	}
//	var user User
//	if err := resp.JSON(&user); err != nil {
//	    return err
//	}
type RawResponse struct {
	statusCode int
	status     string
	method     Method
	url        *url.URL
	header     http.Header
	cookies    []cookie.Cookie

	body     io.ReadCloser
	consumed atomic.Bool

	codec  Codec
	logger zerolog.Logger
	curl   string
}

// StatusCode returns the HTTP status code.
func (r *RawResponse) StatusCode() int { return r.statusCode }

// Status returns the status line text, e.g. "200 OK".
func (r *RawResponse) Status() string { return r.status }

// Method returns the method of the exchange that produced the response.
func (r *RawResponse) Method() Method { return r.method }

// URL returns the URL that produced the response, after redirects.
func (r *RawResponse) URL() *url.URL {
	u := *r.url
	return &u
}

// Header returns the first value of the named response header.
func (r *RawResponse) Header(name string) string { return r.header.Get(name) }

// Headers returns a copy of all response headers, repeated keys included.
func (r *RawResponse) Headers() http.Header { return r.header.Clone() }

// Cookies returns the cookies set by this exchange. Cookies set by redirect
// responses before it are in the session, not here.
func (r *RawResponse) Cookies() []cookie.Cookie {
	return append([]cookie.Cookie(nil), r.cookies...)
}

// Cookie returns the cookie named name set by this exchange.
func (r *RawResponse) Cookie(name string) (cookie.Cookie, bool) {
	for _, c := range r.cookies {
		if c.Name == name {
			return c, true
		}
	}
	return cookie.Cookie{}, false
}

// IsSuccess returns true if status code is 2xx.
func (r *RawResponse) IsSuccess() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// IsError returns true if status code is 4xx or 5xx.
func (r *RawResponse) IsError() bool {
	return r.statusCode >= 400
}

// IsRedirect returns true for a followable 3xx status, i.e. when redirects
// were disabled for the request.
func (r *RawResponse) IsRedirect() bool {
	return isRedirect(r.statusCode)
}

// CurlCommand returns the cURL command of the final exchange.
// Only available when WithGenerateCurl(true) is set.
func (r *RawResponse) CurlCommand() string {
	return r.curl
}

// Text decodes the body with the Content-Type charset, or UTF-8.
func (r *RawResponse) Text() (string, error) {
	return r.TextCharset("")
}

// TextCharset decodes the body with the named charset. An empty name
// behaves like Text; an unknown name returns ErrUnsupportedCharset.
func (r *RawResponse) TextCharset(name string) (string, error) {
	data, err := r.decodedBytes(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Bytes returns the body as is.
func (r *RawResponse) Bytes() ([]byte, error) {
	body, err := r.take()
	if err != nil {
		return nil, err
	}
	defer r.release(body)

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, r.readError(err)
	}
	return data, nil
}

// JSON decodes the body into v with the client codec. The body is converted
// to UTF-8 first when the Content-Type names another charset.
func (r *RawResponse) JSON(v any) error {
	return r.JSONCharset("", v)
}

// JSONCharset is JSON with an explicit body charset.
func (r *RawResponse) JSONCharset(name string, v any) error {
	data, err := r.decodedBytes(name)
	if err != nil {
		return err
	}
	if err := r.codec.Unmarshal(data, v); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

// WriteToFile streams the body into a file at path, creating or truncating
// it.
func (r *RawResponse) WriteToFile(path string) error {
	body, err := r.take()
	if err != nil {
		return err
	}
	defer r.release(body)

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(f, body)
	closeErr := f.Close()
	if copyErr != nil {
		return r.readError(copyErr)
	}
	return closeErr
}

// WriteTo streams the body into w. It implements io.WriterTo.
func (r *RawResponse) WriteTo(w io.Writer) (int64, error) {
	body, err := r.take()
	if err != nil {
		return 0, err
	}
	defer r.release(body)

	n, err := io.Copy(w, body)
	if err != nil {
		return n, r.readError(err)
	}
	return n, nil
}

// Discard reads and drops the rest of the body so the connection can be
// reused.
func (r *RawResponse) Discard() error {
	body, err := r.take()
	if err != nil {
		return err
	}
	defer r.release(body)

	if _, err := io.Copy(io.Discard, body); err != nil {
		return r.readError(err)
	}
	return nil
}

// Close discards the body unless it was already consumed. It is safe to
// call more than once.
func (r *RawResponse) Close() error {
	if err := r.Discard(); err != nil && !errors.Is(err, ErrBodyConsumed) {
		return err
	}
	return nil
}

// take hands the body to exactly one consumer.
func (r *RawResponse) take() (io.ReadCloser, error) {
	if !r.consumed.CompareAndSwap(false, true) {
		return nil, ErrBodyConsumed
	}
	return r.body, nil
}

// release closes the body, which returns the connection to its connector.
func (r *RawResponse) release(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		r.logger.Warn().
			Err(err).
			Str("url", r.url.String()).
			Msg("close response body")
	}
}

func (r *RawResponse) decodedBytes(charsetName string) ([]byte, error) {
	body, err := r.take()
	if err != nil {
		return nil, err
	}
	defer r.release(body)

	cs, err := r.resolveCharset(charsetName)
	if err != nil {
		return nil, err
	}

	var src io.Reader = body
	if !cs.isUTF8() {
		src = cs.reader(body)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, r.readError(err)
	}
	return data, nil
}

// resolveCharset picks the explicit charset, then the Content-Type charset,
// then UTF-8. Only an explicit unknown name is an error.
func (r *RawResponse) resolveCharset(name string) (charset, error) {
	if name != "" {
		return lookupCharset(name)
	}

	declared := charsetFromContentType(r.header.Get("Content-Type"))
	if declared == "" {
		return utf8Charset, nil
	}

	cs, err := lookupCharset(declared)
	if err != nil {
		r.logger.Debug().
			Str("charset", declared).
			Str("url", r.url.String()).
			Msg("unknown response charset, decoding as utf-8")
		return utf8Charset, nil
	}
	return cs, nil
}

func (r *RawResponse) readError(err error) error {
	return newTransportError(string(r.method), r.url.String(), err)
}

// decodeError wraps a codec failure.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "httpclient: decode json: " + e.err.Error() }

func (e *decodeError) Unwrap() error { return e.err }
