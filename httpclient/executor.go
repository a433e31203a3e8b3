package httpclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/kroma-labs/sentinel-requests/cookie"
)

// MaxRedirects is the number of redirect hops Execute follows before it
// gives up with ErrTooManyRedirects.
const MaxRedirects = 5

// isRedirect reports whether status is one of the followed 3xx codes.
func isRedirect(status int) bool {
	switch status {
	case http.StatusMultipleChoices,
		http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Execute sends req and returns the final response with its body unread.
//
// When req follows redirects, every redirect response is drained and its
// connection released before the next hop is sent. Hops are GET requests
// without a body that keep the session, proxy, trust settings, timeouts,
// headers and request cookies of req. Basic credentials are only carried to
// the same host.
//
// Errors:
//   - *TransportError for any I/O failure, including timeouts
//   - *RedirectError wrapping ErrMissingLocation or ErrTooManyRedirects
//   - ErrClientClosed after Close
//
// The caller must consume or Close the returned response.
func (c *Client) Execute(ctx context.Context, req *Request) (*RawResponse, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	var store cookie.Store = cookie.NopJar{}
	switch {
	case req.session != nil:
		store = req.session.jar
	case req.followRedirect:
		// Cookies set by a redirect response reach the next hop even
		// without a session.
		store = cookie.NewJar()
	}

	resp, err := c.send(ctx, req, store)
	if err != nil {
		return nil, err
	}
	if !req.followRedirect {
		return resp, nil
	}

	current := req
	for hops := 0; isRedirect(resp.statusCode); {
		from := resp.url.String()
		if hops == MaxRedirects {
			c.discard(resp)
			return nil, &RedirectError{URL: from, Hops: hops, Err: ErrTooManyRedirects}
		}

		location := resp.header.Get("Location")
		c.discard(resp)
		if location == "" {
			return nil, &RedirectError{URL: from, Hops: hops, Err: ErrMissingLocation}
		}

		target, err := current.url.Parse(location)
		if err != nil {
			return nil, &RedirectError{
				URL:  from,
				Hops: hops,
				Err:  fmt.Errorf("%w: location %q: %v", ErrInvalidURL, location, err),
			}
		}

		hops++
		if c.debug {
			logRedirect(c.logger, resp.statusCode, from, target.String(), hops)
		}
		c.config.Metrics.recordRedirect(ctx, resp.statusCode, c.config.baseAttributes())

		current = current.redirectTo(target)
		resp, err = c.send(ctx, current, store)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// discard drains a redirect response. Failures only cost the connection and
// are logged.
func (c *Client) discard(resp *RawResponse) {
	if err := resp.Discard(); err != nil {
		c.logger.Warn().Err(err).Str("url", resp.url.String()).Msg("discard redirect body")
	}
}

// send performs a single exchange without following redirects.
func (c *Client) send(ctx context.Context, req *Request, store cookie.Store) (*RawResponse, error) {
	body, contentType, length, err := req.body.open()
	if err != nil {
		return nil, &BuildError{Field: "body", Err: err}
	}

	target := req.url.String()
	httpReq, err := http.NewRequestWithContext(
		withOperation(withSettings(ctx, req.settings()), req.operationName),
		string(req.method),
		target,
		body,
	)
	if err != nil {
		return nil, &BuildError{Field: "url", Err: fmt.Errorf("%w: %v", ErrInvalidURL, err)}
	}
	if body != nil && length >= 0 {
		httpReq.ContentLength = length
	}

	setHeaders(httpReq, req, contentType, store)

	if err := c.config.Interceptors.ApplyRequestInterceptors(httpReq); err != nil {
		return nil, fmt.Errorf("httpclient: request interceptor: %w", err)
	}

	var curl string
	if c.generateCurl {
		curl = generateCurlCommand(httpReq, req.body.snapshot())
	}
	if c.debug {
		logRequest(c.logger, req.operationName, httpReq)
	}

	start := time.Now()
	resp, err := c.transport.RoundTrip(httpReq)
	if err != nil {
		return nil, newTransportError(string(req.method), target, err)
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}

	if c.debug {
		logResponse(c.logger, req.operationName, resp, time.Since(start))
	}

	if err := c.config.Interceptors.ApplyResponseInterceptors(resp, httpReq); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("httpclient: response interceptor: %w", err)
	}

	cookies := cookie.ParseAll(resp.Header.Values("Set-Cookie"), req.url)
	if len(cookies) > 0 {
		store.Update(cookies...)
		c.config.Metrics.recordCookiesStored(ctx, len(cookies), c.config.baseAttributes())
	}

	respBody := resp.Body
	if req.compress && bodyAllowed(req.method, resp.StatusCode) {
		respBody = decodeContent(respBody, resp.Header.Get("Content-Encoding"))
	}

	return &RawResponse{
		statusCode: resp.StatusCode,
		status:     resp.Status,
		method:     req.method,
		url:        req.URL(),
		header:     resp.Header.Clone(),
		cookies:    cookies,
		body:       respBody,
		codec:      c.codec,
		logger:     c.logger,
		curl:       curl,
	}, nil
}

// setHeaders writes the request headers in order: User-Agent,
// Accept-Encoding, Authorization, Content-Type, Cookie, then the user
// headers. The first user header with a name replaces anything set before;
// later ones add values. A user "Host" header sets the request host.
func setHeaders(httpReq *http.Request, req *Request, contentType string, store cookie.Store) {
	h := httpReq.Header

	if req.userAgent != "" {
		h.Set("User-Agent", req.userAgent)
	}
	if req.compress {
		h.Set("Accept-Encoding", "gzip, deflate")
	}
	if req.auth != nil {
		httpReq.SetBasicAuth(req.auth.user, req.auth.password)
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if header := cookieHeader(req, store); header != "" {
		h.Set("Cookie", header)
	}

	seen := make(map[string]bool, len(req.headers))
	for _, p := range req.headers {
		name := http.CanonicalHeaderKey(p.Name)
		if name == "Host" {
			httpReq.Host = p.Value
			continue
		}
		if seen[name] {
			h.Add(name, p.Value)
			continue
		}
		h.Set(name, p.Value)
		seen[name] = true
	}
}

// cookieHeader joins the request cookies and the matching stored cookies.
// Paths are compared in escaped form, the form cookie.Parse stores.
func cookieHeader(req *Request, store cookie.Store) string {
	matched := store.Matched(req.url.Scheme, req.url.Hostname(), req.url.EscapedPath())
	if len(req.cookies) == 0 && len(matched) == 0 {
		return ""
	}

	pairs := make([]string, 0, len(req.cookies)+len(matched))
	for _, p := range req.cookies {
		pairs = append(pairs, p.Name+"="+p.Value)
	}
	for _, c := range matched {
		pairs = append(pairs, c.Pair())
	}
	return strings.Join(pairs, "; ")
}

// bodyAllowed reports whether a response to method with status can carry
// a body.
func bodyAllowed(method Method, status int) bool {
	if method == MethodHead {
		return false
	}
	switch {
	case status >= 100 && status < 200,
		status == http.StatusNoContent,
		status == http.StatusNotModified:
		return false
	}
	return true
}

// decodeContent wraps body with a decoder for a gzip or deflate
// Content-Encoding. Other encodings are returned unchanged.
func decodeContent(body io.ReadCloser, encoding string) io.ReadCloser {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding != "gzip" && encoding != "deflate" {
		return body
	}
	return &decodedBody{src: body, encoding: encoding}
}

// decodedBody creates its decoder on first Read, so an empty body is never
// parsed until someone reads it.
type decodedBody struct {
	src      io.ReadCloser
	encoding string

	r       io.Reader
	decoder io.Closer
	err     error
}

func (d *decodedBody) Read(p []byte) (int, error) {
	if d.r == nil && d.err == nil {
		d.err = d.init()
	}
	if d.err != nil {
		return 0, d.err
	}
	return d.r.Read(p)
}

func (d *decodedBody) init() error {
	switch d.encoding {
	case "gzip":
		zr, err := gzip.NewReader(d.src)
		if err != nil {
			return err
		}
		d.r, d.decoder = zr, zr

	default:
		// "deflate" is zlib-wrapped per RFC 9110, but some servers send raw
		// deflate.
		br := bufio.NewReader(d.src)
		if hdr, _ := br.Peek(2); isZlibHeader(hdr) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return err
			}
			d.r, d.decoder = zr, zr
			return nil
		}
		fr := flate.NewReader(br)
		d.r, d.decoder = fr, fr
	}
	return nil
}

func (d *decodedBody) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
	}
	return d.src.Close()
}

// isZlibHeader checks the RFC 1950 CMF/FLG pair.
func isZlibHeader(hdr []byte) bool {
	if len(hdr) < 2 {
		return false
	}
	return hdr[0]&0x0f == 8 && (uint16(hdr[0])<<8|uint16(hdr[1]))%31 == 0
}
