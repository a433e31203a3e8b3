package httpclient

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"
)

// RequestBuilder accumulates the parts of a request. Setters mutate the
// builder and return it for chaining; Build produces an immutable Request
// that later builder calls never affect.
//
// Create a RequestBuilder using Client.Request():
//
//	resp, err := client.Request("SearchUsers").
//	    Query("q", "john").
//	    Header("X-Tenant", "acme").
//	    Get(ctx, "https://api.example.com/users")
//
// Builders are not safe for concurrent use.
type RequestBuilder struct {
	client        *Client
	operationName string

	method      Method
	target      string
	pathParams  map[string]string
	queryParams []Param
	defaults    []Param
	headers     []Param
	cookies     []Param
	body        pendingBody
	charset     string
	auth        *basicAuth
	proxy       *Proxy
	rootCAs     *x509.CertPool
	userAgent   string
	session     *Session
	retry       *RetryConfig

	verify         bool
	followRedirect bool
	compress       bool
	connectTimeout time.Duration
	socketTimeout  time.Duration

	// err is the first setter error, reported by Build.
	err error
}

type basicAuth struct {
	user     string
	password string
}

// Method sets the request method. The default is GET.
func (rb *RequestBuilder) Method(m Method) *RequestBuilder {
	rb.method = m
	return rb
}

// URL sets the request target. An absolute URL is used as is; anything else
// is appended to the client's base URL.
func (rb *RequestBuilder) URL(rawURL string) *RequestBuilder {
	rb.target = rawURL
	return rb
}

// Path sets the request path.
//
// The path is appended to the client's base URL. Path parameters
// can be specified using {name} syntax and filled with PathParam().
//
// Example:
//
//	client.Request("GetUser").
//	    Path("/users/{id}").
//	    PathParam("id", userID).
//	    Get(ctx)
func (rb *RequestBuilder) Path(path string) *RequestBuilder {
	rb.target = path
	return rb
}

// PathParam sets a path parameter value.
func (rb *RequestBuilder) PathParam(key, value string) *RequestBuilder {
	if rb.pathParams == nil {
		rb.pathParams = make(map[string]string)
	}
	rb.pathParams[key] = value
	return rb
}

// Query appends a query parameter. Repeated names are all sent, in order.
// Names and values are encoded with the request charset.
//
// Example:
//
//	client.Request("Search").
//	    Query("wd", "test").
//	    Query("tag", "a").
//	    Query("tag", "b").
//	    Get(ctx, "https://example.com/s") // ?wd=test&tag=a&tag=b
func (rb *RequestBuilder) Query(key, value string) *RequestBuilder {
	rb.queryParams = append(rb.queryParams, Param{Name: key, Value: value})
	return rb
}

// Queries appends query parameters from a map, sorted by name.
func (rb *RequestBuilder) Queries(ps map[string]string) *RequestBuilder {
	rb.queryParams = append(rb.queryParams, params(ps)...)
	return rb
}

// Header appends a request header.
//
// The first header with a given name replaces any value the client would
// set by default (User-Agent, Content-Type, Cookie, ...); later headers with
// the same name add values.
func (rb *RequestBuilder) Header(key, value string) *RequestBuilder {
	rb.headers = append(rb.headers, Param{Name: key, Value: value})
	return rb
}

// Headers appends headers from a map, sorted by name.
func (rb *RequestBuilder) Headers(hs map[string]string) *RequestBuilder {
	rb.headers = append(rb.headers, params(hs)...)
	return rb
}

// Cookie appends a request cookie. Request cookies are sent before any
// session cookies and are never stored in the session.
func (rb *RequestBuilder) Cookie(name, value string) *RequestBuilder {
	rb.cookies = append(rb.cookies, Param{Name: name, Value: value})
	return rb
}

// Cookies appends request cookies from a map, sorted by name.
func (rb *RequestBuilder) Cookies(cs map[string]string) *RequestBuilder {
	rb.cookies = append(rb.cookies, params(cs)...)
	return rb
}

// Body sets the request body with automatic content type detection.
//
// Encoding rules:
//   - string: text in the request charset (Content-Type: text/plain)
//   - []byte: raw bytes (Content-Type: application/octet-stream)
//   - io.Reader: streamed as is, can only be sent once
//   - url.Values: form encoded (Content-Type: application/x-www-form-urlencoded)
//   - anything else: JSON through the client codec (Content-Type: application/json)
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	switch body := v.(type) {
	case nil:
		rb.body = pendingBody{}
	case string:
		rb.body = pendingBody{kind: bodyString, text: body}
	case []byte:
		rb.body = pendingBody{kind: bodyBytes, data: body}
	case io.Reader:
		rb.body = pendingBody{kind: bodyStream, stream: body}
	case url.Values:
		rb.body = pendingBody{kind: bodyForm, form: valuesParams(body)}
	default:
		rb.body = pendingBody{kind: bodyJSON, value: v}
	}
	return rb
}

// BodyString sets a text body.
func (rb *RequestBuilder) BodyString(s string) *RequestBuilder {
	rb.body = pendingBody{kind: bodyString, text: s}
	return rb
}

// BodyBytes sets a binary body.
func (rb *RequestBuilder) BodyBytes(b []byte) *RequestBuilder {
	rb.body = pendingBody{kind: bodyBytes, data: b}
	return rb
}

// BodyReader sets a streamed body. The reader is consumed by the first send.
func (rb *RequestBuilder) BodyReader(r io.Reader) *RequestBuilder {
	rb.body = pendingBody{kind: bodyStream, stream: r}
	return rb
}

// BodyJSON encodes v with the client codec regardless of its type.
//
// Example:
//
//	client.Request("CreateUser").
//	    BodyJSON(user).
//	    Post(ctx, "https://example.com/users")
func (rb *RequestBuilder) BodyJSON(v any) *RequestBuilder {
	rb.body = pendingBody{kind: bodyJSON, value: v}
	return rb
}

// BodyForm sets form data as the request body, sorted by name.
//
// Example:
//
//	client.Request("Login").
//	    BodyForm(map[string]string{
//	        "username": "john",
//	        "password": "secret",
//	    }).
//	    Post(ctx, "https://example.com/login")
func (rb *RequestBuilder) BodyForm(data map[string]string) *RequestBuilder {
	rb.body = pendingBody{kind: bodyForm, form: params(data)}
	return rb
}

// FormParam appends one field to a form body.
func (rb *RequestBuilder) FormParam(key, value string) *RequestBuilder {
	if rb.body.kind != bodyForm {
		rb.body = pendingBody{kind: bodyForm}
	}
	rb.body.form = append(rb.body.form, Param{Name: key, Value: value})
	return rb
}

// ContentType overrides the content type derived from the body.
func (rb *RequestBuilder) ContentType(contentType string) *RequestBuilder {
	rb.body.contentType = contentType
	return rb
}

// Charset sets the charset used to encode the query string, form and text
// bodies. Unknown names fail Build with ErrUnsupportedCharset.
func (rb *RequestBuilder) Charset(name string) *RequestBuilder {
	rb.charset = name
	return rb
}

// BasicAuth sets HTTP basic credentials.
func (rb *RequestBuilder) BasicAuth(user, password string) *RequestBuilder {
	rb.auth = &basicAuth{user: user, password: password}
	return rb
}

// UserAgent overrides the client User-Agent for this request.
func (rb *RequestBuilder) UserAgent(ua string) *RequestBuilder {
	rb.userAgent = ua
	return rb
}

// Proxy routes the request through p. A nil proxy connects directly.
func (rb *RequestBuilder) Proxy(p *Proxy) *RequestBuilder {
	rb.proxy = p
	return rb
}

// ProxyURL parses raw with ParseProxy and routes the request through it.
// A parse failure is reported by Build.
func (rb *RequestBuilder) ProxyURL(raw string) *RequestBuilder {
	p, err := ParseProxy(raw)
	if err != nil {
		rb.setErr(&BuildError{Field: "proxy", Err: err})
		return rb
	}
	rb.proxy = p
	return rb
}

// Verify enables or disables TLS certificate verification.
func (rb *RequestBuilder) Verify(verify bool) *RequestBuilder {
	rb.verify = verify
	return rb
}

// RootCAs sets custom trust anchors for TLS verification.
func (rb *RequestBuilder) RootCAs(pool *x509.CertPool) *RequestBuilder {
	rb.rootCAs = pool
	return rb
}

// FollowRedirect enables or disables following 3xx responses.
func (rb *RequestBuilder) FollowRedirect(follow bool) *RequestBuilder {
	rb.followRedirect = follow
	return rb
}

// Compress enables or disables gzip/deflate negotiation and decoding.
func (rb *RequestBuilder) Compress(compress bool) *RequestBuilder {
	rb.compress = compress
	return rb
}

// ConnectTimeout bounds TCP connection establishment.
func (rb *RequestBuilder) ConnectTimeout(d time.Duration) *RequestBuilder {
	rb.connectTimeout = d
	return rb
}

// SocketTimeout bounds every single read from the connection.
func (rb *RequestBuilder) SocketTimeout(d time.Duration) *RequestBuilder {
	rb.socketTimeout = d
	return rb
}

// Timeout sets both ConnectTimeout and SocketTimeout.
func (rb *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	rb.connectTimeout = d
	rb.socketTimeout = d
	return rb
}

// Session attaches the request to a session: matching session cookies are
// sent and response cookies are stored.
func (rb *RequestBuilder) Session(s *Session) *RequestBuilder {
	rb.session = s
	return rb
}

// Retry sends the request with ExecuteWithRetry and cfg. It overrides
// WithRetryConfig; NoRetryConfig() disables retries for this request.
func (rb *RequestBuilder) Retry(cfg RetryConfig) *RequestBuilder {
	rb.retry = &cfg
	return rb
}

// Build validates the builder and returns an immutable Request.
//
// Errors are *BuildError values wrapping ErrUnsupportedMethod, ErrInvalidURL,
// ErrUnsupportedCharset, ErrInvalidProxy or a codec failure.
func (rb *RequestBuilder) Build() (*Request, error) {
	if rb.err != nil {
		return nil, rb.err
	}

	if !rb.method.Valid() {
		return nil, &BuildError{
			Field: "method",
			Err:   fmt.Errorf("%w: %q", ErrUnsupportedMethod, string(rb.method)),
		}
	}

	cs := utf8Charset
	if rb.charset != "" {
		var err error
		cs, err = lookupCharset(rb.charset)
		if err != nil {
			return nil, &BuildError{Field: "charset", Err: err}
		}
	}

	target, err := rb.buildURL(cs)
	if err != nil {
		return nil, &BuildError{Field: "url", Err: err}
	}

	b, err := rb.body.build(cs, rb.client.codec)
	if err != nil {
		return nil, &BuildError{Field: "body", Err: err}
	}

	var proxy *Proxy
	if rb.proxy != nil {
		p := *rb.proxy
		proxy = &p
	}

	var auth *basicAuth
	if rb.auth != nil {
		a := *rb.auth
		auth = &a
	}

	return &Request{
		operationName:  rb.operationName,
		method:         rb.method,
		url:            target,
		headers:        rb.mergedHeaders(),
		cookies:        append([]Param(nil), rb.cookies...),
		body:           b,
		charset:        cs,
		auth:           auth,
		proxy:          proxy,
		verify:         rb.verify,
		rootCAs:        rb.rootCAs,
		followRedirect: rb.followRedirect,
		compress:       rb.compress,
		connectTimeout: rb.connectTimeout,
		socketTimeout:  rb.socketTimeout,
		userAgent:      rb.userAgent,
		session:        rb.session,
	}, nil
}

// Send builds the request and executes it.
func (rb *RequestBuilder) Send(ctx context.Context) (*RawResponse, error) {
	req, err := rb.Build()
	if err != nil {
		return nil, err
	}
	if rb.retry != nil {
		return rb.client.ExecuteWithRetry(ctx, req, *rb.retry)
	}
	return rb.client.Execute(ctx, req)
}

// Get executes a GET request.
//
// Example:
//
//	resp, err := client.Request("GetUsers").Get(ctx, "/users")
func (rb *RequestBuilder) Get(ctx context.Context, path ...string) (*RawResponse, error) {
	return rb.sendAs(ctx, MethodGet, path)
}

// Head executes a HEAD request.
func (rb *RequestBuilder) Head(ctx context.Context, path ...string) (*RawResponse, error) {
	return rb.sendAs(ctx, MethodHead, path)
}

// Post executes a POST request.
//
// Example:
//
//	resp, err := client.Request("CreateUser").
//	    Body(user).
//	    Post(ctx, "/users")
func (rb *RequestBuilder) Post(ctx context.Context, path ...string) (*RawResponse, error) {
	return rb.sendAs(ctx, MethodPost, path)
}

// Put executes a PUT request.
func (rb *RequestBuilder) Put(ctx context.Context, path ...string) (*RawResponse, error) {
	return rb.sendAs(ctx, MethodPut, path)
}

// Patch executes a PATCH request.
func (rb *RequestBuilder) Patch(ctx context.Context, path ...string) (*RawResponse, error) {
	return rb.sendAs(ctx, MethodPatch, path)
}

// Delete executes a DELETE request.
func (rb *RequestBuilder) Delete(ctx context.Context, path ...string) (*RawResponse, error) {
	return rb.sendAs(ctx, MethodDelete, path)
}

// Options executes an OPTIONS request.
func (rb *RequestBuilder) Options(ctx context.Context, path ...string) (*RawResponse, error) {
	return rb.sendAs(ctx, MethodOptions, path)
}

func (rb *RequestBuilder) sendAs(ctx context.Context, m Method, path []string) (*RawResponse, error) {
	if len(path) > 0 {
		rb.target = path[0]
	}
	rb.method = m
	return rb.Send(ctx)
}

func (rb *RequestBuilder) setErr(err error) {
	if rb.err == nil {
		rb.err = err
	}
}

// buildURL resolves the target against the base URL, fills path parameters
// and appends the encoded query parameters.
func (rb *RequestBuilder) buildURL(cs charset) (*url.URL, error) {
	path := rb.target
	for k, v := range rb.pathParams {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}

	fullURL := path
	if base := rb.client.baseURL; base != "" && !isAbsoluteURL(path) {
		if path == "" {
			fullURL = base
		} else {
			fullURL = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
		}
	}

	u, err := url.Parse(fullURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: %q is not an http(s) url", ErrInvalidURL, fullURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidURL, fullURL)
	}

	if len(rb.queryParams) > 0 {
		query, err := encodeParams(rb.queryParams, cs)
		if err != nil {
			return nil, err
		}
		if u.RawQuery == "" {
			u.RawQuery = query
		} else {
			u.RawQuery += "&" + query
		}
	}

	return u, nil
}

// mergedHeaders returns client default headers not overridden by the
// request, followed by the request headers.
func (rb *RequestBuilder) mergedHeaders() []Param {
	out := make([]Param, 0, len(rb.defaults)+len(rb.headers))
	for _, d := range rb.defaults {
		if _, overridden := lookupParam(rb.headers, d.Name); !overridden {
			out = append(out, d)
		}
	}
	return append(out, rb.headers...)
}

func isAbsoluteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func valuesParams(values url.Values) []Param {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Param, 0, len(values))
	for _, k := range keys {
		for _, v := range values[k] {
			out = append(out, Param{Name: k, Value: v})
		}
	}
	return out
}

// Request is an immutable, fully resolved request produced by
// RequestBuilder.Build. A Request may be executed more than once unless its
// body is a stream or a multipart reader.
type Request struct {
	operationName string
	method        Method
	url           *url.URL
	headers       []Param
	cookies       []Param
	body          body
	charset       charset
	auth          *basicAuth
	proxy         *Proxy
	rootCAs       *x509.CertPool
	userAgent     string
	session       *Session

	verify         bool
	followRedirect bool
	compress       bool
	connectTimeout time.Duration
	socketTimeout  time.Duration
}

// OperationName returns the name used for spans and logs.
func (r *Request) OperationName() string { return r.operationName }

// Method returns the request method.
func (r *Request) Method() Method { return r.method }

// URL returns a copy of the resolved target, query included.
func (r *Request) URL() *url.URL {
	u := *r.url
	return &u
}

// Headers returns a copy of the user headers in order.
func (r *Request) Headers() []Param { return append([]Param(nil), r.headers...) }

// Header returns the first user header value for name.
func (r *Request) Header(name string) string {
	v, _ := lookupParam(r.headers, name)
	return v
}

// Cookies returns a copy of the request cookies in order.
func (r *Request) Cookies() []Param { return append([]Param(nil), r.cookies...) }

// Charset returns the canonical request charset name.
func (r *Request) Charset() string { return r.charset.name }

// Proxy returns a copy of the proxy, or nil.
func (r *Request) Proxy() *Proxy {
	if r.proxy == nil {
		return nil
	}
	p := *r.proxy
	return &p
}

// Session returns the attached session, or nil.
func (r *Request) Session() *Session { return r.session }

// Verify reports whether TLS certificates are verified.
func (r *Request) Verify() bool { return r.verify }

// FollowRedirect reports whether 3xx responses are followed.
func (r *Request) FollowRedirect() bool { return r.followRedirect }

// Compress reports whether gzip/deflate is negotiated.
func (r *Request) Compress() bool { return r.compress }

// ConnectTimeout returns the connect timeout.
func (r *Request) ConnectTimeout() time.Duration { return r.connectTimeout }

// SocketTimeout returns the per-read timeout.
func (r *Request) SocketTimeout() time.Duration { return r.socketTimeout }

// settings returns the connector descriptor of the request.
func (r *Request) settings() TransportSettings {
	return TransportSettings{
		ConnectTimeout: r.connectTimeout,
		SocketTimeout:  r.socketTimeout,
		Verify:         r.verify,
		RootCAs:        r.rootCAs,
		Proxy:          r.proxy,
	}
}

// redirectTo derives the request for one redirect hop: a bodiless GET to
// target that keeps session, proxy, trust, timeouts, headers, cookies and
// compression, and does not follow redirects itself. Credentials (basic
// auth, Authorization and Cookie headers, request cookies) are kept only
// while host:port is unchanged.
func (r *Request) redirectTo(target *url.URL) *Request {
	next := *r
	next.method = MethodGet
	next.url = target
	next.body = body{}
	next.followRedirect = false
	if !strings.EqualFold(r.url.Host, target.Host) {
		next.auth = nil
		next.cookies = nil
		next.headers = withoutCredentials(r.headers)
	}
	return &next
}

func withoutCredentials(headers []Param) []Param {
	out := make([]Param, 0, len(headers))
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Authorization") || strings.EqualFold(h.Name, "Cookie") {
			continue
		}
		out = append(out, h)
	}
	return out
}
