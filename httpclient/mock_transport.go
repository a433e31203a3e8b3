package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"sync"
)

// MockResponse is a canned response of a MockTransport.
type MockResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// MockRequest is an exchange recorded by a MockTransport, body included.
type MockRequest struct {
	Method string
	URL    string
	Host   string
	Header http.Header
	Body   []byte
}

// MockTransport replaces the connector of a Client in tests. Stubs are
// matched in the order they were added; the first match wins. Every
// exchange is recorded, redirect hops included.
//
//	mock := httpclient.NewMockTransport().
//	    StubRedirect("/login", http.StatusFound, "/home").
//	    StubPath("/home", http.StatusOK, "welcome")
//	client := httpclient.New(httpclient.WithMockTransport(mock))
type MockTransport struct {
	mu       sync.RWMutex
	stubs    []stub
	fallback *stub
	requests []MockRequest
	hook     func(*http.Request)
}

type stub struct {
	match func(*http.Request) bool
	resp  MockResponse
	err   error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse answers every unmatched request with status and body.
func (m *MockTransport) StubResponse(status int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &stub{resp: MockResponse{Status: status, Body: []byte(body)}}
	return m
}

// StubError fails every unmatched request with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &stub{err: err}
	return m
}

func (m *MockTransport) StubPath(path string, status int, body string) *MockTransport {
	return m.Stub(matchPath(path), MockResponse{Status: status, Body: []byte(body)})
}

func (m *MockTransport) StubPathRegex(pattern string, status int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.Stub(func(req *http.Request) bool {
		return re.MatchString(req.URL.Path)
	}, MockResponse{Status: status, Body: []byte(body)})
}

func (m *MockTransport) StubMethod(method Method, status int, body string) *MockTransport {
	return m.Stub(func(req *http.Request) bool {
		return req.Method == string(method)
	}, MockResponse{Status: status, Body: []byte(body)})
}

// StubRedirect answers requests for path with a redirect to location.
func (m *MockTransport) StubRedirect(path string, status int, location string) *MockTransport {
	return m.Stub(matchPath(path), MockResponse{
		Status: status,
		Header: http.Header{"Location": {location}},
	})
}

// StubCookies answers requests for path with status and one Set-Cookie
// header per value.
func (m *MockTransport) StubCookies(path string, status int, setCookies ...string) *MockTransport {
	return m.Stub(matchPath(path), MockResponse{
		Status: status,
		Header: http.Header{"Set-Cookie": setCookies},
	})
}

// Stub answers requests matching match with resp.
func (m *MockTransport) Stub(match func(*http.Request) bool, resp MockResponse) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{match: match, resp: resp})
	return m
}

// StubFuncError fails requests matching match with err.
func (m *MockTransport) StubFuncError(match func(*http.Request) bool, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{match: match, err: err})
	return m
}

// OnRequest sets a hook called with every request before it is matched.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	return m
}

func matchPath(path string) func(*http.Request) bool {
	return func(req *http.Request) bool {
		return req.URL.Path == path
	}
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	recorded, err := recordRequest(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, recorded)
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.stubs {
		if s.match(req) {
			return s.respond(req)
		}
	}
	if m.fallback != nil {
		return m.fallback.respond(req)
	}
	return nil, fmt.Errorf("httpclient: no stub for %s %s", req.Method, req.URL)
}

func (s stub) respond(req *http.Request) (*http.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	header := s.resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        strconv.Itoa(s.resp.Status) + " " + http.StatusText(s.resp.Status),
		StatusCode:    s.resp.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.resp.Body)),
		ContentLength: int64(len(s.resp.Body)),
		Request:       req,
	}, nil
}

// recordRequest reads the request body so tests can inspect it after the
// exchange.
func recordRequest(req *http.Request) (MockRequest, error) {
	r := MockRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Host:   req.Host,
		Header: req.Header.Clone(),
	}
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return r, err
	}
	r.Body = body
	return r, nil
}

// Requests returns the recorded exchanges in order.
func (m *MockTransport) Requests() []MockRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockRequest(nil), m.requests...)
}

func (m *MockTransport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent exchange and false if there was none.
func (m *MockTransport) LastRequest() (MockRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return MockRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// Reset drops stubs, recorded requests and the hook.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = nil
	m.fallback = nil
	m.requests = nil
	m.hook = nil
}

// WithMockTransport sends every exchange to mock instead of the connector.
func WithMockTransport(mock *MockTransport) Option {
	return func(cfg *internalConfig) {
		cfg.MockTransport = mock
	}
}
