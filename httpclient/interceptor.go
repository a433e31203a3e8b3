package httpclient

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// RequestInterceptor changes an outgoing exchange after the client has set
// its headers and cookies. Every redirect hop runs through it again.
//
// Common use cases:
//   - Bearer tokens and API keys
//   - Request IDs
//   - Signing
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor inspects a response before its cookies are stored and
// before a redirect is followed. Returning an error aborts Execute; the
// body is closed by the client.
type ResponseInterceptor func(resp *http.Response, req *http.Request) error

// InterceptorChain runs interceptors in the order they were added.
// The zero value is ready to use.
type InterceptorChain struct {
	request  []RequestInterceptor
	response []ResponseInterceptor
}

func (c *InterceptorChain) AddRequestInterceptor(i RequestInterceptor) {
	c.request = append(c.request, i)
}

func (c *InterceptorChain) AddResponseInterceptor(i ResponseInterceptor) {
	c.response = append(c.response, i)
}

// ApplyRequestInterceptors stops at the first failing interceptor.
func (c *InterceptorChain) ApplyRequestInterceptors(req *http.Request) error {
	for _, i := range c.request {
		if err := i(req); err != nil {
			return err
		}
	}
	return nil
}

// ApplyResponseInterceptors stops at the first failing interceptor.
func (c *InterceptorChain) ApplyResponseInterceptors(resp *http.Response, req *http.Request) error {
	for _, i := range c.response {
		if err := i(resp, req); err != nil {
			return err
		}
	}
	return nil
}

// AuthBearerInterceptor sets a static Bearer token.
func AuthBearerInterceptor(token string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// AuthBearerFuncInterceptor sets a Bearer token obtained per exchange.
func AuthBearerFuncInterceptor(tokenFunc func() (string, error)) RequestInterceptor {
	return func(req *http.Request) error {
		token, err := tokenFunc()
		if err != nil {
			return fmt.Errorf("bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// APIKeyInterceptor sets an API key header.
func APIKeyInterceptor(headerName, apiKey string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set(headerName, apiKey)
		return nil
	}
}

// RequestIDInterceptor sets headerName to a new UUID unless the request
// already carries one. Redirect hops get their own ID.
func RequestIDInterceptor(headerName string) RequestInterceptor {
	return func(req *http.Request) error {
		if req.Header.Get(headerName) == "" {
			req.Header.Set(headerName, uuid.NewString())
		}
		return nil
	}
}

// StatusErrorInterceptor turns a response whose status matches fail into
// an error, e.g. to stop redirect chains on a login page.
func StatusErrorInterceptor(fail func(status int) bool) ResponseInterceptor {
	return func(resp *http.Response, req *http.Request) error {
		if fail(resp.StatusCode) {
			return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Redacted(), resp.StatusCode)
		}
		return nil
	}
}
