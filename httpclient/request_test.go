package httpclient

import (
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestBuilder_Build_URL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		build   func(*RequestBuilder) *RequestBuilder
		want    string
		wantErr error
	}{
		{
			name:    "given relative path, then joins it with the base URL",
			baseURL: "https://api.example.com/v1/",
			build:   func(rb *RequestBuilder) *RequestBuilder { return rb.Path("/users") },
			want:    "https://api.example.com/v1/users",
		},
		{
			name:    "given absolute URL, then ignores the base URL",
			baseURL: "https://api.example.com",
			build:   func(rb *RequestBuilder) *RequestBuilder { return rb.URL("http://other.example.com/x") },
			want:    "http://other.example.com/x",
		},
		{
			name:    "given path params, then escapes and fills them",
			baseURL: "https://api.example.com",
			build: func(rb *RequestBuilder) *RequestBuilder {
				return rb.Path("/users/{id}/files/{name}").PathParam("id", "42").PathParam("name", "a b")
			},
			want: "https://api.example.com/users/42/files/a%20b",
		},
		{
			name:    "given repeated query params, then keeps all in order",
			baseURL: "https://example.com",
			build: func(rb *RequestBuilder) *RequestBuilder {
				return rb.Path("/s").Query("wd", "go lang").Query("tag", "a").Query("tag", "b")
			},
			want: "https://example.com/s?wd=go+lang&tag=a&tag=b",
		},
		{
			name:    "given query in the URL and params, then appends the params",
			baseURL: "",
			build: func(rb *RequestBuilder) *RequestBuilder {
				return rb.URL("https://example.com/s?page=2").Queries(map[string]string{"b": "2", "a": "1"})
			},
			want: "https://example.com/s?page=2&a=1&b=2",
		},
		{
			name:    "given GBK charset, then encodes query bytes in GBK",
			baseURL: "",
			build: func(rb *RequestBuilder) *RequestBuilder {
				return rb.URL("https://example.cn/s").Charset("GBK").Query("q", "中文")
			},
			want: "https://example.cn/s?q=%D6%D0%CE%C4",
		},
		{
			name:    "given ftp URL, then returns ErrInvalidURL",
			build:   func(rb *RequestBuilder) *RequestBuilder { return rb.URL("ftp://example.com/file") },
			wantErr: ErrInvalidURL,
		},
		{
			name:    "given relative path without base URL, then returns ErrInvalidURL",
			build:   func(rb *RequestBuilder) *RequestBuilder { return rb.Path("/users") },
			wantErr: ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, nil, WithBaseURL(tt.baseURL))

			req, err := tt.build(client.Request("Op")).Build()

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var be *BuildError
				require.ErrorAs(t, err, &be)
				assert.Equal(t, "url", be.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.URL().String())
		})
	}
}

func TestRequestBuilder_Build_Errors(t *testing.T) {
	tests := []struct {
		name      string
		build     func(*RequestBuilder) *RequestBuilder
		wantField string
		wantErr   error
	}{
		{
			name:      "given unknown method, then fails on method",
			build:     func(rb *RequestBuilder) *RequestBuilder { return rb.Method("BREW") },
			wantField: "method",
			wantErr:   ErrUnsupportedMethod,
		},
		{
			name:      "given unknown charset, then fails on charset",
			build:     func(rb *RequestBuilder) *RequestBuilder { return rb.Charset("klingon") },
			wantField: "charset",
			wantErr:   ErrUnsupportedCharset,
		},
		{
			name:      "given malformed proxy, then fails on proxy",
			build:     func(rb *RequestBuilder) *RequestBuilder { return rb.ProxyURL("gopher://proxy:70") },
			wantField: "proxy",
			wantErr:   ErrInvalidProxy,
		},
		{
			name:      "given text not representable in the charset, then fails on body",
			build:     func(rb *RequestBuilder) *RequestBuilder { return rb.Charset("iso-8859-1").BodyString("中文") },
			wantField: "body",
		},
		{
			name:      "given unmarshalable JSON, then fails on body",
			build:     func(rb *RequestBuilder) *RequestBuilder { return rb.BodyJSON(make(chan int)) },
			wantField: "body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, nil)

			_, err := tt.build(client.Request("Op").URL("https://example.com")).Build()

			var be *BuildError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantField, be.Field)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRequestBuilder_Build_Body(t *testing.T) {
	tests := []struct {
		name            string
		build           func(*RequestBuilder) *RequestBuilder
		wantContentType string
		wantBody        string
	}{
		{
			name:            "given string body, then sends text in the request charset",
			build:           func(rb *RequestBuilder) *RequestBuilder { return rb.Body("hello") },
			wantContentType: "text/plain; charset=utf-8",
			wantBody:        "hello",
		},
		{
			name:            "given byte body, then sends octet-stream",
			build:           func(rb *RequestBuilder) *RequestBuilder { return rb.Body([]byte{'a', 'b'}) },
			wantContentType: "application/octet-stream",
			wantBody:        "ab",
		},
		{
			name: "given url.Values body, then sends a sorted form",
			build: func(rb *RequestBuilder) *RequestBuilder {
				return rb.Body(url.Values{"b": {"2"}, "a": {"1", "x y"}})
			},
			wantContentType: "application/x-www-form-urlencoded; charset=utf-8",
			wantBody:        "a=1&a=x+y&b=2",
		},
		{
			name: "given form params, then keeps their order",
			build: func(rb *RequestBuilder) *RequestBuilder {
				return rb.FormParam("user", "u").FormParam("pass", "p")
			},
			wantContentType: "application/x-www-form-urlencoded; charset=utf-8",
			wantBody:        "user=u&pass=p",
		},
		{
			name:            "given struct body, then sends JSON",
			build:           func(rb *RequestBuilder) *RequestBuilder { return rb.Body(struct{ A int }{A: 1}) },
			wantContentType: "application/json; charset=utf-8",
			wantBody:        `{"A":1}`,
		},
		{
			name: "given explicit content type, then it replaces the derived one",
			build: func(rb *RequestBuilder) *RequestBuilder {
				return rb.BodyString("<a/>").ContentType("application/xml")
			},
			wantContentType: "application/xml",
			wantBody:        "<a/>",
		},
		{
			name: "given GBK form, then encodes values in GBK",
			build: func(rb *RequestBuilder) *RequestBuilder {
				return rb.Charset("gbk").BodyForm(map[string]string{"q": "中文"})
			},
			wantContentType: "application/x-www-form-urlencoded; charset=gbk",
			wantBody:        "q=%D6%D0%CE%C4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t, nil)

			req, err := tt.build(client.Request("Op").URL("https://example.com")).Build()
			require.NoError(t, err)

			r, contentType, length, err := req.body.open()
			require.NoError(t, err)
			data, err := io.ReadAll(r)
			require.NoError(t, err)

			assert.Equal(t, tt.wantContentType, contentType)
			assert.Equal(t, tt.wantBody, string(data))
			assert.Equal(t, int64(len(data)), length)
		})
	}
}

func TestRequestBuilder_Build_Immutable(t *testing.T) {
	client := newClient(t, nil)
	rb := client.Request("Op").
		URL("https://example.com/a").
		Header("X-A", "1").
		Cookie("c", "1").
		BasicAuth("user", "pass").
		Timeout(2 * time.Second)

	req, err := rb.Build()
	require.NoError(t, err)

	rb.URL("https://example.com/b").Header("X-A", "2").Cookie("c", "2").BasicAuth("other", "x")

	t.Run("given builder changes after Build, then the request keeps its values", func(t *testing.T) {
		assert.Equal(t, "/a", req.URL().Path)
		assert.Equal(t, []Param{{Name: "X-A", Value: "1"}}, req.Headers())
		assert.Equal(t, []Param{{Name: "c", Value: "1"}}, req.Cookies())
		assert.Equal(t, "user", req.auth.user)
		assert.Equal(t, 2*time.Second, req.ConnectTimeout())
		assert.Equal(t, 2*time.Second, req.SocketTimeout())
	})

	t.Run("given accessor results mutated, then the request is unchanged", func(t *testing.T) {
		req.URL().Path = "/changed"
		req.Headers()[0].Value = "changed"

		assert.Equal(t, "/a", req.URL().Path)
		assert.Equal(t, "1", req.Header("x-a"))
	})
}

func TestRequestBuilder_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UserAgent = "crawler/1.0"
	client := newClient(t, nil,
		WithConfig(cfg),
		WithDefaultHeader("X-Tenant", "acme"),
		WithDefaultHeader("Accept", "text/html"),
	)

	req, err := client.Request("Op").
		URL("https://example.com").
		Header("Accept", "application/json").
		Build()
	require.NoError(t, err)

	t.Run("given client config, then the request inherits it", func(t *testing.T) {
		assert.Equal(t, MethodGet, req.Method())
		assert.Equal(t, "Op", req.OperationName())
		assert.Equal(t, "utf-8", req.Charset())
		assert.Equal(t, "crawler/1.0", req.userAgent)
		assert.True(t, req.Verify())
		assert.True(t, req.FollowRedirect())
		assert.True(t, req.Compress())
		assert.Equal(t, 5*time.Second, req.ConnectTimeout())
		assert.Equal(t, 15*time.Second, req.SocketTimeout())
		assert.Nil(t, req.Proxy())
		assert.Nil(t, req.Session())
	})

	t.Run("given a request header with a default name, then the request header wins", func(t *testing.T) {
		assert.Equal(t, []Param{
			{Name: "X-Tenant", Value: "acme"},
			{Name: "Accept", Value: "application/json"},
		}, req.Headers())
	})
}

func TestRequest_RedirectTo(t *testing.T) {
	client := newClient(t, nil)
	sess := client.NewSession()
	req, err := client.Request("Op").
		Method(MethodPost).
		URL("https://example.com:8443/login").
		BodyString("secret").
		BasicAuth("user", "pass").
		Session(sess).
		Header("X-Keep", "1").
		Header("Authorization", "Bearer t").
		Cookie("c", "1").
		Build()
	require.NoError(t, err)

	tests := []struct {
		name     string
		target   string
		wantAuth bool
	}{
		{name: "given same host and port, then keeps credentials", target: "https://EXAMPLE.com:8443/home", wantAuth: true},
		{name: "given different port, then drops credentials", target: "https://example.com/home", wantAuth: false},
		{name: "given different host, then drops credentials", target: "https://other.example.com:8443/home", wantAuth: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := url.Parse(tt.target)
			require.NoError(t, err)

			hop := req.redirectTo(target)

			assert.Equal(t, MethodGet, hop.Method())
			assert.Equal(t, bodyNone, hop.body.kind)
			assert.False(t, hop.FollowRedirect())
			assert.Same(t, sess, hop.Session())
			assert.Equal(t, "1", hop.Header("X-Keep"))
			assert.Equal(t, tt.wantAuth, hop.auth != nil)
			_, hasBearer := lookupParam(hop.headers, "Authorization")
			assert.Equal(t, tt.wantAuth, hasBearer)
			assert.Equal(t, tt.wantAuth, len(hop.Cookies()) == 1)

			// The original request is untouched.
			assert.Equal(t, MethodPost, req.Method())
			assert.NotNil(t, req.auth)
			assert.Equal(t, "Bearer t", req.Header("Authorization"))
			assert.Len(t, req.Cookies(), 1)
		})
	}
}

func TestRequestBuilder_ReplayableBody(t *testing.T) {
	client := newClient(t, nil)

	tests := []struct {
		name  string
		build func(*RequestBuilder) *RequestBuilder
		want  bool
	}{
		{"given string body, then is replayable", func(rb *RequestBuilder) *RequestBuilder { return rb.BodyString("x") }, true},
		{"given no body, then is replayable", func(rb *RequestBuilder) *RequestBuilder { return rb }, true},
		{"given reader body, then is not replayable", func(rb *RequestBuilder) *RequestBuilder {
			return rb.BodyReader(strings.NewReader("x"))
		}, false},
		{"given multipart reader, then is not replayable", func(rb *RequestBuilder) *RequestBuilder {
			return rb.FileReader("f", "f.txt", strings.NewReader("x"))
		}, false},
		{"given multipart file path, then is replayable", func(rb *RequestBuilder) *RequestBuilder {
			return rb.File("f", "/tmp/f.txt").FormField("k", "v")
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.build(client.Request("Op").Method(MethodPost).URL("https://example.com")).Build()
			require.NoError(t, err)

			assert.Equal(t, tt.want, req.body.replayable())
		})
	}
}
