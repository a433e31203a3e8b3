package cookie

import (
	"math"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSubDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		sub    string
		want   bool
	}{
		{name: "given bare parent, then true", domain: ".baidu.com", sub: "baidu.com", want: true},
		{name: "given proper sub-domain, then true", domain: ".baidu.com", sub: "www.baidu.com", want: true},
		{name: "given deep sub-domain, then true", domain: ".baidu.com", sub: "a.b.baidu.com", want: true},
		{name: "given unrelated domain, then false", domain: ".baidu.com", sub: "a.com", want: false},
		{name: "given unrelated sub-domain, then false", domain: ".baidu.com", sub: "ww.a.com", want: false},
		{name: "given suffix without dot boundary, then false", domain: ".baidu.com", sub: "xbaidu.com", want: false},
		{name: "given equal dotted string, then false", domain: ".baidu.com", sub: ".baidu.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSubDomain(tt.domain, tt.sub))
		})
	}
}

func TestIsSubDomain_BareParentAlwaysMatches(t *testing.T) {
	for _, d := range []string{".a.com", ".example.org", ".x", ".co.uk"} {
		assert.True(t, IsSubDomain(d, d[1:]), d)
	}
}

func TestDefaultPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "given empty path, then root", path: "", want: "/"},
		{name: "given root, then root", path: "/", want: "/"},
		{name: "given single segment, then root", path: "/index.html", want: "/"},
		{name: "given nested file, then its directory", path: "/a/b/c.html", want: "/a/b/"},
		{name: "given directory path, then itself", path: "/a/b/", want: "/a/b/"},
		{name: "given relative path, then root", path: "a", want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultPath(tt.path))
		})
	}
}

func TestParse(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	origin, err := url.Parse("https://www.example.com/shop/cart")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   Cookie
		wantOK bool
	}{
		{
			name:   "given bare pair, then scopes to origin host and default path",
			header: "sid=42",
			want:   Cookie{Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42"},
			wantOK: true,
		},
		{
			name:   "given segment without equals, then nameless cookie",
			header: "justavalue",
			want:   Cookie{Domain: "www.example.com", Path: "/shop/", Value: "justavalue"},
			wantOK: true,
		},
		{
			name:   "given parent domain attribute, then adds leading dot",
			header: "sid=42; Domain=example.com",
			want:   Cookie{Domain: ".example.com", Path: "/shop/", Name: "sid", Value: "42"},
			wantOK: true,
		},
		{
			name:   "given foreign domain attribute, then falls back to origin",
			header: "sid=42; domain=evil.com",
			want:   Cookie{Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42"},
			wantOK: true,
		},
		{
			name:   "given path attribute, then normalizes trailing slash",
			header: "sid=42; Path=/account",
			want:   Cookie{Domain: "www.example.com", Path: "/account/", Name: "sid", Value: "42"},
			wantOK: true,
		},
		{
			name:   "given expires attribute, then sets expiry",
			header: "sid=42; Expires=Wed, 21 Oct 2015 07:28:00 GMT",
			want: Cookie{
				Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42",
				Expiry: time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC).UnixMilli(),
			},
			wantOK: true,
		},
		{
			name:   "given malformed expires, then ignores it",
			header: "sid=42; Expires=tomorrow",
			want:   Cookie{Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42"},
			wantOK: true,
		},
		{
			name:   "given max-age, then expiry is relative to now",
			header: "sid=42; Max-Age=60",
			want: Cookie{
				Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42",
				Expiry: now.UnixMilli() + 60_000,
			},
			wantOK: true,
		},
		{
			name:   "given max-age zero, then expiry is already past",
			header: "sid=; Max-Age=0",
			want: Cookie{
				Domain: "www.example.com", Path: "/shop/", Name: "sid",
				Expiry: now.UnixMilli() - 1,
			},
			wantOK: true,
		},
		{
			name:   "given max-age beyond the representable range, then saturates",
			header: "sid=42; Max-Age=9223372036854775",
			want: Cookie{
				Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42",
				Expiry: math.MaxInt64,
			},
			wantOK: true,
		},
		{
			name:   "given negative max-age, then ignores it",
			header: "sid=42; Max-Age=-1",
			want:   Cookie{Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42"},
			wantOK: true,
		},
		{
			name:   "given max-age after expires, then last one wins",
			header: "sid=42; Expires=Wed, 21 Oct 2015 07:28:00 GMT; Max-Age=10",
			want: Cookie{
				Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42",
				Expiry: now.UnixMilli() + 10_000,
			},
			wantOK: true,
		},
		{
			name:   "given secure and httponly flags, then sets secure only",
			header: "sid=42; Secure; HttpOnly",
			want: Cookie{
				Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42", Secure: true,
			},
			wantOK: true,
		},
		{
			name:   "given unknown attribute, then ignores it",
			header: "sid=42; SameSite=Lax; Priority=High",
			want:   Cookie{Domain: "www.example.com", Path: "/shop/", Name: "sid", Value: "42"},
			wantOK: true,
		},
		{
			name:   "given second pair, then treats it as an attribute",
			header: "a=1; b=2",
			want:   Cookie{Domain: "www.example.com", Path: "/shop/", Name: "a", Value: "1"},
			wantOK: true,
		},
		{
			name:   "given empty header, then not ok",
			header: "  ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseAt(tt.header, origin, now)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseAll(t *testing.T) {
	origin, err := url.Parse("http://test.com/")
	require.NoError(t, err)

	cookies := ParseAll([]string{"a=1", "", "b=2; Path=/x"}, origin)

	require.Len(t, cookies, 2)
	assert.Equal(t, "a", cookies[0].Name)
	assert.Equal(t, "/x/", cookies[1].Path)
}
