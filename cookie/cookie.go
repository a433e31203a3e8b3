package cookie

import (
	"strings"
	"time"
)

// Key identifies a cookie inside a Jar.
//
// Two cookies with the same Key are the same cookie: storing the second
// replaces the first regardless of value.
type Key struct {
	Domain string
	Path   string
	Name   string
}

// Cookie is one cookie attribute set.
//
// A Domain starting with "." scopes the cookie to that domain and all of its
// sub-domains; any other Domain matches only the exact host. Path always ends
// with "/".
//
// Cookie is a value type and is never mutated once constructed.
type Cookie struct {
	// Domain is the host (or ".parent" wildcard) the cookie belongs to.
	Domain string

	// Path is the path prefix the cookie applies to. Always ends with "/".
	Path string

	// Name is the cookie name. May be empty for value-only cookies.
	Name string

	// Value is the raw cookie value.
	Value string

	// Expiry is the expiration instant in epoch milliseconds.
	// Zero marks a session cookie that never expires by time.
	Expiry int64

	// Secure restricts the cookie to https requests.
	Secure bool
}

// New creates a Cookie, normalizing path so that it ends with "/".
//
// Example:
//
//	c := cookie.New("test.com", "/", "token", "abc", 0, true)
func New(domain, path, name, value string, expiry int64, secure bool) Cookie {
	return Cookie{
		Domain: domain,
		Path:   normalizePath(path),
		Name:   name,
		Value:  value,
		Expiry: expiry,
		Secure: secure,
	}
}

// Key returns the identity of the cookie.
func (c Cookie) Key() Key {
	return Key{Domain: c.Domain, Path: c.Path, Name: c.Name}
}

// Expired reports whether the cookie has a non-zero expiry before now.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expiry != 0 && c.Expiry < now.UnixMilli()
}

// Match reports whether the cookie should be sent with a request using the
// given protocol ("http" or "https"), host and path.
//
// A secure cookie never matches plain http. A dotted domain matches the bare
// parent and any proper sub-domain; otherwise the host must equal the domain.
// The request path must start with the cookie path.
func (c Cookie) Match(protocol, host, path string) bool {
	if c.Secure && !strings.EqualFold(protocol, "https") {
		return false
	}

	host = strings.ToLower(host)
	domain := strings.ToLower(c.Domain)
	if strings.HasPrefix(domain, ".") {
		if !IsSubDomain(domain, host) {
			return false
		}
	} else if host != domain {
		return false
	}

	if path == "" {
		path = "/"
	}
	return strings.HasPrefix(path, c.Path)
}

// Pair renders the cookie as it appears in a Cookie request header.
func (c Cookie) Pair() string {
	if c.Name == "" {
		return c.Value
	}
	return c.Name + "=" + c.Value
}

// String implements fmt.Stringer.
func (c Cookie) String() string {
	var b strings.Builder
	b.WriteString(c.Pair())
	b.WriteString("; Domain=")
	b.WriteString(c.Domain)
	b.WriteString("; Path=")
	b.WriteString(c.Path)
	if c.Expiry != 0 {
		b.WriteString("; Expires=")
		b.WriteString(time.UnixMilli(c.Expiry).UTC().Format(time.RFC1123))
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	return b.String()
}

func normalizePath(path string) string {
	if !strings.HasSuffix(path, "/") {
		return path + "/"
	}
	return path
}
