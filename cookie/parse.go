package cookie

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Parse parses one Set-Cookie header value received from origin.
//
// Each header describes exactly one cookie: the first ";"-separated segment
// is the name=value pair (a segment without "=" becomes a nameless cookie
// whose value is the whole segment) and every following segment is an
// attribute. Recognized attributes are Domain, Path, Expires, Max-Age,
// Secure and HttpOnly (accepted, not represented). Malformed or unknown
// attributes are ignored.
//
// Without a valid Domain attribute the cookie is scoped to the origin host,
// and without a Path attribute to DefaultPath of the origin path.
//
// Parse returns false for an empty header.
func Parse(header string, origin *url.URL) (Cookie, bool) {
	return parseAt(header, origin, time.Now())
}

// ParseAll parses every Set-Cookie value, skipping empty ones.
func ParseAll(headers []string, origin *url.URL) []Cookie {
	now := time.Now()
	cookies := make([]Cookie, 0, len(headers))
	for _, h := range headers {
		if c, ok := parseAt(h, origin, now); ok {
			cookies = append(cookies, c)
		}
	}
	return cookies
}

func parseAt(header string, origin *url.URL, now time.Time) (Cookie, bool) {
	segments := strings.Split(header, ";")
	first := strings.TrimSpace(segments[0])
	if first == "" {
		return Cookie{}, false
	}

	var name, value string
	if idx := strings.IndexByte(first, '='); idx >= 0 {
		name = strings.TrimSpace(first[:idx])
		value = strings.TrimSpace(first[idx+1:])
	} else {
		value = first
	}

	host := strings.ToLower(origin.Hostname())
	c := Cookie{
		Domain: host,
		Path:   DefaultPath(origin.EscapedPath()),
		Name:   name,
		Value:  value,
	}

	for _, segment := range segments[1:] {
		key, val, _ := strings.Cut(segment, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch key {
		case "domain":
			if val == "" {
				continue
			}
			domain := strings.ToLower(val)
			if !strings.HasPrefix(domain, ".") {
				domain = "." + domain
			}
			if IsSubDomain(domain, host) {
				c.Domain = domain
			}
		case "path":
			if val == "" {
				continue
			}
			c.Path = normalizePath(val)
		case "expires":
			if t, err := time.Parse(time.RFC1123, val); err == nil {
				c.Expiry = t.UnixMilli()
			}
		case "max-age":
			secs, err := strconv.ParseInt(val, 10, 64)
			if err != nil || secs < 0 {
				continue
			}
			c.Expiry = maxAgeExpiry(now, secs)
		case "secure":
			c.Secure = true
		case "httponly":
			// accepted, not represented
		}
	}

	return c, true
}

// maxAgeExpiry converts a Max-Age to an expiry in epoch millis. Zero
// yields an instant already in the past so the cookie deletes on receipt;
// large values saturate instead of overflowing.
func maxAgeExpiry(now time.Time, secs int64) int64 {
	ms := now.UnixMilli()
	if secs == 0 {
		return ms - 1
	}
	if limit := (math.MaxInt64 - ms) / 1000; secs > limit {
		return math.MaxInt64
	}
	return ms + secs*1000
}

// IsSubDomain reports whether sub lies within domain, where domain starts
// with ".". It is true when sub is domain without its leading dot, or when
// sub is longer than domain and ends with it.
//
// This is a plain suffix comparison. It performs no DNS lookups and knows
// nothing about public suffixes.
//
// Example:
//
//	cookie.IsSubDomain(".baidu.com", "www.baidu.com") // true
//	cookie.IsSubDomain(".baidu.com", "baidu.com")     // true
//	cookie.IsSubDomain(".baidu.com", "a.com")         // false
func IsSubDomain(domain, sub string) bool {
	if sub == strings.TrimPrefix(domain, ".") {
		return true
	}
	return len(sub) > len(domain) && strings.HasSuffix(sub, domain)
}

// DefaultPath returns the cookie path implied by a request path: everything
// up to and including the last "/". It is "/" when the path has no "/" past
// its first byte.
func DefaultPath(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx+1]
}
