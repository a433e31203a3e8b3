// Package cookie implements the cookie model used by the requests client:
// a Cookie value with RFC 6265 style domain/path/secure matching, a
// Set-Cookie parser, and a concurrency-safe Jar keyed by (domain, path, name).
//
// # Matching
//
// A cookie whose Domain starts with "." matches the bare parent and every
// sub-domain; any other Domain matches only the identical host:
//
//	c := cookie.New(".example.com", "/", "sid", "42", 0, false)
//	c.Match("http", "www.example.com", "/a") // true
//	c.Match("http", "example.com", "/")      // true
//	c.Match("http", "example.org", "/")      // false
//
// Sub-domain checks are plain suffix comparisons; there is no public suffix
// list, so a server may set a cookie for ".com".
//
// # Parsing
//
// Each Set-Cookie header yields exactly one cookie. The first segment is the
// name=value pair; everything after the first ";" is an attribute:
//
//	origin, _ := url.Parse("https://www.example.com/shop/cart")
//	c, ok := cookie.Parse("sid=42; Domain=example.com; Max-Age=3600; Secure", origin)
//	// c.Domain == ".example.com", c.Path == "/shop/", c.Secure == true
//
// # Jar
//
// Jar stores cookies by Key with last-write-wins semantics and drops cookies
// that arrive already expired:
//
//	jar := cookie.NewJar()
//	jar.Update(cookie.ParseAll(resp.Header.Values("Set-Cookie"), reqURL)...)
//	for _, c := range jar.Matched("https", "www.example.com", "/shop/") {
//	    fmt.Println(c.Pair())
//	}
package cookie
