package httpclient

import (
	"github.com/google/uuid"

	"github.com/kroma-labs/sentinel-requests/cookie"
)

// Session groups requests that share a cookie jar.
//
// Cookies set by any response of a session request are stored in the jar and
// sent with every later session request they match, including redirect hops.
// A Session is safe for concurrent use; concurrent requests may not observe
// each other's cookies immediately.
//
// Example:
//
//	sess := client.NewSession()
//	_, err := client.Request("Login").
//	    Session(sess).
//	    BodyForm(map[string]string{"user": "u", "pass": "p"}).
//	    Post(ctx, "https://example.com/login")
//
//	resp, err := client.Request("Profile").
//	    Session(sess).
//	    Get(ctx, "https://example.com/me") // carries the login cookies
type Session struct {
	id  string
	jar *cookie.Jar
}

// NewSession creates a Session with an empty jar and a random ID.
func NewSession() *Session {
	return &Session{
		id:  uuid.NewString(),
		jar: cookie.NewJar(),
	}
}

// ID returns the session identifier used in logs and metrics.
func (s *Session) ID() string { return s.id }

// Jar returns the session cookie jar.
func (s *Session) Jar() *cookie.Jar { return s.jar }

// Cookies returns a snapshot of every stored cookie.
func (s *Session) Cookies() []cookie.Cookie { return s.jar.All() }

// SetCookie stores c as if a response had set it.
func (s *Session) SetCookie(c cookie.Cookie) { s.jar.Update(c) }
