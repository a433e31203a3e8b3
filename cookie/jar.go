package cookie

import (
	"sort"
	"sync"
	"time"
)

// Store is the cookie storage used by a session.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Update merges cookies into the store, last write wins per Key.
	Update(cookies ...Cookie)

	// Matched returns the stored cookies that match a request.
	Matched(protocol, host, path string) []Cookie
}

// Compile-time interface checks.
var (
	_ Store = (*Jar)(nil)
	_ Store = NopJar{}
)

// Jar is a concurrency-safe cookie store keyed by (domain, path, name).
//
// Readers get a snapshot: a Matched call racing with an Update may or may not
// observe the update.
type Jar struct {
	mu      sync.RWMutex
	cookies map[Key]Cookie

	// now is replaceable in tests.
	now func() time.Time
}

// NewJar creates an empty Jar.
func NewJar() *Jar {
	return &Jar{
		cookies: make(map[Key]Cookie),
		now:     time.Now,
	}
}

// Update stores cookies, replacing any stored cookie with the same Key.
// A cookie that is already expired is not stored and evicts the stored
// cookie with its Key.
func (j *Jar) Update(cookies ...Cookie) {
	if len(cookies) == 0 {
		return
	}

	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, c := range cookies {
		if c.Expired(now) {
			delete(j.cookies, c.Key())
			continue
		}
		j.cookies[c.Key()] = c
	}
}

// Matched returns the unexpired cookies matching a request, longest path
// first and then by name.
func (j *Jar) Matched(protocol, host, path string) []Cookie {
	now := j.now()

	j.mu.RLock()
	matched := make([]Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		if c.Expired(now) {
			continue
		}
		if c.Match(protocol, host, path) {
			matched = append(matched, c)
		}
	}
	j.mu.RUnlock()

	sortCookies(matched)
	return matched
}

// Get returns the cookie stored under key.
func (j *Jar) Get(key Key) (Cookie, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	c, ok := j.cookies[key]
	return c, ok
}

// All returns a snapshot of every stored cookie.
func (j *Jar) All() []Cookie {
	j.mu.RLock()
	all := make([]Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		all = append(all, c)
	}
	j.mu.RUnlock()

	sortCookies(all)
	return all
}

// Len returns the number of stored cookies, expired ones included until
// they are evicted.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}

// Remove deletes the cookie stored under key.
func (j *Jar) Remove(key Key) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.cookies, key)
}

// Clear removes every cookie.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = make(map[Key]Cookie)
}

// NopJar is the store of anonymous requests: it keeps nothing and matches
// nothing.
type NopJar struct{}

// Update discards cookies.
func (NopJar) Update(...Cookie) {}

// Matched always returns nil.
func (NopJar) Matched(string, string, string) []Cookie { return nil }

func sortCookies(cookies []Cookie) {
	sort.SliceStable(cookies, func(i, k int) bool {
		if len(cookies[i].Path) != len(cookies[k].Path) {
			return len(cookies[i].Path) > len(cookies[k].Path)
		}
		if cookies[i].Name != cookies[k].Name {
			return cookies[i].Name < cookies[k].Name
		}
		return cookies[i].Domain < cookies[k].Domain
	})
}
