package httpclient

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionCookiesDesc = prometheus.NewDesc(
		"sentinel_requests_session_cookies",
		"Number of cookies stored in a session jar.",
		[]string{"session", "domain"}, nil,
	)
	sessionExpiredDesc = prometheus.NewDesc(
		"sentinel_requests_session_cookies_expired",
		"Number of stored cookies whose expiry has passed.",
		[]string{"session"}, nil,
	)
	sessionsDesc = prometheus.NewDesc(
		"sentinel_requests_sessions",
		"Number of sessions tracked by the collector.",
		nil, nil,
	)
)

var _ prometheus.Collector = (*SessionCollector)(nil)

// SessionCollector exports the cookie jars of tracked sessions to
// Prometheus. Jars are read at scrape time.
//
//	collector := httpclient.NewSessionCollector()
//	prometheus.MustRegister(collector)
//
//	sess := client.NewSession()
//	collector.Track(sess)
//	defer collector.Untrack(sess)
type SessionCollector struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	now func() time.Time
}

func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Track adds s to the collector. Tracking a session twice is a no-op.
func (c *SessionCollector) Track(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s.ID()] = s
}

// Untrack removes s from the collector.
func (c *SessionCollector) Untrack(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s.ID())
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sessionCookiesDesc
	ch <- sessionExpiredDesc
	ch <- sessionsDesc
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.RUnlock()

	ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(len(sessions)))

	now := c.now()
	for _, s := range sessions {
		perDomain := make(map[string]int)
		expired := 0
		for _, ck := range s.Cookies() {
			perDomain[ck.Domain]++
			if ck.Expired(now) {
				expired++
			}
		}
		for domain, n := range perDomain {
			ch <- prometheus.MustNewConstMetric(sessionCookiesDesc, prometheus.GaugeValue,
				float64(n), s.ID(), domain)
		}
		ch <- prometheus.MustNewConstMetric(sessionExpiredDesc, prometheus.GaugeValue,
			float64(expired), s.ID())
	}
}
