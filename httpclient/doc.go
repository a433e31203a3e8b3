// Package httpclient is a fluent HTTP client with cookie sessions, manual
// redirect handling, charset-aware bodies and OpenTelemetry instrumentation.
//
// # Features
//
//   - Fluent RequestBuilder producing immutable, reusable Requests
//   - Redirects followed by the client itself: at most MaxRedirects hops,
//     every hop a GET that keeps cookies, proxy and trust settings
//   - Sessions with a thread-safe cookie jar (see package cookie)
//   - Query, form and body encoding in any charset known to x/text
//   - gzip and deflate response decoding
//   - HTTP and SOCKS5 proxies, custom trust anchors, per-request timeouts
//   - Pooled or single-shot connectors
//   - Spans and metrics for every exchange, redirect hops included
//   - Opt-in circuit breaker, rate limiter, retries and interceptors
//
// # Quick Start
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://www.example.com"),
//	    httpclient.WithServiceName("crawler"),
//	)
//	defer client.Close()
//
//	resp, err := client.Request("Search").
//	    Query("wd", "golang").
//	    Get(ctx, "/s")
//	if err != nil {
//	    return err
//	}
//	text, err := resp.Text()
//
// A response body is read exactly once, by one of Text, Bytes, JSON,
// WriteTo, WriteToFile or Discard. Every one of them releases the
// connection; use defer resp.Close() when the body may be left unread.
//
// # Building Requests
//
// Build validates the builder and returns a Request that can be executed
// any number of times:
//
//	req, err := client.Request("Upload").
//	    Method(httpclient.MethodPost).
//	    URL("https://example.com/upload").
//	    File("document", "/path/to/file.pdf").
//	    FormField("title", "My Document").
//	    Build()
//	if err != nil {
//	    return err // *httpclient.BuildError
//	}
//	resp, err := client.Execute(ctx, req)
//
// Text bodies, query parameters and form fields are encoded with the
// request charset, UTF-8 by default:
//
//	resp, err := client.Request("Legacy").
//	    Charset("GBK").
//	    Query("q", "中文").
//	    Get(ctx, "https://example.cn/search")
//
// # Sessions and Redirects
//
//	sess := client.NewSession()
//	_, err := client.Request("Login").
//	    Session(sess).
//	    BodyForm(map[string]string{"user": "u", "pass": "p"}).
//	    Post(ctx, "https://example.com/login") // 302 to /home, cookies kept
//
// Redirect failures are *RedirectError values wrapping ErrMissingLocation
// or ErrTooManyRedirects. Disable following with FollowRedirect(false) to
// get the 3xx response itself.
//
// # Configuration
//
// Pool sizes and request defaults come from Config:
//
//	cfg, err := httpclient.ConfigFromEnv("CRAWLER")
//	if err != nil {
//	    return err
//	}
//	client := httpclient.New(httpclient.WithConfig(cfg))
//
// Presets: DefaultConfig, HighThroughputConfig, LowLatencyConfig and
// ConservativeConfig.
//
// # Resilience
//
//	client := httpclient.New(
//	    httpclient.WithCircuitBreaker(httpclient.PerHostBreakerConfig()),
//	    httpclient.WithRateLimit(httpclient.RateLimitConfig{RequestsPerSecond: 5, Burst: 1, WaitOnLimit: true}),
//	    httpclient.WithRetryConfig(httpclient.PoliteRetryConfig()),
//	)
//
// Retries are never implicit: without WithRetryConfig or
// RequestBuilder.Retry each request is sent once.
//
// # Observability
//
// Metrics:
//   - http.client.request.duration (histogram)
//   - http.client.request.body.size, http.client.response.body.size (histogram)
//   - http.client.redirects, http.client.cookies.received (counter)
//   - http.client.breaker.requests (counter), http.client.breaker.state (gauge)
//   - http.client.retry.attempts, http.client.retry.exhausted (counter)
//   - http.client.dns.duration, http.client.tls.duration, http.client.ttfb (histogram)
//   - http.client.connector.transports (gauge)
//
// Traces: one client span per exchange, named "HTTP {method} {operation}",
// ended when the response body is consumed or closed.
//
// SessionCollector exports cookie jar sizes to Prometheus.
//
// # Debug Utilities
//
//	client := httpclient.New(
//	    httpclient.WithDebug(true),        // zerolog debug logs per exchange and hop
//	    httpclient.WithGenerateCurl(true), // resp.CurlCommand()
//	)
package httpclient
