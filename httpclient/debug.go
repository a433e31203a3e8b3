package httpclient

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// generateCurlCommand renders req as a single-line curl invocation. Header
// names are sorted and Authorization is masked. body is the replayable
// payload, nil for streamed and multipart bodies, which are left out.
//
//	curl -X POST 'https://api.example.com/users' -H 'Authorization: ***' -d '{"name":"John"}'
func generateCurlCommand(req *http.Request, body []byte) string {
	args := []string{"curl"}
	if req.Method != http.MethodGet {
		args = append(args, "-X", req.Method)
	}
	args = append(args, shellQuote(req.URL.String()))

	for _, name := range slices.Sorted(maps.Keys(req.Header)) {
		for _, v := range req.Header[name] {
			if name == "Authorization" {
				v = "***"
			}
			args = append(args, "-H", shellQuote(name+": "+v))
		}
	}
	if req.Host != "" && req.Host != req.URL.Host {
		args = append(args, "-H", shellQuote("Host: "+req.Host))
	}
	if len(body) > 0 {
		args = append(args, "-d", shellQuote(string(body)))
	}
	return strings.Join(args, " ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func logRequest(logger zerolog.Logger, operation string, req *http.Request) {
	logger.Debug().
		Str("op", operation).
		Str("method", req.Method).
		Stringer("url", req.URL).
		Int("headers", len(req.Header)).
		Msg("HTTP request")
}

func logResponse(logger zerolog.Logger, operation string, resp *http.Response, elapsed time.Duration) {
	logger.Debug().
		Str("op", operation).
		Int("status", resp.StatusCode).
		Str("proto", resp.Proto).
		Dur("elapsed", elapsed).
		Int64("length", resp.ContentLength).
		Str("encoding", resp.Header.Get("Content-Encoding")).
		Msg("HTTP response")
}

// logRedirect logs one followed redirect hop.
func logRedirect(logger zerolog.Logger, status int, from, to string, hop int) {
	logger.Debug().
		Int("status", status).
		Str("from", from).
		Str("to", to).
		Str("hop", fmt.Sprintf("%d/%d", hop, MaxRedirects)).
		Msg("HTTP redirect")
}
