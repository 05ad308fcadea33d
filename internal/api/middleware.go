package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lumavet.pet/lumavet/internal/metrics"
)

// LoggingMiddleware logs one line per request
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := metrics.NewResponseWriter(w)

		next.ServeHTTP(rw, r)

		var ev *zerolog.Event
		switch {
		case rw.StatusCode >= 500:
			ev = log.Error()
		case rw.StatusCode >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.StatusCode).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("Request handled")
	})
}

// CanonicalRedirect answers 301 to canonicalURL + the original path and
// query when the request host ends with legacySuffix. An empty suffix
// disables the redirect.
func CanonicalRedirect(canonicalURL, legacySuffix string) func(http.Handler) http.Handler {
	canonicalURL = strings.TrimRight(canonicalURL, "/")
	legacySuffix = strings.ToLower(strings.TrimSpace(legacySuffix))

	return func(next http.Handler) http.Handler {
		if legacySuffix == "" || canonicalURL == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(requestHost(r), legacySuffix) {
				http.Redirect(w, r, canonicalURL+r.URL.RequestURI(), http.StatusMovedPermanently)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestHost is the lowercased Host header without port
func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// clientIP is the peer address, or the first X-Forwarded-For hop when the
// server sits behind a trusted proxy
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get(ForwardedForHeader); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
