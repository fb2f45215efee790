package middleware

import (
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// LoggingConfig controls which requests reach the access log.
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
}

// DefaultLoggingConfig returns the default configuration: everything logged,
// including probe traffic.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:       []string{},
		LogHealthChecks: true,
	}
}

// accessRecorder captures the status code and body size for the access log.
type accessRecorder struct {
	http.ResponseWriter
	status    int
	bytes     int64
	committed bool
}

func (rec *accessRecorder) WriteHeader(code int) {
	if rec.committed {
		return
	}
	rec.status = code
	rec.committed = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *accessRecorder) Write(b []byte) (int, error) {
	rec.committed = true
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

func (rec *accessRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logger returns HTTP logging middleware emitting W3C Extended Log Format
// lines, one per request.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkip(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &accessRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			writeAccessLine(r, rec, time.Since(start))
		})
	}
}

// writeAccessLine emits one request as a W3C Extended Log Format entry:
//
//	date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes
//	time-taken cs(Content-Encoding) cs(User-Agent)
//
// Every user-controlled field passes through sanitizeLogField first so a
// crafted header cannot forge extra log lines.
func writeAccessLine(r *http.Request, rec *accessRecorder, took time.Duration) {
	now := time.Now().UTC()

	userAgent := sanitizeLogField(r.Header.Get("User-Agent"))
	if userAgent != "" {
		userAgent = escapeW3CField(userAgent)
	}

	log.Printf("%s %s %s %s %s %s %d %d %d %s %s",
		now.Format("2006-01-02"),
		now.Format("15:04:05"),
		sanitizeLogField(getClientIP(r)),
		sanitizeLogField(r.Method),
		sanitizeLogField(r.URL.Path),
		orDash(sanitizeLogField(r.URL.RawQuery)),
		rec.status,
		rec.bytes,
		took.Milliseconds(),
		orDash(rec.Header().Get("Content-Encoding")),
		orDash(userAgent),
	)
}

// Kubernetes and load balancers hit these every few seconds; suppressing
// them keeps the access log readable.
var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
}

func shouldSkip(path string, config LoggingConfig) bool {
	if matchesPrefix(path, config.SkipPaths) {
		return true
	}
	return !config.LogHealthChecks && healthCheckPaths[path]
}

// sanitizeLogField strips control characters that could forge log entries.
// Newlines become spaces so the surrounding fields stay on one line; other
// control characters (including NUL and the ANSI escape) are dropped. Tabs
// are benign and kept.
func sanitizeLogField(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r':
			return ' '
		case r < 0x20 && r != '\t':
			return -1
		default:
			return r
		}
	}, s)
}

// getClientIP resolves the originating address, trusting proxy headers in
// the usual order. The API sits behind the cluster ingress, so
// X-Forwarded-For's first hop is the real client.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// escapeW3CField quotes a value containing whitespace, doubling any
// embedded quotes per the W3C quoted-string rule.
func escapeW3CField(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// orDash substitutes the W3C empty-field marker.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
