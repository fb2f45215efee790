package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
}

// ============================================================================
// Logging middleware
// ============================================================================

func TestDefaultLoggingConfig(t *testing.T) {
	config := DefaultLoggingConfig()

	if len(config.SkipPaths) != 0 {
		t.Errorf("SkipPaths = %v, want empty", config.SkipPaths)
	}
	if !config.LogHealthChecks {
		t.Error("Expected LogHealthChecks to be true by default")
	}
}

func TestLoggerMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		config        LoggingConfig
		expectLogging bool
	}{
		{
			name:          "Logs API requests",
			path:          "/api/jobs",
			config:        DefaultLoggingConfig(),
			expectLogging: true,
		},
		{
			name:          "Skips configured prefixes",
			path:          "/debug/pprof/heap",
			config:        LoggingConfig{SkipPaths: []string{"/debug/"}, LogHealthChecks: true},
			expectLogging: false,
		},
		{
			name:          "Logs health checks when enabled",
			path:          "/health",
			config:        LoggingConfig{LogHealthChecks: true},
			expectLogging: true,
		},
		{
			name:          "Skips health checks when disabled",
			path:          "/health",
			config:        LoggingConfig{LogHealthChecks: false},
			expectLogging: false,
		},
		{
			name:          "Skips readiness probe when disabled",
			path:          "/readyz",
			config:        LoggingConfig{LogHealthChecks: false},
			expectLogging: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log.SetOutput(&buf)
			defer log.SetOutput(os.Stderr)

			handler := Logger(tt.config)(okHandler())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			logged := buf.Len() > 0
			if logged != tt.expectLogging {
				t.Errorf("logged = %v, want %v (output: %q)", logged, tt.expectLogging, buf.String())
			}
		})
	}
}

func TestLoggerRecordsStatusAndBytes(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	line := buf.String()
	if !strings.Contains(line, " 404 ") {
		t.Errorf("log line missing status 404: %q", line)
	}
	if !strings.Contains(line, " 7 ") {
		t.Errorf("log line missing byte count 7: %q", line)
	}
	if !strings.Contains(line, "/api/jobs/nope") {
		t.Errorf("log line missing URI stem: %q", line)
	}
}

func TestLoggerSanitizesInjectedFields(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	handler := Logger(DefaultLoggingConfig())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/queues", nil)
	req.Header.Set("User-Agent", "probe\r\nFAKE 200 entry")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	line := buf.String()
	if strings.Count(line, "\n") > 1 {
		t.Errorf("injected newline survived sanitization: %q", line)
	}
	if strings.Contains(line, "\r") {
		t.Errorf("carriage return survived sanitization: %q", line)
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Plain string unchanged", "GET", "GET"},
		{"Newline becomes space", "a\nb", "a b"},
		{"Carriage return becomes space", "a\rb", "a b"},
		{"Null byte stripped", "a\x00b", "ab"},
		{"ANSI escape stripped", "a\x1b[31mb", "a[31mb"},
		{"Tab preserved", "a\tb", "a\tb"},
		{"Other control chars stripped", "a\x07b", "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeLogField(tt.input); got != tt.want {
				t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "Uses RemoteAddr when no headers",
			remoteAddr: "192.168.1.10:54321",
			want:       "192.168.1.10",
		},
		{
			name:       "Prefers X-Forwarded-For",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.4"},
			want:       "203.0.113.4",
		},
		{
			name:       "Takes first hop from X-Forwarded-For list",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.4, 10.0.0.2"},
			want:       "203.0.113.4",
		},
		{
			name:       "Falls back to X-Real-IP",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
		{
			name:       "IPv6 RemoteAddr unwrapped",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEscapeW3CField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Simple token unchanged", "curl/8.1", "curl/8.1"},
		{"Spaces force quoting", "Mozilla 5.0", `"Mozilla 5.0"`},
		{"Quotes doubled", `say "hi"`, `"say ""hi"""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeW3CField(tt.input); got != tt.want {
				t.Errorf("escapeW3CField(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ============================================================================
// Metrics middleware
// ============================================================================

func TestDefaultMetricsConfig(t *testing.T) {
	config := DefaultMetricsConfig()

	want := []string{"/metrics", "/health", "/healthz", "/livez", "/readyz"}
	if len(config.SkipPaths) != len(want) {
		t.Fatalf("SkipPaths = %v, want %v", config.SkipPaths, want)
	}
	for i, p := range want {
		if config.SkipPaths[i] != p {
			t.Errorf("SkipPaths[%d] = %q, want %q", i, config.SkipPaths[i], p)
		}
	}
}

func TestMetricsMiddlewarePassthrough(t *testing.T) {
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("queued"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/abc/cancel", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if rec.Body.String() != "queued" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "queued")
	}
}

func TestMetricsMiddlewareSkipsProbePaths(t *testing.T) {
	handler := Metrics(DefaultMetricsConfig())(okHandler())

	for _, path := range []string{"/metrics", "/health", "/livez", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status for %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"Root unchanged", "/", "/"},
		{"Job list unchanged", "/api/jobs", "/api/jobs"},
		{"Queues unchanged", "/api/queues", "/api/queues"},
		{"Job ID collapsed", "/api/jobs/4f1a9c", "/api/jobs/{id}"},
		{"UUID collapsed", "/api/jobs/550e8400-e29b-41d4-a716-446655440000", "/api/jobs/{id}"},
		{"Cancel collapsed", "/api/jobs/4f1a9c/cancel", "/api/jobs/{id}/cancel"},
		{"Unknown subresource collapsed to ID", "/api/jobs/4f1a9c/other", "/api/jobs/{id}"},
		{"Trailing slash only", "/api/jobs/", "/api/jobs/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// ============================================================================
// Compression middleware
// ============================================================================

func TestCompressionRoundTrip(t *testing.T) {
	payload := strings.Repeat(`{"id":"job","status":"running"}`, 64)
	handler := Compression()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want %q", got, "gzip")
	}
	if got := rec.Header().Get("Vary"); got != "Accept-Encoding" {
		t.Errorf("Vary = %q, want %q", got, "Accept-Encoding")
	}
	if rec.Body.Len() >= len(payload) {
		t.Errorf("compressed body %d bytes, want smaller than %d", rec.Body.Len(), len(payload))
	}

	gr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	defer gr.Close()

	decoded, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(decoded) != payload {
		t.Errorf("decoded body does not match original payload")
	}
}

func TestCompressionSkippedWithoutAcceptEncoding(t *testing.T) {
	handler := Compression()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want empty", got)
	}
	if rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("body = %q, want plain JSON", rec.Body.String())
	}
}

func TestCompressionPreservesStatusCode(t *testing.T) {
	handler := Compression()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"broker unavailable"}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/queues", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Content-Encoding = %q, want %q", got, "gzip")
	}
}
