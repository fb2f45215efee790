package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

var gzipWriterPool = sync.Pool{
	New: func() any {
		// BestSpeed is plenty for small JSON payloads
		gw, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return gw
	},
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gw          *gzip.Writer
	wroteHeader bool
}

func (grw *gzipResponseWriter) WriteHeader(code int) {
	if !grw.wroteHeader {
		grw.wroteHeader = true
		grw.Header().Del("Content-Length")
		grw.ResponseWriter.WriteHeader(code)
	}
}

func (grw *gzipResponseWriter) Write(b []byte) (int, error) {
	if !grw.wroteHeader {
		grw.WriteHeader(http.StatusOK)
	}
	return grw.gw.Write(b)
}

func (grw *gzipResponseWriter) Flush() {
	grw.gw.Flush()
	if f, ok := grw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Compression returns middleware that gzips responses for clients that
// accept it. The API serves JSON, which compresses well; the /metrics
// endpoint lives on a separate mux and is handled by promhttp itself.
func Compression() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}

			gw := gzipWriterPool.Get().(*gzip.Writer)
			gw.Reset(w)
			defer func() {
				gw.Close()
				gzipWriterPool.Put(gw)
			}()

			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Add("Vary", "Accept-Encoding")

			next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gw: gw}, r)
		})
	}
}
