package middleware

import (
	"log"
	"net/http"
	"time"
)

// statusWriter records the status code and body size of a response. The first
// body write locks the status at 200 when no explicit WriteHeader happened.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w}
}

func (sw *statusWriter) Status() int {
	return sw.status
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status != 0 {
		return
	}
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

// Logging logs one line per request: method, path, status, body size, elapsed.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}

		log.Printf("%s %s %d %dB %s", r.Method, r.URL.Path, status, sw.bytes, time.Since(start))
	})
}
