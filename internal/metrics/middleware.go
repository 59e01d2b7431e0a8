package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder wraps http.ResponseWriter to capture the status code
// written by the handler, defaulting to 200 if WriteHeader is never called.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records reflex_http_requests_total and
// reflex_http_request_duration_seconds for every request, labeled by the raw
// request path. The route set behind this middleware is small and fixed
// (/process, /health, /ready, /metrics), so path cardinality stays bounded
// without needing route-template extraction.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		status := strconv.Itoa(recorder.statusCode)
		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}
