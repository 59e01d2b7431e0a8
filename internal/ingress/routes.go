package ingress

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires the reflex layer's HTTP surface onto mux: the
// processing endpoint plus the liveness/readiness/metrics ambient endpoints.
// metricsPath is ignored when metricsEnabled is false.
func RegisterRoutes(mux *http.ServeMux, handler *Handler, metricsEnabled bool, metricsPath string) {
	if mux == nil || handler == nil {
		return
	}

	mux.HandleFunc("POST /process", handler.Process)
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /ready", handler.Ready)

	if !metricsEnabled {
		return
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle("GET "+metricsPath, promhttp.Handler())
}
