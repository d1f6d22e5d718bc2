package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler returns the Prometheus metrics handler, mounted on the
// dedicated metrics port.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
