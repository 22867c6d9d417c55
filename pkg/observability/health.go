package observability

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker serves liveness and readiness for a running stressor. Ready is
// consulted on every readiness probe.
type HealthChecker struct {
	startedAt time.Time
	ready     func() bool
}

// HealthStatus represents the health status response.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime,omitempty"`
}

// NewHealthChecker creates a health checker. A nil ready func always reports
// ready.
func NewHealthChecker(ready func() bool) *HealthChecker {
	return &HealthChecker{
		startedAt: time.Now(),
		ready:     ready,
	}
}

// LivenessHandler returns an http.Handler for the /healthz endpoint.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, HealthStatus{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		})
	})
}

// ReadinessHandler returns an http.Handler for the /readyz endpoint. It
// returns 503 until the stressor is running and after it has started to
// shut down.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK
		if h.ready != nil && !h.ready() {
			status.Status = "not ready"
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, code, status)
	})
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// NewHealthMux creates an http.ServeMux with health and metrics endpoints.
func NewHealthMux(health *HealthChecker, provider *Provider) *http.ServeMux {
	mux := http.NewServeMux()

	if health != nil {
		mux.Handle("/healthz", health.LivenessHandler())
		mux.Handle("/readyz", health.ReadinessHandler())
	}

	if provider != nil {
		mux.Handle("/metrics", provider.PrometheusHandler())
	}

	return mux
}

// NewServer returns an HTTP server for handler on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
