package observability

import (
	"net/http"
	"sync/atomic"
)

// Health reports liveness of the ingestion worker on /health.
type Health struct {
	failed atomic.Pointer[string]
}

// Fail marks the process unhealthy with reason.
func (h *Health) Fail(reason string) {
	h.failed.Store(&reason)
}

// ServeHTTP writes 200 "ok" or 503 with the failure reason.
func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if reason := h.failed.Load(); reason != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(*reason))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// NewMux returns a mux serving /metrics and /health.
func NewMux(health *Health) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.Handle("/health", health)
	return mux
}
