package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.EventsApplied.WithLabelValues("trade_executed").Inc()
	m.EventsApplied.WithLabelValues("trade_executed").Inc()
	m.EventsSkipped.WithLabelValues("trade_executed", "duplicate").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsApplied.WithLabelValues("trade_executed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsSkipped.WithLabelValues("trade_executed", "duplicate")))

	count, err := testutil.GatherAndCount(reg, "test_ingestion_events_applied_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHealth(t *testing.T) {
	var h Health
	mux := NewMux(&h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	h.Fail("state store unavailable")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "state store unavailable", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
