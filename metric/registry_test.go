package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkayo32/pytake-sub013/errors"
)

func TestRegisterAndDuplicate(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_events_total",
		Help: "Inbound events handled.",
	})
	require.NoError(t, r.RegisterCounter("engine", "events_total", counter))

	// Same (component, metric) key is rejected before hitting Prometheus.
	err := r.RegisterCounter("engine", "events_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweeper_open_windows",
		Help: "Open windows seen in the last sweep.",
	})
	require.NoError(t, r.RegisterGauge("sweeper", "open_windows", gauge))

	assert.True(t, r.Unregister("sweeper", "open_windows"))
	assert.False(t, r.Unregister("sweeper", "open_windows"))

	// Re-registration after unregister must succeed.
	require.NoError(t, r.RegisterGauge("sweeper", "open_windows", gauge))
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Webhook requests.",
	})
	require.NoError(t, r.RegisterCounter("gateway", "requests_total", counter))
	counter.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway_requests_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
