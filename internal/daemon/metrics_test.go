package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cellwire/apnd/internal/apn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsApply(t *testing.T) {
	m := NewMetrics()

	m.ObserveApply(apn.TriggerRequest, nil, 120*time.Millisecond)
	m.ObserveApply(apn.TriggerRequest, fmt.Errorf("%w: bus gone", apn.ErrModemUnavailable), time.Millisecond)
	m.ObserveApply(apn.TriggerAutostart, apn.ErrNoContexts, time.Millisecond)
	m.ObserveApply("", errors.New("boom"), -time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.applyTotal.WithLabelValues(apn.TriggerRequest, applyResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.applyTotal.WithLabelValues(apn.TriggerRequest, applyResultModemUnavailable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.applyTotal.WithLabelValues(apn.TriggerAutostart, applyResultNoContexts)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.applyTotal.WithLabelValues("unknown", applyResultError)))
}

func TestMetricsModeStateAndClear(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modeState.WithLabelValues(string(apn.StateAuto))))

	m.SetModeState(apn.StateManualAutostart)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.modeState.WithLabelValues(string(apn.StateAuto))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.modeState.WithLabelValues(string(apn.StateManualIdle))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modeState.WithLabelValues(string(apn.StateManualAutostart))))

	m.IncClear()
	m.IncClear()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.clearTotal))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveApply(apn.TriggerRequest, nil, time.Second)
	m.IncClear()
	m.SetModeState(apn.StateAuto)
	m.ObserveRequest("/v1/status", http.MethodGet, http.StatusOK, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("/v1/templates/{id}", http.MethodGet, http.StatusNotFound, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `apnd_http_requests_total{code="404",method="GET",route="/v1/templates/{id}"} 1`)
	assert.Contains(t, body, `apnd_mode_state{state="AUTO"} 1`)
}
