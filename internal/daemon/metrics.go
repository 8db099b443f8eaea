package daemon

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cellwire/apnd/internal/apn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Apply result labels.
const (
	applyResultOK               = "ok"
	applyResultNotFound         = "not_found"
	applyResultModemUnavailable = "modem_unavailable"
	applyResultNoContexts       = "no_contexts"
	applyResultError            = "error"
)

var modeStates = []apn.ModeState{apn.StateAuto, apn.StateManualIdle, apn.StateManualAutostart}

// Metrics collects Prometheus counters and histograms for apnd.
// It implements apn.Recorder.
type Metrics struct {
	registry             *prometheus.Registry
	applyTotal           *prometheus.CounterVec
	applyDurationSeconds *prometheus.HistogramVec
	clearTotal           prometheus.Counter
	modeState            *prometheus.GaugeVec
	httpRequestsTotal    *prometheus.CounterVec
	httpDurationSeconds  *prometheus.HistogramVec
}

var _ apn.Recorder = (*Metrics)(nil)

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	applyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apnd",
			Subsystem: "apply",
			Name:      "total",
			Help:      "Total number of template apply attempts.",
		},
		[]string{"trigger", "result"},
	)
	applyDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apnd",
			Subsystem: "apply",
			Name:      "duration_seconds",
			Help:      "Time spent pushing a template into the modem.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"trigger"},
	)
	clearTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "apnd",
			Subsystem: "config",
			Name:      "clear_total",
			Help:      "Total number of clear-all operations.",
		},
	)
	modeState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "apnd",
			Subsystem: "mode",
			Name:      "state",
			Help:      "Current mode state (1 for the active state, 0 otherwise).",
		},
		[]string{"state"},
	)
	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apnd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total control API requests.",
		},
		[]string{"route", "method", "code"},
	)
	httpDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apnd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Control API request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	registry.MustRegister(
		applyTotal,
		applyDurationSeconds,
		clearTotal,
		modeState,
		httpRequestsTotal,
		httpDurationSeconds,
	)

	m := &Metrics{
		registry:             registry,
		applyTotal:           applyTotal,
		applyDurationSeconds: applyDurationSeconds,
		clearTotal:           clearTotal,
		modeState:            modeState,
		httpRequestsTotal:    httpRequestsTotal,
		httpDurationSeconds:  httpDurationSeconds,
	}
	m.SetModeState(apn.StateAuto)
	return m
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveApply records one apply attempt.
func (m *Metrics) ObserveApply(trigger string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if trigger == "" {
		trigger = "unknown"
	}
	m.applyTotal.WithLabelValues(trigger, applyResult(err)).Inc()
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	m.applyDurationSeconds.WithLabelValues(trigger).Observe(seconds)
}

func (m *Metrics) IncClear() {
	if m == nil {
		return
	}
	m.clearTotal.Inc()
}

// SetModeState marks state as the active mode state.
func (m *Metrics) SetModeState(state apn.ModeState) {
	if m == nil {
		return
	}
	for _, s := range modeStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.modeState.WithLabelValues(string(s)).Set(value)
	}
}

func (m *Metrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	m.httpDurationSeconds.WithLabelValues(route).Observe(seconds)
}

func applyResult(err error) string {
	switch {
	case err == nil:
		return applyResultOK
	case errors.Is(err, apn.ErrNotFound):
		return applyResultNotFound
	case errors.Is(err, apn.ErrNoContexts):
		return applyResultNoContexts
	case errors.Is(err, apn.ErrModemUnavailable):
		return applyResultModemUnavailable
	default:
		return applyResultError
	}
}
