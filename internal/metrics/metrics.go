// Package metrics defines the Prometheus collectors exported by examlab.
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "examlab"

// Metrics groups the collectors updated by the lifecycle manager, the
// checker engine and the terminal bridge.
type Metrics struct {
	lifecycleOps      *prometheus.CounterVec
	lifecycleDuration *prometheus.HistogramVec
	checkRuns         *prometheus.CounterVec
	probeDuration     *prometheus.HistogramVec
	sessionsActive    prometheus.Gauge
	sessionsTotal     *prometheus.CounterVec
	engineAvailable   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_operations_total",
			Help:      "Container lifecycle operations by operation and result.",
		}, []string{"op", "result"}),
		lifecycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lifecycle_operation_duration_seconds",
			Help:      "Wall-clock time of container lifecycle operations.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op"}),
		checkRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_runs_total",
			Help:      "Check runs by aggregate status.",
		}, []string{"status"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of individual checker probes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "terminal_sessions_active",
			Help:      "Terminal sessions currently attached.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_sessions_total",
			Help:      "Terminal attach attempts by outcome.",
		}, []string{"outcome"}),
		engineAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_available",
			Help:      "1 when the container engine answered the last probe.",
		}),
	}

	reg.MustRegister(
		m.lifecycleOps,
		m.lifecycleDuration,
		m.checkRuns,
		m.probeDuration,
		m.sessionsActive,
		m.sessionsTotal,
		m.engineAvailable,
	)
	return m
}

// ObserveLifecycle records one lifecycle operation.
func (m *Metrics) ObserveLifecycle(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.lifecycleOps.WithLabelValues(op, result).Inc()
	m.lifecycleDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveCheck records one aggregate check result.
func (m *Metrics) ObserveCheck(status string) {
	if m == nil {
		return
	}
	m.checkRuns.WithLabelValues(status).Inc()
}

// ObserveProbe records one probe execution.
func (m *Metrics) ObserveProbe(passed bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	m.probeDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SessionAttached counts a successful attach and bumps the active gauge.
func (m *Metrics) SessionAttached() {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues("attached").Inc()
	m.sessionsActive.Inc()
}

// SessionClosed decrements the active gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// SessionRejected counts an attach that never reached Attached.
func (m *Metrics) SessionRejected(outcome string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(outcome).Inc()
}

// SetEngineAvailable records the latest engine probe outcome.
func (m *Metrics) SetEngineAvailable(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.engineAvailable.Set(1)
		return
	}
	m.engineAvailable.Set(0)
}
