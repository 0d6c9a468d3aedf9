package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/txdriver/internal/driver"
	"github.com/gateway-fm/txdriver/pkg/types"
)

// PrometheusMetrics exports iteration outcomes. It implements driver.Observer.
type PrometheusMetrics struct {
	Iterations    *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	SubmitRetries *prometheus.CounterVec

	SubmitLatency    *prometheus.HistogramVec
	IterationLatency prometheus.Histogram
	SubmitAttempts   prometheus.Histogram

	CurrentTPS    prometheus.Gauge
	TargetTPS     prometheus.Gauge
	ActiveWorkers prometheus.Gauge
	RunStatus     *prometheus.GaugeVec
}

var _ driver.Observer = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates and registers the metrics with reg, or with
// the default registerer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		Iterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txdriver_iterations_total",
				Help: "Finished iterations by outcome and transaction type",
			},
			[]string{"outcome", "tx_type"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txdriver_iteration_failures_total",
				Help: "Aborted iterations by failure kind and transaction type",
			},
			[]string{"kind", "tx_type"},
		),
		SubmitRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txdriver_submit_retries_total",
				Help: "Submission attempts beyond the first",
			},
			[]string{"tx_type"},
		),
		SubmitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txdriver_submit_latency_seconds",
				Help:    "Time from first send attempt to accepted or abandoned submission",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"tx_type", "outcome"},
		),
		IterationLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "txdriver_iteration_duration_seconds",
				Help:    "Wall time of a whole iteration",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		SubmitAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "txdriver_submit_attempts",
				Help:    "Send attempts per submitted or abandoned intent",
				Buckets: []float64{1, 2, 3, 5, 10},
			},
		),
		CurrentTPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "txdriver_current_tps",
			Help: "Rolling submitted transactions per second",
		}),
		TargetTPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "txdriver_target_tps",
			Help: "Pacing rate in effect, zero when unpaced",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "txdriver_active_workers",
			Help: "Workers in the current run",
		}),
		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txdriver_run_status",
				Help: "Current run status (1 if active, 0 otherwise)",
			},
			[]string{"status"},
		),
	}
}

// ObserveIteration records one outcome. Interrupted iterations are skipped.
func (m *PrometheusMetrics) ObserveIteration(o driver.Outcome) {
	if o.Interrupted() {
		return
	}
	txType := string(o.Type)
	m.IterationLatency.Observe(o.Duration.Seconds())

	outcome := "submitted"
	if !o.Succeeded() {
		outcome = "failed"
		m.Failures.WithLabelValues(string(o.Kind), txType).Inc()
	}
	m.Iterations.WithLabelValues(outcome, txType).Inc()

	if o.Attempts > 0 {
		m.SubmitAttempts.Observe(float64(o.Attempts))
		m.SubmitLatency.WithLabelValues(txType, outcome).Observe(o.SubmitLatency.Seconds())
		if o.Attempts > 1 {
			m.SubmitRetries.WithLabelValues(txType).Add(float64(o.Attempts - 1))
		}
	}
}

// SetCurrentTPS updates the rolling TPS gauge.
func (m *PrometheusMetrics) SetCurrentTPS(tps float64) {
	m.CurrentTPS.Set(tps)
}

// SetTargetTPS updates the pacing gauge.
func (m *PrometheusMetrics) SetTargetTPS(tps float64) {
	m.TargetTPS.Set(tps)
}

// SetActiveWorkers updates the worker gauge.
func (m *PrometheusMetrics) SetActiveWorkers(n int) {
	m.ActiveWorkers.Set(float64(n))
}

// SetRunStatus sets the gauge of status to 1 and all others to 0.
func (m *PrometheusMetrics) SetRunStatus(status types.RunStatus) {
	for _, s := range []types.RunStatus{types.StatusIdle, types.StatusRunning, types.StatusStopping, types.StatusCompleted, types.StatusError} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.RunStatus.WithLabelValues(string(s)).Set(v)
	}
}

// Reset clears per-run counters and gauges. Histograms are cumulative and
// are left as they are.
func (m *PrometheusMetrics) Reset() {
	m.Iterations.Reset()
	m.Failures.Reset()
	m.SubmitRetries.Reset()
	m.CurrentTPS.Set(0)
	m.TargetTPS.Set(0)
	m.ActiveWorkers.Set(0)
	m.SetRunStatus(types.StatusIdle)
}
