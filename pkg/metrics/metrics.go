// Package metrics provides Prometheus instrumentation for the engine.
//
// It exposes operational metrics about ingestion, detection, forecasting and
// persistence, including the duration of each operation, the outcome of
// every evaluation and error tracking. Collectors are registered on the
// registerer passed to New so that several engines (or tests) can each own a
// private registry.
//
// Metrics exposed:
//   - vigil_samples_appended_total: Counter of accepted samples
//   - vigil_samples_rejected_total: Counter of rejected samples by reason
//   - vigil_evaluations_total: Counter of anomaly evaluations by outcome
//   - vigil_anomalies_recorded_total: Counter of ledger records by severity
//   - vigil_evaluate_seconds: Histogram of evaluation duration
//   - vigil_forecast_seconds: Histogram of forecast duration by method
//   - vigil_breach_hours: Gauge of predicted hours to breach, configured thresholds only
//   - vigil_ledger_records: Gauge of retained ledger records
//   - vigil_persist_seconds: Histogram of persist/load duration by target
//   - vigil_errors_total: Counter of errors by component and reason
//
// Every recording helper is safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	SamplesAppended   prometheus.Counter
	SamplesRejected   *prometheus.CounterVec
	Evaluations       *prometheus.CounterVec
	AnomaliesRecorded *prometheus.CounterVec
	EvaluateSeconds   prometheus.Histogram
	ForecastSeconds   *prometheus.HistogramVec
	BreachHours       *prometheus.GaugeVec
	LedgerRecords     prometheus.Gauge
	PersistSeconds    *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil reg registers
// with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SamplesAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "vigil_samples_appended_total",
			Help: "Total number of samples accepted into the metric store",
		}),

		SamplesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_samples_rejected_total",
			Help: "Total number of samples rejected by reason",
		}, []string{"reason"}),

		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_evaluations_total",
			Help: "Total number of anomaly evaluations by outcome",
		}, []string{"outcome"}),

		AnomaliesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_anomalies_recorded_total",
			Help: "Total number of anomaly records created by severity",
		}, []string{"severity"}),

		EvaluateSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_evaluate_seconds",
			Help:    "Time spent evaluating an observation",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),

		ForecastSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_forecast_seconds",
			Help:    "Time spent producing a forecast",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		BreachHours: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_breach_hours",
			Help: "Predicted hours until a configured threshold metric breaches (-1 when no breach is forecast); ad hoc predictions are not exported",
		}, []string{"metric"}),

		LedgerRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_ledger_records",
			Help: "Number of anomaly records currently retained",
		}),

		PersistSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_persist_seconds",
			Help:    "Time spent persisting or loading engine state",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordAppend counts an accepted sample.
func (m *Metrics) RecordAppend() {
	if m == nil {
		return
	}
	m.SamplesAppended.Inc()
}

// RecordRejected counts a rejected sample.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.SamplesRejected.WithLabelValues(reason).Inc()
}

// RecordEvaluation records an evaluation outcome and its duration.
func (m *Metrics) RecordEvaluation(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
	m.EvaluateSeconds.Observe(seconds)
}

// RecordAnomaly counts a new ledger record.
func (m *Metrics) RecordAnomaly(severity string) {
	if m == nil {
		return
	}
	m.AnomaliesRecorded.WithLabelValues(severity).Inc()
}

// RecordForecast records the time spent forecasting with method.
func (m *Metrics) RecordForecast(method string, seconds float64) {
	if m == nil {
		return
	}
	m.ForecastSeconds.WithLabelValues(method).Observe(seconds)
}

// SetBreachHours sets the predicted hours to breach; negative means none.
func (m *Metrics) SetBreachHours(metric string, hours float64) {
	if m == nil {
		return
	}
	m.BreachHours.WithLabelValues(metric).Set(hours)
}

// SetLedgerRecords sets the number of retained ledger records.
func (m *Metrics) SetLedgerRecords(n int) {
	if m == nil {
		return
	}
	m.LedgerRecords.Set(float64(n))
}

// RecordPersist records the time spent persisting or loading target.
func (m *Metrics) RecordPersist(target string, seconds float64) {
	if m == nil {
		return
	}
	m.PersistSeconds.WithLabelValues(target).Observe(seconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
