// Package engine wires the metric store, anomaly detector, anomaly ledger,
// forecaster, capacity planner and insights generator into one facade.
//
// Every public operation records Prometheus metrics and logs at its boundary.
// The engine never schedules work on its own: callers append samples, ask for
// evaluations and forecasts, and decide when to Persist and Load.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/HatiCode/vigil/pkg/anomaly"
	"github.com/HatiCode/vigil/pkg/capacity"
	"github.com/HatiCode/vigil/pkg/insights"
	"github.com/HatiCode/vigil/pkg/metrics"
	"github.com/HatiCode/vigil/pkg/models"
	"github.com/HatiCode/vigil/pkg/series"
	"github.com/HatiCode/vigil/pkg/storage"
)

// DefaultForecastCacheTTL is how long a forecast stays usable for insights.
const DefaultForecastCacheTTL = 15 * time.Minute

// Threshold is a capacity limit watched by Insights.
type Threshold struct {
	Metric    string
	Value     float64
	Direction capacity.Direction
}

// Config aggregates the component configurations.
type Config struct {
	Series   series.Config
	Detector anomaly.DetectorConfig
	Ledger   anomaly.LedgerConfig
	Forecast models.Config
	Capacity capacity.Config
	Insights insights.Config

	ForecastCacheTTL time.Duration
	// InsightHorizonHours is the horizon of the forecasts Insights computes
	// for metrics with nothing cached.
	InsightHorizonHours int
	Thresholds          []Threshold
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Series:              series.DefaultConfig(),
		Detector:            anomaly.DefaultDetectorConfig(),
		Ledger:              anomaly.DefaultLedgerConfig(),
		Forecast:            models.DefaultConfig(),
		Capacity:            capacity.DefaultConfig(),
		Insights:            insights.DefaultConfig(),
		ForecastCacheTTL:    DefaultForecastCacheTTL,
		InsightHorizonHours: 24,
	}
}

func (c Config) withDefaults() Config {
	if c.ForecastCacheTTL <= 0 {
		c.ForecastCacheTTL = DefaultForecastCacheTTL
	}
	if c.InsightHorizonHours <= 0 {
		c.InsightHorizonHours = 24
	}
	return c
}

func validateThresholds(ts []Threshold) error {
	for i, t := range ts {
		if strings.TrimSpace(t.Metric) == "" {
			return fmt.Errorf("threshold %d: metric cannot be empty", i)
		}
		if math.IsNaN(t.Value) || math.IsInf(t.Value, 0) {
			return fmt.Errorf("threshold %d: value must be finite", i)
		}
		if _, err := capacity.ParseDirection(string(t.Direction)); err != nil {
			return fmt.Errorf("threshold %d: %w", i, err)
		}
	}
	return nil
}

// Engine is the entry point for callers. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	store      *series.Store
	detector   *anomaly.Detector
	ledger     *anomaly.Ledger
	forecaster *models.Forecaster
	planner    *capacity.Planner
	cache      *forecastCache
	watched    map[string]bool
	backend    storage.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates an engine. A nil backend keeps state in memory only; nil
// metrics disables instrumentation.
func New(cfg Config, backend storage.Store, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		backend = storage.NewMemoryStore()
	}
	cfg = cfg.withDefaults()
	if err := validateThresholds(cfg.Thresholds); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	store := series.New(cfg.Series, logger)
	detector, err := anomaly.NewDetector(store, cfg.Detector)
	if err != nil {
		return nil, err
	}
	forecaster, err := models.NewForecaster(store, cfg.Forecast)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		store:      store,
		detector:   detector,
		ledger:     anomaly.NewLedger(cfg.Ledger, logger),
		forecaster: forecaster,
		cache:      newForecastCache(cfg.ForecastCacheTTL),
		watched:    make(map[string]bool, len(cfg.Thresholds)),
		backend:    backend,
		metrics:    m,
		logger:     logger.With("component", "engine"),
	}
	for _, t := range cfg.Thresholds {
		e.watched[t.Metric] = true
	}
	// Breach predictions go through Forecast so they are instrumented and
	// cached like any other forecast.
	e.planner, err = capacity.NewPlanner(e, cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Append adds one sample.
func (e *Engine) Append(metric string, ts time.Time, value float64) error {
	if err := e.store.Append(metric, ts, value); err != nil {
		reason := "non_finite"
		if metric == "" {
			reason = "empty_metric"
		}
		e.metrics.RecordRejected(reason)
		return err
	}
	e.metrics.RecordAppend()
	return nil
}

// Metrics returns the names of all metrics with retained samples.
func (e *Engine) Metrics() []string {
	return e.store.Metrics()
}

// Samples returns the retained samples of metric, oldest first.
func (e *Engine) Samples(metric string) []series.Sample {
	return e.store.All(metric)
}

// Evaluate judges the newest sample of metric. An anomalous verdict is added
// to the ledger unless a record for the same sample already exists; the
// stored record is returned.
func (e *Engine) Evaluate(metric string) (anomaly.Evaluation, *anomaly.Record) {
	start := time.Now()
	ev := e.detector.Evaluate(metric)
	e.metrics.RecordEvaluation(string(ev.Verdict), time.Since(start).Seconds())
	return ev, e.record(ev)
}

// EvaluateAt judges the retained sample of metric at ts against the samples
// before it, recording it like Evaluate.
func (e *Engine) EvaluateAt(metric string, ts time.Time) (anomaly.Evaluation, *anomaly.Record, error) {
	start := time.Now()
	ev, err := e.detector.EvaluateAt(metric, ts)
	if err != nil {
		e.metrics.RecordError("detector", "sample_not_found")
		return ev, nil, err
	}
	e.metrics.RecordEvaluation(string(ev.Verdict), time.Since(start).Seconds())
	return ev, e.record(ev), nil
}

func (e *Engine) record(ev anomaly.Evaluation) *anomaly.Record {
	rec, ok := ev.Record()
	if !ok {
		return nil
	}
	stored, added, _ := e.ledger.AddIfAbsent(rec)
	if !added {
		e.logger.Debug("anomaly already recorded", "metric", ev.Metric, "id", stored.ID)
		return &stored
	}
	e.metrics.RecordAnomaly(string(stored.Severity))
	e.metrics.SetLedgerRecords(e.ledger.Len())
	e.logger.Info("anomaly recorded",
		"metric", stored.Metric,
		"id", stored.ID,
		"value", stored.ObservedValue,
		"votes", stored.Votes,
		"confidence", stored.Confidence,
		"severity", stored.Severity,
	)
	return &stored
}

// Forecast projects metric over horizonHours. Successful results replace the
// cached forecast of the metric.
func (e *Engine) Forecast(ctx context.Context, metric string, horizonHours int, method models.Method) (models.Result, error) {
	start := time.Now()
	res, err := e.forecaster.Forecast(ctx, metric, horizonHours, method)
	if err != nil {
		e.metrics.RecordError("forecast", forecastErrorReason(err))
		return res, err
	}
	e.metrics.RecordForecast(string(res.Method), time.Since(start).Seconds())
	e.cache.put(res)

	e.logger.Debug("forecast complete",
		"metric", metric,
		"method", res.Method,
		"horizon_hours", horizonHours,
		"trend", res.Trend,
		"samples", res.Samples,
	)
	return res, nil
}

func forecastErrorReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, models.ErrUnknownMethod):
		return "unknown_method"
	case errors.Is(err, models.ErrInvalidHorizon):
		return "invalid_horizon"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}

// PredictBreach looks for a threshold crossing within the planner horizon.
func (e *Engine) PredictBreach(ctx context.Context, metric string, threshold float64, dir capacity.Direction) (capacity.Prediction, error) {
	return e.observeBreach(e.planner.PredictBreach(ctx, metric, threshold, dir))
}

// PredictBreachWithin looks for a threshold crossing within horizonHours.
func (e *Engine) PredictBreachWithin(ctx context.Context, metric string, threshold float64, dir capacity.Direction, horizonHours int) (capacity.Prediction, error) {
	return e.observeBreach(e.planner.PredictBreachWithin(ctx, metric, threshold, dir, horizonHours))
}

func (e *Engine) observeBreach(pred capacity.Prediction, err error) (capacity.Prediction, error) {
	if err != nil {
		if errors.Is(err, capacity.ErrInvalidDirection) {
			e.metrics.RecordError("capacity", "invalid_direction")
		}
		return pred, err
	}
	hours := -1.0
	if pred.Breached() {
		hours = *pred.HoursToBreach
		e.logger.Info("capacity breach predicted",
			"metric", pred.Metric,
			"threshold", pred.Threshold,
			"direction", pred.Direction,
			"hours_to_breach", hours,
			"urgency", pred.Urgency,
		)
	}
	// The gauge is labelled by metric, so only configured thresholds feed it.
	if e.watched[pred.Metric] {
		e.metrics.SetBreachHours(pred.Metric, hours)
	}
	return pred, nil
}

// ListAnomalies returns one page of ledger records, newest first.
func (e *Engine) ListAnomalies(f anomaly.Filter) anomaly.Page {
	return e.ledger.List(f)
}

// Anomaly returns the ledger record with id.
func (e *Engine) Anomaly(id string) (anomaly.Record, error) {
	return e.ledger.Get(id)
}

// Acknowledge moves a new record to acknowledged.
func (e *Engine) Acknowledge(id string) (anomaly.Record, error) {
	rec, err := e.ledger.Acknowledge(id)
	if err != nil {
		return rec, err
	}
	e.logger.Info("anomaly acknowledged", "id", id, "metric", rec.Metric)
	return rec, nil
}

// Resolve closes a record with optional notes.
func (e *Engine) Resolve(id, notes string) (anomaly.Record, error) {
	rec, err := e.ledger.Resolve(id, notes)
	if err != nil {
		return rec, err
	}
	e.logger.Info("anomaly resolved", "id", id, "metric", rec.Metric)
	return rec, nil
}

// Stats counts ledger records by status and severity.
func (e *Engine) Stats() anomaly.Stats {
	return e.ledger.Stats()
}

// Insights ranks recent anomalies, fresh forecasts and breach predictions for
// the configured thresholds. Metrics without a cached forecast get an
// ensemble forecast; those with too little history are left out.
func (e *Engine) Insights(ctx context.Context) ([]insights.Insight, error) {
	n := e.cfg.Insights.MaxAnomalies
	if n <= 0 {
		n = insights.DefaultConfig().MaxAnomalies
	}
	in := insights.Input{Anomalies: e.ledger.Recent(n)}

	for _, metric := range e.store.Metrics() {
		if res, ok := e.cache.get(metric); ok {
			in.Forecasts = append(in.Forecasts, res)
			continue
		}
		res, err := e.Forecast(ctx, metric, e.cfg.InsightHorizonHours, models.MethodEnsemble)
		if err != nil {
			if errors.Is(err, models.ErrInsufficientHistory) {
				continue
			}
			return nil, fmt.Errorf("forecast %s: %w", metric, err)
		}
		in.Forecasts = append(in.Forecasts, res)
	}

	for _, t := range e.cfg.Thresholds {
		pred, err := e.PredictBreach(ctx, t.Metric, t.Value, t.Direction)
		if err != nil {
			if errors.Is(err, models.ErrInsufficientHistory) {
				continue
			}
			return nil, fmt.Errorf("predict breach %s: %w", t.Metric, err)
		}
		in.Predictions = append(in.Predictions, pred)
	}

	out := insights.Generate(in, e.cfg.Insights)
	e.logger.Debug("insights generated",
		"anomalies", len(in.Anomalies),
		"forecasts", len(in.Forecasts),
		"predictions", len(in.Predictions),
		"insights", len(out),
	)
	return out, nil
}

// Persist writes the metric store and the ledger to the backend.
func (e *Engine) Persist(ctx context.Context) error {
	var errs []error
	for _, step := range []struct {
		target string
		run    func(context.Context, storage.Store) error
	}{
		{storage.KeyMetrics, e.store.Persist},
		{storage.KeyAnomalies, e.ledger.Persist},
	} {
		start := time.Now()
		if err := step.run(ctx, e.backend); err != nil {
			e.metrics.RecordError("storage", "persist_failed")
			errs = append(errs, fmt.Errorf("persist %s: %w", step.target, err))
			continue
		}
		e.metrics.RecordPersist(step.target, time.Since(start).Seconds())
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	e.logger.Info("state persisted", "metrics", len(e.store.Metrics()), "anomalies", e.ledger.Len())
	return nil
}

// Load replaces the metric store and the ledger with the persisted state.
// Corrupt documents leave the affected component empty and usable; their
// errors are still returned.
func (e *Engine) Load(ctx context.Context) error {
	var errs []error
	for _, step := range []struct {
		target string
		run    func(context.Context, storage.Store) error
	}{
		{storage.KeyMetrics, e.store.Load},
		{storage.KeyAnomalies, e.ledger.Load},
	} {
		start := time.Now()
		if err := step.run(ctx, e.backend); err != nil {
			reason := "load_failed"
			if errors.Is(err, series.ErrCorruptState) || errors.Is(err, anomaly.ErrCorruptState) {
				reason = "corrupt_state"
			}
			e.metrics.RecordError("storage", reason)
			errs = append(errs, fmt.Errorf("load %s: %w", step.target, err))
			continue
		}
		e.metrics.RecordPersist(step.target, time.Since(start).Seconds())
	}
	e.cache.clear()
	e.metrics.SetLedgerRecords(e.ledger.Len())

	if err := errors.Join(errs...); err != nil {
		return err
	}
	e.logger.Info("state loaded", "metrics", len(e.store.Metrics()), "anomalies", e.ledger.Len())
	return nil
}
