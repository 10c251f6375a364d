package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/HatiCode/vigil/pkg/series"
	"github.com/HatiCode/vigil/pkg/stats"
)

// History is the read side of the metric store.
type History interface {
	All(metric string) []series.Sample
}

// Forecaster projects metric history forward. It is safe for concurrent use.
type Forecaster struct {
	history History
	cfg     Config
	z       float64
	now     func() time.Time
}

// NewForecaster creates a forecaster. Zero config fields take their defaults.
func NewForecaster(h History, cfg Config) (*Forecaster, error) {
	if h == nil {
		return nil, errors.New("history cannot be nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forecast config: %w", err)
	}
	return &Forecaster{
		history: h,
		cfg:     cfg,
		z:       zScore(cfg.ConfidenceLevel),
		now:     time.Now,
	}, nil
}

// Config returns the effective configuration.
func (f *Forecaster) Config() Config {
	return f.cfg
}

// Forecast projects metric over horizonHours using method.
func (f *Forecaster) Forecast(ctx context.Context, metric string, horizonHours int, method Method) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return f.ForecastSamples(metric, f.history.All(metric), horizonHours, method)
}

// ForecastSamples projects samples, ordered oldest first, without reading the
// store.
func (f *Forecaster) ForecastSamples(metric string, samples []series.Sample, horizonHours int, method Method) (Result, error) {
	if horizonHours < 1 || horizonHours > f.cfg.MaxHorizonHours {
		return Result{}, fmt.Errorf("%w: %dh (want 1-%dh)", ErrInvalidHorizon, horizonHours, f.cfg.MaxHorizonHours)
	}
	if _, known := fitters[method]; !known && method != MethodEnsemble {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if len(samples) < f.cfg.MinSamples {
		return Result{}, fmt.Errorf("%w: metric %s has %d samples, need %d",
			ErrInsufficientHistory, metric, len(samples), f.cfg.MinSamples)
	}

	fr := newFrame(samples)
	last := samples[len(samples)-1]
	res := Result{
		Metric:          metric,
		GeneratedAt:     f.now().UTC(),
		HorizonHours:    horizonHours,
		Method:          method,
		ConfidenceLevel: f.cfg.ConfidenceLevel,
		Samples:         len(samples),
		LastValue:       last.Value,
		LastTimestamp:   last.Timestamp,
	}

	var mdl model
	if method == MethodEnsemble {
		ens, skipped, err := fitEnsemble(fr, f.cfg)
		if err != nil {
			return Result{}, fmt.Errorf("metric %s: %w", metric, err)
		}
		mdl = ens
		res.Weights = ens.weights()
		res.Skipped = skipped
	} else {
		var err error
		if mdl, err = fitters[method](fr, f.cfg); err != nil {
			return Result{}, fmt.Errorf("metric %s: %w", metric, err)
		}
	}

	res.Points = f.project(mdl, last.Timestamp, horizonHours)

	fit := stats.LinearFit(fr.hours, fr.values)
	res.Slope = fit.Slope
	if method == MethodLinear {
		r2 := fit.RSquared
		res.RSquared = &r2
	}
	res.Trend = f.classify(fr.values, fit.Slope, res.Points, horizonHours)
	return res, nil
}

func (f *Forecaster) project(mdl model, from time.Time, horizonHours int) []Point {
	steps := int(math.Floor(float64(horizonHours)/f.cfg.StepHours + stats.Epsilon))
	points := make([]Point, 0, steps)
	for k := 1; k <= steps; k++ {
		offset := float64(k) * f.cfg.StepHours
		value, hw := mdl.predict(offset)
		half := f.z * hw
		points = append(points, Point{
			OffsetHours: offset,
			Timestamp:   from.Add(time.Duration(offset * float64(time.Hour))),
			Predicted:   value,
			Lower:       value - half,
			Upper:       value + half,
		})
	}
	return points
}

// classify derives the trend from the regression slope relative to the
// series' own spread; a band wider than the observed range is volatile.
func (f *Forecaster) classify(values []float64, slope float64, points []Point, horizonHours int) Trend {
	sd := stats.StdDev(values)
	if stats.IsZeroSpread(sd, stats.Mean(values)) {
		return TrendStable
	}

	var width float64
	for _, p := range points {
		width = math.Max(width, p.Width())
	}
	if width > f.cfg.VolatileFraction*(stats.Max(values)-stats.Min(values)) {
		return TrendVolatile
	}

	if math.Abs(slope)*float64(horizonHours)/sd < f.cfg.StableRatio {
		return TrendStable
	}
	if slope > 0 {
		return TrendIncreasing
	}
	return TrendDecreasing
}
