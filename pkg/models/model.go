// Package models implements the forecasting methods: linear regression,
// double exponential smoothing, moving average, daily seasonality and a
// back-test weighted ensemble of the four.
//
// Every method fits a fresh model to the retained history on each call and
// keeps no state between calls. Forecasts are expressed on a time axis of
// hours, with point offsets counted from the newest sample.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HatiCode/vigil/pkg/series"
)

var (
	// ErrInsufficientHistory means the metric has too few samples for the
	// requested method. Unknown metrics report it too.
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrUnknownMethod       = errors.New("unknown forecast method")
	ErrInvalidHorizon      = errors.New("invalid forecast horizon")
)

// Method names a forecasting method.
type Method string

const (
	MethodLinear        Method = "linear"
	MethodExpSmoothing  Method = "exp_smoothing"
	MethodMovingAverage Method = "moving_average"
	MethodSeasonal      Method = "seasonal"
	MethodEnsemble      Method = "ensemble"
)

// BaseMethods are the methods the ensemble combines.
var BaseMethods = []Method{MethodLinear, MethodExpSmoothing, MethodMovingAverage, MethodSeasonal}

// ParseMethod parses a method name. The empty string selects the ensemble.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodLinear, MethodExpSmoothing, MethodMovingAverage, MethodSeasonal, MethodEnsemble:
		return m, nil
	case "":
		return MethodEnsemble, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Trend classifies the direction of a forecast.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendVolatile   Trend = "volatile"
)

// Point is one forecast value with its confidence band.
type Point struct {
	OffsetHours float64   `json:"t_offset_hours"`
	Timestamp   time.Time `json:"timestamp"`
	Predicted   float64   `json:"predicted_value"`
	Lower       float64   `json:"lower_bound"`
	Upper       float64   `json:"upper_bound"`
}

// Width returns the width of the confidence band.
func (p Point) Width() float64 {
	return p.Upper - p.Lower
}

// Result is a forecast for one metric.
type Result struct {
	Metric          string    `json:"metric_name"`
	GeneratedAt     time.Time `json:"generated_at"`
	HorizonHours    int       `json:"horizon_hours"`
	Method          Method    `json:"method"`
	Points          []Point   `json:"points"`
	Trend           Trend     `json:"trend"`
	RSquared        *float64  `json:"r_squared,omitempty"`
	Slope           float64   `json:"slope_per_hour"`
	ConfidenceLevel float64   `json:"confidence_level"`
	Samples         int       `json:"samples"`
	LastValue       float64   `json:"last_value"`
	LastTimestamp   time.Time `json:"last_timestamp"`
	// Weights holds the normalised contribution of each method to an
	// ensemble forecast.
	Weights map[Method]float64 `json:"weights,omitempty"`
	// Skipped lists ensemble members that could not be fitted.
	Skipped []Method `json:"skipped,omitempty"`
}

// Config tunes the forecaster.
type Config struct {
	// MinSamples is the minimum history for any forecast.
	MinSamples int
	// StepHours is the spacing between forecast points.
	StepHours       float64
	ConfidenceLevel float64
	MAWindow        int
	Alpha           float64
	Beta            float64
	// SeasonPeriodHours is the cycle length the seasonal method looks for.
	SeasonPeriodHours float64
	BacktestFraction  float64
	MaxBacktestPoints int
	// StableRatio is the projected change over the horizon, in standard
	// deviations of the series, below which a trend is stable.
	StableRatio float64
	// VolatileFraction is the band width, as a fraction of the observed
	// range, above which a forecast is volatile.
	VolatileFraction float64
	MaxHorizonHours  int
}

// DefaultConfig returns the default forecaster configuration.
func DefaultConfig() Config {
	return Config{
		MinSamples:        5,
		StepHours:         1,
		ConfidenceLevel:   0.95,
		MAWindow:          10,
		Alpha:             0.3,
		Beta:              0.1,
		SeasonPeriodHours: 24,
		BacktestFraction:  0.25,
		MaxBacktestPoints: 24,
		StableRatio:       0.5,
		VolatileFraction:  1.0,
		MaxHorizonHours:   720,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSamples == 0 {
		c.MinSamples = d.MinSamples
	}
	if c.StepHours == 0 {
		c.StepHours = d.StepHours
	}
	if c.ConfidenceLevel == 0 {
		c.ConfidenceLevel = d.ConfidenceLevel
	}
	if c.MAWindow == 0 {
		c.MAWindow = d.MAWindow
	}
	if c.Alpha == 0 {
		c.Alpha = d.Alpha
	}
	if c.Beta == 0 {
		c.Beta = d.Beta
	}
	if c.SeasonPeriodHours == 0 {
		c.SeasonPeriodHours = d.SeasonPeriodHours
	}
	if c.BacktestFraction == 0 {
		c.BacktestFraction = d.BacktestFraction
	}
	if c.MaxBacktestPoints == 0 {
		c.MaxBacktestPoints = d.MaxBacktestPoints
	}
	if c.StableRatio == 0 {
		c.StableRatio = d.StableRatio
	}
	if c.VolatileFraction == 0 {
		c.VolatileFraction = d.VolatileFraction
	}
	if c.MaxHorizonHours == 0 {
		c.MaxHorizonHours = d.MaxHorizonHours
	}
	return c
}

// Validate checks the configuration after defaults have been applied.
func (c Config) Validate() error {
	if c.MinSamples < 3 {
		return fmt.Errorf("min samples must be >= 3, got %d", c.MinSamples)
	}
	if c.StepHours <= 0 {
		return fmt.Errorf("step must be > 0 hours, got %v", c.StepHours)
	}
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence level must be in (0, 1), got %v", c.ConfidenceLevel)
	}
	if c.MAWindow < 2 {
		return fmt.Errorf("moving average window must be >= 2, got %d", c.MAWindow)
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %v", c.Alpha)
	}
	if c.Beta <= 0 || c.Beta > 1 {
		return fmt.Errorf("beta must be in (0, 1], got %v", c.Beta)
	}
	if c.SeasonPeriodHours < 2*c.StepHours {
		return fmt.Errorf("season period must span at least two steps, got %vh", c.SeasonPeriodHours)
	}
	if c.BacktestFraction <= 0 || c.BacktestFraction >= 1 {
		return fmt.Errorf("backtest fraction must be in (0, 1), got %v", c.BacktestFraction)
	}
	if c.MaxBacktestPoints < 1 {
		return fmt.Errorf("max backtest points must be >= 1, got %d", c.MaxBacktestPoints)
	}
	if c.MaxHorizonHours < 1 {
		return fmt.Errorf("max horizon must be >= 1 hour, got %d", c.MaxHorizonHours)
	}
	return nil
}

// frame is a series laid out on an hours axis starting at the first sample.
type frame struct {
	start  time.Time
	hours  []float64
	values []float64
}

func newFrame(samples []series.Sample) frame {
	f := frame{
		hours:  make([]float64, len(samples)),
		values: make([]float64, len(samples)),
	}
	if len(samples) == 0 {
		return f
	}
	f.start = samples[0].Timestamp
	for i, s := range samples {
		f.hours[i] = s.Timestamp.Sub(f.start).Hours()
		f.values[i] = s.Value
	}
	return f
}

func (f frame) len() int {
	return len(f.values)
}

func (f frame) lastHour() float64 {
	return f.hours[len(f.hours)-1]
}

// head returns the first n samples.
func (f frame) head(n int) frame {
	return frame{start: f.start, hours: f.hours[:n], values: f.values[:n]}
}

// interval returns the mean spacing between samples in hours, or fallback
// when the samples share a timestamp.
func (f frame) interval(fallback float64) float64 {
	if f.len() < 2 {
		return fallback
	}
	dt := (f.lastHour() - f.hours[0]) / float64(f.len()-1)
	if dt <= 0 {
		return fallback
	}
	return dt
}

// model is a method fitted to a frame.
type model interface {
	// predict returns the forecast at offset hours after the newest sample
	// and the half width of its band for a unit z. The half width must not
	// decrease as offset grows.
	predict(offset float64) (value, halfWidth float64)
}

// fitter fits one method to a frame, returning ErrInsufficientHistory when
// the method does not apply.
type fitter func(f frame, cfg Config) (model, error)

var fitters = map[Method]fitter{
	MethodLinear:        fitLinear,
	MethodExpSmoothing:  fitExpSmoothing,
	MethodMovingAverage: fitMovingAverage,
	MethodSeasonal:      fitSeasonal,
}
