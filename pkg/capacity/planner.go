// Package capacity turns a forecast into a breach prediction: when, if at all,
// a metric is expected to cross an operational threshold, and how urgently
// someone should act on it.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/HatiCode/vigil/pkg/models"
)

// ErrInvalidDirection is returned for a direction other than above or below.
var ErrInvalidDirection = errors.New("invalid breach direction")

// Direction selects which side of the threshold counts as a breach.
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// ParseDirection parses "above" or "below".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Above, Below:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q (want above or below)", ErrInvalidDirection, s)
	}
}

func (d Direction) crossed(value, threshold float64) bool {
	if d == Below {
		return value <= threshold
	}
	return value >= threshold
}

// Urgency buckets the time left before a breach.
type Urgency string

const (
	UrgencyNone     Urgency = "none"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// UrgencyFor maps hours to breach onto an urgency bucket.
func UrgencyFor(hoursToBreach float64) Urgency {
	switch {
	case hoursToBreach < 24:
		return UrgencyCritical
	case hoursToBreach < 72:
		return UrgencyHigh
	case hoursToBreach < 168:
		return UrgencyMedium
	default:
		return UrgencyNone
	}
}

// Prediction is the outcome of a breach check.
type Prediction struct {
	Metric            string        `json:"metric_name"`
	Threshold         float64       `json:"threshold"`
	Direction         Direction     `json:"direction"`
	CurrentValue      float64       `json:"current_value"`
	PredictedBreachAt *time.Time    `json:"predicted_breach_at"`
	HoursToBreach     *float64      `json:"hours_to_breach"`
	Urgency           Urgency       `json:"urgency"`
	Recommendation    string        `json:"recommendation"`
	HorizonHours      int           `json:"horizon_hours"`
	Method            models.Method `json:"method"`
}

// Breached reports whether a crossing was found within the horizon.
func (p Prediction) Breached() bool {
	return p.HoursToBreach != nil
}

// Forecaster produces the forecast a prediction is based on.
type Forecaster interface {
	Forecast(ctx context.Context, metric string, horizonHours int, method models.Method) (models.Result, error)
}

// Config tunes the planner.
type Config struct {
	// HorizonHours is how far ahead PredictBreach looks.
	HorizonHours int
	Method       models.Method
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{HorizonHours: 168, Method: models.MethodEnsemble}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HorizonHours <= 0 {
		c.HorizonHours = d.HorizonHours
	}
	if c.Method == "" {
		c.Method = d.Method
	}
	return c
}

// Planner predicts threshold breaches from forecasts.
type Planner struct {
	forecaster Forecaster
	cfg        Config
}

// NewPlanner creates a planner.
func NewPlanner(f Forecaster, cfg Config) (*Planner, error) {
	if f == nil {
		return nil, errors.New("forecaster cannot be nil")
	}
	cfg = cfg.withDefaults()
	if _, err := models.ParseMethod(string(cfg.Method)); err != nil {
		return nil, fmt.Errorf("invalid planner config: %w", err)
	}
	return &Planner{forecaster: f, cfg: cfg}, nil
}

// PredictBreach looks for a crossing within the configured horizon.
func (p *Planner) PredictBreach(ctx context.Context, metric string, threshold float64, dir Direction) (Prediction, error) {
	return p.PredictBreachWithin(ctx, metric, threshold, dir, p.cfg.HorizonHours)
}

// PredictBreachWithin looks for a crossing within horizonHours. A breach
// found at a shorter horizon is always found, at the same time, at a longer
// one.
func (p *Planner) PredictBreachWithin(ctx context.Context, metric string, threshold float64, dir Direction, horizonHours int) (Prediction, error) {
	if dir != Above && dir != Below {
		return Prediction{}, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return Prediction{}, fmt.Errorf("threshold must be finite, got %v", threshold)
	}
	res, err := p.forecaster.Forecast(ctx, metric, horizonHours, p.cfg.Method)
	if err != nil {
		return Prediction{}, err
	}
	return Evaluate(res, threshold, dir), nil
}

// Evaluate walks the forecast forward from the newest observed value and
// reports the first crossing, linearly interpolated between adjacent points.
// A value already past the threshold is an immediate breach.
func Evaluate(res models.Result, threshold float64, dir Direction) Prediction {
	pred := Prediction{
		Metric:       res.Metric,
		Threshold:    threshold,
		Direction:    dir,
		CurrentValue: res.LastValue,
		Urgency:      UrgencyNone,
		HorizonHours: res.HorizonHours,
		Method:       res.Method,
	}

	prevOffset, prevValue := 0.0, res.LastValue
	hours := math.NaN()
	if dir.crossed(prevValue, threshold) {
		hours = 0
	} else {
		for _, pt := range res.Points {
			if dir.crossed(pt.Predicted, threshold) {
				frac := 1.0
				if delta := pt.Predicted - prevValue; delta != 0 {
					frac = (threshold - prevValue) / delta
				}
				hours = prevOffset + math.Min(1, math.Max(0, frac))*(pt.OffsetHours-prevOffset)
				break
			}
			prevOffset, prevValue = pt.OffsetHours, pt.Predicted
		}
	}

	if !math.IsNaN(hours) {
		at := res.LastTimestamp.Add(time.Duration(hours * float64(time.Hour)))
		pred.PredictedBreachAt = &at
		pred.HoursToBreach = &hours
		pred.Urgency = UrgencyFor(hours)
	}
	pred.Recommendation = recommend(pred)
	return pred
}

func recommend(p Prediction) string {
	if !p.Breached() {
		return fmt.Sprintf("%s is not forecast to go %s %g within %dh; no action needed",
			p.Metric, p.Direction, p.Threshold, p.HorizonHours)
	}

	hours := *p.HoursToBreach
	if hours == 0 {
		return fmt.Sprintf("%s is already %s %g (current %g); act now",
			p.Metric, p.Direction, p.Threshold, p.CurrentValue)
	}

	var action string
	switch p.Urgency {
	case UrgencyCritical:
		action = "act immediately"
	case UrgencyHigh:
		action = "plan remediation within the next day"
	case UrgencyMedium:
		action = "schedule capacity work this week"
	default:
		action = "keep monitoring"
	}
	return fmt.Sprintf("%s is forecast to go %s %g in %.1fh (current %g); %s",
		p.Metric, p.Direction, p.Threshold, hours, p.CurrentValue, action)
}
