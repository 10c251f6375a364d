package models

import (
	"fmt"
	"math"

	"github.com/HatiCode/vigil/pkg/stats"
)

// holtModel is double exponential smoothing: a smoothed level plus a smoothed
// per-sample trend, projected forward in units of the mean sample spacing.
type holtModel struct {
	level    float64
	trend    float64
	sigma    float64
	interval float64
	alpha    float64
	beta     float64
}

func fitExpSmoothing(f frame, cfg Config) (model, error) {
	if f.len() < 3 {
		return nil, fmt.Errorf("%w: exponential smoothing needs 3 samples, have %d", ErrInsufficientHistory, f.len())
	}

	y := f.values
	level, trend := y[0], y[1]-y[0]
	residuals := make([]float64, 0, len(y)-2)
	for i := 1; i < len(y); i++ {
		forecast := level + trend
		if i > 1 {
			residuals = append(residuals, y[i]-forecast)
		}
		prev := level
		level = cfg.Alpha*y[i] + (1-cfg.Alpha)*forecast
		trend = cfg.Beta*(level-prev) + (1-cfg.Beta)*trend
	}

	return &holtModel{
		level:    level,
		trend:    trend,
		sigma:    stats.StdDev(residuals),
		interval: f.interval(cfg.StepHours),
		alpha:    cfg.Alpha,
		beta:     cfg.Beta,
	}, nil
}

// predict uses the closed-form approximation of the h-step Holt forecast
// variance: sigma^2 * (1 + (h-1) * alpha^2 * (1 + h*beta)^2).
func (m *holtModel) predict(offset float64) (float64, float64) {
	h := offset / m.interval
	extra := math.Max(0, h-1) * m.alpha * m.alpha * (1 + h*m.beta) * (1 + h*m.beta)
	return m.level + m.trend*h, m.sigma * math.Sqrt(1+extra)
}
