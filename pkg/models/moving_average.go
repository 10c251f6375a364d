package models

import (
	"fmt"
	"math"

	"github.com/HatiCode/vigil/pkg/stats"
)

// movingAverageModel projects the mean of the trailing window as a flat line.
type movingAverageModel struct {
	mean     float64
	sigma    float64
	window   float64
	interval float64
}

func fitMovingAverage(f frame, cfg Config) (model, error) {
	if f.len() < 2 {
		return nil, fmt.Errorf("%w: moving average needs 2 samples, have %d", ErrInsufficientHistory, f.len())
	}
	w := f.values[max(0, f.len()-cfg.MAWindow):]
	return &movingAverageModel{
		mean:     stats.Mean(w),
		sigma:    stats.StdDev(w),
		window:   float64(len(w)),
		interval: f.interval(cfg.StepHours),
	}, nil
}

func (m *movingAverageModel) predict(offset float64) (float64, float64) {
	steps := offset / m.interval
	return m.mean, m.sigma * math.Sqrt(1+steps/m.window)
}
