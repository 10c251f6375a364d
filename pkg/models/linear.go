package models

import (
	"fmt"
	"math"

	"github.com/HatiCode/vigil/pkg/stats"
)

// linearModel is an ordinary least squares line over (hours, value).
type linearModel struct {
	fit  stats.Fit
	last float64
}

func fitLinear(f frame, _ Config) (model, error) {
	if f.len() < 3 {
		return nil, fmt.Errorf("%w: linear regression needs 3 samples, have %d", ErrInsufficientHistory, f.len())
	}
	return &linearModel{fit: stats.LinearFit(f.hours, f.values), last: f.lastHour()}, nil
}

// predict widens the band with the standard prediction interval term, which
// grows with the squared distance from the centre of the fitted data.
func (m *linearModel) predict(offset float64) (float64, float64) {
	x := m.last + offset
	n := float64(m.fit.N)
	spread := 1 + 1/n
	if m.fit.Sxx > 0 {
		d := x - m.fit.MeanX
		spread += d * d / m.fit.Sxx
	}
	return m.fit.Predict(x), m.fit.ResidualStdDev * math.Sqrt(spread)
}
