package models

import (
	"fmt"
	"math"

	"github.com/HatiCode/vigil/pkg/stats"
)

// minBucketObservations is the number of same-phase samples needed before a
// phase bucket is trusted.
const minBucketObservations = 2

// seasonalPattern holds the statistical summary of one phase bucket.
type seasonalPattern struct {
	mean   float64
	min    float64
	max    float64
	count  int
	stddev float64
}

func computeSeasonalPattern(values []float64) *seasonalPattern {
	if len(values) == 0 {
		return nil
	}
	return &seasonalPattern{
		mean:   stats.Mean(values),
		min:    stats.Min(values),
		max:    stats.Max(values),
		count:  len(values),
		stddev: stats.StdDev(values),
	}
}

// seasonalModel averages same-phase history. A forecast is the phase mean
// plus the level shift observed over the most recent cycle.
type seasonalModel struct {
	patterns map[int]*seasonalPattern
	buckets  int
	step     float64
	period   float64
	last     float64
	overall  float64
	shift    float64
	sigma    float64
}

func fitSeasonal(f frame, cfg Config) (model, error) {
	period := cfg.SeasonPeriodHours
	if f.len() < 2 {
		return nil, fmt.Errorf("%w: seasonal needs two full %gh cycles", ErrInsufficientHistory, period)
	}
	span := f.lastHour() - f.hours[0] + f.interval(cfg.StepHours)
	if span+stats.Epsilon < 2*period {
		return nil, fmt.Errorf("%w: seasonal needs two full %gh cycles, have %.1fh", ErrInsufficientHistory, period, span)
	}

	m := &seasonalModel{
		patterns: make(map[int]*seasonalPattern),
		buckets:  max(1, int(math.Round(period/cfg.StepHours))),
		step:     cfg.StepHours,
		period:   period,
		last:     f.lastHour(),
		overall:  stats.Mean(f.values),
	}

	grouped := make(map[int][]float64)
	for i, x := range f.hours {
		b := m.bucket(x)
		grouped[b] = append(grouped[b], f.values[i])
	}
	for b, values := range grouped {
		if len(values) >= minBucketObservations {
			m.patterns[b] = computeSeasonalPattern(values)
		}
	}

	residuals := make([]float64, 0, f.len())
	var recent []float64
	for i, x := range f.hours {
		r := f.values[i] - m.base(x)
		residuals = append(residuals, r)
		if x > m.last-period {
			recent = append(recent, r)
		}
	}
	m.shift = stats.Mean(recent)
	m.sigma = stats.StdDev(residuals)
	return m, nil
}

func (m *seasonalModel) bucket(x float64) int {
	phase := math.Mod(x, m.period)
	if phase < 0 {
		phase += m.period
	}
	return int(math.Round(phase/m.step)) % m.buckets
}

func (m *seasonalModel) base(x float64) float64 {
	if p, ok := m.patterns[m.bucket(x)]; ok {
		return p.mean
	}
	return m.overall
}

func (m *seasonalModel) predict(offset float64) (float64, float64) {
	x := m.last + offset
	return m.base(x) + m.shift, m.sigma * math.Sqrt(1+offset/m.period)
}
