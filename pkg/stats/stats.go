// Package stats holds the small set of numeric helpers shared by the anomaly
// estimators and the forecasting methods.
//
// Mean, standard deviation, least-squares fits and normal quantiles are
// delegated to gonum. Every helper is total: empty or degenerate input yields
// a zero value instead of NaN so callers can treat "no spread" uniformly.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Epsilon is the relative tolerance below which a spread is treated as zero.
const Epsilon = 1e-9

// Mean returns the arithmetic mean of x, or 0 for an empty slice.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

// StdDev returns the sample standard deviation of x, or 0 when fewer than two
// values are present.
func StdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	sd := stat.StdDev(x, nil)
	if math.IsNaN(sd) || math.IsInf(sd, 0) {
		return 0
	}
	return sd
}

// IsZeroSpread reports whether spread is negligible relative to scale.
// A constant series accumulates rounding noise in its computed variance, so an
// exact comparison against zero is not enough.
func IsZeroSpread(spread, scale float64) bool {
	return spread <= Epsilon*math.Max(1, math.Abs(scale))
}

// Min returns the smallest value in x, or 0 for an empty slice.
func Min(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Min(x)
}

// Max returns the largest value in x, or 0 for an empty slice.
func Max(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Max(x)
}

// Quartiles returns the first and third quartiles of x using linear
// interpolation between closest ranks. x is not modified.
func Quartiles(x []float64) (q1, q3 float64) {
	if len(x) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	return Percentile(sorted, 25), Percentile(sorted, 75)
}

// Percentile returns the p-th percentile (0-100) of an ascending slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	if lo == hi {
		return sorted[lo]
	}
	w := rank - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// Diff returns the first differences of x (len(x)-1 values).
func Diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		out[i-1] = x[i] - x[i-1]
	}
	return out
}

// Fit is an ordinary least squares line y = Intercept + Slope*x.
type Fit struct {
	Intercept float64
	Slope     float64
	RSquared  float64

	// ResidualStdDev is sqrt(SSres/(n-2)), 0 when n <= 2.
	ResidualStdDev float64

	// MeanX and Sxx describe the regressor and drive prediction intervals.
	MeanX float64
	Sxx   float64
	N     int
}

// LinearFit fits y against x by ordinary least squares. When x has no spread
// the fit degenerates to a flat line through the mean of y.
func LinearFit(x, y []float64) Fit {
	n := len(x)
	if n == 0 || n != len(y) {
		return Fit{}
	}

	meanX := Mean(x)
	meanY := Mean(y)
	sxx := 0.0
	for _, v := range x {
		d := v - meanX
		sxx += d * d
	}

	fit := Fit{MeanX: meanX, Sxx: sxx, N: n}
	if n < 2 || IsZeroSpread(sxx, meanX*meanX) {
		fit.Intercept = meanY
		fit.RSquared = 0
		fit.ResidualStdDev = StdDev(y)
		return fit
	}

	fit.Intercept, fit.Slope = stat.LinearRegression(x, y, nil, false)

	ssTot, ssRes := 0.0, 0.0
	for i := range x {
		pred := fit.Intercept + fit.Slope*x[i]
		ssRes += (y[i] - pred) * (y[i] - pred)
		ssTot += (y[i] - meanY) * (y[i] - meanY)
	}
	if IsZeroSpread(ssTot, meanY*meanY) {
		fit.RSquared = 1
	} else {
		fit.RSquared = math.Max(0, stat.RSquared(x, y, nil, fit.Intercept, fit.Slope))
	}
	if n > 2 {
		fit.ResidualStdDev = math.Sqrt(ssRes / float64(n-2))
	}
	return fit
}

// Predict evaluates the fitted line at x.
func (f Fit) Predict(x float64) float64 {
	return f.Intercept + f.Slope*x
}

// IndexSlope returns the least squares slope of values against their index.
func IndexSlope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	x := make([]float64, len(values))
	for i := range x {
		x[i] = float64(i)
	}
	return LinearFit(x, values).Slope
}

// NormalQuantile returns the standard normal quantile for probability p.
func NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// Clamp01 clamps v into [0, 1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
