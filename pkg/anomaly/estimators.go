package anomaly

import (
	"math"

	"github.com/HatiCode/vigil/pkg/stats"
)

// Method names one of the six estimators.
type Method string

const (
	MethodZScore        Method = "zscore"
	MethodIQR           Method = "iqr"
	MethodMovingAverage Method = "moving_average"
	MethodExpSmoothing  Method = "exp_smoothing"
	MethodSpike         Method = "spike"
	MethodTrendChange   Method = "trend_change"
)

// Methods lists the estimators in evaluation order.
var Methods = []Method{
	MethodZScore,
	MethodIQR,
	MethodMovingAverage,
	MethodExpSmoothing,
	MethodSpike,
	MethodTrendChange,
}

// Result is one estimator's verdict. An estimator that cannot compute a score
// (too little history, zero spread) abstains and does not vote.
type Result struct {
	Method    Method  `json:"method"`
	Flagged   bool    `json:"flagged"`
	Score     float64 `json:"score"`
	Abstained bool    `json:"abstained,omitempty"`
}

// estimator judges value against the samples that precede it.
type estimator func(history []float64, value float64, cfg DetectorConfig) Result

var estimators = map[Method]estimator{
	MethodZScore:        zScore,
	MethodIQR:           iqr,
	MethodMovingAverage: movingAverage,
	MethodExpSmoothing:  expSmoothing,
	MethodSpike:         spike,
	MethodTrendChange:   trendChange,
}

func abstain(m Method) Result {
	return Result{Method: m, Abstained: true}
}

func trailing(x []float64, n int) []float64 {
	if len(x) <= n {
		return x
	}
	return x[len(x)-n:]
}

// deviation turns a standardized distance into a verdict.
func deviation(m Method, z, threshold float64) Result {
	return Result{
		Method:  m,
		Flagged: z > threshold,
		Score:   stats.Clamp01(z / (2 * threshold)),
	}
}

func zScore(history []float64, value float64, cfg DetectorConfig) Result {
	w := trailing(history, cfg.ZWindow)
	if len(w) < 2 {
		return abstain(MethodZScore)
	}
	mean, sd := stats.Mean(w), stats.StdDev(w)
	if stats.IsZeroSpread(sd, mean) {
		return abstain(MethodZScore)
	}
	return deviation(MethodZScore, math.Abs(value-mean)/sd, cfg.Sensitivity.ZThreshold())
}

func iqr(history []float64, value float64, cfg DetectorConfig) Result {
	w := trailing(history, cfg.ZWindow)
	if len(w) < 4 {
		return abstain(MethodIQR)
	}
	q1, q3 := stats.Quartiles(w)
	spread := q3 - q1
	if stats.IsZeroSpread(spread, q3) {
		return abstain(MethodIQR)
	}

	lower := q1 - cfg.IQRMultiplier*spread
	upper := q3 + cfg.IQRMultiplier*spread
	var dist float64
	switch {
	case value < lower:
		dist = lower - value
	case value > upper:
		dist = value - upper
	}
	return Result{
		Method:  MethodIQR,
		Flagged: dist > 0,
		Score:   stats.Clamp01(dist / (3 * spread)),
	}
}

func movingAverage(history []float64, value float64, cfg DetectorConfig) Result {
	w := trailing(history, cfg.MAWindow)
	if len(w) < 2 {
		return abstain(MethodMovingAverage)
	}
	ma := stats.Mean(w)
	rel := math.Abs(value - ma)
	if math.Abs(ma) > stats.Epsilon {
		rel /= math.Abs(ma)
	}
	return Result{
		Method:  MethodMovingAverage,
		Flagged: rel > cfg.MAThreshold,
		Score:   stats.Clamp01(rel / (2 * cfg.MAThreshold)),
	}
}

// expSmoothing recomputes the smoothed level over the window on every call and
// scores the one-step-ahead residual of value against the spread of past
// one-step-ahead residuals.
func expSmoothing(history []float64, value float64, cfg DetectorConfig) Result {
	w := trailing(history, cfg.ZWindow)
	if len(w) < 3 {
		return abstain(MethodExpSmoothing)
	}
	level := w[0]
	residuals := make([]float64, 0, len(w)-1)
	for _, x := range w[1:] {
		residuals = append(residuals, x-level)
		level = cfg.Alpha*x + (1-cfg.Alpha)*level
	}
	sd := stats.StdDev(residuals)
	if stats.IsZeroSpread(sd, level) {
		return abstain(MethodExpSmoothing)
	}
	return deviation(MethodExpSmoothing, math.Abs(value-level)/sd, cfg.Sensitivity.ZThreshold())
}

func spike(history []float64, value float64, cfg DetectorConfig) Result {
	w := trailing(history, cfg.ZWindow)
	if len(w) < 3 {
		return abstain(MethodSpike)
	}
	diffs := stats.Diff(w)
	mean, sd := stats.Mean(diffs), stats.StdDev(diffs)
	if stats.IsZeroSpread(sd, stats.Mean(w)) {
		return abstain(MethodSpike)
	}
	d := value - w[len(w)-1]
	return deviation(MethodSpike, math.Abs(d-mean)/sd, cfg.Sensitivity.ZThreshold())
}

// trendChange compares the slope of the last K points (value included) with
// the slope of the K points before them. Slopes are scaled by K so they read
// as total change across the segment and compared with the spread of the
// earlier segment.
func trendChange(history []float64, value float64, cfg DetectorConfig) Result {
	k := cfg.TrendK
	if len(history)+1 < 2*k {
		return abstain(MethodTrendChange)
	}
	w := append(append(make([]float64, 0, 2*k), trailing(history, 2*k-1)...), value)
	prev, last := w[:k], w[k:]

	sigma := stats.StdDev(prev)
	if stats.IsZeroSpread(sigma, stats.Mean(prev)) {
		return abstain(MethodTrendChange)
	}
	s1, s2 := stats.IndexSlope(prev), stats.IndexSlope(last)
	kf := float64(k)

	reversal := math.Signbit(s1) != math.Signbit(s2) &&
		math.Abs(s1)*kf > sigma && math.Abs(s2)*kf > sigma
	steepened := math.Abs(s2) > cfg.TrendRatio*math.Abs(s1) && math.Abs(s2)*kf > sigma

	change := math.Abs(s2-s1) * kf / sigma
	threshold := cfg.Sensitivity.ZThreshold()
	return Result{
		Method:  MethodTrendChange,
		Flagged: (reversal || steepened) && change > threshold,
		Score:   stats.Clamp01(change / (2 * threshold)),
	}
}
