// Package insights ranks recent anomalies and forecasts into a short list of
// recommendations. Generate is a pure function of its input.
package insights

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/HatiCode/vigil/pkg/anomaly"
	"github.com/HatiCode/vigil/pkg/capacity"
	"github.com/HatiCode/vigil/pkg/models"
)

// Priority ranks an insight.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
)

// Kind says what an insight was derived from.
type Kind string

const (
	KindAnomaly  Kind = "anomaly"
	KindCapacity Kind = "capacity"
	KindTrend    Kind = "trend"
)

// Insight is one ranked recommendation.
type Insight struct {
	Priority Priority `json:"priority"`
	Kind     Kind     `json:"kind"`
	Message  string   `json:"message"`
	Metric   string   `json:"related_metric"`
}

// Config bounds the generator.
type Config struct {
	// MaxAnomalies is how many of the most recent anomalies are considered.
	MaxAnomalies int
	MaxInsights  int
}

// DefaultConfig returns the default generator configuration.
func DefaultConfig() Config {
	return Config{MaxAnomalies: 50, MaxInsights: 20}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAnomalies <= 0 {
		c.MaxAnomalies = d.MaxAnomalies
	}
	if c.MaxInsights <= 0 {
		c.MaxInsights = d.MaxInsights
	}
	return c
}

// Input is everything Generate looks at.
type Input struct {
	Anomalies   []anomaly.Record
	Forecasts   []models.Result
	Predictions []capacity.Prediction
}

// Generate produces insights in this order: critical unresolved anomalies,
// critical and high urgency capacity predictions, high severity unresolved
// anomalies, medium urgency capacity predictions, then rising trends on
// metrics with no open anomaly. Anomalies are grouped per metric.
func Generate(in Input, cfg Config) []Insight {
	cfg = cfg.withDefaults()

	recent := slices.Clone(in.Anomalies)
	slices.SortStableFunc(recent, func(a, b anomaly.Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(recent) > cfg.MaxAnomalies {
		recent = recent[:cfg.MaxAnomalies]
	}

	open := make(map[string]bool)
	for _, r := range recent {
		if r.Status.Open() {
			open[r.Metric] = true
		}
	}

	predictions := slices.Clone(in.Predictions)
	slices.SortStableFunc(predictions, func(a, b capacity.Prediction) int {
		return cmp.Compare(hoursOf(a), hoursOf(b))
	})

	var out []Insight
	out = append(out, anomalyInsights(recent, anomaly.SeverityCritical, PriorityCritical)...)
	out = append(out, capacityInsights(predictions, PriorityHigh, capacity.UrgencyCritical, capacity.UrgencyHigh)...)
	out = append(out, anomalyInsights(recent, anomaly.SeverityHigh, PriorityHigh)...)
	out = append(out, capacityInsights(predictions, PriorityMedium, capacity.UrgencyMedium)...)
	out = append(out, trendInsights(in.Forecasts, open)...)

	if len(out) > cfg.MaxInsights {
		out = out[:cfg.MaxInsights]
	}
	return out
}

type anomalyGroup struct {
	metric     string
	count      int
	latest     anomaly.Record
	confidence float64
}

func anomalyInsights(records []anomaly.Record, sev anomaly.Severity, prio Priority) []Insight {
	groups := make(map[string]*anomalyGroup)
	for _, r := range records {
		if r.Severity != sev || !r.Status.Open() {
			continue
		}
		g, ok := groups[r.Metric]
		if !ok {
			g = &anomalyGroup{metric: r.Metric, latest: r}
			groups[r.Metric] = g
		}
		g.count++
		g.confidence = max(g.confidence, r.Confidence)
		if r.Timestamp.After(g.latest.Timestamp) {
			g.latest = r
		}
	}

	sorted := make([]*anomalyGroup, 0, len(groups))
	for _, g := range groups {
		sorted = append(sorted, g)
	}
	slices.SortFunc(sorted, func(a, b *anomalyGroup) int {
		if c := cmp.Compare(b.confidence, a.confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.metric, b.metric)
	})

	out := make([]Insight, 0, len(sorted))
	for _, g := range sorted {
		noun := "anomaly"
		if g.count > 1 {
			noun = "anomalies"
		}
		out = append(out, Insight{
			Priority: prio,
			Kind:     KindAnomaly,
			Metric:   g.metric,
			Message: fmt.Sprintf("%s: %d unresolved %s %s; latest value %g at %s (confidence %.2f); investigate and acknowledge",
				g.metric, g.count, sev, noun, g.latest.ObservedValue,
				g.latest.Timestamp.UTC().Format(time.RFC3339), g.latest.Confidence),
		})
	}
	return out
}

func capacityInsights(predictions []capacity.Prediction, prio Priority, urgencies ...capacity.Urgency) []Insight {
	var out []Insight
	for _, p := range predictions {
		if !p.Breached() || !slices.Contains(urgencies, p.Urgency) {
			continue
		}
		out = append(out, Insight{
			Priority: prio,
			Kind:     KindCapacity,
			Metric:   p.Metric,
			Message:  p.Recommendation,
		})
	}
	return out
}

func trendInsights(forecasts []models.Result, open map[string]bool) []Insight {
	rising := make([]models.Result, 0, len(forecasts))
	for _, f := range forecasts {
		if f.Trend == models.TrendIncreasing && !open[f.Metric] {
			rising = append(rising, f)
		}
	}
	slices.SortStableFunc(rising, func(a, b models.Result) int {
		return cmp.Compare(a.Metric, b.Metric)
	})

	out := make([]Insight, 0, len(rising))
	for _, f := range rising {
		msg := fmt.Sprintf("%s is trending upward (%+.3g per hour); no open anomaly, informational", f.Metric, f.Slope)
		if n := len(f.Points); n > 0 {
			msg = fmt.Sprintf("%s is trending upward (%+.3g per hour), forecast %.3g in %gh; no open anomaly, informational",
				f.Metric, f.Slope, f.Points[n-1].Predicted, f.Points[n-1].OffsetHours)
		}
		out = append(out, Insight{
			Priority: PriorityMedium,
			Kind:     KindTrend,
			Metric:   f.Metric,
			Message:  msg,
		})
	}
	return out
}

func hoursOf(p capacity.Prediction) float64 {
	if p.HoursToBreach == nil {
		return float64(p.HorizonHours) + 1e9
	}
	return *p.HoursToBreach
}
