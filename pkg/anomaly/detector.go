// Package anomaly decides whether a metric's newest observation is anomalous
// by majority vote over six independent estimators, and tracks the resulting
// records through their acknowledge/resolve lifecycle.
package anomaly

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HatiCode/vigil/pkg/series"
	"github.com/HatiCode/vigil/pkg/stats"
)

// ErrSampleNotFound is returned by EvaluateAt when no retained sample has the
// requested timestamp.
var ErrSampleNotFound = errors.New("sample not found")

// History is the read side of the metric store.
type History interface {
	All(metric string) []series.Sample
	Tail(metric string, n int) []series.Sample
}

// Verdict is the outcome of an evaluation.
type Verdict string

const (
	// VerdictInsufficientData means there is not enough history to judge.
	// It is neither an anomaly nor an error.
	VerdictInsufficientData Verdict = "insufficient_data"
	VerdictNormal           Verdict = "normal"
	VerdictAnomalous        Verdict = "anomalous"
)

// Evaluation is the ensemble verdict for one observation. Confidence and
// severity are computed for every judged observation, anomalous or not.
type Evaluation struct {
	Metric     string    `json:"metric_name"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	Verdict    Verdict   `json:"verdict"`
	Results    []Result  `json:"results,omitempty"`
	Votes      int       `json:"votes"`
	Quorum     int       `json:"quorum"`
	Confidence float64   `json:"confidence"`
	Severity   Severity  `json:"severity,omitempty"`
	History    int       `json:"history"`
}

// Anomalous reports whether the quorum was reached.
func (e Evaluation) Anomalous() bool {
	return e.Verdict == VerdictAnomalous
}

// Scores returns the score of every estimator that did not abstain.
func (e Evaluation) Scores() map[Method]float64 {
	out := make(map[Method]float64, len(e.Results))
	for _, r := range e.Results {
		if !r.Abstained {
			out[r.Method] = r.Score
		}
	}
	return out
}

// Explain summarizes the verdict in one line.
func (e Evaluation) Explain() string {
	switch e.Verdict {
	case VerdictInsufficientData:
		return fmt.Sprintf("%s: insufficient data (%d samples)", e.Metric, e.History)
	case VerdictNormal:
		return fmt.Sprintf("%s: value %g is normal (%d/%d votes)", e.Metric, e.Value, e.Votes, e.Quorum)
	}

	var flagged []string
	for _, r := range e.Results {
		if r.Flagged {
			flagged = append(flagged, fmt.Sprintf("%s=%.2f", r.Method, r.Score))
		}
	}
	return fmt.Sprintf("%s: value %g is anomalous, %s severity, confidence %.2f (%s)",
		e.Metric, e.Value, e.Severity, e.Confidence, strings.Join(flagged, ", "))
}

// Record converts an anomalous evaluation into a new ledger record. It
// returns false for any other verdict.
func (e Evaluation) Record() (Record, bool) {
	if !e.Anomalous() {
		return Record{}, false
	}
	return Record{
		Metric:        e.Metric,
		Timestamp:     e.Timestamp,
		ObservedValue: e.Value,
		MethodScores:  e.Scores(),
		Votes:         e.Votes,
		Confidence:    e.Confidence,
		Severity:      e.Severity,
		Status:        StatusNew,
	}, true
}

// Detector evaluates observations against a metric's retained history.
// It keeps no state between calls and is safe for concurrent use.
type Detector struct {
	history History
	cfg     DetectorConfig
}

// NewDetector creates a detector. Zero config fields take their defaults.
func NewDetector(h History, cfg DetectorConfig) (*Detector, error) {
	if h == nil {
		return nil, errors.New("history cannot be nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	return &Detector{history: h, cfg: cfg}, nil
}

// Config returns the effective configuration.
func (d *Detector) Config() DetectorConfig {
	return d.cfg
}

// Evaluate judges the newest sample of metric against the samples before it.
// Unknown metrics and short histories yield VerdictInsufficientData.
func (d *Detector) Evaluate(metric string) Evaluation {
	n := max(d.cfg.ZWindow, d.cfg.MAWindow, 2*d.cfg.TrendK, d.cfg.MinHistory) + 1
	samples := d.history.Tail(metric, n)
	if len(samples) == 0 {
		return Evaluation{Metric: metric, Verdict: VerdictInsufficientData, Quorum: d.cfg.Quorum}
	}
	last := len(samples) - 1
	return d.evaluate(samples[last], values(samples[:last]), len(samples))
}

// EvaluateAt judges the retained sample with timestamp ts against the samples
// that precede it. When several samples share ts, the latest one is used.
func (d *Detector) EvaluateAt(metric string, ts time.Time) (Evaluation, error) {
	samples := d.history.All(metric)
	idx := sort.Search(len(samples), func(i int) bool {
		return samples[i].Timestamp.After(ts)
	}) - 1
	if idx < 0 || !samples[idx].Timestamp.Equal(ts) {
		return Evaluation{}, fmt.Errorf("%w: metric %s at %s", ErrSampleNotFound, metric, ts.Format(time.RFC3339Nano))
	}
	return d.evaluate(samples[idx], values(samples[:idx]), len(samples)), nil
}

// EvaluateSamples judges sample against history without reading the store.
// history must be ordered oldest first and precede sample.
func (d *Detector) EvaluateSamples(sample series.Sample, history []float64) Evaluation {
	return d.evaluate(sample, history, len(history)+1)
}

func (d *Detector) evaluate(sample series.Sample, history []float64, retained int) Evaluation {
	e := Evaluation{
		Metric:    sample.Metric,
		Timestamp: sample.Timestamp,
		Value:     sample.Value,
		Quorum:    d.cfg.Quorum,
		History:   retained,
	}
	if retained < d.cfg.MinHistory || len(history) < 2 {
		e.Verdict = VerdictInsufficientData
		return e
	}

	e.Results = make([]Result, 0, len(Methods))
	var scoreSum float64
	for _, m := range Methods {
		r := estimators[m](history, sample.Value, d.cfg)
		e.Results = append(e.Results, r)
		if r.Flagged {
			e.Votes++
			scoreSum += r.Score
		}
	}

	if e.Votes > 0 {
		voteShare := float64(e.Votes) / float64(len(Methods))
		e.Confidence = stats.Clamp01(0.5*voteShare + 0.5*scoreSum/float64(e.Votes))
	}
	e.Severity = SeverityFor(e.Confidence)
	e.Verdict = VerdictNormal
	if e.Votes >= d.cfg.Quorum {
		e.Verdict = VerdictAnomalous
	}
	return e
}

func values(samples []series.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
