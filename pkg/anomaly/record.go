package anomaly

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Severity grades an anomaly by ensemble confidence.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor maps an ensemble confidence to a severity.
func SeverityFor(confidence float64) Severity {
	switch {
	case confidence >= 0.8:
		return SeverityCritical
	case confidence >= 0.6:
		return SeverityHigh
	case confidence >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Rank orders severities, low being 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// ParseSeverity parses a severity name.
func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return v, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Status is a record's lifecycle state.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// ParseStatus parses a lifecycle status name.
func ParseStatus(s string) (Status, error) {
	switch v := Status(strings.ToLower(strings.TrimSpace(s))); v {
	case StatusNew, StatusAcknowledged, StatusResolved:
		return v, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Open reports whether the record still needs attention.
func (s Status) Open() bool {
	return s == StatusNew || s == StatusAcknowledged
}

// Record is a persisted anomaly. Only lifecycle transitions mutate it.
type Record struct {
	ID              string             `json:"id"`
	Metric          string             `json:"metric_name"`
	Timestamp       time.Time          `json:"timestamp"`
	ObservedValue   float64            `json:"observed_value"`
	MethodScores    map[Method]float64 `json:"method_scores"`
	Votes           int                `json:"votes"`
	Confidence      float64            `json:"confidence"`
	Severity        Severity           `json:"severity"`
	Status          Status             `json:"status"`
	ResolutionNotes string             `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	AcknowledgedAt  *time.Time         `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
}

func (r Record) clone() Record {
	r.MethodScores = maps.Clone(r.MethodScores)
	if r.AcknowledgedAt != nil {
		t := *r.AcknowledgedAt
		r.AcknowledgedAt = &t
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		r.ResolvedAt = &t
	}
	return r
}
