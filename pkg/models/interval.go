package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/HatiCode/vigil/pkg/stats"
)

// ParseConfidenceLevel parses a two-sided confidence level from either
// p-notation (p90, p95) or decimal notation (0.90, 0.95).
//
// Examples:
//   - "p80" → 0.80
//   - "p95" → 0.95
//   - "p99.9" → 0.999
//   - "0.9" → 0.90
//
// Returns an error if the format is invalid or the level is not strictly
// between 0 and 1.
func ParseConfidenceLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)

	var level float64
	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		level = percentile / 100
	} else {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid confidence level %q: %w", s, err)
		}
		level = v
	}

	if level <= 0 || level >= 1 {
		return 0, fmt.Errorf("confidence level %v out of range (0, 1)", level)
	}
	return level, nil
}

// FormatConfidenceLevel formats a confidence level as p-notation for display.
//
// Examples:
//   - 0.95 → "p95"
//   - 0.999 → "p99.9"
func FormatConfidenceLevel(level float64) string {
	percentile := math.Round(level*100*1e6) / 1e6
	if percentile == math.Trunc(percentile) {
		return fmt.Sprintf("p%d", int(percentile))
	}
	return "p" + strconv.FormatFloat(percentile, 'f', -1, 64)
}

// zScore returns the two-sided normal critical value for level.
func zScore(level float64) float64 {
	return stats.NormalQuantile(1 - (1-level)/2)
}
