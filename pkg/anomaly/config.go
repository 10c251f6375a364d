package anomaly

import (
	"fmt"
	"strings"
)

// Sensitivity selects the z threshold shared by the deviation estimators.
type Sensitivity string

const (
	SensitivityHigh   Sensitivity = "high"
	SensitivityMedium Sensitivity = "medium"
	SensitivityLow    Sensitivity = "low"
)

// ParseSensitivity parses "high", "medium" or "low" (case-insensitive).
func ParseSensitivity(s string) (Sensitivity, error) {
	switch v := Sensitivity(strings.ToLower(strings.TrimSpace(s))); v {
	case SensitivityHigh, SensitivityMedium, SensitivityLow:
		return v, nil
	case "":
		return SensitivityMedium, nil
	default:
		return "", fmt.Errorf("unknown sensitivity %q (want high, medium or low)", s)
	}
}

// ZThreshold returns the number of standard deviations an observation must
// exceed to be flagged.
func (s Sensitivity) ZThreshold() float64 {
	switch s {
	case SensitivityHigh:
		return 2.5
	case SensitivityLow:
		return 3.5
	default:
		return 3.0
	}
}

// DetectorConfig tunes the estimators and the ensemble vote.
type DetectorConfig struct {
	Sensitivity Sensitivity
	// Quorum is the number of estimators that must flag an observation.
	Quorum int
	// MinHistory is the minimum retained series length before any verdict.
	MinHistory int
	// ZWindow is the trailing window used by the z-score, IQR, exponential
	// smoothing and spike estimators.
	ZWindow       int
	MAWindow      int
	MAThreshold   float64
	Alpha         float64
	TrendK        int
	TrendRatio    float64
	IQRMultiplier float64
}

// DefaultDetectorConfig returns the default detector configuration.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Sensitivity:   SensitivityMedium,
		Quorum:        2,
		MinHistory:    10,
		ZWindow:       50,
		MAWindow:      10,
		MAThreshold:   0.4,
		Alpha:         0.3,
		TrendK:        5,
		TrendRatio:    3.0,
		IQRMultiplier: 1.5,
	}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	d := DefaultDetectorConfig()
	if c.Sensitivity == "" {
		c.Sensitivity = d.Sensitivity
	}
	if c.Quorum == 0 {
		c.Quorum = d.Quorum
	}
	if c.MinHistory == 0 {
		c.MinHistory = d.MinHistory
	}
	if c.ZWindow == 0 {
		c.ZWindow = d.ZWindow
	}
	if c.MAWindow == 0 {
		c.MAWindow = d.MAWindow
	}
	if c.MAThreshold == 0 {
		c.MAThreshold = d.MAThreshold
	}
	if c.Alpha == 0 {
		c.Alpha = d.Alpha
	}
	if c.TrendK == 0 {
		c.TrendK = d.TrendK
	}
	if c.TrendRatio == 0 {
		c.TrendRatio = d.TrendRatio
	}
	if c.IQRMultiplier == 0 {
		c.IQRMultiplier = d.IQRMultiplier
	}
	return c
}

// Validate checks the configuration after defaults have been applied.
func (c DetectorConfig) Validate() error {
	if _, err := ParseSensitivity(string(c.Sensitivity)); err != nil {
		return err
	}
	if c.Quorum < 1 || c.Quorum > len(Methods) {
		return fmt.Errorf("quorum must be between 1 and %d, got %d", len(Methods), c.Quorum)
	}
	if c.MinHistory < 3 {
		return fmt.Errorf("min history must be >= 3, got %d", c.MinHistory)
	}
	if c.ZWindow < 4 {
		return fmt.Errorf("z window must be >= 4, got %d", c.ZWindow)
	}
	if c.MAWindow < 2 {
		return fmt.Errorf("moving average window must be >= 2, got %d", c.MAWindow)
	}
	if c.MAThreshold <= 0 {
		return fmt.Errorf("moving average threshold must be > 0, got %v", c.MAThreshold)
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %v", c.Alpha)
	}
	if c.TrendK < 2 {
		return fmt.Errorf("trend K must be >= 2, got %d", c.TrendK)
	}
	if c.TrendRatio <= 1 {
		return fmt.Errorf("trend ratio must be > 1, got %v", c.TrendRatio)
	}
	if c.IQRMultiplier <= 0 {
		return fmt.Errorf("IQR multiplier must be > 0, got %v", c.IQRMultiplier)
	}
	return nil
}

// LedgerConfig bounds the anomaly ledger.
type LedgerConfig struct {
	// Capacity is the maximum number of records retained.
	Capacity        int
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultLedgerConfig returns the default ledger configuration.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{Capacity: 1000, DefaultPageSize: 50, MaxPageSize: 500}
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	d := DefaultLedgerConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = d.DefaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = d.MaxPageSize
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
	return c
}
