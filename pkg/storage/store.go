package storage

import (
	"context"
	"fmt"
	"time"
)

// Well-known document keys written by the engine.
const (
	KeyMetrics   = "metrics"
	KeyAnomalies = "anomalies"
)

// Document is a stored state blob and the time it was last written.
type Document struct {
	Key       string
	Data      []byte
	UpdatedAt time.Time
}

// Store persists named state documents. Documents are opaque JSON bytes; the
// mapping between in-memory structures and their on-disk form lives with the
// component that owns the state.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// ValidateKey rejects keys that are unsafe as file names or Redis key suffixes.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("document key cannot be empty")
	}
	for _, c := range key {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid document key %q: only alphanumeric, hyphens, and underscores allowed", key)
		}
	}
	return nil
}
