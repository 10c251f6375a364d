// Package series implements the bounded per-metric sample history that every
// detector and forecaster reads from.
package series

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the number of samples retained per metric.
const DefaultCapacity = 1000

var (
	// ErrInvalidSample is returned by Append for NaN or infinite values and
	// empty metric names. The store is not modified.
	ErrInvalidSample = errors.New("invalid sample")

	// ErrCorruptState is returned by Load when the persisted document cannot
	// be parsed. The store is left empty and usable.
	ErrCorruptState = errors.New("corrupt persisted metric state")
)

// Sample is a single observation of a metric.
type Sample struct {
	Metric    string    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Config controls the store.
type Config struct {
	// Capacity is the maximum number of samples kept per metric.
	Capacity int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity}
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	return c
}

// Store keeps a fixed-capacity, timestamp-ordered history per metric.
// It is safe for concurrent use: the metric map is guarded by one lock and
// every series has its own reader/writer lock, so appends to different
// metrics do not contend.
type Store struct {
	mu       sync.RWMutex
	series   map[string]*ring
	capacity int
	logger   *slog.Logger
}

// New creates an empty store.
func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Store{
		series:   make(map[string]*ring),
		capacity: cfg.Capacity,
		logger:   logger.With("component", "series"),
	}
}

// Capacity returns the per-metric sample limit.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append inserts a sample in timestamp order, evicting the oldest sample once
// the metric's series is full. Samples that arrive out of order and are older
// than every retained sample of a full series are dropped, since they are not
// among the most recent Capacity samples.
func (s *Store) Append(metric string, ts time.Time, value float64) error {
	if metric == "" {
		s.logger.Warn("rejected sample", "reason", "empty metric name")
		return fmt.Errorf("%w: empty metric name", ErrInvalidSample)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		s.logger.Warn("rejected sample", "metric", metric, "value", value, "reason", "non-finite value")
		return fmt.Errorf("%w: metric %s: non-finite value %v", ErrInvalidSample, metric, value)
	}

	sample := Sample{Metric: metric, Timestamp: ts, Value: value}
	s.mu.RLock()
	if r, ok := s.series[metric]; ok {
		r.append(sample)
		s.mu.RUnlock()
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.series[metric]
	if !ok {
		r = newRing(s.capacity)
		s.series[metric] = r
	}
	r.append(sample)
	return nil
}

// Tail returns up to n of the most recent samples, oldest first. Unknown
// metrics yield an empty slice.
func (s *Store) Tail(metric string, n int) []Sample {
	r := s.get(metric)
	if r == nil || n <= 0 {
		return []Sample{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slice(max(0, r.count-n), r.count)
}

// All returns the full retained series, oldest first.
func (s *Store) All(metric string) []Sample {
	r := s.get(metric)
	if r == nil {
		return []Sample{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slice(0, r.count)
}

// Latest returns the most recent sample of metric.
func (s *Store) Latest(metric string) (Sample, bool) {
	r := s.get(metric)
	if r == nil {
		return Sample{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return Sample{}, false
	}
	return r.at(r.count - 1), true
}

// Len returns the number of retained samples for metric.
func (s *Store) Len(metric string) int {
	r := s.get(metric)
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Metrics returns the names of all metrics with history, sorted.
func (s *Store) Metrics() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Reset drops all history.
func (s *Store) Reset() {
	s.mu.Lock()
	s.series = make(map[string]*ring)
	s.mu.Unlock()
}

// Snapshot returns a copy of every series, keyed by metric name.
func (s *Store) Snapshot() map[string][]Sample {
	out := make(map[string][]Sample)
	for _, name := range s.Metrics() {
		out[name] = s.All(name)
	}
	return out
}

// Restore replaces the store contents with snap. Samples are replayed through
// the normal insertion path, so capacity and ordering rules still apply.
// Non-finite values are skipped. An Append racing with Restore lands either
// before the swap, and is discarded with the old contents, or after it.
func (s *Store) Restore(snap map[string][]Sample) {
	fresh := make(map[string]*ring, len(snap))
	for name, samples := range snap {
		if name == "" || len(samples) == 0 {
			continue
		}
		r := newRing(s.capacity)
		for _, sample := range samples {
			if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
				continue
			}
			sample.Metric = name
			r.insert(sample)
		}
		if r.count > 0 {
			fresh[name] = r
		}
	}

	s.mu.Lock()
	s.series = fresh
	s.mu.Unlock()
}

func (s *Store) get(metric string) *ring {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[metric]
}

// ring is a circular buffer of samples kept sorted by timestamp.
type ring struct {
	mu    sync.RWMutex
	buf   []Sample
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) append(sample Sample) {
	r.mu.Lock()
	r.insert(sample)
	r.mu.Unlock()
}

func (r *ring) at(i int) Sample {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) set(i int, s Sample) {
	r.buf[(r.head+i)%len(r.buf)] = s
}

func (r *ring) slice(from, to int) []Sample {
	out := make([]Sample, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, r.at(i))
	}
	return out
}

func (r *ring) full() bool {
	return r.count == len(r.buf)
}

func (r *ring) insert(s Sample) {
	// In-order arrival is the common case.
	if r.count == 0 || !s.Timestamp.Before(r.at(r.count-1).Timestamp) {
		if r.full() {
			r.buf[r.head] = s
			r.head = (r.head + 1) % len(r.buf)
			return
		}
		r.set(r.count, s)
		r.count++
		return
	}

	// First retained sample strictly newer than s; equal timestamps keep
	// arrival order.
	pos := sort.Search(r.count, func(i int) bool {
		return r.at(i).Timestamp.After(s.Timestamp)
	})

	if r.full() {
		if pos == 0 {
			return
		}
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		pos--
	}

	for i := r.count; i > pos; i-- {
		r.set(i, r.at(i-1))
	}
	r.set(pos, s)
	r.count++
}
