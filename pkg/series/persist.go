package series

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/vigil/pkg/storage"
)

// point is the on-disk form of a sample. Timestamps are epoch seconds written
// as an exact decimal so that nanosecond precision survives a round-trip.
type point struct {
	T json.Number `json:"t"`
	V float64     `json:"v"`
}

// EncodeDocument renders a snapshot as {metric: [{"t": <epoch>, "v": <value>}]}.
func EncodeDocument(snap map[string][]Sample) ([]byte, error) {
	doc := make(map[string][]point, len(snap))
	for name, samples := range snap {
		pts := make([]point, 0, len(samples))
		for _, s := range samples {
			pts = append(pts, point{T: formatEpoch(s.Timestamp), V: s.Value})
		}
		doc[name] = pts
	}
	return json.Marshal(doc)
}

// DecodeDocument parses a metric document. Unknown fields are ignored and
// individual points with a missing or malformed "t" or "v" are skipped; the
// number of skipped points is returned alongside the samples. A document that
// is not a JSON object yields ErrCorruptState.
func DecodeDocument(data []byte) (map[string][]Sample, int, error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, fmt.Errorf("%w: invalid json", ErrCorruptState)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, 0, fmt.Errorf("%w: document is not an object", ErrCorruptState)
	}

	out := make(map[string][]Sample)
	skipped := 0
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if name == "" || !value.IsArray() {
			skipped++
			return true
		}
		value.ForEach(func(_, p gjson.Result) bool {
			ts, ok := parseTimestamp(p.Get("t"))
			v := p.Get("v")
			if !ok || v.Type != gjson.Number {
				skipped++
				return true
			}
			out[name] = append(out[name], Sample{Metric: name, Timestamp: ts, Value: v.Float()})
			return true
		})
		return true
	})
	return out, skipped, nil
}

// Persist writes the full store to st under storage.KeyMetrics.
func (s *Store) Persist(ctx context.Context, st storage.Store) error {
	data, err := EncodeDocument(s.Snapshot())
	if err != nil {
		return fmt.Errorf("encode metric document: %w", err)
	}
	if err := st.Put(ctx, storage.KeyMetrics, data); err != nil {
		return fmt.Errorf("persist metric document: %w", err)
	}
	return nil
}

// Load replaces the store contents with the document persisted in st.
// A missing document leaves the store empty. A corrupt document also leaves
// the store empty, logs a warning and returns an error wrapping
// ErrCorruptState so the caller can report it.
func (s *Store) Load(ctx context.Context, st storage.Store) error {
	data, found, err := st.Get(ctx, storage.KeyMetrics)
	if err != nil {
		return fmt.Errorf("load metric document: %w", err)
	}
	if !found {
		s.Reset()
		return nil
	}

	snap, skipped, err := DecodeDocument(data)
	if err != nil {
		s.Reset()
		s.logger.Warn("starting with empty metric store", "error", err)
		return err
	}
	if skipped > 0 {
		s.logger.Debug("skipped malformed points while loading", "count", skipped)
	}
	s.Restore(snap)
	s.logger.Info("loaded metric store", "metrics", len(snap))
	return nil
}

func formatEpoch(t time.Time) json.Number {
	sec, nsec := t.Unix(), int64(t.Nanosecond())
	if nsec == 0 {
		return json.Number(strconv.FormatInt(sec, 10))
	}
	sign := ""
	if sec < 0 {
		sign = "-"
		sec = -(sec + 1)
		nsec = 1e9 - nsec
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", nsec), "0")
	return json.Number(fmt.Sprintf("%s%d.%s", sign, sec, frac))
}

// parseTimestamp accepts epoch seconds (exact decimal or float) and RFC 3339
// strings.
func parseTimestamp(r gjson.Result) (time.Time, bool) {
	switch r.Type {
	case gjson.Number:
		t, err := parseEpoch(r.Raw)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, r.Str)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

func parseEpoch(raw string) (time.Time, error) {
	if strings.ContainsAny(raw, "eE") {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return time.Time{}, err
		}
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)), nil
	}

	neg := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")
	intPart, fracPart, _ := strings.Cut(raw, ".")

	sec, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var nsec int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		fracPart += strings.Repeat("0", 9-len(fracPart))
		if nsec, err = strconv.ParseInt(fracPart, 10, 64); err != nil {
			return time.Time{}, err
		}
	}
	if neg {
		sec, nsec = -sec, -nsec
	}
	return time.Unix(sec, nsec), nil
}
