// Package replay turns exported metric dumps into samples that can be
// appended to the engine in one batch.
//
// Two layouts are understood. A JSON document holds parallel arrays that are
// addressed with gjson paths:
//
//	{"data": [{"ts": "2025-01-01T00:00:00Z", "value": 12.5}, ...]}
//	ValuePath: "data.#.value", TimestampPath: "data.#.ts"
//
// JSON lines hold one object per line, addressed with paths relative to the
// line:
//
//	{"metric": "error_count", "ts": 1735689600, "value": 3}
//	MetricPath: "metric", ValuePath: "value", TimestampPath: "ts"
package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/vigil/pkg/series"
)

// Timestamp formats.
const (
	FormatRFC3339   = "rfc3339"
	FormatUnix      = "unix"
	FormatUnixMilli = "unix_milli"
)

const maxLineBytes = 1 << 20

// Config says where samples live in the input.
type Config struct {
	// Metric names every sample when MetricPath is empty or yields nothing.
	Metric string
	// MetricPath is an optional gjson path to the metric name of each sample.
	MetricPath    string
	ValuePath     string
	TimestampPath string
	// TimestampFormat is "rfc3339" (default), "unix" or "unix_milli".
	TimestampFormat string
	// Lines selects JSON lines input instead of a single document.
	Lines bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ValuePath == "" {
		return errors.New("value path is required")
	}
	if c.TimestampPath == "" {
		return errors.New("timestamp path is required")
	}
	if c.Metric == "" && c.MetricPath == "" {
		return errors.New("either a metric name or a metric path is required")
	}
	switch c.TimestampFormat {
	case "", FormatRFC3339, FormatUnix, FormatUnixMilli:
	default:
		return fmt.Errorf("invalid timestamp format: %s (must be rfc3339, unix, or unix_milli)", c.TimestampFormat)
	}
	return nil
}

// Result is a parsed batch, sorted by timestamp. Skipped counts entries that
// had no usable metric, value or timestamp.
type Result struct {
	Samples []series.Sample
	Skipped int
}

// Read parses r according to cfg.
func Read(r io.Reader, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	var (
		res Result
		err error
	)
	if cfg.Lines {
		res, err = readLines(r, cfg)
	} else {
		res, err = readDocument(r, cfg)
	}
	if err != nil {
		return Result{}, err
	}
	sort.SliceStable(res.Samples, func(i, j int) bool {
		return res.Samples[i].Timestamp.Before(res.Samples[j].Timestamp)
	})
	return res, nil
}

func readDocument(r io.Reader, cfg Config) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read input: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return Result{}, errors.New("input is not valid JSON")
	}

	values := gjson.GetBytes(data, cfg.ValuePath)
	timestamps := gjson.GetBytes(data, cfg.TimestampPath)
	if !values.Exists() {
		return Result{}, fmt.Errorf("value path %q not found in input", cfg.ValuePath)
	}
	if !timestamps.Exists() {
		return Result{}, fmt.Errorf("timestamp path %q not found in input", cfg.TimestampPath)
	}

	valArray, tsArray := values.Array(), timestamps.Array()
	if len(valArray) != len(tsArray) {
		return Result{}, fmt.Errorf("value count (%d) != timestamp count (%d)", len(valArray), len(tsArray))
	}
	var names []gjson.Result
	if cfg.MetricPath != "" {
		names = gjson.GetBytes(data, cfg.MetricPath).Array()
		if len(names) != len(valArray) {
			return Result{}, fmt.Errorf("metric count (%d) != value count (%d)", len(names), len(valArray))
		}
	}

	var res Result
	for i := range valArray {
		var name gjson.Result
		if names != nil {
			name = names[i]
		}
		s, ok := sample(cfg, name, valArray[i], tsArray[i])
		if !ok {
			res.Skipped++
			continue
		}
		res.Samples = append(res.Samples, s)
	}
	return res, nil
}

func readLines(r io.Reader, cfg Config) (Result, error) {
	var res Result
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			res.Skipped++
			continue
		}
		doc := gjson.ParseBytes(line)
		var name gjson.Result
		if cfg.MetricPath != "" {
			name = doc.Get(cfg.MetricPath)
		}
		s, ok := sample(cfg, name, doc.Get(cfg.ValuePath), doc.Get(cfg.TimestampPath))
		if !ok {
			res.Skipped++
			continue
		}
		res.Samples = append(res.Samples, s)
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("read input: %w", err)
	}
	return res, nil
}

func sample(cfg Config, name, value, ts gjson.Result) (series.Sample, bool) {
	metric := strings.TrimSpace(name.String())
	if metric == "" {
		metric = cfg.Metric
	}
	if metric == "" {
		return series.Sample{}, false
	}
	v, ok := parseValue(value)
	if !ok {
		return series.Sample{}, false
	}
	t, err := ParseTimestamp(ts, cfg.TimestampFormat)
	if err != nil {
		return series.Sample{}, false
	}
	return series.Sample{Metric: metric, Timestamp: t, Value: v}, true
}

func parseValue(r gjson.Result) (float64, bool) {
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Num
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseTimestamp parses r in the given format. Unix formats keep fractional
// parts and accept numbers or numeric strings.
func ParseTimestamp(r gjson.Result, format string) (time.Time, error) {
	if !r.Exists() {
		return time.Time{}, errors.New("timestamp missing")
	}
	switch format {
	case "", FormatRFC3339:
		return time.Parse(time.RFC3339Nano, r.String())
	case FormatUnix, FormatUnixMilli:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.String()), 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse epoch %q: %w", r.String(), err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("epoch %q is not finite", r.String())
		}
		whole := math.Floor(f)
		if format == FormatUnixMilli {
			frac := time.Duration(math.Round((f - whole) * float64(time.Millisecond)))
			return time.UnixMilli(int64(whole)).Add(frac).UTC(), nil
		}
		frac := int64(math.Round((f - whole) * float64(time.Second)))
		return time.Unix(int64(whole), frac).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

// Appender receives replayed samples.
type Appender interface {
	Append(metric string, ts time.Time, value float64) error
}

// Apply appends every sample to app. Rejected samples are counted, not fatal.
func Apply(app Appender, samples []series.Sample) (appended, rejected int) {
	for _, s := range samples {
		if err := app.Append(s.Metric, s.Timestamp, s.Value); err != nil {
			rejected++
			continue
		}
		appended++
	}
	return appended, rejected
}

// Open returns a reader for src, which is a local path, "-" for stdin, or an
// http(s) URL fetched with GET.
func Open(ctx context.Context, src string, client *http.Client) (io.ReadCloser, error) {
	switch {
	case src == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return fetch(ctx, src, client)
	default:
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", src, err)
		}
		return f, nil
	}
}

func fetch(ctx context.Context, url string, client *http.Client) (io.ReadCloser, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}
