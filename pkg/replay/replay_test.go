package replay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/vigil/pkg/series"
)

func TestRead_Document(t *testing.T) {
	doc := `{
        "data": [
            {"timestamp": "2025-01-01T00:02:00Z", "value": 120.8},
            {"timestamp": "2025-01-01T00:00:00Z", "value": 100.5},
            {"timestamp": "2025-01-01T00:01:00Z", "value": "110.2"},
            {"timestamp": "not a time", "value": 1},
            {"timestamp": "2025-01-01T00:03:00Z", "value": null}
        ]
    }`

	res, err := Read(strings.NewReader(doc), Config{
		Metric:        "response_time",
		ValuePath:     "data.#.value",
		TimestampPath: "data.#.timestamp",
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", res.Skipped)
	}

	want := []float64{100.5, 110.2, 120.8}
	if len(res.Samples) != len(want) {
		t.Fatalf("len(Samples) = %d, want %d", len(res.Samples), len(want))
	}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range res.Samples {
		if s.Value != want[i] {
			t.Errorf("Samples[%d].Value = %v, want %v", i, s.Value, want[i])
		}
		if !s.Timestamp.Equal(base.Add(time.Duration(i) * time.Minute)) {
			t.Errorf("Samples[%d].Timestamp = %v, not sorted", i, s.Timestamp)
		}
		if s.Metric != "response_time" {
			t.Errorf("Samples[%d].Metric = %q", i, s.Metric)
		}
	}
}

func TestRead_DocumentMetricPath(t *testing.T) {
	doc := `{"results": [
        {"name": "cpu", "ts": 1704067200, "val": 42.0},
        {"name": "", "ts": 1704067260, "val": 43.0},
        {"name": "mem", "ts": 1704067320, "val": 44.0}
    ]}`

	res, err := Read(strings.NewReader(doc), Config{
		Metric:          "fallback",
		MetricPath:      "results.#.name",
		ValuePath:       "results.#.val",
		TimestampPath:   "results.#.ts",
		TimestampFormat: FormatUnix,
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := make([]string, 0, len(res.Samples))
	for _, s := range res.Samples {
		got = append(got, s.Metric)
	}
	if strings.Join(got, ",") != "cpu,fallback,mem" {
		t.Errorf("metrics = %v, want [cpu fallback mem]", got)
	}
	if !res.Samples[0].Timestamp.Equal(time.Unix(1704067200, 0)) {
		t.Errorf("Timestamp = %v", res.Samples[0].Timestamp)
	}
}

func TestRead_DocumentErrors(t *testing.T) {
	cfg := Config{Metric: "m", ValuePath: "data.#.v", TimestampPath: "data.#.t"}
	tests := []struct {
		name  string
		input string
		cfg   Config
	}{
		{"invalid json", `{"data": [`, cfg},
		{"missing values", `{"other": []}`, cfg},
		{"missing timestamps", `{"data": [{"v": 1}]}`, Config{Metric: "m", ValuePath: "data.#.v", TimestampPath: "ts.#.t"}},
		{"length mismatch", `{"data": [{"v": 1, "t": "2025-01-01T00:00:00Z"}], "ts": [1, 2]}`,
			Config{Metric: "m", ValuePath: "data.#.v", TimestampPath: "ts"}},
		{"metric mismatch", `{"data": [{"v": 1, "t": "2025-01-01T00:00:00Z"}], "names": ["a", "b"]}`,
			Config{MetricPath: "names", ValuePath: "data.#.v", TimestampPath: "data.#.t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input), tt.cfg); err == nil {
				t.Error("Read() expected error, got nil")
			}
		})
	}
}

func TestRead_Lines(t *testing.T) {
	input := strings.Join([]string{
		`{"metric": "error_count", "ts": 1704067260000, "value": 4}`,
		``,
		`{"metric": "error_count", "ts": 1704067200000, "value": 3}`,
		`not json`,
		`{"metric": "health_score", "ts": 1704067200500, "value": 0.97}`,
		`{"metric": "error_count", "ts": 1704067320000, "value": "NaN"}`,
		`{"ts": 1704067380000, "value": 5}`,
		`   `,
	}, "\n")

	res, err := Read(strings.NewReader(input), Config{
		Lines:           true,
		MetricPath:      "metric",
		ValuePath:       "value",
		TimestampPath:   "ts",
		TimestampFormat: FormatUnixMilli,
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", res.Skipped)
	}

	want := []series.Sample{
		{Metric: "error_count", Timestamp: time.UnixMilli(1704067200000), Value: 3},
		{Metric: "health_score", Timestamp: time.UnixMilli(1704067200500), Value: 0.97},
		{Metric: "error_count", Timestamp: time.UnixMilli(1704067260000), Value: 4},
	}
	if len(res.Samples) != len(want) {
		t.Fatalf("len(Samples) = %d, want %d", len(res.Samples), len(want))
	}
	for i := range want {
		got := res.Samples[i]
		if got.Metric != want[i].Metric || got.Value != want[i].Value || !got.Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("Samples[%d] = %+v, want %+v", i, got, want[i])
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Metric: "m", ValuePath: "v", TimestampPath: "t"}, false},
		{"metric path only", Config{MetricPath: "n", ValuePath: "v", TimestampPath: "t"}, false},
		{"no value path", Config{Metric: "m", TimestampPath: "t"}, true},
		{"no timestamp path", Config{Metric: "m", ValuePath: "v"}, true},
		{"no metric", Config{ValuePath: "v", TimestampPath: "t"}, true},
		{"bad format", Config{Metric: "m", ValuePath: "v", TimestampPath: "t", TimestampFormat: "iso"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		format  string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", `"2025-01-01T00:00:00Z"`, "", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339 nano offset", `"2025-01-01T01:00:00.25+01:00"`, FormatRFC3339, time.Date(2025, 1, 1, 0, 0, 0, 250000000, time.UTC), false},
		{"unix int", `1704067200`, FormatUnix, time.Unix(1704067200, 0), false},
		{"unix fraction", `1704067200.5`, FormatUnix, time.Unix(1704067200, 500000000), false},
		{"unix string", `"1704067200"`, FormatUnix, time.Unix(1704067200, 0), false},
		{"unix negative", `-1.5`, FormatUnix, time.Unix(-2, 500000000), false},
		{"unix milli", `1704067200123`, FormatUnixMilli, time.UnixMilli(1704067200123), false},
		{"bad rfc3339", `"yesterday"`, FormatRFC3339, time.Time{}, true},
		{"bad epoch", `"soon"`, FormatUnix, time.Time{}, true},
		{"unknown format", `1`, "iso", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(gjson.Parse(tt.raw), tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := ParseTimestamp(gjson.Get(`{}`, "missing"), FormatUnix); err == nil {
		t.Error("ParseTimestamp(missing) expected error")
	}
}

func TestApply(t *testing.T) {
	store := series.New(series.DefaultConfig(), nil)
	now := time.Now()
	appended, rejected := Apply(store, []series.Sample{
		{Metric: "cpu", Timestamp: now, Value: 1},
		{Metric: "", Timestamp: now, Value: 2},
		{Metric: "cpu", Timestamp: now.Add(time.Second), Value: 3},
	})
	if appended != 2 || rejected != 1 {
		t.Errorf("Apply() = (%d, %d), want (2, 1)", appended, rejected)
	}
	if store.Len("cpu") != 2 {
		t.Errorf("Len(cpu) = %d, want 2", store.Len("cpu"))
	}
}

func TestOpen(t *testing.T) {
	const body = `{"data": [{"t": "2025-01-01T00:00:00Z", "v": 1}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json header")
		}
		if r.URL.Path == "/missing" {
			http.Error(w, "no such export", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "export.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{"file", path, false},
		{"http", server.URL + "/export", false},
		{"http status", server.URL + "/missing", true},
		{"missing file", filepath.Join(t.TempDir(), "nope.json"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := Open(context.Background(), tt.src, server.Client())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer rc.Close()
			res, err := Read(rc, Config{Metric: "m", ValuePath: "data.#.v", TimestampPath: "data.#.t"})
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if len(res.Samples) != 1 {
				t.Errorf("len(Samples) = %d, want 1", len(res.Samples))
			}
		})
	}
}
