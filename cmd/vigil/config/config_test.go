package config

import (
	"flag"
	"math"
	"os"
	"testing"
	"time"

	"github.com/HatiCode/vigil/pkg/anomaly"
	"github.com/HatiCode/vigil/pkg/capacity"
	"github.com/HatiCode/vigil/pkg/models"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "environment variable set",
			key:          "VIGIL_TEST_VAR",
			defaultValue: "default",
			envValue:     "from-env",
			want:         "from-env",
		},
		{
			name:         "environment variable not set",
			key:          "VIGIL_NONEXISTENT_VAR",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("VIGIL_INT", "42")
	t.Setenv("VIGIL_BAD_INT", "forty-two")
	t.Setenv("VIGIL_FLOAT", "0.75")
	t.Setenv("VIGIL_DURATION", "90s")
	t.Setenv("VIGIL_BOOL", "1")

	if got := getEnvInt("VIGIL_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("VIGIL_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt(invalid) = %d, want 7", got)
	}
	if got := getEnvFloat("VIGIL_FLOAT", 1); got != 0.75 {
		t.Errorf("getEnvFloat() = %v, want 0.75", got)
	}
	if got := getEnvDuration("VIGIL_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvBool("VIGIL_BOOL", false); !got {
		t.Error("getEnvBool() = false, want true")
	}
	if got := getEnvBool("VIGIL_UNSET_BOOL", true); !got {
		t.Error("getEnvBool(unset) = false, want default true")
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	os.Args = []string{"vigil", "evaluate", "error_count"}

	cfg := ParseFlags()

	if cfg.Command != "evaluate" || len(cfg.Args) != 1 || cfg.Args[0] != "error_count" {
		t.Errorf("Command = %q Args = %v", cfg.Command, cfg.Args)
	}
	if cfg.Storage != "file" {
		t.Errorf("Storage = %q, want file", cfg.Storage)
	}
	if cfg.Capacity != 1000 {
		t.Errorf("Capacity = %d, want 1000", cfg.Capacity)
	}
	if cfg.Confidence != "p95" {
		t.Errorf("Confidence = %q, want p95", cfg.Confidence)
	}
	if !math.IsNaN(cfg.Threshold) {
		t.Errorf("Threshold = %v, want NaN", cfg.Threshold)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParseFlags_CustomValues(t *testing.T) {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	t.Setenv("SENSITIVITY", "low")
	os.Args = []string{
		"vigil",
		"-storage=redis",
		"-redis-addr=redis:6379",
		"-redis-db=2",
		"-quorum=3",
		"-confidence=0.9",
		"-thresholds=disk>90,free_memory<512",
		"-log-format=json",
		"breach", "disk",
	}

	cfg := ParseFlags()

	if cfg.Sensitivity != "low" {
		t.Errorf("Sensitivity = %q, want low from env", cfg.Sensitivity)
	}
	if cfg.RedisAddr != "redis:6379" || cfg.RedisDB != 2 {
		t.Errorf("redis = %s/%d", cfg.RedisAddr, cfg.RedisDB)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	eng, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if eng.Detector.Sensitivity != anomaly.SensitivityLow || eng.Detector.Quorum != 3 {
		t.Errorf("detector = %+v", eng.Detector)
	}
	if eng.Forecast.ConfidenceLevel != 0.9 {
		t.Errorf("ConfidenceLevel = %v, want 0.9", eng.Forecast.ConfidenceLevel)
	}
	if eng.Capacity.Method != models.MethodEnsemble {
		t.Errorf("Capacity.Method = %s", eng.Capacity.Method)
	}
	if len(eng.Thresholds) != 2 {
		t.Fatalf("len(Thresholds) = %d, want 2", len(eng.Thresholds))
	}
}

func validConfig() *Config {
	return &Config{
		Command:     "stats",
		LogFormat:   "text",
		Storage:     "memory",
		Capacity:    1000,
		Sensitivity: "medium",
		Quorum:      2,
		MinHistory:  10,
		Confidence:  "p95",
		Method:      "ensemble",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no command", func(c *Config) { c.Command = "" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad storage", func(c *Config) { c.Storage = "s3" }, true},
		{"file without dir", func(c *Config) { c.Storage = "file" }, true},
		{"redis without addr", func(c *Config) { c.Storage = "redis" }, true},
		{"redis negative db", func(c *Config) { c.Storage, c.RedisAddr, c.RedisDB = "redis", "x:1", -1 }, true},
		{"negative horizon", func(c *Config) { c.Horizon = -1 }, true},
		{"negative limit", func(c *Config) { c.Limit = -5 }, true},
		{"zero capacity", func(c *Config) { c.Capacity = 0 }, true},
		{"bad sensitivity", func(c *Config) { c.Sensitivity = "paranoid" }, true},
		{"quorum too high", func(c *Config) { c.Quorum = 7 }, true},
		{"bad confidence", func(c *Config) { c.Confidence = "p100" }, true},
		{"bad method", func(c *Config) { c.Method = "arima" }, true},
		{"bad thresholds", func(c *Config) { c.Thresholds = "disk=90" }, true},
		{"tls cert without key", func(c *Config) { c.TLS.Enabled, c.TLS.CertFile = true, "cert.pem" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseThresholds(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []capacity.Direction
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single above", "disk>90", []capacity.Direction{capacity.Above}, false},
		{"mixed with spaces", " disk > 90 , free_memory<512 ,", []capacity.Direction{capacity.Above, capacity.Below}, false},
		{"negative value", "temp<-10", []capacity.Direction{capacity.Below}, false},
		{"no operator", "disk=90", nil, true},
		{"no metric", ">90", nil, true},
		{"bad value", "disk>lots", nil, true},
		{"infinite", "disk>Inf", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseThresholds(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseThresholds() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Direction != tt.want[i] {
					t.Errorf("[%d].Direction = %s, want %s", i, got[i].Direction, tt.want[i])
				}
			}
		})
	}

	got, _ := ParseThresholds("disk > 90")
	if got[0].Metric != "disk" || got[0].Value != 90 {
		t.Errorf("ParseThresholds() = %+v", got[0])
	}
}

func TestAnomalyFilter(t *testing.T) {
	cfg := validConfig()
	cfg.Status, cfg.Severity, cfg.Metric, cfg.Limit = "new", "critical", "cpu", 10
	f, err := cfg.AnomalyFilter()
	if err != nil {
		t.Fatalf("AnomalyFilter: %v", err)
	}
	if f.Status != anomaly.StatusNew || f.Severity != anomaly.SeverityCritical || f.Metric != "cpu" || f.Limit != 10 {
		t.Errorf("filter = %+v", f)
	}

	cfg.Status = "closed"
	if _, err := cfg.AnomalyFilter(); err == nil {
		t.Error("expected error for unknown status")
	}
}
