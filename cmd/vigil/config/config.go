// Package config parses the vigil command line.
//
// Flags take precedence over environment variables, which take precedence
// over defaults. The first positional argument names the command; the rest
// are its arguments:
//
//	vigil -storage=file -state-dir=/var/lib/vigil evaluate error_count
//	vigil -horizon=72 -method=linear forecast disk_usage
//	vigil -thresholds='disk_usage>90,free_memory<512' insights
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/vigil/pkg/anomaly"
	"github.com/HatiCode/vigil/pkg/capacity"
	"github.com/HatiCode/vigil/pkg/engine"
	"github.com/HatiCode/vigil/pkg/models"
	"github.com/HatiCode/vigil/pkg/replay"
	"github.com/HatiCode/vigil/pkg/tls"
)

// Config holds all CLI configuration.
type Config struct {
	LogFormat     string
	LogLevel      string
	Storage       string
	StateDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	TLS           tls.Config
	PrintMetrics  bool

	Capacity    int
	Sensitivity string
	Quorum      int
	MinHistory  int
	Confidence  string
	Horizon     int
	Method      string
	Threshold   float64
	Direction   string
	Thresholds  string
	LedgerSize  int

	Metric          string
	MetricPath      string
	ValuePath       string
	TimestampPath   string
	TimestampFormat string
	Lines           bool
	Evaluate        bool
	FetchTimeout    time.Duration

	Status   string
	Severity string
	Offset   int
	Limit    int
	Notes    string

	Command string
	Args    []string
}

// ParseFlags parses command-line flags and environment variables into a
// Config.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "warn"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "file"), "State backend: memory, file or redis")
	flag.StringVar(&cfg.StateDir, "state-dir", getEnv("STATE_DIR", ".vigil"), "Directory for the file backend")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 0), "Redis state TTL (0 keeps state forever)")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Use TLS for Redis and HTTPS replay sources")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS client certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS client private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for server verification")
	flag.StringVar(&cfg.TLS.ServerName, "tls-server-name", getEnv("TLS_SERVER_NAME", ""), "Override the server name checked against its certificate")

	flag.BoolVar(&cfg.PrintMetrics, "print-metrics", getEnvBool("PRINT_METRICS", false), "Write Prometheus metrics to stderr after the command")

	flag.IntVar(&cfg.Capacity, "capacity", getEnvInt("CAPACITY", 1000), "Samples retained per metric")
	flag.StringVar(&cfg.Sensitivity, "sensitivity", getEnv("SENSITIVITY", "medium"), "Detector sensitivity: high, medium or low")
	flag.IntVar(&cfg.Quorum, "quorum", getEnvInt("QUORUM", 2), "Estimators that must agree before a sample is anomalous")
	flag.IntVar(&cfg.MinHistory, "min-history", getEnvInt("MIN_HISTORY", 10), "Samples required before any verdict")
	flag.StringVar(&cfg.Confidence, "confidence", getEnv("CONFIDENCE", "p95"), "Forecast confidence level (p90, p95, 0.99)")
	flag.IntVar(&cfg.Horizon, "horizon", getEnvInt("HORIZON", 0), "Horizon in hours (0 uses 24 for forecast and 168 for breach)")
	flag.StringVar(&cfg.Method, "method", getEnv("METHOD", "ensemble"), "Forecast method: linear, exp_smoothing, moving_average, seasonal or ensemble")
	flag.Float64Var(&cfg.Threshold, "threshold", getEnvFloat("THRESHOLD", math.NaN()), "Capacity threshold for breach")
	flag.StringVar(&cfg.Direction, "direction", getEnv("DIRECTION", "above"), "Breach direction: above or below")
	flag.StringVar(&cfg.Thresholds, "thresholds", getEnv("THRESHOLDS", ""), "Watched thresholds for insights, e.g. 'disk>90,free_memory<512'")
	flag.IntVar(&cfg.LedgerSize, "ledger-size", getEnvInt("LEDGER_SIZE", 1000), "Anomaly records retained")

	flag.StringVar(&cfg.Metric, "metric", getEnv("METRIC", ""), "Metric name for replayed samples")
	flag.StringVar(&cfg.MetricPath, "metric-path", getEnv("METRIC_PATH", ""), "gjson path to each replayed sample's metric name")
	flag.StringVar(&cfg.ValuePath, "value-path", getEnv("VALUE_PATH", "value"), "gjson path to replayed values")
	flag.StringVar(&cfg.TimestampPath, "timestamp-path", getEnv("TIMESTAMP_PATH", "timestamp"), "gjson path to replayed timestamps")
	flag.StringVar(&cfg.TimestampFormat, "timestamp-format", getEnv("TIMESTAMP_FORMAT", replay.FormatRFC3339), "Timestamp format: rfc3339, unix or unix_milli")
	flag.BoolVar(&cfg.Lines, "lines", getEnvBool("LINES", false), "Replay input is JSON lines")
	flag.BoolVar(&cfg.Evaluate, "evaluate", getEnvBool("EVALUATE", false), "Evaluate every replayed sample against its history")
	flag.DurationVar(&cfg.FetchTimeout, "fetch-timeout", getEnvDuration("FETCH_TIMEOUT", 30*time.Second), "Timeout for HTTP replay sources")

	flag.StringVar(&cfg.Status, "status", "", "Filter anomalies by status: new, acknowledged or resolved")
	flag.StringVar(&cfg.Severity, "severity", "", "Filter anomalies by severity: low, medium, high or critical")
	flag.IntVar(&cfg.Offset, "offset", 0, "Anomaly list offset")
	flag.IntVar(&cfg.Limit, "limit", 0, "Anomaly list page size (0 uses the default)")
	flag.StringVar(&cfg.Notes, "notes", "", "Resolution notes")

	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		cfg.Command = args[0]
		cfg.Args = args[1:]
	}
	return cfg
}

// Validate checks settings that do not depend on the command.
func (c *Config) Validate() error {
	if c.Command == "" {
		return errors.New("command is required")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", c.LogFormat)
	}
	switch c.Storage {
	case "memory":
	case "file":
		if c.StateDir == "" {
			return errors.New("state-dir is required for file storage")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("redis-addr is required for redis storage")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("redis-db must be >= 0, got %d", c.RedisDB)
		}
		if c.RedisTTL < 0 {
			return fmt.Errorf("redis-ttl must be >= 0, got %v", c.RedisTTL)
		}
	default:
		return fmt.Errorf("invalid storage %q (must be memory, file or redis)", c.Storage)
	}
	if c.Horizon < 0 {
		return fmt.Errorf("horizon must be >= 0, got %d", c.Horizon)
	}
	if c.Offset < 0 || c.Limit < 0 {
		return errors.New("offset and limit must be >= 0")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	_, err := c.EngineConfig()
	return err
}

// EngineConfig translates the flags into an engine configuration.
func (c *Config) EngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if c.Capacity < 1 {
		return cfg, fmt.Errorf("capacity must be >= 1, got %d", c.Capacity)
	}
	cfg.Series.Capacity = c.Capacity
	cfg.Ledger.Capacity = c.LedgerSize

	sens, err := anomaly.ParseSensitivity(c.Sensitivity)
	if err != nil {
		return cfg, err
	}
	cfg.Detector.Sensitivity = sens
	cfg.Detector.Quorum = c.Quorum
	cfg.Detector.MinHistory = c.MinHistory
	if err := cfg.Detector.Validate(); err != nil {
		return cfg, err
	}

	level, err := models.ParseConfidenceLevel(c.Confidence)
	if err != nil {
		return cfg, err
	}
	cfg.Forecast.ConfidenceLevel = level

	method, err := models.ParseMethod(c.Method)
	if err != nil {
		return cfg, err
	}
	cfg.Capacity.Method = method

	cfg.Thresholds, err = ParseThresholds(c.Thresholds)
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ReplayConfig translates the replay flags.
func (c *Config) ReplayConfig() replay.Config {
	return replay.Config{
		Metric:          c.Metric,
		MetricPath:      c.MetricPath,
		ValuePath:       c.ValuePath,
		TimestampPath:   c.TimestampPath,
		TimestampFormat: c.TimestampFormat,
		Lines:           c.Lines,
	}
}

// AnomalyFilter translates the anomaly list flags.
func (c *Config) AnomalyFilter() (anomaly.Filter, error) {
	f := anomaly.Filter{Metric: c.Metric, Offset: c.Offset, Limit: c.Limit}
	if c.Status != "" {
		s, err := anomaly.ParseStatus(c.Status)
		if err != nil {
			return f, err
		}
		f.Status = s
	}
	if c.Severity != "" {
		s, err := anomaly.ParseSeverity(c.Severity)
		if err != nil {
			return f, err
		}
		f.Severity = s
	}
	return f, nil
}

// ParseThresholds parses a comma-separated list of "metric>value" or
// "metric<value" entries.
func ParseThresholds(s string) ([]engine.Threshold, error) {
	var out []engine.Threshold
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idx := strings.IndexAny(entry, "<>")
		if idx <= 0 {
			return nil, fmt.Errorf("invalid threshold %q (want metric>value or metric<value)", entry)
		}
		dir := capacity.Above
		if entry[idx] == '<' {
			dir = capacity.Below
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(entry[idx+1:]), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("invalid threshold value in %q", entry)
		}
		out = append(out, engine.Threshold{
			Metric:    strings.TrimSpace(entry[:idx]),
			Value:     value,
			Direction: dir,
		})
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
