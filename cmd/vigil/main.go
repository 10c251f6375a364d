// Command vigil is the operator CLI for the anomaly detection and forecasting
// engine.
//
// Every invocation loads the persisted engine state, runs one command and,
// when the command changed anything, persists the state again. Results are
// written to stdout as JSON; logs go to stderr.
//
// Commands:
//
//	append <metric> <value> [timestamp]  add a sample and evaluate it
//	replay <file|url|->                  append exported samples in bulk
//	evaluate <metric> [timestamp]        judge the newest (or a given) sample
//	forecast <metric>                    project a metric with confidence bands
//	breach <metric>                      predict when -threshold is crossed
//	anomalies                            list anomaly records
//	ack <id>                             acknowledge an anomaly
//	resolve <id>                         resolve an anomaly (-notes)
//	stats                                count anomaly records
//	metrics                              list retained metrics
//	insights                             rank recommendations
//
// Usage:
//
//	vigil -lines -metric-path=metric -timestamp-format=unix replay samples.jsonl
//	vigil -threshold=90 -direction=above breach disk_usage
//	vigil -status=new -severity=critical anomalies
//
// Environment variables:
//
//	STORAGE        - State backend: memory, file, redis (default: file)
//	STATE_DIR      - Directory for the file backend (default: .vigil)
//	REDIS_ADDR     - Redis server address
//	SENSITIVITY    - Detector sensitivity: high, medium, low (default: medium)
//	CONFIDENCE     - Forecast confidence level (default: p95)
//	THRESHOLDS     - Watched thresholds for insights, e.g. disk>90
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: warn)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/HatiCode/vigil/cmd/vigil/config"
	"github.com/HatiCode/vigil/cmd/vigil/logger"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	if cfg.Command == "version" {
		fmt.Println(version)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	err := run(ctx, cfg, reg, os.Stdout, log)

	if cfg.PrintMetrics {
		if werr := writeMetrics(os.Stderr, reg); werr != nil {
			log.Error("failed to write metrics", "error", werr)
		}
	}
	if err != nil {
		log.Error("command failed", "command", cfg.Command, "error", err)
		os.Exit(1)
	}
}

// writeMetrics dumps every collector in reg in the Prometheus text format.
func writeMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}
