package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/vigil/cmd/vigil/config"
	"github.com/HatiCode/vigil/pkg/anomaly"
	"github.com/HatiCode/vigil/pkg/capacity"
	"github.com/HatiCode/vigil/pkg/engine"
	"github.com/HatiCode/vigil/pkg/metrics"
	"github.com/HatiCode/vigil/pkg/models"
	"github.com/HatiCode/vigil/pkg/replay"
	"github.com/HatiCode/vigil/pkg/series"
	"github.com/HatiCode/vigil/pkg/storage"
	"github.com/HatiCode/vigil/pkg/tls"
)

const defaultForecastHorizon = 24

type app struct {
	cfg    *config.Config
	eng    *engine.Engine
	out    io.Writer
	log    *slog.Logger
	client *http.Client
}

type command struct {
	// args is the minimum number of positional arguments.
	args  int
	usage string
	// mutates means the state is persisted after a successful run.
	mutates bool
	run     func(ctx context.Context, a *app) error
}

var commands = map[string]command{
	"append":    {args: 2, usage: "append <metric> <value> [timestamp]", mutates: true, run: runAppend},
	"replay":    {args: 1, usage: "replay <file|url|->", mutates: true, run: runReplay},
	"evaluate":  {args: 1, usage: "evaluate <metric> [timestamp]", mutates: true, run: runEvaluate},
	"forecast":  {args: 1, usage: "forecast <metric>", run: runForecast},
	"breach":    {args: 1, usage: "breach <metric>", run: runBreach},
	"anomalies": {usage: "anomalies", run: runAnomalies},
	"ack":       {args: 1, usage: "ack <id>", mutates: true, run: runAck},
	"resolve":   {args: 1, usage: "resolve <id>", mutates: true, run: runResolve},
	"stats":     {usage: "stats", run: runStats},
	"metrics":   {usage: "metrics", run: runMetrics},
	"insights":  {usage: "insights", run: runInsights},
}

// run executes cfg.Command against the persisted state.
func run(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, out io.Writer, log *slog.Logger) error {
	cmd, ok := commands[cfg.Command]
	if !ok {
		return fmt.Errorf("unknown command %q", cfg.Command)
	}
	if len(cfg.Args) < cmd.args {
		return fmt.Errorf("usage: vigil [flags] %s", cmd.usage)
	}

	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	tlsCfg, err := tls.NewClientTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	var redisOpts []storage.RedisOption
	if tlsCfg != nil {
		redisOpts = append(redisOpts, storage.WithTLS(tlsCfg))
	}
	backend, closeBackend, err := openBackend(cfg, log, redisOpts...)
	if err != nil {
		return err
	}
	defer closeBackend()

	eng, err := engine.New(engCfg, backend, metrics.New(reg), log)
	if err != nil {
		return err
	}
	if err := eng.Load(ctx); err != nil {
		if !errors.Is(err, series.ErrCorruptState) && !errors.Is(err, anomaly.ErrCorruptState) {
			return err
		}
		log.Warn("persisted state was corrupt and has been reset", "error", err)
	}

	client := &http.Client{Timeout: cfg.FetchTimeout}
	if tlsCfg != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}

	a := &app{cfg: cfg, eng: eng, out: out, log: log, client: client}
	if err := cmd.run(ctx, a); err != nil {
		return err
	}
	if cmd.mutates {
		return eng.Persist(ctx)
	}
	return nil
}

func openBackend(cfg *config.Config, log *slog.Logger, redisOpts ...storage.RedisOption) (storage.Store, func(), error) {
	noop := func() {}
	switch cfg.Storage {
	case "memory":
		log.Warn("memory storage does not survive this process; state will be discarded")
		return storage.NewMemoryStore(), noop, nil
	case "redis":
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL, redisOpts...)
		if err != nil {
			return nil, noop, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				log.Error("failed to close store", "error", err)
			}
		}, nil
	default:
		fs, err := storage.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	}
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTime accepts RFC 3339 or unix seconds. An empty string or "now" is the
// current time.
func parseTime(s string) (time.Time, error) {
	if s == "" || s == "now" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return time.Time{}, fmt.Errorf("invalid timestamp %q (want RFC 3339 or unix seconds)", s)
	}
	whole := math.Floor(sec)
	return time.Unix(int64(whole), int64(math.Round((sec-whole)*1e9))).UTC(), nil
}

type evaluationOutput struct {
	Evaluation  anomaly.Evaluation `json:"evaluation"`
	Explanation string             `json:"explanation"`
	Record      *anomaly.Record    `json:"record,omitempty"`
}

func newEvaluationOutput(ev anomaly.Evaluation, rec *anomaly.Record) evaluationOutput {
	return evaluationOutput{Evaluation: ev, Explanation: ev.Explain(), Record: rec}
}

func runAppend(_ context.Context, a *app) error {
	metric := a.cfg.Args[0]
	value, err := strconv.ParseFloat(a.cfg.Args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", a.cfg.Args[1], err)
	}
	var raw string
	if len(a.cfg.Args) > 2 {
		raw = a.cfg.Args[2]
	}
	ts, err := parseTime(raw)
	if err != nil {
		return err
	}
	if err := a.eng.Append(metric, ts, value); err != nil {
		return err
	}
	ev, rec, err := a.eng.EvaluateAt(metric, ts)
	if err != nil {
		return err
	}
	return a.print(newEvaluationOutput(ev, rec))
}

type replaySummary struct {
	Appended  int              `json:"appended"`
	Rejected  int              `json:"rejected"`
	Skipped   int              `json:"skipped"`
	Anomalies []anomaly.Record `json:"anomalies,omitempty"`
}

func runReplay(ctx context.Context, a *app) error {
	rc, err := replay.Open(ctx, a.cfg.Args[0], a.client)
	if err != nil {
		return err
	}
	defer rc.Close()

	res, err := replay.Read(rc, a.cfg.ReplayConfig())
	if err != nil {
		return err
	}
	summary := replaySummary{Skipped: res.Skipped}
	summary.Appended, summary.Rejected = replay.Apply(a.eng, res.Samples)

	if a.cfg.Evaluate {
		for _, s := range res.Samples {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, rec, err := a.eng.EvaluateAt(s.Metric, s.Timestamp)
			if err != nil {
				// Evicted or rejected samples have nothing to evaluate.
				continue
			}
			if rec != nil {
				summary.Anomalies = append(summary.Anomalies, *rec)
			}
		}
	}

	a.log.Info("replay complete",
		"source", a.cfg.Args[0],
		"appended", summary.Appended,
		"rejected", summary.Rejected,
		"skipped", summary.Skipped,
		"anomalies", len(summary.Anomalies),
	)
	return a.print(summary)
}

func runEvaluate(_ context.Context, a *app) error {
	metric := a.cfg.Args[0]
	if len(a.cfg.Args) > 1 {
		ts, err := parseTime(a.cfg.Args[1])
		if err != nil {
			return err
		}
		ev, rec, err := a.eng.EvaluateAt(metric, ts)
		if err != nil {
			return err
		}
		return a.print(newEvaluationOutput(ev, rec))
	}
	ev, rec := a.eng.Evaluate(metric)
	return a.print(newEvaluationOutput(ev, rec))
}

func runForecast(ctx context.Context, a *app) error {
	method, err := models.ParseMethod(a.cfg.Method)
	if err != nil {
		return err
	}
	horizon := a.cfg.Horizon
	if horizon == 0 {
		horizon = defaultForecastHorizon
	}
	res, err := a.eng.Forecast(ctx, a.cfg.Args[0], horizon, method)
	if err != nil {
		return err
	}
	return a.print(forecastOutput{Result: res, Confidence: models.FormatConfidenceLevel(res.ConfidenceLevel)})
}

// forecastOutput adds the p-notation label of the band level, e.g. "p95".
type forecastOutput struct {
	models.Result
	Confidence string `json:"confidence"`
}

func runBreach(ctx context.Context, a *app) error {
	if math.IsNaN(a.cfg.Threshold) {
		return errors.New("breach requires -threshold")
	}
	dir, err := capacity.ParseDirection(a.cfg.Direction)
	if err != nil {
		return err
	}
	metric := a.cfg.Args[0]
	var pred capacity.Prediction
	if a.cfg.Horizon > 0 {
		pred, err = a.eng.PredictBreachWithin(ctx, metric, a.cfg.Threshold, dir, a.cfg.Horizon)
	} else {
		pred, err = a.eng.PredictBreach(ctx, metric, a.cfg.Threshold, dir)
	}
	if err != nil {
		return err
	}
	return a.print(pred)
}

func runAnomalies(_ context.Context, a *app) error {
	f, err := a.cfg.AnomalyFilter()
	if err != nil {
		return err
	}
	return a.print(a.eng.ListAnomalies(f))
}

func runAck(_ context.Context, a *app) error {
	rec, err := a.eng.Acknowledge(a.cfg.Args[0])
	if err != nil {
		return err
	}
	return a.print(rec)
}

func runResolve(_ context.Context, a *app) error {
	notes := a.cfg.Notes
	if notes == "" && len(a.cfg.Args) > 1 {
		notes = strings.Join(a.cfg.Args[1:], " ")
	}
	rec, err := a.eng.Resolve(a.cfg.Args[0], notes)
	if err != nil {
		return err
	}
	return a.print(rec)
}

func runStats(_ context.Context, a *app) error {
	return a.print(a.eng.Stats())
}

type metricSummary struct {
	Metric  string        `json:"metric"`
	Samples int           `json:"samples"`
	Latest  series.Sample `json:"latest"`
}

func runMetrics(_ context.Context, a *app) error {
	out := make([]metricSummary, 0)
	for _, name := range a.eng.Metrics() {
		samples := a.eng.Samples(name)
		if len(samples) == 0 {
			continue
		}
		out = append(out, metricSummary{Metric: name, Samples: len(samples), Latest: samples[len(samples)-1]})
	}
	return a.print(out)
}

func runInsights(ctx context.Context, a *app) error {
	out, err := a.eng.Insights(ctx)
	if err != nil {
		return err
	}
	if out == nil {
		return a.print([]any{})
	}
	return a.print(out)
}
