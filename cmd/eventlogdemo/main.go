// Command eventlogdemo exercises a Logger against a real endpoint: it
// issues a process-start event, three step events and a process-end event,
// flushes, and prints a
// metrics snapshot before shutting down cleanly. Useful for manually
// verifying an Endpoint and TokenProvider are wired correctly.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/relaylog/eventlog"
)

var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("EVENTLOG_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	endpoint := os.Getenv("EVENTLOG_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:8090"
	}

	cfg := eventlog.DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.SpilloverPath = os.Getenv("EVENTLOG_SPILLOVER_PATH")

	logger.Info("eventlogdemo starting", "version", version, "endpoint", endpoint)

	el, err := eventlog.New(cfg, eventlog.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = el.Close() }()

	app := eventlog.NewEvent("eventlogdemo", "demo-run", eventlog.EventProcessStart, eventlog.StatusInProgress)
	el.Log(ctx, app)

	for i := 1; i <= 3; i++ {
		step := eventlog.NewEvent("eventlogdemo", "demo-run", eventlog.EventStep, eventlog.StatusSuccess)
		step.StepSequence = i
		step.StepName = "step"
		el.Log(ctx, step)
	}

	done := eventlog.NewEvent("eventlogdemo", "demo-run", eventlog.EventProcessEnd, eventlog.StatusSuccess)
	el.Log(ctx, done)

	if !el.Flush(10 * time.Second) {
		logger.Warn("eventlogdemo: flush timed out, some events may still be queued")
	}

	snap := el.Metrics()
	logger.Info("eventlogdemo metrics",
		"queued", snap.Queued,
		"sent", snap.Sent,
		"failed", snap.Failed,
		"spilled", snap.Spilled,
		"replayed", snap.Replayed,
	)

	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
