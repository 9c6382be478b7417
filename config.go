package eventlog

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaylog/eventlog/internal/model"
)

// Runner launches fn under ctx. The default runner spawns a goroutine;
// tests substitute a synchronous runner (fn run inline, ctx ignored) to make
// the sender pool, retry scheduler, or replay loop deterministic —
// this is the Go realization of the builder's injectable executor fields.
type Runner = model.Runner

// Config holds the plain-value construction options for a Logger. Field
// names mirror the builder enumerated in spec.md §4.1; validation happens
// in New, which joins every violation into a single wrapped error rather
// than failing on the first one found.
type Config struct {
	// Endpoint is the base URL of the event-log service, e.g.
	// "https://events.example.com". Required unless an Option supplies a
	// Transport directly.
	Endpoint string

	QueueCapacity int // >= 1

	MaxRetries     int           // >= 0
	BaseRetryDelay time.Duration // > 0

	CircuitBreakerThreshold    int           // >= 1
	CircuitBreakerResetTimeout time.Duration // > 0

	BatchSize     int           // >= 1
	MaxBatchWait  time.Duration // >= 0
	SenderThreads int           // >= 1

	ReplayInterval time.Duration // >= 1s

	SpilloverPath         string // optional; empty disables spillover
	MaxSpilloverEvents    int    // >= 1
	MaxSpilloverSizeBytes int64  // >= 1

	RegisterShutdownHook bool
}

// DefaultConfig returns a Config with conservative defaults for every
// numeric field, matching the magnitudes spec.md's invariants assume
// (replayIntervalMs >= 1000, etc). Endpoint and SpilloverPath are left
// zero-valued — callers set Endpoint, and leave SpilloverPath empty to
// disable durable spillover.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:              1024,
		MaxRetries:                 5,
		BaseRetryDelay:             200 * time.Millisecond,
		CircuitBreakerThreshold:    5,
		CircuitBreakerResetTimeout: 30 * time.Second,
		BatchSize:                  50,
		MaxBatchWait:               100 * time.Millisecond,
		SenderThreads:              2,
		ReplayInterval:             5 * time.Second,
		MaxSpilloverEvents:         100_000,
		MaxSpilloverSizeBytes:      64 << 20,
		RegisterShutdownHook:       false,
	}
}

// validate collects every violation instead of stopping at the first,
// matching internal/config's collectInt/collectBool error-collection
// style, and returns them joined and wrapped in ErrInvalidConfig.
func (c Config) validate() error {
	var errs []error
	need := func(cond bool, msg string) {
		if !cond {
			errs = append(errs, errors.New(msg))
		}
	}
	need(c.QueueCapacity >= 1, "queueCapacity must be >= 1")
	need(c.MaxRetries >= 0, "maxRetries must be >= 0")
	need(c.BaseRetryDelay > 0, "baseRetryDelayMs must be > 0")
	need(c.CircuitBreakerThreshold >= 1, "circuitBreakerThreshold must be >= 1")
	need(c.CircuitBreakerResetTimeout > 0, "circuitBreakerResetMs must be > 0")
	need(c.BatchSize >= 1, "batchSize must be >= 1")
	need(c.MaxBatchWait >= 0, "maxBatchWaitMs must be >= 0")
	need(c.SenderThreads >= 1, "senderThreads must be >= 1")
	need(c.ReplayInterval >= time.Second, "replayIntervalMs must be >= 1000")
	if c.SpilloverPath != "" {
		need(c.MaxSpilloverEvents >= 1, "maxSpilloverEvents must be >= 1")
		need(c.MaxSpilloverSizeBytes >= 1, "maxSpilloverSizeBytes must be >= 1")
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// defaultLossCallback logs dropped/deferred events at warn level, the
// no-op-that-logs default spec.md §4.1 requires for lossCallback.
func defaultLossCallback(logger *slog.Logger) LossFunc {
	return func(ev Event, reason LossReason) {
		logger.Warn("eventlog: event lost",
			"correlationId", ev.CorrelationID,
			"reason", string(reason))
	}
}
