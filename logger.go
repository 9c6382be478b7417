package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaylog/eventlog/internal/circuit"
	imetrics "github.com/relaylog/eventlog/internal/metrics"
	"github.com/relaylog/eventlog/internal/model"
	"github.com/relaylog/eventlog/internal/replay"
	"github.com/relaylog/eventlog/internal/retry"
	"github.com/relaylog/eventlog/internal/sender"
	"github.com/relaylog/eventlog/internal/spillover"
	"github.com/relaylog/eventlog/internal/transport"
)

// MetricsSnapshot is a point-in-time copy of every lifecycle counter,
// returned by Logger.Metrics().
type MetricsSnapshot = imetrics.Snapshot

// loggerState is the one-way state machine spec.md §4.9 names:
// running -> shuttingDown -> terminated.
type loggerState int32

const (
	stateRunning loggerState = iota
	stateShuttingDown
	stateTerminated
)

// Logger is the asynchronous, durable event-logging facade (spec's
// AsyncLogger). Construct with New; always call Shutdown or Close before
// the process exits.
type Logger struct {
	logger *slog.Logger

	pool       *sender.Pool
	scheduler  *retry.Scheduler
	breaker    *circuit.Breaker
	store      *spillover.Store
	replayLoop *replay.Loop
	metrics    *imetrics.Metrics

	unregisterMetrics func()

	ctx    context.Context
	cancel context.CancelFunc

	stateMu sync.RWMutex
	state   loggerState

	shutdownHookSig chan os.Signal

	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs a Logger from cfg and opts. Construction fails if cfg is
// invalid or a required collaborator (a Transport, directly or implied by
// Config.Endpoint) is missing.
func New(cfg Config, opts ...Option) (*Logger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ro := &resolvedOptions{}
	for _, opt := range opts {
		opt(ro)
	}
	if ro.logger == nil {
		ro.logger = slog.Default()
	}
	if ro.lossCallback == nil {
		ro.lossCallback = defaultLossCallback(ro.logger)
	}
	if ro.meter == nil {
		ro.meter = otel.GetMeterProvider().Meter("github.com/relaylog/eventlog")
	}

	tr := ro.transport
	if tr == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("%w: Endpoint is required unless WithTransport is set", ErrInvalidConfig)
		}
		tr = transport.New(cfg.Endpoint, nil)
	}

	var store *spillover.Store
	if cfg.SpilloverPath != "" {
		var err error
		store, err = spillover.Open(cfg.SpilloverPath, cfg.MaxSpilloverSizeBytes, cfg.MaxSpilloverEvents)
		if err != nil {
			return nil, fmt.Errorf("eventlog: open spillover directory: %w", err)
		}
	}

	breaker := circuit.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerResetTimeout)

	ctx, cancel := context.WithCancel(context.Background())

	l := &Logger{
		logger:  ro.logger,
		breaker: breaker,
		store:   store,
		ctx:     ctx,
		cancel:  cancel,
	}

	l.metrics = imetrics.New(
		func() int64 { return int64(l.pool.Depth()) },
		func() bool { return l.breaker.IsOpen() },
	)
	unregister, err := l.metrics.Register(ro.meter)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("eventlog: register metrics: %w", err)
	}
	l.unregisterMetrics = unregister

	l.pool = sender.New(sender.Config{
		QueueCapacity: cfg.QueueCapacity,
		BatchSize:     cfg.BatchSize,
		MaxBatchWait:  cfg.MaxBatchWait,
		SenderThreads: cfg.SenderThreads,
		MaxRetries:    cfg.MaxRetries,
		Transport:     tr,
		Tokens:        ro.tokenProvider,
		Breaker:       breaker,
		Store:         store,
		Metrics:       l.metrics,
		LossFn:        ro.lossCallback,
		Logger:        ro.logger,
		Runner:        ro.senderRunner,
	})

	l.scheduler = retry.New(cfg.BaseRetryDelay, l.pool.Requeue, l.pool.RejectPending, ro.retryRunner)
	l.pool.SetScheduler(l.scheduler)

	l.replayLoop = replay.New(cfg.ReplayInterval, cfg.CircuitBreakerResetTimeout, store, breaker, tr, ro.tokenProvider, l.metrics, ro.lossCallback, ro.logger)

	l.pool.Start(ctx)
	spilloverRunner := ro.spilloverRunner
	if spilloverRunner == nil {
		spilloverRunner = model.GoRunner
	}
	spilloverRunner(ctx, func() { l.replayLoop.Run(ctx) })

	if cfg.RegisterShutdownHook {
		l.registerShutdownHook()
	}

	return l, nil
}

// registerShutdownHook installs a SIGINT/SIGTERM handler that calls
// Shutdown, matching spec.md §4.9 step 5's "shutdown hook registered with
// the host runtime". signal.Stop deregisters it once Shutdown runs, so a
// fresh Logger can register its own hook without conflict.
func (l *Logger) registerShutdownHook() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	l.shutdownHookSig = ch
	go func() {
		if _, ok := <-ch; ok {
			_ = l.Shutdown(context.Background())
		}
	}()
}

func (l *Logger) currentState() loggerState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

// Log submits one event for asynchronous delivery. It never blocks and
// never returns an error: rejection is reported via the return value and,
// for events that are lost or deferred to disk, via the configured loss
// callback. If ctx carries an active OTEL span and ev doesn't already name
// one, the event's TraceID/SpanID are populated from it, so events logged
// from within a traced request automatically correlate with that trace.
func (l *Logger) Log(ctx context.Context, ev Event) bool {
	if l.currentState() != stateRunning {
		l.directLoss(ev, ReasonShutdownInProgress)
		return false
	}
	ev = enrichFromSpanContext(ctx, ev)
	if l.pool.Enqueue(ev) {
		l.metrics.IncQueued(1)
		return true
	}
	return l.pool.SpillOrFail(ev, ReasonQueueFull)
}

// enrichFromSpanContext fills TraceID/SpanID from ctx's active span when
// the caller left them unset, the same otel/trace.SpanContextFromContext
// convention internal/telemetry's instrumentation relied on.
func enrichFromSpanContext(ctx context.Context, ev Event) Event {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ev
	}
	if ev.TraceID == "" {
		ev.TraceID = sc.TraceID().String()
	}
	if ev.SpanID == "" {
		ev.SpanID = sc.SpanID().String()
	}
	return ev
}

// LogBatch submits a list of events with the same per-event semantics as
// Log, returning the count accepted.
func (l *Logger) LogBatch(ctx context.Context, events []Event) int {
	accepted := 0
	for _, ev := range events {
		if l.Log(ctx, ev) {
			accepted++
		}
	}
	return accepted
}

// Flush blocks until the queue and every in-flight retry have drained, or
// timeout elapses. It returns false on timeout.
func (l *Logger) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if l.pool.Depth() == 0 && l.scheduler.Pending() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// QueueDepth reports the number of events currently queued for delivery.
func (l *Logger) QueueDepth() int { return l.pool.Depth() }

// Metrics returns a point-in-time snapshot of every lifecycle counter.
func (l *Logger) Metrics() MetricsSnapshot { return l.metrics.Snapshot() }

// IsCircuitOpen reports whether the circuit breaker currently rejects
// sends.
func (l *Logger) IsCircuitOpen() bool { return l.breaker.IsOpen() }

// Shutdown runs spec.md §4.9's six-step shutdown sequence exactly once;
// subsequent calls return the same result. ctx bounds how long Shutdown
// waits for the queue to drain before forcing remaining work to spillover
// or the loss callback.
func (l *Logger) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.shutdownErr = l.doShutdown(ctx)
	})
	return l.shutdownErr
}

// Close is an alias for Shutdown with a background context, for callers
// that want an io.Closer-shaped method.
func (l *Logger) Close() error {
	return l.Shutdown(context.Background())
}

func (l *Logger) doShutdown(ctx context.Context) error {
	// Step 1: mark shutting down.
	l.stateMu.Lock()
	l.state = stateShuttingDown
	l.stateMu.Unlock()

	// Step 2: stop accepting new sender work; let workers drain until
	// empty or an internal graceful deadline elapses.
	l.pool.Close()
	deadline := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			deadline = d
		}
	}
	l.Flush(deadline)

	// Step 3: cancel scheduled retries, reclaiming their entries.
	reclaimedRetries := l.scheduler.Stop()

	// Stop workers and the replay loop.
	l.pool.Stop()
	l.cancel()

	// Step 4: every entry remaining in the queue, pendingRetries, or
	// mid-flight is delivered, spilled, or counted failed with callback.
	for _, r := range l.pool.Drain() {
		l.pool.SpillOrFail(r, ReasonShutdownInProgress)
	}
	for _, e := range reclaimedRetries {
		l.pool.SpillOrFail(sender.EventOf(e), ReasonShutdownInProgress)
	}

	// Step 5: deregister the shutdown hook so it can be registered again.
	if l.shutdownHookSig != nil {
		signal.Stop(l.shutdownHookSig)
		close(l.shutdownHookSig)
	}

	// Step 6: release the metrics registration (the OTEL analogue of
	// stopping an executor).
	if l.unregisterMetrics != nil {
		l.unregisterMetrics()
	}

	l.stateMu.Lock()
	l.state = stateTerminated
	l.stateMu.Unlock()
	return nil
}

// directLoss invokes the loss callback directly, recovering and logging a
// panic, for the one path (shutdown-in-progress rejection) that happens
// before an event ever reaches the sender pool.
func (l *Logger) directLoss(ev Event, reason LossReason) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("eventlog: loss callback panicked", "panic", r)
		}
	}()
	// lossCallback is carried on the pool as ro.lossCallback; Logger keeps
	// no separate copy, so route through the pool's exported wrapper.
	l.pool.InvokeLossDirect(ev, reason)
}

// forceCircuitState is a hermetic test hook (spec.md §9) that lets tests
// put the circuit breaker directly into a known state.
func (l *Logger) forceCircuitState(open bool, openedAt time.Time) {
	l.breaker.ForceState(open, openedAt)
}

// runReplayOnce is a hermetic test hook (spec.md §9) that drives one
// replay tick synchronously instead of waiting out a real interval.
func (l *Logger) runReplayOnce(ctx context.Context) {
	l.replayLoop.Tick(ctx)
}
