// Package sender implements the bounded queue and sender worker pool spec.md
// §4.2/§4.3 name: a buffered channel as the FIFO, with workers that
// opportunistically batch, consult the circuit breaker, dispatch to the
// transport, and route failures to the retry scheduler or spillover.
// Grounded on internal/service/trace/buffer.go's flushLoop shape (ticker +
// ad hoc batch window) and other_examples' DataDog sender.go run-loop shape
// (drain, attempt send, route failures), adapted from a single shared flush
// to N independent worker loops each owning its own batch window.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaylog/eventlog/internal/circuit"
	"github.com/relaylog/eventlog/internal/metrics"
	"github.com/relaylog/eventlog/internal/model"
	"github.com/relaylog/eventlog/internal/retry"
	"github.com/relaylog/eventlog/internal/serializer"
	"github.com/relaylog/eventlog/internal/spillover"
)

// queueEntry is spec's QueueEntry: one event plus its attempt counter.
type queueEntry struct {
	event   model.Event
	attempt int
}

// NextAttempt satisfies retry.Entry: the scheduler computes backoff from
// the attempt number the entry is on after this failure.
func (q *queueEntry) NextAttempt() int { return q.attempt }

// Pool owns the bounded FIFO queue and the sender worker goroutines.
type Pool struct {
	queue chan *queueEntry

	batchSize     int
	maxBatchWait  time.Duration
	senderThreads int
	maxRetries    int

	transport model.Transport
	tokens    model.TokenProvider
	breaker   *circuit.Breaker
	scheduler *retry.Scheduler
	store     *spillover.Store // nil when spillover is disabled
	metrics   *metrics.Metrics
	lossFn    model.LossFunc
	logger    *slog.Logger
	runner    model.Runner

	eg     *errgroup.Group
	egCtx  context.Context
	cancel context.CancelFunc

	closedMu sync.RWMutex
	closed   bool
}

// Config bundles Pool's dependencies, constructed by the facade.
type Config struct {
	QueueCapacity int
	BatchSize     int
	MaxBatchWait  time.Duration
	SenderThreads int
	MaxRetries    int

	Transport model.Transport
	Tokens    model.TokenProvider
	Breaker   *circuit.Breaker
	Store     *spillover.Store
	Metrics   *metrics.Metrics
	LossFn    model.LossFunc
	Logger    *slog.Logger
	Runner    model.Runner
}

// New constructs a Pool. Call Start to spawn its workers.
func New(cfg Config) *Pool {
	runner := cfg.Runner
	if runner == nil {
		runner = model.GoRunner
	}
	return &Pool{
		queue:         make(chan *queueEntry, cfg.QueueCapacity),
		batchSize:     cfg.BatchSize,
		maxBatchWait:  cfg.MaxBatchWait,
		senderThreads: cfg.SenderThreads,
		maxRetries:    cfg.MaxRetries,
		transport:     cfg.Transport,
		tokens:        cfg.Tokens,
		breaker:       cfg.Breaker,
		store:         cfg.Store,
		metrics:       cfg.Metrics,
		lossFn:        cfg.LossFn,
		logger:        cfg.Logger,
		runner:        runner,
	}
}

// Start spawns senderThreads worker loops under an errgroup rooted in ctx,
// chosen over a hand-rolled sync.WaitGroup because the pool is exactly the
// "N goroutines, propagate cancellation, wait for all to exit" shape
// errgroup models.
func (p *Pool) Start(ctx context.Context) {
	egCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(egCtx)
	p.eg, p.egCtx, p.cancel = eg, egCtx, cancel

	for i := 0; i < p.senderThreads; i++ {
		eg.Go(func() error {
			done := make(chan struct{})
			p.runner(egCtx, func() {
				defer close(done)
				p.workerLoop(egCtx)
			})
			<-done
			return nil
		})
	}
}

// Enqueue attempts a non-blocking enqueue of ev at attempt 0. It reports
// whether the event was accepted onto the queue.
func (p *Pool) Enqueue(ev model.Event) bool {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- &queueEntry{event: ev}:
		return true
	default:
		return false
	}
}

// requeue re-inserts an entry at the tail of the queue after a retry
// backoff elapses. If the queue is full or the pool is closed, the entry
// goes back through onDeliveryFailure with its attempt count unchanged:
// it is scheduled again while retries remain, and otherwise spilled or
// counted as failed.
func (p *Pool) requeue(e retry.Entry) {
	entry := e.(*queueEntry)
	p.closedMu.RLock()
	closed := p.closed
	p.closedMu.RUnlock()
	if closed {
		p.onDeliveryFailure(entry)
		return
	}
	select {
	case p.queue <- entry:
	default:
		p.onDeliveryFailure(entry)
	}
}

// reject handles an entry the retry scheduler could not schedule (already
// stopped) — spec.md §4.4's retry_rejected path.
func (p *Pool) reject(e retry.Entry) {
	entry := e.(*queueEntry)
	p.metrics.IncFailed(1)
	p.invokeLoss(entry.event, model.ReasonRetryRejected)
}

// SetScheduler wires the retry scheduler after construction: the
// scheduler's requeueFn/rejectFn are the pool's own Requeue/RejectPending
// methods, so the two are constructed in sequence (pool first, scheduler
// second, then wired back) rather than via a circular Config field.
func (p *Pool) SetScheduler(s *retry.Scheduler) { p.scheduler = s }

// Depth reports the number of entries currently queued.
func (p *Pool) Depth() int { return len(p.queue) }

// workerLoop implements spec.md §4.3: bounded-wait dequeue, opportunistic
// batch accumulation up to batchSize within maxBatchWait, circuit check,
// dispatch, and failure routing.
func (p *Pool) workerLoop(ctx context.Context) {
	for {
		var head *queueEntry
		select {
		case <-ctx.Done():
			return
		case head = <-p.queue:
		}

		batch := p.accumulate(ctx, head)
		p.dispatch(ctx, batch)
	}
}

// accumulate opportunistically drains up to batchSize-1 additional entries
// already in hand or arriving within maxBatchWait of the first one.
// batchSize == 1 disables batching entirely, per spec.md §4.3.
func (p *Pool) accumulate(ctx context.Context, head *queueEntry) []*queueEntry {
	batch := []*queueEntry{head}
	if p.batchSize <= 1 {
		return batch
	}

	deadline := time.NewTimer(p.maxBatchWait)
	defer deadline.Stop()

	for len(batch) < p.batchSize {
		select {
		case <-ctx.Done():
			return batch
		case e := <-p.queue:
			batch = append(batch, e)
		case <-deadline.C:
			return batch
		}
	}
	return batch
}

// dispatch sends batch to the transport, or short-circuits to spillover
// if the circuit is open, and routes the outcome.
func (p *Pool) dispatch(ctx context.Context, batch []*queueEntry) {
	if p.breaker.IsOpen() {
		// spec.md §4.3(c)/§4.5: a sender observing the circuit open routes
		// straight to spill, never back through the retry scheduler — that
		// would just re-queue the entry to hit the same open circuit again.
		for _, e := range batch {
			e.attempt++
			p.spillOrFail(e.event, model.ReasonRetriesExhausted)
		}
		return
	}

	err := p.send(ctx, batch)
	now := time.Now()
	if err == nil {
		p.breaker.RecordSuccess()
		p.metrics.IncSent(int64(len(batch)))
		return
	}

	p.breaker.RecordFailure(now)
	for _, e := range batch {
		e.attempt++
		p.onDeliveryFailure(e)
	}
}

// send performs the actual transport call: the single-event path for a
// batch of one, the batch path otherwise, preserving original queue order
// on the wire within the batch (spec.md §4.3 "Ordering").
func (p *Pool) send(ctx context.Context, batch []*queueEntry) error {
	headers := map[string]string{"Content-Type": "application/json"}
	if p.tokens != nil {
		token, err := p.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("sender: token: %w", err)
		}
		headers["Authorization"] = "Bearer " + token
	}

	var (
		body []byte
		path string
		err  error
	)
	if len(batch) == 1 {
		path = "/v1/events"
		body, err = serializer.Single(batch[0].event)
	} else {
		path = "/v1/events/batch"
		events := make([]model.Event, len(batch))
		for i, e := range batch {
			events[i] = e.event
		}
		body, err = serializer.Batch(events)
	}
	if err != nil {
		return err
	}

	resp, err := p.transport.Send(ctx, model.Request{
		Method:  http.MethodPost,
		Path:    path,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sender: non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

// onDeliveryFailure routes a failed entry: hand off to the retry scheduler
// while attempt <= maxRetries, else spill it, else count it as failed.
// maxRetries is the number of retries permitted after the original attempt,
// so an entry that has failed exactly maxRetries sends (attempt ==
// maxRetries) still gets one more try.
func (p *Pool) onDeliveryFailure(e *queueEntry) {
	if e.attempt <= p.maxRetries {
		if p.scheduler.Schedule(e) {
			return
		}
		p.metrics.IncFailed(1)
		p.invokeLoss(e.event, model.ReasonRetryRejected)
		return
	}
	p.spillOrFail(e.event, model.ReasonRetriesExhausted)
}

// spillOrFail attempts to write ev to the spillover store; if spillover is
// unconfigured, it is counted as failed with the given fallback reason. If
// the store rejects the write, it is counted as failed with
// spillover_max_size, spillover_max_events or spillover_io_error
// (spec.md §4.3/§4.6). It reports whether the event ended up durably
// spilled.
func (p *Pool) spillOrFail(ev model.Event, fallbackReason model.LossReason) bool {
	if p.store == nil {
		p.metrics.IncFailed(1)
		p.invokeLoss(ev, fallbackReason)
		return false
	}
	if err := p.store.Append(ev); err != nil {
		p.metrics.IncFailed(1)
		reason := fallbackReason
		var ceiling *spillover.ErrCeilingExceeded
		if ok := asCeilingExceeded(err, &ceiling); ok {
			if ceiling.SizeCeiling {
				reason = model.ReasonSpilloverMaxSize
			} else {
				reason = model.ReasonSpilloverMaxEvents
			}
		} else {
			reason = model.ReasonSpilloverIOError
		}
		p.invokeLoss(ev, reason)
		return false
	}
	p.metrics.IncSpilled(1)
	return true
}

func asCeilingExceeded(err error, target **spillover.ErrCeilingExceeded) bool {
	ce, ok := err.(*spillover.ErrCeilingExceeded)
	if ok {
		*target = ce
	}
	return ok
}

// invokeLoss calls the loss callback, recovering and logging any panic so
// a misbehaving callback never disturbs the pipeline (spec.md §4.8).
func (p *Pool) invokeLoss(ev model.Event, reason model.LossReason) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("eventlog: loss callback panicked", "panic", r)
		}
	}()
	p.lossFn(ev, reason)
}

// Close stops accepting new enqueues; in-flight and queued work is left
// for the caller (the facade) to drain during shutdown.
func (p *Pool) Close() {
	p.closedMu.Lock()
	p.closed = true
	p.closedMu.Unlock()
}

// Stop cancels the worker pool's context and waits for every worker to
// exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.eg != nil {
		_ = p.eg.Wait()
	}
}

// Drain removes and returns every entry currently sitting in the queue,
// for the facade's shutdown sequence to spill or count as failed.
func (p *Pool) Drain() []model.Event {
	var out []model.Event
	for {
		select {
		case e := <-p.queue:
			out = append(out, e.event)
		default:
			return out
		}
	}
}

// SpillOrFail exposes spillOrFail to the facade for routing entries
// reclaimed from pendingRetries or the queue during shutdown, and for a
// freshly rejected enqueue. It reports whether the event ended up
// durably spilled.
func (p *Pool) SpillOrFail(ev model.Event, fallbackReason model.LossReason) bool {
	return p.spillOrFail(ev, fallbackReason)
}

// RejectPending is registered as the retry scheduler's rejectFn. Entries
// reclaimed during shutdown do not pass through it; the facade routes them
// through SpillOrFail.
func (p *Pool) RejectPending(e retry.Entry) {
	p.reject(e)
}

// Requeue is registered as the retry scheduler's requeueFn.
func (p *Pool) Requeue(e retry.Entry) {
	p.requeue(e)
}

// EventOf extracts the event carried by a retry.Entry previously handed
// to the scheduler by this package, for callers (the facade's shutdown
// path) that reclaim entries directly from retry.Scheduler.Stop.
func EventOf(e retry.Entry) model.Event {
	return e.(*queueEntry).event
}

// InvokeLossDirect exposes invokeLoss for the one caller outside this
// package that needs to report a loss before an event ever reaches the
// queue (the facade's shutdown-in-progress rejection path).
func (p *Pool) InvokeLossDirect(ev model.Event, reason model.LossReason) {
	p.invokeLoss(ev, reason)
}
