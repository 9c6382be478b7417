// Package retry implements the scheduled-requeue model spec.md §4.4 names:
// a failed queue entry is re-inserted at the tail of the main queue after
// an exponential backoff, tracked in a pendingRetries set for the duration
// of the wait so shutdown can cancel and drain it. Grounded on
// internal/storage/retry.go's backoff formula, generalized from a single
// synchronous retry loop to scheduled requeue-at-tail semantics — Go's
// time.AfterFunc is the idiomatic substitute for a dedicated scheduled
// executor.
package retry

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/relaylog/eventlog/internal/model"
)

// Entry is anything the scheduler can requeue; it is opaque to the
// scheduler beyond the Attempt it tracks for backoff computation.
type Entry interface {
	NextAttempt() int
}

// Scheduler tracks in-flight scheduled retries and requeues them onto
// requeueFn once their backoff elapses.
type Scheduler struct {
	baseDelay time.Duration
	requeueFn func(Entry)
	rejectFn  func(Entry) // called instead of requeueFn once Stop has run
	runner    model.Runner

	mu      sync.Mutex
	pending map[*pendingHandle]struct{}
	stopped bool
}

// pendingHandle is spec's PendingRetry bookkeeping handle: one per
// scheduled retry, removed from the pending set when its timer fires or
// is cancelled.
type pendingHandle struct {
	timer *time.Timer
	entry Entry
}

// New returns a Scheduler that requeues entries via requeueFn after a
// jittered exponential backoff starting at baseDelay. rejectFn is invoked
// instead of requeueFn for a timer that fires after Stop has run; entries
// still pending when Stop is called are returned by Stop, not passed to
// rejectFn. runner dispatches each
// fired requeue/reject call — tests substitute a synchronous runner to
// make the moment of dispatch deterministic; if nil, the call happens
// directly on the timer's own goroutine.
func New(baseDelay time.Duration, requeueFn func(Entry), rejectFn func(Entry), runner model.Runner) *Scheduler {
	if runner == nil {
		runner = func(_ context.Context, fn func()) { fn() }
	}
	return &Scheduler{
		baseDelay: baseDelay,
		requeueFn: requeueFn,
		rejectFn:  rejectFn,
		runner:    runner,
		pending:   make(map[*pendingHandle]struct{}),
	}
}

// Schedule adds entry to the pendingRetries set and arranges for it to be
// requeued after baseDelayMs * 2^(attempt-1), jittered by up to 10%. It
// returns false if the scheduler has already been stopped — the caller
// must treat that as reason retry_rejected, per spec.md §4.4.
func (s *Scheduler) Schedule(entry Entry) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}

	attempt := entry.NextAttempt()
	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/10 + 1)) //nolint:gosec // jitter doesn't need crypto-strength randomness

	h := &pendingHandle{entry: entry}
	s.pending[h] = struct{}{}
	h.timer = time.AfterFunc(delay+jitter, func() {
		s.fire(h)
	})
	s.mu.Unlock()
	return true
}

func (s *Scheduler) fire(h *pendingHandle) {
	s.mu.Lock()
	_, stillPending := s.pending[h]
	delete(s.pending, h)
	stopped := s.stopped
	s.mu.Unlock()
	if !stillPending {
		return
	}
	if stopped {
		s.runner(context.Background(), func() { s.rejectFn(h.entry) })
		return
	}
	s.runner(context.Background(), func() { s.requeueFn(h.entry) })
}

// Stop cancels every scheduled retry timer and returns the entries that
// were still pending, matching spec.md §4.4's cancellation step and
// §4.9's "reclaims their QueueEntries from pendingRetries" shutdown step.
// Unlike a timer firing normally (which routes through requeueFn/rejectFn),
// reclaimed entries are handed back to the caller so shutdown can decide
// how to dispose of them (spill, or count failed). Calling Schedule after
// Stop always returns false.
func (s *Scheduler) Stop() []Entry {
	s.mu.Lock()
	s.stopped = true
	pending := s.pending
	s.pending = make(map[*pendingHandle]struct{})
	s.mu.Unlock()

	reclaimed := make([]Entry, 0, len(pending))
	for h := range pending {
		h.timer.Stop()
		reclaimed = append(reclaimed, h.entry)
	}
	return reclaimed
}

// Pending reports the number of retries currently in flight.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
