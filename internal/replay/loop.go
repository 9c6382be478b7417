// Package replay implements the periodic spill-file replay spec.md §4.7
// names, grounded on internal/service/trace/wal.go's Recover/Checkpoint/
// atomic-rename discipline, adapted to spec.md's exact protocol: atomic
// rename of the active spill file to a replay file, line-by-line resend,
// partial-failure requeue of the remainder, delete-when-drained.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/relaylog/eventlog/internal/circuit"
	"github.com/relaylog/eventlog/internal/metrics"
	"github.com/relaylog/eventlog/internal/model"
	"github.com/relaylog/eventlog/internal/serializer"
	"github.com/relaylog/eventlog/internal/spillover"
)

// Loop periodically attempts to drain the spillover store back onto the
// transport. It is also the sole authority permitted to reset the circuit
// breaker (spec.md §4.5/§4.7).
type Loop struct {
	interval     time.Duration
	resetTimeout time.Duration

	store     *spillover.Store
	breaker   *circuit.Breaker
	transport model.Transport
	tokens    model.TokenProvider
	metrics   *metrics.Metrics
	lossFn    model.LossFunc
	logger    *slog.Logger
}

// New returns a Loop. tokens may be nil, in which case requests carry no
// Authorization header.
func New(interval, resetTimeout time.Duration, store *spillover.Store, breaker *circuit.Breaker, transport model.Transport, tokens model.TokenProvider, m *metrics.Metrics, lossFn model.LossFunc, logger *slog.Logger) *Loop {
	return &Loop{
		interval:     interval,
		resetTimeout: resetTimeout,
		store:        store,
		breaker:      breaker,
		transport:    transport,
		tokens:       tokens,
		metrics:      m,
		lossFn:       lossFn,
		logger:       logger,
	}
}

// Run blocks, invoking Tick every interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick performs one pass of spec.md §4.7's six-step protocol. Exported so
// the facade's hermetic test hook (runReplayOnce) can drive it directly
// instead of waiting out a real ticker interval.
func (l *Loop) Tick(ctx context.Context) {
	now := time.Now()

	// Steps 1-2: if still open and the reset window hasn't elapsed, do
	// nothing this tick; otherwise ResetIfElapsed closes the breaker.
	if !l.breaker.ResetIfElapsed(now) {
		return
	}

	// A replay file surviving from a prior tick's partial failure (I6:
	// at-least-once) must be drained before anything else — the active
	// store's counters say nothing about it, so keying off Size/Count
	// alone would orphan it forever, and letting a fresh snapshot rename
	// over it would destroy it outright.
	if _, err := os.Stat(l.store.ReplayPath()); err == nil {
		l.drain(ctx, l.store.ReplayPath())
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("eventlog: replay stat failed", "error", err)
		return
	}
	if _, err := os.Stat(l.store.ReplayPath()); err == nil {
		// Still here after another failed attempt; don't snapshot over it
		// this tick.
		return
	}

	if l.store.Size() == 0 && l.store.Count() == 0 {
		return
	}

	replayPath, err := l.snapshot()
	if err != nil {
		l.logger.Warn("eventlog: replay snapshot failed", "error", err)
		return
	}
	if replayPath == "" {
		return
	}

	l.drain(ctx, replayPath)
}

// snapshot renames the active spill file to the replay file with os.Rename
// (atomic on the same filesystem); a failed rename is returned as an error
// and no non-atomic copy is attempted. If the active file
// doesn't exist (nothing was ever spilled this tick) it returns "". Callers
// must ensure no replay file is already present — Tick checks this before
// calling snapshot so a leftover replay file is never clobbered.
func (l *Loop) snapshot() (string, error) {
	active, replay := l.store.ActivePath(), l.store.ReplayPath()
	if _, err := os.Stat(active); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err := os.Rename(active, replay); err != nil {
		return "", fmt.Errorf("replay: rename spill to replay: %w", err)
	}
	l.store.ResetAfterRename()
	return replay, nil
}

// drain reads the replay file line by line, resending each event. A
// parse failure skips the line. A send failure stops the tick, writing the
// current and remaining lines to a fresh replay file preserving order, left
// for the next tick. When fully drained, the replay file is removed.
func (l *Loop) drain(ctx context.Context, replayPath string) {
	f, err := os.Open(replayPath)
	if err != nil {
		l.logger.Warn("eventlog: replay open failed", "error", err)
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		ev, err := serializer.ParseSpillLine(line)
		if err != nil {
			l.logger.Warn("eventlog: replay skipping corrupt line", "error", err)
			continue
		}

		if err := l.send(ctx, ev); err != nil {
			l.requeueRemainder(f, scanner, line)
			_ = f.Close()
			return
		}
		l.metrics.IncReplayed(1)
	}

	_ = f.Close()
	if err := scanner.Err(); err != nil {
		l.logger.Warn("eventlog: replay scan error", "error", err)
		return
	}
	if err := os.Remove(replayPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("eventlog: replay cleanup failed", "error", err)
	}
}

// requeueRemainder writes the line that just failed to send, plus every
// line left unread in scanner, to a fresh replay file, preserving order —
// spec.md §4.7 step 5.
func (l *Loop) requeueRemainder(f *os.File, scanner *bufio.Scanner, failedLine []byte) {
	tmpPath := f.Name() + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		l.logger.Warn("eventlog: replay requeue failed", "error", err)
		return
	}

	write := func(line []byte) {
		_, _ = out.Write(line)
		_, _ = out.Write([]byte("\n"))
	}
	write(failedLine)
	for scanner.Scan() {
		write(append([]byte(nil), scanner.Bytes()...))
	}
	_ = out.Close()

	if err := os.Rename(tmpPath, f.Name()); err != nil {
		l.logger.Warn("eventlog: replay requeue rename failed", "error", err)
	}
}

// send attempts the single-event transport path for one replayed event.
func (l *Loop) send(ctx context.Context, ev model.Event) error {
	body, err := serializer.Single(ev)
	if err != nil {
		return err
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if l.tokens != nil {
		token, err := l.tokens.Token(ctx)
		if err != nil {
			return err
		}
		headers["Authorization"] = "Bearer " + token
	}

	resp, err := l.transport.Send(ctx, model.Request{
		Method:  http.MethodPost,
		Path:    "/v1/events",
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("replay: non-2xx response: %d", resp.StatusCode)
	}
	return nil
}
