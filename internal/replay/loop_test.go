package replay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylog/eventlog/internal/circuit"
	"github.com/relaylog/eventlog/internal/metrics"
	"github.com/relaylog/eventlog/internal/model"
	"github.com/relaylog/eventlog/internal/spillover"
)

type fakeTransport struct {
	failUntil int32
	calls     int32
}

func (f *fakeTransport) Send(_ context.Context, _ model.Request) (model.Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failUntil {
		return model.Response{StatusCode: http.StatusInternalServerError}, nil
	}
	return model.Response{StatusCode: http.StatusOK}, nil
}

func (f *fakeTransport) SendAsync(ctx context.Context, req model.Request) <-chan model.Result {
	ch := make(chan model.Result, 1)
	resp, err := f.Send(ctx, req)
	ch <- model.Result{Response: resp, Err: err}
	close(ch)
	return ch
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLoop_TickSkipsWhileCircuitOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := spillover.Open(dir, 1<<20, 100)
	require.NoError(t, err)
	breaker := circuit.New(1, time.Hour)
	breaker.RecordFailure(time.Now())

	tr := &fakeTransport{}
	m := metrics.New(nil, nil)
	l := New(time.Second, time.Hour, store, breaker, tr, nil, m, func(model.Event, model.LossReason) {}, testLogger())

	l.Tick(context.Background())
	assert.Zero(t, tr.calls, "the transport must not be touched while the circuit is open")
}

func TestLoop_DrainsSpilledEventsOnSuccess(t *testing.T) {
	dir := t.TempDir()
	store, err := spillover.Open(dir, 1<<20, 100)
	require.NoError(t, err)
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))

	breaker := circuit.New(1, time.Hour)
	tr := &fakeTransport{}
	m := metrics.New(nil, nil)
	l := New(time.Second, time.Hour, store, breaker, tr, nil, m, func(model.Event, model.LossReason) {}, testLogger())

	l.Tick(context.Background())

	assert.Equal(t, int32(2), tr.calls)
	assert.Equal(t, int64(2), m.Snapshot().Replayed)
	_, err = os.Stat(store.ReplayPath())
	assert.True(t, os.IsNotExist(err), "the replay file should be removed once fully drained")
}

func TestLoop_RequeuesRemainderOnPartialFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := spillover.Open(dir, 1<<20, 100)
	require.NoError(t, err)
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))

	breaker := circuit.New(1, time.Hour)
	tr := &fakeTransport{failUntil: 1} // first send fails, stopping the drain
	m := metrics.New(nil, nil)
	l := New(time.Second, time.Hour, store, breaker, tr, nil, m, func(model.Event, model.LossReason) {}, testLogger())

	l.Tick(context.Background())

	assert.Equal(t, int64(0), m.Snapshot().Replayed)
	data, err := os.ReadFile(store.ReplayPath())
	require.NoError(t, err, "a replay file with the unsent remainder must survive a partial failure")
	assert.Equal(t, 2, countLines(data))
}

func TestLoop_DrainsLeftoverReplayFileOnNextTick(t *testing.T) {
	dir := t.TempDir()
	store, err := spillover.Open(dir, 1<<20, 100)
	require.NoError(t, err)
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))

	breaker := circuit.New(1, time.Hour)
	tr := &fakeTransport{failUntil: 1} // first tick's first send fails, stranding a replay file
	m := metrics.New(nil, nil)
	l := New(time.Second, time.Hour, store, breaker, tr, nil, m, func(model.Event, model.LossReason) {}, testLogger())

	l.Tick(context.Background())
	require.FileExists(t, store.ReplayPath())
	require.Equal(t, int64(0), m.Snapshot().Replayed)

	// Nothing new was spilled (active store is empty), but the leftover
	// replay file must still be found and drained.
	atomic.StoreInt32(&tr.failUntil, 0)
	l.Tick(context.Background())

	assert.Equal(t, int64(2), m.Snapshot().Replayed)
	_, err = os.Stat(store.ReplayPath())
	assert.True(t, os.IsNotExist(err), "the replay file must be removed once the leftover is fully drained")
}

func TestLoop_DoesNotClobberLeftoverReplayFileWithFreshSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := spillover.Open(dir, 1<<20, 100)
	require.NoError(t, err)
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))

	breaker := circuit.New(1, time.Hour)
	tr := &fakeTransport{failUntil: 2} // every send fails this tick, stranding both lines
	m := metrics.New(nil, nil)
	l := New(time.Second, time.Hour, store, breaker, tr, nil, m, func(model.Event, model.LossReason) {}, testLogger())

	l.Tick(context.Background())
	require.FileExists(t, store.ReplayPath())
	before, err := os.ReadFile(store.ReplayPath())
	require.NoError(t, err)

	// A new event is spilled while the stranded replay file is still
	// present and still failing.
	require.NoError(t, store.Append(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))
	l.Tick(context.Background())

	after, err := os.ReadFile(store.ReplayPath())
	require.NoError(t, err)
	assert.Equal(t, before, after, "a fresh snapshot must never overwrite a still-undrained replay file")
	assert.Equal(t, 1, store.Count(), "the newly spilled event stays in the active store until the leftover drains")
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
