package sender

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaylog/eventlog/internal/circuit"
	"github.com/relaylog/eventlog/internal/metrics"
	"github.com/relaylog/eventlog/internal/model"
	"github.com/relaylog/eventlog/internal/retry"
)

type fakeTransport struct {
	mu        sync.Mutex
	sent      int
	fail      bool
	failTimes int // fail this many calls, then succeed
	requests  []model.Request
}

func (f *fakeTransport) Send(_ context.Context, req model.Request) (model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.fail || f.failTimes > 0 {
		if f.failTimes > 0 {
			f.failTimes--
		}
		return model.Response{StatusCode: http.StatusInternalServerError}, nil
	}
	f.sent++
	return model.Response{StatusCode: http.StatusAccepted}, nil
}

func (f *fakeTransport) SendAsync(ctx context.Context, req model.Request) <-chan model.Result {
	ch := make(chan model.Result, 1)
	resp, err := f.Send(ctx, req)
	ch <- model.Result{Response: resp, Err: err}
	close(ch)
	return ch
}

func newTestPool(t *testing.T, tr *fakeTransport, maxRetries int) (*Pool, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil, nil)
	breaker := circuit.New(1000, time.Hour)
	p := New(Config{
		QueueCapacity: 16,
		BatchSize:     1,
		MaxBatchWait:  10 * time.Millisecond,
		SenderThreads: 1,
		MaxRetries:    maxRetries,
		Transport:     tr,
		Breaker:       breaker,
		Metrics:       m,
		LossFn:        func(model.Event, model.LossReason) {},
		Logger:        testLogger(),
		Runner:        model.GoRunner,
	})
	sched := retry.New(time.Millisecond, p.Requeue, p.RejectPending, nil)
	p.SetScheduler(sched)
	return p, m
}

func TestPool_EnqueueAndDeliver(t *testing.T) {
	tr := &fakeTransport{}
	p, m := newTestPool(t, tr, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	ev := model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)
	require.True(t, p.Enqueue(ev))

	require.Eventually(t, func() bool {
		return m.Snapshot().Sent == 1
	}, time.Second, time.Millisecond)
}

func TestPool_EnqueueRejectedWhenFull(t *testing.T) {
	tr := &fakeTransport{}
	m := metrics.New(nil, nil)
	breaker := circuit.New(1000, time.Hour)
	p := New(Config{
		QueueCapacity: 1,
		BatchSize:     1,
		MaxBatchWait:  time.Second,
		SenderThreads: 0, // no workers draining it
		MaxRetries:    3,
		Transport:     tr,
		Breaker:       breaker,
		Metrics:       m,
		LossFn:        func(model.Event, model.LossReason) {},
		Logger:        testLogger(),
	})

	ev := model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)
	require.True(t, p.Enqueue(ev))
	assert.False(t, p.Enqueue(ev), "a second enqueue onto a full, undrained queue must be rejected")
}

func TestPool_CircuitOpenSkipsTransportAndSpills(t *testing.T) {
	tr := &fakeTransport{}
	m := metrics.New(nil, nil)
	breaker := circuit.New(1, time.Hour)
	breaker.RecordFailure(time.Now())
	require.True(t, breaker.IsOpen())

	var lost int32
	p := New(Config{
		QueueCapacity: 16,
		BatchSize:     1,
		MaxBatchWait:  10 * time.Millisecond,
		SenderThreads: 1,
		MaxRetries:    0, // exhausted immediately -> spillOrFail
		Transport:     tr,
		Breaker:       breaker,
		Metrics:       m,
		LossFn:        func(model.Event, model.LossReason) { atomic.AddInt32(&lost, 1) },
		Logger:        testLogger(),
	})
	sched := retry.New(time.Millisecond, p.Requeue, p.RejectPending, nil)
	p.SetScheduler(sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.True(t, p.Enqueue(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&lost) == 1
	}, time.Second, time.Millisecond)
	assert.Zero(t, tr.sent, "the transport must never be called while the circuit is open")
}

func TestPool_SpillOrFailWithoutStoreCountsFailed(t *testing.T) {
	tr := &fakeTransport{}
	p, m := newTestPool(t, tr, 3)
	ev := model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)

	spilled := p.SpillOrFail(ev, model.ReasonRetriesExhausted)
	assert.False(t, spilled)
	assert.Equal(t, int64(1), m.Snapshot().Failed)
}

func TestPool_RetriesOnceThenDeliversWithMaxRetriesOne(t *testing.T) {
	// spec.md §8 scenario 3: maxRetries=1, transport returns 500 then 200 —
	// the event must still be retried once and delivered, not spilled after
	// the first failure.
	tr := &fakeTransport{failTimes: 1}
	p, m := newTestPool(t, tr, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.True(t, p.Enqueue(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))

	require.Eventually(t, func() bool {
		return m.Snapshot().Sent == 1
	}, time.Second, time.Millisecond)

	tr.mu.Lock()
	calls := len(tr.requests)
	tr.mu.Unlock()
	assert.Equal(t, 2, calls, "maxRetries=1 must allow exactly one retry after the initial attempt")
	assert.Zero(t, m.Snapshot().Spilled)
	assert.Zero(t, m.Snapshot().Failed)
}

func TestPool_CircuitOpenSpillsEvenWithRetriesRemaining(t *testing.T) {
	tr := &fakeTransport{}
	m := metrics.New(nil, nil)
	breaker := circuit.New(1, time.Hour)
	breaker.RecordFailure(time.Now())
	require.True(t, breaker.IsOpen())

	p := New(Config{
		QueueCapacity: 16,
		BatchSize:     1,
		MaxBatchWait:  10 * time.Millisecond,
		SenderThreads: 1,
		MaxRetries:    3, // plenty of retry budget left; circuit-open must still spill, not reschedule
		Transport:     tr,
		Breaker:       breaker,
		Metrics:       m,
		LossFn:        func(model.Event, model.LossReason) {},
		Logger:        testLogger(),
	})
	sched := retry.New(time.Millisecond, p.Requeue, p.RejectPending, nil)
	p.SetScheduler(sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.True(t, p.Enqueue(model.NewEvent("app", "proc", model.EventStep, model.StatusSuccess)))

	require.Eventually(t, func() bool {
		return m.Snapshot().Failed == 1
	}, time.Second, time.Millisecond)
	assert.Zero(t, tr.sent, "the transport must never be called while the circuit is open")
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
