package retry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct{ attempt int }

func (f *fakeEntry) NextAttempt() int { return f.attempt }

func syncRunner(_ context.Context, fn func()) { fn() }

func TestScheduler_SchedulesAndRequeues(t *testing.T) {
	var mu sync.Mutex
	var requeued []Entry
	requeueFn := func(e Entry) {
		mu.Lock()
		defer mu.Unlock()
		requeued = append(requeued, e)
	}
	s := New(time.Millisecond, requeueFn, func(Entry) {}, syncRunner)

	ok := s.Schedule(&fakeEntry{attempt: 1})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(requeued) == 1
	}, time.Second, time.Millisecond)
}

func TestScheduler_ScheduleAfterStopIsRejected(t *testing.T) {
	s := New(time.Millisecond, func(Entry) {}, func(Entry) {}, syncRunner)
	s.Stop()

	ok := s.Schedule(&fakeEntry{attempt: 1})
	assert.False(t, ok)
}

func TestScheduler_StopReclaimsPendingEntries(t *testing.T) {
	s := New(time.Hour, func(Entry) {}, func(Entry) {}, syncRunner)
	e1 := &fakeEntry{attempt: 1}
	e2 := &fakeEntry{attempt: 1}
	require.True(t, s.Schedule(e1))
	require.True(t, s.Schedule(e2))
	assert.Equal(t, 2, s.Pending())

	reclaimed := s.Stop()
	assert.ElementsMatch(t, []Entry{e1, e2}, reclaimed)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_NilRunnerDefaultsToDirectDispatch(t *testing.T) {
	done := make(chan struct{})
	s := New(time.Millisecond, func(Entry) { close(done) }, func(Entry) {}, nil)
	require.True(t, s.Schedule(&fakeEntry{attempt: 1}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("requeueFn was never invoked")
	}
}
