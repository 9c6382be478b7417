// Package metrics tracks the lifecycle counters spec.md §3's Metrics type
// names (queued, sent, failed, spilled, replayed) and registers OTEL
// observable gauges for queue depth and circuit state, grounded on
// internal/service/trace/buffer.go's registerMetrics.
package metrics

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

// Snapshot is a point-in-time copy of every counter, returned by
// Logger.Metrics().
type Snapshot struct {
	Queued   int64
	Sent     int64
	Failed   int64
	Spilled  int64
	Replayed int64
}

// Metrics holds the atomic counters spec.md's Metrics type enumerates, plus
// callbacks consulted by the OTEL observable gauges for queue depth and
// circuit state.
type Metrics struct {
	queued   atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
	spilled  atomic.Int64
	replayed atomic.Int64

	queueDepthFn  func() int64
	circuitOpenFn func() bool

	regs []metric.Registration
}

// New returns a Metrics with every counter at zero. queueDepthFn and
// circuitOpenFn back the observable gauges registered by Register; either
// may be nil, in which case the corresponding gauge always reports zero.
func New(queueDepthFn func() int64, circuitOpenFn func() bool) *Metrics {
	if queueDepthFn == nil {
		queueDepthFn = func() int64 { return 0 }
	}
	if circuitOpenFn == nil {
		circuitOpenFn = func() bool { return false }
	}
	return &Metrics{queueDepthFn: queueDepthFn, circuitOpenFn: circuitOpenFn}
}

// Register creates the observable gauges on meter, mirroring buffer.go's
// registerMetrics pattern: one Int64ObservableGauge per live-state value
// (queue depth, circuit open), backed by a callback rather than a stored
// sample. The lifetime totals are not registered as OTEL instruments; they
// are read through Snapshot. Call the returned unregister func during
// shutdown.
func (m *Metrics) Register(meter metric.Meter) (unregister func(), err error) {
	depthGauge, err := meter.Int64ObservableGauge("eventlog.queue.depth",
		metric.WithDescription("current number of events buffered in the sender queue"))
	if err != nil {
		return nil, err
	}
	circuitGauge, err := meter.Int64ObservableGauge("eventlog.circuit.open",
		metric.WithDescription("1 if the circuit breaker is open, 0 otherwise"))
	if err != nil {
		return nil, err
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(depthGauge, m.queueDepthFn())
		open := int64(0)
		if m.circuitOpenFn() {
			open = 1
		}
		o.ObserveInt64(circuitGauge, open)
		return nil
	}, depthGauge, circuitGauge)
	if err != nil {
		return nil, err
	}
	m.regs = append(m.regs, reg)
	return func() {
		for _, r := range m.regs {
			_ = r.Unregister()
		}
	}, nil
}

func (m *Metrics) IncQueued(n int64)   { m.queued.Add(n) }
func (m *Metrics) IncSent(n int64)     { m.sent.Add(n) }
func (m *Metrics) IncFailed(n int64)   { m.failed.Add(n) }
func (m *Metrics) IncSpilled(n int64)  { m.spilled.Add(n) }
func (m *Metrics) IncReplayed(n int64) { m.replayed.Add(n) }

// Snapshot copies every counter's current value.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Queued:   m.queued.Load(),
		Sent:     m.sent.Load(),
		Failed:   m.failed.Load(),
		Spilled:  m.spilled.Load(),
		Replayed: m.replayed.Load(),
	}
}
