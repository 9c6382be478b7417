package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
)

func TestMetrics_CountersAccumulate(t *testing.T) {
	m := New(nil, nil)
	m.IncQueued(3)
	m.IncSent(2)
	m.IncFailed(1)
	m.IncSpilled(1)
	m.IncReplayed(1)

	snap := m.Snapshot()
	assert.Equal(t, Snapshot{Queued: 3, Sent: 2, Failed: 1, Spilled: 1, Replayed: 1}, snap)
}

func TestMetrics_RegisterObservesGauges(t *testing.T) {
	depth := int64(7)
	open := true
	m := New(func() int64 { return depth }, func() bool { return open })

	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter("test")

	unregister, err := m.Register(meter)
	require.NoError(t, err)
	defer unregister()

	var data metric.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &data))
	require.Len(t, data.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, sm := range data.ScopeMetrics[0].Metrics {
		names[sm.Name] = true
	}
	assert.True(t, names["eventlog.queue.depth"])
	assert.True(t, names["eventlog.circuit.open"])
}
