package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallens/resolve-cli/internal/eventlog"
)

type mockEvents struct {
	events []eventlog.Event
	err    error
}

func (m *mockEvents) Recent(_ context.Context, limit int) ([]eventlog.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.events) {
		return m.events[:limit], nil
	}
	return m.events, nil
}

func TestCollect(t *testing.T) {
	c := NewCollector(&mockEvents{events: []eventlog.Event{
		{Fused: 0.9, Integrity: 80, LatencyMs: 100},
		{Fused: 0.3, Integrity: 40, LatencyMs: 300, Anomalous: true, Severity: "high", Healed: true},
		{Fused: 0.4, Integrity: 60, LatencyMs: 200, Anomalous: true, Severity: "critical", Degraded: true},
		{Fused: 0.8, Integrity: 70, LatencyMs: 400},
	}}, nil)

	snap, err := c.Collect(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 2, snap.Anomalous)
	assert.Equal(t, 1, snap.Healed)
	assert.Equal(t, 1, snap.Degraded)
	assert.InDelta(t, 0.5, snap.AnomalyRate, 0.0001)
	assert.InDelta(t, 0.5, snap.HealRate, 0.0001)
	assert.InDelta(t, 0.5, snap.LowConfidenceRate, 0.0001)
	assert.InDelta(t, 0.6, snap.AvgFused, 0.0001)
	assert.InDelta(t, 62.5, snap.AvgIntegrity, 0.0001)
	assert.InDelta(t, 250, snap.AvgLatencyMs, 0.0001)
	assert.Equal(t, map[string]int{"high": 1, "critical": 1}, snap.SeverityCounts)
	assert.Equal(t, 100, snap.SampleSize)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollect_Empty(t *testing.T) {
	c := NewCollector(&mockEvents{}, nil)

	snap, err := c.Collect(context.Background(), 100)
	require.NoError(t, err)

	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.AnomalyRate)
	assert.Zero(t, snap.AvgFused)
	assert.Nil(t, snap.SeverityCounts)
}

func TestCollect_DefaultSampleSize(t *testing.T) {
	c := NewCollector(&mockEvents{}, nil)

	snap, err := c.Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 500, snap.SampleSize)
}

func TestCollect_QueryError(t *testing.T) {
	c := NewCollector(&mockEvents{err: errors.New("db locked")}, nil)

	_, err := c.Collect(context.Background(), 100)
	assert.Error(t, err)
}

func TestCollect_NoAnomaliesNoHealRate(t *testing.T) {
	c := NewCollector(&mockEvents{events: []eventlog.Event{
		{Fused: 0.9, Integrity: 80, LatencyMs: 100},
	}}, nil)

	snap, err := c.Collect(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, snap.HealRate)
}
