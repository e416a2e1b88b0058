package scaling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/rtcmesh/internal/bus"
	"github.com/streamspace/rtcmesh/internal/envelope"
)

type fakeOrchestrator struct {
	deltas []int
}

func (f *fakeOrchestrator) SetReplicas(_ context.Context, delta int) error {
	f.deltas = append(f.deltas, delta)
	return nil
}

func TestEngineEvaluatePublishesScaleOutSignal(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFakeBus()
	orch := &fakeOrchestrator{}
	e := NewEngine(b, orch)

	err := e.Evaluate(ctx, Inputs{AvgCPU: 0.90, NodeCount: 4}, nil)
	require.NoError(t, err)

	records := b.Drain(bus.ControlScaleTopic)
	require.Len(t, records, 1)
	rec, err := envelope.DecodeControlRecord(records[0].Value)
	require.NoError(t, err)
	signal, err := rec.AsScaleSignal()
	require.NoError(t, err)
	assert.Equal(t, envelope.ScaleOut, signal.Action)
	assert.Equal(t, []int{3}, orch.deltas)
}

func TestEngineEvaluateAmplifiesConsecutiveScaleOuts(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFakeBus()
	e := NewEngine(b, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Evaluate(ctx, Inputs{AvgCPU: 0.90, NodeCount: 4}, nil))
		b.Drain(bus.ControlScaleTopic)
	}

	require.NoError(t, e.Evaluate(ctx, Inputs{AvgCPU: 0.90, NodeCount: 4}, nil))
	records := b.Drain(bus.ControlScaleTopic)
	require.Len(t, records, 1)
	rec, err := envelope.DecodeControlRecord(records[0].Value)
	require.NoError(t, err)
	signal, err := rec.AsScaleSignal()
	require.NoError(t, err)
	assert.Equal(t, 5, signal.Step, "base step 3 plus 3 prior scale-outs would be 6, capped at maxScaleOut")
}

func TestEngineEvaluateCapsAtMaxScaleOut(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFakeBus()
	e := NewEngine(b, nil)

	var last envelope.ScaleSignal
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Evaluate(ctx, Inputs{AvgCPU: 0.90, NodeCount: 10}, nil))
		records := b.Drain(bus.ControlScaleTopic)
		require.Len(t, records, 1)
		rec, err := envelope.DecodeControlRecord(records[0].Value)
		require.NoError(t, err)
		last, err = rec.AsScaleSignal()
		require.NoError(t, err)
	}
	assert.Equal(t, DefaultMaxScaleOut, last.Step)
}

func TestEngineEvaluateBlocksScaleInBelowMinNodes(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFakeBus()
	e := NewEngine(b, nil)

	err := e.Evaluate(ctx, Inputs{AvgCPU: 0.1, AvgMem: 0.1, AvgLatencyMs: 1, AvgBacklogMs: 1, NodeCount: 2}, nil)
	require.NoError(t, err)

	records := b.Drain(bus.ControlScaleTopic)
	assert.Empty(t, records, "scaling in below the minimum node floor must be blocked")
}

func TestEngineEvaluateScaleInEmitsDrainSignalForLowestWeightNode(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFakeBus()
	e := NewEngine(b, nil)

	weights := map[string]int{"node-1": 50, "node-2": 150, "node-3": 100}
	err := e.Evaluate(ctx, Inputs{AvgCPU: 0.1, AvgMem: 0.1, AvgLatencyMs: 1, AvgBacklogMs: 1, NodeCount: 3}, weights)
	require.NoError(t, err)

	scaleRecords := b.Drain(bus.ControlScaleTopic)
	require.Len(t, scaleRecords, 1)

	drainRecords := b.Drain(bus.ControlDrainTopic)
	require.Len(t, drainRecords, 1)
	assert.Equal(t, "node-1", drainRecords[0].Key)
}
