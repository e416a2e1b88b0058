package scaling

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamspace/rtcmesh/internal/envelope"
)

func TestDecideScaleOutOnHighAverageUtilisation(t *testing.T) {
	th := DefaultThresholds()
	action, step, urgency, _ := decide(Inputs{AvgCPU: 0.75}, th)
	assert.Equal(t, envelope.ScaleOut, action)
	assert.Equal(t, 3, step)
	assert.Equal(t, 3, urgency)
}

func TestDecideScaleOutOnLatencySLOBreach(t *testing.T) {
	th := DefaultThresholds()
	action, step, _, _ := decide(Inputs{AvgCPU: 0.6, AvgLatencyMs: th.LatencySLOMs + 1}, th)
	assert.Equal(t, envelope.ScaleOut, action)
	assert.Equal(t, 2, step)
}

func TestDecideScaleInWhenAllLow(t *testing.T) {
	th := DefaultThresholds()
	action, step, _, _ := decide(Inputs{AvgCPU: 0.1, AvgMem: 0.1, AvgLatencyMs: 10, AvgBacklogMs: 10}, th)
	assert.Equal(t, envelope.ScaleIn, action)
	assert.Equal(t, 1, step)
}

func TestDecideNoneOtherwise(t *testing.T) {
	th := DefaultThresholds()
	action, _, _, _ := decide(Inputs{AvgCPU: 0.5, AvgMem: 0.5, AvgLatencyMs: 10, AvgBacklogMs: 10}, th)
	assert.Equal(t, envelope.ScaleNone, action)
}

func TestDecideScaleOutOnSingleHotNode(t *testing.T) {
	th := DefaultThresholds()
	// Cluster average stays well below the first row's thresholds, but one
	// node is individually over its max; the second row must still fire.
	action, step, urgency, reason := decide(Inputs{AvgCPU: 0.3, AvgMem: 0.3, MaxCPU: 0.9}, th)
	assert.Equal(t, envelope.ScaleOut, action)
	assert.Equal(t, 3, step)
	assert.Equal(t, 3, urgency)
	assert.Equal(t, "a node above its max threshold", reason)
}

func TestDecideFirstMatchWinsOverLaterRows(t *testing.T) {
	th := DefaultThresholds()
	// Both the first row (avgCPU>0.70) and the MPS row would match; the
	// first row must win.
	action, step, _, reason := decide(Inputs{AvgCPU: 0.95, AvgMPS: th.MPSHigh + 1, MPSPerCPU: th.MPSPerCPULow - 1}, th)
	assert.Equal(t, envelope.ScaleOut, action)
	assert.Equal(t, 3, step)
	assert.Equal(t, "average utilisation above threshold", reason)
}
