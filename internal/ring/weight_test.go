package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeWeightsSumsToHundredTimesN(t *testing.T) {
	cfg := DefaultWeightConfig()
	metrics := map[string]NodeMetrics{
		"a": {CPU: 0.2, Mem: 0.2},
		"b": {CPU: 0.8, Mem: 0.8},
		"c": {CPU: 0.5, Mem: 0.5},
	}
	weights := ComputeWeights(metrics, cfg)
	requireLen(t, weights, 3)

	total := 0
	for _, w := range weights {
		total += w
	}
	assert.InDelta(t, 300, total, 10, "weights should scale to approximately 100*n")
}

func TestComputeWeightsGivesLighterNodeMoreWeight(t *testing.T) {
	cfg := DefaultWeightConfig()
	metrics := map[string]NodeMetrics{
		"idle": {CPU: 0.1, Mem: 0.1},
		"busy": {CPU: 0.9, Mem: 0.9},
	}
	weights := ComputeWeights(metrics, cfg)
	assert.Greater(t, weights["idle"], weights["busy"])
}

func TestComputeWeightsClampsToFloor(t *testing.T) {
	cfg := DefaultWeightConfig()
	metrics := map[string]NodeMetrics{
		"idle":        {CPU: 0.01, Mem: 0.01},
		"overwhelmed": {CPU: 1.0, Mem: 1.0},
	}
	weights := ComputeWeights(metrics, cfg)
	assert.GreaterOrEqual(t, weights["overwhelmed"], minWeight)
}

func TestComputeWeightsEmptyReturnsNil(t *testing.T) {
	assert.Nil(t, ComputeWeights(nil, DefaultWeightConfig()))
}

func TestWeightsChangedDetectsMembershipAndSwing(t *testing.T) {
	prev := map[string]int{"a": 100, "b": 100}

	assert.True(t, WeightsChanged(nil, prev, 0.10))
	assert.False(t, WeightsChanged(prev, map[string]int{"a": 102, "b": 98}, 0.10))
	assert.True(t, WeightsChanged(prev, map[string]int{"a": 130, "b": 70}, 0.10))
	assert.True(t, WeightsChanged(prev, map[string]int{"a": 100, "b": 100, "c": 50}, 0.10))
}

func requireLen(t *testing.T, m map[string]int, n int) {
	t.Helper()
	if len(m) != n {
		t.Fatalf("expected %d weights, got %d", n, len(m))
	}
}
