// Package scaling implements the leader-only scaling engine: an ordered
// decision table over the latest aggregated metric vector, exponential
// amplification of consecutive scale-outs, and the scale-in safety floors
// (spec.md §4.7).
package scaling

import "github.com/streamspace/rtcmesh/internal/envelope"

// Inputs is the aggregated metric vector produced by the last ring scan.
type Inputs struct {
	AvgCPU       float64
	AvgMem       float64
	MaxCPU       float64
	MaxMem       float64
	AvgLatencyMs float64
	AvgBacklogMs float64
	AvgMPS       float64
	MPSPerCPU    float64
	AvgConn      float64
	ConnPerCPU   float64
	NodeCount    int
}

// Thresholds parameterises the decision table; the spec names the
// comparisons but leaves the exact cutoffs to the deployment beyond the
// few it pins (0.70, 0.75, 0.85, 0.90).
type Thresholds struct {
	LatencySLOMs      float64
	BacklogThresholdMs float64
	MPSHigh           float64
	MPSPerCPULow      float64
	ConnHigh          float64
	ConnPerCPULow     float64
}

// DefaultThresholds returns conservative defaults for the thresholds the
// spec leaves to the deployment.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencySLOMs:       250,
		BacklogThresholdMs: 1000,
		MPSHigh:            2000,
		MPSPerCPULow:       500,
		ConnHigh:           8000,
		ConnPerCPULow:      2000,
	}
}

// decide evaluates the ordered, first-match-wins decision table from
// spec.md §4.7 and returns the matched action, its base step, and an
// urgency level for logging/metrics.
func decide(in Inputs, th Thresholds) (action envelope.ScaleAction, baseStep, urgency int, reason string) {
	switch {
	case in.AvgCPU > 0.70 || in.AvgMem > 0.75:
		return envelope.ScaleOut, 3, 3, "average utilisation above threshold"
	case in.MaxCPU > 0.85 || in.MaxMem > 0.90:
		return envelope.ScaleOut, 3, 3, "a node above its max threshold"
	case in.AvgLatencyMs > th.LatencySLOMs && (in.AvgCPU > 0.5 || in.AvgMem > 0.5):
		return envelope.ScaleOut, 2, 2, "latency above SLO under moderate load"
	case in.AvgBacklogMs > th.BacklogThresholdMs && (in.AvgCPU > 0.4 || in.AvgMem > 0.4):
		return envelope.ScaleOut, 2, 2, "backlog above threshold under moderate load"
	case in.AvgMPS > th.MPSHigh && in.MPSPerCPU < th.MPSPerCPULow:
		return envelope.ScaleOut, 2, 2, "message rate high relative to cpu headroom"
	case in.AvgConn > th.ConnHigh && in.ConnPerCPU < th.ConnPerCPULow:
		return envelope.ScaleOut, 2, 2, "connection count high relative to cpu headroom"
	case in.AvgCPU < 0.3 && in.AvgMem < 0.3 && in.AvgLatencyMs < th.LatencySLOMs && in.AvgBacklogMs < th.BacklogThresholdMs:
		return envelope.ScaleIn, 1, 1, "all utilisations low"
	default:
		return envelope.ScaleNone, 0, 0, "no trigger matched"
	}
}
