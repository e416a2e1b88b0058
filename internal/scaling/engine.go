package scaling

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/streamspace/rtcmesh/internal/bus"
	"github.com/streamspace/rtcmesh/internal/envelope"
	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/metrics"
)

// DefaultMaxScaleOut caps the amplified scale-out step.
const DefaultMaxScaleOut = 5

// DefaultMinNodes is the floor the engine never scales below.
const DefaultMinNodes = 2

// amplificationWindow is the rolling window consecutive scale-outs are
// counted over.
const amplificationWindow = 5 * time.Minute

// Orchestrator lets the engine mutate the deployment's desired replica
// count directly when it is trusted to act on a scale decision without
// waiting for an external controller to read the ScaleSignal broadcast.
type Orchestrator interface {
	SetReplicas(ctx context.Context, delta int) error
}

// Engine runs the leader-only scaling decision on each ring scan,
// tracking enough history to amplify repeated scale-outs and enforce the
// scale-in safety floors.
type Engine struct {
	bus          bus.Bus
	orchestrator Orchestrator
	thresholds   Thresholds
	maxScaleOut  int
	minNodes     int

	mu             sync.Mutex
	scaleOutEvents []time.Time
	lastAvgCPU     float64
	hasLast        bool
}

// NewEngine constructs an Engine. orchestrator may be nil, in which case
// only the ScaleSignal broadcast happens.
func NewEngine(b bus.Bus, orchestrator Orchestrator) *Engine {
	return &Engine{
		bus:          b,
		orchestrator: orchestrator,
		thresholds:   DefaultThresholds(),
		maxScaleOut:  DefaultMaxScaleOut,
		minNodes:     DefaultMinNodes,
	}
}

// SetThresholds overrides the decision table's cutoffs, e.g. from the
// deployment's L_SLO_MS and related environment configuration (default:
// DefaultThresholds()).
func (e *Engine) SetThresholds(th Thresholds) {
	e.thresholds = th
}

// SetMaxScaleOut overrides the amplification cap, e.g. from the
// deployment's MAX_SCALE_STEP environment configuration. Values <= 0 are
// ignored (default: DefaultMaxScaleOut).
func (e *Engine) SetMaxScaleOut(max int) {
	if max <= 0 {
		return
	}
	e.maxScaleOut = max
}

// Evaluate runs one scaling decision over in, given the current set of
// node weights (used to pick scale-in removal candidates — the lowest
// weight nodes, since they're already carrying the least placement
// share). It publishes a ScaleSignal, optionally mutates the
// orchestrator's replica count, and on scale-in also emits a DrainSignal
// per node selected for removal.
func (e *Engine) Evaluate(ctx context.Context, in Inputs, nodeWeights map[string]int) error {
	action, baseStep, _, reason := decide(in, e.thresholds)

	e.mu.Lock()
	step := e.amplify(action, baseStep, in.AvgCPU)
	e.mu.Unlock()

	if action == envelope.ScaleIn {
		if in.NodeCount-step < e.minNodes {
			action, step, reason = envelope.ScaleNone, 0, "blocked: would go below minimum node floor"
		} else if projectedLoadAfterScaleIn(in, step) > 0.50 {
			action, step, reason = envelope.ScaleNone, 0, "blocked: projected post-scale-in load exceeds floor"
		}
	}

	metrics.ScaleDecisions.WithLabelValues(string(action)).Inc()

	if action == envelope.ScaleNone {
		logging.Scaling().Debug().Str("reason", reason).Msg("no scaling action")
		return nil
	}

	signal := envelope.ScaleSignal{Action: action, Step: step, Reason: reason, TS: time.Now().UnixMilli()}
	if err := e.publish(ctx, signal); err != nil {
		return err
	}

	delta := step
	if action == envelope.ScaleIn {
		delta = -step
	}
	if e.orchestrator != nil {
		if err := e.orchestrator.SetReplicas(ctx, delta); err != nil {
			logging.Scaling().Error().Err(err).Msg("orchestrator replica mutation failed")
		}
	}

	if action == envelope.ScaleIn {
		for _, nodeID := range lowestWeightNodes(nodeWeights, step) {
			if err := e.emitDrainSignal(ctx, nodeID, reason); err != nil {
				logging.Scaling().Error().Err(err).Str("nodeId", nodeID).Msg("drain signal publish failed")
			}
		}
	}

	return nil
}

// amplify must be called with e.mu held. It prunes scale-out events
// outside the rolling window, and for a fresh scale-out decision adds the
// count of recent scale-outs plus a rate-of-change bonus, capped at
// maxScaleOut.
func (e *Engine) amplify(action envelope.ScaleAction, baseStep int, avgCPU float64) int {
	now := time.Now()
	cutoff := now.Add(-amplificationWindow)
	kept := e.scaleOutEvents[:0]
	for _, ts := range e.scaleOutEvents {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.scaleOutEvents = kept

	step := baseStep
	if action == envelope.ScaleOut {
		step += len(e.scaleOutEvents)
		if e.hasLast && e.lastAvgCPU > 0 && avgCPU >= e.lastAvgCPU*1.5 {
			step += 2
		}
		if step > e.maxScaleOut {
			step = e.maxScaleOut
		}
		e.scaleOutEvents = append(e.scaleOutEvents, now)
	}

	e.lastAvgCPU = avgCPU
	e.hasLast = true
	return step
}

// projectedLoadAfterScaleIn estimates the average load after removing
// step nodes by redistributing the current average CPU proportionally
// across the smaller node count.
func projectedLoadAfterScaleIn(in Inputs, step int) float64 {
	remaining := in.NodeCount - step
	if remaining <= 0 {
		return 1.0
	}
	return in.AvgCPU * float64(in.NodeCount) / float64(remaining)
}

func lowestWeightNodes(weights map[string]int, count int) []string {
	type kv struct {
		id string
		w  int
	}
	all := make([]kv, 0, len(weights))
	for id, w := range weights {
		all = append(all, kv{id, w})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].w != all[j].w {
			return all[i].w < all[j].w
		}
		return all[i].id < all[j].id
	})
	if count > len(all) {
		count = len(all)
	}
	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = all[i].id
	}
	return out
}

func (e *Engine) publish(ctx context.Context, signal envelope.ScaleSignal) error {
	rec, err := envelope.WrapScaleSignal(signal)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return e.bus.Produce(ctx, bus.ControlScaleTopic, "scale", data)
}

func (e *Engine) emitDrainSignal(ctx context.Context, nodeID, reason string) error {
	signal := envelope.DrainSignal{
		NodeID:         nodeID,
		DeadlineMillis: time.Now().Add(5 * time.Minute).UnixMilli(),
		MaxDisconnects: 0, // 0: no cap, drain every session on nodeID over its own batching window
		Reason:         reason,
		TS:             time.Now().UnixMilli(),
	}
	rec, err := envelope.WrapDrainSignal(signal)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return e.bus.Produce(ctx, bus.ControlDrainTopic, nodeID, data)
}
