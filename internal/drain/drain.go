// Package drain implements staged, bounded-time disconnection of a socket
// node (spec.md §4.8): on a DrainSignal or external trigger, sessions are
// closed in batches spread across a fixed window so the KV buffer
// absorbs the backlog instead of clients losing messages outright.
package drain

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamspace/rtcmesh/internal/bus"
	"github.com/streamspace/rtcmesh/internal/envelope"
	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/metrics"
	"github.com/streamspace/rtcmesh/internal/session"
)

// DefaultWindow is the default total time allotted to close every session.
const DefaultWindow = 5 * time.Minute

// DefaultBatchInterval is the default pause between disconnect batches.
const DefaultBatchInterval = 2 * time.Second

// Controller drives one node's drain lifecycle: reject new upgrades,
// disconnect existing sessions in batches over a bounded window, and
// report completion.
type Controller struct {
	nodeID   string
	sessions *session.Manager

	window        time.Duration
	batchInterval time.Duration

	draining atomic.Bool
	done     chan struct{}
	doneOnce sync.Once

	remaining atomic.Int64
}

// NewController constructs a Controller. A zero window or batchInterval
// falls back to the package defaults.
func NewController(nodeID string, sessions *session.Manager, window, batchInterval time.Duration) *Controller {
	if window <= 0 {
		window = DefaultWindow
	}
	if batchInterval <= 0 {
		batchInterval = DefaultBatchInterval
	}
	return &Controller{
		nodeID:        nodeID,
		sessions:      sessions,
		window:        window,
		batchInterval: batchInterval,
		done:          make(chan struct{}),
	}
}

// IsDraining reports whether this node has entered the draining state.
// Upgrade handlers must reject new connections and readiness probes must
// fail while this is true.
func (c *Controller) IsDraining() bool {
	return c.draining.Load()
}

// Remaining returns the number of sessions left to close.
func (c *Controller) Remaining() int64 {
	return c.remaining.Load()
}

// Done is closed once the drain has finished, either because every
// session closed or the window expired.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start enters the draining state and runs the staged disconnect loop to
// completion (or until ctx is canceled). Calling Start more than once is
// a no-op after the first call.
func (c *Controller) Start(ctx context.Context, reason string) {
	if !c.draining.CompareAndSwap(false, true) {
		return
	}
	logging.Drain().Info().Str("nodeId", c.nodeID).Str("reason", reason).Msg("entering draining state")

	deadline := time.Now().Add(c.window)
	ticker := time.NewTicker(c.batchInterval)
	defer ticker.Stop()

	for {
		ids := c.sessions.ClientIDs()
		total := len(ids)
		c.remaining.Store(int64(total))
		metrics.DrainRemaining.WithLabelValues(c.nodeID).Set(float64(total))

		if total == 0 {
			break
		}
		if time.Now().After(deadline) {
			logging.Drain().Warn().Str("nodeId", c.nodeID).Int("remaining", total).Msg("drain window expired with sessions still open")
			break
		}

		remainingWindow := time.Until(deadline)
		batchSize := batchSizeFor(total, c.batchInterval, remainingWindow)
		for i := 0; i < batchSize && i < len(ids); i++ {
			c.sessions.Remove(ctx, ids[i])
		}

		select {
		case <-ctx.Done():
			c.finish()
			return
		case <-ticker.C:
		}
	}

	c.finish()
}

func (c *Controller) finish() {
	c.remaining.Store(int64(c.sessions.Count()))
	metrics.DrainRemaining.WithLabelValues(c.nodeID).Set(0)
	c.doneOnce.Do(func() { close(c.done) })
	logging.Drain().Info().Str("nodeId", c.nodeID).Msg("drain complete")
}

// batchSizeFor implements "disconnect max(1, S*deltaT/T) every deltaT"
// against whatever window remains, so the batch size adapts if draining
// starts partway through an already-shrinking window.
func batchSizeFor(total int, batchInterval, remainingWindow time.Duration) int {
	if remainingWindow <= 0 {
		return total
	}
	frac := float64(batchInterval) / float64(remainingWindow)
	size := int(math.Ceil(float64(total) * frac))
	if size < 1 {
		size = 1
	}
	return size
}

// Subscriber watches the control drain topic for a DrainSignal targeted
// at this node and starts the Controller the first time one arrives.
func Subscriber(ctx context.Context, b bus.Bus, nodeID string, c *Controller) error {
	return b.Subscribe(ctx, bus.ControlDrainTopic, bus.ConsumerGroup("drain-"+nodeID), func(rec bus.Record) {
		defer func() {
			if err := rec.Ack(); err != nil {
				logging.Drain().Error().Err(err).Msg("failed to ack drain signal")
			}
		}()

		crec, err := envelope.DecodeControlRecord(rec.Value)
		if err != nil || crec.Kind != envelope.KindDrainSignal {
			return
		}
		signal, err := crec.AsDrainSignal()
		if err != nil {
			logging.Drain().Warn().Err(err).Msg("failed to decode drain signal")
			return
		}
		if signal.NodeID != nodeID {
			return
		}
		go c.Start(ctx, signal.Reason)
	})
}
