// Package relay moves envelopes from an ingest node to the owning node
// over the log bus, with per-recipient partition ordering and
// at-least-once delivery (spec.md §4.4).
package relay

import (
	"context"
	"sync/atomic"

	"github.com/streamspace/rtcmesh/internal/bus"
	"github.com/streamspace/rtcmesh/internal/envelope"
	rtcerrors "github.com/streamspace/rtcmesh/internal/errors"
	"github.com/streamspace/rtcmesh/internal/kvstore"
	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/metrics"
	"github.com/streamspace/rtcmesh/internal/placement"
	"github.com/streamspace/rtcmesh/internal/session"
)

// Router resolves the owning node for an envelope's recipient and either
// delivers it locally or produces it onto that node's delivery topic, and
// runs the consume side of the same topic for the node it's bound to.
type Router struct {
	nodeID   string
	bus      bus.Bus
	store    kvstore.Store
	sessions *session.Manager

	ring atomic.Pointer[placement.Ring]

	bufferMax, resumeTTLSec int64
}

// New constructs a Router bound to one node's session manager, bus, and KV
// store. InstallRing must be called at least once (from the ring
// subscriber) before Publish can resolve fallback recipients locally.
func New(nodeID string, b bus.Bus, store kvstore.Store, sessions *session.Manager, bufferMax int64) *Router {
	return &Router{nodeID: nodeID, bus: b, store: store, sessions: sessions, bufferMax: bufferMax}
}

// InstallRing atomically swaps in a freshly built placement ring, per the
// wait-free snapshot-read pattern: callers never block a Resolve on a
// rebuild in progress.
func (r *Router) InstallRing(ring *placement.Ring) {
	r.ring.Store(ring)
}

// Publish determines the owning node for env.ToClientID (env.NodeID hint,
// else the local ring) and either delivers it to a locally-attached
// session or produces it onto that node's delivery topic. If the owning
// node cannot be resolved or production fails, the envelope is buffered
// to the KV store for the recipient's next resume.
func (r *Router) Publish(ctx context.Context, env envelope.Envelope) error {
	owner := env.NodeID
	if owner == "" {
		ring := r.ring.Load()
		resolved, err := ring.Resolve(env.ToClientID)
		if err != nil {
			r.bufferFallback(ctx, env)
			return rtcerrors.ErrRingUninitialized
		}
		owner = resolved
	}

	if owner == r.nodeID {
		if r.sessions.DeliverMessage(ctx, env) {
			metrics.DeliverLocal.WithLabelValues(r.nodeID).Inc()
			return nil
		}
		// DeliverMessage buffers on sink overflow itself; an absent
		// recipient is buffered here.
		if _, attached := r.sessions.Get(env.ToClientID); !attached {
			r.bufferFallback(ctx, env)
		}
		return nil
	}

	data, err := env.Marshal()
	if err != nil {
		logging.Relay().Error().Err(err).Str("msgId", env.MsgID).Msg("failed to marshal envelope for relay")
		r.bufferFallback(ctx, env)
		return err
	}

	if err := r.bus.Produce(ctx, bus.DeliveryTopic(owner), env.ToClientID, data); err != nil {
		logging.Relay().Warn().Err(err).Str("toNode", owner).Msg("relay publish failed, buffering to KV")
		r.bufferFallback(ctx, env)
		return rtcerrors.ErrPublishFailed
	}
	return nil
}

func (r *Router) bufferFallback(ctx context.Context, env envelope.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		logging.Relay().Error().Err(err).Str("msgId", env.MsgID).Msg("failed to marshal envelope for buffer fallback")
		return
	}
	if err := r.store.AppendBuffer(ctx, env.ToClientID, data, r.bufferMax, 0, 0); err != nil {
		logging.Relay().Error().Err(err).Str("clientId", env.ToClientID).Msg("failed to append envelope to kv buffer")
	}
}

// Run subscribes to this node's own delivery topic and consumes it until
// ctx is canceled. Each record is deserialized and handed to the session
// manager; delivery failure (recipient not locally attached, e.g. after a
// race with a ring update) falls back to the KV buffer. Malformed records
// are skipped and counted rather than retried, since retrying cannot fix
// a parse error.
func (r *Router) Run(ctx context.Context) error {
	topic := bus.DeliveryTopic(r.nodeID)
	group := bus.ConsumerGroup(r.nodeID)
	return r.bus.Subscribe(ctx, topic, group, func(rec bus.Record) {
		env, err := envelope.Unmarshal(rec.Value)
		if err != nil {
			metrics.PoisonRecords.WithLabelValues(r.nodeID).Inc()
			logging.Relay().Warn().Err(err).Msg("skipping poison relay record")
			if ackErr := rec.Ack(); ackErr != nil {
				logging.Relay().Error().Err(ackErr).Msg("failed to ack poison record")
			}
			return
		}

		if r.sessions.DeliverMessage(ctx, env) {
			metrics.DeliverRelay.WithLabelValues(r.nodeID).Inc()
		} else if _, attached := r.sessions.Get(env.ToClientID); !attached {
			r.bufferFallback(ctx, env)
		}
		// DeliverMessage buffers to the KV store on overflow and the branch
		// above buffers on absence; either way the record's offset is safe
		// to commit.
		if err := rec.Ack(); err != nil {
			logging.Relay().Error().Err(err).Str("clientId", env.ToClientID).Msg("failed to commit relay offset")
		}
	})
}
