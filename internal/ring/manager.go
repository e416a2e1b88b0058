package ring

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"sync/atomic"
	"time"

	"github.com/streamspace/rtcmesh/internal/bus"
	"github.com/streamspace/rtcmesh/internal/envelope"
	"github.com/streamspace/rtcmesh/internal/heartbeat"
	"github.com/streamspace/rtcmesh/internal/kvstore"
	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/metrics"
	"github.com/streamspace/rtcmesh/internal/placement"
)

// MetricsSource fetches the per-node metric tuple for the given node IDs,
// normally backed by an HTTP metrics-query endpoint
// (orchestrator.HTTPMetricsSource); a k8s.io/metrics clientset fallback is
// wired in internal/orchestrator for deployments where that endpoint isn't
// reachable from the leader.
type MetricsSource interface {
	Fetch(ctx context.Context, nodeIDs []string) (map[string]NodeMetrics, error)
}

// ScaleHook lets the scaling engine run as part of the same scan, with the
// freshly computed metrics and weights, without this package importing
// internal/scaling.
type ScaleHook func(ctx context.Context, nodeIDs []string, metrics map[string]NodeMetrics, weights map[string]int)

// Manager is the leader-only ring computation loop (spec.md §4.6). Only
// one replica, the orchestrator lease holder, should run it at a time.
type Manager struct {
	store   kvstore.Store
	bus     bus.Bus
	metrics MetricsSource
	weightCfg WeightConfig
	rebalanceCfg RebalanceConfig
	scanInterval time.Duration
	onScale ScaleHook

	membership   heartbeat.Membership
	lastWeights  map[string]int
	lastRecompute time.Time
	version      int64
}

// NewManager constructs a ring Manager. onScale may be nil.
func NewManager(store kvstore.Store, b bus.Bus, src MetricsSource, onScale ScaleHook) *Manager {
	return &Manager{
		store:        store,
		bus:          b,
		metrics:      src,
		weightCfg:    DefaultWeightConfig(),
		rebalanceCfg: DefaultRebalanceConfig(),
		scanInterval: 20 * time.Second,
		onScale:      onScale,
	}
}

// SetWeightConfig overrides the load-score coefficients and normalisation
// ceilings used on every subsequent scan (default: DefaultWeightConfig()).
func (m *Manager) SetWeightConfig(cfg WeightConfig) {
	m.weightCfg = cfg
}

// SetScanInterval overrides the default 20s scan period.
func (m *Manager) SetScanInterval(d time.Duration) {
	if d > 0 {
		m.scanInterval = d
	}
}

// Run executes one scan immediately, then on every scanInterval until ctx
// is canceled. Errors from a single scan are logged and do not stop the
// loop; the next tick tries again.
func (m *Manager) Run(ctx context.Context) {
	m.scanOnce(ctx)
	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scanOnce(ctx)
		}
	}
}

func (m *Manager) scanOnce(ctx context.Context) {
	cur, diff, err := heartbeat.Scan(ctx, m.store, m.membership)
	if err != nil {
		logging.Ring().Error().Err(err).Msg("membership scan failed")
		return
	}
	m.membership = cur
	nodeIDs := cur.IDs()
	if len(nodeIDs) == 0 {
		logging.Ring().Warn().Msg("no live nodes observed, skipping scan")
		return
	}

	tuples, err := m.metrics.Fetch(ctx, nodeIDs)
	if err != nil {
		logging.Ring().Error().Err(err).Msg("metrics fetch failed")
		return
	}

	weights := ComputeWeights(tuples, m.weightCfg)
	weightsChanged := WeightsChanged(m.lastWeights, weights, m.rebalanceCfg.StabilityThresholdPct)

	should, reason := ShouldRebalance(diff.Changed(), tuples, weightsChanged, time.Since(m.lastRecompute), m.rebalanceCfg)
	if should {
		if err := m.publish(ctx, weights, reason); err != nil {
			logging.Ring().Error().Err(err).Msg("ring broadcast failed")
		} else {
			m.lastWeights = weights
			m.lastRecompute = time.Now()
		}
	}

	if m.onScale != nil {
		m.onScale(ctx, nodeIDs, tuples, weights)
	}
}

func (m *Manager) publish(ctx context.Context, weights map[string]int, reason string) error {
	m.version++
	update := envelope.RingUpdate{
		Version: envelope.DistributionVersion{
			Version:     m.version,
			IssuedAt:    time.Now().UnixMilli(),
			VersionHash: weightsHash(weights),
		},
		NodeWeights: weights,
		Reason:      reason,
		TS:          time.Now().UnixMilli(),
	}

	rec, err := envelope.WrapRingUpdate(update)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	for nodeID, w := range weights {
		metrics.NodeWeight.WithLabelValues(nodeID).Set(float64(w))
	}
	metrics.RingVersion.WithLabelValues("leader").Set(float64(m.version))

	return m.bus.Produce(ctx, bus.ControlRingTopic, "ring", data)
}

func weightsHash(weights map[string]int) string {
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		fmt.Fprintf(h, "%s=%d;", id, weights[id])
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// Installer holds the atomic ring snapshot every node (leader included)
// resolves placement against, kept current by subscribing to RingUpdate
// broadcasts.
type Installer struct {
	ring atomic.Pointer[placement.Ring]
	fanout, leafSize int
	onInstall func(*placement.Ring)
}

// NewInstaller constructs an Installer. onInstall, if non-nil, is called
// with every newly built ring (used to feed internal/relay.Router and
// internal/drain's redistribution planner).
func NewInstaller(fanout, leafSize int, onInstall func(*placement.Ring)) *Installer {
	return &Installer{fanout: fanout, leafSize: leafSize, onInstall: onInstall}
}

// Current returns the last installed ring, or nil if none has arrived yet.
func (in *Installer) Current() *placement.Ring {
	return in.ring.Load()
}

// Run subscribes to the control ring topic and installs every RingUpdate
// it decodes, until ctx is canceled.
func (in *Installer) Run(ctx context.Context, b bus.Bus, nodeID string) error {
	return b.Subscribe(ctx, bus.ControlRingTopic, bus.ConsumerGroup("ring-"+nodeID), func(rec bus.Record) {
		defer func() {
			if err := rec.Ack(); err != nil {
				logging.Ring().Error().Err(err).Msg("failed to ack ring update")
			}
		}()

		crec, err := envelope.DecodeControlRecord(rec.Value)
		if err != nil || crec.Kind != envelope.KindRingUpdate {
			return
		}
		update, err := crec.AsRingUpdate()
		if err != nil {
			logging.Ring().Warn().Err(err).Msg("failed to decode ring update payload")
			return
		}

		candidates := make([]placement.Candidate, 0, len(update.NodeWeights))
		for id, w := range update.NodeWeights {
			candidates = append(candidates, placement.Candidate{ID: id, Weight: w})
		}
		newRing, err := placement.Build(candidates, in.fanout, in.leafSize)
		if err != nil {
			logging.Ring().Error().Err(err).Msg("failed to build ring from update")
			return
		}

		in.ring.Store(newRing)
		metrics.RingVersion.WithLabelValues(nodeID).Set(float64(update.Version.Version))
		if in.onInstall != nil {
			in.onInstall(newRing)
		}
	})
}
