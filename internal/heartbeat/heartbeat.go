// Package heartbeat implements the liveness side-channel (spec.md §4.5):
// each socket node periodically stamps its presence into a shared
// liveness hash, and the leader diffs that hash against its previously
// observed membership to detect nodes joining or leaving.
package heartbeat

import (
	"context"
	"sort"
	"time"

	"github.com/streamspace/rtcmesh/internal/kvstore"
	"github.com/streamspace/rtcmesh/internal/logging"
)

// DefaultInterval is the default heartbeat emission interval.
const DefaultInterval = 10 * time.Second

// DefaultTTL is the default per-field liveness TTL. It must exceed
// DefaultInterval so a late tick does not drop the node; at twice the
// interval, a single missed tick already brings the entry to its expiry.
const DefaultTTL = 20 * time.Second

// Emitter periodically writes this node's presence into the liveness
// hash. No local state is published beyond the timestamp; per-node
// metrics are scraped separately by the leader.
type Emitter struct {
	nodeID   string
	store    kvstore.Store
	interval time.Duration
	ttl      time.Duration
}

// NewEmitter constructs an Emitter for nodeID. A zero interval or ttl
// falls back to the package defaults.
func NewEmitter(nodeID string, store kvstore.Store, interval, ttl time.Duration) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Emitter{nodeID: nodeID, store: store, interval: interval, ttl: ttl}
}

// Run beats once immediately, then on every tick until ctx is canceled.
func (e *Emitter) Run(ctx context.Context) {
	e.beat(ctx)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.beat(ctx)
		}
	}
}

func (e *Emitter) beat(ctx context.Context) {
	if err := e.store.Heartbeat(ctx, e.nodeID, time.Now().UnixMilli(), e.ttl); err != nil {
		logging.Heartbeat().Error().Err(err).Str("nodeId", e.nodeID).Msg("failed to write heartbeat")
	}
}

// Membership is the set of node IDs observed live at a point in time,
// kept sorted so repeated scans diff cheaply and deterministically.
type Membership struct {
	ids []string
}

// Diff describes how membership changed between two scans.
type Diff struct {
	Joined  []string
	Removed []string
}

// Changed reports whether the diff carries any membership change.
func (d Diff) Changed() bool {
	return len(d.Joined) > 0 || len(d.Removed) > 0
}

// Scan reads the liveness hash and returns the observed membership plus
// its diff against prev. Pass a zero Membership on the first scan.
func Scan(ctx context.Context, store kvstore.Store, prev Membership) (Membership, Diff, error) {
	live, err := store.ListHeartbeats(ctx)
	if err != nil {
		return prev, Diff{}, err
	}

	ids := make([]string, 0, len(live))
	for id := range live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cur := Membership{ids: ids}

	return cur, diff(prev.ids, cur.ids), nil
}

func diff(prev, cur []string) Diff {
	prevSet := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		prevSet[id] = struct{}{}
	}
	curSet := make(map[string]struct{}, len(cur))
	for _, id := range cur {
		curSet[id] = struct{}{}
	}

	var d Diff
	for _, id := range cur {
		if _, ok := prevSet[id]; !ok {
			d.Joined = append(d.Joined, id)
		}
	}
	for _, id := range prev {
		if _, ok := curSet[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}

// IDs returns the membership's node IDs, sorted.
func (m Membership) IDs() []string {
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}
