package drain

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/placement"
	"github.com/streamspace/rtcmesh/internal/session"
)

// DefaultMinJitter and DefaultMaxJitter bound the random spread window
// gradual redistribution closes reassigned sessions over.
const (
	DefaultMinJitter = 2 * time.Minute
	DefaultMaxJitter = 5 * time.Minute
)

// Redistributor implements the "gradual redistribution" behavior from
// spec.md §4.8: on a RingUpdate, while not draining, sessions whose owner
// changed are closed over a random window so the client's reconnect
// through the front door lands on the new owner without a disconnect
// stampede.
type Redistributor struct {
	nodeID     string
	sessions   *session.Manager
	drainCtl   *Controller
	minJitter  time.Duration
	maxJitter  time.Duration
}

// NewRedistributor constructs a Redistributor bound to one node's session
// manager and drain Controller (consulted so redistribution defers to an
// in-progress drain rather than compounding it).
func NewRedistributor(nodeID string, sessions *session.Manager, drainCtl *Controller) *Redistributor {
	return &Redistributor{
		nodeID:    nodeID,
		sessions:  sessions,
		drainCtl:  drainCtl,
		minJitter: DefaultMinJitter,
		maxJitter: DefaultMaxJitter,
	}
}

// OnRingUpdate is the installer hook: for every locally-attached session
// whose recomputed owner is no longer this node, schedule its closure
// after a random jitter in [minJitter, maxJitter].
func (r *Redistributor) OnRingUpdate(ring *placement.Ring) {
	if r.drainCtl != nil && r.drainCtl.IsDraining() {
		return
	}

	for _, clientID := range r.sessions.ClientIDs() {
		owner, err := ring.Resolve(clientID)
		if err != nil || owner == r.nodeID {
			continue
		}
		jitter := r.jitter()
		logging.Drain().Debug().Str("clientId", clientID).Str("newOwner", owner).Dur("after", jitter).Msg("scheduling gradual redistribution close")
		go r.closeAfter(clientID, jitter)
	}
}

func (r *Redistributor) jitter() time.Duration {
	span := r.maxJitter - r.minJitter
	if span <= 0 {
		return r.minJitter
	}
	return r.minJitter + rand.N(span)
}

func (r *Redistributor) closeAfter(clientID string, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	<-timer.C
	r.sessions.Remove(context.Background(), clientID)
}
