// Package placement implements weighted rendezvous hashing (HRW) over a
// skeleton tree, giving O(log n) deterministic assignment of client
// identifiers to cluster nodes while honouring per-node weights.
package placement

import (
	"fmt"
	"math"
	"sort"
	"strings"

	rtcerrors "github.com/streamspace/rtcmesh/internal/errors"
)

// Candidate is one node eligible to own client identifiers, with its
// current placement weight.
type Candidate struct {
	ID     string
	Weight int
}

const (
	// DefaultFanout is the default number of children per internal
	// skeleton-tree node.
	DefaultFanout = 4
	// DefaultLeafSize is the default maximum number of real candidates per
	// leaf bucket.
	DefaultLeafSize = 8
)

// node is one skeleton-tree node: either an internal node aggregating a
// contiguous range of candidates, or a leaf holding the real candidates
// directly.
type node struct {
	structID string
	weight   float64
	children []*node
	leaf     []Candidate
}

// Ring is an immutable snapshot of the placement skeleton tree for one set
// of weighted candidates. Build a new Ring and swap it in atomically on
// every membership or weight change; Resolve is a wait-free read over the
// snapshot it closed over.
type Ring struct {
	root     *node
	fanout   int
	leafSize int
	ids      []string // sorted candidate ids, for diffing / introspection
}

// Build constructs a new Ring from the given candidates. fanout and
// leafSize must be >= 2 and >= 1 respectively; non-positive values fall
// back to the package defaults.
func Build(candidates []Candidate, fanout, leafSize int) (*Ring, error) {
	if len(candidates) == 0 {
		return nil, rtcerrors.ErrNoCandidates
	}
	if fanout < 2 {
		fanout = DefaultFanout
	}
	if leafSize < 1 {
		leafSize = DefaultLeafSize
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	ids := make([]string, len(sorted))
	for i, c := range sorted {
		ids[i] = c.ID
	}

	level := buildLeaves(sorted, leafSize)
	for depth := 1; len(level) > 1; depth++ {
		level = buildLevel(level, fanout, depth)
	}

	return &Ring{root: level[0], fanout: fanout, leafSize: leafSize, ids: ids}, nil
}

func buildLeaves(sorted []Candidate, leafSize int) []*node {
	var leaves []*node
	for start := 0; start < len(sorted); start += leafSize {
		end := start + leafSize
		if end > len(sorted) {
			end = len(sorted)
		}
		chunk := sorted[start:end]
		var w float64
		for _, c := range chunk {
			w += float64(c.Weight)
		}
		leaves = append(leaves, &node{
			structID: fmt.Sprintf("skel:0:%d-%d", start, end-1),
			weight:   w,
			leaf:     chunk,
		})
	}
	return leaves
}

func buildLevel(children []*node, fanout, depth int) []*node {
	var level []*node
	for start := 0; start < len(children); start += fanout {
		end := start + fanout
		if end > len(children) {
			end = len(children)
		}
		group := children[start:end]
		var w float64
		for _, c := range group {
			w += c.weight
		}
		level = append(level, &node{
			structID: fmt.Sprintf("skel:%d:%s..%s", depth, group[0].structID, group[len(group)-1].structID),
			weight:   w,
			children: group,
		})
	}
	return level
}

// Resolve deterministically maps clientID to the owning candidate's node
// ID, descending the skeleton tree in O(log n) comparisons.
func (r *Ring) Resolve(clientID string) (string, error) {
	if r == nil || r.root == nil {
		return "", rtcerrors.ErrNoCandidates
	}

	cur := r.root
	for cur.leaf == nil {
		cur = bestChild(clientID, cur.children)
	}

	best := cur.leaf[0]
	bestScore := score(clientID, best.ID, float64(best.Weight))
	for _, c := range cur.leaf[1:] {
		s := score(clientID, c.ID, float64(c.Weight))
		if s > bestScore || (s == bestScore && c.ID < best.ID) {
			best, bestScore = c, s
		}
	}
	return best.ID, nil
}

func bestChild(clientID string, children []*node) *node {
	best := children[0]
	bestScore := score(clientID, best.structID, best.weight)
	for _, ch := range children[1:] {
		s := score(clientID, ch.structID, ch.weight)
		if s > bestScore || (s == bestScore && ch.structID < best.structID) {
			best, bestScore = ch, s
		}
	}
	return best
}

// score computes the Gumbel-trick HRW score for one clientId/candidate
// pair: log(weight) + G(h(clientId||candidate)), where G(u) = -log(-log(u)).
func score(clientID, candidateID string, weight float64) float64 {
	var b strings.Builder
	b.Grow(len(clientID) + 1 + len(candidateID))
	b.WriteString(clientID)
	b.WriteByte('|')
	b.WriteString(candidateID)

	h := murmur32([]byte(b.String()))
	u := (float64(h) + 0.5) / 4294967296.0
	g := -math.Log(-math.Log(u))
	return math.Log(weight) + g
}

// IDs returns the sorted candidate IDs this ring was built from, used to
// diff membership between scans.
func (r *Ring) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}
