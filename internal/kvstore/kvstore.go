// Package kvstore defines the out-of-scope KV store collaborator
// interface (session records, replay buffers, liveness gossip) and its
// concrete adapters.
package kvstore

import (
	"context"
	"time"
)

// SessionRecord mirrors sess:{clientId} — {nodeId, lastOffset, lastSeen}.
type SessionRecord struct {
	NodeID     string
	LastOffset int64
	LastSeen   int64
}

// BufferEntry is one serialized envelope stored in a client's replay
// stream, tagged with its stream ID for ordered replay and later deletion.
type BufferEntry struct {
	StreamID string
	Envelope []byte
}

// Store is the minimal surface the cluster messaging plane needs from the
// persistent KV store: hash read/write for session records and liveness,
// and an append-only trimmed stream for replay buffers. Pub-sub is
// explicitly not required (spec.md §1).
type Store interface {
	// PutSessionRecord writes sess:{clientId} with the given TTL.
	PutSessionRecord(ctx context.Context, clientID string, rec SessionRecord, ttl time.Duration) error
	// GetSessionRecord reads sess:{clientId}; ok is false if absent.
	GetSessionRecord(ctx context.Context, clientID string) (rec SessionRecord, ok bool, err error)
	// DeleteSessionRecord removes sess:{clientId}.
	DeleteSessionRecord(ctx context.Context, clientID string) error

	// AppendBuffer appends a serialized envelope to buf:{clientId},
	// trimming to maxLen (MAXLEN) and dropping entries older than minAge
	// (MINID), refreshing the stream's TTL.
	AppendBuffer(ctx context.Context, clientID string, envelope []byte, maxLen int64, minAge time.Duration, ttl time.Duration) error
	// ReadBuffer returns all entries in buf:{clientId} in stream-ID
	// (time) order.
	ReadBuffer(ctx context.Context, clientID string) ([]BufferEntry, error)
	// DeleteBufferEntries removes the given replayed stream IDs from
	// buf:{clientId}.
	DeleteBufferEntries(ctx context.Context, clientID string, streamIDs []string) error

	// Heartbeat writes field nodeId=nowMillis into the heartbeats hash
	// with a per-field TTL.
	Heartbeat(ctx context.Context, nodeID string, nowMillis int64, ttl time.Duration) error
	// ListHeartbeats returns every live field in the heartbeats hash.
	ListHeartbeats(ctx context.Context) (map[string]int64, error)

	// TryAcquireLease attempts SETNX-style acquisition of a named lease
	// for holder, valid for ttl. Returns true if acquired.
	TryAcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	// RenewLease atomically extends the lease's TTL iff holder still
	// owns it.
	RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	// ReleaseLease atomically deletes the lease iff holder still owns
	// it.
	ReleaseLease(ctx context.Context, name, holder string) (bool, error)
	// CurrentLeaseHolder returns the current holder, or "" if unheld.
	CurrentLeaseHolder(ctx context.Context, name string) (string, error)

	// Close releases underlying connections.
	Close() error
}
