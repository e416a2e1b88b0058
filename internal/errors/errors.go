// Package errors collects the sentinel errors shared across the cluster
// messaging plane so callers can compare with errors.Is instead of
// matching on message text.
package errors

import "errors"

// Configuration errors
var (
	ErrMissingNodeID  = errors.New("rtcmesh: NODE_ID is required")
	ErrMissingKVAddr  = errors.New("rtcmesh: REDIS_URL is required")
	ErrMissingBusAddr = errors.New("rtcmesh: KAFKA_BOOTSTRAP is required")
)

// Placement errors
var (
	ErrNoCandidates = errors.New("rtcmesh: no-candidates")
)

// Session errors
var (
	ErrSessionExists  = errors.New("rtcmesh: session already exists for client")
	ErrSessionClosed  = errors.New("rtcmesh: session is closed")
	ErrSinkOverflow   = errors.New("rtcmesh: outbound sink overflow")
	ErrSessionMissing = errors.New("rtcmesh: no local session for client")
)

// Relay errors
var (
	ErrRingUninitialized = errors.New("rtcmesh: ring not yet initialized")
	ErrPublishFailed     = errors.New("rtcmesh: relay publish failed")
)

// Resume token errors
var (
	ErrTokenMalformed = errors.New("rtcmesh: resume token malformed")
	ErrTokenExpired   = errors.New("rtcmesh: resume token expired")
	ErrTokenMismatch  = errors.New("rtcmesh: resume token signature mismatch")
)

// Orchestrator errors
var (
	ErrNotLeader = errors.New("rtcmesh: this replica does not hold the leader lease")
)
