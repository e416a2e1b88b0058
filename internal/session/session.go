// Package session owns the registry of locally-attached WebSocket
// sessions on one socket node: creation on upgrade, local delivery onto a
// bounded outbound sink, and removal with drain-to-buffer.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamspace/rtcmesh/internal/envelope"
	rtcerrors "github.com/streamspace/rtcmesh/internal/errors"
	"github.com/streamspace/rtcmesh/internal/kvstore"
	"github.com/streamspace/rtcmesh/internal/logging"
	"github.com/streamspace/rtcmesh/internal/metrics"
)

// Session is one live WebSocket: a client identifier, its outbound sink,
// and the next offset to assign to it. At most one Session per clientID is
// registered on a node at a time.
type Session struct {
	ClientID string
	conn     *websocket.Conn

	sink chan envelope.Envelope
	done chan struct{}

	lastOffset int64 // atomic

	writeWait time.Duration
	idleRead  time.Duration
}

func (s *Session) nextOffset() int64 {
	return atomic.AddInt64(&s.lastOffset, 1) - 1
}

// Manager is the in-process registry of clientId -> Session on one node.
// It mediates local delivery and resume replay, and owns the KV buffer
// fallback when a sink overflows or a session is removed.
type Manager struct {
	nodeID string
	store  kvstore.Store

	bufferMax    int64
	resumeTTL    time.Duration
	sinkCapacity int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a session Manager bound to one node's KV store and
// the buffer/sink sizing from configuration.
func NewManager(nodeID string, store kvstore.Store, bufferMax int64, resumeTTL time.Duration, sinkCapacity int) *Manager {
	return &Manager{
		nodeID:       nodeID,
		store:        store,
		bufferMax:    bufferMax,
		resumeTTL:    resumeTTL,
		sinkCapacity: sinkCapacity,
		sessions:     make(map[string]*Session),
	}
}

// Create allocates a bounded sink for clientID, inserts it into the
// registry before persisting the session record so concurrent local
// delivery can already find it, and starts the session's writer loop. If
// persisting the record fails, the session is removed from the registry
// again and the error is returned.
func (m *Manager) Create(ctx context.Context, clientID string, conn *websocket.Conn, resumeOffset int64, writeWait, idleRead time.Duration) (*Session, error) {
	sess := &Session{
		ClientID:   clientID,
		conn:       conn,
		sink:       make(chan envelope.Envelope, m.sinkCapacity),
		done:       make(chan struct{}),
		lastOffset: resumeOffset,
		writeWait:  writeWait,
		idleRead:   idleRead,
	}

	m.mu.Lock()
	if _, exists := m.sessions[clientID]; exists {
		m.mu.Unlock()
		return nil, rtcerrors.ErrSessionExists
	}
	m.sessions[clientID] = sess
	m.mu.Unlock()
	metrics.ActiveSessions.WithLabelValues(m.nodeID).Inc()

	rec := kvstore.SessionRecord{NodeID: m.nodeID, LastOffset: resumeOffset, LastSeen: time.Now().UnixMilli()}
	if err := m.store.PutSessionRecord(ctx, clientID, rec, m.resumeTTL); err != nil {
		m.mu.Lock()
		delete(m.sessions, clientID)
		m.mu.Unlock()
		metrics.ActiveSessions.WithLabelValues(m.nodeID).Dec()
		return nil, err
	}

	go m.writeLoop(sess)
	return sess, nil
}

// Get returns the locally-registered session for clientID, if any.
func (m *Manager) Get(clientID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[clientID]
	return s, ok
}

// DeliverMessage attempts local delivery of envelope to its recipient.
// Returns false if the recipient has no local session, or if the
// recipient's sink is full (in which case the envelope is appended to the
// KV buffer for later resume).
func (m *Manager) DeliverMessage(ctx context.Context, env envelope.Envelope) bool {
	sess, ok := m.Get(env.ToClientID)
	if !ok {
		return false
	}

	select {
	case sess.sink <- env:
		return true
	default:
		metrics.DropBufferFull.WithLabelValues(m.nodeID).Inc()
		m.bufferEnvelope(ctx, env)
		return false
	}
}

func (m *Manager) bufferEnvelope(ctx context.Context, env envelope.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		logging.Session().Error().Err(err).Str("clientId", env.ToClientID).Msg("failed to marshal envelope for buffer fallback")
		return
	}
	minAge := m.resumeTTL
	if err := m.store.AppendBuffer(ctx, env.ToClientID, data, m.bufferMax, minAge, m.resumeTTL); err != nil {
		logging.Session().Error().Err(err).Str("clientId", env.ToClientID).Msg("failed to append envelope to kv buffer")
	}
}

// writeLoop is the sink consumer task: it assigns offsets on envelopes
// that don't already have one, writes frames to the socket in enqueue
// order, and sends idle-timeout control pings. Enqueue order equals write
// order; no reordering occurs between sink and socket.
func (m *Manager) writeLoop(sess *Session) {
	ticker := time.NewTicker(sess.writeWait)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-sess.sink:
			if !ok {
				return
			}
			if env.Offset == envelope.UnassignedOffset {
				env.Offset = sess.nextOffset()
			}
			data, err := env.Marshal()
			if err != nil {
				logging.Session().Error().Err(err).Str("clientId", sess.ClientID).Msg("failed to marshal outbound envelope")
				continue
			}
			sess.conn.SetWriteDeadline(time.Now().Add(sess.writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Session().Warn().Err(err).Str("clientId", sess.ClientID).Msg("write failed, closing session")
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(sess.writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.done:
			return
		}
	}
}

// Remove unregisters clientID, drains any unread sink contents into the KV
// buffer so a later resume still sees them, and deletes the session
// record.
func (m *Manager) Remove(ctx context.Context, clientID string) {
	m.mu.Lock()
	sess, ok := m.sessions[clientID]
	if ok {
		delete(m.sessions, clientID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	metrics.ActiveSessions.WithLabelValues(m.nodeID).Dec()

	close(sess.done)
drain:
	for {
		select {
		case env, ok := <-sess.sink:
			if !ok {
				break drain
			}
			m.bufferEnvelope(ctx, env)
		default:
			break drain
		}
	}

	if err := m.store.DeleteSessionRecord(ctx, clientID); err != nil {
		logging.Session().Error().Err(err).Str("clientId", clientID).Msg("failed to delete session record on remove")
	}

	if sess.conn != nil {
		_ = sess.conn.Close()
	}
}

// DrainAll removes every locally-registered session in one pass.
func (m *Manager) DrainAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Remove(ctx, id)
	}
}

// Count returns the number of locally-registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ClientIDs returns a snapshot of every locally-registered client ID.
func (m *Manager) ClientIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
