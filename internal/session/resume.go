package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamspace/rtcmesh/internal/envelope"
	"github.com/streamspace/rtcmesh/internal/logging"
)

// Attach registers a new connection for clientID, first replaying any
// buffered envelopes from the KV store in stream-ID (time) order, then
// starting live delivery. Replay strictly precedes live emission on the
// socket (spec.md §4.3); replayed entries are deleted from the buffer
// afterward so a later resume does not see them twice.
//
// The session's offset counter resumes from the last offset recorded for
// this client in the KV store, not from the client-supplied resumeOffset
// (which only tells the server what the client has already seen, for its
// own bookkeeping) — resumeOffset itself is accepted but not required to
// be authoritative for anything beyond that.
func (m *Manager) Attach(ctx context.Context, clientID string, conn *websocket.Conn, resumeOffset int64, writeWait, idleRead time.Duration) (*Session, error) {
	_ = resumeOffset // advisory only; see doc comment

	startOffset := int64(0)
	if rec, ok, err := m.store.GetSessionRecord(ctx, clientID); err == nil && ok {
		startOffset = rec.LastOffset
	}

	entries, err := m.store.ReadBuffer(ctx, clientID)
	if err != nil {
		logging.Session().Error().Err(err).Str("clientId", clientID).Msg("failed to read replay buffer")
		entries = nil
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	replayed := make([]string, 0, len(entries))
	for _, e := range entries {
		env, err := envelope.Unmarshal(e.Envelope)
		if err != nil {
			logging.Session().Warn().Err(err).Str("clientId", clientID).Msg("skipping unparsable buffered envelope")
			replayed = append(replayed, e.StreamID)
			continue
		}
		if env.Offset == envelope.UnassignedOffset {
			env.Offset = startOffset
			startOffset++
		} else if env.Offset >= startOffset {
			startOffset = env.Offset + 1
		}
		data, err := env.Marshal()
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return nil, err
		}
		replayed = append(replayed, e.StreamID)
	}

	if len(replayed) > 0 {
		if err := m.store.DeleteBufferEntries(ctx, clientID, replayed); err != nil {
			logging.Session().Error().Err(err).Str("clientId", clientID).Msg("failed to delete replayed buffer entries")
		}
	}

	return m.Create(ctx, clientID, conn, startOffset, writeWait, idleRead)
}
