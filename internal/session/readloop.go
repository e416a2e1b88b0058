package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamspace/rtcmesh/internal/envelope"
	"github.com/streamspace/rtcmesh/internal/logging"
)

// Publisher is the relay hop a read pump hands decoded client messages to
// (internal/relay.Router.Publish, satisfying this by its own signature).
// Kept as a narrow interface here so this package never imports relay.
type Publisher interface {
	Publish(ctx context.Context, env envelope.Envelope) error
}

// clientFrame mirrors the client->server wire protocol (spec.md §6): a
// "message" frame carries an outbound envelope, "ack" is advisory
// acknowledgement of a delivered msgId, and "ping" is an
// application-level keepalive alongside the transport-level WebSocket
// ping/pong.
type clientFrame struct {
	Type        envelope.Type `json:"type"`
	ToClientID  string        `json:"toClientId"`
	MsgID       string        `json:"msgId"`
	PayloadJSON string        `json:"payloadJson"`
	TS          int64         `json:"ts"`
}

// ReadPump reads client->server frames off sess's connection until the
// connection errors or closes, dispatching "message" frames to pub for
// relay and logging/ignoring client protocol violations rather than
// closing the connection (spec.md §7, kind 5). It returns when the
// connection is no longer readable; the caller is responsible for then
// removing the session from the Manager.
func ReadPump(ctx context.Context, sess *Session, pub Publisher) {
	sess.conn.SetReadDeadline(time.Now().Add(sess.idleRead))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(sess.idleRead))
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Session().Warn().Err(err).Str("clientId", sess.ClientID).Msg("websocket read error")
			}
			return
		}
		sess.conn.SetReadDeadline(time.Now().Add(sess.idleRead))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Session().Debug().Err(err).Str("clientId", sess.ClientID).Msg("ignoring malformed client frame")
			continue
		}

		switch frame.Type {
		case envelope.TypeMessage:
			if frame.ToClientID == "" {
				logging.Session().Debug().Str("clientId", sess.ClientID).Msg("ignoring message frame with no toClientId")
				continue
			}
			ts := frame.TS
			if ts == 0 {
				ts = time.Now().UnixMilli()
			}
			env := envelope.New(sess.ClientID, frame.ToClientID, envelope.TypeMessage, frame.PayloadJSON, ts)
			if frame.MsgID != "" {
				env.MsgID = frame.MsgID
			}
			if err := pub.Publish(ctx, env); err != nil {
				logging.Session().Warn().Err(err).Str("clientId", sess.ClientID).Msg("publish of inbound message failed")
			}
		case envelope.TypeAck:
			// Advisory only; the resume buffer is trimmed independently by
			// replay, not by client acknowledgement.
		case envelope.TypePing:
			// Transport-level ping/pong already resets the read deadline
			// above; no reply is required for the application-level frame.
		default:
			logging.Session().Debug().Str("clientId", sess.ClientID).Str("type", string(frame.Type)).Msg("ignoring unknown client frame type")
		}
	}
}
