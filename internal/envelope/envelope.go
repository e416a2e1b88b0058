// Package envelope defines the unit of addressed message delivery between
// clients, and the tagged control records broadcast on the control topic.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Type enumerates the kinds an Envelope can carry.
type Type string

const (
	TypeMessage Type = "message"
	TypeAck     Type = "ack"
	TypePing    Type = "ping"
	TypeControl Type = "control"
)

// UnassignedOffset marks an Envelope whose per-recipient offset has not yet
// been assigned by the owning session's sink consumer.
const UnassignedOffset int64 = -1

// Envelope is the unit of delivery between clients. Field names match the
// wire protocol exactly; see the JSON tags.
type Envelope struct {
	MsgID      string `json:"msgId"`
	From       string `json:"from,omitempty"`
	ToClientID string `json:"toClientId"`
	Type       Type   `json:"type"`
	// PayloadJSON carries an opaque JSON- or string-encoded blob. It is
	// named payloadJson on the wire to match the client protocol.
	PayloadJSON string `json:"payloadJson,omitempty"`
	Offset      int64  `json:"offset"`
	TS          int64  `json:"ts"`
	NodeID      string `json:"nodeId,omitempty"`
}

// New builds an Envelope with a freshly generated msgId and an unassigned
// offset, the shape produced at ingest before relay or local delivery.
func New(from, toClientID string, typ Type, payloadJSON string, ts int64) Envelope {
	return Envelope{
		MsgID:       uuid.NewString(),
		From:        from,
		ToClientID:  toClientID,
		Type:        typ,
		PayloadJSON: payloadJSON,
		Offset:      UnassignedOffset,
		TS:          ts,
	}
}

// Validate enforces the invariants from the data model: msgId must be set
// before relay, and toClientId is required for message-type envelopes.
func (e Envelope) Validate() error {
	if e.MsgID == "" {
		return fmt.Errorf("envelope: msgId is required")
	}
	if e.Type == TypeMessage && e.ToClientID == "" {
		return fmt.Errorf("envelope: toClientId is required for type=message")
	}
	return nil
}

// Marshal serializes the envelope to its wire JSON form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope from its wire JSON form.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: unmarshal: %w", err)
	}
	return e, nil
}
