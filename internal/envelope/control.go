package envelope

import (
	"encoding/json"
	"fmt"
)

// ControlKind discriminates the tagged variants carried on the control
// broadcast topic.
type ControlKind string

const (
	KindRingUpdate  ControlKind = "ring_update"
	KindDrainSignal ControlKind = "drain_signal"
	KindScaleSignal ControlKind = "scale_signal"
)

// ControlRecord is the envelope-of-envelopes wrapper around the three
// control variants, discriminated on Kind during decode so new kinds can be
// added without breaking existing consumers.
type ControlRecord struct {
	Kind    ControlKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// DistributionVersion is the monotonic version of the ring.
type DistributionVersion struct {
	Version     int64  `json:"version"`
	IssuedAt    int64  `json:"issuedAt"`
	VersionHash string `json:"versionHash"`
}

// RingUpdate is the broadcast record subscribers use to reconstruct the
// same placement skeleton locally.
type RingUpdate struct {
	Version     DistributionVersion `json:"version"`
	NodeWeights map[string]int      `json:"nodeWeights"`
	Reason      string              `json:"reason"`
	TS          int64               `json:"ts"`
}

// DrainSignal targets one node for staged, bounded-time shutdown.
type DrainSignal struct {
	NodeID         string `json:"nodeId"`
	DeadlineMillis int64  `json:"deadline"`
	MaxDisconnects int    `json:"maxDisconnects"`
	Reason         string `json:"reason"`
	TS             int64  `json:"ts"`
}

// ScaleAction enumerates the scaling engine's decisions.
type ScaleAction string

const (
	ScaleOut ScaleAction = "SCALE_OUT"
	ScaleIn  ScaleAction = "SCALE_IN"
	ScaleNone ScaleAction = "NONE"
)

// ScaleSignal is the scaling engine's emitted decision.
type ScaleSignal struct {
	Action ScaleAction `json:"action"`
	Step   int         `json:"step"`
	Reason string      `json:"reason"`
	TS     int64       `json:"ts"`
}

// WrapRingUpdate packages a RingUpdate into its ControlRecord envelope.
func WrapRingUpdate(u RingUpdate) (ControlRecord, error) {
	return wrap(KindRingUpdate, u)
}

// WrapDrainSignal packages a DrainSignal into its ControlRecord envelope.
func WrapDrainSignal(d DrainSignal) (ControlRecord, error) {
	return wrap(KindDrainSignal, d)
}

// WrapScaleSignal packages a ScaleSignal into its ControlRecord envelope.
func WrapScaleSignal(s ScaleSignal) (ControlRecord, error) {
	return wrap(KindScaleSignal, s)
}

func wrap(kind ControlKind, v any) (ControlRecord, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ControlRecord{}, fmt.Errorf("control: marshal %s payload: %w", kind, err)
	}
	return ControlRecord{Kind: kind, Payload: data}, nil
}

// DecodeControlRecord parses the outer envelope and returns the kind plus
// the still-raw payload; callers switch on Kind and unmarshal accordingly.
func DecodeControlRecord(data []byte) (ControlRecord, error) {
	var rec ControlRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ControlRecord{}, fmt.Errorf("control: decode envelope: %w", err)
	}
	return rec, nil
}

// AsRingUpdate unmarshals the payload as a RingUpdate. Callers must check
// Kind == KindRingUpdate first.
func (r ControlRecord) AsRingUpdate() (RingUpdate, error) {
	var u RingUpdate
	if err := json.Unmarshal(r.Payload, &u); err != nil {
		return RingUpdate{}, fmt.Errorf("control: decode ring_update: %w", err)
	}
	return u, nil
}

// AsDrainSignal unmarshals the payload as a DrainSignal.
func (r ControlRecord) AsDrainSignal() (DrainSignal, error) {
	var d DrainSignal
	if err := json.Unmarshal(r.Payload, &d); err != nil {
		return DrainSignal{}, fmt.Errorf("control: decode drain_signal: %w", err)
	}
	return d, nil
}

// AsScaleSignal unmarshals the payload as a ScaleSignal.
func (r ControlRecord) AsScaleSignal() (ScaleSignal, error) {
	var s ScaleSignal
	if err := json.Unmarshal(r.Payload, &s); err != nil {
		return ScaleSignal{}, fmt.Errorf("control: decode scale_signal: %w", err)
	}
	return s, nil
}
