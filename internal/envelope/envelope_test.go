package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := New("alice", "bob", TypeMessage, `{"text":"hi"}`, 1234)
	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestEnvelopeValidate(t *testing.T) {
	e := New("alice", "", TypeMessage, "", 1)
	assert.Error(t, e.Validate())

	e.ToClientID = "bob"
	assert.NoError(t, e.Validate())

	e.MsgID = ""
	assert.Error(t, e.Validate())
}

func TestControlRecordRoundTripRingUpdate(t *testing.T) {
	u := RingUpdate{
		Version:     DistributionVersion{Version: 3, IssuedAt: 100, VersionHash: "abc"},
		NodeWeights: map[string]int{"n1": 100, "n2": 50},
		Reason:      "node-joined:n2",
		TS:          101,
	}
	rec, err := WrapRingUpdate(u)
	require.NoError(t, err)
	assert.Equal(t, KindRingUpdate, rec.Kind)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	decoded, err := DecodeControlRecord(data)
	require.NoError(t, err)
	assert.Equal(t, KindRingUpdate, decoded.Kind)

	got, err := decoded.AsRingUpdate()
	require.NoError(t, err)
	assert.Equal(t, u, got)
}
