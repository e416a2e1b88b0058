package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/rtcmesh/internal/envelope"
	"github.com/streamspace/rtcmesh/internal/kvstore"
)

type fakePublisher struct {
	published []envelope.Envelope
}

func (f *fakePublisher) Publish(ctx context.Context, env envelope.Envelope) error {
	f.published = append(f.published, env)
	return nil
}

func TestReadPumpPublishesMessageFrames(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewFakeStore()
	m := NewManager("node-1", store, 100, time.Hour, 10)

	serverConn, clientConn := dialPair(t)
	sess, err := m.Create(ctx, "alice", serverConn, 0, 200*time.Millisecond, time.Second)
	require.NoError(t, err)

	pub := &fakePublisher{}
	done := make(chan struct{})
	go func() {
		ReadPump(ctx, sess, pub)
		close(done)
	}()

	require.NoError(t, clientConn.WriteJSON(map[string]any{
		"type":        "message",
		"toClientId":  "bob",
		"msgId":       "m-1",
		"payloadJson": `"hi"`,
		"ts":          int64(42),
	}))

	require.Eventually(t, func() bool { return len(pub.published) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "alice", pub.published[0].From)
	assert.Equal(t, "bob", pub.published[0].ToClientID)
	assert.Equal(t, "m-1", pub.published[0].MsgID)

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadPump did not return after connection close")
	}
}

func TestReadPumpIgnoresMalformedAndUnknownFrames(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewFakeStore()
	m := NewManager("node-1", store, 100, time.Hour, 10)

	serverConn, clientConn := dialPair(t)
	sess, err := m.Create(ctx, "alice", serverConn, 0, 200*time.Millisecond, time.Second)
	require.NoError(t, err)

	pub := &fakePublisher{}
	done := make(chan struct{})
	go func() {
		ReadPump(ctx, sess, pub)
		close(done)
	}()

	require.NoError(t, clientConn.WriteMessage(1, []byte("not json")))
	require.NoError(t, clientConn.WriteJSON(map[string]any{"type": "unknown-frame"}))
	require.NoError(t, clientConn.WriteJSON(map[string]any{"type": "ack", "msgId": "m-1"}))
	require.NoError(t, clientConn.WriteJSON(map[string]any{"type": "ping"}))

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReadPump did not return after connection close")
	}
	assert.Empty(t, pub.published)
}
