package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/rtcmesh/internal/envelope"
	"github.com/streamspace/rtcmesh/internal/kvstore"
)

// dialPair spins up a test WebSocket server and returns the server-side
// connection (the one Manager.Create takes ownership of) plus a client
// dialer connected to it.
func dialPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConnCh
	return serverConn, clientConn
}

func TestManagerLocalDeliveryAssignsOffsets(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewFakeStore()
	m := NewManager("node-1", store, 100, time.Hour, 10)

	serverConn, clientConn := dialPair(t)
	sess, err := m.Create(ctx, "bob", serverConn, 0, 200*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NotNil(t, sess)

	env := envelope.New("alice", "bob", envelope.TypeMessage, `"hi"`, 1)
	delivered := m.DeliverMessage(ctx, env)
	assert.True(t, delivered)

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	got, err := envelope.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Offset)
	assert.Equal(t, env.MsgID, got.MsgID)
}

func TestManagerDeliverMessageReturnsFalseWhenAbsent(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewFakeStore()
	m := NewManager("node-1", store, 100, time.Hour, 10)

	env := envelope.New("alice", "nobody", envelope.TypeMessage, `"hi"`, 1)
	assert.False(t, m.DeliverMessage(ctx, env))
}

func TestManagerCreateRejectsDuplicateSession(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewFakeStore()
	m := NewManager("node-1", store, 100, time.Hour, 10)

	serverConn, _ := dialPair(t)
	_, err := m.Create(ctx, "bob", serverConn, 0, 200*time.Millisecond, time.Second)
	require.NoError(t, err)

	serverConn2, _ := dialPair(t)
	_, err = m.Create(ctx, "bob", serverConn2, 0, 200*time.Millisecond, time.Second)
	assert.Error(t, err)
}

// TestManagerRemoveBuffersUnreadSink inserts a Session directly (bypassing
// Create's writer goroutine, which would otherwise race to drain the sink)
// so Remove's drain-to-buffer path can be observed deterministically.
func TestManagerRemoveBuffersUnreadSink(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewFakeStore()
	m := NewManager("node-1", store, 100, time.Hour, 10)

	sess := &Session{
		ClientID: "bob",
		sink:     make(chan envelope.Envelope, 10),
		done:     make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions["bob"] = sess
	m.mu.Unlock()
	require.NoError(t, store.PutSessionRecord(ctx, "bob", kvstore.SessionRecord{NodeID: "node-1"}, time.Hour))

	sess.sink <- envelope.New("alice", "bob", envelope.TypeMessage, `"queued"`, 2)

	m.Remove(ctx, "bob")

	_, ok := m.Get("bob")
	assert.False(t, ok)

	_, ok, err := store.GetSessionRecord(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := store.ReadBuffer(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestManagerDeliverMessageOverflowBuffersToKV exercises the sink-overflow
// fallback directly: a Session with a zero-capacity sink is inserted
// without a draining writer loop, so the first enqueue attempt always
// overflows.
func TestManagerDeliverMessageOverflowBuffersToKV(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewFakeStore()
	m := NewManager("node-1", store, 100, time.Hour, 10)

	sess := &Session{
		ClientID: "bob",
		sink:     make(chan envelope.Envelope), // unbuffered: any non-blocking send overflows
		done:     make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions["bob"] = sess
	m.mu.Unlock()

	env := envelope.New("alice", "bob", envelope.TypeMessage, `"hi"`, 3)
	delivered := m.DeliverMessage(ctx, env)
	assert.False(t, delivered)

	entries, err := store.ReadBuffer(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got, err := envelope.Unmarshal(entries[0].Envelope)
	require.NoError(t, err)
	assert.Equal(t, env.MsgID, got.MsgID)
}

// TestManagerAttachReplaysBufferBeforeLiveDelivery verifies that a resumed
// connection receives its buffered backlog, in order, before anything sent
// after Attach returns.
func TestManagerAttachReplaysBufferBeforeLiveDelivery(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewFakeStore()
	m := NewManager("node-1", store, 100, time.Hour, 10)

	require.NoError(t, store.PutSessionRecord(ctx, "bob", kvstore.SessionRecord{NodeID: "node-1", LastOffset: 5}, time.Hour))

	first := envelope.New("alice", "bob", envelope.TypeMessage, `"one"`, 1)
	second := envelope.New("alice", "bob", envelope.TypeMessage, `"two"`, 2)
	for _, e := range []envelope.Envelope{first, second} {
		data, err := e.Marshal()
		require.NoError(t, err)
		require.NoError(t, store.AppendBuffer(ctx, "bob", data, 100, time.Hour, time.Hour))
	}

	serverConn, clientConn := dialPair(t)
	sess, err := m.Attach(ctx, "bob", serverConn, 0, 200*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NotNil(t, sess)

	_, data1, err := clientConn.ReadMessage()
	require.NoError(t, err)
	got1, err := envelope.Unmarshal(data1)
	require.NoError(t, err)
	assert.Equal(t, first.MsgID, got1.MsgID)
	assert.Equal(t, int64(5), got1.Offset)

	_, data2, err := clientConn.ReadMessage()
	require.NoError(t, err)
	got2, err := envelope.Unmarshal(data2)
	require.NoError(t, err)
	assert.Equal(t, second.MsgID, got2.MsgID)
	assert.Equal(t, int64(6), got2.Offset)

	live := envelope.New("carol", "bob", envelope.TypeMessage, `"live"`, 3)
	assert.True(t, m.DeliverMessage(ctx, live))
	_, data3, err := clientConn.ReadMessage()
	require.NoError(t, err)
	got3, err := envelope.Unmarshal(data3)
	require.NoError(t, err)
	assert.Equal(t, live.MsgID, got3.MsgID)
	assert.Equal(t, int64(7), got3.Offset)

	entries, err := store.ReadBuffer(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
