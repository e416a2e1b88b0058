package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeStoreSessionRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()

	rec := SessionRecord{NodeID: "n1", LastOffset: 5, LastSeen: 100}
	require.NoError(t, s.PutSessionRecord(ctx, "client-a", rec, time.Hour))

	got, ok, err := s.GetSessionRecord(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	require.NoError(t, s.DeleteSessionRecord(ctx, "client-a"))
	_, ok, err = s.GetSessionRecord(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFakeStoreBufferTrimsByMaxLen(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendBuffer(ctx, "client-a", []byte("m"), 3, time.Hour, time.Hour))
	}

	entries, err := s.ReadBuffer(ctx, "client-a")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFakeStoreLeaseAcquireRenewRelease(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()

	ok, err := s.TryAcquireLease(ctx, "lb-leader", "replica-1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAcquireLease(ctx, "lb-leader", "replica-2", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire while held should fail")

	ok, err = s.RenewLease(ctx, "lb-leader", "replica-2", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "non-holder cannot renew")

	ok, err = s.RenewLease(ctx, "lb-leader", "replica-1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ReleaseLease(ctx, "lb-leader", "replica-1")
	require.NoError(t, err)
	assert.True(t, ok)

	holder, err := s.CurrentLeaseHolder(ctx, "lb-leader")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestFakeStoreHeartbeatExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()

	require.NoError(t, s.Heartbeat(ctx, "node-1", 1000, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	hb, err := s.ListHeartbeats(ctx)
	require.NoError(t, err)
	assert.NotContains(t, hb, "node-1")
}
