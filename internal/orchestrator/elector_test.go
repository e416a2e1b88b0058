package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/rtcmesh/internal/kvstore"
)

func TestElectorAcquiresAndHoldsLease(t *testing.T) {
	store := kvstore.NewFakeStore()
	e := NewElector(store, "leader", "node-a")
	e.interval = 5 * time.Millisecond
	e.ttl = 50 * time.Millisecond

	becameLeader := make(chan struct{}, 1)
	e.OnBecomeLeader(func() { becameLeader <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go e.Run(ctx)

	select {
	case <-becameLeader:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("elector never became leader")
	}

	holder, err := store.CurrentLeaseHolder(context.Background(), "leader")
	require.NoError(t, err)
	assert.Equal(t, "node-a", holder)
}

func TestElectorAcquiresLeaseAfterPriorHolderExpires(t *testing.T) {
	store := kvstore.NewFakeStore()
	require.NoError(t, writeLease(store, "leader", "node-b", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	e := NewElector(store, "leader", "node-a")
	e.interval = 5 * time.Millisecond
	e.ttl = 50 * time.Millisecond

	becameLeader := make(chan struct{}, 1)
	e.OnBecomeLeader(func() { becameLeader <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go e.Run(ctx)

	select {
	case <-becameLeader:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("elector never became leader after prior lease expired")
	}
}

func writeLease(store *kvstore.FakeStore, name, holder string, ttl time.Duration) error {
	_, err := store.TryAcquireLease(context.Background(), name, holder, ttl)
	return err
}
