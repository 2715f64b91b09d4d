package worker

// ============================================================================
// Worker Pool Test File
// Purpose: Verify concurrent clients, shutdown on coordinator signal, and
//          cancellation
// ============================================================================

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-balancer/pkg/types"
)

// ============================================================================
// Basic Functionality Tests
// ============================================================================

// TestNewPool tests creating Worker Pool
func TestNewPool(t *testing.T) {
	work := func(ctx context.Context, offer types.WorkOffer) error { return nil }

	pool, err := NewPool(newFakeSource(), work, 4, testClientConfig())
	require.NoError(t, err)
	assert.Equal(t, 4, pool.Size())

	for i, c := range pool.clients {
		assert.Equal(t, fmt.Sprintf("test-%d", i), c.config.WorkerID, "each client gets its own ID")
	}

	_, err = NewPool(newFakeSource(), work, 0, testClientConfig())
	assert.ErrorIs(t, err, ErrInvalidPoolSize)
}

// TestPoolRunsAllOffers tests every offer being executed exactly once
func TestPoolRunsAllOffers(t *testing.T) {
	offers := make([]types.WorkOffer, 50)
	for i := range offers {
		offers[i] = offerFor(types.JobID(i))
	}
	source := newFakeSource(offers...)

	var mu sync.Mutex
	seen := make(map[types.JobID]int)
	var concurrent, peak atomic.Int32

	pool, err := NewPool(source, func(ctx context.Context, offer types.WorkOffer) error {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		seen[offer.JobID]++
		mu.Unlock()
		return nil
	}, 4, testClientConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Run(ctx))

	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %d", id)
	}
	assert.Equal(t, ClientStats{Succeeded: 50}, pool.Stats())
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

// TestPoolCancel tests that cancelling the context aborts running sessions
func TestPoolCancel(t *testing.T) {
	source := newFakeSource(offerFor(0), offerFor(1))
	source.shutdownWhenEmpty = false

	var started sync.WaitGroup
	started.Add(2)
	pool, err := NewPool(source, func(ctx context.Context, offer types.WorkOffer) error {
		started.Done()
		<-ctx.Done()
		return ctx.Err()
	}, 2, testClientConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	started.Wait()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pool should stop after cancel")
	}
	assert.Equal(t, ClientStats{Aborted: 2}, pool.Stats())
}

func TestPoolRunTwice(t *testing.T) {
	pool, err := NewPool(newFakeSource(), func(ctx context.Context, offer types.WorkOffer) error { return nil }, 1, testClientConfig())
	require.NoError(t, err)

	require.NoError(t, pool.Run(context.Background()))
	assert.ErrorIs(t, pool.Run(context.Background()), ErrPoolRunning)
}

// TestPoolStartFailureStopsStartedClients tests that clients started before a
// failing one are stopped again
func TestPoolStartFailureStopsStartedClients(t *testing.T) {
	source := newFakeSource()
	source.shutdownWhenEmpty = false
	work := func(ctx context.Context, offer types.WorkOffer) error { return nil }

	pool, err := NewPool(source, work, 3, testClientConfig())
	require.NoError(t, err)

	// 第二個 Client 已被啟動，Run 啟動它時會失敗
	require.NoError(t, pool.clients[1].Start())
	t.Cleanup(func() { pool.clients[1].Stop(context.Background()) })

	err = pool.Run(context.Background())
	require.Error(t, err)

	select {
	case <-pool.clients[0].Done():
	case <-time.After(time.Second):
		t.Fatal("client started before the failure should be stopped")
	}
}
