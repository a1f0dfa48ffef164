package token

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePool_Bound(t *testing.T) {
	pool := NewDerivePool(2)

	release := make(chan struct{})
	started := make(chan struct{}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), func() error {
				started <- struct{}{}
				<-release
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	// Wait until both slots are occupied, then the next caller must be
	// rejected rather than queued.
	<-started
	<-started
	err := pool.Do(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, ErrServerBusy)

	close(release)
	wg.Wait()

	require.NoError(t, pool.Do(context.Background(), func() error { return nil }))
}

func TestDerivePool_Unbounded(t *testing.T) {
	var pool *DerivePool
	require.NoError(t, pool.Do(context.Background(), func() error { return nil }))

	pool = NewDerivePool(0)
	require.NoError(t, pool.Do(context.Background(), func() error { return nil }))
}
