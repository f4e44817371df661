package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterAdvance(t *testing.T) {
	b := NewBroadcaster()
	gen, done := b.State()
	assert.Equal(t, int64(0), gen)
	assert.False(t, done)

	assert.Equal(t, int64(1), b.Advance())
	assert.Equal(t, int64(2), b.Advance())

	b.Terminate()
	b.Terminate()
	assert.Equal(t, int64(2), b.Advance(), "advance after terminate is a no-op")
	gen, done = b.State()
	assert.Equal(t, int64(2), gen)
	assert.True(t, done)
}

func TestBroadcasterWait(t *testing.T) {
	t.Run("returns immediately when behind", func(t *testing.T) {
		b := NewBroadcaster()
		b.Advance()
		gen, done := b.Wait(context.Background(), 0, time.Hour)
		assert.Equal(t, int64(1), gen)
		assert.False(t, done)
	})

	t.Run("wakes on advance", func(t *testing.T) {
		b := NewBroadcaster()
		go func() {
			time.Sleep(20 * time.Millisecond)
			b.Advance()
		}()
		gen, _ := b.Wait(context.Background(), 0, 5*time.Second)
		assert.Equal(t, int64(1), gen)
	})

	t.Run("wakes on terminate", func(t *testing.T) {
		b := NewBroadcaster()
		go func() {
			time.Sleep(20 * time.Millisecond)
			b.Terminate()
		}()
		_, done := b.Wait(context.Background(), 0, 5*time.Second)
		assert.True(t, done)
	})

	t.Run("hold elapses", func(t *testing.T) {
		b := NewBroadcaster()
		start := time.Now()
		gen, done := b.Wait(context.Background(), 0, 30*time.Millisecond)
		assert.Equal(t, int64(0), gen)
		assert.False(t, done)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("context canceled", func(t *testing.T) {
		b := NewBroadcaster()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		gen, done := b.Wait(ctx, 0, time.Hour)
		assert.Equal(t, int64(0), gen)
		assert.False(t, done)
	})
}

// TestBroadcasterManyWaiters checks every waiter sees the final state.
func TestBroadcasterManyWaiters(t *testing.T) {
	b := NewBroadcaster()
	const waiters = 20

	var wg sync.WaitGroup
	results := make([]bool, waiters)
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			defer wg.Done()
			var since int64
			for {
				gen, done := b.Wait(context.Background(), since, time.Second)
				if done {
					results[i] = true
					return
				}
				since = gen
			}
		}(i)
	}
	for i := 0; i < 100; i++ {
		b.Advance()
	}
	b.Terminate()
	wg.Wait()
	for i, ok := range results {
		require.True(t, ok, "waiter %d missed termination", i)
	}
}
