package coordinator

import (
	"context"
	"sync"
	"time"
)

// Broadcaster publishes the scheduler's generation counter to long-polling
// subscribers. Each Advance bumps the generation and wakes every waiter;
// Terminate is sticky and wakes them for the last time.
type Broadcaster struct {
	mu         sync.Mutex
	generation int64
	terminated bool
	changed    chan struct{}
}

// NewBroadcaster returns a broadcaster at generation 0.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{changed: make(chan struct{})}
}

// Advance bumps the generation and returns the new value. It is a no-op
// after Terminate.
func (b *Broadcaster) Advance() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return b.generation
	}
	b.generation++
	b.notifyLocked()
	return b.generation
}

// Terminate marks the run finished. Calling it more than once is harmless.
func (b *Broadcaster) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return
	}
	b.terminated = true
	b.notifyLocked()
}

func (b *Broadcaster) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// State returns the current generation and whether the run has terminated.
func (b *Broadcaster) State() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation, b.terminated
}

// Wait blocks until the generation passes since, the run terminates, hold
// elapses or ctx is done, then returns the state at that moment. A caller
// that sees generation <= since and not terminated simply asks again.
func (b *Broadcaster) Wait(ctx context.Context, since int64, hold time.Duration) (int64, bool) {
	timer := time.NewTimer(hold)
	defer timer.Stop()
	for {
		b.mu.Lock()
		gen, done, changed := b.generation, b.terminated, b.changed
		b.mu.Unlock()
		if gen > since || done {
			return gen, done
		}
		select {
		case <-changed:
		case <-timer.C:
			return b.State()
		case <-ctx.Done():
			return b.State()
		}
	}
}
