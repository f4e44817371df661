package cluster

import (
	"context"
	"time"
)

// MaxPollHold bounds how long the scheduler holds a broadcast long-poll.
const MaxPollHold = time.Second

// PollHold is how long a broadcast long-poll is held open for a role whose
// liveness timeout is timeout.
func PollHold(timeout time.Duration) time.Duration {
	return max(min(MaxPollHold, timeout/2), time.Millisecond)
}

// Backoff is the pause before retry number attempt (starting at 1). It
// grows linearly and is capped at 200ms.
func Backoff(attempt int) time.Duration {
	return min(time.Duration(max(attempt, 1))*20*time.Millisecond, 200*time.Millisecond)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
