package cluster

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/wire"
)

// ErrSchedulerLost is returned by roles that stop because the broadcast
// channel went silent.
var ErrSchedulerLost = errors.New("scheduler stopped answering")

// Event is one observation of the broadcast channel.
type Event struct {
	Generation int
	Terminated bool
	// Lost is set when the scheduler stopped answering for longer than the
	// subscriber's timeout; it is final, like Terminated.
	Lost bool
}

// Subscriber long-polls the scheduler's broadcast endpoint and publishes
// what it sees on Events. Only the latest generation matters, so stale
// advances are dropped when the consumer is slow; the final event
// (Terminated or Lost) is always delivered and then Events is closed.
type Subscriber struct {
	url     string
	id      string
	retry   time.Duration
	timeout time.Duration
	events  chan Event
}

// NewSubscriber polls url on behalf of the role registered as id, pausing
// retry after a failed poll and giving up once the scheduler has not
// answered for timeout.
func NewSubscriber(url, id string, retry, timeout time.Duration) *Subscriber {
	return &Subscriber{url: url, id: id, retry: retry, timeout: timeout, events: make(chan Event, 1)}
}

// Events returns the channel of observations.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Run polls until termination, loss of the scheduler or ctx cancellation.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.events)
	since := 0
	lastAnswer := time.Now()
	for ctx.Err() == nil {
		reply, err := CallTimeout(ctx, MaxPollHold+s.timeout, s.url, &wire.Subscribe{Since: since, ID: s.id})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if time.Since(lastAnswer) > s.timeout {
				klog.Warningf("broadcast channel %s silent for %s: %v", s.url, time.Since(lastAnswer).Round(time.Millisecond), err)
				s.final(ctx, Event{Generation: since, Lost: true})
				return
			}
			klog.V(2).Infof("broadcast poll failed, retrying: %v", err)
			Sleep(ctx, s.retry)
			continue
		}
		lastAnswer = time.Now()
		switch m := reply.(type) {
		case *wire.Terminate:
			s.final(ctx, Event{Generation: m.Generation, Terminated: true})
			return
		case *wire.Advance:
			if m.Generation > since {
				since = m.Generation
				s.publish(Event{Generation: since})
			}
		}
	}
}

// publish replaces any undelivered event with e.
func (s *Subscriber) publish(e Event) {
	for {
		select {
		case s.events <- e:
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}

func (s *Subscriber) final(ctx context.Context, e Event) {
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- e:
	case <-ctx.Done():
	}
}
