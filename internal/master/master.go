// Package master implements a parameter-server master: the owner of one
// contiguous shard of the iterate.
//
//	INIT ──(bound, registered, subscribed)──▶ SERVING ──(terminate / scheduler lost)──▶ STOPPED
//
// While SERVING, a single event loop multiplexes broadcast notifications
// and worker requests, so updates to the shard are totally ordered. Worker
// requests that cannot be queued are answered with an empty Ack and the
// worker retries.
package master

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/shard"
	"github.com/dreamware/proxima/internal/storage"
	"github.com/dreamware/proxima/internal/wire"
)

// ErrRegistration is returned when the scheduler does not hand out a shard
// within MasterTimeout.
var ErrRegistration = errors.New("master registration failed")

// State of a master.
type State int32

const (
	StateInit State = iota
	StateServing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateServing:
		return "SERVING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// DefaultQueueSize bounds the number of worker requests waiting for the
// event loop.
const DefaultQueueSize = 64

// Config configures a Master.
type Config struct {
	Settings cluster.Settings
	// ID identifies the master to the scheduler; a random UUID when empty.
	ID string
	// Host is the address workers use to reach this master.
	Host string
	// Policy is applied to every update. It is used by this master only.
	Policy policy.Policy
	// Store receives the final shard values when not nil. A record already
	// stored for the assigned range seeds the shard, resuming an earlier run.
	Store     storage.Store
	QueueSize int
}

type request struct {
	msg   wire.Message
	reply chan wire.Message
	// cancelled is set when the caller stopped waiting for the reply.
	cancelled *atomic.Bool
}

func (r request) abandoned() bool {
	return r.cancelled != nil && r.cancelled.Load()
}

// Master serves one shard. Create it with New, which binds the port, then
// call Run once.
type Master struct {
	cfg      Config
	id       string
	listener net.Listener
	addr     string
	server   *http.Server

	state   atomic.Int32
	shard   atomic.Pointer[shard.Shard]
	queue   chan request
	notices chan int
	done    chan struct{}
}

// New binds the master's port, starting at Settings.AdvertisedPort and
// moving up on conflicts.
func New(cfg Config) (*Master, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	l, port, err := cluster.Listen(cfg.Host, cfg.Settings.AdvertisedPort, cfg.Settings.MaxBindAttempts)
	if err != nil {
		return nil, errors.Wrapf(err, "master %s", cfg.ID)
	}
	m := &Master{
		cfg:      cfg,
		id:       cfg.ID,
		listener: l,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		queue:    make(chan request, cfg.QueueSize),
		notices:  make(chan int, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	return m, nil
}

// ID returns the master's identity.
func (m *Master) ID() string { return m.id }

// Addr returns the host:port workers reach this master on.
func (m *Master) Addr() string { return m.addr }

// State returns the current lifecycle state.
func (m *Master) State() State { return State(m.state.Load()) }

// Shard returns the owned shard, or nil before registration.
func (m *Master) Shard() *shard.Shard { return m.shard.Load() }

// Run registers with the scheduler and serves until the run terminates.
// It returns nil on a normal termination.
func (m *Master) Run(ctx context.Context) error {
	m.server = cluster.Serve(m.listener, m.mux())
	defer cluster.Shutdown(m.server, time.Second)
	defer close(m.done)

	s, err := m.register(ctx)
	if err != nil {
		m.state.Store(int32(StateStopped))
		klog.Errorf("master %s: %v", m.id, err)
		return err
	}
	m.resume(s)
	m.shard.Store(s)

	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	settings := m.cfg.Settings
	sub := cluster.NewSubscriber(settings.BroadcastURL(), m.id, cluster.Backoff(1), settings.MasterTimeout)
	go sub.Run(subCtx)

	notifyCtx, cancelNotify := context.WithCancel(ctx)
	defer cancelNotify()
	go m.notifier(notifyCtx)

	m.state.Store(int32(StateServing))
	klog.Infof("master %s: serving shard %d [%d, %d) on %s", m.id, s.ID, s.Start, s.End, m.addr)
	err = m.loop(ctx, s, sub.Events())
	m.stop(s)
	return err
}

// register retries until the scheduler assigns a shard or MasterTimeout
// elapses.
func (m *Master) register(ctx context.Context) (*shard.Shard, error) {
	settings := m.cfg.Settings
	deadline := time.Now().Add(settings.MasterTimeout)
	req := &wire.Register{Role: wire.RoleMaster, ID: m.id, Addr: m.addr}
	var lastErr error
	for attempt := 1; time.Now().Before(deadline); attempt++ {
		reply, err := cluster.CallTimeout(ctx, time.Until(deadline), settings.MasterURL(), req)
		if err == nil {
			if a, ok := reply.(*wire.Assignment); ok && a.End-a.Start == len(a.Values) {
				klog.V(1).Infof("master %s: registered after %d attempts", m.id, attempt)
				return shard.NewShard(a.ID, a.Start, a.Values, m.cfg.Policy), nil
			}
			err = errors.Errorf("scheduler answered %q", reply.Tag())
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		klog.V(1).Infof("master %s: register retry %d: %v", m.id, attempt, err)
		cluster.Sleep(ctx, cluster.Backoff(attempt))
	}
	return nil, errors.Wrapf(ErrRegistration, "master %s at %s: %v", m.id, m.addr, lastErr)
}

// resume seeds s from the store when an earlier run persisted this range.
func (m *Master) resume(s *shard.Shard) {
	if m.cfg.Store == nil {
		return
	}
	err := s.Restore(m.cfg.Store)
	switch {
	case err == nil:
		klog.Infof("master %s: resumed shard %d [%d, %d) from the store", m.id, s.ID, s.Start, s.End)
	case errors.Is(err, storage.ErrKeyNotFound):
	default:
		klog.Warningf("master %s: ignoring stored shard: %v", m.id, err)
	}
}

// loop is the SERVING event loop.
func (m *Master) loop(ctx context.Context, s *shard.Shard, events <-chan cluster.Event) error {
	for {
		select {
		case req := <-m.queue:
			m.serve(s, req)
		case e, ok := <-events:
			switch {
			case !ok:
				return errors.Wrap(ctx.Err(), "master canceled")
			case e.Terminated:
				klog.Infof("master %s: termination at generation %d, shard k=%d", m.id, e.Generation, s.K())
				return nil
			case e.Lost:
				return errors.Wrapf(cluster.ErrSchedulerLost, "master %s", m.id)
			default:
				klog.V(3).Infof("master %s: generation %d", m.id, e.Generation)
			}
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "master canceled")
		}
	}
}

// serve answers one queued request, unless its caller already gave up.
func (m *Master) serve(s *shard.Shard, req request) {
	if req.abandoned() {
		s.Discard()
		klog.V(1).Infof("master %s: dropping %q, its sender went away", m.id, req.msg.Tag())
		req.reply <- nil
		return
	}
	req.reply <- m.apply(s, req.msg)
}

// apply handles one worker request inside the event loop.
func (m *Master) apply(s *shard.Shard, msg wire.Message) wire.Message {
	switch msg := msg.(type) {
	case *wire.Fetch:
		values, k := s.Snapshot()
		return &wire.ShardValues{Start: s.Start, K: k, Values: values}
	case *wire.GradientUpdate:
		k, err := s.Apply(msg.WorkerID, msg.KLocal, msg.KGlobal, msg.FVal, msg.Gradient)
		if err != nil {
			klog.Warningf("master %s: discarding update from worker %d: %v", m.id, msg.WorkerID, err)
			return nil
		}
		select {
		case m.notices <- k:
		default:
			klog.V(1).Infof("master %s: notice queue full, skipping k=%d", m.id, k)
		}
		return &wire.Ack{K: k}
	}
	s.Discard()
	klog.Warningf("master %s: unexpected %q from a worker", m.id, msg.Tag())
	return nil
}

// notifier reports every applied update to the scheduler with a 'u' Ack.
func (m *Master) notifier(ctx context.Context) {
	url := m.cfg.Settings.MasterURL()
	for {
		select {
		case k := <-m.notices:
			if _, err := cluster.CallTimeout(ctx, m.cfg.Settings.MasterTimeout, url, &wire.Ack{K: k}); err != nil && ctx.Err() == nil {
				klog.Warningf("master %s: update notice k=%d: %v", m.id, k, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Master) stop(s *shard.Shard) {
	m.state.Store(int32(StateStopped))
	s.Stop()
	info := s.Info()
	klog.Infof("master %s: stopped shard %d at k=%d (fetches=%d updates=%d discarded=%d max staleness=%d)",
		m.id, info.ID, info.K, info.Stats.Fetches, info.Stats.Updates, info.Stats.Discarded, info.Stats.MaxStaleness)
	if m.cfg.Store == nil {
		return
	}
	if err := s.Persist(m.cfg.Store); err != nil {
		klog.Errorf("master %s: %v", m.id, err)
		return
	}
	klog.Infof("master %s: persisted shard, store holds %s", m.id, m.cfg.Store.Stats())
}

// handle queues a worker request for the event loop. A request that cannot
// be queued, or that arrives outside SERVING, gets an empty Ack.
//
// A request whose caller goes away while it is still queued is dropped
// instead of applied, since the worker will resend it. Once the loop has
// applied an update its reply can still be lost in transit, so gradient
// delivery is at least once: the resent copy is applied as a fresh update.
func (m *Master) handle(ctx context.Context, msg wire.Message) wire.Message {
	if m.State() != StateServing {
		return nil
	}
	req := request{msg: msg, reply: make(chan wire.Message, 1), cancelled: new(atomic.Bool)}
	select {
	case m.queue <- req:
	default:
		klog.V(1).Infof("master %s: queue full, asking %q sender to retry", m.id, msg.Tag())
		return nil
	}
	select {
	case reply := <-req.reply:
		return reply
	case <-m.done:
		return nil
	case <-ctx.Done():
		req.cancelled.Store(true)
		return nil
	}
}

func (m *Master) status() any {
	s := m.Shard()
	if s == nil {
		return struct {
			ID    string `json:"id"`
			State string `json:"state"`
		}{m.id, m.State().String()}
	}
	return struct {
		ID    string          `json:"id"`
		State string          `json:"state"`
		Shard shard.ShardInfo `json:"shard"`
	}{m.id, m.State().String(), s.Info()}
}

func (m *Master) mux() *http.ServeMux {
	mux := cluster.NewMux(m.handle)
	mux.HandleFunc(cluster.StatusPath, cluster.StatusHandler(m.status))
	return mux
}
