// Package scheduler implements the parameter-server scheduler.
//
// The scheduler bootstraps a run and then only routes: it never touches
// gradient or parameter values after handing masters their initial shards.
//
//	WAITING_FOR_MASTERS ──(M registered)──▶ ACTIVE ──(terminate holds)──▶ TERMINATED
//	        │                                  │
//	        └──(SchedulerTimeout)──▶ ErrInsufficientMasters
//	                                           └──(idle, terminate false)──▶ ErrNotQuiescent
//
// It serves three endpoints on the scheduler host: masters register and
// report updates on MasterPort, workers register and route on WorkerPort,
// and every node long-polls the generation counter on BroadcastPort.
package scheduler

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/coordinator"
)

var (
	// ErrInsufficientMasters is returned when fewer than NumMasters masters
	// register within SchedulerTimeout.
	ErrInsufficientMasters = errors.New("insufficient masters registered")
	// ErrNotQuiescent is returned when the scheduler goes idle for
	// SchedulerTimeout while the terminate predicate is still false.
	ErrNotQuiescent = errors.New("scheduler went idle before the terminate predicate held")
	// ErrMasterLost is returned when a registered master stops answering
	// health probes.
	ErrMasterLost = errors.New("master lost")
)

// State of the scheduler.
type State int32

const (
	StateWaitingForMasters State = iota
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateWaitingForMasters:
		return "WAITING_FOR_MASTERS"
	case StateActive:
		return "ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	}
	return "UNKNOWN"
}

// Terminate decides, from the broadcast generation (the number of updates
// applied across all masters), whether the run is over.
type Terminate func(generation int) bool

// MaxGeneration stops the run after n master updates.
func MaxGeneration(n int) Terminate {
	return func(generation int) bool { return generation >= n }
}

// Config configures a Scheduler.
type Config struct {
	Settings cluster.Settings
	// X0 is the initial iterate; its length is the problem dimension.
	X0        []float64
	Terminate Terminate
	// HealthInterval is the master probe period; 0 disables probing.
	HealthInterval time.Duration
}

// Result summarizes a finished run.
type Result struct {
	Generation int
	Shards     []coordinator.ShardAssignment
}

// Scheduler is the parameter-server scheduler. Create it with New, which
// binds the three ports, then call Run once.
type Scheduler struct {
	cfg       Config
	directory *coordinator.ShardDirectory
	broadcast *coordinator.Broadcaster
	health    *coordinator.HealthMonitor

	broadcastL, masterL, workerL net.Listener
	servers                      []*http.Server

	state      atomic.Int32
	nextWorker atomic.Int64
	activity   chan struct{}
	sealed     chan struct{}
	sealOnce   sync.Once
	fatal      chan error

	peersMu sync.Mutex
	peers   map[string]bool // registered id -> has been answered with Terminate
	told    chan struct{}
}

// New validates cfg and binds the scheduler's ports. Ports set to 0 bind
// ephemeral ports; Settings reports the ports actually bound.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.X0) == 0 {
		return nil, errors.New("scheduler needs a non-empty initial iterate")
	}
	if cfg.Terminate == nil {
		return nil, errors.New("scheduler needs a terminate predicate")
	}
	s := &Scheduler{
		cfg:       cfg,
		directory: coordinator.NewShardDirectory(len(cfg.X0), cfg.Settings.NumMasters),
		broadcast: coordinator.NewBroadcaster(),
		activity:  make(chan struct{}, 1),
		sealed:    make(chan struct{}),
		fatal:     make(chan error, 1),
		peers:     make(map[string]bool),
		told:      make(chan struct{}, 1),
	}

	host := cfg.Settings.SchedulerHost
	var err error
	bind := func(port *int) net.Listener {
		if err != nil {
			return nil
		}
		var l net.Listener
		l, *port, err = cluster.Listen(host, *port, 1)
		return l
	}
	s.broadcastL = bind(&s.cfg.Settings.BroadcastPort)
	s.masterL = bind(&s.cfg.Settings.MasterPort)
	s.workerL = bind(&s.cfg.Settings.WorkerPort)
	if err != nil {
		s.closeListeners()
		return nil, errors.Wrap(err, "scheduler")
	}
	if cfg.HealthInterval > 0 {
		s.health = coordinator.NewHealthMonitor(cfg.HealthInterval, cfg.Settings.MasterTimeout)
		s.health.SetOnUnhealthy(func(id string) {
			select {
			case s.fatal <- errors.Wrapf(ErrMasterLost, "master %s", id):
			default:
			}
		})
	}
	return s, nil
}

// Settings returns the settings with the ports actually bound, suitable for
// handing to masters and workers.
func (s *Scheduler) Settings() cluster.Settings {
	return s.cfg.Settings
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Directory exposes the shard directory, read-only once ACTIVE.
func (s *Scheduler) Directory() *coordinator.ShardDirectory {
	return s.directory
}

func (s *Scheduler) closeListeners() {
	for _, l := range []net.Listener{s.broadcastL, s.masterL, s.workerL} {
		if l != nil {
			_ = l.Close()
		}
	}
}

// Run serves until the run terminates, fails, or ctx is canceled. It always
// broadcasts termination and releases its ports before returning.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	settings := s.cfg.Settings
	s.servers = []*http.Server{
		cluster.Serve(s.broadcastL, s.broadcastMux()),
		cluster.Serve(s.masterL, cluster.NewMux(s.handleMaster)),
		cluster.Serve(s.workerL, s.workerMux()),
	}
	defer s.shutdown()
	klog.Infof("scheduler: waiting for %d masters (dim=%d) on %s", settings.NumMasters, s.directory.Dim(), s.masterL.Addr())

	if err := s.waitForMasters(ctx); err != nil {
		s.broadcast.Terminate()
		klog.Errorf("scheduler: %v", err)
		return s.result(), err
	}
	if err := s.directory.Seal(); err != nil {
		s.broadcast.Terminate()
		return s.result(), err
	}
	s.state.Store(int32(StateActive))
	for _, a := range s.directory.GetAllAssignments() {
		klog.Infof("scheduler: shard %d %s -> master %s at %s", a.ShardID, a.ShardRange, a.MasterID, a.Addr)
	}

	if s.health != nil {
		s.health.Start(ctx, s.directory.Masters)
	}

	err := s.serve(ctx)
	s.state.Store(int32(StateTerminated))
	s.broadcast.Terminate()
	if s.health != nil {
		s.health.Stop()
	}
	gen, _ := s.broadcast.State()
	if err != nil {
		klog.Errorf("scheduler: terminated at generation %d: %v", gen, err)
		return s.result(), err
	}
	klog.Infof("scheduler: terminated at generation %d, lingering %s", gen, settings.Linger)
	s.linger(ctx)
	return s.result(), nil
}

func (s *Scheduler) waitForMasters(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.Settings.SchedulerTimeout)
	defer timer.Stop()
	select {
	case <-s.sealed:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	got, want := s.directory.Registered(), s.directory.NumShards()
	return errors.Wrapf(ErrInsufficientMasters, "%d of %d masters registered, %d missing", got, want, want-got)
}

// serve is the ACTIVE loop. Every master update or worker request counts as
// activity; the terminate predicate is evaluated on each one.
func (s *Scheduler) serve(ctx context.Context) error {
	timeout := s.cfg.Settings.SchedulerTimeout
	idle := time.NewTimer(timeout)
	defer idle.Stop()
	for {
		gen, _ := s.broadcast.State()
		if s.cfg.Terminate(int(gen)) {
			return nil
		}
		select {
		case <-s.activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(timeout)
		case <-idle.C:
			gen, _ := s.broadcast.State()
			if s.cfg.Terminate(int(gen)) {
				return nil
			}
			return errors.Wrapf(ErrNotQuiescent, "no activity for %s at generation %d", timeout, gen)
		case err := <-s.fatal:
			return err
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "scheduler canceled")
		}
	}
}

// linger keeps serving so subscribers observe the termination marker. It
// returns once Linger has elapsed and every registered peer has been
// answered with Terminate, or drainTimeout after termination if some peer
// never polls again (a worker that stopped on its own iteration limit, say).
func (s *Scheduler) linger(ctx context.Context) {
	floor := time.NewTimer(s.cfg.Settings.Linger)
	defer floor.Stop()
	drain := time.NewTimer(s.drainTimeout())
	defer drain.Stop()
	select {
	case <-floor.C:
	case <-ctx.Done():
		return
	}
	for {
		n := s.unaware()
		if n == 0 {
			return
		}
		select {
		case <-s.told:
		case <-drain.C:
			klog.Warningf("scheduler: %d peers never saw the termination marker", n)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainTimeout bounds how long linger waits for silent peers: by then each
// of them has given up on the scheduler anyway.
func (s *Scheduler) drainTimeout() time.Duration {
	st := s.cfg.Settings
	return max(st.Linger, st.MasterTimeout, st.WorkerTimeout)
}

// expect records a registered peer that must see the termination marker.
func (s *Scheduler) expect(id string) {
	if id == "" {
		return
	}
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	if _, ok := s.peers[id]; !ok {
		s.peers[id] = false
	}
}

// answered marks id as having received Terminate.
func (s *Scheduler) answered(id string) {
	if id == "" {
		return
	}
	s.peersMu.Lock()
	s.peers[id] = true
	s.peersMu.Unlock()
	select {
	case s.told <- struct{}{}:
	default:
	}
}

// unaware counts registered peers not yet answered with Terminate.
func (s *Scheduler) unaware() int {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	n := 0
	for _, ok := range s.peers {
		if !ok {
			n++
		}
	}
	return n
}

func (s *Scheduler) shutdown() {
	for _, srv := range s.servers {
		cluster.Shutdown(srv, time.Second)
	}
}

func (s *Scheduler) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *Scheduler) result() Result {
	gen, _ := s.broadcast.State()
	return Result{Generation: int(gen), Shards: s.directory.GetAllAssignments()}
}
