package scheduler

import (
	"context"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/cluster"
	"github.com/dreamware/proxima/internal/coordinator"
	"github.com/dreamware/proxima/internal/wire"
)

// handleMaster serves registrations and update notices from masters.
func (s *Scheduler) handleMaster(_ context.Context, m wire.Message) wire.Message {
	switch m := m.(type) {
	case *wire.Register:
		if m.Role != wire.RoleMaster {
			klog.Warningf("scheduler: %c registration on the master port", m.Role)
			return nil
		}
		return s.registerMaster(m)
	case *wire.Ack:
		if m.Empty {
			return nil
		}
		gen := s.broadcast.Advance()
		s.touch()
		klog.V(2).Infof("scheduler: master update k=%d, generation %d", m.K, gen)
		return &wire.Ack{K: int(gen)}
	}
	klog.Warningf("scheduler: unexpected %q on the master port", m.Tag())
	return nil
}

func (s *Scheduler) registerMaster(m *wire.Register) wire.Message {
	a, err := s.directory.Register(m.ID, m.Addr)
	if err != nil {
		klog.Warningf("scheduler: rejecting master %s at %s: %v", m.ID, m.Addr, err)
		return nil
	}
	s.expect(m.ID)
	klog.Infof("scheduler: master %s at %s owns shard %d %s (%d/%d)",
		m.ID, m.Addr, a.ShardID, a.ShardRange, s.directory.Registered(), s.directory.NumShards())
	if s.directory.Registered() == s.directory.NumShards() {
		s.sealOnce.Do(func() { close(s.sealed) })
	}
	return &wire.Assignment{
		ID:     a.ShardID,
		Dim:    s.directory.Dim(),
		Start:  a.Start,
		End:    a.End,
		Values: append([]float64(nil), s.cfg.X0[a.Start:a.End]...),
	}
}

// handleWorker serves registrations and route requests from workers.
func (s *Scheduler) handleWorker(_ context.Context, m wire.Message) wire.Message {
	switch m := m.(type) {
	case *wire.Register:
		if m.Role != wire.RoleWorker {
			klog.Warningf("scheduler: %c registration on the worker port", m.Role)
			return nil
		}
		id := int(s.nextWorker.Add(1)) - 1
		s.expect(m.ID)
		klog.Infof("scheduler: worker %s registered as %d", m.ID, id)
		return &wire.Assignment{ID: id, Dim: s.directory.Dim()}
	case *wire.Route:
		if m.Kind != wire.TagFetch && m.Kind != wire.TagGradient {
			klog.Warningf("scheduler: route request of unknown kind %q", m.Kind)
			return nil
		}
		shards, err := s.directory.Lookup(m.Lo, m.Hi)
		if err != nil {
			// Not ready yet, or a bad range: the worker retries.
			klog.V(1).Infof("scheduler: route %q [%d, %d): %v", m.Kind, m.Lo, m.Hi, err)
			return nil
		}
		s.touch()
		return directoryOf(shards)
	}
	klog.Warningf("scheduler: unexpected %q on the worker port", m.Tag())
	return nil
}

func directoryOf(shards []coordinator.ShardAssignment) *wire.Directory {
	d := &wire.Directory{Shards: make([]wire.ShardRoute, len(shards))}
	for i, a := range shards {
		d.Shards[i] = wire.ShardRoute{Start: a.Start, End: a.End, Addr: a.Addr}
	}
	return d
}

// handleSubscribe holds a long-poll until the generation moves past Since.
func (s *Scheduler) handleSubscribe(ctx context.Context, m wire.Message) wire.Message {
	sub, ok := m.(*wire.Subscribe)
	if !ok {
		return nil
	}
	gen, done := s.broadcast.Wait(ctx, int64(sub.Since), cluster.PollHold(s.cfg.Settings.SchedulerTimeout))
	if done {
		s.answered(sub.ID)
		return &wire.Terminate{Generation: int(gen)}
	}
	return &wire.Advance{Generation: int(gen)}
}

func (s *Scheduler) broadcastMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(cluster.SubscribePath, cluster.FrameHandler(s.handleSubscribe))
	mux.HandleFunc(cluster.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Status is the JSON document served on the worker port's status path.
type Status struct {
	State      string                        `json:"state"`
	Generation int                           `json:"generation"`
	Workers    int                           `json:"workers"`
	Shards     []coordinator.ShardAssignment `json:"shards"`
	// Masters is the latest health check per master id; empty when health
	// checks are off.
	Masters map[string]*coordinator.MasterHealth `json:"masters,omitempty"`
}

func (s *Scheduler) status() any {
	gen, _ := s.broadcast.State()
	st := Status{
		State:      s.State().String(),
		Generation: int(gen),
		Workers:    int(s.nextWorker.Load()),
		Shards:     s.directory.GetAllAssignments(),
	}
	if s.health != nil {
		st.Masters = s.health.GetAllMasterHealth()
	}
	return st
}

func (s *Scheduler) workerMux() *http.ServeMux {
	mux := cluster.NewMux(s.handleWorker)
	mux.HandleFunc(cluster.StatusPath, cluster.StatusHandler(s.status))
	return mux
}
