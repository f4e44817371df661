package shard

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/encoder"
	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/storage"
)

// ShardState represents the current state of a shard
type ShardState string

const (
	// ShardStateActive means the shard accepts fetches and updates
	ShardStateActive ShardState = "active"
	// ShardStateStopped means the run ended; updates are discarded
	ShardStateStopped ShardState = "stopped"
)

// Shard is the contiguous range [Start, End) of the iterate owned by one
// master, together with its gradient accumulator, iteration counter and
// policy state. Updates are applied one at a time.
type Shard struct {
	ID    int
	Start int
	End   int
	Stats *ShardStats

	mu      sync.Mutex
	state   ShardState
	policy  policy.Policy
	x       []float64
	g       []float64
	scratch []float64
	k       int
}

// ShardStats tracks operation counts. Fields are updated atomically.
type ShardStats struct {
	Fetches      uint64 // shard value reads
	Updates      uint64 // gradient updates applied
	Discarded    uint64 // updates rejected without touching x
	MaxStaleness uint64 // largest k - kGlobal seen
}

// ShardInfo contains metadata about a shard
type ShardInfo struct {
	ID    int        `json:"id"`
	Start int        `json:"start"`
	End   int        `json:"end"`
	K     int        `json:"k"`
	State ShardState `json:"state"`
	Stats ShardStats `json:"stats"`
}

// NewShard creates shard id covering [start, start+len(x0)) with initial
// values x0 (copied) and the update policy p.
func NewShard(id, start int, x0 []float64, p policy.Policy) *Shard {
	n := len(x0)
	return &Shard{
		ID:      id,
		Start:   start,
		End:     start + n,
		Stats:   &ShardStats{},
		state:   ShardStateActive,
		policy:  p.WithDefaults(),
		x:       append([]float64(nil), x0...),
		g:       make([]float64, n),
		scratch: make([]float64, n),
	}
}

// Len returns the number of coordinates owned.
func (s *Shard) Len() int { return s.End - s.Start }

// Snapshot returns a copy of the shard values and the current iteration.
func (s *Shard) Snapshot() ([]float64, int) {
	atomic.AddUint64(&s.Stats.Fetches, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.x...), s.k
}

// Values returns a copy of the shard values without counting a fetch.
func (s *Shard) Values() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.x...)
}

// K returns the shard's iteration counter.
func (s *Shard) K() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.k
}

// Apply decodes grad into the shard's gradient accumulator and runs the
// policy over the shard, advancing k. It returns the new k.
//
// grad must cover a range inside [Start, End). The gradient is decoded into a
// scratch buffer first; if decoding fails (a corrupt or misrouted payload)
// the update is discarded and x, g and the policy state are left untouched.
// The policy's kGlobal is the shard's own counter; the worker's kGlobal is
// only used to measure staleness.
func (s *Shard) Apply(workerID, kLocal, kGlobal int, fval float64, grad encoder.Encoded) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ShardStateActive {
		atomic.AddUint64(&s.Stats.Discarded, 1)
		return s.k, errors.Errorf("shard %d is %s", s.ID, s.state)
	}
	if grad == nil {
		atomic.AddUint64(&s.Stats.Discarded, 1)
		return s.k, errors.New("missing gradient")
	}

	clear(s.scratch)
	err := exceptions.TryCatch[error](func() { grad.Decode(s.scratch, s.Start) })
	if err != nil {
		atomic.AddUint64(&s.Stats.Discarded, 1)
		lo, hi := grad.Range()
		return s.k, errors.Wrapf(err, "shard %d [%d, %d) cannot take gradient [%d, %d)", s.ID, s.Start, s.End, lo, hi)
	}

	if staleness := s.k - kGlobal; staleness > 0 {
		klog.V(2).Infof("shard %d: update from worker %d is %d iterations stale", s.ID, workerID, staleness)
		for {
			prev := atomic.LoadUint64(&s.Stats.MaxStaleness)
			if uint64(staleness) <= prev || atomic.CompareAndSwapUint64(&s.Stats.MaxStaleness, prev, uint64(staleness)) {
				break
			}
		}
	}

	copy(s.g, s.scratch)
	step := s.policy.Apply(workerID, kLocal, s.k, fval, s.x, s.g)
	s.k++
	atomic.AddUint64(&s.Stats.Updates, 1)
	klog.V(2).Infof("shard %d: k=%d worker=%d fval=%g step=%g", s.ID, s.k, workerID, fval, step)
	return s.k, nil
}

// Discard counts a request that was dropped before reaching Apply.
func (s *Shard) Discard() {
	atomic.AddUint64(&s.Stats.Discarded, 1)
}

// Stop moves the shard to ShardStateStopped. Later updates are discarded.
func (s *Shard) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = ShardStateStopped
}

// GetStats returns a consistent copy of the statistics.
func (s *Shard) GetStats() ShardStats {
	return ShardStats{
		Fetches:      atomic.LoadUint64(&s.Stats.Fetches),
		Updates:      atomic.LoadUint64(&s.Stats.Updates),
		Discarded:    atomic.LoadUint64(&s.Stats.Discarded),
		MaxStaleness: atomic.LoadUint64(&s.Stats.MaxStaleness),
	}
}

// Info returns metadata about the shard
func (s *Shard) Info() ShardInfo {
	s.mu.Lock()
	k, state := s.k, s.state
	s.mu.Unlock()
	return ShardInfo{ID: s.ID, Start: s.Start, End: s.End, K: k, State: state, Stats: s.GetStats()}
}

// Persist writes the current values to store under storage.ShardKey.
func (s *Shard) Persist(store storage.Store) error {
	key := storage.ShardKey(s.Start, s.End)
	if err := storage.PutVector(store, key, s.Values()); err != nil {
		return errors.Wrapf(err, "persisting shard %d", s.ID)
	}
	return nil
}

// Restore loads values written by Persist into a stopped-or-fresh shard.
func (s *Shard) Restore(store storage.Store) error {
	v, err := storage.GetVector(store, storage.ShardKey(s.Start, s.End))
	if err != nil {
		return err
	}
	if len(v) != s.Len() {
		return errors.Errorf("stored shard has %d values, want %d", len(v), s.Len())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.x, v)
	return nil
}
