package coordinator

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/proxima/internal/cluster"
)

// ErrDirectoryNotReady is returned by Lookup until every shard has an owner.
var ErrDirectoryNotReady = errors.New("shard directory is not ready")

// ErrDirectoryFull is returned when more masters register than there are shards.
var ErrDirectoryFull = errors.New("every shard already has a master")

// ShardRange is the half-open coordinate range [Start, End) of one shard.
type ShardRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of coordinates in the range.
func (r ShardRange) Len() int { return r.End - r.Start }

// Intersects reports whether r and [lo, hi) share a coordinate.
func (r ShardRange) Intersects(lo, hi int) bool {
	return r.Start < hi && lo < r.End
}

func (r ShardRange) String() string { return fmt.Sprintf("[%d, %d)", r.Start, r.End) }

// Partition splits [0, dim) into numShards contiguous ranges. Every shard
// gets dim/numShards coordinates and the first dim%numShards shards get one
// more, so sizes differ by at most one and the ranges tile [0, dim) exactly.
//
// Example:
//
//	Partition(10, 3) // [0,4) [4,7) [7,10)
func Partition(dim, numShards int) []ShardRange {
	if numShards <= 0 || dim < 0 {
		return nil
	}
	ranges := make([]ShardRange, numShards)
	base, extra := dim/numShards, dim%numShards
	start := 0
	for i := range ranges {
		size := base
		if i < extra {
			size++
		}
		ranges[i] = ShardRange{Start: start, End: start + size}
		start += size
	}
	return ranges
}

// ShardAssignment binds a shard to the master that owns it.
// Values returned by the directory are copies.
type ShardAssignment struct {
	ShardRange
	ShardID  int    `json:"shard_id"`
	MasterID string `json:"master_id"`
	Addr     string `json:"addr"`
}

// ShardDirectory maps shard ranges to the masters that own them.
//
// It is filled while masters register and sealed once every shard has an
// owner; after Seal it is immutable for the rest of the run and Lookup
// starts answering.
//
//	┌────────────────────────────────────────┐
//	│            ShardDirectory              │
//	├────────────────────────────────────────┤
//	│  ranges:      [0,5) [5,10)             │
//	│  assignments: 0 → m-a @ 10.0.0.1:9710  │
//	│               1 → m-b @ 10.0.0.2:9710  │
//	├────────────────────────────────────────┤
//	│  Lookup(3, 8) → [shard 0, shard 1]     │
//	└────────────────────────────────────────┘
//
// Thread-safe: reads take a read lock, registration takes the write lock.
type ShardDirectory struct {
	mu          sync.RWMutex
	ranges      []ShardRange
	assignments map[int]*ShardAssignment
	sealed      bool
	dim         int
}

// NewShardDirectory partitions [0, dim) across numShards masters.
func NewShardDirectory(dim, numShards int) *ShardDirectory {
	return &ShardDirectory{
		ranges:      Partition(dim, numShards),
		assignments: make(map[int]*ShardAssignment),
		dim:         dim,
	}
}

// Dim returns the dimension of the partitioned iterate.
func (d *ShardDirectory) Dim() int { return d.dim }

// NumShards returns the number of shards.
func (d *ShardDirectory) NumShards() int { return len(d.ranges) }

// Register gives masterID the lowest unassigned shard. A master that
// registers again (a retried request) gets its existing shard back with the
// new address.
func (d *ShardDirectory) Register(masterID, addr string) (ShardAssignment, error) {
	if masterID == "" || addr == "" {
		return ShardAssignment{}, errors.New("master id and address are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range d.assignments {
		if a.MasterID == masterID {
			if d.sealed && a.Addr != addr {
				return ShardAssignment{}, errors.Errorf("master %s moved to %s after the directory was sealed", masterID, addr)
			}
			a.Addr = addr
			return *a, nil
		}
	}
	if d.sealed {
		return ShardAssignment{}, ErrDirectoryFull
	}
	for id, r := range d.ranges {
		if _, taken := d.assignments[id]; !taken {
			a := &ShardAssignment{ShardRange: r, ShardID: id, MasterID: masterID, Addr: addr}
			d.assignments[id] = a
			return *a, nil
		}
	}
	return ShardAssignment{}, ErrDirectoryFull
}

// Registered returns how many shards have an owner.
func (d *ShardDirectory) Registered() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.assignments)
}

// Seal freezes the directory. It fails unless every shard has an owner.
func (d *ShardDirectory) Seal() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.assignments) != len(d.ranges) {
		return errors.Errorf("cannot seal directory: %d of %d shards assigned", len(d.assignments), len(d.ranges))
	}
	d.sealed = true
	return nil
}

// Lookup returns, in index order, every shard intersecting [lo, hi).
func (d *ShardDirectory) Lookup(lo, hi int) ([]ShardAssignment, error) {
	if lo < 0 || hi > d.dim || lo >= hi {
		return nil, errors.Errorf("invalid range [%d, %d) for dimension %d", lo, hi, d.dim)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.sealed {
		return nil, ErrDirectoryNotReady
	}
	// First shard whose end is past lo.
	first, _ := slices.BinarySearchFunc(d.ranges, lo, func(r ShardRange, lo int) int {
		if r.End <= lo {
			return -1
		}
		return 1
	})
	var out []ShardAssignment
	for id := first; id < len(d.ranges) && d.ranges[id].Start < hi; id++ {
		if d.ranges[id].Len() == 0 {
			continue
		}
		out = append(out, *d.assignments[id])
	}
	return out, nil
}

// GetAllAssignments returns every assignment ordered by shard id.
func (d *ShardDirectory) GetAllAssignments() []ShardAssignment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ShardAssignment, 0, len(d.assignments))
	for _, a := range d.assignments {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b ShardAssignment) int { return a.ShardID - b.ShardID })
	return out
}

// Masters returns the registered masters, for health monitoring.
func (d *ShardDirectory) Masters() []cluster.NodeInfo {
	assignments := d.GetAllAssignments()
	nodes := make([]cluster.NodeInfo, len(assignments))
	for i, a := range assignments {
		nodes[i] = cluster.NodeInfo{ID: a.MasterID, Addr: a.Addr}
	}
	return nodes
}
