// Package coordinator holds the scheduler-side bookkeeping of a
// parameter-server run: which master owns which slice of the iterate, which
// masters are still alive, and the generation counter broadcast to every
// node.
//
// # Shard directory
//
// The iterate x ∈ ℝᵈ is split into M contiguous shards by Partition. The
// first d mod M shards hold one extra coordinate, so sizes differ by at most
// one and the shards tile [0, d) exactly:
//
//	d = 10, M = 3
//	┌─────────────┬──────────┬──────────┐
//	│  shard 0    │ shard 1  │ shard 2  │
//	│  [0, 4)     │ [4, 7)   │ [7, 10)  │
//	└─────────────┴──────────┴──────────┘
//
// Masters register one at a time and receive the lowest unassigned shard.
// Once all M shards have owners the scheduler seals the ShardDirectory and
// starts answering Lookup for workers; until then lookups fail with
// ErrDirectoryNotReady.
//
// # Health
//
// HealthMonitor probes each master's /health endpoint. Shards are not
// replicated, so losing a master ends the run.
//
// # Broadcast
//
// Broadcaster carries a monotonically increasing generation. The scheduler
// advances it on every completed master update and terminates it once the
// stopping rule holds. Subscribers long-poll Wait with the last generation
// they saw.
package coordinator
