// Package shard holds the part of the iterate a single master owns.
//
// A Shard covers the global coordinates [Start, End). It owns x and g for
// that range, the iteration counter k and the policy instance whose
// per-coordinate state (momentum buffers, adaptive rates) is sized to the
// shard. Updates are totally ordered per shard; different shards advance
// independently.
//
//	┌──────────────── Shard 1 [5, 10) ────────────────┐
//	│ x: [x5 x6 x7 x8 x9]        k: 42                │
//	│ g: [g5 g6 g7 g8 g9]        state: active        │
//	│ policy: boost → smooth → step → prox            │
//	└─────────────────────────────────────────────────┘
//
// Apply decodes an encoded gradient slice into a scratch buffer before any
// state changes, so a payload that does not fit the shard is discarded
// without partial application. The final values can be saved to a
// storage.Store with Persist.
package shard
