// Package storage is the small key-value layer masters use to persist the
// final values of their shard when a run ends.
//
// Two backends implement Store:
//
//	MemoryStore  map guarded by a sync.RWMutex; tests and throwaway runs
//	DirStore     one file per key under a directory; survives the process
//
// Vectors are stored as little-endian float64 arrays with PutVector and
// GetVector, under the key returned by ShardKey:
//
//	store, _ := storage.NewDirStore("/var/lib/proxima")
//	_ = storage.PutVector(store, storage.ShardKey(0, 5), x)
//	x, _ = storage.GetVector(store, storage.ShardKey(0, 5))
//
// All implementations are safe for concurrent use. Get returns an error
// wrapping ErrKeyNotFound for absent keys; Delete of an absent key is not
// an error.
package storage
