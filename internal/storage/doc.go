// Package storage defines the key-value interface a shard's data
// lives behind, plus an in-memory implementation.
//
// # Overview
//
// Every internal/shard Shard owns exactly one Store for its partition key's namespace. The interface
// is deliberately minimal: Get/Put/Delete/List/Stats, with no
// assumption about persistence — a shard doesn't care whether its
// data survives a restart, since canic's node lifecycle already
// treats every node as disposable and reconstructible from the
// registry plus whatever external durability backs MemoryStore in
// production.
//
// # Thread safety
//
// MemoryStore guards its map with a sync.RWMutex: reads take RLock,
// writes take Lock, and every returned value or key slice is a copy so
// callers can't mutate store-internal state through an alias.
package storage
