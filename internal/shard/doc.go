// Package shard is the physical storage unit behind one pool
// partition on one node: a key space plus an Active/Draining/Deleted
// lifecycle state. internal/sharding's DrainShard works on its own
// placement records and does not use this package.
//
// A Shard never decides which keys it owns. internal/sharding's HRW
// placement engine is the sole authority on key-to-node assignment;
// this package only serves whatever keys it has been handed, through
// whatever internal/storage.Store backs it.
package shard
