// Package shard implements a node's local key space for one
// partition, plus a lifecycle state (Active/Draining/Deleted). It is
// created and served by cmd/canic-node; internal/sharding's placement
// engine does not create, admit or drain these shards.
//
// Ownership of which partition keys route to a shard is decided
// entirely by internal/sharding's HRW placement, not recomputed here —
// unlike the teacher's FNV-1a-modulo OwnsKey, a Shard has no opinion
// about which keys it should own; it only serves whatever keys the
// placement engine has assigned it.
package shard

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dreamware/canic/internal/ids"
	"github.com/dreamware/canic/internal/storage"
)

// State is a shard's operational lifecycle stage.
type State string

const (
	// Active accepts all reads and writes.
	Active State = "active"
	// Draining marks a shard being emptied ahead of removal from a
	// pool; it still serves reads and writes for keys not yet moved.
	Draining State = "draining"
	// Deleted has given up its key space; only cleanup is allowed.
	Deleted State = "deleted"
)

// Shard is one node's local key space for a single pool partition.
type Shard struct {
	Store storage.Store
	Stats *Stats

	mu    sync.RWMutex
	state State

	PID  ids.PID
	Pool ids.PoolName
}

// Stats tracks cumulative operation counts, updated atomically so
// readers never contend with writers.
type Stats struct {
	Gets    uint64
	Puts    uint64
	Deletes uint64
}

// Info is a point-in-time snapshot of a shard's identity and size, for
// admin/metrics consumers.
type Info struct {
	PID      ids.PID
	Pool     ids.PoolName
	State    State
	KeyCount int
	ByteSize int
}

// New constructs an Active shard with an in-memory store for pid in pool.
func New(pid ids.PID, pool ids.PoolName) *Shard {
	return &Shard{
		PID:   pid,
		Pool:  pool,
		Store: storage.NewMemoryStore(),
		state: Active,
		Stats: &Stats{},
	}
}

func (s *Shard) Get(key string) ([]byte, error) {
	atomic.AddUint64(&s.Stats.Gets, 1)
	return s.Store.Get(key)
}

func (s *Shard) Put(key string, value []byte) error {
	atomic.AddUint64(&s.Stats.Puts, 1)
	return s.Store.Put(key, value)
}

func (s *Shard) Delete(key string) error {
	atomic.AddUint64(&s.Stats.Deletes, 1)
	return s.Store.Delete(key)
}

// ListKeys returns every key currently stored, in no particular order.
func (s *Shard) ListKeys() []string {
	return s.Store.List()
}

// ListKeysInRange returns the sorted keys in [start, end).
func (s *Shard) ListKeysInRange(start, end string) []string {
	all := s.Store.List()
	var inRange []string
	for _, key := range all {
		if key >= start && key < end {
			inRange = append(inRange, key)
		}
	}
	sort.Strings(inRange)
	return inRange
}

// DeleteRange deletes every key in [start, end), returning the count
// removed.
func (s *Shard) DeleteRange(start, end string) int {
	keys := s.ListKeysInRange(start, end)
	for _, key := range keys {
		_ = s.Delete(key)
	}
	return len(keys)
}

// State returns the shard's current lifecycle stage.
func (s *Shard) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions the shard to a new lifecycle stage.
func (s *Shard) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Info returns a snapshot of the shard's identity, state, and size.
func (s *Shard) Info() Info {
	stats := s.Store.Stats()
	return Info{
		PID:      s.PID,
		Pool:     s.Pool,
		State:    s.State(),
		KeyCount: stats.Keys,
		ByteSize: stats.Bytes,
	}
}
