package sharding

import (
	"sync"

	"github.com/dreamware/canic/internal/ids"
)

// UnassignedSlot marks a shard whose slot has not yet been positionally
// fixed (spec §3).
const UnassignedSlot = ^uint32(0)

// Entry is a single shard registry row (spec §3), keyed by the shard's
// own PID.
type Entry struct {
	Pool      ids.PoolName
	Slot      uint32
	Role      ids.Role
	Capacity  uint32
	Count     uint32
	CreatedAt uint64
}

// HasSlot reports whether e has been positionally fixed.
func (e Entry) HasSlot() bool {
	return e.Slot != UnassignedSlot
}

// assignmentKey is the composite key of the partition-key assignment
// map: (pool, partition key) → shard PID (spec §3: "one partition key
// maps to at most one shard within a pool").
type assignmentKey struct {
	pool ids.PoolName
	key  ids.PartitionKey
}

// Registry is the process-wide shard registry, partition-key
// assignment table, and shard admission set (spec §3, §4.5). All three
// stores share one lock because every mutating operation in this
// package touches more than one of them atomically (e.g. creating a
// shard both inserts an Entry and admits its PID).
type Registry struct {
	mu          sync.RWMutex
	shards      map[ids.PID]Entry
	assignments map[assignmentKey]ids.PID
	admitted    map[ids.PID]bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		shards:      make(map[ids.PID]Entry),
		assignments: make(map[assignmentKey]ids.PID),
		admitted:    make(map[ids.PID]bool),
	}
}

// Get returns a copy of the shard entry for pid, if present.
func (r *Registry) Get(pid ids.PID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.shards[pid]
	return e, ok
}

// put inserts or overwrites a shard entry. Caller must hold r.mu.
func (r *Registry) put(pid ids.PID, e Entry) {
	r.shards[pid] = e
}

// Admit adds pid to the routable set (spec §3: "admission of a shard
// into the routable set after creation"). The pid is not checked
// against the known shards: admitting an unknown pid records it as
// admitted without an error or a panic, matching the store-level
// leniency of internal/registry.
func (r *Registry) Admit(pid ids.PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admitted[pid] = true
}

// IsAdmitted reports whether pid is in the routable set.
func (r *Registry) IsAdmitted(pid ids.PID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admitted[pid]
}

// PoolShards returns every shard entry for pool, regardless of
// admission state — the full shard set, used for assignment writes
// and for the "existing_pool_shards ≥ max_shards" bootstrap check
// (spec §4.5).
func (r *Registry) PoolShards(pool ids.PoolName) map[ids.PID]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ids.PID]Entry)
	for pid, e := range r.shards {
		if e.Pool == pool {
			out[pid] = e
		}
	}
	return out
}

// RoutableShards returns the shards for pool that are both a direct
// child of this node (per directChildren) and admitted (spec §4.5).
func (r *Registry) RoutableShards(pool ids.PoolName, directChildren []ids.PID) map[ids.PID]Entry {
	childSet := make(map[ids.PID]bool, len(directChildren))
	for _, c := range directChildren {
		childSet[c] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ids.PID]Entry)
	for pid, e := range r.shards {
		if e.Pool == pool && childSet[pid] && r.admitted[pid] {
			out[pid] = e
		}
	}
	return out
}

// AssignmentFor returns the shard currently holding (pool, key), if any.
func (r *Registry) AssignmentFor(pool ids.PoolName, key ids.PartitionKey) (ids.PID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pid, ok := r.assignments[assignmentKey{pool, key}]
	return pid, ok
}

// writeAssignment records (pool, key) → pid and bumps pid's count if
// this is a new assignment for this key (idempotent on repeat writes
// of the same pid, per spec §4.5 step 7). Caller must hold r.mu.
func (r *Registry) writeAssignment(pool ids.PoolName, key ids.PartitionKey, pid ids.PID) {
	ak := assignmentKey{pool, key}
	if existing, ok := r.assignments[ak]; ok && existing == pid {
		return
	}
	if existing, ok := r.assignments[ak]; ok {
		if e, ok := r.shards[existing]; ok && e.Count > 0 {
			e.Count--
			r.shards[existing] = e
		}
	}
	r.assignments[ak] = pid
	if e, ok := r.shards[pid]; ok {
		e.Count++
		r.shards[pid] = e
	}
}

// Metrics is the per-pool derived metrics snapshot of spec §4.5.
type Metrics struct {
	ActiveCount     int
	TotalCapacity   uint64
	TotalUsed       uint64
	UtilizationPct  uint64
}

// PoolMetrics computes Metrics over the full shard set for pool
// (spec §4.5: active_count, total_capacity, total_used, utilization_pct).
func (r *Registry) PoolMetrics(pool ids.PoolName) Metrics {
	shards := r.PoolShards(pool)
	var m Metrics
	m.ActiveCount = len(shards)
	for _, e := range shards {
		m.TotalCapacity += uint64(e.Capacity)
		m.TotalUsed += uint64(e.Count)
	}
	if m.TotalCapacity > 0 {
		m.UtilizationPct = (100 * m.TotalUsed) / m.TotalCapacity
	}
	return m
}
