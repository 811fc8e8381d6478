package sharding

import (
	"sort"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/ids"
)

// Policy is the per-pool configuration of spec §4.5.
type Policy struct {
	Role      ids.Role
	Capacity  uint32
	MaxShards uint32
}

// BlockReason names why CreateBlocked was returned (spec §4.5).
type BlockReason int

const (
	// PoolAtCapacity: active_count has reached max_shards.
	PoolAtCapacity BlockReason = iota
	// NoFreeSlots: every slot in [0, max_shards) is occupied.
	NoFreeSlots
	// PolicyViolation: a pool-specific rule outside capacity/max_shards
	// refused placement; Msg carries the reason.
	PolicyViolation
)

// PlanKind discriminates the PlanState variants of spec §4.5.
type PlanKind int

const (
	KindAlreadyAssigned PlanKind = iota
	KindUseExisting
	KindCreateAllowed
	KindCreateBlocked
)

// PlanState is the outcome of planning a partition-key placement.
// Exactly one of the fields is meaningful, selected by Kind.
type PlanState struct {
	Kind   PlanKind
	PID    ids.PID     // AlreadyAssigned, UseExisting
	Slot   uint32      // CreateAllowed: the slot a create would use
	Reason BlockReason // CreateBlocked
	Msg    string      // CreateBlocked with PolicyViolation
}

// NodeCreator creates a new shard node for pool at slot and returns its
// PID. It routes back through the orchestrator (C4); sharding never
// creates nodes itself (spec §4.5 control-flow note in §OVERVIEW).
type NodeCreator func(pool ids.PoolName, slot uint32) (ids.PID, error)

// backfillSlots computes which slots in [0, maxShards) are occupied,
// including the positions that would be assigned to currently
// unslotted shards if simulated in PID-ascending order (spec §4.5:
// "positionally simulated into free slots ... in PID-ascending
// order"). This is a pure planning step: it never mutates the
// registry or the passed-in shards map.
func backfillSlots(shards map[ids.PID]Entry, maxShards uint32) map[uint32]bool {
	occupied := make(map[uint32]bool)
	var unslotted []ids.PID
	for pid, e := range shards {
		if e.HasSlot() {
			occupied[e.Slot] = true
		} else {
			unslotted = append(unslotted, pid)
		}
	}
	sort.Slice(unslotted, func(i, j int) bool { return unslotted[i].Less(unslotted[j]) })

	var next uint32
	for range unslotted {
		for occupied[next] && next < maxShards {
			next++
		}
		if next >= maxShards {
			break
		}
		occupied[next] = true
		next++
	}
	return occupied
}

func freeSlots(occupied map[uint32]bool, maxShards uint32) []uint32 {
	var free []uint32
	for s := uint32(0); s < maxShards; s++ {
		if !occupied[s] {
			free = append(free, s)
		}
	}
	return free
}

// plan computes the PlanState for assigning key within pool (spec
// §4.5 steps 2-5). routable must already be filtered to directChildren
// ∩ admitted ∩ !excluded; it never mutates the registry.
func plan(reg *Registry, pool ids.PoolName, key ids.PartitionKey, policy Policy, routable map[ids.PID]Entry) PlanState {
	if pid, ok := reg.AssignmentFor(pool, key); ok {
		if _, stillRoutable := routable[pid]; stillRoutable {
			return PlanState{Kind: KindAlreadyAssigned, PID: pid}
		}
	}

	var withCapacity []ids.PID
	for pid, e := range routable {
		if e.Count < e.Capacity {
			withCapacity = append(withCapacity, pid)
		}
	}
	if len(withCapacity) > 0 {
		pid, _ := Select(key, withCapacity)
		return PlanState{Kind: KindUseExisting, PID: pid}
	}

	occupied := backfillSlots(routable, policy.MaxShards)
	free := freeSlots(occupied, policy.MaxShards)
	if len(free) == 0 {
		return PlanState{Kind: KindCreateBlocked, Reason: NoFreeSlots}
	}
	slot, _ := SelectFromSlots(pool, key, free)

	if uint32(len(routable)) < policy.MaxShards {
		return PlanState{Kind: KindCreateAllowed, Slot: slot}
	}
	return PlanState{Kind: KindCreateBlocked, Reason: PoolAtCapacity}
}

// AssignToPool runs the full assignment algorithm of spec §4.5,
// including the bootstrap branch (step 1) and the registry writes
// (steps 6-7). policy is supplied by the caller (the pool/orchestrator
// layer), since sharding does not own pool configuration storage.
func AssignToPool(reg *Registry, pool ids.PoolName, key ids.PartitionKey, policy Policy, directChildren []ids.PID, create NodeCreator) (ids.PID, error) {
	routable := reg.RoutableShards(pool, directChildren)

	if len(routable) == 0 {
		full := reg.PoolShards(pool)
		if uint32(len(full)) >= policy.MaxShards {
			return ids.PID{}, errExhausted(pool)
		}
		occupied := backfillSlots(full, policy.MaxShards)
		free := freeSlots(occupied, policy.MaxShards)
		slot, ok := SelectFromSlots(pool, key, free)
		if !ok {
			return ids.PID{}, errExhausted(pool)
		}
		pid, err := create(pool, slot)
		if err != nil {
			return ids.PID{}, canicerr.Wrap(canicerr.TransportOrIO, err, "failed to create bootstrap shard")
		}
		reg.createAndAdmit(pid, pool, slot, policy)
		directChildren = append(directChildren, pid)
		routable = reg.RoutableShards(pool, directChildren)
	}

	p := plan(reg, pool, key, policy, routable)

	switch p.Kind {
	case KindAlreadyAssigned, KindUseExisting:
		reg.mu.Lock()
		reg.writeAssignment(pool, key, p.PID)
		reg.mu.Unlock()
		return p.PID, nil
	case KindCreateAllowed:
		pid, err := create(pool, p.Slot)
		if err != nil {
			return ids.PID{}, canicerr.Wrap(canicerr.TransportOrIO, err, "failed to create shard")
		}
		reg.createAndAdmit(pid, pool, p.Slot, policy)
		reg.mu.Lock()
		reg.writeAssignment(pool, key, pid)
		reg.mu.Unlock()
		return pid, nil
	default:
		return ids.PID{}, blockedErr(pool, p)
	}
}

// PlanAssignToPool exposes the read-only planning decision without
// performing any creation or write, for callers (diagnostics, drain)
// that need to know what AssignToPool would do. If excludePID is
// non-nil, that shard is removed from the routable set first (spec
// §4.5 drain: "plan a reassignment that excludes donor_pid").
func PlanAssignToPool(reg *Registry, pool ids.PoolName, key ids.PartitionKey, policy Policy, directChildren []ids.PID, excludePID *ids.PID) PlanState {
	routable := reg.RoutableShards(pool, directChildren)
	if excludePID != nil {
		delete(routable, *excludePID)
	}
	return plan(reg, pool, key, policy, routable)
}

// createAndAdmit inserts a fresh shard entry at slot and immediately
// admits it (spec §4.5 step 6: "create and admit at the selected slot").
func (r *Registry) createAndAdmit(pid ids.PID, pool ids.PoolName, slot uint32, policy Policy) {
	r.mu.Lock()
	r.put(pid, Entry{Pool: pool, Slot: slot, Role: policy.Role, Capacity: policy.Capacity})
	r.admitted[pid] = true
	r.mu.Unlock()
}

func errExhausted(pool ids.PoolName) error {
	return canicerr.New(canicerr.Policy, "no active shards, max_shards exhausted", canicerr.F("pool", string(pool)))
}

func blockedErr(pool ids.PoolName, p PlanState) error {
	switch p.Reason {
	case PoolAtCapacity:
		return canicerr.New(canicerr.Policy, "pool at capacity", canicerr.F("pool", string(pool)))
	case NoFreeSlots:
		return canicerr.New(canicerr.Policy, "no free slots", canicerr.F("pool", string(pool)))
	default:
		return canicerr.New(canicerr.Policy, "policy violation: "+p.Msg, canicerr.F("pool", string(pool)))
	}
}

// DrainShard moves up to limit partition keys currently on donor to
// other shards, excluding donor as a candidate for every reassignment
// (spec §4.5). It returns the number of keys actually moved.
func DrainShard(reg *Registry, pool ids.PoolName, donor ids.PID, limit int, policy Policy, directChildren []ids.PID, create NodeCreator) (int, error) {
	reg.mu.RLock()
	var keys []ids.PartitionKey
	for ak, pid := range reg.assignments {
		if ak.pool == pool && pid == donor {
			keys = append(keys, ak.key)
		}
	}
	reg.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > limit {
		keys = keys[:limit]
	}

	moved := 0
	for _, key := range keys {
		p := PlanAssignToPool(reg, pool, key, policy, directChildren, &donor)
		switch p.Kind {
		case KindUseExisting:
			reg.mu.Lock()
			reg.writeAssignment(pool, key, p.PID)
			reg.mu.Unlock()
			moved++
		case KindAlreadyAssigned:
			if p.PID != donor {
				moved++ // already elsewhere; counts as drained, no-op write
			}
		case KindCreateAllowed:
			pid, err := create(pool, p.Slot)
			if err != nil {
				return moved, canicerr.Wrap(canicerr.TransportOrIO, err, "failed to create shard during drain")
			}
			reg.createAndAdmit(pid, pool, p.Slot, policy)
			reg.mu.Lock()
			reg.writeAssignment(pool, key, pid)
			reg.mu.Unlock()
			moved++
		}
	}
	return moved, nil
}
