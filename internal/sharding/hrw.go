// Package sharding implements deterministic partition-key placement
// (spec §4.5, C5): highest-random-weight (HRW, a.k.a. rendezvous
// hashing) selection over a candidate set, policy-gated shard
// creation, an admission lifecycle separating "exists" from
// "routable", and reassignment planning for drain.
//
// HRW is used instead of the teacher's modulo-over-FNV-1a scheme
// (internal/coordinator/shard_registry.go's GetShardForKey) because
// the spec requires that adding or removing one candidate changes at
// most one key's assignment in expectation — a property plain modulo
// hashing does not have (removing one node remaps nearly every key).
package sharding

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/dreamware/canic/internal/ids"
)

// weigh computes the HRW weight for a domain-separated key. Mixing the
// pool name into the hash input (for slot selection) keeps two pools'
// weight spaces independent even when they share partition keys.
func weigh(parts ...string) uint64 {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0}) // length-prefix-free separator between parts
	}
	return h.Sum64()
}

// Select picks the PID in candidates with the maximum HRW weight for
// key, breaking ties by ids.PID.Less (spec §4.5: "deterministic
// tie-break by serialized identity"). Returns ok=false for an empty
// candidate set.
func Select(key ids.PartitionKey, candidates []ids.PID) (ids.PID, bool) {
	if len(candidates) == 0 {
		return ids.PID{}, false
	}
	best := candidates[0]
	bestW := weigh(string(key), best.String())
	for _, c := range candidates[1:] {
		w := weigh(string(key), c.String())
		if w > bestW || (w == bestW && c.Less(best)) {
			best, bestW = c, w
		}
	}
	return best, true
}

// SelectFromSlots picks the slot in slots with the maximum HRW weight
// for (pool, key), domain-separating the hash input with pool so that
// slot selection for "primary" and "secondary" pools never collide
// (spec §4.5).
func SelectFromSlots(pool ids.PoolName, key ids.PartitionKey, slots []uint32) (uint32, bool) {
	if len(slots) == 0 {
		return 0, false
	}
	best := slots[0]
	bestW := weigh(string(pool), string(key), slotKey(best))
	for _, s := range slots[1:] {
		w := weigh(string(pool), string(key), slotKey(s))
		if w > bestW || (w == bestW && s < best) {
			best, bestW = s, w
		}
	}
	return best, true
}

func slotKey(slot uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], slot)
	return fmt.Sprintf("%x", b)
}
