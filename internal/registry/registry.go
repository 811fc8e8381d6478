// Package registry implements the subnet registry (spec §4.1, C1): the
// authoritative, process-wide map from node principal to registry
// entry. It is the sole owner of parentage and role data; every other
// component (directories, the orchestrator, sharding) reads it but
// never mutates it directly.
//
// Mirrors the teacher's internal/coordinator/shard_registry.go in
// shape: a mutex-guarded map with copy-out accessors, so that no
// caller can mutate state through a returned pointer.
package registry

import (
	"sync"
	"time"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/ids"
	"go.uber.org/zap"
)

// Entry is a single subnet registry row (spec §3). ROOT entries carry
// no parent and no module hash; every other entry carries both.
type Entry struct {
	ParentPID  *ids.PID
	ModuleHash []byte
	Role       ids.Role
	CreatedAt  uint64
}

// IsRoot reports whether e is the distinguished ROOT entry.
func (e Entry) IsRoot() bool {
	return e.Role.IsRoot()
}

// Summary is the minimal projection returned by children/subtree:
// callers of a tree walk usually only need role and parent, not the
// module hash, so Registry avoids handing out the full Entry there.
type Summary struct {
	ParentPID *ids.PID
	Role      ids.Role
}

// Registry is the process-wide subnet registry (C1). The zero value is
// not ready for use; construct with New.
type Registry struct {
	entries map[ids.PID]Entry
	mu      sync.RWMutex
	log     *zap.SugaredLogger
}

// New constructs an empty Registry.
func New(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{entries: make(map[ids.PID]Entry), log: log}
}

// Get returns a copy of the entry for pid, if present.
func (r *Registry) Get(pid ids.PID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[pid]
	return e, ok
}

// GetParent returns the parent of pid, if pid is registered and is not
// the ROOT entry.
func (r *Registry) GetParent(pid ids.PID) (ids.PID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[pid]
	if !ok || e.ParentPID == nil {
		return ids.PID{}, false
	}
	return *e.ParentPID, true
}

// FindFirstByRole returns an entry matching role. It walks a Go map,
// so when several entries match, which one is returned is unspecified
// and may differ between calls (spec §9: metrics ordering across role
// lookups is never load-bearing for tests).
func (r *Registry) FindFirstByRole(role ids.Role) (ids.PID, Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pid, e := range r.entries {
		if e.Role == role {
			return pid, e, true
		}
	}
	return ids.PID{}, Entry{}, false
}

// RegisterRoot inserts the one ROOT entry. A second call with the same
// pid and ROOT role is a silent no-op (store-level idempotent upsert,
// per spec §4.1). A call for a different pid inserts a second ROOT
// entry: neither this store nor the orchestrator checks that only one
// ROOT exists.
func (r *Registry) RegisterRoot(pid ids.PID, createdAt uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[pid]; ok && existing.IsRoot() {
		return
	}
	r.entries[pid] = Entry{Role: ids.RootRole, CreatedAt: createdAt}
	r.log.Infow("registered root", "pid", pid.String())
}

// Register inserts a non-root entry. Upsert at the store level is
// idempotent by key; the orchestrator is responsible for rejecting
// double-registration of the same pid with a different identity
// (spec §7 Conflict).
func (r *Registry) Register(pid ids.PID, role ids.Role, parent ids.PID, moduleHash []byte, createdAt uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[pid] = Entry{
		Role:       role,
		ParentPID:  &parent,
		ModuleHash: append([]byte(nil), moduleHash...),
		CreatedAt:  createdAt,
	}
	r.log.Infow("registered node", "pid", pid.String(), "role", string(role), "parent", parent.String())
}

// UpdateModuleHash sets a new module hash for an existing entry,
// returning false if pid is absent (spec §4.1).
func (r *Registry) UpdateModuleHash(pid ids.PID, newHash []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[pid]
	if !ok {
		return false
	}
	e.ModuleHash = append([]byte(nil), newHash...)
	r.entries[pid] = e
	return true
}

// Remove deletes pid's entry, returning the removed entry if present.
func (r *Registry) Remove(pid ids.PID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[pid]
	if ok {
		delete(r.entries, pid)
	}
	return e, ok
}

// Children returns the one-level-down children of parent.
func (r *Registry) Children(parent ids.PID) []struct {
	PID     ids.PID
	Summary Summary
} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []struct {
		PID     ids.PID
		Summary Summary
	}
	for pid, e := range r.entries {
		if e.ParentPID != nil && *e.ParentPID == parent {
			out = append(out, struct {
				PID     ids.PID
				Summary Summary
			}{PID: pid, Summary: Summary{ParentPID: e.ParentPID, Role: e.Role}})
		}
	}
	return out
}

// Subtree returns every node reachable from root along parent edges,
// including root itself, exactly once. The walk builds a single
// parent→children adjacency over all entries, then does a BFS from
// root guarded by a visited set — so arbitrary parent-of-parent cycles
// elsewhere in the graph terminate without ever being reached, and
// cycles that do include root terminate because each PID is visited
// at most once (spec §4.1).
func (r *Registry) Subtree(root ids.PID) []struct {
	PID     ids.PID
	Summary Summary
} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	children := make(map[ids.PID][]ids.PID, len(r.entries))
	for pid, e := range r.entries {
		if e.ParentPID != nil {
			children[*e.ParentPID] = append(children[*e.ParentPID], pid)
		}
	}

	visited := map[ids.PID]bool{root: true}
	queue := []ids.PID{root}
	var out []struct {
		PID     ids.PID
		Summary Summary
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if e, ok := r.entries[cur]; ok {
			out = append(out, struct {
				PID     ids.PID
				Summary Summary
			}{PID: cur, Summary: Summary{ParentPID: e.ParentPID, Role: e.Role}})
		}
		for _, child := range children[cur] {
			if !visited[child] {
				visited[child] = true
				queue = append(queue, child)
			}
		}
	}
	return out
}

// SubtreeSize is a convenience used by the orchestrator's "leaf" check
// on Delete (spec §4.4): a node is a leaf iff its subtree contains
// only itself.
func (r *Registry) SubtreeSize(root ids.PID) int {
	return len(r.Subtree(root))
}

// CountByRole counts registered entries with the given role, e.g. to
// see how many ROOT entries exist.
func (r *Registry) CountByRole(role ids.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.Role == role {
			n++
		}
	}
	return n
}

// ByRole returns every registered pid with the given role, used by the
// state cascade to find the nodes a role-scoped directory push must
// reach.
func (r *Registry) ByRole(role ids.Role) []ids.PID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ids.PID
	for pid, e := range r.entries {
		if e.Role == role {
			out = append(out, pid)
		}
	}
	return out
}

// nowMillis is the clock the orchestrator uses to assign created_at;
// factored out so tests can hold it fixed by constructing Entry values
// directly instead of depending on wall time.
func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// NowMillis exposes nowMillis for callers (the orchestrator) that need
// a monotonic-at-insertion timestamp without importing "time"
// themselves at every call site.
func NowMillis() uint64 {
	return nowMillis()
}

// ErrEntryNotFound is returned by callers (outside this package) that
// want a canicerr-flavored NotFound for a missing registry row.
func ErrEntryNotFound(pid ids.PID) error {
	return canicerr.New(canicerr.NotFound, "registry entry not found", canicerr.F("pid", pid.String()))
}
