// Package pool implements the pool subsystem (spec §4.3, C3): a set of
// pre-warmed, recyclable nodes kept ready for fast handoff to the
// orchestrator. Entries move through a small state machine
// (PendingReset → Ready, or → Failed on a reset failure), a background
// worker drains PendingReset in batches, and a separate periodic loop
// tops the pool back up to its configured minimum size.
//
// The state machine and its admin-command surface are grounded on
// internal/coordinator/health_monitor.go's ticker-driven background
// loop and callback-on-transition shape, generalized from health
// polling to batched reset processing.
package pool

import (
	"sort"
	"sync"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/ids"
	"go.uber.org/zap"
)

// Status is a pool entry's position in the state machine of spec §4.3.
type Status int

const (
	// Ready entries are available for register_direct-style handoff.
	Ready Status = iota
	// PendingReset entries are queued for the background worker.
	PendingReset
	// Failed entries had a reset attempt fail; RequeueFailed moves them
	// back to PendingReset.
	Failed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case PendingReset:
		return "pending_reset"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is a single pool row (spec §3/§4.3).
type Entry struct {
	Role       ids.Role
	ModuleHash []byte
	FailReason string
	Status     Status
	CreatedAt  uint64
	Cycles     uint64 // measured cycles balance after the most recent reset
}

// Pool is the process-wide pool store. A mutex guards it even though
// the spec's scheduling model is single-threaded-cooperative per node
// (spec §5): the background worker and the minimum-size loop run as
// real goroutines in this Go port, so the invariant the spec gets for
// free from cooperative scheduling has to be enforced explicitly here.
type Pool struct {
	mu      sync.Mutex
	entries map[ids.PID]Entry
	order   []ids.PID // insertion order, for oldest-created-first batch selection
	log     *zap.SugaredLogger
}

// New constructs an empty Pool.
func New(log *zap.SugaredLogger) *Pool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{entries: make(map[ids.PID]Entry), log: log}
}

// Get returns a copy of pid's entry, if present.
func (p *Pool) Get(pid ids.PID) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[pid]
	return e, ok
}

// Contains reports whether pid is anywhere in the pool, regardless of status.
func (p *Pool) Contains(pid ids.PID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[pid]
	return ok
}

// ReadyCount returns the number of Ready entries, used by the
// minimum-size loop (spec §4.3).
func (p *Pool) ReadyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.entries {
		if e.Status == Ready {
			n++
		}
	}
	return n
}

// insert records a new entry and appends it to the insertion-order
// list. Caller must hold p.mu.
func (p *Pool) insert(pid ids.PID, e Entry) {
	if _, exists := p.entries[pid]; !exists {
		p.order = append(p.order, pid)
	}
	p.entries[pid] = e
}

// removeLocked deletes pid from both the map and the order slice.
// Caller must hold p.mu.
func (p *Pool) removeLocked(pid ids.PID) {
	delete(p.entries, pid)
	for i, x := range p.order {
		if x == pid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// RegisterDirect inserts a Ready entry for a freshly provisioned node
// (spec §4.3: "register_direct: inserts a Ready entry after
// provisioning a fresh node").
func (p *Pool) RegisterDirect(pid ids.PID, role ids.Role, moduleHash []byte, createdAt uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(pid, Entry{Role: role, ModuleHash: moduleHash, Status: Ready, CreatedAt: createdAt})
}

// RegistryChecker answers whether pid is already a registered node, so
// Import can reject double-registration (spec §4.3: "import(pid): if
// registry has pid, reject").
type RegistryChecker func(pid ids.PID) bool

// Importability probes whether a candidate is reachable before it is
// accepted onto a local-build pool (spec §4.3: "Policy: local-build
// importability"). On non-local builds this check is bypassed
// entirely by the caller, not by this type.
type Importability func(pid ids.PID) error

// Import marks pid PendingReset so the background worker resets it
// before it becomes Ready (spec §4.3). If inRegistry reports pid is
// already a registered node, Import rejects it. If probe is non-nil
// (a local-build caller) and the probe fails, the candidate is dropped
// from the pool entirely rather than recorded as Failed.
func (p *Pool) Import(pid ids.PID, createdAt uint64, inRegistry RegistryChecker, probe Importability) error {
	if inRegistry != nil && inRegistry(pid) {
		return canicerr.New(canicerr.Conflict, "cannot import a pid already present in the registry", canicerr.F("pid", pid.String()))
	}
	if probe != nil {
		if err := probe(pid); err != nil {
			return canicerr.Wrap(canicerr.TransportOrIO, err, "candidate is not importable on a local-replica build", canicerr.F("pid", pid.String()))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(pid, Entry{Status: PendingReset, CreatedAt: createdAt})
	return nil
}

// Recycle performs the synchronous recycle path of spec §4.3: requires
// pid to already be a registered node (the caller supplies role and
// moduleHash as captured from the registry before removal there),
// resets it synchronously via resetFn, and inserts it back into the
// pool as Ready, preserving role and module hash.
func (p *Pool) Recycle(pid ids.PID, role ids.Role, moduleHash []byte, createdAt uint64, resetFn func(ids.PID) error) error {
	if err := resetFn(pid); err != nil {
		return canicerr.Wrap(canicerr.TransportOrIO, err, "synchronous recycle reset failed", canicerr.F("pid", pid.String()))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(pid, Entry{Role: role, ModuleHash: moduleHash, Status: Ready, CreatedAt: createdAt})
	return nil
}

// Export removes a Ready entry from the pool and returns its role and
// module hash for the orchestrator's AdoptPool flow (spec §4.3).
func (p *Pool) Export(pid ids.PID) (ids.Role, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[pid]
	if !ok {
		return "", nil, canicerr.New(canicerr.NotFound, "pid not in pool", canicerr.F("pid", pid.String()))
	}
	if e.Status != Ready {
		return "", nil, canicerr.New(canicerr.Invariant, "export requires a Ready entry", canicerr.F("pid", pid.String()), canicerr.F("status", e.Status.String()))
	}
	if len(e.Role) == 0 || len(e.ModuleHash) == 0 {
		return "", nil, canicerr.New(canicerr.Invariant, "export requires role and module_hash to be present", canicerr.F("pid", pid.String()))
	}

	p.removeLocked(pid)
	return e.Role, e.ModuleHash, nil
}

// Return puts pid back into the pool as Ready, for the orchestrator's
// best-effort rollback path (spec §4.4: "returning adopted nodes to
// the pool").
func (p *Pool) Return(pid ids.PID, role ids.Role, moduleHash []byte, createdAt uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insert(pid, Entry{Role: role, ModuleHash: moduleHash, Status: Ready, CreatedAt: createdAt})
}

// oldestPendingLocked returns up to n PendingReset pids in oldest-created
// order (spec §4.3: "oldest-created PendingReset first"); entries with
// equal CreatedAt keep their insertion order. Caller must hold p.mu.
func (p *Pool) oldestPendingLocked(n int) []ids.PID {
	var pending []ids.PID
	for _, pid := range p.order {
		if e, ok := p.entries[pid]; ok && e.Status == PendingReset {
			pending = append(pending, pid)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return p.entries[pending[i]].CreatedAt < p.entries[pending[j]].CreatedAt
	})
	if len(pending) > n {
		pending = pending[:n]
	}
	return pending
}

// markReady transitions pid to Ready, recording the cycles balance
// measured at the end of a successful reset (spec §4.3: "on success
// sets Ready with measured cycles").
func (p *Pool) markReady(pid ids.PID, cycles uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[pid]; ok {
		e.Status = Ready
		e.FailReason = ""
		e.Cycles = cycles
		p.entries[pid] = e
	}
}

// markFailed transitions pid to Failed with reason.
func (p *Pool) markFailed(pid ids.PID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[pid]; ok {
		e.Status = Failed
		e.FailReason = reason
		p.entries[pid] = e
	}
}

// pendingCountLocked counts PendingReset entries. Caller must hold p.mu.
func (p *Pool) pendingCountLocked() int {
	n := 0
	for _, e := range p.entries {
		if e.Status == PendingReset {
			n++
		}
	}
	return n
}
