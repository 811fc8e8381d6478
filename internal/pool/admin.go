package pool

import "github.com/dreamware/canic/internal/ids"

// Skip reason buckets for admin command responses (spec §4.3).
const (
	SkipInRegistry        = "in_registry"
	SkipAlreadyReady      = "already_ready"
	SkipAlreadyPending    = "already_pending"
	SkipAlreadyFailed     = "already_failed"
	SkipNonImportableLocal = "non_importable_local"
)

// AdminResult is the structured response every admin command produces
// (spec §4.3: "a structured response with counters").
type AdminResult struct {
	Added        int
	Requeued     int
	Skipped      int
	SkipReasons  map[string]int
}

func newAdminResult() AdminResult {
	return AdminResult{SkipReasons: make(map[string]int)}
}

func (r *AdminResult) skip(reason string) {
	r.Skipped++
	r.SkipReasons[reason]++
}

// NodeCreator provisions a brand-new node for CreateEmpty, independent
// of the orchestrator's Create event (CreateEmpty bypasses the
// registry entirely — it only ever populates the pool).
type NodeCreator func() (pid ids.PID, role ids.Role, moduleHash []byte, err error)

// CreateEmpty provisions and registers n brand-new Ready pool entries.
func (p *Pool) CreateEmpty(n int, create NodeCreator, now func() uint64) AdminResult {
	res := newAdminResult()
	for i := 0; i < n; i++ {
		pid, role, hash, err := create()
		if err != nil {
			p.log.Warnw("pool CreateEmpty: provisioning failed", "error", err)
			continue
		}
		p.RegisterDirect(pid, role, hash, now())
		res.Added++
	}
	return res
}

// ImportImmediate imports a single candidate, classifying a rejection
// into the appropriate skip bucket instead of returning a bare error,
// so batch-oriented callers (ImportQueued) can aggregate uniformly.
func (p *Pool) ImportImmediate(pid ids.PID, now uint64, inRegistry RegistryChecker, probe Importability) AdminResult {
	res := newAdminResult()
	p.classifyAndImport(pid, now, inRegistry, probe, &res)
	return res
}

// ImportQueued imports each of pids, classifying every rejection.
func (p *Pool) ImportQueued(pids []ids.PID, now uint64, inRegistry RegistryChecker, probe Importability) AdminResult {
	res := newAdminResult()
	for _, pid := range pids {
		p.classifyAndImport(pid, now, inRegistry, probe, &res)
	}
	return res
}

func (p *Pool) classifyAndImport(pid ids.PID, now uint64, inRegistry RegistryChecker, probe Importability, res *AdminResult) {
	if inRegistry != nil && inRegistry(pid) {
		res.skip(SkipInRegistry)
		return
	}
	if e, ok := p.Get(pid); ok {
		switch e.Status {
		case Ready:
			res.skip(SkipAlreadyReady)
			return
		case PendingReset:
			res.skip(SkipAlreadyPending)
			return
		case Failed:
			res.skip(SkipAlreadyFailed)
			return
		}
	}
	if probe != nil {
		if err := probe(pid); err != nil {
			res.skip(SkipNonImportableLocal)
			return
		}
	}
	p.mu.Lock()
	p.insert(pid, Entry{Status: PendingReset, CreatedAt: now})
	p.mu.Unlock()
	res.Added++
}

// RequeueFailed moves Failed entries back to PendingReset. If pids is
// empty, every currently Failed entry is requeued.
func (p *Pool) RequeueFailed(pids []ids.PID) AdminResult {
	res := newAdminResult()

	p.mu.Lock()
	defer p.mu.Unlock()

	targets := pids
	if len(targets) == 0 {
		for pid, e := range p.entries {
			if e.Status == Failed {
				targets = append(targets, pid)
			}
		}
	}

	for _, pid := range targets {
		e, ok := p.entries[pid]
		if !ok || e.Status != Failed {
			res.skip(SkipAlreadyPending)
			continue
		}
		e.Status = PendingReset
		e.FailReason = ""
		p.entries[pid] = e
		res.Requeued++
	}
	return res
}

// RecycleAdmin wraps Recycle with the same AdminResult shape as the
// other admin commands, for a uniform dispatch surface at the RPC edge.
func (p *Pool) RecycleAdmin(pid ids.PID, role ids.Role, moduleHash []byte, now uint64, resetFn func(ids.PID) error) AdminResult {
	res := newAdminResult()
	if err := p.Recycle(pid, role, moduleHash, now, resetFn); err != nil {
		res.skip(SkipNonImportableLocal)
		return res
	}
	res.Added++
	return res
}
