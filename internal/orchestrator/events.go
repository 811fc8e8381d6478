package orchestrator

import (
	"bytes"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/ids"
	"github.com/dreamware/canic/internal/registry"
)

// applyCreate implements spec §4.4 Create: verify parent exists,
// create-and-install externally, register in C1, cascade targeted at
// the new node.
func (o *Orchestrator) applyCreate(ev Event) (Result, error) {
	if err := ev.Role.Validate(); err != nil {
		return Result{}, canicerr.Wrap(canicerr.InputValidation, err, "create: invalid role")
	}

	if _, ok := o.reg.Get(ev.ParentPID); !ok && ev.ParentPID != o.rootPID {
		return Result{}, canicerr.New(canicerr.Invariant, "create: parent does not exist", canicerr.F("parent", ev.ParentPID.String()))
	}

	newPID, moduleHash, err := o.runtime.CreateAndInstall(ev.Role, ev.ParentPID, ev.ExtraArg)
	if err != nil {
		return Result{}, canicerr.Wrap(canicerr.TransportOrIO, err, "create_and_install_canister failed")
	}

	if o.pool.Contains(newPID) {
		return Result{}, canicerr.New(canicerr.Invariant, "create: newly created node must not be in the pool", canicerr.F("pid", newPID.String()))
	}

	o.reg.Register(newPID, ev.Role, ev.ParentPID, moduleHash, registry.NowMillis())

	res, err := o.cascadeAll(ev.Role, &newPID)
	if err != nil {
		return res, err
	}
	res.NewCanisterPID = &newPID
	return res, nil
}

// applyDelete implements spec §4.4 Delete: snapshot before the
// destructive call, require the target to be a leaf, delete
// externally, remove from C1, cascade targeted at the old parent.
func (o *Orchestrator) applyDelete(ev Event) (Result, error) {
	entry, ok := o.reg.Get(ev.PID)
	if !ok {
		return Result{}, registry.ErrEntryNotFound(ev.PID)
	}
	if entry.ParentPID == nil {
		return Result{}, canicerr.New(canicerr.Invariant, "delete: the ROOT entry cannot be deleted")
	}
	parentPID := *entry.ParentPID
	role := entry.Role

	if o.reg.SubtreeSize(ev.PID) != 1 {
		return Result{}, canicerr.New(canicerr.Invariant, "delete: target is not a leaf", canicerr.F("pid", ev.PID.String()))
	}

	if err := o.runtime.Delete(ev.PID); err != nil {
		return Result{}, canicerr.Wrap(canicerr.TransportOrIO, err, "delete_canister failed")
	}
	o.reg.Remove(ev.PID)

	return o.cascadeAll(role, topologyTargetFor(parentPID, o.rootPID))
}

// applyUpgrade implements spec §4.4 Upgrade: read the entry, fetch the
// WASM for its role, assert it is not in the pool, upgrade externally,
// update the module hash, and assert the result matches the WASM
// digest. No cascade is triggered — an upgrade changes neither
// topology nor directory membership.
func (o *Orchestrator) applyUpgrade(ev Event) (Result, error) {
	entry, ok := o.reg.Get(ev.PID)
	if !ok {
		return Result{}, registry.ErrEntryNotFound(ev.PID)
	}
	if entry.ParentPID != nil {
		if _, parentExists := o.reg.Get(*entry.ParentPID); !parentExists && *entry.ParentPID != o.rootPID {
			return Result{}, canicerr.New(canicerr.Invariant, "upgrade: parent no longer exists", canicerr.F("parent", entry.ParentPID.String()))
		}
	}
	if o.pool.Contains(ev.PID) {
		return Result{}, canicerr.New(canicerr.Invariant, "upgrade: target must not be in the pool")
	}

	wasmHash, err := o.runtime.WASMHashFor(entry.Role)
	if err != nil {
		return Result{}, canicerr.Wrap(canicerr.TransportOrIO, err, "failed to fetch WASM for role", canicerr.F("role", string(entry.Role)))
	}

	newHash, err := o.runtime.Upgrade(ev.PID, entry.Role)
	if err != nil {
		return Result{}, canicerr.Wrap(canicerr.TransportOrIO, err, "upgrade_canister failed")
	}
	o.reg.UpdateModuleHash(ev.PID, newHash)

	if !bytes.Equal(newHash, wasmHash) {
		return Result{}, canicerr.New(canicerr.Invariant, "upgrade: resulting module hash does not match WASM digest", canicerr.F("pid", ev.PID.String()))
	}

	return Result{}, nil
}

// applyReinstall implements spec §4.4 Reinstall: identical preflight
// to Upgrade, plus a ROOT-role ban, building an init payload from
// (role, parent_pid), and issuing an install in Reinstall mode rather
// than a plain upgrade.
func (o *Orchestrator) applyReinstall(ev Event) (Result, error) {
	entry, ok := o.reg.Get(ev.PID)
	if !ok {
		return Result{}, registry.ErrEntryNotFound(ev.PID)
	}
	if entry.IsRoot() {
		return Result{}, canicerr.New(canicerr.Invariant, "reinstall: not permitted for ROOT")
	}
	if entry.ParentPID == nil {
		return Result{}, canicerr.New(canicerr.Invariant, "reinstall: target has no parent on record")
	}
	if _, parentExists := o.reg.Get(*entry.ParentPID); !parentExists && *entry.ParentPID != o.rootPID {
		return Result{}, canicerr.New(canicerr.Invariant, "reinstall: parent no longer exists")
	}
	if o.pool.Contains(ev.PID) {
		return Result{}, canicerr.New(canicerr.Invariant, "reinstall: target must not be in the pool")
	}

	wasmHash, err := o.runtime.WASMHashFor(entry.Role)
	if err != nil {
		return Result{}, canicerr.Wrap(canicerr.TransportOrIO, err, "failed to fetch WASM for role")
	}

	newHash, err := o.runtime.Reinstall(ev.PID, entry.Role, *entry.ParentPID)
	if err != nil {
		return Result{}, canicerr.Wrap(canicerr.TransportOrIO, err, "reinstall_canister failed")
	}
	o.reg.UpdateModuleHash(ev.PID, newHash)

	if !bytes.Equal(newHash, wasmHash) {
		return Result{}, canicerr.New(canicerr.Invariant, "reinstall: resulting module hash does not match WASM digest")
	}

	return Result{}, nil
}

// applyAdoptPool implements spec §4.4 AdoptPool: export the node from
// the pool, validate its stored hash against the current WASM for its
// role, register it in C1, install it, and roll back to the pool on
// any failure along the way.
func (o *Orchestrator) applyAdoptPool(ev Event) (Result, error) {
	if !o.pool.Contains(ev.PID) {
		return Result{}, canicerr.New(canicerr.Invariant, "adopt_pool: target is not in the pool", canicerr.F("pid", ev.PID.String()))
	}
	if _, ok := o.reg.Get(ev.ParentPID); !ok && ev.ParentPID != o.rootPID {
		return Result{}, canicerr.New(canicerr.Invariant, "adopt_pool: parent does not exist")
	}

	role, storedHash, err := o.pool.Export(ev.PID)
	if err != nil {
		return Result{}, err
	}

	if role.IsRoot() {
		o.pool.Return(ev.PID, role, storedHash, registry.NowMillis())
		return Result{}, canicerr.New(canicerr.Invariant, "adopt_pool: cannot adopt a ROOT-role node")
	}

	wasmHash, err := o.runtime.WASMHashFor(role)
	if err != nil {
		o.pool.Return(ev.PID, role, storedHash, registry.NowMillis())
		return Result{}, canicerr.Wrap(canicerr.TransportOrIO, err, "failed to fetch WASM for role")
	}
	if !bytes.Equal(wasmHash, storedHash) {
		o.pool.Return(ev.PID, role, storedHash, registry.NowMillis())
		return Result{}, canicerr.New(canicerr.Invariant, "adopt_pool: stored module hash does not match current WASM", canicerr.F("pid", ev.PID.String()))
	}

	o.reg.Register(ev.PID, role, ev.ParentPID, storedHash, registry.NowMillis())

	installedHash, err := o.runtime.Reinstall(ev.PID, role, ev.ParentPID)
	if err != nil {
		o.reg.Remove(ev.PID)
		o.pool.Return(ev.PID, role, storedHash, registry.NowMillis())
		return Result{}, canicerr.Wrap(canicerr.TransportOrIO, err, "adopt_pool: install failed, rolled back")
	}
	o.reg.UpdateModuleHash(ev.PID, installedHash)

	if parent, ok := o.reg.GetParent(ev.PID); !ok || parent != ev.ParentPID {
		o.reg.Remove(ev.PID)
		o.pool.Return(ev.PID, role, storedHash, registry.NowMillis())
		return Result{}, canicerr.New(canicerr.Invariant, "adopt_pool: immediate parent mismatch after install")
	}

	res, err := o.cascadeAll(role, &ev.PID)
	if err != nil {
		return res, err
	}
	res.NewCanisterPID = &ev.PID
	return res, nil
}

// applyRecycleToPool implements spec §4.4 RecycleToPool: snapshot
// before destruction, move the node into the pool via a synchronous
// reset, remove it from C1, cascade targeted at its old parent.
func (o *Orchestrator) applyRecycleToPool(ev Event) (Result, error) {
	entry, ok := o.reg.Get(ev.PID)
	if !ok {
		return Result{}, registry.ErrEntryNotFound(ev.PID)
	}
	if entry.ParentPID == nil {
		return Result{}, canicerr.New(canicerr.Invariant, "recycle_to_pool: the ROOT entry cannot be recycled")
	}
	parentPID := *entry.ParentPID
	role := entry.Role
	moduleHash := entry.ModuleHash

	resetFn := func(pid ids.PID) error {
		_, err := o.runtime.Reinstall(pid, role, parentPID)
		return err
	}
	if err := o.pool.Recycle(ev.PID, role, moduleHash, registry.NowMillis(), resetFn); err != nil {
		return Result{}, err
	}
	o.reg.Remove(ev.PID)

	return o.cascadeAll(role, topologyTargetFor(parentPID, o.rootPID))
}
