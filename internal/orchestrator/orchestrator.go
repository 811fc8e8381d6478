// Package orchestrator implements the root-only lifecycle state
// machine (spec §4.4, C4): the single entry point that applies one of
// six lifecycle events, enforces each event's precondition table,
// mutates the subnet registry (C1) and pool (C3), and triggers the
// topology and directory/state cascades before returning.
//
// Grounded on cmd/coordinator/main.go's handleRegister/autoAssignShards
// (a single entry point mutating shared state under lock, with a
// side-effecting follow-up step) generalized into a full precondition-
// gated state machine per the canonical pool-based orchestrator design
// (see DESIGN.md's Open Questions).
package orchestrator

import (
	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/directory"
	"github.com/dreamware/canic/internal/ids"
	"github.com/dreamware/canic/internal/pool"
	"github.com/dreamware/canic/internal/registry"
	"go.uber.org/zap"
)

// Event is the tagged union of lifecycle events (spec §4.4).
type Event struct {
	Kind      EventKind
	Role      ids.Role
	PID       ids.PID
	ParentPID ids.PID
	ExtraArg  []byte
}

// EventKind discriminates Event.
type EventKind int

const (
	Create EventKind = iota
	Delete
	Upgrade
	Reinstall
	AdoptPool
	RecycleToPool
)

// Result is the outcome of applying an Event (spec §4.4).
type Result struct {
	NewCanisterPID      *ids.PID
	CascadedTopology    bool
	CascadedDirectories bool
}

// NodeRuntime is the opaque external collaborator that actually
// creates, installs, upgrades, and uninstalls nodes on the host
// platform. It is the suspension point of spec §5: every method here
// may block/await, unlike the rest of this package's synchronous
// planning logic.
type NodeRuntime interface {
	CreateAndInstall(role ids.Role, parent ids.PID, extraArg []byte) (ids.PID, []byte, error)
	Upgrade(pid ids.PID, role ids.Role) (newModuleHash []byte, err error)
	Reinstall(pid ids.PID, role ids.Role, parent ids.PID) (newModuleHash []byte, err error)
	Delete(pid ids.PID) error
	WASMHashFor(role ids.Role) ([]byte, error)
}

// TopologyCascade pushes a targeted topology update rooted at target
// down the subtree (spec §4.4 cascade_all step 1). Root is never a
// cascade target, enforced by callers before invoking this.
type TopologyCascade func(target ids.PID) error

// StateCascade rebuilds both directories and pushes them to the nodes
// holding role (spec §4.4 cascade_all step 2); no app state is sent
// with them. It returns the freshly built app and subnet directories so the
// orchestrator can run the post-cascade divergence check.
type StateCascade func(role ids.Role) (app, subnet *directory.Directory, err error)

// Orchestrator is the root-only lifecycle state machine. It owns no
// storage of its own: every store it touches (registry, pool,
// directories) is injected, so the same orchestrator logic can run
// against a real node's stores or a test harness's.
type Orchestrator struct {
	reg          *registry.Registry
	pool         *pool.Pool
	dirStore     *directory.Store
	subnetDir    *directory.Store
	runtime      NodeRuntime
	topology     TopologyCascade
	state        StateCascade
	rootPID      ids.PID
	log          *zap.SugaredLogger
}

// Config bundles an Orchestrator's collaborators for New.
type Config struct {
	Registry        *registry.Registry
	Pool            *pool.Pool
	AppDirectory    *directory.Store
	SubnetDirectory *directory.Store
	Runtime         NodeRuntime
	Topology        TopologyCascade
	State           StateCascade
	RootPID         ids.PID
	Log             *zap.SugaredLogger
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		reg:       cfg.Registry,
		pool:      cfg.Pool,
		dirStore:  cfg.AppDirectory,
		subnetDir: cfg.SubnetDirectory,
		runtime:   cfg.Runtime,
		topology:  cfg.Topology,
		state:     cfg.State,
		rootPID:   cfg.RootPID,
		log:       log,
	}
}

// Apply dispatches ev to the matching lifecycle handler (spec §4.4).
func (o *Orchestrator) Apply(ev Event) (Result, error) {
	switch ev.Kind {
	case Create:
		return o.applyCreate(ev)
	case Delete:
		return o.applyDelete(ev)
	case Upgrade:
		return o.applyUpgrade(ev)
	case Reinstall:
		return o.applyReinstall(ev)
	case AdoptPool:
		return o.applyAdoptPool(ev)
	case RecycleToPool:
		return o.applyRecycleToPool(ev)
	default:
		return Result{}, canicerr.New(canicerr.InputValidation, "unknown lifecycle event kind")
	}
}

// cascadeAll implements the cascade_all contract of spec §4.4: a
// targeted topology cascade (if topologyTarget is non-nil and not
// root), then a role-scoped directory rebuild, state push, and
// post-cascade divergence check (if role is non-empty).
func (o *Orchestrator) cascadeAll(role ids.Role, topologyTarget *ids.PID) (Result, error) {
	var res Result

	if topologyTarget != nil && *topologyTarget != o.rootPID {
		if err := o.topology(*topologyTarget); err != nil {
			return res, canicerr.Wrap(canicerr.TransportOrIO, err, "topology cascade failed")
		}
		res.CascadedTopology = true
	}

	if role != "" {
		builtApp, builtSubnet, err := o.state(role)
		if err != nil {
			return res, canicerr.Wrap(canicerr.TransportOrIO, err, "state cascade failed")
		}
		res.CascadedDirectories = true

		// The state cascade has already pushed builtApp/builtSubnet to
		// every affected node; exporting locally here is this node's own
		// copy of that same push, not a separate step gated on the check
		// below. Export before verifying: the verify asserts the export
		// path itself is correct (a broken Clone/SetExported would show
		// up as a mismatch here), it does not compare against whatever
		// this node happened to have exported before the event.
		o.dirStore.SetExported(builtApp)
		o.subnetDir.SetExported(builtSubnet)

		if err := directory.VerifyBuiltMatchesExported("app", builtApp, o.dirStore.Exported()); err != nil {
			return res, err
		}
		if err := directory.VerifyBuiltMatchesExported("subnet", builtSubnet, o.subnetDir.Exported()); err != nil {
			return res, err
		}
	}

	return res, nil
}

// topologyTargetFor computes the cascade_all topology_target for a
// destructive event: parent_pid unless that parent is root, in which
// case no targeted cascade is needed (root never receives a topology
// push — spec §4.4 Delete/RecycleToPool outline).
func topologyTargetFor(parent, root ids.PID) *ids.PID {
	if parent == root {
		return nil
	}
	p := parent
	return &p
}
