// Package cascade implements the topology and state pushes of spec
// §4.4's cascade_all contract: after a lifecycle event, the
// orchestrator needs a TopologyCascade and a StateCascade function to
// hand to internal/orchestrator.Config. This package builds both on
// top of the subnet registry, the directory builders, and
// internal/cluster's HTTP transport.
//
// Grounded on cmd/coordinator/main.go's handleBroadcast: take a
// snapshot of targets under the registry's lock, then fan the push out
// without holding it, continuing past any single node's failure rather
// than aborting the whole cascade. The teacher broadcasts to every
// registered node; this package narrows that to the subtree or
// role-scoped node set a given cascade actually needs to reach, since
// canic's topology is a tree rather than a flat cluster.
package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/cluster"
	"github.com/dreamware/canic/internal/directory"
	"github.com/dreamware/canic/internal/ids"
	"github.com/dreamware/canic/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// AddressResolver maps a node's principal to the HTTP address it can
// be reached at. The orchestrator doesn't know this mapping (the
// registry stores identity and parentage, not network location), so
// it is supplied separately at wiring time — in production, by
// whatever component recorded each node's address on registration.
type AddressResolver func(pid ids.PID) (addr string, ok bool)

// FailedPush records one node that rejected or never received a
// cascade push.
type FailedPush struct {
	PID ids.PID
	Err error
}

// pushToNodes fans a POST of body to path out to every pid in pids
// concurrently, resolving addresses via resolve and continuing past
// any single node's failure. It returns every node that failed.
func pushToNodes(ctx context.Context, resolve AddressResolver, log *zap.SugaredLogger, path string, pids []ids.PID, body any) []FailedPush {
	var mu sync.Mutex
	var failed []FailedPush
	var wg sync.WaitGroup

	for _, pid := range pids {
		pid := pid
		addr, ok := resolve(pid)
		if !ok {
			mu.Lock()
			failed = append(failed, FailedPush{PID: pid, Err: fmt.Errorf("no known address for %s", pid.String())})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			url := "http://" + addr + path
			var ack cluster.CascadeAck
			err := cluster.PostJSON(ctx, url, body, &ack)
			if err == nil && ack.Error != "" {
				err = fmt.Errorf("node rejected cascade: %s", ack.Error)
			}
			if err != nil {
				log.Warnw("cascade push failed", "pid", pid.String(), "path", path, "error", err)
				mu.Lock()
				failed = append(failed, FailedPush{PID: pid, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	slices.SortFunc(failed, func(a, b FailedPush) int {
		switch {
		case a.PID.Less(b.PID):
			return -1
		case b.PID.Less(a.PID):
			return 1
		default:
			return 0
		}
	})
	return failed
}

func failuresErr(kind string, failed []FailedPush) error {
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.PID.String(), f.Err))
	}
	return canicerr.New(canicerr.TransportOrIO,
		fmt.Sprintf("%s cascade failed on %d node(s): %s", kind, len(failed), strings.Join(parts, "; ")),
	)
}

// Pusher bundles the registry and address resolver a cascade needs to
// turn a lifecycle event's targets into HTTP pushes.
type Pusher struct {
	reg     *registry.Registry
	resolve AddressResolver
	log     *zap.SugaredLogger
}

// NewPusher constructs a Pusher.
func NewPusher(reg *registry.Registry, resolve AddressResolver, log *zap.SugaredLogger) *Pusher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pusher{reg: reg, resolve: resolve, log: log}
}

// Topology returns an orchestrator.TopologyCascade: pushing a
// TopologyCascadeRequest to every node in target's subtree (target
// included), built from the registry's own view of that subtree so no
// out-of-band topology snapshot needs to be threaded through the
// orchestrator.
func (p *Pusher) Topology(ctx context.Context) func(target ids.PID) error {
	return func(target ids.PID) error {
		nodes := p.reg.Subtree(target)
		pids := make([]ids.PID, 0, len(nodes))
		snapshot := make(map[string]string, len(nodes))
		for _, n := range nodes {
			pids = append(pids, n.PID)
			role := string(n.Summary.Role)
			if n.Summary.ParentPID != nil {
				snapshot[n.PID.String()] = role + "@" + n.Summary.ParentPID.String()
			} else {
				snapshot[n.PID.String()] = role
			}
		}
		raw, err := json.Marshal(snapshot)
		if err != nil {
			return canicerr.Wrap(canicerr.TransportOrIO, err, "failed to marshal topology snapshot")
		}

		req := cluster.TopologyCascadeRequest{Snapshot: raw}
		failed := pushToNodes(ctx, p.resolve, p.log, "/cascade/topology", pids, req)
		return failuresErr("topology", failed)
	}
}

// State returns an orchestrator.StateCascade: rebuilding the app and
// subnet directories from the registry, pushing a StateCascadeRequest
// to every node currently holding role, and handing the freshly built
// directories back so the caller can run its divergence check.
func (p *Pusher) State(ctx context.Context, appCfg, subnetCfg directory.Config, primeReg *registry.Registry) func(role ids.Role) (*directory.Directory, *directory.Directory, error) {
	return func(role ids.Role) (*directory.Directory, *directory.Directory, error) {
		appDir := directory.BuildAppDirectory(appCfg, primeReg)
		subnetDir := directory.BuildSubnetDirectory(subnetCfg, p.reg)

		appRaw, err := json.Marshal(directoryJSON(appDir))
		if err != nil {
			return appDir, subnetDir, canicerr.Wrap(canicerr.TransportOrIO, err, "failed to marshal app directory")
		}
		subnetRaw, err := json.Marshal(directoryJSON(subnetDir))
		if err != nil {
			return appDir, subnetDir, canicerr.Wrap(canicerr.TransportOrIO, err, "failed to marshal subnet directory")
		}

		req := cluster.StateCascadeRequest{
			Role:            string(role),
			AppDirectory:    appRaw,
			SubnetDirectory: subnetRaw,
		}

		targets := p.reg.ByRole(role)
		failed := pushToNodes(ctx, p.resolve, p.log, "/cascade/state", targets, req)
		return appDir, subnetDir, failuresErr("state", failed)
	}
}

// directoryJSON renders a Directory as a plain role->pid map, the wire
// shape StateCascadeRequest carries (Directory itself stays opaque
// outside this package's JSON boundary, per spec §3's read-only-view
// framing).
func directoryJSON(d *directory.Directory) map[string]string {
	out := make(map[string]string)
	for _, e := range d.Entries() {
		out[string(e.Role)] = e.PID.String()
	}
	return out
}
