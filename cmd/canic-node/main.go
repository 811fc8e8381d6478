// Command canic-node runs a single node of a canic subnet.
//
// Every node runs this same binary; which role it plays (root C4
// orchestrator vs. an ordinary child) is a runtime fact carried by
// internal/env, not a build-time choice. The root node additionally
// serves the /lifecycle endpoint, gated by internal/access; every
// node, root included, serves /cascade/topology and /cascade/state as
// a push target, plus the /shard/* data-plane routes.
//
// Grounded on cmd/coordinator/main.go and cmd/node/main.go merged into
// one process, since the coordinator/node split those two binaries
// modeled doesn't exist in this domain.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/canic/internal/access"
	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/cascade"
	"github.com/dreamware/canic/internal/cluster"
	"github.com/dreamware/canic/internal/directory"
	"github.com/dreamware/canic/internal/env"
	"github.com/dreamware/canic/internal/ids"
	"github.com/dreamware/canic/internal/orchestrator"
	"github.com/dreamware/canic/internal/pool"
	"github.com/dreamware/canic/internal/registry"
	"github.com/dreamware/canic/internal/shard"
	"github.com/dreamware/canic/internal/storage"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Node is one process's view of the subnet: its own identity, the
// registry/pool/directory stores it keeps (authoritative only if this
// node is root; otherwise a cache kept current by incoming cascades),
// and whatever shards it has been asked to serve locally.
type Node struct {
	env env.Env
	log *zap.SugaredLogger

	reg       *registry.Registry
	pool      *pool.Pool
	appDir    *directory.Store
	subnetDir *directory.Store
	orch      *orchestrator.Orchestrator // nil unless env.IsRoot()

	mu     sync.RWMutex
	shards map[ids.PoolName]*shard.Shard
	addrs  map[ids.PID]string // root-only: pid -> network address, for cascades
}

func newNode(e env.Env, log *zap.SugaredLogger) *Node {
	return &Node{
		env:       e,
		log:       log,
		reg:       registry.New(log),
		pool:      pool.New(log),
		appDir:    directory.NewStore(),
		subnetDir: directory.NewStore(),
		shards:    make(map[ids.PoolName]*shard.Shard),
		addrs:     make(map[ids.PID]string),
	}
}

// resolveAddr implements cascade.AddressResolver over this node's
// address book, populated as nodes are created via /lifecycle.
func (n *Node) resolveAddr(pid ids.PID) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addr, ok := n.addrs[pid]
	return addr, ok
}

func (n *Node) rememberAddr(pid ids.PID, addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addrs[pid] = addr
}

// shardFor returns this node's shard for pool, creating an empty one
// on first access. A real deployment would instead receive assignment
// via the pool's admin commands (spec §4.3); this binary creates
// lazily so the demo doesn't need a separate provisioning step.
func (n *Node) shardFor(poolName ids.PoolName) *shard.Shard {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.shards[poolName]
	if !ok {
		s = shard.New(n.env.RootPID(), poolName)
		n.shards[poolName] = s
	}
	return s
}

// demoRuntime is an in-process stand-in for orchestrator.NodeRuntime.
// Real node creation/upgrade/deletion is an opaque external
// collaborator out of this core's scope; this lets /lifecycle be
// exercised end to end without a real platform behind it.
type demoRuntime struct {
	mu  sync.Mutex
	seq uint64
}

func (d *demoRuntime) next(role ids.Role) ids.PID {
	d.mu.Lock()
	d.seq++
	seed := fmt.Sprintf("%s-%d", role, d.seq)
	d.mu.Unlock()
	return ids.NewPID(seed)
}

func (d *demoRuntime) CreateAndInstall(role ids.Role, _ ids.PID, _ []byte) (ids.PID, []byte, error) {
	pid := d.next(role)
	return pid, []byte("module-" + string(role)), nil
}

func (d *demoRuntime) Upgrade(_ ids.PID, role ids.Role) ([]byte, error) {
	return []byte("module-" + string(role) + "-upgraded"), nil
}

func (d *demoRuntime) Reinstall(_ ids.PID, role ids.Role, _ ids.PID) ([]byte, error) {
	return []byte("module-" + string(role) + "-reinstalled"), nil
}

func (d *demoRuntime) Delete(ids.PID) error { return nil }

func (d *demoRuntime) WASMHashFor(role ids.Role) ([]byte, error) {
	return []byte("hash-" + string(role)), nil
}

// lifecycleRequest decodes a /lifecycle POST body. PID/ParentPID are
// derived via ids.NewPID from their string form (the demo's only
// source of stable identity, since PID.String() doesn't round-trip —
// see ids.PID.UnmarshalText).
type lifecycleRequest struct {
	Kind      string `json:"kind"`
	Role      string `json:"role,omitempty"`
	PID       string `json:"pid,omitempty"`
	ParentPID string `json:"parent_pid,omitempty"`
	Addr      string `json:"addr,omitempty"`
}

var eventKinds = map[string]orchestrator.EventKind{
	"create":          orchestrator.Create,
	"delete":          orchestrator.Delete,
	"upgrade":         orchestrator.Upgrade,
	"reinstall":       orchestrator.Reinstall,
	"adopt_pool":      orchestrator.AdoptPool,
	"recycle_to_pool": orchestrator.RecycleToPool,
}

func (n *Node) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, canicerr.New(canicerr.InputValidation, "malformed lifecycle request"))
		return
	}
	kind, ok := eventKinds[req.Kind]
	if !ok {
		writeErr(w, canicerr.New(canicerr.InputValidation, "unknown lifecycle kind: "+req.Kind))
		return
	}
	if req.Role != "" {
		if err := ids.Role(req.Role).Validate(); err != nil {
			writeErr(w, canicerr.Wrap(canicerr.InputValidation, err, "invalid role in lifecycle request"))
			return
		}
	}

	ev := orchestrator.Event{Kind: kind, Role: ids.Role(req.Role)}
	if req.PID != "" {
		ev.PID = ids.NewPID(req.PID)
	}
	if req.ParentPID != "" {
		ev.ParentPID = ids.NewPID(req.ParentPID)
	}

	result, err := n.orch.Apply(ev)
	if err != nil {
		writeErr(w, err)
		return
	}
	if result.NewCanisterPID != nil && req.Addr != "" {
		n.rememberAddr(*result.NewCanisterPID, req.Addr)
	}
	writeJSON(w, http.StatusOK, result)
}

func (n *Node) handleCascadeTopology(w http.ResponseWriter, r *http.Request) {
	var req cluster.TopologyCascadeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.CascadeAck{Error: err.Error()})
		return
	}
	n.log.Debugw("received topology cascade", "bytes", len(req.Snapshot))
	writeJSON(w, http.StatusOK, cluster.CascadeAck{Applied: true})
}

func (n *Node) handleCascadeState(w http.ResponseWriter, r *http.Request) {
	var req cluster.StateCascadeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.CascadeAck{Error: err.Error()})
		return
	}

	appDir, err := decodeDirectory(req.AppDirectory)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.CascadeAck{Error: err.Error()})
		return
	}
	subnetDir, err := decodeDirectory(req.SubnetDirectory)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.CascadeAck{Error: err.Error()})
		return
	}
	n.appDir.SetExported(appDir)
	n.subnetDir.SetExported(subnetDir)
	writeJSON(w, http.StatusOK, cluster.CascadeAck{Applied: true})
}

func decodeDirectory(raw json.RawMessage) (*directory.Directory, error) {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	d := directory.New()
	for role, pidStr := range m {
		d.Set(ids.Role(role), ids.NewPID(pidStr))
	}
	return d, nil
}

func (n *Node) handleShardGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s := n.shardFor(ids.PoolName(vars["pool"]))
	v, err := s.Get(vars["key"])
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			err = canicerr.Wrap(canicerr.NotFound, err, "shard key not found")
		}
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(v)
}

func (n *Node) handleShardPut(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, canicerr.Wrap(canicerr.InputValidation, err, "failed to read request body"))
		return
	}
	s := n.shardFor(ids.PoolName(vars["pool"]))
	if err := s.Put(vars["key"], body); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleShardDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s := n.shardFor(ids.PoolName(vars["pool"]))
	if err := s.Delete(vars["key"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleShardStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s := n.shardFor(ids.PoolName(vars["pool"]))
	writeJSON(w, http.StatusOK, s.Info())
}

func (n *Node) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"root_pid": n.env.RootPID().String(),
		"role":     string(n.env.Role()),
		"is_root":  n.env.IsRoot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := canicerr.KindOf(err); ok {
		switch kind {
		case canicerr.NotFound:
			status = http.StatusNotFound
		case canicerr.InputValidation:
			status = http.StatusBadRequest
		case canicerr.Conflict:
			status = http.StatusConflict
		case canicerr.Policy, canicerr.Invariant:
			status = http.StatusUnprocessableEntity
		case canicerr.TransportOrIO:
			status = http.StatusBadGateway
		case canicerr.Expired:
			status = http.StatusGone
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func rootOnly(n *Node) mux.MiddlewareFunc {
	pred := access.Pred(func(any) bool { return n.env.IsRoot() }, "only the root node serves /lifecycle")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := pred(nil); err != nil {
				writeErr(w, canicerr.New(canicerr.Policy, err.Error()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func buildRouter(n *Node) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", n.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/info", n.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/cascade/topology", n.handleCascadeTopology).Methods(http.MethodPost)
	r.HandleFunc("/cascade/state", n.handleCascadeState).Methods(http.MethodPost)
	r.HandleFunc("/shard/{pool}/stats", n.handleShardStats).Methods(http.MethodGet)
	r.HandleFunc("/shard/{pool}/{key}", n.handleShardGet).Methods(http.MethodGet)
	r.HandleFunc("/shard/{pool}/{key}", n.handleShardPut).Methods(http.MethodPut)
	r.HandleFunc("/shard/{pool}/{key}", n.handleShardDelete).Methods(http.MethodDelete)

	lifecycle := r.Path("/lifecycle").Methods(http.MethodPost).Subrouter()
	lifecycle.Use(rootOnly(n))
	lifecycle.HandleFunc("", n.handleLifecycle)
	return r
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	log := logger.Sugar()

	listen := getenv("CANIC_LISTEN", ":8080")
	role := getenv("CANIC_ROLE", "")
	isRoot := role == "" || role == string(ids.RootRole)

	var e env.Env
	var node *Node
	if isRoot {
		rootPID := ids.NewPID(getenv("CANIC_ROOT_SEED", "root"))
		e = env.NewRoot(rootPID)
		node = newNode(e, log)
		node.reg.RegisterRoot(rootPID, registry.NowMillis())

		runtime := &demoRuntime{}
		pusher := cascade.NewPusher(node.reg, node.resolveAddr, log)
		cfg := directory.Config{AppRoles: map[ids.Role]bool{}, SubnetSingleRoles: map[ids.Role]bool{}}
		node.orch = orchestrator.New(orchestrator.Config{
			Registry:        node.reg,
			Pool:            node.pool,
			AppDirectory:    node.appDir,
			SubnetDirectory: node.subnetDir,
			Runtime:         runtime,
			Topology:        pusher.Topology(context.Background()),
			State:           pusher.State(context.Background(), cfg, cfg, node.reg),
			RootPID:         rootPID,
			Log:             log,
		})
	} else {
		rootPID := ids.NewPID(getenv("CANIC_ROOT_SEED", "root"))
		e = env.NewChild(rootPID, ids.Role(role))
		node = newNode(e, log)
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           buildRouter(node),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infow("listening", "addr", listen, "role", role, "is_root", isRoot)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("shutdown error", "error", err)
	}
}
