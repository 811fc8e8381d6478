package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dreamware/canic/internal/cascade"
	"github.com/dreamware/canic/internal/directory"
	"github.com/dreamware/canic/internal/env"
	"github.com/dreamware/canic/internal/ids"
	"github.com/dreamware/canic/internal/orchestrator"
	"go.uber.org/zap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRootNode mirrors main()'s root-wiring block so tests that
// route real /lifecycle requests through the router exercise the same
// orchestrator wiring a running node would have, not a nil *orch.
func newTestRootNode(t *testing.T) *Node {
	t.Helper()
	rootPID := ids.NewPID("test-root")
	log := zap.NewNop().Sugar()
	n := newNode(env.NewRoot(rootPID), log)
	n.reg.RegisterRoot(rootPID, 1)

	runtime := &demoRuntime{}
	pusher := cascade.NewPusher(n.reg, n.resolveAddr, log)
	cfg := directory.Config{AppRoles: map[ids.Role]bool{}, SubnetSingleRoles: map[ids.Role]bool{}}
	n.orch = orchestrator.New(orchestrator.Config{
		Registry:        n.reg,
		Pool:            n.pool,
		AppDirectory:    n.appDir,
		SubnetDirectory: n.subnetDir,
		Runtime:         runtime,
		Topology:        pusher.Topology(context.Background()),
		State:           pusher.State(context.Background(), cfg, cfg, n.reg),
		RootPID:         rootPID,
		Log:             log,
	})
	return n
}

func TestHealthAndInfo(t *testing.T) {
	n := newTestRootNode(t)
	router := buildRouter(n)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, true, info["is_root"])
}

func TestShardPutGetDelete(t *testing.T) {
	n := newTestRootNode(t)
	router := buildRouter(n)

	put := httptest.NewRequest(http.MethodPut, "/shard/cache/k1", bytes.NewBufferString("hello"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, put)
	require.Equal(t, http.StatusNoContent, rec.Code)

	get := httptest.NewRequest(http.MethodGet, "/shard/cache/k1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, get)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	del := httptest.NewRequest(http.MethodDelete, "/shard/cache/k1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, del)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/shard/cache/k1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleRootOnly(t *testing.T) {
	child := newNode(env.NewChild(ids.NewPID("test-root"), "app"), zap.NewNop().Sugar())
	router := buildRouter(child)

	body, _ := json.Marshal(lifecycleRequest{Kind: "create", Role: "app"})
	req := httptest.NewRequest(http.MethodPost, "/lifecycle", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLifecycleCreateOnRoot(t *testing.T) {
	n := newTestRootNode(t)
	router := buildRouter(n)

	body, _ := json.Marshal(lifecycleRequest{Kind: "create", Role: "app", Addr: "127.0.0.1:9001"})
	req := httptest.NewRequest(http.MethodPost, "/lifecycle", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCascadeTopologyAck(t *testing.T) {
	n := newTestRootNode(t)
	router := buildRouter(n)

	body, _ := json.Marshal(map[string]any{"snapshot": json.RawMessage(`{"a":"app"}`)})
	req := httptest.NewRequest(http.MethodPost, "/cascade/topology", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCascadeStateUpdatesDirectories(t *testing.T) {
	n := newTestRootNode(t)
	router := buildRouter(n)

	appRaw, _ := json.Marshal(map[string]string{"app": ids.NewPID("app-1").String()})
	subnetRaw, _ := json.Marshal(map[string]string{"scale-0": ids.NewPID("subnet-1").String()})
	body, _ := json.Marshal(map[string]json.RawMessage{
		"app_directory":    appRaw,
		"subnet_directory": subnetRaw,
	})

	req := httptest.NewRequest(http.MethodPost, "/cascade/state", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := n.appDir.Exported().Lookup("app")
	assert.True(t, ok)
}
