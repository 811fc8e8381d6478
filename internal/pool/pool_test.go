package pool

import (
	"context"
	"fmt"
	"testing"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterDirectInsertsReady(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")
	p.RegisterDirect(pid, "app", []byte("h"), 1)

	e, ok := p.Get(pid)
	require.True(t, ok)
	assert.Equal(t, Ready, e.Status)
	assert.Equal(t, 1, p.ReadyCount())
}

func TestImportRejectsAlreadyRegistered(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")
	inRegistry := func(ids.PID) bool { return true }

	err := p.Import(pid, 1, inRegistry, nil)
	require.Error(t, err)
	assert.True(t, canicerr.Is(err, canicerr.Conflict))
	assert.False(t, p.Contains(pid))
}

func TestImportMarksPendingReset(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")

	err := p.Import(pid, 1, nil, nil)
	require.NoError(t, err)

	e, ok := p.Get(pid)
	require.True(t, ok)
	assert.Equal(t, PendingReset, e.Status)
}

func TestImportDroppedWhenLocalProbeFails(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")
	failingProbe := func(ids.PID) error { return assert.AnError }

	err := p.Import(pid, 1, nil, failingProbe)
	require.Error(t, err)
	assert.False(t, p.Contains(pid), "a non-importable local candidate must be dropped, not recorded as Failed")
}

func TestRecycleRequiresSynchronousResetAndPreservesIdentity(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")

	err := p.Recycle(pid, "auth", []byte("hash-1"), 5, func(ids.PID) error { return nil })
	require.NoError(t, err)

	e, ok := p.Get(pid)
	require.True(t, ok)
	assert.Equal(t, Ready, e.Status)
	assert.Equal(t, ids.Role("auth"), e.Role)
	assert.Equal(t, []byte("hash-1"), e.ModuleHash)
}

func TestExportRequiresReadyWithRoleAndHash(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")
	p.RegisterDirect(pid, "auth", []byte("hash"), 1)

	role, hash, err := p.Export(pid)
	require.NoError(t, err)
	assert.Equal(t, ids.Role("auth"), role)
	assert.Equal(t, []byte("hash"), hash)
	assert.False(t, p.Contains(pid))
}

func TestExportFailsWhenNotReady(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")
	require.NoError(t, p.Import(pid, 1, nil, nil))

	_, _, err := p.Export(pid)
	require.Error(t, err)
	assert.True(t, canicerr.Is(err, canicerr.Invariant))
}

func TestAdminImportQueuedClassifiesSkipReasons(t *testing.T) {
	p := New(nil)
	already := ids.NewPID("already-ready")
	p.RegisterDirect(already, "app", []byte("h"), 1)

	registered := ids.NewPID("registered")
	fresh := ids.NewPID("fresh")

	inRegistry := func(pid ids.PID) bool { return pid == registered }

	res := p.ImportQueued([]ids.PID{already, registered, fresh}, 2, inRegistry, nil)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.SkipReasons[SkipAlreadyReady])
	assert.Equal(t, 1, res.SkipReasons[SkipInRegistry])
}

func TestRequeueFailedMovesBackToPendingReset(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")
	require.NoError(t, p.Import(pid, 1, nil, nil))
	p.markFailed(pid, "boom")

	res := p.RequeueFailed(nil)
	assert.Equal(t, 1, res.Requeued)

	e, _ := p.Get(pid)
	assert.Equal(t, PendingReset, e.Status)
	assert.Empty(t, e.FailReason)
}

func TestWorkerProcessesOldestPendingFirst(t *testing.T) {
	p := New(nil)
	older := ids.NewPID("older")
	newer := ids.NewPID("newer")
	require.NoError(t, p.Import(older, 1, nil, nil))
	require.NoError(t, p.Import(newer, 2, nil, nil))

	var order []ids.PID
	reset := func(ctx context.Context, pid ids.PID) (uint64, error) {
		order = append(order, pid)
		return 100, nil
	}

	w := NewWorker(p, reset, nil)
	w.Schedule(context.Background())

	require.Len(t, order, 2)
	assert.Equal(t, older, order[0])

	e, _ := p.Get(older)
	assert.Equal(t, Ready, e.Status)
	assert.Equal(t, uint64(100), e.Cycles)
}

func TestWorkerMarksFailedOnResetError(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")
	require.NoError(t, p.Import(pid, 1, nil, nil))

	reset := func(ctx context.Context, pid ids.PID) (uint64, error) {
		return 0, assert.AnError
	}

	w := NewWorker(p, reset, nil)
	w.Schedule(context.Background())

	e, _ := p.Get(pid)
	assert.Equal(t, Failed, e.Status)
	assert.NotEmpty(t, e.FailReason)
}

func TestMinimumSizeLoopTopsUpToDeficit(t *testing.T) {
	p := New(nil)
	var created int
	create := func() (ids.PID, ids.Role, []byte, error) {
		created++
		return ids.NewPID(fmt.Sprintf("created-%d", created)), "app", []byte("h"), nil
	}

	loop := NewMinimumSizeLoop(p, 3, create, func() uint64 { return 1 }, nil)
	loop.Tick()

	assert.Equal(t, 3, created)
	assert.Equal(t, 3, p.ReadyCount())
}

func TestMinimumSizeLoopCapsBurstAtTen(t *testing.T) {
	p := New(nil)
	var created int
	create := func() (ids.PID, ids.Role, []byte, error) {
		created++
		return ids.NewPID(fmt.Sprintf("created-%d", created)), "app", []byte("h"), nil
	}

	loop := NewMinimumSizeLoop(p, 100, create, func() uint64 { return 1 }, nil)
	loop.Tick()

	assert.Equal(t, DefaultMinimumSizeBurst, created)
}

func TestMinimumSizeLoopNoOpWhenAlreadyAtMinimum(t *testing.T) {
	p := New(nil)
	pid := ids.NewPID("a")
	p.RegisterDirect(pid, "app", []byte("h"), 1)

	called := false
	create := func() (ids.PID, ids.Role, []byte, error) {
		called = true
		return ids.PID{}, "", nil, nil
	}

	loop := NewMinimumSizeLoop(p, 1, create, func() uint64 { return 1 }, nil)
	loop.Tick()
	assert.False(t, called)
}
