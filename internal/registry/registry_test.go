package registry

import (
	"testing"

	"github.com/dreamware/canic/internal/ids"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRootIdempotent(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")

	r.RegisterRoot(root, 1)
	r.RegisterRoot(root, 2) // second call must be a silent no-op

	e, ok := r.Get(root)
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.CreatedAt)
	assert.True(t, e.IsRoot())
	assert.Nil(t, e.ParentPID)
}

func TestRegisterNonRootRequiresParentAndHash(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")
	child := ids.NewPID("child")
	r.RegisterRoot(root, 1)
	r.Register(child, "app", root, []byte("hash-1"), 2)

	e, ok := r.Get(child)
	require.True(t, ok)
	require.NotNil(t, e.ParentPID)
	assert.Equal(t, root, *e.ParentPID)
	assert.Equal(t, []byte("hash-1"), e.ModuleHash)
}

func TestUpdateModuleHashAbsentReturnsFalse(t *testing.T) {
	r := New(nil)
	ok := r.UpdateModuleHash(ids.NewPID("nope"), []byte("x"))
	assert.False(t, ok)
}

func TestRemoveReturnsEntry(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")
	r.RegisterRoot(root, 1)

	e, ok := r.Remove(root)
	require.True(t, ok)
	assert.True(t, e.IsRoot())

	_, ok = r.Get(root)
	assert.False(t, ok)
}

func TestChildrenOneLevelOnly(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")
	a := ids.NewPID("a")
	b := ids.NewPID("b")
	grandchild := ids.NewPID("gc")
	r.RegisterRoot(root, 1)
	r.Register(a, "app", root, []byte("h"), 2)
	r.Register(b, "app", root, []byte("h"), 3)
	r.Register(grandchild, "app", a, []byte("h"), 4)

	kids := r.Children(root)
	assert.Len(t, kids, 2)

	kidsOfA := r.Children(a)
	assert.Len(t, kidsOfA, 1)
	assert.Equal(t, grandchild, kidsOfA[0].PID)
}

func TestSubtreeIncludesRootAndDescendants(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")
	a := ids.NewPID("a")
	b := ids.NewPID("b")
	c := ids.NewPID("c")
	r.RegisterRoot(root, 1)
	r.Register(a, "app", root, []byte("h"), 2)
	r.Register(b, "app", a, []byte("h"), 3)
	r.Register(c, "app", root, []byte("h"), 4)

	tree := r.Subtree(a)
	var seen []ids.PID
	for _, n := range tree {
		seen = append(seen, n.PID)
	}
	assert.ElementsMatch(t, []ids.PID{a, b}, seen, "subtree(a) must be exactly {a, b}, order unspecified")
}

func TestSubtreeIsCycleSafe(t *testing.T) {
	// Construct a cycle unreachable from root: x -> y -> x. It must
	// never be visited when walking from root, and the walk must
	// still terminate.
	r := New(nil)
	root := ids.NewPID("root")
	x := ids.NewPID("x")
	y := ids.NewPID("y")
	r.RegisterRoot(root, 1)
	r.Register(x, "app", y, []byte("h"), 2)
	r.Register(y, "app", x, []byte("h"), 3)

	tree := r.Subtree(root)
	require.Len(t, tree, 1)
	assert.Equal(t, root, tree[0].PID)
}

func TestSubtreeQueriedFromWithinACycleTerminates(t *testing.T) {
	// a and b point at each other (a corrupted state the store never
	// produces via its own API, but the walk must still terminate and
	// visit each node exactly once when queried starting from a).
	r := New(nil)
	a := ids.NewPID("a")
	b := ids.NewPID("b")
	r.Register(a, "app", b, []byte("h"), 1)
	r.Register(b, "app", a, []byte("h"), 2)

	tree := r.Subtree(a)
	var seen []ids.PID
	for _, n := range tree {
		seen = append(seen, n.PID)
	}
	assert.ElementsMatch(t, []ids.PID{a, b}, seen)
}

func TestSubtreeSizeForLeafCheck(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")
	leaf := ids.NewPID("leaf")
	r.RegisterRoot(root, 1)
	r.Register(leaf, "app", root, []byte("h"), 2)

	assert.Equal(t, 1, r.SubtreeSize(leaf))
	assert.Equal(t, 2, r.SubtreeSize(root))
}

func TestCountByRoleExactlyOneRoot(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")
	r.RegisterRoot(root, 1)
	assert.Equal(t, 1, r.CountByRole(ids.RootRole))
}

func TestByRoleReturnsEveryMatchingNode(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")
	w1 := ids.NewPID("worker-1")
	w2 := ids.NewPID("worker-2")
	app := ids.NewPID("app")
	r.RegisterRoot(root, 1)
	r.Register(w1, "worker", root, []byte("h"), 2)
	r.Register(w2, "worker", root, []byte("h"), 3)
	r.Register(app, "app", root, []byte("h"), 4)

	workers := r.ByRole("worker")
	assert.ElementsMatch(t, []ids.PID{w1, w2}, workers)
}

func TestByRoleEmptyForUnknownRole(t *testing.T) {
	r := New(nil)
	root := ids.NewPID("root")
	r.RegisterRoot(root, 1)
	assert.Empty(t, r.ByRole("nonexistent"))
}
