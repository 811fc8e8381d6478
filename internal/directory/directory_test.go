package directory

import (
	"testing"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/ids"
	"github.com/dreamware/canic/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAppDirectoryPicksConfiguredRoles(t *testing.T) {
	reg := registry.New(nil)
	root := ids.NewPID("root")
	auth := ids.NewPID("auth")
	other := ids.NewPID("other")
	reg.RegisterRoot(root, 1)
	reg.Register(auth, "auth", root, []byte("h"), 2)
	reg.Register(other, "unrelated", root, []byte("h"), 3)

	cfg := Config{AppRoles: map[ids.Role]bool{"auth": true}}
	d := BuildAppDirectory(cfg, reg)

	pid, ok := d.Lookup("auth")
	require.True(t, ok)
	assert.Equal(t, auth, pid)

	_, ok = d.Lookup("unrelated")
	assert.False(t, ok, "unconfigured role must not appear even though it is registered")
}

func TestBuildSubnetDirectoryRestrictedToSingleRoles(t *testing.T) {
	reg := registry.New(nil)
	root := ids.NewPID("root")
	ctl := ids.NewPID("ctl")
	reg.RegisterRoot(root, 1)
	reg.Register(ctl, "controller", root, []byte("h"), 2)

	cfg := Config{SubnetSingleRoles: map[ids.Role]bool{"controller": true}}
	d := BuildSubnetDirectory(cfg, reg)

	pid, ok := d.Lookup("controller")
	require.True(t, ok)
	assert.Equal(t, ctl, pid)
}

func TestDirectoryEqualIgnoresInsertionOrder(t *testing.T) {
	a := New()
	a.Set("x", ids.NewPID("1"))
	a.Set("y", ids.NewPID("2"))

	b := New()
	b.Set("y", ids.NewPID("2"))
	b.Set("x", ids.NewPID("1"))

	assert.True(t, a.Equal(b))
}

func TestDirectoryCloneIsIndependent(t *testing.T) {
	a := New()
	a.Set("x", ids.NewPID("1"))
	clone := a.Clone()
	a.Set("y", ids.NewPID("2"))

	assert.False(t, clone.Equal(a))
	_, ok := clone.Lookup("y")
	assert.False(t, ok)
}

func TestVerifyBuiltMatchesExportedDetectsDivergence(t *testing.T) {
	built := New()
	built.Set("auth", ids.NewPID("new"))

	exported := New()
	exported.Set("auth", ids.NewPID("old"))

	err := VerifyBuiltMatchesExported("app", built, exported)
	require.Error(t, err)
	assert.True(t, canicerr.Is(err, canicerr.Invariant))
}

func TestVerifyBuiltMatchesExportedPassesWhenEqual(t *testing.T) {
	built := New()
	built.Set("auth", ids.NewPID("same"))
	exported := built.Clone()

	err := VerifyBuiltMatchesExported("app", built, exported)
	assert.NoError(t, err)
}

func TestStoreExportedRoundTrip(t *testing.T) {
	s := NewStore()
	d := New()
	d.Set("auth", ids.NewPID("a"))
	s.SetExported(d)

	got := s.Exported()
	assert.True(t, got.Equal(d))

	got.Set("auth", ids.NewPID("mutated"))
	assert.True(t, s.Exported().Equal(d), "mutating a returned snapshot must not affect the store")
}

func TestEntriesSortedByRole(t *testing.T) {
	d := New()
	d.Set("zeta", ids.NewPID("z"))
	d.Set("alpha", ids.NewPID("a"))

	entries := d.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, ids.Role("alpha"), entries[0].Role)
	assert.Equal(t, ids.Role("zeta"), entries[1].Role)
}
