// Package directory implements the two derived, read-only views of
// spec §4.2 (C2): the app directory (roles drawn from the PRIME
// subnet) and the subnet directory (single-cardinality roles local to
// a subnet). Both are fully rebuildable from the subnet registry plus
// static configuration, and both are re-verified against their
// persisted ("exported") copy after every lifecycle cascade — a
// mismatch is a fatal Invariant error, never silently repaired.
package directory

import (
	"fmt"
	"sort"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/dreamware/canic/internal/ids"
	"github.com/dreamware/canic/internal/registry"
	"github.com/google/go-cmp/cmp"
)

// Entry is a single (role, pid) directory row (spec §3).
type Entry struct {
	Role ids.Role
	PID  ids.PID
}

// Config names which roles populate each directory flavor. AppRoles
// names roles drawn from the PRIME subnet for the app directory;
// SubnetSingleRoles names the subset of a subnet's roles that have
// Single cardinality (at most one instance per subnet) and therefore
// qualify for the subnet directory.
type Config struct {
	AppRoles          map[ids.Role]bool
	SubnetSingleRoles map[ids.Role]bool
}

// Directory is a set of Entry, with set semantics (no duplicate role,
// since both flavors only ever hold cardinality-bounded roles).
type Directory struct {
	entries map[ids.Role]ids.PID
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{entries: make(map[ids.Role]ids.PID)}
}

// Set installs (role, pid), overwriting any prior pid for role.
func (d *Directory) Set(role ids.Role, pid ids.PID) {
	d.entries[role] = pid
}

// Lookup returns the pid registered for role, if any.
func (d *Directory) Lookup(role ids.Role) (ids.PID, bool) {
	pid, ok := d.entries[role]
	return pid, ok
}

// Entries returns a sorted (by role) snapshot, for stable iteration
// and diffing — order must never be a correctness dependency in
// callers (spec §9), so this exists only for deterministic display.
func (d *Directory) Entries() []Entry {
	out := make([]Entry, 0, len(d.entries))
	for role, pid := range d.entries {
		out = append(out, Entry{Role: role, PID: pid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// Clone returns a deep copy, used to snapshot an "exported" directory
// separately from a freshly rebuilt one before comparing them.
func (d *Directory) Clone() *Directory {
	out := New()
	for role, pid := range d.entries {
		out.entries[role] = pid
	}
	return out
}

// Equal reports whether two directories hold identical (role, pid) sets.
func (d *Directory) Equal(other *Directory) bool {
	return len(diffMaps(d.entries, other.entries)) == 0
}

// Diff renders a human-readable difference between d and other, for
// embedding in AppDirectoryDiverged/SubnetDirectoryDiverged errors.
// Uses go-cmp so an operator sees exactly which roles disagree instead
// of a bare "not equal."
func (d *Directory) Diff(other *Directory) string {
	return cmp.Diff(d.entries, other.entries)
}

func diffMaps(a, b map[ids.Role]ids.PID) []string {
	var mismatches []string
	seen := make(map[ids.Role]bool, len(a)+len(b))
	for role := range a {
		seen[role] = true
	}
	for role := range b {
		seen[role] = true
	}
	for role := range seen {
		if a[role] != b[role] {
			mismatches = append(mismatches, string(role))
		}
	}
	return mismatches
}

// BuildAppDirectory rebuilds the app directory from the registry: for
// every role in cfg.AppRoles, the first entry with that role found in
// the PRIME subnet's registry populates the directory (spec §4.2). The
// registry passed in must be the PRIME subnet's registry — multi-subnet
// wiring is the cascade layer's job, not this package's.
func BuildAppDirectory(cfg Config, primeReg *registry.Registry) *Directory {
	d := New()
	for role := range cfg.AppRoles {
		if pid, _, ok := primeReg.FindFirstByRole(role); ok {
			d.Set(role, pid)
		}
	}
	return d
}

// BuildSubnetDirectory rebuilds the subnet directory from this node's
// own subnet registry, restricted to single-cardinality roles.
func BuildSubnetDirectory(cfg Config, subnetReg *registry.Registry) *Directory {
	d := New()
	for role := range cfg.SubnetSingleRoles {
		if pid, _, ok := subnetReg.FindFirstByRole(role); ok {
			d.Set(role, pid)
		}
	}
	return d
}

// Store holds the persisted ("exported") copy of a directory on this
// node, separate from whatever BuildApp/SubnetDirectory recomputes on
// demand — the two are compared after every cascade (spec §4.2).
type Store struct {
	exported *Directory
}

// NewStore returns a Store with an empty exported directory.
func NewStore() *Store {
	return &Store{exported: New()}
}

// Exported returns the currently persisted directory.
func (s *Store) Exported() *Directory {
	return s.exported.Clone()
}

// SetExported overwrites the persisted directory, typically with the
// freshly rebuilt one once a cascade's divergence check has passed.
func (s *Store) SetExported(d *Directory) {
	s.exported = d.Clone()
}

// VerifyBuiltMatchesExported is the post-cascade invariant check of
// spec §4.2/§4.4: built must equal exported, or the cascade is
// quarantined. kind names which directory (for the error message) —
// "app" or "subnet".
func VerifyBuiltMatchesExported(kind string, built, exported *Directory) error {
	if built.Equal(exported) {
		return nil
	}
	return canicerr.New(canicerr.Invariant,
		fmt.Sprintf("%s directory diverged from exported copy: %s", kind, built.Diff(exported)),
		canicerr.F("directory", kind),
	)
}
