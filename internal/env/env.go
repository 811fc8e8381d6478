// Package env holds the small set of facts a node learns exactly once
// at creation and never again: its own root PID and its own role
// (spec §4.1, §6). Both are write-once by construction — there is no
// setter, only a constructor — because higher layers (such as the
// access predicate gating the /lifecycle route) depend on these values
// never moving under them once a node is live.
package env

import "github.com/dreamware/canic/internal/ids"

// Env is the immutable identity record a node carries for its entire
// lifetime. RootPID is the PID of the one ROOT entry reachable from
// this node's subnet; Role is this node's own registered role.
type Env struct {
	rootPID ids.PID
	role    ids.Role
	isRoot  bool
}

// NewRoot constructs the Env for the distinguished root node itself.
func NewRoot(pid ids.PID) Env {
	return Env{rootPID: pid, role: ids.RootRole, isRoot: true}
}

// NewChild constructs the Env for a non-root node, given the root PID
// it was created under and its own assigned role.
func NewChild(rootPID ids.PID, role ids.Role) Env {
	return Env{rootPID: rootPID, role: role}
}

// RootPID returns the root PID this node was created under.
func (e Env) RootPID() ids.PID {
	return e.rootPID
}

// Role returns this node's own role.
func (e Env) Role() ids.Role {
	return e.role
}

// IsRoot reports whether this node is the root orchestrator itself.
func (e Env) IsRoot() bool {
	return e.isRoot
}
