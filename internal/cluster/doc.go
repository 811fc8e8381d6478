// Package cluster implements the inter-node HTTP/JSON transport that
// carries topology and state cascades down a canic subnet tree.
//
// # Overview
//
// Unlike a flat coordinator/node cluster, a canic subnet has no single
// hub: every node runs the same binary (cmd/canic-node) and can be
// root, an intermediate node, or a leaf, determined at runtime by
// internal/env. What every node shares is the need to push a cascade
// to the nodes below it and receive acks back, and to probe a
// pool candidate's reachability before admitting it. This package
// supplies exactly those two primitives (PostJSON/GetJSON) and the
// envelope types that travel over them; internal/cascade builds the
// push-down-subtree algorithm on top.
//
// # Communication Protocol
//
// Topology cascade (POST /cascade/topology):
//   - The pusher sends a TopologyCascadeRequest to every node of the
//     target subtree directly; a receiving node acks it and does not
//     forward it further.
//
// State cascade (POST /cascade/state):
//   - Carries a freshly rebuilt app/subnet directory pair, pushed to
//     every node whose role matches.
//
// Both return a CascadeAck; per-child failures are collected by the
// caller rather than aborting the remaining fan-out (internal/cascade's
// pushToNodes).
package cluster
