// Package canicerr implements the error taxonomy of spec §7: every
// fallible path in the core returns one of seven kinds, and the
// orchestrator's propagation policy (fatal vs. retriable vs.
// surfaced-verbatim) branches on Kind rather than on ad hoc string
// matching.
package canicerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed, per spec §7.
type Kind int

const (
	// NotFound: registry/pool entry missing, partition key unassigned,
	// role lookup failed.
	NotFound Kind = iota
	// Invariant: a structural invariant was violated (parent mismatch,
	// root uniqueness, directory divergence, non-empty subtree on
	// delete, pool/registry double membership). Never recovered
	// locally.
	Invariant
	// Policy: an expected, surfaced-verbatim sharding-policy refusal
	// (pool at capacity, no free slots, bootstrap exhausted).
	Policy
	// Conflict: replay slot conflict, root PID immutability, duplicate
	// registration with a different identity.
	Conflict
	// TransportOrIO: an external call failed (creation, install, status
	// probe, cycles deposit). Retriable at a higher layer; the core
	// never retries internally.
	TransportOrIO
	// InputValidation: a bounded-string overflow, unknown pool, or
	// malformed role/key.
	InputValidation
	// Expired: a replay TTL or delegation certificate expired.
	Expired
)

// String renders the kind for logs and error messages.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Invariant:
		return "invariant"
	case Policy:
		return "policy"
	case Conflict:
		return "conflict"
	case TransportOrIO:
		return "transport_or_io"
	case InputValidation:
		return "input_validation"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a message and an optional underlying cause.
// Fields is a small set of structured key/value pairs (pid, role,
// reason, ...) useful for log correlation without forcing callers to
// parse the message string.
type Error struct {
	cause  error
	Fields map[string]any
	Msg    string
	Kind   Kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New constructs an Error of the given kind with no underlying cause.
func New(kind Kind, msg string, fields ...Field) *Error {
	return &Error{Kind: kind, Msg: msg, Fields: collect(fields)}
}

// Wrap constructs an Error of the given kind around cause.
func Wrap(kind Kind, cause error, msg string, fields ...Field) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause, Fields: collect(fields)}
}

// Field is a single structured key/value pair attached to an Error.
type Field struct {
	Key   string
	Value any
}

// F builds a Field; canicerr.New(canicerr.NotFound, "...", canicerr.F("pid", p)).
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

func collect(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// Is reports whether err (or any error it wraps) carries the given
// Kind. Unlike errors.Is, the comparison is on Kind, not identity.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, returning ok=false if err is not a
// *Error (or doesn't wrap one).
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
