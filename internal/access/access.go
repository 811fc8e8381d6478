// Package access implements the boolean predicate combinators used to
// gate privileged operations (spec §6). Its one caller today is the
// root-only /lifecycle route in cmd/canic-node; the combinators can
// compose any set of independent checks into one verdict.
//
// Every combinator short-circuits, and an empty All or Any is treated
// as a configuration mistake rather than a vacuous pass/fail — it
// returns the dedicated "no rules" error instead of silently granting
// or denying access, since a caller that meant to write a real rule
// and forgot would otherwise get an always-true or always-false policy
// with no signal that anything was wrong.
package access

import "github.com/dreamware/canic/internal/canicerr"

// Predicate evaluates a single access check against ctx, returning an
// error describing why access was denied (any non-nil error is a
// denial; callers should not inspect Kind to mean "allowed").
type Predicate func(ctx any) error

// ErrNoRules is returned by All and Any when called with zero predicates.
var ErrNoRules = canicerr.New(canicerr.Policy, "no rules supplied to predicate combinator")

// Pred wraps a plain bool-returning check into a Predicate, attaching
// msg as the denial reason when check returns false.
func Pred(check func(ctx any) bool, msg string) Predicate {
	return func(ctx any) error {
		if check(ctx) {
			return nil
		}
		return canicerr.New(canicerr.Policy, msg)
	}
}

// All requires every predicate to pass, short-circuiting on the first
// failure. Calling All with no predicates returns ErrNoRules.
func All(preds ...Predicate) Predicate {
	return func(ctx any) error {
		if len(preds) == 0 {
			return ErrNoRules
		}
		for _, p := range preds {
			if err := p(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any requires at least one predicate to pass, short-circuiting on the
// first success. Calling Any with no predicates returns ErrNoRules. If
// every predicate fails, the last predicate's error is returned.
func Any(preds ...Predicate) Predicate {
	return func(ctx any) error {
		if len(preds) == 0 {
			return ErrNoRules
		}
		var lastErr error
		for _, p := range preds {
			if err := p(ctx); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		return lastErr
	}
}

// Not inverts p: if p denies, Not(p) allows, and vice versa. The
// denial message for the inverted case is generic, since Not has no
// access to why p would have succeeded.
func Not(p Predicate) Predicate {
	return func(ctx any) error {
		if err := p(ctx); err != nil {
			return nil
		}
		return canicerr.New(canicerr.Policy, "negated predicate did not deny access")
	}
}
