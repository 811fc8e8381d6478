package access

import (
	"testing"

	"github.com/dreamware/canic/internal/canicerr"
	"github.com/stretchr/testify/assert"
)

func allow(any) error { return nil }
func deny(any) error  { return canicerr.New(canicerr.Policy, "denied") }

func TestAllPassesWhenEveryPredicatePasses(t *testing.T) {
	p := All(allow, allow, allow)
	assert.NoError(t, p(nil))
}

func TestAllFailsOnFirstDenial(t *testing.T) {
	calls := 0
	counting := func(any) error { calls++; return nil }
	p := All(deny, counting)
	err := p(nil)
	assert.Error(t, err)
	assert.Equal(t, 0, calls, "All must short-circuit before evaluating later predicates")
}

func TestAllWithNoPredicatesReturnsNoRules(t *testing.T) {
	p := All()
	assert.ErrorIs(t, p(nil), ErrNoRules)
}

func TestAnyPassesOnFirstSuccess(t *testing.T) {
	calls := 0
	counting := func(any) error { calls++; return nil }
	p := Any(allow, counting)
	assert.NoError(t, p(nil))
	assert.Equal(t, 0, calls, "Any must short-circuit once a predicate passes")
}

func TestAnyFailsWhenAllFail(t *testing.T) {
	p := Any(deny, deny)
	assert.Error(t, p(nil))
}

func TestAnyWithNoPredicatesReturnsNoRules(t *testing.T) {
	p := Any()
	assert.ErrorIs(t, p(nil), ErrNoRules)
}

func TestNotInvertsAllowAndDeny(t *testing.T) {
	assert.Error(t, Not(allow)(nil))
	assert.NoError(t, Not(deny)(nil))
}

func TestPredWrapsBoolCheck(t *testing.T) {
	truthy := Pred(func(any) bool { return true }, "unused")
	falsy := Pred(func(any) bool { return false }, "explanation")

	assert.NoError(t, truthy(nil))
	err := falsy(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "explanation")
}
