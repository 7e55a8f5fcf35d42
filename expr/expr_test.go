package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/expr"
	"github.com/dysectapi/dysectapi/value"
)

type mapResolver map[string]value.Value

func (m mapResolver) Resolve(name string) (value.Value, expr.Status) {
	v, ok := m[name]
	if !ok {
		return value.Value{}, expr.Unresolved
	}
	return v, expr.Resolved
}

type unresolvedResolver struct{ names map[string]bool }

func (u unresolvedResolver) Resolve(name string) (value.Value, expr.Status) {
	if u.names[name] {
		return value.Value{}, expr.Unresolved
	}
	return value.Value{}, expr.Unresolved
}

func evalBool(t *testing.T, src string, r expr.Resolver) expr.EvalResult {
	t.Helper()
	n, err := expr.Parse(src)
	require.NoError(t, err)
	res, err := expr.Eval(n, r)
	require.NoError(t, err)
	return res
}

func TestArithmeticPrecedence(t *testing.T) {
	r := mapResolver{"x": value.New(value.Long, int64(3))}
	res := evalBool(t, "x + 2 * 3", r)
	require.Equal(t, expr.Resolved, res.Status)
	assert.Equal(t, int64(9), res.Val.Long())
}

func TestRelationalAndParens(t *testing.T) {
	r := mapResolver{"x": value.New(value.Long, int64(10))}
	res := evalBool(t, "(x - 5) >= 5", r)
	require.Equal(t, expr.Resolved, res.Status)
	assert.True(t, res.Val.Bool())
}

func TestLogicalShortCircuitAndFalse(t *testing.T) {
	r := unresolvedResolver{names: map[string]bool{"y": true}}
	// false && Unresolved == false, and right must never be evaluated.
	res := evalBool(t, "0 == 1 && y", r)
	require.Equal(t, expr.Resolved, res.Status)
	assert.False(t, res.Val.Bool())
}

func TestLogicalShortCircuitOrTrue(t *testing.T) {
	r := unresolvedResolver{names: map[string]bool{"y": true}}
	res := evalBool(t, "1 == 1 || y", r)
	require.Equal(t, expr.Resolved, res.Status)
	assert.True(t, res.Val.Bool())
}

func TestUnresolvedPropagatesThroughArithmetic(t *testing.T) {
	r := unresolvedResolver{names: map[string]bool{"y": true}}
	res := evalBool(t, "y + 1", r)
	assert.Equal(t, expr.Unresolved, res.Status)
}

func TestUnresolvedAbsorbingCases(t *testing.T) {
	r := unresolvedResolver{names: map[string]bool{"y": true}}

	res := evalBool(t, "1 == 1 && y", r) // true && Unresolved == Unresolved
	assert.Equal(t, expr.Unresolved, res.Status)

	res = evalBool(t, "0 == 1 || y", r) // false || Unresolved == Unresolved
	assert.Equal(t, expr.Unresolved, res.Status)
}

func TestNot(t *testing.T) {
	r := mapResolver{}
	res := evalBool(t, "!(1 == 2)", r)
	require.Equal(t, expr.Resolved, res.Status)
	assert.True(t, res.Val.Bool())
}

func TestHasVar(t *testing.T) {
	n, err := expr.Parse("1 + 2")
	require.NoError(t, err)
	assert.False(t, expr.HasVar(n))

	n, err = expr.Parse("x + 2")
	require.NoError(t, err)
	assert.True(t, expr.HasVar(n))
}

func TestParseError(t *testing.T) {
	_, err := expr.Parse("1 +")
	assert.Error(t, err)
	_, err = expr.Parse("(1 + 2")
	assert.Error(t, err)
}
