package condition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/condition"
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

func TestConstantConditionAlwaysResolved(t *testing.T) {
	c, err := condition.New("1 + 1 == 2")
	require.NoError(t, err)
	assert.Equal(t, condition.NodeConstant, c.Type)

	res, err := c.Evaluate(mapResolver{})
	require.NoError(t, err)
	assert.Equal(t, condition.ResolvedTrue, res)
}

func TestTargetConditionResolvesWhenReadable(t *testing.T) {
	c, err := condition.New("counter > 10")
	require.NoError(t, err)
	assert.Equal(t, condition.NodeTarget, c.Type)

	res, err := c.Evaluate(mapResolver{"counter": value.New(value.Long, int64(15))})
	require.NoError(t, err)
	assert.Equal(t, condition.ResolvedTrue, res)

	res, err = c.Evaluate(mapResolver{"counter": value.New(value.Long, int64(5))})
	require.NoError(t, err)
	assert.Equal(t, condition.ResolvedFalse, res)
}

func TestTargetConditionUnresolvedWhenUnreadable(t *testing.T) {
	c, err := condition.New("counter > 10")
	require.NoError(t, err)

	res, err := c.Evaluate(mapResolver{})
	require.NoError(t, err)
	assert.Equal(t, condition.Unresolved, res)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "unresolved", condition.Unresolved.String())
	assert.Equal(t, "true", condition.ResolvedTrue.String())
	assert.Equal(t, "false", condition.ResolvedFalse.String())
	assert.Equal(t, "collectiveResolvable", condition.CollectiveResolvable.String())
}
