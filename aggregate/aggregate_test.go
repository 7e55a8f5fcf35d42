package aggregate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/value"
)

func sample(v int64, count uint64) *aggregate.AGG {
	return &aggregate.AGG{Kind: aggregate.Min, ID: 1, Count: count, Val: value.New(value.Long, v)}
}

func TestMergeCommutativeAssociative(t *testing.T) {
	a := sample(5, 1)
	b := sample(3, 1)
	c := sample(9, 1)

	ab, err := aggregate.Merge(a, b)
	require.NoError(t, err)
	abc, err := aggregate.Merge(ab, c)
	require.NoError(t, err)

	bc, err := aggregate.Merge(b, c)
	require.NoError(t, err)
	bca, err := aggregate.Merge(a, bc)
	require.NoError(t, err)

	assert.Equal(t, abc.Count, bca.Count)
	assert.True(t, abc.Val.Equal(bca.Val))
	assert.Equal(t, int64(3), abc.Val.Long())

	ba, err := aggregate.Merge(b, a)
	require.NoError(t, err)
	assert.True(t, ab.Val.Equal(ba.Val))
	assert.Equal(t, ab.Count, ba.Count)
}

func TestMergeIdentity(t *testing.T) {
	a := sample(5, 1)
	id := aggregate.Identity(aggregate.Min, 1)
	merged, err := aggregate.Merge(a, id)
	require.NoError(t, err)
	assert.Equal(t, a.Count, merged.Count)
	assert.True(t, a.Val.Equal(merged.Val))
}

func TestMergeKindMismatch(t *testing.T) {
	a := &aggregate.AGG{Kind: aggregate.Min, ID: 1, Count: 1, Val: value.New(value.Int, 1)}
	b := &aggregate.AGG{Kind: aggregate.Max, ID: 1, Count: 1, Val: value.New(value.Int, 2)}
	_, err := aggregate.Merge(a, b)
	require.Error(t, err)
}

func TestSumAndCount(t *testing.T) {
	a := &aggregate.AGG{Kind: aggregate.Sum, ID: 2, Count: 2, Val: value.New(value.Long, int64(4))}
	b := &aggregate.AGG{Kind: aggregate.Sum, ID: 2, Count: 3, Val: value.New(value.Long, int64(6))}
	sum, err := aggregate.Merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), sum.Count)
	assert.Equal(t, int64(10), sum.Val.Long())

	// avg renders as sum/count at read time.
	avg := float64(sum.Val.Long()) / float64(sum.Count)
	assert.InDelta(t, 2.0, avg, 0.0001)
}

func TestRankListUnion(t *testing.T) {
	a := &aggregate.AGG{Kind: aggregate.RankList, ID: 3, Count: 2, Ranks: []aggregate.RankRange{{Lo: 0, Hi: 1}}}
	b := &aggregate.AGG{Kind: aggregate.RankList, ID: 3, Count: 2, Ranks: []aggregate.RankRange{{Lo: 2, Hi: 3}}}
	merged, err := aggregate.Merge(a, b)
	require.NoError(t, err)
	require.Len(t, merged.Ranks, 1)
	assert.Equal(t, uint32(0), merged.Ranks[0].Lo)
	assert.Equal(t, uint32(3), merged.Ranks[0].Hi)
}

func TestStackTraceMerge(t *testing.T) {
	a := &aggregate.AGG{Kind: aggregate.StackTraces, ID: 4, Count: 1, Stack: []*aggregate.StackNode{
		{FrameID: 1, Count: 1, Children: []*aggregate.StackNode{{FrameID: 2, Count: 1}}},
	}}
	b := &aggregate.AGG{Kind: aggregate.StackTraces, ID: 4, Count: 1, Stack: []*aggregate.StackNode{
		{FrameID: 1, Count: 1, Children: []*aggregate.StackNode{{FrameID: 3, Count: 1}}},
	}}
	merged, err := aggregate.Merge(a, b)
	require.NoError(t, err)
	require.Len(t, merged.Stack, 1)
	assert.Equal(t, uint64(1), merged.Stack[0].FrameID)
	assert.Equal(t, uint32(2), merged.Stack[0].Count)
	require.Len(t, merged.Stack[0].Children, 2)
}

func TestDescribeVariableMerge(t *testing.T) {
	a := &aggregate.AGG{Kind: aggregate.DescribeVariable, ID: 5, Count: 1, Sub: map[uint32]*aggregate.AGG{
		10: sample(1, 1),
	}}
	b := &aggregate.AGG{Kind: aggregate.DescribeVariable, ID: 5, Count: 1, Sub: map[uint32]*aggregate.AGG{
		10: sample(2, 1),
		11: sample(3, 1),
	}}
	merged, err := aggregate.Merge(a, b)
	require.NoError(t, err)
	require.Len(t, merged.Sub, 2)
	assert.Equal(t, int64(1), merged.Sub[10].Val.Long())
	assert.Equal(t, int64(3), merged.Sub[11].Val.Long())
}
