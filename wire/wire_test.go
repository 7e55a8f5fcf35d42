package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/value"
	"github.com/dysectapi/dysectapi/wire"
)

func TestRoundTrip(t *testing.T) {
	aggs := []*aggregate.AGG{
		{Kind: aggregate.Min, ID: 1, Count: 4, Val: value.New(value.Long, int64(3))},
		{Kind: aggregate.Max, ID: 2, Count: 4, Val: value.New(value.Long, int64(9))},
		{Kind: aggregate.StaticStr, ID: 3, Count: 2, Str: "hit foo"},
		{Kind: aggregate.RankList, ID: 4, Count: 2, Ranks: []aggregate.RankRange{{Lo: 0, Hi: 3}}},
	}

	packet, err := wire.Encode(wire.Envelope{StreamID: 7, ProbeID: 42, Count: 4}, aggs)
	require.NoError(t, err)
	assert.True(t, wire.IsDysectTag(packet))

	env, decoded, err := wire.Decode(packet)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), env.StreamID)
	assert.Equal(t, uint32(42), env.ProbeID)
	assert.False(t, env.Partial())

	for _, want := range aggs {
		got, ok := decoded[want.ID]
		require.True(t, ok)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.Count, got.Count)
		switch want.Kind {
		case aggregate.Min, aggregate.Max:
			assert.True(t, want.Val.Equal(got.Val))
		case aggregate.StaticStr:
			assert.Equal(t, want.Str, got.Str)
		case aggregate.RankList:
			assert.Equal(t, want.Ranks, got.Ranks)
		}
	}
}

func TestPartialFlag(t *testing.T) {
	packet, err := wire.Encode(wire.Envelope{StreamID: 1, ProbeID: 1, Count: 2, Flags: wire.FlagPartial}, nil)
	require.NoError(t, err)
	env, _, err := wire.Decode(packet)
	require.NoError(t, err)
	assert.True(t, env.Partial())
}

func TestMalformedPacketTooShort(t *testing.T) {
	_, _, err := wire.Decode([]byte{0x7E, 1, 2})
	require.Error(t, err)
}

func TestMalformedPacketBadMagic(t *testing.T) {
	packet, err := wire.Encode(wire.Envelope{StreamID: 1, ProbeID: 1, Count: 1}, nil)
	require.NoError(t, err)
	packet[0] = 0x00
	_, _, err = wire.Decode(packet)
	require.Error(t, err)
}

func TestLengthOverrun(t *testing.T) {
	packet, err := wire.Encode(wire.Envelope{StreamID: 1, ProbeID: 1, Count: 1}, nil)
	require.NoError(t, err)
	// corrupt length field to claim more body than present
	packet[15] = 0xFF
	_, _, err = wire.Decode(packet)
	require.Error(t, err)
}

func TestStackTraceRoundTrip(t *testing.T) {
	aggs := []*aggregate.AGG{
		{Kind: aggregate.StackTraces, ID: 1, Count: 1, Stack: []*aggregate.StackNode{
			{FrameID: 100, Count: 1, Children: []*aggregate.StackNode{
				{FrameID: 200, Count: 1},
			}},
		}},
	}
	packet, err := wire.Encode(wire.Envelope{StreamID: 1, ProbeID: 1, Count: 1}, aggs)
	require.NoError(t, err)
	_, decoded, err := wire.Decode(packet)
	require.NoError(t, err)
	got := decoded[1]
	require.Len(t, got.Stack, 1)
	assert.Equal(t, uint64(100), got.Stack[0].FrameID)
	require.Len(t, got.Stack[0].Children, 1)
	assert.Equal(t, uint64(200), got.Stack[0].Children[0].FrameID)
}

func TestDescribeVariableRoundTrip(t *testing.T) {
	aggs := []*aggregate.AGG{
		{Kind: aggregate.DescribeVariable, ID: 9, Count: 1, Sub: map[uint32]*aggregate.AGG{
			1: {Kind: aggregate.Min, ID: 1, Count: 1, Val: value.New(value.Int, 5)},
			2: {Kind: aggregate.Max, ID: 2, Count: 1, Val: value.New(value.Int, 9)},
		}},
	}
	packet, err := wire.Encode(wire.Envelope{StreamID: 1, ProbeID: 1, Count: 1}, aggs)
	require.NoError(t, err)
	_, decoded, err := wire.Decode(packet)
	require.NoError(t, err)
	got := decoded[9]
	require.Len(t, got.Sub, 2)
	assert.True(t, got.Sub[1].Val.Equal(value.New(value.Int, 5)))
	assert.True(t, got.Sub[2].Val.Equal(value.New(value.Int, 9)))
}

func TestLargeBodyCompressed(t *testing.T) {
	var aggs []*aggregate.AGG
	for i := uint32(0); i < 64; i++ {
		aggs = append(aggs, &aggregate.AGG{Kind: aggregate.StaticStr, ID: i, Count: 1, Str: "the quick brown fox jumps over the lazy dog, repeated for bulk"})
	}
	packet, err := wire.Encode(wire.Envelope{StreamID: 1, ProbeID: 1, Count: 1}, aggs)
	require.NoError(t, err)
	env, decoded, err := wire.Decode(packet)
	require.NoError(t, err)
	assert.NotZero(t, env.Flags&wire.FlagCompressed)
	assert.Len(t, decoded, 64)
}
