package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/value"
	"github.com/dysectapi/dysectapi/wire"
)

func packet(t *testing.T, streamID, probeID uint32) []byte {
	t.Helper()
	agg := &aggregate.AGG{
		Kind:  aggregate.Sum,
		ID:    1,
		Count: 3,
		Val:   value.New(value.Long, int64(42)),
	}
	p, err := wire.Encode(wire.Envelope{StreamID: streamID, ProbeID: probeID, Count: 3}, []*aggregate.AGG{agg})
	require.NoError(t, err)
	return p
}

func TestRunSplitsConcatenatedPacketsAndEmitsPickle(t *testing.T) {
	stream := append(packet(t, 1, 10), packet(t, 1, 11)...)

	var out bytes.Buffer
	err := run(stream, "pickle", &out)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Bytes())
}

func TestRunEmitsMsgpack(t *testing.T) {
	stream := packet(t, 2, 20)

	var out bytes.Buffer
	err := run(stream, "msgpack", &out)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Bytes())
}

func TestRunRejectsUnknownFormat(t *testing.T) {
	stream := packet(t, 3, 30)

	var out bytes.Buffer
	err := run(stream, "yaml", &out)
	require.Error(t, err)
}

func TestRunRejectsTruncatedTrailer(t *testing.T) {
	stream := packet(t, 4, 40)
	stream = append(stream, 0x7E, 0x00, 0x00)

	var out bytes.Buffer
	err := run(stream, "pickle", &out)
	require.Error(t, err)
}
