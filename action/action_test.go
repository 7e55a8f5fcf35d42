package action_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/action"
	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/value"
)

func TestTraceCollectAndFinishFE(t *testing.T) {
	eng := engine.NewFake()
	eng.SetVariable(1, "x", engine.DataLocation{Addr: 0x10, Tag: value.Long}, value.New(value.Long, int64(7)))

	tr := action.NewTrace("value is @min(x)")
	aggs, err := tr.Collect(eng, 1, 0)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, aggregate.Min, aggs[0].Kind)

	merged := map[uint32]*aggregate.AGG{aggs[0].ID: aggs[0]}
	rendered, err := tr.FinishFE(merged, 1)
	require.NoError(t, err)
	assert.Equal(t, "value is 7", rendered)
}

func TestTraceDescribeVariable(t *testing.T) {
	eng := engine.NewFake()
	eng.SetVariable(1, "x", engine.DataLocation{Addr: 0x10, Tag: value.Long}, value.New(value.Long, int64(5)))

	tr := action.NewTrace("@desc(x)")
	aggs, err := tr.Collect(eng, 1, 0)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, aggregate.DescribeVariable, aggs[0].Kind)
	assert.Len(t, aggs[0].Sub, 2)
}

func TestStackTraceCollect(t *testing.T) {
	eng := engine.NewFake()
	eng.SetStack(1, 0, []engine.Frame{{PC: 0x1, Function: "inner"}, {PC: 0x2, Function: "outer"}})

	st := action.NewStackTrace()
	aggs, err := st.Collect(eng, 1, 0)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.Len(t, aggs[0].Stack, 1)
	assert.Equal(t, uint64(0x2), aggs[0].Stack[0].FrameID)
	require.Len(t, aggs[0].Stack[0].Children, 1)
	assert.Equal(t, uint64(0x1), aggs[0].Stack[0].Children[0].FrameID)
}

type recordingDetacher struct{ detached []engine.ProcID }

func (d *recordingDetacher) Detach(proc engine.ProcID) error {
	d.detached = append(d.detached, proc)
	return nil
}

func TestDetachIsIdempotent(t *testing.T) {
	d := &recordingDetacher{}
	act := action.NewDetach(action.AllProcs, d)
	_, err := act.Collect(nil, 1, 0)
	require.NoError(t, err)
	_, err = act.Collect(nil, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []engine.ProcID{1, 1}, d.detached)
}

func TestLoadLibraryCallsEngine(t *testing.T) {
	eng := engine.NewFake()
	act := action.NewLoadLibrary("libfoo.so")
	_, err := act.Collect(eng, 1, 0)
	require.NoError(t, err)
}

func TestIRPCRecordsCall(t *testing.T) {
	eng := engine.NewFake()
	act := action.NewIRPC("dysect_probe", []byte("payload"))
	_, err := act.Collect(eng, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"dysect_probe"}, eng.Calls())
}
