package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/value"
)

func TestFakeResolveAndRead(t *testing.T) {
	f := engine.NewFake()
	f.SetSymbol("foo", 0x1000)
	f.SetVariable(1, "x", engine.DataLocation{Addr: 0x2000, Tag: value.Long}, value.New(value.Long, int64(42)))

	addr, err := f.ResolveSymbol(1, "foo")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), addr)

	loc, err := f.FindVariable(1, "x")
	require.NoError(t, err)
	v, err := f.ReadAt(1, loc)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Long())
}

func TestFakeResolveMissing(t *testing.T) {
	f := engine.NewFake()
	_, err := f.ResolveSymbol(1, "missing")
	require.Error(t, err)
}

func TestFakeBreakpointFires(t *testing.T) {
	f := engine.NewFake()
	var fired []engine.ProcID
	require.NoError(t, f.BreakpointAt(0x1000, func(proc engine.ProcID, thread engine.ThreadID) {
		fired = append(fired, proc)
	}))
	f.Fire(0x1000, 3, 0)
	f.Fire(0x1000, 4, 0)
	assert.Equal(t, []engine.ProcID{3, 4}, fired)
}

func TestFakeStackwalk(t *testing.T) {
	f := engine.NewFake()
	f.SetStack(1, 0, []engine.Frame{{FrameID: 1, Function: "main"}})
	frames, err := f.Stackwalk(1, 0)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "main", frames[0].Function)
}

func TestFakeCallFunctionRecordsCalls(t *testing.T) {
	f := engine.NewFake()
	require.NoError(t, f.CallFunction(1, "dysect_break", nil))
	assert.Equal(t, []string{"dysect_break"}, f.Calls())
}
