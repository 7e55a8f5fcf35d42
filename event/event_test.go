package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/event"
)

func TestCodeLocationFires(t *testing.T) {
	eng := engine.NewFake()
	eng.SetSymbol("foo", 0x1000)

	loc := event.NewCodeLocation("foo", false)
	require.NoError(t, loc.Prepare(eng))

	var fired []engine.ProcID
	require.NoError(t, loc.Enable(eng, engine.NewProcSet(1, 2), func(f event.Firing) {
		fired = append(fired, f.Proc)
	}))

	eng.Fire(0x1000, 1, 0)
	eng.Fire(0x1000, 3, 0) // not enabled, must not fire
	assert.Equal(t, []engine.ProcID{1}, fired)
	assert.True(t, loc.IsEnabled(1))
	assert.False(t, loc.IsEnabled(3))
}

func TestCodeLocationPendingThenRetry(t *testing.T) {
	eng := engine.NewFake()
	loc := event.NewCodeLocation("libfoo!bar", true)
	require.NoError(t, loc.Prepare(eng))
	assert.True(t, loc.Pending())

	eng.SetSymbol("libfoo!bar", 0x2000)
	require.NoError(t, loc.Retry(eng))
	assert.False(t, loc.Pending())
}

func TestCodeLocationRejectsUnresolvedWithoutPending(t *testing.T) {
	eng := engine.NewFake()
	loc := event.NewCodeLocation("missing", false)
	err := loc.Prepare(eng)
	assert.Error(t, err)
}

type fakeSubs struct {
	handlers map[event.AsyncKind][]func(event.Notification)
}

func newFakeSubs() *fakeSubs { return &fakeSubs{handlers: map[event.AsyncKind][]func(event.Notification){}} }

func (f *fakeSubs) Subscribe(kind event.AsyncKind, notify func(event.Notification)) func() {
	f.handlers[kind] = append(f.handlers[kind], notify)
	idx := len(f.handlers[kind]) - 1
	return func() { f.handlers[kind][idx] = nil }
}

func (f *fakeSubs) publish(n event.Notification) {
	for _, h := range f.handlers[n.Kind] {
		if h != nil {
			h(n)
		}
	}
}

func TestAsyncSignalFiltersBySignalAndProc(t *testing.T) {
	subs := newFakeSubs()
	a := event.NewAsync(event.SignalKind, 11, subs)
	var fired []engine.ProcID
	require.NoError(t, a.Enable(nil, engine.NewProcSet(2), func(f event.Firing) { fired = append(fired, f.Proc) }))

	subs.publish(event.Notification{Kind: event.SignalKind, Signal: 11, Proc: 2})
	subs.publish(event.Notification{Kind: event.SignalKind, Signal: 9, Proc: 2})  // wrong signal
	subs.publish(event.Notification{Kind: event.SignalKind, Signal: 11, Proc: 3}) // not enabled

	assert.Equal(t, []engine.ProcID{2}, fired)
}

func TestTimeFiresAfterDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clockNow := func() time.Time { return now }
	tm := event.NewTime(100, clockNow)

	var fired []engine.ProcID
	require.NoError(t, tm.Enable(nil, engine.NewProcSet(1), func(f event.Firing) { fired = append(fired, f.Proc) }))

	tm.Poll()
	assert.Empty(t, fired)

	now = now.Add(150 * time.Millisecond)
	tm.Poll()
	assert.Equal(t, []engine.ProcID{1}, fired)

	// a second poll must not refire the now-disarmed timer.
	tm.Poll()
	assert.Equal(t, []engine.ProcID{1}, fired)
}

func TestAndFiresOnlyAfterBothChildren(t *testing.T) {
	eng := engine.NewFake()
	eng.SetSymbol("a", 0x1)
	eng.SetSymbol("b", 0x2)
	left := event.NewCodeLocation("a", false)
	right := event.NewCodeLocation("b", false)
	require.NoError(t, left.Prepare(eng))
	require.NoError(t, right.Prepare(eng))

	and := event.NewAnd(left, right)
	var fired int
	require.NoError(t, and.Enable(eng, engine.NewProcSet(1), func(f event.Firing) { fired++ }))

	eng.Fire(0x1, 1, 0)
	assert.Equal(t, 0, fired)
	eng.Fire(0x2, 1, 0)
	assert.Equal(t, 1, fired)
}

func TestOrFiresOnFirstChild(t *testing.T) {
	eng := engine.NewFake()
	eng.SetSymbol("a", 0x1)
	eng.SetSymbol("b", 0x2)
	left := event.NewCodeLocation("a", false)
	right := event.NewCodeLocation("b", false)
	require.NoError(t, left.Prepare(eng))
	require.NoError(t, right.Prepare(eng))

	or := event.NewOr(left, right)
	var fired int
	require.NoError(t, or.Enable(eng, engine.NewProcSet(1), func(f event.Firing) { fired++ }))

	eng.Fire(0x1, 1, 0)
	assert.Equal(t, 1, fired)
}

func TestNotFiresOnAbsence(t *testing.T) {
	eng := engine.NewFake()
	eng.SetSymbol("foo", 0x1)
	positive := event.NewCodeLocation("foo", false)
	require.NoError(t, positive.Prepare(eng))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	within := event.NewTime(100, func() time.Time { return now })

	not := event.NewNot(positive, within)
	var fired int
	require.NoError(t, not.Enable(eng, engine.NewProcSet(1), func(f event.Firing) { fired++ }))

	now = now.Add(150 * time.Millisecond)
	not.Poll()
	assert.Equal(t, 1, fired)
}

func TestNotSuppressedWhenPositiveFiredFirst(t *testing.T) {
	eng := engine.NewFake()
	eng.SetSymbol("foo", 0x1)
	positive := event.NewCodeLocation("foo", false)
	require.NoError(t, positive.Prepare(eng))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	within := event.NewTime(100, func() time.Time { return now })

	not := event.NewNot(positive, within)
	var fired int
	require.NoError(t, not.Enable(eng, engine.NewProcSet(1), func(f event.Firing) { fired++ }))

	eng.Fire(0x1, 1, 0)
	now = now.Add(150 * time.Millisecond)
	not.Poll()
	assert.Equal(t, 0, fired)
}
