// Package event implements the event layer of spec §4.3: code
// locations, async (signal/exit/crash) events, time events, and the
// And/Or/Not boolean combinators, each exposing
// {prepare, enable, disable, isEnabled}. Grounded on
// original_source's event_be.cpp/time_be.cpp/location_fe.cpp.
package event

import (
	"time"

	"github.com/dysectapi/dysectapi/dyerr"
	"github.com/dysectapi/dysectapi/engine"
)

// Firing is reported to a probe when its event condition is met for a
// given process.
type Firing struct {
	Proc   engine.ProcID
	Thread engine.ThreadID
	At     time.Time
}

// FireFunc is invoked once per Firing. Implementations must return
// quickly (spec §5: single-threaded cooperative scheduling) — the probe
// layer does the actual stop/evaluate work, not this callback.
type FireFunc func(Firing)

// Event is the interface every event kind below satisfies.
type Event interface {
	Prepare(eng engine.Engine) error
	Enable(eng engine.Engine, procs engine.ProcSet, fire FireFunc) error
	Disable(eng engine.Engine, procs engine.ProcSet) error
	IsEnabled(proc engine.ProcID) bool
}

// --- CodeLocation ---

// CodeLocation fires when control reaches a resolved symbol, with
// optional pending re-resolution (spec §4.3).
type CodeLocation struct {
	Expr           string
	PendingAllowed bool

	resolved bool
	addr     uint64
	enabled  engine.ProcSet
	fire     FireFunc
}

func NewCodeLocation(expr string, pendingAllowed bool) *CodeLocation {
	return &CodeLocation{Expr: expr, PendingAllowed: pendingAllowed, enabled: engine.ProcSet{}}
}

// Pending reports whether this location is still waiting on a future
// library load to resolve (spec §4.3, "queued on pendingRoots").
func (c *CodeLocation) Pending() bool { return !c.resolved && c.PendingAllowed }

func (c *CodeLocation) Prepare(eng engine.Engine) error {
	addr, err := eng.ResolveSymbol(0, c.Expr)
	if err != nil {
		if c.PendingAllowed {
			return nil // stays unresolved; caller queues on pendingRoots
		}
		return dyerr.New(dyerr.ResolutionFailure, "code location %q: %v", c.Expr, err)
	}
	c.resolved = true
	c.addr = addr
	return nil
}

func (c *CodeLocation) Enable(eng engine.Engine, procs engine.ProcSet, fire FireFunc) error {
	if !c.resolved {
		return dyerr.New(dyerr.ResolutionFailure, "code location %q: enable before resolve", c.Expr)
	}
	c.fire = fire
	c.enabled = c.enabled.Union(procs)
	return eng.BreakpointAt(c.addr, func(proc engine.ProcID, thread engine.ThreadID) {
		if c.enabled.Contains(proc) && c.fire != nil {
			c.fire(Firing{Proc: proc, Thread: thread})
		}
	})
}

func (c *CodeLocation) Disable(eng engine.Engine, procs engine.ProcSet) error {
	for p := range procs {
		delete(c.enabled, p)
	}
	return nil
}

func (c *CodeLocation) IsEnabled(proc engine.ProcID) bool { return c.enabled.Contains(proc) }

// Retry re-attempts Prepare after a library load; it is a no-op once
// already resolved. Callers (session's pendingRoots sweep) should only
// invoke this through a throttle, since a flapping loader can call it
// often (spec §4.3).
func (c *CodeLocation) Retry(eng engine.Engine) error {
	if c.resolved {
		return nil
	}
	return c.Prepare(eng)
}

// --- Async ---

// AsyncKind is the closed set of asynchronous target notifications.
type AsyncKind int

const (
	SignalKind AsyncKind = iota
	ExitKind
	CrashKind
)

// Notification is published on a Subscribers set (see session package)
// whenever the engine observes one of the async conditions below.
type Notification struct {
	Kind   AsyncKind
	Signal int // meaningful only for SignalKind
	Proc   engine.ProcID
	Thread engine.ThreadID
}

// Subscribers is the process-wide observer set an Async event
// registers against, replacing the source's bare
// signalSubscribers/crashSubscribers/exitSubscribers globals with an
// explicit, coarse-locked collaborator (spec §5, §9) owned by
// session.Session and passed in at construction.
type Subscribers interface {
	Subscribe(kind AsyncKind, notify func(Notification)) (unsubscribe func())
}

// Async fires on a signal delivery, process exit, or crash.
type Async struct {
	Kind   AsyncKind
	Signal int

	subs        Subscribers
	unsubscribe func()
	enabled     engine.ProcSet
	fire        FireFunc
}

func NewAsync(kind AsyncKind, signal int, subs Subscribers) *Async {
	return &Async{Kind: kind, Signal: signal, subs: subs, enabled: engine.ProcSet{}}
}

func (a *Async) Prepare(eng engine.Engine) error { return nil }

func (a *Async) Enable(eng engine.Engine, procs engine.ProcSet, fire FireFunc) error {
	a.fire = fire
	a.enabled = a.enabled.Union(procs)
	if a.unsubscribe == nil {
		a.unsubscribe = a.subs.Subscribe(a.Kind, a.onNotify)
	}
	return nil
}

func (a *Async) onNotify(n Notification) {
	if a.Kind == SignalKind && n.Signal != a.Signal {
		return
	}
	if !a.enabled.Contains(n.Proc) || a.fire == nil {
		return
	}
	a.fire(Firing{Proc: n.Proc, Thread: n.Thread})
}

func (a *Async) Disable(eng engine.Engine, procs engine.ProcSet) error {
	for p := range procs {
		delete(a.enabled, p)
	}
	if len(a.enabled) == 0 && a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	return nil
}

func (a *Async) IsEnabled(proc engine.ProcID) bool { return a.enabled.Contains(proc) }

// --- Time ---

// Time fires Millis after the edge that armed it traversed, per
// participating process (spec §4.3: "Time events arm a monotonic timer
// per participating process"). Open question 2 in spec §9 requires
// arbitrary timeouts to work, not just 0 (the source only supported 0).
type Time struct {
	Millis int64
	Now    func() time.Time // injected for hermetic tests

	enabled engine.ProcSet
	fire    FireFunc
	timers  map[engine.ProcID]*clockTimer
}

type clockTimer struct {
	deadline time.Time
}

func NewTime(millis int64, now func() time.Time) *Time {
	if now == nil {
		now = time.Now
	}
	return &Time{Millis: millis, Now: now, enabled: engine.ProcSet{}, timers: map[engine.ProcID]*clockTimer{}}
}

func (t *Time) Prepare(eng engine.Engine) error { return nil }

// Enable arms a deadline Millis from now for every process in procs,
// one independent timer each, matching "the timer fires relative to
// the moment the parent-probe edge traversed" (spec §4.3).
func (t *Time) Enable(eng engine.Engine, procs engine.ProcSet, fire FireFunc) error {
	t.fire = fire
	t.enabled = t.enabled.Union(procs)
	deadline := t.Now().Add(time.Duration(t.Millis) * time.Millisecond)
	for p := range procs {
		t.timers[p] = &clockTimer{deadline: deadline}
	}
	return nil
}

func (t *Time) Disable(eng engine.Engine, procs engine.ProcSet) error {
	for p := range procs {
		delete(t.enabled, p)
		delete(t.timers, p)
	}
	return nil
}

func (t *Time) IsEnabled(proc engine.ProcID) bool { return t.enabled.Contains(proc) }

// Poll checks every armed process's deadline against Now() and fires
// (and disarms) any that have elapsed. cmd/dysectd's select loop
// reaches this through session.PollTimers at its tick, matching spec
// §5's "monotonic priority
// queue polled at the select boundary" redesign note.
func (t *Time) Poll() {
	now := t.Now()
	for proc, timer := range t.timers {
		if !now.Before(timer.deadline) {
			delete(t.timers, proc)
			if t.fire != nil {
				t.fire(Firing{Proc: proc, At: now})
			}
		}
	}
}

// --- Boolean combinators ---

// And fires only once both children have fired without an intervening
// disable (spec §4.3). Not implements short-circuit from §8 at the
// condition level, not here: the event combinators below gate on
// firing, not on ConditionResult.
type And struct {
	Left, Right Event

	leftFired, rightFired engine.ProcSet
	enabled               engine.ProcSet
	fire                  FireFunc
}

func NewAnd(left, right Event) *And {
	return &And{Left: left, Right: right, leftFired: engine.ProcSet{}, rightFired: engine.ProcSet{}, enabled: engine.ProcSet{}}
}

func (a *And) Prepare(eng engine.Engine) error {
	if err := a.Left.Prepare(eng); err != nil {
		return err
	}
	return a.Right.Prepare(eng)
}

func (a *And) Enable(eng engine.Engine, procs engine.ProcSet, fire FireFunc) error {
	a.fire = fire
	a.enabled = a.enabled.Union(procs)
	if err := a.Left.Enable(eng, procs, func(f Firing) { a.onChildFired(true, f) }); err != nil {
		return err
	}
	return a.Right.Enable(eng, procs, func(f Firing) { a.onChildFired(false, f) })
}

func (a *And) onChildFired(left bool, f Firing) {
	if left {
		a.leftFired.Add(f.Proc)
	} else {
		a.rightFired.Add(f.Proc)
	}
	if a.leftFired.Contains(f.Proc) && a.rightFired.Contains(f.Proc) && a.fire != nil {
		a.fire(f)
		delete(a.leftFired, f.Proc)
		delete(a.rightFired, f.Proc)
	}
}

func (a *And) Disable(eng engine.Engine, procs engine.ProcSet) error {
	for p := range procs {
		delete(a.enabled, p)
		delete(a.leftFired, p)
		delete(a.rightFired, p)
	}
	if err := a.Left.Disable(eng, procs); err != nil {
		return err
	}
	return a.Right.Disable(eng, procs)
}

func (a *And) IsEnabled(proc engine.ProcID) bool { return a.enabled.Contains(proc) }

// Or fires as soon as either child fires for a process.
type Or struct {
	Left, Right Event
	enabled     engine.ProcSet
	fire        FireFunc
}

func NewOr(left, right Event) *Or {
	return &Or{Left: left, Right: right, enabled: engine.ProcSet{}}
}

func (o *Or) Prepare(eng engine.Engine) error {
	if err := o.Left.Prepare(eng); err != nil {
		return err
	}
	return o.Right.Prepare(eng)
}

func (o *Or) Enable(eng engine.Engine, procs engine.ProcSet, fire FireFunc) error {
	o.fire = fire
	o.enabled = o.enabled.Union(procs)
	relay := func(f Firing) {
		if o.fire != nil {
			o.fire(f)
		}
	}
	if err := o.Left.Enable(eng, procs, relay); err != nil {
		return err
	}
	return o.Right.Enable(eng, procs, relay)
}

func (o *Or) Disable(eng engine.Engine, procs engine.ProcSet) error {
	for p := range procs {
		delete(o.enabled, p)
	}
	if err := o.Left.Disable(eng, procs); err != nil {
		return err
	}
	return o.Right.Disable(eng, procs)
}

func (o *Or) IsEnabled(proc engine.ProcID) bool { return o.enabled.Contains(proc) }

// Not fires when Within elapses without Positive having fired for that
// process (spec §4.3: "Not fires when a timeout or paired positive
// event demonstrates absence").
type Not struct {
	Positive Event
	Within   *Time

	fired   engine.ProcSet
	enabled engine.ProcSet
	fire    FireFunc
}

func NewNot(positive Event, within *Time) *Not {
	return &Not{Positive: positive, Within: within, fired: engine.ProcSet{}, enabled: engine.ProcSet{}}
}

func (n *Not) Prepare(eng engine.Engine) error {
	if err := n.Positive.Prepare(eng); err != nil {
		return err
	}
	return n.Within.Prepare(eng)
}

func (n *Not) Enable(eng engine.Engine, procs engine.ProcSet, fire FireFunc) error {
	n.fire = fire
	n.enabled = n.enabled.Union(procs)
	if err := n.Positive.Enable(eng, procs, func(f Firing) { n.fired.Add(f.Proc) }); err != nil {
		return err
	}
	return n.Within.Enable(eng, procs, func(f Firing) {
		if !n.fired.Contains(f.Proc) && n.fire != nil {
			n.fire(f)
		}
	})
}

func (n *Not) Disable(eng engine.Engine, procs engine.ProcSet) error {
	for p := range procs {
		delete(n.enabled, p)
		delete(n.fired, p)
	}
	if err := n.Positive.Disable(eng, procs); err != nil {
		return err
	}
	return n.Within.Disable(eng, procs)
}

func (n *Not) IsEnabled(proc engine.ProcID) bool { return n.enabled.Contains(proc) }

// Poll forwards to Within's timer check; And/Or have no timer of their
// own to poll, only Time (directly or nested under Not) does.
func (n *Not) Poll() { n.Within.Poll() }
