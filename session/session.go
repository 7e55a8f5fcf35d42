// Package session centralizes the process-wide mutable state spec §9
// calls out for redesign: "Global mutable state (signalSubscribers,
// ProbeTree::roots, SafeTimer maps). Centralize in a single Session
// struct owned by the back-end entry point; pass explicitly." Session
// implements event.Subscribers and action.Detacher so the event and
// action layers never import it directly (spec §9's non-owning
// back-reference discipline).
package session

import (
	"sync"
	"time"

	"github.com/dysectapi/dysectapi/domain"
	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/event"
	"github.com/dysectapi/dysectapi/probe"
)

// Session owns the process-wide state of a back-end node: the root
// probes, the pending roots, the signal/crash/exit subscriber sets and
// the detached-process set, all guarded by one coarse lock. It holds no
// timer state: each event.Time keeps its own per-process deadlines,
// which PollTimers reaches by walking the probe trees.
type Session struct {
	mu sync.Mutex

	roots        []*probe.Probe
	pendingRoots []*probe.Probe
	detached     map[engine.ProcID]struct{}

	subs map[event.AsyncKind][]subscriber

	tables domain.Tables
	eng    engine.Engine

	nextSubID uint64
}

type subscriber struct {
	id     uint64
	notify func(event.Notification)
}

// New builds an empty Session bound to eng and the domain tables
// supplied by the debugger engine at attach time (spec §4.4).
func New(eng engine.Engine, tables domain.Tables) *Session {
	return &Session{
		detached: map[engine.ProcID]struct{}{},
		subs:     map[event.AsyncKind][]subscriber{},
		tables:   tables,
		eng:      eng,
	}
}

// AddRoot registers p as a root probe (spec §175: "User-supplied code
// registers roots via ProbeTree::addRoot(Probe*)"). The forest is
// append-only during a session.
func (s *Session) AddRoot(p *probe.Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = append(s.roots, p)
}

// Roots returns a snapshot of the registered root probes.
func (s *Session) Roots() []*probe.Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*probe.Probe, len(s.roots))
	copy(out, s.roots)
	return out
}

// AddPendingRoot queues p for re-resolution after a future library
// load (spec §4.3: "if prepare fails to resolve, the probe is queued
// on pendingRoots").
func (s *Session) AddPendingRoot(p *probe.Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRoots = append(s.pendingRoots, p)
}

// ResolvePending re-attempts every queued pending root's Event.Prepare,
// removing any that now resolve. throttle gates how often this may
// actually touch the engine (SPEC_FULL §C.4: a hand-rolled token
// bucket protects against a flapping loader triggering a resolution
// storm); when throttle denies the attempt, ResolvePending is a no-op
// for this call.
func (s *Session) ResolvePending(throttle *TokenBucket) {
	if throttle != nil && !throttle.Allow() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	still := s.pendingRoots[:0]
	for _, p := range s.pendingRoots {
		if cl, ok := p.Event.(*event.CodeLocation); ok {
			if err := cl.Retry(s.eng); err != nil || cl.Pending() {
				still = append(still, p)
				continue
			}
		}
	}
	s.pendingRoots = still
}

// PendingRoots returns a snapshot of the currently queued pending roots.
func (s *Session) PendingRoots() []*probe.Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*probe.Probe, len(s.pendingRoots))
	copy(out, s.pendingRoots)
	return out
}

// pollable is satisfied by event kinds that carry their own timer
// (*event.Time, and *event.Not, which forwards to its Within timer;
// And/Or do not implement it, so a Time nested under them is not
// polled); the
// select loop in cmd/dysectd calls PollTimers at its tick boundary
// instead of each event registering its own goroutine (spec §5's
// "monotonic priority queue polled at the select boundary" redesign
// note).
type pollable interface {
	Poll()
}

// PollTimers walks every probe reachable from the registered roots and
// polls any event that carries a timer, firing and disarming any whose
// deadline has elapsed.
func (s *Session) PollTimers() {
	for _, root := range s.Roots() {
		walkProbes(root, func(p *probe.Probe) {
			if pe, ok := p.Event.(pollable); ok {
				pe.Poll()
			}
		})
	}
}

func walkProbes(p *probe.Probe, visit func(*probe.Probe)) {
	visit(p)
	for _, c := range p.Children() {
		walkProbes(c, visit)
	}
}

// Tables returns the domain resolution tables this session was built
// with, so probes can Arm against them.
func (s *Session) Tables() domain.Tables { return s.tables }

// Engine returns the debugger-engine collaborator this session drives.
func (s *Session) Engine() engine.Engine { return s.eng }

// --- event.Subscribers ---

// Subscribe registers notify against kind, returning an unsubscribe
// closure. It implements event.Subscribers, replacing the source's
// bare signalSubscribers/crashSubscribers/exitSubscribers globals with
// this single coarse-locked set (SPEC_FULL §C.3).
func (s *Session) Subscribe(kind event.AsyncKind, notify func(event.Notification)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[kind] = append(s.subs[kind], subscriber{id: id, notify: notify})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[kind]
		for i, sub := range list {
			if sub.id == id {
				s.subs[kind] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish fans n out to every subscriber of n.Kind (the debugger-
// engine thread's notification path into the probe layer, spec §5).
func (s *Session) Publish(n event.Notification) {
	s.mu.Lock()
	list := make([]subscriber, len(s.subs[n.Kind]))
	copy(list, s.subs[n.Kind])
	s.mu.Unlock()

	for _, sub := range list {
		sub.notify(n)
	}
}

// --- action.Detacher ---

// Detach marks proc as detached, idempotently (spec §4.6's detach()
// action). Detached processes are excluded from future Arm/quorum
// bookkeeping by the caller; Session only tracks membership.
func (s *Session) Detach(proc engine.ProcID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached[proc] = struct{}{}
	return nil
}

// IsDetached reports whether proc has been detached this session.
func (s *Session) IsDetached(proc engine.ProcID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.detached[proc]
	return ok
}

// --- TokenBucket ---

// TokenBucket is the hand-rolled rate limiter SPEC_FULL §C.4 calls for
// in place of the dropped taylorchu/toki dependency (see DESIGN.md).
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket builds a bucket holding at most max tokens, refilling
// at rate tokens/second, starting full.
func NewTokenBucket(max, rate float64, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	return &TokenBucket{tokens: max, max: max, rate: rate, last: now(), now: now}
}

// Allow consumes one token if available and reports whether it did.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
