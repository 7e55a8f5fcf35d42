// Package probe implements the Probe/ProbeTree data model and the
// per-probe state machine of spec §4.5. Grounded on
// original_source's ProbeTree.h and the state diagram in spec §4.5.
package probe

import (
	"sync"

	"github.com/cespare/xxhash"

	"github.com/dysectapi/dysectapi/action"
	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/condition"
	"github.com/dysectapi/dysectapi/domain"
	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/event"
	"github.com/dysectapi/dysectapi/expr"
)

// State is a probe's position in the lifecycle diagram of spec §4.5.
type State int

const (
	Unarmed State = iota
	Armed
	Triggered
	Collected
	QuorumReady
	Reported
	Dead
)

func (s State) String() string {
	switch s {
	case Unarmed:
		return "unarmed"
	case Armed:
		return "armed"
	case Triggered:
		return "triggered"
	case Collected:
		return "collected"
	case QuorumReady:
		return "quorumReady"
	case Reported:
		return "reported"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Persistence is the probe's behavior after a reported transition
// (spec §3): "once" ends the probe's life, "stay" re-arms it.
type Persistence int

const (
	Once Persistence = iota
	Stay
)

// ID deterministically identifies a probe at the back-end by its
// position in the tree (spec §3: "identified ... by a deterministic
// hash of position in the tree"), computed over the parent-chain index
// path with xxhash.
type ID uint64

// Probe is one node of the probe tree: an event paired with a domain,
// an optional condition, and a sequence of actions. Probe owns its
// event/domain/actions exclusively; children hold only a non-owning
// parent pointer (spec §9's cyclic-reference redesign note — no
// back-pointer from event/domain/action into probe is needed since
// none of those types call back into the tree).
type Probe struct {
	mu sync.Mutex

	id          ID
	Event       event.Event
	Domain      domain.Domain
	Condition   *condition.Condition
	Actions     []action.Action
	Persistence Persistence

	parent   *Probe
	children []*Probe
	index    int // this probe's position among its parent's children

	state     State
	attached  engine.ProcSet // domain resolution at prepare()
	triggered map[engine.ProcID]engine.ThreadID
}

// New builds a root probe (no parent). Use Link to attach children.
func New(ev event.Event, dom domain.Domain, cond *condition.Condition, acts []action.Action, persistence Persistence) *Probe {
	p := &Probe{
		Event:       ev,
		Domain:      dom,
		Condition:   cond,
		Actions:     acts,
		Persistence: persistence,
		state:       Unarmed,
		triggered:   map[engine.ProcID]engine.ThreadID{},
	}
	p.id = p.computeID()
	return p
}

// Link adds child as an edge from p (spec §6: "Event::link(child) adds
// a tree edge"). Link only records the edge: neither Link nor Reported
// arms the child, which stays unarmed until a caller calls its Arm.
func (p *Probe) Link(child *Probe) {
	child.parent = p
	child.index = len(p.children)
	p.children = append(p.children, child)
	child.id = child.computeID()
}

// computeID hashes the chain of child indices from the root down to p,
// giving a stable value independent of any runtime counter.
func (p *Probe) computeID() ID {
	var path []byte
	for cur := p; cur != nil; cur = cur.parent {
		path = append([]byte{byte(cur.index), byte(cur.index >> 8)}, path...)
	}
	return ID(xxhash.Sum64(path))
}

func (p *Probe) ID() ID        { return p.id }
func (p *Probe) State() State  { return p.getState() }
func (p *Probe) Parent() *Probe { return p.parent }
func (p *Probe) Children() []*Probe { return p.children }

func (p *Probe) getState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Probe) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Arm resolves the domain and enables the event for the resulting
// attached set (unarmed -> armed). restrictTo, if non-nil, further
// limits the resolved domain to that set — used when arming a child
// whose parent just satisfied quorum for only part of its own domain
// (spec §4.5: "domain optionally filtered to the set of processes that
// just satisfied the parent").
func (p *Probe) Arm(eng engine.Engine, tables domain.Tables, restrictTo engine.ProcSet, fire event.FireFunc) error {
	if err := p.Event.Prepare(eng); err != nil {
		return err
	}
	attached, err := p.Domain.Resolve(tables)
	if err != nil {
		return err
	}
	if restrictTo != nil {
		filtered := engine.ProcSet{}
		for proc := range attached {
			if restrictTo.Contains(proc) {
				filtered.Add(proc)
			}
		}
		attached = filtered
	}
	p.attached = attached
	if err := p.Event.Enable(eng, attached, fire); err != nil {
		return err
	}
	p.setState(Armed)
	return nil
}

// Attached returns the domain resolved at the most recent Arm.
func (p *Probe) Attached() engine.ProcSet { return p.attached }

// Fire transitions armed -> triggered for proc/thread (spec §4.5:
// "The process is stopped; its tid is captured.").
func (p *Probe) Fire(proc engine.ProcID, thread engine.ThreadID) {
	p.mu.Lock()
	if p.state != Armed {
		p.mu.Unlock()
		return
	}
	p.state = Triggered
	p.triggered[proc] = thread
	p.mu.Unlock()
}

// EvaluateCondition runs p.Condition (if any) against r and applies the
// transition contract (triggered -> collected, or back to armed/dead):
// ResolvedFalse keeps the probe armed (for Stay) or kills it (for
// Once); Unresolved is treated as true only when the probe's event is
// a code location (spec §9 open question 1, resolved literally per
// DESIGN.md). It returns whether the probe continues on to collection.
func (p *Probe) EvaluateCondition(r expr.Resolver, isCodeLocation bool) (bool, error) {
	if p.Condition == nil {
		p.setState(Collected)
		return true, nil
	}
	res, err := p.Condition.Evaluate(r)
	if err != nil {
		return false, err
	}
	switch res {
	case condition.ResolvedTrue:
		p.setState(Collected)
		return true, nil
	case condition.Unresolved:
		if isCodeLocation {
			p.setState(Collected)
			return true, nil
		}
		p.reArmOrDie()
		return false, nil
	default: // ResolvedFalse, CollectiveResolvable (treated as false for now)
		p.reArmOrDie()
		return false, nil
	}
}

func (p *Probe) reArmOrDie() {
	if p.Persistence == Stay {
		p.setState(Armed)
	} else {
		p.setState(Dead)
	}
}

// Collect runs every action's Collect for proc and returns the
// aggregates produced (collected -> quorum-ready is driven by the
// coordinator once all actions have run; see package coordinator).
func (p *Probe) Collect(eng engine.Engine, proc engine.ProcID) ([]*aggregate.AGG, error) {
	p.mu.Lock()
	thread := p.triggered[proc]
	p.mu.Unlock()

	var out []*aggregate.AGG
	for _, act := range p.Actions {
		aggs, err := act.Collect(eng, proc, thread)
		if err != nil {
			return nil, err
		}
		out = append(out, aggs...)
	}
	return out, nil
}

// Reported transitions quorum-ready -> reported, then either dead
// (once) or armed (stay), per spec §4.5.
func (p *Probe) Reported() {
	p.mu.Lock()
	p.state = Reported
	p.mu.Unlock()
	p.reArmOrDie()
}

// MarkQuorumReady transitions collected -> quorum-ready.
func (p *Probe) MarkQuorumReady() { p.setState(QuorumReady) }
