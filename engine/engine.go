// Package engine defines the debugger-engine interface consumed by the
// rest of the core (spec §6) plus an in-memory fake used by tests and
// local development. Nothing in this repository implements a real
// debugger backend; that integration is explicitly out of scope.
package engine

import (
	"sort"

	"github.com/dysectapi/dysectapi/dyerr"
	"github.com/dysectapi/dysectapi/value"
)

// ProcID identifies a single target process within a session.
type ProcID uint32

// ThreadID identifies a thread within a ProcID.
type ThreadID uint32

// ProcSet is an immutable-by-convention set of processes, the shape
// the event and domain layers exchange as "the attached set" (spec
// §4.3/§4.4). Callers treat values received from domain resolution as
// read-only snapshots (spec §5: "exposed to the engine thread through
// immutable snapshots").
type ProcSet map[ProcID]struct{}

// NewProcSet builds a ProcSet from the given processes.
func NewProcSet(procs ...ProcID) ProcSet {
	s := make(ProcSet, len(procs))
	for _, p := range procs {
		s[p] = struct{}{}
	}
	return s
}

// Contains reports whether proc is a member of s. A nil set contains
// nothing.
func (s ProcSet) Contains(proc ProcID) bool {
	_, ok := s[proc]
	return ok
}

// Add inserts proc into s.
func (s ProcSet) Add(proc ProcID) { s[proc] = struct{}{} }

// Union returns a new set holding every member of s and o.
func (s ProcSet) Union(o ProcSet) ProcSet {
	out := make(ProcSet, len(s)+len(o))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range o {
		out[p] = struct{}{}
	}
	return out
}

// Subset reports whether every member of s is also a member of o,
// exercised by the domain-inheritance testable property (spec §8).
func (s ProcSet) Subset(o ProcSet) bool {
	for p := range s {
		if !o.Contains(p) {
			return false
		}
	}
	return true
}

// Slice returns s's members in ascending order, for deterministic
// iteration (logging, packet encoding order).
func (s ProcSet) Slice() []ProcID {
	out := make([]ProcID, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DataLocation is the resolved address + type of a named variable,
// returned by FindVariable and consumed by ReadAt.
type DataLocation struct {
	Addr uint64
	Tag  value.Tag
}

// Frame is one entry of a stackwalk, ordered innermost first.
type Frame struct {
	FrameID  uint64
	PC       uint64
	Function string
}

// BreakpointFunc is invoked synchronously, on the engine's own thread,
// each time a registered breakpoint is hit (spec §5: "the debugger
// engine ... run on dedicated OS threads that communicate via
// lock-protected queues").
type BreakpointFunc func(proc ProcID, thread ThreadID)

// Engine is the debugger-engine interface consumed by the event,
// action and domain layers (spec §6). Every method may fail with a
// dyerr.Code of ResolutionFailure, TargetTransient or Fatal.
type Engine interface {
	// ResolveSymbol turns a code-location expression (symbol name,
	// "lib!symbol", or source-line reference) into an address. This
	// extends the literal spec §6 interface list with the resolution
	// step §4.3 describes prepare() as performing.
	ResolveSymbol(proc ProcID, expr string) (uint64, error)
	FindVariable(proc ProcID, name string) (DataLocation, error)
	ReadAt(proc ProcID, loc DataLocation) (value.Value, error)
	BreakpointAt(addr uint64, cb BreakpointFunc) error
	Stackwalk(proc ProcID, thread ThreadID) ([]Frame, error)
	LoadLibrary(proc ProcID, path string) error
	CallFunction(proc ProcID, name string, args []byte) error
	WriteMem(proc ProcID, addr uint64, buf []byte) error
	ContinueProc(proc ProcID) error
}

// NotFound wraps a lookup failure as a ResolutionFailure, matching the
// engine interface's documented {NotFound, Transient, Fatal} outcomes.
func NotFound(format string, args ...interface{}) error {
	return dyerr.New(dyerr.ResolutionFailure, format, args...)
}

// Transient wraps a recoverable target failure as TargetTransient.
func Transient(format string, args ...interface{}) error {
	return dyerr.New(dyerr.TargetTransient, format, args...)
}
