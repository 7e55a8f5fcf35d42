// Package action implements the closed Action set of spec §4.6:
// trace, stat, stackTrace, detach, depositCore, loadLibrary,
// writeModuleVariable, irpc, signal, totalview. Grounded on
// original_source's libDysectAPI/include/DysectAPI/Action.h.
package action

import (
	"bytes"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/value"
)

// Scope selects which processes of a probe's domain an action applies
// to (spec §4.6).
type Scope int

const (
	SatisfyingProcs Scope = iota + 1
	InvSatisfyingProcs
	AllProcs
)

var idCounter uint32

// nextID hands out a process-wide monotonically increasing aggregate
// id, mirroring the source's static Act::aggregateIdCounter.
func nextID() uint32 { return atomic.AddUint32(&idCounter, 1) }

// Action is the interface every action kind below satisfies. Collect
// runs at the triggered process/thread and returns the aggregates it
// folds into the probe's staging slot (spec §4.5, collected state);
// FinishFE renders the front-end-visible result once a probe has
// reported, given the final merged aggregates and the reporting
// process count.
type Action interface {
	Prepare(eng engine.Engine) error
	Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error)
	FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error)
}

// --- trace ---

// substToken is one parsed piece of a trace format string: either a
// literal run of text, or one of @function()/@location()/@desc(var)/
// @min(var)/@max(var).
type substToken struct {
	literal string
	kind    string // "", "function", "location", "desc", "min", "max"
	arg     string
	aggID   uint32 // assigned for kind != ""
}

var traceSubstRe = regexp.MustCompile(`@(function|location|desc|min|max)\(([^)]*)\)`)

// Trace implements the trace(format) action (spec §4.6).
type Trace struct {
	Format string
	tokens []substToken
}

func NewTrace(format string) *Trace {
	t := &Trace{Format: format}
	t.tokens = parseTraceFormat(format)
	return t
}

func parseTraceFormat(format string) []substToken {
	var tokens []substToken
	last := 0
	for _, loc := range traceSubstRe.FindAllStringSubmatchIndex(format, -1) {
		if loc[0] > last {
			tokens = append(tokens, substToken{literal: format[last:loc[0]]})
		}
		kind := format[loc[2]:loc[3]]
		arg := format[loc[4]:loc[5]]
		tokens = append(tokens, substToken{kind: kind, arg: arg, aggID: nextID()})
		last = loc[1]
	}
	if last < len(format) {
		tokens = append(tokens, substToken{literal: format[last:]})
	}
	return tokens
}

func (t *Trace) Prepare(eng engine.Engine) error { return nil }

// Collect reads every substitution's target variable (for desc/min/max)
// once and folds it into per-token aggregates: @desc produces a
// describeVariable synthetic aggregate (spec §4.6), @min/@max produce
// plain min/max aggregates.
func (t *Trace) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	var out []*aggregate.AGG
	for _, tok := range t.tokens {
		switch tok.kind {
		case "min", "max":
			v, err := readVar(eng, proc, tok.arg)
			if err != nil {
				return nil, err
			}
			kind := aggregate.Min
			if tok.kind == "max" {
				kind = aggregate.Max
			}
			out = append(out, &aggregate.AGG{Kind: kind, ID: tok.aggID, Count: 1, Val: v})
		case "desc":
			v, err := readVar(eng, proc, tok.arg)
			if err != nil {
				return nil, err
			}
			sub := map[uint32]*aggregate.AGG{
				nextID(): {Kind: aggregate.Min, ID: tok.aggID, Count: 1, Val: v},
				nextID(): {Kind: aggregate.Max, ID: tok.aggID, Count: 1, Val: v},
			}
			out = append(out, &aggregate.AGG{Kind: aggregate.DescribeVariable, ID: tok.aggID, Count: 1, Sub: sub})
		case "function", "location":
			frames, err := eng.Stackwalk(proc, thread)
			if err != nil || len(frames) == 0 {
				continue
			}
			out = append(out, &aggregate.AGG{Kind: aggregate.StaticStr, ID: tok.aggID, Count: 1, Str: frames[0].Function})
		}
	}
	return out, nil
}

func readVar(eng engine.Engine, proc engine.ProcID, name string) (value.Value, error) {
	loc, err := eng.FindVariable(proc, name)
	if err != nil {
		return value.Value{}, err
	}
	return eng.ReadAt(proc, loc)
}

// FinishFE interpolates the collected aggregates back into the format
// string.
func (t *Trace) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) {
	var buf bytes.Buffer
	for _, tok := range t.tokens {
		if tok.kind == "" {
			buf.WriteString(tok.literal)
			continue
		}
		agg, ok := aggs[tok.aggID]
		if !ok {
			continue
		}
		writeRendered(&buf, agg)
	}
	return buf.String(), nil
}

func writeRendered(buf *bytes.Buffer, agg *aggregate.AGG) {
	switch agg.Kind {
	case aggregate.Min, aggregate.Max:
		fmt.Fprintf(buf, "%s", agg.Val.String())
	case aggregate.StaticStr:
		buf.WriteString(agg.Str)
	case aggregate.DescribeVariable:
		first := true
		for _, sub := range agg.Sub {
			if !first {
				buf.WriteString(" ")
			}
			writeRendered(buf, sub)
			first = false
		}
	}
}

// --- stat ---

// Stat requests the external stat-trace sampler to capture Traces
// stack traces at Frequency Hz across Scope (spec §4.6). The requested
// frequency is mapped onto a bounded log-linear bucket set before
// being handed to the sampler, so a caller can't request an
// arbitrarily fine interval (SPEC_FULL §C.6).
type Stat struct {
	Scope     Scope
	Traces    int
	Frequency int
	Threads   bool

	sampler StatSampler
}

// StatSampler is the external stat-trace sampler the core delegates
// to; it is consumed, not implemented, here (spec's "external stat-
// trace sampler").
type StatSampler interface {
	Sample(proc engine.ProcID, thread engine.ThreadID, traces int, bucketHz int) ([]*aggregate.StackNode, error)
}

func NewStat(scope Scope, traces, frequency int, threads bool, sampler StatSampler) *Stat {
	return &Stat{Scope: scope, Traces: traces, Frequency: frequency, Threads: threads, sampler: sampler}
}

func (s *Stat) Prepare(eng engine.Engine) error { return nil }

func (s *Stat) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	if s.sampler == nil {
		return nil, nil
	}
	bucketHz := bucketFrequency(s.Frequency)
	stack, err := s.sampler.Sample(proc, thread, s.Traces, bucketHz)
	if err != nil {
		return nil, err
	}
	return []*aggregate.AGG{{Kind: aggregate.StackTraces, ID: nextID(), Count: 1, Stack: stack}}, nil
}

func (s *Stat) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) {
	return "", nil
}

// --- stackTrace ---

// StackTrace captures a single immediate stack trace per triggered
// thread; finishBE's prefix merging is the aggregate package's
// StackTraces merge rule, applied by the coordinator, not here.
type StackTrace struct{}

func NewStackTrace() *StackTrace { return &StackTrace{} }

func (s *StackTrace) Prepare(eng engine.Engine) error { return nil }

func (s *StackTrace) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	frames, err := eng.Stackwalk(proc, thread)
	if err != nil {
		return nil, err
	}
	return []*aggregate.AGG{{Kind: aggregate.StackTraces, ID: nextID(), Count: 1, Stack: framesToStack(frames)}}, nil
}

func framesToStack(frames []engine.Frame) []*aggregate.StackNode {
	// frames[0] is innermost; build a single-path chain, root last.
	var root []*aggregate.StackNode
	var cur *[]*aggregate.StackNode = &root
	for i := len(frames) - 1; i >= 0; i-- {
		node := &aggregate.StackNode{FrameID: frames[i].PC, Count: 1}
		*cur = append(*cur, node)
		cur = &node.Children
	}
	return root
}

func (s *StackTrace) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) {
	return "", nil
}

// --- detach ---

// Detacher removes a process from the owning session, preventing
// further probe participation (spec §4.6). It is injected rather than
// imported directly to avoid action depending on session (spec §9's
// non-owning back-reference discipline).
type Detacher interface {
	Detach(proc engine.ProcID) error
}

// Detach is idempotent: detaching an already-detached process is not
// an error.
type Detach struct {
	Scope    Scope
	detacher Detacher
}

func NewDetach(scope Scope, detacher Detacher) *Detach {
	return &Detach{Scope: scope, detacher: detacher}
}

func (d *Detach) Prepare(eng engine.Engine) error { return nil }

func (d *Detach) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	if d.detacher == nil {
		return nil, nil
	}
	return nil, d.detacher.Detach(proc)
}

func (d *Detach) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) {
	return "", nil
}

// --- thin engine-marshalled commands ---

// DepositCore requests a core dump of the triggered process.
type DepositCore struct{ Path string }

func NewDepositCore(path string) *DepositCore { return &DepositCore{Path: path} }
func (d *DepositCore) Prepare(eng engine.Engine) error { return nil }
func (d *DepositCore) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	return nil, eng.CallFunction(proc, "depositCore", []byte(d.Path))
}
func (d *DepositCore) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) { return "", nil }

// LoadLibrary loads a shared object into the triggered process.
type LoadLibrary struct{ Path string }

func NewLoadLibrary(path string) *LoadLibrary { return &LoadLibrary{Path: path} }
func (l *LoadLibrary) Prepare(eng engine.Engine) error { return nil }
func (l *LoadLibrary) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	return nil, eng.LoadLibrary(proc, l.Path)
}
func (l *LoadLibrary) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) { return "", nil }

// WriteModuleVariable writes a literal byte buffer to a named
// variable's location.
type WriteModuleVariable struct {
	Var string
	Buf []byte
}

func NewWriteModuleVariable(v string, buf []byte) *WriteModuleVariable {
	return &WriteModuleVariable{Var: v, Buf: buf}
}
func (w *WriteModuleVariable) Prepare(eng engine.Engine) error { return nil }
func (w *WriteModuleVariable) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	loc, err := eng.FindVariable(proc, w.Var)
	if err != nil {
		return nil, err
	}
	return nil, eng.WriteMem(proc, loc.Addr, w.Buf)
}
func (w *WriteModuleVariable) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) {
	return "", nil
}

// IRPC calls a named function in the triggered process with a raw
// argument buffer (integrated remote procedure call, in the source's
// terminology).
type IRPC struct {
	Function string
	Args     []byte
}

func NewIRPC(function string, args []byte) *IRPC { return &IRPC{Function: function, Args: args} }
func (r *IRPC) Prepare(eng engine.Engine) error   { return nil }
func (r *IRPC) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	return nil, eng.CallFunction(proc, r.Function, r.Args)
}
func (r *IRPC) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) { return "", nil }

// Signal delivers a signal to the triggered process via a call into
// the debugger engine's function-call facility (the engine interface
// of spec §6 has no native "send signal" verb).
type Signal struct{ Num int }

func NewSignal(num int) *Signal { return &Signal{Num: num} }
func (s *Signal) Prepare(eng engine.Engine) error { return nil }
func (s *Signal) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	return nil, eng.CallFunction(proc, "kill", []byte{byte(s.Num)})
}
func (s *Signal) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) { return "", nil }

// Totalview notifies an attached TotalView session of the triggered
// event, a legacy HPC-debugger integration point named explicitly in
// the source's action set.
type Totalview struct{ Message string }

func NewTotalview(message string) *Totalview { return &Totalview{Message: message} }
func (t *Totalview) Prepare(eng engine.Engine) error { return nil }
func (t *Totalview) Collect(eng engine.Engine, proc engine.ProcID, thread engine.ThreadID) ([]*aggregate.AGG, error) {
	return nil, eng.CallFunction(proc, "totalview_notify", []byte(t.Message))
}
func (t *Totalview) FinishFE(aggs map[uint32]*aggregate.AGG, count int) (string, error) { return "", nil }

// bucketFrequency maps a requested sampling frequency (Hz) onto a
// bounded log-linear bucket set, so a caller can't request arbitrarily
// fine sampling that would swamp the target: below 16 Hz every integer
// value is its own bucket, above it buckets double per octave.
func bucketFrequency(hz int) int {
	if hz <= 0 {
		return 1
	}
	const linearCeiling = 16
	if hz <= linearCeiling {
		return hz
	}
	bucket := linearCeiling
	for bucket*2 <= hz {
		bucket *= 2
	}
	return bucket
}
