// Package condition wraps an expr tree with the tri-state evaluation
// semantics of spec §4.2: a Condition resolves to true, false, or
// Unresolved when it touches target state the engine cannot currently
// read (detached process, library not yet loaded). Grounded on
// original_source's condition_be.cpp / DataRef classification.
package condition

import (
	"github.com/dysectapi/dysectapi/expr"
	"github.com/dysectapi/dysectapi/value"
)

// Result is the tri-state (plus collective) outcome of evaluating a
// Condition once against a single resolver.
type Result int

const (
	// Unresolved means at least one referenced target value could not
	// be read; probe.EvaluateCondition lets a code-location probe go on
	// to collection and otherwise re-arms (stay) or kills (once) it.
	Unresolved Result = iota
	ResolvedTrue
	ResolvedFalse
	// CollectiveResolvable marks a condition whose resolution depends
	// on a quorum of distributed evaluators rather than a single
	// process (e.g. a rank-spanning comparison). Evaluate never returns
	// it, and probe.EvaluateCondition handles it like ResolvedFalse; no
	// collective reduction is performed anywhere.
	CollectiveResolvable
)

func (r Result) String() string {
	switch r {
	case Unresolved:
		return "unresolved"
	case ResolvedTrue:
		return "true"
	case ResolvedFalse:
		return "false"
	case CollectiveResolvable:
		return "collectiveResolvable"
	default:
		return "unknown"
	}
}

// NodeType classifies a condition's expression tree by what it reads,
// mirroring original_source's DataRef{Constant,Target,Global} split.
// Global is reserved: the domain layer does not expose global
// (cross-process shared) variables, so classify never produces it.
type NodeType int

const (
	NodeConstant NodeType = iota
	NodeTarget
	NodeGlobal
	NodeMixed
)

// Condition is a parsed, classified boolean expression attached to a
// probe (spec §2, Probe.condition).
type Condition struct {
	Source string
	Tree   *expr.Node
	Type   NodeType
}

// New parses src and classifies the resulting tree.
func New(src string) (*Condition, error) {
	tree, err := expr.Parse(src)
	if err != nil {
		return nil, err
	}
	return &Condition{Source: src, Tree: tree, Type: classify(tree)}, nil
}

func classify(n *expr.Node) NodeType {
	if expr.HasVar(n) {
		return NodeTarget
	}
	return NodeConstant
}

// Evaluate resolves the condition's tree against r. A constant
// condition (no target variable references) always yields a Resolved
// outcome, never Unresolved.
func (c *Condition) Evaluate(r expr.Resolver) (Result, error) {
	res, err := expr.Eval(c.Tree, r)
	if err != nil {
		return Unresolved, err
	}
	if res.Status == expr.Unresolved {
		return Unresolved, nil
	}
	if truthy(res) {
		return ResolvedTrue, nil
	}
	return ResolvedFalse, nil
}

func truthy(r expr.EvalResult) bool {
	if r.Val.Tag() == value.Bool {
		return r.Val.Bool()
	}
	if l, ok := r.Val.AsLong(); ok {
		return l != 0
	}
	d, _ := r.Val.AsDouble()
	return d != 0
}
