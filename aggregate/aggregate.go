// Package aggregate implements the AggregateFunction kernel of spec
// §4.1: the closed set of aggregate kinds, their commutative/
// associative merge rule, and the synthetic describeVariable
// expansion. It does not itself touch the wire; see package wire for
// the packet envelope built on top of these types.
package aggregate

import (
	"bytes"
	"sort"

	"github.com/dysectapi/dysectapi/dyerr"
	"github.com/dysectapi/dysectapi/stats"
	"github.com/dysectapi/dysectapi/value"
)

// Kind is the closed set of aggregate functions from spec §4.1.
type Kind uint16

const (
	CountSampled Kind = iota
	Min
	Max
	Sum
	Avg
	First
	Last
	StaticStr
	RankList
	StackTraces
	DescribeVariable
)

func (k Kind) String() string {
	switch k {
	case CountSampled:
		return "countSampled"
	case Min:
		return "min"
	case Max:
		return "max"
	case Sum:
		return "sum"
	case Avg:
		return "avg"
	case First:
		return "first"
	case Last:
		return "last"
	case StaticStr:
		return "staticStr"
	case RankList:
		return "rankList"
	case StackTraces:
		return "stackTraces"
	case DescribeVariable:
		return "describeVariable"
	default:
		return "unknown"
	}
}

// MaxStaticStrLen is the char[N] capacity backing the staticStr kind.
const MaxStaticStrLen = 256

// RankRange is one run of the rankList's run-length-encoded set.
type RankRange struct {
	Lo, Hi uint32
}

// StackNode is one node of the merged stack-trace prefix tree.
type StackNode struct {
	FrameID  uint64
	Count    uint32
	Children []*StackNode
}

// AGG is a single aggregate in flight: a process-wide monotonically
// increasing id, its kind, a fold count, an owning probe, and
// kind-specific state. Exactly one of the kind-specific fields below is
// meaningful for any given Kind, mirroring the source's closed variant
// set (spec §9: sum types over a tagged-variant inheritance hierarchy).
type AGG struct {
	Kind  Kind
	ID    uint32
	Count uint64
	Owner uint32 // owning probe id (domain.ProbeID), 0 if unset

	Val       value.Value // min/max/sum/avg/first/last
	Timestamp uint64      // first/last logical timestamp
	Str       string      // staticStr
	Ranks     []RankRange // rankList, sorted+coalesced
	Stack     []*StackNode
	Sub       map[uint32]*AGG // describeVariable
}

// Identity returns the zero-state aggregate for kind/id: merging any
// AGG with its Identity returns that AGG unchanged (count stays put),
// satisfying the algebra's identity-element property (spec §8).
func Identity(kind Kind, id uint32) *AGG {
	a := &AGG{Kind: kind, ID: id, Count: 0}
	if kind == DescribeVariable {
		a.Sub = map[uint32]*AGG{}
	}
	return a
}

// Merge combines a and b, which must share (Kind, ID); callers compare
// operand shape (e.g. matching sub-aggregate ids for describeVariable)
// themselves where applicable. Merge is commutative and associative for
// every kind below (spec §8).
func Merge(a, b *AGG) (*AGG, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	if a.Kind != b.Kind || a.ID != b.ID {
		return nil, dyerr.New(dyerr.KindMismatch, "aggregate %d: kind/id mismatch (%v/%d vs %v/%d)", a.ID, a.Kind, a.ID, b.Kind, b.ID)
	}

	out := &AGG{Kind: a.Kind, ID: a.ID, Owner: a.Owner, Count: a.Count + b.Count}

	switch a.Kind {
	case CountSampled:
		// state IS the fold count; nothing else to merge.
	case Min:
		if a.Count == 0 {
			out.Val = b.Val
		} else if b.Count == 0 {
			out.Val = a.Val
		} else if a.Val.Compare(b.Val) <= 0 {
			out.Val = a.Val
		} else {
			out.Val = b.Val
		}
	case Max:
		if a.Count == 0 {
			out.Val = b.Val
		} else if b.Count == 0 {
			out.Val = a.Val
		} else if a.Val.Compare(b.Val) >= 0 {
			out.Val = a.Val
		} else {
			out.Val = b.Val
		}
	case Sum, Avg:
		if a.Count == 0 {
			out.Val = b.Val
		} else if b.Count == 0 {
			out.Val = a.Val
		} else {
			out.Val = a.Val.Add(b.Val)
		}
	case First:
		out.Val, out.Timestamp = pickByTimestamp(a, b, true)
	case Last:
		out.Val, out.Timestamp = pickByTimestamp(a, b, false)
	case StaticStr:
		if a.Count == 0 {
			out.Str = b.Str
		} else if b.Count == 0 {
			out.Str = a.Str
		} else if a.Str <= b.Str {
			out.Str = a.Str
		} else {
			out.Str = b.Str
		}
	case RankList:
		out.Ranks = unionRanks(a.Ranks, b.Ranks)
	case StackTraces:
		out.Stack = mergeStackForest(a.Stack, b.Stack)
	case DescribeVariable:
		sub := map[uint32]*AGG{}
		for id, av := range a.Sub {
			sub[id] = av
		}
		for id, bv := range b.Sub {
			if av, ok := sub[id]; ok {
				merged, err := Merge(av, bv)
				if err != nil {
					return nil, err
				}
				sub[id] = merged
			} else {
				sub[id] = bv
			}
		}
		out.Sub = sub
	default:
		return nil, dyerr.New(dyerr.KindMismatch, "unknown aggregate kind %v", a.Kind)
	}

	stats.Counter(stats.AggregateKey("merge", out.Kind.String())).Inc(1)
	return out, nil
}

// pickByTimestamp implements First (wantSmaller=true) and Last
// (wantSmaller=false). It breaks timestamp ties by comparing the raw
// value bytes so the result stays a deterministic, symmetric function
// of (a, b) — required for commutativity.
func pickByTimestamp(a, b *AGG, wantSmaller bool) (value.Value, uint64) {
	if a.Count == 0 {
		return b.Val, b.Timestamp
	}
	if b.Count == 0 {
		return a.Val, a.Timestamp
	}
	if a.Timestamp != b.Timestamp {
		if (a.Timestamp < b.Timestamp) == wantSmaller {
			return a.Val, a.Timestamp
		}
		return b.Val, b.Timestamp
	}
	if bytes.Compare(a.Val.Bytes(), b.Val.Bytes()) <= 0 {
		return a.Val, a.Timestamp
	}
	return b.Val, b.Timestamp
}

// unionRanks merges two sorted run-length-encoded rank sets into a
// single sorted, coalesced set.
func unionRanks(a, b []RankRange) []RankRange {
	all := make([]RankRange, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	if len(all) == 0 {
		return all
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Lo != all[j].Lo {
			return all[i].Lo < all[j].Lo
		}
		return all[i].Hi < all[j].Hi
	})
	out := []RankRange{all[0]}
	for _, r := range all[1:] {
		last := &out[len(out)-1]
		if r.Lo <= last.Hi+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// mergeStackForest performs a per-node frame-id union merge, summing
// counts on shared prefixes. The result is independent of merge order:
// it is a multiset union keyed by FrameID at each tree level.
func mergeStackForest(a, b []*StackNode) []*StackNode {
	byFrame := map[uint64]*StackNode{}
	order := []uint64{}
	add := func(n *StackNode) {
		if existing, ok := byFrame[n.FrameID]; ok {
			existing.Count += n.Count
			existing.Children = mergeStackForest(existing.Children, n.Children)
			return
		}
		cp := &StackNode{FrameID: n.FrameID, Count: n.Count, Children: append([]*StackNode{}, n.Children...)}
		byFrame[n.FrameID] = cp
		order = append(order, n.FrameID)
	}
	for _, n := range a {
		add(n)
	}
	for _, n := range b {
		add(n)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]*StackNode, 0, len(order))
	for _, fid := range order {
		out = append(out, byFrame[fid])
	}
	return out
}
