// Package wire implements the packet envelope of spec §6: encode
// aggregates into the tagged, big-endian byte format that flows
// through the overlay, and decode them back. The aggregate algebra
// itself lives in package aggregate; this package only knows how to
// serialize it.
package wire

import (
	"encoding/binary"

	"github.com/golang/snappy"

	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/dyerr"
	"github.com/dysectapi/dysectapi/value"
)

// Magic is the top byte of every packet's first word (spec §6).
const Magic byte = 0x7E

// Flags, a 16-bit bitset in the envelope.
const (
	FlagPartial     uint16 = 1 << 0
	FlagCompressed  uint16 = 1 << 1
	compressionMinN        = 512 // bytes; bodies smaller than this are never compressed
)

// Envelope is the per-packet header of spec §6.
type Envelope struct {
	StreamID uint32
	ProbeID  uint32
	Count    uint32
	Flags    uint16
}

// Partial reports whether this packet was emitted before full quorum.
func (e Envelope) Partial() bool { return e.Flags&FlagPartial != 0 }

// IsDysectTag reports whether b's first byte is the overlay routing
// signature 0x7E (spec §6, isDysectTag).
func IsDysectTag(b []byte) bool {
	return len(b) > 0 && b[0] == Magic
}

// IsDysectTagWord checks the same signature against a pre-assembled
// 32-bit first word, matching the spec's literal
// "(tag & 0xFF000000) == 0x7E000000" formulation.
func IsDysectTagWord(word uint32) bool {
	return word&0xFF000000 == uint32(Magic)<<24
}

func align8(n int) int { return (n + 7) &^ 7 }

// Encode serializes a set of aggregates into one packet under the
// given envelope. Each aggregate gets a 16-byte (8-byte-aligned)
// header followed by its kind-specific, 8-byte-aligned payload (spec
// §4.1's invariant). The body is snappy-compressed (FlagCompressed set)
// once it is at least compressionMinN bytes.
func Encode(env Envelope, aggs []*aggregate.AGG) ([]byte, error) {
	body, err := encodeBody(aggs)
	if err != nil {
		return nil, err
	}

	flags := env.Flags
	if len(body) >= compressionMinN {
		body = snappy.Encode(nil, body)
		flags |= FlagCompressed
	}

	out := make([]byte, 0, 19+len(body))
	out = append(out, Magic)
	out = appendBE32(out, env.StreamID)
	out = appendBE32(out, env.ProbeID)
	out = appendBE32(out, env.Count)
	out = appendBE16(out, flags)
	out = appendBE32(out, uint32(len(body)))
	out = append(out, body...)
	return out, nil
}

func appendBE16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func appendBE32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendBE64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readBE16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func readBE32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func readBE64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func encodeBody(aggs []*aggregate.AGG) ([]byte, error) {
	var body []byte
	for _, a := range aggs {
		payload, err := encodePayload(a)
		if err != nil {
			return nil, err
		}
		header := make([]byte, 0, 16)
		header = appendBE16(header, uint16(a.Kind))
		header = appendBE32(header, a.ID)
		header = appendBE32(header, uint32(a.Count))
		header = appendBE32(header, uint32(len(payload)))
		header = appendBE16(header, 0) // 2-byte pad to reach 16 bytes
		body = append(body, header...)
		body = append(body, payload...)
		if pad := align8(len(payload)) - len(payload); pad > 0 {
			body = append(body, make([]byte, pad)...)
		}
	}
	return body, nil
}

func encodePayload(a *aggregate.AGG) ([]byte, error) {
	switch a.Kind {
	case aggregate.CountSampled:
		return appendBE64(nil, a.Count), nil
	case aggregate.Min, aggregate.Max, aggregate.Sum, aggregate.Avg:
		return encodeTypedValue(a.Val), nil
	case aggregate.First, aggregate.Last:
		p := encodeTypedValue(a.Val)
		return appendBE64(p, a.Timestamp), nil
	case aggregate.StaticStr:
		s := a.Str
		if len(s) > aggregate.MaxStaticStrLen {
			s = s[:aggregate.MaxStaticStrLen]
		}
		p := appendBE32(nil, uint32(len(s)))
		return append(p, []byte(s)...), nil
	case aggregate.RankList:
		p := appendBE32(nil, uint32(len(a.Ranks)))
		for _, r := range a.Ranks {
			p = appendBE32(p, r.Lo)
			p = appendBE32(p, r.Hi)
		}
		return p, nil
	case aggregate.StackTraces:
		return encodeStackForest(a.Stack), nil
	case aggregate.DescribeVariable:
		return encodeSub(a.Sub)
	default:
		return nil, dyerr.New(dyerr.MalformedPacket, "unknown aggregate kind %v for encode", a.Kind)
	}
}

func encodeTypedValue(v value.Value) []byte {
	out := []byte{byte(v.Tag())}
	return append(out, v.Bytes()...)
}

func decodeTypedValue(b []byte) (value.Value, int, error) {
	if len(b) < 1 {
		return value.Value{}, 0, dyerr.New(dyerr.MalformedPacket, "truncated typed value")
	}
	tag := value.Tag(b[0])
	n := tagSize(tag)
	if len(b) < 1+n {
		return value.Value{}, 0, dyerr.New(dyerr.MalformedPacket, "truncated typed value body")
	}
	v, err := value.FromBytes(tag, append([]byte(nil), b[1:1+n]...))
	if err != nil {
		return value.Value{}, 0, dyerr.New(dyerr.MalformedPacket, "%v", err)
	}
	return v, 1 + n, nil
}

func tagSize(t value.Tag) int {
	switch t {
	case value.None:
		return 0
	case value.Bool:
		return 1
	case value.Int, value.Float:
		return 4
	case value.Long, value.Double, value.Pointer:
		return 8
	default:
		return 0
	}
}

// flattened stack node, used only for wire (parentIdx(u32) frameId(u64) count(u32)).
type flatNode struct {
	parent int
	node   *aggregate.StackNode
}

func encodeStackForest(roots []*aggregate.StackNode) []byte {
	var flat []flatNode
	var walk func(parent int, n *aggregate.StackNode)
	walk = func(parent int, n *aggregate.StackNode) {
		idx := len(flat)
		flat = append(flat, flatNode{parent: parent, node: n})
		for _, c := range n.Children {
			walk(idx, c)
		}
	}
	for _, r := range roots {
		walk(-1, r)
	}

	out := appendBE32(nil, uint32(len(flat)))
	for _, f := range flat {
		parentIdx := uint32(0xFFFFFFFF)
		if f.parent >= 0 {
			parentIdx = uint32(f.parent)
		}
		out = appendBE32(out, parentIdx)
		out = appendBE64(out, f.node.FrameID)
		out = appendBE32(out, f.node.Count)
	}
	return out
}

func decodeStackForest(b []byte) ([]*aggregate.StackNode, error) {
	if len(b) < 4 {
		return nil, dyerr.New(dyerr.MalformedPacket, "truncated stack forest")
	}
	n := int(readBE32(b))
	off := 4
	nodes := make([]*aggregate.StackNode, n)
	parents := make([]int, n)
	for i := 0; i < n; i++ {
		if off+16 > len(b) {
			return nil, dyerr.New(dyerr.MalformedPacket, "truncated stack node %d", i)
		}
		parentIdx := readBE32(b[off:])
		frameID := readBE64(b[off+4:])
		count := readBE32(b[off+12:])
		off += 16
		if parentIdx == 0xFFFFFFFF {
			parents[i] = -1
		} else {
			parents[i] = int(parentIdx)
		}
		nodes[i] = &aggregate.StackNode{FrameID: frameID, Count: count}
	}
	var roots []*aggregate.StackNode
	for i, p := range parents {
		if p < 0 {
			roots = append(roots, nodes[i])
		} else {
			nodes[p].Children = append(nodes[p].Children, nodes[i])
		}
	}
	return roots, nil
}

func encodeSub(sub map[uint32]*aggregate.AGG) ([]byte, error) {
	out := appendBE16(nil, uint16(len(sub)))
	for id, a := range sub {
		payload, err := encodePayload(a)
		if err != nil {
			return nil, err
		}
		out = appendBE32(out, id)
		out = appendBE16(out, uint16(a.Kind))
		out = appendBE32(out, uint32(len(payload)))
		out = append(out, payload...)
	}
	return out, nil
}

func decodeSub(b []byte, count uint64) (map[uint32]*aggregate.AGG, error) {
	if len(b) < 2 {
		return nil, dyerr.New(dyerr.MalformedPacket, "truncated sub-aggregate count")
	}
	n := int(readBE16(b))
	off := 2
	out := map[uint32]*aggregate.AGG{}
	for i := 0; i < n; i++ {
		if off+10 > len(b) {
			return nil, dyerr.New(dyerr.MalformedPacket, "truncated sub-aggregate %d header", i)
		}
		subID := readBE32(b[off:])
		kind := aggregate.Kind(readBE16(b[off+4:]))
		length := int(readBE32(b[off+6:]))
		off += 10
		if off+length > len(b) {
			return nil, dyerr.New(dyerr.MalformedPacket, "sub-aggregate %d payload overruns buffer", i)
		}
		a, err := decodePayload(kind, subID, count, b[off:off+length])
		if err != nil {
			return nil, err
		}
		off += length
		out[subID] = a
	}
	return out, nil
}

func decodePayload(kind aggregate.Kind, id uint32, count uint64, p []byte) (*aggregate.AGG, error) {
	a := &aggregate.AGG{Kind: kind, ID: id, Count: count}
	switch kind {
	case aggregate.CountSampled:
		if len(p) < 8 {
			return nil, dyerr.New(dyerr.MalformedPacket, "truncated countSampled payload")
		}
	case aggregate.Min, aggregate.Max, aggregate.Sum, aggregate.Avg:
		v, _, err := decodeTypedValue(p)
		if err != nil {
			return nil, err
		}
		a.Val = v
	case aggregate.First, aggregate.Last:
		v, n, err := decodeTypedValue(p)
		if err != nil {
			return nil, err
		}
		if len(p) < n+8 {
			return nil, dyerr.New(dyerr.MalformedPacket, "truncated first/last timestamp")
		}
		a.Val = v
		a.Timestamp = readBE64(p[n:])
	case aggregate.StaticStr:
		if len(p) < 4 {
			return nil, dyerr.New(dyerr.MalformedPacket, "truncated staticStr length")
		}
		n := int(readBE32(p))
		if len(p) < 4+n {
			return nil, dyerr.New(dyerr.MalformedPacket, "staticStr payload overruns buffer")
		}
		a.Str = string(p[4 : 4+n])
	case aggregate.RankList:
		if len(p) < 4 {
			return nil, dyerr.New(dyerr.MalformedPacket, "truncated rankList count")
		}
		n := int(readBE32(p))
		off := 4
		for i := 0; i < n; i++ {
			if off+8 > len(p) {
				return nil, dyerr.New(dyerr.MalformedPacket, "rankList range %d overruns buffer", i)
			}
			a.Ranks = append(a.Ranks, aggregate.RankRange{Lo: readBE32(p[off:]), Hi: readBE32(p[off+4:])})
			off += 8
		}
	case aggregate.StackTraces:
		stack, err := decodeStackForest(p)
		if err != nil {
			return nil, err
		}
		a.Stack = stack
	case aggregate.DescribeVariable:
		sub, err := decodeSub(p, count)
		if err != nil {
			return nil, err
		}
		a.Sub = sub
	default:
		return nil, dyerr.New(dyerr.MalformedPacket, "unknown aggregate kind %d", kind)
	}
	return a, nil
}

// Decode parses a packet back into its envelope and an id-keyed map of
// aggregates (spec §6/§8 round-trip property).
func Decode(packet []byte) (Envelope, map[uint32]*aggregate.AGG, error) {
	if len(packet) < 19 {
		return Envelope{}, nil, dyerr.New(dyerr.MalformedPacket, "packet too short for envelope: %d bytes", len(packet))
	}
	if packet[0] != Magic {
		return Envelope{}, nil, dyerr.New(dyerr.MalformedPacket, "bad magic byte 0x%x", packet[0])
	}
	env := Envelope{
		StreamID: readBE32(packet[1:]),
		ProbeID:  readBE32(packet[5:]),
		Count:    readBE32(packet[9:]),
		Flags:    readBE16(packet[13:]),
	}
	length := readBE32(packet[15:])
	body := packet[19:]
	if uint32(len(body)) < length {
		return Envelope{}, nil, dyerr.New(dyerr.MalformedPacket, "body length %d overruns buffer (have %d)", length, len(body))
	}
	body = body[:length]

	if env.Flags&FlagCompressed != 0 {
		decompressed, err := snappy.Decode(nil, body)
		if err != nil {
			return Envelope{}, nil, dyerr.New(dyerr.MalformedPacket, "snappy decode failed: %v", err)
		}
		body = decompressed
	}

	aggs := map[uint32]*aggregate.AGG{}
	off := 0
	for off < len(body) {
		if off+16 > len(body) {
			return Envelope{}, nil, dyerr.New(dyerr.MalformedPacket, "truncated aggregate header at offset %d", off)
		}
		kind := aggregate.Kind(readBE16(body[off:]))
		id := readBE32(body[off+2:])
		count := uint64(readBE32(body[off+6:]))
		length := int(readBE32(body[off+10:]))
		off += 16
		if off+length > len(body) {
			return Envelope{}, nil, dyerr.New(dyerr.MalformedPacket, "aggregate %d length %d overruns buffer", id, length)
		}
		a, err := decodePayload(kind, id, count, body[off:off+length])
		if err != nil {
			return Envelope{}, nil, err
		}
		off += align8(length)
		aggs[id] = a
	}
	return env, aggs, nil
}
