// Command dysect-export decodes a recorded stream of wire-encoded
// probe-report packets (as produced by package wire) and re-emits each
// one as either a Python pickle or a MessagePack map, for downstream
// HPC analysis scripts (SPEC_FULL §C.11) — the original source tree
// ships Python-based session scripts alongside the C++ core, so this
// mirrors that same offline-tooling role.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	ogorek "github.com/kisielk/og-rek"
	"github.com/tinylib/msgp/msgp"

	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/value"
	"github.com/dysectapi/dysectapi/wire"
)

const envelopeHeaderLen = 19

func main() {
	in := flag.String("in", "", "path to a recorded packet stream (required)")
	format := flag.String("format", "pickle", "output format: pickle or msgpack")
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "dysect-export: -in is required")
		os.Exit(2)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dysect-export: %v\n", err)
		os.Exit(1)
	}

	if err := run(data, *format, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "dysect-export: %v\n", err)
		os.Exit(1)
	}
}

func run(data []byte, format string, out io.Writer) error {
	for len(data) > 0 {
		if len(data) < envelopeHeaderLen {
			return fmt.Errorf("trailing %d bytes too short for a packet header", len(data))
		}
		bodyLen := int(data[15])<<24 | int(data[16])<<16 | int(data[17])<<8 | int(data[18])
		total := envelopeHeaderLen + bodyLen
		if total > len(data) {
			return fmt.Errorf("packet claims %d bytes, only %d remain", total, len(data))
		}

		env, aggs, err := wire.Decode(data[:total])
		if err != nil {
			return err
		}

		switch format {
		case "pickle":
			if err := writePickle(out, env, aggs); err != nil {
				return err
			}
		case "msgpack":
			if err := writeMsgpack(out, env, aggs); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown format %q", format)
		}

		data = data[total:]
	}
	return nil
}

func writePickle(w io.Writer, env wire.Envelope, aggs map[uint32]*aggregate.AGG) error {
	enc := ogorek.NewEncoder(w)
	return enc.Encode(map[string]interface{}{
		"streamId": env.StreamID,
		"probeId":  env.ProbeID,
		"count":    env.Count,
		"partial":  env.Partial(),
		"aggs":     aggsToPlain(aggs),
	})
}

func writeMsgpack(w io.Writer, env wire.Envelope, aggs map[uint32]*aggregate.AGG) error {
	mw := msgp.NewWriter(w)
	if err := mw.WriteMapHeader(5); err != nil {
		return err
	}
	for _, kv := range []struct {
		key string
		val uint32
	}{{"streamId", env.StreamID}, {"probeId", env.ProbeID}, {"count", env.Count}} {
		if err := mw.WriteString(kv.key); err != nil {
			return err
		}
		if err := mw.WriteUint32(kv.val); err != nil {
			return err
		}
	}
	if err := mw.WriteString("partial"); err != nil {
		return err
	}
	if err := mw.WriteBool(env.Partial()); err != nil {
		return err
	}
	if err := mw.WriteString("aggs"); err != nil {
		return err
	}
	if err := mw.WriteMapHeader(uint32(len(aggs))); err != nil {
		return err
	}
	for id, a := range aggs {
		if err := mw.WriteUint32(id); err != nil {
			return err
		}
		if err := writeAggMsgpack(mw, a); err != nil {
			return err
		}
	}
	return mw.Flush()
}

func writeAggMsgpack(mw *msgp.Writer, a *aggregate.AGG) error {
	if err := mw.WriteMapHeader(3); err != nil {
		return err
	}
	if err := mw.WriteString("kind"); err != nil {
		return err
	}
	if err := mw.WriteString(a.Kind.String()); err != nil {
		return err
	}
	if err := mw.WriteString("count"); err != nil {
		return err
	}
	if err := mw.WriteUint64(a.Count); err != nil {
		return err
	}
	if err := mw.WriteString("value"); err != nil {
		return err
	}
	return mw.WriteString(renderValue(a))
}

func aggsToPlain(aggs map[uint32]*aggregate.AGG) map[uint32]interface{} {
	out := make(map[uint32]interface{}, len(aggs))
	for id, a := range aggs {
		out[id] = map[string]interface{}{
			"kind":  a.Kind.String(),
			"count": a.Count,
			"value": renderValue(a),
		}
	}
	return out
}

func renderValue(a *aggregate.AGG) string {
	switch a.Kind {
	case aggregate.StaticStr:
		return a.Str
	case aggregate.Min, aggregate.Max, aggregate.Sum, aggregate.Avg, aggregate.First, aggregate.Last:
		if a.Val.Tag() == value.None {
			return ""
		}
		return a.Val.String()
	default:
		return ""
	}
}
