// Command dysectd is the back-end agent entry point: it owns a
// session, arms an example probe tree against a debugger-engine
// collaborator, and drives the select loop spec §5 describes
// ("single-threaded cooperative scheduling ... polled at the select
// boundary"). The overlay transport that would carry packets to the
// front-end is explicitly out of scope (SPEC_FULL §E); this binary
// writes each finished packet to stdout instead, as a thin worked
// example of wiring the core together.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dysectapi/dysectapi/action"
	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/cfg"
	"github.com/dysectapi/dysectapi/coordinator"
	"github.com/dysectapi/dysectapi/domain"
	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/event"
	"github.com/dysectapi/dysectapi/logging"
	"github.com/dysectapi/dysectapi/probe"
	"github.com/dysectapi/dysectapi/session"
	"github.com/dysectapi/dysectapi/wire"
)

func main() {
	cfgPath := flag.String("config", "", "path to a dysectd.toml config (optional)")
	tick := flag.Duration("tick", 200*time.Millisecond, "select-loop poll interval")
	flag.Parse()

	ctx := cfg.Default()
	if *cfgPath != "" {
		loaded, err := cfg.Load(*cfgPath)
		if err != nil {
			os.Stderr.WriteString("dysectd: " + err.Error() + "\n")
			os.Exit(1)
		}
		ctx = loaded
	}

	log := logging.New(ctx.Verbose)

	eng := engine.NewFake()
	tables := domain.Tables{RankToProcess: map[domain.MPIRank]engine.ProcID{0: 1, 1: 2}}
	eng.SetSymbol("main.checkpoint", 0x4010)

	sess := session.New(eng, tables)
	throttle := session.NewTokenBucket(5, 1, nil)
	coord := coordinator.New(buildEmit(sess, os.Stdout, log))

	root := buildExampleProbe(ctx)
	if err := root.Arm(eng, sess.Tables(), nil, func(f event.Firing) { root.Fire(f.Proc, f.Thread) }); err != nil {
		log.Fatalf("dysectd: arming root probe: %v", err)
		return
	}
	sess.AddRoot(root)
	log.Infof("dysectd: armed root probe %d over %d processes", root.ID(), len(root.Attached()))

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*tick)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			log.Infof("dysectd: shutting down")
			return
		case <-ticker.C:
			sess.ResolvePending(throttle)
			sess.PollTimers()
			drainTriggered(sess, eng, coord, log)
			coord.Poll()
		}
	}
}

// buildExampleProbe wires a single timer-driven probe tracing a
// checkpoint, the shape a session script would hand the core (spec
// §3's worked example).
func buildExampleProbe(ctx cfg.Context) *probe.Probe {
	ev := event.NewTime(int64(ctx.StreamTimeoutSeconds)*1000, nil)
	dom := domain.NewWorld(int64(ctx.StreamTimeoutSeconds) * 1000)
	acts := []action.Action{action.NewTrace("checkpoint reached @function()")}
	return probe.New(ev, dom, nil, acts, probe.Stay)
}

// drainTriggered walks every triggered probe in the tree, evaluates and
// collects it, and stages each process's aggregates with coord. A
// probe's packet is emitted exactly once, by coord's EmitFunc, once its
// whole attached domain has arrived or its wait timer expires (spec
// §4.7, §8's partial-participation rule) — never once per process, as
// the literal scenario 1 of spec §8 requires.
func drainTriggered(sess *session.Session, eng engine.Engine, coord *coordinator.Coordinator, log *logging.Logger) {
	for _, root := range sess.Roots() {
		walkAndDrain(root, sess, eng, coord, log)
	}
}

func walkAndDrain(p *probe.Probe, sess *session.Session, eng engine.Engine, coord *coordinator.Coordinator, log *logging.Logger) {
	if p.State() == probe.Triggered {
		collected, err := p.EvaluateCondition(nil, isCodeLocation(p))
		if err != nil {
			log.Warnf("dysectd: probe %d condition: %v", p.ID(), err)
		} else if collected {
			wait := time.Duration(p.Domain.WaitMillis()) * time.Millisecond
			coord.Begin(p.ID(), len(p.Attached()), wait)
			for proc := range p.Attached() {
				aggs, err := p.Collect(eng, proc)
				if err != nil {
					log.Warnf("dysectd: probe %d collect for proc %d: %v", p.ID(), proc, err)
					continue
				}
				if err := coord.Arrive(coordinator.Report{ProbeID: p.ID(), Proc: proc, Aggs: aggs}); err != nil {
					log.Warnf("dysectd: probe %d arrival for proc %d: %v", p.ID(), proc, err)
				}
			}
		}
	}
	for _, child := range p.Children() {
		walkAndDrain(child, sess, eng, coord, log)
	}
}

func isCodeLocation(p *probe.Probe) bool {
	_, ok := p.Event.(*event.CodeLocation)
	return ok
}

// buildEmit builds the coordinator.EmitFunc that fires once per probe
// at quorum or deadline: it writes the merged packet to out (stdout in
// production, a buffer in tests) in place of the out-of-scope overlay
// transport (SPEC_FULL §E), then drives the probe's quorumReady ->
// reported transition (spec §4.5) via a tree lookup, since Result only
// carries a probe.ID, not a back-reference into the tree (spec §9's
// non-owning back-reference discipline).
func buildEmit(sess *session.Session, out io.Writer, log *logging.Logger) coordinator.EmitFunc {
	return func(res coordinator.Result) {
		packet, err := wire.Encode(wire.Envelope{ProbeID: uint32(res.ProbeID), Count: uint32(res.Arrived)}, flattenAggs(res.Merged))
		if err != nil {
			log.Warnf("dysectd: probe %d encode: %v", res.ProbeID, err)
			return
		}
		if _, err := out.Write(packet); err != nil {
			log.Warnf("dysectd: probe %d write: %v", res.ProbeID, err)
			return
		}
		if p := findProbe(sess, res.ProbeID); p != nil {
			p.MarkQuorumReady()
			p.Reported()
		}
	}
}

func flattenAggs(aggs map[uint32]*aggregate.AGG) []*aggregate.AGG {
	out := make([]*aggregate.AGG, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, a)
	}
	return out
}

// findProbe locates the probe identified by id among every tree
// reachable from sess's registered roots.
func findProbe(sess *session.Session, id probe.ID) *probe.Probe {
	for _, root := range sess.Roots() {
		if p := findProbeIn(root, id); p != nil {
			return p
		}
	}
	return nil
}

func findProbeIn(p *probe.Probe, id probe.ID) *probe.Probe {
	if p.ID() == id {
		return p
	}
	for _, c := range p.Children() {
		if found := findProbeIn(c, id); found != nil {
			return found
		}
	}
	return nil
}
