// Command dysectfe is the front-end entry point: it receives
// wire-encoded packets from one or more back-end agents, feeds them
// through the distributed coordinator to reach quorum (or a partial
// timeout), mirrors every finished result to the configured report
// sinks, and serves the read-only httpstatus introspection surface.
// The overlay transport that actually delivers packets from dysectd is
// out of scope (SPEC_FULL §E); this binary reads a stream of them from
// stdin, the same self-describing packet framing cmd/dysect-export
// walks.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/cfg"
	"github.com/dysectapi/dysectapi/coordinator"
	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/httpstatus"
	"github.com/dysectapi/dysectapi/logging"
	"github.com/dysectapi/dysectapi/probe"
	"github.com/dysectapi/dysectapi/report"
	"github.com/dysectapi/dysectapi/report/amqp"
	"github.com/dysectapi/dysectapi/report/cloudwatch"
	"github.com/dysectapi/dysectapi/report/kafka"
	"github.com/dysectapi/dysectapi/report/pubsub"
	"github.com/dysectapi/dysectapi/wire"
)

const envelopeHeaderLen = 19

func main() {
	cfgPath := flag.String("config", "", "path to a dysectfe.toml config (optional)")
	listenAddr := flag.String("listen", ":8081", "httpstatus listen address")
	flag.Parse()

	ctx := cfg.Default()
	if *cfgPath != "" {
		loaded, err := cfg.Load(*cfgPath)
		if err != nil {
			os.Stderr.WriteString("dysectfe: " + err.Error() + "\n")
			os.Exit(1)
		}
		ctx = loaded
	}

	log := logging.New(ctx.Verbose)

	sinks, err := buildReportSinks(ctx.Report)
	if err != nil {
		log.Fatalf("dysectfe: building report sinks: %v", err)
		os.Exit(1)
	}
	defer sinks.Close()

	track := newTracker()
	coord := coordinator.New(func(res coordinator.Result) {
		track.record(res)
		packet, err := wire.Encode(wire.Envelope{ProbeID: uint32(res.ProbeID), Count: uint32(res.Arrived)}, flattenAggs(res.Merged))
		if err != nil {
			log.Warnf("dysectfe: encoding result for probe %d: %v", res.ProbeID, err)
			return
		}
		if err := sinks.Report(context.Background(), uint64(res.ProbeID), packet); err != nil {
			log.Warnf("dysectfe: reporting probe %d: %v", res.ProbeID, err)
		}
	})

	srv := httpstatus.NewServer(*listenAddr, track, coord, nil)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Warnf("dysectfe: httpstatus server stopped: %v", err)
		}
	}()

	ticker := time.NewTicker(ctx.StreamTimeout())
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			coord.Poll()
		}
	}()

	if err := consumePackets(os.Stdin, coord, track, log); err != nil && err != io.EOF {
		log.Warnf("dysectfe: packet stream ended: %v", err)
	}
	coord.Poll()
}

// consumePackets walks a concatenated stream of wire.Encode packets
// and stages each probe's arriving aggregates with the coordinator.
// Every packet in the stream is treated as a single process's
// contribution (Proc is taken from the envelope's StreamID, the
// back-end's per-process channel identifier).
func consumePackets(r io.Reader, coord *coordinator.Coordinator, track *tracker, log *logging.Logger) error {
	br := bufio.NewReader(r)
	header := make([]byte, envelopeHeaderLen)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			return err
		}
		bodyLen := int(header[15])<<24 | int(header[16])<<16 | int(header[17])<<8 | int(header[18])
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(br, body); err != nil {
			return err
		}
		packet := append(append([]byte{}, header...), body...)

		env, aggs, err := wire.Decode(packet)
		if err != nil {
			log.Warnf("dysectfe: malformed packet: %v", err)
			continue
		}

		id := probe.ID(env.ProbeID)
		proc := engine.ProcID(env.StreamID)
		track.begin(id)
		coord.Begin(id, int(env.Count), 30*time.Second)

		if err := coord.Arrive(coordinator.Report{ProbeID: id, Proc: proc, Aggs: flattenAggs(aggs)}); err != nil {
			log.Warnf("dysectfe: %v", err)
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

func buildReportSinks(rc cfg.ReportConfig) (report.Multi, error) {
	var sinks report.Multi
	if rc.Kafka != nil {
		r, err := kafka.New(rc.Kafka.Brokers, rc.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, r)
	}
	if rc.AMQP != nil {
		r, err := amqp.New(rc.AMQP.URL, rc.AMQP.Exchange)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, r)
	}
	if rc.PubSub != nil {
		r, err := pubsub.New(context.Background(), rc.PubSub.ProjectID, rc.PubSub.TopicID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, r)
	}
	if rc.CloudWatch != nil {
		r, err := cloudwatch.New(rc.CloudWatch.Region, rc.CloudWatch.Namespace)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, r)
	}
	return sinks, nil
}

// tracker adapts coordinator.Result snapshots into httpstatus.Source,
// the front-end's only view of probe state (it never imports package
// probe's tree directly, spec §9's non-owning back-reference
// discipline).
type tracker struct {
	mu    sync.Mutex
	state map[uint64]httpstatus.ProbeSummary
}

func newTracker() *tracker {
	return &tracker{state: map[uint64]httpstatus.ProbeSummary{}}
}

func (t *tracker) begin(id probe.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.state[uint64(id)]; !ok {
		t.state[uint64(id)] = httpstatus.ProbeSummary{ID: uint64(id), State: "collecting"}
	}
}

func (t *tracker) record(res coordinator.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := "reported"
	if res.Partial {
		state = "partial"
	}
	t.state[uint64(res.ProbeID)] = httpstatus.ProbeSummary{ID: uint64(res.ProbeID), State: state}
}

func (t *tracker) ProbeSummaries() []httpstatus.ProbeSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]httpstatus.ProbeSummary, 0, len(t.state))
	for _, s := range t.state {
		out = append(out, s)
	}
	return out
}

func (t *tracker) ProbeSummary(id uint64) (httpstatus.ProbeSummary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.state[id]
	return s, ok
}
