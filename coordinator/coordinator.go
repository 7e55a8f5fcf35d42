// Package coordinator implements the distributed aggregation cycle of
// spec §4.7/§5: stage incoming per-process reports under a probe,
// track quorum against the probe's resolved domain, emit a merged
// result at quorum or at the wait-timer deadline (partial
// participation, spec §8), and retry transient per-probe engine
// failures. Grounded on the teacher's aggregator.run() select loop
// (bucket-by-key, flush-on-tick, snapshot-on-request) adapted from
// "bucket by quantized timestamp" to "bucket by probe id, flush on
// quorum or deadline".
package coordinator

import (
	"sort"
	"sync"
	"time"

	metrics "github.com/Dieterbe/go-metrics"
	"github.com/jpillora/backoff"

	"github.com/dysectapi/dysectapi/aggregate"
	"github.com/dysectapi/dysectapi/dyerr"
	"github.com/dysectapi/dysectapi/engine"
	"github.com/dysectapi/dysectapi/probe"
	"github.com/dysectapi/dysectapi/stats"
)

// Report is one action's worth of aggregates arriving from a single
// process for a single probe.
type Report struct {
	ProbeID probe.ID
	Proc    engine.ProcID
	Aggs    []*aggregate.AGG
}

// Result is what a stage becomes once it is finalized, either by
// quorum or by deadline (partial participation, spec §8).
type Result struct {
	ProbeID  probe.ID
	Merged   map[uint32]*aggregate.AGG
	Arrived  int
	Expected int
	Partial  bool
}

// EmitFunc is the front-end demux callback: coordinator hands a
// finished Result to it and moves on. The concrete sink (report
// package, httpstatus) is injected by the caller, matching spec §6's
// "the core exposes the aggregate stream; it does not define the
// sink" framing.
type EmitFunc func(Result)

// stage is the in-flight aggregation state for one probe, the
// coordinator's analogue of the teacher's per-timestamp
// aggregations[quantized][key] bucket.
type stage struct {
	expected     int
	arrived      map[engine.ProcID]struct{}
	merged       map[uint32]*aggregate.AGG
	firstArrival time.Time
	deadline     time.Time
	done         bool
}

// Coordinator tracks every in-flight probe stage. One Coordinator
// serves the whole agent process; it has no dependency on probe.Probe
// beyond probe.ID, so it never needs to reach back into the tree.
type Coordinator struct {
	mu     sync.Mutex
	stages map[probe.ID]*stage
	now    func() time.Time
	emit   EmitFunc
	lat    *latencyHistogram

	numArrivals metrics.Counter
	numEmits    metrics.Counter
}

// New builds a Coordinator using the real wall clock.
func New(emit EmitFunc) *Coordinator {
	return NewMocked(emit, time.Now)
}

// NewMocked builds a Coordinator with an injected clock, in the
// teacher's NewMocked idiom, for deterministic tests.
func NewMocked(emit EmitFunc, now func() time.Time) *Coordinator {
	return &Coordinator{
		stages:      map[probe.ID]*stage{},
		now:         now,
		emit:        emit,
		lat:         newLatencyHistogram(),
		numArrivals: stats.Counter(stats.ProbeKey("in", "coordinator")),
		numEmits:    stats.Counter(stats.ProbeKey("out", "coordinator")),
	}
}

// Begin opens a stage for probeID once it has been armed: expected is
// the size of the domain resolved at Arm time, wait is the domain's
// WaitMillis() quorum budget (spec §4.4/§4.7). Calling Begin again for
// a probe id that already has an open stage is a no-op, since a probe
// with Stay persistence re-arms into the same tree position.
func (c *Coordinator) Begin(probeID probe.ID, expected int, wait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.stages[probeID]; ok {
		return
	}
	c.stages[probeID] = &stage{
		expected: expected,
		arrived:  map[engine.ProcID]struct{}{},
		merged:   map[uint32]*aggregate.AGG{},
		deadline: c.now().Add(wait),
	}
}

// Arrive stages one process's collected aggregates under probeID. If
// this arrival completes the domain's quorum the stage is finalized
// and emitted immediately (spec §4.7: "a probe reports as soon as
// every attached process has reported, without waiting out the full
// timer").
func (c *Coordinator) Arrive(r Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.stages[r.ProbeID]
	if !ok || st.done {
		return dyerr.New(dyerr.ResolutionFailure, "coordinator: arrival for unknown or finished probe %d", r.ProbeID)
	}
	if st.firstArrival.IsZero() {
		st.firstArrival = c.now()
	}
	st.arrived[r.Proc] = struct{}{}
	c.numArrivals.Inc(1)

	for _, agg := range r.Aggs {
		existing := st.merged[agg.ID]
		merged, err := aggregate.Merge(existing, agg)
		if err != nil {
			return err
		}
		st.merged[agg.ID] = merged
	}

	if len(st.arrived) >= st.expected {
		c.finalizeLocked(r.ProbeID, st, false)
	}
	return nil
}

// Poll finalizes every stage whose deadline has passed, reporting
// partial participation for each (spec §8: "reports partial
// participation rather than silently retrying"). Callers invoke Poll
// from the same select-loop boundary that drives event.Time.Poll,
// replacing the source's SIGALRM-driven wakeups (spec §9 design note).
func (c *Coordinator) Poll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var due []probe.ID
	for id, st := range c.stages {
		if !st.done && !now.Before(st.deadline) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	for _, id := range due {
		c.finalizeLocked(id, c.stages[id], true)
	}
}

func (c *Coordinator) finalizeLocked(id probe.ID, st *stage, partial bool) {
	st.done = true
	if !st.firstArrival.IsZero() {
		c.lat.Observe(c.now().Sub(st.firstArrival))
	}
	c.numEmits.Inc(1)
	result := Result{
		ProbeID:  id,
		Merged:   st.merged,
		Arrived:  len(st.arrived),
		Expected: st.expected,
		Partial:  partial,
	}
	delete(c.stages, id)
	if c.emit != nil {
		c.emit(result)
	}
}

// LatencyBuckets exposes the quorum-latency histogram's current bucket
// counts for the httpstatus introspection endpoint.
func (c *Coordinator) LatencyBuckets() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lat.Snapshot()
}

// RetryTransient runs fn, retrying with jpillora/backoff's standard
// exponential-with-jitter schedule while it keeps failing with
// dyerr.TargetTransient (spec §7: TargetTransient is the one code the
// core itself may retry, everything else under PerProbe is fatal to
// that probe only). It gives up after maxAttempts and returns the last
// error.
func RetryTransient(fn func() error, maxAttempts int) error {
	b := &backoff.Backoff{
		Min:    10 * time.Millisecond,
		Max:    1 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if dyerr.CodeOf(err) != dyerr.TargetTransient {
			return err
		}
		time.Sleep(b.Duration())
	}
	return err
}
