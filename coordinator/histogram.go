package coordinator

import "time"

// latencyHistogram is the stdlib-only fixed-bucket replacement for the
// dropped Dieterbe/artisanalhistogram dependency (see DESIGN.md,
// "Dropped dependencies"): it tracks how long a probe's stage stayed
// open, from first arrival to emit, bucketed by upper bound.
type latencyHistogram struct {
	bounds []time.Duration
	counts []uint64
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{
		bounds: []time.Duration{
			1 * time.Millisecond,
			10 * time.Millisecond,
			100 * time.Millisecond,
			1 * time.Second,
			10 * time.Second,
			30 * time.Second,
		},
		counts: make([]uint64, 7), // one extra bucket for "over the last bound"
	}
}

// Observe records d into the smallest bucket whose bound is >= d, or
// the overflow bucket if d exceeds every bound.
func (h *latencyHistogram) Observe(d time.Duration) {
	for i, bound := range h.bounds {
		if d <= bound {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.counts)-1]++
}

// Snapshot returns a copy of the current bucket counts, indexed the
// same as bounds plus one trailing overflow bucket.
func (h *latencyHistogram) Snapshot() []uint64 {
	out := make([]uint64, len(h.counts))
	copy(out, h.counts)
	return out
}
