// Package report defines the front-end's optional packet-mirroring
// sink, an ambient addition (SPEC_FULL §C.9): the core itself defines
// no CLI or sink (spec §6), it only exposes the finished wire-encoded
// packet; cmd/dysectfe wires a concrete Reporter chosen by cfg.
package report

import "context"

// Reporter mirrors a finished, wire-encoded probe-report packet to an
// external system. Implementations must be safe for concurrent use;
// the front-end calls Report once per probe.Reported transition.
type Reporter interface {
	Report(ctx context.Context, probeID uint64, packet []byte) error
	Close() error
}

// Multi fans a single packet out to every reporter in the slice,
// continuing past individual failures and returning the first error
// seen (if any), mirroring spec §7's "per-packet: drop, log, keep the
// stream open" recovery policy at the report boundary.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, probeID uint64, packet []byte) error {
	var first error
	for _, r := range m {
		if err := r.Report(ctx, probeID, packet); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, r := range m {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
