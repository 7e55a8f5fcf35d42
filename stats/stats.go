// Package stats wraps Dieterbe/go-metrics into the metrics-2.0-tagged
// counter idiom the teacher uses in aggregator.go (a.numIn, a.numFlushed
// registered as stats.Counter("unit=Metric.direction=in.aggregator="+key)).
package stats

import (
	metrics "github.com/Dieterbe/go-metrics"
)

var registry = metrics.NewRegistry()

// Counter returns (creating if needed) a named counter from the
// process-wide registry.
func Counter(key string) metrics.Counter {
	return metrics.GetOrRegisterCounter(key, registry)
}

// Gauge returns (creating if needed) a named gauge from the
// process-wide registry.
func Gauge(key string) metrics.Gauge {
	return metrics.GetOrRegisterGauge(key, registry)
}

// AggregateKey builds a metrics-2.0 style dotted tag string for an
// aggregate-kind counter, in the same hand-built idiom the teacher uses
// for its own counters (e.g. "unit=Metric.direction=in.aggregator="+key):
// "unit=Aggregate.direction=<direction>.kind=<kind>".
func AggregateKey(direction, kind string) string {
	return "unit=Aggregate.direction=" + direction + ".kind=" + kind
}

// ProbeKey builds the counter key for a per-probe event/report counter:
// "unit=Probe.direction=<direction>.probe=<probeID>".
func ProbeKey(direction, probeID string) string {
	return "unit=Probe.direction=" + direction + ".probe=" + probeID
}

// Registry exposes the underlying registry for introspection.
func Registry() metrics.Registry { return registry }
