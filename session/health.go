package session

import (
	"time"

	"github.com/prometheus/procfs"

	"github.com/dysectapi/dysectapi/stats"
)

// SampleSelf reads this process's own RSS and accumulated CPU time via
// procfs and records them into the shared stats registry (SPEC_FULL
// §C.7: "ambient observability carried regardless of Non-goals").
// StartHealthSampling calls it on a ticker; cmd/dysectd calls neither.
func (s *Session) SampleSelf() error {
	proc, err := procfs.Self()
	if err != nil {
		return err
	}
	stat, err := proc.Stat()
	if err != nil {
		return err
	}
	stats.Gauge(stats.ProbeKey("rss", "session")).Update(int64(stat.ResidentMemory()))
	stats.Gauge(stats.ProbeKey("cputime", "session")).Update(int64(stat.CPUTime()))
	return nil
}

// StartHealthSampling spawns a goroutine sampling SampleSelf every
// interval until stop is closed.
func (s *Session) StartHealthSampling(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.SampleSelf()
			case <-stop:
				return
			}
		}
	}()
}
