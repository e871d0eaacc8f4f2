package waveform

import (
	"context"
	"time"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/timeutil"
)

// RunEviction calls EvictIdle every interval until ctx is done. report, if
// set, receives each non-zero eviction count. The store should be built
// with FoldOptions.Now set to clock.Now so both agree on the time.
func (s *Store) RunEviction(ctx context.Context, clock timeutil.Clock, interval, maxIdle time.Duration, report func(n int)) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if n := s.EvictIdle(maxIdle); n > 0 && report != nil {
				report(n)
			}
		}
	}
}
