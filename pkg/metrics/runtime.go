// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"runtime"
	"time"
)

// DefaultSampleInterval is the cadence at which the runtime sampler
// refreshes the process gauges.
const DefaultSampleInterval = 30 * time.Second

// RuntimeSampler periodically refreshes the process-level gauges:
// goroutine count, heap usage, cumulative GC pause time and uptime.
type RuntimeSampler struct {
	interval time.Duration
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// StartRuntimeSampler samples immediately, then on every interval until
// Stop is called or ctx is cancelled. A non-positive interval falls
// back to DefaultSampleInterval.
func StartRuntimeSampler(ctx context.Context, interval time.Duration) *RuntimeSampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ctx, cancel := context.WithCancel(ctx)

	s := &RuntimeSampler{
		interval: interval,
		started:  time.Now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Stop halts the sampler and waits for its goroutine to exit.
func (s *RuntimeSampler) Stop() {
	s.cancel()
	<-s.done
}

func (s *RuntimeSampler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}

// Sample takes one reading and updates the gauges.
func (s *RuntimeSampler) Sample() {
	if !enabled.Load() {
		return
	}

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	MemoryAllocBytes.Set(float64(stats.Alloc))
	MemorySysBytes.Set(float64(stats.Sys))
	GCPauseTotalSeconds.Set(float64(stats.PauseTotalNs) / 1e9)

	ServerUptime.Set(time.Since(s.started).Seconds())
}
