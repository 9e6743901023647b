package engine

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// minWorkloadBytes and maxWorkloadBytes bound the synthetic benchmark so it
// neither finishes instantly on a tiny box nor floods a large one.
const (
	minWorkloadBytes = 64 << 20  // 64 MiB
	maxWorkloadBytes = 512 << 20 // 512 MiB
	chunkBytes       = 1 << 20   // 1 MiB
)

// benchmarkLoop runs a self-benchmark every BenchmarkInterval and reports
// its wall-clock duration to the dispatcher. A missed tick is skipped, not
// queued, the same as the heartbeat loop.
func (e *Engine) benchmarkLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.BenchmarkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runBenchmark(ctx)
		}
	}
}

func (e *Engine) runBenchmark(ctx context.Context) {
	seconds := measureBenchmark(ctx)

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ControlPlaneTimeout)
	defer cancel()

	if err := e.dispatch.BenchmarkResult(cctx, e.identity.EngineID, seconds); err != nil {
		e.logger.Debug().Err(err).Msg("engine: benchmark_result send failed")
		return
	}
	e.logger.Debug().Float64("seconds", seconds).Msg("engine: benchmark reported")
}

// measureBenchmark hashes a block of memory sized off available RAM,
// giving a repeatable, pure-CPU workload whose duration is comparable
// across runs on the same machine without depending on ffmpeg or disk I/O.
func measureBenchmark(ctx context.Context) float64 {
	workload := minWorkloadBytes
	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		if scaled := int(v.Available / 100); scaled > workload {
			workload = scaled
		}
	}
	if workload > maxWorkloadBytes {
		workload = maxWorkloadBytes
	}

	chunk := make([]byte, chunkBytes)
	h := sha256.New()

	start := time.Now()
	for written := 0; written < workload; written += chunkBytes {
		h.Write(chunk)
	}
	_ = h.Sum(nil)

	return time.Since(start).Seconds()
}
