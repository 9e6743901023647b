// Package engine implements the engine controller (C7): the component that
// owns engine identity, configuration, and the in-memory mirror of the
// durable job set, and composes the heartbeat ticker, benchmark ticker, and
// poll/execute loop behind a single start/stop/shutdown lifecycle.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"transcode-worker/internal/executor"
	"transcode-worker/pkg/models"
)

// Identity is immutable for the lifetime of the process.
type Identity struct {
	EngineID          string
	Hostname          string
	DispatchBaseURL   string
	APIKey            string
	CACertPath        string
	StorageCapacityGB float64
	StreamingSupport  bool
}

// Capabilities is rebuilt once at startup and treated as immutable
// thereafter.
type Capabilities struct {
	Encoders string
	Decoders string
	HWAccels string
}

// DispatchClient is the seam over the dispatcher's HTTP surface — small
// enough that the controller can be exercised against an in-process fake.
type DispatchClient interface {
	Heartbeat(ctx context.Context, report models.HeartbeatReport) error
	BenchmarkResult(ctx context.Context, engineID string, seconds float64) error
	AssignJob(ctx context.Context, engineID string) (*models.Job, bool, error)
	CompleteJob(ctx context.Context, jobID, outputURL string) error
	FailJob(ctx context.Context, jobID, reason string) error
}

// Ledger is the seam over the durable job set.
type Ledger interface {
	Insert(ctx context.Context, jobID string) error
	Remove(ctx context.Context, jobID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Prober is the seam over the capability probe.
type Prober interface {
	Encoders(ctx context.Context) string
	Decoders(ctx context.Context) string
	HWAccels(ctx context.Context) string
	Hostname(ctx context.Context) string
	CPUTemperature(ctx context.Context) float64
}

// Transcoder is the seam over the transcode executor.
type Transcoder interface {
	Execute(ctx context.Context, job executor.Job) executor.Outcome
}

// Config holds the controller's operational tuning, separate from Identity.
type Config struct {
	PollInterval        time.Duration
	HeartbeatInterval   time.Duration
	BenchmarkInterval   time.Duration
	DrainTimeout        time.Duration
	ControlPlaneTimeout time.Duration
}

// Engine is the controller (C7). It owns identity, the capability snapshot,
// and the in-memory job-set mirror, and drives the heartbeat ticker,
// benchmark ticker, and poll loop concurrently.
type Engine struct {
	identity Identity
	cfg      Config
	logger   zerolog.Logger

	dispatch   DispatchClient
	ledger     Ledger
	prober     Prober
	transcoder Transcoder

	caps Capabilities // set once in INIT, read-only after

	mu   sync.RWMutex
	jobs map[string]struct{} // in-memory mirror of the ledger

	execMu     sync.Mutex
	executing  *models.Job
	execCancel context.CancelFunc
	execDone   chan struct{}
}

// New constructs an Engine. Call Run to execute the INIT → RUNNING lifecycle.
func New(identity Identity, cfg Config, logger zerolog.Logger, dispatch DispatchClient, ledger Ledger, prober Prober, transcoder Transcoder) *Engine {
	return &Engine{
		identity:   identity,
		cfg:        cfg,
		logger:     logger,
		dispatch:   dispatch,
		ledger:     ledger,
		prober:     prober,
		transcoder: transcoder,
		jobs:       make(map[string]struct{}),
	}
}

// Run executes INIT then RUNNING, blocking until ctx is cancelled (DRAINING)
// or a background task fails unrecoverably. It always leaves the ledger
// closed on return.
func (e *Engine) Run(ctx context.Context) error {
	defer e.ledger.Close()

	if err := e.init(ctx); err != nil {
		return fmt.Errorf("engine: init: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { e.heartbeatLoop(gctx); return nil })
	g.Go(func() error { e.benchmarkLoop(gctx); return nil })
	g.Go(func() error { return e.pollLoop(gctx) })

	select {
	case <-ctx.Done():
		e.logger.Info().Msg("engine: shutdown requested, draining")
	case <-gctx.Done():
		e.logger.Warn().Msg("engine: background task exited, draining")
	}

	cancelRun()
	e.drain()

	return g.Wait()
}

// init runs the INIT state: probe capabilities, load/replay the ledger.
// Capability probe failures degrade silently (they already do, inside
// Prober); only ledger errors are fatal here.
func (e *Engine) init(ctx context.Context) error {
	e.caps = Capabilities{
		Encoders: e.prober.Encoders(ctx),
		Decoders: e.prober.Decoders(ctx),
		HWAccels: e.prober.HWAccels(ctx),
	}

	ids, err := e.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	e.mu.Lock()
	for _, id := range ids {
		e.jobs[id] = struct{}{}
	}
	e.mu.Unlock()

	e.replay(ctx, ids)
	return nil
}

// replay fails every ledger entry left over from a prior crash before the
// first assign_job call of this run, avoiding zombie jobs.
func (e *Engine) replay(ctx context.Context, ids []string) {
	for _, id := range ids {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.ControlPlaneTimeout)
		_ = e.dispatch.FailJob(cctx, id, "worker restarted mid-job")
		cancel()

		_ = e.ledger.Remove(ctx, id)
		e.mu.Lock()
		delete(e.jobs, id)
		e.mu.Unlock()

		e.logger.Info().Str("job_id", id).Msg("engine: replayed crash-recovered job as failed")
	}
}

// drain implements the DRAINING state: stop accepting new work (already
// true once the tickers are cancelled), wait up to DrainTimeout for any
// in-flight job, flush a final heartbeat.
func (e *Engine) drain() {
	e.execMu.Lock()
	inFlight := e.executing
	cancel := e.execCancel
	done := e.execDone
	e.execMu.Unlock()

	if inFlight != nil {
		select {
		case <-done:
		case <-time.After(e.cfg.DrainTimeout):
			e.logger.Warn().Str("job_id", inFlight.JobID).Msg("engine: drain timeout exceeded, forcing job failure")
			if cancel != nil {
				cancel()
			}
			cctx, ccancel := context.WithTimeout(context.Background(), e.cfg.ControlPlaneTimeout)
			_ = e.dispatch.FailJob(cctx, inFlight.JobID, "drain timeout exceeded")
			ccancel()
			_ = e.ledger.Remove(context.Background(), inFlight.JobID)
			e.mu.Lock()
			delete(e.jobs, inFlight.JobID)
			e.mu.Unlock()
		}
	}

	e.sendHeartbeat(context.Background())
}

func (e *Engine) jobIDsSnapshot() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (e *Engine) jobQueueJSON() string {
	ids := e.jobIDsSnapshot()
	if ids == nil {
		ids = []string{}
	}
	out, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(out)
}
