package engine

import (
	"context"
	"time"

	"transcode-worker/internal/executor"
	"transcode-worker/pkg/models"
)

// pollLoop asks the dispatcher for work every PollInterval. It never issues
// a second assign_job call while a job is executing: runJob blocks this
// goroutine for the duration of the job, so the next poll only happens
// after the executor returns.
func (e *Engine) pollLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, ok, err := e.assignJob(ctx)
		if err == nil && ok {
			e.runJob(*job)
		}

		if !sleepCtx(ctx, e.cfg.PollInterval) {
			return nil
		}
	}
}

func (e *Engine) assignJob(ctx context.Context) (*models.Job, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.ControlPlaneTimeout)
	defer cancel()

	job, ok, err := e.dispatch.AssignJob(cctx, e.identity.EngineID)
	if err != nil || !ok {
		return nil, false, err
	}
	return job, true, nil
}

// runJob persists the job to the ledger before doing any work on it, runs
// it to completion, reports the outcome, and only then removes it — so a
// crash at any point still leaves the ledger an accurate record of "was
// assigned, may not have finished".
func (e *Engine) runJob(job models.Job) {
	if err := e.ledger.Insert(context.Background(), job.JobID); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.JobID).Msg("engine: failed to persist job to ledger, refusing to execute")
		return
	}

	e.mu.Lock()
	e.jobs[job.JobID] = struct{}{}
	e.mu.Unlock()

	execCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.execMu.Lock()
	e.executing = &job
	e.execCancel = cancel
	e.execDone = done
	e.execMu.Unlock()

	outcome := e.transcoder.Execute(execCtx, executor.Job{
		JobID:       job.JobID,
		SourceURL:   job.SourceURL,
		TargetCodec: job.TargetCodec,
	})

	e.execMu.Lock()
	e.executing = nil
	e.execCancel = nil
	e.execMu.Unlock()
	forced := execCtx.Err() != nil
	cancel()
	close(done)

	// Only drain cancels execCtx early, and it reports the forced failure
	// itself; that report stays the job's only outcome.
	if !forced {
		e.reportOutcome(job.JobID, outcome)
	}

	_ = e.ledger.Remove(context.Background(), job.JobID)
	e.mu.Lock()
	delete(e.jobs, job.JobID)
	e.mu.Unlock()
}

func (e *Engine) reportOutcome(jobID string, outcome executor.Outcome) {
	cctx, cancel := context.WithTimeout(context.Background(), e.cfg.ControlPlaneTimeout)
	defer cancel()

	if outcome.Completed {
		if err := e.dispatch.CompleteJob(cctx, jobID, outcome.OutputURL); err != nil {
			e.logger.Warn().Err(err).Str("job_id", jobID).Msg("engine: complete_job report failed")
		}
		return
	}

	if err := e.dispatch.FailJob(cctx, jobID, outcome.Reason); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Str("reason", outcome.Reason).Msg("engine: fail_job report failed")
	}
}

// sleepCtx sleeps for d, returning early (with false) if ctx is cancelled
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
