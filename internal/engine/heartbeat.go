package engine

import (
	"context"
	"time"

	"transcode-worker/pkg/models"
)

// heartbeatLoop sends a heartbeat every HeartbeatInterval until ctx is
// cancelled. A missed tick (e.g. the previous send overran the interval) is
// simply skipped, never queued — time.Ticker already drops unread ticks.
func (e *Engine) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sendHeartbeat(ctx)
		}
	}
}

func (e *Engine) sendHeartbeat(ctx context.Context) {
	report := models.HeartbeatReport{
		EngineID:          e.identity.EngineID,
		Status:            "idle", // the dispatcher contract has no busy/idle state machine; always literal "idle"
		StorageCapacityGB: e.identity.StorageCapacityGB,
		StreamingSupport:  e.identity.StreamingSupport,
		Encoders:          e.caps.Encoders,
		Decoders:          e.caps.Decoders,
		HWAccels:          e.caps.HWAccels,
		CPUTemperature:    e.prober.CPUTemperature(ctx),
		LocalJobQueue:     e.jobQueueJSON(),
		Hostname:          e.identity.Hostname,
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ControlPlaneTimeout)
	defer cancel()

	if err := e.dispatch.Heartbeat(cctx, report); err != nil {
		e.logger.Debug().Err(err).Msg("engine: heartbeat send failed")
		return
	}
	e.logger.Debug().Str("status", report.Status).Msg("engine: heartbeat sent")
}
