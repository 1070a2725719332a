package device

import (
	"context"
	"time"

	"flowfarm/pkg/logger"
)

// StartMonitor runs the periodic scan-and-sweep loop until StopMonitor or ctx is done.
func (r *Registry) StartMonitor(ctx context.Context) {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()

	if r.monitorCancel != nil {
		r.monitorCancel()
		<-r.monitorDone
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.monitorCancel = cancel
	r.monitorDone = done

	go r.runMonitor(ctx, done)
	logger.Info("monitor").Dur("interval", r.opts.Interval).Dur("offlineTimeout", r.opts.OfflineTimeout).Msg("Device monitor started")
}

// StopMonitor stops the loop and waits for it to exit.
func (r *Registry) StopMonitor() {
	r.monitorMu.Lock()
	defer r.monitorMu.Unlock()

	if r.monitorCancel != nil {
		r.monitorCancel()
		<-r.monitorDone
		r.monitorCancel = nil
		r.monitorDone = nil
		logger.Info("monitor").Msg("Device monitor stopped")
	}
}

func (r *Registry) runMonitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

// sweepOnce always sweeps, even when the scan fails, so a dead daemon still ages devices out.
func (r *Registry) sweepOnce(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, r.opts.Interval)
	defer cancel()

	if _, err := r.Scan(scanCtx); err != nil && ctx.Err() == nil {
		logger.Warn("monitor").Err(err).Msg("periodic scan failed")
	}
	if offline := r.Sweep(); len(offline) > 0 {
		logger.Warn("monitor").Strs("devices", offline).Msg("devices marked offline")
	}
}
