package main

import (
	"context"
	"path/filepath"
	"strings"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/navigator"
	"flowfarm/pkg/scheduler"
	"flowfarm/pkg/types"
)

// pending lists the pending items of platform, the configured batch platform when empty.
func (a *App) pending(platform string) []types.WorkItem {
	if platform == "" {
		platform = a.cfg.Batch.Platform
	}
	return a.items.Filter(func(it types.WorkItem) bool {
		return it.Status == types.ItemPending && strings.EqualFold(it.Platform, platform)
	})
}

// PlanBatch previews the distribution of the currently pending items over available
// devices. Failed items due for a retry are requeued only when a batch actually starts.
func (a *App) PlanBatch(platform string) (types.AssignmentPlan, error) {
	return scheduler.Assign(a.pending(platform), a.registry.Available()), nil
}

func (a *App) prepare(platform string) types.AssignmentPlan {
	if n := a.items.Requeue(a.cfg.Batch.MaxRetries); n > 0 {
		logger.Info("app").Int("count", n).Msg("requeued items for retry")
	}
	plan := scheduler.Assign(a.pending(platform), a.registry.Available())
	a.markAssigned(plan)
	return plan
}

func (a *App) pipeline() *navigator.Pipeline {
	nav := a.cfg.Navigation
	opts := navigator.Options{
		VerifyAttempts: nav.VerifyAttempts,
		SettleDelay:    nav.SettleDelay,
		MaxBackPresses: nav.MaxBackPresses,
		MaxRecoveries:  nav.MaxRecoveries,
		MaxScrolls:     nav.MaxScrolls,
		DedupEpsilon:   nav.DedupEpsilon,
		RowTolerance:   nav.RowTolerance,
	}
	var filter navigator.ItemFilter
	if a.filter != nil {
		filter = a.filter
	}
	return navigator.NewPipeline(a.lexicon, opts, a.controllerFor, filter).
		WithDiagnostics(filepath.Join(a.cfg.DataDir, "screenshots"))
}

func (a *App) execute(ctx context.Context, plan types.AssignmentPlan) (types.ExecutionStats, error) {
	stats, err := a.engine.ExecuteBatch(ctx, plan, a.pipeline())
	if err != nil {
		return stats, err
	}
	if stats.BatchID != "" {
		a.recordBatch(stats)
	}
	return stats, nil
}

// RunBatch plans and executes a batch, blocking until it ends.
func (a *App) RunBatch(ctx context.Context, platform string) (types.ExecutionStats, error) {
	if !a.batchActive.CompareAndSwap(false, true) {
		return types.ExecutionStats{}, scheduler.ErrBatchRunning
	}
	defer a.batchActive.Store(false)
	return a.execute(ctx, a.prepare(platform))
}

// StartBatch plans a batch and runs it in the background.
func (a *App) StartBatch(platform string) (types.AssignmentPlan, error) {
	if !a.batchActive.CompareAndSwap(false, true) {
		return types.AssignmentPlan{}, scheduler.ErrBatchRunning
	}
	plan := a.prepare(platform)

	a.batchWG.Add(1)
	go func() {
		defer a.batchWG.Done()
		defer a.batchActive.Store(false)
		if _, err := a.execute(a.ctx, plan); err != nil {
			logger.Error("app").Err(err).Msg("batch failed")
		}
	}()
	return plan, nil
}

// StopBatch asks the running batch to stop between items.
func (a *App) StopBatch() bool {
	if !a.batchActive.Load() {
		return false
	}
	a.engine.Stop()
	return true
}

func (a *App) IsBatchRunning() bool { return a.batchActive.Load() }

// GetStats returns the live statistics of the current batch, or the last recorded one.
func (a *App) GetStats() types.ExecutionStats {
	if st := a.engine.Stats(); st.BatchID != "" {
		return st
	}
	if last, err := a.store.ListBatches(1); err == nil && len(last) > 0 {
		return last[0]
	}
	return types.ExecutionStats{}
}

func (a *App) ListBatches(limit int) ([]types.ExecutionStats, error) {
	return a.store.ListBatches(limit)
}

// SubscribeEvents streams the engine's batch progress events.
func (a *App) SubscribeEvents(buffer int) (<-chan scheduler.Event, func()) {
	return a.engine.Events().Subscribe(buffer)
}
