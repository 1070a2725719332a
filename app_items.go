package main

import (
	"fmt"
	"time"

	"flowfarm/pkg/cache"
	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
	"flowfarm/pkg/workitem"
)

// ImportItems validates a whole document and merges it into the store. A document with
// any invalid item is rejected without importing anything.
func (a *App) ImportItems(name string, data []byte) (added, skipped int, err error) {
	items, err := workitem.Parse(name, data)
	if err != nil {
		return 0, 0, err
	}
	return a.mergeItems(name, items)
}

func (a *App) mergeItems(name string, items []types.WorkItem) (int, int, error) {
	added, skipped := a.items.Merge(items)
	if err := a.store.SaveItems(a.items.Items()); err != nil {
		logger.Warn("app").Err(err).Msg("checkpoint after import failed")
	}
	a.cache.UpdateSettings(func(s *cache.Settings) {
		s.LastImport = name
	})
	logger.Info("app").Str("source", name).Int("added", added).Int("skipped", skipped).Msg("items merged")
	return added, skipped, nil
}

// ExportItems renders every item with its current state.
func (a *App) ExportItems() ([]byte, error) {
	return workitem.ExportJSON(a.items.Items(), a.cfg.Batch.MaxRetries)
}

// ListItems returns items in import order; status filters by status name when non-empty.
func (a *App) ListItems(status string) ([]types.WorkItem, error) {
	if status == "" {
		return a.items.Items(), nil
	}
	want, err := types.ParseItemStatus(status)
	if err != nil {
		return nil, fmt.Errorf("status filter: %w", err)
	}
	return a.items.Filter(func(it types.WorkItem) bool { return it.Status == want }), nil
}

func (a *App) ItemStatistics() workitem.Statistics { return a.items.Statistics() }

// markAssigned records the planned device on each item before dispatch.
func (a *App) markAssigned(plan types.AssignmentPlan) {
	for _, dev := range plan.Devices {
		for _, id := range plan.Items[dev] {
			if _, err := a.items.Update(id, func(it *types.WorkItem) { it.AssignedDevice = dev }); err != nil {
				logger.Warn("app").Str("item", id).Err(err).Msg("assign failed")
			}
		}
	}
}

func (a *App) recordBatch(stats types.ExecutionStats) {
	a.cache.UpdateSettings(func(s *cache.Settings) {
		s.LastBatchID = stats.BatchID
	})
	if err := a.cache.SaveSettings(); err != nil {
		logger.Warn("app").Err(err).Msg("settings not saved")
	}
	logger.Info("app").
		Str("batch", stats.BatchID).
		Int("processed", stats.Totals.Processed).
		Int("unprocessed", stats.Totals.Unprocessed).
		Float64("successRate", stats.SuccessRate).
		Dur("elapsed", stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond)).
		Msg("batch finished")
}
