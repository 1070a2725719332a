package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"flowfarm/pkg/adb"
	"flowfarm/pkg/cache"
	"flowfarm/pkg/checkpoint"
	"flowfarm/pkg/config"
	"flowfarm/pkg/device"
	"flowfarm/pkg/inbox"
	"flowfarm/pkg/logger"
	"flowfarm/pkg/navigator"
	"flowfarm/pkg/scheduler"
	"flowfarm/pkg/script"
	"flowfarm/pkg/types"
	"flowfarm/pkg/uitree"
	"flowfarm/pkg/workitem"
)

// App wires the orchestrator together and is the surface the CLI and MCP server drive.
type App struct {
	cfg     *config.Config
	version string

	op       device.Operator
	registry *device.Registry
	items    *workitem.Store
	store    *checkpoint.Store
	cache    *cache.Service
	filter   *script.Filter
	engine   *scheduler.Engine
	lexicon  uitree.Lexicon
	inbox    *inbox.Watcher

	ctx         context.Context
	batchActive atomic.Bool
	batchWG     sync.WaitGroup
}

// NewApp builds the app over a real adb client.
func NewApp(cfg *config.Config, version string) (*App, error) {
	client := adb.New(adb.Options{
		Path:              cfg.ADB.Path,
		Timeout:           cfg.ADB.CommandTimeout,
		CommandsPerSecond: cfg.ADB.CommandsPerSecond,
		Burst:             cfg.ADB.Burst,
	})
	logger.Info("app").Str("adb", client.Path()).Msg("using adb")
	return newApp(cfg, version, client)
}

func newApp(cfg *config.Config, version string, op device.Operator) (*App, error) {
	lex, ok := uitree.LexiconFor(cfg.Navigation.App)
	if !ok {
		return nil, fmt.Errorf("unknown navigation app %q (known: %v)", cfg.Navigation.App, uitree.LexiconNames())
	}

	store, err := checkpoint.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cacheSvc, err := cache.New(filepath.Join(cfg.DataDir, "cache"))
	if err != nil {
		store.Close()
		return nil, err
	}

	var filter *script.Filter
	if cfg.FilterScript != "" {
		if filter, err = script.Load(cfg.FilterScript); err != nil {
			store.Close()
			return nil, err
		}
	}

	items := workitem.NewStore()
	saved, err := store.LoadItems()
	if err != nil {
		logger.Warn("app").Err(err).Msg("could not load saved items")
	}
	items.Replace(saved)

	registry := device.NewRegistry(op, device.Options{
		Interval:       cfg.Monitor.Interval,
		OfflineTimeout: cfg.Monitor.OfflineTimeout,
		Capabilities:   cfg.Monitor.Capabilities,
	})
	registry.Restore(cacheSvc.Devices())

	a := &App{
		cfg:      cfg,
		version:  version,
		op:       op,
		registry: registry,
		items:    items,
		store:    store,
		cache:    cacheSvc,
		filter:   filter,
		lexicon:  lex,
		ctx:      context.Background(),
	}
	a.engine = scheduler.NewEngine(registry, items, store, nil, scheduler.Options{
		Pacing: scheduler.Pacing(cfg.Pacing),
	})
	registry.Watch(a.onDeviceChange)

	if cfg.InboxDir != "" {
		a.inbox = inbox.New(cfg.InboxDir, 0, func(name string, items []types.WorkItem) (int, error) {
			added, _, err := a.mergeItems(name, items)
			return added, err
		})
	}

	logger.Info("app").Int("items", items.Len()).Str("lexicon", lex.Name).Str("data", cfg.DataDir).Msg("app ready")
	return a, nil
}

// Startup scans once and starts the background services.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx
	if _, err := a.ScanDevices(ctx); err != nil {
		logger.Warn("app").Err(err).Msg("initial scan failed")
	}
	a.registry.StartMonitor(ctx)
	if a.inbox != nil {
		if err := a.inbox.Start(); err != nil {
			logger.Error("app").Err(err).Msg("inbox watcher failed to start")
		}
	}
}

// Shutdown stops any batch, waits for it and flushes state.
func (a *App) Shutdown() {
	a.engine.Stop()
	a.batchWG.Wait()

	if a.inbox != nil {
		a.inbox.Stop()
	}
	a.registry.StopMonitor()

	a.cache.Remember(a.registry.List())
	if err := a.cache.Close(); err != nil {
		logger.Warn("app").Err(err).Msg("cache flush failed")
	}
	if err := a.store.SaveItems(a.items.Items()); err != nil {
		logger.Warn("app").Err(err).Msg("final item checkpoint failed")
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("app").Err(err).Msg("checkpoint close failed")
	}
}

func (a *App) GetAppVersion() string { return a.version }

func (a *App) onDeviceChange(c device.Change) {
	a.cache.Remember([]types.Device{c.Device})
}

// ========================================
// Devices
// ========================================

func (a *App) ScanDevices(ctx context.Context) ([]types.Device, error) {
	devices, err := a.registry.Scan(ctx)
	if err != nil {
		return nil, err
	}
	a.cache.Remember(devices)
	if err := a.cache.SaveDevices(); err != nil {
		logger.Warn("app").Err(err).Msg("device history not saved")
	}
	return devices, nil
}

func (a *App) ListDevices() []types.Device { return a.registry.List() }

func (a *App) DeviceSummary() types.DeviceSummary { return a.registry.Summary() }

func (a *App) controllerFor(id string) navigator.Device {
	return device.NewController(a.registry, a.op, id)
}
