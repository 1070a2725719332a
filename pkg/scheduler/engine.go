package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
)

// ErrBatchRunning is returned when a batch is started while another is in progress.
var ErrBatchRunning = errors.New("a batch is already running")

// Processor runs one item on one device and classifies the outcome.
type Processor interface {
	Process(ctx context.Context, deviceID string, item types.WorkItem) (types.ItemStatus, error)
}

// Devices is the registry view a worker needs.
type Devices interface {
	IsAvailable(id string) bool
	MarkWorking(id string) bool
	MarkIdle(id string)
}

// Items is the work-item store. Workers only touch items assigned to their device.
type Items interface {
	Get(id string) (types.WorkItem, bool)
	Update(id string, fn func(*types.WorkItem)) (types.WorkItem, error)
}

// Checkpointer persists progress. Failures are logged, never fatal.
type Checkpointer interface {
	SaveItems(items []types.WorkItem) error
	SaveBatch(stats types.ExecutionStats) error
}

// Pacing bounds the delay between two items on one device.
type Pacing struct {
	Min time.Duration
	Max time.Duration
}

// Sample draws uniformly from [Min, Max].
func (p Pacing) Sample() time.Duration {
	if p.Max <= p.Min {
		return max(p.Min, 0)
	}
	return p.Min + time.Duration(rand.Int64N(int64(p.Max-p.Min)+1))
}

type Options struct {
	Pacing Pacing
	// Sleep waits out the pacing delay; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Engine struct {
	devices Devices
	items   Items
	store   Checkpointer
	events  *Broadcaster
	opts    Options

	running atomic.Bool
	stop    atomic.Bool

	mu    sync.Mutex
	stats types.ExecutionStats
	per   map[string]*types.DeviceStats
}

// NewEngine wires the engine. store and events may be nil.
func NewEngine(devices Devices, items Items, store Checkpointer, events *Broadcaster, opts Options) *Engine {
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if events == nil {
		events = NewBroadcaster()
	}
	return &Engine{devices: devices, items: items, store: store, events: events, opts: opts}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) Events() *Broadcaster { return e.events }

func (e *Engine) Running() bool { return e.running.Load() }

// Stop asks running workers to finish after their current item.
func (e *Engine) Stop() {
	if e.running.Load() {
		e.stop.Store(true)
		logger.Info("engine").Msg("stop requested")
	}
}

// Stats returns the live counters of the current (or last) batch.
func (e *Engine) Stats() types.ExecutionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() types.ExecutionStats {
	st := e.stats
	st.Devices = make([]types.DeviceStats, 0, len(e.per))
	st.Totals = types.DeviceStats{}
	for _, ds := range e.per {
		st.Devices = append(st.Devices, *ds)
		st.Totals.Add(*ds)
	}
	sort.Slice(st.Devices, func(i, j int) bool { return st.Devices[i].DeviceID < st.Devices[j].DeviceID })
	st.SuccessRate = st.Totals.SuccessRate()
	return st
}

func (e *Engine) record(deviceID string, fn func(*types.DeviceStats)) {
	e.mu.Lock()
	fn(e.per[deviceID])
	e.mu.Unlock()
}

// ExecuteBatch runs one worker per plan device and returns the aggregated stats once
// every worker has finished. An empty plan returns zero stats without starting workers.
func (e *Engine) ExecuteBatch(ctx context.Context, plan types.AssignmentPlan, proc Processor) (types.ExecutionStats, error) {
	if !e.running.CompareAndSwap(false, true) {
		return types.ExecutionStats{}, ErrBatchRunning
	}
	defer e.running.Store(false)
	e.stop.Store(false)

	devices := planDevices(plan)

	e.mu.Lock()
	e.stats = types.ExecutionStats{BatchID: uuid.NewString(), StartedAt: e.opts.Now()}
	e.per = make(map[string]*types.DeviceStats, len(devices))
	for _, d := range devices {
		e.per[d] = &types.DeviceStats{DeviceID: d}
	}
	batchID := e.stats.BatchID
	e.mu.Unlock()

	if plan.Size() == 0 {
		e.mu.Lock()
		e.stats.FinishedAt = e.opts.Now()
		st := e.snapshotLocked()
		e.mu.Unlock()
		logger.Info("engine").Str("batch", batchID).Msg("nothing to execute")
		return st, nil
	}

	logger.Info("engine").Str("batch", batchID).Int("devices", len(devices)).Int("items", plan.Size()).Msg("batch started")
	e.events.Publish(Event{Type: EventBatchStarted, BatchID: batchID})
	if e.store != nil {
		if err := e.store.SaveBatch(e.Stats()); err != nil {
			logger.Warn("engine").Err(err).Msg("batch checkpoint failed")
		}
	}

	var wg sync.WaitGroup
	for _, d := range devices {
		wg.Add(1)
		go func(deviceID string, ids []string) {
			defer wg.Done()
			e.work(ctx, batchID, deviceID, ids, proc)
		}(d, plan.Items[d])
	}
	wg.Wait()

	e.mu.Lock()
	e.stats.FinishedAt = e.opts.Now()
	e.stats.Stopped = e.stop.Load() || ctx.Err() != nil
	st := e.snapshotLocked()
	e.mu.Unlock()

	e.finalCheckpoint(plan, st)
	e.events.Publish(Event{Type: EventBatchFinished, BatchID: batchID, Stats: &st})
	logger.Info("engine").
		Str("batch", batchID).
		Int("processed", st.Totals.Processed).
		Int("success", st.Totals.Success).
		Int("alreadyDone", st.Totals.AlreadyDone).
		Int("failed", st.Totals.Failed).
		Int("error", st.Totals.Error).
		Int("unprocessed", st.Totals.Unprocessed).
		Float64("successRate", st.SuccessRate).
		Bool("stopped", st.Stopped).
		Msg("batch finished")
	return st, nil
}

// planDevices lists plan.Devices first, then any extra keys of plan.Items in id order.
func planDevices(plan types.AssignmentPlan) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range plan.Devices {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	var extra []string
	for d := range plan.Items {
		if !seen[d] {
			extra = append(extra, d)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func (e *Engine) work(ctx context.Context, batchID, deviceID string, ids []string, proc Processor) {
	if len(ids) == 0 {
		return
	}
	if !e.devices.MarkWorking(deviceID) {
		e.abandon(batchID, deviceID, len(ids), "device unavailable at start")
		return
	}
	defer e.devices.MarkIdle(deviceID)
	logger.Info("engine").Str("batch", batchID).Str("device", deviceID).Int("items", len(ids)).Msg("worker started")

	for i, id := range ids {
		if i > 0 {
			if err := e.opts.Sleep(ctx, e.opts.Pacing.Sample()); err != nil {
				e.abandon(batchID, deviceID, len(ids)-i, "cancelled")
				return
			}
		}
		if e.stop.Load() || ctx.Err() != nil {
			e.abandon(batchID, deviceID, len(ids)-i, "stopped")
			return
		}
		if !e.devices.IsAvailable(deviceID) {
			e.abandon(batchID, deviceID, len(ids)-i, "device unavailable")
			return
		}
		e.processItem(ctx, batchID, deviceID, id, proc)
	}
	logger.Info("engine").Str("batch", batchID).Str("device", deviceID).Msg("worker finished")
}

// abandon counts the remaining items as unprocessed. They stay Pending and are not reassigned.
func (e *Engine) abandon(batchID, deviceID string, remaining int, reason string) {
	e.record(deviceID, func(ds *types.DeviceStats) { ds.Unprocessed += remaining })
	logger.Warn("engine").Str("batch", batchID).Str("device", deviceID).Int("remaining", remaining).Str("reason", reason).Msg("worker stopped early")
	if reason != "stopped" && reason != "cancelled" {
		e.events.Publish(Event{Type: EventDeviceUnavailable, BatchID: batchID, DeviceID: deviceID, Error: reason})
	}
}

func (e *Engine) processItem(ctx context.Context, batchID, deviceID, id string, proc Processor) {
	item, ok := e.items.Get(id)
	var (
		status types.ItemStatus
		err    error
	)
	if !ok {
		status, err = types.ItemError, fmt.Errorf("unknown work item %q", id)
	} else {
		e.events.Publish(Event{Type: EventItemStarted, BatchID: batchID, DeviceID: deviceID, ItemID: id})
		status, err = e.safeProcess(ctx, deviceID, item, proc)
	}
	if status == types.ItemPending {
		status = types.ItemError
		if err == nil {
			err = errors.New("processor returned no outcome")
		}
	}

	now := e.opts.Now()
	updated, uerr := e.items.Update(id, func(it *types.WorkItem) {
		it.Status = status
		it.AssignedDevice = deviceID
		it.LastAttempt = &now
		it.LastError = ""
		if err != nil {
			it.LastError = err.Error()
		}
		if status == types.ItemFailed || status == types.ItemError {
			it.RetryCount++
		}
	})
	e.record(deviceID, func(ds *types.DeviceStats) { ds.Record(status) })

	if uerr == nil && e.store != nil {
		if cerr := e.store.SaveItems([]types.WorkItem{updated}); cerr != nil {
			logger.Warn("engine").Str("item", id).Err(cerr).Msg("item checkpoint failed")
		}
	}

	ev := Event{Type: EventItemFinished, BatchID: batchID, DeviceID: deviceID, ItemID: id, Status: status.String()}
	if err != nil {
		ev.Error = err.Error()
	}
	e.events.Publish(ev)
}

// safeProcess contains panics so one item can never take down its worker.
func (e *Engine) safeProcess(ctx context.Context, deviceID string, item types.WorkItem, proc Processor) (status types.ItemStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine").
				Str("device", deviceID).
				Str("item", item.ID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("item processing panicked")
			status, err = types.ItemError, fmt.Errorf("panic: %v", r)
		}
	}()
	return proc.Process(ctx, deviceID, item)
}

func (e *Engine) finalCheckpoint(plan types.AssignmentPlan, st types.ExecutionStats) {
	if e.store == nil {
		return
	}
	var items []types.WorkItem
	for _, ids := range plan.Items {
		for _, id := range ids {
			if it, ok := e.items.Get(id); ok {
				items = append(items, it)
			}
		}
	}
	if err := e.store.SaveItems(items); err != nil {
		logger.Warn("engine").Err(err).Msg("final item checkpoint failed")
	}
	if err := e.store.SaveBatch(st); err != nil {
		logger.Warn("engine").Err(err).Msg("final batch checkpoint failed")
	}
}
