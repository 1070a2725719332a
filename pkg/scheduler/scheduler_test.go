package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flowfarm/pkg/types"
	"flowfarm/pkg/workitem"
)

func makeItems(priorities ...int) []types.WorkItem {
	items := make([]types.WorkItem, len(priorities))
	for i, p := range priorities {
		items[i] = types.WorkItem{ID: fmt.Sprintf("item%d", i+1), Priority: p, Seq: i, Platform: "xiaohongshu"}
	}
	return items
}

func TestAssignScenario(t *testing.T) {
	plan := Assign(makeItems(1, 2, 1, 3, 2), []string{"d1", "d2"})

	want := map[string][]string{
		"d1": {"item1", "item3", "item5"},
		"d2": {"item2", "item4"},
	}
	if !reflect.DeepEqual(plan.Items, want) {
		t.Errorf("Expected %v, got %v", want, plan.Items)
	}
	if !reflect.DeepEqual(plan.Devices, []string{"d1", "d2"}) {
		t.Errorf("Unexpected devices %v", plan.Devices)
	}
}

func TestAssignPartitionAndIdempotence(t *testing.T) {
	items := makeItems(3, 1, 2, 2, 1, 3, 1, 2, 2)
	items[2].Status = types.ItemSuccess
	items[5].RetryCount = 2
	devices := []string{"a", "b", "c", "a"}

	plan := Assign(items, devices)
	again := Assign(items, devices)
	if !reflect.DeepEqual(plan, again) {
		t.Fatalf("Assign is not deterministic:\n%v\n%v", plan, again)
	}

	seen := map[string]int{}
	for _, ids := range plan.Items {
		for _, id := range ids {
			seen[id]++
		}
	}
	for _, it := range items {
		want := 1
		if it.Status != types.ItemPending {
			want = 0
		}
		if seen[it.ID] != want {
			t.Errorf("%s appears %d times, want %d", it.ID, seen[it.ID], want)
		}
	}
	if len(plan.Devices) != 3 {
		t.Errorf("Duplicate devices should be dropped, got %v", plan.Devices)
	}

	byID := map[string]types.WorkItem{}
	for _, it := range items {
		byID[it.ID] = it
	}
	for d, ids := range plan.Items {
		for i := 1; i < len(ids); i++ {
			a, b := byID[ids[i-1]], byID[ids[i]]
			if a.Priority > b.Priority || (a.Priority == b.Priority && a.RetryCount > b.RetryCount) {
				t.Errorf("%s list out of order: %v", d, ids)
			}
		}
	}
}

func TestAssignNoDevices(t *testing.T) {
	plan := Assign(makeItems(1, 2), nil)
	if plan.Size() != 0 || len(plan.Devices) != 0 {
		t.Errorf("Expected empty plan, got %+v", plan)
	}
}

func TestPacingSampleBounds(t *testing.T) {
	p := Pacing{Min: 2 * time.Second, Max: 5 * time.Second}
	for i := 0; i < 1000; i++ {
		if d := p.Sample(); d < p.Min || d > p.Max {
			t.Fatalf("Sample %v outside [%v, %v]", d, p.Min, p.Max)
		}
	}
	if d := (Pacing{Min: time.Second, Max: time.Second}).Sample(); d != time.Second {
		t.Errorf("Degenerate interval should return Min, got %v", d)
	}
}

type fakeDevices struct {
	mu          sync.Mutex
	unavailable map[string]bool
	working     map[string]bool
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{unavailable: map[string]bool{}, working: map[string]bool{}}
}

func (f *fakeDevices) IsAvailable(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unavailable[id]
}

func (f *fakeDevices) MarkWorking(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable[id] {
		return false
	}
	f.working[id] = true
	return true
}

func (f *fakeDevices) MarkIdle(id string) {
	f.mu.Lock()
	f.working[id] = false
	f.mu.Unlock()
}

func (f *fakeDevices) setUnavailable(id string) {
	f.mu.Lock()
	f.unavailable[id] = true
	f.mu.Unlock()
}

type fakeCheckpoint struct {
	mu      sync.Mutex
	saved   []types.WorkItem
	batches []types.ExecutionStats
}

func (f *fakeCheckpoint) SaveItems(items []types.WorkItem) error {
	f.mu.Lock()
	f.saved = append(f.saved, items...)
	f.mu.Unlock()
	return nil
}

func (f *fakeCheckpoint) SaveBatch(st types.ExecutionStats) error {
	f.mu.Lock()
	f.batches = append(f.batches, st)
	f.mu.Unlock()
	return nil
}

type procFunc func(ctx context.Context, deviceID string, item types.WorkItem) (types.ItemStatus, error)

func (f procFunc) Process(ctx context.Context, deviceID string, item types.WorkItem) (types.ItemStatus, error) {
	return f(ctx, deviceID, item)
}

type harness struct {
	store   *workitem.Store
	devices *fakeDevices
	cp      *fakeCheckpoint
	engine  *Engine
	sleeps  []time.Duration
	mu      sync.Mutex
}

func newHarness(items []types.WorkItem, pacing Pacing) *harness {
	h := &harness{store: workitem.NewStore(), devices: newFakeDevices(), cp: &fakeCheckpoint{}}
	h.store.Replace(items)
	h.engine = NewEngine(h.devices, h.store, h.cp, nil, Options{
		Pacing: pacing,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return ctx.Err()
		},
	})
	return h
}

func TestExecuteBatchEmptyPlan(t *testing.T) {
	h := newHarness(makeItems(1, 2), Pacing{})
	var calls int32
	proc := procFunc(func(context.Context, string, types.WorkItem) (types.ItemStatus, error) {
		atomic.AddInt32(&calls, 1)
		return types.ItemSuccess, nil
	})

	st, err := h.engine.ExecuteBatch(context.Background(), Assign(h.store.Items(), nil), proc)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if st.Totals.Processed != 0 || st.SuccessRate != 0 || calls != 0 {
		t.Errorf("Expected nothing processed, got %+v (calls %d)", st.Totals, calls)
	}
}

func TestExecuteBatchContainsFailures(t *testing.T) {
	items := makeItems(1, 1, 1, 1, 1)
	h := newHarness(items, Pacing{Min: 2 * time.Second, Max: 5 * time.Second})

	proc := procFunc(func(_ context.Context, _ string, it types.WorkItem) (types.ItemStatus, error) {
		switch it.ID {
		case "item3":
			return types.ItemError, errors.New("parse UI dump: no hierarchy element")
		case "item4":
			panic("nil pointer in handler")
		case "item5":
			return types.ItemAlreadyDone, nil
		}
		return types.ItemSuccess, nil
	})

	plan := Assign(h.store.Items(), []string{"d1"})
	st, err := h.engine.ExecuteBatch(context.Background(), plan, proc)
	if err != nil {
		t.Fatal(err)
	}

	if st.Totals.Processed != 5 || st.Totals.Success != 2 || st.Totals.AlreadyDone != 1 || st.Totals.Error != 2 {
		t.Errorf("Unexpected totals %+v", st.Totals)
	}
	if st.SuccessRate != 0.6 {
		t.Errorf("Expected success rate 0.6, got %v", st.SuccessRate)
	}

	it3, _ := h.store.Get("item3")
	if it3.Status != types.ItemError || it3.RetryCount != 1 || it3.LastError == "" || it3.AssignedDevice != "d1" || it3.LastAttempt == nil {
		t.Errorf("Unexpected item3 %+v", it3)
	}
	it4, _ := h.store.Get("item4")
	if it4.Status != types.ItemError {
		t.Errorf("Panicking item should be Error, got %s", it4.Status)
	}
	it1, _ := h.store.Get("item1")
	if it1.RetryCount != 0 {
		t.Error("Successful items keep their retry count")
	}

	if len(h.sleeps) != 4 {
		t.Errorf("Expected a pause between each pair of items, got %d", len(h.sleeps))
	}
	for _, d := range h.sleeps {
		if d < 2*time.Second || d > 5*time.Second {
			t.Errorf("Pause %v outside bounds", d)
		}
	}

	// 5 incremental + 5 final
	if len(h.cp.saved) != 10 || len(h.cp.batches) != 2 {
		t.Errorf("Unexpected checkpoints: %d items, %d batches", len(h.cp.saved), len(h.cp.batches))
	}
	if last := h.cp.batches[len(h.cp.batches)-1]; last.Totals.Processed != 5 || last.FinishedAt.IsZero() {
		t.Errorf("Final batch checkpoint incomplete: %+v", last)
	}
	if h.devices.working["d1"] {
		t.Error("Device should be idle after the batch")
	}
}

func TestExecuteBatchDeviceLost(t *testing.T) {
	h := newHarness(makeItems(1, 1, 1, 1, 1, 1), Pacing{})
	proc := procFunc(func(_ context.Context, deviceID string, it types.WorkItem) (types.ItemStatus, error) {
		if deviceID == "d2" {
			h.devices.setUnavailable("d2")
		}
		return types.ItemSuccess, nil
	})

	plan := Assign(h.store.Items(), []string{"d1", "d2"})
	st, err := h.engine.ExecuteBatch(context.Background(), plan, proc)
	if err != nil {
		t.Fatal(err)
	}

	var d1, d2 types.DeviceStats
	for _, ds := range st.Devices {
		switch ds.DeviceID {
		case "d1":
			d1 = ds
		case "d2":
			d2 = ds
		}
	}
	if d1.Processed != 3 || d2.Processed != 1 || d2.Unprocessed != 2 {
		t.Errorf("Unexpected device stats d1=%+v d2=%+v", d1, d2)
	}
	if st.Totals.Processed != 4 {
		t.Errorf("Processed must equal dispatched items, got %d", st.Totals.Processed)
	}

	pending := h.store.Pending()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 items left pending, got %d", len(pending))
	}
	for _, it := range pending {
		if it.AssignedDevice != "" {
			t.Errorf("Unprocessed item %s must not be reassigned", it.ID)
		}
	}
}

func TestExecuteBatchStop(t *testing.T) {
	h := newHarness(makeItems(1, 1, 1, 1), Pacing{})
	var processed int32
	proc := procFunc(func(context.Context, string, types.WorkItem) (types.ItemStatus, error) {
		if atomic.AddInt32(&processed, 1) == 2 {
			h.engine.Stop()
		}
		return types.ItemSuccess, nil
	})

	st, _ := h.engine.ExecuteBatch(context.Background(), Assign(h.store.Items(), []string{"d1"}), proc)
	if !st.Stopped || st.Totals.Processed != 2 || st.Totals.Unprocessed != 2 {
		t.Errorf("Expected stop after 2 items, got %+v stopped=%v", st.Totals, st.Stopped)
	}
	if h.engine.Running() {
		t.Error("Engine should not be running after the batch")
	}
}

func TestExecuteBatchRejectsConcurrentRun(t *testing.T) {
	h := newHarness(makeItems(1), Pacing{})
	release := make(chan struct{})
	started := make(chan struct{})
	proc := procFunc(func(context.Context, string, types.WorkItem) (types.ItemStatus, error) {
		close(started)
		<-release
		return types.ItemSuccess, nil
	})

	done := make(chan struct{})
	go func() {
		h.engine.ExecuteBatch(context.Background(), Assign(h.store.Items(), []string{"d1"}), proc)
		close(done)
	}()
	<-started
	if _, err := h.engine.ExecuteBatch(context.Background(), types.AssignmentPlan{}, proc); !errors.Is(err, ErrBatchRunning) {
		t.Errorf("Expected ErrBatchRunning, got %v", err)
	}
	if live := h.engine.Stats(); live.BatchID == "" {
		t.Error("Live stats should carry the batch id")
	}
	close(release)
	<-done
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(makeItems(1, 1), Pacing{})
	events, cancel := h.engine.Events().Subscribe(32)
	defer cancel()

	proc := procFunc(func(context.Context, string, types.WorkItem) (types.ItemStatus, error) {
		return types.ItemFailed, errors.New("target not found")
	})
	h.engine.ExecuteBatch(context.Background(), Assign(h.store.Items(), []string{"d1"}), proc)

	counts := map[EventType]int{}
	var last Event
	for len(events) > 0 {
		ev := <-events
		counts[ev.Type]++
		last = ev
		if ev.ID == "" {
			t.Error("Event without id")
		}
	}
	if counts[EventBatchStarted] != 1 || counts[EventItemStarted] != 2 || counts[EventItemFinished] != 2 || counts[EventBatchFinished] != 1 {
		t.Errorf("Unexpected event counts %v", counts)
	}
	if last.Type != EventBatchFinished || last.Stats == nil || last.Stats.Totals.Failed != 2 {
		t.Errorf("Unexpected final event %+v", last)
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe(1)
	b.Publish(Event{Type: EventItemStarted})
	b.Publish(Event{Type: EventItemFinished})
	if len(ch) != 1 {
		t.Errorf("Expected one buffered event, got %d", len(ch))
	}
	cancel()
	cancel()
	b.Publish(Event{Type: EventBatchFinished})
}
