package checkpoint

import (
	"testing"
	"time"

	"flowfarm/pkg/types"
)

func TestItemsRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	at := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	items := []types.WorkItem{
		{ID: "b", Seq: 1, Platform: "xiaohongshu", Username: "bob", UserID: "2", Priority: 2, Status: types.ItemPending},
		{ID: "a", Seq: 0, Platform: "xiaohongshu", Username: "alice", UserID: "1", Priority: 1, Tags: []string{"kol"},
			Status: types.ItemFailed, RetryCount: 1, AssignedDevice: "d1", LastAttempt: &at, LastError: "target not found"},
	}
	if err := s.SaveItems(items); err != nil {
		t.Fatalf("SaveItems failed: %v", err)
	}

	items[1].Status = types.ItemSuccess
	if err := s.SaveItems(items[1:]); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.LoadItems()
	if err != nil {
		t.Fatalf("LoadItems failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("Expected items in seq order, got %+v", got)
	}
	a := got[0]
	if a.Status != types.ItemSuccess || a.RetryCount != 1 || a.AssignedDevice != "d1" || len(a.Tags) != 1 {
		t.Errorf("Unexpected item %+v", a)
	}
	if a.LastAttempt == nil || !a.LastAttempt.Equal(at) {
		t.Errorf("LastAttempt not restored: %v", a.LastAttempt)
	}
	if got[1].LastAttempt != nil {
		t.Error("Item without attempt should have nil LastAttempt")
	}
}

func TestBatches(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now().Add(-time.Hour)
	first := types.ExecutionStats{BatchID: "b1", StartedAt: start}
	if err := s.SaveBatch(first); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	first.FinishedAt = start.Add(time.Minute)
	first.Totals = types.DeviceStats{Processed: 4, Success: 3, Failed: 1}
	first.SuccessRate = 0.75
	if err := s.SaveBatch(first); err != nil {
		t.Fatalf("Update batch failed: %v", err)
	}
	if err := s.SaveBatch(types.ExecutionStats{BatchID: "b2", StartedAt: start.Add(30 * time.Minute), Stopped: true}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()

	batches, err := s.ListBatches(0)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if len(batches) != 2 || batches[0].BatchID != "b2" || !batches[0].Stopped {
		t.Fatalf("Expected newest first, got %+v", batches)
	}
	if batches[1].Totals.Processed != 4 || batches[1].SuccessRate != 0.75 {
		t.Errorf("Batch update lost: %+v", batches[1])
	}
	if one, _ := s.ListBatches(1); len(one) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(one))
	}
}
