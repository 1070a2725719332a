package types

import (
	"encoding/json"
	"testing"
)

func TestDeviceStatusAvailable(t *testing.T) {
	tests := []struct {
		status DeviceStatus
		want   bool
	}{
		{DeviceUnknown, false},
		{DeviceDisconnected, false},
		{DeviceConnecting, false},
		{DeviceConnected, true},
		{DeviceWorking, true},
		{DeviceError, false},
		{DeviceOffline, false},
	}
	for _, tt := range tests {
		if got := tt.status.Available(); got != tt.want {
			t.Errorf("%s.Available() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDeviceStatusJSON(t *testing.T) {
	d := NewDevice("emulator-5554")
	d.Status = DeviceOffline

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Device
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Status != DeviceOffline {
		t.Errorf("Expected offline, got %s", back.Status)
	}
	if back.Battery != -1 || back.Model != "Unknown" {
		t.Errorf("Defaults not preserved: %+v", back)
	}
}

func TestParseItemStatus(t *testing.T) {
	st, err := ParseItemStatus("already_followed")
	if err != nil || st != ItemAlreadyDone {
		t.Errorf("Expected legacy label to map to already_done, got %s (%v)", st, err)
	}
	if _, err := ParseItemStatus("bogus"); err == nil {
		t.Error("Expected error for unknown status")
	}
}

func TestDeviceStatsSuccessRate(t *testing.T) {
	var s DeviceStats
	if s.SuccessRate() != 0 {
		t.Errorf("Empty stats should have zero rate")
	}

	s.Record(ItemSuccess)
	s.Record(ItemAlreadyDone)
	s.Record(ItemFailed)
	s.Record(ItemError)

	if s.Processed != 4 {
		t.Errorf("Expected 4 processed, got %d", s.Processed)
	}
	if s.SuccessRate() != 0.5 {
		t.Errorf("Expected rate 0.5, got %f", s.SuccessRate())
	}
}

func TestAssignmentPlanSize(t *testing.T) {
	p := AssignmentPlan{
		Devices: []string{"a", "b"},
		Items:   map[string][]string{"a": {"1", "2"}, "b": {"3"}},
	}
	if p.Size() != 3 {
		t.Errorf("Expected size 3, got %d", p.Size())
	}
}
