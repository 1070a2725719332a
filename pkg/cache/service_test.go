package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"flowfarm/pkg/types"
)

func TestDeviceHistoryPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	d := types.NewDevice("emulator-5554")
	d.Model = "Pixel 7"
	d.Status = types.DeviceConnected
	d.LastSeen = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d.Capabilities = []string{"com.xingin.xhs"}
	s.Remember([]types.Device{d, types.NewDevice("R58M")})
	s.Forget("R58M")
	s.UpdateSettings(func(st *Settings) { st.LastBatchID = "batch-1" })
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	again, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	devices := again.Devices()
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	got := devices[0]
	if got.ID != d.ID || got.Model != "Pixel 7" || got.Status != types.DeviceConnected || !got.LastSeen.Equal(d.LastSeen) || !got.HasCapability("com.xingin.xhs") {
		t.Errorf("Device not restored: %+v", got)
	}
	if again.Settings().LastBatchID != "batch-1" {
		t.Errorf("Settings not restored: %+v", again.Settings())
	}
}

func TestCorruptHistoryIgnored(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "devices.json"), []byte("{oops"), 0644)
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Devices()) != 0 {
		t.Error("Corrupt history should load as empty")
	}
}
