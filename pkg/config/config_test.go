package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Navigation.VerifyAttempts != 3 {
		t.Errorf("Expected 3 verify attempts, got %d", cfg.Navigation.VerifyAttempts)
	}
	if cfg.Navigation.DedupEpsilon != 10 {
		t.Errorf("Expected epsilon 10, got %d", cfg.Navigation.DedupEpsilon)
	}
	if cfg.Pacing.Min != 2*time.Second || cfg.Pacing.Max != 5*time.Second {
		t.Errorf("Unexpected pacing %+v", cfg.Pacing)
	}
	if cfg.Monitor.OfflineTimeout != 60*time.Second {
		t.Errorf("Unexpected offline timeout %s", cfg.Monitor.OfflineTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowfarm.yaml")
	yaml := `
data_dir: /tmp/farm
pacing:
  min: 1s
  max: 3s
navigation:
  verify_attempts: 5
monitor:
  capabilities: [com.example.app]
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "/tmp/farm" {
		t.Errorf("Expected data dir override, got %s", cfg.DataDir)
	}
	if cfg.Pacing.Max != 3*time.Second {
		t.Errorf("Expected pacing max 3s, got %s", cfg.Pacing.Max)
	}
	if cfg.Navigation.VerifyAttempts != 5 {
		t.Errorf("Expected 5 verify attempts, got %d", cfg.Navigation.VerifyAttempts)
	}
	if len(cfg.Monitor.Capabilities) != 1 || cfg.Monitor.Capabilities[0] != "com.example.app" {
		t.Errorf("Unexpected capabilities %v", cfg.Monitor.Capabilities)
	}
	// untouched keys keep defaults
	if cfg.Navigation.MaxBackPresses != 3 {
		t.Errorf("Expected default back presses, got %d", cfg.Navigation.MaxBackPresses)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FLOWFARM_BATCH_PLATFORM", "douyin")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Batch.Platform != "douyin" {
		t.Errorf("Expected env override, got %s", cfg.Batch.Platform)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestValidateInvertedPacing(t *testing.T) {
	cfg := Default()
	cfg.Pacing.Min = 5 * time.Second
	cfg.Pacing.Max = time.Second
	cfg.Navigation.VerifyAttempts = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "pacing.max") || !strings.Contains(msg, "verify_attempts") {
		t.Errorf("Expected both problems reported, got %q", msg)
	}
}
