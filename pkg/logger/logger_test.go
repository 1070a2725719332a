package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("Expected default level info, got %s", cfg.Level)
	}
	if !cfg.Console {
		t.Error("Expected console output to be enabled by default")
	}
	if cfg.File {
		t.Error("Expected file output to be disabled by default")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestModuleHelpers(t *testing.T) {
	var buf bytes.Buffer
	saved := Logger
	Logger = zerolog.New(&buf)
	defer func() { Logger = saved }()

	Info("registry").Str("device", "d1").Msg("scanned")
	Debug("registry").Msg("debug line")

	out := buf.String()
	if !strings.Contains(out, `"module":"registry"`) {
		t.Errorf("Expected module field, got %s", out)
	}
	if !strings.Contains(out, `"device":"d1"`) {
		t.Errorf("Expected device field, got %s", out)
	}
}

func TestInitWithFile(t *testing.T) {
	dir := t.TempDir()
	saved := Logger
	defer func() {
		Close()
		Logger = saved
	}()

	cfg := FileConfig(dir)
	cfg.Console = false
	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Warn("test").Msg("written to file")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "flowfarm.log"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Log file missing message: %s", data)
	}
}

func TestPersistentLoggerRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		FilePath:   filepath.Join(dir, "app.log"),
		MaxSizeMB:  1,
		MaxBackups: 5,
		Compress:   true,
	}
	pl, err := NewPersistentLogger(cfg)
	if err != nil {
		t.Fatalf("NewPersistentLogger failed: %v", err)
	}

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 2; i++ {
		if _, err := pl.Write(chunk); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := pl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	gz, _ := filepath.Glob(filepath.Join(dir, "app_*.log.gz"))
	if len(gz) != 1 {
		t.Errorf("Expected one compressed rotation, found %v", gz)
	}

	info, err := os.Stat(cfg.FilePath)
	if err != nil {
		t.Fatalf("Current log missing: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("Expected current file to hold one chunk, got %d bytes", info.Size())
	}

	if _, err := pl.Write([]byte("late")); err == nil {
		t.Error("Expected write after close to fail")
	}
}
