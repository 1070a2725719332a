// Package logger wraps zerolog with module-tagged helpers and a rotating file sink.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. It discards everything until Init is called.
var Logger = zerolog.Nop()

var (
	persistent   *PersistentLogger
	persistentMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string // debug, info, warn, error
	Console    bool
	File       bool
	FilePath   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// DefaultConfig returns console-only logging at info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		MaxBackups: 5,
		Compress:   true,
	}
}

// FileConfig returns a config that also writes to <dataDir>/logs/flowfarm.log.
func FileConfig(dataDir string) Config {
	cfg := DefaultConfig()
	cfg.File = true
	cfg.FilePath = filepath.Join(dataDir, "logs", "flowfarm.log")
	return cfg
}

// ParseLevel maps a level name onto zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init 初始化日志系统
func Init(cfg Config) error {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	if cfg.File && cfg.FilePath != "" {
		pl, err := NewPersistentLogger(cfg)
		if err != nil {
			return err
		}
		persistentMu.Lock()
		persistent = pl
		persistentMu.Unlock()
		writers = append(writers, pl)
	}

	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Caller().
		Logger()
	return nil
}

// Close flushes and closes the file sink, if any.
func Close() {
	persistentMu.Lock()
	defer persistentMu.Unlock()
	if persistent != nil {
		persistent.Close()
		persistent = nil
	}
}

// Debug 输出 Debug 级别日志
func Debug(module string) *zerolog.Event {
	return Logger.Debug().Str("module", module)
}

// Info 输出 Info 级别日志
func Info(module string) *zerolog.Event {
	return Logger.Info().Str("module", module)
}

// Warn 输出 Warn 级别日志
func Warn(module string) *zerolog.Event {
	return Logger.Warn().Str("module", module)
}

// Error 输出 Error 级别日志
func Error(module string) *zerolog.Event {
	return Logger.Error().Str("module", module)
}
