package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// PersistentLogger is an io.Writer that rotates its file by size and prunes old rotations.
type PersistentLogger struct {
	mu          sync.Mutex
	cfg         Config
	currentFile *os.File
	currentSize int64
	logDir      string
	stopCh      chan struct{}
	stopOnce    sync.Once
	compressWg  sync.WaitGroup
}

// NewPersistentLogger 创建持久化日志管理器
func NewPersistentLogger(cfg Config) (*PersistentLogger, error) {
	logDir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	pl := &PersistentLogger{
		cfg:    cfg,
		logDir: logDir,
		stopCh: make(chan struct{}),
	}
	if err := pl.openFile(); err != nil {
		return nil, err
	}

	go pl.cleanupRoutine()
	return pl, nil
}

// Write implements io.Writer
func (pl *PersistentLogger) Write(p []byte) (int, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.currentFile == nil {
		return 0, os.ErrClosed
	}

	if pl.cfg.MaxSizeMB > 0 && pl.currentSize+int64(len(p)) > int64(pl.cfg.MaxSizeMB)*1024*1024 {
		if err := pl.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := pl.currentFile.Write(p)
	pl.currentSize += int64(n)
	return n, err
}

func (pl *PersistentLogger) openFile() error {
	file, err := os.OpenFile(pl.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	pl.currentFile = file
	pl.currentSize = info.Size()
	return nil
}

// rotatedPrefix is the base name shared by rotated files, e.g. "flowfarm_".
func (pl *PersistentLogger) rotatedPrefix() string {
	base := filepath.Base(pl.cfg.FilePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_"
}

// rotate must be called with pl.mu held.
func (pl *PersistentLogger) rotate() error {
	if pl.currentFile != nil {
		pl.currentFile.Close()
		pl.currentFile = nil
	}

	stamp := time.Now().Format("2006-01-02_15-04-05.000")
	rotatedPath := filepath.Join(pl.logDir, pl.rotatedPrefix()+stamp+".log")
	if err := os.Rename(pl.cfg.FilePath, rotatedPath); err != nil {
		return pl.openFile()
	}

	if pl.cfg.Compress {
		pl.compressWg.Add(1)
		go func() {
			defer pl.compressWg.Done()
			compressFile(rotatedPath)
		}()
	}
	return pl.openFile()
}

func compressFile(path string) {
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return
	}

	gz := gzip.NewWriter(dst)
	_, copyErr := io.Copy(gz, src)
	closeErr := gz.Close()
	dst.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

func (pl *PersistentLogger) cleanupRoutine() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	pl.cleanup()
	for {
		select {
		case <-pl.stopCh:
			return
		case <-ticker.C:
			pl.cleanup()
		}
	}
}

// cleanup removes rotated files older than MaxAgeDays or beyond MaxBackups.
func (pl *PersistentLogger) cleanup() {
	files, err := filepath.Glob(filepath.Join(pl.logDir, pl.rotatedPrefix()+"*.log*"))
	if err != nil {
		return
	}

	type entry struct {
		path    string
		modTime time.Time
	}
	var entries []entry
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: f, modTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})

	now := time.Now()
	for i, e := range entries {
		if pl.cfg.MaxAgeDays > 0 && now.Sub(e.modTime) > time.Duration(pl.cfg.MaxAgeDays)*24*time.Hour {
			os.Remove(e.path)
			continue
		}
		if pl.cfg.MaxBackups > 0 && i >= pl.cfg.MaxBackups {
			os.Remove(e.path)
		}
	}
}

// Close 关闭日志文件
func (pl *PersistentLogger) Close() error {
	pl.stopOnce.Do(func() { close(pl.stopCh) })
	pl.compressWg.Wait()

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.currentFile != nil {
		err := pl.currentFile.Close()
		pl.currentFile = nil
		return err
	}
	return nil
}
