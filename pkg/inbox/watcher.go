// Package inbox watches a drop directory and imports work-item documents placed in it.
// Accepted files move to processed/, rejected ones are renamed with a .rejected suffix.
package inbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
	"flowfarm/pkg/workitem"
)

const (
	processedDir    = "processed"
	rejectedSuffix  = ".rejected"
	defaultDebounce = 300 * time.Millisecond
)

// ImportFunc receives the items of one accepted document and returns how many were new.
type ImportFunc func(name string, items []types.WorkItem) (int, error)

type Watcher struct {
	dir      string
	onImport ImportFunc
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
	timers  map[string]*time.Timer

	// handling is serialized so two documents never import concurrently
	handleMu sync.Mutex
}

// New creates a watcher for dir. debounce <= 0 uses 300ms.
func New(dir string, debounce time.Duration, onImport ImportFunc) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{dir: dir, onImport: onImport, debounce: debounce, timers: make(map[string]*time.Timer)}
}

func accepted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".csv"
}

// Start imports files already waiting in the directory, then watches for new ones.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Join(w.dir, processedDir), 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	entries, _ := os.ReadDir(w.dir)
	for _, e := range entries {
		if !e.IsDir() && accepted(e.Name()) {
			w.schedule(filepath.Join(w.dir, e.Name()))
		}
	}

	logger.Info("inbox").Str("path", w.dir).Msg("Started watching inbox directory")
	go w.watch(watcher, w.stopCh, w.done)
	return nil
}

// Stop stops watching and waits for the loop to exit. Pending debounced files are dropped
// and picked up again on the next Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.watcher = nil
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	done := w.done
	w.mu.Unlock()

	<-done
	w.handleMu.Lock() // let an in-flight import finish
	w.handleMu.Unlock()
	logger.Info("inbox").Msg("Stopped watching inbox directory")
}

func (w *Watcher) watch(watcher *fsnotify.Watcher, stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Dir(event.Name) != filepath.Clean(w.dir) || !accepted(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.mu.Lock()
				w.schedule(event.Name)
				w.mu.Unlock()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("inbox").Err(err).Msg("Watcher error")
		}
	}
}

// schedule (re)arms the debounce timer for path. Callers hold w.mu.
func (w *Watcher) schedule(path string) {
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		stopped := w.watcher == nil
		w.mu.Unlock()
		if !stopped {
			w.handle(path)
		}
	})
}

func (w *Watcher) handle(path string) {
	w.handleMu.Lock()
	defer w.handleMu.Unlock()

	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		logger.Error("inbox").Str("file", name).Err(err).Msg("read failed")
		return
	}

	items, err := workitem.Parse(name, data)
	if err == nil {
		var added int
		added, err = w.onImport(name, items)
		if err == nil {
			logger.Info("inbox").Str("file", name).Int("items", len(items)).Int("added", added).Msg("document imported")
			w.move(path, filepath.Join(w.dir, processedDir, name))
			return
		}
	}

	logger.Warn("inbox").Str("file", name).Err(err).Msg("document rejected")
	w.move(path, path+rejectedSuffix)
}

func (w *Watcher) move(from, to string) {
	if _, err := os.Stat(to); err == nil {
		ext := filepath.Ext(to)
		to = strings.TrimSuffix(to, ext) + "_" + time.Now().Format("20060102_150405") + ext
	}
	if err := os.Rename(from, to); err != nil {
		logger.Error("inbox").Str("from", from).Str("to", to).Err(err).Msg("move failed")
	}
}
