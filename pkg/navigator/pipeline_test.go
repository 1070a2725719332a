package navigator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flowfarm/pkg/types"
	"flowfarm/pkg/uitree"
)

type filterFunc func(types.WorkItem) (bool, error)

func (f filterFunc) Supports(it types.WorkItem) (bool, error) { return f(it) }

func TestPipelineLaunchesOncePerDevice(t *testing.T) {
	app := newFakeApp("launcher", row{"alice", "follow"}, row{"bob", "follow"})
	p := NewPipeline(uitree.Xiaohongshu, testOptions(), func(string) Device { return app }, nil)

	for _, name := range []string{"alice", "bob"} {
		status, err := p.Process(context.Background(), app.ID(), item(name))
		if status != types.ItemSuccess {
			t.Fatalf("%s: expected success, got %s (%v)", name, status, err)
		}
	}
	if app.launches != 1 {
		t.Errorf("Expected a single launch, got %d", app.launches)
	}
}

func TestPipelineFilter(t *testing.T) {
	app := newFakeApp("home", row{"alice", "follow"})
	reject := filterFunc(func(it types.WorkItem) (bool, error) { return it.Category != "brand", nil })
	p := NewPipeline(uitree.Xiaohongshu, testOptions(), func(string) Device { return app }, reject)

	it := item("alice")
	it.Category = "brand"
	status, err := p.Process(context.Background(), app.ID(), it)
	if status != types.ItemSkipped || !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Expected skipped, got %s (%v)", status, err)
	}
	if app.dumps != 0 || app.launches != 0 {
		t.Error("Filtered item must not touch the device")
	}

	broken := filterFunc(func(types.WorkItem) (bool, error) { return false, errors.New("script error") })
	p = NewPipeline(uitree.Xiaohongshu, testOptions(), func(string) Device { return app }, broken)
	if status, _ := p.Process(context.Background(), app.ID(), item("alice")); status != types.ItemError {
		t.Errorf("Filter failure should be an error, got %s", status)
	}
}

func TestPipelineSavesScreenshotOnError(t *testing.T) {
	dir := t.TempDir()
	app := newFakeApp("home", row{"alice", "double"}, row{"bob", "follow"})
	app.stuck = true
	p := NewPipeline(uitree.Xiaohongshu, testOptions(), func(string) Device { return app }, nil).WithDiagnostics(dir)

	if status, _ := p.Process(context.Background(), app.ID(), item("alice")); status != types.ItemError {
		t.Fatalf("Expected error outcome, got %s", status)
	}
	if len(app.shots) != 1 {
		t.Fatalf("Expected one diagnostic screenshot, got %v", app.shots)
	}
	if !strings.HasPrefix(filepath.Base(app.shots[0]), "emulator-5554_item-alice_") || filepath.Dir(app.shots[0]) != dir {
		t.Errorf("Unexpected screenshot path %s", app.shots[0])
	}
	if _, err := os.Stat(app.shots[0]); err != nil {
		t.Errorf("Screenshot not written: %v", err)
	}

	// a plain failure is an expected outcome and gets no screenshot
	if status, _ := p.Process(context.Background(), app.ID(), item("zed")); status != types.ItemFailed {
		t.Fatalf("Expected failed outcome, got %s", status)
	}
	if len(app.shots) != 1 {
		t.Errorf("Failed items should not be captured, got %v", app.shots)
	}
}

func TestPipelineLaunchCancelled(t *testing.T) {
	app := newFakeApp("launcher", row{"alice", "follow"})
	opts := testOptions()
	opts.Sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }
	p := NewPipeline(uitree.Xiaohongshu, opts, func(string) Device { return app }, nil)

	status, err := p.Process(context.Background(), app.ID(), item("alice"))
	if status != types.ItemError || !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected cancellation to surface, got %s (%v)", status, err)
	}
	if app.launches != 1 || app.dumps != 0 {
		t.Errorf("Expected the machine not to start after a cancelled launch, got %d launches / %d dumps", app.launches, app.dumps)
	}
}
