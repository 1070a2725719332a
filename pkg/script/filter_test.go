package script

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"flowfarm/pkg/types"
)

func TestSupports(t *testing.T) {
	f, err := Compile("rules.js", `
		function supports(item) {
			if (hasTag(item, "skip")) return false;
			return item.platform === "xiaohongshu" && item.priority <= 2 && !matchRegex("^bot_", item.username);
		}`)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	tests := []struct {
		name string
		item types.WorkItem
		want bool
	}{
		{"plain", types.WorkItem{Platform: "xiaohongshu", Username: "alice", Priority: 1}, true},
		{"tagged", types.WorkItem{Platform: "xiaohongshu", Username: "alice", Priority: 1, Tags: []string{"x", "skip"}}, false},
		{"platform", types.WorkItem{Platform: "douyin", Username: "alice", Priority: 1}, false},
		{"priority", types.WorkItem{Platform: "xiaohongshu", Username: "alice", Priority: 3}, false},
		{"bot", types.WorkItem{Platform: "xiaohongshu", Username: "bot_42", Priority: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Supports(tt.item)
			if err != nil {
				t.Fatalf("Supports failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNilFilterAcceptsAll(t *testing.T) {
	var f *Filter
	if ok, err := f.Supports(types.WorkItem{}); !ok || err != nil {
		t.Errorf("Nil filter should accept, got %v %v", ok, err)
	}
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{"function (", "var x = 1;", "var supports = 3;"} {
		if _, err := Compile("bad.js", src); err == nil {
			t.Errorf("Expected error for %q", src)
		}
	}
}

func TestScriptErrorsAndTimeout(t *testing.T) {
	f, err := Compile("throw.js", `function supports(item) { throw new Error("nope"); }`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Supports(types.WorkItem{}); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("Expected thrown error, got %v", err)
	}

	f, err = Compile("loop.js", `function supports(item) { while (true) {} }`)
	if err != nil {
		t.Fatal(err)
	}
	f.timeout = 50 * time.Millisecond
	if _, err := f.Supports(types.WorkItem{}); err == nil {
		t.Error("Expected interrupt error")
	}
	// the runtime stays usable after an interrupt
	f2, _ := Compile("ok.js", `function supports(item) { return true; }`)
	f2.timeout = 50 * time.Millisecond
	if ok, err := f2.Supports(types.WorkItem{}); !ok || err != nil {
		t.Errorf("Expected accept, got %v %v", ok, err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.js")
	os.WriteFile(path, []byte(`function supports(item) { return item.category !== "brand"; }`), 0644)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ok, _ := f.Supports(types.WorkItem{Category: "brand"}); ok {
		t.Error("Brand items should be rejected")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.js")); err == nil {
		t.Error("Expected error for missing file")
	}
}
