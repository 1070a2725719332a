// Package script evaluates user supplied JavaScript rules against work items.
//
// A rule file defines one function:
//
//	function supports(item) {
//	    return item.platform === "xiaohongshu" && !hasTag(item, "skip");
//	}
//
// Items the function rejects are reported as Skipped.
package script

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/dop251/goja"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
)

// DefaultTimeout bounds a single supports() call.
const DefaultTimeout = time.Second

type Filter struct {
	name    string
	timeout time.Duration

	// goja.Runtime is not goroutine safe; every call holds mu.
	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

// Load compiles the rule file at path.
func Load(path string) (*Filter, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter script: %w", err)
	}
	return Compile(path, string(src))
}

// Compile runs source once and binds its supports function.
func Compile(name, source string) (*Filter, error) {
	vm := goja.New()
	injectHelpers(vm)

	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	val := vm.Get("supports")
	if val == nil || goja.IsUndefined(val) {
		return nil, fmt.Errorf("%s: no supports(item) function", name)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("%s: supports is not a function", name)
	}

	logger.Info("script").Str("script", name).Msg("item filter loaded")
	return &Filter{name: name, timeout: DefaultTimeout, vm: vm, fn: fn}, nil
}

func injectHelpers(vm *goja.Runtime) {
	vm.Set("hasTag", func(item map[string]interface{}, tag string) bool {
		tags, _ := item["tags"].([]interface{})
		for _, t := range tags {
			if s, ok := t.(string); ok && s == tag {
				return true
			}
		}
		return false
	})
	vm.Set("matchRegex", func(pattern, text string) bool {
		re, err := regexp.Compile(pattern)
		return err == nil && re.MatchString(text)
	})
	vm.Set("log", func(msg string) {
		logger.Debug("script").Msg(msg)
	})
}

// Supports reports whether the item should run. A nil filter accepts everything.
func (f *Filter) Supports(item types.WorkItem) (ok bool, err error) {
	if f == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("script").Str("script", f.name).Interface("panic", r).Msg("filter panicked")
			ok, err = false, fmt.Errorf("filter panic: %v", r)
		}
	}()

	var obj map[string]interface{}
	data, err := json.Marshal(item)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.vm.ClearInterrupt()
	timer := time.AfterFunc(f.timeout, func() { f.vm.Interrupt("timeout") })
	defer timer.Stop()

	res, err := f.fn(goja.Undefined(), f.vm.ToValue(obj))
	if err != nil {
		return false, fmt.Errorf("%s: %w", f.name, err)
	}
	return res.ToBoolean(), nil
}
