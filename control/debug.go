// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug hook registry for internal inspection of loops, pools and
// connection counters.

package control

import (
	"fmt"
	"sort"
	"sync"
)

// DebugHooks holds registered hook functions.
type DebugHooks struct {
	mu    sync.RWMutex
	hooks map[string]func() any
}

// NewDebugHooks creates a hook registry.
func NewDebugHooks() *DebugHooks {
	return &DebugHooks{
		hooks: make(map[string]func() any),
	}
}

// RegisterHook inserts a named debug hook, replacing any previous one.
func (dp *DebugHooks) RegisterHook(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.hooks[name] = fn
}

// Names returns the registered hook names in sorted order.
func (dp *DebugHooks) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	names := make([]string, 0, len(dp.hooks))
	for k := range dp.hooks {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DumpState returns output of all hooks. A panicking hook reports the
// panic value instead of its state.
func (dp *DebugHooks) DumpState() map[string]any {
	dp.mu.RLock()
	hooks := make(map[string]func() any, len(dp.hooks))
	for k, fn := range dp.hooks {
		hooks[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(hooks))
	for k, fn := range hooks {
		out[k] = runHook(fn)
	}
	return out
}

func runHook(fn func() any) (v any) {
	defer func() {
		if r := recover(); r != nil {
			v = fmt.Sprintf("hook panic: %v", r)
		}
	}()
	return fn()
}
