package parallel

import (
	"context"
	"fmt"
	"sync"
)

// Args is the ordered argument tuple for one task invocation.
type Args []any

// Func is the user-supplied task function. It receives one argument tuple
// from the data stream plus the run's keyword arguments. A returned error
// or a panic marks that single invocation as failed; neither propagates
// past the engine.
type Func func(ctx context.Context, args Args, kwargs map[string]any) (any, error)

// Task names a unit of work. Fn may be an anonymous closure for the
// sequential and thread backends. Backends that cross a process boundary
// re-resolve the task by Name in the worker process, so the task must be
// registered there via Register and its args must be JSON-marshalable.
type Task struct {
	Name string
	Fn   Func
}

// resolve returns the callable for this task, consulting the registry when
// no function is attached directly.
func (t Task) resolve() (Func, error) {
	if t.Fn != nil {
		return t.Fn, nil
	}
	if fn, ok := Lookup(t.Name); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("task %q is not registered", t.Name)
}

var taskRegistry = struct {
	mu  sync.RWMutex
	fns map[string]Func
}{fns: make(map[string]Func)}

// Register makes a task function resolvable by name. Worker processes run
// the same binary, so registration in an init path makes the task callable
// under every backend. Re-registering a name replaces it.
func Register(name string, fn Func) {
	taskRegistry.mu.Lock()
	defer taskRegistry.mu.Unlock()
	taskRegistry.fns[name] = fn
}

// Lookup returns the registered function for name.
func Lookup(name string) (Func, bool) {
	taskRegistry.mu.RLock()
	defer taskRegistry.mu.RUnlock()
	fn, ok := taskRegistry.fns[name]
	return fn, ok
}
