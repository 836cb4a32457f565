// Package backend enumerates execution backends and detects which of them
// are usable on this host.
package backend

import "fmt"

// Backend identifies one execution strategy.
type Backend int

const (
	// Distributed runs tasks across launcher-started worker processes
	// using the task-pull protocol.
	Distributed Backend = iota
	// Processes runs tasks on a fixed pool of re-exec'd worker processes.
	Processes
	// Threads runs tasks on a fixed pool of worker goroutines.
	Threads
	// Sequential runs tasks one at a time in submission order. It is
	// always available and is the terminal fallback.
	Sequential
)

// All lists every backend in default preference order, Sequential last.
var All = []Backend{Distributed, Processes, Threads, Sequential}

// String returns the configuration name of the backend.
func (b Backend) String() string {
	switch b {
	case Distributed:
		return "distributed"
	case Processes:
		return "processes"
	case Threads:
		return "threads"
	case Sequential:
		return "sequential"
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

// ErrUnknownBackend is wrapped by Parse for names outside All.
var ErrUnknownBackend = fmt.Errorf("unknown backend")

// Parse maps a configuration name to a Backend. Unknown names are a hard
// configuration error, never silently substituted.
func Parse(name string) (Backend, error) {
	for _, b := range All {
		if name == b.String() {
			return b, nil
		}
	}
	return Sequential, fmt.Errorf("%w %q (valid: %v)", ErrUnknownBackend, name, All)
}
