package backend

import (
	"os"

	"github.com/nibzard/fanout/internal/comm"
)

// Capabilities records which backends are usable in this environment.
// Build it once with Detect and thread it into the selector; availability
// cannot change for the lifetime of the process.
type Capabilities struct {
	available map[Backend]bool
}

// Detect probes the environment for each backend. A failed probe marks the
// backend unavailable and is never fatal; Sequential is always usable.
func Detect() Capabilities {
	caps := Capabilities{available: map[Backend]bool{
		// Distributed needs a launcher-provided world in the environment.
		Distributed: comm.Launched(),
		// Processes re-executes this binary as stdio workers.
		Processes:  selfExecutable(),
		Threads:    true,
		Sequential: true,
	}}
	return caps
}

// Available reports whether b can be used on this host.
func (c Capabilities) Available(b Backend) bool {
	return c.available[b]
}

// List returns the usable backends in default preference order.
func (c Capabilities) List() []Backend {
	var out []Backend
	for _, b := range All {
		if c.available[b] {
			out = append(out, b)
		}
	}
	return out
}

// WithAvailability returns a copy with b forced to the given availability.
// It lets tests rehearse hosts that differ from the one running them.
func (c Capabilities) WithAvailability(b Backend, ok bool) Capabilities {
	out := Capabilities{available: make(map[Backend]bool, len(c.available))}
	for k, v := range c.available {
		out.available[k] = v
	}
	out.available[b] = ok
	return out
}

func selfExecutable() bool {
	exe, err := os.Executable()
	return err == nil && exe != ""
}
