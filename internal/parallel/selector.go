package parallel

import (
	"os"
	"runtime"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/nibzard/fanout/internal/backend"
	"github.com/nibzard/fanout/internal/comm"
)

// Resolved is the execution picked once at construction: which backend
// runs, with how many workers, and this process's rank within the run
// (0 except for distributed workers). Immutable thereafter.
type Resolved struct {
	Backend backend.Backend
	Workers int
	Rank    int
}

// Resolve walks the preference list (the requested backend first when
// usable, then the remaining usable backends in default order, Sequential
// always last) and returns the first candidate whose worker count holds
// up. Distributed takes its worker count from the launched world and
// ignores the hint; pool backends use the hint, then the envVar integer,
// then the logical CPU count. Any non-sequential candidate that resolves
// to fewer than 2 workers is logged and skipped, so a starved host
// degrades to Sequential rather than failing.
//
// An unparseable requested name is a configuration error; a valid but
// unavailable one is only a warning.
func Resolve(caps backend.Capabilities, requested string, hint int, envVar string, logger *log.Logger) (Resolved, error) {
	candidates := caps.List()
	if requested != "" {
		req, err := backend.Parse(requested)
		if err != nil {
			return Resolved{}, err
		}
		if !caps.Available(req) {
			logger.Warn("requested backend not available, auto-selecting a replacement",
				"backend", req)
		} else {
			reordered := []backend.Backend{req}
			for _, b := range candidates {
				if b != req {
					reordered = append(reordered, b)
				}
			}
			candidates = reordered
		}
	}

	if hint == 0 {
		hint = readWorkersVar(envVar, logger)
	}

	for _, b := range candidates {
		r := Resolved{Backend: b, Workers: hint}
		switch b {
		case backend.Distributed:
			// The launcher fixed the world size; the hint does not apply.
			r.Workers = comm.WorldSizeFromEnv()
			r.Rank = comm.RankFromEnv()
		case backend.Processes, backend.Threads:
			if r.Workers == 0 {
				r.Workers = runtime.NumCPU()
				logger.Info("no worker count specified, using all logical processors",
					"backend", b, "workers", r.Workers)
			}
		case backend.Sequential:
			r.Workers = 1
		}
		if b != backend.Sequential && r.Workers < 2 {
			logger.Warn("not enough workers for backend", "backend", b, "workers", r.Workers)
			continue
		}
		return r, nil
	}

	// caps.List always ends with Sequential, so this is unreachable, but
	// the guaranteed terminal fallback is spelled out anyway.
	return Resolved{Backend: backend.Sequential, Workers: 1}, nil
}

// readWorkersVar reads a worker-count default from the named environment
// variable. Absent, empty, or non-integer values fall back silently to
// "let the engine decide".
func readWorkersVar(envVar string, logger *log.Logger) int {
	if envVar == "" {
		return 0
	}
	v := os.Getenv(envVar)
	if v == "" {
		logger.Debug("worker count variable not set", "var", envVar)
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Debug("worker count variable is not an integer", "var", envVar, "value", v)
		return 0
	}
	logger.Debug("worker count read from environment", "var", envVar, "workers", n)
	return n
}
