package parallel

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/nibzard/fanout/internal/backend"
	"github.com/nibzard/fanout/internal/comm"
)

// Options configures a Parallelizer. All fields are optional.
type Options struct {
	// Backend requests a specific backend by name ("distributed",
	// "processes", "threads", "sequential"). An unknown name fails New;
	// a known but unavailable one is replaced with a warning.
	Backend string
	// Workers hints the pool size. Ignored under the distributed backend,
	// where the launcher fixes the world size.
	Workers int
	// WorkersEnvVar names an environment variable supplying a default
	// worker count when Workers is zero. Absent or non-integer values are
	// silently ignored.
	WorkersEnvVar string
	// FailValue is streamed in place of the outcome when a task fails.
	// Defaults to false.
	FailValue any
	// Logger receives lifecycle, per-task failure, and optional
	// per-success messages. Defaults to a discarding logger.
	Logger *log.Logger
}

// RunOptions configures one run.
type RunOptions struct {
	// Kwargs is forwarded verbatim to every task invocation.
	Kwargs map[string]any
	// OutFile, when set, receives each successful outcome as one
	// formatted string instead of streaming the value to the caller.
	OutFile string
	// OutTemplate is the printf template for sink lines. Default "%s\n".
	OutTemplate string
	// OutFormat renders an outcome for the sink. Default fmt.Sprint.
	OutFormat func(any) string
	// LogTemplate, when set, is the printf template for one Info line per
	// successful result.
	LogTemplate string
	// LogFormat renders an argument tuple for LogTemplate. Default
	// fmt.Sprint.
	LogFormat func(Args) string
}

func (ro RunOptions) outTemplate() string {
	if ro.OutTemplate == "" {
		return "%s\n"
	}
	return ro.OutTemplate
}

func (ro RunOptions) outFormat() func(any) string {
	if ro.OutFormat == nil {
		return func(v any) string { return fmt.Sprint(v) }
	}
	return ro.OutFormat
}

func (ro RunOptions) logFormat() func(Args) string {
	if ro.LogFormat == nil {
		return func(a Args) string { return fmt.Sprint([]any(a)...) }
	}
	return ro.LogFormat
}

// Parallelizer runs independent tasks under the backend resolved at
// construction. Ideal when per-task runtimes vary widely and each call is
// completely independent of the others. The zero value is not usable;
// construct with New.
type Parallelizer struct {
	failValue any
	logger    *log.Logger
	resolved  Resolved
	world     comm.World
}

// New detects the usable backends, resolves the execution mode once, and
// returns a ready Parallelizer. Only configuration errors (an unknown
// requested backend, a broken distributed world) fail here; everything
// later is per-task and isolated.
func New(opts Options) (*Parallelizer, error) {
	return newParallelizer(opts, backend.Detect())
}

func newParallelizer(opts Options, caps backend.Capabilities) (*Parallelizer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	resolved, err := Resolve(caps, opts.Backend, opts.Workers, opts.WorkersEnvVar, logger)
	if err != nil {
		return nil, err
	}
	failValue := opts.FailValue
	if failValue == nil {
		failValue = false
	}
	p := &Parallelizer{failValue: failValue, logger: logger, resolved: resolved}
	if resolved.Backend == backend.Distributed {
		world, err := comm.FromEnv()
		if err != nil {
			return nil, err
		}
		p.world = world
	}
	if p.IsCoordinator() {
		logger.Info("parallelizer initialized",
			"backend", resolved.Backend, "workers", resolved.Workers)
	}
	return p, nil
}

// Backend returns the resolved backend.
func (p *Parallelizer) Backend() backend.Backend { return p.resolved.Backend }

// Workers returns the resolved worker count; 1 under Sequential.
func (p *Parallelizer) Workers() int { return p.resolved.Workers }

// Rank returns this process's rank: 0 except for distributed workers.
func (p *Parallelizer) Rank() int { return p.resolved.Rank }

// IsCoordinator reports whether this process streams results (rank 0).
func (p *Parallelizer) IsCoordinator() bool { return p.resolved.Rank == 0 }

// IsDistributed reports whether the distributed backend was resolved.
func (p *Parallelizer) IsDistributed() bool { return p.resolved.Backend == backend.Distributed }

// IsThreads reports whether the goroutine pool backend was resolved.
func (p *Parallelizer) IsThreads() bool { return p.resolved.Backend == backend.Threads }

// IsProcesses reports whether the process pool backend was resolved.
func (p *Parallelizer) IsProcesses() bool { return p.resolved.Backend == backend.Processes }

// IsSequential reports whether the sequential backend was resolved.
func (p *Parallelizer) IsSequential() bool { return p.resolved.Backend == backend.Sequential }

// Close releases backend resources. Only the distributed world holds any.
func (p *Parallelizer) Close() error {
	if p.world != nil {
		return p.world.Close()
	}
	return nil
}

// RunStream executes task over every tuple of data and returns a channel
// streaming one Result per tuple as it becomes available. Ordering matches
// submission only under the sequential backend; pool and distributed
// backends stream in completion order. Cancelling ctx shuts the run down;
// already-streamed results stay valid and the channel is closed.
//
// Under the distributed backend every rank must call RunStream with the
// same task and data; worker ranks execute their task-pull loop inside the
// call and return an already-closed channel.
func (p *Parallelizer) RunStream(ctx context.Context, task Task, data Stream, ro RunOptions) (<-chan Result, error) {
	fn, err := task.resolve()
	if err != nil {
		return nil, err
	}
	switch p.resolved.Backend {
	case backend.Sequential:
		return p.runSequential(ctx, fn, data, ro)
	case backend.Threads:
		return p.runPool(ctx, fn, data, ro)
	case backend.Processes:
		return p.runProcPool(ctx, task, data, ro)
	case backend.Distributed:
		return p.runDistributed(ctx, fn, data, ro)
	}
	return nil, fmt.Errorf("unresolved backend %v", p.resolved.Backend)
}

// Run executes task over every tuple of data and collects the streamed
// results into a slice. See RunStream for the per-backend contract.
func (p *Parallelizer) Run(ctx context.Context, task Task, data Stream, ro RunOptions) ([]Result, error) {
	ch, err := p.RunStream(ctx, task, data, ro)
	if err != nil {
		return nil, err
	}
	var results []Result
	for res := range ch {
		results = append(results, res)
	}
	return results, nil
}
