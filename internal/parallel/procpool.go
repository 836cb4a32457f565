package parallel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// EnvStdioWorker marks a re-exec'd copy of this binary as a process-pool
// worker. The main entrypoint must check it and call ServeStdio before
// doing anything else.
const EnvStdioWorker = "FANOUT_STDIO_WORKER"

// wireJob and wireResult are the stdio protocol between the pool and its
// worker processes, one JSON object per line in each direction.
type wireJob struct {
	ID     int            `json:"id"`
	Task   string         `json:"task"`
	Args   Args           `json:"args"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

type wireResult struct {
	ID     int    `json:"id"`
	Value  any    `json:"value,omitempty"`
	Failed bool   `json:"failed,omitempty"`
	Err    string `json:"err,omitempty"`
}

// workerProc is one pooled worker running a single job at a time.
// Implemented by re-exec'd processes in production and by in-process pipe
// pairs in tests.
type workerProc interface {
	// run sends the job and blocks for its result. An error means the
	// worker itself is gone, not that the task failed.
	run(job wireJob) (wireResult, error)
	close()
}

type spawnFunc func(ctx context.Context) (workerProc, error)

// runProcPool executes tasks on a fixed pool of worker processes. The
// task must be registered by name: worker processes are fresh copies of
// this binary and resolve it from their own registry, so closures cannot
// cross. A worker that dies converts its in-flight job to the sentinel
// and is retired; remaining jobs flow to the surviving workers. If every
// worker is gone, all remaining tuples are streamed as sentinels so no
// task is silently dropped.
func (p *Parallelizer) runProcPool(ctx context.Context, task Task, data Stream, ro RunOptions) (<-chan Result, error) {
	if task.Name == "" {
		return nil, errors.New("process pool requires a task registered by name")
	}
	if _, ok := Lookup(task.Name); !ok {
		return nil, fmt.Errorf("task %q is not registered", task.Name)
	}
	return p.runProcPoolWith(ctx, spawnStdioWorker, task, data, ro)
}

func (p *Parallelizer) runProcPoolWith(ctx context.Context, spawn spawnFunc, task Task, data Stream, ro RunOptions) (<-chan Result, error) {
	out, err := openSink(ro)
	if err != nil {
		return nil, err
	}

	jobs := make(chan wireJob)
	completed := make(chan Result)
	workersGone := make(chan struct{})
	live := int32(p.resolved.Workers)

	var wg sync.WaitGroup
	for i := 0; i < p.resolved.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if atomic.AddInt32(&live, -1) == 0 {
					close(workersGone)
				}
			}()
			proc, err := spawn(ctx)
			if err != nil {
				p.logger.Error("spawn pool worker", "err", err)
				return
			}
			defer proc.close()
			for job := range jobs {
				wres, err := proc.run(job)
				if err != nil {
					// The worker died with this job in flight; it still
					// owes exactly one result.
					p.logger.Error("pool worker lost", "args", job.Args, "err", err)
					p.deliver(ctx, completed, Result{Value: p.failValue, Args: job.Args, Err: err})
					return
				}
				p.deliver(ctx, completed, p.fromWire(wres, job.Args))
			}
		}()
	}

	feederDone := make(chan struct{})
	go func() {
		defer close(feederDone)
		defer close(jobs)
		seq := 0
		for {
			args, ok := data.Next()
			if !ok {
				return
			}
			job := wireJob{ID: seq, Task: task.Name, Args: args, Kwargs: ro.Kwargs}
			seq++
			select {
			case jobs <- job:
			case <-workersGone:
				p.deliver(ctx, completed, Result{
					Value: p.failValue,
					Args:  args,
					Err:   errors.New("no pool workers left"),
				})
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		<-feederDone
		close(completed)
	}()

	ch := make(chan Result)
	go func() {
		defer close(ch)
		defer out.close()
		for res := range completed {
			r := emit(res, out, p.logger, ro)
			select {
			case ch <- r:
			case <-ctx.Done():
				p.logger.Warn("process pool run interrupted, shutting down", "err", ctx.Err())
				return
			}
		}
	}()
	return ch, nil
}

func (p *Parallelizer) deliver(ctx context.Context, completed chan<- Result, res Result) {
	select {
	case completed <- res:
	case <-ctx.Done():
	}
}

func (p *Parallelizer) fromWire(wres wireResult, args Args) Result {
	if wres.Failed {
		return Result{Value: p.failValue, Args: args, Err: errors.New(wres.Err)}
	}
	return Result{Value: wres.Value, Args: args}
}

// spawnStdioWorker re-executes this binary with EnvStdioWorker set. The
// child's main is expected to call ServeStdio and exit on stdin EOF.
func spawnStdioWorker(ctx context.Context) (workerProc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.CommandContext(ctx, exe)
	cmd.Env = append(os.Environ(), EnvStdioWorker+"=1")
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}
	return &execProc{cmd: cmd, stdin: stdin, enc: json.NewEncoder(stdin), dec: json.NewDecoder(stdout)}, nil
}

type execProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	enc   *json.Encoder
	dec   *json.Decoder
}

func (e *execProc) run(job wireJob) (wireResult, error) {
	if err := e.enc.Encode(job); err != nil {
		return wireResult{}, fmt.Errorf("send job: %w", err)
	}
	var res wireResult
	if err := e.dec.Decode(&res); err != nil {
		return wireResult{}, fmt.Errorf("read result: %w", err)
	}
	return res, nil
}

func (e *execProc) close() {
	e.stdin.Close()
	e.cmd.Wait()
}

// ServeStdio is the worker side of the process pool protocol: decode one
// job per line from in, run it via the task registry, encode one result
// per line to out. Returns on EOF, which is the pool's shutdown signal.
func ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(in)
	enc := json.NewEncoder(out)
	for {
		var job wireJob
		if err := dec.Decode(&job); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode job: %w", err)
		}
		wres := wireResult{ID: job.ID}
		if fn, ok := Lookup(job.Task); ok {
			res := invoke(ctx, fn, job.Args, job.Kwargs, nil)
			if res.Failed() {
				wres.Failed = true
				wres.Err = res.Err.Error()
			} else {
				wres.Value = res.Value
			}
		} else {
			wres.Failed = true
			wres.Err = fmt.Sprintf("task %q is not registered in the worker", job.Task)
		}
		if err := enc.Encode(wres); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}
}
