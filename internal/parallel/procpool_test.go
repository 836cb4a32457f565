package parallel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nibzard/fanout/internal/backend"
)

func init() {
	// Args cross a JSON boundary under the process pool, so numbers
	// arrive as float64.
	Register("pp-double", func(_ context.Context, args Args, _ map[string]any) (any, error) {
		return args[0].(float64) * 2, nil
	})
	Register("pp-fail", func(_ context.Context, args Args, _ map[string]any) (any, error) {
		return nil, fmt.Errorf("refusing %v", args[0])
	})
}

// pipeProc runs ServeStdio in-process over pipes, standing in for a
// re-exec'd worker so the pool protocol is testable without spawning.
type pipeProc struct {
	enc *json.Encoder
	dec *json.Decoder
	in  *io.PipeWriter
}

func spawnPipeWorker(ctx context.Context) (workerProc, error) {
	jobR, jobW := io.Pipe()
	resR, resW := io.Pipe()
	go func() {
		ServeStdio(ctx, jobR, resW)
		resW.Close()
	}()
	return &pipeProc{enc: json.NewEncoder(jobW), dec: json.NewDecoder(resR), in: jobW}, nil
}

func (p *pipeProc) run(job wireJob) (wireResult, error) {
	if err := p.enc.Encode(job); err != nil {
		return wireResult{}, err
	}
	var res wireResult
	if err := p.dec.Decode(&res); err != nil {
		return wireResult{}, err
	}
	return res, nil
}

func (p *pipeProc) close() { p.in.Close() }

// deadProc fails every job, simulating a worker that crashed.
type deadProc struct{}

func spawnDeadWorker(ctx context.Context) (workerProc, error) {
	return deadProc{}, nil
}

func (deadProc) run(wireJob) (wireResult, error) {
	return wireResult{}, fmt.Errorf("worker process gone")
}

func (deadProc) close() {}

func TestProcessPoolEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("every task yields exactly one result", func(t *testing.T) {
		p := testParallelizer(backend.Processes, 3)
		inputs := []float64{0, 1, 2, 3, 4, 5, 6, 7}
		ch, err := p.runProcPoolWith(ctx, spawnPipeWorker, Task{Name: "pp-double"}, FromSlice(inputs), RunOptions{})
		require.NoError(t, err)

		seen := map[float64]float64{}
		for res := range ch {
			require.False(t, res.Failed(), "unexpected failure: %v", res.Err)
			seen[res.Args[0].(float64)] = res.Value.(float64)
		}
		require.Len(t, seen, len(inputs))
		for _, n := range inputs {
			assert.Equal(t, n*2, seen[n])
		}
	})

	t.Run("task failures in the worker come back as sentinels", func(t *testing.T) {
		p := testParallelizer(backend.Processes, 2)
		ch, err := p.runProcPoolWith(ctx, spawnPipeWorker, Task{Name: "pp-fail"}, FromSlice([]float64{1, 2, 3}), RunOptions{})
		require.NoError(t, err)

		count := 0
		for res := range ch {
			count++
			assert.Equal(t, false, res.Value)
			assert.True(t, res.Failed())
		}
		assert.Equal(t, 3, count)
	})

	t.Run("dead workers still yield one sentinel per task", func(t *testing.T) {
		p := testParallelizer(backend.Processes, 2)
		ch, err := p.runProcPoolWith(ctx, spawnDeadWorker, Task{Name: "pp-double"}, FromSlice([]float64{1, 2, 3, 4, 5}), RunOptions{})
		require.NoError(t, err)

		count := 0
		for res := range ch {
			count++
			assert.True(t, res.Failed())
			assert.Equal(t, false, res.Value)
		}
		assert.Equal(t, 5, count)
	})

	t.Run("unregistered task is a configuration error", func(t *testing.T) {
		p := testParallelizer(backend.Processes, 2)
		_, err := p.runProcPool(ctx, Task{Name: "no-such-task"}, FromSlice([]int{1}), RunOptions{})
		assert.Error(t, err)

		_, err = p.runProcPool(ctx, Task{Fn: times100}, FromSlice([]int{1}), RunOptions{})
		assert.Error(t, err, "anonymous closures cannot cross a process boundary")
	})
}

func TestServeStdio(t *testing.T) {
	encode := func(jobs ...wireJob) io.Reader {
		r, w := io.Pipe()
		go func() {
			enc := json.NewEncoder(w)
			for _, j := range jobs {
				if err := enc.Encode(j); err != nil {
					break
				}
			}
			w.Close()
		}()
		return r
	}

	t.Run("runs registered tasks and replies in order", func(t *testing.T) {
		var out bytes.Buffer
		err := ServeStdio(context.Background(), encode(
			wireJob{ID: 0, Task: "pp-double", Args: Args{float64(4)}},
			wireJob{ID: 1, Task: "pp-double", Args: Args{float64(5)}},
		), &out)
		require.NoError(t, err)

		dec := json.NewDecoder(&out)
		var first, second wireResult
		require.NoError(t, dec.Decode(&first))
		require.NoError(t, dec.Decode(&second))
		assert.Equal(t, float64(8), first.Value)
		assert.Equal(t, float64(10), second.Value)
	})

	t.Run("unknown task names fail the job, not the worker", func(t *testing.T) {
		var out bytes.Buffer
		err := ServeStdio(context.Background(), encode(
			wireJob{ID: 0, Task: "missing"},
			wireJob{ID: 1, Task: "pp-double", Args: Args{float64(1)}},
		), &out)
		require.NoError(t, err)

		dec := json.NewDecoder(&out)
		var first, second wireResult
		require.NoError(t, dec.Decode(&first))
		require.NoError(t, dec.Decode(&second))
		assert.True(t, first.Failed)
		assert.False(t, second.Failed)
	})
}
