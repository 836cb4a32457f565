package parallel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nibzard/fanout/internal/backend"
)

func TestPoolEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("every task yields exactly one result", func(t *testing.T) {
		p := testParallelizer(backend.Threads, 4)
		inputs := make([]int, 20)
		for i := range inputs {
			inputs[i] = i
		}
		results, err := p.Run(ctx, Task{Fn: times100}, FromSlice(inputs), RunOptions{})
		require.NoError(t, err)
		require.Len(t, results, 20)

		seen := map[int]bool{}
		for _, res := range results {
			n := res.Args[0].(int)
			assert.False(t, seen[n], "input %d appeared twice", n)
			seen[n] = true
			assert.Equal(t, n*100, res.Value)
		}
		assert.Len(t, seen, 20)
	})

	t.Run("results arrive in completion order, not submission order", func(t *testing.T) {
		sleeper := func(ctx context.Context, args Args, kw map[string]any) (any, error) {
			d := time.Duration(args[0].(int)) * time.Millisecond
			time.Sleep(d)
			return args[0], nil
		}
		// Four workers, four tasks with strongly staggered durations: the
		// last-submitted task is the fastest and must finish first.
		p := testParallelizer(backend.Threads, 4)
		results, err := p.Run(ctx, Task{Fn: sleeper}, FromSlice([]int{460, 310, 160, 10}), RunOptions{})
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, 10, results[0].Value)
		assert.Equal(t, 160, results[1].Value)
		assert.Equal(t, 310, results[2].Value)
		assert.Equal(t, 460, results[3].Value)
	})

	t.Run("a failing task never cancels its siblings", func(t *testing.T) {
		fn := func(ctx context.Context, args Args, kw map[string]any) (any, error) {
			n := args[0].(int)
			if n%2 == 0 {
				return nil, fmt.Errorf("even input %d", n)
			}
			return n, nil
		}
		p := testParallelizer(backend.Threads, 3)
		results, err := p.Run(ctx, Task{Fn: fn}, FromSlice([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}), RunOptions{})
		require.NoError(t, err)
		require.Len(t, results, 10)

		failed := 0
		for _, res := range results {
			if res.Failed() {
				failed++
				assert.Equal(t, false, res.Value)
				assert.Zero(t, res.Args[0].(int)%2)
			}
		}
		assert.Equal(t, 5, failed)
	})

	t.Run("an always-failing task yields the sentinel for every input", func(t *testing.T) {
		fn := func(ctx context.Context, args Args, kw map[string]any) (any, error) {
			return nil, fmt.Errorf("no")
		}
		p := testParallelizer(backend.Threads, 2)
		results, err := p.Run(ctx, Task{Fn: fn}, FromSlice([]int{1, 2, 3, 4}), RunOptions{})
		require.NoError(t, err)
		require.Len(t, results, 4)
		for _, res := range results {
			assert.Equal(t, false, res.Value)
			assert.NotNil(t, res.Args)
		}
	})

	t.Run("cancellation shuts the stream down without finishing the backlog", func(t *testing.T) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		fn := func(ctx context.Context, args Args, kw map[string]any) (any, error) {
			time.Sleep(time.Millisecond)
			return args[0], nil
		}
		inputs := make([]int, 1000)
		p := testParallelizer(backend.Threads, 4)
		stream, err := p.RunStream(runCtx, Task{Fn: fn}, FromSlice(inputs), RunOptions{})
		require.NoError(t, err)

		count := 0
		for range stream {
			count++
			if count == 10 {
				cancel()
			}
		}
		// The channel closed after cancellation; the backlog was abandoned.
		assert.GreaterOrEqual(t, count, 10)
		assert.Less(t, count, 1000)
	})
}
