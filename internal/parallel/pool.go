package parallel

import (
	"context"
	"sync"
)

// runPool executes tasks on a fixed pool of worker goroutines. Every tuple
// from the data stream is admitted; the jobs channel provides the
// backpressure. Results stream in completion order, not submission order.
// Cancelling ctx stops admission, lets in-flight tasks wind down, and
// closes the stream; no further results are produced.
func (p *Parallelizer) runPool(ctx context.Context, fn Func, data Stream, ro RunOptions) (<-chan Result, error) {
	out, err := openSink(ro)
	if err != nil {
		return nil, err
	}

	jobs := make(chan Args)
	completed := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < p.resolved.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for args := range jobs {
				res := invoke(ctx, fn, args, ro.Kwargs, p.failValue)
				select {
				case completed <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for {
			args, ok := data.Next()
			if !ok {
				return
			}
			select {
			case jobs <- args:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
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
				p.logger.Warn("pool run interrupted, shutting down", "err", ctx.Err())
				return
			}
		}
	}()
	return ch, nil
}
