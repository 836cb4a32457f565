package parallel

import "context"

// runSequential executes tasks one at a time in submission order. Results
// stream in that same order, the one ordering guarantee unique to this
// backend. A failed task yields its sentinel and the loop moves on.
func (p *Parallelizer) runSequential(ctx context.Context, fn Func, data Stream, ro RunOptions) (<-chan Result, error) {
	out, err := openSink(ro)
	if err != nil {
		return nil, err
	}
	ch := make(chan Result)
	go func() {
		defer close(ch)
		defer out.close()
		for {
			args, ok := data.Next()
			if !ok {
				return
			}
			res := emit(invoke(ctx, fn, args, ro.Kwargs, p.failValue), out, p.logger, ro)
			select {
			case ch <- res:
			case <-ctx.Done():
				p.logger.Warn("sequential run interrupted", "err", ctx.Err())
				return
			}
		}
	}()
	return ch, nil
}
