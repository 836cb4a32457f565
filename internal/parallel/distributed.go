package parallel

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/nibzard/fanout/internal/comm"
)

// runDistributed dispatches to the coordinator or worker state machine
// depending on this process's rank. Every rank of the world calls
// RunStream with the same task and data; only the coordinator's stream
// carries results, workers return an already-closed channel once their
// task-pull loop is done.
func (p *Parallelizer) runDistributed(ctx context.Context, fn Func, data Stream, ro RunOptions) (<-chan Result, error) {
	if p.world == nil {
		return nil, errors.New("distributed backend resolved without a world")
	}
	if p.world.Rank() == 0 {
		return p.runCoordinator(ctx, data, ro)
	}
	ch := make(chan Result)
	close(ch)
	if err := runWorker(ctx, p.world, fn, ro.Kwargs, p.logger); err != nil {
		return nil, err
	}
	return ch, nil
}

// runCoordinator owns the task-pull loop: it answers each READY with
// exactly one reply (START carrying the next tuple, or EXIT when the
// stream is exhausted), streams every DONE as a Result, and terminates
// once all workers have echoed their EXIT. Barriers before and after the
// loop bracket the output sink so it is only open while no other rank is
// mid-task.
func (p *Parallelizer) runCoordinator(ctx context.Context, data Stream, ro RunOptions) (<-chan Result, error) {
	w := p.world
	if err := w.Barrier(); err != nil {
		return nil, err
	}
	out, err := openSink(ro)
	if err != nil {
		return nil, err
	}

	ch := make(chan Result)
	go func() {
		defer close(ch)
		active := w.Size() - 1
		taskIndex := 0
		p.logger.Debug("coordinator starting", "workers", active)
	loop:
		for active > 0 {
			if ctx.Err() != nil {
				p.logger.Error("interrupted while coordinating", "err", ctx.Err())
				break
			}
			msg, err := w.Recv()
			if err != nil {
				p.logger.Error("coordinator receive failed", "err", err)
				break
			}
			switch msg.Tag {
			case comm.TagReady:
				args, ok := data.Next()
				if !ok {
					p.logger.Debug("end of data stream, closing worker", "rank", msg.From)
					if err := w.Send(msg.From, comm.Message{Tag: comm.TagExit}); err != nil {
						p.logger.Error("send EXIT", "rank", msg.From, "err", err)
					}
					continue
				}
				p.logger.Debug("sending task to worker", "task", taskIndex, "rank", msg.From)
				if err := w.Send(msg.From, comm.Message{Tag: comm.TagStart, Args: args, Seq: taskIndex}); err != nil {
					p.logger.Error("send START", "rank", msg.From, "err", err)
				}
				taskIndex++
			case comm.TagDone:
				res := Result{Value: msg.Value, Args: Args(msg.Args)}
				if msg.Failed {
					res = Result{Value: p.failValue, Args: Args(msg.Args), Err: errors.New(msg.Err)}
				}
				r := emit(res, out, p.logger, ro)
				select {
				case ch <- r:
				case <-ctx.Done():
					p.logger.Error("interrupted while streaming results", "err", ctx.Err())
					break loop
				}
			case comm.TagExit:
				p.logger.Debug("worker exited", "rank", msg.From)
				active--
			}
		}
		out.close()
		if active > 0 {
			// Abnormal exit: workers still blocked on the coordinator will
			// never reach the final barrier, so waiting there would hang the
			// stream open forever. Close the stream and let the world's
			// teardown unblock them.
			p.logger.Warn("coordinator stopping with workers outstanding", "workers", active)
			return
		}
		if err := w.Barrier(); err != nil {
			p.logger.Error("final barrier", "err", err)
		}
	}()
	return ch, nil
}

// runWorker is the worker state machine: announce READY, block for the
// reply, run the task on START, send DONE with the outcome or failure,
// and on EXIT echo the shutdown and leave. Task failures are caught here
// at single-task granularity; only the Failed flag crosses the wire.
func runWorker(ctx context.Context, w comm.World, fn Func, kwargs map[string]any, logger *log.Logger) error {
	if err := w.Barrier(); err != nil {
		return err
	}
	for {
		if err := w.Send(0, comm.Message{Tag: comm.TagReady}); err != nil {
			return err
		}
		msg, err := w.Recv()
		if err != nil {
			return err
		}
		switch msg.Tag {
		case comm.TagStart:
			res := invoke(ctx, fn, Args(msg.Args), kwargs, nil)
			reply := comm.Message{Tag: comm.TagDone, Args: msg.Args, Seq: msg.Seq}
			if res.Failed() {
				logger.Error("error running task", "rank", w.Rank(), "args", msg.Args, "err", res.Err)
				reply.Failed = true
				reply.Err = res.Err.Error()
			} else {
				reply.Value = res.Value
			}
			if err := w.Send(0, reply); err != nil {
				return err
			}
		case comm.TagExit:
			if err := w.Send(0, comm.Message{Tag: comm.TagExit}); err != nil {
				return err
			}
			return w.Barrier()
		}
	}
}
