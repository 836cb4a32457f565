package parallel

import (
	"context"
	"fmt"
)

// Result pairs one task outcome with the argument tuple that produced it.
// On failure Value holds the configured fail value and Err records the
// cause; Err is for logging and inspection only and is never raised.
type Result struct {
	Value any
	Args  Args
	Err   error
}

// Failed reports whether this result is the fail sentinel.
func (r Result) Failed() bool { return r.Err != nil }

// invoke runs fn on one argument tuple, converting a returned error or a
// panic into the fail-sentinel result. This is the single point where task
// failures are caught; engines never see them as errors.
func invoke(ctx context.Context, fn Func, args Args, kwargs map[string]any, failValue any) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Value: failValue, Args: args, Err: fmt.Errorf("task panic: %v", p)}
		}
	}()
	v, err := fn(ctx, args, kwargs)
	if err != nil {
		return Result{Value: failValue, Args: args, Err: err}
	}
	return Result{Value: v, Args: args}
}
