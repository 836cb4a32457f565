package parallel

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// sink writes formatted successful outcomes to the optional output file.
// A nil sink is valid and disabled; engines call it unconditionally.
type sink struct {
	f        *os.File
	template string
	format   func(any) string
}

// openSink opens the run's output file, or returns a disabled nil sink
// when no OutFile is configured. The file is opened once before any task
// result is written and closed once the engine is done.
func openSink(ro RunOptions) (*sink, error) {
	if ro.OutFile == "" {
		return nil, nil
	}
	f, err := os.Create(ro.OutFile)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &sink{f: f, template: ro.outTemplate(), format: ro.outFormat()}, nil
}

func (s *sink) enabled() bool { return s != nil }

func (s *sink) write(v any) error {
	_, err := fmt.Fprintf(s.f, s.template, s.format(v))
	return err
}

func (s *sink) close() {
	if s == nil {
		return
	}
	s.f.Close()
}

// emit applies the result-sink contract to one task outcome: failures are
// logged with the offending args and streamed as-is; successes get the
// optional per-result log line, and when a sink is configured the value is
// written there and the streamed result becomes (true, args) so the
// one-result-per-task invariant holds.
func emit(res Result, out *sink, logger *log.Logger, ro RunOptions) Result {
	if res.Failed() {
		logger.Error("error running task", "args", res.Args, "err", res.Err)
		return res
	}
	if ro.LogTemplate != "" {
		logger.Info(fmt.Sprintf(ro.LogTemplate, ro.logFormat()(res.Args)))
	}
	if out.enabled() {
		if err := out.write(res.Value); err != nil {
			logger.Error("write output", "args", res.Args, "err", err)
		}
		return Result{Value: true, Args: res.Args}
	}
	return res
}
