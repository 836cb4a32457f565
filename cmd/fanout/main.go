// Command fanout runs a registered task over a stream of argument tuples
// using the best execution backend the host makes available.
//
// The same binary serves three roles: the coordinating CLI, a re-exec'd
// process-pool worker (FANOUT_STDIO_WORKER=1), and a distributed worker
// rank (FANOUT_RANK > 0 under a launcher).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/nibzard/fanout/internal/config"
	"github.com/nibzard/fanout/internal/logging"
	"github.com/nibzard/fanout/internal/parallel"
	"github.com/nibzard/fanout/internal/taskfile"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registerBuiltins()

	if os.Getenv(parallel.EnvStdioWorker) == "1" {
		if err := parallel.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "worker:", err)
			return 1
		}
		return 0
	}

	fs := flag.NewFlagSet("fanout", flag.ExitOnError)
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Timestamps: cfg.LogTimestamps,
	})
	logger = logger.With("run", uuid.NewString()[:8])

	if cfg.TaskFile == "" {
		logger.Error("no task file given, use -tasks")
		return 1
	}
	tf, err := taskfile.Load(cfg.TaskFile)
	if err != nil {
		logger.Error("load task file", "path", cfg.TaskFile, "err", err)
		return 1
	}

	p, err := parallel.New(parallel.Options{
		Backend:       cfg.Backend,
		Workers:       cfg.Workers,
		WorkersEnvVar: cfg.WorkersEnvVar,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("configuration", "err", err)
		return 1
	}
	defer p.Close()

	results, err := p.RunStream(ctx, parallel.Task{Name: tf.Task}, tf.Stream(), parallel.RunOptions{
		Kwargs:      tf.Kwargs,
		OutFile:     cfg.OutFile,
		OutTemplate: cfg.OutTemplate,
		LogTemplate: cfg.LogTemplate,
	})
	if err != nil {
		logger.Error("run", "task", tf.Task, "err", err)
		return 1
	}

	total, failed := 0, 0
	for res := range results {
		total++
		if res.Failed() {
			failed++
			continue
		}
		if cfg.OutFile == "" {
			fmt.Print(renderResult(cfg.OutTemplate, res.Value))
		}
	}

	if !p.IsCoordinator() {
		// Distributed worker ranks stream nothing; their work is done.
		return 0
	}
	logger.Info("run complete", "backend", p.Backend(), "tasks", total, "failed", failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// renderResult renders one result line for stdout. Values are stringified
// first so the %s template accepts any outcome type, matching what the
// file sink does.
func renderResult(template string, v any) string {
	return fmt.Sprintf(template, fmt.Sprint(v))
}

// registerBuiltins installs the tasks the CLI can run by name. They must
// be registered before any worker entrypoint so re-exec'd processes can
// resolve them too.
func registerBuiltins() {
	parallel.Register("shell", shellTask)
}

// shellTask runs one shell command per argument tuple. The optional
// "cmd" kwarg is prefixed to the tuple, so {"cmd": "gzip -k"} with item
// ["a.txt"] runs `gzip -k a.txt`. Returns the command's trimmed combined
// output.
func shellTask(ctx context.Context, args parallel.Args, kwargs map[string]any) (any, error) {
	parts := make([]string, 0, len(args)+1)
	if cmd, ok := kwargs["cmd"].(string); ok && cmd != "" {
		parts = append(parts, cmd)
	}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	line := strings.Join(parts, " ")
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}
	out, err := exec.CommandContext(ctx, "sh", "-c", line).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}
