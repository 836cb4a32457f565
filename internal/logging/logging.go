// Package logging configures leveled structured console logging.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Options holds configuration for console logging.
type Options struct {
	// Level is one of debug, info, warn, error. Default info.
	Level string
	// Format is one of text, json, logfmt. Default text.
	Format string
	// Timestamps enables a timestamp on every line.
	Timestamps bool
	// Output defaults to stderr so log lines never mix with result output
	// on stdout.
	Output io.Writer
}

// New creates a logger for the given options. Unknown level or format
// names fall back to the defaults rather than failing.
func New(opts Options) *log.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return log.NewWithOptions(out, log.Options{
		Level:           parseLevel(opts.Level),
		Formatter:       parseFormat(opts.Format),
		ReportTimestamp: opts.Timestamps,
		Prefix:          "fanout",
	})
}

func parseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func parseFormat(s string) log.Formatter {
	switch s {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
