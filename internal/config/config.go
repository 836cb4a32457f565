// Package config handles configuration loading and defaults.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Default values.
const (
	DefaultWorkersEnvVar = "FANOUT_NUM_PROC"
	DefaultOutTemplate   = "%s\n"
)

// Config holds the full configuration for a fanout run.
type Config struct {
	// Execution
	Backend       string `toml:"backend"`
	Workers       int    `toml:"workers"`
	WorkersEnvVar string `toml:"workers_env_var"`

	// Input (flag-only; a task file names itself)
	TaskFile string `toml:"-"`

	// Output sink
	OutFile     string `toml:"out_file"`
	OutTemplate string `toml:"out_template"`

	// Per-success log line template
	LogTemplate string `toml:"log_template"`

	// Logging
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	LogTimestamps bool   `toml:"log_timestamps"`
}

// setDefaults fills in the default configuration.
func setDefaults(cfg *Config) {
	cfg.WorkersEnvVar = DefaultWorkersEnvVar
	cfg.OutTemplate = DefaultOutTemplate
	cfg.LogLevel = "info"
	cfg.LogFormat = "text"
}

// Load loads configuration from multiple sources in priority order:
// 1. Defaults
// 2. Project config file (fanout.toml or .fanout.toml in current directory)
// 3. Environment variables (FANOUT_*)
// 4. CLI flags
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if file := findProjectConfigFile(); file != "" {
		if err := loadConfigFile(cfg, file); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", file, err)
		}
	}

	loadFromEnv(cfg)

	registerFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// registerFlags binds flags to the config. Flag defaults are the values
// already merged from files and environment, so unset flags keep them.
func registerFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "execution backend (distributed, processes, threads, sequential)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "worker count hint (0 = auto)")
	fs.StringVar(&cfg.TaskFile, "tasks", cfg.TaskFile, "JSON task file to run")
	fs.StringVar(&cfg.OutFile, "out", cfg.OutFile, "write results to this file instead of stdout")
	fs.StringVar(&cfg.OutTemplate, "out-template", cfg.OutTemplate, "printf template for result lines")
	fs.StringVar(&cfg.LogTemplate, "log-template", cfg.LogTemplate, "printf template logged per successful task")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json, logfmt)")
	fs.BoolVar(&cfg.LogTimestamps, "log-timestamps", cfg.LogTimestamps, "include timestamps in log lines")
}

// findProjectConfigFile looks for a config file in the current directory.
func findProjectConfigFile() string {
	names := []string{"fanout.toml", ".fanout.toml"}
	for _, name := range names {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// loadConfigFile loads configuration from a TOML file into cfg.
func loadConfigFile(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return err
	}
	return nil
}
