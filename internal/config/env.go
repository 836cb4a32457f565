package config

import (
	"fmt"
	"os"
)

// loadFromEnv overrides config from environment variables.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("FANOUT_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("FANOUT_WORKERS"); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			cfg.Workers = i
		}
	}
	if v := os.Getenv("FANOUT_WORKERS_ENV_VAR"); v != "" {
		cfg.WorkersEnvVar = v
	}
	if v := os.Getenv("FANOUT_OUT_FILE"); v != "" {
		cfg.OutFile = v
	}
	if v := os.Getenv("FANOUT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FANOUT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("FANOUT_LOG_TIMESTAMPS"); v != "" {
		cfg.LogTimestamps = boolFromString(v)
	}
}

// boolFromString interprets common truthy strings.
func boolFromString(v string) bool {
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
