// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the core's application configuration: server
// bind address, auth password, agent executable override, and the
// claude journal directory, with CLI flags and environment variables
// taking precedence over the on-disk file (spec.md §6).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hjson/hjson-go/v4"
)

// Config is the core's application configuration.
type Config struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Password   string `json:"password"`
	Executable string `json:"executable"`
	ClaudeDir  string `json:"claudeDir"`

	// DataDir holds the scheduler's persisted job file and the
	// first-user-message cache (spec.md §6 persistence layout:
	// "<configBase>/scheduler.json", "<configBase>/first-user-message-cache/...").
	DataDir string `json:"dataDir"`

	WatchDebounce         time.Duration `json:"-"`
	WatchDebounceStr      string        `json:"watchDebounce"`
	AutoAbortThreshold    time.Duration `json:"-"`
	AutoAbortThresholdStr string        `json:"autoAbortThreshold"`

	LogLevel string `json:"logLevel"`
}

func defaults() Config {
	return Config{
		Host:                  "127.0.0.1",
		Port:                  4317,
		ClaudeDir:             defaultClaudeDir(),
		DataDir:               defaultDataDir(),
		WatchDebounceStr:      "300ms",
		AutoAbortThresholdStr: "30m",
		LogLevel:              "info",
	}
}

func defaultClaudeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.claude/projects"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.agentviewer"
}

// Load reads path (hjson or json) if it exists, merges it over the
// built-in defaults, and parses the duration fields. A missing file is
// not an error: the defaults apply (spec.md's config parsing specifics
// are out of scope; only these few ambient fields exist here).
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return finalize(cfg)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}

		var raw map[string]interface{}
		if err := hjson.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse hjson: %w", err)
		}
		jsonData, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("convert to json: %w", err)
		}
		if err := json.Unmarshal(jsonData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	return finalize(cfg)
}

func finalize(cfg Config) (*Config, error) {
	var err error
	if cfg.WatchDebounceStr != "" {
		cfg.WatchDebounce, err = time.ParseDuration(cfg.WatchDebounceStr)
		if err != nil {
			return nil, fmt.Errorf("parse watchDebounce: %w", err)
		}
	}
	if cfg.AutoAbortThresholdStr != "" {
		cfg.AutoAbortThreshold, err = time.ParseDuration(cfg.AutoAbortThresholdStr)
		if err != nil {
			return nil, fmt.Errorf("parse autoAbortThreshold: %w", err)
		}
	}
	return &cfg, nil
}

// Overrides carries the CLI-flag/env-var values that take precedence
// over the file, per spec.md §6's "Discovery order: env var → ... →
// CLI flags" style precedence. A zero-value field leaves the
// file/default value untouched.
type Overrides struct {
	Host       string
	Port       int
	Password   string
	Executable string
	ClaudeDir  string
}

// Apply layers non-zero override fields onto cfg. Calling it first
// with EnvOverrides() and then with the CLI-flag Overrides makes CLI
// flags win over environment variables, which win over the file.
func (cfg *Config) Apply(o Overrides) {
	if o.Host != "" {
		cfg.Host = o.Host
	}
	if o.Port != 0 {
		cfg.Port = o.Port
	}
	if o.Password != "" {
		cfg.Password = o.Password
	}
	if o.Executable != "" {
		cfg.Executable = o.Executable
	}
	if o.ClaudeDir != "" {
		cfg.ClaudeDir = o.ClaudeDir
	}
}

// EnvOverrides reads the environment variables spec.md §6 names for
// executable path, port, hostname, and auth password.
func EnvOverrides() Overrides {
	return Overrides{
		Host:       os.Getenv("AGENTVIEWER_HOST"),
		Port:       atoiOrZero(os.Getenv("AGENTVIEWER_PORT")),
		Password:   os.Getenv("AGENTVIEWER_PASSWORD"),
		Executable: os.Getenv("AGENTVIEWER_EXECUTABLE"),
		ClaudeDir:  os.Getenv("AGENTVIEWER_CLAUDE_DIR"),
	}
}

func atoiOrZero(s string) int {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}
