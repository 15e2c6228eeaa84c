// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agentviewer/core/internal/app"
	"github.com/agentviewer/core/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	var (
		configPath string
		host       string
		port       int
		password   string
		executable string
		claudeDir  string
	)

	root := &cobra.Command{
		Use:     "agentviewer",
		Short:   "Local viewer and controller for an interactive AI coding assistant",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// env vars first, then CLI flags win over them (spec.md §6).
			cfg.Apply(config.EnvOverrides())
			cfg.Apply(config.Overrides{
				Host:       host,
				Port:       port,
				Password:   password,
				Executable: executable,
				ClaudeDir:  claudeDir,
			})

			// No env var/flag/config override: fall back to discovery
			// (spec.md §6). A discovery failure is not fatal here; it
			// surfaces later as a normal spawn error when a session is
			// actually started.
			if cfg.Executable == "" {
				if found, derr := config.DiscoverExecutable(); derr == nil {
					cfg.Executable = found
				} else {
					fmt.Fprintln(os.Stderr, "warning: could not discover agent executable:", derr)
				}
			}

			log, err := config.NewLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer log.Sync()

			application := app.New(app.Options{Config: cfg, Log: log})
			return application.Run(context.Background())
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to the agentviewer config file (hjson)")
	root.Flags().StringVar(&host, "hostname", "", "HTTP server bind host (overrides config/env)")
	root.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config/env)")
	root.Flags().StringVar(&password, "password", "", "auth password (overrides config/env)")
	root.Flags().StringVar(&executable, "executable", "", "agent binary path override (overrides config/env)")
	root.Flags().StringVar(&claudeDir, "claude-dir", "", "journal directory to watch (overrides config/env)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
