// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os/exec"
	"strings"
)

// agentBinaryName is the agent CLI this core spawns as a subprocess
// (internal/lifecycle.ExecSpawner).
const agentBinaryName = "claude"

// DiscoverExecutable implements spec.md §6's fallback discovery order
// for the agent binary path when no env var/flag/config override is
// set: a `which -a` search across $PATH, skipping npm/npx-cache shims
// (paths containing a "_npx/.../.bin" segment — these are per-version
// wrapper scripts npx leaves behind, not the real binary) and
// preferring the first remaining, i.e. the highest-priority system
// path `which -a` reports.
func DiscoverExecutable() (string, error) {
	out, err := exec.Command("which", "-a", agentBinaryName).Output()
	if err != nil {
		return "", fmt.Errorf("which -a %s: %w", agentBinaryName, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		path := strings.TrimSpace(line)
		if path == "" || isNpxShim(path) {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("no system %s executable found (which -a returned only npx-cache shims, or nothing)", agentBinaryName)
}

// isNpxShim reports whether path is an npx-cache wrapper rather than a
// real installed binary.
func isNpxShim(path string) bool {
	return strings.Contains(path, "_npx") && strings.Contains(path, ".bin")
}
