// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package reconcile implements the startup reconciliation hook
// (SPEC_FULL.md SUPPLEMENTED FEATURES, "Startup reconciliation"): since
// the Session Process Registry (internal/process) is purely in-memory
// and never persists across restarts, there is never any in-memory
// state to validate against disk. What can drift is the reverse: an
// agent subprocess spawned by a previous, now-dead instance of this
// program, still running and attached to a pidfile this instance no
// longer has any record of. Reconcile finds those and clears them,
// mirroring the teacher's crash-manager pattern of reconciling
// external process state against internal bookkeeping
// (internal/crashes/manager.go's cleanup).
package reconcile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"
	"go.uber.org/zap"
)

// Reconcile scans pidDir for pidfiles left behind by a previous run,
// warns about any whose pid is still alive (an orphaned agent
// subprocess nothing will ever manage again), and removes every
// pidfile found. It never re-attaches to a live process; the session
// process it belonged to is gone from the registry regardless; this is
// a diagnostic pass, not a recovery one.
//
// A missing pidDir is the common case (first run, or a clean prior
// shutdown that removed every pidfile) and is not an error.
func Reconcile(pidDir string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("reconcile")

	entries, err := os.ReadDir(pidDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var alive map[int]bool

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pid") {
			continue
		}
		path := filepath.Join(pidDir, entry.Name())
		processID := strings.TrimSuffix(entry.Name(), ".pid")

		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("could not read stale pidfile", zap.String("path", path), zap.Error(err))
			os.Remove(path)
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			log.Warn("could not parse stale pidfile", zap.String("path", path), zap.Error(err))
			os.Remove(path)
			continue
		}

		if alive == nil {
			alive, err = aliveProcessIDs()
			if err != nil {
				log.Warn("could not enumerate processes for reconciliation", zap.Error(err))
				alive = map[int]bool{}
			}
		}
		if alive[pid] {
			log.Warn("orphaned agent subprocess from a previous run is still attached to a stale pid",
				zap.String("process_id", processID), zap.Int("pid", pid))
		}
		os.Remove(path)
	}
	return nil
}

func aliveProcessIDs() (map[int]bool, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, err
	}
	alive := make(map[int]bool, len(procs))
	for _, p := range procs {
		alive[p.Pid()] = true
	}
	return alive, nil
}
