// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// configFile is the on-disk shape of scheduler.json (spec.md §6).
type configFile struct {
	Jobs []Job `json:"jobs"`
}

// loadJobs reads path, tolerating a missing file (empty config) and a
// corrupt one (log, then treat as empty — spec.md §7 "Config
// corruption"). It never returns an error: by design there is no
// legitimate reason for the caller to abort startup over this file.
func loadJobs(path string, log *zap.Logger) []Job {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read scheduler config, starting empty", zap.Error(err))
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn("scheduler config corrupt, resetting to empty", zap.Error(err))
		return nil
	}
	return cfg.Jobs
}

// saveJobs writes jobs to path atomically (temp file + rename),
// matching the teacher's persistence convention.
func saveJobs(path string, jobs []Job) error {
	if jobs == nil {
		jobs = []Job{}
	}
	data, err := json.MarshalIndent(configFile{Jobs: jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scheduler config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create scheduler config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp scheduler config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename scheduler config: %w", err)
	}
	return nil
}
