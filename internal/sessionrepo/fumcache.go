// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionrepo

import (
	"os"
	"path/filepath"

	"github.com/agentviewer/core/internal/ids"
	"go.uber.org/zap"
)

// fumCachePath maps a journal file path to its slot under the
// first-user-message cache directory (spec.md §6,
// "<configBase>/first-user-message-cache/..."), reusing the project-id
// escaping scheme so the full path becomes one filename-safe component.
func (r *Repository) fumCachePath(journalFilePath string) string {
	return filepath.Join(r.cacheDir, ids.EncodeProjectID(journalFilePath))
}

// storeFirstUserMessage persists text for journalFilePath. Disabled
// (no-op) when cacheDir is empty. Failures are logged, not propagated:
// the cache is an optimization, never a correctness dependency.
func (r *Repository) storeFirstUserMessage(journalFilePath, text string) {
	if r.cacheDir == "" || text == "" {
		return
	}
	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		r.log.Warn("create first-user-message cache dir", zap.Error(err))
		return
	}
	path := r.fumCachePath(journalFilePath)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		r.log.Warn("write first-user-message cache entry", zap.Error(err))
	}
}

// PruneStale removes every cache entry whose journal path no longer
// exists on disk, bounding the cache's disk growth (SPEC_FULL.md
// SUPPLEMENTED FEATURES, "First-user-message disk cache eviction"),
// modeled on the teacher's age/existence-based pruning in
// internal/crashes/manager.go's cleanup. Each entry's filename is the
// bijective encoding of its journal path (fumCachePath), so pruning
// needs no side index: decode the filename back to a path and stat it.
func (r *Repository) PruneStale() {
	if r.cacheDir == "" {
		return
	}
	entries, err := os.ReadDir(r.cacheDir)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		r.log.Warn("list first-user-message cache dir", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		journalPath := ids.DecodeProjectID(entry.Name())
		if _, err := os.Stat(journalPath); os.IsNotExist(err) {
			path := filepath.Join(r.cacheDir, entry.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				r.log.Warn("prune first-user-message cache entry", zap.String("path", path), zap.Error(err))
			}
		}
	}
}
