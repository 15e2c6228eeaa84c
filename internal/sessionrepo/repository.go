// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sessionrepo implements the Session Repository (C4): it reads
// the agent's on-disk journal files, merges them with the virtual
// conversation overlay, paginates the session list, and derives and
// caches session metadata.
package sessionrepo

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentviewer/core/internal/bus"
	"github.com/agentviewer/core/internal/ids"
	"github.com/agentviewer/core/internal/journal"
	"github.com/agentviewer/core/internal/overlay"
	"go.uber.org/zap"
)

// defaultMaxCount is the page size used when the caller does not ask
// for a specific one (spec.md §4.4).
const defaultMaxCount = 20

// Summary is one entry in a paginated session list.
type Summary struct {
	ID             string
	LastModifiedAt time.Time
	Meta           journal.SessionMeta
}

// Repository implements C4.
type Repository struct {
	log      *zap.Logger
	overlay  *overlay.Store
	cacheDir string // first-user-message-cache base; "" disables the disk cache

	mu        sync.Mutex
	metaCache map[string]journal.SessionMeta // projectID+"/"+sessionID -> meta
}

// New constructs a Repository. cacheDir is the persistent
// first-user-message cache's base directory (spec.md §6,
// "<configBase>/first-user-message-cache"); pass "" to keep the cache
// in-memory only. If b is non-nil the repository subscribes to
// sessionChanged to invalidate both caches (spec.md §4.4).
func New(ov *overlay.Store, b *bus.Bus, cacheDir string, log *zap.Logger) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Repository{
		log:       log.Named("sessionrepo"),
		overlay:   ov,
		cacheDir:  cacheDir,
		metaCache: make(map[string]journal.SessionMeta),
	}
	if b != nil {
		b.Subscribe(bus.SessionChanged, func(e bus.Event) {
			if p, ok := e.Payload.(bus.SessionChangedPayload); ok {
				r.invalidate(p.ProjectID, p.SessionID)
			}
		})
	}
	return r
}

func cacheKey(projectID, sessionID string) string {
	return projectID + "/" + sessionID
}

func journalPath(projectID, sessionID string) string {
	return filepath.Join(ids.DecodeProjectID(projectID), sessionID+".jsonl")
}

// LastModifiedAt returns the on-disk journal file's modification time,
// used by the auto-abort daemon to measure session idle time (spec.md
// §4.9). Returns an error if the journal file does not exist.
func (r *Repository) LastModifiedAt(projectID, sessionID string) (time.Time, error) {
	info, err := os.Stat(journalPath(projectID, sessionID))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (r *Repository) invalidate(projectID, sessionID string) {
	r.mu.Lock()
	delete(r.metaCache, cacheKey(projectID, sessionID))
	r.mu.Unlock()
	if r.cacheDir != "" {
		_ = os.Remove(r.fumCachePath(journalPath(projectID, sessionID)))
	}
}

// GetEntries returns the merged (disk + overlay) entries for a session,
// satisfying the lifecycle coordinator's HistoryReader dependency for
// resume hydration.
func (r *Repository) GetEntries(projectID, sessionID string) ([]journal.Entry, error) {
	disk, err := journal.ParseFile(journalPath(projectID, sessionID))
	if err != nil {
		return nil, err
	}
	overlayEntries, _ := r.overlay.GetForSession(sessionID)
	return journal.Merge(disk, overlayEntries), nil
}

// GetSession parses the journal, merges the overlay, and derives
// metadata. Returns nil, nil, nil if no journal file exists for
// sessionID (caller maps that to 404, per spec.md §6).
func (r *Repository) GetSession(projectID, sessionID string) (*journal.SessionMeta, []journal.Entry, error) {
	path := journalPath(projectID, sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, nil
	}

	disk, err := journal.ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	overlayEntries, _ := r.overlay.GetForSession(sessionID)
	merged := journal.Merge(disk, overlayEntries)

	side := r.sideChannels(projectID, sessionID)

	key := cacheKey(projectID, sessionID)
	r.mu.Lock()
	meta, ok := r.metaCache[key]
	r.mu.Unlock()
	if !ok {
		meta = journal.DeriveMeta(merged, side...)
		r.mu.Lock()
		r.metaCache[key] = meta
		r.mu.Unlock()
		r.storeFirstUserMessage(path, meta.FirstUserMessage)
	}

	return &meta, merged, nil
}

// sideChannels loads every agent-*.jsonl file in the session's project
// directory whose entries carry this session's id, per spec.md §4.4's
// "cost ... plus any agent-*.jsonl files belonging to the session".
func (r *Repository) sideChannels(projectID, sessionID string) [][]journal.Entry {
	dir := ids.DecodeProjectID(projectID)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out [][]journal.Entry
	for _, d := range ents {
		name := d.Name()
		if !strings.HasPrefix(name, "agent-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		entries, err := journal.ParseFile(filepath.Join(dir, name))
		if err != nil || len(entries) == 0 {
			continue
		}
		if entries[0].SessionID != sessionID {
			continue
		}
		out = append(out, entries)
	}
	return out
}

// GetSessions returns one page of sessions for projectID, sorted by
// last-modified descending. cursor is the id of the last session
// returned by a prior call; empty starts from the top. maxCount<=0
// defaults to 20 (spec.md §4.4).
func (r *Repository) GetSessions(projectID, cursor string, maxCount int) ([]Summary, string, error) {
	if maxCount <= 0 {
		maxCount = defaultMaxCount
	}
	dir := ids.DecodeProjectID(projectID)
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", err
	}

	type candidate struct {
		id      string
		modTime time.Time
	}
	var candidates []candidate
	for _, d := range ents {
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, "agent-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			id:      strings.TrimSuffix(name, ".jsonl"),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	start := 0
	if cursor != "" {
		for i, c := range candidates {
			if c.id == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + maxCount
	if end > len(candidates) {
		end = len(candidates)
	}
	if start > len(candidates) {
		start = len(candidates)
	}
	page := candidates[start:end]

	summaries := make([]Summary, 0, len(page))
	for _, c := range page {
		meta, _, err := r.GetSession(projectID, c.id)
		if err != nil || meta == nil {
			r.log.Warn("skipping unreadable session", zap.String("session_id", c.id), zap.Error(err))
			continue
		}
		summaries = append(summaries, Summary{ID: c.id, LastModifiedAt: c.modTime, Meta: *meta})
	}

	nextCursor := ""
	if end < len(candidates) {
		nextCursor = candidates[end-1].id
	}
	return summaries, nextCursor, nil
}
