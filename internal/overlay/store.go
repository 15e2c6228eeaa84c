// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package overlay implements the Virtual Conversation Store (C3): an
// in-memory, per-process-lifetime map from session id to predicted
// conversation entries not yet written to the on-disk journal.
package overlay

import (
	"sync"

	"github.com/agentviewer/core/internal/journal"
)

// Store holds virtual conversation overlays keyed by session id.
// Mutation is serialized by a single mutex, matching the single-writer
// discipline spec.md §5 requires of every in-memory store.
type Store struct {
	mu      sync.Mutex
	byID    map[string][]journal.Entry
	project map[string]string // sessionId -> projectId, for getForProject
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byID:    make(map[string][]journal.Entry),
		project: make(map[string]string),
	}
}

// Create replaces any existing overlay for sessionId with entries.
func (s *Store) Create(projectID, sessionID string, entries []journal.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]journal.Entry, len(entries))
	copy(cp, entries)
	s.byID[sessionID] = cp
	s.project[sessionID] = projectID
}

// GetForSession returns the overlay for sessionID, or nil, ok=false if
// none exists.
func (s *Store) GetForSession(sessionID string) ([]journal.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.byID[sessionID]
	if !ok {
		return nil, false
	}
	cp := make([]journal.Entry, len(entries))
	copy(cp, entries)
	return cp, true
}

// SessionOverlay pairs a session id with its overlay entries.
type SessionOverlay struct {
	SessionID string
	Entries   []journal.Entry
}

// GetForProject returns every overlay whose session belongs to
// projectID.
func (s *Store) GetForProject(projectID string) []SessionOverlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SessionOverlay
	for sid, pid := range s.project {
		if pid != projectID {
			continue
		}
		entries := s.byID[sid]
		cp := make([]journal.Entry, len(entries))
		copy(cp, entries)
		out = append(out, SessionOverlay{SessionID: sid, Entries: cp})
	}
	return out
}

// Delete removes the overlay for sessionID, satisfying invariant I3:
// once the journal catches up, the virtual entries are gone atomically
// with respect to any concurrent read (both guarded by the same mutex).
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, sessionID)
	delete(s.project, sessionID)
}

// Append adds entries to the existing overlay for sessionID (creating
// one if absent), used by continueTask to add a new user turn on top of
// a prior overlay without disturbing it.
func (s *Store) Append(projectID, sessionID string, entries []journal.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sessionID] = append(s.byID[sessionID], entries...)
	s.project[sessionID] = projectID
}
