// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher implements the File Watcher (C2): a recursive,
// debounced observer over the agent's journal directory that classifies
// raw filesystem events into session/agent-session change notifications
// on the bus.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentviewer/core/internal/bus"
	"github.com/agentviewer/core/internal/ids"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultJournalDebounce = 300 * time.Millisecond

// JournalWatcher watches root (the agent's journal root directory, one
// subdirectory per project) and emits sessionChanged/sessionListChanged/
// agentSessionChanged on bus once changes to a given session or agent
// session settle, per spec.md §4.2.
type JournalWatcher struct {
	log       *zap.Logger
	bus       *bus.Bus
	root      string
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	mu      sync.Mutex
	watched map[string]bool // directories currently under fsnotify watch
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New constructs a JournalWatcher rooted at root. It does not start
// watching until Start is called.
func New(root string, b *bus.Bus, debounce time.Duration, log *zap.Logger) (*JournalWatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = defaultJournalDebounce
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &JournalWatcher{
		log:       log.Named("watcher"),
		bus:       b,
		root:      root,
		fsWatcher: fsWatcher,
		debouncer: NewDebouncer(debounce),
		watched:   make(map[string]bool),
		closeCh:   make(chan struct{}),
	}, nil
}

// Start begins watching the journal root recursively. Per spec.md
// §4.2's failure policy, a missing or unreadable root is logged and
// the watcher stays quiescent rather than crashing or retrying.
func (w *JournalWatcher) Start() {
	if err := w.addTree(w.root); err != nil {
		w.log.Warn("journal root unavailable, watcher quiescent", zap.String("root", w.root), zap.Error(err))
	}

	w.wg.Add(1)
	go w.processEvents()
}

// Close stops the watcher. Per spec.md §4.2 step 4, pending debounce
// timers are cancelled, not fired.
func (w *JournalWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

// addTree registers root plus its immediate project subdirectories
// with fsnotify. The journal layout is two levels deep only
// (root/projectDir/sessionFile.jsonl), so one level of subdirectory
// watches is sufficient; new project directories are picked up as they
// are created (see handleEvent).
func (w *JournalWatcher) addTree(root string) error {
	if err := w.addWatch(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = w.addWatch(filepath.Join(root, e.Name()))
		}
	}
	return nil
}

func (w *JournalWatcher) addWatch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return nil
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}
	w.watched[dir] = true
	return nil
}

func (w *JournalWatcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("journal watcher error", zap.Error(err))
		}
	}
}

func (w *JournalWatcher) handleEvent(event fsnotify.Event) {
	// A newly created project directory needs its own watch so files
	// written into it are seen.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addWatch(event.Name)
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	w.classify(event.Name)
}

// classify parses event path relative to root per spec.md §4.2 step 1:
// only <projectDir>/<sessionFile>.jsonl and
// <projectDir>/agent-<agentSessionId>.jsonl match; everything else is
// ignored.
func (w *JournalWatcher) classify(path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return
	}
	projectDirName, fileName := parts[0], parts[1]
	if !strings.HasSuffix(fileName, ".jsonl") {
		return
	}
	base := strings.TrimSuffix(fileName, ".jsonl")
	projectID := ids.EncodeProjectID(filepath.Join(w.root, projectDirName))

	if strings.HasPrefix(base, "agent-") {
		agentSessionID := strings.TrimPrefix(base, "agent-")
		w.debounce(projectID+"/agent/"+agentSessionID, func() {
			w.bus.Publish(bus.AgentSessionChanged, bus.AgentSessionChangedPayload{
				ProjectID: projectID, AgentSessionID: agentSessionID,
			})
		})
		return
	}

	sessionID := base
	w.debounce(projectID+"/session/"+sessionID, func() {
		w.bus.Publish(bus.SessionChanged, bus.SessionChangedPayload{ProjectID: projectID, SessionID: sessionID})
		w.bus.Publish(bus.SessionListChanged, bus.SessionListChangedPayload{ProjectID: projectID})
	})
}

func (w *JournalWatcher) debounce(key string, fn func()) {
	if w.bus == nil {
		return
	}
	w.debouncer.Debounce(key, fn)
}
