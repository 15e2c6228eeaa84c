// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"sync"
	"time"
)

// defaultDebounceInterval is the fallback used when a caller passes a
// non-positive duration. journal.go never actually hits it (it resolves
// its own defaultJournalDebounce, 300ms, before calling NewDebouncer),
// so this only matters for a Debouncer constructed directly; it's set
// to match that same 300ms journal-watcher default rather than the
// shorter interval a generic file watcher would use.
const defaultDebounceInterval = 300 * time.Millisecond

// Debouncer coalesces repeated journal-file events per key: journal.go
// builds each key from the project id plus the session or agent-session
// id, and Debounce resets that key's timer on every write until the
// file settles (spec.md §4.2 step 3).
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timers   map[string]*time.Timer
}

// NewDebouncer creates a new debouncer with the given duration.
func NewDebouncer(duration time.Duration) *Debouncer {
	if duration <= 0 {
		duration = defaultDebounceInterval
	}
	return &Debouncer{
		duration: duration,
		timers:   make(map[string]*time.Timer),
	}
}

// Debounce schedules a function to be called after the debounce duration.
// If called again with the same key before the duration elapses, the timer is reset.
func (d *Debouncer) Debounce(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Cancel existing timer if any
	if timer, exists := d.timers[key]; exists {
		timer.Stop()
	}

	// Create new timer
	d.timers[key] = time.AfterFunc(d.duration, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel cancels a pending debounced function for the given key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, exists := d.timers[key]; exists {
		timer.Stop()
		delete(d.timers, key)
	}
}

// Stop cancels all pending debounced functions.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}

// SetDuration changes the debounce duration for future debounces.
// Existing timers are not affected.
func (d *Debouncer) SetDuration(duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if duration <= 0 {
		duration = defaultDebounceInterval
	}
	d.duration = duration
}
