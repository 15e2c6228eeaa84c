// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package autoabort

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/agentviewer/core/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	procs []*process.Process
}

func (r *fakeRegistry) List() []*process.Process { return r.procs }

type fakeModTimes struct {
	mu      sync.Mutex
	times   map[string]time.Time
	errKeys map[string]bool
}

func (f *fakeModTimes) LastModifiedAt(projectID, sessionID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := projectID + "/" + sessionID
	if f.errKeys[key] {
		return time.Time{}, os.ErrNotExist
	}
	return f.times[key], nil
}

type fakeAborter struct {
	mu      sync.Mutex
	aborted []string
}

func (f *fakeAborter) AbortTask(processID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, processID)
}

func newPausedProcess(id, projectID, sessionID string) *process.Process {
	p := &process.Process{ID: id, ProjectID: projectID, State: "file_created", SessionID: sessionID}
	p.State = "paused"
	return p
}

func TestScanAbortsOnlyPausedProcessesPastThreshold(t *testing.T) {
	stale := newPausedProcess("proc-stale", "p1", "sess-stale")
	fresh := newPausedProcess("proc-fresh", "p1", "sess-fresh")
	running := &process.Process{ID: "proc-running", ProjectID: "p1", State: "file_created", SessionID: "sess-running"}

	modTimes := &fakeModTimes{times: map[string]time.Time{
		"p1/sess-stale": time.Now().Add(-time.Hour),
		"p1/sess-fresh": time.Now(),
	}}
	aborter := &fakeAborter{}
	registry := &fakeRegistry{procs: []*process.Process{stale, fresh, running}}

	d := New(registry, modTimes, aborter, 10*time.Minute, nil)
	d.scan()

	aborter.mu.Lock()
	defer aborter.mu.Unlock()
	assert.Equal(t, []string{"proc-stale"}, aborter.aborted)
}

func TestScanContinuesPastLookupError(t *testing.T) {
	okProc := newPausedProcess("proc-ok", "p1", "sess-ok")
	errProc := newPausedProcess("proc-err", "p1", "sess-err")

	modTimes := &fakeModTimes{
		times:   map[string]time.Time{"p1/sess-ok": time.Now().Add(-time.Hour)},
		errKeys: map[string]bool{"p1/sess-err": true},
	}
	aborter := &fakeAborter{}
	registry := &fakeRegistry{procs: []*process.Process{errProc, okProc}}

	d := New(registry, modTimes, aborter, time.Minute, nil)
	d.scan()

	aborter.mu.Lock()
	defer aborter.mu.Unlock()
	assert.Contains(t, aborter.aborted, "proc-ok")
}

func TestStartStopRunsImmediateScan(t *testing.T) {
	stale := newPausedProcess("proc-stale", "p1", "sess-stale")
	modTimes := &fakeModTimes{times: map[string]time.Time{"p1/sess-stale": time.Now().Add(-time.Hour)}}
	aborter := &fakeAborter{}
	registry := &fakeRegistry{procs: []*process.Process{stale}}

	d := New(registry, modTimes, aborter, time.Minute, nil)
	d.Start()
	defer d.Stop()

	require.Eventually(t, func() bool {
		aborter.mu.Lock()
		defer aborter.mu.Unlock()
		return len(aborter.aborted) == 1
	}, time.Second, 5*time.Millisecond)
}
