// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentviewer/core/internal/bus"
	"github.com/agentviewer/core/internal/ids"
	"github.com/agentviewer/core/internal/lifecycle"
	"github.com/agentviewer/core/internal/overlay"
	"github.com/agentviewer/core/internal/permission"
	"github.com/agentviewer/core/internal/process"
	"github.com/agentviewer/core/internal/scheduler"
	"github.com/agentviewer/core/internal/sessionrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubprocess is a minimal scripted Subprocess, mirroring the one
// internal/lifecycle's own tests use, so the HTTP layer can be
// exercised against a real Coordinator without a real agent binary.
type fakeSubprocess struct {
	messages chan lifecycle.StreamMessage
	permReqs chan *lifecycle.PermissionRequest
	// onSend, if set, is emitted on messages when the first user turn
	// is sent, the way a real agent answers its first input with init.
	onSend *lifecycle.StreamMessage
}

func newFakeSubprocess() *fakeSubprocess {
	return &fakeSubprocess{
		messages: make(chan lifecycle.StreamMessage, 8),
		permReqs: make(chan *lifecycle.PermissionRequest, 1),
	}
}

func (f *fakeSubprocess) Send(ctx context.Context, input lifecycle.UserInput) error {
	if f.onSend != nil {
		f.messages <- *f.onSend
		f.onSend = nil
	}
	return nil
}
func (f *fakeSubprocess) Messages() <-chan lifecycle.StreamMessage                  { return f.messages }
func (f *fakeSubprocess) PermissionRequests() <-chan *lifecycle.PermissionRequest   { return f.permReqs }
func (f *fakeSubprocess) Err() error                                               { return nil }
func (f *fakeSubprocess) Abort()                                                   { close(f.messages); close(f.permReqs) }

type fakeSpawner struct{ sub *fakeSubprocess }

func (s *fakeSpawner) Spawn(ctx context.Context, cfg lifecycle.SpawnConfig) (lifecycle.Subprocess, error) {
	return s.sub, nil
}

func newTestDeps(t *testing.T, sub *fakeSubprocess) (Dependencies, *bus.Bus, string) {
	claudeDir := t.TempDir()
	b := bus.New(nil)
	ov := overlay.New()
	repo := sessionrepo.New(ov, b, filepath.Join(t.TempDir(), "cache"), nil)
	reg := process.NewRegistry(b, nil)
	med := permission.New(b, nil)
	coord := lifecycle.New(b, reg, ov, med, &fakeSpawner{sub: sub}, nil)
	coord.SetHistoryReader(repo)
	sched := scheduler.New(filepath.Join(t.TempDir(), "scheduler.json"), b, coord, nil)

	return Dependencies{
		Repo:        repo,
		Registry:    reg,
		Coordinator: coord,
		Mediator:    med,
		Scheduler:   sched,
		ClaudeDir:   claudeDir,
		Log:         nil,
	}, b, claudeDir
}

func TestListProjectsReflectsClaudeDirSubdirectories(t *testing.T) {
	deps, b, claudeDir := newTestDeps(t, newFakeSubprocess())
	require.NoError(t, os.MkdirAll(filepath.Join(claudeDir, "-S-home-S-me-S-proj"), 0755))

	r := NewRouter(ServerConfig{}, deps, b)
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	projects := data["projects"].([]interface{})
	require.Len(t, projects, 1)
}

func TestCreateSessionReturns201WithSessionID(t *testing.T) {
	sub := newFakeSubprocess()
	deps, b, claudeDir := newTestDeps(t, sub)
	projectPath := filepath.Join(claudeDir, "proj")
	pid := ids.EncodeProjectID(projectPath)

	sub.onSend = &lifecycle.StreamMessage{Type: "system", Subtype: "init", SessionID: "S1"}

	r := NewRouter(ServerConfig{}, deps, b)
	body, _ := json.Marshal(map[string]interface{}{"input": map[string]string{"text": "hello"}})
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+pid+"/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	sp := data["sessionProcess"].(map[string]interface{})
	assert.Equal(t, "S1", sp["sessionId"])
	assert.Equal(t, pid, sp["projectId"])
}

func TestGetSessionReturns404WhenJournalMissing(t *testing.T) {
	deps, b, claudeDir := newTestDeps(t, newFakeSubprocess())
	projectPath := filepath.Join(claudeDir, "proj")
	require.NoError(t, os.MkdirAll(projectPath, 0755))
	pid := ids.EncodeProjectID(projectPath)

	r := NewRouter(ServerConfig{}, deps, b)
	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+pid+"/sessions/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopAndAbortSessionProcessReturn200(t *testing.T) {
	deps, b, _ := newTestDeps(t, newFakeSubprocess())
	r := NewRouter(ServerConfig{}, deps, b)

	for _, path := range []string{"/api/sessionProcesses/unknown-id/stop", "/api/sessionProcesses/unknown-id/abort"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSchedulerJobCRUD(t *testing.T) {
	deps, b, _ := newTestDeps(t, newFakeSubprocess())
	r := NewRouter(ServerConfig{}, deps, b)

	at, err := time.Parse(time.RFC3339, "2026-08-01T00:00:00Z")
	require.NoError(t, err)
	createBody, _ := json.Marshal(scheduler.Job{
		Name: "nightly",
		Schedule: scheduler.Schedule{
			Kind: scheduler.ScheduleReserved,
			At:   at,
		},
		Message: scheduler.Message{Content: "hi", ProjectID: "p1", ProjectCwd: "/p1"},
		Enabled: false,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/scheduler/jobs", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	job := created.Data.(map[string]interface{})["job"].(map[string]interface{})
	id := job["id"].(string)

	req = httptest.NewRequest(http.MethodGet, "/api/scheduler/jobs", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/scheduler/jobs/"+id, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/scheduler/jobs/"+id, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
