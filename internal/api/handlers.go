// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/agentviewer/core/internal/ids"
	"github.com/agentviewer/core/internal/lifecycle"
	"github.com/agentviewer/core/internal/permission"
	"github.com/agentviewer/core/internal/process"
	"github.com/agentviewer/core/internal/scheduler"
	"github.com/agentviewer/core/internal/sessionrepo"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Dependencies wires the components the HTTP surface fronts. Every
// field is a pointer/interface already constructed by the integration
// layer (C11); handlers never construct their own state.
type Dependencies struct {
	Repo        *sessionrepo.Repository
	Registry    *process.Registry
	Coordinator *lifecycle.Coordinator
	Mediator    *permission.Mediator
	Scheduler   *scheduler.Scheduler
	ClaudeDir   string
	// StartedAt is when the integration layer finished Initialize,
	// used by the health handler to report process uptime.
	StartedAt time.Time
	Log       *zap.Logger
}

type handlers struct {
	deps Dependencies
}

// projectInfo is one entry of GET /api/projects.
type projectInfo struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// listProjects discovers projects as the immediate subdirectories of
// the configured claude journal root, each one a project's journal
// directory (spec.md §6 persistence layout: "<projectDir>/<sessionId>.jsonl").
// No SPEC_FULL.md component maintains a separate project registry, so
// this walks the filesystem directly, the same way sessionrepo derives
// a project's session list from its directory rather than an index.
func (h *handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.deps.ClaudeDir)
	if err != nil {
		if os.IsNotExist(err) {
			WriteJSON(w, http.StatusOK, map[string]interface{}{"projects": []projectInfo{}})
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	projects := make([]projectInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(h.deps.ClaudeDir, e.Name())
		projects = append(projects, projectInfo{
			ID:   ids.EncodeProjectID(path),
			Path: path,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// getProject returns one page of a project's sessions.
func (h *handlers) getProject(w http.ResponseWriter, r *http.Request) {
	pid := mux.Vars(r)["pid"]
	cursor := r.URL.Query().Get("cursor")

	sessions, next, err := h.deps.Repo.GetSessions(pid, cursor, 0)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"project":  projectInfo{ID: pid, Path: ids.DecodeProjectID(pid)},
		"sessions": sessions,
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	WriteJSON(w, http.StatusOK, resp)
}

// getSession returns one session's merged journal, or 404 if its
// journal file does not exist (spec.md §6).
func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pid, sid := vars["pid"], vars["sid"]

	meta, entries, err := h.deps.Repo.GetSession(pid, sid)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	if meta == nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session": map[string]interface{}{
			"id":      sid,
			"meta":    meta,
			"entries": entries,
		},
	})
}

type attachmentDTO struct {
	MediaType string `json:"mediaType"`
	Data      string `json:"data"` // base64
}

type inputDTO struct {
	Text      string          `json:"text"`
	Images    []attachmentDTO `json:"images,omitempty"`
	Documents []attachmentDTO `json:"documents,omitempty"`
}

func (in inputDTO) toUserInput() (lifecycle.UserInput, error) {
	toAttachments := func(dtos []attachmentDTO) ([]lifecycle.Attachment, error) {
		out := make([]lifecycle.Attachment, 0, len(dtos))
		for _, d := range dtos {
			raw, err := base64.StdEncoding.DecodeString(d.Data)
			if err != nil {
				return nil, err
			}
			out = append(out, lifecycle.Attachment{MediaType: d.MediaType, Data: raw})
		}
		return out, nil
	}
	images, err := toAttachments(in.Images)
	if err != nil {
		return lifecycle.UserInput{}, err
	}
	documents, err := toAttachments(in.Documents)
	if err != nil {
		return lifecycle.UserInput{}, err
	}
	return lifecycle.UserInput{Text: in.Text, Images: images, Documents: documents}, nil
}

type createSessionRequest struct {
	Input                  inputDTO `json:"input"`
	BaseSessionID          string   `json:"baseSessionId,omitempty"`
	PermissionModeOverride string   `json:"permissionModeOverride,omitempty"`
}

// createSession starts a new (or --resume'd) session process.
func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	pid := mux.Vars(r)["pid"]

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	input, err := req.Input.toUserInput()
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid attachment encoding")
		return
	}

	projectCwd := ids.DecodeProjectID(pid)
	result, err := h.deps.Coordinator.StartTask(r.Context(), projectCwd, pid, req.BaseSessionID, req.PermissionModeOverride, input)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	sessionID, _ := result.SessionInitialized.Wait(r.Context())
	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionProcess": map[string]interface{}{
			"id":        result.ProcessID,
			"projectId": pid,
			"sessionId": sessionID,
		},
	})
}

type continueSessionRequest struct {
	Input           inputDTO `json:"input"`
	SessionProcessID string  `json:"sessionProcessId"`
}

// continueSession pushes a new turn into a paused process, falling
// back to startTask when the process is unknown or not paused
// (spec.md §6: "200 or falls back to start (returns 201)").
func (h *handlers) continueSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pid, sid := vars["pid"], vars["sid"]

	var req continueSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	input, err := req.Input.toUserInput()
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid attachment encoding")
		return
	}

	result, err := h.deps.Coordinator.ContinueTask(r.Context(), req.SessionProcessID, sid, input)
	if err == nil {
		sessionID, _ := result.SessionInitialized.Wait(r.Context())
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"sessionProcess": map[string]interface{}{
				"id":        result.ProcessID,
				"projectId": pid,
				"sessionId": sessionID,
			},
		})
		return
	}

	projectCwd := ids.DecodeProjectID(pid)
	result, err = h.deps.Coordinator.StartTask(r.Context(), projectCwd, pid, sid, "", input)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	sessionID, _ := result.SessionInitialized.Wait(r.Context())
	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionProcess": map[string]interface{}{
			"id":        result.ProcessID,
			"projectId": pid,
			"sessionId": sessionID,
		},
	})
}

func (h *handlers) stopSessionProcess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.deps.Coordinator.StopTask(id)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
}

func (h *handlers) abortSessionProcess(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.deps.Coordinator.AbortTask(id)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"aborted": true})
}

// respondPermission resolves a pending canUseTool prompt (spec.md §4.7
// step 3: "a resolution call from the HTTP layer (respond(requestId,
// decision))"). Not itemized in spec.md §6's bullet list since that
// list is "shape only", but the mediator has no other way to ever
// receive a decision, so this endpoint is a required supplement.
type respondPermissionRequest struct {
	Allow        bool   `json:"allow"`
	UpdatedInput []byte `json:"updatedInput,omitempty"`
	DenyReason   string `json:"denyReason,omitempty"`
}

func (h *handlers) respondPermission(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]

	var req respondPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}

	ok := h.deps.Mediator.Respond(requestID, permission.Decision{
		Allow:        req.Allow,
		UpdatedInput: req.UpdatedInput,
		DenyReason:   req.DenyReason,
	})
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "no pending permission request with that id")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"resolved": true})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.deps.Scheduler.List()})
}

func (h *handlers) createJob(w http.ResponseWriter, r *http.Request) {
	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	created := h.deps.Scheduler.Add(r.Context(), job)
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"job": created})
}

func (h *handlers) updateJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var job scheduler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body")
		return
	}
	updated, err := h.deps.Scheduler.Update(r.Context(), id, job)
	if err != nil {
		if _, ok := err.(*scheduler.SchedulerJobNotFoundError); ok {
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"job": updated})
}

func (h *handlers) deleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.deps.Scheduler.Delete(id); err != nil {
		if _, ok := err.(*scheduler.SchedulerJobNotFoundError); ok {
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// health is a supplemented liveness/readiness endpoint (SPEC_FULL.md
// SUPPLEMENTED FEATURES): uptime since the integration layer finished
// Initialize, and the count of live (non-completed) session processes,
// in the same vein as the teacher's lightweight status handlers
// (handlers/dashboard.go).
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	live := 0
	for _, p := range h.deps.Registry.List() {
		if p.IsPublic() {
			live++
		}
	}
	uptime := time.Duration(0)
	if !h.deps.StartedAt.IsZero() {
		uptime = time.Since(h.deps.StartedAt)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "ok",
		"uptimeSeconds":       uptime.Seconds(),
		"liveSessionProcesses": live,
	})
}
