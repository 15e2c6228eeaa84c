// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package permission implements the Permission Mediator (C7): out-of-band
// request/response brokering for the agent's tool-use approval prompts.
package permission

import (
	"context"
	"sync"

	"github.com/agentviewer/core/internal/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision is the HTTP layer's answer to a pending request: allow
// (optionally with edited input) or deny with a reason.
type Decision struct {
	Allow        bool
	UpdatedInput []byte
	DenyReason   string
}

// PermissionRequestedPayload is forwarded to the bus so the SSE layer
// can push it on to the UI. The mediator does not render a prompt
// itself — UI presentation is out of scope (spec.md §1).
type PermissionRequestedPayload struct {
	RequestID   string
	TaskID      string
	ToolName    string
	Input       []byte
	Suggestions []byte
}

type pendingRequest struct {
	taskID   string
	toolName string
	resolve  chan Decision
	cancel   <-chan struct{}
}

// Mediator holds pending permission requests keyed by request id and by
// task id (so a completing task can reject all of its own requests).
type Mediator struct {
	log *zap.Logger
	bus *bus.Bus

	mu        sync.Mutex
	byRequest map[string]*pendingRequest
	byTask    map[string][]string // taskID -> requestIDs
}

// New constructs a Mediator.
func New(b *bus.Bus, log *zap.Logger) *Mediator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mediator{
		log:       log.Named("permission"),
		bus:       b,
		byRequest: make(map[string]*pendingRequest),
		byTask:    make(map[string][]string),
	}
}

// Request mints a request id, records the pending request, emits it on
// the bus, and blocks until Respond is called, cancel fires, or ctx is
// done. On cancellation or ctx cancellation it returns a denial.
func (m *Mediator) Request(ctx context.Context, taskID, toolName string, input, suggestions []byte, cancel <-chan struct{}) Decision {
	reqID := uuid.New().String()
	resolve := make(chan Decision, 1)

	m.mu.Lock()
	m.byRequest[reqID] = &pendingRequest{taskID: taskID, toolName: toolName, resolve: resolve, cancel: cancel}
	m.byTask[taskID] = append(m.byTask[taskID], reqID)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.PermissionRequested, PermissionRequestedPayload{
			RequestID: reqID, TaskID: taskID, ToolName: toolName, Input: input, Suggestions: suggestions,
		})
	}

	defer m.forget(reqID, taskID)

	select {
	case d := <-resolve:
		return d
	case <-cancel:
		return Decision{Allow: false, DenyReason: "aborted"}
	case <-ctx.Done():
		return Decision{Allow: false, DenyReason: "aborted"}
	}
}

// Respond resolves a pending request by id. Returns false if no such
// request is pending (already resolved, cancelled, or unknown).
func (m *Mediator) Respond(requestID string, decision Decision) bool {
	m.mu.Lock()
	req, ok := m.byRequest[requestID]
	if ok {
		delete(m.byRequest, requestID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	req.resolve <- decision
	return true
}

// RejectTask denies every pending request belonging to taskID with
// reason "task ended" (spec.md §4.7: "If the task completes with
// pending requests, reject them all").
func (m *Mediator) RejectTask(taskID string) {
	m.mu.Lock()
	reqIDs := m.byTask[taskID]
	delete(m.byTask, taskID)
	var reqs []*pendingRequest
	for _, id := range reqIDs {
		if req, ok := m.byRequest[id]; ok {
			reqs = append(reqs, req)
			delete(m.byRequest, id)
		}
	}
	m.mu.Unlock()

	for _, req := range reqs {
		req.resolve <- Decision{Allow: false, DenyReason: "task ended"}
	}
}

func (m *Mediator) forget(requestID, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byRequest, requestID)
	reqIDs := m.byTask[taskID]
	for i, id := range reqIDs {
		if id == requestID {
			m.byTask[taskID] = append(reqIDs[:i], reqIDs[i+1:]...)
			break
		}
	}
}
