// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package process implements the Session Process Registry (C5): the
// tagged-union state machine per live agent subprocess, with strict
// transition validation and change notification via the bus.
package process

import "fmt"

// State is the process's tag. Represented as a sum type via this enum
// plus the payload fields carried on Process itself (per-variant
// fields live directly on the struct rather than in a separate payload
// type, since Go has no native sealed-interface-with-payload sugar and
// the teacher's own Session struct takes the same approach).
type State string

const (
	StatePending        State = "pending"
	StateNotInitialized State = "not_initialized"
	StateInitialized    State = "initialized"
	StateFileCreated    State = "file_created"
	StatePaused         State = "paused"
	StateCompleted      State = "completed"
)

// IllegalStateChangeError is returned when a transition is attempted
// from a state that does not permit it.
type IllegalStateChangeError struct {
	From State
	To   State
}

func (e *IllegalStateChangeError) Error() string {
	return fmt.Sprintf("illegal state change: %s -> %s", e.From, e.To)
}

// SessionProcessNotPausedError is returned by Continue when the target
// process is not paused.
type SessionProcessNotPausedError struct {
	ProcessID string
}

func (e *SessionProcessNotPausedError) Error() string {
	return fmt.Sprintf("session process %s is not paused", e.ProcessID)
}

// SessionProcessAlreadyAliveError is returned by Continue when the
// target process already has a pending/running task.
type SessionProcessAlreadyAliveError struct {
	ProcessID string
}

func (e *SessionProcessAlreadyAliveError) Error() string {
	return fmt.Sprintf("session process %s already has a live task", e.ProcessID)
}

// TaskDefKind distinguishes the three ways a task can be defined.
type TaskDefKind string

const (
	TaskNew      TaskDefKind = "new"
	TaskResume   TaskDefKind = "resume"
	TaskContinue TaskDefKind = "continue"
)

// TaskDef describes how a task's underlying session is determined.
type TaskDef struct {
	Kind           TaskDefKind
	SessionID      string // continue only
	BaseSessionID  string // resume / continue
	PermissionMode string
}

// TaskStatus is a task's lifecycle tag.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one user turn within a session process.
type Task struct {
	ID     string
	Def    TaskDef
	Status TaskStatus
	Error  string

	// sawAssistant records whether an assistant message has been
	// observed for this task. It is the structural discriminator for
	// the initialized->paused "local command" transition (spec.md §9
	// Open Question): no field on the result message says "this was a
	// local command", so the coordinator infers it from the absence of
	// an intervening assistant message instead.
	sawAssistant bool
}

// Process is a live (or about to be live) session process.
type Process struct {
	ID        string
	ProjectID string
	SessionID string // confirmed session id once known; empty until init

	State State
	Tasks []Task // currentTask is the last non-terminal one

	PermissionMode string
}

// CurrentTask returns the process's current task: the latest task whose
// status is pending or running, per spec.md §3 invariant I2. Returns
// nil if none (e.g. process is paused or completed).
func (p *Process) CurrentTask() *Task {
	for i := len(p.Tasks) - 1; i >= 0; i-- {
		if p.Tasks[i].Status == TaskPending || p.Tasks[i].Status == TaskRunning {
			return &p.Tasks[i]
		}
	}
	return nil
}

// PublicSessionID is the session id exposed to observers, per spec.md
// §4.5: confirmed id when known, else derived from the current task's
// definition, else empty.
func (p *Process) PublicSessionID() string {
	switch p.State {
	case StatePaused, StateInitialized, StateFileCreated:
		return p.SessionID
	default:
		t := p.CurrentTask()
		if t == nil {
			return ""
		}
		switch t.Def.Kind {
		case TaskContinue:
			return t.Def.SessionID
		case TaskResume:
			return t.Def.BaseSessionID
		default:
			return ""
		}
	}
}

// PublicStatus derives the UI-facing status string for a process, per
// spec.md §4.5.
func (p *Process) PublicStatus() string {
	switch p.State {
	case StatePaused:
		return "paused"
	case StateInitialized, StateFileCreated:
		return "running"
	case StatePending, StateNotInitialized:
		if len(p.Tasks) > 1 {
			return "pending"
		}
		return "starting"
	default:
		return ""
	}
}

// IsPublic reports whether the process should be projected to
// observers: every non-completed state.
func (p *Process) IsPublic() bool {
	return p.State != StateCompleted
}
