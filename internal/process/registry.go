// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"sync"

	"github.com/agentviewer/core/internal/bus"
	"github.com/agentviewer/core/internal/ids"
	"go.uber.org/zap"
)

// Registry holds every live session process and enforces legal
// transitions (spec.md §4.5). All mutation is serialized through mu,
// matching the "internal mutation is serialized" requirement.
type Registry struct {
	mu  sync.Mutex
	log *zap.Logger
	bus *bus.Bus

	processes map[string]*Process
	byTask    map[string]string // taskID -> processID
}

// NewRegistry constructs a Registry wired to bus for change
// notification.
func NewRegistry(b *bus.Bus, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:       log.Named("process"),
		bus:       b,
		processes: make(map[string]*Process),
		byTask:    make(map[string]string),
	}
}

// Start creates a new process in pending state with a pending task.
func (r *Registry) Start(projectID string, def TaskDef) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	taskID := ids.NewTaskID()
	p := &Process{
		ID:             ids.NewSessionProcessID(),
		ProjectID:      projectID,
		State:          StatePending,
		PermissionMode: def.PermissionMode,
		Tasks: []Task{{
			ID:     taskID,
			Def:    def,
			Status: TaskPending,
		}},
	}
	r.processes[p.ID] = p
	r.byTask[taskID] = p.ID
	r.emit(p)
	return p
}

// Continue appends a new pending task to a paused process and
// transitions it back to pending.
func (r *Registry) Continue(processID string, def TaskDef) (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processes[processID]
	if !ok {
		return nil, &SessionProcessNotPausedError{ProcessID: processID}
	}
	if p.State != StatePaused {
		return nil, &SessionProcessNotPausedError{ProcessID: processID}
	}
	if p.CurrentTask() != nil {
		return nil, &SessionProcessAlreadyAliveError{ProcessID: processID}
	}

	taskID := ids.NewTaskID()
	p.Tasks = append(p.Tasks, Task{ID: taskID, Def: def, Status: TaskPending})
	p.State = StatePending
	r.byTask[taskID] = p.ID
	r.emit(p)
	return p, nil
}

// GetByID returns the process with id, or nil.
func (r *Registry) GetByID(id string) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processes[id]
}

// List returns every process, public and terminal alike.
func (r *Registry) List() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Process, 0, len(r.processes))
	for _, p := range r.processes {
		out = append(out, p)
	}
	return out
}

// GetTask resolves a task id to its owning process and the task itself.
func (r *Registry) GetTask(taskID string) (*Process, *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid, ok := r.byTask[taskID]
	if !ok {
		return nil, nil
	}
	p := r.processes[pid]
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			return p, &p.Tasks[i]
		}
	}
	return p, nil
}

func (r *Registry) transition(processID string, from []State, to State) (*Process, error) {
	p, ok := r.processes[processID]
	if !ok {
		return nil, nil // unknown id: silent no-op per spec.md §7
	}
	for _, f := range from {
		if p.State == f {
			p.State = to
			return p, nil
		}
	}
	return nil, &IllegalStateChangeError{From: p.State, To: to}
}

// ToNotInitialized transitions pending -> not_initialized.
func (r *Registry) ToNotInitialized(processID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.transition(processID, []State{StatePending}, StateNotInitialized)
	if err != nil || p == nil {
		return err
	}
	r.emit(p)
	return nil
}

// ToInitialized transitions not_initialized -> initialized, recording
// the confirmed session id from the agent's init message.
func (r *Registry) ToInitialized(processID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.transition(processID, []State{StateNotInitialized}, StateInitialized)
	if err != nil || p == nil {
		return err
	}
	p.SessionID = sessionID
	r.emit(p)
	return nil
}

// ToFileCreated transitions initialized -> file_created, marking the
// current task as having seen its first assistant message.
func (r *Registry) ToFileCreated(processID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.transition(processID, []State{StateInitialized}, StateFileCreated)
	if err != nil || p == nil {
		return err
	}
	if t := p.CurrentTask(); t != nil {
		t.sawAssistant = true
	}
	r.emit(p)
	return nil
}

// ToPaused transitions to paused. Per spec.md §4.5 this accepts both
// file_created (the normal path) and initialized (the "local command"
// path that skips assistant output entirely).
func (r *Registry) ToPaused(processID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.transition(processID, []State{StateFileCreated, StateInitialized}, StatePaused)
	if err != nil || p == nil {
		return err
	}
	if t := p.CurrentTask(); t != nil {
		t.Status = TaskCompleted
	}
	r.emit(p)
	return nil
}

// ToCompleted transitions any state to completed. Idempotent: already
// being completed, or an unknown id, is a silent no-op. If errMsg is
// non-empty the current task is marked failed with that message;
// otherwise it is marked completed.
func (r *Registry) ToCompleted(processID string, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[processID]
	if !ok || p.State == StateCompleted {
		return nil
	}
	if t := p.CurrentTask(); t != nil {
		if errMsg != "" {
			t.Status = TaskFailed
			t.Error = errMsg
		} else if t.Status != TaskCompleted {
			t.Status = TaskCompleted
		}
	}
	p.State = StateCompleted
	r.emit(p)
	return nil
}

// ChangeTaskState updates a task's status directly (used for non-fatal
// per-message errors during iteration: spec.md §4.6 step 5).
func (r *Registry) ChangeTaskState(processID, taskID string, status TaskStatus, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[processID]
	if !ok {
		return
	}
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			p.Tasks[i].Status = status
			p.Tasks[i].Error = errMsg
			return
		}
	}
}

// SawAssistant reports whether the process's current task has observed
// an assistant message, used by the lifecycle coordinator to decide
// whether a result message should trigger file_created first.
func (r *Registry) SawAssistant(processID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[processID]
	if !ok {
		return false
	}
	t := p.CurrentTask()
	return t != nil && t.sawAssistant
}

func (r *Registry) publicSnapshotLocked() []bus.PublicProcess {
	out := make([]bus.PublicProcess, 0, len(r.processes))
	for _, p := range r.processes {
		if !p.IsPublic() {
			continue
		}
		out = append(out, projectPublic(p))
	}
	return out
}

func projectPublic(p *Process) bus.PublicProcess {
	return bus.PublicProcess{
		ID:             p.ID,
		ProjectID:      p.ProjectID,
		SessionID:      p.PublicSessionID(),
		Status:         p.PublicStatus(),
		PermissionMode: p.PermissionMode,
	}
}

// emit publishes sessionProcessChanged with a snapshot of all public
// processes plus the one that just transitioned, even if that one is
// no longer public (e.g. it just transitioned to completed).
func (r *Registry) emit(p *Process) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.SessionProcessChanged, bus.SessionProcessChangedPayload{
		Processes: r.publicSnapshotLocked(),
		Changed:   projectPublic(p),
	})
}
