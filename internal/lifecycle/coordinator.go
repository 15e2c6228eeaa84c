// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentviewer/core/internal/bus"
	"github.com/agentviewer/core/internal/ids"
	"github.com/agentviewer/core/internal/journal"
	"github.com/agentviewer/core/internal/overlay"
	"github.com/agentviewer/core/internal/permission"
	"github.com/agentviewer/core/internal/process"
	"go.uber.org/zap"
)

// Future resolves once with either a session id or an error. It backs
// the two promises startTask returns per spec.md §4.6 step 7.
type Future struct {
	done      chan struct{}
	once      sync.Once
	sessionID string
	err       error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(sessionID string, err error) {
	f.once.Do(func() {
		f.sessionID = sessionID
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.sessionID, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// StartResult is returned by StartTask.
type StartResult struct {
	ProcessID          string
	SessionInitialized *Future
	SessionFileCreated *Future
}

// Coordinator implements the Lifecycle Coordinator (C6).
type Coordinator struct {
	log      *zap.Logger
	bus      *bus.Bus
	registry *process.Registry
	overlay  *overlay.Store
	mediator *permission.Mediator
	spawner  Spawner

	mu         sync.Mutex
	procs      map[string]Subprocess
	generators map[string]*messageGenerator
	initFut    map[string]*Future
	fcFut      map[string]*Future
	lastInput  map[string]UserInput

	// history is consulted on resume to seed the overlay with a copy of
	// the prior conversation (spec.md §4.6 step 5, "init": "for resume:
	// copy existing conversations + append"). Optional: nil means
	// resumed sessions only get the new turn, not the full history
	// copy, which is acceptable degraded behavior rather than a crash.
	history HistoryReader
}

// HistoryReader is the read-only slice of the Session Repository the
// coordinator needs to hydrate a resumed session's overlay.
type HistoryReader interface {
	GetEntries(projectID, sessionID string) ([]journal.Entry, error)
}

// SetHistoryReader wires the Session Repository in after construction,
// avoiding an import cycle (sessionrepo also depends on overlay).
func (c *Coordinator) SetHistoryReader(h HistoryReader) {
	c.history = h
}

// New constructs a Coordinator.
func New(b *bus.Bus, registry *process.Registry, ov *overlay.Store, mediator *permission.Mediator, spawner Spawner, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		log:        log.Named("lifecycle"),
		bus:        b,
		registry:   registry,
		overlay:    ov,
		mediator:   mediator,
		spawner:    spawner,
		procs:      make(map[string]Subprocess),
		generators: make(map[string]*messageGenerator),
		initFut:    make(map[string]*Future),
		fcFut:      make(map[string]*Future),
		lastInput:  make(map[string]UserInput),
	}
}

// StartTask spawns a brand-new agent subprocess (or a --resume of
// baseSessionID) and kicks off input as its first task (spec.md §4.6).
func (c *Coordinator) StartTask(ctx context.Context, projectCwd, projectID, baseSessionID, permissionMode string, input UserInput) (*StartResult, error) {
	kind := process.TaskNew
	if baseSessionID != "" {
		kind = process.TaskResume
	}
	p := c.registry.Start(projectID, process.TaskDef{
		Kind:           kind,
		BaseSessionID:  baseSessionID,
		PermissionMode: permissionMode,
	})

	sub, err := c.spawner.Spawn(ctx, SpawnConfig{
		ProjectCwd:     projectCwd,
		BaseSessionID:  baseSessionID,
		PermissionMode: permissionMode,
		SupportsCanUse: c.mediator != nil,
		ProcessID:      p.ID,
	})
	if err != nil {
		c.registry.ToCompleted(p.ID, err.Error())
		return nil, fmt.Errorf("spawn agent subprocess: %w", err)
	}

	gen := newMessageGenerator()
	initFut, fcFut := newFuture(), newFuture()

	c.mu.Lock()
	c.procs[p.ID] = sub
	c.generators[p.ID] = gen
	c.initFut[p.ID] = initFut
	c.fcFut[p.ID] = fcFut
	c.mu.Unlock()

	go c.pump(ctx, p.ID, gen, sub)
	go c.readMessages(p.ID, sub)
	if c.mediator != nil {
		go c.forwardPermissionRequests(p.ID, sub)
	}

	if err := gen.setNextMessage(ctx, input); err != nil {
		return nil, err
	}

	return &StartResult{ProcessID: p.ID, SessionInitialized: initFut, SessionFileCreated: fcFut}, nil
}

// ContinueTask pushes a new user turn into an already-paused process's
// still-alive subprocess (spec.md §4.6). Callers must fall back to
// StartTask when processID is unknown (e.g. after a restart); that
// policy lives in the HTTP controller, not here (spec.md §4.6, §6).
func (c *Coordinator) ContinueTask(ctx context.Context, processID, baseSessionID string, input UserInput) (*StartResult, error) {
	p, err := c.registry.Continue(processID, process.TaskDef{
		Kind:          process.TaskContinue,
		SessionID:     baseSessionID,
		BaseSessionID: baseSessionID,
	})
	if err != nil {
		return nil, err
	}

	entry := userEntry(baseSessionID, input)
	c.overlay.Append(p.ProjectID, baseSessionID, []journal.Entry{entry})

	c.mu.Lock()
	gen, ok := c.generators[processID]
	initFut, fcFut := newFuture(), newFuture()
	if ok {
		c.initFut[processID] = initFut
		c.fcFut[processID] = fcFut
	}
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no live subprocess for process %s", processID)
	}

	if err := gen.setNextMessage(ctx, input); err != nil {
		return nil, err
	}

	return &StartResult{ProcessID: processID, SessionInitialized: initFut, SessionFileCreated: fcFut}, nil
}

// StopTask aborts the subprocess and marks the current task completed
// (not failed), per spec.md §4.6.
func (c *Coordinator) StopTask(processID string) {
	c.abort(processID)
	c.registry.ToCompleted(processID, "")
}

// AbortTask aborts the subprocess and marks the current task failed
// with "Task aborted", per spec.md §4.6.
func (c *Coordinator) AbortTask(processID string) {
	if p := c.registry.GetByID(processID); p != nil && c.mediator != nil {
		if task := p.CurrentTask(); task != nil {
			c.mediator.RejectTask(task.ID)
		}
	}
	c.abort(processID)
	c.registry.ToCompleted(processID, "Task aborted")
}

func (c *Coordinator) abort(processID string) {
	c.mu.Lock()
	sub := c.procs[processID]
	c.mu.Unlock()
	if sub != nil {
		sub.Abort()
	}
}

// pump forwards generator pulls into the subprocess's stdin and steps
// pending -> not_initialized the instant each is consumed.
func (c *Coordinator) pump(ctx context.Context, processID string, gen *messageGenerator, sub Subprocess) {
	for {
		input, ok := gen.pull(ctx)
		if !ok {
			return
		}
		c.mu.Lock()
		c.lastInput[processID] = input
		c.mu.Unlock()
		c.registry.ToNotInitialized(processID)
		if err := sub.Send(ctx, input); err != nil {
			c.log.Warn("failed to send user turn to subprocess", zap.String("process_id", processID), zap.Error(err))
			return
		}
	}
}

// readMessages is the background worker that iterates the subprocess's
// outbound stream for its entire lifetime, stepping the state machine
// on each message (spec.md §4.6 step 5) and resolving the current
// task's futures. It returns (and transitions the process to
// completed) only once the subprocess's Messages channel closes.
func (c *Coordinator) readMessages(processID string, sub Subprocess) {
	defer func() {
		errMsg := ""
		if err := sub.Err(); err != nil {
			errMsg = err.Error()
		}
		c.registry.ToCompleted(processID, errMsg)
		c.cleanup(processID)
	}()

	for msg := range sub.Messages() {
		p := c.registry.GetByID(processID)
		if p == nil || p.State == process.StateCompleted {
			continue
		}

		switch msg.Type {
		case "system":
			if msg.Subtype == "init" {
				c.handleInit(processID, p, msg)
			}
		case "assistant":
			c.handleAssistant(processID, p, msg)
		case "result":
			c.handleResult(processID, p, msg)
		}
	}
}

func (c *Coordinator) handleInit(processID string, p *process.Process, msg StreamMessage) {
	if err := c.registry.ToInitialized(processID, msg.SessionID); err != nil {
		c.log.Info("ignoring init on non-not_initialized process", zap.Error(err))
		return
	}

	c.mu.Lock()
	fut := c.initFut[processID]
	c.mu.Unlock()
	if fut != nil {
		fut.resolve(msg.SessionID, nil)
	}

	task := p.CurrentTask()
	if task != nil {
		c.mu.Lock()
		input := c.lastInput[processID]
		c.mu.Unlock()
		entry := userEntry(msg.SessionID, input)

		switch task.Def.Kind {
		case process.TaskResume:
			var prior []journal.Entry
			if c.history != nil {
				prior, _ = c.history.GetEntries(p.ProjectID, task.Def.BaseSessionID)
			}
			c.overlay.Create(p.ProjectID, msg.SessionID, append(append([]journal.Entry{}, prior...), entry))
		case process.TaskContinue:
			// continueTask already appended its own overlay entry
			// before the generator was pushed; nothing more to do here.
		default:
			c.overlay.Create(p.ProjectID, msg.SessionID, []journal.Entry{entry})
		}
	}

	c.bus.Publish(bus.SessionListChanged, bus.SessionListChangedPayload{ProjectID: p.ProjectID})
	c.bus.Publish(bus.SessionChanged, bus.SessionChangedPayload{ProjectID: p.ProjectID, SessionID: msg.SessionID})
}

func (c *Coordinator) handleAssistant(processID string, p *process.Process, msg StreamMessage) {
	if c.registry.SawAssistant(processID) {
		return
	}
	if err := c.registry.ToFileCreated(processID); err != nil {
		return
	}
	c.overlay.Delete(p.SessionID)
}

func (c *Coordinator) handleResult(processID string, p *process.Process, msg StreamMessage) {
	sawAssistant := c.registry.SawAssistant(processID)
	if err := c.registry.ToPaused(processID); err != nil {
		c.log.Warn("result message on process not eligible for pause", zap.Error(err))
		return
	}
	if !sawAssistant {
		// "local command" path (spec.md §9 Open Question): no assistant
		// message was observed, so file_created never fired and the
		// overlay still needs clearing here.
		c.overlay.Delete(p.SessionID)
	}

	c.mu.Lock()
	fcFut := c.fcFut[processID]
	c.mu.Unlock()
	if fcFut != nil {
		fcFut.resolve(p.SessionID, nil)
	}

	c.bus.Publish(bus.SessionChanged, bus.SessionChangedPayload{ProjectID: p.ProjectID, SessionID: p.SessionID})
}

func (c *Coordinator) forwardPermissionRequests(processID string, sub Subprocess) {
	for req := range sub.PermissionRequests() {
		p := c.registry.GetByID(processID)
		taskID := ""
		if p != nil {
			if t := p.CurrentTask(); t != nil {
				taskID = t.ID
			}
		}
		decision := c.mediator.Request(context.Background(), taskID, req.ToolName, req.Input, req.Suggestions, req.Cancel)
		req.Resolved <- PermissionDecision{
			Allow:         decision.Allow,
			UpdatedInput:  decision.UpdatedInput,
			DenialMessage: decision.DenyReason,
		}
	}
}

func (c *Coordinator) cleanup(processID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.procs, processID)
	delete(c.generators, processID)
	delete(c.initFut, processID)
	delete(c.fcFut, processID)
	delete(c.lastInput, processID)
}

func userEntry(sessionID string, input UserInput) journal.Entry {
	return userEntryFromText(sessionID, input.Text)
}

func userEntryFromText(sessionID, text string) journal.Entry {
	block, _ := json.Marshal(map[string]string{"type": "text", "text": text})
	msg := &journal.Message{Content: []json.RawMessage{block}}
	return journal.Entry{
		Type:      journal.VariantUser,
		UUID:      ids.NewEntryUUID(),
		SessionID: sessionID,
		Message:   msg,
	}
}
