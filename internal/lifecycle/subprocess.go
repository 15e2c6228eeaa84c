// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"

	"github.com/agentviewer/core/internal/journal"
)

// StreamMessage is one message in the agent subprocess's outbound
// stream (spec.md §6, "Agent subprocess protocol").
type StreamMessage struct {
	Type      string // system | assistant | result | user
	Subtype   string // e.g. "init" for system messages
	SessionID string
	Message   *journal.Message
	IsError   bool
	Error     string
}

// PermissionRequest is raised by a subprocess mid-stream when the agent
// calls its optional canUseTool callback. The subprocess blocks on
// Resolved until the mediator (C7) answers.
type PermissionRequest struct {
	ToolName    string
	Input       []byte
	Suggestions []byte
	Resolved    chan PermissionDecision
	Cancel      <-chan struct{}
}

// PermissionDecision is the mediator's answer to a PermissionRequest.
type PermissionDecision struct {
	Allow         bool
	UpdatedInput  []byte
	DenialMessage string
}

// SpawnConfig parameterizes a new agent subprocess.
type SpawnConfig struct {
	ProjectCwd     string
	BaseSessionID  string // resume target, empty for a brand new session
	PermissionMode string
	SupportsCanUse bool // whether to attach the stdio permission callback

	// ProcessID is the session process registry id this subprocess
	// belongs to. ExecSpawner uses it to name the pidfile it writes
	// for startup reconciliation (internal/reconcile).
	ProcessID string
}

// Subprocess is a live agent subprocess: duplex NDJSON stream plus an
// optional permission-request side channel.
type Subprocess interface {
	// Send pushes one user turn into the subprocess's stdin.
	Send(ctx context.Context, input UserInput) error
	// Messages is closed when the subprocess exits (cleanly or not).
	Messages() <-chan StreamMessage
	// PermissionRequests carries canUseTool callbacks, if the
	// subprocess was spawned with SupportsCanUse. Closed alongside
	// Messages.
	PermissionRequests() <-chan *PermissionRequest
	// Err reports the terminal error once Messages is closed, or nil
	// on a clean exit.
	Err() error
	// Abort kills the subprocess. Idempotent.
	Abort()
}

// Spawner creates Subprocesses. The real implementation shells out to
// the agent binary (see exec.go); tests substitute a fake driven by a
// scripted message sequence.
type Spawner interface {
	Spawn(ctx context.Context, cfg SpawnConfig) (Subprocess, error)
}
