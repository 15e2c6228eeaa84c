// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bus implements the core's typed in-process event bus (C1):
// synchronous, ordered fan-out to in-process listeners, the single
// mechanism every other component uses to observe state it does not own.
package bus

import "time"

// Channel identifies one of the fixed set of event channels the bus
// carries. Unlike a generic pub/sub with free-form topic strings, the
// core only ever needs this closed set, so the channel is a typed enum
// rather than a pattern-matched string.
type Channel string

const (
	SessionListChanged    Channel = "sessionListChanged"
	SessionChanged        Channel = "sessionChanged"
	AgentSessionChanged   Channel = "agentSessionChanged"
	SessionProcessChanged Channel = "sessionProcessChanged"
	SchedulerJobsChanged  Channel = "schedulerJobsChanged"
	Heartbeat             Channel = "heartbeat"

	// PermissionRequested carries C7's out-of-band tool-approval
	// requests to the SSE layer (spec.md §4.7: "Emits a bus event the
	// SSE layer forwards to the UI"); it is not in the §4.1 channel
	// table because permission requests are introduced in §4.7, but it
	// is carried by the same typed bus rather than a separate mechanism.
	PermissionRequested Channel = "permissionRequested"
)

// Event is the envelope delivered to subscribers. Payload is one of the
// *Payload structs below depending on Channel.
type Event struct {
	Channel   Channel
	Timestamp time.Time
	Payload   any
}

// SessionListChangedPayload is carried on the SessionListChanged channel.
type SessionListChangedPayload struct {
	ProjectID string
}

// SessionChangedPayload is carried on the SessionChanged channel.
type SessionChangedPayload struct {
	ProjectID string
	SessionID string
}

// AgentSessionChangedPayload is carried on the AgentSessionChanged channel.
type AgentSessionChangedPayload struct {
	ProjectID      string
	AgentSessionID string
}

// PublicProcess is the projection of a session process exposed to
// observers: everything except completed processes, shaped for the UI.
type PublicProcess struct {
	ID             string
	ProjectID      string
	SessionID      string // empty if not yet known
	Status         string // starting | pending | running | paused
	PermissionMode string
}

// SessionProcessChangedPayload is carried on the SessionProcessChanged
// channel: a snapshot of every public process plus the one that just
// transitioned.
type SessionProcessChangedPayload struct {
	Processes []PublicProcess
	Changed   PublicProcess
}

// SchedulerJobsChangedPayload is carried on the SchedulerJobsChanged
// channel. DeletedJobID is empty when the change was not a deletion.
type SchedulerJobsChangedPayload struct {
	DeletedJobID string
}

// HeartbeatPayload is carried on the Heartbeat channel; it has no data.
type HeartbeatPayload struct{}

// Handler is invoked synchronously for every event on a channel it
// subscribed to. Handlers must not block for long: the spec requires
// bounded non-blocking work, forwarding anything slow to its own worker.
type Handler func(Event)

// Subscription is returned by Subscribe; Cancel detaches the handler.
// After Cancel returns, no further invocations occur for that handler.
type Subscription interface {
	Cancel()
}
