// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestResolvedByRespond(t *testing.T) {
	m := New(nil, nil)
	cancel := make(chan struct{})

	var decision Decision
	done := make(chan struct{})
	go func() {
		decision = m.Request(context.Background(), "task1", "bash", nil, nil, cancel)
		close(done)
	}()

	// Wait until the request is recorded, then respond.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.byRequest) == 1
	}, time.Second, time.Millisecond)

	var reqID string
	m.mu.Lock()
	for id := range m.byRequest {
		reqID = id
	}
	m.mu.Unlock()

	assert.True(t, m.Respond(reqID, Decision{Allow: true}))
	<-done
	assert.True(t, decision.Allow)
}

func TestRequestCancelledReturnsDeny(t *testing.T) {
	m := New(nil, nil)
	cancel := make(chan struct{})
	close(cancel)

	decision := m.Request(context.Background(), "task1", "bash", nil, nil, cancel)
	assert.False(t, decision.Allow)
	assert.Equal(t, "aborted", decision.DenyReason)
}

func TestRejectTaskDeniesAllPending(t *testing.T) {
	m := New(nil, nil)
	cancel := make(chan struct{})

	results := make(chan Decision, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- m.Request(context.Background(), "task1", "bash", nil, nil, cancel)
		}()
	}

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.byTask["task1"]) == 2
	}, time.Second, time.Millisecond)

	m.RejectTask("task1")

	for i := 0; i < 2; i++ {
		d := <-results
		assert.False(t, d.Allow)
		assert.Equal(t, "task ended", d.DenyReason)
	}
}

func TestRespondUnknownRequestReturnsFalse(t *testing.T) {
	m := New(nil, nil)
	assert.False(t, m.Respond("nonexistent", Decision{Allow: true}))
}
