// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var order []int
	b.Subscribe(SessionChanged, func(Event) { order = append(order, 1) })
	b.Subscribe(SessionChanged, func(Event) { order = append(order, 2) })
	b.Subscribe(SessionChanged, func(Event) { order = append(order, 3) })

	b.Publish(SessionChanged, SessionChangedPayload{ProjectID: "p", SessionID: "s"})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	defer b.Close()

	calls := 0
	sub := b.Subscribe(SessionChanged, func(Event) { calls++ })
	b.Publish(SessionChanged, SessionChangedPayload{})
	sub.Cancel()
	b.Publish(SessionChanged, SessionChangedPayload{})

	assert.Equal(t, 1, calls)
}

func TestPanickingHandlerDoesNotStopOtherSubscribers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	second := false
	b.Subscribe(SessionChanged, func(Event) { panic("boom") })
	b.Subscribe(SessionChanged, func(Event) { second = true })

	require.NotPanics(t, func() {
		b.Publish(SessionChanged, SessionChangedPayload{})
	})
	assert.True(t, second)
}

func TestChannelIsolation(t *testing.T) {
	b := New(nil)
	defer b.Close()

	calls := 0
	b.Subscribe(SessionListChanged, func(Event) { calls++ })
	b.Publish(SessionChanged, SessionChangedPayload{})

	assert.Equal(t, 0, calls)
}

func TestHeartbeatFiresPeriodically(t *testing.T) {
	b := newWithPeriod(nil, 10*time.Millisecond)
	defer b.Close()

	done := make(chan struct{})
	b.Subscribe(Heartbeat, func(Event) { close(done) })

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("heartbeat never fired")
	}
}
