// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bus is the concrete event bus. Delivery is synchronous, on the
// emitter's call path, in subscriber-registration order; a panicking
// handler is recovered and logged, never allowed to escape Publish. The
// bus never drops an event — per spec, listeners are expected to be
// bounded and non-blocking, forwarding anything slow to their own
// worker goroutine.
type Bus struct {
	log *zap.Logger

	mu       sync.Mutex
	nextID   uint64
	subs     map[Channel][]*sub
	closed   bool
	stopHB   chan struct{}
	hbWG     sync.WaitGroup
	hbPeriod time.Duration
}

type sub struct {
	id      uint64
	channel Channel
	handler Handler
	live    bool
}

// New creates a Bus and starts its 10s heartbeat publisher, matching the
// spec's fixed heartbeat cadence (§4.1).
func New(log *zap.Logger) *Bus {
	return newWithPeriod(log, 10*time.Second)
}

func newWithPeriod(log *zap.Logger, period time.Duration) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		log:      log.Named("bus"),
		subs:     make(map[Channel][]*sub),
		stopHB:   make(chan struct{}),
		hbPeriod: period,
	}
	b.hbWG.Add(1)
	go b.heartbeatLoop()
	return b
}

func (b *Bus) heartbeatLoop() {
	defer b.hbWG.Done()
	t := time.NewTicker(b.hbPeriod)
	defer t.Stop()
	for {
		select {
		case <-b.stopHB:
			return
		case <-t.C:
			b.Publish(Heartbeat, HeartbeatPayload{})
		}
	}
}

// Publish delivers event synchronously, in FIFO subscriber-registration
// order, to every live subscription on channel.
func (b *Bus) Publish(channel Channel, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	// Snapshot under lock so concurrent Subscribe/Unsubscribe calls
	// during delivery never race the slice being ranged over.
	subs := make([]*sub, 0, len(b.subs[channel]))
	for _, s := range b.subs[channel] {
		if s.live {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	event := Event{Channel: channel, Timestamp: time.Now(), Payload: payload}
	for _, s := range subs {
		b.invoke(s, event)
	}
}

func (b *Bus) invoke(s *sub, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", zap.String("channel", string(event.Channel)), zap.Any("recover", r))
		}
	}()
	s.handler(event)
}

type handle struct {
	b  *Bus
	id uint64
	ch Channel
}

func (h *handle) Cancel() {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	list := h.b.subs[h.ch]
	for i, s := range list {
		if s.id == h.id {
			s.live = false
			h.b.subs[h.ch] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Subscribe registers handler on channel and returns a cancellable
// Subscription. Subscriptions are delivered in the order they were
// registered.
func (b *Bus) Subscribe(channel Channel, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &sub{id: b.nextID, channel: channel, handler: handler, live: true}
	b.subs[channel] = append(b.subs[channel], s)
	return &handle{b: b, id: s.id, ch: channel}
}

// Close stops the heartbeat publisher and detaches all subscriptions.
// Further Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.subs = make(map[Channel][]*sub)
	b.mu.Unlock()

	close(b.stopHB)
	b.hbWG.Wait()
}
