// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agentviewer/core/internal/bus"
	"go.uber.org/zap"
)

// sseChannels is the fixed set of bus channels a connection observes
// (spec.md §4.10: "subscribe to the desired set of bus channels" — the
// core has no per-client filtering concept, so every connection gets
// all of them).
var sseChannels = []bus.Channel{
	bus.SessionListChanged,
	bus.SessionChanged,
	bus.AgentSessionChanged,
	bus.SessionProcessChanged,
	bus.SchedulerJobsChanged,
	bus.PermissionRequested,
	bus.Heartbeat,
}

// maxPriorityFrames bounds the sessionProcessChanged backlog. Spec.md
// §4.10 calls for an unbounded buffer that closes the connection only
// under memory pressure; this cap is that "memory pressure" line.
const maxPriorityFrames = 100000

const normalFrameBuffer = 64

// priorityQueue is the unbounded (up to maxPriorityFrames) FIFO buffer
// backing sessionProcessChanged delivery: frames are pushed from the
// bus's Publish goroutine and drained by a dedicated pump goroutine
// into a bounded hand-off channel the connection's write loop selects
// on, so the write loop never has to touch the slice/mutex directly.
type priorityQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func newPriorityQueue() *priorityQueue {
	q := &priorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends frame. Returns false if the queue is over capacity or
// closed, meaning the caller must close the connection.
func (q *priorityQueue) push(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if len(q.items) >= maxPriorityFrames {
		return false
	}
	q.items = append(q.items, frame)
	q.cond.Signal()
	return true
}

func (q *priorityQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *priorityQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// ServeEvents streams bus events as Server-Sent Events (C10). Every
// non-priority channel drops its frame when the connection's write
// loop is behind; sessionProcessChanged is always delivered.
func ServeEvents(b *bus.Bus, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, http.StatusInternalServerError, ErrInternalError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		normal := make(chan []byte, normalFrameBuffer)
		priority := newPriorityQueue()
		priorityOut := make(chan []byte)
		closeSignal := make(chan struct{})
		var closeOnce sync.Once
		triggerClose := func() { closeOnce.Do(func() { close(closeSignal) }) }

		go func() {
			for {
				frame, ok := priority.pop()
				if !ok {
					return
				}
				select {
				case priorityOut <- frame:
				case <-closeSignal:
					return
				}
			}
		}()

		handler := func(e bus.Event) {
			if e.Channel == bus.Heartbeat {
				select {
				case normal <- []byte(": heartbeat\n\n"):
				default:
				}
				return
			}

			data, err := json.Marshal(e.Payload)
			if err != nil {
				log.Warn("sse: failed to marshal event payload", zap.String("channel", string(e.Channel)), zap.Error(err))
				return
			}
			frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Channel, data))

			if e.Channel == bus.SessionProcessChanged {
				if !priority.push(frame) {
					triggerClose()
				}
				return
			}
			select {
			case normal <- frame:
			default:
			}
		}

		var subs []bus.Subscription
		for _, ch := range sseChannels {
			subs = append(subs, b.Subscribe(ch, handler))
		}
		defer func() {
			for _, s := range subs {
				s.Cancel()
			}
			priority.close()
		}()

		fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-closeSignal:
				return
			case frame := <-priorityOut:
				if _, err := w.Write(frame); err != nil {
					return
				}
				flusher.Flush()
			case frame := <-normal:
				if _, err := w.Write(frame); err != nil {
					return
				}
				flusher.Flush()
			case <-time.After(30 * time.Second):
				if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
