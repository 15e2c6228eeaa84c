// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import "context"

// messageGenerator is the "asynchronous lazy sequence that yields user
// messages on demand" from spec.md §4.6: setNextMessage enqueues the
// next yield, and onNewUserMessageResolved exposes each input as soon
// as it is pulled for the subprocess (holding at most one unread input;
// later ones are dropped while it is full). The coordinator's pump
// steps the state machine itself on each pull. It maps the
// spec's coroutine-style generator onto a pair of channels, per the
// "coroutine control flow -> tasks + channels" design note (spec.md §9).
type messageGenerator struct {
	next     chan UserInput
	resolved chan UserInput
}

func newMessageGenerator() *messageGenerator {
	return &messageGenerator{
		next:     make(chan UserInput, 1),
		resolved: make(chan UserInput, 1),
	}
}

// setNextMessage enqueues input for the next pull. The buffer holds one
// unread item: while an earlier item has not been pulled, the call
// blocks until it is (or until ctx is done); an unread item is never
// replaced. Inputs are pulled in the order they were enqueued.
func (g *messageGenerator) setNextMessage(ctx context.Context, input UserInput) error {
	select {
	case g.next <- input:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pull blocks until a message is available or ctx is done.
func (g *messageGenerator) pull(ctx context.Context) (UserInput, bool) {
	select {
	case input := <-g.next:
		select {
		case g.resolved <- input:
		default:
		}
		return input, true
	case <-ctx.Done():
		return UserInput{}, false
	}
}

// onNewUserMessageResolved returns the channel that fires with the
// input as soon as the subprocess has consumed it.
func (g *messageGenerator) onNewUserMessageResolved() <-chan UserInput {
	return g.resolved
}
