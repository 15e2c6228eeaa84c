// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// monotonicSource mints lexicographically monotonic ids even when two
// calls land within the same millisecond, which is exactly the "monotonic
// unique id" the session process and task ids need.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewSessionProcessID mints a new monotonic session process id.
func NewSessionProcessID() string {
	return newULID()
}

// NewTaskID mints a new monotonic task id.
func NewTaskID() string {
	return newULID()
}

// NewEntryUUID mints a uuid for a synthesized virtual conversation entry.
func NewEntryUUID() string {
	return newULID()
}

func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
