// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sessionrepo

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// janitorInterval is how often the first-user-message cache is swept
// for entries whose journal file is gone.
const janitorInterval = 30 * time.Minute

// Janitor periodically prunes the first-user-message disk cache,
// grounded on the same ticker-driven scan-loop shape as
// internal/autoabort.Daemon (itself grounded on the teacher's
// internal/trace/manager.go cleanupLoop): an immediate first pass,
// then one pass per interval, stoppable via a done channel.
type Janitor struct {
	repo *Repository
	log  *zap.Logger
	done chan struct{}

	stopOnce sync.Once
}

// NewJanitor constructs a Janitor over repo.
func NewJanitor(repo *Repository, log *zap.Logger) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{
		repo: repo,
		log:  log.Named("fumcache-janitor"),
		done: make(chan struct{}),
	}
}

// Start runs the prune loop in a background goroutine until Stop is
// called.
func (j *Janitor) Start() {
	go j.loop()
}

// Stop ends the prune loop. Calling it more than once is safe.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.done) })
}

func (j *Janitor) loop() {
	j.repo.PruneStale()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.repo.PruneStale()
		}
	}
}
