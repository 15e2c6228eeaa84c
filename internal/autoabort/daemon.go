// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package autoabort implements the Auto-Abort Daemon (C9): a periodic
// scan that aborts paused session processes whose session file has
// gone idle past a configured threshold (spec.md §4.9).
package autoabort

import (
	"sync"
	"time"

	"github.com/agentviewer/core/internal/process"
	"go.uber.org/zap"
)

const scanInterval = 5 * time.Minute

// Registry lists live session processes.
type Registry interface {
	List() []*process.Process
}

// ModTimeLookup resolves a session's on-disk journal file mtime.
type ModTimeLookup interface {
	LastModifiedAt(projectID, sessionID string) (time.Time, error)
}

// Aborter aborts a running session process.
type Aborter interface {
	AbortTask(processID string)
}

// Daemon periodically scans paused processes and aborts those idle
// past threshold, grounded on the teacher's internal/trace cleanup
// goroutine (internal/trace/manager.go's cleanupLoop): a ticker-driven
// loop with an immediate first pass, stoppable via a done channel.
type Daemon struct {
	log       *zap.Logger
	registry  Registry
	repo      ModTimeLookup
	coord     Aborter
	threshold time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a Daemon. threshold is the user-configured idle
// duration past which a paused process is aborted.
func New(registry Registry, repo ModTimeLookup, coord Aborter, threshold time.Duration, log *zap.Logger) *Daemon {
	if log == nil {
		log = zap.NewNop()
	}
	return &Daemon{
		log:       log.Named("autoabort"),
		registry:  registry,
		repo:      repo,
		coord:     coord,
		threshold: threshold,
		done:      make(chan struct{}),
	}
}

// Start runs the scan loop in a background goroutine until Stop is
// called. The first scan runs immediately rather than waiting a full
// interval.
func (d *Daemon) Start() {
	go d.loop()
}

// Stop ends the scan loop. Calling it more than once is safe.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}

func (d *Daemon) loop() {
	d.scan()

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.scan()
		}
	}
}

// scan lists every process, filters to paused, and aborts those whose
// session file has been idle past threshold. Per spec.md §4.9, errors
// looking up any one process's mtime are logged and do not stop the
// scan.
func (d *Daemon) scan() {
	now := time.Now()
	for _, p := range d.registry.List() {
		if p.PublicStatus() != "paused" {
			continue
		}
		sessionID := p.PublicSessionID()
		if sessionID == "" {
			continue
		}
		lastModified, err := d.repo.LastModifiedAt(p.ProjectID, sessionID)
		if err != nil {
			d.log.Warn("auto-abort: could not stat session file",
				zap.String("process_id", p.ID), zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		if now.Sub(lastModified) > d.threshold {
			d.log.Info("auto-abort: aborting idle session process",
				zap.String("process_id", p.ID), zap.Duration("idle", now.Sub(lastModified)))
			d.coord.AbortTask(p.ID)
		}
	}
}
