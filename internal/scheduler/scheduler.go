// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/agentviewer/core/internal/bus"
	"github.com/agentviewer/core/internal/lifecycle"
	"go.uber.org/zap"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// SchedulerJobNotFoundError is returned by Update/Delete for an unknown
// job id.
type SchedulerJobNotFoundError struct {
	JobID string
}

func (e *SchedulerJobNotFoundError) Error() string {
	return fmt.Sprintf("scheduler job %s not found", e.JobID)
}

// Starter is the slice of the Lifecycle Coordinator the scheduler
// drives jobs through.
type Starter interface {
	StartTask(ctx context.Context, projectCwd, projectID, baseSessionID, permissionMode string, input lifecycle.UserInput) (*lifecycle.StartResult, error)
	ContinueTask(ctx context.Context, processID, baseSessionID string, input lifecycle.UserInput) (*lifecycle.StartResult, error)
}

// Scheduler implements the Job Scheduler (C8).
type Scheduler struct {
	log     *zap.Logger
	bus     *bus.Bus
	starter Starter
	path    string // scheduler.json path

	mu       sync.Mutex
	jobs     map[string]Job
	fibers   map[string]context.CancelFunc
	inflight map[string]bool // cron skip-policy in-flight set

	sub bus.Subscription
}

// New constructs a Scheduler backed by the JSON file at path.
func New(path string, b *bus.Bus, starter Starter, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		log:      log.Named("scheduler"),
		bus:      b,
		starter:  starter,
		path:     path,
		jobs:     make(map[string]Job),
		fibers:   make(map[string]context.CancelFunc),
		inflight: make(map[string]bool),
	}
}

// Start loads persisted jobs, fires due work immediately per spec.md
// §4.8 step 2-4, and arms a fiber for every enabled cron/reserved job.
// It also subscribes to sessionProcessChanged to drive the queued
// handler.
func (s *Scheduler) Start(ctx context.Context) {
	loaded := loadJobs(s.path, s.log)

	s.mu.Lock()
	for _, j := range loaded {
		s.jobs[j.ID] = j
	}
	s.mu.Unlock()

	var queued, rest []Job
	for _, j := range loaded {
		if !j.Enabled {
			continue
		}
		if j.Schedule.Kind == ScheduleQueued {
			queued = append(queued, j)
		} else {
			rest = append(rest, j)
		}
	}

	// Server just restarted: queued jobs' target sessions are no
	// longer running, so queued semantics collapse to "run now" (the
	// possibly-buggy source behavior we preserve verbatim: this runs
	// as startTask, never continueTask — spec.md §9).
	for _, j := range queued {
		job := j
		go s.runOnce(ctx, job)
	}

	for _, j := range rest {
		s.armFiber(ctx, j)
	}

	if s.bus != nil {
		s.sub = s.bus.Subscribe(bus.SessionProcessChanged, func(e bus.Event) {
			p, ok := e.Payload.(bus.SessionProcessChangedPayload)
			if !ok {
				return
			}
			if p.Changed.Status == "paused" && p.Changed.SessionID != "" {
				// Off the bus's call path: the registry publishes while
				// holding its lock, and handlePaused calls back into it
				// through ContinueTask.
				go s.handlePaused(ctx, p.Changed.SessionID, p.Changed.ID)
			}
		})
	}
}

// Stop cancels every live fiber and the sessionProcessChanged subscription.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, cancel := range s.fibers {
		cancel()
	}
	s.fibers = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	if s.sub != nil {
		s.sub.Cancel()
	}
}

// armFiber starts the background goroutine owning a cron or reserved
// job's timer. Queued jobs have no fiber: they fire from handlePaused.
func (s *Scheduler) armFiber(ctx context.Context, j Job) {
	if j.Schedule.Kind == ScheduleQueued {
		return
	}
	fiberCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if prev, ok := s.fibers[j.ID]; ok {
		prev()
	}
	s.fibers[j.ID] = cancel
	s.mu.Unlock()

	switch j.Schedule.Kind {
	case ScheduleCron:
		go s.runCronFiber(fiberCtx, j.ID)
	case ScheduleReserved:
		if j.LastRunStatus == nil {
			go s.runReservedFiber(fiberCtx, j.ID)
		}
	}
}

func (s *Scheduler) runCronFiber(ctx context.Context, jobID string) {
	s.mu.Lock()
	j := s.jobs[jobID]
	s.mu.Unlock()

	schedule, err := cronParser.Parse(j.Schedule.CronExpr)
	if err != nil {
		s.log.Warn("skipping cron job with unparseable expression", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	for {
		next := schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		j, ok := s.jobs[jobID]
		s.mu.Unlock()
		if !ok || !j.Enabled {
			return
		}
		s.runWithConcurrency(ctx, j)
	}
}

func (s *Scheduler) runReservedFiber(ctx context.Context, jobID string) {
	s.mu.Lock()
	j := s.jobs[jobID]
	s.mu.Unlock()

	delay := time.Until(j.Schedule.At)
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok || !j.Enabled {
		return
	}
	s.runWithConcurrency(ctx, j)
}

// runWithConcurrency executes job per its schedule kind's concurrency
// rule (spec.md §4.8).
func (s *Scheduler) runWithConcurrency(ctx context.Context, j Job) {
	switch j.Schedule.Kind {
	case ScheduleCron:
		if j.Schedule.ConcurrencyPolicy == ConcurrencySkip {
			s.mu.Lock()
			if s.inflight[j.ID] {
				s.mu.Unlock()
				return
			}
			s.inflight[j.ID] = true
			s.mu.Unlock()
			defer func() {
				s.mu.Lock()
				delete(s.inflight, j.ID)
				s.mu.Unlock()
			}()
		}
		status := s.execute(ctx, j)
		s.recordCronRun(j.ID, status)
	case ScheduleReserved:
		s.execute(ctx, j)
		s.deleteAfterFire(j.ID)
	}
}

// runOnce fires a queued job found enabled at startup. Per spec.md §9
// this runs as startTask, never continueTask, even though the job's
// target session is a continuation target — the original system's
// behavior, preserved as-is. Unlike the steady-state queued handler,
// the startup collapse only removes the job from persistence on a
// successful fire (spec.md §4.8 step 2).
func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	if s.execute(ctx, j) == RunSuccess {
		s.deleteAfterFire(j.ID)
	}
}

// execute calls startTask on the job's message. Errors are logged, not
// propagated: a failing job must never kill the scheduler (spec.md §7).
func (s *Scheduler) execute(ctx context.Context, j Job) RunStatus {
	input := lifecycle.UserInput{
		Text:      j.Message.Content,
		Images:    toLifecycleAttachments(j.Message.Images),
		Documents: toLifecycleAttachments(j.Message.Documents),
	}
	_, err := s.starter.StartTask(ctx, j.Message.ProjectCwd, j.Message.ProjectID, j.Message.BaseSessionID, "default", input)
	if err != nil {
		s.log.Error("scheduler job execution failed", zap.String("job_id", j.ID), zap.Error(err))
		return RunFailed
	}
	return RunSuccess
}

func toLifecycleAttachments(in []Attachment) []lifecycle.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]lifecycle.Attachment, len(in))
	for i, a := range in {
		out[i] = lifecycle.Attachment{MediaType: a.MediaType, Data: a.Data}
	}
	return out
}

func (s *Scheduler) recordCronRun(jobID string, status RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return
	}
	now := time.Now()
	j.LastRunAt = &now
	j.LastRunStatus = &status
	s.jobs[jobID] = j
	s.persistLocked()
}

// deleteAfterFire removes a reserved or queued job from persistence
// and emits schedulerJobsChanged (invariants I4, I5).
func (s *Scheduler) deleteAfterFire(jobID string) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	delete(s.fibers, jobID)
	s.persistLocked()
	s.mu.Unlock()
	s.emit(jobID)
}

// handlePaused is the queued handler: triggered whenever a process
// transitions to paused with a known session id (spec.md §4.8).
func (s *Scheduler) handlePaused(ctx context.Context, sessionID, processID string) {
	s.mu.Lock()
	var matched []Job
	for _, j := range s.jobs {
		if j.Enabled && j.Schedule.Kind == ScheduleQueued && j.Schedule.TargetSessionID == sessionID {
			matched = append(matched, j)
		}
	}
	s.mu.Unlock()
	if len(matched) == 0 {
		return
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].CreatedAt.Before(matched[k].CreatedAt) })

	agg := aggregateQueued(matched)
	_, err := s.starter.ContinueTask(ctx, processID, sessionID, lifecycle.UserInput{
		Text:      agg.Text,
		Images:    toLifecycleAttachments(agg.Images),
		Documents: toLifecycleAttachments(agg.Documents),
	})
	if err != nil {
		s.log.Error("queued job aggregation continueTask failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	for _, j := range matched {
		s.deleteAfterFire(j.ID)
	}
}

func (s *Scheduler) emit(deletedJobID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.SchedulerJobsChanged, bus.SchedulerJobsChangedPayload{DeletedJobID: deletedJobID})
}

// persistLocked writes s.jobs to disk; caller must hold s.mu. Failures
// are logged, matching the "config corruption never crashes" policy.
func (s *Scheduler) persistLocked() {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	if err := saveJobs(s.path, out); err != nil {
		s.log.Error("persist scheduler config", zap.Error(err))
	}
}

// Add persists a new job and arms its fiber if enabled.
func (s *Scheduler) Add(ctx context.Context, j Job) Job {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.persistLocked()
	s.mu.Unlock()
	if j.Enabled {
		s.armFiber(ctx, j)
	}
	return j
}

// List returns every persisted job.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Update replaces job jobID's definition, restarting its fiber.
func (s *Scheduler) Update(ctx context.Context, jobID string, next Job) (Job, error) {
	s.mu.Lock()
	_, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return Job{}, &SchedulerJobNotFoundError{JobID: jobID}
	}
	next.ID = jobID
	s.jobs[jobID] = next
	s.persistLocked()
	if cancel, ok := s.fibers[jobID]; ok {
		cancel()
		delete(s.fibers, jobID)
	}
	s.mu.Unlock()

	if next.Enabled {
		s.armFiber(ctx, next)
	}
	return next, nil
}

// Delete removes jobID from persistence and stops its fiber.
func (s *Scheduler) Delete(jobID string) error {
	s.mu.Lock()
	_, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return &SchedulerJobNotFoundError{JobID: jobID}
	}
	delete(s.jobs, jobID)
	s.persistLocked()
	if cancel, ok := s.fibers[jobID]; ok {
		cancel()
		delete(s.fibers, jobID)
	}
	s.mu.Unlock()
	return nil
}
