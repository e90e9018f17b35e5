// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler implements the workflow scheduler: a periodic
// tick that materializes due cron schedules into enqueued workflow runs,
// honoring catch-up and a per-tick window bound, serialized per schedule
// by the record store's advisory lock table.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
	"github.com/flowforge/catalog/pkg/catalog/telemetry"
)

const lockNamespace = "schedule"

// Dispatcher hands a newly-enqueued workflow run off to the executor.
// The scheduler's own job ends at persisting the run; how (and whether)
// it's picked up for execution is the caller's concern, mirroring the
// teacher's fire-and-forget `go s.triggerSchedule` pattern.
type Dispatcher func(ctx context.Context, workflowRunID string)

// Config configures a Scheduler.
type Config struct {
	Store         store.RecordStore
	Dispatch      Dispatcher
	Logger        *slog.Logger
	Metrics       *telemetry.Metrics
	Interval      time.Duration
	MaxWindows    int
	AdvisoryLocks *bool // nil defers to WORKFLOW_SCHEDULER_ADVISORY_LOCKS
	LockTTL       time.Duration
}

// Scheduler is the supervisor: `Start`/`Stop` bracket a ticking
// goroutine that calls Tick once per interval.
type Scheduler struct {
	store         store.RecordStore
	dispatch      Dispatcher
	logger        *slog.Logger
	stats         *telemetry.Metrics
	interval      time.Duration
	maxWindows    int
	advisoryLocks bool
	lockTTL       time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs a Scheduler from cfg, applying defaults for the fields
// left zero.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	maxWindows := cfg.MaxWindows
	if maxWindows <= 0 {
		maxWindows = 10
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	advisoryLocks := os.Getenv("WORKFLOW_SCHEDULER_ADVISORY_LOCKS") != "0"
	if cfg.AdvisoryLocks != nil {
		advisoryLocks = *cfg.AdvisoryLocks
	}

	return &Scheduler{
		store:         cfg.Store,
		dispatch:      cfg.Dispatch,
		logger:        logger.With("component", "scheduler"),
		stats:         cfg.Metrics,
		interval:      interval,
		maxWindows:    maxWindows,
		advisoryLocks: advisoryLocks,
		lockTTL:       lockTTL,
	}
}

func (s *Scheduler) metrics() *telemetry.Metrics {
	if s.stats != nil {
		return s.stats
	}
	return telemetry.NoopMetrics()
}

// Start runs the tick loop in a background goroutine until Stop is
// called or ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop signals the tick loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick materializes every schedule due at now: list due schedules,
// lock, re-check, materialize catch-up or single-window, enqueue,
// advance cursors.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	schedules, err := s.store.ListDueSchedules(ctx, now, s.maxWindows*4+16)
	if err != nil {
		s.logger.Error("list due schedules failed", "error", err)
		return
	}

	for _, sched := range schedules {
		s.processSchedule(ctx, sched, now)
	}
}

func (s *Scheduler) processSchedule(ctx context.Context, sched *model.Schedule, now time.Time) {
	logger := s.logger.With("scheduleId", sched.ID, "workflowDefinitionId", sched.WorkflowDefinitionID)

	release, ok, err := s.acquireLock(ctx, sched.ID)
	if err != nil {
		logger.Error("acquire schedule lock failed", "error", err)
		return
	}
	if !ok {
		logger.Debug("schedule lock held elsewhere, skipping")
		return
	}
	defer func() {
		if release != nil {
			release(ctx)
		}
	}()

	current, err := s.store.GetSchedule(ctx, sched.ID)
	if err != nil {
		logger.Error("re-read schedule failed", "error", err)
		return
	}
	if current.NextRunAt == nil || current.NextRunAt.After(now) {
		return
	}

	expr, err := ParseCron(current.Cron)
	if err != nil {
		logger.Error("invalid cron expression", "cron", current.Cron, "error", err)
		return
	}

	loc := time.UTC
	if current.Timezone != "" {
		if l, err := time.LoadLocation(current.Timezone); err == nil {
			loc = l
		} else {
			logger.Warn("invalid schedule timezone, defaulting to UTC", "timezone", current.Timezone, "error", err)
		}
	}

	if current.CatchUp {
		s.materializeCatchUp(ctx, current, expr, loc, now, logger)
	} else {
		s.materializeSingle(ctx, current, expr, loc, now, logger)
	}
}

func (s *Scheduler) acquireLock(ctx context.Context, scheduleID string) (func(context.Context) error, bool, error) {
	if !s.advisoryLocks {
		return nil, true, nil
	}
	return s.store.TryAcquireLock(ctx, lockNamespace, scheduleID, s.lockTTL)
}

// materializeSingle implements catch-up-disabled materialization: at
// most one run, for the most recent occurrence at or before now.
func (s *Scheduler) materializeSingle(ctx context.Context, sched *model.Schedule, expr *CronExpr, loc *time.Location, now time.Time, logger *slog.Logger) {
	seed := cursorSeed(sched, loc)
	var last time.Time
	cursor := seed
	for {
		next := expr.Next(cursor)
		if next.IsZero() || next.After(now) {
			sched.NextRunAt = timePtr(next)
			break
		}
		last = next
		cursor = next
	}

	sched.CatchupCursor = nil

	if last.IsZero() {
		if err := s.store.PutSchedule(ctx, sched); err != nil {
			logger.Error("persist schedule failed", "error", err)
		}
		return
	}

	if err := s.enqueue(ctx, sched, last, false, logger); err != nil {
		logger.Error("enqueue workflow run failed", "error", err, "occurrence", last)
		sched.CatchupCursor = timePtr(last)
		sched.NextRunAt = timePtr(last)
		s.store.PutSchedule(ctx, sched)
		return
	}

	window := occurrenceWindow(sched, last)
	sched.LastMaterializedWindow = &window
	if err := s.store.PutSchedule(ctx, sched); err != nil {
		logger.Error("persist schedule failed", "error", err)
	}
}

// materializeCatchUp implements catch-up-enabled materialization: up to
// maxWindows occurrences starting from the schedule's cursor.
func (s *Scheduler) materializeCatchUp(ctx context.Context, sched *model.Schedule, expr *CronExpr, loc *time.Location, now time.Time, logger *slog.Logger) {
	seed := cursorSeed(sched, loc)
	occurrences := expr.OccurrencesThrough(seed, now, s.maxWindows)
	if len(occurrences) == 0 {
		return
	}

	var lastGood time.Time
	for _, occ := range occurrences {
		if err := s.enqueue(ctx, sched, occ, true, logger); err != nil {
			logger.Error("enqueue workflow run failed, stopping catch-up at this occurrence", "error", err, "occurrence", occ)
			sched.CatchupCursor = timePtr(occ)
			sched.NextRunAt = timePtr(occ)
			s.store.PutSchedule(ctx, sched)
			return
		}
		lastGood = occ
		window := occurrenceWindow(sched, occ)
		sched.LastMaterializedWindow = &window
	}

	successor := expr.Next(lastGood)
	sched.CatchupCursor = timePtr(successor)
	sched.NextRunAt = timePtr(successor)
	if err := s.store.PutSchedule(ctx, sched); err != nil {
		logger.Error("persist schedule failed", "error", err)
	}
}

func cursorSeed(sched *model.Schedule, loc *time.Location) time.Time {
	if sched.CatchupCursor != nil {
		return sched.CatchupCursor.In(loc).Add(-time.Second)
	}
	if sched.NextRunAt != nil {
		return sched.NextRunAt.In(loc).Add(-time.Second)
	}
	return time.Now().In(loc)
}

func occurrenceWindow(sched *model.Schedule, occurrence time.Time) model.Window {
	return model.Window{Start: occurrence, End: occurrence}
}

// enqueue creates and persists a workflow run for one schedule
// occurrence, deriving `partitionKey` when the workflow definition
// declares a timeWindow-partitioned output asset.
func (s *Scheduler) enqueue(ctx context.Context, sched *model.Schedule, occurrence time.Time, catchUp bool, logger *slog.Logger) error {
	def, err := s.store.GetWorkflowDefinition(ctx, sched.WorkflowDefinitionID)
	if err != nil {
		return fmt.Errorf("workflow definition %q not found: %w", sched.WorkflowDefinitionID, err)
	}

	runID := fmt.Sprintf("%s:%d", sched.ID, occurrence.UnixNano())
	window := occurrenceWindow(sched, occurrence)

	run := &model.WorkflowRun{
		ID:                   runID,
		WorkflowDefinitionID: sched.WorkflowDefinitionID,
		Status:               model.WorkflowRunPending,
		Parameters:           sched.Parameters,
		Context:              model.NewRunContext(),
		Trigger: model.TriggerDescriptor{
			Type: "schedule",
			Schedule: &model.ScheduleOccurrence{
				ID:         sched.ID,
				Name:       sched.Name,
				Cron:       sched.Cron,
				Timezone:   sched.Timezone,
				Occurrence: occurrence,
				Window:     window,
				CatchUp:    catchUp,
			},
		},
		TriggeredBy: "scheduler",
		PartitionKey: derivePartitionKey(def, occurrence, sched.Timezone),
		CreatedAt:   time.Now(),
	}

	if err := s.store.CreateWorkflowRun(ctx, run); err != nil {
		return err
	}
	s.metrics().RecordScheduleMaterialization(ctx, sched.ID, catchUp)

	logger.Info("enqueued scheduled workflow run", "workflowRunId", runID, "occurrence", occurrence)
	if s.dispatch != nil {
		s.metrics().IncrementQueueDepth()
		s.dispatch(ctx, runID)
		s.metrics().DecrementQueueDepth()
	}
	return nil
}

// derivePartitionKey formats occurrence per the workflow's first
// timeWindow-partitioned `produces` declaration's granularity, or
// returns empty when the workflow has no such asset.
func derivePartitionKey(def *model.WorkflowDefinition, occurrence time.Time, timezone string) string {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	occurrence = occurrence.In(loc)

	for _, step := range def.Steps {
		for _, asset := range step.Produces {
			if asset.Partitioning == nil || asset.Partitioning.Type != model.PartitioningTimeWindow {
				continue
			}
			return formatPartitionKey(occurrence, asset.Partitioning.Granularity)
		}
	}
	return ""
}

func formatPartitionKey(t time.Time, granularity string) string {
	switch granularity {
	case "hourly":
		return t.Format("2006-01-02T15")
	case "weekly":
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case "monthly":
		return t.Format("2006-01")
	default: // "daily" and any unrecognized granularity
		return t.Format("2006-01-02")
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
