// Package store defines the record store collaborator: transactional
// persistence for definitions, runs, steps, deliveries, schedules, and
// asset materializations, plus a namespaced advisory lock table. The
// catalog service treats the relational store as this interface only;
// concrete SQL schema and migration tooling are out of scope.
package store

import (
	"context"
	"time"

	"github.com/flowforge/catalog/pkg/catalog/model"
)

// ErrNotFound is returned by Get*/lookup operations when no record
// matches the given identity.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "record not found" }

// RecordStore is the transactional, key-addressable collaborator every
// other catalog component persists through. Implementations must
// serialize concurrent writers such that a status transition observed as
// terminal is never overwritten by a stale writer (the "row-level lock on
// status transition" requirement from the concurrency model).
type RecordStore interface {
	// Job definitions. PutJobDefinition upserts by slug, bumping Version.
	PutJobDefinition(ctx context.Context, def *model.JobDefinition) error
	GetJobDefinition(ctx context.Context, slug string) (*model.JobDefinition, error)
	ListJobDefinitions(ctx context.Context) ([]*model.JobDefinition, error)

	// Workflow definitions. PutWorkflowDefinition upserts by slug.
	PutWorkflowDefinition(ctx context.Context, def *model.WorkflowDefinition) error
	GetWorkflowDefinition(ctx context.Context, slug string) (*model.WorkflowDefinition, error)
	ListWorkflowDefinitions(ctx context.Context) ([]*model.WorkflowDefinition, error)

	// Bundle versions.
	PutBundleVersion(ctx context.Context, v *model.JobBundleVersion) error
	GetBundleVersion(ctx context.Context, slug string, version int) (*model.JobBundleVersion, error)
	GetLatestBundleVersion(ctx context.Context, slug string) (*model.JobBundleVersion, error)

	// Job runs.
	CreateJobRun(ctx context.Context, run *model.JobRun) error
	GetJobRun(ctx context.Context, id string) (*model.JobRun, error)
	// UpdateJobRun applies mutate to the current record under a row lock
	// and persists the result. A record already in a terminal status is
	// returned unchanged, without calling mutate and without an error.
	UpdateJobRun(ctx context.Context, id string, mutate func(*model.JobRun) error) (*model.JobRun, error)

	// Workflow runs.
	CreateWorkflowRun(ctx context.Context, run *model.WorkflowRun) error
	GetWorkflowRun(ctx context.Context, id string) (*model.WorkflowRun, error)
	UpdateWorkflowRun(ctx context.Context, id string, mutate func(*model.WorkflowRun) error) (*model.WorkflowRun, error)
	// ListWorkflowRunsByPartition returns runs for a definition restricted
	// to a partition key, most recent first.
	ListWorkflowRunsByPartition(ctx context.Context, workflowDefinitionID, partitionKey string) ([]*model.WorkflowRun, error)

	// Workflow run steps.
	PutWorkflowRunStep(ctx context.Context, step *model.WorkflowRunStep) error
	GetWorkflowRunStep(ctx context.Context, workflowRunID, stepID string) (*model.WorkflowRunStep, error)
	ListWorkflowRunSteps(ctx context.Context, workflowRunID string) ([]*model.WorkflowRunStep, error)

	// Schedules.
	PutSchedule(ctx context.Context, sched *model.Schedule) error
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	// ListDueSchedules returns active schedules with NextRunAt <= now,
	// oldest due first, bounded by limit.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*model.Schedule, error)

	// Event triggers.
	PutEventTrigger(ctx context.Context, t *model.WorkflowEventTrigger) error
	ListActiveEventTriggers(ctx context.Context, eventType, eventSource string) ([]*model.WorkflowEventTrigger, error)

	// Trigger deliveries.
	PutDelivery(ctx context.Context, d *model.WorkflowTriggerDelivery) error
	// CountLaunchedDeliveries counts launched deliveries for triggerID with
	// CreatedAt in [since, now].
	CountLaunchedDeliveries(ctx context.Context, triggerID string, since, now time.Time) (int, error)
	// CountLiveDeliveries counts deliveries for triggerID whose workflow
	// run status is pending or running.
	CountLiveDeliveries(ctx context.Context, triggerID string) (int, error)
	// FindLaunchedDeliveryByIdempotencyKey returns the prior launched
	// delivery for (triggerID, idempotencyKey), or ErrNotFound.
	FindLaunchedDeliveryByIdempotencyKey(ctx context.Context, triggerID, idempotencyKey string) (*model.WorkflowTriggerDelivery, error)

	// Asset materializations.
	PutAssetMaterialization(ctx context.Context, m *model.AssetMaterialization) error
	// GetLatestMaterialization returns the most recent materialization of
	// assetID, optionally filtered to partitionKey (empty = unpartitioned).
	GetLatestMaterialization(ctx context.Context, assetID, partitionKey string) (*model.AssetMaterialization, error)

	// Advisory locks. TryAcquireLock acquires a namespaced lock that
	// expires after ttl if not released, returning ok=false if held
	// elsewhere. Release is a no-op if the lock already expired.
	TryAcquireLock(ctx context.Context, namespace, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
