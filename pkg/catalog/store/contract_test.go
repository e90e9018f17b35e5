package store

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every RecordStore implementation the contract tests
// below must pass identically.
func backends(t *testing.T) map[string]RecordStore {
	t.Helper()
	sqliteStore, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]RecordStore{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestRecordStore_JobDefinitionUpsertBumpsVersion(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			def := &model.JobDefinition{Slug: "etl", Name: "ETL"}

			require.NoError(t, s.PutJobDefinition(ctx, def))
			assert.Equal(t, 1, def.Version)

			def2 := &model.JobDefinition{Slug: "etl", Name: "ETL v2"}
			require.NoError(t, s.PutJobDefinition(ctx, def2))
			assert.Equal(t, 2, def2.Version)

			got, err := s.GetJobDefinition(ctx, "etl")
			require.NoError(t, err)
			assert.Equal(t, 2, got.Version)
		})
	}
}

func TestRecordStore_GetJobDefinitionNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetJobDefinition(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRecordStore_WorkflowRunStatusNeverLeavesTerminal(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := &model.WorkflowRun{
				ID:                   "run-1",
				WorkflowDefinitionID: "wf",
				Status:               model.WorkflowRunPending,
				Context:              model.NewRunContext(),
				CreatedAt:            time.Now(),
			}
			require.NoError(t, s.CreateWorkflowRun(ctx, run))

			_, err := s.UpdateWorkflowRun(ctx, "run-1", func(r *model.WorkflowRun) error {
				r.Status = model.WorkflowRunSucceeded
				return nil
			})
			require.NoError(t, err)

			after, err := s.UpdateWorkflowRun(ctx, "run-1", func(r *model.WorkflowRun) error {
				r.Status = model.WorkflowRunRunning
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, model.WorkflowRunSucceeded, after.Status, "terminal status must not be overwritten")
		})
	}
}

func TestRecordStore_ListDueSchedulesOrdering(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			later := now.Add(-1 * time.Minute)
			earlier := now.Add(-10 * time.Minute)

			require.NoError(t, s.PutSchedule(ctx, &model.Schedule{ID: "s1", IsActive: true, NextRunAt: &later}))
			require.NoError(t, s.PutSchedule(ctx, &model.Schedule{ID: "s2", IsActive: true, NextRunAt: &earlier}))
			require.NoError(t, s.PutSchedule(ctx, &model.Schedule{ID: "s3", IsActive: false, NextRunAt: &earlier}))

			due, err := s.ListDueSchedules(ctx, now, 10)
			require.NoError(t, err)
			require.Len(t, due, 2)
			assert.Equal(t, "s2", due[0].ID, "earliest due schedule first")
			assert.Equal(t, "s1", due[1].ID)
		})
	}
}

func TestRecordStore_AdvisoryLockExclusion(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			release, ok, err := s.TryAcquireLock(ctx, "schedule", "sched-1", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			_, ok2, err := s.TryAcquireLock(ctx, "schedule", "sched-1", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok2, "second acquirer must be rejected while the lock is held")

			require.NoError(t, release(ctx))

			_, ok3, err := s.TryAcquireLock(ctx, "schedule", "sched-1", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok3, "lock must be acquirable again after release")
		})
	}
}

func TestRecordStore_MaterializationLatestWins(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := time.Now().Add(-time.Hour)
			newer := time.Now()

			require.NoError(t, s.PutAssetMaterialization(ctx, &model.AssetMaterialization{
				AssetID: "a", PartitionKey: "p1", ProducedAt: older, Payload: map[string]interface{}{"v": 1},
			}))
			require.NoError(t, s.PutAssetMaterialization(ctx, &model.AssetMaterialization{
				AssetID: "a", PartitionKey: "p1", ProducedAt: newer, Payload: map[string]interface{}{"v": 2},
			}))

			latest, err := s.GetLatestMaterialization(ctx, "a", "p1")
			require.NoError(t, err)
			assert.EqualValues(t, 2, latest.Payload["v"])
		})
	}
}

func TestRecordStore_IdempotencyKeyLookup(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutDelivery(ctx, &model.WorkflowTriggerDelivery{
				ID: "d1", TriggerID: "t1", Status: model.DeliveryLaunched,
				IdempotencyKey: "key-1", CreatedAt: time.Now(),
			}))

			found, err := s.FindLaunchedDeliveryByIdempotencyKey(ctx, "t1", "key-1")
			require.NoError(t, err)
			assert.Equal(t, "d1", found.ID)

			_, err = s.FindLaunchedDeliveryByIdempotencyKey(ctx, "t1", "key-2")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
