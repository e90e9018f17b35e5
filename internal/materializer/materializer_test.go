package materializer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/catalog/pkg/catalog/eventbus"
	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
)

func seedDownstreamWorkflow(t *testing.T, s store.RecordStore) *model.WorkflowDefinition {
	t.Helper()
	def := &model.WorkflowDefinition{
		ID:   "wf-downstream",
		Slug: "wf-downstream",
		Steps: []model.Step{
			{
				ID:       "consume",
				Type:     model.StepTypeJob,
				JobSlug:  "ingest",
				Consumes: []model.AssetDeclaration{{AssetID: "upstream.asset"}},
			},
			{
				ID:      "produce",
				Type:    model.StepTypeJob,
				JobSlug: "rollup",
				Produces: []model.AssetDeclaration{{
					AssetID:         "downstream.asset",
					AutoMaterialize: &model.AutoMaterialize{OnUpstreamUpdate: true, Priority: 5},
				}},
			},
		},
		DefaultParameters: map[string]interface{}{"mode": "default"},
	}
	require.NoError(t, s.PutWorkflowDefinition(context.Background(), def))
	return def
}

func assetProducedEnvelope(occurredAt time.Time, partitionKey string) eventbus.Envelope {
	return eventbus.Envelope{
		ID:         "evt-1",
		Type:       eventbus.EventAssetProduced,
		OccurredAt: occurredAt,
		Payload: map[string]interface{}{
			"assetId":              "upstream.asset",
			"workflowDefinitionId": "wf-upstream",
			"workflowRunId":        "run-upstream-1",
			"stepId":               "produce-upstream",
			"partitionKey":         partitionKey,
		},
	}
}

func TestHandleAssetProduced_LaunchesDownstreamRun(t *testing.T) {
	s := store.NewMemoryStore()
	seedDownstreamWorkflow(t, s)

	var dispatched []string
	m := New(Config{Store: s, Dispatch: func(ctx context.Context, runID string) {
		dispatched = append(dispatched, runID)
	}})

	env := assetProducedEnvelope(time.Now(), "2026-07-30")
	require.NoError(t, m.HandleAssetProduced(context.Background(), env))
	require.Len(t, dispatched, 1)

	run, err := s.GetWorkflowRun(context.Background(), dispatched[0])
	require.NoError(t, err)
	require.Equal(t, "asset-materializer", run.TriggeredBy)
	require.Equal(t, "auto-materialize", run.Trigger.Type)
	require.Equal(t, "default", run.Parameters["mode"])
}

func TestHandleAssetProduced_SuppressesWhenRunInFlight(t *testing.T) {
	s := store.NewMemoryStore()
	def := seedDownstreamWorkflow(t, s)

	require.NoError(t, s.CreateWorkflowRun(context.Background(), &model.WorkflowRun{
		ID: "existing-run", WorkflowDefinitionID: def.ID, Status: model.WorkflowRunRunning, PartitionKey: "2026-07-30",
	}))

	var dispatched []string
	m := New(Config{Store: s, Dispatch: func(ctx context.Context, runID string) {
		dispatched = append(dispatched, runID)
	}})

	env := assetProducedEnvelope(time.Now(), "2026-07-30")
	require.NoError(t, m.HandleAssetProduced(context.Background(), env))
	require.Empty(t, dispatched, "an in-flight run for the same partition should suppress a new one")
}

func TestHandleAssetProduced_ReusesParametersFromLatestSucceededRun(t *testing.T) {
	s := store.NewMemoryStore()
	def := seedDownstreamWorkflow(t, s)

	completedAt := time.Now().Add(-time.Hour)
	require.NoError(t, s.CreateWorkflowRun(context.Background(), &model.WorkflowRun{
		ID: "prior-run", WorkflowDefinitionID: def.ID, Status: model.WorkflowRunSucceeded,
		PartitionKey: "2026-07-30", Parameters: map[string]interface{}{"mode": "carried-forward"},
		CompletedAt: &completedAt,
	}))

	var dispatched []string
	m := New(Config{Store: s, Dispatch: func(ctx context.Context, runID string) {
		dispatched = append(dispatched, runID)
	}})

	env := assetProducedEnvelope(time.Now(), "2026-07-30")
	require.NoError(t, m.HandleAssetProduced(context.Background(), env))
	require.Len(t, dispatched, 1)

	run, err := s.GetWorkflowRun(context.Background(), dispatched[0])
	require.NoError(t, err)
	require.Equal(t, "carried-forward", run.Parameters["mode"])
}

func TestHandleAssetProduced_StaleEventIsDropped(t *testing.T) {
	s := store.NewMemoryStore()
	seedDownstreamWorkflow(t, s)

	var dispatched []string
	m := New(Config{Store: s, Dispatch: func(ctx context.Context, runID string) {
		dispatched = append(dispatched, runID)
	}})

	now := time.Now()
	require.NoError(t, m.HandleAssetProduced(context.Background(), assetProducedEnvelope(now, "2026-07-30")))
	require.Len(t, dispatched, 1)

	stale := assetProducedEnvelope(now.Add(-time.Minute), "2026-07-30")
	require.NoError(t, m.HandleAssetProduced(context.Background(), stale))
	require.Len(t, dispatched, 1, "an older event for the same key must not trigger another run")
}

func TestHandleAssetProduced_IgnoresWorkflowsWithoutMatchingConsumer(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.PutWorkflowDefinition(context.Background(), &model.WorkflowDefinition{
		ID:   "wf-unrelated",
		Slug: "wf-unrelated",
		Steps: []model.Step{
			{ID: "a", Type: model.StepTypeJob, JobSlug: "noop"},
		},
	}))

	var dispatched []string
	m := New(Config{Store: s, Dispatch: func(ctx context.Context, runID string) {
		dispatched = append(dispatched, runID)
	}})

	require.NoError(t, m.HandleAssetProduced(context.Background(), assetProducedEnvelope(time.Now(), "2026-07-30")))
	require.Empty(t, dispatched)
}
