// Package materializer implements the asset materializer: a
// worker subscribed to asset.produced events that re-runs any
// downstream workflow whose output depends on the asset just produced
// and has opted into onUpstreamUpdate auto-materialization.
package materializer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/catalog/pkg/catalog/eventbus"
	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
)

// Dispatcher hands a newly-enqueued workflow run off to the executor.
type Dispatcher func(ctx context.Context, workflowRunID string)

// debounceKey identifies one (workflowId, partitionKey) queue; the
// materializer serializes processing within a key and lets distinct
// keys run in parallel.
type debounceKey struct {
	workflowDefinitionID string
	partitionKey         string
}

// Materializer reacts to asset.produced events.
type Materializer struct {
	store    store.RecordStore
	dispatch Dispatcher
	logger   *slog.Logger

	mu        sync.Mutex
	lastEvent map[debounceKey]time.Time
	keyLocks  map[debounceKey]*sync.Mutex
}

// Config configures a Materializer.
type Config struct {
	Store    store.RecordStore
	Dispatch Dispatcher
	Logger   *slog.Logger
}

// New constructs a Materializer from cfg.
func New(cfg Config) *Materializer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		store:     cfg.Store,
		dispatch:  cfg.Dispatch,
		logger:    logger.With("component", "materializer"),
		lastEvent: map[debounceKey]time.Time{},
		keyLocks:  map[debounceKey]*sync.Mutex{},
	}
}

// Subscribe registers the materializer on bus for asset.produced events.
func (m *Materializer) Subscribe(bus eventbus.Bus) func() {
	return bus.Subscribe(eventbus.EventAssetProduced, func(ctx context.Context, env eventbus.Envelope) error {
		return m.HandleAssetProduced(ctx, env)
	})
}

// HandleAssetProduced implements the materialization algorithm for one asset.produced
// envelope.
func (m *Materializer) HandleAssetProduced(ctx context.Context, env eventbus.Envelope) error {
	assetID, _ := env.Payload["assetId"].(string)
	upstreamWorkflowID, _ := env.Payload["workflowDefinitionId"].(string)
	upstreamRunID, _ := env.Payload["workflowRunId"].(string)
	upstreamStepID, _ := env.Payload["stepId"].(string)
	partitionKey, _ := env.Payload["partitionKey"].(string)
	if assetID == "" {
		return fmt.Errorf("asset.produced envelope missing assetId")
	}

	defs, err := m.store.ListWorkflowDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list workflow definitions: %w", err)
	}

	var lastErr error
	for _, def := range defs {
		downstream, priority, ok := matchingAutoMaterializeAsset(def, assetID)
		if !ok {
			continue
		}
		if err := m.materialize(ctx, def, downstream, priority, partitionKey, env, upstreamWorkflowID, upstreamRunID, upstreamStepID, assetID); err != nil {
			m.logger.Error("materialize downstream workflow failed", "workflowDefinitionId", def.ID, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// matchingAutoMaterializeAsset reports whether def consumes assetID and
// also produces a downstream asset with onUpstreamUpdate set: a step
// declaring consumes[].assetId == assetID, and some step on the same
// workflow declaring produces[].assetId == downstreamAssetId with
// autoMaterialize.onUpstreamUpdate = true.
func matchingAutoMaterializeAsset(def *model.WorkflowDefinition, assetID string) (downstreamAssetID string, priority int, ok bool) {
	consumesUpstream := false
	for _, step := range def.Steps {
		for _, consumed := range step.Consumes {
			if consumed.AssetID == assetID {
				consumesUpstream = true
			}
		}
	}
	if !consumesUpstream {
		return "", 0, false
	}

	for _, step := range def.Steps {
		for _, produced := range step.Produces {
			if produced.AutoMaterialize != nil && produced.AutoMaterialize.OnUpstreamUpdate {
				return produced.AssetID, produced.AutoMaterialize.Priority, true
			}
		}
	}
	return "", 0, false
}

func (m *Materializer) materialize(ctx context.Context, def *model.WorkflowDefinition, downstreamAssetID string, priority int, partitionKey string, env eventbus.Envelope, upstreamWorkflowID, upstreamRunID, upstreamStepID, upstreamAssetID string) error {
	key := debounceKey{workflowDefinitionID: def.ID, partitionKey: partitionKey}
	keyLock := m.lockFor(key)
	keyLock.Lock()
	defer keyLock.Unlock()

	if m.isStale(key, env.OccurredAt) {
		return nil
	}

	inFlight, err := m.hasInFlightRun(ctx, def.ID, partitionKey)
	if err != nil {
		return fmt.Errorf("check in-flight runs: %w", err)
	}
	if inFlight {
		m.markProcessed(key, env.OccurredAt)
		return nil
	}

	parameters, err := m.reuseParameters(ctx, def, partitionKey)
	if err != nil {
		return fmt.Errorf("resolve parameters: %w", err)
	}

	run := &model.WorkflowRun{
		ID:                   uuid.NewString(),
		WorkflowDefinitionID: def.ID,
		Status:               model.WorkflowRunPending,
		Parameters:           parameters,
		Context:              model.NewRunContext(),
		PartitionKey:         partitionKey,
		Trigger: model.TriggerDescriptor{
			Type:   "auto-materialize",
			Reason: "upstream-update",
			Upstream: map[string]interface{}{
				"assetId":    upstreamAssetID,
				"producedAt": env.OccurredAt,
				"runId":      upstreamRunID,
				"stepId":     upstreamStepID,
			},
			Priority: priority,
		},
		TriggeredBy: "asset-materializer",
		CreatedAt:   time.Now(),
	}

	if err := m.store.CreateWorkflowRun(ctx, run); err != nil {
		return fmt.Errorf("create workflow run: %w", err)
	}
	m.markProcessed(key, env.OccurredAt)

	m.logger.Info("auto-materializing downstream workflow", "workflowDefinitionId", def.ID, "downstreamAssetId", downstreamAssetID, "partitionKey", partitionKey, "workflowRunId", run.ID)
	if m.dispatch != nil {
		m.dispatch(ctx, run.ID)
	}
	return nil
}

// hasInFlightRun reports whether def already has a non-terminal run for
// partitionKey, in which case the new upstream update will be observed
// by that run and a fresh one is unnecessary.
func (m *Materializer) hasInFlightRun(ctx context.Context, workflowDefinitionID, partitionKey string) (bool, error) {
	runs, err := m.store.ListWorkflowRunsByPartition(ctx, workflowDefinitionID, partitionKey)
	if err != nil {
		return false, err
	}
	for _, r := range runs {
		if r.Status == model.WorkflowRunPending || r.Status == model.WorkflowRunRunning {
			return true, nil
		}
	}
	return false, nil
}

// reuseParameters carries forward the most recent succeeded run's
// parameters for partitionKey, falling back to the workflow's
// defaultParameters.
func (m *Materializer) reuseParameters(ctx context.Context, def *model.WorkflowDefinition, partitionKey string) (map[string]interface{}, error) {
	runs, err := m.store.ListWorkflowRunsByPartition(ctx, def.ID, partitionKey)
	if err != nil {
		return nil, err
	}

	var latestSucceeded *model.WorkflowRun
	for _, r := range runs {
		if r.Status != model.WorkflowRunSucceeded {
			continue
		}
		if latestSucceeded == nil || runCompletedAfter(r, latestSucceeded) {
			latestSucceeded = r
		}
	}
	if latestSucceeded != nil {
		return latestSucceeded.Parameters, nil
	}
	return def.DefaultParameters, nil
}

func runCompletedAfter(a, b *model.WorkflowRun) bool {
	if a.CompletedAt == nil {
		return false
	}
	if b.CompletedAt == nil {
		return true
	}
	return a.CompletedAt.After(*b.CompletedAt)
}

// isStale reports whether occurredAt is at or before the last event
// timestamp processed for key; events older than the stored timestamp
// for that key are dropped.
func (m *Materializer) isStale(key debounceKey, occurredAt time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastEvent[key]
	return ok && !occurredAt.After(last)
}

func (m *Materializer) markProcessed(key debounceKey, occurredAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastEvent[key]; !ok || occurredAt.After(last) {
		m.lastEvent[key] = occurredAt
	}
}

func (m *Materializer) lockFor(key debounceKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[key] = l
	}
	return l
}
