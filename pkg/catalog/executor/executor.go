// Package executor implements the workflow executor: traversing a
// validated DAG, dispatching job/service/fan-out steps with retries and
// templated parameters, and aggregating step outputs into the run's
// shared context.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flowforge/catalog/pkg/catalog/eventbus"
	"github.com/flowforge/catalog/pkg/catalog/expression"
	"github.com/flowforge/catalog/pkg/catalog/jobruntime"
	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
	"github.com/flowforge/catalog/pkg/catalog/telemetry"
)

// ServiceStatus mirrors the health state the (out-of-scope) service
// registry reports for a registered service.
type ServiceStatus string

const (
	ServiceHealthy   ServiceStatus = "healthy"
	ServiceDegraded  ServiceStatus = "degraded"
	ServiceUnhealthy ServiceStatus = "unhealthy"
)

// ServiceDescriptor is the slice of a registered service's record the
// executor needs to dispatch a service step.
type ServiceDescriptor struct {
	Slug    string
	BaseURL string
	Status  ServiceStatus
}

// ServiceDirectory is the interface the executor consumes for service
// lookups; the service registry CRUD surface itself is an external
// collaborator and out of scope for the core.
type ServiceDirectory interface {
	Lookup(ctx context.Context, slug string) (*ServiceDescriptor, error)
}

// Executor wires the collaborators the Workflow Executor needs: the
// record store, event bus, job runtime, service directory, an HTTP
// dispatcher for service steps, and secret resolution for header refs.
type Executor struct {
	Store       store.RecordStore
	Bus         eventbus.Bus
	JobRuntime  *jobruntime.Runtime
	Services    ServiceDirectory
	HTTP        ServiceCaller
	Resolve     func(ctx context.Context, ref model.SecretRef) (string, error)
	Logger      *slog.Logger
	Metrics     *telemetry.Metrics

	// Concurrency bounds the number of steps dispatched in parallel
	// across the whole run (must be >=1).
	Concurrency int

	conditions     *expression.Evaluator
	conditionsOnce sync.Once
}

// evaluator returns the (lazily constructed) condition-expression
// evaluator used to gate steps carrying a non-empty Condition.
func (e *Executor) evaluator() *expression.Evaluator {
	e.conditionsOnce.Do(func() {
		e.conditions = expression.New()
	})
	return e.conditions
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Executor) metrics() *telemetry.Metrics {
	if e.Metrics != nil {
		return e.Metrics
	}
	return telemetry.NoopMetrics()
}

func (e *Executor) concurrency() int {
	if e.Concurrency <= 0 {
		return 4
	}
	return e.Concurrency
}

// Run advances the workflow run identified by runID to a terminal
// status, resuming at whatever steps are not yet terminal — the
// executor is idempotent with respect to step completion.
func (e *Executor) Run(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	run, err := e.Store.GetWorkflowRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return run, nil
	}

	def, err := e.Store.GetWorkflowDefinition(ctx, run.WorkflowDefinitionID)
	if err != nil {
		return e.failRun(ctx, run, "workflow definition not found: "+err.Error())
	}
	if def.DAG == nil {
		return e.failRun(ctx, run, "workflow definition has no computed dag")
	}

	if run.Status == model.WorkflowRunPending {
		run, err = e.Store.UpdateWorkflowRun(ctx, run.ID, func(r *model.WorkflowRun) error {
			now := time.Now()
			r.Status = model.WorkflowRunRunning
			r.StartedAt = &now
			if r.Context == nil {
				r.Context = model.NewRunContext()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		e.metrics().RecordRunStart(run.ID)
		e.publish(ctx, eventbus.EventWorkflowRunStarted, run, nil)
	}

	for {
		current, err := e.Store.GetWorkflowRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if current.Status == model.WorkflowRunCanceled {
			return current, nil
		}

		ready := e.readySteps(def, current)
		if len(ready) == 0 {
			break
		}

		e.dispatchWave(ctx, def, current, ready)
	}

	return e.finalize(ctx, def, runID)
}

// readySteps returns the steps (in topological-order tie-break) whose
// non-skipped predecessors are all succeeded and whose own status is
// still pending.
func (e *Executor) readySteps(def *model.WorkflowDefinition, run *model.WorkflowRun) []*model.Step {
	orderIndex := map[string]int{}
	for i, id := range def.DAG.TopologicalOrder {
		orderIndex[id] = i
	}

	var ready []*model.Step
	for i := range def.Steps {
		step := &def.Steps[i]
		state := run.Context.StepState(step.ID)
		if state.Status != "pending" {
			continue
		}
		if !e.predecessorsSatisfied(run, step) {
			continue
		}
		ready = append(ready, step)
	}

	sort.Slice(ready, func(i, j int) bool {
		return orderIndex[ready[i].ID] < orderIndex[ready[j].ID]
	})
	return ready
}

func (e *Executor) predecessorsSatisfied(run *model.WorkflowRun, step *model.Step) bool {
	for _, dep := range step.DependsOn {
		state := run.Context.StepState(dep)
		switch state.Status {
		case "succeeded", "skipped":
			continue
		default:
			return false
		}
	}
	return true
}

// dispatchWave runs every ready step concurrently, bounded by
// e.Concurrency, and blocks until the whole wave completes.
func (e *Executor) dispatchWave(ctx context.Context, def *model.WorkflowDefinition, run *model.WorkflowRun, ready []*model.Step) {
	sem := make(chan struct{}, e.concurrency())
	var wg sync.WaitGroup

	for _, step := range ready {
		e.markRunning(ctx, run.ID, step.ID)

		wg.Add(1)
		sem <- struct{}{}
		go func(step *model.Step) {
			defer wg.Done()
			defer func() { <-sem }()
			e.dispatchStep(ctx, def, run.ID, step)
		}(step)
	}

	wg.Wait()
}

func (e *Executor) markRunning(ctx context.Context, runID, stepID string) {
	e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
		state := r.Context.StepState(stepID)
		state.Status = "running"
		state.Attempt++
		r.CurrentStepID = stepID
		return nil
	})
}

// dispatchStep dispatches one step by type, with retry according to its
// (or the job definition's) retry policy.
func (e *Executor) dispatchStep(ctx context.Context, def *model.WorkflowDefinition, runID string, step *model.Step) {
	started := time.Now()

	if step.Condition != "" {
		run, err := e.Store.GetWorkflowRun(ctx, runID)
		if err != nil {
			e.markFailed(ctx, def, runID, step.ID, err)
			return
		}
		tctx := buildTemplateContext(run)
		cond, err := expression.PreprocessTemplate(step.Condition, tctx)
		if err != nil {
			e.markFailed(ctx, def, runID, step.ID, fmt.Errorf("condition: %w", err))
			return
		}
		ok, err := e.evaluator().Evaluate(cond, tctx)
		if err != nil {
			e.markFailed(ctx, def, runID, step.ID, fmt.Errorf("condition: %w", err))
			return
		}
		if !ok {
			e.markConditionSkipped(ctx, def, runID, step.ID)
			e.metrics().RecordStepComplete(ctx, def.ID, step.ID, "skipped", time.Since(started))
			return
		}
	}

	var stepErr error
	switch step.Type {
	case model.StepTypeJob:
		stepErr = e.dispatchJobStep(ctx, def, runID, step)
	case model.StepTypeService:
		stepErr = e.dispatchServiceStep(ctx, runID, step)
	case model.StepTypeFanout:
		stepErr = e.dispatchFanoutStep(ctx, def, runID, step)
	default:
		stepErr = fmt.Errorf("unknown step type %q", step.Type)
	}

	status := "succeeded"
	if stepErr != nil {
		status = "failed"
		e.markFailed(ctx, def, runID, step.ID, stepErr)
	} else {
		e.markSucceeded(ctx, runID, step.ID)
	}
	e.metrics().RecordStepComplete(ctx, def.ID, step.ID, status, time.Since(started))
}

func (e *Executor) markSucceeded(ctx context.Context, runID, stepID string) {
	e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
		r.Context.StepState(stepID).Status = "succeeded"
		r.Metrics.CompletedSteps++
		return nil
	})
}

// markFailed records the failing step and cascades `skipped` to every
// dependent that has not started.
func (e *Executor) markFailed(ctx context.Context, def *model.WorkflowDefinition, runID, stepID string, stepErr error) {
	e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
		state := r.Context.StepState(stepID)
		state.Status = "failed"
		state.Error = stepErr.Error()
		r.Metrics.FailedSteps++
		if r.ErrorMessage == "" {
			r.ErrorMessage = fmt.Sprintf("step %q failed: %s", stepID, stepErr.Error())
		}
		e.cascadeSkip(def, r, stepID)
		return nil
	})
}

// markConditionSkipped records stepID as skipped because its Condition
// evaluated false, then cascades the skip to its dependents exactly as
// a failed step would.
func (e *Executor) markConditionSkipped(ctx context.Context, def *model.WorkflowDefinition, runID, stepID string) {
	e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
		r.Context.StepState(stepID).Status = "skipped"
		r.Metrics.SkippedSteps++
		e.cascadeSkip(def, r, stepID)
		return nil
	})
	e.Store.PutWorkflowRunStep(ctx, &model.WorkflowRunStep{
		ID:            fmt.Sprintf("%s:%s", runID, stepID),
		WorkflowRunID: runID,
		StepID:        stepID,
		Status:        model.RunStepSkipped,
	})
}

func (e *Executor) cascadeSkip(def *model.WorkflowDefinition, run *model.WorkflowRun, failedStepID string) {
	for _, dependentID := range def.DAG.Adjacency[failedStepID] {
		state := run.Context.StepState(dependentID)
		if state.Status == "pending" {
			state.Status = "skipped"
			run.Metrics.SkippedSteps++
			e.cascadeSkip(def, run, dependentID)
		}
	}
}

// finalize computes and persists the run's terminal status: succeeded
// iff every non-skipped step succeeded.
func (e *Executor) finalize(ctx context.Context, def *model.WorkflowDefinition, runID string) (*model.WorkflowRun, error) {
	run, err := e.Store.GetWorkflowRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	succeeded := true
	for i := range def.Steps {
		state := run.Context.StepState(def.Steps[i].ID)
		if state.Status != "succeeded" && state.Status != "skipped" {
			succeeded = false
			break
		}
	}

	status := model.WorkflowRunFailed
	if succeeded {
		status = model.WorkflowRunSucceeded
	}

	run, err = e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
		now := time.Now()
		r.Status = status
		r.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	var runDuration time.Duration
	if run.StartedAt != nil && run.CompletedAt != nil {
		runDuration = run.CompletedAt.Sub(*run.StartedAt)
	}
	e.metrics().RecordRunComplete(ctx, run.ID, run.WorkflowDefinitionID, string(run.Status), run.TriggeredBy, runDuration)

	if status == model.WorkflowRunSucceeded {
		e.publish(ctx, eventbus.EventWorkflowRunSucceeded, run, nil)
	} else {
		e.publish(ctx, eventbus.EventWorkflowRunFailed, run, nil)
	}
	return run, nil
}

func (e *Executor) failRun(ctx context.Context, run *model.WorkflowRun, message string) (*model.WorkflowRun, error) {
	updated, err := e.Store.UpdateWorkflowRun(ctx, run.ID, func(r *model.WorkflowRun) error {
		now := time.Now()
		r.Status = model.WorkflowRunFailed
		r.ErrorMessage = message
		r.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(ctx, eventbus.EventWorkflowRunFailed, updated, nil)
	return updated, nil
}

func (e *Executor) publish(ctx context.Context, eventType string, run *model.WorkflowRun, extra map[string]interface{}) {
	if e.Bus == nil {
		return
	}
	payload := map[string]interface{}{
		"workflowRunId":         run.ID,
		"workflowDefinitionId":  run.WorkflowDefinitionID,
		"status":                string(run.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.Bus.Publish(ctx, eventbus.Envelope{
		ID:         run.ID + ":" + eventType,
		Type:       eventType,
		Source:     "executor",
		Payload:    payload,
		OccurredAt: time.Now(),
	}); err != nil {
		e.logger().Warn("publish workflow run event failed", "error", err, "type", eventType)
	}
}
