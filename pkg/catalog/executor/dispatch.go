package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	catalogerrors "github.com/flowforge/catalog/pkg/errors"
	"github.com/flowforge/catalog/pkg/catalog/eventbus"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

// ServiceCaller issues the templated HTTP request a service step builds.
// The executor depends on this narrow interface rather than *http.Client
// directly so tests can substitute a fake without standing up a server.
type ServiceCaller interface {
	Do(req *http.Request) (*http.Response, error)
}

// dispatchJobStep runs a job step to completion, retrying per its (or the
// job definition's) retry policy, templating parameters against the run's
// current context, and persisting the result/asset materializations on
// success.
func (e *Executor) dispatchJobStep(ctx context.Context, def *model.WorkflowDefinition, runID string, step *model.Step) error {
	run, err := e.Store.GetWorkflowRun(ctx, runID)
	if err != nil {
		return err
	}

	jobDef, err := e.Store.GetJobDefinition(ctx, step.JobSlug)
	if err != nil {
		return fmt.Errorf("job definition %q not found: %w", step.JobSlug, err)
	}

	policy := step.RetryPolicy
	if policy == nil {
		policy = jobDef.RetryPolicy
	}
	attempts := maxAttempts(policy)

	tctx := buildTemplateContext(run)
	parameters, _ := renderValue(step.Parameters, tctx).(map[string]interface{})

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		jobRunID := fmt.Sprintf("%s:%s:%d", runID, step.ID, attempt)
		jobRun := &model.JobRun{
			ID:              jobRunID,
			JobDefinitionID: jobDef.Slug,
			Status:        model.JobRunPending,
			Parameters:    parameters,
			Attempt:       attempt,
			ScheduledAt:   time.Now(),
			Context:       map[string]interface{}{},
		}
		if step.Bundle != nil {
			jobRun.Context["__workflowBundle"] = bundleOverride(step.Bundle)
		}
		if step.TimeoutMs != nil {
			jobRun.TimeoutMs = step.TimeoutMs
		}

		if err := e.Store.CreateJobRun(ctx, jobRun); err != nil {
			return err
		}

		completed, err := e.JobRuntime.ExecuteJobRun(ctx, jobRunID)
		if err != nil {
			return err
		}

		if completed.Status == model.JobRunSucceeded {
			e.recordJobRunStep(ctx, runID, step, completed, attempt)
			e.storeJobResult(ctx, runID, step, completed)
			return nil
		}

		lastErr = fmt.Errorf("%s: %s", completed.Status, completed.ErrorMessage)
		e.recordJobRunStep(ctx, runID, step, completed, attempt)

		if attempt < attempts {
			e.bumpRetryCount(ctx, runID)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(policy, attempt)):
			}
		}
	}

	return lastErr
}

func bundleOverride(b *model.StepBundleBinding) map[string]interface{} {
	out := map[string]interface{}{"slug": b.Slug, "exportName": b.ExportName}
	if b.Strategy == model.BundleStrategyPinned && b.Version != nil {
		out["version"] = fmt.Sprint(*b.Version)
	} else {
		out["version"] = "latest"
	}
	return out
}

func (e *Executor) bumpRetryCount(ctx context.Context, runID string) {
	e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
		r.RetrySummary.TotalRetries++
		return nil
	})
}

func (e *Executor) recordJobRunStep(ctx context.Context, runID string, step *model.Step, jobRun *model.JobRun, attempt int) {
	runStep := &model.WorkflowRunStep{
		ID:            fmt.Sprintf("%s:%s", runID, step.ID),
		WorkflowRunID: runID,
		StepID:        step.ID,
		Attempt:       attempt,
		JobRunID:      jobRun.ID,
		Output:        jobRun.Result,
		Metrics:       jobRun.Metrics,
	}
	switch jobRun.Status {
	case model.JobRunSucceeded:
		runStep.Status = model.RunStepSucceeded
	default:
		runStep.Status = model.RunStepFailed
	}
	e.Store.PutWorkflowRunStep(ctx, runStep)
}

// storeJobResult writes the job's result into the run's per-step state,
// `storeResultAs` into the shared bag, and persists any declared asset
// materializations.
func (e *Executor) storeJobResult(ctx context.Context, runID string, step *model.Step, jobRun *model.JobRun) {
	e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
		state := r.Context.StepState(step.ID)
		state.Result = jobRun.Result
		if step.StoreResultAs != "" {
			r.Context.Shared[step.StoreResultAs] = jobRun.Result
		}
		return nil
	})

	for _, asset := range step.Produces {
		payload := jobRun.Result
		if v, ok := jobRun.Result[asset.AssetID]; ok {
			if m, ok := v.(map[string]interface{}); ok {
				payload = m
			}
		}
		mat := &model.AssetMaterialization{
			WorkflowRunID:     runID,
			WorkflowRunStepID: fmt.Sprintf("%s:%s", runID, step.ID),
			StepID:            step.ID,
			AssetID:           asset.AssetID,
			Payload:           payload,
			Schema:            asset.Schema,
			Freshness:         asset.Freshness,
			ProducedAt:        time.Now(),
		}
		if asset.Partitioning != nil {
			run, err := e.Store.GetWorkflowRun(ctx, runID)
			if err == nil {
				mat.PartitionKey = run.PartitionKey
			}
		}
		if err := e.Store.PutAssetMaterialization(ctx, mat); err != nil {
			e.logger().Warn("put asset materialization failed", "error", err, "assetId", asset.AssetID)
			continue
		}
		if e.Bus != nil {
			e.Bus.Publish(ctx, eventbus.Envelope{
				ID:   fmt.Sprintf("%s:%s:asset-produced", runID, step.ID),
				Type: eventbus.EventAssetProduced,
				Source: "executor",
				OccurredAt: time.Now(),
				Payload: map[string]interface{}{
					"assetId":       asset.AssetID,
					"partitionKey":  mat.PartitionKey,
					"workflowRunId": runID,
					"stepId":        step.ID,
				},
			})
		}
	}
}

// dispatchServiceStep issues a templated HTTP request against a
// registered service, gated by the service's reported health.
func (e *Executor) dispatchServiceStep(ctx context.Context, runID string, step *model.Step) error {
	run, err := e.Store.GetWorkflowRun(ctx, runID)
	if err != nil {
		return err
	}
	if e.Services == nil {
		return &catalogerrors.ValidationError{Field: "services", Message: "no service directory configured"}
	}

	svc, err := e.Services.Lookup(ctx, step.ServiceSlug)
	if err != nil {
		return fmt.Errorf("service %q not found: %w", step.ServiceSlug, err)
	}
	if step.RequireHealthy && svc.Status == ServiceUnhealthy {
		return &catalogerrors.ValidationError{Field: "serviceSlug", Message: fmt.Sprintf("service %q is unhealthy", step.ServiceSlug)}
	}
	if svc.Status == ServiceDegraded && !step.AllowDegraded && step.RequireHealthy {
		return &catalogerrors.ValidationError{Field: "serviceSlug", Message: fmt.Sprintf("service %q is degraded and allowDegraded is false", step.ServiceSlug)}
	}

	policy := step.RetryPolicy
	attempts := maxAttempts(policy)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, input, err := e.callService(ctx, run, svc, step)
		if err == nil {
			e.recordServiceStep(ctx, runID, step, input, resp)
			e.storeServiceResult(ctx, runID, step, resp)
			return nil
		}
		lastErr = err
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(policy, attempt)):
			}
		}
	}
	return lastErr
}

func (e *Executor) callService(ctx context.Context, run *model.WorkflowRun, svc *ServiceDescriptor, step *model.Step) (map[string]interface{}, map[string]interface{}, error) {
	tctx := buildTemplateContext(run)
	req := step.Request

	path := stringify(renderString(req.Path, tctx))
	target := svc.BaseURL + path

	query := url.Values{}
	for k, v := range req.Query {
		query.Set(k, stringify(renderValue(v, tctx)))
	}

	var bodyReader io.Reader
	input := map[string]interface{}{"method": string(req.Method), "path": path}
	if req.Body != nil {
		rendered := renderValue(req.Body, tctx)
		b, err := json.Marshal(rendered)
		if err != nil {
			return nil, input, err
		}
		bodyReader = bytes.NewReader(b)
		input["body"] = rendered
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), target, bodyReader)
	if err != nil {
		return nil, input, err
	}
	if len(query) > 0 {
		httpReq.URL.RawQuery = query.Encode()
	}

	loggedHeaders := map[string]string{}
	for name, hv := range req.Headers {
		value, err := e.resolveHeader(ctx, hv)
		if err != nil {
			return nil, input, fmt.Errorf("resolve header %q: %w", name, err)
		}
		httpReq.Header.Set(name, value)
		if name == "Authorization" || hv.IsSecret() {
			loggedHeaders[name] = "***"
		} else {
			loggedHeaders[name] = value
		}
	}
	input["headers"] = loggedHeaders

	if e.HTTP == nil {
		return nil, input, fmt.Errorf("no http caller configured")
	}
	resp, err := e.HTTP.Do(httpReq)
	if err != nil {
		return nil, input, err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, input, fmt.Errorf("service %q returned status %d", svc.Slug, resp.StatusCode)
	}

	result := map[string]interface{}{"statusCode": resp.StatusCode}
	if step.CaptureResponse && len(bodyBytes) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(bodyBytes, &decoded); err == nil {
			result["body"] = decoded
		} else {
			result["body"] = string(bodyBytes)
		}
	}
	return result, input, nil
}

func (e *Executor) resolveHeader(ctx context.Context, hv model.HeaderValue) (string, error) {
	if !hv.IsSecret() {
		return hv.Prefix + hv.Literal, nil
	}
	if e.Resolve == nil {
		return "", fmt.Errorf("no secret resolver configured")
	}
	value, err := e.Resolve(ctx, *hv.Secret)
	if err != nil {
		return "", err
	}
	return hv.Prefix + value, nil
}

func (e *Executor) recordServiceStep(ctx context.Context, runID string, step *model.Step, input, output map[string]interface{}) {
	e.Store.PutWorkflowRunStep(ctx, &model.WorkflowRunStep{
		ID:            fmt.Sprintf("%s:%s", runID, step.ID),
		WorkflowRunID: runID,
		StepID:        step.ID,
		Status:        model.RunStepSucceeded,
		Input:         input,
		Output:        output,
	})
}

func (e *Executor) storeServiceResult(ctx context.Context, runID string, step *model.Step, result map[string]interface{}) {
	e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
		state := r.Context.StepState(step.ID)
		state.Service = result
		if step.StoreResponseAs != "" {
			r.Context.Shared[step.StoreResponseAs] = result
		}
		return nil
	})
}

// dispatchFanoutStep expands `collection` into one child invocation of
// `template` per item, bounded by maxItems/maxConcurrency, and aggregates
// the children's results in input order.
func (e *Executor) dispatchFanoutStep(ctx context.Context, def *model.WorkflowDefinition, runID string, step *model.Step) error {
	run, err := e.Store.GetWorkflowRun(ctx, runID)
	if err != nil {
		return err
	}

	tctx := buildTemplateContext(run)
	collectionValue, ok := resolveTemplatePath(trimTemplate(step.Collection), tctx)
	if !ok {
		return catalogerrors.NewFanoutCollectionNotArray(step.ID)
	}
	items, ok := collectionValue.([]interface{})
	if !ok {
		return catalogerrors.NewFanoutCollectionNotArray(step.ID)
	}
	if step.MaxItems > 0 && len(items) > step.MaxItems {
		return catalogerrors.NewFanoutLimitExceeded(step.ID, len(items), step.MaxItems)
	}

	concurrency := step.MaxConcurrency
	if concurrency <= 0 {
		concurrency = len(items)
		if concurrency == 0 {
			concurrency = 1
		}
	}

	results := make([]interface{}, len(items))
	errs := make([]error, len(items))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(index int, item interface{}) {
			defer wg.Done()
			defer func() { <-sem }()
			result, err := e.dispatchFanoutChild(ctx, def, runID, step, item, index)
			results[index] = result
			errs[index] = err
		}(i, item)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("fanout child %d failed: %w", i, err)
		}
	}

	if step.StoreResultsAs != "" {
		e.Store.UpdateWorkflowRun(ctx, runID, func(r *model.WorkflowRun) error {
			r.Context.Shared[step.StoreResultsAs] = results
			return nil
		})
	}
	return nil
}

func (e *Executor) dispatchFanoutChild(ctx context.Context, def *model.WorkflowDefinition, runID string, step *model.Step, item interface{}, index int) (interface{}, error) {
	childID := fmt.Sprintf("%s:%s:%d", step.ID, step.Template.ID, index+1)

	run, err := e.Store.GetWorkflowRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	base := buildTemplateContext(run)
	childCtx := withFanoutItem(base, item, index+1)

	child := *step.Template
	child.Parameters, _ = renderValue(child.Parameters, childCtx).(map[string]interface{})

	var result interface{}
	var dispatchErr error
	switch child.Type {
	case model.StepTypeJob:
		dispatchErr = e.dispatchJobStep(ctx, def, runID, &child)
		if dispatchErr == nil {
			refreshed, _ := e.Store.GetWorkflowRun(ctx, runID)
			if refreshed != nil {
				result = refreshed.Context.StepState(child.ID).Result
			}
		}
	case model.StepTypeService:
		dispatchErr = e.dispatchServiceStep(ctx, runID, &child)
		if dispatchErr == nil {
			refreshed, _ := e.Store.GetWorkflowRun(ctx, runID)
			if refreshed != nil {
				result = refreshed.Context.StepState(child.ID).Service
			}
		}
	default:
		dispatchErr = fmt.Errorf("fanout template step type %q not supported", child.Type)
	}

	idxPtr := index
	e.Store.PutWorkflowRunStep(ctx, &model.WorkflowRunStep{
		ID:             childID,
		WorkflowRunID:  runID,
		StepID:         childID,
		ParentStepID:   step.ID,
		TemplateStepID: step.Template.ID,
		FanoutIndex:    &idxPtr,
		Status:         fanoutChildStatus(dispatchErr),
	})

	return result, dispatchErr
}

func fanoutChildStatus(err error) model.WorkflowRunStepStatus {
	if err != nil {
		return model.RunStepFailed
	}
	return model.RunStepSucceeded
}

func trimTemplate(path string) string {
	s := path
	for len(s) > 4 && s[:2] == "{{" && s[len(s)-2:] == "}}" {
		s = s[2 : len(s)-2]
		break
	}
	return trimSpaces(s)
}

func trimSpaces(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

