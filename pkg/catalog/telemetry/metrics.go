package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics collects Prometheus-compatible counters, histograms, and
// gauges for workflow execution, scheduling, and event-trigger
// delivery. A nil-safe zero value (via noopMetrics) lets callers record
// against a Metrics even when telemetry is disabled.
type Metrics struct {
	meter metric.Meter

	runsTotal       metric.Int64Counter
	stepsTotal      metric.Int64Counter
	deliveriesTotal metric.Int64Counter
	scheduleTicks   metric.Int64Counter

	runDuration  metric.Float64Histogram
	stepDuration metric.Float64Histogram

	activeRuns   map[string]bool
	activeRunsMu sync.RWMutex
	queueDepth   int64
	queueDepthMu sync.RWMutex
}

// newMetrics creates a Metrics using the given meter provider.
func newMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter("catalog")
	m := &Metrics{meter: meter, activeRuns: make(map[string]bool)}

	var err error
	if m.runsTotal, err = meter.Int64Counter(
		"catalog_workflow_runs_total",
		metric.WithDescription("Total number of workflow runs"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, err
	}
	if m.stepsTotal, err = meter.Int64Counter(
		"catalog_workflow_steps_total",
		metric.WithDescription("Total number of workflow steps executed"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, err
	}
	if m.deliveriesTotal, err = meter.Int64Counter(
		"catalog_trigger_deliveries_total",
		metric.WithDescription("Total number of event trigger deliveries"),
		metric.WithUnit("{delivery}"),
	); err != nil {
		return nil, err
	}
	if m.scheduleTicks, err = meter.Int64Counter(
		"catalog_schedule_materializations_total",
		metric.WithDescription("Total number of cron schedule occurrences materialized"),
		metric.WithUnit("{occurrence}"),
	); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram(
		"catalog_workflow_run_duration_seconds",
		metric.WithDescription("Workflow run duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram(
		"catalog_workflow_step_duration_seconds",
		metric.WithDescription("Step execution duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if _, err = meter.Int64ObservableGauge(
		"catalog_active_runs",
		metric.WithDescription("Number of currently active workflow runs"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			m.activeRunsMu.RLock()
			count := len(m.activeRuns)
			m.activeRunsMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	); err != nil {
		return nil, err
	}

	if _, err = meter.Int64ObservableGauge(
		"catalog_scheduler_queue_depth",
		metric.WithDescription("Number of runs enqueued by the scheduler awaiting dispatch"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			m.queueDepthMu.RLock()
			depth := m.queueDepth
			m.queueDepthMu.RUnlock()
			observer.Observe(depth)
			return nil
		}),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// noopMetrics returns a Metrics whose recording methods are safe to
// call but discard their input (nil instruments are never touched).
func noopMetrics() *Metrics {
	return &Metrics{activeRuns: make(map[string]bool)}
}

// NoopMetrics returns a Metrics safe to record against when telemetry
// has not been wired up, for callers that want a non-nil default
// rather than a nil-check at every call site.
func NoopMetrics() *Metrics {
	return noopMetrics()
}

// RecordRunStart records the start of a workflow run.
func (m *Metrics) RecordRunStart(runID string) {
	m.activeRunsMu.Lock()
	m.activeRuns[runID] = true
	m.activeRunsMu.Unlock()
}

// RecordRunComplete records the completion of a workflow run.
func (m *Metrics) RecordRunComplete(ctx context.Context, runID, workflowDefinitionID, status, triggeredBy string, duration time.Duration) {
	m.activeRunsMu.Lock()
	delete(m.activeRuns, runID)
	m.activeRunsMu.Unlock()

	if m.runsTotal == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("workflow", workflowDefinitionID),
		attribute.String("status", status),
		attribute.String("triggeredBy", triggeredBy),
	}
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordStepComplete records the completion of one workflow step.
func (m *Metrics) RecordStepComplete(ctx context.Context, workflowDefinitionID, stepID, status string, duration time.Duration) {
	if m.stepsTotal == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("workflow", workflowDefinitionID),
		attribute.String("step", stepID),
		attribute.String("status", status),
	}
	m.stepsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDelivery records one event trigger delivery outcome.
func (m *Metrics) RecordDelivery(ctx context.Context, triggerID, status string) {
	if m.deliveriesTotal == nil {
		return
	}
	m.deliveriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", triggerID),
		attribute.String("status", status),
	))
}

// RecordScheduleMaterialization records one cron occurrence materialized
// into a workflow run.
func (m *Metrics) RecordScheduleMaterialization(ctx context.Context, scheduleID string, catchUp bool) {
	if m.scheduleTicks == nil {
		return
	}
	m.scheduleTicks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("schedule", scheduleID),
		attribute.Bool("catchUp", catchUp),
	))
}

// IncrementQueueDepth increments the scheduler's pending-dispatch depth.
func (m *Metrics) IncrementQueueDepth() {
	m.queueDepthMu.Lock()
	m.queueDepth++
	m.queueDepthMu.Unlock()
}

// DecrementQueueDepth decrements the scheduler's pending-dispatch depth.
func (m *Metrics) DecrementQueueDepth() {
	m.queueDepthMu.Lock()
	if m.queueDepth > 0 {
		m.queueDepth--
	}
	m.queueDepthMu.Unlock()
}
