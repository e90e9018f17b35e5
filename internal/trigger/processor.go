package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/flowforge/catalog/pkg/catalog/eventbus"
	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/store"
	"github.com/flowforge/catalog/pkg/catalog/telemetry"
)

// Dispatcher hands a newly-enqueued workflow run off to the executor,
// mirroring the scheduler package's own dispatch seam.
type Dispatcher func(ctx context.Context, workflowRunID string)

// Processor implements processEventTriggersForEnvelope: for each
// inbound envelope, it matches active triggers, enforces throttle,
// concurrency, and idempotency, and enqueues matched runs.
type Processor struct {
	store    store.RecordStore
	dispatch Dispatcher
	logger   *slog.Logger
	jq       *jqExecutor
	stats    *telemetry.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Config configures a Processor.
type Config struct {
	Store    store.RecordStore
	Dispatch Dispatcher
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// New constructs a Processor from cfg.
func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    cfg.Store,
		dispatch: cfg.Dispatch,
		logger:   logger.With("component", "trigger"),
		jq:       newJQExecutor(),
		stats:    cfg.Metrics,
		limiters: map[string]*rate.Limiter{},
	}
}

func (p *Processor) metrics() *telemetry.Metrics {
	if p.stats != nil {
		return p.stats
	}
	return telemetry.NoopMetrics()
}

// Subscribe registers the processor's ProcessEnvelope as the handler
// for each of eventTypes on bus, returning a function that unsubscribes
// all of them.
func (p *Processor) Subscribe(bus eventbus.Bus, eventTypes ...string) func() {
	var unsubs []func()
	for _, t := range eventTypes {
		unsubs = append(unsubs, bus.Subscribe(t, func(ctx context.Context, env eventbus.Envelope) error {
			return p.ProcessEnvelope(ctx, env)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// ProcessEnvelope matches env against every active trigger and enqueues runs.
func (p *Processor) ProcessEnvelope(ctx context.Context, env eventbus.Envelope) error {
	triggers, err := p.store.ListActiveEventTriggers(ctx, env.Type, env.Source)
	if err != nil {
		return fmt.Errorf("list active event triggers: %w", err)
	}

	var lastErr error
	for _, trig := range triggers {
		if err := p.processTrigger(ctx, trig, env); err != nil {
			p.logger.Error("trigger processing failed", "triggerId", trig.ID, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (p *Processor) processTrigger(ctx context.Context, trig *model.WorkflowEventTrigger, env eventbus.Envelope) error {
	doc := envelopeDocument(env)

	matched, err := p.matchPredicates(ctx, trig, doc)
	if err != nil {
		return err
	}
	if !matched {
		return nil
	}

	delivery := &model.WorkflowTriggerDelivery{
		ID:                   uuid.NewString(),
		TriggerID:            trig.ID,
		WorkflowDefinitionID: trig.WorkflowDefinitionID,
		EventID:              env.ID,
		Status:               model.DeliveryPending,
		CreatedAt:            time.Now(),
	}

	if throttled, err := p.throttled(ctx, trig); err != nil {
		return p.failDelivery(ctx, delivery, err)
	} else if throttled {
		delivery.Status = model.DeliveryThrottled
		p.metrics().RecordDelivery(ctx, trig.ID, string(delivery.Status))
		return p.store.PutDelivery(ctx, delivery)
	}

	if atCap, err := p.atConcurrencyCap(ctx, trig); err != nil {
		return p.failDelivery(ctx, delivery, err)
	} else if atCap {
		delivery.Status = model.DeliveryThrottled
		p.metrics().RecordDelivery(ctx, trig.ID, string(delivery.Status))
		return p.store.PutDelivery(ctx, delivery)
	}

	idempotencyKey, err := p.idempotencyKey(ctx, trig, doc)
	if err != nil {
		return p.failDelivery(ctx, delivery, err)
	}
	delivery.IdempotencyKey = idempotencyKey

	if idempotencyKey != "" {
		prior, err := p.store.FindLaunchedDeliveryByIdempotencyKey(ctx, trig.ID, idempotencyKey)
		if err != nil && err != store.ErrNotFound {
			return p.failDelivery(ctx, delivery, err)
		}
		if prior != nil {
			delivery.Status = model.DeliverySkipped
			delivery.Attempts = 1
			p.metrics().RecordDelivery(ctx, trig.ID, string(delivery.Status))
			return p.store.PutDelivery(ctx, delivery)
		}
	}

	parameters, err := p.renderParameters(ctx, trig, doc)
	if err != nil {
		return p.failDelivery(ctx, delivery, err)
	}

	runID := uuid.NewString()
	run := &model.WorkflowRun{
		ID:                   runID,
		WorkflowDefinitionID: trig.WorkflowDefinitionID,
		Status:               model.WorkflowRunPending,
		Parameters:           parameters,
		Context:              model.NewRunContext(),
		Trigger: model.TriggerDescriptor{
			Type:      "event",
			TriggerID: trig.ID,
			EventID:   env.ID,
		},
		TriggeredBy: "event-trigger",
		CreatedAt:   time.Now(),
	}

	if err := p.store.CreateWorkflowRun(ctx, run); err != nil {
		return p.failDelivery(ctx, delivery, err)
	}

	delivery.Status = model.DeliveryLaunched
	delivery.WorkflowRunID = runID
	delivery.Attempts = 1
	if err := p.store.PutDelivery(ctx, delivery); err != nil {
		return err
	}
	p.metrics().RecordDelivery(ctx, trig.ID, string(delivery.Status))

	p.logger.Info("launched event-triggered workflow run", "triggerId", trig.ID, "workflowRunId", runID, "eventId", env.ID)
	if p.dispatch != nil {
		p.dispatch(ctx, runID)
	}
	return nil
}

func (p *Processor) failDelivery(ctx context.Context, delivery *model.WorkflowTriggerDelivery, cause error) error {
	delivery.Status = model.DeliveryFailed
	p.metrics().RecordDelivery(ctx, delivery.TriggerID, string(delivery.Status))
	if putErr := p.store.PutDelivery(ctx, delivery); putErr != nil {
		p.logger.Error("failed to persist failed delivery", "error", putErr)
	}
	return cause
}

// throttled applies a local token-bucket as a cheap first-pass gate
// (derived from the trigger's throttleWindowMs/throttleCount), then
// confirms against the authoritative cross-replica count in the store.
// The local limiter avoids hammering the store with a count query for
// every envelope once a trigger is clearly over budget; it cannot by
// itself enforce the limit across replicas.
func (p *Processor) throttled(ctx context.Context, trig *model.WorkflowEventTrigger) (bool, error) {
	if trig.ThrottleWindowMs <= 0 || trig.ThrottleCount <= 0 {
		return false, nil
	}

	if !p.limiterFor(trig).Allow() {
		return true, nil
	}

	windowMs := trig.ThrottleWindowMs
	since := time.Now().Add(-time.Duration(windowMs) * time.Millisecond)
	count, err := p.store.CountLaunchedDeliveries(ctx, trig.ID, since, time.Now())
	if err != nil {
		return false, fmt.Errorf("count launched deliveries: %w", err)
	}
	return count >= trig.ThrottleCount, nil
}

func (p *Processor) limiterFor(trig *model.WorkflowEventTrigger) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[trig.ID]
	if !ok {
		windowSeconds := float64(trig.ThrottleWindowMs) / 1000
		limiter = rate.NewLimiter(rate.Limit(float64(trig.ThrottleCount)/windowSeconds), trig.ThrottleCount)
		p.limiters[trig.ID] = limiter
	}
	return limiter
}

func (p *Processor) atConcurrencyCap(ctx context.Context, trig *model.WorkflowEventTrigger) (bool, error) {
	if trig.MaxConcurrency <= 0 {
		return false, nil
	}
	live, err := p.store.CountLiveDeliveries(ctx, trig.ID)
	if err != nil {
		return false, fmt.Errorf("count live deliveries: %w", err)
	}
	return live >= trig.MaxConcurrency, nil
}

func (p *Processor) idempotencyKey(ctx context.Context, trig *model.WorkflowEventTrigger, doc map[string]interface{}) (string, error) {
	if trig.IdempotencyKeyExpression == "" {
		return "", nil
	}
	value, err := p.jq.Execute(ctx, trig.IdempotencyKeyExpression, doc)
	if err != nil {
		return "", fmt.Errorf("evaluate idempotency key expression: %w", err)
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", value), nil
}

func (p *Processor) renderParameters(ctx context.Context, trig *model.WorkflowEventTrigger, doc map[string]interface{}) (map[string]interface{}, error) {
	if trig.ParameterTemplate == "" {
		return nil, nil
	}
	value, err := p.jq.Execute(ctx, trig.ParameterTemplate, doc)
	if err != nil {
		return nil, fmt.Errorf("evaluate parameter template: %w", err)
	}
	if value == nil {
		return nil, nil
	}

	params, ok := value.(map[string]interface{})
	if ok {
		return params, nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("parameter template did not produce an object: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, fmt.Errorf("parameter template did not produce an object")
	}
	return out, nil
}
