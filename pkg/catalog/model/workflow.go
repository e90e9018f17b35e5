package model

import "time"

// StepType tags the polymorphic Step variant.
type StepType string

const (
	StepTypeJob     StepType = "job"
	StepTypeService StepType = "service"
	StepTypeFanout  StepType = "fanout"
)

// BundleStrategy selects whether a job step pins an exact bundle version
// or resolves "latest" at dispatch time.
type BundleStrategy string

const (
	BundleStrategyPinned BundleStrategy = "pinned"
	BundleStrategyLatest BundleStrategy = "latest"
)

// StepBundleBinding overrides a job step's handler resolution to use a
// specific bundle rather than the job definition's own entry point.
type StepBundleBinding struct {
	Slug       string         `json:"slug" yaml:"slug"`
	Strategy   BundleStrategy `json:"strategy" yaml:"strategy"`
	Version    *int           `json:"version,omitempty" yaml:"version,omitempty"`
	ExportName string         `json:"exportName,omitempty" yaml:"exportName,omitempty"`
}

// PartitioningType enumerates how an asset's history is sliced.
type PartitioningType string

const (
	PartitioningStatic     PartitioningType = "static"
	PartitioningTimeWindow PartitioningType = "timeWindow"
	PartitioningDynamic    PartitioningType = "dynamic"
)

// Partitioning describes how an asset's materializations are keyed.
type Partitioning struct {
	Type        PartitioningType `json:"type" yaml:"type"`
	Keys        []string         `json:"keys,omitempty" yaml:"keys,omitempty"`
	Granularity string           `json:"granularity,omitempty" yaml:"granularity,omitempty"`
	Timezone    string           `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Freshness bounds how long a materialization is considered current.
type Freshness struct {
	TTLMs int64 `json:"ttlMs" yaml:"ttlMs"`
}

// AutoMaterialize configures whether an upstream update should trigger a
// downstream run, and its relative urgency.
type AutoMaterialize struct {
	OnUpstreamUpdate bool `json:"onUpstreamUpdate" yaml:"onUpstreamUpdate"`
	Priority         int  `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// AssetDeclaration is attached to a job step's `produces`/`consumes` list.
type AssetDeclaration struct {
	AssetID         string                 `json:"assetId" yaml:"assetId"`
	Schema          map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`
	Freshness       *Freshness             `json:"freshness,omitempty" yaml:"freshness,omitempty"`
	Partitioning    *Partitioning          `json:"partitioning,omitempty" yaml:"partitioning,omitempty"`
	AutoMaterialize *AutoMaterialize       `json:"autoMaterialize,omitempty" yaml:"autoMaterialize,omitempty"`
}

// HTTPMethod enumerates the methods a service step may issue.
type HTTPMethod string

const (
	MethodGET    HTTPMethod = "GET"
	MethodPOST   HTTPMethod = "POST"
	MethodPUT    HTTPMethod = "PUT"
	MethodPATCH  HTTPMethod = "PATCH"
	MethodDELETE HTTPMethod = "DELETE"
	MethodHEAD   HTTPMethod = "HEAD"
)

// SecretSource names where a header secret reference resolves from.
type SecretSource string

const (
	SecretSourceEnv   SecretSource = "env"
	SecretSourceStore SecretSource = "store"
)

// SecretRef is a reference to a secret value, resolved at dispatch time
// rather than carried as plaintext in the definition.
type SecretRef struct {
	Source  SecretSource `json:"source" yaml:"source"`
	Key     string       `json:"key" yaml:"key"`
	Version string       `json:"version,omitempty" yaml:"version,omitempty"`
}

// HeaderValue is either a literal string or a secret reference with an
// optional prefix (e.g. "Bearer ").
type HeaderValue struct {
	Literal   string     `json:"literal,omitempty" yaml:"literal,omitempty"`
	Secret    *SecretRef `json:"secret,omitempty" yaml:"secret,omitempty"`
	Prefix    string     `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// IsSecret reports whether this header value must be resolved through the
// secret store rather than used literally.
func (h HeaderValue) IsSecret() bool {
	return h.Secret != nil
}

// ServiceRequest is the templated outbound HTTP request a service step
// issues against a registered service.
type ServiceRequest struct {
	Path    string                 `json:"path" yaml:"path"`
	Method  HTTPMethod             `json:"method" yaml:"method"`
	Headers map[string]HeaderValue `json:"headers,omitempty" yaml:"headers,omitempty"`
	Query   map[string]string      `json:"query,omitempty" yaml:"query,omitempty"`
	Body    interface{}            `json:"body,omitempty" yaml:"body,omitempty"`
}

// Step is the polymorphic union of job/service/fanout step kinds. Exactly
// one of the typed payload fields is populated, selected by Type.
type Step struct {
	ID         string   `json:"id" yaml:"id"`
	Type       StepType `json:"type" yaml:"type"`
	DependsOn  []string `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`

	// Condition is a boolean expr-lang expression evaluated against the
	// run's template context (parameters/run/steps/shared) before dispatch. A
	// step whose condition evaluates false is marked skipped rather than
	// dispatched, and its dependents are cascade-skipped as if it had
	// failed. Empty means always run.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Dependents []string `json:"dependents,omitempty" yaml:"dependents,omitempty"`

	// Job step fields.
	JobSlug       string                 `json:"jobSlug,omitempty" yaml:"jobSlug,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	TimeoutMs     *int64                 `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	RetryPolicy   *RetryPolicy           `json:"retryPolicy,omitempty" yaml:"retryPolicy,omitempty"`
	StoreResultAs string                 `json:"storeResultAs,omitempty" yaml:"storeResultAs,omitempty"`
	Produces      []AssetDeclaration     `json:"produces,omitempty" yaml:"produces,omitempty"`
	Consumes      []AssetDeclaration     `json:"consumes,omitempty" yaml:"consumes,omitempty"`
	Bundle        *StepBundleBinding     `json:"bundle,omitempty" yaml:"bundle,omitempty"`

	// Service step fields.
	ServiceSlug     string          `json:"serviceSlug,omitempty" yaml:"serviceSlug,omitempty"`
	Request         *ServiceRequest `json:"request,omitempty" yaml:"request,omitempty"`
	RequireHealthy  bool            `json:"requireHealthy,omitempty" yaml:"requireHealthy,omitempty"`
	AllowDegraded   bool            `json:"allowDegraded,omitempty" yaml:"allowDegraded,omitempty"`
	CaptureResponse bool            `json:"captureResponse,omitempty" yaml:"captureResponse,omitempty"`
	StoreResponseAs string          `json:"storeResponseAs,omitempty" yaml:"storeResponseAs,omitempty"`

	// Fan-out step fields.
	Collection      string `json:"collection,omitempty" yaml:"collection,omitempty"`
	Template        *Step  `json:"template,omitempty" yaml:"template,omitempty"`
	MaxItems        int    `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`
	MaxConcurrency  int    `json:"maxConcurrency,omitempty" yaml:"maxConcurrency,omitempty"`
	StoreResultsAs  string `json:"storeResultsAs,omitempty" yaml:"storeResultsAs,omitempty"`
}

// DAG is the precomputed graph view of a workflow definition's steps,
// persisted alongside the definition so the executor never recomputes it.
type DAG struct {
	Adjacency       map[string][]string `json:"adjacency" yaml:"adjacency"`
	Roots           []string            `json:"roots" yaml:"roots"`
	TopologicalOrder []string           `json:"topologicalOrder" yaml:"topologicalOrder"`
	Edges           [][2]string         `json:"edges" yaml:"edges"`
}

// TriggerConfig is a cron-driven trigger attached to a workflow
// definition's `triggers[]` list (kept distinct from Schedule, the
// persisted runtime record created from it).
type TriggerConfig struct {
	Name     string `json:"name" yaml:"name"`
	Cron     string `json:"cron" yaml:"cron"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	CatchUp  bool   `json:"catchUp,omitempty" yaml:"catchUp,omitempty"`
}

// WorkflowDefinition is the unique-by-slug, version-bumped-on-upsert
// record describing a DAG of steps.
type WorkflowDefinition struct {
	ID                string                  `json:"id" yaml:"id"`
	Slug              string                  `json:"slug" yaml:"slug"`
	Version           int                     `json:"version" yaml:"version"`
	Steps             []Step                  `json:"steps" yaml:"steps"`
	Triggers          []TriggerConfig         `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	EventTriggers     []WorkflowEventTrigger  `json:"eventTriggers,omitempty" yaml:"eventTriggers,omitempty"`
	ParametersSchema  map[string]interface{}  `json:"parametersSchema,omitempty" yaml:"parametersSchema,omitempty"`
	DefaultParameters map[string]interface{}  `json:"defaultParameters,omitempty" yaml:"defaultParameters,omitempty"`
	Metadata          map[string]interface{}  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	DAG               *DAG                    `json:"dag,omitempty" yaml:"dag,omitempty"`
}

// StepByID returns the step with the given id, or nil.
func (w *WorkflowDefinition) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// WorkflowRunStatus enumerates the lifecycle states of a WorkflowRun.
type WorkflowRunStatus string

const (
	WorkflowRunPending   WorkflowRunStatus = "pending"
	WorkflowRunRunning   WorkflowRunStatus = "running"
	WorkflowRunSucceeded WorkflowRunStatus = "succeeded"
	WorkflowRunFailed    WorkflowRunStatus = "failed"
	WorkflowRunCanceled  WorkflowRunStatus = "canceled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s WorkflowRunStatus) IsTerminal() bool {
	switch s {
	case WorkflowRunSucceeded, WorkflowRunFailed, WorkflowRunCanceled:
		return true
	default:
		return false
	}
}

// TriggerDescriptor records how a run was launched, attached to
// WorkflowRun.Trigger.
type TriggerDescriptor struct {
	Type     string                 `json:"type" yaml:"type"`
	Schedule *ScheduleOccurrence    `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	TriggerID string                `json:"triggerId,omitempty" yaml:"triggerId,omitempty"`
	EventID   string                `json:"eventId,omitempty" yaml:"eventId,omitempty"`
	Reason    string                 `json:"reason,omitempty" yaml:"reason,omitempty"`
	Upstream  map[string]interface{} `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	Priority  int                    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// ScheduleOccurrence describes the scheduled window a scheduler-launched
// run corresponds to.
type ScheduleOccurrence struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	Cron       string    `json:"cron" yaml:"cron"`
	Timezone   string    `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Occurrence time.Time `json:"occurrence" yaml:"occurrence"`
	Window     Window    `json:"window" yaml:"window"`
	CatchUp    bool      `json:"catchUp" yaml:"catchUp"`
}

// Window is a half-open [Start, End) schedule interval.
type Window struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// StepRunState is the per-step projection inside WorkflowRun.Context.Steps.
type StepRunState struct {
	Status  string                 `json:"status" yaml:"status"`
	Attempt int                    `json:"attempt" yaml:"attempt"`
	Result  map[string]interface{} `json:"result,omitempty" yaml:"result,omitempty"`
	Error   string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Service map[string]interface{} `json:"service,omitempty" yaml:"service,omitempty"`
}

// RunContext is the mutable per-run scratch space: per-step state plus a
// free-form shared key/value bag written by storeResultAs and friends.
type RunContext struct {
	Steps  map[string]*StepRunState `json:"steps" yaml:"steps"`
	Shared map[string]interface{}   `json:"shared" yaml:"shared"`
	Error  string                   `json:"error,omitempty" yaml:"error,omitempty"`
	Stack  string                   `json:"stack,omitempty" yaml:"stack,omitempty"`
}

// NewRunContext returns a RunContext with initialized maps.
func NewRunContext() *RunContext {
	return &RunContext{
		Steps:  map[string]*StepRunState{},
		Shared: map[string]interface{}{},
	}
}

// StepState returns (creating if absent) the per-step state entry.
func (c *RunContext) StepState(stepID string) *StepRunState {
	if c.Steps == nil {
		c.Steps = map[string]*StepRunState{}
	}
	s, ok := c.Steps[stepID]
	if !ok {
		s = &StepRunState{Status: "pending", Attempt: 0}
		c.Steps[stepID] = s
	}
	return s
}

// RunMetrics tracks step-completion counters surfaced on a WorkflowRun.
type RunMetrics struct {
	TotalSteps     int                    `json:"totalSteps" yaml:"totalSteps"`
	CompletedSteps int                    `json:"completedSteps" yaml:"completedSteps"`
	FailedSteps    int                    `json:"failedSteps,omitempty" yaml:"failedSteps,omitempty"`
	SkippedSteps   int                    `json:"skippedSteps,omitempty" yaml:"skippedSteps,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// RetrySummary aggregates retry activity across a run's steps.
type RetrySummary struct {
	TotalRetries int `json:"totalRetries" yaml:"totalRetries"`
}

// WorkflowRun is a single execution of a workflow definition.
type WorkflowRun struct {
	ID                  string                 `json:"id" yaml:"id"`
	WorkflowDefinitionID string                `json:"workflowDefinitionId" yaml:"workflowDefinitionId"`
	Status              WorkflowRunStatus      `json:"status" yaml:"status"`
	RunKey              string                 `json:"runKey,omitempty" yaml:"runKey,omitempty"`
	Parameters          map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Context             *RunContext            `json:"context" yaml:"context"`
	Output              map[string]interface{} `json:"output,omitempty" yaml:"output,omitempty"`
	CurrentStepID       string                 `json:"currentStepId,omitempty" yaml:"currentStepId,omitempty"`
	CurrentStepIndex    int                    `json:"currentStepIndex,omitempty" yaml:"currentStepIndex,omitempty"`
	Metrics             RunMetrics             `json:"metrics" yaml:"metrics"`
	Trigger             TriggerDescriptor      `json:"trigger" yaml:"trigger"`
	TriggeredBy         string                 `json:"triggeredBy" yaml:"triggeredBy"`
	PartitionKey        string                 `json:"partitionKey,omitempty" yaml:"partitionKey,omitempty"`
	RetrySummary        RetrySummary           `json:"retrySummary" yaml:"retrySummary"`
	ErrorMessage        string                 `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	CreatedAt           time.Time              `json:"createdAt" yaml:"createdAt"`
	StartedAt           *time.Time             `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	CompletedAt         *time.Time             `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// WorkflowRunStepStatus enumerates a step record's lifecycle states.
type WorkflowRunStepStatus string

const (
	RunStepPending   WorkflowRunStepStatus = "pending"
	RunStepRunning   WorkflowRunStepStatus = "running"
	RunStepSucceeded WorkflowRunStepStatus = "succeeded"
	RunStepFailed    WorkflowRunStepStatus = "failed"
	RunStepSkipped   WorkflowRunStepStatus = "skipped"
)

// WorkflowRunStep is the persisted per-step execution record, including
// fan-out children which carry ParentStepID/FanoutIndex/TemplateStepID.
type WorkflowRunStep struct {
	ID             string                 `json:"id" yaml:"id"`
	WorkflowRunID  string                 `json:"workflowRunId" yaml:"workflowRunId"`
	StepID         string                 `json:"stepId" yaml:"stepId"`
	Status         WorkflowRunStepStatus  `json:"status" yaml:"status"`
	Attempt        int                    `json:"attempt" yaml:"attempt"`
	JobRunID       string                 `json:"jobRunId,omitempty" yaml:"jobRunId,omitempty"`
	Input          map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`
	Output         map[string]interface{} `json:"output,omitempty" yaml:"output,omitempty"`
	Metrics        map[string]interface{} `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	ParentStepID   string                 `json:"parentStepId,omitempty" yaml:"parentStepId,omitempty"`
	FanoutIndex    *int                   `json:"fanoutIndex,omitempty" yaml:"fanoutIndex,omitempty"`
	TemplateStepID string                 `json:"templateStepId,omitempty" yaml:"templateStepId,omitempty"`
	StartedAt      *time.Time             `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// Schedule is the persisted cron binding between a workflow definition
// and its periodic materialization cursor.
type Schedule struct {
	ID                     string                 `json:"id" yaml:"id"`
	WorkflowDefinitionID   string                 `json:"workflowDefinitionId" yaml:"workflowDefinitionId"`
	Name                   string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Cron                   string                 `json:"cron" yaml:"cron"`
	Timezone               string                 `json:"timezone" yaml:"timezone"`
	Parameters             map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	StartWindow            *time.Time             `json:"startWindow,omitempty" yaml:"startWindow,omitempty"`
	EndWindow              *time.Time             `json:"endWindow,omitempty" yaml:"endWindow,omitempty"`
	CatchUp                bool                   `json:"catchUp" yaml:"catchUp"`
	NextRunAt              *time.Time             `json:"nextRunAt,omitempty" yaml:"nextRunAt,omitempty"`
	LastMaterializedWindow *Window                `json:"lastMaterializedWindow,omitempty" yaml:"lastMaterializedWindow,omitempty"`
	CatchupCursor          *time.Time             `json:"catchupCursor,omitempty" yaml:"catchupCursor,omitempty"`
	IsActive               bool                   `json:"isActive" yaml:"isActive"`
}

// PredicateOperator enumerates the comparison applied by a trigger
// predicate against the value resolved at Path.
type PredicateOperator string

const (
	OpEquals      PredicateOperator = "equals"
	OpNotEquals   PredicateOperator = "notEquals"
	OpIn          PredicateOperator = "in"
	OpNotIn       PredicateOperator = "notIn"
	OpExists      PredicateOperator = "exists"
	OpGreaterThan PredicateOperator = "greaterThan"
	OpLessThan    PredicateOperator = "lessThan"
	OpMatches     PredicateOperator = "matches"
)

// Predicate is one JSONPath-style condition a trigger's event envelope
// must satisfy; all predicates on a trigger are ANDed together.
type Predicate struct {
	Type     string            `json:"type" yaml:"type"`
	Path     string            `json:"path" yaml:"path"`
	Operator PredicateOperator `json:"operator" yaml:"operator"`
	Value    interface{}       `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []interface{}     `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern  string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// TriggerStatus enables disabling a trigger without deleting it.
type TriggerStatus string

const (
	TriggerActive   TriggerStatus = "active"
	TriggerDisabled TriggerStatus = "disabled"
)

// WorkflowEventTrigger binds a workflow definition to an inbound event
// type/source, a predicate set, and throttle/concurrency/idempotency
// controls.
type WorkflowEventTrigger struct {
	ID                       string      `json:"id" yaml:"id"`
	WorkflowDefinitionID     string      `json:"workflowDefinitionId" yaml:"workflowDefinitionId"`
	Name                     string      `json:"name" yaml:"name"`
	EventType                string      `json:"eventType" yaml:"eventType"`
	EventSource              string      `json:"eventSource,omitempty" yaml:"eventSource,omitempty"`
	Predicates               []Predicate `json:"predicates" yaml:"predicates"`
	ParameterTemplate        string      `json:"parameterTemplate,omitempty" yaml:"parameterTemplate,omitempty"`
	ThrottleWindowMs         int64       `json:"throttleWindowMs,omitempty" yaml:"throttleWindowMs,omitempty"`
	ThrottleCount            int        `json:"throttleCount,omitempty" yaml:"throttleCount,omitempty"`
	MaxConcurrency           int        `json:"maxConcurrency,omitempty" yaml:"maxConcurrency,omitempty"`
	IdempotencyKeyExpression string      `json:"idempotencyKeyExpression,omitempty" yaml:"idempotencyKeyExpression,omitempty"`
	Status                   TriggerStatus `json:"status" yaml:"status"`
	Version                  int         `json:"version" yaml:"version"`
}

// DeliveryStatus enumerates the trigger processor's decision for one
// envelope/trigger pairing.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryMatched   DeliveryStatus = "matched"
	DeliveryLaunched  DeliveryStatus = "launched"
	DeliveryThrottled DeliveryStatus = "throttled"
	DeliverySkipped   DeliveryStatus = "skipped"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WorkflowTriggerDelivery is the audit record of one envelope's
// processing against one trigger.
type WorkflowTriggerDelivery struct {
	ID                   string         `json:"id" yaml:"id"`
	TriggerID            string         `json:"triggerId" yaml:"triggerId"`
	WorkflowDefinitionID string         `json:"workflowDefinitionId" yaml:"workflowDefinitionId"`
	EventID              string         `json:"eventId" yaml:"eventId"`
	Status               DeliveryStatus `json:"status" yaml:"status"`
	Attempts             int            `json:"attempts" yaml:"attempts"`
	WorkflowRunID        string         `json:"workflowRunId,omitempty" yaml:"workflowRunId,omitempty"`
	IdempotencyKey       string         `json:"idempotencyKey,omitempty" yaml:"idempotencyKey,omitempty"`
	CreatedAt            time.Time      `json:"createdAt" yaml:"createdAt"`
}

// AssetMaterialization is the persisted record of a step producing a
// declared asset.
type AssetMaterialization struct {
	WorkflowRunID     string                 `json:"workflowRunId" yaml:"workflowRunId"`
	WorkflowRunStepID string                 `json:"workflowRunStepId" yaml:"workflowRunStepId"`
	StepID            string                 `json:"stepId" yaml:"stepId"`
	AssetID           string                 `json:"assetId" yaml:"assetId"`
	PartitionKey      string                 `json:"partitionKey,omitempty" yaml:"partitionKey,omitempty"`
	Payload           map[string]interface{} `json:"payload" yaml:"payload"`
	Schema            map[string]interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`
	Freshness         *Freshness             `json:"freshness,omitempty" yaml:"freshness,omitempty"`
	ProducedAt        time.Time              `json:"producedAt" yaml:"producedAt"`
}
