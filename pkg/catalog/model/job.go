// Package model holds the catalog service's persisted entities: job and
// workflow definitions, runs, schedules, triggers, and asset lineage
// records. Types here carry both `json` and `yaml` tags so the record
// store can persist them as JSON columns while the CLI can load/dump them
// as YAML definitions.
package model

import "time"

// Runtime identifies the sandbox implementation a job's bundle executes
// under.
type Runtime string

const (
	RuntimeNode   Runtime = "node"
	RuntimePython Runtime = "python"
	RuntimeDocker Runtime = "docker"
)

// RetryStrategy selects the backoff shape between retry attempts.
type RetryStrategy string

const (
	RetryStrategyFixed       RetryStrategy = "fixed"
	RetryStrategyExponential RetryStrategy = "exponential"
)

// RetryPolicy governs how many times and how a failed step or job is
// retried before it is considered terminally failed.
type RetryPolicy struct {
	MaxAttempts     int           `json:"maxAttempts" yaml:"maxAttempts"`
	Strategy        RetryStrategy `json:"strategy" yaml:"strategy"`
	InitialDelayMs  int64         `json:"initialDelayMs" yaml:"initialDelayMs"`
	MaxDelayMs      int64         `json:"maxDelayMs,omitempty" yaml:"maxDelayMs,omitempty"`
	Jitter          bool          `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// JobDefinition is the immutable-identity, version-bumped-on-upsert
// record describing a sandboxed handler.
type JobDefinition struct {
	ID                string                 `json:"id" yaml:"id"`
	Slug              string                 `json:"slug" yaml:"slug"`
	Name              string                 `json:"name" yaml:"name"`
	Version           int                    `json:"version" yaml:"version"`
	Runtime           Runtime                `json:"runtime" yaml:"runtime"`
	EntryPoint        string                 `json:"entryPoint" yaml:"entryPoint"`
	ParametersSchema  map[string]interface{} `json:"parametersSchema,omitempty" yaml:"parametersSchema,omitempty"`
	DefaultParameters map[string]interface{} `json:"defaultParameters,omitempty" yaml:"defaultParameters,omitempty"`
	TimeoutMs         *int64                 `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	RetryPolicy       *RetryPolicy           `json:"retryPolicy,omitempty" yaml:"retryPolicy,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsBundleBinding reports whether the entry point names a bundle handler
// rather than a statically registered one.
func (j *JobDefinition) IsBundleBinding() bool {
	return len(j.EntryPoint) > len("bundle:") && j.EntryPoint[:len("bundle:")] == "bundle:"
}

// ArtifactStorage names the backend a bundle's artifact bytes live in.
type ArtifactStorage string

const (
	ArtifactStorageLocal ArtifactStorage = "local"
	ArtifactStorageS3    ArtifactStorage = "s3"
)

// BundleStatus tracks the lifecycle of a published bundle version.
type BundleStatus string

const (
	BundleStatusPublished  BundleStatus = "published"
	BundleStatusDeprecated BundleStatus = "deprecated"
)

// BundleManifest is the `manifest.json` carried inside a bundle archive.
type BundleManifest struct {
	Entry        string                 `json:"entry" yaml:"entry"`
	Capabilities []string               `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// HasCapability reports whether the manifest declares the named
// capability flag (e.g. "fs", "network").
func (m BundleManifest) HasCapability(name string) bool {
	for _, c := range m.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// JobBundleVersion is a published, content-addressed bundle artifact.
// Once Immutable, its manifest and checksum are frozen.
type JobBundleVersion struct {
	BundleSlug      string          `json:"bundleSlug" yaml:"bundleSlug"`
	Version         int             `json:"version" yaml:"version"`
	Manifest        BundleManifest  `json:"manifest" yaml:"manifest"`
	Checksum        string          `json:"checksum" yaml:"checksum"`
	ArtifactStorage ArtifactStorage `json:"artifactStorage" yaml:"artifactStorage"`
	ArtifactPath    string          `json:"artifactPath" yaml:"artifactPath"`
	Immutable       bool            `json:"immutable" yaml:"immutable"`
	Status          BundleStatus    `json:"status" yaml:"status"`
}

// JobRunStatus enumerates the lifecycle states of a JobRun.
type JobRunStatus string

const (
	JobRunPending   JobRunStatus = "pending"
	JobRunRunning   JobRunStatus = "running"
	JobRunSucceeded JobRunStatus = "succeeded"
	JobRunFailed    JobRunStatus = "failed"
	JobRunCanceled  JobRunStatus = "canceled"
	JobRunExpired   JobRunStatus = "expired"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobRunStatus) IsTerminal() bool {
	switch s {
	case JobRunSucceeded, JobRunFailed, JobRunCanceled, JobRunExpired:
		return true
	default:
		return false
	}
}

// JobRun is a single execution of a job definition.
type JobRun struct {
	ID               string                 `json:"id" yaml:"id"`
	JobDefinitionID  string                 `json:"jobDefinitionId" yaml:"jobDefinitionId"`
	Status           JobRunStatus           `json:"status" yaml:"status"`
	Parameters       map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Result           map[string]interface{} `json:"result,omitempty" yaml:"result,omitempty"`
	ErrorMessage     string                 `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	Metrics          map[string]interface{} `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
	Attempt          int                    `json:"attempt" yaml:"attempt"`
	MaxAttempts      *int                   `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	TimeoutMs        *int64                 `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	ScheduledAt      time.Time              `json:"scheduledAt" yaml:"scheduledAt"`
	StartedAt        *time.Time             `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	LastHeartbeatAt  *time.Time             `json:"lastHeartbeatAt,omitempty" yaml:"lastHeartbeatAt,omitempty"`
}

// EnsureContext lazily initializes Context so callers can write into it
// without a nil-map panic.
func (r *JobRun) EnsureContext() map[string]interface{} {
	if r.Context == nil {
		r.Context = map[string]interface{}{}
	}
	return r.Context
}
