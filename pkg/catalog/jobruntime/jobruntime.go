// Package jobruntime implements the job runtime: resolving a job
// run's handler (a statically registered Go function or a sandboxed
// bundle), feeding it parameters, and recording the run's lifecycle in
// the record store.
package jobruntime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	catalogerrors "github.com/flowforge/catalog/pkg/errors"
	"github.com/flowforge/catalog/pkg/catalog/bundle"
	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/sandbox"
	"github.com/flowforge/catalog/pkg/catalog/store"
)

// Handler is a statically registered job handler, run directly in the
// daemon process rather than inside a sandbox.
type Handler func(ctx context.Context, jc *JobRunContext) (map[string]interface{}, error)

// JobRunContext is the collaborator surface offered to a running
// handler: heartbeat/update persistence and structured logging. It
// carries no secret resolver.
type JobRunContext struct {
	Run        *model.JobRun
	Parameters map[string]interface{}
	Logger     *slog.Logger

	store store.RecordStore
}

// Update persists partial fields into the run's context (metrics are
// left unchanged) and
// refreshes the local heartbeat timestamp. Every call is a suspension
// point, per the concurrency model — handlers must not expect silent
// background heartbeats.
func (jc *JobRunContext) Update(ctx context.Context, partial map[string]interface{}) error {
	_, err := jc.store.UpdateJobRun(ctx, jc.Run.ID, func(r *model.JobRun) error {
		now := time.Now()
		r.LastHeartbeatAt = &now
		ctxMap := r.EnsureContext()
		for k, v := range partial {
			ctxMap[k] = v
		}
		return nil
	})
	return err
}

// Heartbeat stamps the run's lastHeartbeatAt without changing any
// other field.
func (jc *JobRunContext) Heartbeat(ctx context.Context) error {
	return jc.Update(ctx, nil)
}

// BundleResolver looks up a published bundle version, given its slug
// and either a pinned version or "latest". Missing/unresolvable
// versions return store.ErrNotFound.
type BundleResolver interface {
	Resolve(ctx context.Context, slug string, version string) (*model.JobBundleVersion, error)
}

// Runtime wires the collaborators needed to execute job runs: the
// record store, the static handler registry, the bundle resolver/cache,
// and the sandbox runner.
type Runtime struct {
	Store           store.RecordStore
	Handlers        map[string]Handler
	Bundles         BundleResolver
	Cache           *bundle.Cache
	Sandbox         *sandbox.Runner
	ResolveSecret   func(ctx context.Context, ref model.SecretRef) (string, error)
	Logger          *slog.Logger

	// StaticFallback maps a job slug to a Handler used when the bundle
	// version cannot be resolved or acquired from the cache and a
	// degraded static implementation exists for the same job. A failed
	// sandbox execution does not fall back.
	StaticFallback map[string]Handler
}

// bundleBinding is the parsed form of an entry point like
// "bundle:<slug>@<version>[#<export>]" or a workflow-supplied override.
type bundleBinding struct {
	Slug       string
	Version    string
	ExportName string
}

// ExecuteJobRun resolves the job's handler, runs it, and persists the
// terminal JobRun.
func (rt *Runtime) ExecuteJobRun(ctx context.Context, runID string) (*model.JobRun, error) {
	logger := rt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	run, err := rt.Store.GetJobRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return run, nil
	}

	def, err := rt.Store.GetJobDefinition(ctx, run.JobDefinitionID)
	if err != nil {
		return rt.fail(ctx, run, "job definition not found: "+err.Error())
	}

	binding, isBundle, resolveErr := rt.resolveBinding(run, def)
	if resolveErr != nil {
		return rt.fail(ctx, run, resolveErr.Error())
	}

	run, err = rt.Store.UpdateJobRun(ctx, run.ID, func(r *model.JobRun) error {
		if r.Status == model.JobRunPending {
			now := time.Now()
			r.Status = model.JobRunRunning
			r.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jc := &JobRunContext{Run: run, Parameters: run.Parameters, Logger: logger, store: rt.Store}

	var result map[string]interface{}
	var runErr error
	var metrics map[string]interface{}

	if !isBundle {
		handler, ok := rt.Handlers[def.Slug]
		if !ok {
			return rt.fail(ctx, run, fmt.Sprintf("no static handler registered for %q", def.Slug))
		}
		result, runErr = handler(ctx, jc)
	} else {
		result, metrics, runErr = rt.executeBundle(ctx, run, def, binding, jc, logger)
	}

	return rt.complete(ctx, run, result, metrics, runErr)
}

// resolveBinding parses the job's entry point or a workflow-supplied
// context["__workflowBundle"] override into a bundleBinding. A
// non-bundle static entry point returns isBundle=false.
func (rt *Runtime) resolveBinding(run *model.JobRun, def *model.JobDefinition) (bundleBinding, bool, error) {
	if run.Context != nil {
		if override, ok := run.Context["__workflowBundle"].(map[string]interface{}); ok {
			slug, _ := override["slug"].(string)
			version, _ := override["version"].(string)
			export, _ := override["exportName"].(string)
			if slug != "" {
				return bundleBinding{Slug: slug, Version: version, ExportName: export}, true, nil
			}
		}
	}

	if !def.IsBundleBinding() {
		return bundleBinding{}, false, nil
	}

	binding, err := parseBundleEntryPoint(def.EntryPoint)
	if err != nil {
		return bundleBinding{}, true, err
	}
	return binding, true, nil
}

// parseBundleEntryPoint parses "bundle:<slug>@<version>[#<export>]".
func parseBundleEntryPoint(entryPoint string) (bundleBinding, error) {
	rest := strings.TrimPrefix(entryPoint, "bundle:")
	exportName := ""
	if idx := strings.Index(rest, "#"); idx >= 0 {
		exportName = rest[idx+1:]
		rest = rest[:idx]
	}
	slug, version, found := strings.Cut(rest, "@")
	if !found || slug == "" || version == "" {
		return bundleBinding{}, fmt.Errorf("invalid bundle entry point %q", entryPoint)
	}
	return bundleBinding{Slug: slug, Version: version, ExportName: exportName}, nil
}

// executeBundle resolves the bundle version, acquires it from the
// cache, and executes it via the sandbox runner, falling back to a
// registered static handler if resolution or cache acquisition fails
// and a fallback exists. Sandbox execution errors are returned as is.
func (rt *Runtime) executeBundle(ctx context.Context, run *model.JobRun, def *model.JobDefinition, binding bundleBinding, jc *JobRunContext, logger *slog.Logger) (map[string]interface{}, map[string]interface{}, error) {
	version, err := rt.Bundles.Resolve(ctx, binding.Slug, binding.Version)
	if err != nil {
		if fallback, ok := rt.StaticFallback[def.Slug]; ok {
			logger.Warn("bundle resolution failed, using static fallback", "job", def.Slug, "error", err)
			result, fbErr := fallback(ctx, jc)
			return result, map[string]interface{}{"bundleFallback": true}, fbErr
		}
		return nil, nil, &catalogerrors.BundleResolutionError{BundleSlug: binding.Slug, Reason: "resolve failed", Cause: err}
	}

	acquired, err := rt.Cache.Acquire(ctx, version)
	if err != nil {
		if fallback, ok := rt.StaticFallback[def.Slug]; ok {
			logger.Warn("bundle acquire failed, using static fallback", "job", def.Slug, "error", err)
			result, fbErr := fallback(ctx, jc)
			return result, map[string]interface{}{"bundleFallback": true}, fbErr
		}
		return nil, nil, err
	}
	defer acquired.Release()

	exportName := binding.ExportName

	timeoutMs := int64(0)
	if run.TimeoutMs != nil {
		timeoutMs = *run.TimeoutMs
	} else if def.TimeoutMs != nil {
		timeoutMs = *def.TimeoutMs
	}

	execResult, err := rt.Sandbox.Execute(ctx, sandbox.ExecuteRequest{
		BundleDir:     acquired.Directory,
		EntryFile:     acquired.EntryFile,
		Manifest:      acquired.Manifest,
		JobDefinition: def,
		Run:           run,
		Parameters:    run.Parameters,
		TimeoutMs:     timeoutMs,
		ExportName:    exportName,
		Logger:        logger,
		ResolveSecret: rt.ResolveSecret,
	})
	if err != nil {
		return nil, sandboxMetrics(execResult), err
	}

	return execResult.Result, sandboxMetrics(execResult), nil
}

func sandboxMetrics(res *sandbox.SandboxExecutionResult) map[string]interface{} {
	if res == nil {
		return nil
	}
	m := map[string]interface{}{
		"sandbox.taskId":             res.TaskID,
		"sandbox.durationMs":         res.DurationMs,
		"sandbox.truncatedLogCount":  res.TruncatedLogCount,
		"sandbox.logs":               res.Logs,
	}
	if res.ResourceUsage != nil {
		m["sandbox.resourceUsage"] = res.ResourceUsage
	}
	return m
}

// complete persists the run's terminal status per the outcome of
// handler execution.
func (rt *Runtime) complete(ctx context.Context, run *model.JobRun, result, metrics map[string]interface{}, runErr error) (*model.JobRun, error) {
	status := model.JobRunSucceeded
	errMsg := ""

	if runErr != nil {
		status = model.JobRunFailed
		errMsg = runErr.Error()

		var timeoutErr *catalogerrors.SandboxTimeoutError
		var crashErr *catalogerrors.SandboxCrashError
		switch {
		case asTimeout(runErr, &timeoutErr):
			status = model.JobRunExpired
		case asCrash(runErr, &crashErr):
			status = model.JobRunFailed
			if metrics == nil {
				metrics = map[string]interface{}{}
			}
			metrics["sandbox.exitCode"] = crashErr.ExitCode
			metrics["sandbox.signal"] = crashErr.Signal
		}
	}

	return rt.Store.UpdateJobRun(ctx, run.ID, func(r *model.JobRun) error {
		now := time.Now()
		r.Status = status
		r.Result = result
		r.CompletedAt = &now
		if errMsg != "" {
			r.ErrorMessage = errMsg
		}
		if metrics != nil {
			if r.Metrics == nil {
				r.Metrics = map[string]interface{}{}
			}
			for k, v := range metrics {
				r.Metrics[k] = v
			}
		}
		return nil
	})
}

func (rt *Runtime) fail(ctx context.Context, run *model.JobRun, message string) (*model.JobRun, error) {
	return rt.Store.UpdateJobRun(ctx, run.ID, func(r *model.JobRun) error {
		now := time.Now()
		r.Status = model.JobRunFailed
		r.ErrorMessage = message
		r.CompletedAt = &now
		return nil
	})
}

func asTimeout(err error, target **catalogerrors.SandboxTimeoutError) bool {
	if te, ok := err.(*catalogerrors.SandboxTimeoutError); ok {
		*target = te
		return true
	}
	return false
}

func asCrash(err error, target **catalogerrors.SandboxCrashError) bool {
	if ce, ok := err.(*catalogerrors.SandboxCrashError); ok {
		*target = ce
		return true
	}
	return false
}
