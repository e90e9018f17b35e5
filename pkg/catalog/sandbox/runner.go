package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	catalogerrors "github.com/flowforge/catalog/pkg/errors"
	"github.com/flowforge/catalog/pkg/catalog/model"
)

// maxLogLines bounds how many log lines are retained in a
// SandboxExecutionResult; beyond this the runner truncates and reports
// the overflow count rather than holding an unbounded log buffer.
const maxLogLines = 2000

// ExecuteRequest is the Sandbox Runner's execute contract: a
// bundle's handler run with a timeout, capability gating, and
// log/resource telemetry collection.
type ExecuteRequest struct {
	BundleDir      string
	EntryFile      string
	Manifest       model.BundleManifest
	JobDefinition  *model.JobDefinition
	Run            *model.JobRun
	Parameters     map[string]interface{}
	TimeoutMs      int64
	ExportName     string
	Logger         *slog.Logger
	Update         func(ctx context.Context, partial map[string]interface{})
	ResolveSecret  func(ctx context.Context, ref model.SecretRef) (string, error)
}

// SandboxExecutionResult is the Sandbox Runner's output contract.
type SandboxExecutionResult struct {
	TaskID            string
	Result            map[string]interface{}
	Logs              []string
	TruncatedLogCount  int
	DurationMs        int64
	ResourceUsage     *Stats
}

// Runner executes a bundle's handler inside an isolated sandbox,
// selecting the best available factory (Docker/Podman, falling back to
// process-level isolation) and enforcing manifest-declared capabilities.
type Runner struct {
	selector *FactorySelector
	logger   *slog.Logger
}

// NewRunner constructs a Runner using the default Docker-then-fallback
// factory selection order.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{selector: NewFactorySelector(), logger: logger}
}

// Execute runs req.EntryFile inside a freshly created sandbox, honoring
// req.TimeoutMs and raising SandboxTimeoutError/SandboxCrashError on
// expiry or abnormal exit. The sandbox's NetworkMode and writable paths
// are derived from req.Manifest.Capabilities: in the container sandbox a
// handler that never declared "network" gets no network, and one that
// never declared "fs" sees the bundle directory read-only. The
// process-level fallback sandbox applies neither restriction.
func (r *Runner) Execute(ctx context.Context, req ExecuteRequest) (*SandboxExecutionResult, error) {
	taskID := fmt.Sprintf("%s-%d", req.Run.ID, time.Now().UnixNano())
	start := time.Now()

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	factory, degraded, err := r.selector.SelectFactory(runCtx)
	if err != nil {
		return nil, err
	}
	if degraded {
		r.logger.Warn(GetDegradedModeWarning(jobSlug(req.JobDefinition)), "taskId", taskID)
	}

	cfg := Config{
		RunID:          taskID,
		ReadOnlyPaths:  []string{req.BundleDir},
		NetworkMode:    capabilityNetworkMode(req.Manifest),
		ResourceLimits: ResourceLimits{MaxMemory: 512 * 1024 * 1024, MaxCPU: 100},
		Env:            sandboxEnv(req),
		Timeout:        timeout,
	}
	if req.Manifest.HasCapability("fs") {
		cfg.WorkDir = req.BundleDir
		cfg.WritablePaths = []string{req.BundleDir}
	}

	box, err := factory.Create(runCtx, cfg)
	if err != nil {
		return nil, &catalogerrors.SandboxCrashError{ExitCode: -1}
	}
	defer box.Cleanup()

	payload, err := json.Marshal(map[string]interface{}{
		"parameters": req.Parameters,
		"exportName": req.ExportName,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox runner: marshal invocation payload: %w", err)
	}

	args := []string{req.EntryFile, string(payload)}
	out, execErr := box.Execute(runCtx, "node", args)
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &catalogerrors.SandboxTimeoutError{ElapsedMs: elapsed.Milliseconds()}
	}

	logs, truncated := splitLogLines(out)

	if execErr != nil {
		code := exitCode(execErr)
		return &SandboxExecutionResult{
			TaskID:            taskID,
			Logs:              logs,
			TruncatedLogCount: truncated,
			DurationMs:        elapsed.Milliseconds(),
		}, &catalogerrors.SandboxCrashError{ExitCode: code}
	}

	result, resultErr := parseResult(out)
	if resultErr != nil {
		return nil, fmt.Errorf("sandbox runner: parse handler result: %w", resultErr)
	}

	var usage *Stats
	if advanced, ok := box.(AdvancedSandbox); ok {
		if s, statErr := advanced.Stats(runCtx); statErr == nil {
			usage = &s
		}
	}

	return &SandboxExecutionResult{
		TaskID:            taskID,
		Result:            result,
		Logs:              logs,
		TruncatedLogCount: truncated,
		DurationMs:        elapsed.Milliseconds(),
		ResourceUsage:     usage,
	}, nil
}

func jobSlug(j *model.JobDefinition) string {
	if j == nil {
		return ""
	}
	return j.Slug
}

func capabilityNetworkMode(m model.BundleManifest) NetworkMode {
	if m.HasCapability("network") {
		return NetworkFull
	}
	return NetworkNone
}

// sandboxEnv builds the filtered environment passed into the sandbox.
// It holds only the run ID: no secret values are placed here, and
// Execute does not use req.ResolveSecret, so the handler is given no
// way to resolve secrets.
func sandboxEnv(req ExecuteRequest) map[string]string {
	return map[string]string{
		"CATALOG_JOB_RUN_ID": req.Run.ID,
	}
}

// splitLogLines splits the handler's stdout into discrete lines,
// capping retained lines at maxLogLines and reporting the overflow.
func splitLogLines(out []byte) ([]string, int) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	truncated := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "__RESULT__:") {
			continue
		}
		if len(lines) >= maxLogLines {
			truncated++
			continue
		}
		lines = append(lines, line)
	}
	return lines, truncated
}

// parseResult extracts the handler's JSON return value, which the
// entry wrapper prints as a `__RESULT__:` prefixed line so it can be
// distinguished from ordinary log output on the same stream.
func parseResult(out []byte) (map[string]interface{}, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "__RESULT__:") {
			continue
		}
		var result map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "__RESULT__:")), &result); err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
