// Package trigger implements the event trigger processor: matching
// inbound event envelopes against active workflow event triggers and
// enqueueing workflow runs subject to throttle, concurrency, and
// idempotency controls.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	defaultJQTimeout      = time.Second
	defaultJQMaxInputSize = 10 * 1024 * 1024
)

// jqExecutor evaluates jq expressions against envelope data with a
// timeout and input-size guard, so a pathological expression or an
// oversized payload can't stall the processor.
type jqExecutor struct {
	timeout      time.Duration
	maxInputSize int64
}

func newJQExecutor() *jqExecutor {
	return &jqExecutor{timeout: defaultJQTimeout, maxInputSize: defaultJQMaxInputSize}
}

func (e *jqExecutor) Execute(ctx context.Context, expression string, data interface{}) (interface{}, error) {
	if expression == "" {
		return data, nil
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jq input: %w", err)
	}
	if int64(len(encoded)) > e.maxInputSize {
		return nil, fmt.Errorf("jq input size (%d bytes) exceeds maximum (%d bytes)", len(encoded), e.maxInputSize)
	}

	// gojq expects JSON-canonical types (float64, not int); round-trip
	// through encoding/json so callers can pass ordinary Go maps built
	// with int/int64 fields.
	var jsonData interface{}
	if err := json.Unmarshal(encoded, &jsonData); err != nil {
		return nil, fmt.Errorf("failed to normalize jq input: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compile error: %w", err)
	}

	resultChan := make(chan interface{}, 1)
	errorChan := make(chan error, 1)

	go func() {
		iter := code.Run(jsonData)
		var results []interface{}
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errorChan <- err
				return
			}
			results = append(results, v)
		}
		switch len(results) {
		case 0:
			resultChan <- nil
		case 1:
			resultChan <- results[0]
		default:
			resultChan <- results
		}
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		return nil, err
	case <-execCtx.Done():
		return nil, fmt.Errorf("jq execution timeout after %v", e.timeout)
	}
}
