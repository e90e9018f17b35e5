package executor

import (
	"math/rand"
	"time"

	"github.com/flowforge/catalog/pkg/catalog/model"
)

// backoffDelay computes the delay before the next attempt: fixed uses
// InitialDelayMs unchanged; exponential doubles per attempt, capped at
// MaxDelayMs when set. Jitter multiplies the delay by a random factor
// in [0.5, 1.5) when enabled.
func backoffDelay(policy *model.RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		return 0
	}

	delayMs := policy.InitialDelayMs
	if policy.Strategy == model.RetryStrategyExponential {
		for i := 1; i < attempt; i++ {
			delayMs *= 2
			if policy.MaxDelayMs > 0 && delayMs > policy.MaxDelayMs {
				delayMs = policy.MaxDelayMs
				break
			}
		}
	}
	if policy.MaxDelayMs > 0 && delayMs > policy.MaxDelayMs {
		delayMs = policy.MaxDelayMs
	}

	if policy.Jitter {
		factor := 0.5 + rand.Float64()
		delayMs = int64(float64(delayMs) * factor)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// maxAttempts returns the configured retry ceiling, defaulting to a
// single attempt when no policy is set.
func maxAttempts(policy *model.RetryPolicy) int {
	if policy == nil || policy.MaxAttempts <= 0 {
		return 1
	}
	return policy.MaxAttempts
}
