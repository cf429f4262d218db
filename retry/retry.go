// Package retry wraps a single provider adapter invocation with spec C2's
// bounded-retry policy: exponential backoff with multiplicative jitter,
// per-provider multipliers, and Retry-After honoring.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/reqcontext"
)

// Policy holds the retry knobs, normally sourced from settings.Settings.
type Policy struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	ExponentialBase  float64
	RetryEnabled     bool
}

// InvokeFunc performs one adapter call and returns its StageOutput. Retry
// never inspects provider internals — only the returned status.
type InvokeFunc func(ctx context.Context) model.StageOutput

// retryableStatuses is the exact set spec §4.2 permits a retry for.
// invalid_key, cancelled, and ok are never retried.
func retryable(status model.OutputStatus) bool {
	switch status {
	case model.StatusRateLimited, model.StatusProviderError, model.StatusTimeout:
		return true
	default:
		return false
	}
}

// Execute wraps invoke with Policy's bounded retry. modelBackoffMultiplier
// is the provider-specific multiplier (spec §4.1: OpenAI 1.5, Anthropic 1.2,
// Google 1.0, HuggingFace 2.0). retryAfter, when non-nil, is consulted after
// each attempt and — when set by the adapter on the returned StageOutput via
// out.AttemptCount's sibling field — takes precedence over the computed
// delay, still bounded by MaxDelay and the context deadline.
func Execute(ctx context.Context, rc *reqcontext.RequestContext, stage model.Stage, modelID model.ModelId, policy Policy, modelBackoffMultiplier float64, retryAfterFn func(model.StageOutput) (time.Duration, bool), invoke InvokeFunc) model.StageOutput {
	var out model.StageOutput
	attempt := 0

	for {
		attempt++
		rc.Emit(reqcontext.Event{Kind: reqcontext.EventAttemptStarted, Stage: string(stage), ModelID: string(modelID), Attempt: attempt})

		out = invoke(ctx)
		out.AttemptCount = attempt

		if out.Status == model.StatusOK || !policy.RetryEnabled || !retryable(out.Status) {
			return out
		}
		if attempt > policy.MaxAttempts {
			return out
		}

		delay := computeDelay(policy, attempt, modelBackoffMultiplier)
		if retryAfterFn != nil {
			if d, ok := retryAfterFn(out); ok {
				delay = d
				if delay > policy.MaxDelay {
					delay = policy.MaxDelay
				}
			}
		}

		remaining := rc.Remaining()
		reason := string(out.Status)
		ms := delay.Milliseconds()
		rc.Emit(reqcontext.Event{
			Kind: reqcontext.EventAttemptFailed, Stage: string(stage), ModelID: string(modelID),
			Attempt: attempt, Reason: reason, RetryInMs: &ms,
		})

		if remaining <= 0 || delay >= remaining {
			// Not enough time left before the context deadline to retry.
			return out
		}

		select {
		case <-ctx.Done():
			out.Status = model.StatusCancelled
			return out
		case <-time.After(delay):
		}
	}
}

// computeDelay implements spec §4.2's exact formula:
//   delay = min(MaxDelay, InitialDelay * base^(attempt-1) * providerMultiplier) * uniform(0.5, 1.5)
func computeDelay(policy Policy, attempt int, providerMultiplier float64) time.Duration {
	base := policy.ExponentialBase
	if base <= 0 {
		base = 2.0
	}
	raw := float64(policy.InitialDelay) * math.Pow(base, float64(attempt-1)) * providerMultiplier
	capped := math.Min(float64(policy.MaxDelay), raw)
	jitter := 0.5 + rand.Float64() // uniform(0.5, 1.5)
	return time.Duration(capped * jitter)
}
