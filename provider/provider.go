// Package provider normalizes each LLM provider's HTTP API behind one
// capability set (spec C1): request construction, response parsing, and
// error classification are each provider's own business; everything else
// — the shared hardened HTTP client, the status-classification table, and
// token-count estimation — lives here.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/ultraai/orchestrator/internal/tlsutil"
	"github.com/ultraai/orchestrator/model"
)

// Params bundles the per-call knobs an adapter needs beyond the prompt
// itself.
type Params struct {
	MaxTokens       int
	Temperature     float32
	TopP            float32
	PreviousOutputs string // peer-review / synthesis stage context, if any
}

// Adapter is the per-provider translation layer (spec C1's public contract).
// Implementations never panic across this boundary — every failure surfaces
// as a populated model.StageOutput status.
type Adapter interface {
	// Invoke performs one request against the provider and returns a
	// StageOutput classified per the normalized status table. It respects
	// ctx's deadline and cancellation and returns model.StatusCancelled
	// promptly (within one RTT) when ctx is done.
	Invoke(ctx context.Context, descriptor model.ModelDescriptor, prompt string, params Params) model.StageOutput

	// Name identifies the adapter for logging/event attribution.
	Name() string
}

// SharedTransport builds the one process-wide *http.Client every adapter
// must use. Never construct a client per request or per adapter instance —
// connection pooling and keep-alive only pay off when shared.
func SharedTransport(maxConnsPerHost int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: tlsutil.SecureTransportWithPoolSize(maxConnsPerHost),
	}
}

// CallTimeout computes the per-request timeout: the lesser of the remaining
// deadline on ctx and the configured LLM_REQUEST_TIMEOUT.
func CallTimeout(ctx context.Context, configured time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		remaining := time.Until(dl)
		if remaining < configured {
			if remaining < 0 {
				return 0
			}
			return remaining
		}
	}
	return configured
}

// EstimateTokens estimates a token count from raw byte length when the
// provider did not report usage (spec §4.1: ceil(bytes/4)).
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
