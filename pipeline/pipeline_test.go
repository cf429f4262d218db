package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ultraai/orchestrator/cachestore"
	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/provider"
	"github.com/ultraai/orchestrator/registry"
	"github.com/ultraai/orchestrator/reqcontext"
	"github.com/ultraai/orchestrator/settings"
)

const fakeKind model.ProviderKind = "fake"

// scriptedAdapter looks up a canned behavior per modelId; every call records
// its modelId so tests can assert dispatch order independent of completion
// order.
type scriptedAdapter struct {
	mu      sync.Mutex
	scripts map[model.ModelId]func() model.StageOutput
	calls   []model.ModelId
}

func (a *scriptedAdapter) Invoke(ctx context.Context, d model.ModelDescriptor, prompt string, params provider.Params) model.StageOutput {
	a.mu.Lock()
	a.calls = append(a.calls, d.ModelID)
	script := a.scripts[d.ModelID]
	a.mu.Unlock()
	if script == nil {
		return model.StageOutput{Status: model.StatusOK, Content: "default:" + prompt}
	}
	return script()
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func okOutput(content string) func() model.StageOutput {
	return func() model.StageOutput { return model.StageOutput{Status: model.StatusOK, Content: content} }
}

func failOutput(status model.OutputStatus) func() model.StageOutput {
	return func() model.StageOutput { return model.StageOutput{Status: status} }
}

func descriptor(id model.ModelId) model.ModelDescriptor {
	return model.ModelDescriptor{
		ModelID: id, ProviderKind: fakeKind, CredentialEnvVar: "FAKE_" + string(id),
		CostPer1kInputTokens: 0.01, CostPer1kOutputTokens: 0.03, BackoffMultiplier: 1.0,
	}
}

type memCache struct {
	mu sync.Mutex
	m  map[string]model.OrchestrationResult
}

func newMemCache() *memCache { return &memCache{m: make(map[string]model.OrchestrationResult)} }

func (c *memCache) Get(ctx context.Context, key string) (model.OrchestrationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.m[key]
	if !ok {
		return model.OrchestrationResult{}, cachestore.ErrMiss
	}
	return r, nil
}

func (c *memCache) Put(ctx context.Context, key string, result model.OrchestrationResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = result
	return nil
}

func newTestPipeline(t *testing.T, ids []model.ModelId, scripts map[model.ModelId]func() model.StageOutput, minimumModels int) (*Pipeline, *scriptedAdapter) {
	t.Helper()
	for _, id := range ids {
		t.Setenv("FAKE_"+string(id), "present")
	}

	descriptors := make([]model.ModelDescriptor, len(ids))
	for i, id := range ids {
		descriptors[i] = descriptor(id)
	}
	reg := registry.New(descriptors)
	adapter := &scriptedAdapter{scripts: scripts}

	s := settings.Defaults()
	s.MinimumModelsRequired = minimumModels
	s.MaxRetryAttempts = 1
	s.RetryInitialDelay = time.Millisecond
	s.RetryMaxDelay = 5 * time.Millisecond
	s.RateLimitRetryEnabled = true

	return &Pipeline{
		Registry: reg,
		Adapters: map[model.ProviderKind]provider.Adapter{fakeKind: adapter},
		Cache:    newMemCache(),
		Settings: s,
	}, adapter
}

func newReq(ids []model.ModelId, synth model.ModelId) model.OrchestrationRequest {
	return model.OrchestrationRequest{RequestID: uuid.NewString(), UserID: "u1", Query: "what is the capital of France", ModelIDs: ids, SynthesizerModelID: synth}
}

func newRC(deadline time.Duration) *reqcontext.RequestContext {
	return reqcontext.New(context.Background(), uuid.NewString(), "u1", time.Now().Add(deadline), reqcontext.NopSink{})
}

// Every model succeeds at every stage -> done, no fallback.
func TestPipeline_AllModelsSucceed_NoFallback(t *testing.T) {
	ids := []model.ModelId{"a", "b", "c"}
	p, _ := newTestPipeline(t, ids, map[model.ModelId]func() model.StageOutput{
		"a": okOutput("a says hi"), "b": okOutput("b says hi"), "c": okOutput("synthesized answer"),
	}, 2)

	req := newReq(ids, "c")
	rc := newRC(5 * time.Second)
	result := p.Run(rc.Context(), rc, req)

	require.Equal(t, model.RunDone, result.TerminalStatus)
	assert.False(t, result.SynthesisFallback)
	assert.Equal(t, "synthesized answer", result.FinalAnswer)
	assert.Equal(t, 3, result.Stages[0].SuccessfulCount)
	assert.Equal(t, 3, result.Stages[1].SuccessfulCount)
	assert.Equal(t, 1, result.Stages[2].SuccessfulCount)
}

// Only one model survives stage 1 -> insufficient_models, no later stages run.
func TestPipeline_InsufficientAfterInitial(t *testing.T) {
	ids := []model.ModelId{"a", "b", "c"}
	p, _ := newTestPipeline(t, ids, map[model.ModelId]func() model.StageOutput{
		"a": okOutput("a says hi"), "b": failOutput(model.StatusProviderError), "c": failOutput(model.StatusProviderError),
	}, 2)

	req := newReq(ids, "a")
	rc := newRC(5 * time.Second)
	result := p.Run(rc.Context(), rc, req)

	require.Equal(t, model.RunInsufficientModels, result.TerminalStatus)
	assert.Empty(t, result.Stages[1].PerModelOutputs)
	assert.Empty(t, result.Stages[2].PerModelOutputs)
}

// Stage 1 succeeds for all, but peer_review drops below the minimum.
func TestPipeline_InsufficientAfterPeerReview(t *testing.T) {
	ids := []model.ModelId{"a", "b"}
	calls := 0
	var mu sync.Mutex
	scripts := map[model.ModelId]func() model.StageOutput{
		"a": func() model.StageOutput {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n <= 1 {
				return model.StageOutput{Status: model.StatusOK, Content: "a initial"}
			}
			return model.StageOutput{Status: model.StatusProviderError}
		},
		"b": okOutput("b initial, then b peer review too"),
	}
	// b always succeeds so it would pass alone; force "a" to fail on its 2nd
	// (peer_review) call so only 1 of 2 survives -> below the minimum of 2.
	p, _ := newTestPipeline(t, ids, scripts, 2)
	req := newReq(ids, "b")
	rc := newRC(5 * time.Second)
	result := p.Run(rc.Context(), rc, req)

	require.Equal(t, model.RunInsufficientModels, result.TerminalStatus)
	assert.Equal(t, 2, result.Stages[0].SuccessfulCount)
	assert.Equal(t, 1, result.Stages[1].SuccessfulCount)
	assert.Empty(t, result.Stages[2].PerModelOutputs)
}

// The synthesizer fails outright -> fallback to the longest successful
// peer_review output, verbatim.
func TestPipeline_SynthesizerFailure_FallsBackToLongestPeerReview(t *testing.T) {
	ids := []model.ModelId{"a", "b"}
	p, _ := newTestPipeline(t, ids, map[model.ModelId]func() model.StageOutput{
		"a": okOutput("short"),
		"b": okOutput("a much longer peer review answer that should win fallback"),
	}, 2)
	p.Adapters[fakeKind] = &scriptedAdapter{scripts: map[model.ModelId]func() model.StageOutput{
		"a": okOutput("short"),
		"b": okOutput("a much longer peer review answer that should win fallback"),
		"synth": failOutput(model.StatusProviderError),
	}}

	req := newReq(ids, "synth")
	t.Setenv("FAKE_synth", "present")
	p.Registry = registry.New([]model.ModelDescriptor{descriptor("a"), descriptor("b"), descriptor("synth")})
	rc := newRC(5 * time.Second)
	result := p.Run(rc.Context(), rc, req)

	require.Equal(t, model.RunDone, result.TerminalStatus)
	assert.True(t, result.SynthesisFallback)
	assert.Equal(t, "a much longer peer review answer that should win fallback", result.FinalAnswer)
}

// With the minimum-models floor relaxed to zero, a total wipeout yields
// synthesis_unavailable rather than a fabricated answer.
func TestPipeline_TotalWipeout_SynthesisUnavailable(t *testing.T) {
	ids := []model.ModelId{"a", "b"}
	p, _ := newTestPipeline(t, ids, map[model.ModelId]func() model.StageOutput{
		"a": failOutput(model.StatusProviderError), "b": failOutput(model.StatusProviderError),
	}, 0)

	req := newReq(ids, "a")
	rc := newRC(5 * time.Second)
	result := p.Run(rc.Context(), rc, req)

	require.Equal(t, model.RunSynthesisUnavailable, result.TerminalStatus)
	assert.Empty(t, result.FinalAnswer)
	assert.False(t, result.SynthesisFallback)
}

// An identical second run hits the cache; requestId and latency differ but
// the substantive content is byte-identical.
func TestPipeline_CacheHit_PreservesContent(t *testing.T) {
	ids := []model.ModelId{"a", "b"}
	p, adapter := newTestPipeline(t, ids, map[model.ModelId]func() model.StageOutput{
		"a": okOutput("a out"), "b": okOutput("synth out"),
	}, 2)

	req1 := newReq(ids, "b")
	rc1 := newRC(5 * time.Second)
	first := p.Run(rc1.Context(), rc1, req1)
	require.Equal(t, model.RunDone, first.TerminalStatus)

	callsAfterFirst := len(adapter.calls)

	req2 := req1
	req2.RequestID = uuid.NewString()
	rc2 := newRC(5 * time.Second)
	second := p.Run(rc2.Context(), rc2, req2)

	assert.Equal(t, req2.RequestID, second.RequestID)
	assert.Equal(t, first.FinalAnswer, second.FinalAnswer)
	assert.Equal(t, first.EstimatedCostUsd, second.EstimatedCostUsd)
	assert.Len(t, adapter.calls, callsAfterFirst, "cache hit must not dispatch to any adapter")
}

// A 429 on attempt 1 carries Retry-After: 2; attempt 2 succeeds. The honored
// delay must track the 2s header, not the sub-millisecond exponential
// default InitialDelay would otherwise produce.
func TestPipeline_RateLimit_HonorsRetryAfterHeader(t *testing.T) {
	ids := []model.ModelId{"a", "b"}
	t.Setenv("FAKE_a", "present")
	t.Setenv("FAKE_b", "present")
	reg := registry.New([]model.ModelDescriptor{descriptor("a"), descriptor("b")})

	var calls int32
	adapter := &scriptedAdapter{scripts: map[model.ModelId]func() model.StageOutput{
		"a": func() model.StageOutput {
			if atomic.AddInt32(&calls, 1) == 1 {
				return model.StageOutput{Status: model.StatusRateLimited, RetryAfterRaw: "2"}
			}
			return model.StageOutput{Status: model.StatusOK, Content: "a out"}
		},
	}}

	s := settings.Defaults()
	s.MinimumModelsRequired = 1
	s.MaxRetryAttempts = 2
	s.RetryInitialDelay = time.Millisecond
	s.RetryMaxDelay = 3 * time.Second
	s.RetryExponentialBase = 2.0
	s.RateLimitRetryEnabled = true

	p := &Pipeline{
		Registry: reg,
		Adapters: map[model.ProviderKind]provider.Adapter{fakeKind: adapter},
		Cache:    newMemCache(),
		Settings: s,
	}

	req := newReq(ids, "a")
	rc := newRC(5 * time.Second)
	started := time.Now()
	result := p.Run(rc.Context(), rc, req)
	elapsed := time.Since(started)

	require.Equal(t, model.RunDone, result.TerminalStatus)
	require.Equal(t, 2, result.Stages[0].PerModelOutputs[0].AttemptCount)
	assert.GreaterOrEqual(t, elapsed, 1800*time.Millisecond, "must wait ~2s as instructed by Retry-After, not the ~1ms exponential default")
	assert.Less(t, elapsed, 3*time.Second)
}

// A requested model's credential env var is never set; the registry's
// HasCredential pre-flight must short-circuit before dispatchStage ever
// reaches the adapter, so the model records zero outbound calls and
// invalid_key, while the run still completes from the remaining models.
func TestPipeline_MissingCredential_ZeroOutboundCalls(t *testing.T) {
	ids := []model.ModelId{"a", "b", "c"}
	t.Setenv("FAKE_a", "present")
	t.Setenv("FAKE_b", "present")
	// FAKE_c is deliberately left unset.

	descriptors := make([]model.ModelDescriptor, len(ids))
	for i, id := range ids {
		descriptors[i] = descriptor(id)
	}
	reg := registry.New(descriptors)
	adapter := &scriptedAdapter{scripts: map[model.ModelId]func() model.StageOutput{
		"a": okOutput("a out"), "b": okOutput("b out"), "c": okOutput("c out"),
	}}

	s := settings.Defaults()
	s.MinimumModelsRequired = 2
	s.MaxRetryAttempts = 1
	s.RetryInitialDelay = time.Millisecond
	s.RetryMaxDelay = 5 * time.Millisecond
	s.RateLimitRetryEnabled = true

	p := &Pipeline{
		Registry: reg,
		Adapters: map[model.ProviderKind]provider.Adapter{fakeKind: adapter},
		Cache:    newMemCache(),
		Settings: s,
	}

	req := newReq(ids, "a")
	rc := newRC(5 * time.Second)
	result := p.Run(rc.Context(), rc, req)

	require.Equal(t, model.RunDone, result.TerminalStatus)
	for _, id := range adapter.calls {
		assert.NotEqual(t, model.ModelId("c"), id, "a model with no credential must never reach the adapter")
	}
	var cOutput model.StageOutput
	for _, o := range result.Stages[0].PerModelOutputs {
		if o.ModelID == "c" {
			cOutput = o
		}
	}
	assert.Equal(t, model.StatusInvalidKey, cOutput.Status)
}

// A cost cap set below the pre-flight estimate must short-circuit the whole
// run before any stage dispatches, so zero adapter calls occur at all.
func TestPipeline_CostCapExceeded_PreflightBeforeDispatch(t *testing.T) {
	ids := []model.ModelId{"a", "b"}
	p, adapter := newTestPipeline(t, ids, map[model.ModelId]func() model.StageOutput{
		"a": okOutput("a out"), "b": okOutput("synth out"),
	}, 2)

	req := newReq(ids, "b")
	zero := 0.0
	req.Options.CostCapUsd = &zero
	rc := newRC(5 * time.Second)
	result := p.Run(rc.Context(), rc, req)

	require.Equal(t, model.RunCapExceeded, result.TerminalStatus)
	assert.Empty(t, adapter.calls, "cap-exceeded must short-circuit before any stage dispatches")
}

// blockingAdapter answers stage-1 calls (no peer context yet) immediately,
// then blocks on ctx.Done() for any later stage, to simulate an adapter that
// aborts promptly when the run is cancelled mid-dispatch.
type blockingAdapter struct{}

func (blockingAdapter) Invoke(ctx context.Context, d model.ModelDescriptor, prompt string, params provider.Params) model.StageOutput {
	if params.PreviousOutputs == "" {
		return model.StageOutput{Status: model.StatusOK, Content: "stage1:" + string(d.ModelID)}
	}
	select {
	case <-ctx.Done():
		return model.StageOutput{Status: model.StatusCancelled}
	case <-time.After(5 * time.Second):
		return model.StageOutput{Status: model.StatusOK, Content: "too slow"}
	}
}

func (blockingAdapter) Name() string { return "blocking" }

// Cancelling the request context mid-stage must surface as RunCancelled
// promptly, not a partial-failure verdict computed from whatever happened to
// land before the deadline.
func TestPipeline_Cancellation_MidStageDispatch(t *testing.T) {
	ids := []model.ModelId{"a", "b"}
	t.Setenv("FAKE_a", "present")
	t.Setenv("FAKE_b", "present")
	reg := registry.New([]model.ModelDescriptor{descriptor("a"), descriptor("b")})

	s := settings.Defaults()
	s.MinimumModelsRequired = 2
	s.MaxRetryAttempts = 1
	s.RetryInitialDelay = time.Millisecond
	s.RetryMaxDelay = 5 * time.Millisecond
	s.RateLimitRetryEnabled = true

	p := &Pipeline{
		Registry: reg,
		Adapters: map[model.ProviderKind]provider.Adapter{fakeKind: blockingAdapter{}},
		Cache:    newMemCache(),
		Settings: s,
	}

	req := newReq(ids, "a")
	rc := newRC(5 * time.Second)

	resultCh := make(chan model.OrchestrationResult, 1)
	go func() { resultCh <- p.Run(rc.Context(), rc, req) }()

	time.Sleep(50 * time.Millisecond) // let stage 1 finish and stage 2 dispatch begin
	rc.Cancel()

	select {
	case result := <-resultCh:
		require.Equal(t, model.RunCancelled, result.TerminalStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not observe cancellation promptly")
	}
}

// TestPipeline_OrderingProperty is the property-based check for spec
// invariant 1: PerModelOutputs preserves dispatch order regardless of which
// model's goroutine actually finishes first.
func TestPipeline_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 5).Draw(rt, "n")
		ids := make([]model.ModelId, n)
		scripts := make(map[model.ModelId]func() model.StageOutput, n)
		for i := 0; i < n; i++ {
			id := model.ModelId(fmt.Sprintf("m%d", i))
			ids[i] = id
			delay := time.Duration(n-i) * time.Millisecond // reverse of dispatch order
			content := fmt.Sprintf("out-%d", i)
			scripts[id] = func() model.StageOutput {
				time.Sleep(delay)
				return model.StageOutput{Status: model.StatusOK, Content: content}
			}
		}

		p, _ := newTestPipeline(t, ids, scripts, 2)
		req := newReq(ids, ids[0])
		rc := newRC(5 * time.Second)
		result := p.Run(rc.Context(), rc, req)

		for i, out := range result.Stages[0].PerModelOutputs {
			if out.ModelID != ids[i] {
				rt.Fatalf("stage 1 output %d has modelId %q, want %q (dispatch order must be preserved)", i, out.ModelID, ids[i])
			}
		}
	})
}
