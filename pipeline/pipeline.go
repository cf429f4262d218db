// Package pipeline is the heart of the system (spec C7): the three-stage
// orchestration state machine — initial -> peer_review -> ultra_synthesis —
// with explicit per-stage timeouts, partial-failure semantics, and
// cooperative-cancellation fan-out.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ultraai/orchestrator/cachestore"
	"github.com/ultraai/orchestrator/cost"
	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/provider"
	"github.com/ultraai/orchestrator/registry"
	"github.com/ultraai/orchestrator/reqcontext"
	"github.com/ultraai/orchestrator/retry"
	"github.com/ultraai/orchestrator/settings"
)

// Pipeline wires the Model Registry, the per-provider adapters, the retry
// policy, and the cache together into the three-stage state machine. It is
// an explicit value constructed at startup and passed to request handlers —
// no module-level singleton.
type Pipeline struct {
	Registry *registry.Registry
	Adapters map[model.ProviderKind]provider.Adapter
	Cache    cachestore.Cache
	Settings settings.Settings
	Logger   *zap.Logger
}

// Run admits and executes one OrchestrationRequest end to end.
func (p *Pipeline) Run(ctx context.Context, rc *reqcontext.RequestContext, req model.OrchestrationRequest) model.OrchestrationResult {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return p.terminal(req, model.RunInternalError, 0, start)
	}

	descriptors, synthDescriptor, err := p.resolveAll(req)
	if err != nil {
		return p.terminal(req, model.RunInternalError, 0, start)
	}

	key := cachestore.Key(req.Query, req.ModelIDs, req.SynthesizerModelID, cachestore.PipelineVersion)
	if !req.Options.EstimateOnly {
		if cached, err := p.Cache.Get(ctx, key); err == nil {
			cached.RequestID = req.RequestID
			cached.TotalLatencyMs = time.Since(start).Milliseconds()
			rc.Emit(reqcontext.Event{Kind: reqcontext.EventRunCompleted, TotalMs: cached.TotalLatencyMs})
			return cached
		}
	}

	if req.Options.CostCapUsd != nil {
		allDescriptors := append(append([]model.ModelDescriptor{}, descriptors...), synthDescriptor)
		proj := cost.Estimate(req.Query, allDescriptors, cost.DefaultOutputTokensPerStage, req.Options.CostCapUsd)
		rc.Emit(reqcontext.Event{
			Kind: reqcontext.EventCostEstimated, InputTokens: proj.InputTokensEst,
			OutputTokens: proj.OutputTokensEst, CostUsd: proj.EstimatedUsd, CapExceeded: proj.CapExceeded,
		})
		if proj.CapExceeded {
			return p.terminal(req, model.RunCapExceeded, time.Since(start).Milliseconds(), start)
		}
	}

	if req.Options.EstimateOnly {
		return p.terminal(req, model.RunDone, time.Since(start).Milliseconds(), start)
	}

	result := model.OrchestrationResult{RequestID: req.RequestID}

	// Stage 1: initial.
	stage1 := p.dispatchStage(ctx, rc, model.StageInitial, req.ModelIDs, descriptors, func(modelID model.ModelId) (string, provider.Params) {
		return req.Query, provider.Params{}
	})
	result.Stages[0] = stage1
	if cancelled, r := p.checkCancelled(ctx, req, result, start); cancelled {
		return r
	}
	if stage1.SuccessfulCount < p.Settings.MinimumModelsRequired {
		result.TerminalStatus = model.RunInsufficientModels
		result.TotalLatencyMs = time.Since(start).Milliseconds()
		rc.Emit(reqcontext.Event{Kind: reqcontext.EventRunFailed, Reason: string(model.RunInsufficientModels)})
		return result
	}

	survivors := successfulModelIDs(stage1)
	survivorDescriptors := filterDescriptors(descriptors, survivors)

	// Stage 2: peer_review.
	stage2 := p.dispatchStage(ctx, rc, model.StagePeerReview, survivors, survivorDescriptors, func(modelID model.ModelId) (string, provider.Params) {
		return req.Query, provider.Params{PreviousOutputs: peerReviewContext(modelID, stage1)}
	})
	result.Stages[1] = stage2
	if cancelled, r := p.checkCancelled(ctx, req, result, start); cancelled {
		return r
	}
	if stage2.SuccessfulCount < p.Settings.MinimumModelsRequired {
		result.TerminalStatus = model.RunInsufficientModels
		result.TotalLatencyMs = time.Since(start).Milliseconds()
		rc.Emit(reqcontext.Event{Kind: reqcontext.EventRunFailed, Reason: string(model.RunInsufficientModels)})
		return result
	}

	// Stage 3: ultra_synthesis, single dispatch to the synthesizer.
	synthesisPrompt := synthesisContext(req.Query, stage1, stage2)
	stage3 := p.dispatchStage(ctx, rc, model.StageUltraSynthesis, []model.ModelId{req.SynthesizerModelID}, []model.ModelDescriptor{synthDescriptor}, func(modelID model.ModelId) (string, provider.Params) {
		return req.Query, provider.Params{PreviousOutputs: synthesisPrompt}
	})
	result.Stages[2] = stage3
	if cancelled, r := p.checkCancelled(ctx, req, result, start); cancelled {
		return r
	}

	if stage3.SuccessfulCount == 0 {
		fallback, ok := longestSuccessfulOutput(stage2)
		if ok {
			result.FinalAnswer = fallback.Content
			result.SynthesisFallback = true
			result.TerminalStatus = model.RunDone
		} else {
			result.TerminalStatus = model.RunSynthesisUnavailable
		}
	} else {
		result.FinalAnswer = stage3.PerModelOutputs[0].Content
		result.TerminalStatus = model.RunDone
	}

	result.EstimatedCostUsd = cost.Actual(allOutputs(result), func(id model.ModelId) (model.ModelDescriptor, bool) {
		d, err := p.Registry.Resolve(id)
		return d, err == nil
	})
	result.TotalLatencyMs = time.Since(start).Milliseconds()

	if !req.Options.EstimateOnly {
		_ = p.Cache.Put(ctx, key, result, time.Duration(p.Settings.CacheTTLSeconds)*time.Second)
	}

	rc.Emit(reqcontext.Event{Kind: reqcontext.EventRunCompleted, TotalMs: result.TotalLatencyMs})
	return result
}

// checkCancelled reports whether the overall run deadline/cancellation
// fired during the stage just completed. Cancellation always wins over a
// partial-failure verdict computed from whatever outputs happened to land
// before the deadline.
func (p *Pipeline) checkCancelled(ctx context.Context, req model.OrchestrationRequest, partial model.OrchestrationResult, start time.Time) (bool, model.OrchestrationResult) {
	if ctx.Err() == nil {
		return false, model.OrchestrationResult{}
	}
	partial.TerminalStatus = model.RunCancelled
	partial.TotalLatencyMs = time.Since(start).Milliseconds()
	return true, partial
}

func (p *Pipeline) terminal(req model.OrchestrationRequest, status model.RunTerminalStatus, elapsedMs int64, start time.Time) model.OrchestrationResult {
	if elapsedMs == 0 {
		elapsedMs = time.Since(start).Milliseconds()
	}
	return model.OrchestrationResult{RequestID: req.RequestID, TerminalStatus: status, TotalLatencyMs: elapsedMs}
}

func (p *Pipeline) resolveAll(req model.OrchestrationRequest) ([]model.ModelDescriptor, model.ModelDescriptor, error) {
	descriptors := make([]model.ModelDescriptor, 0, len(req.ModelIDs))
	for _, id := range req.ModelIDs {
		d, err := p.Registry.Resolve(id)
		if err != nil {
			return nil, model.ModelDescriptor{}, err
		}
		descriptors = append(descriptors, d)
	}
	synth, err := p.Registry.Resolve(req.SynthesizerModelID)
	if err != nil {
		return nil, model.ModelDescriptor{}, err
	}
	return descriptors, synth, nil
}

// promptFn builds the (prompt, params) pair for a given modelId within a stage.
type promptFn func(modelID model.ModelId) (string, provider.Params)

// dispatchStage fans out concurrently across modelIDs, preserves
// PerModelOutputs ordering by dispatch-index (never completion order), and
// bounds the whole group by min(stage timeout, CONCURRENT_EXECUTION_TIMEOUT)
// on top of the overall deadline already carried by ctx.
func (p *Pipeline) dispatchStage(ctx context.Context, rc *reqcontext.RequestContext, stage model.Stage, modelIDs []model.ModelId, descriptors []model.ModelDescriptor, prompts promptFn) model.StageResult {
	started := time.Now()
	rc.Emit(reqcontext.Event{Kind: reqcontext.EventStageStarted, Stage: string(stage)})

	stageTimeout := p.stageTimeout(stage)
	if p.Settings.ConcurrentExecutionTimeout < stageTimeout {
		stageTimeout = p.Settings.ConcurrentExecutionTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	outputs := make([]model.StageOutput, len(modelIDs))
	descriptorByID := make(map[model.ModelId]model.ModelDescriptor, len(descriptors))
	for _, d := range descriptors {
		descriptorByID[d.ModelID] = d
	}

	g, gctx := errgroup.WithContext(stageCtx)
	for i, id := range modelIDs {
		i, id := i, id
		g.Go(func() error {
			d, ok := descriptorByID[id]
			if !ok || !p.Registry.HasCredential(d) {
				outputs[i] = model.StageOutput{ModelID: id, Stage: stage, Status: model.StatusInvalidKey}
				return nil
			}

			adapter, ok := p.Adapters[d.ProviderKind]
			if !ok {
				outputs[i] = model.StageOutput{ModelID: id, Stage: stage, Status: model.StatusProviderError}
				return nil
			}

			prompt, params := prompts(id)
			policy := retry.Policy{
				MaxAttempts:     p.Settings.MaxRetryAttempts,
				InitialDelay:    p.Settings.RetryInitialDelay,
				MaxDelay:        p.Settings.RetryMaxDelay,
				ExponentialBase: p.Settings.RetryExponentialBase,
				RetryEnabled:    p.Settings.RateLimitRetryEnabled,
			}
			retryAfterFn := func(out model.StageOutput) (time.Duration, bool) {
				return provider.ParseRetryAfter(out.RetryAfterRaw)
			}
			out := retry.Execute(gctx, rc, stage, id, policy, d.BackoffMultiplier, retryAfterFn, func(callCtx context.Context) model.StageOutput {
				return adapter.Invoke(callCtx, d, prompt, params)
			})
			out.ModelID = id
			out.Stage = stage
			outputs[i] = out
			return nil
		})
	}
	_ = g.Wait()

	result := model.StageResult{Stage: stage, PerModelOutputs: outputs}
	for _, o := range outputs {
		if o.Status == model.StatusOK {
			result.SuccessfulCount++
		} else {
			result.FailedCount++
		}
	}

	rc.Emit(reqcontext.Event{
		Kind: reqcontext.EventStageCompleted, Stage: string(stage),
		Successful: result.SuccessfulCount, Failed: result.FailedCount,
		ElapsedMs: time.Since(started).Milliseconds(),
	})
	return result
}

func (p *Pipeline) stageTimeout(stage model.Stage) time.Duration {
	switch stage {
	case model.StageInitial:
		return p.Settings.InitialResponseTimeout
	case model.StagePeerReview:
		return p.Settings.PeerReviewTimeout
	case model.StageUltraSynthesis:
		return p.Settings.UltraSynthesisTimeout
	default:
		return p.Settings.LLMRequestTimeout
	}
}

func successfulModelIDs(stage model.StageResult) []model.ModelId {
	out := make([]model.ModelId, 0, len(stage.PerModelOutputs))
	for _, o := range stage.PerModelOutputs {
		if o.Status == model.StatusOK {
			out = append(out, o.ModelID)
		}
	}
	return out
}

func filterDescriptors(descriptors []model.ModelDescriptor, ids []model.ModelId) []model.ModelDescriptor {
	want := make(map[model.ModelId]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]model.ModelDescriptor, 0, len(ids))
	for _, d := range descriptors {
		if _, ok := want[d.ModelID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// peerReviewContext builds, for modelID, the embedded context of (a) the
// original query (left to the caller, joined separately) and (b) the
// concatenated *other* models' successful initial outputs with attribution.
func peerReviewContext(modelID model.ModelId, stage1 model.StageResult) string {
	var ctx string
	for _, o := range stage1.PerModelOutputs {
		if o.ModelID == modelID || o.Status != model.StatusOK {
			continue
		}
		ctx += "\n\n--- " + string(o.ModelID) + " said ---\n" + o.Content
	}
	return ctx
}

// synthesisContext embeds the original query plus all successful
// peer_review outputs, falling back to initial outputs for any model that
// failed peer_review.
func synthesisContext(query string, stage1, stage2 model.StageResult) string {
	stage1ByID := make(map[model.ModelId]model.StageOutput, len(stage1.PerModelOutputs))
	for _, o := range stage1.PerModelOutputs {
		stage1ByID[o.ModelID] = o
	}

	var ctx string
	for _, o := range stage2.PerModelOutputs {
		content := o.Content
		if o.Status != model.StatusOK {
			if fallback, ok := stage1ByID[o.ModelID]; ok && fallback.Status == model.StatusOK {
				content = fallback.Content
			} else {
				continue
			}
		}
		ctx += "\n\n--- " + string(o.ModelID) + " ---\n" + content
	}
	return ctx
}

// longestSuccessfulOutput finds the longest-by-content successful output in
// stage, for the synthesizer-fallback path.
func longestSuccessfulOutput(stage model.StageResult) (model.StageOutput, bool) {
	var best model.StageOutput
	found := false
	for _, o := range stage.PerModelOutputs {
		if o.Status != model.StatusOK {
			continue
		}
		if !found || len(o.Content) > len(best.Content) {
			best = o
			found = true
		}
	}
	return best, found
}

func allOutputs(result model.OrchestrationResult) []model.StageOutput {
	out := make([]model.StageOutput, 0)
	for _, s := range result.Stages {
		out = append(out, s.PerModelOutputs...)
	}
	return out
}
