// Package model holds the data types shared across the orchestration core:
// model identity, orchestration requests/results, and the per-stage outputs
// the pipeline produces.
package model

import "time"

// ModelId identifies a model within a single orchestration run. Opaque to
// the core beyond uniqueness — e.g. "gpt-4o", "claude-3-5-sonnet".
type ModelId string

// ProviderKind tags which HTTP shape, auth header form, and error
// classification rules apply to a model.
type ProviderKind string

const (
	ProviderOpenAI      ProviderKind = "openai"
	ProviderAnthropic   ProviderKind = "anthropic"
	ProviderGoogle      ProviderKind = "google"
	ProviderHuggingFace ProviderKind = "huggingface"
	ProviderOther       ProviderKind = "other"
)

// ModelDescriptor is immutable once registered. Loaded at process start from
// configuration; hot-reload is permitted but not required.
type ModelDescriptor struct {
	ModelID               ModelId
	ProviderKind          ProviderKind
	CredentialEnvVar      string
	CostPer1kInputTokens  float64
	CostPer1kOutputTokens float64
	MaxContextTokens      int
	BackoffMultiplier     float64
}

// Options bag for an OrchestrationRequest.
type Options struct {
	Streaming    bool
	EstimateOnly bool
	CostCapUsd   *float64
}

// OrchestrationRequest is the admitted unit of work for a single pipeline run.
type OrchestrationRequest struct {
	RequestID          string // UUIDv4
	UserID             string
	Query              string
	ModelIDs           []ModelId // cardinality 2..N, unique
	SynthesizerModelID ModelId   // in ModelIDs or separate
	Options            Options
}

// Stage names for the three-stage pipeline.
type Stage string

const (
	StageInitial        Stage = "initial"
	StagePeerReview     Stage = "peer_review"
	StageUltraSynthesis Stage = "ultra_synthesis"
)

// OutputStatus classifies a single adapter call's outcome, normalized
// across every provider.
type OutputStatus string

const (
	StatusOK              OutputStatus = "ok"
	StatusTimeout         OutputStatus = "timeout"
	StatusRateLimited     OutputStatus = "rate_limited"
	StatusInvalidKey      OutputStatus = "invalid_key"
	StatusProviderError   OutputStatus = "provider_error"
	StatusCancelled       OutputStatus = "cancelled"
	StatusCapExceeded     OutputStatus = "cap_exceeded"
)

// StageOutput is created by the orchestrator per (stage, model) and is
// immutable once written.
type StageOutput struct {
	ModelID       ModelId
	Stage         Stage
	Status        OutputStatus
	Content       string // present iff Status == StatusOK
	InputTokens   int
	OutputTokens  int
	LatencyMs     int64
	AttemptCount  int
	TokensEstimated bool // true when token counts were derived from ceil(bytes/4), not provider usage
	RetryAfterRaw string // raw Retry-After header value on a 429/5xx, if the provider sent one
}

// StageResult is the ordered outcome of one stage's fan-out. Ordering of
// PerModelOutputs equals dispatch order (= request.ModelIDs order), never
// completion order.
type StageResult struct {
	Stage           Stage
	PerModelOutputs []StageOutput
	SuccessfulCount int
	FailedCount     int
}

// RunTerminalStatus captures how a run ended.
type RunTerminalStatus string

const (
	RunDone                RunTerminalStatus = "done"
	RunCancelled           RunTerminalStatus = "cancelled"
	RunInsufficientModels  RunTerminalStatus = "insufficient_models"
	RunSynthesisUnavailable RunTerminalStatus = "synthesis_unavailable"
	RunCapExceeded         RunTerminalStatus = "cap_exceeded"
	RunInternalError       RunTerminalStatus = "internal_error"
)

// OrchestrationResult is the complete record of one run, persisted in the
// cache keyed by cachestore.Key.
type OrchestrationResult struct {
	RequestID        string
	Stages           [3]StageResult
	FinalAnswer      string // absent (empty) with TerminalStatus explaining why
	TerminalStatus   RunTerminalStatus
	SynthesisFallback bool
	TotalLatencyMs   int64
	EstimatedCostUsd float64
}

// AuthTokenKind distinguishes access from refresh tokens.
type AuthTokenKind string

const (
	TokenKindAccess  AuthTokenKind = "access"
	TokenKindRefresh AuthTokenKind = "refresh"
)

// AuthToken is the logical claims set serialized into a signed bearer token.
type AuthToken struct {
	TokenID   string // jti
	Subject   string // userId
	IssuedAt  time.Time
	ExpiresAt time.Time
	Kind      AuthTokenKind
}

// TokenBlacklistEntry records a revoked token; entries may be evicted after
// ExpiresAt.
type TokenBlacklistEntry struct {
	TokenID   string
	ExpiresAt time.Time
}
