package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/auth"
	"github.com/ultraai/orchestrator/authstore"
	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/pipeline"
	"github.com/ultraai/orchestrator/reqcontext"
	"github.com/ultraai/orchestrator/settings"
	"github.com/ultraai/orchestrator/stream"
)

// AuthHandler serves /api/auth/{register,login,logout,refresh}.
type AuthHandler struct {
	Gate   *auth.Gate
	Store  *authstore.Store
	Logger *zap.Logger
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "email and password are required")
		return
	}

	account, err := h.Store.Register(r.Context(), uuid.NewString(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, authstore.ErrEmailTaken) {
			writeJSONError(w, http.StatusConflict, "INVALID_INPUT", "email already registered")
			return
		}
		h.Logger.Error("register failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "registration failed")
		return
	}

	h.issuePair(w, account.ID)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body")
		return
	}

	account, err := h.Store.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid email or password")
		return
	}

	h.issuePair(w, account.ID)
}

func (h *AuthHandler) issuePair(w http.ResponseWriter, subject string) {
	access, _, err := h.Gate.Issue(subject, model.TokenKindAccess)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	refresh, _, err := h.Gate.Issue(subject, model.TokenKindRefresh)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenPairResponse{AccessToken: access, RefreshToken: refresh})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "refreshToken is required")
		return
	}

	tok, err := h.Gate.Validate(r.Context(), req.RefreshToken, model.TokenKindRefresh)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid, expired, or revoked refresh token")
		return
	}

	access, _, err := h.Gate.Issue(tok.Subject, model.TokenKindAccess)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "token issuance failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": access})
}

type logoutRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body")
		return
	}

	if req.AccessToken != "" {
		if tok, err := h.Gate.Validate(r.Context(), req.AccessToken, model.TokenKindAccess); err == nil {
			_ = h.Gate.Revoke(r.Context(), tok)
		}
	}
	if req.RefreshToken != "" {
		if tok, err := h.Gate.Validate(r.Context(), req.RefreshToken, model.TokenKindRefresh); err == nil {
			_ = h.Gate.Revoke(r.Context(), tok)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// OrchestratorHandler serves /api/orchestrator/analyze.
type OrchestratorHandler struct {
	Pipeline *pipeline.Pipeline
	Settings settings.Settings
	Logger   *zap.Logger
}

type analyzeRequest struct {
	Query               string   `json:"query"`
	ModelIDs            []string `json:"modelIds"`
	SynthesizerModelID  string   `json:"synthesizerModelId"`
	Streaming           bool     `json:"streaming"`
	EstimateOnly        bool     `json:"estimateOnly"`
	CostCapUsd          *float64 `json:"costCapUsd"`
}

func (h *OrchestratorHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "malformed request body")
		return
	}

	modelIDs := make([]model.ModelId, len(body.ModelIDs))
	for i, id := range body.ModelIDs {
		modelIDs[i] = model.ModelId(id)
	}
	req := model.OrchestrationRequest{
		RequestID:          uuid.NewString(),
		UserID:             UserIDFromContext(r.Context()),
		Query:              body.Query,
		ModelIDs:           modelIDs,
		SynthesizerModelID: model.ModelId(body.SynthesizerModelID),
		Options: model.Options{
			Streaming:    body.Streaming,
			EstimateOnly: body.EstimateOnly,
			CostCapUsd:   body.CostCapUsd,
		},
	}

	if req.Options.Streaming {
		h.analyzeStreaming(w, r, req)
		return
	}
	h.analyzeJSON(w, r, req)
}

func (h *OrchestratorHandler) deadline() time.Time {
	return time.Now().Add(h.Settings.OrchestrationTimeout)
}

func (h *OrchestratorHandler) analyzeJSON(w http.ResponseWriter, r *http.Request, req model.OrchestrationRequest) {
	rc := reqcontext.New(r.Context(), req.RequestID, req.UserID, h.deadline(), reqcontext.NopSink{})
	defer rc.Cancel()

	result := h.Pipeline.Run(rc.Context(), rc, req)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (h *OrchestratorHandler) analyzeStreaming(w http.ResponseWriter, r *http.Request, req model.OrchestrationRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink := reqcontext.NewChannelSink(64)
	rc := reqcontext.New(r.Context(), req.RequestID, req.UserID, h.deadline(), sink)
	defer rc.Cancel()

	sw := stream.NewWriter(w)
	_ = sw.Meta(stream.MetaPayload{RequestID: req.RequestID, Synthesizer: string(req.SynthesizerModelID), ReceivedAt: time.Now()})

	done := make(chan model.OrchestrationResult, 1)
	go func() {
		done <- h.Pipeline.Run(rc.Context(), rc, req)
		sink.Close()
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	events := sink.Events()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				events = nil // disable this case; the done case will fire next
				continue
			}
			h.forwardEvent(sw, e)
		case result := <-done:
			h.forwardResult(sw, result)
			return
		case <-ticker.C:
			_ = sw.Ping()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *OrchestratorHandler) forwardEvent(sw *stream.Writer, e reqcontext.Event) {
	switch e.Kind {
	case reqcontext.EventStageStarted, reqcontext.EventStageCompleted:
		_ = sw.Status(stream.StatusPayload{Stage: e.Stage, Percent: stagePercent(e.Stage)})
	case reqcontext.EventCostEstimated:
		_ = sw.Cost(stream.CostPayload{
			InputTokens: e.InputTokens, OutputTokens: e.OutputTokens,
			EstimatedCostUsd: e.CostUsd, CapExceeded: e.CapExceeded,
		})
	}
}

func (h *OrchestratorHandler) forwardResult(sw *stream.Writer, result model.OrchestrationResult) {
	switch result.TerminalStatus {
	case model.RunDone:
		_ = sw.Cost(stream.CostPayload{EstimatedCostUsd: result.EstimatedCostUsd})
		_ = sw.Done(stream.DonePayload{CompletedAt: time.Now()})
	case model.RunCancelled:
		// Cancellation is a clean close, not an error (spec §7): no error
		// event, the stream just ends.
	default:
		_ = sw.Error(stream.ErrorPayload{Message: string(result.TerminalStatus), Code: terminalStatusCode(result.TerminalStatus)})
	}
}

func stagePercent(stage string) int {
	switch model.Stage(stage) {
	case model.StageInitial:
		return 33
	case model.StagePeerReview:
		return 66
	case model.StageUltraSynthesis:
		return 100
	default:
		return 0
	}
}

func terminalStatusCode(status model.RunTerminalStatus) stream.ErrorCode {
	switch status {
	case model.RunInsufficientModels:
		return stream.ErrorInsufficientModels
	case model.RunCapExceeded:
		return stream.ErrorCapExceeded
	default:
		return stream.ErrorInternal
	}
}
