// Package openaicompat is the shared base for every LLM provider whose wire
// format follows the OpenAI chat-completions shape (OpenAI itself, Google's
// OpenAI-compatible endpoint, HuggingFace's text-generation-inference
// gateway). Each concrete provider package calls New with its own Config
// (base URL, header builder, tokenizer encoding) and returns that Provider.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/provider"
)

// Config configures one Provider instance.
type Config struct {
	ProviderKind     model.ProviderKind
	ProviderName     string
	BaseURL          string
	ChatEndpoint     string // default "/v1/chat/completions"
	TiktokenEncoding string // e.g. "cl100k_base"; empty disables tiktoken counting
	BuildHeaders     func(req *http.Request, apiKey string)
}

// Provider implements provider.Adapter over the OpenAI chat-completions
// wire format. The HTTP client is shared process-wide (see provider.SharedTransport);
// Provider never constructs its own client.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	table  provider.RegexTable
	enc    *tiktoken.Tiktoken
}

// New builds a Provider. client must be the shared process-wide HTTP client.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Provider {
	if cfg.ChatEndpoint == "" {
		cfg.ChatEndpoint = "/v1/chat/completions"
	}
	p := &Provider{cfg: cfg, client: client, logger: logger, table: provider.DefaultRegexTable()}
	if cfg.TiktokenEncoding != "" {
		if enc, err := tiktoken.GetEncoding(cfg.TiktokenEncoding); err == nil {
			p.enc = enc
		}
	}
	return p
}

func (p *Provider) Name() string { return p.cfg.ProviderName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

// Invoke implements provider.Adapter.
func (p *Provider) Invoke(ctx context.Context, descriptor model.ModelDescriptor, prompt string, params provider.Params) model.StageOutput {
	start := time.Now()
	out := model.StageOutput{ModelID: descriptor.ModelID, AttemptCount: 1}

	callTimeout := provider.CallTimeout(ctx, 45*time.Second)
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	messages := []chatMessage{{Role: "user", Content: prompt}}
	if params.PreviousOutputs != "" {
		messages = []chatMessage{
			{Role: "system", Content: params.PreviousOutputs},
			{Role: "user", Content: prompt},
		}
	}

	body := chatRequest{
		Model:       string(descriptor.ModelID),
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		out.Status = model.StatusProviderError
		out.LatencyMs = time.Since(start).Milliseconds()
		return out
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.ChatEndpoint
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		out.Status = model.StatusProviderError
		out.LatencyMs = time.Since(start).Milliseconds()
		return out
	}
	if p.cfg.BuildHeaders != nil {
		p.cfg.BuildHeaders(httpReq, os.Getenv(descriptor.CredentialEnvVar))
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		out.Status = provider.ClassifyTransportError(callCtx, err)
		out.LatencyMs = time.Since(start).Milliseconds()
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readBody(resp.Body)
		retryAfter := resp.Header.Get("Retry-After")
		out.Status = provider.ClassifyHTTP(resp.StatusCode, msg, retryAfter, p.table)
		out.RetryAfterRaw = retryAfter
		out.LatencyMs = time.Since(start).Milliseconds()
		return out
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || len(decoded.Choices) == 0 {
		// 2xx but body fails schema validation -> provider_error per spec table.
		out.Status = model.StatusProviderError
		out.LatencyMs = time.Since(start).Milliseconds()
		return out
	}

	out.Status = model.StatusOK
	out.Content = decoded.Choices[0].Message.Content
	out.LatencyMs = time.Since(start).Milliseconds()
	p.populateTokens(&out, prompt, decoded)
	return out
}

func (p *Provider) populateTokens(out *model.StageOutput, prompt string, resp chatResponse) {
	if resp.Usage != nil {
		out.InputTokens = resp.Usage.PromptTokens
		out.OutputTokens = resp.Usage.CompletionTokens
		return
	}
	out.TokensEstimated = true
	if p.enc != nil {
		out.InputTokens = len(p.enc.Encode(prompt, nil, nil))
		out.OutputTokens = len(p.enc.Encode(out.Content, nil, nil))
		return
	}
	out.InputTokens = provider.EstimateTokens(prompt)
	out.OutputTokens = provider.EstimateTokens(out.Content)
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(r)
	if err != nil {
		return "failed to read error response"
	}
	return string(data)
}
