// Package anthropic adapts Anthropic's Messages API using the official
// anthropic-sdk-go client directly, rather than the hand-rolled HTTP pattern
// the other provider packages follow. Anthropic's SDK already exposes a
// typed, single-call Messages.New that maps cleanly onto C1's invoke()
// contract, so there is no hand-rolled-HTTP benefit here the way there is
// for the OpenAI-compatible family.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/provider"
)

// Provider wraps the Anthropic SDK client behind provider.Adapter. The SDK
// client is built once and reused — never per request, per provider.go's
// rule for every adapter in this package family.
type Provider struct {
	client anthropicsdk.Client
	logger *zap.Logger
}

// New builds the Anthropic provider.Adapter. httpClient is the shared
// process-wide client (spec's connection-pooling requirement applies to
// Anthropic's SDK transport too — it accepts an http.Client override).
func New(httpClient *http.Client, logger *zap.Logger) provider.Adapter {
	client := anthropicsdk.NewClient(option.WithHTTPClient(httpClient))
	return &Provider{client: client, logger: logger}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Invoke(ctx context.Context, descriptor model.ModelDescriptor, prompt string, params provider.Params) model.StageOutput {
	start := time.Now()
	out := model.StageOutput{ModelID: descriptor.ModelID, AttemptCount: 1}

	callTimeout := provider.CallTimeout(ctx, 45*time.Second)
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	apiKey := os.Getenv(descriptor.CredentialEnvVar)

	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	messages := []anthropicsdk.MessageParam{
		anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
	}

	reqParams := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(descriptor.ModelID),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if params.PreviousOutputs != "" {
		reqParams.System = []anthropicsdk.TextBlockParam{{Text: params.PreviousOutputs}}
	}

	msg, err := p.client.Messages.New(callCtx, reqParams, option.WithAPIKey(apiKey))
	out.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		out.Status = classifySDKError(callCtx, err)
		out.RetryAfterRaw = retryAfterFromSDKError(err)
		return out
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	out.Status = model.StatusOK
	out.Content = content
	out.InputTokens = int(msg.Usage.InputTokens)
	out.OutputTokens = int(msg.Usage.OutputTokens)
	return out
}

// classifySDKError maps an anthropic-sdk-go error to the normalized status
// table. The SDK surfaces HTTP failures as *anthropicsdk.Error, which
// exposes StatusCode; anything else is a transport-level failure.
func classifySDKError(ctx context.Context, err error) model.OutputStatus {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return model.StatusInvalidKey
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return model.StatusRateLimited
		case apiErr.StatusCode >= 500:
			return model.StatusProviderError
		default:
			return model.StatusProviderError
		}
	}
	return provider.ClassifyTransportError(ctx, err)
}

// retryAfterFromSDKError surfaces the raw Retry-After header off the SDK's
// underlying HTTP response, when the error carries one, so C2's retry
// handler can honor it in place of the computed backoff delay.
func retryAfterFromSDKError(err error) string {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.Header.Get("Retry-After")
	}
	return ""
}
