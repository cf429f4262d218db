// Package openai adapts OpenAI's chat-completions API via the shared
// openaicompat base.
package openai

import (
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/provider"
	"github.com/ultraai/orchestrator/provider/openaicompat"
)

// BackoffMultiplier is OpenAI's retry-handler multiplier (spec §4.1 table).
const BackoffMultiplier = 1.5

// New builds the OpenAI provider.Adapter.
func New(client *http.Client, logger *zap.Logger) provider.Adapter {
	return openaicompat.New(openaicompat.Config{
		ProviderKind:     model.ProviderOpenAI,
		ProviderName:     "openai",
		BaseURL:          envOr("OPENAI_BASE_URL", "https://api.openai.com"),
		TiktokenEncoding: "cl100k_base",
		BuildHeaders: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
			req.Header.Set("Content-Type", "application/json")
		},
	}, client, logger)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
