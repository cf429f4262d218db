// Package google adapts Google's OpenAI-compatible Gemini endpoint via the
// shared openaicompat base.
package google

import (
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/provider"
	"github.com/ultraai/orchestrator/provider/openaicompat"
)

// BackoffMultiplier is Google's retry-handler multiplier (spec §4.1 table).
const BackoffMultiplier = 1.0

// New builds the Google provider.Adapter.
func New(client *http.Client, logger *zap.Logger) provider.Adapter {
	baseURL := os.Getenv("GOOGLE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderKind: model.ProviderGoogle,
		ProviderName: "google",
		BaseURL:      baseURL,
		ChatEndpoint: "/chat/completions",
		BuildHeaders: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
			req.Header.Set("Content-Type", "application/json")
		},
	}, client, logger)
}
