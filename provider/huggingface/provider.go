// Package huggingface adapts the HuggingFace hosted-inference
// OpenAI-compatible router via the shared openaicompat base. HuggingFace's
// rate-limit and error shapes vary across hosted endpoints (spec §9); its
// regex table is the one most likely to need a configuration update without
// a redeploy, which is why ClassifyHTTP takes the table as a parameter
// rather than hardcoding it.
package huggingface

import (
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/provider"
	"github.com/ultraai/orchestrator/provider/openaicompat"
)

// BackoffMultiplier is HuggingFace's retry-handler multiplier (spec §4.1 table).
const BackoffMultiplier = 2.0

// New builds the HuggingFace provider.Adapter.
func New(client *http.Client, logger *zap.Logger) provider.Adapter {
	baseURL := os.Getenv("HUGGINGFACE_BASE_URL")
	if baseURL == "" {
		baseURL = "https://router.huggingface.co/v1"
	}
	return openaicompat.New(openaicompat.Config{
		ProviderKind: model.ProviderHuggingFace,
		ProviderName: "huggingface",
		BaseURL:      baseURL,
		ChatEndpoint: "/chat/completions",
		BuildHeaders: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
			req.Header.Set("Content-Type", "application/json")
		},
	}, client, logger)
}
