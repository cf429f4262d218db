package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ultraai/orchestrator/model"
)

// fileDescriptor mirrors ModelDescriptor's shape for YAML decoding.
type fileDescriptor struct {
	ModelID               string  `yaml:"model_id"`
	ProviderKind          string  `yaml:"provider_kind"`
	CredentialEnvVar      string  `yaml:"credential_env_var"`
	CostPer1kInputTokens  float64 `yaml:"cost_per_1k_input_tokens"`
	CostPer1kOutputTokens float64 `yaml:"cost_per_1k_output_tokens"`
	MaxContextTokens      int     `yaml:"max_context_tokens"`
	BackoffMultiplier     float64 `yaml:"backoff_multiplier"`
}

type fileDescriptors struct {
	Models []fileDescriptor `yaml:"models"`
}

// LoadYAML reads a models.yaml descriptor file (spec C3's "loaded at process
// start from configuration" lifecycle). Hot-reload is permitted but not
// required; callers that want it simply call LoadYAML again and swap the
// Registry pointer.
func LoadYAML(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model registry file: %w", err)
	}
	var parsed fileDescriptors
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing model registry file: %w", err)
	}

	descriptors := make([]model.ModelDescriptor, 0, len(parsed.Models))
	for _, f := range parsed.Models {
		descriptors = append(descriptors, model.ModelDescriptor{
			ModelID:               model.ModelId(f.ModelID),
			ProviderKind:          model.ProviderKind(f.ProviderKind),
			CredentialEnvVar:      f.CredentialEnvVar,
			CostPer1kInputTokens:  f.CostPer1kInputTokens,
			CostPer1kOutputTokens: f.CostPer1kOutputTokens,
			MaxContextTokens:      f.MaxContextTokens,
			BackoffMultiplier:     f.BackoffMultiplier,
		})
	}
	return New(descriptors), nil
}

// DefaultDescriptors returns the built-in catalog backing the four
// providers this repository ships adapters for, with the spec §4.1
// backoff multipliers baked in. Used when no models.yaml is supplied.
func DefaultDescriptors() []model.ModelDescriptor {
	return []model.ModelDescriptor{
		{ModelID: "gpt-4o", ProviderKind: model.ProviderOpenAI, CredentialEnvVar: "OPENAI_API_KEY", CostPer1kInputTokens: 0.005, CostPer1kOutputTokens: 0.015, MaxContextTokens: 128000, BackoffMultiplier: 1.5},
		{ModelID: "claude-3-5-sonnet", ProviderKind: model.ProviderAnthropic, CredentialEnvVar: "ANTHROPIC_API_KEY", CostPer1kInputTokens: 0.003, CostPer1kOutputTokens: 0.015, MaxContextTokens: 200000, BackoffMultiplier: 1.2},
		{ModelID: "gemini-1.5-pro", ProviderKind: model.ProviderGoogle, CredentialEnvVar: "GOOGLE_API_KEY", CostPer1kInputTokens: 0.00125, CostPer1kOutputTokens: 0.005, MaxContextTokens: 1000000, BackoffMultiplier: 1.0},
		{ModelID: "huggingface/llama-3", ProviderKind: model.ProviderHuggingFace, CredentialEnvVar: "HUGGINGFACE_API_KEY", CostPer1kInputTokens: 0.0002, CostPer1kOutputTokens: 0.0002, MaxContextTokens: 8192, BackoffMultiplier: 2.0},
	}
}
