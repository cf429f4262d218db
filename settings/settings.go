// Package settings loads the process environment into a Settings value at
// startup, enforcing the required secrets and provider-credential floor
// (spec §6.4). The process refuses to start if a required value is absent —
// the only raised failure this codebase allows outside a component boundary.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings holds every environment-configurable knob, resolved once at
// process start and passed down explicitly — no module-level singleton.
type Settings struct {
	AuthAccessSecret  string
	AuthRefreshSecret string

	OrchestrationTimeout       time.Duration
	InitialResponseTimeout     time.Duration
	PeerReviewTimeout          time.Duration
	UltraSynthesisTimeout      time.Duration
	LLMRequestTimeout          time.Duration
	ConcurrentExecutionTimeout time.Duration

	MaxRetryAttempts      int
	RetryInitialDelay     time.Duration
	RetryMaxDelay         time.Duration
	RetryExponentialBase  float64

	RateLimitDetectionEnabled bool
	RateLimitRetryEnabled     bool

	MinimumModelsRequired int
	CacheTTLSeconds       int
	TokenBlacklistFailOpen bool

	HTTPMaxConnsPerHost int

	AllowSingleModel bool
}

// Defaults mirror spec §6.4's table exactly.
func Defaults() Settings {
	return Settings{
		OrchestrationTimeout:       90 * time.Second,
		InitialResponseTimeout:     60 * time.Second,
		PeerReviewTimeout:          90 * time.Second,
		UltraSynthesisTimeout:      60 * time.Second,
		LLMRequestTimeout:          45 * time.Second,
		ConcurrentExecutionTimeout: 50 * time.Second,
		MaxRetryAttempts:           3,
		RetryInitialDelay:          1 * time.Second,
		RetryMaxDelay:              60 * time.Second,
		RetryExponentialBase:       2.0,
		RateLimitDetectionEnabled:  true,
		RateLimitRetryEnabled:      true,
		MinimumModelsRequired:      2,
		CacheTTLSeconds:            3600,
		TokenBlacklistFailOpen:     false,
		HTTPMaxConnsPerHost:        32,
		AllowSingleModel:           false,
	}
}

// credentialEnvVars is the set of provider API keys from which at least two
// must be present in production (spec §6.4).
var credentialEnvVars = []string{
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"GOOGLE_API_KEY",
	"HUGGINGFACE_API_KEY",
}

// Load reads Settings from the process environment, applying Defaults()
// for anything unset, and enforces the required-secret and
// credential-floor invariants. Returns an error describing exactly what is
// missing; callers are expected to log and exit on error rather than start
// degraded.
func Load(getenv func(string) string) (Settings, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	s := Defaults()

	s.AuthAccessSecret = getenv("AUTH_ACCESS_SECRET")
	s.AuthRefreshSecret = getenv("AUTH_REFRESH_SECRET")
	if len(s.AuthAccessSecret) < 32 {
		return Settings{}, fmt.Errorf("AUTH_ACCESS_SECRET must be set and at least 32 bytes of entropy")
	}
	if len(s.AuthRefreshSecret) < 32 {
		return Settings{}, fmt.Errorf("AUTH_REFRESH_SECRET must be set and at least 32 bytes of entropy")
	}

	s.AllowSingleModel = parseBool(getenv("ALLOW_SINGLE_MODEL"), false)
	if !s.AllowSingleModel {
		present := 0
		for _, v := range credentialEnvVars {
			if getenv(v) != "" {
				present++
			}
		}
		if present < 2 {
			return Settings{}, fmt.Errorf(
				"at least 2 of %v must be set in production (set ALLOW_SINGLE_MODEL=true to override for dev/test)",
				credentialEnvVars)
		}
	}

	durationEnv(getenv, "ORCHESTRATION_TIMEOUT", &s.OrchestrationTimeout)
	durationEnv(getenv, "INITIAL_RESPONSE_TIMEOUT", &s.InitialResponseTimeout)
	durationEnv(getenv, "PEER_REVIEW_TIMEOUT", &s.PeerReviewTimeout)
	durationEnv(getenv, "ULTRA_SYNTHESIS_TIMEOUT", &s.UltraSynthesisTimeout)
	durationEnv(getenv, "LLM_REQUEST_TIMEOUT", &s.LLMRequestTimeout)
	durationEnv(getenv, "CONCURRENT_EXECUTION_TIMEOUT", &s.ConcurrentExecutionTimeout)
	durationEnv(getenv, "RETRY_INITIAL_DELAY", &s.RetryInitialDelay)
	durationEnv(getenv, "RETRY_MAX_DELAY", &s.RetryMaxDelay)

	intEnv(getenv, "MAX_RETRY_ATTEMPTS", &s.MaxRetryAttempts)
	intEnv(getenv, "MINIMUM_MODELS_REQUIRED", &s.MinimumModelsRequired)
	intEnv(getenv, "CACHE_TTL_SECONDS", &s.CacheTTLSeconds)
	intEnv(getenv, "HTTP_MAX_CONNS_PER_HOST", &s.HTTPMaxConnsPerHost)

	floatEnv(getenv, "RETRY_EXPONENTIAL_BASE", &s.RetryExponentialBase)

	s.RateLimitDetectionEnabled = parseBool(getenv("RATE_LIMIT_DETECTION_ENABLED"), s.RateLimitDetectionEnabled)
	s.RateLimitRetryEnabled = parseBool(getenv("RATE_LIMIT_RETRY_ENABLED"), s.RateLimitRetryEnabled)
	s.TokenBlacklistFailOpen = parseBool(getenv("TOKEN_BLACKLIST_FAIL_OPEN"), s.TokenBlacklistFailOpen)

	return s, nil
}

func durationEnv(getenv func(string) string, key string, dst *time.Duration) {
	v := getenv(key)
	if v == "" {
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
	}
}

func intEnv(getenv func(string) string, key string, dst *int) {
	v := getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func floatEnv(getenv func(string) string, key string, dst *float64) {
	v := getenv(key)
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func parseBool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
