package registry

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultraai/orchestrator/model"
)

func TestResolve_NotFound(t *testing.T) {
	r := New(nil)
	_, err := r.Resolve("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasCredential_NoCredentialShortCircuit(t *testing.T) {
	os.Unsetenv("TEST_MISSING_CRED_VAR")
	r := New([]model.ModelDescriptor{{ModelID: "m", CredentialEnvVar: "TEST_MISSING_CRED_VAR"}})
	d, err := r.Resolve("m")
	require.NoError(t, err)
	assert.False(t, r.HasCredential(d))
}

func TestListAvailable_OnlyWithCredential(t *testing.T) {
	t.Setenv("TEST_PRESENT_CRED_VAR", "value")
	os.Unsetenv("TEST_ABSENT_CRED_VAR")
	r := New([]model.ModelDescriptor{
		{ModelID: "present", CredentialEnvVar: "TEST_PRESENT_CRED_VAR"},
		{ModelID: "absent", CredentialEnvVar: "TEST_ABSENT_CRED_VAR"},
	})
	available := r.ListAvailable()
	require.Len(t, available, 1)
	assert.Equal(t, model.ModelId("present"), available[0].ModelID)
}

func TestDiscoverCapabilities_RunsOncePerProviderKindInParallel(t *testing.T) {
	r := New([]model.ModelDescriptor{
		{ModelID: "a", ProviderKind: model.ProviderOpenAI},
		{ModelID: "b", ProviderKind: model.ProviderOpenAI},
		{ModelID: "c", ProviderKind: model.ProviderAnthropic},
	})
	seen := make(chan model.ProviderKind, 4)
	err := r.DiscoverCapabilities(context.Background(), 4, func(ctx context.Context, kind model.ProviderKind) error {
		seen <- kind
		return nil
	})
	require.NoError(t, err)
	close(seen)
	count := 0
	for range seen {
		count++
	}
	assert.Equal(t, 2, count) // one call per distinct ProviderKind, not per model
}

func TestDefaultDescriptors_CarryBackoffMultipliers(t *testing.T) {
	for _, d := range DefaultDescriptors() {
		assert.Greater(t, d.BackoffMultiplier, 0.0)
	}
}
