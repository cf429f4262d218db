package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/model"
)

func newTestCache(t *testing.T) Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "", zap.NewNop())
}

func TestCache_PutThenGet_ByteIdentical(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	result := model.OrchestrationResult{RequestID: "r1", FinalAnswer: "the answer", EstimatedCostUsd: 0.01}
	key := Key("query", []model.ModelId{"a", "b"}, "a", PipelineVersion)

	require.NoError(t, c.Put(ctx, key, result, time.Minute))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, result, got)
}

func TestCache_Miss(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestKey_DeterministicAndOrderInsensitive(t *testing.T) {
	k1 := Key("query", []model.ModelId{"a", "b"}, "a", 1)
	k2 := Key("query", []model.ModelId{"b", "a"}, "a", 1) // model order shouldn't matter: sorted before hashing
	assert.Equal(t, k1, k2)
}

func TestKey_TrailingSpaceTrimmedButContentChangeChangesKey(t *testing.T) {
	k1 := Key("query", []model.ModelId{"a", "b"}, "a", 1)
	k2 := Key("query ", []model.ModelId{"a", "b"}, "a", 1) // trailing space, trimmed by canonicalize -> same
	assert.Equal(t, k1, k2, "trailing whitespace is trimmed by canonicalize before hashing")

	k3 := Key("query.", []model.ModelId{"a", "b"}, "a", 1) // a real content change after canonicalization
	assert.NotEqual(t, k1, k3)
}

func TestKey_DifferingFieldsYieldDifferentKeys(t *testing.T) {
	base := Key("q", []model.ModelId{"a", "b"}, "a", 1)
	assert.NotEqual(t, base, Key("q2", []model.ModelId{"a", "b"}, "a", 1))
	assert.NotEqual(t, base, Key("q", []model.ModelId{"a", "c"}, "a", 1))
	assert.NotEqual(t, base, Key("q", []model.ModelId{"a", "b"}, "b", 1))
	assert.NotEqual(t, base, Key("q", []model.ModelId{"a", "b"}, "a", 2))
}

// TestCacheKeyDeterminismProperty is the property-based check for spec
// invariant 3.
func TestCacheKeyDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("identical inputs hash identically regardless of modelId order", prop.ForAll(
		func(query, synth string, ids []string) bool {
			modelIDs := make([]model.ModelId, len(ids))
			for i, id := range ids {
				modelIDs[i] = model.ModelId(id)
			}
			reversed := make([]model.ModelId, len(modelIDs))
			copy(reversed, modelIDs)
			for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
				reversed[i], reversed[j] = reversed[j], reversed[i]
			}
			k1 := Key(query, modelIDs, model.ModelId(synth), PipelineVersion)
			k2 := Key(query, reversed, model.ModelId(synth), PipelineVersion)
			return k1 == k2
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
