// Package cachestore is the content-addressed memoization layer for
// complete OrchestrationResults (spec C6). Keys are SHA-256 over a
// canonicalized full input. The input is never truncated: truncating the
// prompt (e.g. to 500 characters) causes cross-request collisions.
package cachestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ultraai/orchestrator/model"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// PipelineVersion is incremented whenever prompt templates or stage wiring
// change; part of the cache key so stale hits never survive a logic change.
const PipelineVersion = 1

// Key computes spec §4.6's exact key:
//   sha256(utf8(canonicalize(query) || "\0" || join("\0", sort(modelIds)) || "\0" || synthesizerModelId || "\0" || pipelineVersion))
func Key(query string, modelIDs []model.ModelId, synthesizerModelID model.ModelId, pipelineVersion int) string {
	canon := model.Canonicalize(query)
	sorted := make([]string, len(modelIDs))
	for i, id := range modelIDs {
		sorted[i] = string(id)
	}
	sort.Strings(sorted)

	parts := []string{canon, strings.Join(sorted, "\x00"), string(synthesizerModelID), strconv.Itoa(pipelineVersion)}
	input := strings.Join(parts, "\x00")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Preview returns the first 100 bytes of query (all of it when shorter), a
// human-readable preview for debugging only — it is never used for lookup.
// Put stores Preview(result.FinalAnswer) alongside each entry; the request's
// query itself is not stored.
func Preview(query string) string {
	if len(query) <= 100 {
		return query
	}
	return query[:100]
}

// Cache is the content-addressed key/value store contract (spec C6).
type Cache interface {
	Get(ctx context.Context, key string) (model.OrchestrationResult, error) // ErrMiss on absence
	Put(ctx context.Context, key string, result model.OrchestrationResult, ttl time.Duration) error
}

type entry struct {
	Preview string                     `json:"preview"`
	Result  model.OrchestrationResult `json:"result"`
}

// redisCache is the production implementation, grounded on this codebase's
// Redis-backed cache manager pattern (Get/Set/health-check), adapted to the
// spec's mandatory SHA-256 canonicalized keying instead of arbitrary string
// keys.
type redisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisCache builds a Cache backed by Redis.
func NewRedisCache(client *redis.Client, prefix string, logger *zap.Logger) Cache {
	if prefix == "" {
		prefix = "orchestration:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisCache{client: client, prefix: prefix, logger: logger}
}

func (c *redisCache) Get(ctx context.Context, key string) (model.OrchestrationResult, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.OrchestrationResult{}, ErrMiss
		}
		return model.OrchestrationResult{}, fmt.Errorf("cache get: %w", err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return model.OrchestrationResult{}, fmt.Errorf("cache decode: %w", err)
	}
	return e.Result, nil
}

func (c *redisCache) Put(ctx context.Context, key string, result model.OrchestrationResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour // spec §4.6 default
	}
	e := entry{Preview: Preview(result.FinalAnswer), Result: result}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		c.logger.Error("cache put failed", zap.Error(err))
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}
