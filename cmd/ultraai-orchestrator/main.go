// Command ultraai-orchestrator wires the Model Registry, per-provider
// adapters, retry policy, caches, auth gate, and the three-stage pipeline
// into one HTTP process.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/ultraai/orchestrator/auth"
	"github.com/ultraai/orchestrator/authstore"
	"github.com/ultraai/orchestrator/blacklist"
	"github.com/ultraai/orchestrator/cachestore"
	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/pipeline"
	"github.com/ultraai/orchestrator/provider"
	"github.com/ultraai/orchestrator/provider/anthropic"
	"github.com/ultraai/orchestrator/provider/google"
	"github.com/ultraai/orchestrator/provider/huggingface"
	"github.com/ultraai/orchestrator/provider/openai"
	"github.com/ultraai/orchestrator/registry"
	"github.com/ultraai/orchestrator/settings"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	fs := flag.NewFlagSet("ultraai-orchestrator", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	modelsPath := fs.String("models", "", "path to the model descriptor YAML file (defaults to built-in descriptors)")
	_ = fs.Parse(os.Args[1:])

	logger := initLogger()
	defer func() { _ = logger.Sync() }()

	logger.Info("starting ultraai-orchestrator", zap.String("version", Version), zap.String("build_time", BuildTime), zap.String("git_commit", GitCommit))

	s, err := settings.Load(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	reg, err := buildRegistry(*modelsPath)
	if err != nil {
		logger.Fatal("failed to build model registry", zap.Error(err))
	}

	redisClient := buildRedisClient()
	cache := cachestore.NewRedisCache(redisClient, "", logger)
	blStore := buildBlacklistStore(redisClient, s)

	db, err := gorm.Open(sqlite.Open(authDBPath()), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to open auth database", zap.Error(err))
	}
	accounts, err := authstore.New(db)
	if err != nil {
		logger.Fatal("failed to migrate auth database", zap.Error(err))
	}

	gate := auth.NewGate(s.AuthAccessSecret, s.AuthRefreshSecret, 15*time.Minute, 30*24*time.Hour,
		blacklist.FailOpenGate{Store: blStore, FailOpen: s.TokenBlacklistFailOpen})

	adapters := buildAdapters(s, logger)

	p := &pipeline.Pipeline{
		Registry: reg,
		Adapters: adapters,
		Cache:    cache,
		Settings: s,
		Logger:   logger,
	}

	srv := NewServer(s, logger, gate, accounts, p)
	if err := srv.Start(*addr); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	srv.WaitForShutdown()
	logger.Info("ultraai-orchestrator stopped")
}

func initLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func buildRegistry(path string) (*registry.Registry, error) {
	if path != "" {
		return registry.LoadYAML(path)
	}
	return registry.New(registry.DefaultDescriptors()), nil
}

func buildRedisClient() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func buildBlacklistStore(client *redis.Client, s settings.Settings) blacklist.Store {
	if os.Getenv("REDIS_ADDR") == "" {
		return blacklist.NewMemoryStore()
	}
	return blacklist.NewRedisStore(client, "", nil)
}

func authDBPath() string {
	if p := os.Getenv("AUTH_DB_PATH"); p != "" {
		return p
	}
	return "ultraai-orchestrator-auth.db"
}

func buildAdapters(s settings.Settings, logger *zap.Logger) map[model.ProviderKind]provider.Adapter {
	client := provider.SharedTransport(s.HTTPMaxConnsPerHost, s.LLMRequestTimeout)
	return map[model.ProviderKind]provider.Adapter{
		model.ProviderOpenAI:      openai.New(client, logger),
		model.ProviderGoogle:      google.New(client, logger),
		model.ProviderHuggingFace: huggingface.New(client, logger),
		model.ProviderAnthropic:   anthropic.New(client, logger),
	}
}
