package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kirikou/kirikou/internal/agent"
	"github.com/kirikou/kirikou/internal/config"
	"github.com/kirikou/kirikou/internal/inference"
	"github.com/kirikou/kirikou/internal/memory"
	"github.com/kirikou/kirikou/internal/ratelimit"
)

// components holds the shared clients, built once and injected everywhere
type components struct {
	cfg      *config.Configuration
	logger   *zap.SugaredLogger
	redis    *redis.Client
	store    *memory.RedisVectorStore
	embedder memory.EmbeddingGenerator
	cache    *memory.CachedEmbedding
}

func newComponents(ctx context.Context, cfg *config.Configuration, logger *zap.SugaredLogger) (*components, error) {
	client, err := memory.NewRedisClient(cfg.Memory)
	if err != nil {
		return nil, err
	}
	c := &components{cfg: cfg, logger: logger, redis: client}

	c.store, err = memory.NewRedisVectorStore(ctx, client, cfg.Memory)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	base, err := newEmbedder(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.embedder = base

	if cfg.Memory.CachePath != "" {
		db, err := memory.OpenBadger(cfg.Memory.CachePath)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.cache = memory.NewCachedEmbedding(base, db, cfg.Memory.EmbeddingProvider+"/"+cfg.Memory.EmbeddingModel)
		c.embedder = c.cache
	}

	logger.Infow("Knowledge base ready",
		"redis", cfg.Memory.RedisURL,
		"index", cfg.Memory.IndexName,
		"embedding", cfg.Memory.EmbeddingModel,
		"cache", cfg.Memory.CachePath != "",
	)
	return c, nil
}

func newEmbedder(cfg *config.Configuration) (memory.EmbeddingGenerator, error) {
	switch cfg.Memory.EmbeddingProvider {
	case "openai":
		if cfg.Model.OpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required for openai embeddings")
		}
		return memory.NewOpenAIEmbedding(inference.NewOpenAIClient(cfg.Model).Client(), cfg.Memory), nil
	case "ollama":
		client, err := inference.NewOllamaClient(cfg.Model)
		if err != nil {
			return nil, err
		}
		return memory.NewOllamaEmbedding(client.API(), cfg.Memory), nil
	case "simple":
		return memory.NewSimpleEmbedding(cfg.Memory.EmbeddingDimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Memory.EmbeddingProvider)
	}
}

// executor builds the agent over the shared retriever
func (c *components) executor() (*agent.Executor, error) {
	model, err := inference.NewChatModel(c.cfg.Model)
	if err != nil {
		return nil, err
	}
	retriever := memory.NewMMRRetriever(c.store, c.embedder, c.cfg.Memory)
	tools := []agent.Tool{agent.NewRetrieverTool(retriever)}
	return agent.NewExecutor(model, tools, c.cfg.Agent, c.logger), nil
}

func (c *components) limiter() ratelimit.Limiter {
	if c.cfg.RateLimit.Backend == config.BackendLocal {
		return ratelimit.NewLocalLimiter(c.cfg.RateLimit.Policy)
	}
	return ratelimit.NewRedisLimiter(c.redis, c.cfg.RateLimit.Policy)
}

func (c *components) ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *components) Close() {
	var errs []error
	if c.cache != nil {
		hits, misses := c.cache.Stats()
		c.logger.Debugw("Embedding cache", "hits", hits, "misses", misses)
		errs = append(errs, c.cache.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	} else if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warnw("Error closing components", "error", err)
	}
}
