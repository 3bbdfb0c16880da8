package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/ai/gemini"
	"github.com/spigell/hh-autofill/internal/cache"
	"github.com/spigell/hh-autofill/internal/classifier"
	"github.com/spigell/hh-autofill/internal/config"
	"github.com/spigell/hh-autofill/internal/fields"
	"github.com/spigell/hh-autofill/internal/logger"
	"github.com/spigell/hh-autofill/internal/mapping"
	"github.com/spigell/hh-autofill/internal/ratelimit"
	"github.com/spigell/hh-autofill/internal/secrets"
	"github.com/spigell/hh-autofill/internal/storage/file"
	"github.com/spigell/hh-autofill/internal/storage/redis"
	"github.com/spigell/hh-autofill/internal/storage/sqlite"
)

const geminiAPIKeyEnv = "GEMINI_API_KEY"

// setup builds the logger and the validated configuration shared by every command.
func setup() (*zap.Logger, *config.Config) {
	log.SetFlags(0)

	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		l.Fatal("getting a config", zap.Error(err))
	}

	if used := viper.ConfigFileUsed(); used != "" {
		l.Debug("using config file", zap.String("path", used))
	}

	return l, cfg
}

// openStore returns the configured persistence backend and a function releasing it.
func openStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendFile:
		store, err := file.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.BackendRedis:
		store, err := redis.New(ctx, redis.Config{URL: cfg.RedisURL, Prefix: cfg.RedisPrefix})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return cache.NewMemoryStore(), noop, nil
	}
}

func newCache(ctx context.Context, cfg *config.Config, l *zap.Logger) (*cache.Cache, func() error, error) {
	store, closeStore, err := openStore(ctx, cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s cache store: %w", cfg.Cache.Backend, err)
	}

	c := cache.New(store,
		cache.WithTTL(cfg.TTL()),
		cache.WithKey(cfg.Cache.Key),
		cache.WithLogger(l.With(zap.String("cache_backend", cfg.Cache.Backend))),
	)
	return c, closeStore, nil
}

func newEngine(ctx context.Context, cfg *config.Config, c *cache.Cache, l *zap.Logger) (*mapping.Engine, error) {
	gcfg := cfg.AI.Gemini

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  gcfg.APIKeyFile,
		Value: gcfg.APIKey,
		Env:   geminiAPIKeyEnv,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or %s)", err, geminiAPIKeyEnv)
	}

	aiLogger := logger.WithCommonFields(l, cfg.AI.Provider, gcfg.Model)

	generator, err := gemini.NewGenerator(ctx, apiKey, gcfg.Model, gcfg.AttemptsPerMinute, aiLogger)
	if err != nil {
		return nil, err
	}

	labeler := gemini.NewLabeler(generator, aiLogger, gcfg.MaxLogLength)
	client := classifier.New(labeler, cfg.Retry(), aiLogger)

	return mapping.New(mapping.Deps{
		Cache:      c,
		Limiter:    ratelimit.New(cfg.Limiter()),
		Classifier: client,
		Matcher:    fields.NewMatcher(cfg.Mapping.Shortcuts.Extra()),
		Logger:     l,
	}, cfg.Engine()), nil
}
