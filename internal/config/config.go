// Package config holds the hh-autofill configuration model.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spigell/hh-autofill/internal/cache"
	"github.com/spigell/hh-autofill/internal/classifier"
	"github.com/spigell/hh-autofill/internal/fields"
	"github.com/spigell/hh-autofill/internal/mapping"
	"github.com/spigell/hh-autofill/internal/ratelimit"
)

const (
	EnvPrefix = "HH_AUTOFILL"

	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"

	ProviderGemini = "gemini"

	defaultFilePath   = "hh-autofill-cache.json"
	defaultSQLitePath = "hh-autofill-cache.db"
)

type Config struct {
	RateLimit  RateLimitConfig  `mapstructure:"rate-limit"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Mapping    MappingConfig    `mapstructure:"mapping"`
	AI         AIConfig         `mapstructure:"ai"`
	Server     ServerConfig     `mapstructure:"server"`
}

type RateLimitConfig struct {
	RequestsPerMinute  int           `mapstructure:"requests-per-minute"`
	ConcurrentRequests int           `mapstructure:"concurrent-requests"`
	BatchDelay         time.Duration `mapstructure:"batch-delay"`
	Window             time.Duration `mapstructure:"window"`
}

type ClassifierConfig struct {
	MaxRetries     int           `mapstructure:"max-retries"`
	Timeout        time.Duration `mapstructure:"timeout"`
	InitialBackoff time.Duration `mapstructure:"initial-backoff"`
	MaxBackoff     time.Duration `mapstructure:"max-backoff"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTLHours      int           `mapstructure:"ttl-hours"`
	Key           string        `mapstructure:"key"`
	Path          string        `mapstructure:"path"`
	RedisURL      string        `mapstructure:"redis-url"`
	RedisPrefix   string        `mapstructure:"redis-prefix"`
	PruneInterval time.Duration `mapstructure:"prune-interval"`
}

type MappingConfig struct {
	BatchTimeout time.Duration   `mapstructure:"batch-timeout"`
	Shortcuts    ShortcutsConfig `mapstructure:"shortcuts"`
}

// ShortcutsConfig lists extra keywords appended to the built-in shortcut lists.
type ShortcutsConfig struct {
	Static     []string `mapstructure:"static"`
	SemiStatic []string `mapstructure:"semi-static"`
	Dynamic    []string `mapstructure:"dynamic"`
}

type AIConfig struct {
	Provider string       `mapstructure:"provider"`
	Gemini   GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string `mapstructure:"api-key"`
	APIKeyFile        string `mapstructure:"api-key-file"`
	Model             string `mapstructure:"model"`
	MaxLogLength      int    `mapstructure:"max-log-length"`
	AttemptsPerMinute int    `mapstructure:"attempts-per-minute"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// SetDefaults registers every known key so AutomaticEnv can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rate-limit.requests-per-minute", ratelimit.DefaultRequestsPerMinute)
	v.SetDefault("rate-limit.concurrent-requests", ratelimit.DefaultConcurrentRequests)
	v.SetDefault("rate-limit.batch-delay", ratelimit.DefaultBatchDelay)
	v.SetDefault("rate-limit.window", ratelimit.DefaultWindow)

	def := classifier.DefaultConfig()
	v.SetDefault("classifier.max-retries", def.MaxRetries)
	v.SetDefault("classifier.timeout", def.Timeout)
	v.SetDefault("classifier.initial-backoff", def.InitialBackoff)
	v.SetDefault("classifier.max-backoff", def.MaxBackoff)

	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.ttl-hours", int(cache.DefaultTTL/time.Hour))
	v.SetDefault("cache.key", cache.DefaultKey)
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.redis-url", "")
	v.SetDefault("cache.redis-prefix", "")
	v.SetDefault("cache.prune-interval", time.Duration(0))

	v.SetDefault("mapping.batch-timeout", mapping.DefaultBatchTimeout)
	v.SetDefault("mapping.shortcuts.static", []string{})
	v.SetDefault("mapping.shortcuts.semi-static", []string{})
	v.SetDefault("mapping.shortcuts.dynamic", []string{})

	v.SetDefault("ai.provider", ProviderGemini)
	v.SetDefault("ai.gemini.api-key", "")
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.max-log-length", 200)
	v.SetDefault("ai.gemini.attempts-per-minute", 0)

	v.SetDefault("server.listen", ":8080")
}

// BindEnv makes HH_AUTOFILL_<KEY> variables override the file, e.g.
// HH_AUTOFILL_CACHE_BACKEND for cache.backend.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load applies defaults, unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the ceilings and fills backend-specific defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rate-limit.requests-per-minute must be positive"))
	}
	if c.RateLimit.ConcurrentRequests <= 0 {
		errs = append(errs, errors.New("rate-limit.concurrent-requests must be positive"))
	}
	if c.RateLimit.BatchDelay < 0 {
		errs = append(errs, errors.New("rate-limit.batch-delay must not be negative"))
	}
	if c.Classifier.MaxRetries <= 0 {
		errs = append(errs, errors.New("classifier.max-retries must be at least 1"))
	}
	if c.Cache.TTLHours <= 0 {
		errs = append(errs, errors.New("cache.ttl-hours must be positive"))
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Cache.Path == "" {
			c.Cache.Path = defaultFilePath
		}
	case BackendSQLite:
		if c.Cache.Path == "" {
			c.Cache.Path = defaultSQLitePath
		}
	case BackendRedis:
		if strings.TrimSpace(c.Cache.RedisURL) == "" {
			errs = append(errs, errors.New("cache.redis-url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend))
	}

	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	if c.AI.Provider != ProviderGemini {
		errs = append(errs, fmt.Errorf("unsupported ai provider: %s", c.AI.Provider))
	}

	return errors.Join(errs...)
}

func (c *Config) Limiter() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerWindow: c.RateLimit.RequestsPerMinute,
		Concurrent:        c.RateLimit.ConcurrentRequests,
		BatchDelay:        c.RateLimit.BatchDelay,
		Window:            c.RateLimit.Window,
	}
}

func (c *Config) Retry() classifier.Config {
	return classifier.Config{
		MaxRetries:     c.Classifier.MaxRetries,
		Timeout:        c.Classifier.Timeout,
		InitialBackoff: c.Classifier.InitialBackoff,
		MaxBackoff:     c.Classifier.MaxBackoff,
	}
}

func (c *Config) TTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

func (c *Config) Engine() mapping.Config {
	return mapping.Config{BatchTimeout: c.Mapping.BatchTimeout}
}

// Extra returns the configured shortcut keywords per category.
func (s ShortcutsConfig) Extra() map[fields.Category][]string {
	return map[fields.Category][]string{
		fields.CategoryStatic:     s.Static,
		fields.CategorySemiStatic: s.SemiStatic,
		fields.CategoryDynamic:    s.Dynamic,
	}
}
