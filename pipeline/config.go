package pipeline

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/hashops/batch"
	"github.com/jonwraymond/hashops/cache"
	"github.com/jonwraymond/hashops/monitor"
	"github.com/jonwraymond/hashops/observe"
)

// Config configures a Pipeline.
type Config struct {
	// Provider names a registered hash provider.
	// Default: sha256
	Provider string `yaml:"provider"`

	Breaker BreakerConfig `yaml:"breaker"`
	Cache   CacheConfig   `yaml:"cache"`

	// Workers is the number of pool workers.
	// Default: runtime.NumCPU()
	Workers int `yaml:"workers"`

	// QueueSize is the pool's queue watermark.
	// Default: 4 * Workers
	QueueSize int `yaml:"queue_size"`

	// ChunkSize is the batch chunk size. It may not exceed QueueSize.
	// Default: min(64, QueueSize)
	ChunkSize int `yaml:"chunk_size"`

	// ItemTimeout bounds each item. Zero means no per-item timeout.
	ItemTimeout time.Duration `yaml:"item_timeout"`

	// PurgeInterval is how often expired cache entries are removed.
	// Default: 30 seconds
	PurgeInterval time.Duration `yaml:"purge_interval"`

	Monitor    MonitorConfig    `yaml:"monitor"`
	Validation ValidationConfig `yaml:"validate"`

	// Observe configures the observer built when no logger, tracer or
	// meter option is supplied.
	Observe observe.Config `yaml:"observe"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CacheConfig configures the digest cache.
type CacheConfig struct {
	// Capacity is the in-memory entry limit.
	// Default: 1024
	Capacity int `yaml:"capacity"`

	// TTL is the entry lifetime. Zero disables caching.
	// Default: 5 minutes
	TTL time.Duration `yaml:"ttl"`

	// MaxTTL clamps TTL.
	// Default: 1 hour
	MaxTTL time.Duration `yaml:"max_ttl"`

	RefreshOnHit bool `yaml:"refresh_on_hit"`
	Doorkeeper   bool `yaml:"doorkeeper"`

	// RedisURL enables a Redis second tier.
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// Policy converts the configuration to a cache.Policy.
func (c CacheConfig) Policy() cache.Policy {
	return cache.Policy{
		Capacity:     c.Capacity,
		DefaultTTL:   c.TTL,
		MaxTTL:       c.MaxTTL,
		RefreshOnHit: c.RefreshOnHit,
		Doorkeeper:   c.Doorkeeper,
	}
}

// MonitorConfig configures the performance monitor.
type MonitorConfig struct {
	Window           time.Duration  `yaml:"window"`
	EvalInterval     time.Duration  `yaml:"eval_interval"`
	Cooldown         time.Duration  `yaml:"cooldown"`
	SubscriberBuffer int            `yaml:"subscriber_buffer"`
	Rules            []monitor.Rule `yaml:"rules"`
}

// ValidationConfig configures the validation harness.
type ValidationConfig struct {
	// Timeout bounds each scenario.
	// Default: 5 seconds
	Timeout  time.Duration `yaml:"timeout"`
	Parallel bool          `yaml:"parallel"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	return Config{
		Provider: "sha256",
		Breaker: BreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Capacity: cache.DefaultCapacity,
			TTL:      5 * time.Minute,
			MaxTTL:   time.Hour,
		},
		Workers:       workers,
		QueueSize:     4 * workers,
		ChunkSize:     min(batch.DefaultChunkSize, 4*workers),
		PurgeInterval: 30 * time.Second,
		Monitor: MonitorConfig{
			Window:           60 * time.Second,
			EvalInterval:     time.Second,
			Cooldown:         30 * time.Second,
			SubscriberBuffer: 16,
			Rules:            monitor.DefaultRules(),
		},
		Validation: ValidationConfig{
			Timeout: 5 * time.Second,
		},
		Observe: observe.Config{
			ServiceName: "hashops",
		},
	}
}

// withDefaults fills zero values that depend on other fields.
func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = "sha256"
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.QueueSize == 0 {
		c.QueueSize = 4 * c.Workers
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = min(batch.DefaultChunkSize, c.QueueSize)
	}
	if c.PurgeInterval == 0 {
		c.PurgeInterval = 30 * time.Second
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()

	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.ChunkSize < 0:
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	case c.ChunkSize > c.QueueSize:
		return fmt.Errorf("%w: chunk_size %d exceeds queue_size %d", ErrInvalidConfig, c.ChunkSize, c.QueueSize)
	case c.ItemTimeout < 0:
		return fmt.Errorf("%w: negative item_timeout", ErrInvalidConfig)
	case c.PurgeInterval < 0:
		return fmt.Errorf("%w: negative purge_interval", ErrInvalidConfig)
	case c.Cache.Capacity < 0:
		return fmt.Errorf("%w: negative cache capacity", ErrInvalidConfig)
	case c.Cache.TTL < 0 || c.Cache.MaxTTL < 0:
		return fmt.Errorf("%w: negative cache ttl", ErrInvalidConfig)
	case c.Breaker.MaxFailures < 0 || c.Breaker.ResetTimeout < 0:
		return fmt.Errorf("%w: negative breaker setting", ErrInvalidConfig)
	case c.Monitor.Window < 0 || c.Monitor.EvalInterval < 0 || c.Monitor.Cooldown < 0:
		return fmt.Errorf("%w: negative monitor interval", ErrInvalidConfig)
	}

	for i, r := range c.Monitor.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: rule %d: %w", ErrInvalidConfig, i, err)
		}
	}

	if c.Observe.Enabled() {
		if err := c.Observe.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// ParseConfig expands ${VAR} references, decodes YAML on top of
// DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	text, err := expandEnv(string(data))
	if err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}
