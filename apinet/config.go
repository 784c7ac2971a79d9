package apinet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/cyberinferno/go-apinet/logger"
)

// Defaults applied by DefaultConfig.
const (
	DefaultName         = "apinet"
	DefaultAddr         = "*:5500"
	DefaultItemsTTL     = 30 * time.Minute
	DefaultWriteTimeout = 10 * time.Second
)

// Scratch data backends selectable in ItemsConfig.Backend.
const (
	ItemsBackendNone   = ""
	ItemsBackendMemory = "memory"
	ItemsBackendRedis  = "redis"
)

// ErrInvalidConfig is wrapped by every LoadConfig and Validate failure caused
// by a bad setting.
var ErrInvalidConfig = errors.New("apinet: invalid config")

// Config holds the server settings. Values come from DefaultConfig, then an
// optional TOML file, then APINET_* environment variables.
type Config struct {
	Name             string        `toml:"name" env:"APINET_NAME"`
	Addr             string        `toml:"addr" env:"APINET_ADDR"`
	Multiplex        bool          `toml:"multiplex" env:"APINET_MULTIPLEX"`
	MaxConcurrency   int           `toml:"max_concurrency" env:"APINET_MAX_CONCURRENCY"`
	AllowParseHeader bool          `toml:"allow_parse_header" env:"APINET_ALLOW_PARSE_HEADER"`
	MaxFrameSize     uint32        `toml:"max_frame_size" env:"APINET_MAX_FRAME_SIZE"`
	WriteTimeout     time.Duration `toml:"write_timeout" env:"APINET_WRITE_TIMEOUT"`
	SessionTimeout   time.Duration `toml:"session_timeout" env:"APINET_SESSION_TIMEOUT"`
	LogLevel         string        `toml:"log_level" env:"APINET_LOG_LEVEL"`
	LogDir           string        `toml:"log_dir" env:"APINET_LOG_DIR"`
	MetricsAddr      string        `toml:"metrics_addr" env:"APINET_METRICS_ADDR"`
	Items            ItemsConfig   `toml:"items" envPrefix:"APINET_ITEMS_"`
}

// ItemsConfig selects the store behind the session scratch override layer.
type ItemsConfig struct {
	Backend   string        `toml:"backend" env:"BACKEND"`
	TTL       time.Duration `toml:"ttl" env:"TTL"`
	RedisAddr string        `toml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB   int           `toml:"redis_db" env:"REDIS_DB"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Name:             DefaultName,
		Addr:             DefaultAddr,
		AllowParseHeader: true,
		WriteTimeout:     DefaultWriteTimeout,
		LogLevel:         "info",
		Items: ItemsConfig{
			TTL: DefaultItemsTTL,
		},
	}
}

// LoadConfig builds a Config from the defaults, the TOML file at path (skipped
// when path is empty) and the environment, then validates it.
//
// Parameters:
//   - path: Optional TOML file
//
// Returns:
//   - The loaded config
//   - An error if the file cannot be decoded, the environment is malformed or
//     validation fails
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}

	if _, err := ParseBindAddress(c.Addr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.MetricsAddr != "" {
		if _, err := ParseBindAddress(c.MetricsAddr); err != nil {
			return fmt.Errorf("%w: metrics_addr: %w", ErrInvalidConfig, err)
		}
	}

	if c.MaxConcurrency < 0 {
		return fmt.Errorf("%w: max_concurrency must not be negative", ErrInvalidConfig)
	}

	if c.WriteTimeout < 0 || c.SessionTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.Items.Backend {
	case ItemsBackendNone, ItemsBackendMemory:
	case ItemsBackendRedis:
		if c.Items.RedisAddr == "" {
			return fmt.Errorf("%w: items.redis_addr is required for the redis backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown items backend %q", ErrInvalidConfig, c.Items.Backend)
	}

	if c.Items.TTL < 0 {
		return fmt.Errorf("%w: items.ttl must not be negative", ErrInvalidConfig)
	}

	return nil
}
