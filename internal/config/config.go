package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Options OptionsConfig `mapstructure:"options"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// EngineConfig defines accounting loop settings
type EngineConfig struct {
	TickInterval      string `mapstructure:"tick_interval"`
	MaxTickGap        string `mapstructure:"max_tick_gap"` // wall-clock jumps beyond this are not counted
	Timezone          string `mapstructure:"timezone"`
	PersistInterval   string `mapstructure:"persist_interval"`
	PersistMaxBackoff string `mapstructure:"persist_max_backoff"`
	CommandReplayTTL  string `mapstructure:"command_replay_ttl"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// OptionsConfig defines how block-set options are seeded
type OptionsConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// Location resolves the configured timezone
func (c EngineConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from file and environment variables. An empty
// path searches the default locations and tolerates a missing file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("kblock")
		v.AddConfigPath("/etc/kblock")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "kblock"))
		}
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("KBLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/kblock/kblock.db")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "kblock")
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Engine defaults
	v.SetDefault("engine.tick_interval", "1s")
	v.SetDefault("engine.max_tick_gap", "5s")
	v.SetDefault("engine.timezone", "Local")
	v.SetDefault("engine.persist_interval", "5s")
	v.SetDefault("engine.persist_max_backoff", "1m")
	v.SetDefault("engine.command_replay_ttl", "1m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9478)

	// Options defaults
	v.SetDefault("options.seed_file", "")
}

// ValidKeys returns the set of recognised configuration keys
func ValidKeys() map[string]bool {
	return map[string]bool{
		"storage.type":                 true,
		"storage.path":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.key_prefix":     true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		"engine.tick_interval":       true,
		"engine.max_tick_gap":        true,
		"engine.timezone":            true,
		"engine.persist_interval":    true,
		"engine.persist_max_backoff": true,
		"engine.command_replay_ttl":  true,

		"logging.level":  true,
		"logging.format": true,

		"metrics.enabled":      true,
		"metrics.bind_address": true,
		"metrics.port":         true,

		"options.seed_file": true,
	}
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", cfg.Storage.Type)
	}

	durations := map[string]string{
		"engine.tick_interval":       cfg.Engine.TickInterval,
		"engine.max_tick_gap":        cfg.Engine.MaxTickGap,
		"engine.persist_interval":    cfg.Engine.PersistInterval,
		"engine.persist_max_backoff": cfg.Engine.PersistMaxBackoff,
		"engine.command_replay_ttl":  cfg.Engine.CommandReplayTTL,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", key)
		}
	}

	if _, err := cfg.Engine.Location(); err != nil {
		return fmt.Errorf("invalid engine.timezone: %w", err)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	if cfg.Options.SeedFile != "" {
		if _, err := os.Stat(cfg.Options.SeedFile); err != nil {
			return fmt.Errorf("options seed file: %w", err)
		}
	}

	return nil
}
