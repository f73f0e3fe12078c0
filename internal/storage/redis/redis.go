package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kblock/internal/config"
	"github.com/goodtune/kblock/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client        *redis.Client
	usageStore    *usageStore
	optionsStore  *optionsStore
	overrideStore *overrideStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	k := keys{prefix: cfg.KeyPrefix}
	if k.prefix == "" {
		k.prefix = "kblock"
	}

	return &Store{
		client:        client,
		usageStore:    &usageStore{client: client, keys: k},
		optionsStore:  &optionsStore{client: client, keys: k},
		overrideStore: &overrideStore{client: client, keys: k, consume: redis.NewScript(consumeOverrideScript)},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Options returns the OptionsStore implementation
func (s *Store) Options() storage.OptionsStore {
	return s.optionsStore
}

// Overrides returns the OverrideStore implementation
func (s *Store) Overrides() storage.OverrideStore {
	return s.overrideStore
}

// keys builds the key names shared by the sub-stores.
type keys struct {
	prefix string
}

func (k keys) usage() string    { return k.prefix + ":usage" }
func (k keys) options() string  { return k.prefix + ":options" }
func (k keys) override() string { return k.prefix + ":override" }
