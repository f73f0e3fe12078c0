package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type optionsStore struct {
	client *redis.Client
	keys   keys
}

// Load returns all stored options
func (s *optionsStore) Load(ctx context.Context) (map[string]any, error) {
	data, err := s.client.HGetAll(ctx, s.keys.options()).Result()
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(data))
	for key, raw := range data {
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("option %s: %w", key, err)
		}
		values[key] = value
	}
	return values, nil
}

// Update merges values in a single transaction; nil values delete their key
func (s *optionsStore) Update(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}

	set := make([]interface{}, 0, len(values)*2)
	var del []string
	for key, value := range values {
		if value == nil {
			del = append(del, key)
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
		set = append(set, key, string(data))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(set) > 0 {
			pipe.HSet(ctx, s.keys.options(), set...)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, s.keys.options(), del...)
		}
		return nil
	})
	return err
}
