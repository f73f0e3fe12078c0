package redis

import (
	"context"
	"fmt"

	"github.com/goodtune/kblock/internal/storage"
	"github.com/redis/go-redis/v9"
)

type overrideStore struct {
	client  *redis.Client
	keys    keys
	consume *redis.Script
}

// Get returns the current override count
func (s *overrideStore) Get(ctx context.Context) (*storage.OverrideCount, error) {
	data, err := s.client.HGetAll(ctx, s.keys.override()).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &storage.OverrideCount{}, nil
	}
	return parseOverrideCount(data)
}

// Consume takes one override from the period's allowance
func (s *overrideStore) Consume(ctx context.Context, periodStart int64, limit int) (*storage.OverrideCount, error) {
	res, err := s.consume.Run(ctx, s.client, []string{s.keys.override()}, periodStart, limit).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("consume override: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("consume override: unexpected reply %v", res)
	}

	count := &storage.OverrideCount{PeriodStart: periodStart, Count: int(res[1])}
	if res[0] == 0 {
		return count, storage.ErrLimitReached
	}
	return count, nil
}

// Reset clears the override count
func (s *overrideStore) Reset(ctx context.Context) error {
	return s.client.Del(ctx, s.keys.override()).Err()
}
