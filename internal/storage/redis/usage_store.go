package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goodtune/kblock/internal/storage"
	"github.com/redis/go-redis/v9"
)

// usageStore keeps every set's tuple as a field of a single hash so that
// PutAll is one HSET.
type usageStore struct {
	client *redis.Client
	keys   keys
}

// Get retrieves the record for a set
func (s *usageStore) Get(ctx context.Context, setID int) (*storage.UsageRecord, error) {
	data, err := s.client.HGet(ctx, s.keys.usage(), storage.SetKey(setID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return parseUsageRecord(data)
}

// Put writes the record for a set
func (s *usageStore) Put(ctx context.Context, setID int, rec storage.UsageRecord) error {
	return s.PutAll(ctx, map[int]storage.UsageRecord{setID: rec})
}

// PutAll writes several records atomically
func (s *usageStore) PutAll(ctx context.Context, recs map[int]storage.UsageRecord) error {
	if len(recs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(recs)*2)
	for id, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode set %d: %w", id, err)
		}
		values = append(values, storage.SetKey(id), string(data))
	}
	return s.client.HSet(ctx, s.keys.usage(), values...).Err()
}

// List returns every stored record keyed by set id
func (s *usageStore) List(ctx context.Context) (map[int]storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, s.keys.usage()).Result()
	if err != nil {
		return nil, err
	}

	recs := make(map[int]storage.UsageRecord, len(data))
	for field, value := range data {
		id, err := storage.ParseSetKey(field)
		if err != nil {
			return nil, fmt.Errorf("invalid usage field %q: %w", field, err)
		}
		rec, err := parseUsageRecord(value)
		if err != nil {
			return nil, fmt.Errorf("set %d: %w", id, err)
		}
		recs[id] = *rec
	}
	return recs, nil
}

// Delete removes the record for a set
func (s *usageStore) Delete(ctx context.Context, setID int) error {
	n, err := s.client.HDel(ctx, s.keys.usage(), storage.SetKey(setID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
