package bolt

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/kblock/internal/storage"
	"go.etcd.io/bbolt"
)

type overrideStore struct {
	db *bbolt.DB
}

func (s *overrideStore) Get(ctx context.Context) (*storage.OverrideCount, error) {
	count, err := getBucketValue[storage.OverrideCount](ctx, s.db, bucketOverride, overrideCountKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.OverrideCount{}, nil
	}
	return count, err
}

func (s *overrideStore) Consume(ctx context.Context, periodStart int64, limit int) (*storage.OverrideCount, error) {
	var result storage.OverrideCount
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketOverride))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketOverride)
		}

		var count storage.OverrideCount
		if existing := b.Get([]byte(overrideCountKey)); existing != nil {
			if err := unmarshal(existing, &count); err != nil {
				return err
			}
		}
		if count.PeriodStart != periodStart {
			count = storage.OverrideCount{PeriodStart: periodStart}
		}
		if limit > 0 && count.Count >= limit {
			result = count
			return storage.ErrLimitReached
		}
		count.Count++

		data, err := marshal(count)
		if err != nil {
			return err
		}
		result = count
		return b.Put([]byte(overrideCountKey), data)
	})
	if err != nil {
		if errors.Is(err, storage.ErrLimitReached) {
			return &result, err
		}
		return nil, err
	}
	return &result, nil
}

func (s *overrideStore) Reset(ctx context.Context) error {
	err := deleteBucketValue(ctx, s.db, bucketOverride, overrideCountKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
