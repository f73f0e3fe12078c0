package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/kblock/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) Get(ctx context.Context, setID int) (*storage.UsageRecord, error) {
	return getBucketValue[storage.UsageRecord](ctx, s.db, bucketUsage, storage.SetKey(setID))
}

func (s *usageStore) Put(ctx context.Context, setID int, rec storage.UsageRecord) error {
	return putBucketValue(ctx, s.db, bucketUsage, storage.SetKey(setID), rec)
}

func (s *usageStore) PutAll(ctx context.Context, recs map[int]storage.UsageRecord) error {
	if len(recs) == 0 {
		return nil
	}
	encoded := make(map[string][]byte, len(recs))
	for id, rec := range recs {
		data, err := marshal(rec)
		if err != nil {
			return err
		}
		encoded[storage.SetKey(id)] = data
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketUsage)
		}
		for key, data := range encoded {
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *usageStore) List(ctx context.Context) (map[int]storage.UsageRecord, error) {
	recs := make(map[int]storage.UsageRecord)
	err := forEachBucket(ctx, s.db, bucketUsage, func(key string, rec storage.UsageRecord) error {
		id, err := storage.ParseSetKey(key)
		if err != nil {
			return fmt.Errorf("invalid usage key %q: %w", key, err)
		}
		recs[id] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *usageStore) Delete(ctx context.Context, setID int) error {
	return deleteBucketValue(ctx, s.db, bucketUsage, storage.SetKey(setID))
}
