package bolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// optionsStore keeps one bucket entry per option key, each a JSON value.
type optionsStore struct {
	db *bbolt.DB
}

func (s *optionsStore) Load(ctx context.Context) (map[string]any, error) {
	values := make(map[string]any)
	err := forEachBucket(ctx, s.db, bucketOptions, func(key string, value any) error {
		values[key] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *optionsStore) Update(ctx context.Context, values map[string]any) error {
	encoded := make(map[string][]byte, len(values))
	for key, value := range values {
		if value == nil {
			encoded[key] = nil
			continue
		}
		data, err := marshal(value)
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
		encoded[key] = data
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketOptions))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketOptions)
		}
		for key, data := range encoded {
			if data == nil {
				if err := b.Delete([]byte(key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}
