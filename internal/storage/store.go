package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrLimitReached is returned by OverrideStore.Consume when the period's allowance is used up.
var ErrLimitReached = errors.New("storage: override limit reached")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	Options() OptionsStore
	Overrides() OverrideStore
}

// UsageStore persists one UsageRecord per block set, keyed by set id.
type UsageStore interface {
	Get(ctx context.Context, setID int) (*UsageRecord, error)
	Put(ctx context.Context, setID int, rec UsageRecord) error
	// PutAll writes every record in one transaction.
	PutAll(ctx context.Context, recs map[int]UsageRecord) error
	List(ctx context.Context) (map[int]UsageRecord, error)
	Delete(ctx context.Context, setID int) error
}

// OptionsStore holds the flat option map edited by the settings UI.
type OptionsStore interface {
	// Load returns the stored options; an empty store yields an empty map.
	Load(ctx context.Context) (map[string]any, error)
	// Update merges values into the stored map. A nil value deletes the key.
	Update(ctx context.Context, values map[string]any) error
}

// OverrideStore counts overrides against a per-period limit.
type OverrideStore interface {
	Get(ctx context.Context) (*OverrideCount, error)
	// Consume atomically resets the count when periodStart differs from the
	// stored one, then takes one override if fewer than limit were taken.
	// A limit of 0 means unlimited.
	Consume(ctx context.Context, periodStart int64, limit int) (*OverrideCount, error)
	Reset(ctx context.Context) error
}
