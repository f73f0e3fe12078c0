package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/kblock/internal/config"
	"github.com/goodtune/kblock/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() is "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		KeyPrefix:    "kblock",
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestUsageStore_PutGet(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	rec := storage.UsageRecord{
		FirstActiveAt:    1700000000,
		TotalActiveSecs:  42,
		PeriodStart:      1700006400,
		PeriodActiveSecs: 12,
		RolloverSecs:     600,
	}

	if err := store.Usage().Put(ctx, 2, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Usage().Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *got != rec {
		t.Errorf("Expected %+v, got %+v", rec, *got)
	}

	// Stored as the positional tuple
	if raw := mr.HGet("kblock:usage", "000002"); raw != "[1700000000,42,1700006400,12,0,600,0]" {
		t.Errorf("Unexpected stored tuple: %s", raw)
	}

	if _, err := store.Usage().Get(ctx, 9); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUsageStore_LegacyTuple(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	mr.HSet("kblock:usage", "000001", "[100,200,300,40,5000,0]")

	rec, err := store.Usage().Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.SpecialKind != storage.SpecialLockdown || rec.SpecialEndTime != 5000 {
		t.Errorf("Expected legacy lockdown, got %+v", rec)
	}
}

func TestUsageStore_PutAllListDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	recs := map[int]storage.UsageRecord{
		1: {FirstActiveAt: 1, TotalActiveSecs: 10},
		2: {FirstActiveAt: 2, TotalActiveSecs: 20, SpecialEndTime: 99, SpecialKind: storage.SpecialOverride},
	}

	if err := store.Usage().PutAll(ctx, recs); err != nil {
		t.Fatalf("PutAll failed: %v", err)
	}

	listed, err := store.Usage().List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(listed))
	}
	if listed[2] != recs[2] {
		t.Errorf("Expected %+v, got %+v", recs[2], listed[2])
	}

	if err := store.Usage().Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Usage().Delete(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestOptionsStore_Update(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.Options().Update(ctx, map[string]any{
		"numSets":    3,
		"setName1":   "Games",
		"rollover1":  true,
		"limitMins1": "30",
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := store.Options().Update(ctx, map[string]any{"rollover1": nil}); err != nil {
		t.Fatalf("Delete update failed: %v", err)
	}

	opts, err := store.Options().Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if opts["numSets"] != float64(3) {
		t.Errorf("Expected numSets 3, got %v", opts["numSets"])
	}
	if opts["limitMins1"] != "30" {
		t.Errorf("Expected limitMins1 \"30\", got %v", opts["limitMins1"])
	}
	if _, ok := opts["rollover1"]; ok {
		t.Error("Expected rollover1 to be removed")
	}
}

func TestOverrideStore_Consume(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	overrides := store.Overrides()

	if _, err := overrides.Consume(ctx, 500, 1); err != nil {
		t.Fatalf("First consume failed: %v", err)
	}
	count, err := overrides.Consume(ctx, 500, 1)
	if !errors.Is(err, storage.ErrLimitReached) {
		t.Fatalf("Expected ErrLimitReached, got %v", err)
	}
	if count.Count != 1 {
		t.Errorf("Expected count 1, got %d", count.Count)
	}

	got, err := overrides.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PeriodStart != 500 || got.Count != 1 {
		t.Errorf("Unexpected count: %+v", got)
	}

	if err := overrides.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	got, err = overrides.Get(ctx)
	if err != nil {
		t.Fatalf("Get after reset failed: %v", err)
	}
	if got.Count != 0 {
		t.Errorf("Expected zero count after reset, got %+v", got)
	}
}
