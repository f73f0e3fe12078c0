package redis

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/goodtune/kblock/internal/storage"
)

// parseUsageRecord decodes a stored usage tuple
func parseUsageRecord(data string) (*storage.UsageRecord, error) {
	var rec storage.UsageRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse usage tuple: %w", err)
	}
	return &rec, nil
}

// parseOverrideCount converts a Redis hash to OverrideCount
func parseOverrideCount(data map[string]string) (*storage.OverrideCount, error) {
	periodStart, err := strconv.ParseInt(data["period_start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse period_start: %w", err)
	}

	count, err := strconv.Atoi(data["count"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse count: %w", err)
	}

	return &storage.OverrideCount{
		PeriodStart: periodStart,
		Count:       count,
	}, nil
}
