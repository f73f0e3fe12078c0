package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// SpecialKind tags what a record's special end time means.
type SpecialKind int

const (
	SpecialNone SpecialKind = iota
	SpecialLockdown
	SpecialOverride
)

func (k SpecialKind) String() string {
	switch k {
	case SpecialNone:
		return "none"
	case SpecialLockdown:
		return "lockdown"
	case SpecialOverride:
		return "override"
	default:
		return fmt.Sprintf("special(%d)", int(k))
	}
}

// ParseSpecialKind parses the lower-case name of a special kind.
func ParseSpecialKind(s string) (SpecialKind, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return SpecialNone, nil
	case "lockdown":
		return SpecialLockdown, nil
	case "override":
		return SpecialOverride, nil
	default:
		return SpecialNone, fmt.Errorf("invalid special kind: %s (must be none, lockdown, or override)", s)
	}
}

// UsageRecord is the per-set accounting state. It is stored as the tuple
// [firstActiveAt, totalActiveSecs, periodStart, periodActiveSecs,
// specialEndTime, rolloverSecs, specialKind]. The first six positions keep
// their historical meaning; the kind is appended.
type UsageRecord struct {
	FirstActiveAt    int64
	TotalActiveSecs  int64
	PeriodStart      int64
	PeriodActiveSecs int64
	SpecialEndTime   int64
	RolloverSecs     int64
	SpecialKind      SpecialKind
}

const usageTupleLen = 6

// NewUsageRecord returns an empty record first activated at now.
func NewUsageRecord(now int64) UsageRecord {
	return UsageRecord{FirstActiveAt: now}
}

// SpecialActive reports whether a special state of the given kind is in force at now.
func (r UsageRecord) SpecialActive(kind SpecialKind, now int64) bool {
	return r.SpecialKind == kind && r.SpecialEndTime > 0 && now < r.SpecialEndTime
}

// ClearSpecial drops any lockdown or override.
func (r *UsageRecord) ClearSpecial() {
	r.SpecialEndTime = 0
	r.SpecialKind = SpecialNone
}

// Restart zeroes the counters. The first-activation time is kept only when keepFirst is set.
func (r *UsageRecord) Restart(now int64, keepFirst bool) {
	first := r.FirstActiveAt
	special, kind := r.SpecialEndTime, r.SpecialKind
	*r = UsageRecord{FirstActiveAt: now, SpecialEndTime: special, SpecialKind: kind}
	if keepFirst && first > 0 {
		r.FirstActiveAt = first
	}
}

// Tuple returns the six historical positions.
func (r UsageRecord) Tuple() [usageTupleLen]int64 {
	return [usageTupleLen]int64{
		r.FirstActiveAt,
		r.TotalActiveSecs,
		r.PeriodStart,
		r.PeriodActiveSecs,
		r.SpecialEndTime,
		r.RolloverSecs,
	}
}

// MarshalJSON implements json.Marshaler.
func (r UsageRecord) MarshalJSON() ([]byte, error) {
	t := r.Tuple()
	values := append(t[:], int64(r.SpecialKind))
	return json.Marshal(values)
}

// UnmarshalJSON implements json.Unmarshaler. Short tuples, nulls and
// fractional numbers are accepted; a six-element tuple with a special end
// time is read as a lockdown.
func (r *UsageRecord) UnmarshalJSON(data []byte) error {
	var values []*float64
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decode usage tuple: %w", err)
	}

	get := func(i int) int64 {
		if i >= len(values) || values[i] == nil {
			return 0
		}
		v := math.Floor(*values[i])
		if v < 0 || math.IsNaN(v) {
			return 0
		}
		return int64(v)
	}

	*r = UsageRecord{
		FirstActiveAt:    get(0),
		TotalActiveSecs:  get(1),
		PeriodStart:      get(2),
		PeriodActiveSecs: get(3),
		SpecialEndTime:   get(4),
		RolloverSecs:     get(5),
	}

	switch {
	case len(values) > usageTupleLen:
		kind := SpecialKind(get(usageTupleLen))
		if kind < SpecialNone || kind > SpecialOverride {
			return fmt.Errorf("invalid special kind: %d", kind)
		}
		r.SpecialKind = kind
	case r.SpecialEndTime > 0:
		r.SpecialKind = SpecialLockdown
	}
	if r.SpecialKind == SpecialNone {
		r.SpecialEndTime = 0
	}
	return nil
}

// OverrideCount tracks how many overrides were granted in the current limit period.
type OverrideCount struct {
	PeriodStart int64 `json:"period_start"`
	Count       int   `json:"count"`
}
