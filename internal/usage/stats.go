package usage

import (
	"time"

	"github.com/goodtune/kblock/internal/storage"
)

// Stats summarises one set's usage.
type Stats struct {
	FirstActiveAt   int64 `json:"first_active_at"`
	TotalActiveSecs int64 `json:"total_active_secs"`
	Days            int64 `json:"days"`
	Weeks           int64 `json:"weeks"`
	PerDaySecs      int64 `json:"per_day_secs"`
	PerWeekSecs     int64 `json:"per_week_secs"`

	PeriodStart      int64 `json:"period_start,omitempty"`
	PeriodActiveSecs int64 `json:"period_active_secs"`
	RolloverSecs     int64 `json:"rollover_secs"`
	SecondsLeft      int64 `json:"seconds_left"` // -1 without a quota

	Special    string `json:"special,omitempty"`
	SpecialEnd int64  `json:"special_end,omitempty"`
}

// ComputeStats derives usage statistics for a record at now. Day counts use
// whole UTC days between first activity and now, inclusive.
func ComputeStats(rec storage.UsageRecord, q *Quota, now int64, loc *time.Location) Stats {
	st := Stats{
		FirstActiveAt:   rec.FirstActiveAt,
		TotalActiveSecs: rec.TotalActiveSecs,
		SecondsLeft:     SecondsLeft(rec, q, now, loc),
	}

	first := rec.FirstActiveAt
	if first == 0 || first > now {
		first = now
	}
	st.Days = 1 + now/secsPerDay - first/secsPerDay
	st.Weeks = (st.Days + 6) / 7
	st.PerDaySecs = rec.TotalActiveSecs / st.Days
	st.PerWeekSecs = rec.TotalActiveSecs / st.Weeks

	if q.Enabled() {
		st.PeriodStart = PeriodStart(now, q.Period, loc)
		if rec.PeriodStart == st.PeriodStart {
			st.PeriodActiveSecs = rec.PeriodActiveSecs
			st.RolloverSecs = rec.RolloverSecs
		} else {
			st.RolloverSecs = carryOver(rec, q, st.PeriodStart)
		}
	}

	if rec.SpecialActive(rec.SpecialKind, now) {
		st.Special = rec.SpecialKind.String()
		st.SpecialEnd = rec.SpecialEndTime
	}
	return st
}
