package usage

import (
	"time"

	"github.com/goodtune/kblock/internal/storage"
)

// Remaining returns the budget left in the record's period, never negative.
func Remaining(rec storage.UsageRecord, q *Quota) int64 {
	left := rec.RolloverSecs + q.LimitSecs() - rec.PeriodActiveSecs
	if left < 0 {
		return 0
	}
	return left
}

// SecondsLeft is Remaining evaluated at now, accounting for a record that
// belongs to an earlier period. It returns -1 without an enabled quota.
func SecondsLeft(rec storage.UsageRecord, q *Quota, now int64, loc *time.Location) int64 {
	if !q.Enabled() {
		return -1
	}
	start := PeriodStart(now, q.Period, loc)
	if rec.PeriodStart == start {
		return Remaining(rec, q)
	}
	return q.LimitSecs() + carryOver(rec, q, start)
}

// Exhausted reports whether the quota blocks at now.
func Exhausted(rec storage.UsageRecord, q *Quota, now int64, loc *time.Location) bool {
	return q.Enabled() && SecondsLeft(rec, q, now, loc) == 0
}

// UnblockAt returns when an exhausted quota lifts.
func UnblockAt(q *Quota, now int64, loc *time.Location) int64 {
	if !q.Enabled() {
		return 0
	}
	return NextPeriodStart(now, q.Period, loc)
}

// ResetRollover discards any carried-over credit in the current period.
func ResetRollover(rec storage.UsageRecord) storage.UsageRecord {
	rec.RolloverSecs = 0
	return rec
}
