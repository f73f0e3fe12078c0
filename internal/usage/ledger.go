package usage

import (
	"time"

	"github.com/goodtune/kblock/internal/storage"
)

// Quota is a per-set time budget.
type Quota struct {
	LimitMins int
	Period    PeriodSpec
	Rollover  bool
}

// Enabled reports whether the quota constrains anything.
func (q *Quota) Enabled() bool {
	return q != nil && q.LimitMins > 0 && q.Period.Valid()
}

// LimitSecs returns the per-period budget in seconds.
func (q *Quota) LimitSecs() int64 {
	if q == nil {
		return 0
	}
	return int64(q.LimitMins) * 60
}

// Verdict is the quota outcome of a tick.
type Verdict int

const (
	Pass Verdict = iota
	Block
)

func (v Verdict) String() string {
	if v == Block {
		return "block"
	}
	return "pass"
}

// TickResult carries the updated record and what the tick decided.
type TickResult struct {
	Record    storage.UsageRecord
	Verdict   Verdict
	Accrued   int64 // seconds added this tick
	Remaining int64 // -1 without an enabled quota
	Rolled    bool  // a new period began this tick
}

// Tick advances a usage record to now. When active, elapsed seconds are
// credited, clamped so the period's active time never exceeds the wall time
// since the period began. A record from an earlier period is rolled forward
// first, carrying unused budget when the quota allows rollover.
func Tick(rec storage.UsageRecord, q *Quota, now, elapsed int64, active bool, loc *time.Location) TickResult {
	res := TickResult{Record: rec, Remaining: -1}
	r := &res.Record

	if r.FirstActiveAt == 0 {
		r.FirstActiveAt = now
	}

	enabled := q.Enabled()
	if enabled {
		if start := PeriodStart(now, q.Period, loc); start != r.PeriodStart {
			r.RolloverSecs = carryOver(rec, q, start)
			r.PeriodStart = start
			r.PeriodActiveSecs = 0
			res.Rolled = true
		}
	}

	if active && elapsed > 0 {
		add := elapsed
		if enabled {
			room := now - r.PeriodStart - r.PeriodActiveSecs
			if room < 0 {
				room = 0
			}
			if add > room {
				add = room
			}
			r.PeriodActiveSecs += add
		}
		r.TotalActiveSecs += add
		res.Accrued = add
	}

	if enabled {
		res.Remaining = Remaining(*r, q)
		if res.Remaining <= 0 {
			res.Verdict = Block
		}
	}
	return res
}

// carryOver computes the rollover credit for a period starting at newStart:
// whatever the last recorded period left unused, however many periods ago it was.
func carryOver(old storage.UsageRecord, q *Quota, newStart int64) int64 {
	if !q.Rollover || old.PeriodStart == 0 || newStart <= old.PeriodStart {
		return 0
	}
	left := q.LimitSecs() - old.PeriodActiveSecs
	if left < 0 {
		return 0
	}
	return left
}
