package usage

import (
	"testing"
	"time"

	"github.com/goodtune/kblock/internal/storage"
)

func TestComputeStats(t *testing.T) {
	q := &Quota{LimitMins: 60, Period: Daily(0), Rollover: true}
	now := day10 + 8*day + 5
	rec := storage.UsageRecord{
		FirstActiveAt:    day10 + 100,
		TotalActiveSecs:  18000,
		PeriodStart:      day10 + 8*day,
		PeriodActiveSecs: 600,
		RolloverSecs:     300,
		SpecialKind:      storage.SpecialLockdown,
		SpecialEndTime:   now + 60,
	}

	st := ComputeStats(rec, q, now, time.UTC)
	if st.Days != 9 || st.Weeks != 2 {
		t.Errorf("days/weeks = %d/%d, want 9/2", st.Days, st.Weeks)
	}
	if st.PerDaySecs != 2000 || st.PerWeekSecs != 9000 {
		t.Errorf("per day/week = %d/%d, want 2000/9000", st.PerDaySecs, st.PerWeekSecs)
	}
	if st.SecondsLeft != 3300 {
		t.Errorf("SecondsLeft = %d, want 3300", st.SecondsLeft)
	}
	if st.Special != "lockdown" || st.SpecialEnd != now+60 {
		t.Errorf("special = %q/%d", st.Special, st.SpecialEnd)
	}
}

func TestComputeStatsStalePeriod(t *testing.T) {
	q := &Quota{LimitMins: 60, Period: Daily(0), Rollover: true}
	rec := storage.UsageRecord{FirstActiveAt: day10, PeriodStart: day10, PeriodActiveSecs: 600}

	st := ComputeStats(rec, q, day10+day+1, time.UTC)
	if st.PeriodActiveSecs != 0 {
		t.Errorf("PeriodActiveSecs = %d, want 0", st.PeriodActiveSecs)
	}
	if st.RolloverSecs != 3000 || st.SecondsLeft != 6600 {
		t.Errorf("rollover/left = %d/%d, want 3000/6600", st.RolloverSecs, st.SecondsLeft)
	}
	if st.Days != 2 || st.Weeks != 1 {
		t.Errorf("days/weeks = %d/%d", st.Days, st.Weeks)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	st := ComputeStats(storage.UsageRecord{}, nil, day10, time.UTC)
	if st.Days != 1 || st.Weeks != 1 || st.SecondsLeft != -1 {
		t.Errorf("unexpected stats %+v", st)
	}
}
