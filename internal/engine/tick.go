package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/kblock/internal/metrics"
	"github.com/goodtune/kblock/internal/policy"
	"github.com/goodtune/kblock/internal/schedule"
	"github.com/goodtune/kblock/internal/storage"
	"github.com/goodtune/kblock/internal/usage"
)

const (
	timerLockdown = "lockdown"
	timerOverride = "override"
)

func timerKey(kind string, set int) string {
	return fmt.Sprintf("%s:%d", kind, set)
}

// Tick advances accounting to the current instant. Elapsed wall time beyond
// MaxTickGap, such as a suspend, is not counted.
func (e *Engine) Tick(ctx context.Context) {
	start := e.clock.Now()
	elapsed := start.Sub(e.lastTick)
	e.lastTick = start
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > e.cfg.MaxTickGap {
		e.logger.Debug().Dur("elapsed", elapsed).Msg("Clock jump, clamping tick")
		elapsed = e.cfg.MaxTickGap
	}
	e.carry += elapsed
	secs := int64(e.carry / time.Second)
	e.carry -= time.Duration(secs) * time.Second

	ec := policy.NewEngineContext(start, e.cfg.Location, e.opts)
	now := ec.Unix()
	active := e.activeSets(ec)

	for _, set := range e.opts.Sets {
		rec := e.records[set.ID]
		if rec == nil {
			continue
		}
		quota := set.Quota
		if set.Disabled {
			quota = nil
		}

		res := usage.Tick(*rec, quota, now, secs, active[set.ID], ec.Location)
		if res.Record != *rec {
			*rec = res.Record
			e.markDirty(set.ID)
		}

		label := strconv.Itoa(set.ID)
		if res.Accrued > 0 {
			metrics.UsageSecondsTotal.WithLabelValues(label).Add(float64(res.Accrued))
		}
		if res.Remaining >= 0 {
			metrics.QuotaRemainingSeconds.WithLabelValues(label).Set(float64(res.Remaining))
		}
		if res.Verdict == usage.Block && e.exhausted[set.ID] != rec.PeriodStart {
			e.exhausted[set.ID] = rec.PeriodStart
			unblock := usage.UnblockAt(quota, now, ec.Location)
			metrics.QuotaExhaustedTotal.WithLabelValues(label).Inc()
			e.logger.Info().
				Int("set", set.ID).
				Time("unblock_at", time.Unix(unblock, 0)).
				Msg("Quota exhausted")
			e.notify(Notice{Event: NoticeQuotaExhausted, Set: set.ID, EndTime: unblock})
		}
	}

	e.expire(ec)
	e.refreshTabs(ec)
	e.maybePersist(ctx, false)
	metrics.TickDuration.Observe(e.clock.Since(start).Seconds())
}

// activeSets returns the sets accruing time: enabled today, inside a window
// when windows and quota must both hold, and shown in a tracked tab whose
// page the set matches without blocking it.
func (e *Engine) activeSets(ec policy.EngineContext) map[int]bool {
	active := make(map[int]bool)
	day, minute := ec.Weekday(), ec.MinuteOfDay()

	for _, t := range e.tabs {
		for _, set := range e.opts.Sets {
			if set.CountFocus && t.id != e.focusedTab {
				continue
			}
			if !set.EnabledOn(day) {
				continue
			}
			if set.ConjMode && len(set.Windows) > 0 && !set.InWindow(minute) {
				continue
			}
			if !t.matches[set.ID].Blocked() || t.decisions[set.ID].Blocked() {
				continue
			}
			active[set.ID] = true
		}
	}
	return active
}

// expire ends lockdowns and overrides that have run out and announces them.
func (e *Engine) expire(ec policy.EngineContext) {
	now := ec.Unix()
	for _, id := range e.lockdown.Expire(now, e.records) {
		e.sched.Cancel(timerKey(timerLockdown, id))
		e.markDirty(id)
		e.notify(Notice{Event: NoticeLockdownEnded, Set: id})
	}
	for _, id := range e.override.Expire(now, e.records) {
		e.sched.Cancel(timerKey(timerOverride, id))
		e.markDirty(id)
		e.notify(Notice{Event: NoticeOverrideEnded, Set: id})
	}
}

// armTimers makes the armed expiry timers match the records' special state.
func (e *Engine) armTimers(ec policy.EngineContext) {
	offset := time.Duration(e.opts.ClockOffset) * time.Minute
	for id, rec := range e.records {
		lk, ok := timerKey(timerLockdown, id), timerKey(timerOverride, id)
		at := time.Unix(rec.SpecialEndTime, 0).Add(-offset)

		switch {
		case rec.SpecialActive(storage.SpecialLockdown, ec.Unix()):
			e.sched.Cancel(ok)
			e.sched.ArmAt(lk, at)
		case rec.SpecialActive(storage.SpecialOverride, ec.Unix()):
			e.sched.Cancel(lk)
			e.sched.ArmAt(ok, at)
		default:
			e.sched.Cancel(lk)
			e.sched.Cancel(ok)
		}
	}
}

func (e *Engine) onTimer(f schedule.Fired) {
	e.logger.Debug().Str("timer", f.Key).Msg("Timer fired")
	if !strings.HasPrefix(f.Key, timerLockdown+":") && !strings.HasPrefix(f.Key, timerOverride+":") {
		return
	}
	ec := e.context()
	e.expire(ec)
	e.refreshTabs(ec)
	e.maybePersist(context.Background(), true)
}
