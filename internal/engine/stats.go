package engine

import (
	"github.com/goodtune/kblock/internal/policy"
	"github.com/goodtune/kblock/internal/usage"
)

// SetStats is one row of the statistics page.
type SetStats struct {
	Set  int    `json:"set"`
	Name string `json:"name"`
	usage.Stats

	Total    string `json:"total"`
	PerWeek  string `json:"perWeek"`
	PerDay   string `json:"perDay"`
	Used     string `json:"used,omitempty"`
	Rollover string `json:"rollover,omitempty"`
	Left     string `json:"left,omitempty"`
}

func (e *Engine) stats(ec policy.EngineContext) []SetStats {
	ids := make([]int, 0, len(e.opts.Sets))
	for _, set := range e.opts.Sets {
		ids = append(ids, set.ID)
	}
	return e.statsFor(ec, ids)
}

func (e *Engine) statsFor(ec policy.EngineContext, ids []int) []SetStats {
	now := ec.Unix()
	out := make([]SetStats, 0, len(ids))
	for _, id := range ids {
		set := e.opts.Set(id)
		rec := e.records[id]
		if set == nil || rec == nil {
			continue
		}
		quota := set.Quota
		if set.Disabled {
			quota = nil
		}

		st := usage.ComputeStats(*rec, quota, now, ec.Location)
		row := SetStats{
			Set:     id,
			Name:    set.DisplayName(),
			Stats:   st,
			Total:   usage.FormatDuration(st.TotalActiveSecs),
			PerWeek: usage.FormatDuration(st.PerWeekSecs),
			PerDay:  usage.FormatDuration(st.PerDaySecs),
		}
		if quota.Enabled() {
			row.Used = usage.FormatDuration(st.PeriodActiveSecs)
			row.Rollover = usage.FormatDuration(st.RolloverSecs)
			row.Left = usage.FormatDuration(st.SecondsLeft)
		}
		out = append(out, row)
	}
	return out
}
