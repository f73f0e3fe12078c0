package policy

import (
	"time"

	"github.com/goodtune/kblock/internal/options"
	"github.com/goodtune/kblock/internal/storage"
	"github.com/goodtune/kblock/internal/usage"
)

// SetState is everything the providers need to know about one set.
type SetState struct {
	Set     *options.BlockSet
	Record  storage.UsageRecord
	Match   MatchResult
	Granted bool // the blocked page was unlocked for this tab and set
}

// Outcome is one provider's answer.
type Outcome struct {
	Verdict   Verdict
	Reason    string
	UnblockAt int64
}

// Provider contributes a verdict for a set whose patterns matched.
type Provider interface {
	Name() string
	Decide(ctx EngineContext, st *SetState) Outcome
}

// Chain evaluates providers in order until one is decisive.
type Chain struct {
	providers []Provider
}

// NewChain creates a chain from providers, highest precedence first.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// DefaultChain returns the standard precedence:
// lockdown, quota, override, unlocked page, schedule.
func DefaultChain() *Chain {
	return NewChain(
		LockdownProvider{},
		QuotaProvider{},
		OverrideProvider{},
		GrantProvider{},
		ScheduleProvider{},
	)
}

// Providers returns the provider names in evaluation order.
func (c *Chain) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Decide returns the decision for one set. Sets whose patterns do not match
// the page, and disabled sets, allow it.
func (c *Chain) Decide(ctx EngineContext, st *SetState) Decision {
	d := Decision{
		SetID:    st.Set.ID,
		SetName:  st.Set.DisplayName(),
		Action:   ActionAllow,
		Provider: "pattern",
		Reason:   "no match",
	}
	if st.Set.Disabled {
		d.Reason = "disabled"
		return d
	}
	if !st.Match.Blocked() {
		return d
	}

	for _, p := range c.providers {
		out := p.Decide(ctx, st)
		if out.Verdict == Pass {
			continue
		}
		d.Provider = p.Name()
		d.Reason = out.Reason
		d.UnblockAt = out.UnblockAt
		if out.Verdict == Block {
			d.Action = ActionBlock
			d.Keyword = st.Match.Keyword
		}
		return d
	}

	d.Reason = "no provider blocked"
	return d
}

// DecideAll evaluates every set and returns the decisions in set order.
func (c *Chain) DecideAll(ctx EngineContext, states []*SetState) []Decision {
	out := make([]Decision, 0, len(states))
	for _, st := range states {
		out = append(out, c.Decide(ctx, st))
	}
	return out
}

// FirstBlock returns the first blocking decision, if any.
func FirstBlock(ds []Decision) (Decision, bool) {
	for _, d := range ds {
		if d.Blocked() {
			return d, true
		}
	}
	return Decision{}, false
}

// LockdownProvider blocks a set under an active lockdown, whatever its
// schedule or enabled days say.
type LockdownProvider struct{}

func (LockdownProvider) Name() string { return "lockdown" }

func (LockdownProvider) Decide(ctx EngineContext, st *SetState) Outcome {
	if st.Record.SpecialActive(storage.SpecialLockdown, ctx.Unix()) {
		return Outcome{Verdict: Block, Reason: "lockdown", UnblockAt: st.Record.SpecialEndTime}
	}
	return Outcome{}
}

// QuotaProvider blocks a set whose time quota is exhausted. With conjMode and
// time windows, exhaustion blocks only inside a window.
type QuotaProvider struct{}

func (QuotaProvider) Name() string { return "quota" }

func (QuotaProvider) Decide(ctx EngineContext, st *SetState) Outcome {
	set := st.Set
	if !set.HasQuota() || !set.EnabledOn(ctx.Weekday()) {
		return Outcome{}
	}
	if set.ConjMode && len(set.Windows) > 0 && !set.InWindow(ctx.MinuteOfDay()) {
		return Outcome{}
	}
	if !usage.Exhausted(st.Record, set.Quota, ctx.Unix(), ctx.Location) {
		return Outcome{}
	}
	return Outcome{
		Verdict:   Block,
		Reason:    "quota exhausted",
		UnblockAt: usage.UnblockAt(set.Quota, ctx.Unix(), ctx.Location),
	}
}

// OverrideProvider allows a set under an active override.
type OverrideProvider struct{}

func (OverrideProvider) Name() string { return "override" }

func (OverrideProvider) Decide(ctx EngineContext, st *SetState) Outcome {
	if st.Record.SpecialActive(storage.SpecialOverride, ctx.Unix()) {
		return Outcome{Verdict: Allow, Reason: "override", UnblockAt: st.Record.SpecialEndTime}
	}
	return Outcome{}
}

// GrantProvider allows a page unlocked through the password or delayed
// block page.
type GrantProvider struct{}

func (GrantProvider) Name() string { return "grant" }

func (GrantProvider) Decide(_ EngineContext, st *SetState) Outcome {
	if st.Granted {
		return Outcome{Verdict: Allow, Reason: "unlocked"}
	}
	return Outcome{}
}

// ScheduleProvider is the final word: it blocks a matched page when the
// set's days and time windows say the set is active. A set with a quota and
// no window relies on QuotaProvider alone.
type ScheduleProvider struct{}

func (ScheduleProvider) Name() string { return "schedule" }

func (ScheduleProvider) Decide(ctx EngineContext, st *SetState) Outcome {
	set := st.Set
	if !set.EnabledOn(ctx.Weekday()) {
		return Outcome{Verdict: Allow, Reason: "not active today"}
	}

	hasWindows := len(set.Windows) > 0
	inWindow := set.InWindow(ctx.MinuteOfDay())

	switch {
	case set.HasQuota() && (!hasWindows || set.ConjMode):
		return Outcome{Verdict: Allow, Reason: "within quota"}
	case !hasWindows:
		return Outcome{Verdict: Block, Reason: "blocked site"}
	case inWindow:
		return Outcome{Verdict: Block, Reason: "time period", UnblockAt: windowEnd(ctx, set)}
	default:
		return Outcome{Verdict: Allow, Reason: "outside time period"}
	}
}

// windowEnd returns when the window containing now closes, following
// adjacent windows.
func windowEnd(ctx EngineContext, set *options.BlockSet) int64 {
	minute := ctx.MinuteOfDay()
	end := -1
	for _, w := range set.Windows {
		switch {
		case w.Contains(minute):
			end = w.End
		case end >= 0 && w.Start == end:
			end = w.End
		}
	}
	if end < 0 {
		return 0
	}
	y, m, d := ctx.Now.Date()
	return time.Date(y, m, d, 0, end, 0, 0, ctx.Now.Location()).Unix()
}
