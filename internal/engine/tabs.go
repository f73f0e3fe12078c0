package engine

import (
	"strconv"

	"github.com/goodtune/kblock/internal/metrics"
	"github.com/goodtune/kblock/internal/policy"
)

// tab is a browser tab the extension reported.
type tab struct {
	id        int
	page      policy.Page
	host      string
	matches   map[int]policy.MatchResult
	decisions map[int]policy.Decision
	grants    map[int]bool

	blocked   *policy.Decision
	blockedAt int64
}

// NavigateResult is the answer to a page load.
type NavigateResult struct {
	URL       string            `json:"url"`
	Blocked   bool              `json:"blocked"`
	Decisions []policy.Decision `json:"decisions"`
	Info      *BlockInfo        `json:"info,omitempty"`
}

// evaluate runs the provider chain for every set.
func (e *Engine) evaluate(ec policy.EngineContext, page policy.Page, grants map[int]bool) (map[int]policy.MatchResult, []policy.Decision) {
	matches := make(map[int]policy.MatchResult, len(e.opts.Sets))
	states := make([]*policy.SetState, 0, len(e.opts.Sets))
	for _, set := range e.opts.Sets {
		st := &policy.SetState{
			Set:     set,
			Match:   policy.Evaluate(page, set),
			Granted: grants[set.ID],
		}
		if rec := e.records[set.ID]; rec != nil {
			st.Record = *rec
		}
		matches[set.ID] = st.Match
		states = append(states, st)
	}
	return matches, e.chain.DecideAll(ec, states)
}

// refreshTab re-evaluates a tab and reports whether it became blocked.
func (e *Engine) refreshTab(ec policy.EngineContext, t *tab) ([]policy.Decision, bool) {
	matches, ds := e.evaluate(ec, t.page, t.grants)
	t.matches = matches
	t.decisions = make(map[int]policy.Decision, len(ds))
	for _, d := range ds {
		t.decisions[d.SetID] = d
	}

	first, blocked := policy.FirstBlock(ds)
	if !blocked {
		t.blocked = nil
		return ds, false
	}
	newly := t.blocked == nil || t.blocked.SetID != first.SetID
	if newly {
		t.blockedAt = ec.Unix()
	}
	t.blocked = &first
	return ds, newly
}

// refreshTabs re-evaluates every tab after a state change. Tabs that become
// blocked by a set with activeBlock are pushed to the extension.
func (e *Engine) refreshTabs(ec policy.EngineContext) {
	for _, t := range e.tabs {
		if _, newly := e.refreshTab(ec, t); !newly {
			continue
		}
		set := e.opts.Set(t.blocked.SetID)
		if set == nil || !set.ActiveBlock {
			continue
		}
		e.notify(Notice{Event: NoticeBlockTab, TabID: t.id, Set: set.ID, Info: e.blockInfo(ec, t.page.URL, *t.blocked)})
	}
}

func (e *Engine) navigate(ec policy.EngineContext, cmd Command) (*NavigateResult, error) {
	if cmd.URL == "" {
		return nil, ErrInvalidCommand
	}
	t := e.tabs[cmd.TabID]
	if t == nil {
		t = &tab{id: cmd.TabID, grants: make(map[int]bool)}
		e.tabs[cmd.TabID] = t
		metrics.TrackedTabs.Set(float64(len(e.tabs)))
	}

	host := policy.Host(cmd.URL)
	if host != t.host {
		t.grants = make(map[int]bool)
	}
	t.host = host
	t.page = policy.Page{URL: cmd.URL, Referrer: cmd.Referrer, Title: cmd.Title, Text: cmd.PageText}

	ds, _ := e.refreshTab(ec, t)
	for _, d := range ds {
		metrics.DecisionsTotal.WithLabelValues(strconv.Itoa(d.SetID), string(d.Action), d.Provider).Inc()
	}

	res := &NavigateResult{URL: cmd.URL, Decisions: ds}
	if t.blocked != nil {
		res.Blocked = true
		res.Info = e.blockInfo(ec, cmd.URL, *t.blocked)
		e.logger.Debug().
			Int("tab", t.id).
			Int("set", t.blocked.SetID).
			Str("provider", t.blocked.Provider).
			Str("action", string(t.blocked.Action)).
			Msg("Page blocked")
	}
	return res, nil
}

// check evaluates a page without tracking it.
func (e *Engine) check(ec policy.EngineContext, cmd Command) (*NavigateResult, error) {
	if cmd.URL == "" {
		return nil, ErrInvalidCommand
	}
	page := policy.Page{URL: cmd.URL, Referrer: cmd.Referrer, Title: cmd.Title, Text: cmd.PageText}
	_, ds := e.evaluate(ec, page, nil)
	res := &NavigateResult{URL: cmd.URL, Decisions: ds}
	if first, ok := policy.FirstBlock(ds); ok {
		res.Blocked = true
		res.Info = e.blockInfo(ec, cmd.URL, first)
	}
	return res, nil
}

func (e *Engine) focus(cmd Command) {
	switch {
	case cmd.Focus:
		e.focusedTab = cmd.TabID
	case e.focusedTab == cmd.TabID:
		e.focusedTab = 0
	}
}

func (e *Engine) closeTab(cmd Command) {
	delete(e.tabs, cmd.TabID)
	if e.focusedTab == cmd.TabID {
		e.focusedTab = 0
	}
	metrics.TrackedTabs.Set(float64(len(e.tabs)))
}
