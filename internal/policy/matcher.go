package policy

import "github.com/goodtune/kblock/internal/options"

// Page is what the matcher sees of a navigation.
type Page struct {
	URL      string
	Referrer string
	Title    string
	Text     string
}

// MatchResult is the pattern-only verdict for one set.
type MatchResult struct {
	Action  Action
	Keyword string
}

// Blocked reports whether the patterns block the page.
func (m MatchResult) Blocked() bool {
	return m.Action == ActionBlock
}

// Evaluate classifies a page against one set's patterns. A referrer match
// blocks outright unless the set treats referrers as exemptions, in which
// case it allows. The allow pattern only lifts a block that came from the
// URL pattern. Keywords annotate a block and never change it.
func Evaluate(p Page, set *options.BlockSet) MatchResult {
	res := MatchResult{Action: ActionAllow}
	if set == nil {
		return res
	}

	u := CleanURL(p.URL)
	if set.Block != nil && set.Block.MatchString(u) {
		res.Action = ActionBlock
	}

	referBlock := false
	if set.Refer != nil && p.Referrer != "" && set.Refer.MatchString(CleanURL(p.Referrer)) {
		if set.AllowRefers {
			res.Action = ActionAllow
		} else {
			res.Action = ActionBlock
			referBlock = true
		}
	}

	if res.Action == ActionBlock && !referBlock && set.Allow != nil && set.Allow.MatchString(u) {
		res.Action = ActionAllow
	}

	if res.Action == ActionBlock && set.Keyword != nil {
		res.Keyword = set.Keyword.FindString(p.Title)
		if res.Keyword == "" && !set.TitleOnly {
			res.Keyword = set.Keyword.FindString(p.Text)
		}
	}
	return res
}
