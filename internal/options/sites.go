package options

import (
	"regexp"
	"strings"
)

// Site list prefixes.
const (
	prefixAllow   = "+"
	prefixRefer   = "~"
	prefixKeyword = ">"
)

// SiteLists is a sites string split by prefix.
type SiteLists struct {
	Block   []string
	Allow   []string
	Refer   []string
	Keyword []string
}

// SplitSites splits a whitespace-separated site list.
func SplitSites(sites string) SiteLists {
	var l SiteLists
	for _, s := range strings.Fields(sites) {
		switch {
		case strings.HasPrefix(s, prefixAllow):
			if s = s[1:]; s != "" {
				l.Allow = append(l.Allow, s)
			}
		case strings.HasPrefix(s, prefixRefer):
			if s = s[1:]; s != "" {
				l.Refer = append(l.Refer, s)
			}
		case strings.HasPrefix(s, prefixKeyword):
			if s = s[1:]; s != "" {
				l.Keyword = append(l.Keyword, s)
			}
		default:
			l.Block = append(l.Block, s)
		}
	}
	return l
}

// CleanSites collapses whitespace in a site list.
func CleanSites(sites string) string {
	return strings.Join(strings.Fields(sites), " ")
}

// MergeSites appends entries not already present, keeping the existing order.
func MergeSites(existing string, add ...string) string {
	fields := strings.Fields(existing)
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f] = true
	}
	for _, a := range add {
		for _, f := range strings.Fields(a) {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	return strings.Join(fields, " ")
}

// SiteExpr converts site entries into one expression matched against a URL.
// An entry is a host with an optional path; "*" matches within one path
// segment and "**" matches anything. Entries containing "://" are matched
// from the start of the URL as written. Empty input yields "".
func SiteExpr(sites []string, matchSubdomains bool) string {
	if len(sites) == 0 {
		return ""
	}
	prefix := `^https?://+(?:www\.)?`
	if matchSubdomains {
		prefix = `^https?://+(?:[^/?#]+\.)?`
	}

	parts := make([]string, 0, len(sites))
	for _, s := range sites {
		if strings.Contains(s, "://") {
			parts = append(parts, "^"+wildcard(s))
			continue
		}
		parts = append(parts, prefix+wildcard(s))
	}
	return "(?:" + strings.Join(parts, ")|(?:") + ")"
}

// KeywordExpr builds a case-insensitive whole-word expression for keywords.
func KeywordExpr(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = wildcard(k)
	}
	return `(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`
}

func wildcard(s string) string {
	var b strings.Builder
	for i, chunk := range strings.Split(s, "**") {
		if i > 0 {
			b.WriteString(".*")
		}
		for j, seg := range strings.Split(chunk, "*") {
			if j > 0 {
				b.WriteString("[^/]*")
			}
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	return b.String()
}
