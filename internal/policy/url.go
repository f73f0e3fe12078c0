package policy

import (
	"net/url"
	"strings"
)

const (
	viewSourcePrefix = "view-source:"
	readerPrefix     = "about:reader?url="
)

// CleanURL strips viewer wrappers so the page's own URL is matched.
func CleanURL(u string) string {
	for {
		switch {
		case strings.HasPrefix(u, viewSourcePrefix):
			u = u[len(viewSourcePrefix):]
		case strings.HasPrefix(u, readerPrefix):
			inner := u[len(readerPrefix):]
			if decoded, err := url.QueryUnescape(inner); err == nil {
				inner = decoded
			}
			u = inner
		default:
			return u
		}
	}
}

// Host returns the lower-cased host of a URL, or "" when it has none.
func Host(u string) string {
	parsed, err := url.Parse(CleanURL(u))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
