package policy

import (
	"regexp"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/goodtune/kblock/internal/options"
)

func compile(expr string) *regexp.Regexp {
	if expr == "" {
		return nil
	}
	return regexp.MustCompile(expr)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		block       string
		allow       string
		refer       string
		keyword     string
		allowRefers bool
		titleOnly   bool
		page        Page
		want        Action
		wantKeyword string
	}{
		{
			name: "no patterns",
			page: Page{URL: "https://example.com/"},
			want: ActionAllow,
		},
		{
			name:  "block match",
			block: `^https://example\.com`,
			page:  Page{URL: "https://example.com/a"},
			want:  ActionBlock,
		},
		{
			name:  "block miss",
			block: `^https://example\.com`,
			page:  Page{URL: "https://other.org/"},
			want:  ActionAllow,
		},
		{
			name:  "case sensitive",
			block: `^https://example\.com`,
			page:  Page{URL: "https://EXAMPLE.com/"},
			want:  ActionAllow,
		},
		{
			name:  "allow beats url block",
			block: `example\.com`,
			allow: `example\.com/ok`,
			page:  Page{URL: "https://example.com/ok/1"},
			want:  ActionAllow,
		},
		{
			name:  "refer blocks alone",
			refer: `social\.net`,
			page:  Page{URL: "https://other.org/", Referrer: "https://social.net/feed"},
			want:  ActionBlock,
		},
		{
			name:  "refer block ignores allow",
			refer: `social\.net`,
			allow: `other\.org`,
			page:  Page{URL: "https://other.org/", Referrer: "https://social.net/feed"},
			want:  ActionBlock,
		},
		{
			name:        "refer exempts with allowRefers",
			block:       `example\.com`,
			refer:       `search\.org`,
			allowRefers: true,
			page:        Page{URL: "https://example.com/", Referrer: "https://search.org/?q=x"},
			want:        ActionAllow,
		},
		{
			name:        "allowRefers without referrer",
			block:       `example\.com`,
			refer:       `search\.org`,
			allowRefers: true,
			page:        Page{URL: "https://example.com/"},
			want:        ActionBlock,
		},
		{
			name:  "empty referrer never matches",
			refer: `.*`,
			page:  Page{URL: "https://example.com/"},
			want:  ActionAllow,
		},
		{
			name:  "view-source wrapper",
			block: `^https://example\.com`,
			page:  Page{URL: "view-source:https://example.com/"},
			want:  ActionBlock,
		},
		{
			name:        "keyword in title",
			block:       `example\.com`,
			keyword:     `(?i)\bcasino\b`,
			page:        Page{URL: "https://example.com/", Title: "Casino night", Text: "casino"},
			want:        ActionBlock,
			wantKeyword: "Casino",
		},
		{
			name:        "keyword in text",
			block:       `example\.com`,
			keyword:     `(?i)\bcasino\b`,
			page:        Page{URL: "https://example.com/", Title: "News", Text: "a casino opened"},
			want:        ActionBlock,
			wantKeyword: "casino",
		},
		{
			name:      "keyword title only",
			block:     `example\.com`,
			keyword:   `(?i)\bcasino\b`,
			titleOnly: true,
			page:      Page{URL: "https://example.com/", Title: "News", Text: "a casino opened"},
			want:      ActionBlock,
		},
		{
			name:    "keyword never blocks alone",
			keyword: `casino`,
			page:    Page{URL: "https://example.com/", Title: "casino"},
			want:    ActionAllow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := &options.BlockSet{
				ID:          1,
				Block:       compile(tt.block),
				Allow:       compile(tt.allow),
				Refer:       compile(tt.refer),
				Keyword:     compile(tt.keyword),
				AllowRefers: tt.allowRefers,
				TitleOnly:   tt.titleOnly,
			}
			got := Evaluate(tt.page, set)
			if got.Action != tt.want {
				t.Errorf("Action = %s, want %s", got.Action, tt.want)
			}
			if got.Keyword != tt.wantKeyword {
				t.Errorf("Keyword = %q, want %q", got.Keyword, tt.wantKeyword)
			}
		})
	}
}

func TestEvaluateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	build := func(block, allow, allowRefers bool) *options.BlockSet {
		set := &options.BlockSet{ID: 1, Refer: compile(`referrer\.example`), AllowRefers: allowRefers}
		if block {
			set.Block = compile(`target`)
		}
		if allow {
			set.Allow = compile(`target`)
		}
		return set
	}

	properties.Property("a referrer match blocks unless referrers exempt", prop.ForAll(
		func(block, allow bool) bool {
			set := build(block, allow, false)
			page := Page{URL: "https://target/", Referrer: "https://referrer.example/"}
			return Evaluate(page, set).Action == ActionBlock
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("evaluation is deterministic", prop.ForAll(
		func(block, allow, allowRefers, referred bool) bool {
			set := build(block, allow, allowRefers)
			page := Page{URL: "https://target/"}
			if referred {
				page.Referrer = "https://referrer.example/"
			}
			return Evaluate(page, set) == Evaluate(page, set)
		},
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestCleanURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/":                                   "https://example.com/",
		"view-source:https://example.com/":                       "https://example.com/",
		"about:reader?url=https%3A%2F%2Fexample.com%2Fa%3Fb%3D1": "https://example.com/a?b=1",
		"view-source:about:reader?url=https%3A%2F%2Fx.org%2F":    "https://x.org/",
		"about:reader?url=%zz":                                   "%zz",
	}
	for in, want := range tests {
		if got := CleanURL(in); got != want {
			t.Errorf("CleanURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHost(t *testing.T) {
	if got := Host("https://WWW.Example.com:8443/a"); got != "www.example.com" {
		t.Errorf("Host = %q", got)
	}
	if got := Host("not a url"); got != "" {
		t.Errorf("Host = %q", got)
	}
}
