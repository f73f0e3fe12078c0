package options

import (
	"reflect"
	"regexp"
	"testing"
)

func TestSplitSites(t *testing.T) {
	got := SplitSites("  example.com +example.com/ok\n~social.net >casino\tnews.org + ")
	want := SiteLists{
		Block:   []string{"example.com", "news.org"},
		Allow:   []string{"example.com/ok"},
		Refer:   []string{"social.net"},
		Keyword: []string{"casino"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitSites = %+v, want %+v", got, want)
	}
}

func TestMergeSites(t *testing.T) {
	got := MergeSites("a.com  b.com", "b.com c.com", "a.com d.com")
	if got != "a.com b.com c.com d.com" {
		t.Errorf("MergeSites = %q", got)
	}
	if got := MergeSites("", "x.com"); got != "x.com" {
		t.Errorf("MergeSites on empty = %q", got)
	}
}

func TestSiteExpr(t *testing.T) {
	tests := []struct {
		name       string
		sites      []string
		subdomains bool
		match      []string
		noMatch    []string
	}{
		{
			name:    "host",
			sites:   []string{"example.com"},
			match:   []string{"https://example.com/", "http://www.example.com/page", "https://example.com.au/"},
			noMatch: []string{"https://sub.example.com/", "https://notexample.com/", "ftp://example.com/"},
		},
		{
			name:       "subdomains",
			sites:      []string{"example.com"},
			subdomains: true,
			match:      []string{"https://sub.example.com/", "https://a.b.example.com/x", "https://example.com/"},
			noMatch:    []string{"https://badexample.com/"},
		},
		{
			name:    "single segment wildcard",
			sites:   []string{"example.com/*/news"},
			match:   []string{"https://example.com/world/news"},
			noMatch: []string{"https://example.com/a/b/news"},
		},
		{
			name:  "any wildcard",
			sites: []string{"example.com/**/news"},
			match: []string{"https://example.com/a/news", "https://example.com/a/b/news"},
		},
		{
			name:    "explicit scheme",
			sites:   []string{"file:///home/*.pdf"},
			match:   []string{"file:///home/doc.pdf"},
			noMatch: []string{"https://home/doc.pdf"},
		},
		{
			name:  "several",
			sites: []string{"a.com", "b.org/x"},
			match: []string{"https://a.com/", "https://b.org/x/y"},
			noMatch: []string{
				"https://b.org/y",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := regexp.MustCompile(SiteExpr(tt.sites, tt.subdomains))
			for _, u := range tt.match {
				if !re.MatchString(u) {
					t.Errorf("%s should match %q", re, u)
				}
			}
			for _, u := range tt.noMatch {
				if re.MatchString(u) {
					t.Errorf("%s should not match %q", re, u)
				}
			}
		})
	}

	if SiteExpr(nil, false) != "" {
		t.Error("no sites should give an empty expression")
	}
}

func TestKeywordExpr(t *testing.T) {
	re := regexp.MustCompile(KeywordExpr([]string{"casino", "poker"}))
	if got := re.FindString("Best CASINO deals"); got != "CASINO" {
		t.Errorf("FindString = %q", got)
	}
	if re.MatchString("casinos") {
		t.Error("keywords match whole words only")
	}
	if KeywordExpr(nil) != "" {
		t.Error("no keywords should give an empty expression")
	}
}
