package options

import (
	"errors"
	"testing"
	"time"

	"github.com/goodtune/kblock/internal/access"
	"github.com/goodtune/kblock/internal/usage"
)

func TestParseDefaults(t *testing.T) {
	o := Parse(map[string]any{}, nil)

	if o.NumSets != DefaultNumSets || len(o.Sets) != DefaultNumSets {
		t.Fatalf("NumSets = %d, sets = %d", o.NumSets, len(o.Sets))
	}
	if o.WeekStart != time.Monday {
		t.Errorf("WeekStart = %s", o.WeekStart)
	}
	if o.OverrideLimitPeriod != DefaultOverrideLimitPeriod {
		t.Errorf("OverrideLimitPeriod = %d", o.OverrideLimitPeriod)
	}
	if !o.LockdownAccess {
		t.Error("LockdownAccess should default to true")
	}
	if o.Access.Required() || o.OverrideAccess.Required() {
		t.Error("no access requirement by default")
	}
	if errs := o.Errors(); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}

	s := o.Set(1)
	if s.DisplayName() != "Block Set 1" {
		t.Errorf("DisplayName = %q", s.DisplayName())
	}
	if s.HasPatterns() || s.HasQuota() || s.Disabled {
		t.Errorf("empty set should have nothing configured: %+v", s)
	}
	if !s.CountFocus || !s.AllowOverride || !s.DelayCancel || !s.ShowKeyword {
		t.Error("boolean defaults not applied")
	}
	if s.BlockURL != BlockPageDefault || s.DelaySecs != DefaultDelaySecs {
		t.Errorf("BlockURL=%q DelaySecs=%d", s.BlockURL, s.DelaySecs)
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if !s.EnabledOn(d) {
			t.Errorf("set should be enabled on %s", d)
		}
	}
	if o.Set(0) != nil || o.Set(DefaultNumSets+1) != nil {
		t.Error("out of range set ids should be nil")
	}
}

func TestParseNumSetsClamped(t *testing.T) {
	if o := Parse(map[string]any{"numSets": 100.0}, nil); o.NumSets != MaxNumSets {
		t.Errorf("NumSets = %d, want %d", o.NumSets, MaxNumSets)
	}
	if o := Parse(map[string]any{"numSets": "0"}, nil); o.NumSets != 1 {
		t.Errorf("NumSets = %d, want 1", o.NumSets)
	}
}

func TestParseSet(t *testing.T) {
	raw := map[string]any{
		"numSets":      2.0,
		"weekStartDay": 0.0,
		"setName1":     "Social",
		"sites1":       "facebook.com  +facebook.com/groups ~reddit.com >gossip",
		"allowRefers1": true,
		"times1":       "1700-2200,0900-1200",
		"days1":        []any{false, true, true, true, true, true, false},
		"limitMins1":   "30",
		"limitPeriod1": 604800.0,
		"limitOffset1": 1.5,
		"rollover1":    "true",
		"delaySecs1":   10.0,
		"blockURL1":    "delayed.html",
		"conjMode1":    1.0,
	}
	o := Parse(raw, nil)
	s := o.Set(1)

	if s.Name != "Social" || s.Disabled {
		t.Fatalf("unexpected set %+v, errors %v", s, s.Errors)
	}
	if !s.Block.MatchString("https://www.facebook.com/") {
		t.Error("block pattern should match facebook")
	}
	if !s.Allow.MatchString("https://facebook.com/groups/x") {
		t.Error("allow pattern should match groups")
	}
	if !s.Refer.MatchString("https://reddit.com/r/x") {
		t.Error("refer pattern should match reddit")
	}
	if s.Keyword.FindString("celebrity Gossip") != "Gossip" {
		t.Error("keyword pattern should match gossip")
	}
	if !s.AllowRefers || !s.ConjMode {
		t.Error("flags not parsed")
	}
	if FormatWindows(s.Windows) != "0900-1200,1700-2200" {
		t.Errorf("windows = %s", FormatWindows(s.Windows))
	}
	if s.EnabledOn(time.Sunday) || !s.EnabledOn(time.Monday) || s.EnabledOn(time.Saturday) {
		t.Errorf("days = %v", s.Days)
	}
	if !s.InWindow(9*60) || s.InWindow(12*60) || !s.InWindow(21*60+59) {
		t.Error("InWindow mismatch")
	}

	want := &usage.Quota{LimitMins: 30, Rollover: true, Period: usage.Weekly(time.Sunday, 90)}
	if *s.Quota != *want {
		t.Errorf("quota = %+v, want %+v", *s.Quota, *want)
	}
	if s.DelaySecs != 10 || s.BlockURL != BlockPageDelayed {
		t.Errorf("DelaySecs=%d BlockURL=%q", s.DelaySecs, s.BlockURL)
	}

	if other := o.Set(2); other.HasPatterns() {
		t.Error("set 2 should be empty")
	}
}

func TestParseExplicitRegexpWins(t *testing.T) {
	o := Parse(map[string]any{
		"sites1":       "example.com",
		"regexpBlock1": "news",
	}, nil)
	s := o.Set(1)
	if s.Block.String() != "news" {
		t.Errorf("Block = %s", s.Block)
	}
	if !s.Block.MatchString("https://other.org/news") {
		t.Error("explicit pattern should be used")
	}
}

func TestParseCustomPeriod(t *testing.T) {
	o := Parse(map[string]any{
		"limitMins1":   15.0,
		"limitPeriod1": 3600.0,
		"limitAnchor1": 1800.0,
		"limitMins2":   15.0,
		"limitPeriod2": "daily",
	}, nil)

	if got := o.Set(1).Quota.Period; got != usage.Custom(3600, 1800, 0) {
		t.Errorf("period = %+v", got)
	}
	if got := o.Set(2).Quota.Period; got != usage.Daily(0) {
		t.Errorf("period = %+v", got)
	}
}

func TestParseConfigErrors(t *testing.T) {
	raw := map[string]any{
		"sites1":       "example.com",
		"regexpAllow1": "(",
		"sites2":       "example.com",
		"times2":       "09:00-17:00",
		"sites3":       "example.com",
		"limitMins3":   "lots",
		"sites4":       "example.com",
		"limitMins4":   10.0,
		"limitPeriod4": -5.0,
		"days5":        "11",
		"oa":           9.0,
	}
	o := Parse(raw, nil)

	tests := []struct {
		set      int
		key      string
		disabled bool
	}{
		{1, "regexpAllow1", true},
		{2, "times2", true},
		{3, "limitMins3", false},
		{4, "limitPeriod4", false},
		{5, "days5", false},
	}
	for _, tt := range tests {
		s := o.Set(tt.set)
		if len(s.Errors) != 1 {
			t.Errorf("set %d: errors = %v", tt.set, s.Errors)
			continue
		}
		if s.Errors[0].Key != tt.key || s.Errors[0].Set != tt.set {
			t.Errorf("set %d: error = %v", tt.set, s.Errors[0])
		}
		if s.Disabled != tt.disabled {
			t.Errorf("set %d: Disabled = %v, want %v", tt.set, s.Disabled, tt.disabled)
		}
	}

	if o.Set(3).HasQuota() || o.Set(4).HasQuota() {
		t.Error("a bad quota should leave the set without a quota")
	}
	if o.Set(3).Block == nil {
		t.Error("a bad quota should keep the set's patterns")
	}
	if !o.Set(5).EnabledOn(time.Sunday) {
		t.Error("bad days should fall back to every day")
	}

	if len(o.Global) != 1 || o.Global[0].Key != "oa" {
		t.Fatalf("global errors = %v", o.Global)
	}
	if o.Access.Mode != access.ModeNone {
		t.Errorf("bad access mode should fall back to none")
	}
	if len(o.Errors()) != 6 {
		t.Errorf("Errors() = %d, want 6", len(o.Errors()))
	}

	var syntaxErr error = o.Set(1).Errors[0]
	var ce *ConfigError
	if !errors.As(syntaxErr, &ce) || ce.Unwrap() == nil {
		t.Error("ConfigError should unwrap to the cause")
	}
}

func TestParseSecrets(t *testing.T) {
	tests := []struct {
		name         string
		raw          map[string]any
		wantHash     int32
		wantHas      bool
		wantOverride int32
	}{
		{
			name:         "legacy plaintext",
			raw:          map[string]any{"password": "test", "oa": 1.0, "oc": 1.0},
			wantHash:     3556498,
			wantHas:      true,
			wantOverride: 3556498,
		},
		{
			name:         "stored hash",
			raw:          map[string]any{"password": 3556498.0, "oa": 1.0, "oc": 1.0},
			wantHash:     3556498,
			wantHas:      true,
			wantOverride: 3556498,
		},
		{
			name:         "separate override password",
			raw:          map[string]any{"password": "test", "orp": "secret", "oa": 1.0, "oc": 1.0},
			wantHash:     3556498,
			wantHas:      true,
			wantOverride: -906277200,
		},
		{
			name: "empty password",
			raw:  map[string]any{"password": "", "oa": 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Parse(tt.raw, nil)
			if o.PasswordHash != tt.wantHash || o.HasPassword != tt.wantHas {
				t.Errorf("password = %d/%v", o.PasswordHash, o.HasPassword)
			}
			if o.Access.Required() != tt.wantHas {
				t.Errorf("Access.Required = %v", o.Access.Required())
			}
			if o.OverrideAccess.PasswordHash != tt.wantOverride {
				t.Errorf("override hash = %d, want %d", o.OverrideAccess.PasswordHash, tt.wantOverride)
			}
		})
	}
}

func TestParseLockdownSets(t *testing.T) {
	o := Parse(map[string]any{"lockdownSets": "1, 3", "lockdownHours": 1.0, "lockdownMins": 30.0}, nil)
	if len(o.LockdownSets) != 2 || o.LockdownSets[0] != 1 || o.LockdownSets[1] != 3 {
		t.Errorf("LockdownSets = %v", o.LockdownSets)
	}
	if o.LockdownMins != 90 {
		t.Errorf("LockdownMins = %d", o.LockdownMins)
	}

	o = Parse(map[string]any{"lockdownSets": []any{2.0, 9.0}}, nil)
	if len(o.LockdownSets) != 1 || o.LockdownSets[0] != 2 {
		t.Errorf("LockdownSets = %v", o.LockdownSets)
	}
	if len(o.Global) != 1 {
		t.Errorf("out of range set id should be reported: %v", o.Global)
	}
}

func TestFormatClock(t *testing.T) {
	at := time.Date(2024, 1, 10, 15, 4, 0, 0, time.UTC)
	o := &Options{ClockTimeFormat: Clock12h}
	if got := o.FormatClock(at); got != "Wed 3:04 PM" {
		t.Errorf("12h = %q", got)
	}
	o.ClockTimeFormat = Clock24h
	if got := o.FormatClock(at); got != "Wed 15:04" {
		t.Errorf("24h = %q", got)
	}
}

func TestCompilerCaches(t *testing.T) {
	c, err := NewCompiler(8)
	if err != nil {
		t.Fatal(err)
	}
	first, err := c.Compile("a+b")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := c.Compile("a+b")
	if first != second {
		t.Error("expected the cached program")
	}
	if _, err := c.Compile("("); err == nil {
		t.Error("expected compile error")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if re, err := c.Compile(""); re != nil || err != nil {
		t.Error("empty expression should yield nil")
	}
}
