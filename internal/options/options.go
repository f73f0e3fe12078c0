// Package options turns the flat option map shared with the browser
// extension into typed block sets. Parsing never fails as a whole: a bad
// value produces a ConfigError, the documented default is substituted, and
// a set whose patterns or time windows cannot be used is disabled.
package options

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/goodtune/kblock/internal/access"
	"github.com/goodtune/kblock/internal/usage"
)

// Block page targets.
const (
	BlockPageDefault  = "blocked.html"
	BlockPageDelayed  = "delayed.html"
	BlockPagePassword = "password.html"
)

const (
	DefaultNumSets = 6
	MaxNumSets     = 30

	DefaultOverrideLimitPeriod = 86400
	DefaultDelaySecs           = 60
)

// Period lengths accepted by limitPeriod.
const (
	periodDaily  = 86400
	periodWeekly = 7 * 86400
)

// Clock formats for displayed times.
const (
	ClockLocale = 0
	Clock12h    = 1
	Clock24h    = 2
)

// Options is the parsed option map.
type Options struct {
	NumSets         int
	ClockOffset     int // minutes added to the wall clock
	ClockTimeFormat int
	WeekStart       time.Weekday
	Theme           string
	CustomStyle     string
	MatchSubdomains bool
	DisableLink     bool
	WarnSecs        int

	PasswordHash int32
	HasPassword  bool

	// Access guards the password block page and, when LockdownAccess is
	// set, early lockdown cancellation.
	Access         access.Requirement
	OverrideAccess access.Requirement

	OverrideConfirm     bool
	OverrideMins        int
	OverrideLimitNum    int
	OverrideLimitPeriod int64

	LockdownMins   int
	LockdownSets   []int
	LockdownAccess bool

	Sets []*BlockSet

	// Global holds errors for global keys; set errors live on each set.
	Global []*ConfigError
}

// BlockSet is one parsed block set.
type BlockSet struct {
	ID    int
	Name  string
	Sites string

	Block   *regexp.Regexp
	Allow   *regexp.Regexp
	Refer   *regexp.Regexp
	Keyword *regexp.Regexp

	AllowRefers bool
	TitleOnly   bool

	Windows []Window
	Days    [7]bool // indexed by time.Weekday
	Quota   *usage.Quota

	ConjMode      bool
	CountFocus    bool
	ActiveBlock   bool
	AllowOverride bool

	BlockURL    string
	DelaySecs   int
	DelayCancel bool
	ReloadSecs  int
	CustomMsg   string
	ShowKeyword bool

	Disabled bool
	Errors   []*ConfigError
}

// DisplayName returns the set name or a numbered fallback.
func (b *BlockSet) DisplayName() string {
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("Block Set %d", b.ID)
}

// HasPatterns reports whether any URL or referrer pattern is configured.
func (b *BlockSet) HasPatterns() bool {
	return b.Block != nil || b.Refer != nil
}

// HasQuota reports whether a time quota is enforced.
func (b *BlockSet) HasQuota() bool {
	return b.Quota.Enabled()
}

// EnabledOn reports whether the set applies on the given weekday.
func (b *BlockSet) EnabledOn(day time.Weekday) bool {
	return !b.Disabled && b.Days[day]
}

// InWindow reports whether the minute of day lies within an active window.
// A set without windows is always inside one.
func (b *BlockSet) InWindow(minute int) bool {
	if len(b.Windows) == 0 {
		return true
	}
	for _, w := range b.Windows {
		if w.Contains(minute) {
			return true
		}
	}
	return false
}

// Set returns the set with the given id, or nil.
func (o *Options) Set(id int) *BlockSet {
	if id < 1 || id > len(o.Sets) {
		return nil
	}
	return o.Sets[id-1]
}

// Errors returns every ConfigError found while parsing.
func (o *Options) Errors() []*ConfigError {
	errs := append([]*ConfigError(nil), o.Global...)
	for _, s := range o.Sets {
		errs = append(errs, s.Errors...)
	}
	return errs
}

// FormatClock renders an instant according to ClockTimeFormat.
func (o *Options) FormatClock(t time.Time) string {
	if o.ClockTimeFormat == Clock12h {
		return t.Format("Mon 3:04 PM")
	}
	return t.Format("Mon 15:04")
}

// SetKey returns the flat key for a per-set option.
func SetKey(name string, id int) string {
	return name + strconv.Itoa(id)
}

// Parse builds Options from the flat option map. The compiler may be nil.
func Parse(raw map[string]any, c *Compiler) *Options {
	r := &reader{raw: raw}
	o := &Options{}

	o.NumSets = r.integer("numSets", DefaultNumSets)
	if o.NumSets < 1 {
		o.NumSets = 1
	} else if o.NumSets > MaxNumSets {
		o.NumSets = MaxNumSets
	}

	o.ClockOffset = r.integer("clockOffset", 0)
	o.ClockTimeFormat = r.integer("clockTimeFormat", ClockLocale)
	o.WeekStart = time.Weekday(r.integer("weekStartDay", int(time.Monday)))
	if o.WeekStart < time.Sunday || o.WeekStart > time.Saturday {
		r.fail("weekStartDay", int(o.WeekStart), fmt.Errorf("must be 0..6"))
		o.WeekStart = time.Monday
	}
	o.Theme = r.str("theme", "")
	o.CustomStyle = r.str("customStyle", "")
	o.MatchSubdomains = r.boolean("matchSubdomains", false)
	o.DisableLink = r.boolean("disableLink", false)
	o.WarnSecs = r.integer("warnSecs", 0)

	o.PasswordHash, o.HasPassword = r.secret("password")
	overrideHash, hasOverride := r.secret("orp")
	if !hasOverride {
		overrideHash, hasOverride = o.PasswordHash, o.HasPassword
	}
	o.Access = access.Requirement{Mode: r.mode("oa"), PasswordHash: o.PasswordHash, HasPassword: o.HasPassword}
	o.OverrideAccess = access.Requirement{Mode: r.mode("oc"), PasswordHash: overrideHash, HasPassword: hasOverride}

	o.OverrideConfirm = r.boolean("ocm", false)
	o.OverrideMins = r.nonNegative("overrideMins", 0)
	o.OverrideLimitNum = r.nonNegative("overrideLimitNum", 0)
	o.OverrideLimitPeriod = int64(r.integer("overrideLimitPeriod", DefaultOverrideLimitPeriod))
	if o.OverrideLimitPeriod <= 0 {
		r.fail("overrideLimitPeriod", o.OverrideLimitPeriod, fmt.Errorf("must be positive"))
		o.OverrideLimitPeriod = DefaultOverrideLimitPeriod
	}

	o.LockdownMins = r.nonNegative("lockdownHours", 0)*60 + r.nonNegative("lockdownMins", 0)
	o.LockdownSets = r.setList("lockdownSets", o.NumSets)
	o.LockdownAccess = r.boolean("lockdownAccess", true)

	o.Global = r.errs

	o.Sets = make([]*BlockSet, o.NumSets)
	for id := 1; id <= o.NumSets; id++ {
		o.Sets[id-1] = parseSet(raw, id, o, c)
	}
	return o
}

func parseSet(raw map[string]any, id int, o *Options, c *Compiler) *BlockSet {
	r := &reader{raw: raw, set: id}
	key := func(name string) string { return SetKey(name, id) }

	b := &BlockSet{
		ID:            id,
		Name:          r.str(key("setName"), ""),
		Sites:         CleanSites(r.str(key("sites"), "")),
		AllowRefers:   r.boolean(key("allowRefers"), false),
		TitleOnly:     r.boolean(key("titleOnly"), false),
		ConjMode:      r.boolean(key("conjMode"), false),
		CountFocus:    r.boolean(key("countFocus"), true),
		ActiveBlock:   r.boolean(key("activeBlock"), false),
		AllowOverride: r.boolean(key("allowOverride"), true),
		BlockURL:      r.str(key("blockURL"), BlockPageDefault),
		DelaySecs:     r.nonNegative(key("delaySecs"), DefaultDelaySecs),
		DelayCancel:   r.boolean(key("delayCancel"), true),
		ReloadSecs:    r.nonNegative(key("reloadSecs"), 0),
		CustomMsg:     r.str(key("customMsg"), ""),
		ShowKeyword:   r.boolean(key("showKeyword"), true),
		Disabled:      r.boolean(key("disable"), false),
	}
	if b.BlockURL == "" {
		b.BlockURL = BlockPageDefault
	}

	lists := SplitSites(b.Sites)
	exprs := []struct {
		name    string
		derived string
		dst     **regexp.Regexp
	}{
		{"regexpBlock", SiteExpr(lists.Block, o.MatchSubdomains), &b.Block},
		{"regexpAllow", SiteExpr(lists.Allow, o.MatchSubdomains), &b.Allow},
		{"regexpRefer", SiteExpr(lists.Refer, o.MatchSubdomains), &b.Refer},
		{"keywordRE", KeywordExpr(lists.Keyword), &b.Keyword},
	}
	for _, e := range exprs {
		expr := r.str(key(e.name), "")
		if expr == "" {
			expr = e.derived
		}
		re, err := c.Compile(expr)
		if err != nil {
			r.fail(key(e.name), expr, err)
			b.Disabled = true
			continue
		}
		*e.dst = re
	}

	windows, err := ParseWindows(r.str(key("times"), ""))
	if err != nil {
		r.fail(key("times"), raw[key("times")], err)
		b.Disabled = true
	}
	b.Windows = windows

	b.Days = r.days(key("days"))
	b.Quota = r.quota(id, o.WeekStart)

	b.Errors = r.errs
	return b
}

type reader struct {
	raw  map[string]any
	set  int
	errs []*ConfigError
}

func (r *reader) fail(key string, value any, err error) {
	r.errs = append(r.errs, &ConfigError{Set: r.set, Key: key, Value: value, Err: err})
}

func (r *reader) lookup(key string) (any, bool) {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

func (r *reader) str(key, def string) string {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return s
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

func (r *reader) number(key string) (float64, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return 0, false
	}
	if s, isStr := v.(string); isStr {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		r.fail(key, v, fmt.Errorf("not a number"))
		return 0, false
	}
	return f, true
}

func (r *reader) integer(key string, def int) int {
	f, ok := r.number(key)
	if !ok {
		return def
	}
	if f != math.Trunc(f) {
		r.fail(key, f, fmt.Errorf("not a whole number"))
		return def
	}
	return int(f)
}

func (r *reader) nonNegative(key string, def int) int {
	n := r.integer(key, def)
	if n < 0 {
		r.fail(key, n, fmt.Errorf("must not be negative"))
		return def
	}
	return n
}

// secret reads a stored password hash. Numbers are hashes; strings are
// legacy plaintext and are hashed on load. The empty password is no password.
func (r *reader) secret(key string) (int32, bool) {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return 0, false
	}
	if s, isStr := v.(string); isStr {
		if s == "" {
			return 0, false
		}
		return access.Hash32(s), true
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		r.fail(key, v, fmt.Errorf("not a password hash"))
		return 0, false
	}
	return int32(f), f != 0
}

func (r *reader) mode(key string) access.Mode {
	m := access.Mode(r.integer(key, int(access.ModeNone)))
	if m < access.ModeNone || m > access.ModeCode128 {
		r.fail(key, int(m), fmt.Errorf("unknown access mode"))
		return access.ModeNone
	}
	return m
}

func (r *reader) setList(key string, numSets int) []int {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	var items []any
	switch t := v.(type) {
	case string:
		for _, f := range strings.FieldsFunc(t, func(c rune) bool { return c == ',' || c == ' ' }) {
			items = append(items, f)
		}
	default:
		s, err := cast.ToSliceE(v)
		if err != nil {
			r.fail(key, v, err)
			return nil
		}
		items = s
	}

	var ids []int
	for _, it := range items {
		f, err := cast.ToFloat64E(it)
		if err != nil || f != math.Trunc(f) || f < 1 || int(f) > numSets {
			r.fail(key, it, fmt.Errorf("not a set id"))
			continue
		}
		ids = append(ids, int(f))
	}
	return ids
}

// days reads seven Sunday-first flags, as a list or a "1111100"-style string.
func (r *reader) days(key string) [7]bool {
	all := [7]bool{true, true, true, true, true, true, true}
	v, ok := r.lookup(key)
	if !ok {
		return all
	}

	var items []any
	if s, isStr := v.(string); isStr {
		for _, c := range s {
			items = append(items, string(c))
		}
	} else {
		s, err := cast.ToSliceE(v)
		if err != nil {
			r.fail(key, v, err)
			return all
		}
		items = s
	}
	if len(items) != 7 {
		r.fail(key, v, fmt.Errorf("want 7 day flags, got %d", len(items)))
		return all
	}

	var out [7]bool
	for i, it := range items {
		b, err := cast.ToBoolE(it)
		if err != nil {
			r.fail(key, v, err)
			return all
		}
		out[i] = b
	}
	return out
}

func (r *reader) quota(id int, weekStart time.Weekday) *usage.Quota {
	limitKey := SetKey("limitMins", id)
	limit := r.nonNegative(limitKey, 0)
	if limit == 0 {
		return nil
	}

	periodKey := SetKey("limitPeriod", id)
	spec, ok := r.period(periodKey)
	if !ok {
		return nil
	}
	if hours, ok := r.number(SetKey("limitOffset", id)); ok {
		spec.OffsetMins = int(math.Round(hours * 60))
	}
	if spec.Kind == usage.PeriodWeekly {
		spec.WeekStart = weekStart
	}
	if spec.Kind == usage.PeriodCustom {
		spec.AnchorSecs = int64(r.integer(SetKey("limitAnchor", id), 0))
	}

	return &usage.Quota{
		LimitMins: limit,
		Period:    spec,
		Rollover:  r.boolean(SetKey("rollover", id), false),
	}
}

func (r *reader) period(key string) (usage.PeriodSpec, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return usage.PeriodSpec{}, false
	}
	if s, isStr := v.(string); isStr {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "daily", "day":
			return usage.Daily(0), true
		case "weekly", "week":
			return usage.Weekly(time.Monday, 0), true
		}
	}
	secs := r.integer(key, 0)
	switch {
	case secs == periodDaily:
		return usage.Daily(0), true
	case secs == periodWeekly:
		return usage.Weekly(time.Monday, 0), true
	case secs > 0:
		return usage.Custom(int64(secs), 0, 0), true
	default:
		if secs < 0 {
			r.fail(key, v, fmt.Errorf("must be positive"))
		}
		return usage.PeriodSpec{}, false
	}
}
