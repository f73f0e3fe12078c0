// Package usage implements the time accounting behind block-set quotas:
// accounting periods, the per-set ledger and the remaining-time arithmetic.
// Everything here is pure; callers supply "now" and the location.
package usage

import (
	"fmt"
	"strings"
	"time"
)

// PeriodKind selects how accounting periods are laid out.
type PeriodKind int

const (
	PeriodNone PeriodKind = iota
	PeriodDaily
	PeriodWeekly
	PeriodCustom
)

func (k PeriodKind) String() string {
	switch k {
	case PeriodNone:
		return "none"
	case PeriodDaily:
		return "daily"
	case PeriodWeekly:
		return "weekly"
	case PeriodCustom:
		return "custom"
	default:
		return fmt.Sprintf("period(%d)", int(k))
	}
}

const (
	secsPerDay  = 86400
	secsPerWeek = 7 * secsPerDay
)

// PeriodSpec describes a recurring accounting window.
type PeriodSpec struct {
	Kind       PeriodKind
	OffsetMins int          // shifts every boundary, e.g. 180 starts the day at 03:00
	WeekStart  time.Weekday // weekly only
	LengthSecs int64        // custom only
	AnchorSecs int64        // custom only; epoch instant of one boundary before the offset
}

// Daily returns a daily spec with the given offset.
func Daily(offsetMins int) PeriodSpec {
	return PeriodSpec{Kind: PeriodDaily, OffsetMins: offsetMins}
}

// Weekly returns a weekly spec starting on weekStart.
func Weekly(weekStart time.Weekday, offsetMins int) PeriodSpec {
	return PeriodSpec{Kind: PeriodWeekly, WeekStart: weekStart, OffsetMins: offsetMins}
}

// Custom returns a fixed-length spec anchored at anchor.
func Custom(lengthSecs, anchor int64, offsetMins int) PeriodSpec {
	return PeriodSpec{Kind: PeriodCustom, LengthSecs: lengthSecs, AnchorSecs: anchor, OffsetMins: offsetMins}
}

// Valid reports whether s describes a usable period.
func (s PeriodSpec) Valid() bool {
	switch s.Kind {
	case PeriodDaily, PeriodWeekly:
		return true
	case PeriodCustom:
		return s.LengthSecs > 0
	default:
		return false
	}
}

func (s PeriodSpec) String() string {
	var b strings.Builder
	b.WriteString(s.Kind.String())
	switch s.Kind {
	case PeriodWeekly:
		fmt.Fprintf(&b, " from %s", s.WeekStart)
	case PeriodCustom:
		fmt.Fprintf(&b, " every %s", time.Duration(s.LengthSecs)*time.Second)
	}
	if s.OffsetMins != 0 {
		fmt.Fprintf(&b, " offset %+dm", s.OffsetMins)
	}
	return b.String()
}

// PeriodStart returns the start of the period containing now. The result is
// never after now. An invalid spec yields 0.
func PeriodStart(now int64, spec PeriodSpec, loc *time.Location) int64 {
	off := int64(spec.OffsetMins) * 60
	switch spec.Kind {
	case PeriodDaily:
		return localMidnight(now-off, loc).Unix() + off
	case PeriodWeekly:
		return weekStart(now-off, spec.WeekStart, loc).Unix() + off
	case PeriodCustom:
		if spec.LengthSecs <= 0 {
			return 0
		}
		base := spec.AnchorSecs + off
		return base + floorDiv(now-base, spec.LengthSecs)*spec.LengthSecs
	default:
		return 0
	}
}

// NextPeriodStart returns the start of the period after the one containing now.
func NextPeriodStart(now int64, spec PeriodSpec, loc *time.Location) int64 {
	off := int64(spec.OffsetMins) * 60
	switch spec.Kind {
	case PeriodDaily:
		return localMidnight(now-off, loc).AddDate(0, 0, 1).Unix() + off
	case PeriodWeekly:
		return weekStart(now-off, spec.WeekStart, loc).AddDate(0, 0, 7).Unix() + off
	case PeriodCustom:
		if spec.LengthSecs <= 0 {
			return 0
		}
		return PeriodStart(now, spec, loc) + spec.LengthSecs
	default:
		return 0
	}
}

func localMidnight(t int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	tm := time.Unix(t, 0).In(loc)
	return time.Date(tm.Year(), tm.Month(), tm.Day(), 0, 0, 0, 0, loc)
}

func weekStart(t int64, first time.Weekday, loc *time.Location) time.Time {
	m := localMidnight(t, loc)
	back := (int(m.Weekday()) - int(first) + 7) % 7
	return m.AddDate(0, 0, -back)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
