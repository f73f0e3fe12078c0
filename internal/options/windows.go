package options

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const minutesPerDay = 24 * 60

// Window is a half-open time-of-day interval in minutes since midnight.
type Window struct {
	Start int
	End   int
}

func (w Window) String() string {
	return fmt.Sprintf("%02d%02d-%02d%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// Contains reports whether the minute of day falls inside the window.
func (w Window) Contains(minute int) bool {
	return minute >= w.Start && minute < w.End
}

// ParseWindows parses "HHMM-HHMM[,HHMM-HHMM...]". Windows are returned sorted
// and must not overlap. An empty string yields no windows.
func ParseWindows(s string) ([]Window, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []Window
	for _, part := range strings.Split(s, ",") {
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid time period %q", part)
		}
		start, err := parseClock(bounds[0])
		if err != nil {
			return nil, err
		}
		end, err := parseClock(bounds[1])
		if err != nil {
			return nil, err
		}
		if start >= end {
			return nil, fmt.Errorf("time period %q ends before it starts", part)
		}
		out = append(out, Window{Start: start, End: end})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := 1; i < len(out); i++ {
		if out[i].Start < out[i-1].End {
			return nil, fmt.Errorf("time periods %s and %s overlap", out[i-1], out[i])
		}
	}
	return out, nil
}

// FormatWindows renders windows in the form ParseWindows accepts.
func FormatWindows(ws []Window) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.String()
	}
	return strings.Join(parts, ",")
}

func parseClock(s string) (int, error) {
	if len(s) != 4 || strings.Trim(s, "0123456789") != "" {
		return 0, fmt.Errorf("invalid time %q: want HHMM", s)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	h, m := v/100, v%100
	if m > 59 || h*60+m > minutesPerDay {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}
