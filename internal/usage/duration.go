package usage

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatDuration renders seconds as "HH:MM:SS". Hours widen past two digits
// as needed and negative durations carry a leading minus.
func FormatDuration(secs int64) string {
	sign := ""
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

// ParseDuration is the inverse of FormatDuration.
func ParseDuration(s string) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	parts := strings.Split(strings.TrimPrefix(s, "-"), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration %q: want HH:MM:SS", s)
	}

	var fields [3]int64
	for i, p := range parts {
		if len(p) < 2 {
			return 0, fmt.Errorf("invalid duration %q: field %q must have two digits", s, p)
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid duration %q: bad field %q", s, p)
		}
		if i > 0 && (len(p) != 2 || v > 59) {
			return 0, fmt.Errorf("invalid duration %q: field %q out of range", s, p)
		}
		fields[i] = v
	}

	secs := fields[0]*3600 + fields[1]*60 + fields[2]
	if neg {
		secs = -secs
	}
	return secs, nil
}
