package usage

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		secs int64
		want string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{3661, "01:01:01"},
		{-3661, "-01:01:01"},
		{86400, "24:00:00"},
		{360000, "100:00:00"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.secs); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestParseDurationInvalid(t *testing.T) {
	for _, s := range []string{"", "1:00:00", "01:00", "01:60:00", "01:00:60", "aa:00:00", "01:00:000"} {
		if _, err := ParseDuration(s); err == nil {
			t.Errorf("ParseDuration(%q) should fail", s)
		}
	}
}

func TestDurationRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("parse inverts format", prop.ForAll(
		func(secs int64) bool {
			got, err := ParseDuration(FormatDuration(secs))
			return err == nil && got == secs
		},
		gen.Int64Range(-1<<40, 1<<40),
	))

	properties.TestingRun(t)
}
