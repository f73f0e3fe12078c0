package usage

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func unix(y int, m time.Month, d, hh, mm int, loc *time.Location) int64 {
	return time.Date(y, m, d, hh, mm, 0, 0, loc).Unix()
}

func TestPeriodStart(t *testing.T) {
	utc := time.UTC
	tests := []struct {
		name     string
		spec     PeriodSpec
		now      int64
		wantFrom int64
		wantNext int64
	}{
		{
			name:     "daily",
			spec:     Daily(0),
			now:      unix(2024, 1, 10, 15, 0, utc),
			wantFrom: unix(2024, 1, 10, 0, 0, utc),
			wantNext: unix(2024, 1, 11, 0, 0, utc),
		},
		{
			name:     "daily with offset before boundary",
			spec:     Daily(180),
			now:      unix(2024, 1, 10, 2, 0, utc),
			wantFrom: unix(2024, 1, 9, 3, 0, utc),
			wantNext: unix(2024, 1, 10, 3, 0, utc),
		},
		{
			name:     "daily with offset after boundary",
			spec:     Daily(180),
			now:      unix(2024, 1, 10, 3, 0, utc),
			wantFrom: unix(2024, 1, 10, 3, 0, utc),
			wantNext: unix(2024, 1, 11, 3, 0, utc),
		},
		{
			name:     "weekly from monday",
			spec:     Weekly(time.Monday, 0),
			now:      unix(2024, 1, 10, 12, 0, utc), // Wednesday
			wantFrom: unix(2024, 1, 8, 0, 0, utc),
			wantNext: unix(2024, 1, 15, 0, 0, utc),
		},
		{
			name:     "weekly on the start day",
			spec:     Weekly(time.Sunday, 0),
			now:      unix(2024, 1, 14, 0, 0, utc),
			wantFrom: unix(2024, 1, 14, 0, 0, utc),
			wantNext: unix(2024, 1, 21, 0, 0, utc),
		},
		{
			name:     "custom hourly",
			spec:     Custom(3600, 0, 0),
			now:      7300,
			wantFrom: 7200,
			wantNext: 10800,
		},
		{
			name:     "custom before anchor",
			spec:     Custom(3600, 0, 0),
			now:      -10,
			wantFrom: -3600,
			wantNext: 0,
		},
		{
			name:     "custom with offset",
			spec:     Custom(600, 0, 1),
			now:      61,
			wantFrom: 60,
			wantNext: 660,
		},
		{
			name: "none",
			spec: PeriodSpec{},
			now:  12345,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeriodStart(tt.now, tt.spec, utc); got != tt.wantFrom {
				t.Errorf("PeriodStart = %s, want %s", time.Unix(got, 0).UTC(), time.Unix(tt.wantFrom, 0).UTC())
			}
			if got := NextPeriodStart(tt.now, tt.spec, utc); got != tt.wantNext {
				t.Errorf("NextPeriodStart = %s, want %s", time.Unix(got, 0).UTC(), time.Unix(tt.wantNext, 0).UTC())
			}
		})
	}
}

func TestPeriodStartDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	// 2024-03-10 is a 23-hour day in New York.
	now := unix(2024, 3, 10, 12, 0, loc)
	start := PeriodStart(now, Daily(0), loc)
	next := NextPeriodStart(now, Daily(0), loc)

	if start != unix(2024, 3, 10, 0, 0, loc) {
		t.Errorf("start = %s", time.Unix(start, 0).In(loc))
	}
	if next != unix(2024, 3, 11, 0, 0, loc) {
		t.Errorf("next = %s", time.Unix(next, 0).In(loc))
	}
	if next-start != 23*3600 {
		t.Errorf("day length = %d, want %d", next-start, 23*3600)
	}
}

func TestPeriodSpecValid(t *testing.T) {
	if (PeriodSpec{}).Valid() {
		t.Error("zero spec should be invalid")
	}
	if Custom(0, 0, 0).Valid() {
		t.Error("zero-length custom spec should be invalid")
	}
	if !Daily(0).Valid() || !Weekly(time.Monday, 0).Valid() || !Custom(60, 0, 0).Valid() {
		t.Error("expected valid specs")
	}
}

func TestPeriodProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	specs := []PeriodSpec{
		Daily(0),
		Daily(90),
		Daily(-120),
		Weekly(time.Monday, 0),
		Weekly(time.Sunday, 300),
		Custom(3600, 0, 0),
		Custom(5400, 1700000000, 15),
	}

	properties.Property("start <= now < next", prop.ForAll(
		func(now int64, i int) bool {
			spec := specs[i]
			start := PeriodStart(now, spec, time.UTC)
			next := NextPeriodStart(now, spec, time.UTC)
			return start <= now && now < next
		},
		gen.Int64Range(0, 4102444800),
		gen.IntRange(0, len(specs)-1),
	))

	properties.Property("start is stable within its period", prop.ForAll(
		func(now int64, i int) bool {
			spec := specs[i]
			start := PeriodStart(now, spec, time.UTC)
			return PeriodStart(start, spec, time.UTC) == start &&
				PeriodStart(NextPeriodStart(now, spec, time.UTC)-1, spec, time.UTC) == start
		},
		gen.Int64Range(0, 4102444800),
		gen.IntRange(0, len(specs)-1),
	))

	properties.TestingRun(t)
}
