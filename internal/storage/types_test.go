package storage

import (
	"encoding/json"
	"testing"
)

func TestUsageRecordJSON(t *testing.T) {
	rec := UsageRecord{
		FirstActiveAt:    1700000000,
		TotalActiveSecs:  3600,
		PeriodStart:      1700006400,
		PeriodActiveSecs: 120,
		SpecialEndTime:   1700010000,
		RolloverSecs:     300,
		SpecialKind:      SpecialOverride,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[1700000000,3600,1700006400,120,1700010000,300,2]" {
		t.Fatalf("unexpected tuple: %s", data)
	}

	var got UsageRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != rec {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestUsageRecordLegacyTuples(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want UsageRecord
	}{
		{
			name: "six fields with special end is a lockdown",
			in:   "[100, 50, 200, 10, 900, 0]",
			want: UsageRecord{FirstActiveAt: 100, TotalActiveSecs: 50, PeriodStart: 200, PeriodActiveSecs: 10, SpecialEndTime: 900, SpecialKind: SpecialLockdown},
		},
		{
			name: "five fields",
			in:   "[100, 50, 200, 10, 0]",
			want: UsageRecord{FirstActiveAt: 100, TotalActiveSecs: 50, PeriodStart: 200, PeriodActiveSecs: 10},
		},
		{
			name: "fractions and nulls",
			in:   "[100.9, null, 200, 10.2]",
			want: UsageRecord{FirstActiveAt: 100, PeriodStart: 200, PeriodActiveSecs: 10},
		},
		{
			name: "kind none discards stale end time",
			in:   "[1, 2, 3, 4, 5, 6, 0]",
			want: UsageRecord{FirstActiveAt: 1, TotalActiveSecs: 2, PeriodStart: 3, PeriodActiveSecs: 4, RolloverSecs: 6},
		},
		{
			name: "empty",
			in:   "[]",
			want: UsageRecord{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got UsageRecord
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUsageRecordInvalid(t *testing.T) {
	var rec UsageRecord
	if err := json.Unmarshal([]byte(`{"a":1}`), &rec); err == nil {
		t.Error("expected error for object input")
	}
	if err := json.Unmarshal([]byte(`[1,2,3,4,5,6,9]`), &rec); err == nil {
		t.Error("expected error for unknown special kind")
	}
}

func TestUsageRecordSpecialActive(t *testing.T) {
	rec := UsageRecord{SpecialEndTime: 1000, SpecialKind: SpecialLockdown}

	if !rec.SpecialActive(SpecialLockdown, 999) {
		t.Error("expected lockdown active before end")
	}
	if rec.SpecialActive(SpecialLockdown, 1000) {
		t.Error("expected lockdown inactive at end")
	}
	if rec.SpecialActive(SpecialOverride, 999) {
		t.Error("lockdown must not report as override")
	}
}

func TestUsageRecordRestart(t *testing.T) {
	rec := UsageRecord{FirstActiveAt: 10, TotalActiveSecs: 500, PeriodStart: 100, PeriodActiveSecs: 40, RolloverSecs: 60, SpecialEndTime: 900, SpecialKind: SpecialLockdown}

	kept := rec
	kept.Restart(200, true)
	if kept.FirstActiveAt != 10 || kept.TotalActiveSecs != 0 || kept.PeriodActiveSecs != 0 || kept.RolloverSecs != 0 {
		t.Errorf("unexpected record after restart: %+v", kept)
	}
	if kept.SpecialKind != SpecialLockdown || kept.SpecialEndTime != 900 {
		t.Errorf("restart must not end a lockdown: %+v", kept)
	}

	fresh := rec
	fresh.Restart(200, false)
	if fresh.FirstActiveAt != 200 {
		t.Errorf("expected first active at 200, got %d", fresh.FirstActiveAt)
	}
}

func TestSetKey(t *testing.T) {
	if got := SetKey(3); got != "000003" {
		t.Fatalf("SetKey(3) = %q", got)
	}
	id, err := ParseSetKey(SetKey(42))
	if err != nil || id != 42 {
		t.Fatalf("ParseSetKey round trip = %d, %v", id, err)
	}
}

func TestParseSpecialKind(t *testing.T) {
	for _, kind := range []SpecialKind{SpecialNone, SpecialLockdown, SpecialOverride} {
		got, err := ParseSpecialKind(kind.String())
		if err != nil || got != kind {
			t.Errorf("ParseSpecialKind(%q) = %v, %v", kind.String(), got, err)
		}
	}
	if _, err := ParseSpecialKind("bogus"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
