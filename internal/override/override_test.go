package override

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/kblock/internal/access"
	"github.com/goodtune/kblock/internal/storage"
	"github.com/goodtune/kblock/internal/storage/bolt"
)

// now is 2024-01-10 12:00 UTC.
const now = int64(1704888000)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "kblock.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store.Overrides(), zerolog.Nop())
}

func records(ids ...int) map[int]*storage.UsageRecord {
	recs := make(map[int]*storage.UsageRecord, len(ids))
	for _, id := range ids {
		recs[id] = &storage.UsageRecord{}
	}
	return recs
}

var daily = Limit{Num: 2, Period: LimitSpec(86400, time.Monday)}

func TestRequest(t *testing.T) {
	c := newTestController(t)
	recs := records(1, 2)

	end, err := c.Request(context.Background(), now, time.UTC, recs, Request{Minutes: 5, Sets: []int{1}}, nil, "", Limit{})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if end != now+300 {
		t.Errorf("end = %d", end)
	}
	if StateOf(*recs[1], now) != Active || StateOf(*recs[2], now) != Idle {
		t.Error("only set 1 should be overridden")
	}
	if StateOf(*recs[1], now+300) != Idle {
		t.Error("override should end after five minutes")
	}

	if got := c.Expire(now+300, recs); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Expire = %v", got)
	}
}

func TestRequestInvalid(t *testing.T) {
	c := newTestController(t)
	recs := records(1, 2)
	recs[2].SpecialKind = storage.SpecialLockdown
	recs[2].SpecialEndTime = now + 600

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"zero minutes", Request{Sets: []int{1}}, ErrInvalidMinutes},
		{"negative minutes", Request{Minutes: -5, Sets: []int{1}}, ErrInvalidMinutes},
		{"past end", Request{EndTime: now - 1, Sets: []int{1}}, ErrInvalidMinutes},
		{"no sets", Request{Minutes: 5}, ErrNoSets},
		{"unknown set", Request{Minutes: 5, Sets: []int{9}}, ErrNoSets},
		{"locked down", Request{Minutes: 5, Sets: []int{1, 2}}, ErrLockedDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Request(context.Background(), now, time.UTC, recs, tt.req, nil, "", daily)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if recs[1].SpecialKind != storage.SpecialNone {
				t.Error("a rejected request must not change set 1")
			}
		})
	}

	left, err := c.Remaining(context.Background(), now, time.UTC, daily)
	if err != nil || left != 2 {
		t.Errorf("rejections must not consume the allowance: %d, %v", left, err)
	}
}

func TestRequestOtherSetLockdownIgnored(t *testing.T) {
	c := newTestController(t)
	recs := records(1, 2)
	recs[2].SpecialKind = storage.SpecialLockdown
	recs[2].SpecialEndTime = now + 600

	if _, err := c.Request(context.Background(), now, time.UTC, recs, Request{Minutes: 5, Sets: []int{1}}, nil, "", Limit{}); err != nil {
		t.Fatalf("a lockdown on an unselected set should not matter: %v", err)
	}
}

func TestRequestPassword(t *testing.T) {
	c := newTestController(t)
	recs := records(1)
	gate := access.NewGate(access.Requirement{Mode: access.ModePassword, PasswordHash: access.Hash32("secret"), HasPassword: true})

	_, err := c.Request(context.Background(), now, time.UTC, recs, Request{Minutes: 5, Sets: []int{1}}, gate, "secreT", daily)
	if !errors.Is(err, access.ErrAccessDenied) {
		t.Fatalf("err = %v, want access denied", err)
	}
	if StateOf(*recs[1], now) != Idle {
		t.Fatal("denied request must not activate")
	}

	if _, err := c.Request(context.Background(), now, time.UTC, recs, Request{Minutes: 5, Sets: []int{1}}, gate, "secret", daily); err != nil {
		t.Fatalf("Request: %v", err)
	}
	left, _ := c.Remaining(context.Background(), now, time.UTC, daily)
	if left != 1 {
		t.Errorf("Remaining = %d, want 1", left)
	}
}

func TestRequestAccessCode(t *testing.T) {
	c := newTestController(t)
	recs := records(1)
	gate := access.NewGate(access.Requirement{Mode: access.ModeCode32})

	_, err := c.Request(context.Background(), now, time.UTC, recs, Request{Minutes: 5, Sets: []int{1}}, gate, "anything", Limit{})
	if !errors.Is(err, access.ErrNoChallenge) {
		t.Fatalf("err = %v, want no challenge", err)
	}

	code, err := c.Challenge(gate)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 32 || !c.Pending() {
		t.Fatalf("code = %q pending = %v", code, c.Pending())
	}

	if _, err := c.Request(context.Background(), now, time.UTC, recs, Request{Minutes: 5, Sets: []int{1}}, gate, code, Limit{}); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if c.Pending() {
		t.Error("flow should leave PendingAccess")
	}
}

func TestRequestLimit(t *testing.T) {
	c := newTestController(t)
	recs := records(1)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Request(ctx, now+int64(i), time.UTC, recs, Request{Minutes: 1, Sets: []int{1}}, nil, "", daily); err != nil {
			t.Fatalf("override %d: %v", i+1, err)
		}
	}
	if _, err := c.Request(ctx, now+10, time.UTC, recs, Request{Minutes: 1, Sets: []int{1}}, nil, "", daily); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("err = %v, want limit reached", err)
	}
	if left, _ := c.Remaining(ctx, now+10, time.UTC, daily); left != 0 {
		t.Errorf("Remaining = %d", left)
	}

	tomorrow := now + 86400
	if left, _ := c.Remaining(ctx, tomorrow, time.UTC, daily); left != 2 {
		t.Errorf("Remaining tomorrow = %d", left)
	}
	if _, err := c.Request(ctx, tomorrow, time.UTC, recs, Request{Minutes: 1, Sets: []int{1}}, nil, "", daily); err != nil {
		t.Fatalf("a new period should reset the allowance: %v", err)
	}
}

func TestRequestRepeatIsIdempotent(t *testing.T) {
	c := newTestController(t)
	recs := records(1)
	ctx := context.Background()
	req := Request{EndTime: now + 600, Sets: []int{1}}

	for i := 0; i < 3; i++ {
		if _, err := c.Request(ctx, now, time.UTC, recs, req, nil, "", daily); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if left, _ := c.Remaining(ctx, now, time.UTC, daily); left != 1 {
		t.Errorf("repeats must not consume the allowance: Remaining = %d", left)
	}
}

func TestCancel(t *testing.T) {
	c := newTestController(t)
	recs := records(1, 2, 3)
	if _, err := c.Request(context.Background(), now, time.UTC, recs, Request{Minutes: 5, Sets: []int{1, 2}}, nil, "", Limit{}); err != nil {
		t.Fatal(err)
	}
	recs[3].SpecialKind = storage.SpecialLockdown
	recs[3].SpecialEndTime = now + 60

	if got := c.Cancel(now, recs, []int{2}); !reflect.DeepEqual(got, []int{2}) {
		t.Errorf("Cancel = %v", got)
	}
	if got := c.Cancel(now, recs, nil); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Cancel all = %v", got)
	}
	if recs[3].SpecialKind != storage.SpecialLockdown {
		t.Error("cancelling overrides must not touch a lockdown")
	}
}

func TestLimitSpec(t *testing.T) {
	if LimitSpec(86400, time.Monday) != (LimitSpec(86400, time.Sunday)) {
		t.Error("daily ignores the week start")
	}
	if got := LimitSpec(604800, time.Sunday); got.WeekStart != time.Sunday {
		t.Errorf("weekly = %+v", got)
	}
	if got := LimitSpec(3600, time.Monday); got.LengthSecs != 3600 {
		t.Errorf("custom = %+v", got)
	}
}
