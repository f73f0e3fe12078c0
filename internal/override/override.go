// Package override grants temporary, access-gated relief from blocking for
// selected sets, limited to a number of overrides per period.
package override

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/kblock/internal/access"
	"github.com/goodtune/kblock/internal/metrics"
	"github.com/goodtune/kblock/internal/storage"
	"github.com/goodtune/kblock/internal/usage"
)

var (
	// ErrInvalidMinutes is returned for an override that would not last.
	ErrInvalidMinutes = errors.New("override must last at least one minute")

	// ErrLockedDown is returned when a selected set is under lockdown.
	ErrLockedDown = errors.New("set is under lockdown")

	// ErrLimitReached is returned when the override allowance is used up.
	ErrLimitReached = errors.New("override limit reached")

	// ErrNoSets is returned when no eligible set is selected.
	ErrNoSets = errors.New("no block sets selected")
)

// State is the override flow's state.
type State int

const (
	Idle State = iota
	PendingAccess
	Active
)

func (s State) String() string {
	switch s {
	case PendingAccess:
		return "pending-access"
	case Active:
		return "active"
	default:
		return "idle"
	}
}

// Request asks for an override. EndTime wins over Minutes when both are set.
type Request struct {
	Minutes int
	EndTime int64
	Sets    []int
}

// Limit caps overrides per period. Num 0 means unlimited.
type Limit struct {
	Num    int
	Period usage.PeriodSpec
}

// LimitSpec maps an override limit period in seconds onto a period spec.
func LimitSpec(periodSecs int64, weekStart time.Weekday) usage.PeriodSpec {
	switch periodSecs {
	case 86400:
		return usage.Daily(0)
	case 7 * 86400:
		return usage.Weekly(weekStart, 0)
	default:
		return usage.Custom(periodSecs, 0, 0)
	}
}

// Controller runs the override flow. Like the engine that owns it, it is
// not safe for concurrent use.
type Controller struct {
	store   storage.OverrideStore
	logger  zerolog.Logger
	pending bool
}

// New creates an override controller counting overrides in store.
func New(store storage.OverrideStore, logger zerolog.Logger) *Controller {
	return &Controller{
		store:  store,
		logger: logger.With().Str("component", "override").Logger(),
	}
}

// StateOf returns the override state of a record at now.
func StateOf(rec storage.UsageRecord, now int64) State {
	if rec.SpecialActive(storage.SpecialOverride, now) {
		return Active
	}
	return Idle
}

// Pending reports whether an access code was issued and not yet used.
func (c *Controller) Pending() bool {
	return c.pending
}

// Challenge moves the flow to PendingAccess, issuing an access code when
// the gate uses one.
func (c *Controller) Challenge(gate *access.Gate) (string, error) {
	code, err := gate.Challenge()
	if err != nil {
		return "", fmt.Errorf("failed to create access code: %w", err)
	}
	c.pending = gate.Required()
	return code, nil
}

// Request validates and applies an override. Checks run in order: duration,
// selection, lockdown, access, allowance; a rejected request changes nothing
// and does not count against the allowance. It returns the end time.
func (c *Controller) Request(ctx context.Context, now int64, loc *time.Location, recs map[int]*storage.UsageRecord, req Request, gate *access.Gate, secret string, limit Limit) (int64, error) {
	end := req.EndTime
	if end == 0 {
		end = now + int64(req.Minutes)*60
	}
	if (req.EndTime == 0 && req.Minutes <= 0) || end <= now {
		return 0, c.reject("invalid", ErrInvalidMinutes)
	}

	sets := normalize(req.Sets)
	if len(sets) == 0 {
		return 0, c.reject("no-sets", ErrNoSets)
	}
	for _, id := range sets {
		rec := recs[id]
		if rec == nil {
			return 0, c.reject("no-sets", fmt.Errorf("set %d: %w", id, ErrNoSets))
		}
		if rec.SpecialActive(storage.SpecialLockdown, now) {
			return 0, c.reject("locked-down", fmt.Errorf("set %d: %w", id, ErrLockedDown))
		}
	}

	if alreadyActive(recs, sets, end, now) {
		c.logger.Debug().Ints("sets", sets).Msg("Override already active")
		return end, nil
	}

	if gate != nil && gate.Required() {
		c.pending = true
		if err := gate.Check(secret); err != nil {
			metrics.AccessChecksTotal.WithLabelValues("override", "denied").Inc()
			return 0, c.reject("access-denied", err)
		}
		metrics.AccessChecksTotal.WithLabelValues("override", "granted").Inc()
	}
	c.pending = false

	if limit.Num > 0 {
		start := usage.PeriodStart(now, limit.Period, loc)
		count, err := c.store.Consume(ctx, start, limit.Num)
		if errors.Is(err, storage.ErrLimitReached) {
			return 0, c.reject("limit-reached", ErrLimitReached)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to count override: %w", err)
		}
		c.logger.Debug().Int("count", count.Count).Int("limit", limit.Num).Msg("Override counted")
	}

	for _, id := range sets {
		rec := recs[id]
		rec.SpecialKind = storage.SpecialOverride
		rec.SpecialEndTime = end
		metrics.OverrideTransitions.WithLabelValues(strconv.Itoa(id), "activated").Inc()
	}
	c.logger.Info().
		Ints("sets", sets).
		Time("end_time", time.Unix(end, 0)).
		Msg("Override activated")
	return end, nil
}

// Remaining returns how many overrides are left in the current period, or
// -1 when unlimited.
func (c *Controller) Remaining(ctx context.Context, now int64, loc *time.Location, limit Limit) (int, error) {
	if limit.Num <= 0 {
		return -1, nil
	}
	count, err := c.store.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return limit.Num, nil
	}
	if err != nil {
		return 0, err
	}
	if count.PeriodStart != usage.PeriodStart(now, limit.Period, loc) {
		return limit.Num, nil
	}
	if left := limit.Num - count.Count; left > 0 {
		return left, nil
	}
	return 0, nil
}

// Cancel ends active overrides on the given sets, or on all sets when none
// are given. It never needs access.
func (c *Controller) Cancel(now int64, recs map[int]*storage.UsageRecord, sets []int) []int {
	var cancelled []int
	for _, id := range selected(recs, sets) {
		rec := recs[id]
		if !rec.SpecialActive(storage.SpecialOverride, now) {
			continue
		}
		rec.ClearSpecial()
		cancelled = append(cancelled, id)
		metrics.OverrideTransitions.WithLabelValues(strconv.Itoa(id), "cancelled").Inc()
	}
	if len(cancelled) > 0 {
		c.logger.Info().Ints("sets", cancelled).Msg("Override cancelled")
	}
	return cancelled
}

// Expire clears overrides whose end time has passed and returns their sets.
func (c *Controller) Expire(now int64, recs map[int]*storage.UsageRecord) []int {
	var expired []int
	for _, id := range selected(recs, nil) {
		rec := recs[id]
		if rec.SpecialKind != storage.SpecialOverride || rec.SpecialEndTime > now {
			continue
		}
		rec.ClearSpecial()
		expired = append(expired, id)
		metrics.OverrideTransitions.WithLabelValues(strconv.Itoa(id), "expired").Inc()
	}
	if len(expired) > 0 {
		c.logger.Info().Ints("sets", expired).Msg("Override ended")
	}
	return expired
}

func (c *Controller) reject(reason string, err error) error {
	metrics.OverrideRejections.WithLabelValues(reason).Inc()
	c.logger.Warn().Err(err).Str("reason", reason).Msg("Override rejected")
	return err
}

func alreadyActive(recs map[int]*storage.UsageRecord, sets []int, end, now int64) bool {
	for _, id := range sets {
		rec := recs[id]
		if !rec.SpecialActive(storage.SpecialOverride, now) || rec.SpecialEndTime != end {
			return false
		}
	}
	return true
}

func normalize(sets []int) []int {
	out := append([]int(nil), sets...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[i-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

func selected(recs map[int]*storage.UsageRecord, sets []int) []int {
	if len(sets) > 0 {
		var ids []int
		for _, id := range normalize(sets) {
			if recs[id] != nil {
				ids = append(ids, id)
			}
		}
		return ids
	}
	ids := make([]int, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
