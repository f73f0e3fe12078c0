// Package lockdown forces block sets to block until a chosen time. Starting
// a lockdown is free; ending one early may require the access gate.
package lockdown

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/kblock/internal/access"
	"github.com/goodtune/kblock/internal/metrics"
	"github.com/goodtune/kblock/internal/storage"
)

var (
	// ErrInvalidDuration is returned for a lockdown that would end at or before now.
	ErrInvalidDuration = errors.New("lockdown must end in the future")

	// ErrNoSets is returned when no block set is selected.
	ErrNoSets = errors.New("no block sets selected")
)

// State is a set's lockdown state.
type State int

const (
	Idle State = iota
	// Scheduled is a validated request that has not been applied yet.
	Scheduled
	Active
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Active:
		return "active"
	default:
		return "idle"
	}
}

// Request asks for a lockdown. EndTime wins over Duration when both are set.
type Request struct {
	EndTime  int64
	Duration time.Duration
	Sets     []int
}

// Plan is a validated request, in the Scheduled state until committed.
type Plan struct {
	EndTime int64
	Sets    []int
}

// Controller applies lockdowns to usage records. It holds no state of its
// own; the records are the state.
type Controller struct {
	logger zerolog.Logger
}

// New creates a lockdown controller.
func New(logger zerolog.Logger) *Controller {
	return &Controller{logger: logger.With().Str("component", "lockdown").Logger()}
}

// StateOf returns the lockdown state of a record at now.
func StateOf(rec storage.UsageRecord, now int64) State {
	if rec.SpecialActive(storage.SpecialLockdown, now) {
		return Active
	}
	return Idle
}

// Prepare validates a request.
func (c *Controller) Prepare(now int64, req Request) (Plan, error) {
	end := req.EndTime
	if end == 0 {
		end = now + int64(req.Duration/time.Second)
	}
	if end <= now {
		return Plan{}, ErrInvalidDuration
	}
	if len(req.Sets) == 0 {
		return Plan{}, ErrNoSets
	}

	sets := append([]int(nil), req.Sets...)
	sort.Ints(sets)
	return Plan{EndTime: end, Sets: dedupe(sets)}, nil
}

// Commit applies a plan. A set already locked until later keeps the later
// end; any override on a selected set is replaced. It returns the end time
// applied to each set.
func (c *Controller) Commit(now int64, recs map[int]*storage.UsageRecord, plan Plan) (map[int]int64, error) {
	for _, id := range plan.Sets {
		if recs[id] == nil {
			return nil, fmt.Errorf("set %d: no usage record", id)
		}
	}

	ends := make(map[int]int64, len(plan.Sets))
	for _, id := range plan.Sets {
		rec := recs[id]
		end := plan.EndTime
		if rec.SpecialActive(storage.SpecialLockdown, now) && rec.SpecialEndTime > end {
			end = rec.SpecialEndTime
		}
		rec.SpecialKind = storage.SpecialLockdown
		rec.SpecialEndTime = end
		ends[id] = end

		metrics.LockdownTransitions.WithLabelValues(strconv.Itoa(id), "activated").Inc()
		c.logger.Info().
			Int("set", id).
			Time("end_time", time.Unix(end, 0)).
			Msg("Lockdown activated")
	}
	return ends, nil
}

// Activate validates and applies a request in one step.
func (c *Controller) Activate(now int64, recs map[int]*storage.UsageRecord, req Request) (map[int]int64, error) {
	plan, err := c.Prepare(now, req)
	if err != nil {
		return nil, err
	}
	return c.Commit(now, recs, plan)
}

// Cancel ends active lockdowns early on the given sets, or on every set when
// sets is empty. When gate is non-nil and demands a secret, a wrong secret
// changes nothing and returns access.ErrAccessDenied.
func (c *Controller) Cancel(now int64, recs map[int]*storage.UsageRecord, sets []int, gate *access.Gate, secret string) ([]int, error) {
	if gate != nil && gate.Required() {
		if err := gate.Check(secret); err != nil {
			metrics.AccessChecksTotal.WithLabelValues("lockdown", "denied").Inc()
			c.logger.Warn().Err(err).Msg("Lockdown cancel rejected")
			return nil, err
		}
		metrics.AccessChecksTotal.WithLabelValues("lockdown", "granted").Inc()
	}

	var cancelled []int
	for _, id := range selected(recs, sets) {
		rec := recs[id]
		if !rec.SpecialActive(storage.SpecialLockdown, now) {
			continue
		}
		rec.ClearSpecial()
		cancelled = append(cancelled, id)

		metrics.LockdownTransitions.WithLabelValues(strconv.Itoa(id), "cancelled").Inc()
		c.logger.Info().Int("set", id).Msg("Lockdown cancelled")
	}
	return cancelled, nil
}

// Expire clears lockdowns whose end time has passed and returns their sets.
func (c *Controller) Expire(now int64, recs map[int]*storage.UsageRecord) []int {
	var expired []int
	for _, id := range selected(recs, nil) {
		rec := recs[id]
		if rec.SpecialKind != storage.SpecialLockdown || rec.SpecialEndTime > now {
			continue
		}
		rec.ClearSpecial()
		expired = append(expired, id)

		metrics.LockdownTransitions.WithLabelValues(strconv.Itoa(id), "expired").Inc()
		c.logger.Info().Int("set", id).Msg("Lockdown ended")
	}
	return expired
}

// selected returns the requested set ids present in recs, or all ids in
// ascending order when none are requested.
func selected(recs map[int]*storage.UsageRecord, sets []int) []int {
	if len(sets) > 0 {
		var ids []int
		for _, id := range sets {
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

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
