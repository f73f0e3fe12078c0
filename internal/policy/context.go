package policy

import (
	"time"

	"github.com/goodtune/kblock/internal/options"
)

// EngineContext is the snapshot every decision is made against: one instant
// with the configured clock offset applied, the location for local-time
// rules, and the parsed options.
type EngineContext struct {
	Now      time.Time
	Location *time.Location
	Options  *options.Options
}

// NewEngineContext applies the clock offset from opts to the wall time.
func NewEngineContext(wall time.Time, loc *time.Location, opts *options.Options) EngineContext {
	if loc == nil {
		loc = time.Local
	}
	if opts == nil {
		opts = options.Parse(nil, nil)
	}
	now := wall.Add(time.Duration(opts.ClockOffset) * time.Minute).In(loc)
	return EngineContext{Now: now, Location: loc, Options: opts}
}

// Unix returns the context instant in epoch seconds.
func (c EngineContext) Unix() int64 {
	return c.Now.Unix()
}

// MinuteOfDay returns minutes since local midnight.
func (c EngineContext) MinuteOfDay() int {
	return c.Now.Hour()*60 + c.Now.Minute()
}

// Weekday returns the local day of the week.
func (c EngineContext) Weekday() time.Weekday {
	return c.Now.Weekday()
}
