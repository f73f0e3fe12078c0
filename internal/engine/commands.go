package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/goodtune/kblock/internal/access"
	"github.com/goodtune/kblock/internal/lockdown"
	"github.com/goodtune/kblock/internal/metrics"
	"github.com/goodtune/kblock/internal/options"
	"github.com/goodtune/kblock/internal/override"
	"github.com/goodtune/kblock/internal/policy"
	"github.com/goodtune/kblock/internal/usage"
)

// LockdownResult answers a lockdown command.
type LockdownResult struct {
	Ends      map[int]int64 `json:"ends,omitempty"`
	Cancelled []int         `json:"cancelled,omitempty"`
}

// OverrideResult answers an override command.
type OverrideResult struct {
	EndTime   int64 `json:"endTime,omitempty"`
	Sets      []int `json:"sets,omitempty"`
	Cancelled []int `json:"cancelled,omitempty"`
	Remaining int   `json:"remaining"` // -1 when unlimited
}

// AccessCodeResult answers an access-code command.
type AccessCodeResult struct {
	Flow     string `json:"flow"`
	Mode     string `json:"mode"`
	Required bool   `json:"required"`
	Code     string `json:"code,omitempty"`
}

// UnlockResult answers a password or delayed command.
type UnlockResult struct {
	URL string `json:"url"`
	Set int    `json:"set"`
}

// Handle executes one command synchronously. A command carrying an id seen
// within the replay window gets the original response without re-running.
func (e *Engine) Handle(ctx context.Context, cmd Command) Response {
	if cmd.ID != "" {
		if resp, ok := e.replay.Get(cmd.ID); ok {
			e.logger.Debug().Str("id", cmd.ID).Str("type", cmd.Type).Msg("Replaying command response")
			return resp
		}
	}

	data, err := e.dispatch(ctx, cmd)
	resp := Response{ID: cmd.ID, Type: cmd.Type, OK: err == nil, Data: data}
	typ, result := cmd.Type, "ok"
	if err != nil {
		resp.Data = nil
		resp.Code = codeFor(err)
		resp.Error = err.Error()
		result = resp.Code
		if errors.Is(err, ErrUnknownCommand) {
			typ = "unknown"
		}
		e.logger.Warn().Err(err).Str("type", cmd.Type).Str("code", resp.Code).Msg("Command rejected")
	}
	metrics.CommandsTotal.WithLabelValues(typ, result).Inc()

	if cmd.ID != "" {
		e.replay.Add(cmd.ID, resp)
	}
	return resp
}

func (e *Engine) dispatch(ctx context.Context, cmd Command) (any, error) {
	ec := e.context()

	switch cmd.Type {
	case CmdLoaded, CmdNavigate:
		return e.navigate(ec, cmd)
	case CmdFocus:
		e.focus(cmd)
		return nil, nil
	case CmdClose:
		e.closeTab(cmd)
		return nil, nil
	case CmdCheck:
		return e.check(ec, cmd)
	case CmdBlockedInfo:
		return e.blockedInfo(ec, cmd)
	case CmdAccessCode:
		return e.accessCode(cmd)
	case CmdStats:
		return e.stats(ec), nil
	case CmdPassword, CmdDelayed:
		return e.unlock(ec, cmd)
	case CmdReload:
		return nil, e.reload(ctx)
	case CmdSetOptions:
		return e.setOptions(ctx, cmd)
	case CmdAddSites:
		return e.addSites(ctx, cmd)
	}

	var (
		data any
		err  error
	)
	switch cmd.Type {
	case CmdRestart:
		data, err = e.restart(ec, cmd)
	case CmdLockdown:
		data, err = e.lockdownCmd(ec, cmd)
	case CmdOverride:
		data, err = e.overrideCmd(ctx, ec, cmd)
	case CmdResetRollover:
		data, err = e.resetRollover(cmd)
	case CmdDiscardTime:
		data, err = e.discardTime(ec, cmd)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	if err != nil {
		return nil, err
	}

	e.armTimers(ec)
	e.refreshTabs(ec)
	e.maybePersist(ctx, true)
	return data, nil
}

// targets resolves a command's set selection. An empty selection means
// every set when all is true.
func (e *Engine) targets(cmd Command, all bool) ([]int, error) {
	ids := cmd.setIDs()
	for _, id := range ids {
		if e.opts.Set(id) == nil {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSet, id)
		}
	}
	if len(ids) == 0 && all {
		for _, set := range e.opts.Sets {
			ids = append(ids, set.ID)
		}
	}
	return ids, nil
}

func (e *Engine) restart(ec policy.EngineContext, cmd Command) ([]SetStats, error) {
	ids, err := e.targets(cmd, true)
	if err != nil {
		return nil, err
	}
	now := ec.Unix()
	for _, id := range ids {
		rec := e.records[id]
		if rec == nil {
			continue
		}
		rec.Restart(now, cmd.KeepStart)
		delete(e.exhausted, id)
		e.markDirty(id)
	}
	e.logger.Info().Ints("sets", ids).Bool("keep_start", cmd.KeepStart).Msg("Usage restarted")
	return e.statsFor(ec, ids), nil
}

func (e *Engine) lockdownCmd(ec policy.EngineContext, cmd Command) (*LockdownResult, error) {
	now := ec.Unix()
	ids, err := e.targets(cmd, false)
	if err != nil {
		return nil, err
	}

	if cmd.Cancel {
		var gate *access.Gate
		if e.opts.LockdownAccess {
			gate = e.accessGate
		}
		cancelled, err := e.lockdown.Cancel(now, e.records, ids, gate, cmd.Secret)
		if err != nil {
			return nil, err
		}
		e.markDirty(cancelled...)
		return &LockdownResult{Cancelled: cancelled}, nil
	}

	if len(ids) == 0 {
		ids = e.opts.LockdownSets
	}
	req := lockdown.Request{Sets: ids}
	switch {
	case cmd.EndTime != nil:
		req.EndTime = *cmd.EndTime
	case cmd.Mins != 0:
		req.Duration = time.Duration(cmd.Mins) * time.Minute
	default:
		req.Duration = time.Duration(e.opts.LockdownMins) * time.Minute
	}

	ends, err := e.lockdown.Activate(now, e.records, req)
	if err != nil {
		return nil, err
	}
	for id := range ends {
		e.markDirty(id)
	}
	return &LockdownResult{Ends: ends}, nil
}

func (e *Engine) overrideCmd(ctx context.Context, ec policy.EngineContext, cmd Command) (*OverrideResult, error) {
	now := ec.Unix()
	ids, err := e.targets(cmd, false)
	if err != nil {
		return nil, err
	}
	limit := override.Limit{
		Num:    e.opts.OverrideLimitNum,
		Period: override.LimitSpec(e.opts.OverrideLimitPeriod, e.opts.WeekStart),
	}

	if cmd.Cancel || (cmd.EndTime != nil && *cmd.EndTime == 0) {
		cancelled := e.override.Cancel(now, e.records, ids)
		e.markDirty(cancelled...)
		remaining, err := e.override.Remaining(ctx, now, ec.Location, limit)
		if err != nil {
			return nil, err
		}
		return &OverrideResult{Cancelled: cancelled, Remaining: remaining}, nil
	}

	if len(ids) == 0 {
		for _, set := range e.opts.Sets {
			ids = append(ids, set.ID)
		}
	}
	var allowed []int
	for _, id := range ids {
		if e.opts.Set(id).AllowOverride {
			allowed = append(allowed, id)
		}
	}

	req := override.Request{Minutes: cmd.Mins, Sets: allowed}
	if cmd.EndTime != nil {
		req.EndTime = *cmd.EndTime
	} else if req.Minutes == 0 {
		req.Minutes = e.opts.OverrideMins
	}

	end, err := e.override.Request(ctx, now, ec.Location, e.records, req, e.overrideGate, cmd.Secret, limit)
	if err != nil {
		return nil, err
	}
	e.markDirty(allowed...)
	remaining, err := e.override.Remaining(ctx, now, ec.Location, limit)
	if err != nil {
		return nil, err
	}
	return &OverrideResult{EndTime: end, Sets: allowed, Remaining: remaining}, nil
}

func (e *Engine) resetRollover(cmd Command) ([]int, error) {
	ids, err := e.targets(cmd, true)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if rec := e.records[id]; rec != nil && rec.RolloverSecs != 0 {
			*rec = usage.ResetRollover(*rec)
			e.markDirty(id)
		}
	}
	e.logger.Info().Ints("sets", ids).Msg("Rollover time reset")
	return ids, nil
}

// discardTime locks each selected set with a quota until its next period starts.
func (e *Engine) discardTime(ec policy.EngineContext, cmd Command) (*LockdownResult, error) {
	ids, err := e.targets(cmd, true)
	if err != nil {
		return nil, err
	}
	now := ec.Unix()
	res := &LockdownResult{Ends: make(map[int]int64)}
	for _, id := range ids {
		set := e.opts.Set(id)
		if set.Disabled || !set.HasQuota() {
			continue
		}
		plan := lockdown.Plan{EndTime: usage.NextPeriodStart(now, set.Quota.Period, ec.Location), Sets: []int{id}}
		ends, err := e.lockdown.Commit(now, e.records, plan)
		if err != nil {
			return nil, err
		}
		res.Ends[id] = ends[id]
		e.markDirty(id)
	}
	return res, nil
}

func (e *Engine) addSites(ctx context.Context, cmd Command) (map[string]any, error) {
	id := int(cmd.Set)
	if e.opts.Set(id) == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSet, id)
	}
	if strings.TrimSpace(cmd.Sites) == "" {
		return nil, fmt.Errorf("%w: no sites given", ErrInvalidCommand)
	}

	key := options.SetKey("sites", id)
	merged := options.MergeSites(cast.ToString(e.raw[key]), cmd.Sites)
	if err := e.store.Options().Update(ctx, map[string]any{key: merged}); err != nil {
		return nil, fmt.Errorf("failed to store sites: %w", err)
	}
	if err := e.reload(ctx); err != nil {
		return nil, err
	}
	e.logger.Info().Int("set", id).Str("sites", cmd.Sites).Msg("Sites added")
	return map[string]any{"set": id, "sites": merged}, nil
}

func (e *Engine) setOptions(ctx context.Context, cmd Command) (map[string]any, error) {
	if len(cmd.Options) == 0 {
		return nil, fmt.Errorf("%w: no options given", ErrInvalidCommand)
	}
	if err := e.store.Options().Update(ctx, cmd.Options); err != nil {
		return nil, fmt.Errorf("failed to store options: %w", err)
	}
	if err := e.reload(ctx); err != nil {
		return nil, err
	}
	var problems []string
	for _, cerr := range e.opts.Errors() {
		problems = append(problems, cerr.Error())
	}
	return map[string]any{"numSets": e.opts.NumSets, "errors": problems}, nil
}

// reload re-reads the option map, reconciles records with the new set count
// and tells the extension to re-evaluate its tabs.
func (e *Engine) reload(ctx context.Context) error {
	raw, err := e.store.Options().Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load options: %w", err)
	}
	e.applyOptions(raw)
	if err := e.reconcileRecords(ctx); err != nil {
		return err
	}

	ec := e.context()
	e.armTimers(ec)
	e.refreshTabs(ec)
	e.maybePersist(ctx, true)
	e.notify(Notice{Event: NoticeReload})
	e.logger.Info().Int("sets", e.opts.NumSets).Int("cached_patterns", e.compiler.Len()).Msg("Options reloaded")
	return nil
}

// unlock grants a tab access to a blocked host for one set, after the
// options password (password page) or the delay (delayed page).
func (e *Engine) unlock(ec policy.EngineContext, cmd Command) (*UnlockResult, error) {
	set := e.opts.Set(int(cmd.BlockedSet))
	if set == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSet, cmd.BlockedSet)
	}
	if cmd.BlockedURL == "" {
		return nil, fmt.Errorf("%w: no blocked URL", ErrInvalidCommand)
	}
	t := e.tabs[cmd.TabID]

	switch cmd.Type {
	case CmdPassword:
		if set.BlockURL != options.BlockPagePassword {
			return nil, fmt.Errorf("%w: set %d does not use the password page", ErrInvalidCommand, set.ID)
		}
		if err := e.checkPagePassword(cmd.Secret); err != nil {
			metrics.AccessChecksTotal.WithLabelValues("password", "denied").Inc()
			return nil, err
		}
		metrics.AccessChecksTotal.WithLabelValues("password", "granted").Inc()
	case CmdDelayed:
		if set.BlockURL != options.BlockPageDelayed {
			return nil, fmt.Errorf("%w: set %d does not use the delayed page", ErrInvalidCommand, set.ID)
		}
		if t == nil || t.blocked == nil || t.blocked.SetID != set.ID {
			return nil, fmt.Errorf("%w: tab %d is not blocked by set %d", ErrInvalidCommand, cmd.TabID, set.ID)
		}
		if waited := ec.Unix() - t.blockedAt; waited < int64(set.DelaySecs) {
			return nil, fmt.Errorf("%w: %ds left", ErrNotReady, int64(set.DelaySecs)-waited)
		}
	}

	if t == nil {
		t = &tab{id: cmd.TabID}
		e.tabs[cmd.TabID] = t
		metrics.TrackedTabs.Set(float64(len(e.tabs)))
	}
	host := policy.Host(cmd.BlockedURL)
	if host != t.host || t.grants == nil {
		t.grants = make(map[int]bool)
		t.host = host
	}
	t.grants[set.ID] = true

	e.logger.Info().Int("tab", t.id).Int("set", set.ID).Str("host", host).Str("via", cmd.Type).Msg("Page unlocked")
	return &UnlockResult{URL: cmd.BlockedURL, Set: set.ID}, nil
}

// checkPagePassword verifies the secret typed on the password block page.
// Access-code modes of the access gate apply; otherwise the options password
// must be set and match.
func (e *Engine) checkPagePassword(secret string) error {
	if e.accessGate.Requirement().Mode.CodeLength() > 0 {
		return e.accessGate.Check(secret)
	}
	if !e.opts.HasPassword {
		return fmt.Errorf("%w: no password is set", access.ErrAccessDenied)
	}
	if !access.Verify(secret, e.opts.PasswordHash) {
		return access.ErrAccessDenied
	}
	return nil
}

func (e *Engine) blockedInfo(ec policy.EngineContext, cmd Command) (*BlockInfo, error) {
	if t := e.tabs[cmd.TabID]; t != nil && t.blocked != nil {
		return e.blockInfo(ec, t.page.URL, *t.blocked), nil
	}
	if cmd.BlockedURL == "" {
		return nil, fmt.Errorf("%w: tab %d is not blocked", ErrInvalidCommand, cmd.TabID)
	}

	_, ds := e.evaluate(ec, policy.Page{URL: cmd.BlockedURL}, nil)
	for _, d := range ds {
		if d.Blocked() && (cmd.BlockedSet == 0 || d.SetID == int(cmd.BlockedSet)) {
			return e.blockInfo(ec, cmd.BlockedURL, d), nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not blocked", ErrInvalidCommand, cmd.BlockedURL)
}

func (e *Engine) accessCode(cmd Command) (*AccessCodeResult, error) {
	res := &AccessCodeResult{Flow: cmd.Flow}
	var (
		code string
		err  error
	)
	switch cmd.Flow {
	case "override":
		res.Mode = e.overrideGate.Requirement().Mode.String()
		res.Required = e.overrideGate.Required()
		code, err = e.override.Challenge(e.overrideGate)
	case "", "lockdown", "options", "password":
		res.Mode = e.accessGate.Requirement().Mode.String()
		res.Required = e.accessGate.Required()
		code, err = e.accessGate.Challenge()
	default:
		return nil, fmt.Errorf("%w: unknown flow %q", ErrInvalidCommand, cmd.Flow)
	}
	if err != nil {
		return nil, err
	}
	res.Code = code
	return res, nil
}
