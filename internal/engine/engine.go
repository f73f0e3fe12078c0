// Package engine is the single accounting authority. It owns every usage
// record, evaluates pages, runs the lockdown and override flows, and
// persists state. All mutation happens on the goroutine running Run, or on
// the caller of Handle when no loop is running.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/goodtune/kblock/internal/access"
	"github.com/goodtune/kblock/internal/lockdown"
	"github.com/goodtune/kblock/internal/metrics"
	"github.com/goodtune/kblock/internal/options"
	"github.com/goodtune/kblock/internal/override"
	"github.com/goodtune/kblock/internal/policy"
	"github.com/goodtune/kblock/internal/schedule"
	"github.com/goodtune/kblock/internal/storage"
)

const (
	replayCacheSize  = 256
	noticeBufferSize = 64
	flushRetries     = 5
)

// Config holds the engine's timing settings.
type Config struct {
	TickInterval      time.Duration
	MaxTickGap        time.Duration
	PersistInterval   time.Duration
	PersistMaxBackoff time.Duration
	ReplayTTL         time.Duration
	Location          *time.Location
}

func (c *Config) setDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MaxTickGap <= 0 {
		c.MaxTickGap = 5 * time.Second
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = 5 * time.Second
	}
	if c.PersistMaxBackoff <= 0 {
		c.PersistMaxBackoff = time.Minute
	}
	if c.ReplayTTL <= 0 {
		c.ReplayTTL = time.Minute
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

type request struct {
	ctx  context.Context
	cmd  Command
	resp chan Response
}

// Engine is the accounting authority.
type Engine struct {
	cfg    Config
	store  storage.Store
	clock  clock.Clock
	logger zerolog.Logger

	compiler *options.Compiler
	chain    *policy.Chain
	lockdown *lockdown.Controller
	override *override.Controller
	sched    *schedule.Scheduler
	replay   *expirable.LRU[string, Response]

	accessGate   *access.Gate
	overrideGate *access.Gate

	raw     map[string]any
	opts    *options.Options
	records map[int]*storage.UsageRecord
	dirty   map[int]bool

	tabs       map[int]*tab
	focusedTab int
	exhausted  map[int]int64 // set -> period start already announced

	lastTick    time.Time
	carry       time.Duration
	nextPersist time.Time
	persistBO   *backoff.ExponentialBackOff

	requests chan request
	notices  chan Notice
	done     chan struct{}
	ready    atomic.Bool
}

// New creates an engine over store. A nil clock uses the wall clock.
func New(cfg Config, store storage.Store, clk clock.Clock, logger zerolog.Logger) (*Engine, error) {
	cfg.setDefaults()
	if clk == nil {
		clk = clock.New()
	}

	compiler, err := options.NewCompiler(options.DefaultCacheSize)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.PersistInterval
	bo.MaxInterval = cfg.PersistMaxBackoff
	bo.MaxElapsedTime = 0
	bo.Clock = clk

	e := &Engine{
		cfg:          cfg,
		store:        store,
		clock:        clk,
		logger:       logger.With().Str("component", "engine").Logger(),
		compiler:     compiler,
		chain:        policy.DefaultChain(),
		lockdown:     lockdown.New(logger),
		override:     override.New(store.Overrides(), logger),
		sched:        schedule.New(clk, logger),
		replay:       expirable.NewLRU[string, Response](replayCacheSize, nil, cfg.ReplayTTL),
		accessGate:   access.NewGate(access.Requirement{}),
		overrideGate: access.NewGate(access.Requirement{}),
		records:      make(map[int]*storage.UsageRecord),
		dirty:        make(map[int]bool),
		tabs:         make(map[int]*tab),
		exhausted:    make(map[int]int64),
		persistBO:    bo,
		requests:     make(chan request),
		notices:      make(chan Notice, noticeBufferSize),
		done:         make(chan struct{}),
	}
	return e, nil
}

// Ready reports whether Load has completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Notices delivers state changes the engine initiates.
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

// Options returns the current parsed options.
func (e *Engine) Options() *options.Options {
	return e.opts
}

// Load reads options and usage records from the store. Records for sets
// that no longer exist are deleted; missing ones are created.
func (e *Engine) Load(ctx context.Context) error {
	raw, err := e.store.Options().Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load options: %w", err)
	}
	e.applyOptions(raw)

	recs, err := e.store.Usage().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load usage records: %w", err)
	}
	e.records = make(map[int]*storage.UsageRecord, len(recs))
	for id, rec := range recs {
		rec := rec
		e.records[id] = &rec
	}
	if err := e.reconcileRecords(ctx); err != nil {
		return err
	}

	ec := e.context()
	e.expire(ec)
	e.armTimers(ec)
	e.lastTick = e.clock.Now()
	e.ready.Store(true)

	e.logger.Info().
		Int("sets", e.opts.NumSets).
		Int("records", len(e.records)).
		Int("config_errors", len(e.opts.Errors())).
		Msg("Engine state loaded")
	return nil
}

// Seed stores raw as the option map when the store holds none. It reports
// whether anything was written.
func (e *Engine) Seed(ctx context.Context, raw map[string]any) (bool, error) {
	current, err := e.store.Options().Load(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load options: %w", err)
	}
	if len(current) > 0 {
		return false, nil
	}
	if err := e.store.Options().Update(ctx, raw); err != nil {
		return false, fmt.Errorf("failed to seed options: %w", err)
	}
	return true, nil
}

func (e *Engine) applyOptions(raw map[string]any) {
	e.raw = raw
	e.opts = options.Parse(raw, e.compiler)
	e.accessGate.SetRequirement(e.opts.Access)
	e.overrideGate.SetRequirement(e.opts.OverrideAccess)

	for _, cerr := range e.opts.Errors() {
		e.logger.Warn().Err(cerr).Int("set", cerr.Set).Str("key", cerr.Key).Msg("Option value ignored")
	}
}

func (e *Engine) reconcileRecords(ctx context.Context) error {
	now := e.context().Unix()
	for id := range e.records {
		if e.opts.Set(id) != nil {
			continue
		}
		if err := e.store.Usage().Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to delete usage record for set %d: %w", id, err)
		}
		delete(e.records, id)
		delete(e.dirty, id)
		e.logger.Info().Int("set", id).Msg("Removed usage record for deleted set")
	}
	for _, set := range e.opts.Sets {
		if _, ok := e.records[set.ID]; !ok {
			rec := storage.NewUsageRecord(now)
			e.records[set.ID] = &rec
			e.dirty[set.ID] = true
		}
	}
	return nil
}

// context builds the EngineContext for the current instant.
func (e *Engine) context() policy.EngineContext {
	return policy.NewEngineContext(e.clock.Now(), e.cfg.Location, e.opts)
}

// Run drives ticks, timers and submitted commands until ctx is done, then
// flushes dirty records.
func (e *Engine) Run(ctx context.Context) error {
	if !e.Ready() {
		return errors.New("engine not loaded")
	}
	defer close(e.done)
	defer e.sched.Stop()

	ticker := e.clock.Ticker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.lastTick = e.clock.Now()
	e.nextPersist = e.lastTick.Add(e.cfg.PersistInterval)
	e.logger.Info().Dur("tick_interval", e.cfg.TickInterval).Msg("Engine started")

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := e.Flush(flushCtx)
			e.logger.Info().Msg("Engine stopped")
			return err
		case <-ticker.C:
			e.Tick(ctx)
		case req := <-e.requests:
			req.resp <- e.Handle(req.ctx, req.cmd)
		case f := <-e.sched.C():
			if e.sched.Claim(f) {
				e.onTimer(f)
			}
		}
	}
}

// Submit hands a command to the running loop and waits for its response.
func (e *Engine) Submit(ctx context.Context, cmd Command) (Response, error) {
	req := request{ctx: ctx, cmd: cmd, resp: make(chan Response, 1)}
	select {
	case e.requests <- req:
	case <-e.done:
		return Response{}, ErrStopped
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case resp := <-req.resp:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Flush writes every dirty record, retrying a bounded number of times.
func (e *Engine) Flush(ctx context.Context) error {
	if len(e.dirty) == 0 {
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	retry := backoff.WithContext(backoff.WithMaxRetries(bo, flushRetries), ctx)
	return backoff.Retry(func() error { return e.persist(ctx) }, retry)
}

// maybePersist writes dirty records when the persist schedule is due.
// Failures push the next attempt out on an exponential schedule.
func (e *Engine) maybePersist(ctx context.Context, force bool) {
	if len(e.dirty) == 0 {
		return
	}
	now := e.clock.Now()
	if !force && now.Before(e.nextPersist) {
		return
	}
	if err := e.persist(ctx); err != nil {
		wait := e.persistBO.NextBackOff()
		e.nextPersist = now.Add(wait)
		e.logger.Error().Err(err).Int("dirty", len(e.dirty)).Dur("retry_in", wait).Msg("Failed to persist usage records")
		return
	}
	e.persistBO.Reset()
	e.nextPersist = now.Add(e.cfg.PersistInterval)
}

func (e *Engine) persist(ctx context.Context) error {
	batch := make(map[int]storage.UsageRecord, len(e.dirty))
	for id := range e.dirty {
		if rec, ok := e.records[id]; ok {
			batch[id] = *rec
		}
	}
	if err := e.store.Usage().PutAll(ctx, batch); err != nil {
		metrics.PersistErrorsTotal.Inc()
		return err
	}
	for id, rec := range batch {
		if cur, ok := e.records[id]; ok && *cur == rec {
			delete(e.dirty, id)
		}
	}
	e.logger.Debug().Int("records", len(batch)).Msg("Usage records persisted")
	return nil
}

func (e *Engine) notify(n Notice) {
	n.Type = "notice"
	select {
	case e.notices <- n:
	default:
		e.logger.Warn().Str("event", n.Event).Msg("Notice dropped, no reader")
	}
}

func (e *Engine) markDirty(ids ...int) {
	for _, id := range ids {
		e.dirty[id] = true
	}
}

// snapshot returns a copy of the current records keyed by set.
func (e *Engine) snapshot() map[int]storage.UsageRecord {
	out := make(map[int]storage.UsageRecord, len(e.records))
	for id, rec := range e.records {
		out[id] = *rec
	}
	return out
}
