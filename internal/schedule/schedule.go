// Package schedule provides cancellable, re-armable expiry timers whose
// callbacks are delivered to a single owner goroutine instead of running
// concurrently with it.
package schedule

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Fired is delivered on C when an armed timer expires.
type Fired struct {
	Key string
	At  time.Time
	gen uint64
}

// Handle refers to one arming of a key.
type Handle struct {
	s     *Scheduler
	key   string
	gen   uint64
	at    time.Time
	timer *clock.Timer
}

// Key returns the scheduled key.
func (h *Handle) Key() string { return h.key }

// At returns the instant the handle fires.
func (h *Handle) At() time.Time { return h.at }

// Cancel disarms the handle if it is still the current arming of its key.
func (h *Handle) Cancel() bool {
	return h.s.cancel(h.key, h.gen)
}

// Scheduler arms timers by key. Re-arming a key replaces its previous timer;
// a timer that already fired but has not been claimed is then stale and
// Claim rejects it.
type Scheduler struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	gen     uint64

	c        chan Fired
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler driven by clk.
func New(clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock:    clk,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		handles:  make(map[string]*Handle),
		c:        make(chan Fired, 16),
		stopChan: make(chan struct{}),
	}
}

// C delivers expired timers. The receiver must Claim each one before acting.
func (s *Scheduler) C() <-chan Fired {
	return s.c
}

// ArmAt arms key to fire at the given instant. Arming a key again for the
// same instant returns the existing handle unchanged.
func (s *Scheduler) ArmAt(key string, at time.Time) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[key]; ok {
		if h.at.Equal(at) {
			return h
		}
		h.timer.Stop()
	}

	s.gen++
	h := &Handle{s: s, key: key, gen: s.gen, at: at}
	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	gen := h.gen
	h.timer = s.clock.AfterFunc(delay, func() { s.fire(key, gen, at) })
	s.handles[key] = h

	s.logger.Debug().
		Str("key", key).
		Time("at", at).
		Dur("delay", delay).
		Msg("Timer armed")
	return h
}

// Cancel disarms key. It reports whether anything was armed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	h, ok := s.handles[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.cancel(key, h.gen)
}

func (s *Scheduler) cancel(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[key]
	if !ok || h.gen != gen {
		return false
	}
	h.timer.Stop()
	delete(s.handles, key)

	s.logger.Debug().Str("key", key).Msg("Timer cancelled")
	return true
}

// Active returns when key fires, if it is armed.
func (s *Scheduler) Active(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[key]
	if !ok {
		return time.Time{}, false
	}
	return h.at, true
}

// Claim accepts a delivered event if its arming is still current and disarms
// the key. Events from cancelled or replaced armings return false.
func (s *Scheduler) Claim(f Fired) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[f.Key]
	if !ok || h.gen != f.gen {
		s.logger.Debug().Str("key", f.Key).Msg("Ignoring stale timer")
		return false
	}
	delete(s.handles, f.Key)
	return true
}

// Stop disarms every timer. Pending deliveries are abandoned.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		for key, h := range s.handles {
			h.timer.Stop()
			delete(s.handles, key)
		}
		s.mu.Unlock()
		close(s.stopChan)
	})
}

func (s *Scheduler) fire(key string, gen uint64, at time.Time) {
	select {
	case s.c <- Fired{Key: key, At: at, gen: gen}:
	case <-s.stopChan:
	}
}
