// Package refresh keeps tokens fresh by re-running the provider's refresh
// call at half the token lifetime.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/authsession/internal/clock"
	"github.com/dgellow/authsession/internal/idp"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/metrics"
	"github.com/dgellow/authsession/internal/storage"
)

// MinInterval bounds the refresh cadence for very short-lived tokens.
const MinInterval = 10 * time.Second

// CancelFunc stops the timer armed by the Start call that returned it. It
// is idempotent and does nothing once a later Start has replaced that timer.
type CancelFunc func()

// Refresher is the part of idp.Provider the scheduler drives.
type Refresher interface {
	Type() idp.Kind
	RefreshSession(ctx context.Context) (*idp.TokenSet, error)
}

// IntervalFor returns the refresh period for a token lifetime.
func IntervalFor(expiresIn time.Duration) time.Duration {
	interval := expiresIn / 2
	if interval < MinInterval {
		return MinInterval
	}
	return interval
}

// Scheduler owns at most one live refresh timer.
type Scheduler struct {
	provider Refresher
	creds    *storage.Credentials
	clock    clock.Clock
	metrics  metrics.Recorder

	mu sync.Mutex
	// run identifies the current Start call; generation identifies the
	// armed timer. Callbacks carrying an older generation are ignored.
	run         uint64
	generation  uint64
	timer       clock.Timer
	interval    time.Duration
	onRefreshed func(idp.TokenSet)
	ctx         context.Context
	cancelCtx   context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics records every tick.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// NewScheduler creates a scheduler that persists refreshed tokens to store.
func NewScheduler(provider Refresher, store storage.KeyValueStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		provider: provider,
		creds:    storage.NewCredentials(store),
		clock:    clock.Real(),
		metrics:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start cancels any running timer and arms a new one for tokens. After each
// successful refresh the new tokens are persisted, the timer re-arms at the
// interval of the new lifetime and onRefreshed is called. A tick that yields
// nothing or fails keeps the current cadence.
func (s *Scheduler) Start(tokens idp.TokenSet, onRefreshed func(idp.TokenSet)) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.run++
	run := s.run
	s.ctx, s.cancelCtx = context.WithCancel(context.Background())
	s.onRefreshed = onRefreshed
	s.armLocked(IntervalFor(tokens.ExpiresIn))

	log.LogDebugWithFields("refresh", "Refresh scheduled", map[string]any{
		"provider": string(s.provider.Type()),
		"interval": s.interval.String(),
	})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.run == run {
			s.stopLocked()
		}
	}
}

// Stop cancels the running timer, if any, and any refresh in flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Active reports whether a timer is armed.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Interval returns the current cadence, or zero when stopped.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return 0
	}
	return s.interval
}

func (s *Scheduler) stopLocked() {
	s.generation++
	clock.Stop(s.timer)
	s.timer = nil
	s.interval = 0
	if s.cancelCtx != nil {
		s.cancelCtx()
		s.cancelCtx = nil
	}
}

func (s *Scheduler) armLocked(interval time.Duration) {
	s.generation++
	gen := s.generation
	clock.Stop(s.timer)
	s.interval = interval
	s.timer = s.clock.AfterFunc(interval, func() { s.tick(gen) })
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	provider := string(s.provider.Type())
	tokens, err := s.provider.RefreshSession(ctx)

	s.mu.Lock()
	if gen != s.generation {
		// Stopped or restarted while the call was in flight.
		s.mu.Unlock()
		log.LogDebugWithFields("refresh", "Discarding stale refresh result", map[string]any{"provider": provider})
		return
	}

	switch {
	case err != nil:
		s.metrics.RefreshCompleted(provider, metrics.OutcomeError)
		log.LogWarnWithFields("refresh", "Token refresh failed", map[string]any{
			"provider": provider,
			"error":    err.Error(),
		})
		s.armLocked(s.interval)
		s.mu.Unlock()
		return
	case tokens == nil:
		s.metrics.RefreshCompleted(provider, metrics.OutcomeSkipped)
		s.armLocked(s.interval)
		s.mu.Unlock()
		return
	}

	if err := s.creds.SaveTokens(ctx, storage.StoredTokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	}); err != nil {
		s.metrics.RefreshCompleted(provider, metrics.OutcomeError)
		log.LogErrorWithFields("refresh", "Failed to persist refreshed tokens", map[string]any{
			"provider": provider,
			"error":    err.Error(),
		})
		s.armLocked(s.interval)
		s.mu.Unlock()
		return
	}

	s.metrics.RefreshCompleted(provider, metrics.OutcomeSuccess)
	interval := s.interval
	if tokens.ExpiresIn > 0 {
		interval = IntervalFor(tokens.ExpiresIn)
	}
	s.armLocked(interval)
	onRefreshed := s.onRefreshed
	s.mu.Unlock()

	log.LogInfoWithFields("refresh", "Tokens refreshed", map[string]any{
		"provider": provider,
		"interval": interval.String(),
	})
	if onRefreshed != nil {
		onRefreshed(*tokens)
	}
}
