package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/authsession/internal/browser"
	"github.com/dgellow/authsession/internal/clock"
	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/idle"
	"github.com/dgellow/authsession/internal/idp"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/metrics"
	"github.com/dgellow/authsession/internal/refresh"
	"github.com/dgellow/authsession/internal/storage"
	"golang.org/x/sync/singleflight"
)

// Options configures a Controller.
type Options struct {
	Provider config.ProviderConfig
	Idle     config.IdleConfig

	Store     storage.KeyValueStore
	Navigator browser.Navigator

	// Activity feeds the idle monitor. Required when idle sign-out is
	// enabled.
	Activity browser.ActivitySource

	HTTPClient *http.Client
	Clock      clock.Clock
	Metrics    metrics.Recorder

	// NewProvider replaces idp.NewProvider.
	NewProvider func(config.ProviderConfig, idp.Deps) (idp.Provider, error)
}

// Controller owns the session state. Every mutation goes through mu; timer
// callbacks and network completions re-enter through it.
type Controller struct {
	provider  idp.Provider
	creds     *storage.Credentials
	scheduler *refresh.Scheduler
	idle      *idle.Monitor
	metrics   metrics.Recorder

	restoreGroup singleflight.Group
	restored     atomic.Bool

	mu            sync.Mutex
	snap          Snapshot
	listeners     map[int]func(Snapshot)
	nextID        int
	cancelRefresh refresh.CancelFunc
	stopCountdown func()
	closed        bool
}

// New validates the provider configuration and wires the controller. No
// I/O happens until Start.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if opts.Navigator == nil {
		return nil, fmt.Errorf("navigator is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.NewProvider == nil {
		opts.NewProvider = idp.NewProvider
	}

	provider, err := opts.NewProvider(opts.Provider, idp.Deps{
		Store:      opts.Store,
		Navigator:  opts.Navigator,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	c := &Controller{
		provider:  provider,
		creds:     storage.NewCredentials(opts.Store),
		metrics:   opts.Metrics,
		listeners: make(map[int]func(Snapshot)),
		snap:      Snapshot{IsLoading: true},
	}
	c.scheduler = refresh.NewScheduler(provider, opts.Store,
		refresh.WithClock(opts.Clock),
		refresh.WithMetrics(opts.Metrics),
	)

	if opts.Idle.Enabled {
		if opts.Activity == nil {
			return nil, fmt.Errorf("activity source is required when idle sign-out is enabled")
		}
		idleCfg, err := idle.FromConfig(opts.Idle)
		if err != nil {
			return nil, fmt.Errorf("idle config: %w", err)
		}
		c.idle, err = idle.New(idleCfg,
			idle.WithClock(opts.Clock),
			idle.WithNavigator(opts.Navigator),
			idle.WithActivitySource(opts.Activity),
			idle.WithMetrics(opts.Metrics),
		)
		if err != nil {
			return nil, err
		}
		c.idle.OnExpired(c.onIdleExpired)
		c.snap.RemainingSignOutTime = idleCfg.Timeout
	}

	if flagger, ok := provider.(idp.ExpiryFlagger); ok {
		c.snap.IsSessionExpired = flagger.SessionExpired(context.Background())
	}
	return c, nil
}

// Provider returns the adapter the controller drives.
func (c *Controller) Provider() idp.Provider {
	return c.provider
}

// Start restores the session once per controller. Concurrent callers wait
// for the same restore. Failures leave the session unauthenticated and are
// only logged.
func (c *Controller) Start(ctx context.Context) {
	_, _, _ = c.restoreGroup.Do("restore", func() (any, error) {
		if !c.restored.CompareAndSwap(false, true) {
			return nil, nil
		}
		c.startIdle()
		c.restore(ctx)
		return nil, nil
	})
}

func (c *Controller) startIdle() {
	if c.idle == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopCountdown = c.idle.Subscribe(func(remaining time.Duration) {
		c.update(func(s *Snapshot) { s.RemainingSignOutTime = remaining })
	})
	c.mu.Unlock()
	c.idle.Start()
}

func (c *Controller) restore(ctx context.Context) {
	kind := string(c.provider.Type())

	if flagger, ok := c.provider.(idp.ExpiryFlagger); ok && flagger.SessionExpired(ctx) {
		log.LogInfoWithFields("session", "Session expired flag set, skipping restore", map[string]any{
			"provider": kind,
		})
		c.metrics.RestoreCompleted(kind, metrics.OutcomeSkipped)
		c.update(func(s *Snapshot) {
			s.IsSessionExpired = true
			s.IsLoading = false
		})
		return
	}

	session, err := c.provider.RestoreSession(ctx)
	if err == nil && session != nil {
		err = c.persist(ctx, session)
	}
	if err != nil {
		log.LogWarnWithFields("session", "Session restore failed", map[string]any{
			"provider": kind,
			"error":    err.Error(),
		})
		c.metrics.RestoreCompleted(kind, metrics.OutcomeError)
		c.update(func(s *Snapshot) { s.IsLoading = false })
		return
	}
	if session == nil {
		c.metrics.RestoreCompleted(kind, metrics.OutcomeNone)
		c.update(func(s *Snapshot) { s.IsLoading = false })
		return
	}

	if flagger, ok := c.provider.(idp.ExpiryFlagger); ok {
		if err := flagger.ClearSessionExpired(ctx); err != nil {
			log.LogWarnWithFields("session", "Failed to clear session expired flag", map[string]any{
				"provider": kind,
				"error":    err.Error(),
			})
		}
	}

	user := session.User
	c.update(func(s *Snapshot) {
		s.User = &user
		s.AccessToken = session.Tokens.AccessToken
		s.IsAuthenticated = true
		s.IsSessionExpired = false
		s.IsLoading = false
	})
	c.metrics.RestoreCompleted(kind, metrics.OutcomeSuccess)
	c.metrics.SetAuthenticated(true)
	log.LogInfoWithFields("session", "Session restored", map[string]any{
		"provider": kind,
		"user_id":  user.ID,
	})

	expiresIn := session.Tokens.ExpiresIn
	if expiresIn <= 0 {
		expiresIn, _ = c.provider.TokenExpiry(ctx)
	}
	c.startRefresh(session.Tokens, expiresIn)
}

// persist writes a restored session. Re-persisting a fast-path session is a
// no-op in effect.
func (c *Controller) persist(ctx context.Context, session *idp.SessionData) error {
	if err := c.creds.SaveUser(ctx, session.User); err != nil {
		return fmt.Errorf("persisting user: %w", err)
	}
	if err := c.creds.SaveTokens(ctx, storage.StoredTokens{
		AccessToken:  session.Tokens.AccessToken,
		RefreshToken: session.Tokens.RefreshToken,
		ExpiresIn:    session.Tokens.ExpiresIn,
	}); err != nil {
		return fmt.Errorf("persisting tokens: %w", err)
	}
	return nil
}

func (c *Controller) startRefresh(tokens idp.TokenSet, expiresIn time.Duration) {
	if expiresIn <= 0 {
		log.LogDebugWithFields("session", "No token lifetime known, refresh disabled", map[string]any{
			"provider": string(c.provider.Type()),
		})
		return
	}
	tokens.ExpiresIn = expiresIn

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.snap.IsAuthenticated {
		return
	}
	c.cancelRefresh = c.scheduler.Start(tokens, c.onRefreshed)
}

func (c *Controller) onRefreshed(tokens idp.TokenSet) {
	c.update(func(s *Snapshot) {
		if s.IsAuthenticated {
			s.AccessToken = tokens.AccessToken
		}
	})
}

// Login clears any forced-logout flag and sends the user to the provider.
func (c *Controller) Login(ctx context.Context) error {
	kind := string(c.provider.Type())
	if flagger, ok := c.provider.(idp.ExpiryFlagger); ok {
		if err := flagger.ClearSessionExpired(ctx); err != nil {
			log.LogWarnWithFields("session", "Failed to clear session expired flag", map[string]any{
				"provider": kind,
				"error":    err.Error(),
			})
		}
	}
	c.update(func(s *Snapshot) { s.IsSessionExpired = false })

	c.metrics.LoginStarted(kind)
	log.LogInfoWithFields("session", "Starting login", map[string]any{"provider": kind})
	if err := c.provider.LoginWithRedirect(ctx); err != nil {
		log.LogErrorWithFields("session", "Login failed", map[string]any{
			"provider": kind,
			"error":    err.Error(),
		})
		return err
	}
	return nil
}

// Logout leaves the authenticated state. It never fails: revocation errors
// are logged and local cleanup always runs. With sessionExpired the
// forced-logout flag is persisted so a reload stays signed out.
func (c *Controller) Logout(ctx context.Context, sessionExpired bool) {
	kind := string(c.provider.Type())

	if sessionExpired {
		if flagger, ok := c.provider.(idp.ExpiryFlagger); ok {
			if err := flagger.SetSessionExpired(ctx); err != nil {
				log.LogWarnWithFields("session", "Failed to persist session expired flag", map[string]any{
					"provider": kind,
					"error":    err.Error(),
				})
			}
		}
		c.update(func(s *Snapshot) { s.IsSessionExpired = true })
	}

	c.mu.Lock()
	accessToken := c.snap.AccessToken
	cancelRefresh := c.cancelRefresh
	c.cancelRefresh = nil
	c.mu.Unlock()
	if cancelRefresh != nil {
		cancelRefresh()
	}

	if accessToken != "" {
		if err := c.provider.Logout(ctx, accessToken); err != nil {
			log.LogWarnWithFields("session", "Provider logout failed", map[string]any{
				"provider": kind,
				"error":    err.Error(),
			})
		}
	}
	if err := c.creds.ClearSession(ctx); err != nil {
		log.LogErrorWithFields("session", "Failed to clear stored session", map[string]any{
			"provider": kind,
			"error":    err.Error(),
		})
	}

	c.update(func(s *Snapshot) {
		s.User = nil
		s.AccessToken = ""
		s.IsAuthenticated = false
		s.IsLoading = false
	})
	c.metrics.LogoutCompleted(kind, sessionExpired)
	c.metrics.SetAuthenticated(false)
	log.LogInfoWithFields("session", "Logged out", map[string]any{
		"provider":        kind,
		"session_expired": sessionExpired,
	})
}

// MarkSessionExpired forces the session out after an external signal. An
// authenticated session is logged out; otherwise only the flag is recorded.
func (c *Controller) MarkSessionExpired(ctx context.Context) {
	c.mu.Lock()
	active := c.snap.IsAuthenticated && !c.snap.IsLoading
	c.mu.Unlock()

	if active {
		c.Logout(ctx, true)
		return
	}
	if flagger, ok := c.provider.(idp.ExpiryFlagger); ok {
		if err := flagger.SetSessionExpired(ctx); err != nil {
			log.LogWarnWithFields("session", "Failed to persist session expired flag", map[string]any{
				"error": err.Error(),
			})
		}
	}
	c.update(func(s *Snapshot) { s.IsSessionExpired = true })
}

func (c *Controller) onIdleExpired() {
	c.Logout(context.Background(), true)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// IdleState returns the idle countdown. ok is false when idle sign-out is
// disabled.
func (c *Controller) IdleState() (state idle.State, ok bool) {
	if c.idle == nil {
		return idle.State{}, false
	}
	return c.idle.State(), true
}

// Subscribe registers fn for every snapshot change. The returned function
// is idempotent.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// update applies fn under the lock and notifies listeners outside it.
func (c *Controller) update(fn func(*Snapshot)) {
	c.mu.Lock()
	before := c.snap.clone()
	fn(&c.snap)
	snap := c.snap.clone()
	if snapshotsEqual(before, snap) {
		c.mu.Unlock()
		return
	}
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, l := range c.listeners {
		fns = append(fns, l)
	}
	c.mu.Unlock()

	for _, l := range fns {
		l(snap)
	}
}

func snapshotsEqual(a, b Snapshot) bool {
	if (a.User == nil) != (b.User == nil) {
		return false
	}
	if a.User != nil && *a.User != *b.User {
		return false
	}
	a.User, b.User = nil, nil
	return a == b
}

// Close cancels the refresh and idle timers and drops every activity
// subscription. The controller is unusable afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	stopCountdown := c.stopCountdown
	c.stopCountdown = nil
	c.cancelRefresh = nil
	c.mu.Unlock()

	c.scheduler.Stop()
	if c.idle != nil {
		c.idle.Cancel()
	}
	if stopCountdown != nil {
		stopCountdown()
	}
	log.LogDebugWithFields("session", "Controller closed", nil)
}
