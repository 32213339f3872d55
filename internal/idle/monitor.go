// Package idle signs the user out after a period without qualifying
// activity.
package idle

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgellow/authsession/internal/browser"
	"github.com/dgellow/authsession/internal/clock"
	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/metrics"
)

// TickInterval is the countdown granularity.
const TickInterval = time.Second

// Config is the idle policy.
type Config struct {
	Timeout     time.Duration
	RedirectURL string

	// ExemptPaths never trigger the timeout redirect when the current path
	// contains one of them.
	ExemptPaths []string

	// Channels lists the activity kinds that restart the countdown.
	Channels []browser.ActivityKind

	// ScrollScope limits scroll resets to targets inside this element path.
	// Empty accepts any scroll.
	ScrollScope string
}

// FromConfig converts the file/env idle section.
func FromConfig(c config.IdleConfig) (Config, error) {
	cfg := Config{
		Timeout:     c.Timeout,
		RedirectURL: c.RedirectURL,
		ExemptPaths: c.CriticalPaths,
		ScrollScope: strings.Trim(c.ScrollScope, "/"),
	}
	for _, name := range c.ResetOn {
		kind, err := browser.ParseActivityKind(name)
		if err != nil {
			return Config{}, err
		}
		if !slices.Contains(cfg.Channels, kind) {
			cfg.Channels = append(cfg.Channels, kind)
		}
	}
	return cfg, nil
}

// State is the countdown as seen by a host.
type State struct {
	Deadline  time.Time
	Remaining time.Duration
}

// Monitor runs the idle countdown. It owns one expiry timer and one
// countdown timer; both are re-armed together on every qualifying activity.
type Monitor struct {
	cfg     Config
	clock   clock.Clock
	nav     browser.Navigator
	source  browser.ActivitySource
	metrics metrics.Recorder

	mu          sync.Mutex
	generation  uint64
	running     bool
	expired     bool
	started     time.Time
	remaining   time.Duration
	expiryTimer clock.Timer
	tickTimer   clock.Timer
	unsubscribe func()
	onExpired   func()
	listeners   map[int]func(time.Duration)
	nextID      int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithNavigator enables the timeout redirect.
func WithNavigator(nav browser.Navigator) Option {
	return func(m *Monitor) { m.nav = nav }
}

// WithActivitySource subscribes the monitor to src while it runs.
func WithActivitySource(src browser.ActivitySource) Option {
	return func(m *Monitor) { m.source = src }
}

// WithMetrics counts expirations.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Monitor) { m.metrics = r }
}

// New creates a stopped monitor.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive, got %s", cfg.Timeout)
	}
	m := &Monitor{
		cfg:       cfg,
		clock:     clock.Real(),
		metrics:   metrics.Nop(),
		remaining: cfg.Timeout,
		listeners: make(map[int]func(time.Duration)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// OnExpired sets the callback run when the countdown reaches zero. It runs
// before any redirect.
func (m *Monitor) OnExpired(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = fn
}

// Start (re)arms the countdown at the full timeout and subscribes to
// activity.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.source != nil && m.unsubscribe == nil {
		m.unsubscribe = m.source.Subscribe(m.Notify)
	}
	m.running = true
	m.expired = false
	m.armLocked()
	remaining := m.remaining
	m.mu.Unlock()

	log.LogDebugWithFields("idle", "Idle countdown started", map[string]any{
		"timeout": m.cfg.Timeout.String(),
	})
	m.publish(remaining)
}

// Reset restarts a running countdown. It does nothing when stopped or
// after expiry.
func (m *Monitor) Reset() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.armLocked()
	remaining := m.remaining
	m.mu.Unlock()

	m.publish(remaining)
}

// Notify feeds one activity signal into the monitor.
func (m *Monitor) Notify(a browser.Activity) {
	if !m.qualifies(a) {
		return
	}
	log.LogTraceWithFields("idle", "Activity", map[string]any{
		"kind":   a.Kind.String(),
		"target": a.Target,
	})
	m.Reset()
}

func (m *Monitor) qualifies(a browser.Activity) bool {
	if !slices.Contains(m.cfg.Channels, a.Kind) {
		return false
	}
	if a.Kind != browser.ActivityScroll || m.cfg.ScrollScope == "" {
		return true
	}
	target := strings.Trim(a.Target, "/")
	return target == m.cfg.ScrollScope || strings.HasPrefix(target, m.cfg.ScrollScope+"/")
}

// Tick recomputes the remaining time and returns it.
func (m *Monitor) Tick() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickLocked()
}

func (m *Monitor) tickLocked() time.Duration {
	if m.running {
		m.remaining = max(m.cfg.Timeout-m.clock.Since(m.started), 0)
	}
	return m.remaining
}

// Remaining returns the time left before expiry.
func (m *Monitor) Remaining() time.Duration {
	return m.Tick()
}

// State returns the deadline and remaining time. The deadline is zero
// unless the countdown is running.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := State{Remaining: m.tickLocked()}
	if m.running {
		s.Deadline = m.started.Add(m.cfg.Timeout)
	}
	return s
}

// Cancel stops both timers and drops the activity subscription.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.running = false
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Subscribe registers fn for countdown updates. The returned function is
// idempotent.
func (m *Monitor) Subscribe(fn func(remaining time.Duration)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Monitor) publish(remaining time.Duration) {
	m.mu.Lock()
	fns := make([]func(time.Duration), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(remaining)
	}
}

func (m *Monitor) stopLocked() {
	m.generation++
	clock.Stop(m.expiryTimer)
	clock.Stop(m.tickTimer)
	m.expiryTimer = nil
	m.tickTimer = nil
}

func (m *Monitor) armLocked() {
	m.stopLocked()
	gen := m.generation
	m.started = m.clock.Now()
	m.remaining = m.cfg.Timeout
	m.expiryTimer = m.clock.AfterFunc(m.cfg.Timeout, func() { m.expire(gen) })
	m.tickTimer = m.clock.AfterFunc(TickInterval, func() { m.countdown(gen) })
}

func (m *Monitor) countdown(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.running {
		m.mu.Unlock()
		return
	}
	remaining := m.tickLocked()
	if remaining > 0 {
		m.tickTimer = m.clock.AfterFunc(TickInterval, func() { m.countdown(gen) })
	}
	m.mu.Unlock()

	m.publish(remaining)
}

func (m *Monitor) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.running {
		m.mu.Unlock()
		return
	}
	m.stopLocked()
	m.running = false
	m.expired = true
	m.remaining = 0
	onExpired := m.onExpired
	m.mu.Unlock()

	log.LogInfoWithFields("idle", "Idle timeout reached", map[string]any{
		"timeout": m.cfg.Timeout.String(),
	})
	m.metrics.IdleExpired()
	m.publish(0)

	if onExpired != nil {
		onExpired()
	}
	m.redirect()
}

// redirect sends the user to the timeout page unless already there or on
// an exempt path.
func (m *Monitor) redirect() {
	if m.nav == nil || m.cfg.RedirectURL == "" {
		return
	}
	current := m.nav.CurrentURL()
	if strings.Contains(current.String(), m.cfg.RedirectURL) {
		return
	}
	for _, path := range m.cfg.ExemptPaths {
		if path != "" && strings.Contains(current.Path, path) {
			log.LogDebugWithFields("idle", "Timeout redirect skipped on exempt path", map[string]any{
				"path": current.Path,
			})
			return
		}
	}
	if err := m.nav.RedirectTo(m.cfg.RedirectURL); err != nil {
		log.LogErrorWithFields("idle", "Timeout redirect failed", map[string]any{
			"error": err.Error(),
		})
	}
}

// Expired reports whether the last countdown ran out.
func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}
