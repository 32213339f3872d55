package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dgellow/authsession/internal/browser"
	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/metrics"
	"github.com/dgellow/authsession/internal/server"
	"github.com/dgellow/authsession/internal/session"
	"github.com/dgellow/authsession/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const defaultStartURL = "http://localhost/"

// HostOptions configures the demo host around a session controller.
type HostOptions struct {
	// StartURL is the initial location. A provider callback URL completes
	// a pending login on Start.
	StartURL string

	// MetricsAddr enables the local status and metrics server.
	MetricsAddr string

	HTTPClient *http.Client
}

// Host plays the embedding application: it owns the credential store, the
// navigator and the activity feed, and drives one session controller.
type Host struct {
	config     config.Config
	store      storage.Backend
	nav        *browser.MemoryNavigator
	events     *browser.Events
	registry   *prometheus.Registry
	controller *session.Controller
	httpServer *server.HTTPServer
}

// NewHost builds every dependency of the controller. Nothing talks to the
// provider until Start.
func NewHost(ctx context.Context, cfg config.Config, opts HostOptions) (*Host, error) {
	log.LogInfoWithFields("host", "Building session host", map[string]any{
		"provider": cfg.Provider.Provider,
		"storage":  cfg.Storage.Backend,
		"idle":     cfg.Idle.Enabled,
	})

	startURL := opts.StartURL
	if startURL == "" {
		startURL = defaultStartURL
	}
	nav, err := browser.NewMemoryNavigator(startURL)
	if err != nil {
		return nil, fmt.Errorf("invalid start URL: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Storage, cfg.Provider.IsProduction)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	events := browser.NewEvents()

	controller, err := session.New(session.Options{
		Provider:   cfg.Provider,
		Idle:       cfg.Idle,
		Store:      store,
		Navigator:  nav,
		Activity:   events,
		HTTPClient: opts.HTTPClient,
		Metrics:    metrics.New(registry),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create session controller: %w", err)
	}

	h := &Host{
		config:     cfg,
		store:      store,
		nav:        nav,
		events:     events,
		registry:   registry,
		controller: controller,
	}
	if opts.MetricsAddr != "" {
		h.httpServer = server.NewHTTPServer(server.NewMux(controller, store, registry), opts.MetricsAddr)
	}
	return h, nil
}

func (h *Host) Controller() *session.Controller {
	return h.controller
}

func (h *Host) Navigator() *browser.MemoryNavigator {
	return h.nav
}

func (h *Host) Registry() *prometheus.Registry {
	return h.registry
}

// StatusAddr is the status server address, or "" when it is disabled.
func (h *Host) StatusAddr() string {
	if h.httpServer == nil {
		return ""
	}
	return h.httpServer.Addr()
}

// Start restores the session, consuming a callback in the start URL.
func (h *Host) Start(ctx context.Context) session.Snapshot {
	h.controller.Start(ctx)
	return h.controller.Snapshot()
}

// Login starts a login and returns the URL the user was sent to.
func (h *Host) Login(ctx context.Context) (string, error) {
	if err := h.controller.Login(ctx); err != nil {
		return "", err
	}
	return h.nav.LastRedirect(), nil
}

// HandleCommand applies one line of watch input. Activity lines use the
// DOM event names ("mousemove", "scroll app/main", "navigate /orders");
// "login", "logout" and "status" act on the session.
func (h *Host) HandleCommand(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "":
		return nil
	case "login":
		target, err := h.Login(ctx)
		if err != nil {
			return err
		}
		log.LogInfoWithFields("host", "Redirected to provider", map[string]any{"url": target})
		return nil
	case "logout":
		h.controller.Logout(ctx, false)
		return nil
	case "status":
		log.LogInfoWithFields("host", "Session status", snapshotFields(h.controller.Snapshot()))
		return nil
	}

	kind, err := browser.ParseActivityKind(name)
	if err != nil {
		return err
	}
	if kind == browser.ActivityNavigation {
		if arg == "" {
			return fmt.Errorf("navigate requires a path")
		}
		if err := h.nav.Visit(arg); err != nil {
			return err
		}
	}
	h.events.Emit(browser.Activity{Kind: kind, Target: arg})
	return nil
}

// Run starts the session and serves watch commands from input until it is
// exhausted, ctx ends or a signal arrives.
func (h *Host) Run(ctx context.Context, input io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes := &snapshotLogger{}
	unsubscribe := h.controller.Subscribe(func(s session.Snapshot) {
		changes.log("Session changed", s)
	})
	defer unsubscribe()

	errChan := make(chan error, 1)
	if h.httpServer != nil {
		go func() {
			if err := h.httpServer.Start(); err != nil {
				errChan <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	changes.log("Session started", h.Start(ctx))

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			if strings.TrimSpace(scanner.Text()) == "quit" {
				return
			}
			if err := h.HandleCommand(ctx, scanner.Text()); err != nil {
				log.LogWarnWithFields("host", "Command failed", map[string]any{
					"command": scanner.Text(),
					"error":   err.Error(),
				})
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("host", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	case <-inputDone:
		shutdownReason = "input closed"
	case <-ctx.Done():
		shutdownReason = "context cancelled"
	}

	log.LogInfoWithFields("host", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return h.Shutdown(shutdownCtx)
}

// Shutdown stops timers, the status server and the store.
func (h *Host) Shutdown(ctx context.Context) error {
	h.controller.Close()

	var errs []error
	if h.httpServer != nil {
		if err := h.httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping HTTP server: %w", err))
		}
	}
	if err := h.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	log.LogInfoWithFields("host", "Shutdown complete", nil)
	return nil
}

// snapshotLogger logs session changes at info. Updates where only the idle
// countdown moved are logged at debug, since they arrive every second.
type snapshotLogger struct {
	mu   sync.Mutex
	last *session.Snapshot
}

func (l *snapshotLogger) log(msg string, s session.Snapshot) {
	l.mu.Lock()
	countdownOnly := l.last != nil && sameSessionState(*l.last, s)
	l.last = &s
	l.mu.Unlock()

	if countdownOnly {
		log.LogDebugWithFields("host", "Idle countdown", map[string]any{
			"remaining_sign_out": s.RemainingSignOutTime.Round(time.Second).String(),
		})
		return
	}
	log.LogInfoWithFields("host", msg, snapshotFields(s))
}

func sameSessionState(a, b session.Snapshot) bool {
	return a.IsLoading == b.IsLoading &&
		a.IsAuthenticated == b.IsAuthenticated &&
		a.IsSessionExpired == b.IsSessionExpired &&
		a.AccessToken == b.AccessToken &&
		userID(a) == userID(b)
}

func userID(s session.Snapshot) string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

func snapshotFields(s session.Snapshot) map[string]any {
	fields := map[string]any{
		"loading":         s.IsLoading,
		"authenticated":   s.IsAuthenticated,
		"session_expired": s.IsSessionExpired,
	}
	if s.User != nil {
		fields["user_id"] = s.User.ID
		fields["user_name"] = strings.TrimSpace(s.User.FirstName + " " + s.User.LastName)
	}
	if s.RemainingSignOutTime > 0 {
		fields["remaining_sign_out"] = s.RemainingSignOutTime.Round(time.Second).String()
	}
	return fields
}
