package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	jsonwriter "github.com/dgellow/authsession/internal/json"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/session"
	"github.com/dgellow/authsession/internal/storage"
)

const (
	readHeaderTimeout = 5 * time.Second
	storePingTimeout  = 2 * time.Second
)

// HTTPServer runs the local status server of the demo host.
type HTTPServer struct {
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Addr returns the bound address once the server is listening, and the
// configured one before that. With port 0 only the former is dialable.
func (h *HTTPServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.server.Addr
}

// Start listens and blocks serving until Stop is called.
func (h *HTTPServer) Start() error {
	l, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.mu.Lock()
	h.listener = l
	h.mu.Unlock()

	log.LogInfoWithFields("http", "Status server listening", map[string]any{
		"addr": l.Addr().String(),
	})

	if err := h.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx ends.
func (h *HTTPServer) Stop(ctx context.Context) error {
	addr := h.Addr()
	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.LogInfoWithFields("http", "Status server stopped", map[string]any{
		"addr": addr,
	})
	return nil
}

// ReadinessSource reports whether the session controller finished restoring.
type ReadinessSource interface {
	Snapshot() session.Snapshot
}

type healthView struct {
	Status  string `json:"status"`
	Session string `json:"session"`
	Store   string `json:"store"`
}

// HealthHandler reports controller readiness and credential store
// reachability. An unreachable store answers 503; a session still being
// restored does not.
type HealthHandler struct {
	source ReadinessSource
	store  storage.Pinger
}

func NewHealthHandler(source ReadinessSource, store storage.Pinger) *HealthHandler {
	return &HealthHandler{source: source, store: store}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet, http.MethodHead)
		return
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), storePingTimeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			log.LogWarnWithFields("http", "Credential store unreachable", map[string]any{
				"error": err.Error(),
			})
			jsonwriter.WriteServiceUnavailable(w, "credential store unreachable")
			return
		}
	}

	view := healthView{Status: "ok", Session: "ready", Store: "ok"}
	if h.source != nil && h.source.Snapshot().IsLoading {
		view.Session = "restoring"
	}
	_ = jsonwriter.Write(w, view)
}
