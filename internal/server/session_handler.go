package server

import (
	"context"
	"net/http"

	"github.com/dgellow/authsession/internal/idle"
	"github.com/dgellow/authsession/internal/idp"
	jsonwriter "github.com/dgellow/authsession/internal/json"
	"github.com/dgellow/authsession/internal/session"
)

// SessionSource is the part of the session controller the status endpoints
// read from.
type SessionSource interface {
	Snapshot() session.Snapshot
	IdleState() (idle.State, bool)
	Logout(ctx context.Context, sessionExpired bool)
}

// sessionView never carries tokens.
type sessionView struct {
	IsLoading               bool      `json:"isLoading"`
	IsAuthenticated         bool      `json:"isAuthenticated"`
	IsSessionExpired        bool      `json:"isSessionExpired"`
	User                    *idp.User `json:"user,omitempty"`
	RemainingSignOutSeconds *float64  `json:"remainingSignOutSeconds,omitempty"`
}

// SessionHandler serves the session snapshot as JSON.
type SessionHandler struct {
	source SessionSource
}

func NewSessionHandler(source SessionSource) *SessionHandler {
	return &SessionHandler{source: source}
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	snap := h.source.Snapshot()
	view := sessionView{
		IsLoading:        snap.IsLoading,
		IsAuthenticated:  snap.IsAuthenticated,
		IsSessionExpired: snap.IsSessionExpired,
		User:             snap.User,
	}
	if state, ok := h.source.IdleState(); ok {
		secs := state.Remaining.Seconds()
		view.RemainingSignOutSeconds = &secs
	}
	_ = jsonwriter.Write(w, view)
}

// LogoutHandler ends the session on POST.
type LogoutHandler struct {
	source SessionSource
}

func NewLogoutHandler(source SessionSource) *LogoutHandler {
	return &LogoutHandler{source: source}
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonwriter.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}
	if h.source.Snapshot().IsLoading {
		jsonwriter.WriteServiceUnavailable(w, "session is still loading")
		return
	}
	h.source.Logout(r.Context(), false)
	w.WriteHeader(http.StatusNoContent)
}
