// Package session drives the session lifecycle: restore on start, refresh
// while authenticated, idle sign-out, login and logout.
package session

import (
	"time"

	"github.com/dgellow/authsession/internal/idp"
)

// Snapshot is the host-facing view of the session.
type Snapshot struct {
	IsLoading            bool
	IsAuthenticated      bool
	User                 *idp.User
	AccessToken          string
	IsSessionExpired     bool
	RemainingSignOutTime time.Duration
}

func (s Snapshot) clone() Snapshot {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
