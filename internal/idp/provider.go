package idp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/authsession/internal/browser"
	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/storage"
)

// Kind identifies a provider variant.
type Kind string

const (
	KindIdentidadV1 Kind = config.ProviderIdentidadV1
	KindIdentidadV2 Kind = config.ProviderIdentidadV2
	KindIAuth       Kind = config.ProviderIAuth
)

// ParseKind validates s against the supported providers.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindIdentidadV1, KindIdentidadV2, KindIAuth:
		return k, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// User is the normalized profile every provider maps onto. The JSON form is
// what gets persisted under the user key.
type User struct {
	ID             string `json:"id"`
	Identification string `json:"identification"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Company        string `json:"company,omitempty"`
	Type           string `json:"type,omitempty"`
}

// TokenSet is the token material returned by a provider.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	TokenType    string
	Realm        string
}

// SessionData is what a successful restore yields. Providers never persist
// it; the caller does.
type SessionData struct {
	User   User
	Tokens TokenSet
}

// Provider abstracts one identity provider's login protocol.
type Provider interface {
	// Type returns the provider identifier.
	Type() Kind

	// LoginWithRedirect prepares a login attempt and navigates away to the
	// provider. Configuration and crypto failures are returned before any
	// network call.
	LoginWithRedirect(ctx context.Context) error

	// RestoreSession returns the persisted session, or consumes an
	// authorization callback present in the current URL. It returns nil
	// when there is nothing to restore. The callback is consumed at most
	// once per provider instance.
	RestoreSession(ctx context.Context) (*SessionData, error)

	// RefreshSession obtains new tokens, or nil when refresh preconditions
	// are not met.
	RefreshSession(ctx context.Context) (*TokenSet, error)

	// Logout revokes accessToken where the provider supports it and removes
	// local credentials. Revocation is best effort.
	Logout(ctx context.Context, accessToken string) error

	// TokenExpiry returns the last persisted token lifetime.
	TokenExpiry(ctx context.Context) (time.Duration, bool)
}

// ExpiryFlagger is implemented by providers that persist a forced-logout
// flag, so a reload after an idle timeout does not silently sign back in.
type ExpiryFlagger interface {
	SessionExpired(ctx context.Context) bool
	SetSessionExpired(ctx context.Context) error
	ClearSessionExpired(ctx context.Context) error
}

// Deps are the ports a provider is built over.
type Deps struct {
	Store      storage.KeyValueStore
	Navigator  browser.Navigator
	HTTPClient *http.Client
}
