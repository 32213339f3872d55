package storage

import "context"

// KeyValueStore is the persistence medium for credentials. Implementations
// must be safe for concurrent use.
type KeyValueStore interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Clear removes every key in the store's namespace.
	Clear(ctx context.Context) error
}

// Pinger reports whether the medium is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is a KeyValueStore that holds external resources.
type Backend interface {
	KeyValueStore
	Pinger
	Close() error
}

// Persisted keys.
const (
	KeyUser           = "user"
	KeyAccessToken    = "accessToken"
	KeyRefreshToken   = "refreshToken"
	KeyExpiresIn      = "expiresIn"
	KeyCodeVerifier   = "pkce_code_verifier"
	KeyOAuthState     = "oauth_state"
	KeySessionExpired = "sessionExpired"
)

// sessionKeys are removed on logout. The expired flag deliberately survives.
var sessionKeys = []string{KeyUser, KeyAccessToken, KeyRefreshToken, KeyExpiresIn}

// namespacedKey returns "<namespace>:<key>".
func namespacedKey(namespace, key string) string {
	return namespace + ":" + key
}

