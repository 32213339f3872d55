package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Credentials reads and writes the persisted session keys on top of a
// KeyValueStore.
type Credentials struct {
	store KeyValueStore
}

// NewCredentials wraps store.
func NewCredentials(store KeyValueStore) *Credentials {
	return &Credentials{store: store}
}

// StoredTokens is the token material persisted between page loads.
type StoredTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

func (c *Credentials) SaveUser(ctx context.Context, user any) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return c.store.Set(ctx, KeyUser, string(data))
}

// LoadUser decodes the persisted user into dst and reports whether one was
// stored.
func (c *Credentials) LoadUser(ctx context.Context, dst any) (bool, error) {
	raw, ok, err := c.store.Get(ctx, KeyUser)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode stored user: %w", err)
	}
	return true, nil
}

// SaveTokens persists tokens. An empty refresh token or a zero expiry
// leaves the previously stored value in place.
func (c *Credentials) SaveTokens(ctx context.Context, tokens StoredTokens) error {
	if err := c.store.Set(ctx, KeyAccessToken, tokens.AccessToken); err != nil {
		return err
	}
	if tokens.RefreshToken != "" {
		if err := c.store.Set(ctx, KeyRefreshToken, tokens.RefreshToken); err != nil {
			return err
		}
	}
	if tokens.ExpiresIn > 0 {
		seconds := strconv.FormatFloat(tokens.ExpiresIn.Seconds(), 'f', -1, 64)
		if err := c.store.Set(ctx, KeyExpiresIn, seconds); err != nil {
			return err
		}
	}
	return nil
}

func (c *Credentials) LoadTokens(ctx context.Context) (StoredTokens, error) {
	var tokens StoredTokens
	var err error

	if tokens.AccessToken, _, err = c.store.Get(ctx, KeyAccessToken); err != nil {
		return StoredTokens{}, err
	}
	if tokens.RefreshToken, _, err = c.store.Get(ctx, KeyRefreshToken); err != nil {
		return StoredTokens{}, err
	}
	if tokens.ExpiresIn, _, err = c.ExpiresIn(ctx); err != nil {
		return StoredTokens{}, err
	}
	return tokens, nil
}

// ExpiresIn returns the last persisted token lifetime. A missing or
// unparsable value reads as absent.
func (c *Credentials) ExpiresIn(ctx context.Context) (time.Duration, bool, error) {
	raw, ok, err := c.store.Get(ctx, KeyExpiresIn)
	if err != nil || !ok {
		return 0, false, err
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 {
		return 0, false, nil
	}
	return time.Duration(seconds * float64(time.Second)), true, nil
}

// ClearSession removes the user and token keys. Every key is attempted even
// when an earlier removal fails.
func (c *Credentials) ClearSession(ctx context.Context) error {
	var errs []error
	for _, key := range sessionKeys {
		if err := c.store.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear wipes the whole store.
func (c *Credentials) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// SaveLoginAttempt persists the PKCE verifier and, when non-empty, the
// anti-CSRF state so they survive the redirect to the provider.
func (c *Credentials) SaveLoginAttempt(ctx context.Context, verifier, state string) error {
	if err := c.store.Set(ctx, KeyCodeVerifier, verifier); err != nil {
		return err
	}
	if state == "" {
		return nil
	}
	return c.store.Set(ctx, KeyOAuthState, state)
}

// SaveState overwrites the persisted state, used when the provider issues it.
func (c *Credentials) SaveState(ctx context.Context, state string) error {
	return c.store.Set(ctx, KeyOAuthState, state)
}

func (c *Credentials) LoginAttempt(ctx context.Context) (verifier, state string, err error) {
	if verifier, _, err = c.store.Get(ctx, KeyCodeVerifier); err != nil {
		return "", "", err
	}
	if state, _, err = c.store.Get(ctx, KeyOAuthState); err != nil {
		return "", "", err
	}
	return verifier, state, nil
}

// ClearLoginAttempt invalidates the verifier and state once consumed.
func (c *Credentials) ClearLoginAttempt(ctx context.Context) error {
	return errors.Join(
		c.store.Remove(ctx, KeyCodeVerifier),
		c.store.Remove(ctx, KeyOAuthState),
	)
}

func (c *Credentials) SessionExpired(ctx context.Context) (bool, error) {
	v, _, err := c.store.Get(ctx, KeySessionExpired)
	return v == "true", err
}

func (c *Credentials) SetSessionExpired(ctx context.Context) error {
	return c.store.Set(ctx, KeySessionExpired, "true")
}

func (c *Credentials) ClearSessionExpired(ctx context.Context) error {
	return c.store.Remove(ctx, KeySessionExpired)
}
