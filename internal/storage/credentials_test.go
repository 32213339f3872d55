package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
}

func TestCredentialsUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	creds := NewCredentials(store)

	var user testUser
	found, err := creds.LoadUser(ctx, &user)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, creds.SaveUser(ctx, testUser{ID: "42", FirstName: "Ana"}))
	assert.JSONEq(t, `{"id":"42","firstName":"Ana"}`, store.Snapshot()[KeyUser])

	found, err = creds.LoadUser(ctx, &user)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ana", user.FirstName)

	require.NoError(t, store.Set(ctx, KeyUser, "{not json"))
	_, err = creds.LoadUser(ctx, &user)
	assert.Error(t, err)
}

func TestCredentialsTokens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	creds := NewCredentials(store)

	require.NoError(t, creds.SaveTokens(ctx, StoredTokens{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresIn:    time.Hour,
	}))
	assert.Equal(t, "3600", store.Snapshot()[KeyExpiresIn])

	// Refresh responses without a refresh token keep the stored one.
	require.NoError(t, creds.SaveTokens(ctx, StoredTokens{AccessToken: "at-2"}))

	tokens, err := creds.LoadTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoredTokens{AccessToken: "at-2", RefreshToken: "rt-1", ExpiresIn: time.Hour}, tokens)
}

func TestCredentialsExpiresIn(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		stored string
		want   time.Duration
		wantOK bool
	}{
		{"seconds", "3600", time.Hour, true},
		{"exponent notation", "8.64e4", 24 * time.Hour, true},
		{"fractional", "1.5", 1500 * time.Millisecond, true},
		{"garbage", "soon", 0, false},
		{"zero", "0", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			require.NoError(t, store.Set(ctx, KeyExpiresIn, tt.stored))

			got, ok, err := NewCredentials(store).ExpiresIn(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialsClearSessionKeepsExpiredFlag(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	creds := NewCredentials(store)

	require.NoError(t, creds.SaveUser(ctx, testUser{ID: "1"}))
	require.NoError(t, creds.SaveTokens(ctx, StoredTokens{AccessToken: "at", RefreshToken: "rt", ExpiresIn: time.Minute}))
	require.NoError(t, creds.SetSessionExpired(ctx))

	require.NoError(t, creds.ClearSession(ctx))
	assert.Equal(t, map[string]string{KeySessionExpired: "true"}, store.Snapshot())

	expired, err := creds.SessionExpired(ctx)
	require.NoError(t, err)
	assert.True(t, expired)

	require.NoError(t, creds.ClearSessionExpired(ctx))
	expired, err = creds.SessionExpired(ctx)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestCredentialsLoginAttempt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	creds := NewCredentials(store)

	require.NoError(t, creds.SaveLoginAttempt(ctx, "verifier", ""))
	_, ok, _ := store.Get(ctx, KeyOAuthState)
	assert.False(t, ok)

	require.NoError(t, creds.SaveLoginAttempt(ctx, "verifier", "state"))
	require.NoError(t, creds.SaveState(ctx, "server-state"))

	verifier, state, err := creds.LoginAttempt(ctx)
	require.NoError(t, err)
	assert.Equal(t, "verifier", verifier)
	assert.Equal(t, "server-state", state)

	require.NoError(t, creds.ClearLoginAttempt(ctx))
	assert.Empty(t, store.Snapshot())
}

type failingStore struct {
	*MemoryStore
	failRemove map[string]bool
}

func (f *failingStore) Remove(ctx context.Context, key string) error {
	if f.failRemove[key] {
		return errors.New("remove failed: " + key)
	}
	return f.MemoryStore.Remove(ctx, key)
}

func TestCredentialsClearSessionAttemptsEveryKey(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore(), failRemove: map[string]bool{KeyUser: true}}
	creds := NewCredentials(store)

	require.NoError(t, creds.SaveUser(ctx, testUser{ID: "1"}))
	require.NoError(t, creds.SaveTokens(ctx, StoredTokens{AccessToken: "at", RefreshToken: "rt"}))

	err := creds.ClearSession(ctx)
	assert.ErrorContains(t, err, "remove failed: user")

	snapshot := store.Snapshot()
	assert.NotContains(t, snapshot, KeyAccessToken)
	assert.NotContains(t, snapshot, KeyRefreshToken)
}
