package idp

import (
	"context"
	"testing"

	"github.com/dgellow/authsession/internal/browser"
	"github.com/dgellow/authsession/internal/storage"
	"github.com/stretchr/testify/require"
)

const appURL = "https://app.example.com/"

type testEnv struct {
	store *storage.MemoryStore
	creds *storage.Credentials
	nav   *browser.MemoryNavigator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	nav, err := browser.NewMemoryNavigator(appURL)
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	return &testEnv{
		store: store,
		creds: storage.NewCredentials(store),
		nav:   nav,
	}
}

func (e *testEnv) deps() Deps {
	return Deps{Store: e.store, Navigator: e.nav}
}

// persistSession stores a session the way the controller would.
func (e *testEnv) persistSession(t *testing.T, session SessionData) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.creds.SaveUser(ctx, session.User))
	require.NoError(t, e.creds.SaveTokens(ctx, storage.StoredTokens{
		AccessToken:  session.Tokens.AccessToken,
		RefreshToken: session.Tokens.RefreshToken,
		ExpiresIn:    session.Tokens.ExpiresIn,
	}))
}

func (e *testEnv) loginAttempt(t *testing.T) (verifier, state string) {
	t.Helper()
	verifier, state, err := e.creds.LoginAttempt(context.Background())
	require.NoError(t, err)
	return verifier, state
}
