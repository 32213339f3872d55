package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgellow/authsession/internal/browser"
	"github.com/dgellow/authsession/internal/clock"
	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/idp"
	"github.com/dgellow/authsession/internal/storage"
	"github.com/dgellow/authsession/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockedController(t *testing.T, provider *testutil.MockProvider) *Controller {
	t.Helper()
	nav, err := browser.NewMemoryNavigator("https://app.example.com/")
	require.NoError(t, err)

	c, err := New(Options{
		Provider:  config.ProviderConfig{Provider: config.ProviderIdentidadV1},
		Store:     storage.NewMemoryStore(),
		Navigator: nav,
		Clock:     clock.NewFake(time.Unix(1_700_000_000, 0)),
		NewProvider: func(config.ProviderConfig, idp.Deps) (idp.Provider, error) {
			return provider, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestLoginSurfacesProviderError(t *testing.T) {
	provider := &testutil.MockProvider{}
	provider.On("LoginWithRedirect", mock.Anything).Return(errors.New("clientId is required"))

	c := newMockedController(t, provider)
	err := c.Login(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "clientId")
	provider.AssertExpectations(t)
}

func TestRestoreErrorLeavesUnauthenticated(t *testing.T) {
	provider := &testutil.MockProvider{}
	provider.On("RestoreSession", mock.Anything).Return(nil, errors.New("token exchange failed")).Once()

	c := newMockedController(t, provider)
	c.Start(context.Background())
	c.Start(context.Background())

	snap := c.Snapshot()
	assert.False(t, snap.IsLoading)
	assert.False(t, snap.IsAuthenticated)
	assert.Nil(t, snap.User)
	provider.AssertNumberOfCalls(t, "RestoreSession", 1)
	provider.AssertNotCalled(t, "RefreshSession", mock.Anything)
}

func TestLogoutPassesCurrentAccessToken(t *testing.T) {
	provider := &testutil.MockProvider{}
	provider.On("RestoreSession", mock.Anything).Return(testSession(), nil)
	provider.On("Logout", mock.Anything, "access-1").Return(nil).Once()

	c := newMockedController(t, provider)
	c.Start(context.Background())
	require.True(t, c.Snapshot().IsAuthenticated)

	c.Logout(context.Background(), false)

	provider.AssertExpectations(t)
	assert.False(t, c.Snapshot().IsAuthenticated)
	assert.Empty(t, c.Snapshot().AccessToken)
}
