package testutil

import (
	"context"
	"time"

	"github.com/dgellow/authsession/internal/idp"
	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of idp.Provider.
type MockProvider struct {
	mock.Mock
	Kind idp.Kind
}

func (m *MockProvider) Type() idp.Kind {
	if m.Kind == "" {
		return idp.KindIdentidadV1
	}
	return m.Kind
}

func (m *MockProvider) LoginWithRedirect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) RestoreSession(ctx context.Context) (*idp.SessionData, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.SessionData), args.Error(1)
}

func (m *MockProvider) RefreshSession(ctx context.Context) (*idp.TokenSet, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.TokenSet), args.Error(1)
}

func (m *MockProvider) Logout(ctx context.Context, accessToken string) error {
	args := m.Called(ctx, accessToken)
	return args.Error(0)
}

func (m *MockProvider) TokenExpiry(ctx context.Context) (time.Duration, bool) {
	args := m.Called(ctx)
	return args.Get(0).(time.Duration), args.Bool(1)
}

var _ idp.Provider = (*MockProvider)(nil)
