package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/oauth"
	"github.com/dgellow/authsession/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("iauth-test-key"))
	require.NoError(t, err)
	return signed
}

type fakeIAuthAPI struct {
	calls    atomic.Int32
	idToken  string
	verifier atomic.Value
}

func newFakeIAuthAPI(t *testing.T, idToken string) (*fakeIAuthAPI, *httptest.Server) {
	f := &fakeIAuthAPI{idToken: idToken}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/user-accounts/authentication-token", r.URL.Path)
		assert.Equal(t, "UserAuthenticationToken", r.Header.Get("X-Action"))
		assert.Equal(t, "orig-1", r.Header.Get("X-Originator-Code"))

		var body iauthTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ac-token", body.AuthorizationValue)
		f.verifier.Store(body.CodeVerifier)

		writeJSON(w, map[string]any{"idToken": f.idToken})
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func iauthConfig(apiURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Provider:        config.ProviderIAuth,
		OriginatorID:    "orig-1",
		ApplicationName: "portal",
		RedirectURI:     "https://app.example.com/callback",
		BaseURL:         "https://iauth.example",
		APIBaseURL:      apiURL,
	}
}

func newIAuth(t *testing.T, env *testEnv, srv *httptest.Server) *IAuthProvider {
	t.Helper()
	deps := env.deps()
	deps.HTTPClient = srv.Client()
	p, err := NewIAuthProvider(iauthConfig(srv.URL), deps)
	require.NoError(t, err)
	return p
}

func TestIAuthLogin(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeIAuthAPI(t, "")
	env := newTestEnv(t)
	require.NoError(t, env.store.Set(ctx, storage.KeyAccessToken, "old"))
	require.NoError(t, env.nav.Visit(appURL+"dashboard?tab=1"))

	p := newIAuth(t, env, srv)
	require.NoError(t, p.LoginWithRedirect(ctx))
	assert.Equal(t, 1, env.nav.Replacements(), "url reset to / before leaving")

	target, err := url.Parse(env.nav.LastRedirect())
	require.NoError(t, err)
	assert.Equal(t, "iauth.example", target.Host)

	verifier, state := env.loginAttempt(t)
	challenge, err := oauth.ChallengeFor(verifier)
	require.NoError(t, err)

	q := target.Query()
	assert.Equal(t, "orig-1", q.Get("originatorId"))
	assert.Equal(t, "https://app.example.com/callback", q.Get("callbackUrl"))
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, challenge, q.Get("codeChallenge"))
	assert.Equal(t, "portal", q.Get("applicationName"))
	assert.Equal(t, "false", q.Get("externalFlow"))

	_, found := env.store.Snapshot()[storage.KeyAccessToken]
	assert.False(t, found)
}

func TestIAuthCallback(t *testing.T) {
	ctx := context.Background()
	idToken := signIDToken(t, jwt.MapClaims{
		"identificationNumber":    "80123456",
		"identificationType":      "CC",
		"names":                   "Carlos",
		"surNames":                "Rojas",
		"userAccount":             "crojas",
		"consumerApplicationCode": "portal",
		"exp":                     time.Now().Add(time.Hour).Unix(),
	})
	api, srv := newFakeIAuthAPI(t, idToken)
	env := newTestEnv(t)

	p := newIAuth(t, env, srv)
	require.NoError(t, p.LoginWithRedirect(ctx))
	verifier, _ := env.loginAttempt(t)
	require.NoError(t, env.nav.Visit(appURL+"callback?ac=ac-token"))

	session, err := p.RestoreSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, User{
		ID:             "80123456",
		Identification: "80123456",
		FirstName:      "Carlos",
		LastName:       "Rojas",
		Company:        "portal",
		Type:           "CC",
	}, session.User)
	assert.Equal(t, TokenSet{
		AccessToken:  "ac-token",
		RefreshToken: "ac-token",
		ExpiresIn:    24 * time.Hour,
	}, session.Tokens)

	assert.Equal(t, verifier, api.verifier.Load())
	assert.Empty(t, env.nav.CurrentURL().RawQuery)
	assert.Equal(t, PhaseAuthenticated, p.Phase())
}

func TestIAuthCallbackError(t *testing.T) {
	ctx := context.Background()
	api, srv := newFakeIAuthAPI(t, "")
	env := newTestEnv(t)

	p := newIAuth(t, env, srv)
	require.NoError(t, p.LoginWithRedirect(ctx))
	require.NoError(t, env.nav.Visit(appURL+"callback?error=access_denied&error_description=user+cancelled"))

	_, err := p.RestoreSession(ctx)
	var providerErr *oauth.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "access_denied", providerErr.Code)
	assert.Equal(t, "user cancelled", providerErr.Description)
	assert.Zero(t, api.calls.Load())
	assert.Empty(t, env.nav.CurrentURL().RawQuery)
}

func TestIAuthCallbackStateMismatch(t *testing.T) {
	ctx := context.Background()
	api, srv := newFakeIAuthAPI(t, "")
	env := newTestEnv(t)

	p := newIAuth(t, env, srv)
	require.NoError(t, p.LoginWithRedirect(ctx))
	require.NoError(t, env.nav.Visit(appURL+"callback?ac=ac-token&state=forged"))

	_, err := p.RestoreSession(ctx)
	assert.ErrorIs(t, err, oauth.ErrStateMismatch)
	assert.Zero(t, api.calls.Load())
}

func TestIAuthMalformedIDToken(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeIAuthAPI(t, "not-a-jwt")
	env := newTestEnv(t)

	p := newIAuth(t, env, srv)
	require.NoError(t, p.LoginWithRedirect(ctx))
	require.NoError(t, env.nav.Visit(appURL+"callback?ac=ac-token"))

	_, err := p.RestoreSession(ctx)
	var httpErr *oauth.ProviderHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Contains(t, httpErr.Body, "decoding idToken")
}

func TestIAuthRefreshEchoesToken(t *testing.T) {
	ctx := context.Background()
	api, srv := newFakeIAuthAPI(t, "")
	env := newTestEnv(t)
	p := newIAuth(t, env, srv)

	tokens, err := p.RefreshSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, tokens)

	require.NoError(t, env.creds.SaveTokens(ctx, storage.StoredTokens{
		AccessToken:  "ac-token",
		RefreshToken: "ac-token",
		ExpiresIn:    24 * time.Hour,
	}))
	tokens, err = p.RefreshSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, &TokenSet{
		AccessToken:  "ac-token",
		RefreshToken: "ac-token",
		ExpiresIn:    time.Hour,
		Realm:        "default",
	}, tokens)
	assert.Zero(t, api.calls.Load())
}

func TestIAuthLogout(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeIAuthAPI(t, "")
	env := newTestEnv(t)
	env.persistSession(t, SessionData{
		User:   User{ID: "80123456"},
		Tokens: TokenSet{AccessToken: "ac-token", RefreshToken: "ac-token", ExpiresIn: time.Hour},
	})

	p := newIAuth(t, env, srv)
	require.NoError(t, p.Logout(ctx, "ac-token"))

	target, err := url.Parse(env.nav.LastRedirect())
	require.NoError(t, err)
	assert.Equal(t, "/logout", target.Path)
	assert.Equal(t, "orig-1", target.Query().Get("originatorId"))

	snapshot := env.store.Snapshot()
	for _, key := range []string{storage.KeyUser, storage.KeyAccessToken, storage.KeyRefreshToken, storage.KeyExpiresIn} {
		assert.NotContains(t, snapshot, key)
	}
	assert.Len(t, snapshot[storage.KeyCodeVerifier], oauth.VerifierLength)
}

func TestIAuthHasNoExpiryFlag(t *testing.T) {
	env := newTestEnv(t)
	p, err := NewIAuthProvider(iauthConfig("https://api.example"), env.deps())
	require.NoError(t, err)

	var provider Provider = p
	_, ok := provider.(ExpiryFlagger)
	assert.False(t, ok)
}
