package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/authsession/internal/browser"
	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/oauth"
	"github.com/dgellow/authsession/internal/storage"
	"github.com/dgellow/authsession/internal/urlutil"
	"golang.org/x/oauth2"
)

const maxErrorBody = 512

// base carries the ports and the per-instance restore latch shared by every
// variant.
type base struct {
	kind       Kind
	cfg        config.ProviderConfig
	creds      *storage.Credentials
	nav        browser.Navigator
	httpClient *http.Client

	// callbackConsumed guards the one callback consumption per instance.
	callbackConsumed atomic.Bool

	phaseMu sync.Mutex
	phase   LoginPhase
}

func newBase(kind Kind, cfg config.ProviderConfig, deps Deps) *base {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &base{
		kind:       kind,
		cfg:        cfg,
		creds:      storage.NewCredentials(deps.Store),
		nav:        deps.Navigator,
		httpClient: client,
	}
}

func (b *base) Type() Kind {
	return b.kind
}

// Phase reports where the current login attempt is.
func (b *base) Phase() LoginPhase {
	b.phaseMu.Lock()
	defer b.phaseMu.Unlock()
	return b.phase
}

func (b *base) setPhase(p LoginPhase, fields map[string]any) {
	b.phaseMu.Lock()
	b.phase = p
	b.phaseMu.Unlock()

	if fields == nil {
		fields = map[string]any{}
	}
	fields["provider"] = string(b.kind)
	fields["phase"] = p.String()
	if p == PhaseFailed {
		log.LogWarnWithFields("idp", "Login attempt failed", fields)
		return
	}
	log.LogDebugWithFields("idp", "Login phase changed", fields)
}

// fail records a failed attempt and returns err unchanged.
func (b *base) fail(err error) error {
	b.setPhase(PhaseFailed, map[string]any{"error": err.Error()})
	return err
}

func (b *base) TokenExpiry(ctx context.Context) (time.Duration, bool) {
	d, ok, err := b.creds.ExpiresIn(ctx)
	if err != nil {
		log.LogWarnWithFields("idp", "Failed to read stored token expiry", map[string]any{
			"provider": string(b.kind),
			"error":    err.Error(),
		})
		return 0, false
	}
	return d, ok
}

// storedSession is the fast path of every restore: a persisted user and
// access token are returned without any network call.
func (b *base) storedSession(ctx context.Context) (*SessionData, error) {
	var user User
	found, err := b.creds.LoadUser(ctx, &user)
	if err != nil {
		return nil, fmt.Errorf("loading stored user: %w", err)
	}
	if !found {
		return nil, nil
	}
	tokens, err := b.creds.LoadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stored tokens: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, nil
	}
	return &SessionData{
		User: user,
		Tokens: TokenSet{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresIn:    tokens.ExpiresIn,
		},
	}, nil
}

// claimCallback reports whether the caller may consume the callback. Only
// the first caller per instance wins.
func (b *base) claimCallback() bool {
	return b.callbackConsumed.CompareAndSwap(false, true)
}

// stripCallback removes the callback query from the current URL with a
// history replace, so a reload cannot replay it.
func (b *base) stripCallback() {
	current := b.nav.CurrentURL()
	if current == nil || (current.RawQuery == "" && current.Fragment == "") {
		return
	}
	current.RawQuery = ""
	current.Fragment = ""
	b.nav.ReplaceURL(current)
}

// resetForLogin clears storage and resets the URL to "/" before a fresh
// login attempt.
func (b *base) resetForLogin(ctx context.Context) error {
	if err := b.creds.Clear(ctx); err != nil {
		return fmt.Errorf("clearing storage: %w", err)
	}
	b.nav.ReplaceURL(&url.URL{Path: "/"})
	return nil
}

// verifyCallbackState checks the URL state against the persisted one.
func verifyCallbackState(stored, received string) error {
	if stored == "" || stored != received {
		return oauth.ErrStateMismatch
	}
	return nil
}

// clearLoginAttempt drops the verifier and state after consumption.
func (b *base) clearLoginAttempt(ctx context.Context) {
	if err := b.creds.ClearLoginAttempt(ctx); err != nil {
		log.LogWarnWithFields("idp", "Failed to clear login attempt", map[string]any{
			"provider": string(b.kind),
			"error":    err.Error(),
		})
	}
}

// clearSession removes local credentials, logging failures.
func (b *base) clearSession(ctx context.Context) {
	if err := b.creds.ClearSession(ctx); err != nil {
		log.LogErrorWithFields("idp", "Failed to clear stored session", map[string]any{
			"provider": string(b.kind),
			"error":    err.Error(),
		})
	}
}

// expiryFlag implements ExpiryFlagger for the variants that support it.
type expiryFlag struct {
	owner *base
}

func (f expiryFlag) SessionExpired(ctx context.Context) bool {
	expired, err := f.owner.creds.SessionExpired(ctx)
	if err != nil {
		log.LogWarnWithFields("idp", "Failed to read session expired flag", map[string]any{
			"provider": string(f.owner.kind),
			"error":    err.Error(),
		})
	}
	return expired
}

func (f expiryFlag) SetSessionExpired(ctx context.Context) error {
	return f.owner.creds.SetSessionExpired(ctx)
}

func (f expiryFlag) ClearSessionExpired(ctx context.Context) error {
	return f.owner.creds.ClearSessionExpired(ctx)
}

// doJSON executes req and decodes a 2xx JSON body into dst. Anything else
// becomes a ProviderHTTPError.
func (b *base) doJSON(req *http.Request, op string, dst any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &oauth.ProviderHTTPError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body))}
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &oauth.ProviderHTTPError{Op: op, Body: fmt.Sprintf("decoding JSON: %v", err)}
	}
	return nil
}

// revoke issues the identidad token DELETE. Failures are logged only.
func (b *base) revoke(ctx context.Context, endpoint, accessToken string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		log.LogWarnWithFields("idp", "Failed to build revoke request", map[string]any{
			"provider": string(b.kind),
			"error":    err.Error(),
		})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "1/"+accessToken)

	if err := b.doJSON(req, "revoke token", nil); err != nil {
		log.LogWarnWithFields("idp", "Token revocation failed", map[string]any{
			"provider": string(b.kind),
			"error":    err.Error(),
		})
		return
	}
	log.LogDebugWithFields("idp", "Token revoked", map[string]any{
		"provider": string(b.kind),
	})
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// oauth2Context returns a context that makes golang.org/x/oauth2 use the
// provider's HTTP client, adding headers to token requests.
func (b *base) oauth2Context(ctx context.Context, headers http.Header) context.Context {
	client := b.httpClient
	if len(headers) > 0 {
		rt := client.Transport
		if rt == nil {
			rt = http.DefaultTransport
		}
		wrapped := *client
		wrapped.Transport = &headerTransport{base: rt, headers: headers}
		client = &wrapped
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// tokenError maps oauth2 failures onto ProviderHTTPError.
func tokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &oauth.ProviderHTTPError{Op: op, StatusCode: status, Body: truncate(string(retrieveErr.Body))}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// tokenSet converts an oauth2 token to a TokenSet.
func tokenSet(tok *oauth2.Token) TokenSet {
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    time.Duration(tok.ExpiresIn) * time.Second,
	}
	if realm, ok := tok.Extra("realm").(string); ok {
		ts.Realm = realm
	}
	return ts
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

// serviceURL picks the override or the environment default and checks that
// it parses, so later endpoint joins cannot fail.
func serviceURL(override, production, development string, isProduction bool) (string, error) {
	svc := development
	switch {
	case override != "":
		svc = strings.TrimRight(override, "/")
	case isProduction:
		svc = production
	}
	if _, err := urlutil.JoinPath(svc); err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", svc, err)
	}
	return svc, nil
}

func joinName(first, second string) string {
	if second == "" {
		return first
	}
	return first + " " + second
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// consumeCodeCallback runs the authorization-code callback shared by the
// identidad variants: state check, code exchange, then userinfo. The
// verifier and state are invalidated and the URL stripped whatever the
// outcome.
func (b *base) consumeCodeCallback(
	ctx context.Context,
	code, state string,
	exchange func(ctx context.Context, code, verifier string) (TokenSet, error),
	userinfo func(ctx context.Context, tokens TokenSet) (User, error),
) (*SessionData, error) {
	b.setPhase(PhaseCallbackReceived, nil)

	verifier, storedState, err := b.creds.LoginAttempt(ctx)
	if err != nil {
		return nil, b.fail(fmt.Errorf("loading login attempt: %w", err))
	}
	defer b.stripCallback()
	defer b.clearLoginAttempt(ctx)

	if err := verifyCallbackState(storedState, state); err != nil {
		return nil, b.fail(err)
	}
	if verifier == "" {
		return nil, b.fail(oauth.ErrMissingVerifier)
	}

	b.setPhase(PhaseExchangingCode, nil)
	tokens, err := exchange(ctx, code, verifier)
	if err != nil {
		return nil, b.fail(err)
	}

	b.setPhase(PhaseExchangingUserinfo, nil)
	user, err := userinfo(ctx, tokens)
	if err != nil {
		return nil, b.fail(err)
	}

	b.setPhase(PhaseAuthenticated, map[string]any{"user_id": user.ID})
	return &SessionData{User: user, Tokens: tokens}, nil
}

// logRefreshSkipped records a refresh that did not run.
func (b *base) logRefreshSkipped(reason string) {
	log.LogDebugWithFields("idp", "Token refresh skipped", map[string]any{
		"provider": string(b.kind),
		"reason":   reason,
		"error":    oauth.ErrRefreshSkipped.Error(),
	})
}
