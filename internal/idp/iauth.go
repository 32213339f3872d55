package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/oauth"
	"github.com/dgellow/authsession/internal/urlutil"
	"github.com/golang-jwt/jwt/v5"
)

const (
	iauthProductionURL     = "https://iauth.inube.cloud"
	iauthDevelopmentURL    = "https://iauth.inube.online"
	iauthProductionAPIURL  = "https://iauth.persistence.process.inube.pro/iauth-persistence-process-service/api"
	iauthDevelopmentAPIURL = "https://four.external.iauth.persistence.process.inube.dev/iauth-persistence-process-service/api"

	iauthSessionLifetime = 86400 * time.Second
	iauthRefreshLifetime = 3600 * time.Second
	iauthRefreshRealm    = "default"
)

// IAuthProvider implements Provider for iauth. The callback carries the
// access token directly in the ac parameter; the user comes from an id
// token minted by the persistence API. There is no refresh endpoint, the
// access token is echoed back as its own refresh token.
type IAuthProvider struct {
	*base
	serviceURL string
	apiURL     string
}

var _ Provider = (*IAuthProvider)(nil)

// iauthClaims are the id token claims the user is built from.
type iauthClaims struct {
	IdentificationNumber    string `json:"identificationNumber"`
	IdentificationType      string `json:"identificationType"`
	Names                   string `json:"names"`
	SurNames                string `json:"surNames"`
	UserAccount             string `json:"userAccount"`
	ConsumerApplicationCode string `json:"consumerApplicationCode"`
	jwt.RegisteredClaims
}

type iauthTokenRequest struct {
	AuthorizationValue string `json:"authorizationValue"`
	CodeVerifier       string `json:"codeVerifier"`
}

type iauthTokenResponse struct {
	IDToken string `json:"idToken"`
}

// NewIAuthProvider creates a new iauth provider.
func NewIAuthProvider(cfg config.ProviderConfig, deps Deps) (*IAuthProvider, error) {
	if err := requireFields(KindIAuth,
		requiredField{"originatorId", cfg.OriginatorID},
		requiredField{"applicationName", cfg.ApplicationName},
		requiredField{"redirectUri", cfg.RedirectURI},
	); err != nil {
		return nil, err
	}

	svc, err := serviceURL(cfg.BaseURL, iauthProductionURL, iauthDevelopmentURL, cfg.IsProduction)
	if err != nil {
		return nil, err
	}
	api, err := serviceURL(cfg.APIBaseURL, iauthProductionAPIURL, iauthDevelopmentAPIURL, cfg.IsProduction)
	if err != nil {
		return nil, err
	}

	return &IAuthProvider{
		base:       newBase(KindIAuth, cfg, deps),
		serviceURL: svc,
		apiURL:     api,
	}, nil
}

// authorizationURL persists a fresh login attempt and returns target with
// the iauth login parameters.
func (p *IAuthProvider) authorizationURL(ctx context.Context, target string) (string, error) {
	pair, err := oauth.GeneratePKCE()
	if err != nil {
		return "", err
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: invalid iauth url %q: %v", oauth.ErrConfiguration, target, err)
	}
	if err := p.creds.SaveLoginAttempt(ctx, pair.Verifier, state); err != nil {
		return "", fmt.Errorf("persisting login attempt: %w", err)
	}

	q := u.Query()
	q.Set("originatorId", p.cfg.OriginatorID)
	q.Set("callbackUrl", p.cfg.RedirectURI)
	q.Set("state", state)
	q.Set("codeChallenge", pair.Challenge)
	q.Set("applicationName", p.cfg.ApplicationName)
	q.Set("externalFlow", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *IAuthProvider) LoginWithRedirect(ctx context.Context) error {
	if err := p.resetForLogin(ctx); err != nil {
		return p.fail(err)
	}
	target, err := p.authorizationURL(ctx, p.serviceURL)
	if err != nil {
		return p.fail(err)
	}

	p.setPhase(PhaseAwaitingProviderRedirect, nil)
	return p.nav.RedirectTo(target)
}

func (p *IAuthProvider) RestoreSession(ctx context.Context) (*SessionData, error) {
	if session, err := p.storedSession(ctx); err != nil || session != nil {
		return session, err
	}

	query := p.nav.CurrentURL().Query()
	accessToken, errCode := query.Get("ac"), query.Get("error")
	if accessToken == "" && errCode == "" {
		return nil, nil
	}
	if !p.claimCallback() {
		log.LogDebugWithFields("idp", "Callback already consumed", map[string]any{"provider": string(p.kind)})
		return nil, nil
	}

	p.setPhase(PhaseCallbackReceived, nil)
	defer p.stripCallback()

	verifier, storedState, err := p.creds.LoginAttempt(ctx)
	if err != nil {
		return nil, p.fail(fmt.Errorf("loading login attempt: %w", err))
	}
	defer p.clearLoginAttempt(ctx)

	if errCode != "" {
		return nil, p.fail(&oauth.ProviderError{Code: errCode, Description: query.Get("error_description")})
	}
	// iauth does not always echo the state back.
	if received := query.Get("state"); storedState != "" && received != "" {
		if err := verifyCallbackState(storedState, received); err != nil {
			return nil, p.fail(err)
		}
	}
	if verifier == "" {
		return nil, p.fail(oauth.ErrMissingVerifier)
	}

	p.setPhase(PhaseExchangingUserinfo, nil)
	user, err := p.userinfo(ctx, accessToken, verifier)
	if err != nil {
		return nil, p.fail(err)
	}

	p.setPhase(PhaseAuthenticated, map[string]any{"user_id": user.ID})
	return &SessionData{
		User: user,
		Tokens: TokenSet{
			AccessToken:  accessToken,
			RefreshToken: accessToken,
			ExpiresIn:    iauthSessionLifetime,
		},
	}, nil
}

func (p *IAuthProvider) userinfo(ctx context.Context, accessToken, verifier string) (User, error) {
	body, err := json.Marshal(iauthTokenRequest{
		AuthorizationValue: accessToken,
		CodeVerifier:       verifier,
	})
	if err != nil {
		return User{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlutil.MustJoinPath(p.apiURL, "user-accounts", "authentication-token"), bytes.NewReader(body))
	if err != nil {
		return User{}, err
	}
	req.Header.Set("X-Action", "UserAuthenticationToken")
	req.Header.Set("X-Originator-Code", p.cfg.OriginatorID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var resp iauthTokenResponse
	if err := p.doJSON(req, "authentication token", &resp); err != nil {
		return User{}, err
	}
	if resp.IDToken == "" {
		return User{}, &oauth.ProviderHTTPError{Op: "authentication token", Body: "response missing idToken"}
	}

	claims, err := decodeIAuthIDToken(resp.IDToken)
	if err != nil {
		return User{}, err
	}

	return User{
		ID:             claims.IdentificationNumber,
		Identification: claims.IdentificationNumber,
		FirstName:      claims.Names,
		LastName:       claims.SurNames,
		Company:        claims.ConsumerApplicationCode,
		Type:           claims.IdentificationType,
	}, nil
}

// decodeIAuthIDToken reads the claims without verifying the signature. The
// token comes straight from the persistence API over TLS.
func decodeIAuthIDToken(raw string) (*iauthClaims, error) {
	var claims iauthClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return nil, &oauth.ProviderHTTPError{Op: "authentication token", Body: fmt.Sprintf("decoding idToken: %v", err)}
	}
	return &claims, nil
}

// RefreshSession echoes the stored refresh token back as a new access token.
func (p *IAuthProvider) RefreshSession(ctx context.Context) (*TokenSet, error) {
	stored, err := p.creds.LoadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stored tokens: %w", err)
	}
	if stored.RefreshToken == "" {
		p.logRefreshSkipped("no stored refresh token")
		return nil, nil
	}
	return &TokenSet{
		AccessToken:  stored.RefreshToken,
		RefreshToken: stored.RefreshToken,
		ExpiresIn:    iauthRefreshLifetime,
		Realm:        iauthRefreshRealm,
	}, nil
}

// Logout removes the session keys and sends the user to the iauth logout
// page, which takes the same parameters as login.
func (p *IAuthProvider) Logout(ctx context.Context, _ string) error {
	p.clearSession(ctx)

	target, err := p.authorizationURL(ctx, urlutil.MustJoinPath(p.serviceURL, "logout"))
	if err != nil {
		log.LogWarnWithFields("idp", "Failed to build logout redirect", map[string]any{
			"provider": string(p.kind),
			"error":    err.Error(),
		})
		return nil
	}
	if err := p.nav.RedirectTo(target); err != nil {
		log.LogWarnWithFields("idp", "Logout redirect failed", map[string]any{
			"provider": string(p.kind),
			"error":    err.Error(),
		})
	}
	return nil
}
