package idp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/oauth"
	"github.com/dgellow/authsession/internal/urlutil"
	"golang.org/x/oauth2"
)

const (
	identidadV2ProductionURL  = "https://identity.selsacloud.com/v2/api"
	identidadV2DevelopmentURL = "https://dev.selsacloud.com/identidad/v2/api"
)

var identidadV2DefaultScopes = []string{"openid", "email", "profile", "address", "phone", "identityDocument"}

// IdentidadV2Provider implements Provider for identidad v2, a realm-scoped
// OAuth2 authorization server with a front-channel authorize endpoint.
type IdentidadV2Provider struct {
	*base
	expiryFlag
	serviceURL string
	oauth2     oauth2.Config
}

var (
	_ Provider      = (*IdentidadV2Provider)(nil)
	_ ExpiryFlagger = (*IdentidadV2Provider)(nil)
)

type identidadV2UserInfoResponse struct {
	Email            string `json:"email"`
	Name             string `json:"name"`
	GivenName        string `json:"given_name"`
	FamilyName       string `json:"family_name"`
	IdentityDocument string `json:"identityDocument"`
	MobilePhone      string `json:"mobile_phone"`
}

// NewIdentidadV2Provider creates a new identidad v2 provider.
func NewIdentidadV2Provider(cfg config.ProviderConfig, deps Deps) (*IdentidadV2Provider, error) {
	if err := requireFields(KindIdentidadV2,
		requiredField{"clientId", cfg.ClientID},
		requiredField{"realm", cfg.Realm},
		requiredField{"redirectUri", cfg.RedirectURI},
	); err != nil {
		return nil, err
	}

	b := newBase(KindIdentidadV2, cfg, deps)
	svc, err := serviceURL(cfg.BaseURL, identidadV2ProductionURL, identidadV2DevelopmentURL, cfg.IsProduction)
	if err != nil {
		return nil, err
	}
	realmURL := urlutil.MustJoinPath(svc, "realms", cfg.Realm, "protocols", "oauth2")

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = identidadV2DefaultScopes
	}

	// Basic client auth only makes sense with a secret.
	authStyle := oauth2.AuthStyleInParams
	if cfg.ClientSecret != "" {
		authStyle = oauth2.AuthStyleInHeader
	}

	return &IdentidadV2Provider{
		base:       b,
		expiryFlag: expiryFlag{owner: b},
		serviceURL: svc,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   urlutil.MustJoinPath(realmURL, "authorize"),
				TokenURL:  urlutil.MustJoinPath(realmURL, "token"),
				AuthStyle: authStyle,
			},
		},
	}, nil
}

// AuthURL builds the authorization URL for a login attempt.
func (p *IdentidadV2Provider) AuthURL(state, challenge string) string {
	accessType := oauth2.AccessTypeOnline
	if p.cfg.AccessType == config.AccessTypeOffline {
		accessType = oauth2.AccessTypeOffline
	}
	return p.oauth2.AuthCodeURL(state,
		accessType,
		oauth2.SetAuthURLParam("protocol", "oauth2"),
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("code_challenge_method", oauth.ChallengeMethod),
		oauth2.SetAuthURLParam("code_challenge", challenge),
	)
}

func (p *IdentidadV2Provider) LoginWithRedirect(ctx context.Context) error {
	pair, err := oauth.GeneratePKCE()
	if err != nil {
		return p.fail(err)
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return p.fail(err)
	}
	if err := p.creds.SaveLoginAttempt(ctx, pair.Verifier, state); err != nil {
		return p.fail(fmt.Errorf("persisting login attempt: %w", err))
	}

	p.setPhase(PhaseAwaitingProviderRedirect, nil)
	return p.nav.RedirectTo(p.AuthURL(state, pair.Challenge))
}

func (p *IdentidadV2Provider) RestoreSession(ctx context.Context) (*SessionData, error) {
	if session, err := p.storedSession(ctx); err != nil || session != nil {
		return session, err
	}

	query := p.nav.CurrentURL().Query()
	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		return nil, nil
	}
	if !p.claimCallback() {
		log.LogDebugWithFields("idp", "Callback already consumed", map[string]any{"provider": string(p.kind)})
		return nil, nil
	}

	return p.consumeCodeCallback(ctx, code, state, p.exchange, p.userinfo)
}

func (p *IdentidadV2Provider) exchange(ctx context.Context, code, verifier string) (TokenSet, error) {
	tctx := p.oauth2Context(ctx, http.Header{"Realm": {p.cfg.Realm}})
	tok, err := p.oauth2.Exchange(tctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return TokenSet{}, tokenError("token exchange", err)
	}
	return tokenSet(tok), nil
}

func (p *IdentidadV2Provider) userinfo(ctx context.Context, tokens TokenSet) (User, error) {
	endpoint := urlutil.MustJoinPath(p.serviceURL, "realms", p.cfg.Realm, "protocols", "oauth2", "userinfo")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)

	var resp identidadV2UserInfoResponse
	if err := p.doJSON(req, "userinfo", &resp); err != nil {
		return User{}, err
	}
	if resp.Email == "" || resp.Name == "" {
		return User{}, &oauth.ProviderHTTPError{Op: "userinfo", Body: "response missing email or name"}
	}

	return User{
		ID:             resp.IdentityDocument,
		Identification: resp.IdentityDocument,
		FirstName:      resp.GivenName,
		LastName:       resp.FamilyName,
		Email:          resp.Email,
		Phone:          resp.MobilePhone,
	}, nil
}

// RefreshSession uses the stored refresh token. Sessions issued without one
// are not refreshed.
func (p *IdentidadV2Provider) RefreshSession(ctx context.Context) (*TokenSet, error) {
	stored, err := p.creds.LoadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stored tokens: %w", err)
	}
	if stored.RefreshToken == "" {
		p.logRefreshSkipped("no stored refresh token")
		return nil, nil
	}

	tctx := p.oauth2Context(ctx, http.Header{"Accept": {"application/json"}})
	tok, err := p.oauth2.TokenSource(tctx, &oauth2.Token{RefreshToken: stored.RefreshToken}).Token()
	if err != nil {
		return nil, tokenError("token refresh", err)
	}

	tokens := tokenSet(tok)
	return &tokens, nil
}

func (p *IdentidadV2Provider) Logout(ctx context.Context, accessToken string) error {
	if accessToken != "" {
		p.revoke(ctx, urlutil.MustJoinPath(p.serviceURL, "oauth2", "token", p.cfg.Realm), accessToken)
	}
	p.clearSession(ctx)
	return nil
}
