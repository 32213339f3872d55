package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/log"
	"github.com/dgellow/authsession/internal/oauth"
	"github.com/dgellow/authsession/internal/urlutil"
	"golang.org/x/oauth2"
)

const identidadV1ServiceURL = "https://odin.selsacloud.com/linix/v7/da77663b-eeaf-42a0-a093-5efbdb1e54d2/servicio/identidad"

// IdentidadV1Provider implements Provider for identidad v1. The authorize
// step is a back-channel POST that returns the URL to send the user to, and
// every token call carries the realm in a Realm header.
type IdentidadV1Provider struct {
	*base
	expiryFlag
	serviceURL string
	oauth2     oauth2.Config
}

var (
	_ Provider      = (*IdentidadV1Provider)(nil)
	_ ExpiryFlagger = (*IdentidadV1Provider)(nil)
)

// identidadV1AuthorizeResponse is returned by /oauth2/autorizar.
type identidadV1AuthorizeResponse struct {
	State       string `json:"state"`
	RedirectURI string `json:"redirect_uri"`
}

// identidadV1UserInfoResponse is returned by /oauth2/token/{realm}/info.
type identidadV1UserInfoResponse struct {
	ExpiresIn flexString `json:"expires_in"`
	SessionID flexString `json:"idSesion"`
	Usuario   *struct {
		ID                flexString `json:"id"`
		Identificacion    flexString `json:"identificacion"`
		PrimerNombre      string     `json:"primerNombre"`
		SegundoNombre     string     `json:"segundoNombre"`
		PrimerApellido    string     `json:"primerApellido"`
		SegundoApellido   string     `json:"segundoApellido"`
		CorreoElectronico string     `json:"correoElectronico"`
		TelefonoMovil     string     `json:"telefonoMovil"`
		Repositorio       string     `json:"repositorio"`
		Tipo              string     `json:"tipo"`
	} `json:"usuario"`
}

// NewIdentidadV1Provider creates a new identidad v1 provider.
func NewIdentidadV1Provider(cfg config.ProviderConfig, deps Deps) (*IdentidadV1Provider, error) {
	if err := requireFields(KindIdentidadV1,
		requiredField{"clientId", cfg.ClientID},
		requiredField{"clientSecret", string(cfg.ClientSecret)},
		requiredField{"realm", cfg.Realm},
		requiredField{"redirectUri", cfg.RedirectURI},
	); err != nil {
		return nil, err
	}

	b := newBase(KindIdentidadV1, cfg, deps)
	svc, err := serviceURL(cfg.BaseURL, identidadV1ServiceURL, identidadV1ServiceURL, cfg.IsProduction)
	if err != nil {
		return nil, err
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}

	return &IdentidadV1Provider{
		base:       b,
		expiryFlag: expiryFlag{owner: b},
		serviceURL: svc,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   urlutil.MustJoinPath(svc, "oauth2", "autorizar"),
				TokenURL:  urlutil.MustJoinPath(svc, "oauth2", "token"),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}, nil
}

// realmTokenURL is the per-realm token resource; refresh POSTs to it,
// revocation DELETEs it.
func (p *IdentidadV1Provider) realmTokenURL(extra ...string) string {
	return urlutil.MustJoinPath(p.serviceURL, append([]string{"oauth2", "token", p.cfg.Realm}, extra...)...)
}

// LoginWithRedirect asks the provider for an authorization redirect and
// navigates to it. The state the provider echoes back is the one persisted.
func (p *IdentidadV1Provider) LoginWithRedirect(ctx context.Context) error {
	pair, err := oauth.GeneratePKCE()
	if err != nil {
		return p.fail(err)
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return p.fail(err)
	}

	if err := p.resetForLogin(ctx); err != nil {
		return p.fail(err)
	}
	if err := p.creds.SaveLoginAttempt(ctx, pair.Verifier, state); err != nil {
		return p.fail(fmt.Errorf("persisting login attempt: %w", err))
	}

	form := url.Values{
		"response_type":         {"code"},
		"response_mode":         {"query"},
		"state":                 {state},
		"redirect_uri":          {p.cfg.RedirectURI},
		"client_id":             {p.cfg.ClientID},
		"client_secret":         {string(p.cfg.ClientSecret)},
		"redirect":              {"false"},
		"scope":                 {strings.Join(p.oauth2.Scopes, " ")},
		"code_challenge":        {pair.Challenge},
		"code_challenge_method": {oauth.ChallengeMethod},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauth2.Endpoint.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return p.fail(err)
	}
	req.Header.Set("Realm", p.cfg.Realm)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp identidadV1AuthorizeResponse
	if err := p.doJSON(req, "authorization request", &resp); err != nil {
		return p.fail(err)
	}
	if resp.State == "" || resp.RedirectURI == "" {
		return p.fail(&oauth.ProviderHTTPError{Op: "authorization request", Body: "response missing state or redirect_uri"})
	}
	if resp.State != state {
		if err := p.creds.SaveState(ctx, resp.State); err != nil {
			return p.fail(fmt.Errorf("persisting state: %w", err))
		}
	}

	p.setPhase(PhaseAwaitingProviderRedirect, nil)
	return p.nav.RedirectTo(resp.RedirectURI)
}

func (p *IdentidadV1Provider) RestoreSession(ctx context.Context) (*SessionData, error) {
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

func (p *IdentidadV1Provider) exchange(ctx context.Context, code, verifier string) (TokenSet, error) {
	tctx := p.oauth2Context(ctx, http.Header{"Realm": {p.cfg.Realm}})
	tok, err := p.oauth2.Exchange(tctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return TokenSet{}, tokenError("token exchange", err)
	}

	tokens := tokenSet(tok)
	if tokens.RefreshToken == "" || tokens.Realm == "" {
		return TokenSet{}, &oauth.ProviderHTTPError{Op: "token exchange", Body: "response missing refresh_token or realm"}
	}
	return tokens, nil
}

func (p *IdentidadV1Provider) userinfo(ctx context.Context, tokens TokenSet) (User, error) {
	endpoint := p.realmTokenURL("info")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "1/"+tokens.AccessToken)

	var resp identidadV1UserInfoResponse
	if err := p.doJSON(req, "userinfo", &resp); err != nil {
		return User{}, err
	}
	if resp.ExpiresIn == "" || resp.SessionID == "" || resp.Usuario == nil {
		return User{}, &oauth.ProviderHTTPError{Op: "userinfo", Body: "response missing expires_in, idSesion or usuario"}
	}

	u := resp.Usuario
	return User{
		ID:             string(u.ID),
		Identification: string(u.Identificacion),
		FirstName:      joinName(u.PrimerNombre, u.SegundoNombre),
		LastName:       joinName(u.PrimerApellido, u.SegundoApellido),
		Email:          u.CorreoElectronico,
		Phone:          u.TelefonoMovil,
		Company:        u.Repositorio,
		Type:           u.Tipo,
	}, nil
}

// RefreshSession exchanges the stored refresh token at the realm token
// endpoint, authenticating with the current access token.
func (p *IdentidadV1Provider) RefreshSession(ctx context.Context) (*TokenSet, error) {
	stored, err := p.creds.LoadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stored tokens: %w", err)
	}
	if stored.AccessToken == "" || stored.RefreshToken == "" {
		p.logRefreshSkipped("no stored access or refresh token")
		return nil, nil
	}

	cfg := p.oauth2
	cfg.Endpoint.TokenURL = p.realmTokenURL()

	tctx := p.oauth2Context(ctx, http.Header{
		"Authorization": {"Bearer " + stored.AccessToken},
		"Accept":        {"application/json"},
	})
	tok, err := cfg.TokenSource(tctx, &oauth2.Token{RefreshToken: stored.RefreshToken}).Token()
	if err != nil {
		return nil, tokenError("token refresh", err)
	}

	tokens := tokenSet(tok)
	return &tokens, nil
}

// Logout revokes the token at the realm endpoint, then removes local
// credentials regardless of the outcome.
func (p *IdentidadV1Provider) Logout(ctx context.Context, accessToken string) error {
	if accessToken != "" {
		p.revoke(ctx, p.realmTokenURL(), accessToken)
	}
	p.clearSession(ctx)
	return nil
}
