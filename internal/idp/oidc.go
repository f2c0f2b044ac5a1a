package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dgellow/handoff/internal/emailutil"
	"github.com/dgellow/handoff/internal/ioutil"
	"github.com/dgellow/handoff/internal/log"
	"golang.org/x/oauth2"
)

const discoveryTimeout = 10 * time.Second

// OIDCConfig configures a generic OIDC provider.
type OIDCConfig struct {
	// ProviderType identifies this provider (e.g., "oidc", "azure").
	ProviderType string

	// Issuer enables discovery and ID token verification.
	Issuer string
	// DiscoveredIssuer is the issuer the discovery document is expected to
	// report when it differs from Issuer (multi-tenant Azure).
	DiscoveredIssuer string
	// SkipIssuerCheck disables the ID token `iss` check for multi-tenant issuers.
	SkipIssuerCheck bool

	// Direct endpoint configuration (used if Issuer is not set).
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string

	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// OIDCProvider implements the Provider interface for OIDC-compliant identity providers.
type OIDCProvider struct {
	providerType string
	config       oauth2.Config

	// Set when discovery succeeded
	oidcProvider *oidc.Provider
	verifier     *oidc.IDTokenVerifier

	// Used when endpoints are configured directly
	userInfoURL string
}

// oidcClaims covers the standard claims in both ID tokens and userinfo responses
type oidcClaims struct {
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
}

// flexBool accepts both true and "true"; some providers send the claim as a string
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		*b = flexBool(t == "true")
	default:
		*b = false
	}
	return nil
}

// NewOIDCProvider creates a new OIDC provider. With an issuer it runs
// discovery through go-oidc, otherwise it uses the configured endpoints.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	providerType := cfg.ProviderType
	if providerType == "" {
		providerType = "oidc"
	}

	p := &OIDCProvider{
		providerType: providerType,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
		},
	}

	if cfg.Issuer != "" {
		discoveryCtx := oidc.ClientContext(ctx, &http.Client{Timeout: discoveryTimeout})
		if cfg.DiscoveredIssuer != "" {
			discoveryCtx = oidc.InsecureIssuerURLContext(discoveryCtx, cfg.DiscoveredIssuer)
		}
		provider, err := oidc.NewProvider(discoveryCtx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch OIDC discovery: %w", err)
		}
		p.oidcProvider = provider
		p.verifier = provider.Verifier(&oidc.Config{
			ClientID:        cfg.ClientID,
			SkipIssuerCheck: cfg.SkipIssuerCheck,
		})
		p.config.Endpoint = provider.Endpoint()
		return p, nil
	}

	if cfg.AuthorizationURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("either issuer or all endpoints (authorizationUrl, tokenUrl, userInfoUrl) must be provided")
	}
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:  cfg.AuthorizationURL,
		TokenURL: cfg.TokenURL,
	}
	p.userInfoURL = cfg.UserInfoURL
	return p, nil
}

func (p *OIDCProvider) Type() string {
	return p.providerType
}

func (p *OIDCProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (p *OIDCProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

// UserInfo prefers the verified ID token and falls back to the userinfo
// endpoint when the token carries no email.
func (p *OIDCProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	var claims oidcClaims

	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" && p.verifier != nil {
		idToken, err := p.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("failed to verify id token: %w", err)
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to decode id token claims: %w", err)
		}
	}

	if claims.Email == "" {
		fetched, err := p.fetchUserInfo(ctx, token)
		if err != nil {
			return nil, err
		}
		if claims.Sub != "" && fetched.Sub != claims.Sub {
			return nil, fmt.Errorf("userinfo subject does not match id token")
		}
		claims = *fetched
		log.LogTraceWithFields("idp", "Identity read from userinfo endpoint", map[string]any{
			"provider": p.providerType,
		})
	}

	if claims.Sub == "" {
		return nil, fmt.Errorf("identity has no subject")
	}

	return &Identity{
		ProviderType:  p.providerType,
		Subject:       claims.Sub,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		Name:          claims.Name,
		Picture:       claims.Picture,
		Domain:        emailutil.ExtractDomain(claims.Email),
	}, nil
}

func (p *OIDCProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*oidcClaims, error) {
	var claims oidcClaims

	if p.oidcProvider != nil {
		info, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err != nil {
			return nil, fmt.Errorf("failed to get user info: %w", err)
		}
		if err := info.Claims(&claims); err != nil {
			return nil, fmt.Errorf("failed to decode user info: %w", err)
		}
		return &claims, nil
	}

	client := p.config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ioutil.StatusError("failed to get user info", resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return &claims, nil
}
