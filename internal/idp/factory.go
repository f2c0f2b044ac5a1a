package idp

import (
	"context"
	"fmt"

	"github.com/dgellow/handoff/internal/config"
)

// NewProvider creates a Provider based on the ProviderConfig.
func NewProvider(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderGoogle:
		return NewGoogleProvider(
			cfg.ClientID,
			string(cfg.ClientSecret),
			cfg.RedirectURI,
			cfg.Scopes,
		), nil

	case config.ProviderAzure:
		return NewAzureProvider(
			ctx,
			cfg.TenantID,
			cfg.ClientID,
			string(cfg.ClientSecret),
			cfg.RedirectURI,
			cfg.Scopes,
		)

	case config.ProviderGitHub:
		return NewGitHubProvider(
			cfg.ClientID,
			string(cfg.ClientSecret),
			cfg.RedirectURI,
			cfg.Scopes,
		), nil

	case config.ProviderOIDC:
		return NewOIDCProvider(ctx, OIDCConfig{
			ProviderType:     "oidc",
			Issuer:           cfg.Issuer,
			AuthorizationURL: cfg.AuthorizationURL,
			TokenURL:         cfg.TokenURL,
			UserInfoURL:      cfg.UserInfoURL,
			ClientID:         cfg.ClientID,
			ClientSecret:     string(cfg.ClientSecret),
			RedirectURI:      cfg.RedirectURI,
			Scopes:           cfg.Scopes,
		})

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}
