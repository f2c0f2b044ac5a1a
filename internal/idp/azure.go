package idp

import (
	"context"
	"fmt"
)

var azureLoginBaseURL = "https://login.microsoftonline.com"

// NewAzureProvider creates an Azure AD provider using OIDC discovery on the
// tenant's v2.0 issuer. The shared tenants report a templated issuer, so
// the issuer check is relaxed for them.
func NewAzureProvider(ctx context.Context, tenantID, clientID, clientSecret, redirectURI string, scopes []string) (*OIDCProvider, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantId is required for Azure AD")
	}

	cfg := OIDCConfig{
		ProviderType: "azure",
		Issuer:       fmt.Sprintf("%s/%s/v2.0", azureLoginBaseURL, tenantID),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Scopes:       scopes,
	}

	switch tenantID {
	case "common", "organizations", "consumers":
		cfg.DiscoveredIssuer = azureLoginBaseURL + "/{tenantid}/v2.0"
		cfg.SkipIssuerCheck = true
	}

	return NewOIDCProvider(ctx, cfg)
}
