package idp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/oauth2"
)

// ErrDomainNotAllowed is returned when an identity's email domain is not allow-listed
var ErrDomainNotAllowed = errors.New("domain not allowed")

// Identity is what handoff learns about a user from any identity provider
type Identity struct {
	ProviderType  string `json:"provider_type"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Domain        string `json:"domain"`
}

// Provider abstracts identity provider operations.
type Provider interface {
	// Type returns the provider type identifier (e.g., "google", "azure", "github", "oidc").
	Type() string

	// AuthURL generates the authorization URL for the OAuth flow.
	AuthURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// UserInfo fetches the identity behind the token.
	UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error)
}

// ValidateDomain checks if the domain is in the allowed list.
// Returns nil if allowedDomains is empty (no restriction) or domain is allowed.
func ValidateDomain(domain string, allowedDomains []string) error {
	if len(allowedDomains) == 0 {
		return nil
	}
	domain = strings.ToLower(domain)
	if domain != "" && slices.ContainsFunc(allowedDomains, func(d string) bool {
		return strings.EqualFold(d, domain)
	}) {
		return nil
	}
	return fmt.Errorf("%w: '%s'. Contact your administrator", ErrDomainNotAllowed, domain)
}
