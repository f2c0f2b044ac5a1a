package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dgellow/handoff/internal/emailutil"
	"github.com/dgellow/handoff/internal/ioutil"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleProvider implements the Provider interface for Google OAuth.
// Google reports the workspace domain as `hd` and uses `verified_email`
// instead of the OIDC `email_verified` claim.
type GoogleProvider struct {
	config      oauth2.Config
	userInfoURL string
}

type googleUserInfoResponse struct {
	Sub           string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	HostedDomain  string `json:"hd"`
}

// NewGoogleProvider creates a new Google OAuth provider.
func NewGoogleProvider(clientID, clientSecret, redirectURI string, scopes []string) *GoogleProvider {
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}
	return &GoogleProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
	}
}

func (p *GoogleProvider) Type() string {
	return "google"
}

// AuthURL generates the authorization URL. Handoff never needs offline
// access, only an account choice.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

// UserInfo fetches user information from Google's userinfo endpoint.
func (p *GoogleProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error) {
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

	var googleUser googleUserInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&googleUser); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	// Use Google's hosted domain if available, otherwise derive from email
	domain := googleUser.HostedDomain
	if domain == "" {
		domain = emailutil.ExtractDomain(googleUser.Email)
	}

	return &Identity{
		ProviderType:  "google",
		Subject:       googleUser.Sub,
		Email:         googleUser.Email,
		EmailVerified: googleUser.VerifiedEmail,
		Name:          googleUser.Name,
		Picture:       googleUser.Picture,
		Domain:        domain,
	}, nil
}
