package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dgellow/handoff/internal/emailutil"
	"github.com/dgellow/handoff/internal/ioutil"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubProvider implements the Provider interface for GitHub OAuth.
// GitHub uses OAuth 2.0 (not OIDC) and exposes identity through its REST API.
type GitHubProvider struct {
	config     oauth2.Config
	apiBaseURL string // defaults to https://api.github.com, can be overridden for testing
}

type githubUserResponse struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmailResponse struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHubProvider creates a new GitHub OAuth provider.
func NewGitHubProvider(clientID, clientSecret, redirectURI string, scopes []string) *GitHubProvider {
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}
	return &GitHubProvider{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint:     github.Endpoint,
		},
		apiBaseURL: "https://api.github.com",
	}
}

func (p *GitHubProvider) Type() string {
	return "github"
}

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

// UserInfo fetches user identity from GitHub's API.
func (p *GitHubProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	client := p.config.Client(ctx, token)

	var user githubUserResponse
	if err := p.getJSON(ctx, client, "/user", &user); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	// GitHub only shows verified emails in the public profile
	email := user.Email
	emailVerified := email != ""
	if email == "" {
		primary, err := p.fetchPrimaryEmail(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to get user email: %w", err)
		}
		email = primary
		emailVerified = true
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &Identity{
		ProviderType:  "github",
		Subject:       strconv.FormatInt(user.ID, 10),
		Email:         email,
		EmailVerified: emailVerified,
		Name:          name,
		Picture:       user.AvatarURL,
		Domain:        emailutil.ExtractDomain(email),
	}, nil
}

func (p *GitHubProvider) fetchPrimaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []githubEmailResponse
	if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		return "", err
	}

	for _, email := range emails {
		if email.Primary && email.Verified {
			return email.Email, nil
		}
	}
	for _, email := range emails {
		if email.Verified {
			return email.Email, nil
		}
	}
	return "", fmt.Errorf("no verified email found")
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ioutil.StatusError("GET "+path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
