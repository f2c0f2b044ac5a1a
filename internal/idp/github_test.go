package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestGitHubProvider(apiURL string) *GitHubProvider {
	return &GitHubProvider{
		config: oauth2.Config{
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			RedirectURL:  "https://example.com/callback",
		},
		apiBaseURL: apiURL,
	}
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	provider := NewGitHubProvider("client-id", "client-secret", "https://example.com/callback", nil)

	authURL := provider.AuthURL("test-state")

	assert.Equal(t, "github", provider.Type())
	assert.Contains(t, authURL, "github.com")
	assert.Contains(t, authURL, "state=test-state")
	assert.Contains(t, authURL, "client_id=client-id")
	assert.Contains(t, authURL, "user%3Aemail")
}

func TestGitHubProvider_UserInfo(t *testing.T) {
	tests := []struct {
		name            string
		userResp        githubUserResponse
		emailsResp      []githubEmailResponse
		expectedEmail   string
		expectedDomain  string
		expectedName    string
		expectedSubject string
	}{
		{
			name: "user_with_public_email",
			userResp: githubUserResponse{
				ID:        12345,
				Login:     "octocat",
				Email:     "user@company.com",
				Name:      "Test User",
				AvatarURL: "https://github.com/avatar.jpg",
			},
			expectedEmail:   "user@company.com",
			expectedDomain:  "company.com",
			expectedName:    "Test User",
			expectedSubject: "12345",
		},
		{
			name:     "user_without_public_email_fetches_from_api",
			userResp: githubUserResponse{ID: 7, Login: "octocat", Name: "Octo"},
			emailsResp: []githubEmailResponse{
				{Email: "secondary@other.com", Primary: false, Verified: true},
				{Email: "primary@company.com", Primary: true, Verified: true},
			},
			expectedEmail:   "primary@company.com",
			expectedDomain:  "company.com",
			expectedName:    "Octo",
			expectedSubject: "7",
		},
		{
			name:     "unverified_primary_falls_back_to_verified",
			userResp: githubUserResponse{ID: 8, Login: "octocat"},
			emailsResp: []githubEmailResponse{
				{Email: "primary@company.com", Primary: true, Verified: false},
				{Email: "verified@other.org", Primary: false, Verified: true},
			},
			expectedEmail:   "verified@other.org",
			expectedDomain:  "other.org",
			expectedName:    "octocat",
			expectedSubject: "8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")

				switch r.URL.Path {
				case "/user":
					require.NoError(t, json.NewEncoder(w).Encode(tt.userResp))
				case "/user/emails":
					require.NoError(t, json.NewEncoder(w).Encode(tt.emailsResp))
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			}))
			defer server.Close()

			provider := newTestGitHubProvider(server.URL)
			identity, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "test-token"})

			require.NoError(t, err)
			assert.Equal(t, "github", identity.ProviderType)
			assert.Equal(t, tt.expectedSubject, identity.Subject)
			assert.Equal(t, tt.expectedEmail, identity.Email)
			assert.True(t, identity.EmailVerified)
			assert.Equal(t, tt.expectedDomain, identity.Domain)
			assert.Equal(t, tt.expectedName, identity.Name)
		})
	}
}

func TestGitHubProvider_UserInfo_APIErrors(t *testing.T) {
	tests := []struct {
		name        string
		userStatus  int
		errContains string
	}{
		{name: "user_api_error", userStatus: http.StatusInternalServerError, errContains: "status 500"},
		{name: "user_unauthorized", userStatus: http.StatusUnauthorized, errContains: "status 401"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.userStatus)
			}))
			defer server.Close()

			_, err := newTestGitHubProvider(server.URL).UserInfo(context.Background(), &oauth2.Token{AccessToken: "test-token"})

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestGitHubProvider_UserInfo_NoVerifiedEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			require.NoError(t, json.NewEncoder(w).Encode(githubUserResponse{ID: 123, Login: "test"}))
		case "/user/emails":
			require.NoError(t, json.NewEncoder(w).Encode([]githubEmailResponse{
				{Email: "unverified@example.com", Primary: true, Verified: false},
			}))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	_, err := newTestGitHubProvider(server.URL).UserInfo(context.Background(), &oauth2.Token{AccessToken: "test-token"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verified email")
}
