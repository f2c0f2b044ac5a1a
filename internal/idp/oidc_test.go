package idp

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// newDiscoveryServer serves an OIDC discovery document and a userinfo endpoint
func newDiscoveryServer(t *testing.T, userInfo map[string]any) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
				"issuer":                 server.URL,
				"authorization_endpoint": server.URL + "/authorize",
				"token_endpoint":         server.URL + "/token",
				"userinfo_endpoint":      server.URL + "/userinfo",
				"jwks_uri":               server.URL + "/jwks",
			}))
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			require.NoError(t, json.NewEncoder(w).Encode(userInfo))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func signTestIDToken(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT", "kid": "test"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signingInput := enc.EncodeToString(header) + "." + enc.EncodeToString(payload)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return signingInput + "." + enc.EncodeToString(sig)
}

func TestNewOIDCProvider_WithDirectEndpoints(t *testing.T) {
	provider, err := NewOIDCProvider(context.Background(), OIDCConfig{
		ProviderType:     "custom",
		AuthorizationURL: "https://idp.example.com/authorize",
		TokenURL:         "https://idp.example.com/token",
		UserInfoURL:      "https://idp.example.com/userinfo",
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		RedirectURI:      "https://example.com/callback",
	})

	require.NoError(t, err)
	assert.Equal(t, "custom", provider.Type())
	assert.Nil(t, provider.verifier)
	assert.Equal(t, []string{"openid", "email", "profile"}, provider.config.Scopes)
}

func TestNewOIDCProvider_WithDiscovery(t *testing.T) {
	server := newDiscoveryServer(t, nil)

	provider, err := NewOIDCProvider(context.Background(), OIDCConfig{
		Issuer:       server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://example.com/callback",
		Scopes:       []string{"openid", "email"},
	})

	require.NoError(t, err)
	assert.Equal(t, "oidc", provider.Type())
	assert.NotNil(t, provider.verifier)
	assert.Equal(t, server.URL+"/token", provider.config.Endpoint.TokenURL)
	assert.Equal(t, []string{"openid", "email"}, provider.config.Scopes)

	authURL := provider.AuthURL("state-123")
	assert.Contains(t, authURL, server.URL+"/authorize")
	assert.Contains(t, authURL, "state=state-123")
}

func TestNewOIDCProvider_MissingEndpoints(t *testing.T) {
	_, err := NewOIDCProvider(context.Background(), OIDCConfig{
		ClientID:    "client-id",
		TokenURL:    "https://idp.example.com/token",
		UserInfoURL: "https://idp.example.com/userinfo",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer or all endpoints")
}

func TestNewOIDCProvider_DiscoveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewOIDCProvider(context.Background(), OIDCConfig{Issuer: server.URL, ClientID: "client-id"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "OIDC discovery")
}

func TestOIDCProvider_UserInfo_DirectEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"sub":            "user-123",
			"email":          "user@example.com",
			"email_verified": "true",
			"name":           "Test User",
			"picture":        "https://example.com/avatar.png",
		}))
	}))
	defer server.Close()

	provider, err := NewOIDCProvider(context.Background(), OIDCConfig{
		AuthorizationURL: server.URL + "/authorize",
		TokenURL:         server.URL + "/token",
		UserInfoURL:      server.URL,
		ClientID:         "client-id",
	})
	require.NoError(t, err)

	identity, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "test-token"})

	require.NoError(t, err)
	assert.Equal(t, "oidc", identity.ProviderType)
	assert.Equal(t, "user-123", identity.Subject)
	assert.Equal(t, "user@example.com", identity.Email)
	assert.True(t, identity.EmailVerified)
	assert.Equal(t, "example.com", identity.Domain)
	assert.Equal(t, "https://example.com/avatar.png", identity.Picture)
}

func TestOIDCProvider_UserInfo_DiscoveredEndpoint(t *testing.T) {
	server := newDiscoveryServer(t, map[string]any{
		"sub":            "user-456",
		"email":          "someone@corp.example",
		"email_verified": true,
		"name":           "Someone",
	})

	provider, err := NewOIDCProvider(context.Background(), OIDCConfig{Issuer: server.URL, ClientID: "client-id"})
	require.NoError(t, err)

	identity, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "test-token"})

	require.NoError(t, err)
	assert.Equal(t, "user-456", identity.Subject)
	assert.Equal(t, "corp.example", identity.Domain)
	assert.True(t, identity.EmailVerified)
}

func TestOIDCProvider_UserInfo_IDToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := "https://issuer.example.com"
	verifier := oidc.NewVerifier(issuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}, &oidc.Config{ClientID: "client-id"})
	provider := &OIDCProvider{providerType: "oidc", verifier: verifier}

	now := time.Now()
	baseClaims := func() map[string]any {
		return map[string]any{
			"iss":            issuer,
			"aud":            "client-id",
			"sub":            "subject-1",
			"email":          "person@example.org",
			"email_verified": true,
			"name":           "Person",
			"iat":            now.Unix(),
			"exp":            now.Add(time.Hour).Unix(),
		}
	}

	t.Run("valid_token", func(t *testing.T) {
		raw := signTestIDToken(t, key, baseClaims())
		token := (&oauth2.Token{AccessToken: "at"}).WithExtra(map[string]any{"id_token": raw})

		identity, err := provider.UserInfo(context.Background(), token)

		require.NoError(t, err)
		assert.Equal(t, "subject-1", identity.Subject)
		assert.Equal(t, "person@example.org", identity.Email)
		assert.Equal(t, "example.org", identity.Domain)
	})

	t.Run("wrong_audience", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = "someone-else"
		raw := signTestIDToken(t, key, claims)
		token := (&oauth2.Token{AccessToken: "at"}).WithExtra(map[string]any{"id_token": raw})

		_, err := provider.UserInfo(context.Background(), token)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "verify id token")
	})

	t.Run("expired", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = now.Add(-time.Hour).Unix()
		raw := signTestIDToken(t, key, claims)
		token := (&oauth2.Token{AccessToken: "at"}).WithExtra(map[string]any{"id_token": raw})

		_, err := provider.UserInfo(context.Background(), token)

		require.Error(t, err)
	})
}
