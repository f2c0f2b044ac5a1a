package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// VersionPrefix is the only config version family this build understands
const VersionPrefix = "v0.0.1-DEV_EDITION"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StorageKind selects the persistence backend
type StorageKind string

const (
	StorageMemory    StorageKind = "memory"
	StorageFirestore StorageKind = "firestore"
)

// ProviderType identifies an identity provider implementation
type ProviderType string

const (
	ProviderGitHub ProviderType = "github"
	ProviderGoogle ProviderType = "google"
	ProviderAzure  ProviderType = "azure"
	ProviderOIDC   ProviderType = "oidc"
)

// ServerConfig configures the HTTP listener and public URL
type ServerConfig struct {
	BaseURL  string `json:"baseURL"`
	Addr     string `json:"addr"`
	BasePath string `json:"basePath,omitempty"`
}

// AppConfig describes the companion native application
type AppConfig struct {
	Name string `json:"name"`
	// DeepLinkScheme is the scheme prefix including separators, e.g. "folo://"
	DeepLinkScheme string `json:"deepLinkScheme"`
	// ContinueURL is where "continue in browser" navigates
	ContinueURL string `json:"continueURL,omitempty"`
}

// ProviderConfig configures one login provider. Providers are listed in the
// order they appear on the login page.
type ProviderConfig struct {
	Key          string       `json:"key"`
	Provider     ProviderType `json:"provider"`
	DisplayName  string       `json:"displayName,omitempty"`
	ButtonClass  string       `json:"buttonClass,omitempty"`
	IconClass    string       `json:"iconClass,omitempty"`
	ClientID     string       `json:"clientId"`
	ClientSecret Secret       `json:"clientSecret"`
	RedirectURI  string       `json:"redirectUri,omitempty"`

	// Azure
	TenantID string `json:"tenantId,omitempty"`

	// Generic OIDC: either Issuer (discovery) or all three endpoints
	Issuer           string   `json:"issuer,omitempty"`
	AuthorizationURL string   `json:"authorizationUrl,omitempty"`
	TokenURL         string   `json:"tokenUrl,omitempty"`
	UserInfoURL      string   `json:"userInfoUrl,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
}

// AuthConfig configures sessions, handoff tokens, storage and providers
type AuthConfig struct {
	EncryptionKey    Secret        `json:"encryptionKey"`
	SessionTTL       time.Duration `json:"sessionTtl"`
	NativeSessionTTL time.Duration `json:"nativeSessionTtl"`
	CallbackTokenTTL time.Duration `json:"callbackTokenTtl"`
	CleanupInterval  time.Duration `json:"cleanupInterval"`
	AllowedDomains   []string      `json:"allowedDomains,omitempty"`

	Storage                   StorageKind `json:"storage"`
	GCPProject                string      `json:"gcpProject,omitempty"`
	FirestoreDatabase         string      `json:"firestoreDatabase,omitempty"`
	FirestoreCollectionPrefix string      `json:"firestoreCollectionPrefix,omitempty"`

	Providers []ProviderConfig `json:"providers"`
}

// RateLimitConfig bounds how often one client IP may hit the handoff endpoints
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	Burst             int `json:"burst"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version   string           `json:"version"`
	Server    ServerConfig     `json:"server"`
	App       AppConfig        `json:"app"`
	Auth      AuthConfig       `json:"auth"`
	RateLimit *RateLimitConfig `json:"rateLimit,omitempty"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference resolved immediately.
//
// The explicit JSON reference syntax is used instead of $VAR substitution so
// that shells and CI scripts never expand secrets before the file is parsed.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
