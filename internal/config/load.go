package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/urlutil"
	"gopkg.in/yaml.v3"
)

var (
	providerKeyRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	schemeRegex      = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:(//)?$`)
)

// Load loads and processes the config with immediate env var resolution.
// Files ending in .yaml or .yml are accepted and normalized to JSON first.
func Load(path string) (Config, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return Config{}, err
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, VersionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := ApplyDefaults(&config); err != nil {
		return Config{}, fmt.Errorf("applying defaults: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// readConfigFile returns the file content as JSON bytes
func readConfigFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return normalizeConfig(path, data)
}

// normalizeConfig converts YAML documents to JSON based on the file extension
func normalizeConfig(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("converting YAML config: %w", err)
		}
		return out, nil
	}
	return data, nil
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		return nil
	}

	if value, exists := auth["encryptionKey"]; exists {
		if err := requireEnvRef("auth.encryptionKey", value); err != nil {
			return err
		}
	}

	providers, _ := auth["providers"].([]any)
	for i, p := range providers {
		provider, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if value, exists := provider["clientSecret"]; exists {
			if err := requireEnvRef(fmt.Sprintf("auth.providers[%d].clientSecret", i), value); err != nil {
				return err
			}
		}
	}
	return nil
}

func requireEnvRef(path string, value any) error {
	if _, isString := value.(string); isString {
		return fmt.Errorf("%s must use environment variable reference for security", path)
	}
	if refMap, isMap := value.(map[string]any); isMap {
		if _, hasEnv := refMap["$env"]; !hasEnv {
			return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", path)
		}
	}
	return nil
}

// ApplyDefaults fills optional fields. It is exported so tests and callers
// building a Config in code get the same values a loaded file would.
func ApplyDefaults(config *Config) error {
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.BasePath == "" {
		config.Server.BasePath = "/"
	}
	if !strings.HasPrefix(config.Server.BasePath, "/") {
		config.Server.BasePath = "/" + config.Server.BasePath
	}
	if len(config.Server.BasePath) > 1 {
		config.Server.BasePath = strings.TrimSuffix(config.Server.BasePath, "/")
	}

	if config.App.Name == "" {
		config.App.Name = "Handoff"
	}
	if config.App.ContinueURL == "" {
		config.App.ContinueURL = config.Server.BasePath
	}

	auth := &config.Auth
	if auth.SessionTTL == 0 {
		auth.SessionTTL = 30 * 24 * time.Hour
	}
	if auth.NativeSessionTTL == 0 {
		auth.NativeSessionTTL = 30 * 24 * time.Hour
	}
	if auth.CallbackTokenTTL == 0 {
		auth.CallbackTokenTTL = 5 * time.Minute
	}
	if auth.CleanupInterval == 0 {
		auth.CleanupInterval = 10 * time.Minute
	}
	if auth.Storage == "" {
		auth.Storage = StorageMemory
	}
	if auth.FirestoreCollectionPrefix == "" {
		auth.FirestoreCollectionPrefix = "handoff"
	}

	for i := range auth.Providers {
		p := &auth.Providers[i]
		if p.Key == "" {
			p.Key = string(p.Provider)
		}
		if p.DisplayName == "" {
			p.DisplayName = defaultDisplayName(p)
		}
		if p.ButtonClass == "" {
			p.ButtonClass = "provider-" + p.Key
		}
		if p.IconClass == "" {
			p.IconClass = "icon-" + string(p.Provider)
		}
		if p.RedirectURI == "" && config.Server.BaseURL != "" {
			redirect, err := urlutil.JoinPath(config.Server.BaseURL, config.Server.BasePath, "oauth", "callback", p.Key)
			if err != nil {
				return fmt.Errorf("provider %s: building redirect URI: %w", p.Key, err)
			}
			p.RedirectURI = redirect
		}
	}

	if config.RateLimit == nil {
		config.RateLimit = &RateLimitConfig{RequestsPerMinute: 30, Burst: 10}
	}

	return nil
}

func defaultDisplayName(p *ProviderConfig) string {
	switch p.Provider {
	case ProviderGitHub:
		return "GitHub"
	case ProviderGoogle:
		return "Google"
	case ProviderAzure:
		return "Microsoft"
	default:
		return p.Key
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	u, err := url.Parse(config.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.baseURL must be an absolute URL")
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if config.App.DeepLinkScheme == "" {
		return fmt.Errorf("app.deepLinkScheme is required")
	}
	if !schemeRegex.MatchString(config.App.DeepLinkScheme) {
		return fmt.Errorf("app.deepLinkScheme %q must look like \"myapp://\"", config.App.DeepLinkScheme)
	}

	if err := validateAuthConfig(&config.Auth); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if rl := config.RateLimit; rl != nil {
		if rl.RequestsPerMinute <= 0 {
			return fmt.Errorf("rateLimit.requestsPerMinute must be positive")
		}
		if rl.Burst <= 0 {
			return fmt.Errorf("rateLimit.burst must be positive")
		}
	}

	return nil
}

func validateAuthConfig(auth *AuthConfig) error {
	if len(auth.EncryptionKey) < 32 {
		return fmt.Errorf("encryptionKey must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(auth.EncryptionKey))
	}
	if auth.SessionTTL < 0 || auth.NativeSessionTTL < 0 || auth.CallbackTokenTTL < 0 {
		return fmt.Errorf("ttl values cannot be negative")
	}
	if auth.CallbackTokenTTL > time.Hour {
		log.LogWarn("callbackTokenTtl is longer than an hour; handoff keys are meant to be short-lived")
	}
	if auth.CleanupInterval < 0 {
		return fmt.Errorf("cleanupInterval cannot be negative")
	}

	switch auth.Storage {
	case StorageMemory:
	case StorageFirestore:
		if auth.GCPProject == "" {
			return fmt.Errorf("gcpProject is required when using firestore storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (memory or firestore)", auth.Storage)
	}

	if len(auth.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}

	seen := make(map[string]bool, len(auth.Providers))
	for i := range auth.Providers {
		p := &auth.Providers[i]
		if !providerKeyRegex.MatchString(p.Key) {
			return fmt.Errorf("provider key %q must be lowercase letters, digits, '-' or '_'", p.Key)
		}
		if seen[p.Key] {
			return fmt.Errorf("duplicate provider key %q", p.Key)
		}
		seen[p.Key] = true

		if err := validateProvider(p); err != nil {
			return fmt.Errorf("provider %s: %w", p.Key, err)
		}
	}
	return nil
}

func validateProvider(p *ProviderConfig) error {
	if p.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	if p.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}

	switch p.Provider {
	case ProviderGitHub, ProviderGoogle:
	case ProviderAzure:
		if p.TenantID == "" {
			return fmt.Errorf("tenantId is required for azure")
		}
	case ProviderOIDC:
		hasEndpoints := p.AuthorizationURL != "" && p.TokenURL != "" && p.UserInfoURL != ""
		if p.Issuer == "" && !hasEndpoints {
			return fmt.Errorf("either issuer or all endpoints (authorizationUrl, tokenUrl, userInfoUrl) must be provided")
		}
	default:
		return fmt.Errorf("unknown provider type %q", p.Provider)
	}
	return nil
}
