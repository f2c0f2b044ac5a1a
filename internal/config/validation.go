package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	data, err = normalizeConfig(path, data)
	if err != nil {
		result.addError("", "%v", err)
		return result, nil
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", VersionPrefix)
	} else if !strings.HasPrefix(version, VersionPrefix) {
		result.addError("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, VersionPrefix, VersionPrefix)
	}

	validateServerStructure(rawConfig, result)
	validateAppStructure(rawConfig, result)
	validateAuthStructure(rawConfig, result)

	return result, nil
}

func validateServerStructure(rawConfig map[string]any, result *ValidationResult) {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		result.addError("server", "server field is required and must be an object")
		return
	}
	if _, ok := server["baseURL"].(string); !ok {
		result.addError("server.baseURL", "baseURL is required. Example: \"https://auth.example.com\"")
	}
}

func validateAppStructure(rawConfig map[string]any, result *ValidationResult) {
	app, ok := rawConfig["app"].(map[string]any)
	if !ok {
		result.addError("app", "app field is required and must be an object")
		return
	}
	scheme, ok := app["deepLinkScheme"].(string)
	if !ok {
		result.addError("app.deepLinkScheme", "deepLinkScheme is required. Example: \"myapp://\"")
		return
	}
	if !schemeRegex.MatchString(scheme) {
		result.addError("app.deepLinkScheme", "'%s' is not a URL scheme prefix. Example: \"myapp://\"", scheme)
	}
}

func validateAuthStructure(rawConfig map[string]any, result *ValidationResult) {
	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		result.addError("auth", "auth field is required and must be an object")
		return
	}

	if key, exists := auth["encryptionKey"]; !exists {
		result.addError("auth.encryptionKey", "encryptionKey is required. Hint: {\"$env\": \"HANDOFF_ENCRYPTION_KEY\"}")
	} else {
		validateSecretReference(key, "auth.encryptionKey", result)
	}

	for _, field := range []string{"sessionTtl", "nativeSessionTtl", "callbackTokenTtl", "cleanupInterval"} {
		raw, exists := auth[field]
		if !exists {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			result.addError("auth."+field, "must be a duration string like \"5m\"")
			continue
		}
		if d, err := time.ParseDuration(s); err != nil {
			result.addError("auth."+field, "invalid duration '%s': %v", s, err)
		} else if d <= 0 {
			result.addError("auth."+field, "must be positive")
		}
	}

	if storage, ok := auth["storage"].(string); ok {
		switch StorageKind(storage) {
		case StorageMemory:
			result.addWarning("auth.storage", "memory storage loses users and sessions on restart")
		case StorageFirestore:
			if _, exists := auth["gcpProject"]; !exists {
				result.addError("auth.gcpProject", "gcpProject is required when storage is firestore")
			}
		default:
			result.addError("auth.storage", "unknown storage '%s' - use 'memory' or 'firestore'", storage)
		}
	}

	providers, ok := auth["providers"].([]any)
	if !ok || len(providers) == 0 {
		result.addError("auth.providers", "at least one provider is required")
		return
	}

	keys := make(map[string]bool)
	for i, raw := range providers {
		path := fmt.Sprintf("auth.providers[%d]", i)
		provider, ok := raw.(map[string]any)
		if !ok {
			result.addError(path, "provider must be an object")
			continue
		}
		validateProviderStructure(provider, path, keys, result)
	}
}

func validateProviderStructure(provider map[string]any, path string, keys map[string]bool, result *ValidationResult) {
	providerType, _ := provider["provider"].(string)
	switch ProviderType(providerType) {
	case ProviderGitHub, ProviderGoogle:
	case ProviderAzure:
		if _, ok := provider["tenantId"].(string); !ok {
			result.addError(path+".tenantId", "tenantId is required for azure providers")
		}
	case ProviderOIDC:
		_, hasIssuer := provider["issuer"].(string)
		_, hasAuth := provider["authorizationUrl"].(string)
		_, hasToken := provider["tokenUrl"].(string)
		_, hasUserInfo := provider["userInfoUrl"].(string)
		if !hasIssuer && !(hasAuth && hasToken && hasUserInfo) {
			result.addError(path, "oidc providers need issuer or authorizationUrl, tokenUrl and userInfoUrl")
		}
	default:
		result.addError(path+".provider", "unknown provider '%s' - use github, google, azure or oidc", providerType)
	}

	key, _ := provider["key"].(string)
	if key == "" {
		key = providerType
	}
	if key != "" {
		if !providerKeyRegex.MatchString(key) {
			result.addError(path+".key", "'%s' must be lowercase letters, digits, '-' or '_'", key)
		}
		if keys[key] {
			result.addError(path+".key", "duplicate provider key '%s'", key)
		}
		keys[key] = true
	}

	if _, exists := provider["clientId"]; !exists {
		result.addError(path+".clientId", "clientId is required")
	}
	if secret, exists := provider["clientSecret"]; !exists {
		result.addError(path+".clientSecret", "clientSecret is required")
	} else {
		validateSecretReference(secret, path+".clientSecret", result)
	}
}

// validateSecretReference requires secrets to come from the environment
func validateSecretReference(secret any, path string, result *ValidationResult) {
	switch v := secret.(type) {
	case string:
		result.addError(path, "secrets must use {\"$env\": \"VAR_NAME\"} instead of a literal value")
	case map[string]any:
		if _, ok := v["$env"].(string); !ok {
			result.addError(path, "secret reference must have the form {\"$env\": \"VAR_NAME\"}")
		}
	default:
		result.addError(path, "secret must be an environment reference object")
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI and ensures unambiguous parsing", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
