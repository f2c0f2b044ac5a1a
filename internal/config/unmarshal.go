package config

import (
	"encoding/json"
	"fmt"
	"time"
)

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}

// UnmarshalJSON implements custom unmarshaling for AuthConfig
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		EncryptionKey             json.RawMessage  `json:"encryptionKey"`
		SessionTTL                string           `json:"sessionTtl"`
		NativeSessionTTL          string           `json:"nativeSessionTtl"`
		CallbackTokenTTL          string           `json:"callbackTokenTtl"`
		CleanupInterval           string           `json:"cleanupInterval"`
		AllowedDomains            []string         `json:"allowedDomains"`
		Storage                   StorageKind      `json:"storage"`
		GCPProject                json.RawMessage  `json:"gcpProject"`
		FirestoreDatabase         string           `json:"firestoreDatabase"`
		FirestoreCollectionPrefix string           `json:"firestoreCollectionPrefix"`
		Providers                 []ProviderConfig `json:"providers"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.AllowedDomains = raw.AllowedDomains
	a.Storage = raw.Storage
	a.FirestoreDatabase = raw.FirestoreDatabase
	a.FirestoreCollectionPrefix = raw.FirestoreCollectionPrefix
	a.Providers = raw.Providers

	if raw.EncryptionKey != nil {
		value, err := ParseConfigValue(raw.EncryptionKey)
		if err != nil {
			return fmt.Errorf("parsing encryptionKey: %w", err)
		}
		a.EncryptionKey = Secret(value)
	}

	if raw.GCPProject != nil {
		value, err := ParseConfigValue(raw.GCPProject)
		if err != nil {
			return fmt.Errorf("parsing gcpProject: %w", err)
		}
		a.GCPProject = value
	}

	var err error
	if a.SessionTTL, err = parseDuration("sessionTtl", raw.SessionTTL); err != nil {
		return err
	}
	if a.NativeSessionTTL, err = parseDuration("nativeSessionTtl", raw.NativeSessionTTL); err != nil {
		return err
	}
	if a.CallbackTokenTTL, err = parseDuration("callbackTokenTtl", raw.CallbackTokenTTL); err != nil {
		return err
	}
	if a.CleanupInterval, err = parseDuration("cleanupInterval", raw.CleanupInterval); err != nil {
		return err
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for ProviderConfig
func (p *ProviderConfig) UnmarshalJSON(data []byte) error {
	type rawProvider struct {
		Key              string          `json:"key"`
		Provider         ProviderType    `json:"provider"`
		DisplayName      string          `json:"displayName"`
		ButtonClass      string          `json:"buttonClass"`
		IconClass        string          `json:"iconClass"`
		ClientID         json.RawMessage `json:"clientId"`
		ClientSecret     json.RawMessage `json:"clientSecret"`
		RedirectURI      string          `json:"redirectUri"`
		TenantID         string          `json:"tenantId"`
		Issuer           string          `json:"issuer"`
		AuthorizationURL string          `json:"authorizationUrl"`
		TokenURL         string          `json:"tokenUrl"`
		UserInfoURL      string          `json:"userInfoUrl"`
		Scopes           []string        `json:"scopes"`
	}

	var raw rawProvider
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = ProviderConfig{
		Key:              raw.Key,
		Provider:         raw.Provider,
		DisplayName:      raw.DisplayName,
		ButtonClass:      raw.ButtonClass,
		IconClass:        raw.IconClass,
		RedirectURI:      raw.RedirectURI,
		TenantID:         raw.TenantID,
		Issuer:           raw.Issuer,
		AuthorizationURL: raw.AuthorizationURL,
		TokenURL:         raw.TokenURL,
		UserInfoURL:      raw.UserInfoURL,
		Scopes:           raw.Scopes,
	}

	if raw.ClientID != nil {
		value, err := ParseConfigValue(raw.ClientID)
		if err != nil {
			return fmt.Errorf("provider %s: parsing clientId: %w", raw.Key, err)
		}
		p.ClientID = value
	}

	if raw.ClientSecret != nil {
		value, err := ParseConfigValue(raw.ClientSecret)
		if err != nil {
			return fmt.Errorf("provider %s: parsing clientSecret: %w", raw.Key, err)
		}
		p.ClientSecret = Secret(value)
	}

	return nil
}
