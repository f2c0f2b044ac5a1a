package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTokenMalformed is returned for tokens that are not encoded.signature
	ErrTokenMalformed = errors.New("malformed token")
	// ErrTokenSignature is returned when the signature does not match
	ErrTokenSignature = errors.New("invalid token signature")
	// ErrTokenExpired is returned by Verify when a token is past its expiry
	ErrTokenExpired = errors.New("token expired")
)

// TokenSigner produces compact HMAC-signed JSON tokens. Login state and
// rendered view state travel through the browser in this form.
type TokenSigner struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenSigner creates a new token signer. A zero ttl issues tokens that
// never expire.
func NewTokenSigner(signingKey []byte, ttl time.Duration) TokenSigner {
	return TokenSigner{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

// envelope wraps the payload with issue and expiry times in unix seconds
type envelope struct {
	Data      json.RawMessage `json:"d"`
	IssuedAt  int64           `json:"iat"`
	ExpiresAt int64           `json:"exp,omitempty"`
}

// Sign marshals v and returns base64url(envelope) "." signature
func (ts *TokenSigner) Sign(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	now := ts.now()
	env := envelope{Data: data, IssuedAt: now.Unix()}
	if ts.ttl > 0 {
		env.ExpiresAt = now.Add(ts.ttl).Unix()
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + SignData(encoded, ts.signingKey), nil
}

// Verify checks the signature before decoding anything, then the expiry,
// then unmarshals the payload into v
func (ts *TokenSigner) Verify(token string, v any) error {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return ErrTokenMalformed
	}
	if !ValidateSignedData(encoded, signature, ts.signingKey) {
		return ErrTokenSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if env.ExpiresAt != 0 && ts.now().Unix() >= env.ExpiresAt {
		return ErrTokenExpired
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal token payload: %w", err)
	}
	return nil
}
