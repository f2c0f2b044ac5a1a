// Package callbacktoken mints and redeems the one-time keys that hand a
// browser session off to the native app.
package callbacktoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/handoff/internal/crypto"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/loginview"
	"github.com/dgellow/handoff/internal/storage"
)

// ErrInvalidKey is returned for unknown, consumed or expired keys
var ErrInvalidKey = errors.New("invalid or expired callback key")

// Issuer mints one-time callback keys. Only the key's hash is stored.
type Issuer struct {
	store storage.Storage
	ttl   time.Duration
	now   func() time.Time
}

// NewIssuer creates an issuer with the given key lifetime
func NewIssuer(store storage.Storage, ttl time.Duration) *Issuer {
	return &Issuer{store: store, ttl: ttl, now: time.Now}
}

// Issue mints a key for userID. An empty userID yields nil, nil.
func (i *Issuer) Issue(ctx context.Context, userID string) (*loginview.CallbackPayload, error) {
	if userID == "" {
		return nil, nil
	}

	key, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	now := i.now()
	err = i.store.StoreCallbackToken(ctx, &storage.CallbackToken{
		KeyHash:   crypto.HashToken(key),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("storing callback token: %w", err)
	}

	log.LogDebugWithFields("callbacktoken", "Callback key issued", map[string]any{
		"user": userID,
		"ttl":  i.ttl.String(),
	})
	return &loginview.CallbackPayload{SessionKey: key, UserID: userID}, nil
}

// Redeem consumes key and returns the user it was issued for
func (i *Issuer) Redeem(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	token, err := i.store.ConsumeCallbackToken(ctx, crypto.HashToken(key))
	if err != nil {
		if errors.Is(err, storage.ErrCallbackTokenNotFound) {
			return "", ErrInvalidKey
		}
		return "", fmt.Errorf("consuming callback token: %w", err)
	}
	return token.UserID, nil
}

// ForUser binds the issuer to a user resolved at issuance time
func (i *Issuer) ForUser(userID func() string) loginview.TokenIssuer {
	return boundIssuer{issuer: i, userID: userID}
}

type boundIssuer struct {
	issuer *Issuer
	userID func() string
}

func (b boundIssuer) IssueSessionToken(ctx context.Context) (*loginview.CallbackPayload, error) {
	return b.issuer.Issue(ctx, b.userID())
}
