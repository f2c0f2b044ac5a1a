package callbacktoken

import (
	"context"
	"testing"
	"time"

	"github.com/dgellow/handoff/internal/crypto"
	"github.com/dgellow/handoff/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndRedeem(t *testing.T) {
	store := storage.NewMemoryStorage()
	issuer := NewIssuer(store, 5*time.Minute)
	ctx := context.Background()

	payload, err := issuer.Issue(ctx, "user-42")
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "user-42", payload.UserID)
	assert.Len(t, payload.SessionKey, 43)

	userID, err := issuer.Redeem(ctx, payload.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)

	_, err = issuer.Redeem(ctx, payload.SessionKey)
	assert.ErrorIs(t, err, ErrInvalidKey, "keys are single use")
}

func TestStoresOnlyHash(t *testing.T) {
	store := storage.NewMemoryStorage()
	issuer := NewIssuer(store, 5*time.Minute)
	ctx := context.Background()

	payload, err := issuer.Issue(ctx, "user-42")
	require.NoError(t, err)

	_, err = store.ConsumeCallbackToken(ctx, payload.SessionKey)
	assert.ErrorIs(t, err, storage.ErrCallbackTokenNotFound, "the raw key is not a storage key")

	token, err := store.ConsumeCallbackToken(ctx, crypto.HashToken(payload.SessionKey))
	require.NoError(t, err)
	assert.Equal(t, "user-42", token.UserID)
}

func TestIssueWithoutUser(t *testing.T) {
	issuer := NewIssuer(storage.NewMemoryStorage(), time.Minute)

	payload, err := issuer.Issue(context.Background(), "")

	assert.NoError(t, err)
	assert.Nil(t, payload)
}

func TestRedeemExpired(t *testing.T) {
	issuer := NewIssuer(storage.NewMemoryStorage(), time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	payload, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = issuer.Redeem(context.Background(), payload.SessionKey)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRedeemUnknown(t *testing.T) {
	issuer := NewIssuer(storage.NewMemoryStorage(), time.Minute)

	_, err := issuer.Redeem(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = issuer.Redeem(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestForUser(t *testing.T) {
	issuer := NewIssuer(storage.NewMemoryStorage(), time.Minute)
	current := ""
	bound := issuer.ForUser(func() string { return current })

	payload, err := bound.IssueSessionToken(context.Background())
	require.NoError(t, err)
	assert.Nil(t, payload, "no user, nothing to hand off")

	current = "user-7"
	payload, err = bound.IssueSessionToken(context.Background())
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "user-7", payload.UserID)
}
