package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTokenSignerRoundTrip(t *testing.T) {
	signer := NewTokenSigner([]byte(strings.Repeat("k", 32)), time.Minute)

	token, err := signer.Sign(testPayload{Name: "github", Count: 2})
	require.NoError(t, err)

	var got testPayload
	require.NoError(t, signer.Verify(token, &got))
	assert.Equal(t, testPayload{Name: "github", Count: 2}, got)
}

func TestTokenSignerRejects(t *testing.T) {
	key := []byte(strings.Repeat("k", 32))
	signer := NewTokenSigner(key, time.Minute)
	token, err := signer.Sign(testPayload{Name: "a"})
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		other := NewTokenSigner([]byte(strings.Repeat("x", 32)), time.Minute)
		var got testPayload
		assert.ErrorIs(t, other.Verify(token, &got), ErrTokenSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		encoded, sig, _ := strings.Cut(token, ".")
		tampered := encoded[:len(encoded)-2] + "AA." + sig
		var got testPayload
		assert.ErrorIs(t, signer.Verify(tampered, &got), ErrTokenSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		var got testPayload
		assert.ErrorIs(t, signer.Verify("no-dot-here", &got), ErrTokenMalformed)
		assert.ErrorIs(t, signer.Verify(".sig", &got), ErrTokenMalformed)
	})

	t.Run("expired", func(t *testing.T) {
		issued := time.Unix(1_700_000_000, 0)
		short := NewTokenSigner(key, time.Minute)
		short.now = func() time.Time { return issued }
		token, err := short.Sign(testPayload{Name: "a"})
		require.NoError(t, err)

		var got testPayload
		short.now = func() time.Time { return issued.Add(59 * time.Second) }
		require.NoError(t, short.Verify(token, &got))

		short.now = func() time.Time { return issued.Add(time.Minute) }
		assert.ErrorIs(t, short.Verify(token, &got), ErrTokenExpired)
	})
}

func TestTokenSignerWithoutTTLNeverExpires(t *testing.T) {
	signer := NewTokenSigner([]byte("key"), 0)
	token, err := signer.Sign(testPayload{Name: "forever"})
	require.NoError(t, err)

	var got testPayload
	require.NoError(t, signer.Verify(token, &got))
	assert.Equal(t, "forever", got.Name)
}
