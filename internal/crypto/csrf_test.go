package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFProtection(t *testing.T) {
	csrf := NewCSRFProtection([]byte(strings.Repeat("c", 32)), time.Hour)

	binding, err := csrf.NewBinding()
	require.NoError(t, err)

	token, err := csrf.Generate(binding)
	require.NoError(t, err)
	assert.True(t, csrf.Validate(token, binding))

	tests := []struct {
		name    string
		token   string
		binding string
	}{
		{"empty token", "", binding},
		{"too few parts", "a:b", binding},
		{"tampered signature", token + "x", binding},
		{"other browser", token, "someone-else"},
		{"no binding", token, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, csrf.Validate(tt.token, tt.binding))
		})
	}

	other := NewCSRFProtection([]byte(strings.Repeat("d", 32)), time.Hour)
	assert.False(t, other.Validate(token, binding))
}

func TestCSRFProtectionRequiresBinding(t *testing.T) {
	csrf := NewCSRFProtection([]byte(strings.Repeat("c", 32)), time.Hour)
	_, err := csrf.Generate("")
	assert.Error(t, err)
}

func TestCSRFProtectionExpiry(t *testing.T) {
	csrf := NewCSRFProtection([]byte(strings.Repeat("c", 32)), time.Minute)
	issued := time.Unix(1_700_000_000, 0)
	csrf.now = func() time.Time { return issued }

	token, err := csrf.Generate("browser")
	require.NoError(t, err)

	csrf.now = func() time.Time { return issued.Add(59 * time.Second) }
	assert.True(t, csrf.Validate(token, "browser"))

	csrf.now = func() time.Time { return issued.Add(2 * time.Minute) }
	assert.False(t, csrf.Validate(token, "browser"))
}
