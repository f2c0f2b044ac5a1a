package emailutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase email",
			input:    "user@example.com",
			expected: "user@example.com",
		},
		{
			name:     "uppercase email",
			input:    "USER@EXAMPLE.COM",
			expected: "user@example.com",
		},
		{
			name:     "mixed case email",
			input:    "User@Example.Com",
			expected: "user@example.com",
		},
		{
			name:     "email with leading whitespace",
			input:    "  user@example.com",
			expected: "user@example.com",
		},
		{
			name:     "email with trailing whitespace",
			input:    "user@example.com  ",
			expected: "user@example.com",
		},
		{
			name:     "email with surrounding whitespace",
			input:    "  User@Example.Com  ",
			expected: "user@example.com",
		},
		{
			name:     "email with tabs and newlines",
			input:    "\t\nUser@Example.Com\n\t",
			expected: "user@example.com",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "only whitespace",
			input:    "   \t\n   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.input)
			assert.Equal(t, tt.expected, result, "Normalize(%q)", tt.input)
		})
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"user@example.com", "example.com"},
		{"User@Example.COM", "example.com"},
		{"no-at-sign", ""},
		{"@example.com", ""},
		{"user@", ""},
		{"a@b@c", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractDomain(tt.input))
		})
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "a***@example.com", Redact("alice@example.com"))
	assert.Equal(t, "***", Redact("not-an-email"))
	assert.Equal(t, "***", Redact(""))
}
