package urlutil

import (
	"testing"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		paths   []string
		want    string
		wantErr bool
	}{
		{
			name:  "simple join",
			base:  "https://example.com",
			paths: []string{"api", "v1"},
			want:  "https://example.com/api/v1",
		},
		{
			name:  "base with path",
			base:  "https://example.com/base",
			paths: []string{"api", "v1"},
			want:  "https://example.com/base/api/v1",
		},
		{
			name:  "trailing slash preserved",
			base:  "https://example.com",
			paths: []string{"api", "v1/"},
			want:  "https://example.com/api/v1/",
		},
		{
			name:  "callback path",
			base:  "https://auth.example.com",
			paths: []string{"/", "oauth", "callback", "github"},
			want:  "https://auth.example.com/oauth/callback/github",
		},
		{
			name:  "empty paths",
			base:  "https://example.com",
			paths: []string{},
			want:  "https://example.com",
		},
		{
			name:  "base with trailing slash",
			base:  "https://example.com/",
			paths: []string{"api"},
			want:  "https://example.com/api",
		},
		{
			name:    "invalid base URL",
			base:    "://invalid",
			paths:   []string{"api"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			if (err != nil) != tt.wantErr {
				t.Errorf("JoinPath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("JoinPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMustJoinPath(t *testing.T) {
	// Test normal operation
	result := MustJoinPath("https://example.com", "api", "v1")
	if result != "https://example.com/api/v1" {
		t.Errorf("MustJoinPath() = %v, want %v", result, "https://example.com/api/v1")
	}

	// Test panic on invalid URL
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("MustJoinPath() should have panicked")
		}
	}()
	MustJoinPath("://invalid", "api")
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "", want: "/login"},
		{name: "absolute path", raw: "/login?provider=github", want: "/login?provider=github"},
		{name: "relative path", raw: "login", want: "/login"},
		{name: "absolute URL", raw: "https://evil.example.com/", want: "/login"},
		{name: "scheme relative", raw: "//evil.example.com", want: "/login"},
		{name: "backslash trick", raw: "/\\evil.example.com", want: "/login"},
		{name: "deep path", raw: "/app/settings", want: "/app/settings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LocalPath(tt.raw, "/login"); got != tt.want {
				t.Errorf("LocalPath(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestWithQuery(t *testing.T) {
	got, err := WithQuery("/login?provider=github", "error", "access denied")
	if err != nil {
		t.Fatalf("WithQuery() error = %v", err)
	}
	if got != "/login?error=access+denied&provider=github" {
		t.Errorf("WithQuery() = %q", got)
	}
}
