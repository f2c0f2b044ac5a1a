package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dgellow/handoff/internal/idp"
)

// ErrUserNotFound is returned when a user doesn't exist
var ErrUserNotFound = errors.New("user not found")

// ErrSessionNotFound is returned when a session doesn't exist or has expired
var ErrSessionNotFound = errors.New("session not found")

// ErrCallbackTokenNotFound is returned when a callback token is unknown,
// already consumed, or expired
var ErrCallbackTokenNotFound = errors.New("callback token not found")

// User is someone who has signed in through a provider. A user is
// identified by the (Provider, Subject) pair; ID is our own stable id.
type User struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Subject   string    `json:"subject"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Picture   string    `json:"picture,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionKind distinguishes browser cookies from tokens handed to the native app
type SessionKind string

const (
	SessionBrowser SessionKind = "browser"
	SessionNative  SessionKind = "native"
)

// Session is a signed-in session. ID is the SHA-256 hash of the opaque
// token the client holds, never the token itself.
type Session struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Provider  string      `json:"provider"`
	Kind      SessionKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CallbackToken is a one-time handoff key awaiting redemption by the native app
type CallbackToken struct {
	KeyHash   string    `json:"key_hash"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Storage is the persistence layer used by handoff
type Storage interface {
	// UpsertUser creates the user on first sign-in and refreshes profile
	// fields and LastSeen afterwards.
	UpsertUser(ctx context.Context, providerKey string, identity idp.Identity) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)

	CreateSession(ctx context.Context, session *Session) error
	// GetSession returns ErrSessionNotFound for missing and expired sessions
	GetSession(ctx context.Context, id string) (*Session, error)
	// DeleteSession is idempotent
	DeleteSession(ctx context.Context, id string) error

	StoreCallbackToken(ctx context.Context, token *CallbackToken) error
	// ConsumeCallbackToken atomically removes and returns the token.
	// A second call for the same hash returns ErrCallbackTokenNotFound.
	ConsumeCallbackToken(ctx context.Context, keyHash string) (*CallbackToken, error)

	// CleanupExpired deletes expired sessions and callback tokens
	CleanupExpired(ctx context.Context) (CleanupResult, error)

	Close() error
}

// CleanupResult counts the records one cleanup pass removed
type CleanupResult struct {
	Sessions       int
	CallbackTokens int
}

// Total is the number of records removed
func (r CleanupResult) Total() int {
	return r.Sessions + r.CallbackTokens
}

func userKey(providerKey, subject string) string {
	return providerKey + ":" + subject
}
