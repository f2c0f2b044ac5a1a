// Package loginview is the controller behind the login page. It observes
// the session status, starts provider logins, and hands an authenticated
// session off to the native app through a deep link.
package loginview

import (
	"context"
	"net/url"
)

// SessionStatus is owned by the SessionService; the view only reads it
type SessionStatus string

const (
	StatusLoading         SessionStatus = "loading"
	StatusUnauthenticated SessionStatus = "unauthenticated"
	StatusAuthenticated   SessionStatus = "authenticated"
)

// Identity is the summary shown for a signed-in user
type Identity struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Picture  string `json:"picture,omitempty"`
	Provider string `json:"provider"`
}

// AuthProvider is one login option
type AuthProvider struct {
	Key         string `json:"key"`
	DisplayName string `json:"name"`
	ButtonClass string `json:"buttonClass,omitempty"`
	IconClass   string `json:"iconClass,omitempty"`
}

// CallbackPayload is the one-time handoff handed to the native app
type CallbackPayload struct {
	SessionKey string
	UserID     string
}

// SessionService reports and changes the current session
type SessionService interface {
	Status() SessionStatus
	// Identity is nil unless Status is authenticated
	Identity() *Identity
	// Subscribe registers fn for status changes and returns an unsubscribe func
	Subscribe(fn func(SessionStatus)) (unsubscribe func())
	Refresh(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// ProviderDirectory lists enabled providers in display order
type ProviderDirectory interface {
	Providers() []AuthProvider
}

// LoginInitiator starts a provider's external login flow, navigating away
type LoginInitiator interface {
	BeginLogin(ctx context.Context, providerKey string) error
}

// TokenIssuer mints a one-time callback payload. A nil payload with a nil
// error means there is nothing to hand off.
type TokenIssuer interface {
	IssueSessionToken(ctx context.Context) (*CallbackPayload, error)
}

// Navigator stands in for the browser's window
type Navigator interface {
	// OpenTop opens uri in the top-level browsing context
	OpenTop(uri string)
	// Assign navigates the current page to uri
	Assign(uri string)
}

// Config is the static part of the view
type Config struct {
	AppName        string
	DeepLinkScheme string
	ContinueURL    string
}

// Deps are the view's collaborators
type Deps struct {
	Session   SessionService
	Providers ProviderDirectory
	Login     LoginInitiator
	Tokens    TokenIssuer
	Navigator Navigator
}

// DeepLink builds <scheme>auth?ck=<sessionKey>&userId=<userId>
func DeepLink(scheme string, payload CallbackPayload) string {
	return scheme + "auth?ck=" + url.QueryEscape(payload.SessionKey) +
		"&userId=" + url.QueryEscape(payload.UserID)
}
