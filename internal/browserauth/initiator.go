// Package browserauth starts provider logins from the browser and verifies
// the state parameter when the provider redirects back.
package browserauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/handoff/internal/cookie"
	"github.com/dgellow/handoff/internal/crypto"
	"github.com/dgellow/handoff/internal/idp"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/loginview"
	"github.com/dgellow/handoff/internal/urlutil"
)

// StateTTL bounds how long a user may spend at the provider
const StateTTL = 10 * time.Minute

var (
	// ErrUnknownProvider is returned for provider keys not in the directory
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrInvalidState covers forged, expired, replayed or mismatched state
	ErrInvalidState = errors.New("invalid authorization state")
)

// AuthorizationState represents the OAuth authorization code flow state parameter
type AuthorizationState struct {
	Nonce     string `json:"nonce"`
	Provider  string `json:"provider"`
	ReturnURL string `json:"return_url"`
}

// Initiator builds provider authorization redirects
type Initiator struct {
	directory *idp.Directory
	signer    crypto.TokenSigner
	loginPath string
}

// NewInitiator creates an initiator. loginPath is where unknown providers
// and callbacks without a return URL end up.
func NewInitiator(directory *idp.Directory, stateKey []byte, loginPath string) *Initiator {
	return &Initiator{
		directory: directory,
		signer:    crypto.NewTokenSigner(stateKey, StateTTL),
		loginPath: loginPath,
	}
}

// ForRequest returns a LoginInitiator that sets the nonce cookie on w and
// navigates through nav. returnURL must be a local path; anything else is
// replaced by the login page.
func (i *Initiator) ForRequest(w http.ResponseWriter, nav loginview.Navigator, returnURL string) loginview.LoginInitiator {
	return &requestInitiator{
		initiator: i,
		w:         w,
		nav:       nav,
		returnURL: urlutil.LocalPath(returnURL, i.loginPath),
	}
}

type requestInitiator struct {
	initiator *Initiator
	w         http.ResponseWriter
	nav       loginview.Navigator
	returnURL string
}

func (r *requestInitiator) BeginLogin(_ context.Context, providerKey string) error {
	entry, ok := r.initiator.directory.Lookup(providerKey)
	if !ok {
		r.nav.Assign(r.initiator.loginPath)
		return fmt.Errorf("%w: %q", ErrUnknownProvider, providerKey)
	}

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	state, err := r.initiator.signer.Sign(AuthorizationState{
		Nonce:     nonce,
		Provider:  providerKey,
		ReturnURL: r.returnURL,
	})
	if err != nil {
		return fmt.Errorf("signing state: %w", err)
	}

	cookie.SetState(r.w, nonce, StateTTL)
	r.nav.Assign(entry.Provider.AuthURL(state))

	log.LogDebugWithFields("browserauth", "Redirecting to provider", map[string]any{
		"provider": providerKey,
	})
	return nil
}

// Verify checks the state returned by the provider against the signature,
// the TTL, the callback's provider and the nonce cookie
func (i *Initiator) Verify(r *http.Request, providerKey, state string) (*AuthorizationState, error) {
	var s AuthorizationState
	if err := i.signer.Verify(state, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if s.Provider != providerKey {
		return nil, fmt.Errorf("%w: issued for provider %q", ErrInvalidState, s.Provider)
	}

	nonce, err := cookie.GetState(r)
	if err != nil || nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce cookie", ErrInvalidState)
	}
	if subtle.ConstantTimeCompare([]byte(nonce), []byte(s.Nonce)) != 1 {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidState)
	}

	s.ReturnURL = urlutil.LocalPath(s.ReturnURL, i.loginPath)
	return &s, nil
}
