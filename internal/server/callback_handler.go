package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/handoff/internal/browserauth"
	"github.com/dgellow/handoff/internal/cookie"
	"github.com/dgellow/handoff/internal/emailutil"
	"github.com/dgellow/handoff/internal/idp"
	jsonwriter "github.com/dgellow/handoff/internal/json"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/metrics"
	"github.com/dgellow/handoff/internal/session"
	"github.com/dgellow/handoff/internal/storage"
)

// codeExchangeTimeout bounds the token exchange and user info calls
const codeExchangeTimeout = 30 * time.Second

// CallbackHandler completes provider logins (GET /oauth/callback/{provider})
type CallbackHandler struct {
	directory      *idp.Directory
	initiator      *browserauth.Initiator
	store          storage.Storage
	sessions       *session.Service
	allowedDomains []string
	metrics        *metrics.Metrics
}

// NewCallbackHandler creates the provider callback handler
func NewCallbackHandler(
	directory *idp.Directory,
	initiator *browserauth.Initiator,
	store storage.Storage,
	sessions *session.Service,
	allowedDomains []string,
	m *metrics.Metrics,
) *CallbackHandler {
	return &CallbackHandler{
		directory:      directory,
		initiator:      initiator,
		store:          store,
		sessions:       sessions,
		allowedDomains: allowedDomains,
		metrics:        m,
	}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	providerKey := r.PathValue("provider")
	query := r.URL.Query()

	entry, ok := h.directory.Lookup(providerKey)
	if !ok {
		jsonwriter.WriteNotFound(w, "Unknown provider")
		return
	}

	if errMsg := query.Get("error"); errMsg != "" {
		log.LogWarnWithFields("callback", "Provider returned an error", map[string]any{
			"provider":    providerKey,
			"error":       errMsg,
			"description": query.Get("error_description"),
		})
		h.count(providerKey, metrics.OutcomeDenied)
		cookie.ClearState(w)
		jsonwriter.WriteBadRequest(w, fmt.Sprintf("Authentication failed: %s", errMsg))
		return
	}

	state, code := query.Get("state"), query.Get("code")
	if state == "" || code == "" {
		jsonwriter.WriteBadRequest(w, "Invalid callback parameters")
		return
	}

	authState, err := h.initiator.Verify(r, providerKey, state)
	if err != nil {
		log.LogWarnWithFields("callback", "Rejected callback state", map[string]any{
			"provider": providerKey,
			"error":    err.Error(),
		})
		h.count(providerKey, metrics.OutcomeFailure)
		jsonwriter.WriteBadRequest(w, "Invalid state parameter")
		return
	}
	cookie.ClearState(w)

	ctx, cancel := context.WithTimeout(r.Context(), codeExchangeTimeout)
	defer cancel()

	user, err := h.authenticate(ctx, providerKey, entry.Provider, code)
	if err != nil {
		if errors.Is(err, idp.ErrDomainNotAllowed) {
			h.count(providerKey, metrics.OutcomeDenied)
			jsonwriter.WriteForbidden(w, "Access denied")
			return
		}
		log.LogErrorWithFields("callback", "Login failed", map[string]any{
			"provider": providerKey,
			"error":    err.Error(),
		})
		h.count(providerKey, metrics.OutcomeFailure)
		jsonwriter.WriteInternalServerError(w, "Authentication failed")
		return
	}

	if _, err := h.sessions.Create(ctx, w, user, storage.SessionBrowser); err != nil {
		log.LogErrorWithFields("callback", "Failed to create session", map[string]any{
			"user":  user.ID,
			"error": err.Error(),
		})
		h.count(providerKey, metrics.OutcomeFailure)
		jsonwriter.WriteInternalServerError(w, "Failed to create session")
		return
	}

	h.count(providerKey, metrics.OutcomeSuccess)
	http.Redirect(w, r, authState.ReturnURL, http.StatusFound)
}

// authenticate exchanges the code, checks the domain and records the user
func (h *CallbackHandler) authenticate(ctx context.Context, providerKey string, provider idp.Provider, code string) (*storage.User, error) {
	token, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	identity, err := provider.UserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}

	if err := idp.ValidateDomain(identity.Domain, h.allowedDomains); err != nil {
		log.LogWarnWithFields("callback", "Domain not allowed", map[string]any{
			"provider": providerKey,
			"email":    emailutil.Redact(identity.Email),
		})
		return nil, err
	}

	user, err := h.store.UpsertUser(ctx, providerKey, *identity)
	if err != nil {
		return nil, fmt.Errorf("storing user: %w", err)
	}

	log.LogInfoWithFields("callback", "User authenticated", map[string]any{
		"provider": providerKey,
		"user":     user.ID,
		"email":    emailutil.Redact(user.Email),
	})
	return user, nil
}

func (h *CallbackHandler) count(providerKey, outcome string) {
	if h.metrics != nil {
		h.metrics.LoginsCompleted.WithLabelValues(providerKey, outcome).Inc()
	}
}
