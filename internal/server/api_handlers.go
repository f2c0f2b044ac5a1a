package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dgellow/handoff/internal/callbacktoken"
	jsonwriter "github.com/dgellow/handoff/internal/json"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/loginview"
	"github.com/dgellow/handoff/internal/metrics"
	"github.com/dgellow/handoff/internal/session"
	"github.com/dgellow/handoff/internal/storage"
)

// maxRedeemBody bounds the redeem request body
const maxRedeemBody = 4 << 10

// SessionResponse is the body of GET /api/session
type SessionResponse struct {
	Status loginview.SessionStatus `json:"status"`
	User   *loginview.Identity     `json:"user,omitempty"`
}

// ProviderInfo is one value of GET /api/auth/providers
type ProviderInfo struct {
	Name string `json:"name"`
}

// RedeemRequest is the body of POST /api/handoff/redeem
type RedeemRequest struct {
	CallbackKey string `json:"ck"`
	// UserID is optional; when sent it must match the key's user
	UserID string `json:"userId,omitempty"`
}

// RedeemResponse carries the native session minted for the app
type RedeemResponse struct {
	UserID       string    `json:"userId"`
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// APIHandlers serve the JSON endpoints used by scripts and the native app
type APIHandlers struct {
	sessions  *session.Service
	providers loginview.ProviderDirectory
	issuer    *callbacktoken.Issuer
	store     storage.Storage
	metrics   *metrics.Metrics
}

// NewAPIHandlers creates the JSON API handlers
func NewAPIHandlers(sessions *session.Service, providers loginview.ProviderDirectory, issuer *callbacktoken.Issuer, store storage.Storage, m *metrics.Metrics) *APIHandlers {
	return &APIHandlers{
		sessions:  sessions,
		providers: providers,
		issuer:    issuer,
		store:     store,
		metrics:   m,
	}
}

// SessionStatus reports the browser session (GET /api/session)
func (h *APIHandlers) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.ForRequest(w, r)
	if err := sess.Refresh(r.Context()); err != nil {
		log.LogErrorWithFields("api", "Failed to load session", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to load session")
		return
	}
	_ = jsonwriter.Write(w, SessionResponse{
		Status: sess.Status(),
		User:   sess.Identity(),
	})
}

// ListProviders maps provider keys to display names (GET /api/auth/providers)
func (h *APIHandlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.providers.Providers()
	out := make(map[string]ProviderInfo, len(providers))
	for _, p := range providers {
		out[p.Key] = ProviderInfo{Name: p.DisplayName}
	}
	_ = jsonwriter.Write(w, out)
}

// Redeem exchanges a one-time callback key for a native session
// (POST /api/handoff/redeem)
func (h *APIHandlers) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRedeemBody)).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.CallbackKey == "" {
		jsonwriter.WriteBadRequest(w, "ck is required")
		return
	}

	ctx := r.Context()
	userID, err := h.issuer.Redeem(ctx, req.CallbackKey)
	if err != nil {
		if errors.Is(err, callbacktoken.ErrInvalidKey) {
			h.count(metrics.OutcomeFailure)
			jsonwriter.WriteUnauthorized(w, "Invalid or expired callback key")
			return
		}
		log.LogErrorWithFields("api", "Failed to redeem callback key", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to redeem callback key")
		return
	}
	// The key is spent either way, so a mismatch cannot be retried
	if req.UserID != "" && subtle.ConstantTimeCompare([]byte(req.UserID), []byte(userID)) != 1 {
		h.count(metrics.OutcomeFailure)
		jsonwriter.WriteUnauthorized(w, "Invalid or expired callback key")
		return
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			h.count(metrics.OutcomeFailure)
			jsonwriter.WriteUnauthorized(w, "Invalid or expired callback key")
			return
		}
		log.LogErrorWithFields("api", "Failed to load user", map[string]any{
			"user":  userID,
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to redeem callback key")
		return
	}

	token, expiresAt, err := h.sessions.IssueNative(ctx, user)
	if err != nil {
		log.LogErrorWithFields("api", "Failed to issue native session", map[string]any{
			"user":  user.ID,
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to redeem callback key")
		return
	}

	h.count(metrics.OutcomeSuccess)
	_ = jsonwriter.Write(w, RedeemResponse{
		UserID:       user.ID,
		SessionToken: token,
		ExpiresAt:    expiresAt,
	})
}

func (h *APIHandlers) count(outcome string) {
	if h.metrics != nil {
		h.metrics.Redemptions.WithLabelValues(outcome).Inc()
	}
}
