package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/handoff/internal/cookie"
	"github.com/dgellow/handoff/internal/crypto"
	"github.com/dgellow/handoff/internal/log"
	"github.com/dgellow/handoff/internal/storage"
)

// ErrNoSession is returned when a request carries no valid session
var ErrNoSession = errors.New("no session")

// Service owns browser and native sessions. Clients hold an opaque id;
// storage only ever sees its SHA-256 hash.
type Service struct {
	store      storage.Storage
	signingKey []byte
	browserTTL time.Duration
	nativeTTL  time.Duration
	now        func() time.Time
}

// NewService creates a session service
func NewService(store storage.Storage, signingKey []byte, browserTTL, nativeTTL time.Duration) *Service {
	return &Service{
		store:      store,
		signingKey: signingKey,
		browserTTL: browserTTL,
		nativeTTL:  nativeTTL,
		now:        time.Now,
	}
}

func (s *Service) ttl(kind storage.SessionKind) time.Duration {
	if kind == storage.SessionNative {
		return s.nativeTTL
	}
	return s.browserTTL
}

func (s *Service) create(ctx context.Context, user *storage.User, kind storage.SessionKind) (string, *storage.Session, error) {
	id, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now()
	sess := &storage.Session{
		ID:        crypto.HashToken(id),
		UserID:    user.ID,
		Provider:  user.Provider,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl(kind)),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("storing session: %w", err)
	}
	return id, sess, nil
}

// Create starts a session for user. Browser sessions are written to the
// session cookie; for native sessions use IssueNative.
func (s *Service) Create(ctx context.Context, w http.ResponseWriter, user *storage.User, kind storage.SessionKind) (*storage.Session, error) {
	id, sess, err := s.create(ctx, user, kind)
	if err != nil {
		return nil, err
	}
	if kind == storage.SessionBrowser {
		cookie.SetSession(w, id+"."+crypto.SignData(id, s.signingKey), s.browserTTL)
	}

	log.LogInfoWithFields("session", "Session created", map[string]any{
		"user":     user.ID,
		"provider": user.Provider,
		"kind":     string(kind),
	})
	return sess, nil
}

// IssueNative creates a native-app session and returns the bearer token
func (s *Service) IssueNative(ctx context.Context, user *storage.User) (string, time.Time, error) {
	id, sess, err := s.create(ctx, user, storage.SessionNative)
	if err != nil {
		return "", time.Time{}, err
	}
	log.LogInfoWithFields("session", "Native session issued", map[string]any{
		"user": user.ID,
	})
	return id, sess.ExpiresAt, nil
}

// sessionID extracts and verifies the opaque id from the session cookie
func (s *Service) sessionID(r *http.Request) (string, error) {
	value, err := cookie.GetSession(r)
	if err != nil {
		return "", ErrNoSession
	}
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" || !crypto.ValidateSignedData(id, sig, s.signingKey) {
		log.LogDebugWithFields("session", "Rejected session cookie", map[string]any{
			"reason": "bad signature",
		})
		return "", ErrNoSession
	}
	return id, nil
}

// Lookup returns the session and user behind the request's cookie
func (s *Service) Lookup(ctx context.Context, r *http.Request) (*storage.Session, *storage.User, error) {
	id, err := s.sessionID(r)
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.store.GetSession(ctx, crypto.HashToken(id))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, nil, ErrNoSession
		}
		return nil, nil, fmt.Errorf("loading session: %w", err)
	}

	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil, ErrNoSession
		}
		return nil, nil, fmt.Errorf("loading user: %w", err)
	}
	return sess, user, nil
}

// Destroy deletes the request's session, if any, and clears the cookie
func (s *Service) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cookie.ClearSession(w)

	id, err := s.sessionID(r)
	if err != nil {
		return nil
	}
	if err := s.store.DeleteSession(ctx, crypto.HashToken(id)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	log.LogInfoWithFields("session", "Session destroyed", nil)
	return nil
}
