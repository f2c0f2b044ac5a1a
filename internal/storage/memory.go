package storage

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/handoff/internal/emailutil"
	"github.com/dgellow/handoff/internal/idp"
	"github.com/google/uuid"
)

var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage keeps everything in process memory. It is meant for
// development and single-instance deployments.
type MemoryStorage struct {
	usersMutex sync.RWMutex
	users      map[string]*User  // map[id] = User
	userIndex  map[string]string // map["provider:subject"] = id

	sessionsMutex sync.RWMutex
	sessions      map[string]*Session

	tokensMutex sync.Mutex
	tokens      map[string]*CallbackToken

	now func() time.Time
}

// NewMemoryStorage creates a new storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:     make(map[string]*User),
		userIndex: make(map[string]string),
		sessions:  make(map[string]*Session),
		tokens:    make(map[string]*CallbackToken),
		now:       time.Now,
	}
}

func (s *MemoryStorage) UpsertUser(_ context.Context, providerKey string, identity idp.Identity) (*User, error) {
	s.usersMutex.Lock()
	defer s.usersMutex.Unlock()

	now := s.now()
	key := userKey(providerKey, identity.Subject)
	if id, ok := s.userIndex[key]; ok {
		user := s.users[id]
		user.Email = emailutil.Normalize(identity.Email)
		user.Name = identity.Name
		user.Picture = identity.Picture
		user.LastSeen = now
		copied := *user
		return &copied, nil
	}

	user := &User{
		ID:        uuid.NewString(),
		Provider:  providerKey,
		Subject:   identity.Subject,
		Email:     emailutil.Normalize(identity.Email),
		Name:      identity.Name,
		Picture:   identity.Picture,
		FirstSeen: now,
		LastSeen:  now,
	}
	s.users[user.ID] = user
	s.userIndex[key] = user.ID

	copied := *user
	return &copied, nil
}

func (s *MemoryStorage) GetUser(_ context.Context, id string) (*User, error) {
	s.usersMutex.RLock()
	defer s.usersMutex.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStorage) CreateSession(_ context.Context, session *Session) error {
	s.sessionsMutex.Lock()
	defer s.sessionsMutex.Unlock()

	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemoryStorage) GetSession(_ context.Context, id string) (*Session, error) {
	s.sessionsMutex.RLock()
	defer s.sessionsMutex.RUnlock()

	session, ok := s.sessions[id]
	if !ok || session.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStorage) DeleteSession(_ context.Context, id string) error {
	s.sessionsMutex.Lock()
	defer s.sessionsMutex.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *MemoryStorage) StoreCallbackToken(_ context.Context, token *CallbackToken) error {
	s.tokensMutex.Lock()
	defer s.tokensMutex.Unlock()

	copied := *token
	s.tokens[token.KeyHash] = &copied
	return nil
}

func (s *MemoryStorage) ConsumeCallbackToken(_ context.Context, keyHash string) (*CallbackToken, error) {
	s.tokensMutex.Lock()
	defer s.tokensMutex.Unlock()

	token, ok := s.tokens[keyHash]
	if !ok {
		return nil, ErrCallbackTokenNotFound
	}
	delete(s.tokens, keyHash)

	if !s.now().Before(token.ExpiresAt) {
		return nil, ErrCallbackTokenNotFound
	}
	return token, nil
}

func (s *MemoryStorage) CleanupExpired(_ context.Context) (CleanupResult, error) {
	now := s.now()
	var result CleanupResult

	s.sessionsMutex.Lock()
	for id, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, id)
			result.Sessions++
		}
	}
	s.sessionsMutex.Unlock()

	s.tokensMutex.Lock()
	for hash, token := range s.tokens {
		if !now.Before(token.ExpiresAt) {
			delete(s.tokens, hash)
			result.CallbackTokens++
		}
	}
	s.tokensMutex.Unlock()

	return result, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
