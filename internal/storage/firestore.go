package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/handoff/internal/crypto"
	"github.com/dgellow/handoff/internal/emailutil"
	"github.com/dgellow/handoff/internal/idp"
	"github.com/dgellow/handoff/internal/log"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBatchSize = 500 // Firestore batch write limit

// FirestoreStorage implements Storage on Google Cloud Firestore.
// Emails are encrypted at rest. Users are keyed by a hash of
// provider:subject so the upsert can run in a single transaction.
type FirestoreStorage struct {
	client    *firestore.Client
	encryptor crypto.Encryptor

	users    string
	sessions string
	tokens   string
}

var _ Storage = (*FirestoreStorage)(nil)

type userDoc struct {
	ID             string    `firestore:"id"`
	Provider       string    `firestore:"provider"`
	Subject        string    `firestore:"subject"`
	EncryptedEmail string    `firestore:"email"`
	Name           string    `firestore:"name"`
	Picture        string    `firestore:"picture,omitempty"`
	FirstSeen      time.Time `firestore:"first_seen"`
	LastSeen       time.Time `firestore:"last_seen"`
}

type sessionDoc struct {
	UserID    string    `firestore:"user_id"`
	Provider  string    `firestore:"provider"`
	Kind      string    `firestore:"kind"`
	CreatedAt time.Time `firestore:"created_at"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

type callbackTokenDoc struct {
	UserID    string    `firestore:"user_id"`
	CreatedAt time.Time `firestore:"created_at"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// NewFirestoreStorage creates a new Firestore storage instance.
// Collections are named <collectionPrefix>_users, _sessions and _callback_tokens.
func NewFirestoreStorage(ctx context.Context, projectID, database, collectionPrefix string, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collectionPrefix == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("firestore", "Connected to Firestore", map[string]any{
		"project":  projectID,
		"database": database,
		"prefix":   collectionPrefix,
	})

	return &FirestoreStorage{
		client:    client,
		encryptor: encryptor,
		users:     collectionPrefix + "_users",
		sessions:  collectionPrefix + "_sessions",
		tokens:    collectionPrefix + "_callback_tokens",
	}, nil
}

func (s *FirestoreStorage) toUser(doc *userDoc) (*User, error) {
	email, err := s.encryptor.Decrypt(doc.EncryptedEmail)
	if err != nil {
		return nil, fmt.Errorf("decrypting email for user %s: %w", doc.ID, err)
	}
	return &User{
		ID:        doc.ID,
		Provider:  doc.Provider,
		Subject:   doc.Subject,
		Email:     email,
		Name:      doc.Name,
		Picture:   doc.Picture,
		FirstSeen: doc.FirstSeen,
		LastSeen:  doc.LastSeen,
	}, nil
}

func (s *FirestoreStorage) UpsertUser(ctx context.Context, providerKey string, identity idp.Identity) (*User, error) {
	email := emailutil.Normalize(identity.Email)
	encrypted, err := s.encryptor.Encrypt(email)
	if err != nil {
		return nil, fmt.Errorf("encrypting email: %w", err)
	}

	ref := s.client.Collection(s.users).Doc(crypto.HashToken(userKey(providerKey, identity.Subject)))
	var result userDoc

	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now()
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			result = userDoc{
				ID:        uuid.NewString(),
				Provider:  providerKey,
				Subject:   identity.Subject,
				FirstSeen: now,
			}
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&result); err != nil {
				return fmt.Errorf("decoding user: %w", err)
			}
		}

		result.EncryptedEmail = encrypted
		result.Name = identity.Name
		result.Picture = identity.Picture
		result.LastSeen = now
		return tx.Set(ref, result)
	})
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	return &User{
		ID:        result.ID,
		Provider:  result.Provider,
		Subject:   result.Subject,
		Email:     email,
		Name:      result.Name,
		Picture:   result.Picture,
		FirstSeen: result.FirstSeen,
		LastSeen:  result.LastSeen,
	}, nil
}

func (s *FirestoreStorage) GetUser(ctx context.Context, id string) (*User, error) {
	iter := s.client.Collection(s.users).Where("id", "==", id).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Firestore: %w", err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	return s.toUser(&doc)
}

func (s *FirestoreStorage) CreateSession(ctx context.Context, session *Session) error {
	_, err := s.client.Collection(s.sessions).Doc(session.ID).Set(ctx, sessionDoc{
		UserID:    session.UserID,
		Provider:  session.Provider,
		Kind:      string(session.Kind),
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetSession(ctx context.Context, id string) (*Session, error) {
	snap, err := s.client.Collection(s.sessions).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session from Firestore: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}

	session := &Session{
		ID:        id,
		UserID:    doc.UserID,
		Provider:  doc.Provider,
		Kind:      SessionKind(doc.Kind),
		CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt,
	}
	if session.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *FirestoreStorage) DeleteSession(ctx context.Context, id string) error {
	_, err := s.client.Collection(s.sessions).Doc(id).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) StoreCallbackToken(ctx context.Context, token *CallbackToken) error {
	_, err := s.client.Collection(s.tokens).Doc(token.KeyHash).Set(ctx, callbackTokenDoc{
		UserID:    token.UserID,
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store callback token: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) ConsumeCallbackToken(ctx context.Context, keyHash string) (*CallbackToken, error) {
	ref := s.client.Collection(s.tokens).Doc(keyHash)
	var doc callbackTokenDoc

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrCallbackTokenNotFound
			}
			return err
		}
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decoding callback token: %w", err)
		}
		return tx.Delete(ref)
	})
	if err != nil {
		if errors.Is(err, ErrCallbackTokenNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("consuming callback token: %w", err)
	}

	if !time.Now().Before(doc.ExpiresAt) {
		return nil, ErrCallbackTokenNotFound
	}

	return &CallbackToken{
		KeyHash:   keyHash,
		UserID:    doc.UserID,
		CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt,
	}, nil
}

// CleanupExpired removes expired sessions and callback tokens in batches
func (s *FirestoreStorage) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult
	var err error

	result.Sessions, err = s.deleteExpired(ctx, s.sessions)
	if err != nil {
		return result, err
	}
	result.CallbackTokens, err = s.deleteExpired(ctx, s.tokens)
	return result, err
}

func (s *FirestoreStorage) deleteExpired(ctx context.Context, collection string) (int, error) {
	iter := s.client.Collection(collection).
		Where("expires_at", "<=", time.Now()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired %s: %w", collection, err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}
	return count, nil
}

func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}
