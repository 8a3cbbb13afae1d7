package cache

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore durable tier.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// firestoreEntry is the document shape, one document per cache key.
type firestoreEntry struct {
	Key       string    `firestore:"key"`
	Value     []byte    `firestore:"value"`
	ExpiresAt time.Time `firestore:"expiresAt"` // zero => no expiry
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreStore is a DurableStore backed by a Firestore collection. Expiry is
// lazy: expired documents stay until overwritten but are never returned.
//
// Firestore suits low volume deployments; use Redis when throughput matters.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	clock          clockwork.Clock
	logger         zerolog.Logger
}

// NewFirestoreStore creates a FirestoreStore over an injected client.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, clock clockwork.Clock, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		clock:          clock,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// docID escapes characters Firestore does not allow in document IDs.
func docID(key string) string {
	return url.PathEscape(key)
}

// Fetch implements DurableStore.
func (s *FirestoreStore) Fetch(ctx context.Context, key string) (Entry, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(docID(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var doc firestoreEntry
	if err := docSnap.DataTo(&doc); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return Entry{}, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}

	entry := Entry{Key: key, Value: doc.Value}
	if !doc.ExpiresAt.IsZero() {
		expiresAt := doc.ExpiresAt
		entry.ExpiresAt = &expiresAt
	}
	if entry.Expired(s.clock.Now()) {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Upsert implements DurableStore.
func (s *FirestoreStore) Upsert(ctx context.Context, entry Entry) error {
	doc := firestoreEntry{
		Key:       entry.Key,
		Value:     entry.Value,
		UpdatedAt: s.clock.Now().UTC(),
	}
	if entry.ExpiresAt != nil {
		doc.ExpiresAt = entry.ExpiresAt.UTC()
	}
	if _, err := s.client.Collection(s.collectionName).Doc(docID(entry.Key)).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore set for %s: %w", entry.Key, err)
	}
	s.logger.Debug().Str("key", entry.Key).Msg("Successfully wrote entry to Firestore.")
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	s.logger.Info().Msg("FirestoreStore does not close the injected Firestore client.")
	return nil
}
