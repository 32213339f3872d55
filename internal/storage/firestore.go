package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/authsession/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is a durable KeyValueStore backed by Google Cloud
// Firestore. Each key is one document whose ID is "<namespace>:<key>".
//
// Error handling strategy:
// - Reads return errors, since a session cannot be restored without them
// - Missing documents read as absent and deletes of missing documents succeed
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	namespace  string
}

var _ Backend = (*FirestoreStore)(nil)

const firestorePingKey = "_ping"

// credentialDoc represents a stored credential in Firestore
type credentialDoc struct {
	Namespace string    `firestore:"namespace"`
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStore creates a new Firestore store instance
func NewFirestoreStore(ctx context.Context, projectID, database, collection, namespace string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
		"namespace":  namespace,
	})

	return &FirestoreStore{
		client:     client,
		collection: collection,
		namespace:  namespace,
	}, nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(namespacedKey(s.namespace, key))
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (string, bool, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s from Firestore: %w", key, err)
	}

	var doc credentialDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return doc.Value, true, nil
}

func (s *FirestoreStore) Set(ctx context.Context, key, value string) error {
	_, err := s.doc(key).Set(ctx, credentialDoc{
		Namespace: s.namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store %s in Firestore: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) Remove(ctx context.Context, key string) error {
	_, err := s.doc(key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete %s from Firestore: %w", key, err)
	}
	return nil
}

// Clear deletes every document in the namespace.
func (s *FirestoreStore) Clear(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Where("namespace", "==", s.namespace).Documents(ctx)
	defer iter.Stop()

	deleted := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("error iterating Firestore documents: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to delete %s from Firestore: %w", snap.Ref.ID, err)
		}
		deleted++
	}

	log.LogDebugWithFields("storage", "Cleared Firestore namespace", map[string]any{
		"namespace": s.namespace,
		"deleted":   deleted,
	})
	return nil
}

// Ping reads a document that normally does not exist. NotFound means the
// collection is reachable.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.doc(firestorePingKey).Get(ctx)
	if err == nil || status.Code(err) == codes.NotFound {
		return nil
	}
	return fmt.Errorf("failed to reach Firestore: %w", err)
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
