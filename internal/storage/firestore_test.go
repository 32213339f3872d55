package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirestoreStoreConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("missing GCP project ID", func(t *testing.T) {
		_, err := NewFirestoreStore(ctx, "", "(default)", "credentials", "authsession")
		assert.ErrorContains(t, err, "projectID is required")
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := NewFirestoreStore(ctx, "test-project", "(default)", "", "authsession")
		assert.ErrorContains(t, err, "collection is required")
	})

	t.Run("missing namespace", func(t *testing.T) {
		_, err := NewFirestoreStore(ctx, "test-project", "(default)", "credentials", "")
		assert.ErrorContains(t, err, "namespace is required")
	})
}
