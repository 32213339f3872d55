package storage

import (
	"context"
	"fmt"

	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/log"
	"github.com/redis/go-redis/v9"
)

// Open returns the credential medium for cfg. Production deployments keep
// credentials session-scoped in memory; otherwise the configured durable
// backend is used.
func Open(ctx context.Context, cfg config.StorageConfig, isProduction bool) (Backend, error) {
	if isProduction {
		log.LogDebugWithFields("storage", "Using session-scoped memory store", map[string]any{
			"reason": "production",
		})
		return NewMemoryStore(), nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = config.DefaultNamespace
	}

	switch cfg.Backend {
	case config.StorageMemory, "":
		return NewMemoryStore(), nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: string(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.LogInfoWithFields("storage", "Connected to Redis", map[string]any{
			"addr":      cfg.RedisAddr,
			"db":        cfg.RedisDB,
			"namespace": namespace,
		})
		return NewRedisStore(client, namespace), nil

	case config.StorageFirestore:
		return NewFirestoreStore(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection, namespace)

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
