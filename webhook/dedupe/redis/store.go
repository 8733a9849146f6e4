package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

/* Redis implementation of dedupe.NonceStore
 * One key per nonce with a native TTL, so expiry needs no bookkeeping
 * Useful for deployments that already run Redis and want the nonce
 * history shared across hosts, not just across local processes
 */

const noncePrefix = "finsync:nonce" // Key naming: finsync:nonce:{nonce}

type Store struct {
	client *redis.Client
}

// NewStore creates a Redis-backed nonce store
func NewStore(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// IsProcessed reports whether the nonce key exists and has not expired
func (s *Store) IsProcessed(ctx context.Context, nonce string) (bool, error) {
	exists, err := s.client.Exists(ctx, nonceKey(nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("checking nonce: %w", err)
	}
	return exists > 0, nil
}

// MarkProcessed records the nonce with a native Redis TTL
func (s *Store) MarkProcessed(ctx context.Context, nonce string, ttl time.Duration) error {
	if nonce == "" {
		return fmt.Errorf("nonce cannot be empty")
	}
	if err := s.client.Set(ctx, nonceKey(nonce), 1, ttl).Err(); err != nil {
		return fmt.Errorf("marking nonce processed: %w", err)
	}
	return nil
}

// Cleanup is a no-op for Redis: keys expire on their own.
// It returns 0 so the shared CleanupTask can drive either backend.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	return 0, nil
}

// Close closes the Redis connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}

func nonceKey(nonce string) string {
	return fmt.Sprintf("%s:%s", noncePrefix, nonce)
}
