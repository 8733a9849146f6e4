//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_MarkAndCheck(t *testing.T) {
	ctx := context.Background()

	addr, cleanup := SetupRedisContainer(t, ctx)
	defer cleanup()

	store := CreateTestStore(t, addr)
	defer store.Close(ctx)

	t.Run("unknown nonce is not processed", func(t *testing.T) {
		processed, err := store.IsProcessed(ctx, "never-seen")
		require.NoError(t, err)
		assert.False(t, processed)
	})

	t.Run("marked nonce is processed until TTL elapses", func(t *testing.T) {
		err := store.MarkProcessed(ctx, "wh_123_SYNC_UPDATES_AVAILABLE", 2*time.Second)
		require.NoError(t, err)

		processed, err := store.IsProcessed(ctx, "wh_123_SYNC_UPDATES_AVAILABLE")
		require.NoError(t, err)
		assert.True(t, processed)

		time.Sleep(2500 * time.Millisecond)

		processed, err = store.IsProcessed(ctx, "wh_123_SYNC_UPDATES_AVAILABLE")
		require.NoError(t, err)
		assert.False(t, processed, "nonce should expire with its Redis TTL")
	})

	t.Run("empty nonce is rejected", func(t *testing.T) {
		err := store.MarkProcessed(ctx, "", time.Minute)
		require.Error(t, err)
	})
}
