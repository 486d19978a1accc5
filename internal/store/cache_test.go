package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCached wraps a fresh Memory store with a Redis cache under a unique
// prefix. Requires Redis at TEST_REDIS_ADDR (default localhost:6379).
func setupCached(t *testing.T) (*Cached, *Memory) {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	prefix := "classchat-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = client.Close()
	})

	mem := NewMemory()
	return NewCached(mem, client, prefix, time.Minute), mem
}

func TestCached(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		c, _ := setupCached(t)
		return c
	})
}

func TestCached_HitAfterMiss(t *testing.T) {
	c, _ := setupCached(t)
	ctx := context.Background()

	_, err := c.Append(ctx, "math", alice, "hello")
	require.NoError(t, err)

	first, err := c.RecentHistory(ctx, "math", 10)
	require.NoError(t, err)
	second, err := c.RecentHistory(ctx, "math", 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestCached_AppendInvalidates(t *testing.T) {
	c, _ := setupCached(t)
	ctx := context.Background()

	_, err := c.Append(ctx, "math", alice, "one")
	require.NoError(t, err)
	_, err = c.RecentHistory(ctx, "math", 10)
	require.NoError(t, err)

	_, err = c.Append(ctx, "math", alice, "two")
	require.NoError(t, err)

	records, err := c.RecentHistory(ctx, "math", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "two", records[0].Body)
}

type failingStore struct{ *Memory }

func (f *failingStore) Append(context.Context, string, Author, string) (Record, error) {
	return Record{}, errors.New("disk full")
}

func TestCached_AppendErrorPassesThrough(t *testing.T) {
	c, _ := setupCached(t)
	c.next = &failingStore{Memory: NewMemory()}

	_, err := c.Append(context.Background(), "math", alice, "hello")
	assert.EqualError(t, err, "disk full")
}
