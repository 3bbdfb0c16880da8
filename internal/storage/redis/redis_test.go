package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "http://localhost:6379"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis URL")
}

func TestNewFailsWhenServerIsUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := New(ctx, Config{URL: "redis://127.0.0.1:1/0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}

func TestStoreOperationsSurfaceConnectionErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewWithClient(rdb, "")
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()

	_, _, err := store.Get(ctx, "fieldMappingCache")
	assert.Error(t, err)
	assert.Error(t, store.Put(ctx, "fieldMappingCache", []byte(`{}`)))
	assert.Error(t, store.Clear(ctx, "fieldMappingCache"))
}

func TestKeyPrefix(t *testing.T) {
	store := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "")
	t.Cleanup(func() { store.Close() })

	assert.Equal(t, "hh-autofill:fieldMappingCache", store.key("fieldMappingCache"))

	custom := NewWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "tenant:")
	t.Cleanup(func() { custom.Close() })
	assert.Equal(t, "tenant:fieldMappingCache", custom.key("fieldMappingCache"))
}
