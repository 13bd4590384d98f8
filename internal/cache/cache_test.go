package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/localnerve/doctypesdb/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

func exerciseStore(t *testing.T, s cache.Store) {
	ctx := context.Background()
	key := cache.Columns("dt_" + t.Name())

	var got entry
	ok, err := s.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	want := entry{Name: "invoice", Columns: []string{"id", "amount"}}
	require.NoError(t, s.Set(ctx, key, want, time.Minute))
	ok, err = s.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, s.Delete(ctx, key, cache.ActiveDocumentTypes))
	ok, err = s.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, key, want, 30*time.Millisecond))
	time.Sleep(80 * time.Millisecond)
	ok, err = s.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, ok, "expired entries are misses")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, cache.NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	port := os.Getenv("REDIS_PORT")
	if port == "" {
		port = "6379"
	}
	client := redis.NewClient(&redis.Options{Addr: host + ":" + port, Password: os.Getenv("REDIS_PASSWORD")})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())
	exerciseStore(t, cache.NewRedisStore(client))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "doctypes:id:3", cache.DocumentType(3))
	assert.Equal(t, "doctypes:columns:dt_invoice", cache.Columns("dt_invoice"))
}
