package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/localnerve/doctypesdb/internal/cache"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookStore runs a function once, just before the first Set of one key.
type hookStore struct {
	cache.Store
	mu   sync.Mutex
	key  string
	hook func()
}

func (h *hookStore) arm(key string, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.key, h.hook = key, fn
}

func (h *hookStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	h.mu.Lock()
	var fn func()
	if key == h.key {
		fn, h.hook = h.hook, nil
	}
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
	return h.Store.Set(ctx, key, value, ttl)
}

func TestCacheFillRacingUpdate(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := &hookStore{Store: cache.NewMemoryStore()}
	e, err := services.NewEngine(db, services.Options{LockTTL: 5 * time.Second, LockRefresh: time.Second, Cache: store})
	require.NoError(t, err)
	dt := createInvoice(t, e)
	key := cache.DocumentType(dt.ID)
	require.NoError(t, store.Delete(ctx, key))

	desc := "Outgoing invoices"
	done := make(chan error, 1)
	// The reader has loaded the old record; the update commits before it caches it.
	store.arm(key, func() {
		go func() {
			_, err := e.UpdateDetails(ctx, dt.ID, services.DetailsInput{Description: &desc})
			done <- err
		}()
		require.Eventually(t, func() bool {
			var got string
			db.Raw("SELECT description FROM document_types WHERE id = ?", dt.ID).Scan(&got)
			return got == desc
		}, 2*time.Second, 5*time.Millisecond)
	})

	stale, err := e.Get(ctx, dt.ID)
	require.NoError(t, err)
	assert.Empty(t, stale.Description)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("update did not finish")
	}

	fresh, err := e.Get(ctx, dt.ID)
	require.NoError(t, err)
	assert.Equal(t, desc, fresh.Description)
}

func TestReadThroughCachesColumns(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := cache.NewMemoryStore()
	e, err := services.NewEngine(db, services.Options{LockTTL: 5 * time.Second, LockRefresh: time.Second, Cache: store})
	require.NoError(t, err)
	dt := createInvoice(t, e)

	before := columnNames(t, e, dt.ID)
	var cached []map[string]interface{}
	ok, err := store.Get(ctx, cache.Columns(dt.PhysicalTable), &cached)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, cached, len(before))

	_, err = e.DeleteAttribute(ctx, dt.ID, "status")
	require.NoError(t, err)
	ok, err = store.Get(ctx, cache.Columns(dt.PhysicalTable), &cached)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, columnNames(t, e, dt.ID), "status")
}
