//go:build integration

package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/localnerve/doctypesdb/internal/cache"
	"github.com/localnerve/doctypesdb/internal/database"
	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/rows"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLifecycleWithMySQL runs the full lifecycle against MySQL with Redis locks and cache.
func TestLifecycleWithMySQL(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	containers, err := testutil.StartContainers(t)
	require.NoError(t, err)
	t.Cleanup(func() { containers.Terminate(t) })
	cfg := containers.Config()

	db, err := database.Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.AutoMigrate(db))

	client, err := lock.NewRedisClient(ctx, cfg.RedisAddr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	e, err := services.NewEngine(db, services.Options{
		TablePrefix: cfg.TablePrefix,
		Locker:      lock.NewRedisLocker(client),
		LockTTL:     cfg.LockTTL,
		LockRefresh: cfg.LockRefresh,
		Cache:       cache.NewRedisStore(client),
		CacheTTL:    cfg.CacheTTL,
	})
	require.NoError(t, err)

	health := services.HealthCheck(ctx, cfg, db, client)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Redis)

	dt := createInvoice(t, e)
	assert.Equal(t, "dt_invoice", dt.PhysicalTable)
	insertInvoices(t, e, dt.ID, 3)

	// Rename, type change and add in one pass
	target := []schema.AttributeSpec{
		{Name: "amount", Type: schema.TypeText},
		{Name: "state", Type: schema.TypeSelect, Options: []string{"draft", "sent", "paid"}, RenameFrom: "status"},
		{Name: "due", Type: schema.TypeDate},
	}
	res, err := e.Alter(ctx, dt.ID, services.AlterRequest{
		Schema:      target,
		Conversions: map[string]string{"amount": "to_string"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"amount", "state", "due"}, res.DocumentType.SchemaForm.Names())
	assert.ElementsMatch(t, []string{"id", "file_id", "amount", "state", "due", "created_at", "updated_at"}, columnNames(t, e, dt.ID))

	a, err := e.Rows(ctx, dt.ID)
	require.NoError(t, err)
	list, err := a.List(ctx, rows.ListOptions{Where: map[string]interface{}{"state": "sent"}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	amount, _, err := list[0].String("amount")
	require.NoError(t, err)
	assert.Equal(t, "200", amount)

	// Trash and restore keep rows
	entry, err := e.Trash(ctx, dt.ID)
	require.NoError(t, err)
	assert.NotEqual(t, dt.PhysicalTable, entry.TrashedTableName)
	_, err = e.Restore(ctx, dt.ID)
	require.NoError(t, err)
	a, err = e.Rows(ctx, dt.ID)
	require.NoError(t, err)
	n, err := a.Count(ctx, rows.ListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// Orphan tables are dropped when empty
	require.NoError(t, db.Exec("CREATE TABLE dt_orphan (id BIGINT UNSIGNED PRIMARY KEY)").Error)
	report, err := e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	assert.True(t, report.Orphans[0].Dropped)

	// A held lock is visible to another engine sharing Redis
	other, err := services.NewEngine(db, services.Options{
		TablePrefix: cfg.TablePrefix,
		Locker:      lock.NewRedisLocker(client),
		LockTTL:     cfg.LockTTL,
		LockRefresh: cfg.LockRefresh,
	})
	require.NoError(t, err)
	locker := lock.NewRedisLocker(client)
	token, ok, err := locker.TryLock(ctx, lock.DocumentType(dt.ID), 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = other.Reorder(ctx, dt.ID, []string{"due", "state", "amount"})
	assert.Error(t, err)
	require.NoError(t, locker.Unlock(ctx, lock.DocumentType(dt.ID), token))

	// Concurrent writers of one unique value, across two engines, leave one row
	contact, err := e.Create(ctx, services.CreateInput{
		UserID: "u1",
		Name:   "Contact",
		Schema: []schema.AttributeSpec{{Name: "email", Type: schema.TypeEmail, Unique: true}},
	})
	require.NoError(t, err)
	accessors := make([]*rows.Accessor, 0, 2)
	for _, eng := range []*services.Engine{e, other} {
		acc, err := eng.Rows(ctx, contact.ID)
		require.NoError(t, err)
		accessors = append(accessors, acc)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(acc *rows.Accessor) {
			defer wg.Done()
			_, _ = acc.Insert(ctx, map[string]interface{}{"email": "same@example.com"}, nil)
		}(accessors[i%2])
	}
	wg.Wait()
	n, err = accessors[0].Count(ctx, rows.ListOptions{Where: map[string]interface{}{"email": "same@example.com"}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// Destroy drops the parked table
	_, err = e.Trash(ctx, dt.ID)
	require.NoError(t, err)
	require.NoError(t, e.Destroy(ctx, dt.ID))
	assert.False(t, db.Migrator().HasTable("dt_invoice"))
}
