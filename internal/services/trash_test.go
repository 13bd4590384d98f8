package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/localnerve/doctypesdb/internal/rows"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/testutil"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(t *testing.T, e *services.Engine, id uint64) []byte {
	t.Helper()
	a, err := e.Rows(context.Background(), id)
	require.NoError(t, err)
	list, err := a.List(context.Background(), rows.ListOptions{OrderBy: "id"})
	require.NoError(t, err)
	data, err := json.Marshal(list)
	require.NoError(t, err)
	return data
}

func TestTrashRestoreRoundTrip(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 5)
	before := snapshot(t, e, dt.ID)

	entry, err := e.Trash(ctx, dt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice", entry.TrashedName)
	assert.Equal(t, "dt_invoice__trashed", entry.TrashedTableName)

	_, err = e.Get(ctx, dt.ID)
	assert.ErrorIs(t, err, types.ErrInvalidState)
	exists, err := e.Executor().TableExists(ctx, "dt_invoice")
	require.NoError(t, err)
	assert.False(t, exists)
	n, err := e.Executor().RowCount(ctx, entry.TrashedTableName)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	list, err := e.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	trashed, err := e.ListTrashed(ctx)
	require.NoError(t, err)
	assert.Len(t, trashed, 1)

	_, err = e.Trash(ctx, dt.ID)
	assert.ErrorIs(t, err, types.ErrInvalidState)

	restored, err := e.Restore(ctx, dt.ID)
	require.NoError(t, err)
	assert.True(t, restored.IsActive)
	assert.Equal(t, "dt_invoice", restored.PhysicalTable)
	assert.Equal(t, string(before), string(snapshot(t, e, dt.ID)))

	trashed, err = e.ListTrashed(ctx)
	require.NoError(t, err)
	assert.Empty(t, trashed)
}

func TestRestoreNameCollision(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 3)

	entry, err := e.Trash(ctx, dt.ID)
	require.NoError(t, err)

	other := createInvoice(t, e)
	assert.Equal(t, "dt_invoice_2", other.PhysicalTable)

	_, err = e.Restore(ctx, dt.ID)
	var ne *types.NamingConflictError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "document_type", ne.Kind)
	assert.Equal(t, types.ChangeNone, types.ChangeStateOf(err))

	n, err := e.Executor().RowCount(ctx, entry.TrashedTableName)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	_, err = e.TrashRegistry().Find(ctx, dt.ID)
	assert.NoError(t, err)
}

func TestRestoreTableOccupied(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)

	_, err := e.Trash(ctx, dt.ID)
	require.NoError(t, err)

	vs, err := schema.Validate(testutil.InvoiceSchema(), nil)
	require.NoError(t, err)
	require.NoError(t, e.Executor().CreateTable(ctx, "dt_invoice", vs))

	_, err = e.Restore(ctx, dt.ID)
	var ne *types.NamingConflictError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "table", ne.Kind)

	exists, err := e.Executor().TableExists(ctx, "dt_invoice__trashed")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDestroy(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 2)

	assert.ErrorIs(t, e.Destroy(ctx, dt.ID), types.ErrInvalidState)

	_, err := e.Trash(ctx, dt.ID)
	require.NoError(t, err)
	require.NoError(t, e.Destroy(ctx, dt.ID))

	_, err = e.Get(ctx, dt.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	exists, err := e.Executor().TableExists(ctx, "dt_invoice__trashed")
	require.NoError(t, err)
	assert.False(t, exists)
	trashed, err := e.ListTrashed(ctx)
	require.NoError(t, err)
	assert.Empty(t, trashed)

	again := createInvoice(t, e)
	assert.Equal(t, "dt_invoice", again.PhysicalTable)
}
