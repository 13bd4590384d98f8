package rows_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/rows"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/testutil"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func contactSchema() []schema.AttributeSpec {
	return []schema.AttributeSpec{
		{Name: "email", Type: schema.TypeEmail, Required: true, Unique: true},
		{Name: "full name", Type: schema.TypeText, MaxLength: testutil.Int(40)},
		{Name: "age", Type: schema.TypeNumber, MinValue: testutil.Float(0), MaxValue: testutil.Float(150)},
		{Name: "tier", Type: schema.TypeSelect, Options: []string{"free", "pro"}, Default: testutil.String("free")},
		{Name: "born", Type: schema.TypeDate},
	}
}

func newAccessor(t *testing.T, opts ...rows.Option) (*rows.Accessor, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	exec, err := ddl.NewExecutor(db)
	require.NoError(t, err)

	vs, err := schema.Validate(contactSchema(), nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, exec.CreateTable(ctx, "dt_contacts", vs))

	cols, err := exec.Columns(ctx, "dt_contacts")
	require.NoError(t, err)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return rows.New(db, exec.Dialect(), "dt_contacts", vs.Persisted(), names, opts...), db
}

func TestInsertAndGet(t *testing.T) {
	a, _ := newAccessor(t)
	ctx := context.Background()

	row, err := a.Insert(ctx, map[string]interface{}{
		"email":     "ada@example.com",
		"full name": "Ada Lovelace",
		"age":       "36",
		"born":      "1815-12-10",
	}, nil)
	require.NoError(t, err)
	assert.NotZero(t, row.ID)
	assert.NotNil(t, row.CreatedAt)

	got, err := a.Get(ctx, row.ID, false)
	require.NoError(t, err)

	name, ok, err := got.String("full name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Ada Lovelace", name)

	age, ok, err := got.Number("age")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 36.0, age)

	tier, _, err := got.String("tier")
	require.NoError(t, err)
	assert.Equal(t, "free", tier)

	assert.Equal(t, "1815-12-10", got.Values()["born"])

	_, err = got.Value("nope")
	assert.ErrorIs(t, err, schema.ErrUnknownAttribute)
}

func TestInsertCollectsValidationErrors(t *testing.T) {
	a, _ := newAccessor(t)

	_, err := a.Insert(context.Background(), map[string]interface{}{
		"age":   200,
		"tier":  "gold",
		"extra": 1,
	}, nil)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has("required"))
	assert.True(t, ve.Has("max_value"))
	assert.True(t, ve.Has("option"))
	assert.True(t, ve.Has("unknown"))
}

func TestUniqueEnforced(t *testing.T) {
	a, _ := newAccessor(t)
	ctx := context.Background()

	first, err := a.Insert(ctx, map[string]interface{}{"email": "a@example.com"}, nil)
	require.NoError(t, err)
	second, err := a.Insert(ctx, map[string]interface{}{"email": "b@example.com"}, nil)
	require.NoError(t, err)

	_, err = a.Insert(ctx, map[string]interface{}{"email": "a@example.com"}, nil)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has("unique"))

	_, err = a.Update(ctx, second.ID, map[string]interface{}{"email": "a@example.com"})
	require.True(t, errors.As(err, &ve))

	_, err = a.Update(ctx, first.ID, map[string]interface{}{"email": "a@example.com", "age": 3})
	assert.NoError(t, err)
}

func TestUniqueWritesTakeTableLock(t *testing.T) {
	locks := lock.NewExecutor(lock.NewMemoryLocker(), time.Second, 100*time.Millisecond)
	a, _ := newAccessor(t, rows.WithUniqueLock(locks, 50*time.Millisecond))
	ctx := context.Background()

	row, err := a.Insert(ctx, map[string]interface{}{"email": "a@example.com"}, nil)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	held := make(chan error, 1)
	go func() {
		held <- locks.ExecuteWithLock(ctx, lock.UniqueValues("dt_contacts"), func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	_, err = a.Insert(ctx, map[string]interface{}{"email": "b@example.com"}, nil)
	var le *types.LockContentionError
	require.True(t, errors.As(err, &le))

	_, err = a.Update(ctx, row.ID, map[string]interface{}{"age": 30})
	assert.NoError(t, err, "writes without unique values do not wait")

	close(release)
	require.NoError(t, <-held)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Insert(ctx, map[string]interface{}{"email": "c@example.com"}, nil); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestUpdatePartial(t *testing.T) {
	a, _ := newAccessor(t)
	ctx := context.Background()

	row, err := a.Insert(ctx, map[string]interface{}{"email": "c@example.com", "tier": "pro"}, nil)
	require.NoError(t, err)

	updated, err := a.Update(ctx, row.ID, map[string]interface{}{"age": 40})
	require.NoError(t, err)
	tier, _, _ := updated.String("tier")
	assert.Equal(t, "pro", tier)
	age, _, _ := updated.Number("age")
	assert.Equal(t, 40.0, age)

	updated, err = a.Update(ctx, row.ID, map[string]interface{}{"age": nil})
	require.NoError(t, err)
	_, ok, _ := updated.Number("age")
	assert.False(t, ok)

	_, err = a.Update(ctx, 9999, map[string]interface{}{"age": 1})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestListFilterAndSearch(t *testing.T) {
	a, _ := newAccessor(t)
	ctx := context.Background()

	for i, name := range []string{"Grace Hopper", "Alan Turing", "Grace Kelly"} {
		_, err := a.Insert(ctx, map[string]interface{}{
			"email":     string(rune('a'+i)) + "@example.com",
			"full name": name,
			"age":       30 + i,
		}, nil)
		require.NoError(t, err)
	}

	list, err := a.List(ctx, rows.ListOptions{Search: "Grace", OrderBy: "age", Desc: true})
	require.NoError(t, err)
	require.Len(t, list, 2)
	first, _, _ := list[0].String("full name")
	assert.Equal(t, "Grace Kelly", first)

	list, err = a.List(ctx, rows.ListOptions{Where: map[string]interface{}{"age": "31"}})
	require.NoError(t, err)
	require.Len(t, list, 1)

	n, err := a.Count(ctx, rows.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	list, err = a.List(ctx, rows.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = a.List(ctx, rows.ListOptions{OrderBy: "missing"})
	var ve *types.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestFileLinkAndDelete(t *testing.T) {
	a, db := newAccessor(t)
	ctx := context.Background()

	file := models.File{UserID: "u1", Name: "scan.pdf", Path: "/files/scan.pdf", MimeType: "application/pdf", Size: 10}
	require.NoError(t, db.Create(&file).Error)

	row, err := a.Insert(ctx, map[string]interface{}{"email": "f@example.com"}, &file.ID)
	require.NoError(t, err)
	require.NotNil(t, row.FileID)

	got, err := a.Get(ctx, row.ID, true)
	require.NoError(t, err)
	require.NotNil(t, got.File)
	assert.Equal(t, "scan.pdf", got.File.Name)

	require.NoError(t, a.SetFile(ctx, row.ID, nil))
	got, err = a.Get(ctx, row.ID, true)
	require.NoError(t, err)
	assert.Nil(t, got.FileID)
	assert.Nil(t, got.File)

	require.NoError(t, a.Delete(ctx, row.ID))
	assert.ErrorIs(t, a.Delete(ctx, row.ID), types.ErrNotFound)
	_, err = a.Get(ctx, row.ID, false)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDriftDetected(t *testing.T) {
	db := testutil.NewDB(t)
	exec, err := ddl.NewExecutor(db)
	require.NoError(t, err)
	ctx := context.Background()

	vs, err := schema.Validate(testutil.InvoiceSchema(), nil)
	require.NoError(t, err)
	require.NoError(t, exec.CreateTable(ctx, "dt_invoices", vs))

	form := append(vs.Persisted(), schema.AttributeSpec{Name: "due", Type: schema.TypeDate, Order: 3})
	a := rows.New(db, exec.Dialect(), "dt_invoices", form, []string{"id", "file_id", "amount", "status", "created_at", "updated_at"})

	_, err = a.List(ctx, rows.ListOptions{})
	var de *types.SchemaDriftError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, []string{"due"}, de.Missing)
	assert.True(t, rows.IsDrift(err))
}
