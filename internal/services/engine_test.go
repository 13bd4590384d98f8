package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/rows"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/testutil"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newEngine(t *testing.T) (*services.Engine, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	e, err := services.NewEngine(db, services.Options{LockTTL: 5 * time.Second, LockRefresh: time.Second})
	require.NoError(t, err)
	return e, db
}

func createInvoice(t *testing.T, e *services.Engine) *models.DocumentType {
	t.Helper()
	dt, err := e.Create(context.Background(), services.CreateInput{
		UserID: "u1",
		Name:   "Invoice",
		Schema: testutil.InvoiceSchema(),
	})
	require.NoError(t, err)
	return dt
}

func columnNames(t *testing.T, e *services.Engine, id uint64) []string {
	t.Helper()
	cols, err := e.Columns(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func insertInvoices(t *testing.T, e *services.Engine, id uint64, n int) {
	t.Helper()
	a, err := e.Rows(context.Background(), id)
	require.NoError(t, err)
	statuses := []string{"draft", "sent", "paid"}
	for i := 0; i < n; i++ {
		_, err := a.Insert(context.Background(), map[string]interface{}{
			"amount": float64(100 * (i + 1)),
			"status": statuses[i%len(statuses)],
		}, nil)
		require.NoError(t, err)
	}
}

func TestCreateInvoice(t *testing.T) {
	e, _ := newEngine(t)
	dt := createInvoice(t, e)

	assert.Equal(t, "dt_invoice", dt.PhysicalTable)
	assert.True(t, dt.IsActive)
	assert.Equal(t, []string{"id", "file_id", "amount", "status", "created_at", "updated_at"}, columnNames(t, e, dt.ID))

	got, err := e.Get(context.Background(), dt.ID)
	require.NoError(t, err)
	require.Len(t, got.SchemaForm, 2)
	assert.Equal(t, "amount", got.SchemaForm[0].Name)
	assert.Equal(t, 1, got.SchemaForm[0].Order)
	assert.Equal(t, "status", got.SchemaForm[1].Name)
	assert.Equal(t, 2, got.SchemaForm[1].Order)
	assert.Equal(t, []string{"draft", "sent", "paid"}, got.SchemaForm[1].Options.Slice())

	d, err := e.Describe(context.Background(), dt.ID)
	require.NoError(t, err)
	require.Len(t, d.Columns, 2)
	assert.Equal(t, schema.KindNumber, d.Columns[0].Kind)
	assert.Equal(t, schema.KindString, d.Columns[1].Kind)
	assert.True(t, d.Columns[1].Present)
}

func TestCreateRejectsReservedNames(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	for _, name := range []string{"id", "created_at", "updated at", "File ID"} {
		_, err := e.Create(ctx, services.CreateInput{
			Name:   "Bad " + name,
			Schema: []schema.AttributeSpec{{Name: name, Type: schema.TypeText}},
		})
		var ve *types.ValidationError
		require.True(t, errors.As(err, &ve), name)
		assert.True(t, ve.Has("reserved"), name)
	}

	tables, err := e.Executor().Tables(ctx)
	require.NoError(t, err)
	for _, table := range tables {
		assert.False(t, e.Allocator().IsManaged(table), table)
	}
}

func TestCreateNameConflict(t *testing.T) {
	e, _ := newEngine(t)
	createInvoice(t, e)

	_, err := e.Create(context.Background(), services.CreateInput{Name: "invoice", Schema: testutil.InvoiceSchema()})
	var ne *types.NamingConflictError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "document_type", ne.Kind)
}

func TestAlterRenameAndAdd(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 2)

	res, err := e.Alter(ctx, dt.ID, services.AlterRequest{Schema: []schema.AttributeSpec{
		testutil.InvoiceSchema()[0],
		{Name: "state", RenameFrom: "status", Type: schema.TypeSelect, Options: []string{"draft", "sent", "paid"}},
		{Name: "due_date", Type: schema.TypeDate},
	}})
	require.NoError(t, err)
	require.Len(t, res.Operations, 2)
	assert.Equal(t, "ModifyColumn", res.Operations[0].Op)
	assert.Equal(t, "state", res.Operations[0].Column)
	assert.Equal(t, "status→state", res.Operations[0].Detail)
	assert.Equal(t, "AddColumn", res.Operations[1].Op)
	assert.Equal(t, "due_date", res.Operations[1].Column)

	assert.Equal(t, []string{"amount", "state", "due_date"}, res.DocumentType.SchemaForm.Names())
	assert.ElementsMatch(t, []string{"id", "file_id", "amount", "state", "due_date", "created_at", "updated_at"}, columnNames(t, e, dt.ID))

	a, err := e.Rows(ctx, dt.ID)
	require.NoError(t, err)
	list, err := a.List(ctx, rows.ListOptions{OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	state, ok, err := list[1].String("state")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sent", state)
}

func TestReorderIsIdempotent(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	before := columnNames(t, e, dt.ID)

	first, err := e.Reorder(ctx, dt.ID, []string{"status", "amount"})
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "amount"}, first.DocumentType.SchemaForm.Names())
	for _, op := range first.Operations {
		assert.Equal(t, "ReorderColumn", op.Op)
	}

	second, err := e.Reorder(ctx, dt.ID, []string{"status", "amount"})
	require.NoError(t, err)
	assert.Empty(t, second.Operations)
	assert.Equal(t, first.DocumentType.SchemaForm.Names(), second.DocumentType.SchemaForm.Names())
	assert.Equal(t, before, columnNames(t, e, dt.ID))

	_, err = e.Reorder(ctx, dt.ID, []string{"status"})
	var ve *types.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestReorderLeavesDriftedTableAlone(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 3)

	// schema_form still says status; the table already says state
	require.NoError(t, db.Exec("ALTER TABLE "+dt.PhysicalTable+" RENAME COLUMN status TO state").Error)

	res, err := e.Reorder(ctx, dt.ID, []string{"status", "amount"})
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "amount"}, res.DocumentType.SchemaForm.Names())
	for _, op := range res.Operations {
		assert.Equal(t, "ReorderColumn", op.Op)
	}

	cols, err := e.Executor().Columns(ctx, dt.PhysicalTable)
	require.NoError(t, err)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"id", "file_id", "amount", "state", "created_at", "updated_at"}, names)

	var kept int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM "+dt.PhysicalTable+" WHERE state IS NOT NULL").Scan(&kept).Error)
	assert.Equal(t, int64(3), kept)
}

func TestAttributeEntryPoints(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)

	res, err := e.InsertAttribute(ctx, dt.ID, schema.AttributeSpec{Name: "customer", Type: schema.TypeText, Order: 1}, services.AlterRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"customer", "amount", "status"}, res.DocumentType.SchemaForm.Names())

	_, err = e.InsertAttribute(ctx, dt.ID, schema.AttributeSpec{Name: "amount", Type: schema.TypeNumber}, services.AlterRequest{})
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has("excluded"))

	res, err = e.EditAttribute(ctx, dt.ID, "customer", schema.AttributeSpec{Name: "client", Type: schema.TypeText, MaxLength: testutil.Int(80)}, services.AlterRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"client", "amount", "status"}, res.DocumentType.SchemaForm.Names())
	require.Len(t, res.Operations, 1)
	assert.Equal(t, "customer→client", res.Operations[0].Detail)

	res, err = e.DeleteAttribute(ctx, dt.ID, "client")
	require.NoError(t, err)
	assert.Equal(t, []string{"amount", "status"}, res.DocumentType.SchemaForm.Names())
	assert.Equal(t, 1, res.DocumentType.SchemaForm[0].Order)
	assert.NotContains(t, columnNames(t, e, dt.ID), "client")

	_, err = e.DeleteAttribute(ctx, dt.ID, "missing")
	assert.True(t, errors.As(err, &ve))
}

func TestTypeChangeNeedsConverter(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 1)

	target := []schema.AttributeSpec{
		{Name: "amount", Type: schema.TypeText},
		testutil.InvoiceSchema()[1],
	}
	_, err := e.Alter(ctx, dt.ID, services.AlterRequest{Schema: target})
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has(ddl.CodeConversion))

	_, err = e.Alter(ctx, dt.ID, services.AlterRequest{Schema: target, Conversions: map[string]string{"amount": "to_nothing"}})
	require.True(t, errors.As(err, &ve))

	res, err := e.Alter(ctx, dt.ID, services.AlterRequest{Schema: target, Conversions: map[string]string{"amount": "to_string"}})
	require.NoError(t, err)
	require.Len(t, res.Operations, 1)
	assert.Equal(t, "number→string", res.Operations[0].Detail)

	a, err := e.Rows(ctx, dt.ID)
	require.NoError(t, err)
	list, err := a.List(ctx, rows.ListOptions{OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	amount, _, err := list[0].String("amount")
	require.NoError(t, err)
	assert.Equal(t, "100", amount)
}

func TestConversionFailureChangesNothing(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 1)

	_, err := e.Alter(ctx, dt.ID, services.AlterRequest{
		Schema: []schema.AttributeSpec{{Name: "amount", Type: schema.TypeText}, testutil.InvoiceSchema()[1]},
		Converters: map[string]ddl.Converter{"amount": func(interface{}) (interface{}, error) {
			return nil, errors.New("unsupported")
		}},
	})
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, types.ChangeNone, types.ChangeStateOf(err))

	got, err := e.Get(ctx, dt.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.TypeNumber, got.SchemaForm[0].Type)
	assert.Equal(t, []string{"id", "file_id", "amount", "status", "created_at", "updated_at"}, columnNames(t, e, dt.ID))
}

func TestPartialApply(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 1)

	_, err := e.Alter(ctx, dt.ID, services.AlterRequest{
		Schema: []schema.AttributeSpec{
			{Name: "amount", Type: schema.TypeText},
			testutil.InvoiceSchema()[1],
			{Name: "note", Type: schema.TypeTextarea},
		},
		Converters: map[string]ddl.Converter{"amount": func(interface{}) (interface{}, error) {
			return nil, errors.New("unsupported")
		}},
	})
	var pe *types.PartialApplyError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, types.ChangePartial, types.ChangeStateOf(err))
	require.Len(t, pe.Applied, 1)
	assert.Equal(t, "AddColumn", pe.Applied[0].Op)
	assert.Equal(t, "note", pe.Applied[0].Column)
	require.Len(t, pe.Unapplied, 1)
	assert.Equal(t, "ModifyColumn", pe.Unapplied[0].Op)

	got, err := e.Get(ctx, dt.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"amount", "status", "note"}, got.SchemaForm.Names())
	assert.Equal(t, schema.TypeNumber, got.SchemaForm[0].Type)

	a, err := e.Rows(ctx, dt.ID)
	require.NoError(t, err)
	_, err = a.List(ctx, rows.ListOptions{OrderBy: "id"})
	assert.NoError(t, err)
}

func TestUniqueRejectedWithDuplicates(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 4)

	status := testutil.InvoiceSchema()[1]
	status.Unique = true
	_, err := e.Alter(ctx, dt.ID, services.AlterRequest{Schema: []schema.AttributeSpec{testutil.InvoiceSchema()[0], status}})
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has("unique"))

	amount := testutil.InvoiceSchema()[0]
	amount.Unique = true
	_, err = e.Alter(ctx, dt.ID, services.AlterRequest{Schema: []schema.AttributeSpec{amount, testutil.InvoiceSchema()[1]}})
	assert.NoError(t, err)
}

func TestConcurrentAlterExclusion(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = e.Alter(ctx, dt.ID, services.AlterRequest{
			Schema: []schema.AttributeSpec{{Name: "amount", Type: schema.TypeText}, testutil.InvoiceSchema()[1]},
			Converters: map[string]ddl.Converter{"amount": func(v interface{}) (interface{}, error) {
				once.Do(func() { close(started) })
				<-release
				return schema.ToText(v)
			}},
		})
	}()

	<-started
	_, err := e.InsertAttribute(ctx, dt.ID, schema.AttributeSpec{Name: "note", Type: schema.TypeText}, services.AlterRequest{})
	var le *types.LockContentionError
	require.True(t, errors.As(err, &le))
	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	got, err := e.Get(ctx, dt.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"amount", "status"}, got.SchemaForm.Names())
	assert.Equal(t, schema.TypeText, got.SchemaForm[0].Type)
}

func TestUpdateDetails(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	_, err := e.Create(ctx, services.CreateInput{Name: "Receipt"})
	require.NoError(t, err)

	long := "Customer invoice"
	got, err := e.UpdateDetails(ctx, dt.ID, services.DetailsInput{LongName: &long})
	require.NoError(t, err)
	assert.Equal(t, long, got.LongName)
	assert.Equal(t, "dt_invoice", got.PhysicalTable)

	name := "Receipt"
	_, err = e.UpdateDetails(ctx, dt.ID, services.DetailsInput{Name: &name})
	var ne *types.NamingConflictError
	assert.True(t, errors.As(err, &ne))

	name = "Bill"
	got, err = e.UpdateDetails(ctx, dt.ID, services.DetailsInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Bill", got.Name)
	assert.Equal(t, "dt_invoice", got.PhysicalTable)
}

func TestCreateFromDraft(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Drafts().Save(ctx, "u1", "Expense", testutil.InvoiceSchema())
	require.NoError(t, err)
	dt, err := e.CreateFromDraft(ctx, "u1", "Expense", services.CreateInput{}, false)
	require.NoError(t, err)
	assert.Equal(t, "Expense", dt.Name)
	assert.Equal(t, "dt_expense", dt.PhysicalTable)
	_, err = e.Drafts().Get(ctx, "u1", "Expense")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = e.Drafts().Save(ctx, "u1", "Mileage", []schema.AttributeSpec{{Name: "km", Type: schema.TypeNumber}})
	require.NoError(t, err)
	_, err = e.CreateFromDraft(ctx, "u1", "Mileage", services.CreateInput{Name: "Trip"}, true)
	require.NoError(t, err)
	_, err = e.Drafts().Get(ctx, "u1", "Mileage")
	assert.NoError(t, err)

	_, err = e.Drafts().Save(ctx, "u1", "Broken", []schema.AttributeSpec{{Name: "id", Type: schema.TypeText}})
	require.NoError(t, err)
	_, err = e.CreateFromDraft(ctx, "u1", "Broken", services.CreateInput{}, false)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	_, err = e.Drafts().Get(ctx, "u1", "Broken")
	assert.NoError(t, err)
}
