package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/rows"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/services"
	"github.com/localnerve/doctypesdb/internal/testutil"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func orphanByTable(report *services.ReconcileReport) map[string]services.OrphanTable {
	out := make(map[string]services.OrphanTable, len(report.Orphans))
	for _, o := range report.Orphans {
		out[o.Table] = o
	}
	return out
}

func TestReconcileOrphans(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	createInvoice(t, e)

	vs, err := schema.Validate(testutil.InvoiceSchema(), nil)
	require.NoError(t, err)
	for _, table := range []string{"dt_orphan_empty", "dt_orphan_full", "dt_ghost__trashed", "legacy"} {
		require.NoError(t, e.Executor().CreateTable(ctx, table, vs))
	}
	now := time.Now().UTC()
	require.NoError(t, db.Exec("INSERT INTO dt_orphan_full (amount, created_at, updated_at) VALUES (?, ?, ?)", 1, now, now).Error)

	report, err := e.Reconcile(ctx, services.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	orphans := orphanByTable(report)
	require.Len(t, orphans, 3)
	for _, o := range orphans {
		assert.False(t, o.Dropped, o.Table)
	}
	assert.True(t, orphans["dt_ghost__trashed"].Parked)
	assert.Equal(t, int64(1), orphans["dt_orphan_full"].Rows)

	report, err = e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	orphans = orphanByTable(report)
	assert.True(t, orphans["dt_orphan_empty"].Dropped)
	assert.False(t, orphans["dt_orphan_full"].Dropped)
	assert.False(t, orphans["dt_ghost__trashed"].Dropped)

	report, err = e.Reconcile(ctx, services.ReconcileOptions{DropNonEmpty: true})
	require.NoError(t, err)
	orphans = orphanByTable(report)
	assert.True(t, orphans["dt_orphan_full"].Dropped)
	assert.False(t, orphans["dt_ghost__trashed"].Dropped)

	for table, want := range map[string]bool{"dt_invoice": true, "legacy": true, "dt_ghost__trashed": true, "dt_orphan_full": false} {
		exists, err := e.Executor().TableExists(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, exists, table)
	}
}

func TestReconcileCompletesInterruptedTrash(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 2)

	require.NoError(t, e.Executor().RenameTable(ctx, "dt_invoice", "dt_invoice__trashed"))

	report, err := e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, report.Completions, 1)
	assert.Equal(t, "complete_trash", report.Completions[0].Action)
	assert.True(t, report.Completions[0].Done)
	assert.Empty(t, report.Orphans)

	restored, err := e.Restore(ctx, dt.ID)
	require.NoError(t, err)
	assert.Equal(t, "dt_invoice", restored.PhysicalTable)
	n, err := e.Executor().RowCount(ctx, "dt_invoice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCreateMetadataFailureIsReconciled(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()

	const hook = "test:fail_document_types"
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register(hook, func(tx *gorm.DB) {
		if tx.Statement.Table == "document_types" {
			_ = tx.AddError(errors.New("metadata unavailable"))
		}
	}))

	_, err := e.Create(ctx, services.CreateInput{Name: "Invoice", Schema: testutil.InvoiceSchema()})
	var fe *types.FatalStorageError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Inconsistent)
	assert.Equal(t, types.ChangeInconsistent, types.ChangeStateOf(err))
	require.NoError(t, db.Callback().Create().Remove(hook))

	exists, err := e.Executor().TableExists(ctx, "dt_invoice")
	require.NoError(t, err)
	assert.True(t, exists)

	report, err := e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	assert.Equal(t, "dt_invoice", report.Orphans[0].Table)
	assert.True(t, report.Orphans[0].Dropped)

	dt := createInvoice(t, e)
	assert.Equal(t, "dt_invoice", dt.PhysicalTable)
}

func TestReconcileReportsDrift(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)

	require.NoError(t, db.Exec("ALTER TABLE dt_invoice DROP COLUMN status").Error)

	report, err := e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	require.Len(t, report.Drift, 1)
	assert.Equal(t, []string{"status"}, report.Drift[0].Missing)

	a, err := e.Rows(ctx, dt.ID)
	require.NoError(t, err)
	_, err = a.List(ctx, rows.ListOptions{})
	assert.True(t, rows.IsDrift(err))

	res, err := e.Alter(ctx, dt.ID, services.AlterRequest{Schema: testutil.InvoiceSchema()})
	require.NoError(t, err)
	require.Len(t, res.Operations, 1)
	assert.Equal(t, "AddColumn", res.Operations[0].Op)

	report, err = e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Drift)
}

func TestReconcilerSchedule(t *testing.T) {
	e, _ := newEngine(t)

	_, err := services.NewReconciler(e, "not a schedule", services.ReconcileOptions{})
	assert.Error(t, err)

	r, err := services.NewReconciler(e, "@every 1h", services.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	r.Start()
	r.Stop()
}

func physicalColumns(t *testing.T, e *services.Engine, table string) []string {
	t.Helper()
	cols, err := e.Executor().Columns(context.Background(), table)
	require.NoError(t, err)
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func repairsByColumn(report *services.ReconcileReport) map[string]services.ColumnRepair {
	out := make(map[string]services.ColumnRepair, len(report.Columns))
	for _, r := range report.Columns {
		out[r.Column] = r
	}
	return out
}

func TestReconcileRestoresInterruptedKindChange(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 3)

	// Stopped after the source moved to its backup and before the shadow took its name.
	backup := ddl.BackupColumn(dt.PhysicalTable, "status")
	shadow := ddl.ShadowColumn(dt.PhysicalTable, "status")
	require.NoError(t, e.Executor().RenameColumn(ctx, dt.PhysicalTable, "status", backup))
	require.NoError(t, db.Exec("ALTER TABLE "+dt.PhysicalTable+" ADD COLUMN "+shadow+" TEXT").Error)
	assert.NotContains(t, columnNames(t, e, dt.ID), "status")

	report, err := e.Reconcile(ctx, services.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	repairs := repairsByColumn(report)
	require.Len(t, repairs, 2)
	assert.Equal(t, services.RepairRestoreBackup, repairs[backup].Action)
	assert.Equal(t, "status", repairs[backup].Target)
	assert.Equal(t, services.RepairDropShadow, repairs[shadow].Action)
	assert.False(t, repairs[backup].Done)
	assert.Contains(t, physicalColumns(t, e, dt.PhysicalTable), backup)

	report, err = e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	repairs = repairsByColumn(report)
	assert.True(t, repairs[backup].Done)
	assert.True(t, repairs[shadow].Done)
	assert.Empty(t, report.Drift)

	cols := physicalColumns(t, e, dt.PhysicalTable)
	assert.Contains(t, cols, "status")
	assert.NotContains(t, cols, backup)
	assert.NotContains(t, cols, shadow)
	assert.Contains(t, columnNames(t, e, dt.ID), "status")

	var statuses []string
	require.NoError(t, db.Raw("SELECT status FROM "+dt.PhysicalTable+" ORDER BY id").Scan(&statuses).Error)
	assert.Equal(t, []string{"draft", "sent", "paid"}, statuses)

	report, err = e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Columns)
}

func TestReconcileWorkColumnsWithSourcePresent(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)
	insertInvoices(t, e, dt.ID, 2)

	// The rename finished and only the backup drop failed.
	stale := ddl.BackupColumn(dt.PhysicalTable, "amount")
	unclaimed := ddl.BackupColumn(dt.PhysicalTable, "notes")
	for _, c := range []string{stale, unclaimed} {
		require.NoError(t, db.Exec("ALTER TABLE "+dt.PhysicalTable+" ADD COLUMN "+c+" TEXT").Error)
	}

	report, err := e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	repairs := repairsByColumn(report)
	assert.Equal(t, services.RepairDropBackup, repairs[stale].Action)
	assert.True(t, repairs[stale].Done)
	assert.Equal(t, services.RepairKept, repairs[unclaimed].Action)
	assert.False(t, repairs[unclaimed].Done)

	cols := physicalColumns(t, e, dt.PhysicalTable)
	assert.NotContains(t, cols, stale)
	assert.Contains(t, cols, unclaimed)

	report, err = e.Reconcile(ctx, services.ReconcileOptions{DropNonEmpty: true})
	require.NoError(t, err)
	assert.True(t, repairsByColumn(report)[unclaimed].Done)
	assert.NotContains(t, physicalColumns(t, e, dt.PhysicalTable), unclaimed)

	var n int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM "+dt.PhysicalTable+" WHERE amount IS NOT NULL").Scan(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestReconcileKeepsShadowWithoutSource(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	dt := createInvoice(t, e)

	shadow := ddl.ShadowColumn(dt.PhysicalTable, "status")
	require.NoError(t, db.Exec("ALTER TABLE "+dt.PhysicalTable+" DROP COLUMN status").Error)
	require.NoError(t, db.Exec("ALTER TABLE "+dt.PhysicalTable+" ADD COLUMN "+shadow+" TEXT").Error)

	report, err := e.Reconcile(ctx, services.ReconcileOptions{})
	require.NoError(t, err)
	repairs := repairsByColumn(report)
	assert.Equal(t, services.RepairKept, repairs[shadow].Action)
	assert.False(t, repairs[shadow].Done)
	assert.Contains(t, physicalColumns(t, e, dt.PhysicalTable), shadow)
	require.Len(t, report.Drift, 1)
	assert.Equal(t, []string{"status"}, report.Drift[0].Missing)
}
