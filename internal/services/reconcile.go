// reconcile.go
//
// Dynamic document type schema and table lifecycle engine
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of doctypesdb.
// doctypesdb is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// doctypesdb is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with doctypesdb.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/metrics"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/naming"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/robfig/cron/v3"
)

// ReconcileOptions controls a reconciliation pass.
type ReconcileOptions struct {
	// DryRun reports without changing anything.
	DryRun bool
	// DropNonEmpty also drops orphan tables that still hold rows, and backup
	// columns no attribute claims.
	DropNonEmpty bool
}

// OrphanTable is a managed table no document type owns.
type OrphanTable struct {
	Table   string `json:"table"`
	Rows    int64  `json:"rows"`
	Parked  bool   `json:"parked"`
	Dropped bool   `json:"dropped"`
}

// Completion is an interrupted lifecycle operation carried forward.
type Completion struct {
	DocumentTypeID uint64 `json:"document_type_id"`
	Name           string `json:"name"`
	Action         string `json:"action"`
	Done           bool   `json:"done"`
}

// DriftReport is a document type whose metadata and table disagree.
type DriftReport struct {
	DocumentTypeID uint64   `json:"document_type_id"`
	Table          string   `json:"table"`
	Missing        []string `json:"missing,omitempty"`
	MissingTable   bool     `json:"missing_table,omitempty"`
}

// Column repair actions.
const (
	RepairRestoreBackup = "restore_backup"
	RepairDropBackup    = "drop_backup"
	RepairDropShadow    = "drop_shadow"
	RepairKept          = "kept"
)

// ColumnRepair is a work column an interrupted kind change left on a table.
type ColumnRepair struct {
	DocumentTypeID uint64 `json:"document_type_id"`
	Table          string `json:"table"`
	Column         string `json:"column"`
	Target         string `json:"target,omitempty"`
	Action         string `json:"action"`
	Done           bool   `json:"done"`
}

// ReconcileReport lists what a pass found and did.
type ReconcileReport struct {
	DryRun      bool           `json:"dry_run"`
	Orphans     []OrphanTable  `json:"orphans"`
	Completions []Completion   `json:"completions"`
	Columns     []ColumnRepair `json:"columns"`
	Drift       []DriftReport  `json:"drift"`
	Skipped     []string       `json:"skipped"`
}

// Reconcile repairs what interrupted lifecycle operations left behind. Orphan tables
// are dropped when empty, interrupted trash, restore and destroy are completed,
// work columns left by an interrupted kind change are repaired, and schema drift is
// reported. Tables and types locked by a running operation are skipped.
func (e *Engine) Reconcile(ctx context.Context, opts ReconcileOptions) (report *ReconcileReport, err error) {
	start := time.Now()
	defer func() { metrics.Observe("reconcile", start, err) }()

	report = &ReconcileReport{DryRun: opts.DryRun}
	err = e.locks.ExecuteWithLockAndRefresh(ctx, lock.Reconcile, func() error {
		var all []models.DocumentType
		if err := e.silent(ctx).Unscoped().Order("id").Find(&all).Error; err != nil {
			return types.Storage("list document types", err)
		}
		trashed, err := e.trash.List(ctx)
		if err != nil {
			return err
		}
		tables, err := e.exec.Tables(ctx)
		if err != nil {
			return types.Storage("list tables", err)
		}

		present := make(map[string]bool, len(tables))
		for _, t := range tables {
			present[t] = true
		}
		entries := make(map[uint64]models.TrashedDocumentType, len(trashed))
		owned := make(map[string]bool, len(all)+len(trashed))
		for _, t := range trashed {
			entries[t.DocumentTypeID] = t
			owned[t.TrashedTableName] = true
			owned[t.OriginalTableName] = true
		}
		for _, dt := range all {
			owned[dt.PhysicalTable] = true
			owned[naming.Parked(dt.PhysicalTable)] = true
		}

		for i := range all {
			dt := &all[i]
			entry, isTrashed := entries[dt.ID]
			if err := e.reconcileType(ctx, dt, entry, isTrashed, present, opts, report); err != nil {
				return err
			}
		}

		sort.Strings(tables)
		for _, t := range tables {
			if owned[t] || !e.allocator.IsManaged(t) {
				continue
			}
			if err := e.reconcileOrphan(ctx, t, opts, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Reconciliation finished: %d orphans, %d completions, %d columns, %d drift, %d skipped (dry run %t)",
		len(report.Orphans), len(report.Completions), len(report.Columns), len(report.Drift), len(report.Skipped), opts.DryRun)
	return report, nil
}

func (e *Engine) reconcileType(ctx context.Context, dt *models.DocumentType, entry models.TrashedDocumentType, isTrashed bool, present map[string]bool, opts ReconcileOptions, report *ReconcileReport) error {
	active := present[dt.PhysicalTable]
	parked := present[naming.Parked(dt.PhysicalTable)]

	var action string
	switch {
	case dt.IsActive && !active && parked:
		action = "complete_trash"
	case !dt.IsActive && isTrashed && !present[entry.TrashedTableName] && present[entry.OriginalTableName]:
		action = "complete_restore"
	case !dt.IsActive && isTrashed && !present[entry.TrashedTableName] && !present[entry.OriginalTableName]:
		action = "complete_destroy"
	case dt.IsActive && !active:
		metrics.ReconcileActions.WithLabelValues("missing_table").Inc()
		report.Drift = append(report.Drift, DriftReport{DocumentTypeID: dt.ID, Table: dt.PhysicalTable, MissingTable: true})
		return nil
	case dt.IsActive:
		if err := e.repairColumns(ctx, dt, opts, report); err != nil {
			return err
		}
		return e.reportDrift(ctx, dt, report)
	default:
		return nil
	}

	c := Completion{DocumentTypeID: dt.ID, Name: dt.Name, Action: action}
	metrics.ReconcileActions.WithLabelValues(action).Inc()
	if opts.DryRun {
		report.Completions = append(report.Completions, c)
		return nil
	}

	err := e.locks.ExecuteWithLock(ctx, lock.DocumentType(dt.ID), func() error {
		log.Printf("Reconcile: %s for document type %d %q", action, dt.ID, dt.Name)
		var err error
		switch action {
		case "complete_trash":
			_, err = e.markTrashed(ctx, dt)
		case "complete_restore":
			err = e.markRestored(ctx, dt, &entry)
		case "complete_destroy":
			err = e.forget(ctx, dt.ID)
		}
		return err
	})
	var le *types.LockContentionError
	if errors.As(err, &le) {
		report.Skipped = append(report.Skipped, lock.DocumentType(dt.ID))
		return nil
	}
	if err != nil {
		return types.Storage(action, err)
	}
	c.Done = true
	report.Completions = append(report.Completions, c)
	e.invalidate(ctx, dt.ID, dt.PhysicalTable, naming.Parked(dt.PhysicalTable))
	return nil
}

// planColumnRepairs finds work columns on the table. A backup whose attribute column
// is missing is renamed back; a backup whose column is present is dropped. Shadow
// columns are dropped once every attribute column is present or restored. Backups
// of columns schema_form no longer names are kept unless DropNonEmpty is set.
func (e *Engine) planColumnRepairs(ctx context.Context, dt *models.DocumentType, opts ReconcileOptions) ([]ColumnRepair, error) {
	cols, err := e.exec.Columns(ctx, dt.PhysicalTable)
	if err != nil {
		return nil, types.Storage("read columns of "+dt.PhysicalTable, err)
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	inForm := make(map[string]bool, len(dt.SchemaForm))
	for _, a := range dt.SchemaForm {
		inForm[a.Column()] = true
	}

	var repairs []ColumnRepair
	handled := map[string]bool{}
	complete := true
	for _, a := range dt.SchemaForm {
		col := a.Column()
		backup := ddl.BackupColumn(dt.PhysicalTable, col)
		if !have[backup] || inForm[backup] {
			if !have[col] {
				complete = false
			}
			continue
		}
		r := ColumnRepair{DocumentTypeID: dt.ID, Table: dt.PhysicalTable, Column: backup, Target: col, Action: RepairDropBackup}
		if !have[col] {
			r.Action = RepairRestoreBackup
		}
		handled[backup] = true
		repairs = append(repairs, r)
	}

	for _, c := range cols {
		if handled[c.Name] || inForm[c.Name] || !ddl.IsWorkColumn(c.Name) {
			continue
		}
		r := ColumnRepair{DocumentTypeID: dt.ID, Table: dt.PhysicalTable, Column: c.Name, Action: RepairKept}
		switch {
		case ddl.IsBackupColumn(c.Name):
			if opts.DropNonEmpty {
				r.Action = RepairDropBackup
			}
		case complete:
			r.Action = RepairDropShadow
		}
		repairs = append(repairs, r)
	}
	return repairs, nil
}

// repairColumns applies planColumnRepairs under the document type and table locks.
func (e *Engine) repairColumns(ctx context.Context, dt *models.DocumentType, opts ReconcileOptions, report *ReconcileReport) error {
	repairs, err := e.planColumnRepairs(ctx, dt, opts)
	if err != nil || len(repairs) == 0 {
		return err
	}
	if opts.DryRun {
		report.Columns = append(report.Columns, repairs...)
		return nil
	}

	err = e.withLocks(ctx, []string{lock.DocumentType(dt.ID), lock.Table(dt.PhysicalTable)}, func() error {
		// An alter may have finished since the first read.
		repairs, err = e.planColumnRepairs(ctx, dt, opts)
		if err != nil {
			return err
		}
		sort.SliceStable(repairs, func(i, j int) bool {
			return repairs[i].Action == RepairRestoreBackup && repairs[j].Action != RepairRestoreBackup
		})
		for i := range repairs {
			r := &repairs[i]
			switch r.Action {
			case RepairRestoreBackup:
				log.Printf("Reconcile: restoring %s on %s from %s", r.Target, r.Table, r.Column)
				err = e.exec.RenameColumn(ctx, r.Table, r.Column, r.Target)
			case RepairDropBackup, RepairDropShadow:
				log.Printf("Reconcile: dropping work column %s on %s", r.Column, r.Table)
				err = e.exec.DropColumn(ctx, r.Table, r.Column)
			default:
				continue
			}
			if err != nil {
				return err
			}
			r.Done = true
			metrics.ReconcileActions.WithLabelValues(r.Action).Inc()
		}
		return nil
	})
	report.Columns = append(report.Columns, repairs...)
	var le *types.LockContentionError
	if errors.As(err, &le) {
		report.Skipped = append(report.Skipped, le.Key)
		return nil
	}
	if err != nil {
		return types.Storage("repair columns of "+dt.PhysicalTable, err)
	}
	e.invalidate(ctx, dt.ID, dt.PhysicalTable)
	return nil
}

func (e *Engine) reportDrift(ctx context.Context, dt *models.DocumentType, report *ReconcileReport) error {
	cols, err := e.exec.Columns(ctx, dt.PhysicalTable)
	if err != nil {
		return types.Storage("read columns of "+dt.PhysicalTable, err)
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	var missing []string
	for _, a := range dt.SchemaForm {
		if !have[a.Column()] {
			missing = append(missing, a.Column())
		}
	}
	if len(missing) > 0 {
		metrics.ReconcileActions.WithLabelValues("drift").Inc()
		report.Drift = append(report.Drift, DriftReport{DocumentTypeID: dt.ID, Table: dt.PhysicalTable, Missing: missing})
	}
	return nil
}

func (e *Engine) reconcileOrphan(ctx context.Context, table string, opts ReconcileOptions, report *ReconcileReport) error {
	n, err := e.exec.RowCount(ctx, table)
	if err != nil {
		return types.Storage("count rows of "+table, err)
	}
	o := OrphanTable{Table: table, Rows: n, Parked: naming.IsParked(table)}
	if o.Parked || (n > 0 && !opts.DropNonEmpty) || opts.DryRun {
		metrics.ReconcileActions.WithLabelValues("orphan_kept").Inc()
		report.Orphans = append(report.Orphans, o)
		return nil
	}

	err = e.locks.ExecuteWithLock(ctx, lock.Table(table), func() error {
		// The table may have been claimed since the listing.
		inUse, err := registry{ctx: ctx, e: e}.TableNameInUse(table)
		if err != nil || inUse {
			return err
		}
		log.Printf("Reconcile: dropping orphan table %s (%d rows)", table, n)
		if err := e.exec.DropTable(ctx, table); err != nil {
			return err
		}
		o.Dropped = true
		return nil
	})
	var le *types.LockContentionError
	if errors.As(err, &le) {
		report.Skipped = append(report.Skipped, lock.Table(table))
		return nil
	}
	if err != nil {
		return types.Storage("drop orphan "+table, err)
	}
	if o.Dropped {
		metrics.ReconcileActions.WithLabelValues("orphan_dropped").Inc()
		e.invalidate(ctx, 0, table)
	}
	report.Orphans = append(report.Orphans, o)
	return nil
}

// Reconciler runs reconciliation on a cron schedule.
type Reconciler struct {
	engine *Engine
	cron   *cron.Cron
	opts   ReconcileOptions
}

// NewReconciler schedules engine.Reconcile. spec is a cron expression or descriptor such as "@every 15m".
func NewReconciler(engine *Engine, spec string, opts ReconcileOptions) (*Reconciler, error) {
	r := &Reconciler{engine: engine, cron: cron.New(), opts: opts}
	if _, err := r.cron.AddFunc(spec, r.run); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	_, err := r.engine.Reconcile(ctx, r.opts)
	var le *types.LockContentionError
	switch {
	case errors.As(err, &le):
		log.Printf("Reconciliation skipped, another pass is running")
	case err != nil:
		log.Printf("Reconciliation failed: %v", err)
	}
}

// Start begins the schedule.
func (r *Reconciler) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running pass.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}
