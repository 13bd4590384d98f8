// executor.go
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

package ddl

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/localnerve/doctypesdb/internal/metrics"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/zeebo/blake3"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PhysicalColumn is a column read back from the database.
type PhysicalColumn struct {
	Name         string
	DatabaseType string
	Kind         schema.ColumnKind
	KnownKind    bool
}

// Executor runs structural statements against one database.
// Every statement auto-commits; nothing here is transactional across statements.
type Executor struct {
	db      *gorm.DB
	dialect Dialect
}

// NewExecutor creates an executor for the connection's dialect.
func NewExecutor(db *gorm.DB) (*Executor, error) {
	d, err := DialectFor(db)
	if err != nil {
		return nil, err
	}
	return &Executor{db: db, dialect: d}, nil
}

// Dialect returns the executor's dialect.
func (e *Executor) Dialect() Dialect {
	return e.dialect
}

func (e *Executor) conn(ctx context.Context) *gorm.DB {
	return e.db.WithContext(ctx)
}

func (e *Executor) silent(ctx context.Context) *gorm.DB {
	return e.db.Session(&gorm.Session{Logger: e.db.Logger.LogMode(logger.Silent)}).WithContext(ctx)
}

func (e *Executor) exec(ctx context.Context, kind, table, sql string, args ...interface{}) error {
	log.Printf("DDL %s on %s: %s", kind, table, sql)
	metrics.DDLStatements.WithLabelValues(kind).Inc()
	return e.conn(ctx).Exec(sql, args...).Error
}

// CreateTable creates a document type table with base and attribute columns.
func (e *Executor) CreateTable(ctx context.Context, table string, vs *schema.ValidatedSchema) error {
	return e.exec(ctx, "create_table", table, e.dialect.CreateTableSQL(table, vs.Columns()))
}

// Apply runs the plan's operations in order, one statement (or shadow copy) each.
// It returns how many operations completed; on error that is the applied prefix length.
func (e *Executor) Apply(ctx context.Context, plan *Plan) (int, error) {
	for i, op := range plan.Operations {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := e.applyOp(ctx, plan.Table, op); err != nil {
			return i, fmt.Errorf("%s: %w", op, err)
		}
	}
	return len(plan.Operations), nil
}

func (e *Executor) applyOp(ctx context.Context, table string, op Operation) error {
	switch op.Kind {
	case OpAddColumn:
		return e.exec(ctx, "add_column", table, e.dialect.AddColumnSQL(table, op.Column, op.ToKind))
	case OpDropColumn:
		return e.exec(ctx, "drop_column", table, e.dialect.DropColumnSQL(table, op.Column))
	case OpModifyColumn:
		if op.TypeChange() {
			return e.changeKind(ctx, table, op)
		}
		if op.Rename() {
			return e.exec(ctx, "rename_column", table, e.dialect.RenameColumnSQL(table, op.From, op.Column))
		}
	}
	// Constraint changes and reorders only touch metadata.
	return nil
}

// ShadowColumn names the temporary column that receives converted values
// while changing a column's kind.
func ShadowColumn(table, column string) string {
	return workColumn(shadowPrefix, table, column)
}

// BackupColumn names the column that keeps the original values of column until
// its shadow has taken the column's place.
func BackupColumn(table, column string) string {
	return workColumn(backupPrefix, table, column)
}

const (
	shadowPrefix = "tmp_"
	backupPrefix = "bak_"
	workHashLen  = 8
)

func workColumn(prefix, table, column string) string {
	sum := blake3.Sum256([]byte(table + "." + column))
	return prefix + hex.EncodeToString(sum[:])[:workHashLen]
}

// IsWorkColumn reports whether column is named like a shadow or backup column.
func IsWorkColumn(column string) bool {
	if len(column) != len(shadowPrefix)+workHashLen {
		return false
	}
	if !strings.HasPrefix(column, shadowPrefix) && !strings.HasPrefix(column, backupPrefix) {
		return false
	}
	_, err := hex.DecodeString(column[len(shadowPrefix):])
	return err == nil
}

// IsBackupColumn reports whether column is named like a backup column.
func IsBackupColumn(column string) bool {
	return IsWorkColumn(column) && strings.HasPrefix(column, backupPrefix)
}

// changeKind copies the column through a shadow column of the new kind. The
// original column is kept under its backup name until the shadow is renamed into
// place, so a failure at any step leaves the original values recoverable:
// add shadow, convert every row into it, rename original to backup, rename
// shadow to the target name, drop backup.
func (e *Executor) changeKind(ctx context.Context, table string, op Operation) error {
	shadow := ShadowColumn(table, op.Column)
	backup := BackupColumn(table, op.From)
	for _, leftover := range []string{shadow, backup} {
		exists, err := e.HasColumn(ctx, table, leftover)
		if err != nil {
			return err
		}
		if exists {
			if err := e.exec(ctx, "drop_column", table, e.dialect.DropColumnSQL(table, leftover)); err != nil {
				return err
			}
		}
	}
	if err := e.exec(ctx, "add_column", table, e.dialect.AddColumnSQL(table, shadow, op.ToKind)); err != nil {
		return err
	}

	if err := e.copyInto(ctx, table, shadow, op); err != nil {
		e.discard(ctx, table, shadow)
		return err
	}
	if err := e.exec(ctx, "rename_column", table, e.dialect.RenameColumnSQL(table, op.From, backup)); err != nil {
		e.discard(ctx, table, shadow)
		return err
	}
	if err := e.exec(ctx, "rename_column", table, e.dialect.RenameColumnSQL(table, shadow, op.Column)); err != nil {
		if restoreErr := e.exec(context.WithoutCancel(ctx), "rename_column", table, e.dialect.RenameColumnSQL(table, backup, op.From)); restoreErr != nil {
			log.Printf("Failed to restore %s from %s on %s: %v", op.From, backup, table, restoreErr)
			return err
		}
		e.discard(ctx, table, shadow)
		return err
	}
	if err := e.exec(ctx, "drop_column", table, e.dialect.DropColumnSQL(table, backup)); err != nil {
		log.Printf("Kind change of %s on %s left backup column %s: %v", op.Column, table, backup, err)
	}
	return nil
}

// RenameColumn renames one column of table.
func (e *Executor) RenameColumn(ctx context.Context, table, from, to string) error {
	return e.exec(ctx, "rename_column", table, e.dialect.RenameColumnSQL(table, from, to))
}

// DropColumn drops one column of table.
func (e *Executor) DropColumn(ctx context.Context, table, column string) error {
	return e.exec(ctx, "drop_column", table, e.dialect.DropColumnSQL(table, column))
}

// discard drops a work column after a failed step.
func (e *Executor) discard(ctx context.Context, table, column string) {
	if err := e.exec(context.WithoutCancel(ctx), "drop_column", table, e.dialect.DropColumnSQL(table, column)); err != nil {
		log.Printf("Failed to remove work column %s on %s: %v", column, table, err)
	}
}

func (e *Executor) copyInto(ctx context.Context, table, shadow string, op Operation) error {
	q := e.dialect.Quote
	if op.Converter == nil {
		return e.exec(ctx, "copy_column", table,
			fmt.Sprintf("UPDATE %s SET %s = %s", q(table), q(shadow), q(op.From)))
	}

	target, err := schema.NewColumnSpec(op.Attribute)
	if err != nil {
		return err
	}

	type update struct {
		id    int64
		value interface{}
	}
	var updates []update

	rows, err := e.silent(ctx).Raw(fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL",
		q(schema.ColumnID), q(op.From), q(table), q(op.From))).Rows()
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			id  int64
			raw interface{}
		)
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return err
		}
		if b, ok := raw.([]byte); ok {
			raw = string(b)
		}
		converted, err := op.Converter(raw)
		if err == nil && converted == nil {
			updates = append(updates, update{id: id})
			continue
		}
		if err == nil {
			converted, err = target.Coerce(converted)
		}
		if err == nil {
			if fe := target.Check(converted); fe != nil {
				err = errors.New(fe.Message)
			}
		}
		if err != nil {
			rows.Close()
			return &ConversionError{Column: op.From, RowID: id, Value: raw, Err: err}
		}
		updates = append(updates, update{id: id, value: target.StorageValue(converted)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	metrics.DDLStatements.WithLabelValues("copy_column").Inc()
	log.Printf("DDL copy_column on %s: converting %d rows from %s into %s", table, len(updates), op.From, shadow)
	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", q(table), q(shadow), q(schema.ColumnID))
	return e.silent(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := tx.Exec(stmt, u.value, u.id).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// TableExists reports whether the table exists.
func (e *Executor) TableExists(ctx context.Context, table string) (bool, error) {
	return e.silent(ctx).Migrator().HasTable(table), nil
}

// Tables lists every table in the current database.
func (e *Executor) Tables(ctx context.Context) ([]string, error) {
	return e.silent(ctx).Migrator().GetTables()
}

// RenameTable renames a table.
func (e *Executor) RenameTable(ctx context.Context, from, to string) error {
	log.Printf("DDL rename_table: %s to %s", from, to)
	metrics.DDLStatements.WithLabelValues("rename_table").Inc()
	return e.conn(ctx).Migrator().RenameTable(from, to)
}

// DropTable drops a table if it exists.
func (e *Executor) DropTable(ctx context.Context, table string) error {
	log.Printf("DDL drop_table: %s", table)
	metrics.DDLStatements.WithLabelValues("drop_table").Inc()
	return e.conn(ctx).Migrator().DropTable(table)
}

// Columns introspects the table's columns in physical order.
func (e *Executor) Columns(ctx context.Context, table string) ([]PhysicalColumn, error) {
	cts, err := e.silent(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return nil, err
	}
	out := make([]PhysicalColumn, 0, len(cts))
	for _, ct := range cts {
		length, ok := ct.Length()
		if !ok {
			length = 0
		}
		kind, known := KindOf(ct.DatabaseTypeName(), length)
		out = append(out, PhysicalColumn{
			Name:         ct.Name(),
			DatabaseType: ct.DatabaseTypeName(),
			Kind:         kind,
			KnownKind:    known,
		})
	}
	return out, nil
}

// HasColumn reports whether the table has a column.
func (e *Executor) HasColumn(ctx context.Context, table, column string) (bool, error) {
	cols, err := e.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}

// RowCount counts the rows in a table.
func (e *Executor) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := e.silent(ctx).Table(table).Count(&n).Error
	return n, err
}

// IsBaseColumn reports whether column is one every table carries.
func IsBaseColumn(column string) bool {
	for _, b := range schema.BaseColumns() {
		if b == column {
			return true
		}
	}
	return false
}
