// accessor.go
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

package rows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/spf13/cast"
	"gorm.io/gorm"
	"gorm.io/hints"
)

// ListOptions composes a row listing. Related files load only when WithFile is set.
type ListOptions struct {
	Where    map[string]interface{}
	Search   string
	OrderBy  string
	Desc     bool
	Limit    int
	Offset   int
	WithFile bool
}

// Accessor reads and writes rows of one document type table.
// Values are checked against the attribute rules before every write.
type Accessor struct {
	db       *gorm.DB
	dialect  ddl.Dialect
	table    string
	schema   *schema.ValidatedSchema
	physical map[string]struct{}
	missing  []string
	locks    *lock.Executor
	lockWait time.Duration
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithUniqueLock serializes writes that set unique attributes on the table,
// waiting up to wait for a concurrent writer to finish.
func WithUniqueLock(locks *lock.Executor, wait time.Duration) Option {
	return func(a *Accessor) {
		a.locks = locks
		a.lockWait = wait
	}
}

// New creates an accessor over table with the stored schema_form and the
// physical column names read from the table.
func New(db *gorm.DB, dialect ddl.Dialect, table string, form []schema.AttributeSpec, physical []string, opts ...Option) *Accessor {
	a := &Accessor{
		db:       db,
		dialect:  dialect,
		table:    table,
		schema:   schema.MustValidate(form),
		physical: make(map[string]struct{}, len(physical)),
	}
	for _, p := range physical {
		a.physical[p] = struct{}{}
	}
	for _, b := range schema.BaseColumns() {
		if _, ok := a.physical[b]; !ok {
			a.missing = append(a.missing, b)
		}
	}
	for _, c := range a.schema.Columns() {
		if _, ok := a.physical[c.Column()]; !ok {
			a.missing = append(a.missing, c.Column())
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Table returns the physical table name.
func (a *Accessor) Table() string { return a.table }

// Schema returns the schema the accessor enforces.
func (a *Accessor) Schema() *schema.ValidatedSchema { return a.schema }

func (a *Accessor) drift() error {
	if len(a.missing) == 0 {
		return nil
	}
	return &types.SchemaDriftError{Table: a.table, Missing: append([]string(nil), a.missing...)}
}

func (a *Accessor) q(name string) string {
	return a.dialect.Quote(name)
}

func (a *Accessor) selectColumns() []string {
	cols := []string{schema.ColumnID, schema.ColumnFileID}
	for _, c := range a.schema.Columns() {
		cols = append(cols, c.Column())
	}
	return append(cols, schema.ColumnCreatedAt, schema.ColumnUpdatedAt)
}

func (a *Accessor) query(ctx context.Context) *gorm.DB {
	return a.db.WithContext(ctx).Table(a.table).
		Clauses(hints.CommentBefore("select", "doctype:"+a.table))
}

func (a *Accessor) filtered(ctx context.Context, opts ListOptions) (*gorm.DB, error) {
	tx := a.query(ctx)
	ve := &types.ValidationError{}

	keys := make([]string, 0, len(opts.Where))
	for k := range opts.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw := opts.Where[k]
		if k == schema.ColumnFileID || k == schema.ColumnID {
			if raw == nil {
				tx = tx.Where(a.q(k) + " IS NULL")
			} else {
				tx = tx.Where(a.q(k)+" = ?", raw)
			}
			continue
		}
		c, err := a.schema.Lookup(k)
		if err != nil {
			ve.Add(k, "where", "unknown", err.Error())
			continue
		}
		if raw == nil {
			tx = tx.Where(a.q(c.Column()) + " IS NULL")
			continue
		}
		v, err := c.Coerce(raw)
		if err != nil {
			ve.Add(k, "where", "type", err.Error())
			continue
		}
		tx = tx.Where(a.q(c.Column())+" = ?", c.StorageValue(v))
	}

	if s := strings.TrimSpace(opts.Search); s != "" {
		pattern := "%" + s + "%"
		var group *gorm.DB
		for _, c := range a.schema.Columns() {
			if c.Kind() != schema.KindString && c.Kind() != schema.KindText {
				continue
			}
			cond := a.q(c.Column()) + " LIKE ?"
			if group == nil {
				group = a.db.Where(cond, pattern)
			} else {
				group = group.Or(cond, pattern)
			}
		}
		if group == nil {
			tx = tx.Where("1 = 0")
		} else {
			tx = tx.Where(group)
		}
	}
	return tx, ve.OrNil()
}

func (a *Accessor) orderColumn(name string) (string, error) {
	switch name {
	case "":
		return schema.ColumnID, nil
	case schema.ColumnID, schema.ColumnCreatedAt, schema.ColumnUpdatedAt:
		return name, nil
	}
	c, err := a.schema.Lookup(name)
	if err != nil {
		return "", types.NewValidationError(name, "order_by", "unknown", err.Error())
	}
	return c.Column(), nil
}

// List returns rows matching opts.
func (a *Accessor) List(ctx context.Context, opts ListOptions) ([]*Row, error) {
	if err := a.drift(); err != nil {
		return nil, err
	}
	tx, err := a.filtered(ctx, opts)
	if err != nil {
		return nil, err
	}
	col, err := a.orderColumn(opts.OrderBy)
	if err != nil {
		return nil, err
	}
	order := a.q(col)
	if opts.Desc {
		order += " DESC"
	}
	tx = tx.Select(a.quotedColumns()).Order(order)
	if opts.Limit > 0 {
		tx = tx.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		tx = tx.Offset(opts.Offset)
	}
	out, err := a.scan(tx)
	if err != nil {
		return nil, err
	}
	if opts.WithFile {
		if err := a.attachFiles(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Count returns how many rows match opts. Paging and ordering are ignored.
func (a *Accessor) Count(ctx context.Context, opts ListOptions) (int64, error) {
	if err := a.drift(); err != nil {
		return 0, err
	}
	tx, err := a.filtered(ctx, opts)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, types.Storage("count rows", err)
	}
	return n, nil
}

// Get returns one row by id.
func (a *Accessor) Get(ctx context.Context, id uint64, withFile bool) (*Row, error) {
	if err := a.drift(); err != nil {
		return nil, err
	}
	out, err := a.scan(a.query(ctx).Select(a.quotedColumns()).Where(a.q(schema.ColumnID)+" = ?", id))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, types.ErrNotFound
	}
	if withFile {
		if err := a.attachFiles(ctx, out); err != nil {
			return nil, err
		}
	}
	return out[0], nil
}

func (a *Accessor) quotedColumns() string {
	cols := a.selectColumns()
	for i, c := range cols {
		cols[i] = a.q(c)
	}
	return strings.Join(cols, ", ")
}

func (a *Accessor) scan(tx *gorm.DB) ([]*Row, error) {
	rows, err := tx.Rows()
	if err != nil {
		return nil, types.Storage("read rows", err)
	}
	defer rows.Close()

	cols := a.selectColumns()
	var out []*Row
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, types.Storage("scan row", err)
		}
		row, err := a.decode(cols, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Storage("read rows", err)
	}
	return out, nil
}

func (a *Accessor) decode(cols []string, raw []interface{}) (*Row, error) {
	row := &Row{values: make(map[string]interface{}, len(cols)), schema: a.schema}
	for i, col := range cols {
		v := raw[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		switch col {
		case schema.ColumnID:
			id, err := cast.ToUint64E(v)
			if err != nil {
				return nil, fmt.Errorf("row id %v: %w", v, err)
			}
			row.ID = id
		case schema.ColumnFileID:
			if v != nil {
				fid, err := cast.ToUint64E(v)
				if err != nil {
					return nil, fmt.Errorf("row %d file_id %v: %w", row.ID, v, err)
				}
				row.FileID = &fid
			}
		case schema.ColumnCreatedAt, schema.ColumnUpdatedAt:
			if v == nil {
				continue
			}
			t, err := schema.ParseDatetime(v)
			if err != nil {
				return nil, fmt.Errorf("row %d %s: %w", row.ID, col, err)
			}
			if col == schema.ColumnCreatedAt {
				row.CreatedAt = &t
			} else {
				row.UpdatedAt = &t
			}
		default:
			c, err := a.schema.Lookup(col)
			if err != nil {
				return nil, err
			}
			value, err := c.FromStorage(v)
			if err != nil {
				return nil, fmt.Errorf("row %d %s: %w", row.ID, col, err)
			}
			row.values[c.Name()] = value
		}
	}
	return row, nil
}

func (a *Accessor) attachFiles(ctx context.Context, list []*Row) error {
	ids := make([]uint64, 0, len(list))
	for _, r := range list {
		if r.FileID != nil {
			ids = append(ids, *r.FileID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var files []models.File
	if err := a.db.WithContext(ctx).Where("id IN ?", ids).Find(&files).Error; err != nil {
		return types.Storage("load files", err)
	}
	byID := make(map[uint64]*models.File, len(files))
	for i := range files {
		byID[files[i].ID] = &files[i]
	}
	for _, r := range list {
		if r.FileID != nil {
			r.File = byID[*r.FileID]
		}
	}
	return nil
}

type assignment struct {
	column ColumnRef
	value  interface{}
}

// ColumnRef pairs an attribute with its column.
type ColumnRef struct {
	Attribute string
	Column    string
	Unique    bool
}

// check validates values for a write. With partial set, only given keys are checked
// and defaults are not applied.
func (a *Accessor) check(values map[string]interface{}, partial bool) ([]assignment, error) {
	ve := &types.ValidationError{}
	known := make(map[string]struct{}, len(values))
	var out []assignment

	for _, c := range a.schema.Columns() {
		raw, given := values[c.Name()]
		if !given {
			raw, given = values[c.Column()]
		}
		if given {
			known[c.Name()] = struct{}{}
			known[c.Column()] = struct{}{}
		}
		if !given {
			if partial {
				continue
			}
			if d := c.Attribute().Default; d != nil {
				raw = *d
			}
		}
		v, fe := schema.CheckValue(c, raw)
		if fe != nil {
			ve.Errors = append(ve.Errors, *fe)
			continue
		}
		var stored interface{}
		if v != nil {
			stored = c.StorageValue(v)
		}
		out = append(out, assignment{
			column: ColumnRef{Attribute: c.Name(), Column: c.Column(), Unique: c.Attribute().Unique},
			value:  stored,
		})
	}
	for k := range values {
		if _, ok := known[k]; !ok {
			ve.Add(k, "", "unknown", fmt.Sprintf("%q is not an attribute of this document type", k))
		}
	}
	sort.Slice(ve.Errors, func(i, j int) bool { return ve.Errors[i].Attribute < ve.Errors[j].Attribute })
	return out, ve.OrNil()
}

// serialize runs write under the table's unique-values lock when assigns set a unique attribute.
func (a *Accessor) serialize(ctx context.Context, assigns []assignment, write func() error) error {
	if a.locks == nil {
		return write()
	}
	for _, as := range assigns {
		if as.column.Unique && as.value != nil {
			return a.locks.ExecuteWithLockWait(ctx, lock.UniqueValues(a.table), a.lockWait, write)
		}
	}
	return write()
}

func (a *Accessor) ensureUnique(tx *gorm.DB, assigns []assignment, exclude uint64) error {
	ve := &types.ValidationError{}
	for _, as := range assigns {
		if !as.column.Unique || as.value == nil {
			continue
		}
		q := tx.Table(a.table).Where(a.q(as.column.Column)+" = ?", as.value)
		if exclude != 0 {
			q = q.Where(a.q(schema.ColumnID)+" <> ?", exclude)
		}
		var n int64
		if err := q.Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			ve.Add(as.column.Attribute, "unique", "unique", "value is already used by another row")
		}
	}
	return ve.OrNil()
}

// Insert validates values, applies defaults, and writes a new row.
func (a *Accessor) Insert(ctx context.Context, values map[string]interface{}, fileID *uint64) (*Row, error) {
	if err := a.drift(); err != nil {
		return nil, err
	}
	assigns, err := a.check(values, false)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cols := []string{a.q(schema.ColumnFileID)}
	args := []interface{}{fileID}
	for _, as := range assigns {
		cols = append(cols, a.q(as.column.Column))
		args = append(args, as.value)
	}
	cols = append(cols, a.q(schema.ColumnCreatedAt), a.q(schema.ColumnUpdatedAt))
	args = append(args, now, now)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")

	var id uint64
	err = a.serialize(ctx, assigns, func() error {
		return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return a.insert(tx, assigns, cols, marks, args, &id)
		})
	})
	if err != nil {
		return nil, types.Storage("insert row", err)
	}
	return a.Get(ctx, id, false)
}

func (a *Accessor) insert(tx *gorm.DB, assigns []assignment, cols []string, marks string, args []interface{}, id *uint64) error {
	if err := a.ensureUnique(tx, assigns, 0); err != nil {
		return err
	}
	position, clause := a.dialect.InsertedIDClause()
	switch position {
	case "returning":
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s", a.q(a.table), strings.Join(cols, ", "), marks, clause)
		return tx.Raw(sql, args...).Row().Scan(id)
	case "output":
		sql := fmt.Sprintf("INSERT INTO %s (%s)%s VALUES (%s)", a.q(a.table), strings.Join(cols, ", "), clause, marks)
		return tx.Raw(sql, args...).Row().Scan(id)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", a.q(a.table), strings.Join(cols, ", "), marks)
	if err := tx.Exec(sql, args...).Error; err != nil {
		return err
	}
	return tx.Raw(clause).Row().Scan(id)
}

// Update validates and writes the given attributes of a row.
func (a *Accessor) Update(ctx context.Context, id uint64, values map[string]interface{}) (*Row, error) {
	if err := a.drift(); err != nil {
		return nil, err
	}
	assigns, err := a.check(values, true)
	if err != nil {
		return nil, err
	}
	set := map[string]interface{}{schema.ColumnUpdatedAt: time.Now().UTC()}
	for _, as := range assigns {
		set[as.column.Column] = as.value
	}

	err = a.serialize(ctx, assigns, func() error {
		return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := a.ensureUnique(tx, assigns, id); err != nil {
				return err
			}
			res := tx.Table(a.table).Where(a.q(schema.ColumnID)+" = ?", id).Updates(set)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return types.ErrNotFound
			}
			return nil
		})
	})
	if err != nil {
		return nil, types.Storage("update row", err)
	}
	return a.Get(ctx, id, false)
}

// SetFile links a row to an uploaded file, or unlinks it with nil.
func (a *Accessor) SetFile(ctx context.Context, id uint64, fileID *uint64) error {
	res := a.db.WithContext(ctx).Table(a.table).Where(a.q(schema.ColumnID)+" = ?", id).
		Updates(map[string]interface{}{schema.ColumnFileID: fileID, schema.ColumnUpdatedAt: time.Now().UTC()})
	if res.Error != nil {
		return types.Storage("set file", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// Delete removes a row.
func (a *Accessor) Delete(ctx context.Context, id uint64) error {
	res := a.db.WithContext(ctx).Exec(
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", a.q(a.table), a.q(schema.ColumnID)), id)
	if res.Error != nil {
		return types.Storage("delete row", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// IsDrift reports whether err is a schema drift error.
func IsDrift(err error) bool {
	var de *types.SchemaDriftError
	return errors.As(err, &de)
}
