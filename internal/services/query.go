// query.go
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
	"time"

	"github.com/localnerve/doctypesdb/internal/cache"
	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/rows"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/types"
)

// ColumnInfo is one attribute column as consumers see it.
type ColumnInfo struct {
	Attribute    string               `json:"attribute"`
	Column       string               `json:"column"`
	Type         schema.AttributeType `json:"type"`
	Kind         schema.ColumnKind    `json:"kind"`
	Order        int                  `json:"order"`
	Required     bool                 `json:"required"`
	Unique       bool                 `json:"unique"`
	DatabaseType string               `json:"database_type,omitempty"`
	Present      bool                 `json:"present"`
}

// Description is the table and column contract of a document type.
type Description struct {
	ID          uint64                 `json:"id"`
	Name        string                 `json:"name"`
	TableName   string                 `json:"table_name"`
	BaseColumns []string               `json:"base_columns"`
	Columns     []ColumnInfo           `json:"columns"`
	SchemaForm  []schema.AttributeSpec `json:"schema_form"`
}

// Get returns an active document type.
func (e *Engine) Get(ctx context.Context, id uint64) (*models.DocumentType, error) {
	dt := &models.DocumentType{}
	err := e.readThrough(ctx, cache.DocumentType(id), dt, func() error {
		found, err := e.loadActive(ctx, id)
		if err != nil {
			return err
		}
		*dt = *found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dt, nil
}

// List returns the active document types ordered by name.
func (e *Engine) List(ctx context.Context) ([]models.DocumentType, error) {
	var out []models.DocumentType
	err := e.readThrough(ctx, cache.ActiveDocumentTypes, &out, func() error {
		if err := e.silent(ctx).Where("is_active = ?", true).Order("name, id").Find(&out).Error; err != nil {
			return types.Storage("list document types", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTrashed returns the trashed document types.
func (e *Engine) ListTrashed(ctx context.Context) ([]models.TrashedDocumentType, error) {
	return e.trash.List(ctx)
}

// Columns returns the physical columns of an active document type's table.
func (e *Engine) Columns(ctx context.Context, id uint64) ([]ddl.PhysicalColumn, error) {
	dt, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.tableColumns(ctx, dt.PhysicalTable)
}

func (e *Engine) tableColumns(ctx context.Context, table string) ([]ddl.PhysicalColumn, error) {
	var cols []ddl.PhysicalColumn
	err := e.readThrough(ctx, cache.Columns(table), &cols, func() error {
		found, err := e.exec.Columns(ctx, table)
		if err != nil {
			return types.Storage("read columns of "+table, err)
		}
		if len(found) == 0 {
			return &types.SchemaDriftError{Table: table, Detail: "table does not exist"}
		}
		cols = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}

// Describe returns the table name and ordered attribute columns of a document type.
func (e *Engine) Describe(ctx context.Context, id uint64) (*Description, error) {
	dt, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cols, err := e.tableColumns(ctx, dt.PhysicalTable)
	if err != nil {
		return nil, err
	}
	physical := make(map[string]ddl.PhysicalColumn, len(cols))
	for _, c := range cols {
		physical[c.Name] = c
	}

	d := &Description{
		ID:          dt.ID,
		Name:        dt.Name,
		TableName:   dt.PhysicalTable,
		BaseColumns: schema.BaseColumns(),
		SchemaForm:  dt.SchemaForm.Attributes(),
	}
	for _, a := range schema.MustValidate(dt.SchemaForm.Attributes()).Attributes {
		info := ColumnInfo{
			Attribute: a.Name,
			Column:    a.Column(),
			Type:      a.Type,
			Kind:      a.Kind(),
			Order:     a.Order,
			Required:  a.Required,
			Unique:    a.Unique,
		}
		if pc, ok := physical[a.Column()]; ok {
			info.DatabaseType = pc.DatabaseType
			info.Present = true
		}
		d.Columns = append(d.Columns, info)
	}
	return d, nil
}

// uniqueWait bounds how long a write of a unique value waits for another writer of the same table.
const uniqueWait = 5 * time.Second

// Rows returns a row accessor for an active document type.
func (e *Engine) Rows(ctx context.Context, id uint64) (*rows.Accessor, error) {
	dt, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cols, err := e.tableColumns(ctx, dt.PhysicalTable)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return rows.New(e.db, e.exec.Dialect(), dt.PhysicalTable, dt.SchemaForm.Attributes(), names,
		rows.WithUniqueLock(e.locks, uniqueWait)), nil
}
