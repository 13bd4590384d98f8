// create.go
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
	"log"
	"strings"
	"time"

	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/metrics"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/types"
	"gorm.io/gorm"
)

// CreateInput describes a new document type.
type CreateInput struct {
	UserID      string                 `json:"user_id"`
	Name        string                 `json:"name"`
	LongName    string                 `json:"long_name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Schema      []schema.AttributeSpec `json:"schema"`
}

// Create validates the schema, allocates a table, creates it, and records the
// document type. A metadata failure after the table exists returns an
// inconsistent *types.FatalStorageError and leaves the table for reconciliation.
func (e *Engine) Create(ctx context.Context, in CreateInput) (dt *models.DocumentType, err error) {
	start := time.Now()
	defer func() { metrics.Observe("create", start, err) }()
	return e.create(ctx, in, nil)
}

// CreateFromDraft commits a user's draft as a new document type. The draft is
// removed in the same metadata transaction unless keepDraft is set.
func (e *Engine) CreateFromDraft(ctx context.Context, userID, draftName string, in CreateInput, keepDraft bool) (dt *models.DocumentType, err error) {
	start := time.Now()
	defer func() { metrics.Observe("create_from_draft", start, err) }()

	draft, err := e.drafts.Get(ctx, userID, draftName)
	if err != nil {
		return nil, err
	}
	in.UserID = userID
	in.Schema = draft.Attributes
	if strings.TrimSpace(in.Name) == "" {
		in.Name = draft.Name
	}

	var after func(tx *gorm.DB) error
	if !keepDraft {
		after = func(tx *gorm.DB) error {
			return e.drafts.DeleteTx(tx, userID, draftName)
		}
	}
	return e.create(ctx, in, after)
}

func (e *Engine) create(ctx context.Context, in CreateInput, after func(tx *gorm.DB) error) (*models.DocumentType, error) {
	in.Name = strings.TrimSpace(in.Name)
	ve := &types.ValidationError{}
	merge(ve, checkName(in.Name))
	vs, err := schema.Validate(in.Schema, nil)
	if err != nil && !merge(ve, err) {
		return nil, err
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	var dt *models.DocumentType
	err = e.locks.ExecuteWithLockAndRefresh(ctx, lock.DocumentTypeName(in.Name), func() error {
		taken, err := e.activeNameTaken(ctx, in.Name, 0)
		if err != nil {
			return err
		}
		if taken {
			return &types.NamingConflictError{Kind: "document_type", Name: in.Name, Detail: "an active document type already uses this name"}
		}

		table, err := e.allocator.Allocate(in.Name, registry{ctx: ctx, e: e})
		if err != nil {
			return types.Storage("allocate table name", err)
		}

		return e.locks.ExecuteWithLock(ctx, lock.Table(table), func() error {
			log.Printf("Creating document type %q on table %s", in.Name, table)
			if err := e.exec.CreateTable(ctx, table, vs); err != nil {
				return types.Storage("create table "+table, err)
			}

			record := &models.DocumentType{
				UserID:        in.UserID,
				Name:          in.Name,
				LongName:      in.LongName,
				Description:   in.Description,
				PhysicalTable: table,
				SchemaForm:    models.SchemaForm(vs.Persisted()),
				IsActive:      true,
			}
			err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := tx.Create(record).Error; err != nil {
					return err
				}
				if after != nil {
					return after(tx)
				}
				return nil
			})
			if err != nil {
				log.Printf("Metadata write failed after creating table %s, left for reconciliation: %v", table, err)
				return &types.FatalStorageError{Op: "record document type " + in.Name, Err: err, Inconsistent: true}
			}
			dt = record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Created document type %d %q on table %s", dt.ID, dt.Name, dt.PhysicalTable)
	e.invalidate(ctx, dt.ID, dt.PhysicalTable)
	return dt, nil
}
