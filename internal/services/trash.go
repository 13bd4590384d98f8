// trash.go
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
	"time"

	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/metrics"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/naming"
	"github.com/localnerve/doctypesdb/internal/types"
	"gorm.io/gorm"
)

// TrashRegistry records parked tables of trashed document types.
type TrashRegistry struct {
	db *gorm.DB
}

// NewTrashRegistry creates a trash registry.
func NewTrashRegistry(db *gorm.DB) *TrashRegistry {
	return &TrashRegistry{db: db}
}

// Record writes the trash entry for dt inside tx.
func (r *TrashRegistry) Record(tx *gorm.DB, dt *models.DocumentType) (*models.TrashedDocumentType, error) {
	entry := &models.TrashedDocumentType{
		DocumentTypeID:    dt.ID,
		TrashedName:       dt.Name,
		OriginalTableName: dt.PhysicalTable,
		TrashedTableName:  naming.Parked(dt.PhysicalTable),
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Find returns the trash entry of a document type.
func (r *TrashRegistry) Find(ctx context.Context, documentTypeID uint64) (*models.TrashedDocumentType, error) {
	return r.first(ctx, "document_type_id = ?", documentTypeID)
}

// FindByTable returns the trash entry owning a parked table.
func (r *TrashRegistry) FindByTable(ctx context.Context, parked string) (*models.TrashedDocumentType, error) {
	return r.first(ctx, "trashed_table_name = ?", parked)
}

func (r *TrashRegistry) first(ctx context.Context, query string, args ...interface{}) (*models.TrashedDocumentType, error) {
	var entry models.TrashedDocumentType
	err := r.db.WithContext(ctx).Where(query, args...).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, types.Storage("find trash entry", err)
	}
	return &entry, nil
}

// List returns every trash entry, most recent first.
func (r *TrashRegistry) List(ctx context.Context) ([]models.TrashedDocumentType, error) {
	var out []models.TrashedDocumentType
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, types.Storage("list trash", err)
	}
	return out, nil
}

// Remove deletes the trash entry of a document type inside tx.
func (r *TrashRegistry) Remove(tx *gorm.DB, documentTypeID uint64) error {
	return tx.Where("document_type_id = ?", documentTypeID).Delete(&models.TrashedDocumentType{}).Error
}

// Trash parks the table of an active document type and marks it inactive.
// Rows and schema_form are kept as they are.
func (e *Engine) Trash(ctx context.Context, id uint64) (entry *models.TrashedDocumentType, err error) {
	start := time.Now()
	defer func() { metrics.Observe("trash", start, err) }()

	err = e.withLocks(ctx, []string{lock.DocumentType(id)}, func() error {
		dt, err := e.loadActive(ctx, id)
		if err != nil {
			return err
		}
		parked := naming.Parked(dt.PhysicalTable)
		return e.withLocks(ctx, []string{lock.Table(dt.PhysicalTable), lock.Table(parked)}, func() error {
			exists, err := e.exec.TableExists(ctx, parked)
			if err != nil {
				return types.Storage("check parked table", err)
			}
			if exists {
				return &types.NamingConflictError{Kind: "table", Name: parked, Detail: "a parked table with this name already exists"}
			}

			log.Printf("Trashing document type %d %q: %s to %s", dt.ID, dt.Name, dt.PhysicalTable, parked)
			if err := e.exec.RenameTable(ctx, dt.PhysicalTable, parked); err != nil {
				return types.Storage("park table "+dt.PhysicalTable, err)
			}
			defer e.invalidate(ctx, dt.ID, dt.PhysicalTable, parked)

			entry, err = e.markTrashed(ctx, dt)
			if err != nil {
				log.Printf("Metadata write failed after parking %s, left for reconciliation: %v", dt.PhysicalTable, err)
				return &types.FatalStorageError{Op: "record trash of " + dt.Name, Err: err, Inconsistent: true}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// markTrashed writes the trash entry and deactivates the document type.
func (e *Engine) markTrashed(ctx context.Context, dt *models.DocumentType) (*models.TrashedDocumentType, error) {
	var entry *models.TrashedDocumentType
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if entry, err = e.trash.Record(tx, dt); err != nil {
			return err
		}
		return tx.Model(dt).Updates(map[string]interface{}{
			"is_active":  false,
			"deleted_at": time.Now().UTC(),
		}).Error
	})
	return entry, err
}

// Restore moves a trashed document type's table back to its original name.
// Nothing is changed when the name or the table is now taken.
func (e *Engine) Restore(ctx context.Context, id uint64) (dt *models.DocumentType, err error) {
	start := time.Now()
	defer func() { metrics.Observe("restore", start, err) }()

	err = e.withLocks(ctx, []string{lock.DocumentType(id)}, func() error {
		current, err := e.load(ctx, id)
		if err != nil {
			return err
		}
		if current.IsActive {
			return types.ErrInvalidState
		}
		entry, err := e.trash.Find(ctx, id)
		if err != nil {
			return err
		}

		return e.withLocks(ctx, []string{lock.DocumentTypeName(current.Name), lock.Table(entry.OriginalTableName), lock.Table(entry.TrashedTableName)}, func() error {
			taken, err := e.activeNameTaken(ctx, current.Name, id)
			if err != nil {
				return err
			}
			if taken {
				return &types.NamingConflictError{Kind: "document_type", Name: current.Name, Detail: "an active document type now uses this name"}
			}
			exists, err := e.exec.TableExists(ctx, entry.OriginalTableName)
			if err != nil {
				return types.Storage("check original table", err)
			}
			if exists {
				return &types.NamingConflictError{Kind: "table", Name: entry.OriginalTableName, Detail: "the original table name is occupied"}
			}

			log.Printf("Restoring document type %d %q: %s to %s", current.ID, current.Name, entry.TrashedTableName, entry.OriginalTableName)
			if err := e.exec.RenameTable(ctx, entry.TrashedTableName, entry.OriginalTableName); err != nil {
				return types.Storage("restore table "+entry.TrashedTableName, err)
			}
			defer e.invalidate(ctx, id, entry.OriginalTableName, entry.TrashedTableName)

			if err := e.markRestored(ctx, current, entry); err != nil {
				log.Printf("Metadata write failed after restoring %s, left for reconciliation: %v", entry.OriginalTableName, err)
				return &types.FatalStorageError{Op: "record restore of " + current.Name, Err: err, Inconsistent: true}
			}
			dt, err = e.load(ctx, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return dt, nil
}

func (e *Engine) markRestored(ctx context.Context, dt *models.DocumentType, entry *models.TrashedDocumentType) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Unscoped().Model(dt).Updates(map[string]interface{}{
			"is_active":  true,
			"table_name": entry.OriginalTableName,
			"deleted_at": nil,
		}).Error
		if err != nil {
			return err
		}
		return e.trash.Remove(tx, dt.ID)
	})
}

// Destroy drops the parked table of a trashed document type and removes its records.
// Active document types must be trashed first.
func (e *Engine) Destroy(ctx context.Context, id uint64) (err error) {
	start := time.Now()
	defer func() { metrics.Observe("destroy", start, err) }()

	return e.withLocks(ctx, []string{lock.DocumentType(id)}, func() error {
		current, err := e.load(ctx, id)
		if err != nil {
			return err
		}
		if current.IsActive {
			return types.ErrInvalidState
		}
		entry, err := e.trash.Find(ctx, id)
		if err != nil {
			return err
		}

		return e.withLocks(ctx, []string{lock.Table(entry.TrashedTableName)}, func() error {
			log.Printf("Destroying document type %d %q and table %s", current.ID, current.Name, entry.TrashedTableName)
			if err := e.exec.DropTable(ctx, entry.TrashedTableName); err != nil {
				return types.Storage("drop table "+entry.TrashedTableName, err)
			}
			defer e.invalidate(ctx, id, entry.OriginalTableName, entry.TrashedTableName)

			if err := e.forget(ctx, id); err != nil {
				log.Printf("Metadata write failed after dropping %s, left for reconciliation: %v", entry.TrashedTableName, err)
				return &types.FatalStorageError{Op: "remove records of " + current.Name, Err: err, Inconsistent: true}
			}
			return nil
		})
	})
}

// forget removes the trash entry and document type rows.
func (e *Engine) forget(ctx context.Context, id uint64) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.trash.Remove(tx, id); err != nil {
			return err
		}
		if err := tx.Model(&models.File{}).Where("document_type_id = ?", id).Update("document_type_id", nil).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.DocumentType{}, id).Error
	})
}
