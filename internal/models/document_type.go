// document_type.go
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

package models

import (
	"time"

	"gorm.io/gorm"
)

// DocumentType is the committed schema record of a user-defined document type.
// PhysicalTable names a live table whenever IsActive is true.
type DocumentType struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string         `gorm:"size:255;index" json:"user_id"`
	Name          string         `gorm:"size:255;not null;index" json:"name"`
	LongName      string         `gorm:"size:255" json:"long_name,omitempty"`
	Description   string         `gorm:"size:2000" json:"description,omitempty"`
	PhysicalTable string         `gorm:"column:table_name;size:128;not null;uniqueIndex" json:"table_name"`
	SchemaForm    SchemaForm     `json:"schema_form"`
	IsActive      bool           `gorm:"not null;index" json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName overrides the table name for DocumentType
func (DocumentType) TableName() string {
	return "document_types"
}

// TrashedDocumentType records a parked table so it can be restored.
type TrashedDocumentType struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentTypeID    uint64    `gorm:"not null;uniqueIndex" json:"document_type_id"`
	TrashedName       string    `gorm:"size:255;not null" json:"trashed_name"`
	OriginalTableName string    `gorm:"size:128;not null" json:"original_table_name"`
	TrashedTableName  string    `gorm:"size:128;not null;uniqueIndex" json:"trashed_table_name"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName overrides the table name for TrashedDocumentType
func (TrashedDocumentType) TableName() string {
	return "trashed_document_types"
}
