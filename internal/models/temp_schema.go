// temp_schema.go
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

import "time"

// TempSchema is a per-user draft attribute list, keyed by a label of the author's choosing.
type TempSchema struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"size:255;not null;uniqueIndex:idx_temp_schemas_owner_name" json:"user_id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_temp_schemas_owner_name" json:"name"`
	Schema    JSON      `json:"schema"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the table name for TempSchema
func (TempSchema) TableName() string {
	return "temp_schemas"
}

// File is an uploaded file a document row may link to via file_id.
type File struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"size:255;index" json:"user_id"`
	DocumentTypeID *uint64   `gorm:"index" json:"document_type_id,omitempty"`
	Name           string    `gorm:"size:255;not null" json:"name"`
	Path           string    `gorm:"size:1024;not null" json:"path"`
	MimeType       string    `gorm:"size:255" json:"mime_type,omitempty"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName overrides the table name for File
func (File) TableName() string {
	return "files"
}
