// attribute.go
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

package schema

import (
	"strings"

	"github.com/localnerve/doctypesdb/internal/types"
)

// AttributeType is the user-facing type of an attribute.
type AttributeType string

const (
	TypeText     AttributeType = "text"
	TypeNumber   AttributeType = "number"
	TypeDate     AttributeType = "date"
	TypeTime     AttributeType = "time"
	TypeDatetime AttributeType = "datetime"
	TypeEmail    AttributeType = "email"
	TypeURL      AttributeType = "url"
	TypePhone    AttributeType = "phone"
	TypeSelect   AttributeType = "select"
	TypeTextarea AttributeType = "textarea"
)

// AttributeTypes lists every supported attribute type.
var AttributeTypes = []AttributeType{
	TypeText, TypeNumber, TypeDate, TypeTime, TypeDatetime,
	TypeEmail, TypeURL, TypePhone, TypeSelect, TypeTextarea,
}

// Valid reports whether t is a supported attribute type.
func (t AttributeType) Valid() bool {
	for _, at := range AttributeTypes {
		if t == at {
			return true
		}
	}
	return false
}

// ColumnKind is the physical storage kind an attribute type maps to.
type ColumnKind string

const (
	KindString   ColumnKind = "string"
	KindText     ColumnKind = "text"
	KindNumber   ColumnKind = "number"
	KindDate     ColumnKind = "date"
	KindTime     ColumnKind = "time"
	KindDatetime ColumnKind = "datetime"
)

// Kind returns the column kind for the attribute type.
func (t AttributeType) Kind() ColumnKind {
	switch t {
	case TypeNumber:
		return KindNumber
	case TypeDate:
		return KindDate
	case TypeTime:
		return KindTime
	case TypeDatetime:
		return KindDatetime
	case TypeTextarea:
		return KindText
	default:
		return KindString
	}
}

const (
	// StringMaxLength is the physical width of string columns.
	StringMaxLength = 255
	// TextMaxLength bounds textarea values.
	TextMaxLength = 65535
)

// Base columns every document type table carries.
const (
	ColumnID        = "id"
	ColumnFileID    = "file_id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// ReservedNames are never assignable to attributes.
var ReservedNames = []string{
	"id", "file_id", "file id", "created_at", "created at", "updated_at", "updated at",
}

// BaseColumns returns the base column names in table order. Attribute columns sit between file_id and created_at.
func BaseColumns() []string {
	return []string{ColumnID, ColumnFileID, ColumnCreatedAt, ColumnUpdatedAt}
}

// IsReserved reports whether name, or the column it maps to, is reserved.
func IsReserved(name string) bool {
	lower := strings.ToLower(name)
	col := ColumnName(name)
	for _, r := range ReservedNames {
		if lower == r || col == r {
			return true
		}
	}
	return false
}

// ColumnName derives the physical column name of an attribute name.
func ColumnName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// AttributeSpec describes one user-defined attribute of a document type.
type AttributeSpec struct {
	Name     string        `json:"name"`
	Type     AttributeType `json:"type"`
	Required bool          `json:"required"`
	Unique   bool          `json:"unique"`
	Order    int           `json:"order,omitempty"`
	Default  *string       `json:"default,omitempty"`

	MinLength *int `json:"min_length,omitempty"`
	MaxLength *int `json:"max_length,omitempty"`

	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`

	MinDate     *string `json:"min_date,omitempty"`
	MaxDate     *string `json:"max_date,omitempty"`
	MinTime     *string `json:"min_time,omitempty"`
	MaxTime     *string `json:"max_time,omitempty"`
	MinDatetime *string `json:"min_datetime,omitempty"`
	MaxDatetime *string `json:"max_datetime,omitempty"`

	Options types.FlexList[string] `json:"options,omitempty"`

	// RenameFrom names the attribute this one replaces during an alter. Never persisted.
	RenameFrom string `json:"rename_from,omitempty"`
}

// Column returns the physical column name.
func (a AttributeSpec) Column() string {
	return ColumnName(a.Name)
}

// Kind returns the physical column kind.
func (a AttributeSpec) Kind() ColumnKind {
	return a.Type.Kind()
}

// Persisted returns a copy suitable for storing in schema_form.
func (a AttributeSpec) Persisted() AttributeSpec {
	a.RenameFrom = ""
	if len(a.Options) > 0 {
		a.Options = append(types.FlexList[string](nil), a.Options...)
	}
	return a
}

// ConstraintsEqual reports whether two specs carry the same rules, ignoring name and order.
func (a AttributeSpec) ConstraintsEqual(b AttributeSpec) bool {
	if a.Type != b.Type || a.Required != b.Required || a.Unique != b.Unique {
		return false
	}
	if !eqStr(a.Default, b.Default) || !eqInt(a.MinLength, b.MinLength) || !eqInt(a.MaxLength, b.MaxLength) {
		return false
	}
	if !eqFloat(a.MinValue, b.MinValue) || !eqFloat(a.MaxValue, b.MaxValue) {
		return false
	}
	if !eqStr(a.MinDate, b.MinDate) || !eqStr(a.MaxDate, b.MaxDate) ||
		!eqStr(a.MinTime, b.MinTime) || !eqStr(a.MaxTime, b.MaxTime) ||
		!eqStr(a.MinDatetime, b.MinDatetime) || !eqStr(a.MaxDatetime, b.MaxDatetime) {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for i := range a.Options {
		if a.Options[i] != b.Options[i] {
			return false
		}
	}
	return true
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
