// json.go
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
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/localnerve/doctypesdb/internal/schema"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormschema "gorm.io/gorm/schema"
)

// jsonColumnType picks the JSON column type for each driver. MSSQL has no json type.
func jsonColumnType(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	case "sqlserver", "mssql":
		return "NVARCHAR(MAX)"
	case "sqlite":
		return "JSON"
	}
	return "TEXT"
}

// JSON is a raw JSON document stored with a per-driver column type.
type JSON struct {
	datatypes.JSON
}

// Value promotes the embedded JSON's Value method
func (j JSON) Value() (driver.Value, error) {
	if len(j.JSON) == 0 {
		return "null", nil
	}
	return j.JSON.Value()
}

// Scan promotes the embedded JSON's Scan method
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		j.JSON = nil
		return nil
	}
	return j.JSON.Scan(value)
}

// GormDBDataType ensures the correct data type is used for each database driver.
func (JSON) GormDBDataType(db *gorm.DB, field *gormschema.Field) string {
	return jsonColumnType(db)
}

// SchemaForm is the ordered attribute list of a document type, stored as JSON.
type SchemaForm []schema.AttributeSpec

// Value serializes the persisted form of each attribute.
func (f SchemaForm) Value() (driver.Value, error) {
	out := make([]schema.AttributeSpec, len(f))
	for i, a := range f {
		out[i] = a.Persisted()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan decodes a stored schema_form.
func (f *SchemaForm) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("schema_form: unsupported scan type %T", value)
	}
	var attrs []schema.AttributeSpec
	if err := json.Unmarshal(b, &attrs); err != nil {
		return fmt.Errorf("schema_form: %w", err)
	}
	*f = attrs
	return nil
}

// GormDBDataType ensures the correct data type is used for each database driver.
func (SchemaForm) GormDBDataType(db *gorm.DB, field *gormschema.Field) string {
	return jsonColumnType(db)
}

// Names returns the attribute names in order.
func (f SchemaForm) Names() []string {
	names := make([]string, len(f))
	for i, a := range f {
		names[i] = a.Name
	}
	return names
}

// Find returns the attribute with the given name.
func (f SchemaForm) Find(name string) (schema.AttributeSpec, bool) {
	for _, a := range f {
		if a.Name == name {
			return a, true
		}
	}
	return schema.AttributeSpec{}, false
}

// Attributes returns a copy as a plain slice.
func (f SchemaForm) Attributes() []schema.AttributeSpec {
	return append([]schema.AttributeSpec(nil), f...)
}
