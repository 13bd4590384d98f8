// row.go
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
	"encoding/json"
	"fmt"
	"time"

	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/schema"
)

// Row is one tuple of a document type table, addressed by attribute name.
type Row struct {
	ID        uint64
	FileID    *uint64
	CreatedAt *time.Time
	UpdatedAt *time.Time
	File      *models.File

	values map[string]interface{}
	schema *schema.ValidatedSchema
}

// Value returns the canonical value of an attribute. nil means SQL NULL.
func (r *Row) Value(name string) (interface{}, error) {
	c, err := r.schema.Lookup(name)
	if err != nil {
		return nil, err
	}
	return r.values[c.Name()], nil
}

// String returns a string-kind attribute.
func (r *Row) String(name string) (string, bool, error) {
	v, err := r.Value(name)
	if err != nil || v == nil {
		return "", false, err
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("attribute %q is %T, not a string", name, v)
	}
	return s, true, nil
}

// Number returns a number attribute.
func (r *Row) Number(name string) (float64, bool, error) {
	v, err := r.Value(name)
	if err != nil || v == nil {
		return 0, false, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false, fmt.Errorf("attribute %q is %T, not a number", name, v)
	}
	return f, true, nil
}

// Time returns a date or datetime attribute.
func (r *Row) Time(name string) (time.Time, bool, error) {
	v, err := r.Value(name)
	if err != nil || v == nil {
		return time.Time{}, false, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, false, fmt.Errorf("attribute %q is %T, not a date", name, v)
	}
	return t, true, nil
}

// Values returns attribute values keyed by attribute name, formatted for output.
func (r *Row) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for _, c := range r.schema.Columns() {
		v := r.values[c.Name()]
		if t, ok := v.(time.Time); ok {
			if c.Attribute().Type == schema.TypeDate {
				v = t.Format(schema.DateLayout)
			} else {
				v = t.Format(schema.DatetimeLayout)
			}
		}
		out[c.Name()] = v
	}
	return out
}

// MarshalJSON renders base columns plus attribute values.
func (r *Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        uint64                 `json:"id"`
		FileID    *uint64                `json:"file_id"`
		CreatedAt *time.Time             `json:"created_at"`
		UpdatedAt *time.Time             `json:"updated_at"`
		Values    map[string]interface{} `json:"values"`
		File      *models.File           `json:"file,omitempty"`
	}{r.ID, r.FileID, r.CreatedAt, r.UpdatedAt, r.Values(), r.File})
}
