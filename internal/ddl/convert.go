// convert.go
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
	"fmt"
	"sort"
	"time"

	"github.com/localnerve/doctypesdb/internal/schema"
)

// Converter maps a stored value of the old column to a value for the new column kind.
// It is called once per non-null row during a kind-changing ModifyColumn.
type Converter func(value interface{}) (interface{}, error)

var builtinConverters = map[string]Converter{
	"to_string": func(v interface{}) (interface{}, error) {
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339), nil
		}
		return schema.ToText(v)
	},
	"to_number": func(v interface{}) (interface{}, error) {
		return schema.ToNumber(v)
	},
	"to_date": func(v interface{}) (interface{}, error) {
		return schema.ParseDate(v)
	},
	"to_time": func(v interface{}) (interface{}, error) {
		return schema.ParseClock(v)
	},
	"to_datetime": func(v interface{}) (interface{}, error) {
		return schema.ParseDatetime(v)
	},
}

// BuiltinConverter returns a named converter.
func BuiltinConverter(name string) (Converter, bool) {
	c, ok := builtinConverters[name]
	return c, ok
}

// BuiltinConverterNames lists the named converters.
func BuiltinConverterNames() []string {
	names := make([]string, 0, len(builtinConverters))
	for n := range builtinConverters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ConversionError is a row value that could not be moved into a column's new kind.
// The column is left as it was.
type ConversionError struct {
	Column string
	RowID  int64
	Value  interface{}
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("column %s row %d: cannot convert %v: %v", e.Column, e.RowID, e.Value, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
