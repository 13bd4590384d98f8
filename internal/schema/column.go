// column.go
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
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/localnerve/doctypesdb/internal/types"
)

// ColumnSpec is the runtime capability of one attribute column: coercing input,
// checking constraints, and mapping values to and from storage.
type ColumnSpec interface {
	Attribute() AttributeSpec
	Name() string
	Column() string
	Kind() ColumnKind
	// Coerce converts raw input to the column's canonical Go value.
	Coerce(raw interface{}) (interface{}, error)
	// Check validates a canonical, non-nil value.
	Check(value interface{}) *types.FieldError
	// StorageValue maps a canonical value to a statement parameter.
	StorageValue(value interface{}) interface{}
	// FromStorage maps a scanned driver value to the canonical value.
	FromStorage(raw interface{}) (interface{}, error)
}

// NewColumnSpec builds the column variant for an attribute.
// The attribute's bounds must parse for its type.
func NewColumnSpec(a AttributeSpec) (ColumnSpec, error) {
	base := column{attr: a.Persisted()}
	switch a.Type {
	case TypeSelect:
		opts := make(map[string]struct{}, len(a.Options))
		for _, o := range a.Options {
			opts[o] = struct{}{}
		}
		return &SelectColumn{column: base, options: opts}, nil
	case TypeNumber:
		return &NumberColumn{column: base, min: a.MinValue, max: a.MaxValue}, nil
	case TypeDate, TypeTime, TypeDatetime:
		tc := &TemporalColumn{column: base}
		var err error
		lo, hi := a.temporalBounds()
		if tc.min, err = tc.bound(lo); err != nil {
			return nil, err
		}
		if tc.max, err = tc.bound(hi); err != nil {
			return nil, err
		}
		return tc, nil
	case TypeText, TypeTextarea, TypeEmail, TypeURL, TypePhone:
		limit := StringMaxLength
		if a.Type == TypeTextarea {
			limit = TextMaxLength
		}
		sc := &StringColumn{column: base, max: limit}
		if a.MinLength != nil {
			sc.min = *a.MinLength
		}
		if a.MaxLength != nil && *a.MaxLength < limit {
			sc.max = *a.MaxLength
		}
		sc.format = formatCheck(a.Type)
		return sc, nil
	}
	return nil, fmt.Errorf("unsupported attribute type %q", a.Type)
}

// CheckValue coerces raw and checks it against the column. Empty input yields nil,
// which is an error only for required columns.
func CheckValue(c ColumnSpec, raw interface{}) (interface{}, *types.FieldError) {
	raw = plain(raw)
	if raw == nil || raw == "" {
		if c.Attribute().Required {
			return nil, &types.FieldError{Attribute: c.Name(), Field: "required", Code: "required", Message: "value is required"}
		}
		return nil, nil
	}
	v, err := c.Coerce(raw)
	if err != nil {
		return nil, &types.FieldError{Attribute: c.Name(), Field: "type", Code: "type", Message: err.Error()}
	}
	if fe := c.Check(v); fe != nil {
		return nil, fe
	}
	return v, nil
}

type column struct {
	attr AttributeSpec
}

func (c column) Attribute() AttributeSpec { return c.attr }
func (c column) Name() string             { return c.attr.Name }
func (c column) Column() string           { return c.attr.Column() }
func (c column) Kind() ColumnKind         { return c.attr.Kind() }

func (c column) fail(field, code, format string, args ...interface{}) *types.FieldError {
	return &types.FieldError{Attribute: c.attr.Name, Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

// StringColumn backs text, textarea, email, url and phone attributes.
type StringColumn struct {
	column
	min, max int
	format   func(string) error
}

func (c *StringColumn) Coerce(raw interface{}) (interface{}, error) {
	return ToText(raw)
}

func (c *StringColumn) Check(value interface{}) *types.FieldError {
	s, _ := value.(string)
	n := utf8.RuneCountInString(s)
	if n < c.min {
		return c.fail("min_length", "min_length", "must be at least %d characters", c.min)
	}
	if n > c.max {
		return c.fail("max_length", "max_length", "must be at most %d characters", c.max)
	}
	if c.format != nil {
		if err := c.format(s); err != nil {
			return c.fail("type", "format", "%v", err)
		}
	}
	return nil
}

func (c *StringColumn) StorageValue(value interface{}) interface{} { return value }

func (c *StringColumn) FromStorage(raw interface{}) (interface{}, error) {
	if raw = plain(raw); raw == nil {
		return nil, nil
	}
	return ToText(raw)
}

// SelectColumn is a string column restricted to an option list.
type SelectColumn struct {
	column
	options map[string]struct{}
}

func (c *SelectColumn) Coerce(raw interface{}) (interface{}, error) {
	return ToText(raw)
}

func (c *SelectColumn) Check(value interface{}) *types.FieldError {
	s, _ := value.(string)
	if _, ok := c.options[s]; !ok {
		return c.fail("options", "option", "%q is not one of the allowed options", s)
	}
	if utf8.RuneCountInString(s) > StringMaxLength {
		return c.fail("options", "max_length", "must be at most %d characters", StringMaxLength)
	}
	return nil
}

func (c *SelectColumn) StorageValue(value interface{}) interface{} { return value }

func (c *SelectColumn) FromStorage(raw interface{}) (interface{}, error) {
	if raw = plain(raw); raw == nil {
		return nil, nil
	}
	return ToText(raw)
}

// NumberColumn backs number attributes. Values are float64.
type NumberColumn struct {
	column
	min, max *float64
}

func (c *NumberColumn) Coerce(raw interface{}) (interface{}, error) {
	return ToNumber(raw)
}

func (c *NumberColumn) Check(value interface{}) *types.FieldError {
	f, _ := value.(float64)
	if c.min != nil && f < *c.min {
		return c.fail("min_value", "min_value", "must be at least %v", *c.min)
	}
	if c.max != nil && f > *c.max {
		return c.fail("max_value", "max_value", "must be at most %v", *c.max)
	}
	return nil
}

func (c *NumberColumn) StorageValue(value interface{}) interface{} { return value }

func (c *NumberColumn) FromStorage(raw interface{}) (interface{}, error) {
	if raw = plain(raw); raw == nil {
		return nil, nil
	}
	return ToNumber(raw)
}

// TemporalColumn backs date, time and datetime attributes.
// Dates and datetimes are time.Time in UTC; times of day are "15:04:05" strings.
type TemporalColumn struct {
	column
	min, max *time.Time
}

func (c *TemporalColumn) bound(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	v, err := c.Coerce(*s)
	if err != nil {
		return nil, err
	}
	t := c.comparable(v)
	return &t, nil
}

func (c *TemporalColumn) comparable(v interface{}) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		return clockTime(x)
	}
	return time.Time{}
}

func (c *TemporalColumn) Coerce(raw interface{}) (interface{}, error) {
	switch c.attr.Type {
	case TypeDate:
		return ParseDate(raw)
	case TypeTime:
		return ParseClock(raw)
	default:
		return ParseDatetime(raw)
	}
}

func (c *TemporalColumn) Check(value interface{}) *types.FieldError {
	t := c.comparable(value)
	minField, maxField := c.attr.temporalFields()
	if c.min != nil && t.Before(*c.min) {
		return c.fail(minField, minField, "must not be before %s", c.display(*c.min))
	}
	if c.max != nil && t.After(*c.max) {
		return c.fail(maxField, maxField, "must not be after %s", c.display(*c.max))
	}
	return nil
}

func (c *TemporalColumn) display(t time.Time) string {
	switch c.attr.Type {
	case TypeDate:
		return t.Format(DateLayout)
	case TypeTime:
		return t.Format(TimeLayout)
	}
	return t.Format(DatetimeLayout)
}

func (c *TemporalColumn) StorageValue(value interface{}) interface{} {
	switch x := value.(type) {
	case time.Time:
		if c.attr.Type == TypeDate {
			return x.Format(DateLayout)
		}
		return x.UTC()
	}
	return value
}

func (c *TemporalColumn) FromStorage(raw interface{}) (interface{}, error) {
	if raw = plain(raw); raw == nil {
		return nil, nil
	}
	return c.Coerce(raw)
}

func (a AttributeSpec) temporalBounds() (*string, *string) {
	switch a.Type {
	case TypeDate:
		return a.MinDate, a.MaxDate
	case TypeTime:
		return a.MinTime, a.MaxTime
	case TypeDatetime:
		return a.MinDatetime, a.MaxDatetime
	}
	return nil, nil
}

func (a AttributeSpec) temporalFields() (string, string) {
	switch a.Type {
	case TypeDate:
		return "min_date", "max_date"
	case TypeTime:
		return "min_time", "max_time"
	}
	return "min_datetime", "max_datetime"
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ().\-]{2,31}$`)

func formatCheck(t AttributeType) func(string) error {
	switch t {
	case TypeEmail:
		return func(s string) error {
			addr, err := mail.ParseAddress(s)
			if err != nil || addr.Address != s {
				return fmt.Errorf("%q is not a valid email address", s)
			}
			return nil
		}
	case TypeURL:
		return func(s string) error {
			u, err := url.ParseRequestURI(s)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("%q is not a valid http(s) url", s)
			}
			return nil
		}
	case TypePhone:
		return func(s string) error {
			if !phonePattern.MatchString(s) {
				return fmt.Errorf("%q is not a valid phone number", s)
			}
			return nil
		}
	}
	return nil
}
