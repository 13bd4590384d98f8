// validate.go
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
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/localnerve/doctypesdb/internal/types"
)

// Validation error codes.
const (
	CodeNameFormat      = "name_format"
	CodeReserved        = "reserved"
	CodeExcluded        = "excluded"
	CodeDuplicate       = "duplicate"
	CodeDuplicateColumn = "duplicate_column"
	CodeType            = "type"
	CodeRange           = "range"
	CodeBound           = "bound"
	CodeNotApplicable   = "not_applicable"
	CodeOptions         = "options"
	CodeDefault         = "default"
	CodeOrder           = "order"
	CodeRename          = "rename"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]{0,63}$`)

// ValidatedSchema is an attribute list that passed validation, sorted by a dense 1..N order.
type ValidatedSchema struct {
	Attributes []AttributeSpec
	columns    []ColumnSpec
	byName     map[string]ColumnSpec
}

// Columns returns the column specs in order.
func (s *ValidatedSchema) Columns() []ColumnSpec {
	return s.columns
}

// Lookup returns the column spec for an attribute name or column name.
func (s *ValidatedSchema) Lookup(name string) (ColumnSpec, error) {
	if c, ok := s.byName[name]; ok {
		return c, nil
	}
	if c, ok := s.byName[ColumnName(name)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
}

// Persisted returns the attributes as stored in schema_form.
func (s *ValidatedSchema) Persisted() []AttributeSpec {
	out := make([]AttributeSpec, len(s.Attributes))
	for i, a := range s.Attributes {
		out[i] = a.Persisted()
	}
	return out
}

// ErrUnknownAttribute is returned when a name is not part of a schema.
var ErrUnknownAttribute = errors.New("unknown attribute")

// Validate checks specs and returns the validated, ordered schema. All problems are
// reported together in a *types.ValidationError. excludedNames are names already
// taken by sibling attributes.
func Validate(specs []AttributeSpec, excludedNames []string) (*ValidatedSchema, error) {
	ve := &types.ValidationError{}

	excluded := make(map[string]struct{}, len(excludedNames))
	for _, n := range excludedNames {
		excluded[n] = struct{}{}
		excluded[ColumnName(n)] = struct{}{}
	}

	seenName := make(map[string]int, len(specs))
	seenColumn := make(map[string]string, len(specs))
	seenOrder := make(map[int]string, len(specs))

	for i, a := range specs {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}

		validName := validateName(ve, label, a.Name)
		if validName {
			if IsReserved(a.Name) {
				ve.Add(label, "name", CodeReserved, fmt.Sprintf("%q is a reserved name", a.Name))
			}
			if _, ok := excluded[a.Name]; ok {
				ve.Add(label, "name", CodeExcluded, fmt.Sprintf("%q is already used by another attribute", a.Name))
			} else if _, ok := excluded[a.Column()]; ok {
				ve.Add(label, "name", CodeExcluded, fmt.Sprintf("%q is already used by another attribute", a.Name))
			}
			if _, dup := seenName[a.Name]; dup {
				ve.Add(label, "name", CodeDuplicate, fmt.Sprintf("attribute %q is defined more than once", a.Name))
			} else if other, dup := seenColumn[a.Column()]; dup {
				ve.Add(label, "name", CodeDuplicateColumn,
					fmt.Sprintf("%q and %q map to the same column %q", other, a.Name, a.Column()))
			}
			seenName[a.Name] = i
			if _, dup := seenColumn[a.Column()]; !dup {
				seenColumn[a.Column()] = a.Name
			}
		}

		if a.RenameFrom != "" && a.RenameFrom != a.Name && !namePattern.MatchString(a.RenameFrom) {
			ve.Add(label, "rename_from", CodeRename, fmt.Sprintf("%q is not a valid attribute name", a.RenameFrom))
		}

		if a.Order < 0 {
			ve.Add(label, "order", CodeOrder, "order must be positive")
		} else if a.Order > 0 {
			if other, dup := seenOrder[a.Order]; dup {
				ve.Add(label, "order", CodeOrder, fmt.Sprintf("order %d is also used by %q", a.Order, other))
			}
			seenOrder[a.Order] = label
		}

		if !a.Type.Valid() {
			ve.Add(label, "type", CodeType, fmt.Sprintf("unsupported type %q", a.Type))
			continue
		}
		validateConstraints(ve, label, a)
	}

	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	ordered := assignOrder(specs)
	vs := &ValidatedSchema{
		Attributes: ordered,
		columns:    make([]ColumnSpec, 0, len(ordered)),
		byName:     make(map[string]ColumnSpec, len(ordered)*2),
	}
	for _, a := range ordered {
		c, err := NewColumnSpec(a)
		if err != nil {
			return nil, types.NewValidationError(a.Name, "type", CodeType, err.Error())
		}
		vs.columns = append(vs.columns, c)
		vs.byName[a.Name] = c
		vs.byName[a.Column()] = c
	}
	return vs, nil
}

// MustValidate is Validate for schemas already known to be valid, such as stored schema_form.
// Invalid input yields a schema built without constraint checks.
func MustValidate(specs []AttributeSpec) *ValidatedSchema {
	if vs, err := Validate(specs, nil); err == nil {
		return vs
	}
	vs := &ValidatedSchema{Attributes: assignOrder(specs), byName: map[string]ColumnSpec{}}
	for _, a := range vs.Attributes {
		if c, err := NewColumnSpec(a); err == nil {
			vs.columns = append(vs.columns, c)
			vs.byName[a.Name] = c
			vs.byName[a.Column()] = c
		}
	}
	return vs
}

func validateName(ve *types.ValidationError, label, name string) bool {
	switch {
	case name == "":
		ve.Add(label, "name", CodeNameFormat, "name is required")
	case !namePattern.MatchString(name):
		ve.Add(label, "name", CodeNameFormat,
			"name must start with a letter and contain only letters, digits, underscores and spaces (max 64)")
	case strings.Contains(name, "  "):
		ve.Add(label, "name", CodeNameFormat, "name must not contain double spaces")
	case strings.HasSuffix(name, " "):
		ve.Add(label, "name", CodeNameFormat, "name must not end with a space")
	default:
		return true
	}
	return false
}

func validateConstraints(ve *types.ValidationError, label string, a AttributeSpec) {
	kind := a.Kind()
	isString := kind == KindString || kind == KindText

	if !isString && (a.MinLength != nil || a.MaxLength != nil) {
		ve.Add(label, "min_length", CodeNotApplicable, fmt.Sprintf("length bounds do not apply to %s", a.Type))
	}
	if a.Type == TypeSelect && (a.MinLength != nil || a.MaxLength != nil) {
		ve.Add(label, "min_length", CodeNotApplicable, "length bounds do not apply to select")
	}
	if kind != KindNumber && (a.MinValue != nil || a.MaxValue != nil) {
		ve.Add(label, "min_value", CodeNotApplicable, fmt.Sprintf("value bounds do not apply to %s", a.Type))
	}
	if a.Type != TypeSelect && len(a.Options) > 0 {
		ve.Add(label, "options", CodeNotApplicable, fmt.Sprintf("options do not apply to %s", a.Type))
	}
	for _, tb := range []struct {
		t        AttributeType
		min, max *string
		field    string
	}{
		{TypeDate, a.MinDate, a.MaxDate, "min_date"},
		{TypeTime, a.MinTime, a.MaxTime, "min_time"},
		{TypeDatetime, a.MinDatetime, a.MaxDatetime, "min_datetime"},
	} {
		if a.Type != tb.t && (tb.min != nil || tb.max != nil) {
			ve.Add(label, tb.field, CodeNotApplicable, fmt.Sprintf("%s bounds do not apply to %s", tb.t, a.Type))
		}
	}

	bounded := true
	switch {
	case isString && a.Type != TypeSelect:
		limit := StringMaxLength
		if a.Type == TypeTextarea {
			limit = TextMaxLength
		}
		if a.MinLength != nil && *a.MinLength < 0 {
			ve.Add(label, "min_length", CodeBound, "min_length must not be negative")
			bounded = false
		}
		if a.MaxLength != nil && (*a.MaxLength < 0 || *a.MaxLength > limit) {
			ve.Add(label, "max_length", CodeBound, fmt.Sprintf("max_length must be between 0 and %d", limit))
			bounded = false
		}
		if bounded && a.MinLength != nil && a.MaxLength != nil && *a.MinLength > *a.MaxLength {
			ve.Add(label, "min_length", CodeRange, "min_length must not exceed max_length")
		}

	case kind == KindNumber:
		if a.MinValue != nil && a.MaxValue != nil && *a.MinValue >= *a.MaxValue {
			ve.Add(label, "min_value", CodeRange, "min_value must be less than max_value")
		}

	case a.Type == TypeSelect:
		if len(a.Options) == 0 {
			ve.Add(label, "options", CodeOptions, "select requires at least one option")
		}
		seen := make(map[string]struct{}, len(a.Options))
		for _, o := range a.Options {
			if strings.TrimSpace(o) == "" {
				ve.Add(label, "options", CodeOptions, "options must not be empty")
			} else if len(o) > StringMaxLength {
				ve.Add(label, "options", CodeOptions, fmt.Sprintf("option %q exceeds %d characters", o, StringMaxLength))
			}
			if _, dup := seen[o]; dup {
				ve.Add(label, "options", CodeOptions, fmt.Sprintf("option %q is listed more than once", o))
			}
			seen[o] = struct{}{}
		}

	default:
		lo, hi := a.temporalBounds()
		minField, maxField := a.temporalFields()
		tc := &TemporalColumn{column: column{attr: a}}
		loT, err := tc.bound(lo)
		if err != nil {
			ve.Add(label, minField, CodeBound, err.Error())
			bounded = false
		}
		hiT, err := tc.bound(hi)
		if err != nil {
			ve.Add(label, maxField, CodeBound, err.Error())
			bounded = false
		}
		if bounded && loT != nil && hiT != nil && !loT.Before(*hiT) {
			ve.Add(label, minField, CodeRange, fmt.Sprintf("%s must be before %s", minField, maxField))
		}
	}

	if a.Default != nil {
		c, err := NewColumnSpec(a)
		if err != nil {
			return
		}
		if _, fe := CheckValue(c, *a.Default); fe != nil {
			ve.Add(label, "default", CodeDefault, "default "+fe.Message)
		}
	}
}

// assignOrder keeps provided orders relative to each other, appends unordered
// attributes in input sequence, then renumbers densely from 1.
func assignOrder(specs []AttributeSpec) []AttributeSpec {
	type entry struct {
		spec  AttributeSpec
		index int
	}
	withOrder := make([]entry, 0, len(specs))
	without := make([]entry, 0, len(specs))
	for i, a := range specs {
		if a.Order > 0 {
			withOrder = append(withOrder, entry{a, i})
		} else {
			without = append(without, entry{a, i})
		}
	}
	sort.SliceStable(withOrder, func(i, j int) bool {
		return withOrder[i].spec.Order < withOrder[j].spec.Order
	})
	out := make([]AttributeSpec, 0, len(specs))
	for _, e := range append(withOrder, without...) {
		a := e.spec
		a.Order = len(out) + 1
		out = append(out, a)
	}
	return out
}
