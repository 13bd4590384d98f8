// plan.go
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

	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/types"
)

// OpKind is the kind of a planned column operation.
type OpKind string

const (
	OpAddColumn     OpKind = "AddColumn"
	OpModifyColumn  OpKind = "ModifyColumn"
	OpDropColumn    OpKind = "DropColumn"
	OpReorderColumn OpKind = "ReorderColumn"
)

// Plan validation codes.
const (
	CodeConversion = "conversion"
	CodeRename     = "rename"
)

// ExistingColumn is an attribute column currently present on the table.
type ExistingColumn struct {
	Name string
	Kind schema.ColumnKind
	// Attribute is the stored attribute for the column, nil when the column is not in schema_form.
	Attribute *schema.AttributeSpec
}

// Operation is one atomic step of a Plan.
type Operation struct {
	Kind      OpKind
	Column    string
	From      string
	Attribute schema.AttributeSpec
	Previous  *schema.AttributeSpec
	FromKind  schema.ColumnKind
	ToKind    schema.ColumnKind
	Converter Converter
}

// Rename reports whether the operation renames its column.
func (o Operation) Rename() bool {
	return o.Kind == OpModifyColumn && o.From != "" && o.From != o.Column
}

// TypeChange reports whether the operation changes the column kind.
func (o Operation) TypeChange() bool {
	return o.Kind == OpModifyColumn && o.FromKind != "" && o.FromKind != o.ToKind
}

// Physical reports whether the operation issues DDL.
func (o Operation) Physical() bool {
	switch o.Kind {
	case OpAddColumn, OpDropColumn:
		return true
	case OpModifyColumn:
		return o.Rename() || o.TypeChange()
	}
	return false
}

// Ref returns the reportable summary of the operation.
func (o Operation) Ref() types.OperationRef {
	ref := types.OperationRef{Op: string(o.Kind), Column: o.Column}
	switch o.Kind {
	case OpAddColumn:
		ref.Detail = string(o.ToKind)
	case OpModifyColumn:
		switch {
		case o.Rename() && o.TypeChange():
			ref.Detail = fmt.Sprintf("%s→%s, %s→%s", o.From, o.Column, o.FromKind, o.ToKind)
		case o.Rename():
			ref.Detail = fmt.Sprintf("%s→%s", o.From, o.Column)
		case o.TypeChange():
			ref.Detail = fmt.Sprintf("%s→%s", o.FromKind, o.ToKind)
		default:
			ref.Detail = "constraints"
		}
	case OpReorderColumn:
		if o.Previous != nil {
			ref.Detail = fmt.Sprintf("%d→%d", o.Previous.Order, o.Attribute.Order)
		}
	}
	return ref
}

func (o Operation) String() string {
	return o.Ref().String()
}

// Plan is an ordered list of column operations against one table.
type Plan struct {
	Table      string
	Operations []Operation
	target     *schema.ValidatedSchema
}

// Target returns the schema the plan converges to.
func (p *Plan) Target() *schema.ValidatedSchema {
	return p.target
}

// Physical reports whether any operation issues DDL.
func (p *Plan) Physical() bool {
	for _, op := range p.Operations {
		if op.Physical() {
			return true
		}
	}
	return false
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}

// Refs summarizes the operations from..to.
func (p *Plan) Refs(from, to int) []types.OperationRef {
	out := make([]types.OperationRef, 0, to-from)
	for _, op := range p.Operations[from:to] {
		out = append(out, op.Ref())
	}
	return out
}

// BuildPlan computes the operations that turn the existing attribute columns into
// target. Renames come first in dependency order, then additions, then kind changes
// and constraint changes, then drops, then metadata-only reorders.
// converters is keyed by target attribute name.
func BuildPlan(table string, target *schema.ValidatedSchema, existing []ExistingColumn, converters map[string]Converter) (*Plan, error) {
	ve := &types.ValidationError{}
	byColumn := make(map[string]ExistingColumn, len(existing))
	for _, c := range existing {
		byColumn[c.Name] = c
	}

	claimed := make(map[string]string, len(existing))
	source := make(map[string]string, len(target.Attributes))

	for _, a := range target.Attributes {
		if a.RenameFrom == "" || schema.ColumnName(a.RenameFrom) == a.Column() {
			continue
		}
		from := schema.ColumnName(a.RenameFrom)
		if _, ok := byColumn[from]; !ok {
			ve.Add(a.Name, "rename_from", CodeRename, fmt.Sprintf("cannot rename %q: no such column", a.RenameFrom))
			continue
		}
		if other, dup := claimed[from]; dup {
			ve.Add(a.Name, "rename_from", CodeRename, fmt.Sprintf("%q is already renamed to %q", a.RenameFrom, other))
			continue
		}
		claimed[from] = a.Name
		source[a.Name] = from
	}
	for _, a := range target.Attributes {
		if _, ok := source[a.Name]; ok {
			continue
		}
		if _, ok := byColumn[a.Column()]; ok {
			if _, taken := claimed[a.Column()]; !taken {
				claimed[a.Column()] = a.Name
				source[a.Name] = a.Column()
			}
		}
	}

	var renames, adds, kindChanges, constraintChanges, drops, reorders []Operation

	for _, a := range target.Attributes {
		from, kept := source[a.Name]
		if !kept {
			adds = append(adds, Operation{Kind: OpAddColumn, Column: a.Column(), Attribute: a, ToKind: a.Kind()})
			continue
		}
		ex := byColumn[from]
		op := Operation{
			Kind:      OpModifyColumn,
			Column:    a.Column(),
			From:      from,
			Attribute: a,
			Previous:  ex.Attribute,
			FromKind:  ex.Kind,
			ToKind:    a.Kind(),
		}
		if op.TypeChange() {
			if conv, ok := converters[a.Name]; ok && conv != nil {
				op.Converter = conv
			} else if !Widening(op.FromKind, op.ToKind) {
				ve.Add(a.Name, "type", CodeConversion,
					fmt.Sprintf("changing %q from %s to %s needs a converter", a.Name, op.FromKind, op.ToKind))
			}
		}
		switch {
		case op.Rename():
			renames = append(renames, op)
		case op.TypeChange():
			kindChanges = append(kindChanges, op)
		case ex.Attribute == nil || !ex.Attribute.ConstraintsEqual(a):
			constraintChanges = append(constraintChanges, op)
		}
		if ex.Attribute != nil && ex.Attribute.Order != a.Order {
			prev := *ex.Attribute
			reorders = append(reorders, Operation{
				Kind:      OpReorderColumn,
				Column:    a.Column(),
				Attribute: a,
				Previous:  &prev,
				FromKind:  a.Kind(),
				ToKind:    a.Kind(),
			})
		}
	}

	for _, c := range existing {
		if _, ok := claimed[c.Name]; ok {
			continue
		}
		drops = append(drops, Operation{Kind: OpDropColumn, Column: c.Name, Previous: c.Attribute, FromKind: c.Kind})
	}
	for _, d := range drops {
		for _, r := range renames {
			if r.Column == d.Column {
				ve.Add(r.Attribute.Name, "name", CodeRename,
					fmt.Sprintf("cannot rename to %q: the column is dropped in the same change", r.Column))
			}
		}
	}

	ordered, err := orderRenames(renames)
	if err != nil {
		ve.Add("", "rename_from", CodeRename, err.Error())
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	sort.SliceStable(drops, func(i, j int) bool { return drops[i].Column < drops[j].Column })

	ops := make([]Operation, 0, len(ordered)+len(adds)+len(kindChanges)+len(constraintChanges)+len(drops)+len(reorders))
	ops = append(ops, ordered...)
	ops = append(ops, adds...)
	ops = append(ops, kindChanges...)
	ops = append(ops, constraintChanges...)
	ops = append(ops, drops...)
	ops = append(ops, reorders...)
	return &Plan{Table: table, Operations: ops, target: target}, nil
}

// orderRenames sorts renames so a column is vacated before another rename takes its name.
func orderRenames(renames []Operation) ([]Operation, error) {
	if len(renames) < 2 {
		return renames, nil
	}
	fromIdx := make(map[string]int, len(renames))
	for i, r := range renames {
		fromIdx[r.From] = i
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(renames))
	out := make([]Operation, 0, len(renames))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("renames form a cycle through %q", renames[i].Column)
		}
		state[i] = visiting
		// The rename that vacates our destination must run first.
		if j, ok := fromIdx[renames[i].Column]; ok && j != i {
			if err := visit(j); err != nil {
				return err
			}
		}
		state[i] = done
		out = append(out, renames[i])
		return nil
	}
	for i := range renames {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Widening reports whether values of from copy into to without a converter.
func Widening(from, to schema.ColumnKind) bool {
	return (from == schema.KindString && to == schema.KindText) ||
		(from == schema.KindDate && to == schema.KindDatetime)
}

// ProjectSchema returns the schema_form that matches the table after the first
// applied operations of the plan ran on top of previous.
func ProjectSchema(previous []schema.AttributeSpec, plan *Plan, applied int) []schema.AttributeSpec {
	if applied >= len(plan.Operations) && plan.target != nil {
		return plan.target.Persisted()
	}
	type slot struct {
		spec  schema.AttributeSpec
		index int
	}
	slots := make([]*slot, 0, len(previous)+len(plan.Operations))
	byColumn := make(map[string]*slot, len(previous))
	for i, a := range previous {
		s := &slot{spec: a.Persisted(), index: i}
		slots = append(slots, s)
		byColumn[a.Column()] = s
	}
	next := len(previous)
	for _, op := range plan.Operations[:applied] {
		switch op.Kind {
		case OpAddColumn:
			s := &slot{spec: op.Attribute.Persisted(), index: next}
			next++
			slots = append(slots, s)
			byColumn[op.Column] = s
		case OpModifyColumn:
			s, ok := byColumn[op.From]
			if !ok {
				s = &slot{index: next}
				next++
				slots = append(slots, s)
			}
			order := s.spec.Order
			if order == 0 {
				order = op.Attribute.Order
			}
			delete(byColumn, op.From)
			s.spec = op.Attribute.Persisted()
			s.spec.Order = order
			byColumn[op.Column] = s
		case OpDropColumn:
			if s, ok := byColumn[op.Column]; ok {
				s.spec = schema.AttributeSpec{}
				delete(byColumn, op.Column)
			}
		case OpReorderColumn:
			if s, ok := byColumn[op.Column]; ok {
				s.spec.Order = op.Attribute.Order
			}
		}
	}
	live := make([]*slot, 0, len(slots))
	for _, s := range slots {
		if s.spec.Name != "" {
			live = append(live, s)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].spec.Order != live[j].spec.Order {
			return live[i].spec.Order < live[j].spec.Order
		}
		return live[i].index < live[j].index
	})
	out := make([]schema.AttributeSpec, len(live))
	for i, s := range live {
		out[i] = s.spec
		out[i].Order = i + 1
	}
	return out
}
