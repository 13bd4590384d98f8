// alter.go
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
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/metrics"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/types"
)

// AlterRequest is a full target schema for an active document type.
// Converters are keyed by target attribute name; Conversions name built-in converters.
type AlterRequest struct {
	Schema      []schema.AttributeSpec   `json:"schema"`
	Converters  map[string]ddl.Converter `json:"-"`
	Conversions map[string]string        `json:"conversions,omitempty"`
}

// AlterResult reports the applied plan.
type AlterResult struct {
	DocumentType *models.DocumentType `json:"document_type"`
	Operations   []types.OperationRef `json:"operations"`
}

// DetailsInput changes descriptive metadata. Nil fields are left alone.
type DetailsInput struct {
	Name        *string `json:"name,omitempty"`
	LongName    *string `json:"long_name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type targetFunc func(current []schema.AttributeSpec) ([]schema.AttributeSpec, error)

// Alter converges a document type's table and schema_form on req.Schema.
// Operations apply one statement at a time; on failure the metadata records the
// applied prefix and a *types.PartialApplyError lists both halves.
func (e *Engine) Alter(ctx context.Context, id uint64, req AlterRequest) (res *AlterResult, err error) {
	start := time.Now()
	defer func() { metrics.Observe("alter", start, err) }()
	return e.alter(ctx, id, req, func([]schema.AttributeSpec) ([]schema.AttributeSpec, error) {
		return req.Schema, nil
	})
}

// PlanAlter computes the plan Alter would run, without applying it.
func (e *Engine) PlanAlter(ctx context.Context, id uint64, req AlterRequest) (*ddl.Plan, error) {
	dt, err := e.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	vs, err := schema.Validate(req.Schema, nil)
	if err != nil {
		return nil, err
	}
	return e.plan(ctx, dt, vs, req)
}

// InsertAttribute adds one attribute. An order within the current range shifts
// later attributes down; otherwise it is appended.
func (e *Engine) InsertAttribute(ctx context.Context, id uint64, attr schema.AttributeSpec, req AlterRequest) (res *AlterResult, err error) {
	start := time.Now()
	defer func() { metrics.Observe("insert_attribute", start, err) }()
	return e.alter(ctx, id, req, func(current []schema.AttributeSpec) ([]schema.AttributeSpec, error) {
		if _, err := schema.Validate([]schema.AttributeSpec{attr}, names(current)); err != nil {
			return nil, err
		}
		out := make([]schema.AttributeSpec, 0, len(current)+1)
		for _, a := range current {
			if attr.Order >= 1 && attr.Order <= len(current) && a.Order >= attr.Order {
				a.Order++
			}
			out = append(out, a)
		}
		if attr.Order < 1 || attr.Order > len(current) {
			attr.Order = len(current) + 1
		}
		return append(out, attr), nil
	})
}

// EditAttribute replaces the attribute called name. A new name renames its column.
func (e *Engine) EditAttribute(ctx context.Context, id uint64, name string, attr schema.AttributeSpec, req AlterRequest) (res *AlterResult, err error) {
	start := time.Now()
	defer func() { metrics.Observe("edit_attribute", start, err) }()
	return e.alter(ctx, id, req, func(current []schema.AttributeSpec) ([]schema.AttributeSpec, error) {
		idx := indexOf(current, name)
		if idx < 0 {
			return nil, types.NewValidationError(name, "name", "unknown", fmt.Sprintf("%q is not an attribute of this document type", name))
		}
		siblings := make([]string, 0, len(current)-1)
		for i, a := range current {
			if i != idx {
				siblings = append(siblings, a.Name)
			}
		}
		if _, err := schema.Validate([]schema.AttributeSpec{attr}, siblings); err != nil {
			return nil, err
		}
		if attr.Order == 0 {
			attr.Order = current[idx].Order
		}
		if attr.Name != name {
			attr.RenameFrom = name
		}
		out := append([]schema.AttributeSpec(nil), current...)
		if attr.Order != current[idx].Order {
			shift(out, idx, attr.Order)
		}
		out[idx] = attr
		return out, nil
	})
}

// DeleteAttribute drops the attribute called name and its column.
func (e *Engine) DeleteAttribute(ctx context.Context, id uint64, name string) (res *AlterResult, err error) {
	start := time.Now()
	defer func() { metrics.Observe("delete_attribute", start, err) }()
	return e.alter(ctx, id, AlterRequest{}, func(current []schema.AttributeSpec) ([]schema.AttributeSpec, error) {
		idx := indexOf(current, name)
		if idx < 0 {
			return nil, types.NewValidationError(name, "name", "unknown", fmt.Sprintf("%q is not an attribute of this document type", name))
		}
		out := make([]schema.AttributeSpec, 0, len(current)-1)
		for i, a := range current {
			if i == idx {
				continue
			}
			if a.Order > current[idx].Order {
				a.Order--
			}
			out = append(out, a)
		}
		return out, nil
	})
}

// Reorder sets the display order to the given attribute names. It only rewrites
// schema_form and never plans against the table, so a drifted table is left as is.
func (e *Engine) Reorder(ctx context.Context, id uint64, order []string) (res *AlterResult, err error) {
	start := time.Now()
	defer func() { metrics.Observe("reorder", start, err) }()

	err = e.withLocks(ctx, []string{lock.DocumentType(id)}, func() error {
		dt, err := e.loadActive(ctx, id)
		if err != nil {
			return err
		}
		current := dt.SchemaForm.Attributes()
		out, err := reordered(current, order)
		if err != nil {
			return err
		}

		refs := []types.OperationRef{}
		for _, a := range out {
			prev := current[indexOf(current, a.Name)]
			if prev.Order != a.Order {
				op := ddl.Operation{Kind: ddl.OpReorderColumn, Column: a.Column(), Attribute: a, Previous: &prev}
				refs = append(refs, op.Ref())
			}
		}
		if len(refs) == 0 {
			res = &AlterResult{DocumentType: dt, Operations: refs}
			return nil
		}

		if err := e.db.WithContext(ctx).Model(dt).Update("schema_form", models.SchemaForm(out)).Error; err != nil {
			return types.Storage("reorder "+dt.Name, err)
		}
		dt.SchemaForm = models.SchemaForm(out)
		res = &AlterResult{DocumentType: dt, Operations: refs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(res.Operations) > 0 {
		e.invalidate(ctx, id)
	}
	return res, nil
}

// reordered returns current in the given name order, numbered from 1.
func reordered(current []schema.AttributeSpec, order []string) ([]schema.AttributeSpec, error) {
	ve := &types.ValidationError{}
	if len(order) != len(current) {
		ve.Add("", "order", "order", fmt.Sprintf("expected %d attribute names, got %d", len(current), len(order)))
	}
	seen := make(map[string]bool, len(order))
	out := make([]schema.AttributeSpec, 0, len(current))
	for i, name := range order {
		idx := indexOf(current, name)
		switch {
		case idx < 0:
			ve.Add(name, "order", "unknown", fmt.Sprintf("%q is not an attribute of this document type", name))
		case seen[name]:
			ve.Add(name, "order", "duplicate", fmt.Sprintf("%q is listed more than once", name))
		default:
			seen[name] = true
			a := current[idx]
			a.Order = i + 1
			out = append(out, a)
		}
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateDetails changes name, long name or description. The table keeps its name.
func (e *Engine) UpdateDetails(ctx context.Context, id uint64, in DetailsInput) (dt *models.DocumentType, err error) {
	start := time.Now()
	defer func() { metrics.Observe("update_details", start, err) }()

	keys := []string{lock.DocumentType(id)}
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
		if err := checkName(trimmed); err != nil {
			return nil, err
		}
		keys = append(keys, lock.DocumentTypeName(trimmed))
	}

	err = e.withLocks(ctx, keys, func() error {
		current, err := e.loadActive(ctx, id)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if in.Name != nil && *in.Name != current.Name {
			taken, err := e.activeNameTaken(ctx, *in.Name, id)
			if err != nil {
				return err
			}
			if taken {
				return &types.NamingConflictError{Kind: "document_type", Name: *in.Name, Detail: "an active document type already uses this name"}
			}
			updates["name"] = *in.Name
		}
		if in.LongName != nil {
			updates["long_name"] = *in.LongName
		}
		if in.Description != nil {
			updates["description"] = *in.Description
		}
		if len(updates) == 0 {
			dt = current
			return nil
		}
		if err := e.db.WithContext(ctx).Model(current).Updates(updates).Error; err != nil {
			return types.Storage("update document type details", err)
		}
		dt, err = e.load(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.invalidate(ctx, id)
	return dt, nil
}

func (e *Engine) alter(ctx context.Context, id uint64, req AlterRequest, target targetFunc) (*AlterResult, error) {
	var res *AlterResult
	err := e.withLocks(ctx, []string{lock.DocumentType(id)}, func() error {
		dt, err := e.loadActive(ctx, id)
		if err != nil {
			return err
		}
		previous := dt.SchemaForm.Attributes()
		specs, err := target(previous)
		if err != nil {
			return err
		}
		vs, err := schema.Validate(specs, nil)
		if err != nil {
			return err
		}

		return e.locks.ExecuteWithLockAndRefresh(ctx, lock.Table(dt.PhysicalTable), func() error {
			plan, err := e.plan(ctx, dt, vs, req)
			if err != nil {
				return err
			}
			if err := e.checkUnique(ctx, dt.PhysicalTable, plan); err != nil {
				return err
			}
			if plan.Empty() {
				res = &AlterResult{DocumentType: dt, Operations: []types.OperationRef{}}
				return nil
			}

			log.Printf("Altering document type %d on %s: %d operations", dt.ID, dt.PhysicalTable, len(plan.Operations))
			applied := len(plan.Operations)
			var applyErr error
			if plan.Physical() {
				applied, applyErr = e.exec.Apply(ctx, plan)
			}
			defer e.invalidate(ctx, dt.ID, dt.PhysicalTable)

			if applyErr != nil && applied == 0 {
				return alterFailure(dt.PhysicalTable, plan, applyErr)
			}

			form := ddl.ProjectSchema(previous, plan, applied)
			if err := e.db.WithContext(ctx).Model(dt).Update("schema_form", models.SchemaForm(form)).Error; err != nil {
				log.Printf("Metadata write failed after altering %s: %v", dt.PhysicalTable, err)
				return &types.FatalStorageError{Op: "record schema of " + dt.Name, Err: err, Inconsistent: true}
			}
			dt.SchemaForm = models.SchemaForm(form)

			if applyErr != nil {
				log.Printf("Alter of %s stopped after %d of %d operations: %v", dt.PhysicalTable, applied, len(plan.Operations), applyErr)
				return &types.PartialApplyError{
					Table:     dt.PhysicalTable,
					Applied:   plan.Refs(0, applied),
					Unapplied: plan.Refs(applied, len(plan.Operations)),
					Err:       applyErr,
				}
			}
			res = &AlterResult{DocumentType: dt, Operations: plan.Refs(0, applied)}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// alterFailure classifies a failure of the first operation, when nothing changed.
func alterFailure(table string, plan *ddl.Plan, err error) error {
	var ce *ddl.ConversionError
	if errors.As(err, &ce) {
		attr := ce.Column
		if len(plan.Operations) > 0 {
			attr = plan.Operations[0].Attribute.Name
		}
		return types.NewValidationError(attr, "type", ddl.CodeConversion, ce.Error())
	}
	return types.Storage("alter "+table, err)
}

// plan reads the current attribute columns and builds the plan towards vs.
func (e *Engine) plan(ctx context.Context, dt *models.DocumentType, vs *schema.ValidatedSchema, req AlterRequest) (*ddl.Plan, error) {
	converters, err := resolveConverters(req)
	if err != nil {
		return nil, err
	}
	existing, err := e.existingColumns(ctx, dt)
	if err != nil {
		return nil, err
	}
	return ddl.BuildPlan(dt.PhysicalTable, vs, existing, converters)
}

func resolveConverters(req AlterRequest) (map[string]ddl.Converter, error) {
	out := make(map[string]ddl.Converter, len(req.Converters)+len(req.Conversions))
	for name, c := range req.Converters {
		out[name] = c
	}
	ve := &types.ValidationError{}
	for attr, name := range req.Conversions {
		if _, ok := out[attr]; ok {
			continue
		}
		c, ok := ddl.BuiltinConverter(name)
		if !ok {
			ve.Add(attr, "conversions", ddl.CodeConversion,
				fmt.Sprintf("unknown converter %q, expected one of %s", name, strings.Join(ddl.BuiltinConverterNames(), ", ")))
			continue
		}
		out[attr] = c
	}
	return out, ve.OrNil()
}

// existingColumns reads the table's attribute columns and pairs them with schema_form.
// Work columns left by an interrupted kind change are skipped; reconciliation repairs them.
func (e *Engine) existingColumns(ctx context.Context, dt *models.DocumentType) ([]ddl.ExistingColumn, error) {
	cols, err := e.exec.Columns(ctx, dt.PhysicalTable)
	if err != nil {
		return nil, types.Storage("read columns of "+dt.PhysicalTable, err)
	}
	byColumn := make(map[string]schema.AttributeSpec, len(dt.SchemaForm))
	for _, a := range dt.SchemaForm {
		byColumn[a.Column()] = a
	}
	out := make([]ddl.ExistingColumn, 0, len(cols))
	for _, c := range cols {
		if ddl.IsBaseColumn(c.Name) {
			continue
		}
		ex := ddl.ExistingColumn{Name: c.Name, Kind: c.Kind}
		if a, ok := byColumn[c.Name]; ok {
			attr := a
			ex.Attribute = &attr
			if !c.KnownKind {
				ex.Kind = a.Kind()
			}
		} else if ddl.IsWorkColumn(c.Name) {
			log.Printf("Skipping leftover work column %s on %s", c.Name, dt.PhysicalTable)
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

// checkUnique rejects making a column unique while stored rows repeat a value.
func (e *Engine) checkUnique(ctx context.Context, table string, plan *ddl.Plan) error {
	ve := &types.ValidationError{}
	q := e.exec.Dialect().Quote
	for _, op := range plan.Operations {
		if op.Kind != ddl.OpModifyColumn || !op.Attribute.Unique {
			continue
		}
		if op.Previous != nil && op.Previous.Unique && !op.TypeChange() {
			continue
		}
		col := q(op.From)
		rows, err := e.silent(ctx).Table(table).Select(col).
			Where(col + " IS NOT NULL").Group(col).Having("COUNT(*) > ?", 1).Limit(1).Rows()
		if err != nil {
			return types.Storage("check duplicates in "+table, err)
		}
		dup := rows.Next()
		rows.Close()
		if dup {
			ve.Add(op.Attribute.Name, "unique", "unique", "existing rows already repeat a value")
		}
	}
	return ve.OrNil()
}

func names(attrs []schema.AttributeSpec) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

func indexOf(attrs []schema.AttributeSpec, name string) int {
	for i, a := range attrs {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// shift moves attrs[idx] to order to, sliding the attributes between.
func shift(attrs []schema.AttributeSpec, idx, to int) {
	from := attrs[idx].Order
	for i := range attrs {
		if i == idx {
			continue
		}
		o := attrs[i].Order
		switch {
		case to < from && o >= to && o < from:
			attrs[i].Order++
		case to > from && o <= to && o > from:
			attrs[i].Order--
		}
	}
}
