// error.go
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

package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a document type, draft or row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a lifecycle operation is not allowed from the current state.
	ErrInvalidState = errors.New("invalid lifecycle state")
)

// CustomError is the error shape returned to HTTP consumers.
type CustomError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("%d: %s [type: %s]", e.Code, e.Message, e.Type)
}

// FieldError is one validation problem.
type FieldError struct {
	Attribute string `json:"attribute,omitempty"`
	Field     string `json:"field,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ValidationError collects every problem found in an input. Nothing was changed.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Attribute != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Attribute, fe.Message))
		} else {
			msgs = append(msgs, fe.Message)
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Add appends a new field error.
func (e *ValidationError) Add(attribute, field, code, message string) {
	e.Errors = append(e.Errors, FieldError{
		Attribute: attribute,
		Field:     field,
		Code:      code,
		Message:   message,
	})
}

// Has reports whether an error with the given code was recorded.
func (e *ValidationError) Has(code string) bool {
	for _, fe := range e.Errors {
		if fe.Code == code {
			return true
		}
	}
	return false
}

// OrNil returns nil when no errors were recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds a single-entry ValidationError.
func NewValidationError(attribute, field, code, message string) *ValidationError {
	ve := &ValidationError{}
	ve.Add(attribute, field, code, message)
	return ve
}

// NamingConflictError is a table or document type name collision on create or restore.
type NamingConflictError struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

func (e *NamingConflictError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("naming conflict on %s %q: %s", e.Kind, e.Name, e.Detail)
	}
	return fmt.Sprintf("naming conflict on %s %q", e.Kind, e.Name)
}

// SchemaDriftError reports metadata that references physical structure that is not there.
type SchemaDriftError struct {
	Table   string   `json:"table"`
	Missing []string `json:"missing,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

func (e *SchemaDriftError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema drift on %s: missing columns %s", e.Table, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema drift on %s: %s", e.Table, e.Detail)
}

// OperationRef names one planned column operation.
type OperationRef struct {
	Op     string `json:"op"`
	Column string `json:"column"`
	Detail string `json:"detail,omitempty"`
}

func (r OperationRef) String() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s(%s: %s)", r.Op, r.Column, r.Detail)
	}
	return fmt.Sprintf("%s(%s)", r.Op, r.Column)
}

// PartialApplyError means only a prefix of an alter plan was applied.
// Metadata has been updated to match the applied prefix.
type PartialApplyError struct {
	Table     string         `json:"table"`
	Applied   []OperationRef `json:"applied"`
	Unapplied []OperationRef `json:"unapplied"`
	Err       error          `json:"-"`
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("alter of %s applied %d of %d operations: %v",
		e.Table, len(e.Applied), len(e.Applied)+len(e.Unapplied), e.Err)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }

// LockContentionError means another lifecycle operation holds the lock. Retry with backoff.
type LockContentionError struct {
	Key string `json:"key"`
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("lifecycle operation already in progress for %s", e.Key)
}

// FatalStorageError wraps an underlying storage failure.
// Inconsistent is set when DDL succeeded but the metadata write did not.
type FatalStorageError struct {
	Op           string `json:"op"`
	Err          error  `json:"-"`
	Inconsistent bool   `json:"inconsistent"`
}

func (e *FatalStorageError) Error() string {
	if e.Inconsistent {
		return fmt.Sprintf("storage failure during %s after structural change (reconciliation required): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *FatalStorageError) Unwrap() error { return e.Err }

// Storage wraps err as a FatalStorageError unless it already carries a typed engine error.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsEngineError(err) {
		return err
	}
	return &FatalStorageError{Op: op, Err: err}
}

// IsEngineError reports whether err is, or wraps, one of the engine's typed errors.
func IsEngineError(err error) bool {
	var (
		ve *ValidationError
		ne *NamingConflictError
		de *SchemaDriftError
		pe *PartialApplyError
		le *LockContentionError
		fe *FatalStorageError
	)
	return errors.As(err, &ve) || errors.As(err, &ne) || errors.As(err, &de) ||
		errors.As(err, &pe) || errors.As(err, &le) || errors.As(err, &fe) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState)
}

// ChangeState describes what an operation left behind when it failed.
type ChangeState string

const (
	ChangeNone         ChangeState = "none"
	ChangePartial      ChangeState = "partial"
	ChangeInconsistent ChangeState = "inconsistent"
)

// ChangeStateOf classifies the effect of a failed operation.
func ChangeStateOf(err error) ChangeState {
	var pe *PartialApplyError
	if errors.As(err, &pe) {
		return ChangePartial
	}
	var fe *FatalStorageError
	if errors.As(err, &fe) && fe.Inconsistent {
		return ChangeInconsistent
	}
	return ChangeNone
}
