// store.go
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

package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/types"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Draft is an uncommitted attribute list owned by one user.
type Draft struct {
	ID         uint64                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Name       string                 `json:"name"`
	Attributes []schema.AttributeSpec `json:"schema"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Store persists drafts in temp_schemas. Drafts are not validated until committed.
type Store struct {
	db *gorm.DB
}

// NewStore creates a draft store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func checkKey(userID, name string) error {
	ve := &types.ValidationError{}
	if strings.TrimSpace(userID) == "" {
		ve.Add("", "user_id", "required", "draft owner is required")
	}
	if strings.TrimSpace(name) == "" {
		ve.Add("", "name", "required", "draft name is required")
	} else if len(name) > 255 {
		ve.Add("", "name", "max_length", "draft name must be at most 255 characters")
	}
	return ve.OrNil()
}

func fromModel(m *models.TempSchema) (*Draft, error) {
	d := &Draft{ID: m.ID, UserID: m.UserID, Name: m.Name, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
	if len(m.Schema.JSON) > 0 {
		if err := json.Unmarshal(m.Schema.JSON, &d.Attributes); err != nil {
			return nil, fmt.Errorf("draft %q: %w", m.Name, err)
		}
	}
	if d.Attributes == nil {
		d.Attributes = []schema.AttributeSpec{}
	}
	return d, nil
}

func encode(attrs []schema.AttributeSpec) (models.JSON, error) {
	if attrs == nil {
		attrs = []schema.AttributeSpec{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return models.JSON{}, err
	}
	return models.JSON{JSON: datatypes.JSON(b)}, nil
}

// mutate loads the draft under a row lock, applies fn, and writes it back.
// create controls whether a missing draft is started empty.
func (s *Store) mutate(ctx context.Context, userID, name string, create bool, fn func(attrs []schema.AttributeSpec) ([]schema.AttributeSpec, error)) (*Draft, error) {
	if err := checkKey(userID, name); err != nil {
		return nil, err
	}
	var out *Draft
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.TempSchema
		err := tx.Session(&gorm.Session{Logger: tx.Logger.LogMode(logger.Silent)}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND name = ?", userID, name).
			First(&row).Error
		found := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if !create {
				return types.ErrNotFound
			}
			found = false
			row = models.TempSchema{UserID: userID, Name: name}
		} else if err != nil {
			return err
		}

		current, err := fromModel(&row)
		if err != nil {
			return err
		}
		next, err := fn(current.Attributes)
		if err != nil {
			return err
		}
		if row.Schema, err = encode(next); err != nil {
			return err
		}

		if found {
			row.UpdatedAt = time.Now()
			err = tx.Model(&row).Updates(map[string]interface{}{"schema": row.Schema, "updated_at": row.UpdatedAt}).Error
		} else {
			err = tx.Create(&row).Error
		}
		if err != nil {
			return err
		}
		out, err = fromModel(&row)
		return err
	})
	if err != nil {
		return nil, types.Storage("save draft", err)
	}
	return out, nil
}

// Save creates or overwrites a draft.
func (s *Store) Save(ctx context.Context, userID, name string, attrs []schema.AttributeSpec) (*Draft, error) {
	return s.mutate(ctx, userID, name, true, func([]schema.AttributeSpec) ([]schema.AttributeSpec, error) {
		return attrs, nil
	})
}

// AppendAttribute adds an attribute, starting the draft if needed. An attribute with
// the same name is replaced in place.
func (s *Store) AppendAttribute(ctx context.Context, userID, name string, attr schema.AttributeSpec) (*Draft, error) {
	return s.mutate(ctx, userID, name, true, func(attrs []schema.AttributeSpec) ([]schema.AttributeSpec, error) {
		for i := range attrs {
			if attrs[i].Name == attr.Name {
				attrs[i] = attr
				return attrs, nil
			}
		}
		return append(attrs, attr), nil
	})
}

// RemoveAttribute deletes an attribute by name.
func (s *Store) RemoveAttribute(ctx context.Context, userID, name, attrName string) (*Draft, error) {
	return s.mutate(ctx, userID, name, false, func(attrs []schema.AttributeSpec) ([]schema.AttributeSpec, error) {
		for i := range attrs {
			if attrs[i].Name == attrName {
				return append(attrs[:i], attrs[i+1:]...), nil
			}
		}
		return nil, types.ErrNotFound
	})
}

// Get returns one draft.
func (s *Store) Get(ctx context.Context, userID, name string) (*Draft, error) {
	var row models.TempSchema
	err := s.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, types.Storage("get draft", err)
	}
	return fromModel(&row)
}

// List returns a user's drafts ordered by name.
func (s *Store) List(ctx context.Context, userID string) ([]Draft, error) {
	var rows []models.TempSchema
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Find(&rows).Error; err != nil {
		return nil, types.Storage("list drafts", err)
	}
	out := make([]Draft, 0, len(rows))
	for i := range rows {
		d, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// Delete removes a draft.
func (s *Store) Delete(ctx context.Context, userID, name string) error {
	return s.delete(s.db.WithContext(ctx), userID, name)
}

// DeleteTx removes a draft inside an existing transaction.
func (s *Store) DeleteTx(tx *gorm.DB, userID, name string) error {
	return s.delete(tx, userID, name)
}

func (s *Store) delete(db *gorm.DB, userID, name string) error {
	res := db.Where("user_id = ? AND name = ?", userID, name).Delete(&models.TempSchema{})
	if res.Error != nil {
		return types.Storage("delete draft", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}
