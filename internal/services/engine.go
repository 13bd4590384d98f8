// engine.go
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
	"log"
	"strings"
	"time"

	"github.com/localnerve/doctypesdb/internal/cache"
	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/drafts"
	"github.com/localnerve/doctypesdb/internal/lock"
	"github.com/localnerve/doctypesdb/internal/models"
	"github.com/localnerve/doctypesdb/internal/naming"
	"github.com/localnerve/doctypesdb/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options configures an Engine. Zero values select in-process lock and cache.
type Options struct {
	TablePrefix     string
	IdentifierLimit int
	Locker          lock.Locker
	LockTTL         time.Duration
	LockRefresh     time.Duration
	Cache           cache.Store
	CacheTTL        time.Duration
}

// Engine orchestrates the document type lifecycle: every structural change runs
// DDL first and records metadata second, under a per-document-type lock.
type Engine struct {
	db        *gorm.DB
	exec      *ddl.Executor
	allocator *naming.Allocator
	locks     *lock.Executor
	cache     cache.Store
	cacheTTL  time.Duration
	drafts    *drafts.Store
	trash     *TrashRegistry
}

// NewEngine creates a lifecycle engine over db.
func NewEngine(db *gorm.DB, opts Options) (*Engine, error) {
	exec, err := ddl.NewExecutor(db)
	if err != nil {
		return nil, err
	}
	limit := opts.IdentifierLimit
	if limit <= 0 {
		limit = exec.Dialect().IdentifierLimit()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewMemoryLocker()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemoryStore()
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	return &Engine{
		db:        db,
		exec:      exec,
		allocator: naming.NewAllocator(opts.TablePrefix, limit),
		locks:     lock.NewExecutor(opts.Locker, opts.LockTTL, opts.LockRefresh),
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		drafts:    drafts.NewStore(db),
		trash:     NewTrashRegistry(db),
	}, nil
}

// Drafts returns the draft store.
func (e *Engine) Drafts() *drafts.Store { return e.drafts }

// TrashRegistry returns the trash registry.
func (e *Engine) TrashRegistry() *TrashRegistry { return e.trash }

// Executor returns the DDL executor.
func (e *Engine) Executor() *ddl.Executor { return e.exec }

// Allocator returns the table name allocator.
func (e *Engine) Allocator() *naming.Allocator { return e.allocator }

func (e *Engine) silent(ctx context.Context) *gorm.DB {
	return e.db.Session(&gorm.Session{Logger: e.db.Logger.LogMode(logger.Silent)}).WithContext(ctx)
}

// withLocks holds every key, in order, for the duration of fn.
func (e *Engine) withLocks(ctx context.Context, keys []string, fn func() error) error {
	if len(keys) == 0 {
		return fn()
	}
	return e.locks.ExecuteWithLockAndRefresh(ctx, keys[0], func() error {
		return e.withLocks(ctx, keys[1:], fn)
	})
}

// Cache fills and evictions of a key hold its fill lock. A reader that loaded a
// record just before a mutation committed finishes its Set before the mutation's
// eviction can run, so the stale value never outlives the mutation.
const (
	fillTTL   = 5 * time.Second
	evictWait = 2 * time.Second
	evictPoll = 10 * time.Millisecond
)

// invalidate drops the cache keys the engine owns for a document type.
// It must run after the mutation has committed.
func (e *Engine) invalidate(ctx context.Context, id uint64, tables ...string) {
	keys := []string{cache.ActiveDocumentTypes}
	if id != 0 {
		keys = append(keys, cache.DocumentType(id))
	}
	for _, t := range tables {
		if t != "" {
			keys = append(keys, cache.Columns(t))
		}
	}
	for _, key := range keys {
		e.evict(ctx, key)
	}
}

// evict deletes key once no fill of it is in flight.
func (e *Engine) evict(ctx context.Context, key string) {
	locker := e.locks.Locker()
	fill := lock.CacheFill(key)
	deadline := time.Now().Add(evictWait)
	for {
		token, ok, err := locker.TryLock(ctx, fill, fillTTL)
		if err == nil && ok {
			if err := e.cache.Delete(ctx, key); err != nil {
				log.Printf("Failed to invalidate cache key %s: %v", key, err)
			}
			if err := locker.Unlock(ctx, fill, token); err != nil {
				log.Printf("Failed to release lock %s: %v", fill, err)
			}
			return
		}
		if err != nil || time.Now().After(deadline) || ctx.Err() != nil {
			log.Printf("Evicting cache key %s without its fill lock: %v", key, err)
			if err := e.cache.Delete(context.Background(), key); err != nil {
				log.Printf("Failed to invalidate cache key %s: %v", key, err)
			}
			return
		}
		time.Sleep(evictPoll)
	}
}

// readThrough returns key from the cache into dest, or runs load (which fills dest)
// and caches the result. When another fill or an eviction holds the key, the
// loaded value is returned without caching.
func (e *Engine) readThrough(ctx context.Context, key string, dest interface{}, load func() error) error {
	if ok, err := e.cache.Get(ctx, key, dest); err != nil {
		log.Printf("Cache read failed for %s: %v", key, err)
	} else if ok {
		return nil
	}

	locker := e.locks.Locker()
	fill := lock.CacheFill(key)
	token, ok, err := locker.TryLock(ctx, fill, fillTTL)
	if err != nil {
		log.Printf("Failed to take lock %s: %v", fill, err)
	}
	if err != nil || !ok {
		return load()
	}
	defer func() {
		if err := locker.Unlock(context.Background(), fill, token); err != nil {
			log.Printf("Failed to release lock %s: %v", fill, err)
		}
	}()

	if err := load(); err != nil {
		return err
	}
	if err := e.cache.Set(ctx, key, dest, e.cacheTTL); err != nil {
		log.Printf("Cache write failed for %s: %v", key, err)
	}
	return nil
}

// load reads a document type, trashed or not, bypassing the cache.
func (e *Engine) load(ctx context.Context, id uint64) (*models.DocumentType, error) {
	var dt models.DocumentType
	err := e.silent(ctx).Unscoped().First(&dt, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, types.Storage("load document type", err)
	}
	return &dt, nil
}

// loadActive reads an active document type, bypassing the cache.
func (e *Engine) loadActive(ctx context.Context, id uint64) (*models.DocumentType, error) {
	dt, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !dt.IsActive {
		return nil, types.ErrInvalidState
	}
	return dt, nil
}

// activeNameTaken reports whether another active document type uses name.
func (e *Engine) activeNameTaken(ctx context.Context, name string, exclude uint64) (bool, error) {
	var n int64
	q := e.silent(ctx).Model(&models.DocumentType{}).
		Where("LOWER(name) = ? AND is_active = ?", strings.ToLower(name), true)
	if exclude != 0 {
		q = q.Where("id <> ?", exclude)
	}
	if err := q.Count(&n).Error; err != nil {
		return false, types.Storage("check document type name", err)
	}
	return n > 0, nil
}

// registry answers naming questions against the live database.
type registry struct {
	ctx context.Context
	e   *Engine
}

func (r registry) TableExists(name string) (bool, error) {
	return r.e.exec.TableExists(r.ctx, name)
}

func (r registry) TableNameInUse(name string) (bool, error) {
	var n int64
	err := r.e.silent(r.ctx).Unscoped().Model(&models.DocumentType{}).
		Where("table_name = ?", name).Count(&n).Error
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	err = r.e.silent(r.ctx).Model(&models.TrashedDocumentType{}).
		Where("original_table_name = ? OR trashed_table_name = ?", name, name).Count(&n).Error
	return n > 0, err
}

func checkName(name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return types.NewValidationError("", "name", "required", "document type name is required")
	case len(name) > 255:
		return types.NewValidationError("", "name", "max_length", "document type name must be at most 255 characters")
	}
	return nil
}

// merge appends err's field errors to ve and reports whether err was a validation error.
func merge(ve *types.ValidationError, err error) bool {
	var other *types.ValidationError
	if !errors.As(err, &other) {
		return false
	}
	ve.Errors = append(ve.Errors, other.Errors...)
	return true
}
