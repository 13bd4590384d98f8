// lock.go
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

package lock

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/localnerve/doctypesdb/internal/metrics"
	"github.com/localnerve/doctypesdb/internal/types"
)

// Locker is an exclusive advisory lock keyed by string.
// Each successful TryLock returns a token that must be presented to Unlock and Refresh.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
	IsLocked(ctx context.Context, key string) (bool, error)
}

// Key helpers for lifecycle locks.

// DocumentTypeName locks a document type name before it has an id.
func DocumentTypeName(name string) string {
	return "document_type:name:" + strings.ToLower(strings.TrimSpace(name))
}

// DocumentType locks a committed document type.
func DocumentType(id uint64) string {
	return fmt.Sprintf("document_type:%d", id)
}

// Table locks a physical table name.
func Table(name string) string {
	return "table:" + name
}

// UniqueValues serializes writes of unique attribute values to a table.
func UniqueValues(table string) string {
	return "unique:" + table
}

// CacheFill serializes filling and evicting one cache key.
func CacheFill(key string) string {
	return "cache_fill:" + key
}

// Reconcile is the single-writer reconciliation lock.
const Reconcile = "reconcile"

// Executor runs functions while holding a lock, refreshing it during long work.
type Executor struct {
	locker  Locker
	ttl     time.Duration
	refresh time.Duration
}

// NewExecutor creates a lock executor. refresh must be shorter than ttl.
func NewExecutor(locker Locker, ttl, refresh time.Duration) *Executor {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if refresh <= 0 || refresh >= ttl {
		refresh = ttl / 3
	}
	return &Executor{locker: locker, ttl: ttl, refresh: refresh}
}

// Locker returns the underlying locker.
func (e *Executor) Locker() Locker {
	return e.locker
}

// ExecuteWithLock runs fn while holding key. A held lock yields *types.LockContentionError.
func (e *Executor) ExecuteWithLock(ctx context.Context, key string, fn func() error) error {
	token, ok, err := e.locker.TryLock(ctx, key, e.ttl)
	if err != nil {
		return &types.FatalStorageError{Op: "lock " + key, Err: err}
	}
	if !ok {
		metrics.LockContention.Inc()
		return &types.LockContentionError{Key: key}
	}
	defer e.release(key, token)
	return fn()
}

const waitPoll = 20 * time.Millisecond

// ExecuteWithLockWait is ExecuteWithLock that retries a held lock until wait elapses.
func (e *Executor) ExecuteWithLockWait(ctx context.Context, key string, wait time.Duration, fn func() error) error {
	deadline := time.Now().Add(wait)
	for {
		token, ok, err := e.locker.TryLock(ctx, key, e.ttl)
		if err != nil {
			return &types.FatalStorageError{Op: "lock " + key, Err: err}
		}
		if ok {
			defer e.release(key, token)
			return fn()
		}
		if !time.Now().Before(deadline) {
			metrics.LockContention.Inc()
			return &types.LockContentionError{Key: key}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitPoll):
		}
	}
}

// ExecuteWithLockAndRefresh is ExecuteWithLock that keeps extending the lock until fn returns.
func (e *Executor) ExecuteWithLockAndRefresh(ctx context.Context, key string, fn func() error) error {
	token, ok, err := e.locker.TryLock(ctx, key, e.ttl)
	if err != nil {
		return &types.FatalStorageError{Op: "lock " + key, Err: err}
	}
	if !ok {
		metrics.LockContention.Inc()
		return &types.LockContentionError{Key: key}
	}
	defer e.release(key, token)

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	defer cancelRefresh()

	go func() {
		ticker := time.NewTicker(e.refresh)
		defer ticker.Stop()

		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				if refreshErr := e.locker.Refresh(refreshCtx, key, token, e.ttl); refreshErr != nil {
					log.Printf("Failed to refresh lock %s: %v", key, refreshErr)
				}
			}
		}
	}()

	return fn()
}

// release unlocks with its own context so a cancelled request still frees the lock.
func (e *Executor) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.locker.Unlock(ctx, key, token); err != nil {
		log.Printf("Failed to release lock %s: %v", key, err)
	}
}
