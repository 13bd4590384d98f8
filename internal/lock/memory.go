// memory.go
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
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld is returned when a token does not own the lock.
var ErrNotHeld = errors.New("lock is not held by this token")

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a single-process Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryLocker) live(key string) (memoryEntry, bool) {
	e, ok := m.locks[key]
	if !ok {
		return e, false
	}
	if !m.now().Before(e.expires) {
		delete(m.locks, key)
		return e, false
	}
	return e, true
}

// TryLock acquires key if it is free or expired.
func (m *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.live(key); held {
		return "", false, nil
	}
	token := uuid.NewString()
	m.locks[key] = memoryEntry{token: token, expires: m.now().Add(ttl)}
	return token, true, nil
}

// Unlock releases key if token owns it. Releasing an expired lock is not an error.
func (m *MemoryLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, held := m.live(key)
	if !held {
		return nil
	}
	if e.token != token {
		return ErrNotHeld
	}
	delete(m.locks, key)
	return nil
}

// Refresh extends key if token owns it.
func (m *MemoryLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, held := m.live(key)
	if !held || e.token != token {
		return ErrNotHeld
	}
	e.expires = m.now().Add(ttl)
	m.locks[key] = e
	return nil
}

// IsLocked reports whether key is currently held.
func (m *MemoryLocker) IsLocked(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.live(key)
	return held, nil
}
