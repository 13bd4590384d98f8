// allocator.go
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

package naming

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

const (
	// DefaultPrefix is prepended to every managed table.
	DefaultPrefix = "dt_"
	// TrashSuffix marks a parked table. Slugs never contain "__".
	TrashSuffix = "__trashed"
	// MaxCollisions bounds the numeric suffixes tried on collision.
	MaxCollisions = 100

	hashLen = 8
)

// SystemTables are never handed out, whatever the prefix.
var SystemTables = []string{
	"document_types", "trashed_document_types", "temp_schemas", "files",
	"users", "migrations", "sessions", "password_resets",
}

// Registry reports which names are already taken.
type Registry interface {
	// TableExists reports whether a physical table with the name exists.
	TableExists(name string) (bool, error)
	// TableNameInUse reports whether any document type, trashed or not, owns the name.
	TableNameInUse(name string) (bool, error)
}

// Allocator derives physical table names from document type names.
type Allocator struct {
	prefix   string
	limit    int
	reserved map[string]struct{}
}

// NewAllocator creates an allocator for the prefix and identifier length limit.
func NewAllocator(prefix string, limit int) *Allocator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	reserved := make(map[string]struct{}, len(SystemTables))
	for _, t := range SystemTables {
		reserved[t] = struct{}{}
	}
	return &Allocator{prefix: prefix, limit: limit, reserved: reserved}
}

// Prefix returns the managed table prefix.
func (a *Allocator) Prefix() string {
	return a.prefix
}

// Slug lower-cases name and collapses every run of other characters to "_".
func Slug(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

func shortHash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// room is the longest active name that still fits once parked.
func (a *Allocator) room() int {
	return a.limit - len(TrashSuffix)
}

func (a *Allocator) fit(s string, room int) string {
	if len(s) <= room {
		return s
	}
	h := shortHash(s)
	cut := room - hashLen - 1
	if cut < len(a.prefix) {
		cut = len(a.prefix)
	}
	return strings.TrimRight(s[:cut], "_") + "_" + h
}

// Base returns the deterministic first-choice table name for a document type name.
func (a *Allocator) Base(name string) string {
	slug := Slug(name)
	if slug == "" {
		slug = "type_" + shortHash(name)
	}
	return a.fit(a.prefix+slug, a.room())
}

func (a *Allocator) candidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	suffix := fmt.Sprintf("_%d", n)
	return a.fit(base, a.room()-len(suffix)) + suffix
}

// Allocate returns the first free table name for a document type name. A name is
// taken when it is a system table, exists physically in active or parked form, or
// belongs to any document type row.
func (a *Allocator) Allocate(name string, reg Registry) (string, error) {
	base := a.Base(name)
	for n := 1; n <= MaxCollisions; n++ {
		c := a.candidate(base, n)
		taken, err := a.Taken(c, reg)
		if err != nil {
			return "", err
		}
		if !taken {
			return c, nil
		}
	}
	return "", fmt.Errorf("no free table name for %q after %d attempts", name, MaxCollisions)
}

// Taken reports whether table is unavailable for a new document type.
func (a *Allocator) Taken(table string, reg Registry) (bool, error) {
	if _, ok := a.reserved[table]; ok {
		return true, nil
	}
	for _, name := range []string{table, Parked(table)} {
		exists, err := reg.TableExists(name)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return reg.TableNameInUse(table)
}

// IsManaged reports whether table was allocated with this prefix, active or parked.
func (a *Allocator) IsManaged(table string) bool {
	return strings.HasPrefix(table, a.prefix)
}

// Parked returns the trashed form of an active table name.
func Parked(table string) string {
	return table + TrashSuffix
}

// IsParked reports whether table is in trashed form.
func IsParked(table string) bool {
	return strings.HasSuffix(table, TrashSuffix)
}

// Unpark returns the active form of a parked table name.
func Unpark(parked string) (string, bool) {
	if !IsParked(parked) {
		return parked, false
	}
	return strings.TrimSuffix(parked, TrashSuffix), true
}
