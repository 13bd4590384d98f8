// dialect.go
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
	"strings"

	"github.com/localnerve/doctypesdb/internal/schema"
	"gorm.io/gorm"
)

// Dialect renders column DDL for one backend.
type Dialect struct {
	name            string
	identifierLimit int
	types           map[schema.ColumnKind]string
	idColumn        string
	fileIDColumn    string
	timestampType   string
	suffix          string
	quote           func(string) string
}

var dialects = map[string]Dialect{
	"mysql": {
		name:            "mysql",
		identifierLimit: 64,
		types: map[schema.ColumnKind]string{
			schema.KindString:   "VARCHAR(255)",
			schema.KindText:     "TEXT",
			schema.KindNumber:   "DOUBLE",
			schema.KindDate:     "DATE",
			schema.KindTime:     "TIME",
			schema.KindDatetime: "DATETIME",
		},
		idColumn:      "BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY",
		fileIDColumn:  "BIGINT UNSIGNED NULL",
		timestampType: "DATETIME(3)",
		suffix:        " DEFAULT CHARSET=utf8mb4",
	},
	"postgres": {
		name:            "postgres",
		identifierLimit: 63,
		types: map[schema.ColumnKind]string{
			schema.KindString:   "VARCHAR(255)",
			schema.KindText:     "TEXT",
			schema.KindNumber:   "DOUBLE PRECISION",
			schema.KindDate:     "DATE",
			schema.KindTime:     "TIME",
			schema.KindDatetime: "TIMESTAMP",
		},
		idColumn:      "BIGSERIAL PRIMARY KEY",
		fileIDColumn:  "BIGINT NULL",
		timestampType: "TIMESTAMPTZ",
	},
	"sqlite": {
		name:            "sqlite",
		identifierLimit: 64,
		types: map[schema.ColumnKind]string{
			schema.KindString:   "VARCHAR(255)",
			schema.KindText:     "TEXT",
			schema.KindNumber:   "REAL",
			schema.KindDate:     "DATE",
			schema.KindTime:     "TIME",
			schema.KindDatetime: "DATETIME",
		},
		idColumn:      "INTEGER PRIMARY KEY AUTOINCREMENT",
		fileIDColumn:  "INTEGER NULL",
		timestampType: "DATETIME",
	},
	"sqlserver": {
		name:            "sqlserver",
		identifierLimit: 128,
		types: map[schema.ColumnKind]string{
			schema.KindString:   "NVARCHAR(255)",
			schema.KindText:     "NVARCHAR(MAX)",
			schema.KindNumber:   "FLOAT",
			schema.KindDate:     "DATE",
			schema.KindTime:     "TIME",
			schema.KindDatetime: "DATETIME2",
		},
		idColumn:      "BIGINT IDENTITY(1,1) PRIMARY KEY",
		fileIDColumn:  "BIGINT NULL",
		timestampType: "DATETIME2",
	},
}

// DialectFor returns the dialect for a gorm connection, quoting with its dialector.
func DialectFor(db *gorm.DB) (Dialect, error) {
	d, err := DialectNamed(db.Dialector.Name())
	if err != nil {
		return d, err
	}
	dialector := db.Dialector
	d.quote = func(name string) string {
		var b strings.Builder
		dialector.QuoteTo(&b, name)
		return b.String()
	}
	return d, nil
}

// DialectNamed returns the dialect registered under a gorm dialector name.
func DialectNamed(name string) (Dialect, error) {
	switch name {
	case "mssql":
		name = "sqlserver"
	case "sqlite3":
		name = "sqlite"
	}
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, fmt.Errorf("unsupported database dialect: %s", name)
	}
	d.quote = d.defaultQuote
	return d, nil
}

func (d Dialect) defaultQuote(name string) string {
	switch d.name {
	case "mysql":
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case "sqlserver":
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Name returns the dialect name.
func (d Dialect) Name() string { return d.name }

// IdentifierLimit is the longest identifier the backend accepts.
func (d Dialect) IdentifierLimit() int { return d.identifierLimit }

// Quote quotes an identifier.
func (d Dialect) Quote(name string) string { return d.quote(name) }

// ColumnType returns the physical type for a column kind.
func (d Dialect) ColumnType(kind schema.ColumnKind) string {
	return d.types[kind]
}

// CreateTableSQL renders CREATE TABLE with the base columns around the attribute columns.
func (d Dialect) CreateTableSQL(table string, columns []schema.ColumnSpec) string {
	defs := make([]string, 0, len(columns)+4)
	defs = append(defs,
		d.Quote(schema.ColumnID)+" "+d.idColumn,
		d.Quote(schema.ColumnFileID)+" "+d.fileIDColumn,
	)
	for _, c := range columns {
		defs = append(defs, d.Quote(c.Column())+" "+d.ColumnType(c.Kind())+" NULL")
	}
	defs = append(defs,
		d.Quote(schema.ColumnCreatedAt)+" "+d.timestampType+" NULL",
		d.Quote(schema.ColumnUpdatedAt)+" "+d.timestampType+" NULL",
	)
	return fmt.Sprintf("CREATE TABLE %s (%s)%s", d.Quote(table), strings.Join(defs, ", "), d.suffix)
}

// AddColumnSQL renders a nullable column addition.
func (d Dialect) AddColumnSQL(table, column string, kind schema.ColumnKind) string {
	keyword := "ADD COLUMN"
	if d.name == "sqlserver" {
		keyword = "ADD"
	}
	return fmt.Sprintf("ALTER TABLE %s %s %s %s NULL", d.Quote(table), keyword, d.Quote(column), d.ColumnType(kind))
}

// DropColumnSQL renders a column drop.
func (d Dialect) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(table), d.Quote(column))
}

// RenameColumnSQL renders a column rename. MySQL requires 8.0 or later.
func (d Dialect) RenameColumnSQL(table, from, to string) string {
	if d.name == "sqlserver" {
		return fmt.Sprintf("EXEC sp_rename '%s.%s', '%s', 'COLUMN'",
			escapeLiteral(table), escapeLiteral(from), escapeLiteral(to))
	}
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.Quote(table), d.Quote(from), d.Quote(to))
}

// InsertedIDClause returns where the dialect reports a generated id:
// "returning" and "output" are statement clauses, otherwise a follow-up query.
func (d Dialect) InsertedIDClause() (position string, sql string) {
	switch d.name {
	case "postgres":
		return "returning", " RETURNING " + d.Quote(schema.ColumnID)
	case "sqlserver":
		return "output", " OUTPUT INSERTED." + d.Quote(schema.ColumnID)
	case "mysql":
		return "query", "SELECT LAST_INSERT_ID()"
	}
	return "query", "SELECT last_insert_rowid()"
}

// KindOf maps an introspected database type to a column kind.
// length is the reported character length, negative or zero when unknown.
func KindOf(databaseType string, length int64) (schema.ColumnKind, bool) {
	t := strings.ToLower(strings.TrimSpace(databaseType))
	if strings.Contains(t, "(max)") {
		return schema.KindText, true
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "varchar", "nvarchar", "character varying", "char", "nchar", "character", "string":
		if length < 0 || length > schema.StringMaxLength {
			return schema.KindText, true
		}
		return schema.KindString, true
	case "text", "tinytext", "mediumtext", "longtext", "ntext", "clob":
		return schema.KindText, true
	case "double", "double precision", "float", "float8", "float4", "real", "numeric", "decimal",
		"int", "integer", "bigint", "smallint", "int8", "int4", "bigserial":
		return schema.KindNumber, true
	case "date":
		return schema.KindDate, true
	case "time", "time without time zone", "timetz":
		return schema.KindTime, true
	case "datetime", "datetime2", "timestamp", "timestamptz", "timestamp without time zone",
		"timestamp with time zone", "smalldatetime", "datetimeoffset":
		return schema.KindDatetime, true
	}
	return "", false
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
