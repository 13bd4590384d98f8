package data

import (
	_ "embed"
)

//go:embed initdb/mysql/001-privileges.sql
var InitdbMySQLPrivileges string
