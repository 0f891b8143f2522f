// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dialect names the SQL dialects fluentquery can render.
package dialect

import (
	"fmt"
	"strconv"
)

// Dialect names, matching the database/sql driver names.
const (
	SQLite   = "sqlite3"
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Placeholder returns the n-th (1-based) parameter placeholder of the
// dialect.
func Placeholder(name string, n int) string {
	if name == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Validate returns an error for unknown dialect names.
func Validate(name string) error {
	switch name {
	case SQLite, Postgres, MySQL:
		return nil
	}
	return fmt.Errorf("unknown dialect %q", name)
}
