// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/internal/compile"
	"github.com/canonical/fluentquery/internal/mapping"
	"github.com/canonical/fluentquery/internal/materialize"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

var (
	// ErrUnresolvableMember is returned when an accessor or member name does
	// not identify a single mapped field.
	ErrUnresolvableMember = typeinfo.ErrUnresolvableMember
	// ErrNoMapping is returned when an entity type has not been registered.
	ErrNoMapping = mapping.ErrNoMapping
	// ErrCompile is returned for statements that cannot be rendered as SQL.
	ErrCompile = compile.ErrCompile
	// ErrConversion is returned when a result value cannot be stored in its
	// destination field.
	ErrConversion = materialize.ErrConversion
	// ErrExecution is matched by every ExecutionError.
	ErrExecution = errors.New("execution failed")

	ErrZeroOwner   = errors.New("zero owner")
	ErrNoScope     = errors.New("owner has no active unit of work")
	ErrScopeFailed = errors.New("unit of work already failed")
)

// ConversionError reports a result value that could not be converted.
type ConversionError = materialize.ConversionError

// ExecutionError is a failure reported by the database while running a
// statement. The driver error is kept as the cause.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("cannot execute %q: %s", e.SQL, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Cause returns the driver error, for use with errors.Cause.
func (e *ExecutionError) Cause() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

var mysqlConstraintErrors = map[uint16]bool{
	1062: true, // duplicate entry
	1216: true, // no parent row
	1217: true, // row is referenced
	1451: true, // row is referenced
	1452: true, // no parent row
}

// IsConstraintViolation reports whether err was caused by the database
// rejecting a statement for violating an integrity constraint.
func IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlConstraintErrors[mysqlErr.Number]
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
