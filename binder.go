// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/internal/ast"
	"github.com/canonical/fluentquery/internal/compile"
)

// Statement is SQL text together with its parameters in placeholder order.
type Statement = compile.Statement

// Bound is a parameter filled from a row value each time a Template is
// bound.
type Bound struct {
	param ast.Param
}

// Binder hands out the bound parameters of a template whose rows are of
// type P.
type Binder[P any] struct{}

// Get returns a parameter taking its value from the member col of P.
func (b *Binder[P]) Get(col Column) Bound {
	ref := col.columnRef()
	if ref.Err == nil && ref.Entity != typeOf[P]() {
		ref.Err = errors.Wrapf(ErrUnresolvableMember, "bound parameter %s is not a member of %s", ref, typeOf[P]().Name())
	}
	return Bound{param: ast.Param{Source: ref}}
}

// Template is a statement compiled once and executed for many rows of type
// P without being compiled again.
type Template[P any] struct {
	cacheID templateID
	tmpl    *compile.Template
}

// Prepare compiles the command returned by build. Parameters obtained from
// the Binder are filled from each row when the template is bound.
func Prepare[P any](db *DB, build func(b *Binder[P]) Command) (*Template[P], error) {
	cmd := build(&Binder[P]{})
	if cmd == nil {
		return nil, errors.New("cannot prepare template: no command")
	}
	tmpl, err := db.compiler.Compile(cmd.command())
	if err != nil {
		return nil, err
	}
	if rt := tmpl.RowType(); rt != nil && rt != typeOf[P]() {
		return nil, errors.Errorf("cannot prepare template: parameters bound from %s, not %s", rt.Name(), typeOf[P]().Name())
	}
	return &Template[P]{cacheID: newTemplateID(), tmpl: tmpl}, nil
}

// MustPrepare is the same as [Prepare] except that it panics on error.
func MustPrepare[P any](db *DB, build func(b *Binder[P]) Command) *Template[P] {
	t, err := Prepare(db, build)
	if err != nil {
		panic(err)
	}
	return t
}

// SQL returns the compiled SQL text.
func (t *Template[P]) SQL() string {
	return t.tmpl.SQL
}

// Bind returns the statement for row.
func (t *Template[P]) Bind(row P) (Statement, error) {
	if t.tmpl.RowType() == nil {
		return t.tmpl.Statement()
	}
	return t.tmpl.Bind(row)
}

// Exec binds row and runs the statement on ex. The statement is prepared on
// the owner's connection the first time and reused until the unit of work
// ends.
func (t *Template[P]) Exec(ctx context.Context, ex Executor, row P) (sql.Result, error) {
	stmt, err := t.Bind(row)
	if err != nil {
		return nil, err
	}
	return ex.execPrepared(ctx, t.cacheID, stmt)
}
