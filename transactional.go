// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"
)

// Transactional is an Executor running each call as its own unit of work. A
// call made while the owner has an active unit of work joins it instead.
type Transactional struct {
	inner executor
}

var _ Executor = (*Transactional)(nil)
var _ Executor = (*Session)(nil)

// Owner returns the owner the calls run for.
func (t *Transactional) Owner() Owner {
	return t.inner.owner
}

func (t *Transactional) unit(fn func() error) error {
	return t.inner.db.unit(t.inner.owner, fn)
}

func (t *Transactional) Query(ctx context.Context, q Selector, h RowHandler) error {
	return t.unit(func() error {
		return t.inner.Query(ctx, q, h)
	})
}

func (t *Transactional) Execute(ctx context.Context, cmd Command) (res sql.Result, err error) {
	err = t.unit(func() error {
		res, err = t.inner.Execute(ctx, cmd)
		return err
	})
	return res, err
}

func (t *Transactional) ExecuteOnConflict(ctx context.Context, ins InsertCommand, upd UpdateCommand, conflict Column) (res sql.Result, err error) {
	err = t.unit(func() error {
		res, err = t.inner.ExecuteOnConflict(ctx, ins, upd, conflict)
		return err
	})
	return res, err
}

func (t *Transactional) ExecuteOnConflictDoNothing(ctx context.Context, ins InsertCommand, conflict Column) (res sql.Result, err error) {
	err = t.unit(func() error {
		res, err = t.inner.ExecuteOnConflictDoNothing(ctx, ins, conflict)
		return err
	})
	return res, err
}

func (t *Transactional) ExecStatement(ctx context.Context, stmt Statement, keys RowHandler) (res sql.Result, err error) {
	err = t.unit(func() error {
		res, err = t.inner.ExecStatement(ctx, stmt, keys)
		return err
	})
	return res, err
}

func (t *Transactional) ExecSQL(ctx context.Context, query string, params ...any) (res sql.Result, err error) {
	err = t.unit(func() error {
		res, err = t.inner.ExecSQL(ctx, query, params...)
		return err
	})
	return res, err
}

func (t *Transactional) QuerySQL(ctx context.Context, query string, params []any, h RowHandler) error {
	return t.unit(func() error {
		return t.inner.QuerySQL(ctx, query, params, h)
	})
}

func (t *Transactional) execPrepared(ctx context.Context, id templateID, stmt Statement) (res sql.Result, err error) {
	err = t.unit(func() error {
		res, err = t.inner.execPrepared(ctx, id, stmt)
		return err
	})
	return res, err
}
