// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/internal/compile"
	"github.com/canonical/fluentquery/internal/materialize"
)

// Executor runs statements for one owner.
type Executor interface {
	// Query runs a select and calls h for each row until h returns false
	// or an error.
	Query(ctx context.Context, q Selector, h RowHandler) error

	// Execute runs an insert, update or delete command.
	Execute(ctx context.Context, cmd Command) (sql.Result, error)

	// ExecuteOnConflict inserts, or applies upd to the existing row when
	// the insert conflicts on the conflict column.
	ExecuteOnConflict(ctx context.Context, ins InsertCommand, upd UpdateCommand, conflict Column) (sql.Result, error)

	// ExecuteOnConflictDoNothing inserts, or leaves the existing row alone
	// when the insert conflicts on the conflict column.
	ExecuteOnConflictDoNothing(ctx context.Context, ins InsertCommand, conflict Column) (sql.Result, error)

	// ExecStatement runs a statement. When keys is not nil the statement
	// is run as a query and keys is called with each returned row, e.g.
	// for "INSERT ... RETURNING id".
	ExecStatement(ctx context.Context, stmt Statement, keys RowHandler) (sql.Result, error)

	// ExecSQL runs raw SQL.
	ExecSQL(ctx context.Context, query string, params ...any) (sql.Result, error)

	// QuerySQL runs a raw SQL query and calls h for each row.
	QuerySQL(ctx context.Context, query string, params []any, h RowHandler) error

	execPrepared(ctx context.Context, id templateID, stmt Statement) (sql.Result, error)
}

// Row is the current row of a query.
type Row struct {
	cur *materialize.Cursor
}

// Columns returns the column names of the result.
func (r *Row) Columns() []string {
	return r.cur.Columns()
}

// Decode fills the struct pointed to by dst from the row. Registered
// entities are filled through their mapping convention, any other struct
// by matching column labels against its field names or db tags.
func (r *Row) Decode(dst any) error {
	return r.cur.Decode(dst)
}

// Scan copies the columns of the row into dest as [sql.Rows.Scan] does.
func (r *Row) Scan(dest ...any) error {
	return r.cur.Scan(dest...)
}

// RowHandler is called for each row of a query. Returning false stops the
// iteration.
type RowHandler func(row *Row) (bool, error)

// executor runs statements on the connection of its owner's active unit of
// work. It neither starts nor ends units of work.
type executor struct {
	db    *DB
	owner Owner
}

func (e executor) Query(ctx context.Context, q Selector, h RowHandler) error {
	if q == nil {
		return errors.New("cannot run query: nil selector")
	}
	tmpl, err := e.db.compiler.Select(q.selectNode())
	if err != nil {
		return err
	}
	stmt, err := tmpl.Statement()
	if err != nil {
		return err
	}
	_, err = e.query(ctx, stmt, h)
	return err
}

func (e executor) Execute(ctx context.Context, cmd Command) (sql.Result, error) {
	if cmd == nil {
		return nil, errors.New("cannot execute: nil command")
	}
	tmpl, err := e.db.compiler.Compile(cmd.command())
	if err != nil {
		return nil, err
	}
	return e.execTemplate(ctx, tmpl)
}

func (e executor) ExecuteOnConflict(ctx context.Context, ins InsertCommand, upd UpdateCommand, conflict Column) (sql.Result, error) {
	if ins == nil || upd == nil || conflict == nil {
		return nil, errors.New("cannot execute upsert: missing insert, update or conflict column")
	}
	tmpl, err := e.db.compiler.Upsert(ins.insertNode(), upd.updateNode(), conflict.columnRef())
	if err != nil {
		return nil, err
	}
	return e.execTemplate(ctx, tmpl)
}

func (e executor) ExecuteOnConflictDoNothing(ctx context.Context, ins InsertCommand, conflict Column) (sql.Result, error) {
	if ins == nil || conflict == nil {
		return nil, errors.New("cannot execute upsert: missing insert or conflict column")
	}
	tmpl, err := e.db.compiler.Upsert(ins.insertNode(), nil, conflict.columnRef())
	if err != nil {
		return nil, err
	}
	return e.execTemplate(ctx, tmpl)
}

func (e executor) ExecStatement(ctx context.Context, stmt Statement, keys RowHandler) (sql.Result, error) {
	if keys == nil {
		return e.exec(ctx, 0, stmt)
	}
	n, err := e.query(ctx, stmt, keys)
	if err != nil {
		return nil, err
	}
	return keysResult(n), nil
}

func (e executor) ExecSQL(ctx context.Context, query string, params ...any) (sql.Result, error) {
	return e.exec(ctx, 0, Statement{SQL: query, Params: params})
}

func (e executor) QuerySQL(ctx context.Context, query string, params []any, h RowHandler) error {
	_, err := e.query(ctx, Statement{SQL: query, Params: params}, h)
	return err
}

func (e executor) execPrepared(ctx context.Context, id templateID, stmt Statement) (sql.Result, error) {
	return e.exec(ctx, id, stmt)
}

func (e executor) execTemplate(ctx context.Context, tmpl *compile.Template) (sql.Result, error) {
	stmt, err := tmpl.Statement()
	if err != nil {
		return nil, err
	}
	return e.exec(ctx, 0, stmt)
}

// begin readies stmt for execution and returns the connection to run it on.
func (e executor) begin(ctx context.Context, stmt Statement) (*scopedConn, Statement, error) {
	params, err := coerceParams(stmt.Params)
	if err != nil {
		return nil, stmt, err
	}
	stmt.Params = params
	c, err := e.db.scopes.conn(ctx, e.owner)
	if err != nil {
		return nil, stmt, err
	}
	if e.db.hook != nil {
		if err := e.db.hook(ctx, stmt); err != nil {
			return nil, stmt, errors.Wrap(err, "statement rejected")
		}
	}
	e.db.logger.Debug("running statement", "owner", e.owner, "sql", stmt.SQL, "params", stmt.Params)
	return c, stmt, nil
}

// failed records a driver failure against the unit of work.
func (e executor) failed(stmt Statement, err error) error {
	execErr := &ExecutionError{SQL: stmt.SQL, Err: err}
	e.db.scopes.fail(e.owner, execErr)
	e.db.logger.Debug("statement failed", "owner", e.owner, "sql", stmt.SQL, "err", err)
	return execErr
}

// exec runs stmt. A non-zero id prepares the statement once per unit of work
// and reuses it.
func (e executor) exec(ctx context.Context, id templateID, stmt Statement) (sql.Result, error) {
	c, stmt, err := e.begin(ctx, stmt)
	if err != nil {
		return nil, err
	}
	ctx, cancel := e.db.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	var res sql.Result
	if id != 0 {
		var ps *sql.Stmt
		ps, err = c.stmts.prepareStmt(ctx, c.substrate(), id, stmt.SQL)
		if err == nil {
			res, err = ps.ExecContext(ctx, stmt.Params...)
		}
	} else {
		res, err = c.substrate().ExecContext(ctx, stmt.SQL, stmt.Params...)
	}
	e.db.observe(stmt, start)
	if err != nil {
		return nil, e.failed(stmt, err)
	}
	return res, nil
}

// query runs stmt and feeds its rows to h. It returns the number of rows h
// was called with.
func (e executor) query(ctx context.Context, stmt Statement, h RowHandler) (int64, error) {
	if h == nil {
		return 0, errors.New("cannot run query: nil row handler")
	}
	c, stmt, err := e.begin(ctx, stmt)
	if err != nil {
		return 0, err
	}
	ctx, cancel := e.db.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := c.substrate().QueryContext(ctx, stmt.SQL, stmt.Params...)
	if err != nil {
		return 0, e.failed(stmt, err)
	}
	cur, err := materialize.New(rows, e.db.registry, e.db.conv)
	if err != nil {
		rows.Close()
		return 0, e.failed(stmt, err)
	}
	defer func() {
		if cerr := cur.Close(); cerr != nil {
			e.db.logger.Error("cannot close rows", "sql", stmt.SQL, "err", cerr)
		}
	}()

	var n int64
	row := &Row{cur: cur}
	for cur.Next() {
		n++
		more, err := h(row)
		if err != nil {
			return n, err
		}
		if !more {
			break
		}
	}
	if err := cur.Err(); err != nil {
		return n, e.failed(stmt, err)
	}
	e.db.observe(stmt, start)
	e.db.logger.Debug("query returned rows", "owner", e.owner, "rows", n)
	return n, nil
}

// keysResult is the result of a statement whose generated keys were read
// as rows.
type keysResult int64

func (r keysResult) LastInsertId() (int64, error) {
	return 0, errors.New("last insert id not available: generated keys were returned as rows")
}

func (r keysResult) RowsAffected() (int64, error) {
	return int64(r), nil
}

// Session is an Executor bound to a unit of work started with [DB.Begin].
type Session struct {
	executor
}

// Owner returns the owner of the session.
func (s *Session) Owner() Owner {
	return s.owner
}

// End ends the session's level of the unit of work. When it is the
// outermost level the unit of work is committed if err is nil and no
// statement failed, and rolled back otherwise.
func (s *Session) End(err error) error {
	return s.db.scopes.leave(s.owner, err)
}

// List returns all rows of q as values of its entity.
func List[E any](ctx context.Context, ex Executor, q *Query[E]) ([]E, error) {
	return ListAs[E](ctx, ex, q)
}

// ListAs returns all rows of q decoded into R, which may be any struct type
// whose field names or db tags match the selected column labels.
func ListAs[R any](ctx context.Context, ex Executor, q Selector) ([]R, error) {
	var out []R
	err := ex.Query(ctx, q, func(row *Row) (bool, error) {
		var r R
		if err := row.Decode(&r); err != nil {
			return false, err
		}
		out = append(out, r)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Single returns the first row of q, or nil if there are none.
func Single[E any](ctx context.Context, ex Executor, q *Query[E]) (*E, error) {
	var out *E
	err := ex.Query(ctx, q, func(row *Row) (bool, error) {
		var e E
		if err := row.Decode(&e); err != nil {
			return false, err
		}
		out = &e
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForEach decodes each row of q into a new R and passes it to fn until fn
// returns false or an error.
func ForEach[R any](ctx context.Context, ex Executor, q Selector, fn func(*R) (bool, error)) error {
	return ex.Query(ctx, q, func(row *Row) (bool, error) {
		r := new(R)
		if err := row.Decode(r); err != nil {
			return false, err
		}
		return fn(r)
	})
}
