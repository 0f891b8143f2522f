// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	gc "gopkg.in/check.v1"
)

type ScopeSuite struct {
	sqldb *sql.DB
	mock  sqlmock.Sqlmock
}

var _ = gc.Suite(&ScopeSuite{})

type mockItem struct {
	ID   int
	Name string
}

func (s *ScopeSuite) SetUpTest(c *gc.C) {
	var err error
	s.sqldb, s.mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	c.Assert(err, gc.IsNil)
}

func (s *ScopeSuite) TearDownTest(c *gc.C) {
	s.sqldb.Close()
}

func (s *ScopeSuite) newDB(c *gc.C, opts ...Option) *DB {
	db, err := NewDB(s.sqldb, append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)...)
	c.Assert(err, gc.IsNil)
	c.Assert(db.Register(AutoMap[mockItem]("item")), gc.IsNil)
	return db
}

func (s *ScopeSuite) checkExpectations(c *gc.C) {
	c.Check(s.mock.ExpectationsWereMet(), gc.IsNil)
}

func (s *ScopeSuite) TestRunCommits(c *gc.C) {
	db := s.newDB(c)
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM item").WillReturnResult(sqlmock.NewResult(0, 3))
	s.mock.ExpectCommit()

	err := db.Run(context.Background(), NewOwner(), func(ctx context.Context, ex Executor) error {
		res, err := ex.Execute(ctx, NewDelete[mockItem]())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		c.Check(n, gc.Equals, int64(3))
		return err
	})
	c.Assert(err, gc.IsNil)
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestRunRollsBackOnDriverError(c *gc.C) {
	db := s.newDB(c)
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM item").WillReturnError(errors.New("locked"))
	s.mock.ExpectRollback()

	err := db.Run(context.Background(), NewOwner(), func(ctx context.Context, ex Executor) error {
		_, err := ex.Execute(ctx, NewDelete[mockItem]())
		return err
	})
	c.Check(errors.Is(err, ErrExecution), gc.Equals, true)
	c.Check(err, gc.ErrorMatches, `cannot execute "DELETE FROM item": locked`)
	c.Check(IsConstraintViolation(err), gc.Equals, false)
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestRunReportsCommitFailure(c *gc.C) {
	db := s.newDB(c)
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM item").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	err := db.Run(context.Background(), NewOwner(), func(ctx context.Context, ex Executor) error {
		_, err := ex.Execute(ctx, NewDelete[mockItem]())
		return err
	})
	c.Check(err, gc.ErrorMatches, "cannot commit transaction: disk full")
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestRunWithoutStatementsUsesNoConnection(c *gc.C) {
	db := s.newDB(c)

	err := db.Run(context.Background(), NewOwner(), func(context.Context, Executor) error {
		return nil
	})
	c.Assert(err, gc.IsNil)
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestNonTransactionalRunHasNoTransaction(c *gc.C) {
	db := s.newDB(c, WithTransactional(false))
	s.mock.ExpectExec("DELETE FROM item").WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.Run(context.Background(), NewOwner(), func(ctx context.Context, ex Executor) error {
		_, err := ex.Execute(ctx, NewDelete[mockItem]())
		return err
	})
	c.Assert(err, gc.IsNil)
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestNonTransactionalFailureNotRecorded(c *gc.C) {
	db := s.newDB(c, WithTransactional(false))
	s.mock.ExpectExec("DELETE FROM item").WillReturnError(errors.New("locked"))
	s.mock.ExpectExec("DELETE FROM item").WillReturnResult(sqlmock.NewResult(0, 2))

	err := db.Run(context.Background(), NewOwner(), func(ctx context.Context, ex Executor) error {
		_, err := ex.Execute(ctx, NewDelete[mockItem]())
		c.Check(errors.Is(err, ErrExecution), gc.Equals, true)
		_, err = ex.Execute(ctx, NewDelete[mockItem]())
		return err
	})
	c.Assert(err, gc.IsNil)
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestTemplateStatementClosedWithUnitOfWork(c *gc.C) {
	db := s.newDB(c)
	name := MustResolve(func(i *mockItem) *string { return &i.Name })
	id := MustResolve(func(i *mockItem) *int { return &i.ID })
	update := MustPrepare(db, func(b *Binder[mockItem]) Command {
		return NewUpdate[mockItem]().Value(name).Set(b.Get(name)).Where(id).Eq(b.Get(id))
	})
	c.Assert(update.SQL(), gc.Equals, "UPDATE item SET name = ? WHERE id = ?")

	s.mock.ExpectBegin()
	prep := s.mock.ExpectPrepare("UPDATE item SET name = ? WHERE id = ?")
	prep.ExpectExec().WithArgs("a", 1).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("b", 2).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.WillBeClosed()
	s.mock.ExpectCommit()

	owner := NewOwner()
	err := db.Run(context.Background(), owner, func(ctx context.Context, ex Executor) error {
		for _, item := range []mockItem{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}} {
			if _, err := update.Exec(ctx, ex, item); err != nil {
				return err
			}
		}
		c.Check(CachedStmts(db, owner), gc.Equals, 1)
		return nil
	})
	c.Assert(err, gc.IsNil)
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestStatementTimeout(c *gc.C) {
	cfg := DefaultConfig()
	cfg.StatementTimeout = 10 * time.Millisecond
	db := s.newDB(c, WithConfig(cfg))
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM item").WillDelayFor(time.Second).WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectRollback()

	_, err := db.Transactional(NewOwner()).Execute(context.Background(), NewDelete[mockItem]())
	c.Check(errors.Is(err, ErrExecution), gc.Equals, true)
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestQueryDecodesRows(c *gc.C) {
	db := s.newDB(c)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery("SELECT e0.id, e0.name FROM item e0").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "a").AddRow(2, nil))
	s.mock.ExpectCommit()

	items, err := List(context.Background(), db.Transactional(NewOwner()), NewQuery[mockItem]())
	c.Assert(err, gc.IsNil)
	c.Check(items, gc.DeepEquals, []mockItem{{ID: 1, Name: "a"}, {ID: 2}})
	s.checkExpectations(c)
}

func (s *ScopeSuite) TestLeaveDetachesOnlyOwnScope(c *gc.C) {
	ss := newScopes(s.sqldb, nil, slog.New(slog.DiscardHandler))
	a, b := NewOwner(), NewOwner()
	c.Assert(ss.enter(a), gc.IsNil)
	c.Assert(ss.enter(b), gc.IsNil)

	// A scope is only detached by its own owner.
	c.Check(ss.detach(b, ss.active[a]), gc.IsNil)
	c.Check(ss.active, gc.HasLen, 2)

	c.Assert(ss.leave(a, nil), gc.IsNil)
	c.Check(ss.active, gc.HasLen, 1)
	_, ok := ss.active[b]
	c.Check(ok, gc.Equals, true)

	// Leaving an owner without a unit of work does nothing.
	c.Assert(ss.leave(a, nil), gc.IsNil)
	c.Assert(ss.leave(b, nil), gc.IsNil)
	c.Check(ss.active, gc.HasLen, 0)
}

func (s *ScopeSuite) TestConnWithoutScope(c *gc.C) {
	ss := newScopes(s.sqldb, nil, slog.New(slog.DiscardHandler))
	_, err := ss.conn(context.Background(), NewOwner())
	c.Check(errors.Is(err, ErrNoScope), gc.Equals, true)
	c.Check(errors.Is(ss.enter(Owner{}), ErrZeroOwner), gc.Equals, true)
}

func (s *ScopeSuite) TestKeysResult(c *gc.C) {
	var res sql.Result = keysResult(2)
	n, err := res.RowsAffected()
	c.Assert(err, gc.IsNil)
	c.Check(n, gc.Equals, int64(2))
	_, err = res.LastInsertId()
	c.Check(err, gc.NotNil)
}
