// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	gc "gopkg.in/check.v1"
)

type StmtCacheSuite struct{}

var _ = gc.Suite(&StmtCacheSuite{})

type cacheItem struct {
	ID   int
	Name string
}

func (s *StmtCacheSuite) TearDownTest(c *gc.C) {
	// Check every test finishes cleanly.
	s.checkDriverStmtsAllClosed(c)
}

func (s *StmtCacheSuite) TearDownSuite(_ *gc.C) {
	resetTracking()
}

func (s *StmtCacheSuite) TestTemplateStatementReuse(c *gc.C) {
	db, sqldb := s.openDB(c)
	defer sqldb.Close()

	name := MustResolve(func(i *cacheItem) *string { return &i.Name })
	id := MustResolve(func(i *cacheItem) *int { return &i.ID })
	insert := MustPrepare(db, func(b *Binder[cacheItem]) Command {
		return NewInsert[cacheItem]().
			Value(id).Set(b.Get(id)).
			Value(name).Set(b.Get(name))
	})
	c.Check(insert.SQL(), gc.Equals, "INSERT INTO item (id, name) VALUES (?, ?)")

	owner := NewOwner()
	err := db.Run(context.Background(), owner, func(ctx context.Context, ex Executor) error {
		for i := 1; i <= 3; i++ {
			if _, err := insert.Exec(ctx, ex, cacheItem{ID: i, Name: "n"}); err != nil {
				return err
			}
		}
		// The statement is prepared once for the unit of work.
		s.checkDriverStmtsOpened(c, 1)
		return nil
	})
	c.Assert(err, gc.IsNil)

	s.checkQueriesRunOnStmt(c, 3)
	s.checkDriverStmtsAllClosed(c)
	s.checkRowCount(c, sqldb, 3)
}

func (s *StmtCacheSuite) TestTemplatePreparedPerUnitOfWork(c *gc.C) {
	db, sqldb := s.openDB(c)
	defer sqldb.Close()

	id := MustResolve(func(i *cacheItem) *int { return &i.ID })
	insert := MustPrepare(db, func(b *Binder[cacheItem]) Command {
		return NewInsert[cacheItem]().Value(id).Set(b.Get(id))
	})

	tx := db.Transactional(NewOwner())
	for i := 1; i <= 2; i++ {
		_, err := insert.Exec(context.Background(), tx, cacheItem{ID: i})
		c.Assert(err, gc.IsNil)
	}

	// Each call was its own unit of work with its own connection.
	s.checkDriverStmtsOpened(c, 2)
	s.checkQueriesRunOnStmt(c, 2)
	s.checkRowCount(c, sqldb, 2)
}

func (s *StmtCacheSuite) TestStatementsClosedOnRollback(c *gc.C) {
	db, sqldb := s.openDB(c)
	defer sqldb.Close()

	id := MustResolve(func(i *cacheItem) *int { return &i.ID })
	insert := MustPrepare(db, func(b *Binder[cacheItem]) Command {
		return NewInsert[cacheItem]().Value(id).Set(b.Get(id))
	})

	failure := errors.New("abort")
	err := db.Run(context.Background(), NewOwner(), func(ctx context.Context, ex Executor) error {
		if _, err := insert.Exec(ctx, ex, cacheItem{ID: 1}); err != nil {
			return err
		}
		return failure
	})
	c.Assert(errors.Is(err, failure), gc.Equals, true)

	s.checkDriverStmtsOpened(c, 1)
	s.checkDriverStmtsAllClosed(c)
	s.checkRowCount(c, sqldb, 0)
}

func (s *StmtCacheSuite) TestNonTransactionalPreparesOnConn(c *gc.C) {
	db, sqldb := s.openDB(c, WithTransactional(false))
	defer sqldb.Close()

	id := MustResolve(func(i *cacheItem) *int { return &i.ID })
	insert := MustPrepare(db, func(b *Binder[cacheItem]) Command {
		return NewInsert[cacheItem]().Value(id).Set(b.Get(id))
	})

	failure := errors.New("abort")
	err := db.Run(context.Background(), NewOwner(), func(ctx context.Context, ex Executor) error {
		for i := 1; i <= 2; i++ {
			if _, err := insert.Exec(ctx, ex, cacheItem{ID: i}); err != nil {
				return err
			}
		}
		return failure
	})
	c.Assert(errors.Is(err, failure), gc.Equals, true)

	s.checkDriverStmtsOpened(c, 1)
	s.checkQueriesRunOnStmt(c, 2)
	// Without a transaction there is nothing to roll back.
	s.checkRowCount(c, sqldb, 2)
}

func (s *StmtCacheSuite) TestRawStatementsNotPrepared(c *gc.C) {
	db, sqldb := s.openDB(c)
	defer sqldb.Close()

	_, err := db.Transactional(NewOwner()).ExecSQL(context.Background(), "INSERT INTO item (id, name) VALUES (?, ?)", 1, "a")
	c.Assert(err, gc.IsNil)

	s.checkDriverStmtsOpened(c, 0)
	s.checkQueriesRunOnStmt(c, 0)
}

func (s *StmtCacheSuite) TestConcurrentPrepare(c *gc.C) {
	_, sqldb := s.openDB(c)
	defer sqldb.Close()

	conn, err := sqldb.Conn(context.Background())
	c.Assert(err, gc.IsNil)
	defer conn.Close()

	cache := newStmtCache()
	id := newTemplateID()
	var eg errgroup.Group
	for i := 0; i < 8; i++ {
		eg.Go(func() error {
			_, err := cache.prepareStmt(context.Background(), conn, id, "SELECT name FROM item")
			return err
		})
	}
	c.Assert(eg.Wait(), gc.IsNil)
	c.Check(cache.len(), gc.Equals, 1)

	c.Assert(cache.closeAll(), gc.IsNil)
	c.Check(cache.len(), gc.Equals, 0)
}

func (s *StmtCacheSuite) openDB(c *gc.C, opts ...Option) (*DB, *sql.DB) {
	dsn := "file:" + filepath.Join(c.MkDir(), "cache.db") + "?_busy_timeout=5000&" + testNameTag + "=" + c.TestName()
	sqldb, err := sql.Open(trackedDriverName, dsn)
	c.Assert(err, gc.IsNil)
	_, err = sqldb.Exec(`CREATE TABLE item (id INTEGER PRIMARY KEY, name TEXT)`)
	c.Assert(err, gc.IsNil)

	db, err := NewDB(sqldb, opts...)
	c.Assert(err, gc.IsNil)
	c.Assert(db.Register(AutoMap[cacheItem]("item")), gc.IsNil)
	return db, sqldb
}

func (s *StmtCacheSuite) checkRowCount(c *gc.C, sqldb *sql.DB, n int) {
	var count int
	c.Assert(sqldb.QueryRow(`SELECT COUNT(*) FROM item`).Scan(&count), gc.IsNil)
	c.Check(count, gc.Equals, n)
}

func (s *StmtCacheSuite) checkDriverStmtsAllClosed(c *gc.C) {
	stmtRegistryMutex.RLock()
	defer stmtRegistryMutex.RUnlock()
	c.Check(len(openedStmts[c.TestName()]), gc.Equals, len(closedStmts[c.TestName()]))
}

func (s *StmtCacheSuite) checkDriverStmtsOpened(c *gc.C, n int) {
	stmtRegistryMutex.RLock()
	defer stmtRegistryMutex.RUnlock()
	c.Check(openedStmts[c.TestName()], gc.HasLen, n)
}

func (s *StmtCacheSuite) checkQueriesRunOnStmt(c *gc.C, n int) {
	queriesRunMutex.RLock()
	defer queriesRunMutex.RUnlock()
	c.Check(stmtQueriesRun[c.TestName()], gc.Equals, n)
}
