// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which
// records the prepared statements each test opens and closes, and counts the
// statements run directly on a connection and through a prepared statement.

// openedStmts and closedStmts are indexed by test name. Pointers are stored
// as uintptr so the tracking does not keep statements alive.
var openedStmts = map[string]map[uintptr]string{}
var closedStmts = map[string]map[uintptr]bool{}
var stmtRegistryMutex sync.RWMutex

var connQueriesRun = map[string]int{}
var stmtQueriesRun = map[string]int{}
var queriesRunMutex sync.RWMutex

const trackedDriverName = "sqlite3_tracked"

const testNameTag = "testName"

func countQuery(counts map[string]int, testName string) {
	queriesRunMutex.Lock()
	defer queriesRunMutex.Unlock()
	counts[testName]++
}

func resetTracking() {
	stmtRegistryMutex.Lock()
	closedStmts = map[string]map[uintptr]bool{}
	openedStmts = map[string]map[uintptr]string{}
	stmtRegistryMutex.Unlock()

	queriesRunMutex.Lock()
	connQueriesRun = map[string]int{}
	stmtQueriesRun = map[string]int{}
	queriesRunMutex.Unlock()
}

type trackedDriver struct {
	driver.Driver
}

type trackedConn struct {
	testName string
	*sqlite3.SQLiteConn
}

type trackedStmt struct {
	testName string
	*sqlite3.SQLiteStmt
}

func (s *trackedStmt) Close() error {
	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	if _, ok := closedStmts[s.testName]; !ok {
		closedStmts[s.testName] = map[uintptr]bool{}
	}
	closedStmts[s.testName][uintptr(unsafe.Pointer(s))] = true
	return s.SQLiteStmt.Close()
}

func (c *trackedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	ts := &trackedStmt{SQLiteStmt: sm, testName: c.testName}

	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	if _, ok := openedStmts[c.testName]; !ok {
		openedStmts[c.testName] = map[uintptr]string{}
	}
	openedStmts[c.testName][uintptr(unsafe.Pointer(ts))] = query
	return ts, nil
}

func (c *trackedConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *trackedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := c.SQLiteConn.QueryContext(ctx, query, args)
	if err == nil {
		countQuery(connQueriesRun, c.testName)
	}
	return rows, err
}

func (c *trackedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.SQLiteConn.ExecContext(ctx, query, args)
	if err == nil {
		countQuery(connQueriesRun, c.testName)
	}
	return res, err
}

func (s *trackedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := s.SQLiteStmt.QueryContext(ctx, args)
	if err == nil {
		countQuery(stmtQueriesRun, s.testName)
	}
	return rows, err
}

func (s *trackedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	res, err := s.SQLiteStmt.ExecContext(ctx, args)
	if err == nil {
		countQuery(stmtQueriesRun, s.testName)
	}
	return res, err
}

// Open expects the DSN to carry the test name in the testName parameter.
func (d *trackedDriver) Open(name string) (driver.Conn, error) {
	var testName string
	if _, params, ok := strings.Cut(name, "?"); ok {
		for _, p := range strings.Split(params, "&") {
			if v, ok := strings.CutPrefix(p, testNameTag+"="); ok {
				testName = v
			}
		}
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}

	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	sc, ok := baseConn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	return &trackedConn{SQLiteConn: sc, testName: testName}, nil
}

func init() {
	sql.Register(trackedDriverName, &trackedDriver{
		&sqlite3.SQLiteDriver{},
	})
}
