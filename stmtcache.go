package fluentquery

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
)

// templateIDCount is used to generate unique template IDs.
var templateIDCount uint64

type templateID = uint64

func newTemplateID() templateID {
	return atomic.AddUint64(&templateIDCount, 1)
}

// prepareSubstrate is an object that queries can be prepared on, e.g. a
// sql.Conn or sql.Tx.
type prepareSubstrate interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// stmtCache caches the sql.Stmt objects prepared for templates on one scoped
// connection. It is indexed by template ID. The statements are closed when
// the unit of work that owns the connection ends.
//
// The mutex must be locked when accessing stmts.
type stmtCache struct {
	stmts map[templateID]*sql.Stmt
	mutex sync.RWMutex
}

func newStmtCache() *stmtCache {
	return &stmtCache{stmts: map[templateID]*sql.Stmt{}}
}

// prepareStmt returns the statement prepared for the template with the given
// ID, preparing query on ps if the cache has none yet.
func (sc *stmtCache) prepareStmt(ctx context.Context, ps prepareSubstrate, id templateID, query string) (*sql.Stmt, error) {
	sc.mutex.RLock()
	sqlstmt, ok := sc.stmts[id]
	sc.mutex.RUnlock()
	if ok {
		return sqlstmt, nil
	}

	sqlstmt, err := ps.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	// Check if a statement has been inserted by someone else since we last
	// checked.
	if alt, ok := sc.stmts[id]; ok {
		sqlstmt.Close()
		return alt, nil
	}
	sc.stmts[id] = sqlstmt
	return sqlstmt, nil
}

// len returns the number of cached statements.
func (sc *stmtCache) len() int {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return len(sc.stmts)
}

// closeAll closes and forgets every cached statement.
func (sc *stmtCache) closeAll() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	var errs []error
	for id, sqlstmt := range sc.stmts {
		if err := sqlstmt.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(sc.stmts, id)
	}
	return errors.Join(errs...)
}
