// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Owner identifies one logical unit of work. All statements issued for an
// owner while its unit of work is active share one connection.
type Owner struct {
	id uuid.UUID
}

// NewOwner returns a new, unique owner.
func NewOwner() Owner {
	return Owner{id: uuid.New()}
}

// IsZero reports whether o is the zero Owner, which is never valid.
func (o Owner) IsZero() bool {
	return o.id == uuid.Nil
}

func (o Owner) String() string {
	return o.id.String()
}

// substrate is the part of a connection or transaction that statements run
// on.
type substrate interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	prepareSubstrate
}

// scopedConn is the connection held by one owner, and its transaction when
// the DB is transactional.
type scopedConn struct {
	conn  *sql.Conn
	tx    *sql.Tx
	stmts *stmtCache
}

func (c *scopedConn) substrate() substrate {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// scope is the state of one owner's unit of work. depth counts the nested
// units of work that joined it.
type scope struct {
	depth  int
	conn   *scopedConn
	failed error
}

// scopes tracks the active unit of work of each owner.
type scopes struct {
	mu       sync.Mutex
	active   map[Owner]*scope
	provider ConnectionProvider
	txOpts   *sql.TxOptions
	logger   *slog.Logger
}

func newScopes(provider ConnectionProvider, txOpts *sql.TxOptions, logger *slog.Logger) *scopes {
	return &scopes{
		active:   make(map[Owner]*scope),
		provider: provider,
		txOpts:   txOpts,
		logger:   logger,
	}
}

// enter starts a unit of work for owner, or joins the one already active.
func (ss *scopes) enter(owner Owner) error {
	if owner.IsZero() {
		return errors.WithStack(ErrZeroOwner)
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.active[owner]
	if !ok {
		s = &scope{}
		ss.active[owner] = s
	}
	s.depth++
	return nil
}

// conn returns the connection of owner's active unit of work, acquiring it
// on first use. The provider is called without holding the lock.
func (ss *scopes) conn(ctx context.Context, owner Owner) (*scopedConn, error) {
	ss.mu.Lock()
	s, ok := ss.active[owner]
	if !ok {
		ss.mu.Unlock()
		return nil, errors.Wrapf(ErrNoScope, "owner %s", owner)
	}
	if s.failed != nil {
		ss.mu.Unlock()
		return nil, errors.Wrap(ErrScopeFailed, s.failed.Error())
	}
	if s.conn != nil {
		c := s.conn
		ss.mu.Unlock()
		return c, nil
	}
	ss.mu.Unlock()

	// The connection outlives the statement that acquired it.
	ctx = context.WithoutCancel(ctx)
	c, err := ss.acquire(ctx)
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	cur, ok := ss.active[owner]
	switch {
	case !ok || cur != s:
		ss.mu.Unlock()
		ss.finish(c, errors.New("unit of work ended"))
		return nil, errors.Wrapf(ErrNoScope, "owner %s", owner)
	case s.conn != nil:
		existing := s.conn
		ss.mu.Unlock()
		ss.finish(c, errors.New("connection already acquired"))
		return existing, nil
	}
	s.conn = c
	ss.mu.Unlock()
	return c, nil
}

func (ss *scopes) acquire(ctx context.Context) (*scopedConn, error) {
	conn, err := ss.provider.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot acquire connection")
	}
	c := &scopedConn{conn: conn, stmts: newStmtCache()}
	if ss.txOpts != nil {
		tx, err := conn.BeginTx(ctx, ss.txOpts)
		if err != nil {
			if cerr := conn.Close(); cerr != nil {
				ss.logger.Error("cannot close connection", "err", cerr)
			}
			return nil, errors.Wrap(err, "cannot begin transaction")
		}
		c.tx = tx
	}
	return c, nil
}

// fail records that a statement of owner's unit of work failed, so that it
// is rolled back when it ends. Without a transaction there is nothing to roll
// back and the connection stays usable.
func (ss *scopes) fail(owner Owner, err error) {
	if ss.txOpts == nil {
		return
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if s, ok := ss.active[owner]; ok && s.failed == nil {
		s.failed = err
	}
}

// leave ends one level of owner's unit of work. Leaving the outermost level
// commits, or rolls back when failure is non-nil or a statement failed, and
// releases the connection. Leaving an owner without an active unit of work
// is a no-op. The returned error is the commit failure, or the failure
// recorded by a nested level when failure is nil. Failures are only recorded
// for transactional units of work.
func (ss *scopes) leave(owner Owner, failure error) error {
	ss.mu.Lock()
	s, ok := ss.active[owner]
	if !ok {
		ss.mu.Unlock()
		return nil
	}
	if failure != nil && s.failed == nil && ss.txOpts != nil {
		s.failed = failure
	}
	s.depth--
	if s.depth > 0 {
		ss.mu.Unlock()
		return nil
	}
	ss.mu.Unlock()

	c := ss.detach(owner, s)
	var err error
	if c != nil {
		err = ss.finish(c, s.failed)
	}
	if failure == nil && s.failed != nil {
		return s.failed
	}
	return err
}

// detach removes s from owner and returns its connection. It returns nil
// and leaves everything in place if owner does not hold s.
func (ss *scopes) detach(owner Owner, s *scope) *scopedConn {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if cur, ok := ss.active[owner]; !ok || cur != s {
		return nil
	}
	delete(ss.active, owner)
	return s.conn
}

// finish closes the cached statements, commits or rolls back, then closes
// the connection. Only a commit failure is returned; other failures are
// logged.
func (ss *scopes) finish(c *scopedConn, failed error) error {
	if err := c.stmts.closeAll(); err != nil {
		ss.logger.Error("cannot close prepared statements", "err", err)
	}
	var err error
	if c.tx != nil {
		if failed != nil {
			if rerr := c.tx.Rollback(); rerr != nil {
				ss.logger.Error("cannot roll back transaction", "err", rerr, "cause", failed)
			} else {
				ss.logger.Debug("rolled back transaction", "cause", failed)
			}
		} else if cerr := c.tx.Commit(); cerr != nil {
			err = errors.Wrap(cerr, "cannot commit transaction")
		}
	}
	if cerr := c.conn.Close(); cerr != nil {
		ss.logger.Error("cannot close connection", "err", cerr)
	}
	return err
}
