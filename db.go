// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/canonical/fluentquery/internal/compile"
	"github.com/canonical/fluentquery/internal/mapping"
)

// ConnectionProvider hands out dedicated connections. It is satisfied by
// *sql.DB.
type ConnectionProvider interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// DB compiles statements against its registered mapping conventions and
// runs them on connections scoped to owners.
type DB struct {
	registry *mapping.Registry
	compiler *compile.Compiler
	scopes   *scopes
	logger   *slog.Logger
	hook     StatementHook
	conv     ValueConverter
	cfg      Config
}

// NewDB creates a new [DB] acquiring its connections from provider.
func NewDB(provider ConnectionProvider, opts ...Option) (*DB, error) {
	if provider == nil {
		return nil, fmt.Errorf("cannot create DB: nil connection provider")
	}
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	registry := mapping.NewRegistry()
	return &DB{
		registry: registry,
		compiler: compile.New(registry, o.cfg.Dialect),
		scopes:   newScopes(provider, o.cfg.txOptions(), o.logger),
		logger:   o.logger,
		hook:     o.hook,
		conv:     o.conv,
		cfg:      o.cfg,
	}, nil
}

// Config returns the configuration of the DB.
func (db *DB) Config() Config {
	return db.cfg
}

// Register adds mapping conventions. Registering an entity again replaces
// its convention. Registration is safe while statements are running.
func (db *DB) Register(mappings ...Mapping) error {
	entities := make([]*mapping.Entity, len(mappings))
	for i, m := range mappings {
		e, err := m.entity()
		if err != nil {
			return err
		}
		entities[i] = e
	}
	if err := db.registry.Register(entities...); err != nil {
		return err
	}
	for _, e := range entities {
		db.logger.Debug("registered entity", "type", e.Type.String(), "table", e.Table, "columns", len(e.Columns))
	}
	return nil
}

// Compile renders a select or command without running it.
func (db *DB) Compile(stmt any) (Statement, error) {
	var tmpl *compile.Template
	var err error
	switch s := stmt.(type) {
	case Selector:
		tmpl, err = db.compiler.Select(s.selectNode())
	case Command:
		tmpl, err = db.compiler.Compile(s.command())
	default:
		return Statement{}, fmt.Errorf("cannot compile %T", stmt)
	}
	if err != nil {
		return Statement{}, err
	}
	return tmpl.Statement()
}

// Begin starts a unit of work for owner, or joins the one already active.
// The returned Session must be ended with [Session.End].
func (db *DB) Begin(owner Owner) (*Session, error) {
	if err := db.scopes.enter(owner); err != nil {
		return nil, err
	}
	return &Session{executor: executor{db: db, owner: owner}}, nil
}

// Run runs fn as one unit of work of owner. The unit of work is committed
// when fn returns nil and rolled back otherwise. If owner already has an
// active unit of work, fn joins it and the outermost unit decides.
func (db *DB) Run(ctx context.Context, owner Owner, fn func(ctx context.Context, ex Executor) error) error {
	return db.unit(owner, func() error {
		return fn(ctx, &Session{executor: executor{db: db, owner: owner}})
	})
}

// Transactional returns an Executor running each call as its own unit of
// work of owner.
func (db *DB) Transactional(owner Owner) *Transactional {
	return &Transactional{inner: executor{db: db, owner: owner}}
}

// unit runs fn between entering and leaving a unit of work of owner.
func (db *DB) unit(owner Owner, fn func() error) (err error) {
	if err := db.scopes.enter(owner); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			db.scopes.leave(owner, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	err = fn()
	if lerr := db.scopes.leave(owner, err); err == nil {
		err = lerr
	}
	return err
}

func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.cfg.StatementTimeout > 0 {
		return context.WithTimeout(ctx, db.cfg.StatementTimeout)
	}
	return ctx, func() {}
}

// observe logs statements slower than the configured threshold.
func (db *DB) observe(stmt Statement, start time.Time) {
	elapsed := time.Since(start)
	if db.cfg.SlowStatement > 0 && elapsed > db.cfg.SlowStatement {
		db.logger.Warn("slow statement", "sql", stmt.SQL, "duration", elapsed)
	}
}
