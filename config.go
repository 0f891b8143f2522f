// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/canonical/fluentquery/dialect"
	"github.com/canonical/fluentquery/internal/materialize"
)

// Config holds the settings of a DB.
type Config struct {
	// Dialect is one of the names in package dialect.
	Dialect string `yaml:"dialect"`

	// Transactional runs each unit of work in a database transaction.
	// Otherwise statements are committed as they run.
	Transactional bool `yaml:"transactional"`

	// Isolation is the transaction isolation level, e.g. "serializable".
	// Empty uses the database default.
	Isolation string `yaml:"isolation"`
	ReadOnly  bool   `yaml:"read-only"`

	// StatementTimeout bounds each statement when non-zero.
	StatementTimeout time.Duration `yaml:"statement-timeout"`

	// Statements running longer than SlowStatement are logged as warnings.
	SlowStatement time.Duration `yaml:"slow-statement"`

	// LogLevel sets the level of the default logger.
	LogLevel string `yaml:"log-level"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Dialect:       dialect.SQLite,
		Transactional: true,
		SlowStatement: time.Second,
		LogLevel:      "info",
	}
}

// LoadConfig reads a YAML configuration. Keys that are absent keep their
// default values.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "cannot load config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every setting has a known value.
func (c Config) Validate() error {
	if err := dialect.Validate(c.Dialect); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if _, err := c.isolation(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if _, err := c.logLevel(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.StatementTimeout < 0 || c.SlowStatement < 0 {
		return errors.New("invalid config: negative duration")
	}
	return nil
}

var isolationLevels = map[string]sql.IsolationLevel{
	"":                 sql.LevelDefault,
	"default":          sql.LevelDefault,
	"read-uncommitted": sql.LevelReadUncommitted,
	"read-committed":   sql.LevelReadCommitted,
	"write-committed":  sql.LevelWriteCommitted,
	"repeatable-read":  sql.LevelRepeatableRead,
	"snapshot":         sql.LevelSnapshot,
	"serializable":     sql.LevelSerializable,
	"linearizable":     sql.LevelLinearizable,
}

func (c Config) isolation() (sql.IsolationLevel, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c.Isolation)), " ", "-")
	level, ok := isolationLevels[name]
	if !ok {
		return 0, errors.Errorf("unknown isolation level %q", c.Isolation)
	}
	return level, nil
}

func (c Config) logLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, errors.Errorf("unknown log level %q", c.LogLevel)
	}
	return level, nil
}

// txOptions returns the options of the transactions begun for each unit of
// work, or nil when the DB is not transactional.
func (c Config) txOptions() *sql.TxOptions {
	if !c.Transactional {
		return nil
	}
	level, _ := c.isolation()
	return &sql.TxOptions{Isolation: level, ReadOnly: c.ReadOnly}
}

// StatementHook is called just before each statement is sent to the
// database. Returning an error aborts the statement.
type StatementHook func(ctx context.Context, stmt Statement) error

// ValueConverter converts raw column values for fields that have no column
// converter of their own.
type ValueConverter = materialize.ValueConverter

type options struct {
	cfg    Config
	logger *slog.Logger
	hook   StatementHook
	conv   ValueConverter
}

// Option configures a DB.
type Option func(*options)

// WithConfig replaces the whole configuration. Options after it may still
// adjust single settings.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

func WithDialect(name string) Option {
	return func(o *options) {
		o.cfg.Dialect = name
	}
}

func WithTransactional(transactional bool) Option {
	return func(o *options) {
		o.cfg.Transactional = transactional
	}
}

// WithLogger sets the logger. By default a text logger on stderr at the
// configured level is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithStatementHook(hook StatementHook) Option {
	return func(o *options) {
		o.hook = hook
	}
}

func WithValueConverter(conv ValueConverter) Option {
	return func(o *options) {
		o.conv = conv
	}
}

func newOptions(opts []Option) (*options, error) {
	o := &options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		level, _ := o.cfg.logLevel()
		o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return o, nil
}
