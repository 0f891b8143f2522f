package fluentquery

import (
	"database/sql"
	"strings"
	"time"

	gc "gopkg.in/check.v1"
)

type ConfigSuite struct{}

var _ = gc.Suite(&ConfigSuite{})

func (s *ConfigSuite) TestLoadConfig(c *gc.C) {
	cfg, err := LoadConfig(strings.NewReader(`
dialect: postgres
isolation: Repeatable Read
read-only: true
statement-timeout: 5s
slow-statement: 250ms
log-level: debug
`))
	c.Assert(err, gc.IsNil)
	c.Check(cfg, gc.DeepEquals, Config{
		Dialect:          "postgres",
		Transactional:    true,
		Isolation:        "Repeatable Read",
		ReadOnly:         true,
		StatementTimeout: 5 * time.Second,
		SlowStatement:    250 * time.Millisecond,
		LogLevel:         "debug",
	})
	c.Check(cfg.txOptions(), gc.DeepEquals, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

func (s *ConfigSuite) TestLoadConfigEmpty(c *gc.C) {
	cfg, err := LoadConfig(strings.NewReader(""))
	c.Assert(err, gc.IsNil)
	c.Check(cfg, gc.DeepEquals, DefaultConfig())
}

func (s *ConfigSuite) TestLoadConfigErrors(c *gc.C) {
	tests := []struct {
		summary string
		input   string
		err     string
	}{{
		summary: "unknown key",
		input:   "dialekt: mysql",
		err:     "(?s)cannot load config: .*field dialekt not found.*",
	}, {
		summary: "unknown dialect",
		input:   "dialect: oracle",
		err:     `invalid config: unknown dialect "oracle"`,
	}, {
		summary: "unknown isolation level",
		input:   "isolation: whatever",
		err:     `invalid config: unknown isolation level "whatever"`,
	}, {
		summary: "unknown log level",
		input:   "log-level: loud",
		err:     `invalid config: unknown log level "loud"`,
	}, {
		summary: "negative duration",
		input:   "statement-timeout: -1s",
		err:     "invalid config: negative duration",
	}}
	for i, test := range tests {
		c.Logf("test %d: %s", i, test.summary)
		_, err := LoadConfig(strings.NewReader(test.input))
		c.Check(err, gc.ErrorMatches, test.err)
	}
}

func (s *ConfigSuite) TestNonTransactionalHasNoTxOptions(c *gc.C) {
	cfg := DefaultConfig()
	cfg.Transactional = false
	c.Check(cfg.txOptions(), gc.IsNil)
}

func (s *ConfigSuite) TestOptionsOverrideConfig(c *gc.C) {
	cfg := DefaultConfig()
	cfg.Dialect = "postgres"
	o, err := newOptions([]Option{WithConfig(cfg), WithDialect("mysql"), WithTransactional(false)})
	c.Assert(err, gc.IsNil)
	c.Check(o.cfg.Dialect, gc.Equals, "mysql")
	c.Check(o.cfg.Transactional, gc.Equals, false)
	c.Check(o.logger, gc.NotNil)
}
