/*
Package fluentquery builds SQL statements from Go code and runs them inside units of work that are scoped to an owner.

Statements are never written as text. They are built from typed references to the members of entity types,
compiled for one SQL dialect using mapping conventions registered with the DB, and executed on a connection that
belongs to the owner's current unit of work.

# Mapping

An entity is a Go struct stored in a table. Its members are referenced through accessors, which are resolved once
into typed fields:

	type Customer struct {
		ID      int64
		Name    string
		Balance float64
	}

	var (
		customerID      = fluentquery.MustResolve(func(c *Customer) *int64 { return &c.ID })
		customerName    = fluentquery.MustResolve(func(c *Customer) *string { return &c.Name })
		customerBalance = fluentquery.MustResolve(func(c *Customer) *float64 { return &c.Balance })
	)

The mapping convention of an entity names its table and the column of each member:

	err := db.Register(
		fluentquery.Map[Customer]("TB_CUSTOMER").
			Column(customerID, "CD_CUSTOMER").
			Column(customerName, "DS_NAME").
			Column(customerBalance, "VL_BALANCE"),
	)

AutoMap derives the columns from the "db" struct tags, or from the snake case of the field names when the struct has
no tags.

# Queries and commands

	q := fluentquery.NewQuery[Customer]().
		Where(customerName).Like("c%").
		OrderBy(customerID, fluentquery.Asc)

renders, for SQLite,

	SELECT e0.CD_CUSTOMER, e0.DS_NAME, e0.VL_BALANCE FROM TB_CUSTOMER e0 WHERE e0.DS_NAME LIKE ? ORDER BY e0.CD_CUSTOMER ASC

The anchor entity of a query is always aliased e0 and joined entities e1, e2 and so on. Inserts, updates and deletes
are built with NewInsert, NewUpdate and NewDelete. Upserts combine an insert with an update or with nothing at all.

Results are decoded into the entity itself, or into any struct whose field names or "db" tags match the labels of the
selected columns.

# Units of work

Every statement runs for an Owner. The first statement of a unit of work acquires a connection, and a transaction
when the DB is transactional. The connection is kept for the owner until the unit of work ends, when the unit of work
is committed if it succeeded and rolled back otherwise. A unit of work started for an owner that already has one
joins it, and only the outermost one decides the outcome.

	err := db.Run(ctx, fluentquery.NewOwner(), func(ctx context.Context, ex fluentquery.Executor) error {
		customers, err := fluentquery.List(ctx, ex, q)
		...
	})

Transactional returns an Executor running each call as a unit of work of its own, and Begin returns a Session that is
ended explicitly.
*/
package fluentquery
