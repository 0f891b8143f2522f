// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"github.com/canonical/fluentquery/internal/ast"
)

// Selector is implemented by select statements.
type Selector interface {
	selectNode() *ast.Select
}

// Query builds a SELECT anchored on entity E. Without any Select call every
// mapped column of E is returned in mapping order.
type Query[E any] struct {
	node ast.Select
}

// NewQuery starts a query on E.
func NewQuery[E any]() *Query[E] {
	return &Query[E]{node: ast.Select{Entity: typeOf[E]()}}
}

func (q *Query[E]) selectNode() *ast.Select {
	return &q.node
}

// Where starts a condition on col.
func (q *Query[E]) Where(col Column) *Predicate[*Query[E]] {
	return newPredicate(q, col, func(e ast.Expr) {
		q.node.Where = append(q.node.Where, e)
	})
}

// Match adds conditions, joined to the others with AND.
func (q *Query[E]) Match(conds ...Condition) *Query[E] {
	q.node.Where = append(q.node.Where, exprs(conds)...)
	return q
}

// Projection adjusts how a selected column is rendered.
type Projection func(*ast.Projection)

// As labels the output column.
func As(alias string) Projection {
	return func(p *ast.Projection) {
		p.Alias = alias
	}
}

// Func wraps the column in the SQL function fn, e.g. Func("UPPER", "name").
// A wrapped column must be given an alias.
func Func(fn, alias string) Projection {
	return func(p *ast.Projection) {
		p.Wrap = fn
		p.Alias = alias
	}
}

func Sum(alias string) Projection   { return Func("SUM", alias) }
func Count(alias string) Projection { return Func("COUNT", alias) }
func Avg(alias string) Projection   { return Func("AVG", alias) }
func Min(alias string) Projection   { return Func("MIN", alias) }
func Max(alias string) Projection   { return Func("MAX", alias) }

// Select adds col to the output columns. The order of Select calls is the
// order of the output columns.
func (q *Query[E]) Select(col Column, proj ...Projection) *Query[E] {
	p := ast.Projection{Column: col.columnRef()}
	for _, f := range proj {
		f(&p)
	}
	q.node.Projections = append(q.node.Projections, p)
	return q
}

// Join adds an inner join on e. The join condition comes from the relation
// declared between e and an entity already in the query.
func (q *Query[E]) Join(e Entity) *Query[E] {
	q.node.Joins = append(q.node.Joins, ast.Join{Entity: e.typ})
	return q
}

// LeftJoin is the same as Join but keeps rows without a match.
func (q *Query[E]) LeftJoin(e Entity) *Query[E] {
	q.node.Joins = append(q.node.Joins, ast.Join{Entity: e.typ, Kind: ast.LeftJoin})
	return q
}

// JoinOn adds an inner join on the entity of right, matching rows where left
// equals right.
func (q *Query[E]) JoinOn(left, right Column) *Query[E] {
	return q.joinOn(ast.InnerJoin, left, right)
}

// LeftJoinOn is the same as JoinOn but keeps rows without a match.
func (q *Query[E]) LeftJoinOn(left, right Column) *Query[E] {
	return q.joinOn(ast.LeftJoin, left, right)
}

func (q *Query[E]) joinOn(kind ast.JoinKind, left, right Column) *Query[E] {
	r := right.columnRef()
	q.node.Joins = append(q.node.Joins, ast.Join{
		Entity: r.Entity,
		Kind:   kind,
		On:     []ast.JoinPair{{Left: left.columnRef(), Right: r}},
	})
	return q
}

func (q *Query[E]) GroupBy(cols ...Column) *Query[E] {
	for _, c := range cols {
		q.node.GroupBy = append(q.node.GroupBy, c.columnRef())
	}
	return q
}

// Direction is a sort order.
type Direction bool

const (
	Asc  Direction = false
	Desc Direction = true
)

func (q *Query[E]) OrderBy(col Column, dir Direction) *Query[E] {
	q.node.OrderBy = append(q.node.OrderBy, ast.Order{Column: col.columnRef(), Desc: bool(dir)})
	return q
}
