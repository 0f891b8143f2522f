// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ast holds the statement trees built by the fluent API. Nodes are
// plain data: they hold no connection state and may be compiled any number of
// times.
package ast

import (
	"reflect"
)

// ColumnRef is a symbolic reference to a member of an entity type.
type ColumnRef struct {
	Entity reflect.Type
	Member string

	// Err records a resolution failure. It is reported when the
	// reference is compiled.
	Err error
}

func (c ColumnRef) String() string {
	if c.Entity == nil {
		return c.Member
	}
	return c.Entity.Name() + "." + c.Member
}

// Param is a placeholder filled per row when a bound template is executed.
// Source is the member of the row type supplying the value.
type Param struct {
	Source ColumnRef
}

// Op is a comparison operator.
type Op int

const (
	Eq Op = iota
	Ne
	Gt
	Gte
	Lt
	Lte
	Like
	In
	IsNull
	IsNotNull
)

var opText = map[Op]string{
	Eq:        "=",
	Ne:        "<>",
	Gt:        ">",
	Gte:       ">=",
	Lt:        "<",
	Lte:       "<=",
	Like:      "LIKE",
	In:        "IN",
	IsNull:    "IS NULL",
	IsNotNull: "IS NOT NULL",
}

func (op Op) String() string {
	return opText[op]
}

// Unary reports whether the operator takes no operand.
func (op Op) Unary() bool {
	return op == IsNull || op == IsNotNull
}

// Expr is a node of a WHERE clause.
type Expr interface {
	expr()
}

// Comparison compares a column against a value. Value may be a literal, a
// ColumnRef, a Param or nil when no operand was supplied. Values is used by
// the In operator.
type Comparison struct {
	Column ColumnRef
	Op     Op
	Value  any
	Values []any
	// HasValue distinguishes an explicit nil operand from a missing one.
	HasValue bool
}

// Group combines expressions with AND, or with OR when Or is set.
type Group struct {
	Or    bool
	Items []Expr
}

func (Comparison) expr() {}
func (Group) expr()      {}

// Projection is one output column of a select.
type Projection struct {
	Column ColumnRef
	// Wrap renders a function around the qualified column, e.g. "SUM(%s)".
	// Empty means the column is passed through.
	Wrap  string
	Alias string
}

type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
)

func (k JoinKind) String() string {
	if k == LeftJoin {
		return "LEFT JOIN"
	}
	return "INNER JOIN"
}

// JoinPair is one equality of a join condition.
type JoinPair struct {
	Left, Right ColumnRef
}

// Join adds an entity to a select. With no On pairs the condition is
// derived from the relations declared in the mapping convention.
type Join struct {
	Entity reflect.Type
	Kind   JoinKind
	On     []JoinPair
}

type Order struct {
	Column ColumnRef
	Desc   bool
}

// Assignment sets a column in an insert or update. Value is a literal or a
// Param.
type Assignment struct {
	Column ColumnRef
	Value  any
}

// Assign appends an assignment to list. An assignment to a column already in
// the list replaces its value and keeps its position.
func Assign(list []Assignment, a Assignment) []Assignment {
	for i := range list {
		if list[i].Column.Entity == a.Column.Entity && list[i].Column.Member == a.Column.Member {
			list[i].Value = a.Value
			return list
		}
	}
	return append(list, a)
}

// Statement is implemented by the four statement nodes.
type Statement interface {
	Anchor() reflect.Type
	stmt()
}

type Select struct {
	Entity      reflect.Type
	Projections []Projection
	Joins       []Join
	Where       []Expr
	GroupBy     []ColumnRef
	OrderBy     []Order
}

type Insert struct {
	Entity      reflect.Type
	Assignments []Assignment
}

type Update struct {
	Entity      reflect.Type
	Assignments []Assignment
	Where       []Expr
}

type Delete struct {
	Entity reflect.Type
	Where  []Expr
}

func (s *Select) Anchor() reflect.Type { return s.Entity }
func (s *Insert) Anchor() reflect.Type { return s.Entity }
func (s *Update) Anchor() reflect.Type { return s.Entity }
func (s *Delete) Anchor() reflect.Type { return s.Entity }

func (*Select) stmt() {}
func (*Insert) stmt() {}
func (*Update) stmt() {}
func (*Delete) stmt() {}
