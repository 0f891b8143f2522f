// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"fmt"
	"reflect"
	"unicode"

	"github.com/go-openapi/inflect"
	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/internal/ast"
	"github.com/canonical/fluentquery/internal/mapping"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

// Mapping is a mapping convention ready to be registered with a DB.
type Mapping interface {
	entity() (*mapping.Entity, error)
}

type columnSpec struct {
	ref  ast.ColumnRef
	name string
	conv *mapping.Converter
}

type relationSpec struct {
	ref    ast.ColumnRef
	target ast.ColumnRef
}

// EntityMapping describes how entity E is stored.
type EntityMapping[E any] struct {
	table     string
	auto      bool
	columns   []columnSpec
	relations []relationSpec
}

// Map starts the mapping of E to table. Columns are added with Column.
func Map[E any](table string) *EntityMapping[E] {
	return &EntityMapping[E]{table: table}
}

// AutoMap maps E from its "db" struct tags; untagged fields are left out. A
// struct without tags has every exported field mapped to the snake case of
// its name. Fields tagged `db:"-"` are never mapped. An empty table name is derived from the plural of the type name,
// e.g. CustomerOrder is stored in customer_orders. Columns added with Column
// replace the derived ones.
func AutoMap[E any](table string) *EntityMapping[E] {
	if table == "" {
		table = snakeCase(inflect.Pluralize(typeOf[E]().Name()))
	}
	return &EntityMapping[E]{table: table, auto: true}
}

// ColumnOption adjusts the mapping of one column.
type ColumnOption func(*columnSpec)

// Convert sets the functions translating between a member of type V and the
// value stored in its column. Either may be nil.
func Convert[V any](to func(V) (any, error), from func(any) (V, error)) ColumnOption {
	conv := &mapping.Converter{Type: typeOf[V]()}
	if to != nil {
		conv.To = func(v any) (any, error) {
			x, ok := v.(V)
			if !ok {
				return nil, fmt.Errorf("need %s, got %T", conv.Type, v)
			}
			return to(x)
		}
	}
	if from != nil {
		conv.From = func(raw any) (any, error) {
			return from(raw)
		}
	}
	return func(c *columnSpec) {
		c.conv = conv
	}
}

// Column maps the member col of E to the column name.
func (m *EntityMapping[E]) Column(col Column, name string, opts ...ColumnOption) *EntityMapping[E] {
	c := columnSpec{ref: col.columnRef(), name: name}
	for _, opt := range opts {
		opt(&c)
	}
	m.columns = append(m.columns, c)
	return m
}

// References declares that the member col of E holds the value of target,
// a member of another entity. Queries may then join the two entities
// without an explicit condition.
func (m *EntityMapping[E]) References(col Column, target Column) *EntityMapping[E] {
	m.relations = append(m.relations, relationSpec{ref: col.columnRef(), target: target.columnRef()})
	return m
}

func (m *EntityMapping[E]) entity() (*mapping.Entity, error) {
	t := typeOf[E]()
	e, err := mapping.NewEntity(t, m.table)
	if err != nil {
		return nil, err
	}

	columns := m.columns
	if m.auto {
		if columns, err = m.derived(t); err != nil {
			return nil, err
		}
	}
	for _, c := range columns {
		if err := checkOwner(t, c.ref); err != nil {
			return nil, err
		}
		if err := e.AddColumn(c.ref.Member, c.name, c.conv); err != nil {
			return nil, err
		}
	}
	for _, r := range m.relations {
		if err := checkOwner(t, r.ref); err != nil {
			return nil, err
		}
		if err := e.AddRelation(r.ref.Member, r.target); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// derived returns the columns of an automatic mapping, with the explicit
// columns replacing derived ones for the same member.
func (m *EntityMapping[E]) derived(t reflect.Type) ([]columnSpec, error) {
	info, err := typeinfo.GetTypeInfo(t)
	if err != nil {
		return nil, err
	}
	explicit := make(map[string]columnSpec)
	for _, c := range m.columns {
		explicit[c.ref.Member] = c
	}
	var columns []columnSpec
	for _, f := range info.Fields {
		if !f.Exported || f.Ignored || (info.Tagged() && f.Tag == "") {
			continue
		}
		if c, ok := explicit[f.Name]; ok {
			columns = append(columns, c)
			delete(explicit, f.Name)
			continue
		}
		name := f.Tag
		if name == "" {
			name = snakeCase(f.Name)
		}
		columns = append(columns, columnSpec{ref: ast.ColumnRef{Entity: t, Member: f.Name}, name: name})
	}
	for _, c := range m.columns {
		if _, ok := explicit[c.ref.Member]; ok {
			columns = append(columns, c)
		}
	}
	return columns, nil
}

func checkOwner(t reflect.Type, ref ast.ColumnRef) error {
	if ref.Err != nil {
		return ref.Err
	}
	if ref.Entity != t {
		return errors.Errorf("cannot map %s: column %s belongs to another entity", t.Name(), ref)
	}
	return nil
}

// snakeCase returns the lower snake case of a Go name. Initialisms are kept
// as one word, e.g. CustomerID becomes customer_id.
func snakeCase(name string) string {
	orig := []rune(name)
	rs := make([]rune, len(orig))
	copy(rs, orig)
	for i := 1; i < len(orig); i++ {
		if unicode.IsUpper(orig[i]) && unicode.IsUpper(orig[i-1]) && (i+1 == len(orig) || unicode.IsUpper(orig[i+1])) {
			rs[i] = unicode.ToLower(orig[i])
		}
	}
	return inflect.Underscore(string(rs))
}
