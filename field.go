// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package fluentquery

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/internal/ast"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

// Column is a symbolic reference to a member of an entity type.
type Column interface {
	columnRef() ast.ColumnRef
}

// Field is a typed reference to the member of type V of entity E.
type Field[E, V any] struct {
	ref ast.ColumnRef
}

func (f Field[E, V]) columnRef() ast.ColumnRef {
	return f.ref
}

// Name returns the Go name of the member.
func (f Field[E, V]) Name() string {
	return f.ref.Member
}

// Err returns the error that prevented the member from being resolved.
func (f Field[E, V]) Err() error {
	return f.ref.Err
}

func (f Field[E, V]) String() string {
	return f.ref.String()
}

// Resolve turns an accessor into a reference to the member it addresses. The
// accessor is called on a zero E and must return the address of a top-level
// exported field, e.g.
//
//	name, err := fluentquery.Resolve(func(c *Customer) *string { return &c.Name })
func Resolve[E, V any](accessor func(*E) *V) (f Field[E, V], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrUnresolvableMember, "accessor panicked: %v", r)
		}
	}()
	base := new(E)
	ptr := accessor(base)
	field, err := typeinfo.Resolve(reflect.ValueOf(base), reflect.ValueOf(ptr))
	if err != nil {
		return Field[E, V]{}, err
	}
	return Field[E, V]{ref: ast.ColumnRef{Entity: typeOf[E](), Member: field.Name}}, nil
}

// MustResolve is the same as [Resolve] except that it panics on error.
func MustResolve[E, V any](accessor func(*E) *V) Field[E, V] {
	f, err := Resolve(accessor)
	if err != nil {
		panic(err)
	}
	return f
}

// Member returns a reference to the member of E with the given Go name.
// A member that does not exist or is not of type V yields a reference that
// fails when a statement using it is compiled.
func Member[E, V any](name string) Field[E, V] {
	ref := ast.ColumnRef{Entity: typeOf[E](), Member: name}
	info, err := typeinfo.GetTypeInfo(ref.Entity)
	if err != nil {
		ref.Err = errors.Wrap(ErrUnresolvableMember, err.Error())
		return Field[E, V]{ref: ref}
	}
	f, ok := info.FieldByName(name)
	switch {
	case !ok || !f.Exported:
		ref.Err = errors.Wrapf(ErrUnresolvableMember, "%s has no exported member %s", info.Type.Name(), name)
	case f.Type != typeOf[V]():
		ref.Err = errors.Wrapf(ErrUnresolvableMember, "member %s.%s has type %s, not %s", info.Type.Name(), name, f.Type, typeOf[V]())
	}
	return Field[E, V]{ref: ref}
}

// Condition is a predicate of a WHERE clause.
type Condition struct {
	expr ast.Expr
}

func (f Field[E, V]) compare(op ast.Op, v any) Condition {
	return Condition{expr: ast.Comparison{Column: f.ref, Op: op, Value: v, HasValue: true}}
}

func (f Field[E, V]) Eq(v V) Condition  { return f.compare(ast.Eq, v) }
func (f Field[E, V]) Ne(v V) Condition  { return f.compare(ast.Ne, v) }
func (f Field[E, V]) Gt(v V) Condition  { return f.compare(ast.Gt, v) }
func (f Field[E, V]) Gte(v V) Condition { return f.compare(ast.Gte, v) }
func (f Field[E, V]) Lt(v V) Condition  { return f.compare(ast.Lt, v) }
func (f Field[E, V]) Lte(v V) Condition { return f.compare(ast.Lte, v) }

// Like matches the column against pattern, which is bound verbatim.
func (f Field[E, V]) Like(pattern string) Condition { return f.compare(ast.Like, pattern) }

func (f Field[E, V]) In(vs ...V) Condition {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = v
	}
	return Condition{expr: ast.Comparison{Column: f.ref, Op: ast.In, Values: values}}
}

func (f Field[E, V]) IsNull() Condition {
	return Condition{expr: ast.Comparison{Column: f.ref, Op: ast.IsNull}}
}

func (f Field[E, V]) IsNotNull() Condition {
	return Condition{expr: ast.Comparison{Column: f.ref, Op: ast.IsNotNull}}
}

// EqColumn compares the member with another column.
func (f Field[E, V]) EqColumn(c Column) Condition {
	return f.compare(ast.Eq, c.columnRef())
}

// Or is satisfied when any of conds is.
func Or(conds ...Condition) Condition {
	return Condition{expr: ast.Group{Or: true, Items: exprs(conds)}}
}

// And is satisfied when all of conds are.
func And(conds ...Condition) Condition {
	return Condition{expr: ast.Group{Items: exprs(conds)}}
}

func exprs(conds []Condition) []ast.Expr {
	out := make([]ast.Expr, len(conds))
	for i, c := range conds {
		out[i] = c.expr
	}
	return out
}

// Entity is a handle on an entity type, used to join it to a query.
type Entity struct {
	typ reflect.Type
}

// EntityOf returns the handle of E.
func EntityOf[E any]() Entity {
	return Entity{typ: typeOf[E]()}
}

func (e Entity) String() string {
	return fmt.Sprint(e.typ)
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
