// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package compile

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"

	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/dialect"
	"github.com/canonical/fluentquery/internal/ast"
	"github.com/canonical/fluentquery/internal/mapping"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

// ErrCompile is returned for statement trees that cannot be rendered.
var ErrCompile = errors.New("cannot compile statement")

type compileError struct {
	msg string
}

func (e *compileError) Error() string {
	return "cannot compile statement: " + e.msg
}

func (e *compileError) Is(target error) bool {
	return target == ErrCompile
}

func compileErrorf(format string, args ...any) error {
	return errors.WithStack(&compileError{msg: fmt.Sprintf(format, args...)})
}

// Compiler renders statements for one dialect using the conventions of a
// registry.
type Compiler struct {
	reg     *mapping.Registry
	dialect string
}

func New(reg *mapping.Registry, dialectName string) *Compiler {
	return &Compiler{reg: reg, dialect: dialectName}
}

// Compile dispatches to the compiler of the statement kind.
func (c *Compiler) Compile(stmt ast.Statement) (*Template, error) {
	switch s := stmt.(type) {
	case *ast.Select:
		return c.Select(s)
	case *ast.Insert:
		return c.Insert(s)
	case *ast.Update:
		return c.Update(s)
	case *ast.Delete:
		return c.Delete(s)
	}
	return nil, compileErrorf("unsupported statement %T", stmt)
}

// compilation holds the state of rendering one template.
type compilation struct {
	c *Compiler
	b sqlBuilder

	anchor *mapping.Entity
	// aliases maps the entities in scope to their alias. Columns are
	// rendered unqualified when it is nil.
	aliases map[reflect.Type]string

	rowType reflect.Type
	slots   []slot
}

func (c *Compiler) start(t reflect.Type) (*compilation, error) {
	e, err := c.reg.Entity(t)
	if err != nil {
		return nil, err
	}
	return &compilation{c: c, anchor: e}, nil
}

func (cp *compilation) template() *Template {
	return &Template{
		SQL:     cp.b.getSQL(),
		Entity:  cp.anchor,
		rowType: cp.rowType,
		slots:   cp.slots,
	}
}

// column resolves ref to its mapped column and the text rendering it.
func (cp *compilation) column(ref ast.ColumnRef) (string, mapping.Column, error) {
	col, err := cp.c.reg.Column(ref)
	if err != nil {
		return "", mapping.Column{}, err
	}
	if cp.aliases == nil {
		if ref.Entity != cp.anchor.Type {
			return "", mapping.Column{}, compileErrorf("column %s does not belong to %s", ref, cp.anchor.Type.Name())
		}
		return col.Name, col, nil
	}
	alias, ok := cp.aliases[ref.Entity]
	if !ok {
		return "", mapping.Column{}, compileErrorf("column %s belongs to an entity that is neither selected nor joined", ref)
	}
	return alias + "." + col.Name, col, nil
}

// value renders a placeholder for v, which is a literal or an ast.Param,
// destined for col.
func (cp *compilation) value(v any, col mapping.Column, convert bool) (string, error) {
	if p, ok := v.(ast.Param); ok {
		return cp.param(p, col)
	}
	if convert {
		var err error
		if v, err = col.ToValue(v); err != nil {
			return "", compileErrorf("cannot convert value for column %s: %s", col.Name, err)
		}
	}
	cp.slots = append(cp.slots, slot{value: v})
	return cp.placeholder(), nil
}

func (cp *compilation) param(p ast.Param, col mapping.Column) (string, error) {
	src := p.Source
	if src.Err != nil {
		return "", src.Err
	}
	if cp.rowType != nil && cp.rowType != src.Entity {
		return "", compileErrorf("parameters bound from both %s and %s", cp.rowType.Name(), src.Entity.Name())
	}
	info, err := typeinfo.GetTypeInfo(src.Entity)
	if err != nil {
		return "", compileErrorf("cannot bind from %s: %s", src.Entity, err)
	}
	f, ok := info.FieldByName(src.Member)
	if !ok || !f.Exported {
		return "", errors.Wrapf(typeinfo.ErrUnresolvableMember, "bound parameter %s", src)
	}
	cp.rowType = info.Type
	cp.slots = append(cp.slots, slot{source: &f, column: col})
	return cp.placeholder(), nil
}

func (cp *compilation) placeholder() string {
	return dialect.Placeholder(cp.c.dialect, len(cp.slots))
}

// where renders the expressions joined by AND.
func (cp *compilation) where(exprs []ast.Expr) error {
	if len(exprs) == 0 {
		return nil
	}
	cp.b.write(" WHERE ")
	return cp.exprs(exprs, " AND ")
}

func (cp *compilation) exprs(exprs []ast.Expr, sep string) error {
	for i, e := range exprs {
		if i != 0 {
			cp.b.write(sep)
		}
		if err := cp.expr(e); err != nil {
			return err
		}
	}
	return nil
}

func (cp *compilation) expr(e ast.Expr) error {
	switch e := e.(type) {
	case ast.Comparison:
		return cp.comparison(e)
	case ast.Group:
		if len(e.Items) == 0 {
			return compileErrorf("empty predicate group")
		}
		sep := " AND "
		if e.Or {
			sep = " OR "
		}
		cp.b.write("(")
		if err := cp.exprs(e.Items, sep); err != nil {
			return err
		}
		cp.b.write(")")
		return nil
	}
	return compileErrorf("unsupported predicate %T", e)
}

func (cp *compilation) comparison(cmp ast.Comparison) error {
	left, col, err := cp.column(cmp.Column)
	if err != nil {
		return err
	}
	if cmp.Op.Unary() {
		cp.b.write(left + " " + cmp.Op.String())
		return nil
	}
	if cmp.Op == ast.In {
		if len(cmp.Values) == 0 {
			return compileErrorf("empty IN list for %s", cmp.Column)
		}
		phs := make([]string, len(cmp.Values))
		for i, v := range cmp.Values {
			if v == nil {
				return compileErrorf("nil value in IN list for %s", cmp.Column)
			}
			if ref, ok := v.(ast.ColumnRef); ok {
				phs[i], _, err = cp.column(ref)
			} else {
				phs[i], err = cp.value(v, col, true)
			}
			if err != nil {
				return err
			}
		}
		cp.b.write(left + " IN (")
		cp.b.writeCommaSeparatedList(phs, func(_ int, s string) string { return s })
		cp.b.write(")")
		return nil
	}
	if !cmp.HasValue || cmp.Value == nil {
		return compileErrorf("no value for %s %s", cmp.Column, cmp.Op)
	}
	var right string
	if ref, ok := cmp.Value.(ast.ColumnRef); ok {
		if right, _, err = cp.column(ref); err != nil {
			return err
		}
	} else if right, err = cp.value(cmp.Value, col, cmp.Op != ast.Like); err != nil {
		return err
	}
	cp.b.write(left + " " + cmp.Op.String() + " " + right)
	return nil
}

// assignments renders the "col = value" pairs of an update. Assigned columns
// are never qualified.
func (cp *compilation) assignments(list []ast.Assignment) error {
	if len(list) == 0 {
		return compileErrorf("no values assigned for %s", cp.anchor.Type.Name())
	}
	for i, a := range list {
		if i != 0 {
			cp.b.write(", ")
		}
		_, col, err := cp.column(a.Column)
		if err != nil {
			return err
		}
		var v string
		if ref, ok := a.Value.(ast.ColumnRef); ok {
			v, _, err = cp.column(ref)
		} else {
			v, err = cp.value(a.Value, col, true)
		}
		if err != nil {
			return err
		}
		cp.b.write(col.Name + " = " + v)
	}
	return nil
}

// sqlBuilder is used to generate SQL string piece by piece using the struct
// methods.
type sqlBuilder struct {
	buf bytes.Buffer
}

// writeCommaSeparatedList writes out the provided list using the writer to
// write each element into the SQL.
func (b *sqlBuilder) writeCommaSeparatedList(list []string, writer func(i int, s string) string) {
	for i, s := range list {
		if i != 0 {
			b.buf.WriteString(", ")
		}
		b.buf.WriteString(writer(i, s))
	}
}

// write writes the SQL to the sqlBuilder.
func (b *sqlBuilder) write(sql string) {
	b.buf.WriteString(sql)
}

// getSQL returns the generated SQL string
func (b *sqlBuilder) getSQL() string {
	return b.buf.String()
}

func aliasName(n int) string {
	return "e" + strconv.Itoa(n)
}
