// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package compile

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/dialect"
	"github.com/canonical/fluentquery/internal/ast"
	"github.com/canonical/fluentquery/internal/mapping"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

// Select renders
//
//	SELECT <projections> FROM <table> e0 [<kind> JOIN <table> eN ON ...]
//	[WHERE ...] [GROUP BY ...] [ORDER BY ...]
//
// The anchor entity is aliased e0 and joined entities e1, e2... in join
// order.
func (c *Compiler) Select(s *ast.Select) (*Template, error) {
	cp, err := c.start(s.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "cannot compile select")
	}
	cp.aliases = map[reflect.Type]string{cp.anchor.Type: aliasName(0)}

	joined := make([]*mapping.Entity, len(s.Joins))
	for i, j := range s.Joins {
		if _, dup := cp.aliases[j.Entity]; dup {
			return nil, compileErrorf("entity %s joined more than once", j.Entity.Name())
		}
		if joined[i], err = c.reg.Entity(j.Entity); err != nil {
			return nil, errors.Wrap(err, "cannot compile join")
		}
		cp.aliases[j.Entity] = aliasName(i + 1)
	}

	cp.b.write("SELECT ")
	if err := cp.projections(s.Projections); err != nil {
		return nil, err
	}
	cp.b.write(" FROM " + cp.anchor.Table + " " + aliasName(0))

	inScope := []*mapping.Entity{cp.anchor}
	for i, j := range s.Joins {
		if err := cp.join(j, joined[i], inScope); err != nil {
			return nil, err
		}
		inScope = append(inScope, joined[i])
	}

	if err := cp.where(s.Where); err != nil {
		return nil, err
	}

	if len(s.GroupBy) > 0 {
		cols := make([]string, len(s.GroupBy))
		for i, ref := range s.GroupBy {
			if cols[i], _, err = cp.column(ref); err != nil {
				return nil, err
			}
		}
		cp.b.write(" GROUP BY ")
		cp.b.writeCommaSeparatedList(cols, func(_ int, s string) string { return s })
	}

	if len(s.OrderBy) > 0 {
		cols := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			if cols[i], _, err = cp.column(o.Column); err != nil {
				return nil, err
			}
			if o.Desc {
				cols[i] += " DESC"
			} else {
				cols[i] += " ASC"
			}
		}
		cp.b.write(" ORDER BY ")
		cp.b.writeCommaSeparatedList(cols, func(_ int, s string) string { return s })
	}

	return cp.template(), nil
}

// projections renders the select list. With no projections every mapped
// column of the anchor is selected in mapping order.
func (cp *compilation) projections(ps []ast.Projection) error {
	if len(ps) == 0 {
		cp.b.writeCommaSeparatedList(make([]string, len(cp.anchor.Columns)), func(i int, _ string) string {
			return aliasName(0) + "." + cp.anchor.Columns[i].Name
		})
		return nil
	}
	out := make([]string, len(ps))
	for i, p := range ps {
		col, _, err := cp.column(p.Column)
		if err != nil {
			return err
		}
		if p.Wrap != "" {
			if !typeinfo.ValidIdentifier.MatchString(p.Wrap) {
				return compileErrorf("invalid function name %q", p.Wrap)
			}
			if p.Alias == "" {
				return compileErrorf("projection %s(%s) needs an alias", p.Wrap, p.Column)
			}
			col = p.Wrap + "(" + col + ")"
		}
		if p.Alias != "" {
			if !typeinfo.ValidIdentifier.MatchString(p.Alias) {
				return compileErrorf("invalid alias %q", p.Alias)
			}
			col += " AS " + p.Alias
		}
		out[i] = col
	}
	cp.b.writeCommaSeparatedList(out, func(_ int, s string) string { return s })
	return nil
}

// join renders one join. Without explicit pairs the condition comes from the
// single relation declared between the joined entity and an entity already
// in scope.
func (cp *compilation) join(j ast.Join, target *mapping.Entity, inScope []*mapping.Entity) error {
	pairs := j.On
	if len(pairs) == 0 {
		for _, e := range inScope {
			for _, rel := range e.Relations {
				if rel.Target.Entity == target.Type {
					pairs = append(pairs, ast.JoinPair{Left: ast.ColumnRef{Entity: e.Type, Member: rel.Member}, Right: rel.Target})
				}
			}
			for _, rel := range target.Relations {
				if rel.Target.Entity == e.Type {
					pairs = append(pairs, ast.JoinPair{Left: rel.Target, Right: ast.ColumnRef{Entity: target.Type, Member: rel.Member}})
				}
			}
		}
		switch len(pairs) {
		case 0:
			return compileErrorf("no relationship to join %s", target.Type.Name())
		case 1:
		default:
			return compileErrorf("ambiguous relationship to join %s", target.Type.Name())
		}
	}

	cp.b.write(" " + j.Kind.String() + " " + target.Table + " " + cp.aliases[target.Type] + " ON ")
	for i, p := range pairs {
		left, _, err := cp.column(p.Left)
		if err != nil {
			return err
		}
		right, _, err := cp.column(p.Right)
		if err != nil {
			return err
		}
		if i != 0 {
			cp.b.write(" AND ")
		}
		cp.b.write(left + " = " + right)
	}
	return nil
}

// Insert renders INSERT INTO <table> (<columns>) VALUES (<placeholders>) with
// columns in assignment order.
func (c *Compiler) Insert(s *ast.Insert) (*Template, error) {
	cp, err := c.start(s.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "cannot compile insert")
	}
	if err := cp.insert(s); err != nil {
		return nil, err
	}
	return cp.template(), nil
}

func (cp *compilation) insert(s *ast.Insert) error {
	if len(s.Assignments) == 0 {
		return compileErrorf("no values assigned for %s", cp.anchor.Type.Name())
	}
	cols := make([]string, len(s.Assignments))
	phs := make([]string, len(s.Assignments))
	for i, a := range s.Assignments {
		name, col, err := cp.column(a.Column)
		if err != nil {
			return err
		}
		if _, ok := a.Value.(ast.ColumnRef); ok {
			return compileErrorf("cannot insert column reference into %s", name)
		}
		if phs[i], err = cp.value(a.Value, col, true); err != nil {
			return err
		}
		cols[i] = name
	}
	cp.b.write("INSERT INTO " + cp.anchor.Table + " (")
	cp.b.writeCommaSeparatedList(cols, func(_ int, s string) string { return s })
	cp.b.write(") VALUES (")
	cp.b.writeCommaSeparatedList(phs, func(_ int, s string) string { return s })
	cp.b.write(")")
	return nil
}

// Update renders UPDATE <table> SET <col> = <placeholder>[, ...] [WHERE ...]
// with unqualified column names.
func (c *Compiler) Update(s *ast.Update) (*Template, error) {
	cp, err := c.start(s.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "cannot compile update")
	}
	cp.b.write("UPDATE " + cp.anchor.Table + " SET ")
	if err := cp.assignments(s.Assignments); err != nil {
		return nil, err
	}
	if err := cp.where(s.Where); err != nil {
		return nil, err
	}
	return cp.template(), nil
}

// Delete renders DELETE FROM <table> [WHERE ...].
func (c *Compiler) Delete(s *ast.Delete) (*Template, error) {
	cp, err := c.start(s.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "cannot compile delete")
	}
	cp.b.write("DELETE FROM " + cp.anchor.Table)
	if err := cp.where(s.Where); err != nil {
		return nil, err
	}
	return cp.template(), nil
}

// Upsert renders an insert followed by its conflict clause. When upd is nil
// conflicting rows are left untouched. Placeholders are numbered across both
// fragments.
func (c *Compiler) Upsert(ins *ast.Insert, upd *ast.Update, conflict ast.ColumnRef) (*Template, error) {
	cp, err := c.start(ins.Entity)
	if err != nil {
		return nil, errors.Wrap(err, "cannot compile upsert")
	}
	if upd != nil && upd.Entity != ins.Entity {
		return nil, compileErrorf("upsert of %s cannot update %s", ins.Entity.Name(), upd.Entity.Name())
	}
	if err := cp.insert(ins); err != nil {
		return nil, err
	}
	key, _, err := cp.column(conflict)
	if err != nil {
		return nil, err
	}

	if c.dialect == dialect.MySQL {
		cp.b.write(" ON DUPLICATE KEY UPDATE ")
		if upd == nil {
			cp.b.write(key + " = " + key)
			return cp.template(), nil
		}
		if len(upd.Where) > 0 {
			return nil, compileErrorf("conditional upsert is not supported by %s", c.dialect)
		}
		if err := cp.assignments(upd.Assignments); err != nil {
			return nil, err
		}
		return cp.template(), nil
	}

	cp.b.write(" ON CONFLICT (" + key + ") DO ")
	if upd == nil {
		cp.b.write("NOTHING")
		return cp.template(), nil
	}
	cp.b.write("UPDATE SET ")
	if c.dialect == dialect.Postgres {
		// Bare names are ambiguous with EXCLUDED on PostgreSQL.
		cp.aliases = map[reflect.Type]string{cp.anchor.Type: cp.anchor.Table}
	}
	if err := cp.assignments(upd.Assignments); err != nil {
		return nil, err
	}
	if err := cp.where(upd.Where); err != nil {
		return nil, err
	}
	return cp.template(), nil
}
