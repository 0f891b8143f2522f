package fluentquery

import (
	"github.com/pkg/errors"
	gc "gopkg.in/check.v1"

	"github.com/canonical/fluentquery/internal/ast"
)

type FieldSuite struct{}

var _ = gc.Suite(&FieldSuite{})

type address struct {
	Street string
	Number int
}

type person struct {
	ID      int64
	Name    string
	Home    address
	Manager *person
	secret  string
}

type CustomerOrder struct {
	ID         int64
	CustomerID int64
	RegionCode int
	URLPath    string
	Notes      string `db:"-"`
}

func (s *FieldSuite) TestResolve(c *gc.C) {
	id, err := Resolve(func(p *person) *int64 { return &p.ID })
	c.Assert(err, gc.IsNil)
	c.Check(id.Name(), gc.Equals, "ID")
	c.Check(id.String(), gc.Equals, "person.ID")

	name, err := Resolve(func(p *person) *string { return &p.Name })
	c.Assert(err, gc.IsNil)
	c.Check(name.Name(), gc.Equals, "Name")

	home, err := Resolve(func(p *person) *address { return &p.Home })
	c.Assert(err, gc.IsNil)
	c.Check(home.Name(), gc.Equals, "Home")
}

func (s *FieldSuite) TestResolveErrors(c *gc.C) {
	outside := "x"
	tests := []struct {
		summary string
		resolve func() error
		err     string
	}{{
		summary: "nested member",
		resolve: func() error {
			_, err := Resolve(func(p *person) *string { return &p.Home.Street })
			return err
		},
		err: "accessor does not address a top-level member of person: unresolvable member",
	}, {
		summary: "unexported member",
		resolve: func() error {
			_, err := Resolve(func(p *person) *string { return &p.secret })
			return err
		},
		err: "member person.secret is not exported: unresolvable member",
	}, {
		summary: "unrelated pointer",
		resolve: func() error {
			_, err := Resolve(func(p *person) *string { return &outside })
			return err
		},
		err: "accessor does not address a member of person: unresolvable member",
	}, {
		summary: "nil result",
		resolve: func() error {
			_, err := Resolve(func(p *person) *string { return nil })
			return err
		},
		err: "accessor returned nil: unresolvable member",
	}, {
		summary: "panicking accessor",
		resolve: func() error {
			_, err := Resolve(func(p *person) *string { return &p.Manager.Name })
			return err
		},
		err: "accessor panicked: .*: unresolvable member",
	}}
	for i, test := range tests {
		c.Logf("test %d: %s", i, test.summary)
		err := test.resolve()
		c.Check(errors.Is(err, ErrUnresolvableMember), gc.Equals, true)
		c.Check(err, gc.ErrorMatches, test.err)
	}
}

func (s *FieldSuite) TestMustResolvePanics(c *gc.C) {
	c.Check(func() {
		MustResolve(func(p *person) *string { return nil })
	}, gc.PanicMatches, "accessor returned nil: unresolvable member")
}

func (s *FieldSuite) TestMember(c *gc.C) {
	name := Member[person, string]("Name")
	c.Assert(name.Err(), gc.IsNil)
	c.Check(name.columnRef(), gc.Equals, ast.ColumnRef{Entity: typeOf[person](), Member: "Name"})

	c.Check(errors.Is(Member[person, string]("Missing").Err(), ErrUnresolvableMember), gc.Equals, true)
	c.Check(errors.Is(Member[person, string]("secret").Err(), ErrUnresolvableMember), gc.Equals, true)
	c.Check(Member[person, int]("Name").Err(), gc.ErrorMatches, "member person.Name has type string, not int: unresolvable member")
}

func (s *FieldSuite) TestConditions(c *gc.C) {
	id := MustResolve(func(p *person) *int64 { return &p.ID })
	name := MustResolve(func(p *person) *string { return &p.Name })

	cond := Or(id.Eq(1), And(name.Like("a%"), name.IsNotNull()))
	group, ok := cond.expr.(ast.Group)
	c.Assert(ok, gc.Equals, true)
	c.Check(group.Or, gc.Equals, true)
	c.Assert(group.Items, gc.HasLen, 2)
	c.Check(group.Items[0], gc.DeepEquals, ast.Comparison{Column: id.columnRef(), Op: ast.Eq, Value: int64(1), HasValue: true})

	inner, ok := group.Items[1].(ast.Group)
	c.Assert(ok, gc.Equals, true)
	c.Check(inner.Or, gc.Equals, false)
	c.Check(inner.Items[1], gc.DeepEquals, ast.Comparison{Column: name.columnRef(), Op: ast.IsNotNull})

	in := id.In(1, 2).expr.(ast.Comparison)
	c.Check(in.Values, gc.DeepEquals, []any{int64(1), int64(2)})
}

func (s *FieldSuite) TestPredicateOperands(c *gc.C) {
	id := MustResolve(func(p *person) *int64 { return &p.ID })
	name := MustResolve(func(p *person) *string { return &p.Name })

	q := NewQuery[person]().
		Where(name).Eq(name).
		Where(id).In(1, Bound{param: ast.Param{Source: id.columnRef()}})
	where := q.node.Where
	c.Assert(where, gc.HasLen, 2)
	c.Check(where[0].(ast.Comparison).Value, gc.Equals, name.columnRef())
	c.Check(where[1].(ast.Comparison).Values, gc.DeepEquals, []any{1, ast.Param{Source: id.columnRef()}})
}

func (s *FieldSuite) TestAssignmentLastWriteWins(c *gc.C) {
	id := MustResolve(func(p *person) *int64 { return &p.ID })
	name := MustResolve(func(p *person) *string { return &p.Name })

	ins := NewInsert[person]().
		Value(name).Set("a").
		Value(id).Set(int64(1)).
		Value(name).Set("b")
	c.Check(ins.node.Assignments, gc.DeepEquals, []ast.Assignment{
		{Column: name.columnRef(), Value: "b"},
		{Column: id.columnRef(), Value: int64(1)},
	})
}

func (s *FieldSuite) TestAutoMap(c *gc.C) {
	e, err := AutoMap[CustomerOrder]("").entity()
	c.Assert(err, gc.IsNil)
	c.Check(e.Table, gc.Equals, "customer_orders")

	var names []string
	for _, col := range e.Columns {
		names = append(names, col.Name)
	}
	// Notes is excluded by its tag.
	c.Check(names, gc.DeepEquals, []string{"id", "customer_id", "region_code", "url_path"})
}

func (s *FieldSuite) TestAutoMapExplicitColumns(c *gc.C) {
	region := MustResolve(func(o *CustomerOrder) *int { return &o.RegionCode })
	e, err := AutoMap[CustomerOrder]("orders").Column(region, "NU_REGION").entity()
	c.Assert(err, gc.IsNil)
	c.Check(e.Table, gc.Equals, "orders")
	col, ok := e.Column("RegionCode")
	c.Assert(ok, gc.Equals, true)
	c.Check(col.Name, gc.Equals, "NU_REGION")
}

func (s *FieldSuite) TestSnakeCase(c *gc.C) {
	tests := map[string]string{
		"Name":          "name",
		"RegionCode":    "region_code",
		"ID":            "id",
		"CustomerID":    "customer_id",
		"HTTPServer":    "http_server",
		"CustomerOrder": "customer_order",
	}
	for in, out := range tests {
		c.Check(snakeCase(in), gc.Equals, out, gc.Commentf("%s", in))
	}
}
