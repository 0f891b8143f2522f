package fluentquery

import (
	"github.com/canonical/fluentquery/internal/ast"
)

// Command is implemented by insert, update and delete statements.
type Command interface {
	command() ast.Statement
}

// InsertCommand is implemented by inserts, for use in upserts.
type InsertCommand interface {
	Command
	insertNode() *ast.Insert
}

// UpdateCommand is implemented by updates, for use in upserts.
type UpdateCommand interface {
	Command
	updateNode() *ast.Update
}

// Setter is the continuation returned by Value.
type Setter[B any] struct {
	builder B
	col     ast.ColumnRef
	set     func(ast.Assignment)
}

// Set assigns v, a literal or a Bound parameter, to the column. Assigning a
// column again replaces the earlier value.
func (s *Setter[B]) Set(v any) B {
	s.set(ast.Assignment{Column: s.col, Value: operand(v)})
	return s.builder
}

// Insert builds an INSERT into the table of E. Columns are listed in the
// order they are first assigned.
type Insert[E any] struct {
	node ast.Insert
}

func NewInsert[E any]() *Insert[E] {
	return &Insert[E]{node: ast.Insert{Entity: typeOf[E]()}}
}

func (i *Insert[E]) command() ast.Statement  { return &i.node }
func (i *Insert[E]) insertNode() *ast.Insert { return &i.node }

func (i *Insert[E]) Value(col Column) *Setter[*Insert[E]] {
	return &Setter[*Insert[E]]{builder: i, col: col.columnRef(), set: func(a ast.Assignment) {
		i.node.Assignments = ast.Assign(i.node.Assignments, a)
	}}
}

// Update builds an UPDATE of the table of E.
type Update[E any] struct {
	node ast.Update
}

func NewUpdate[E any]() *Update[E] {
	return &Update[E]{node: ast.Update{Entity: typeOf[E]()}}
}

func (u *Update[E]) command() ast.Statement  { return &u.node }
func (u *Update[E]) updateNode() *ast.Update { return &u.node }

func (u *Update[E]) Value(col Column) *Setter[*Update[E]] {
	return &Setter[*Update[E]]{builder: u, col: col.columnRef(), set: func(a ast.Assignment) {
		u.node.Assignments = ast.Assign(u.node.Assignments, a)
	}}
}

func (u *Update[E]) Where(col Column) *Predicate[*Update[E]] {
	return newPredicate(u, col, func(e ast.Expr) {
		u.node.Where = append(u.node.Where, e)
	})
}

func (u *Update[E]) Match(conds ...Condition) *Update[E] {
	u.node.Where = append(u.node.Where, exprs(conds)...)
	return u
}

// Delete builds a DELETE from the table of E. Without conditions every row
// is deleted.
type Delete[E any] struct {
	node ast.Delete
}

func NewDelete[E any]() *Delete[E] {
	return &Delete[E]{node: ast.Delete{Entity: typeOf[E]()}}
}

func (d *Delete[E]) command() ast.Statement { return &d.node }

func (d *Delete[E]) Where(col Column) *Predicate[*Delete[E]] {
	return newPredicate(d, col, func(e ast.Expr) {
		d.node.Where = append(d.node.Where, e)
	})
}

func (d *Delete[E]) Match(conds ...Condition) *Delete[E] {
	d.node.Where = append(d.node.Where, exprs(conds)...)
	return d
}
