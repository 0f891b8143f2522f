package fluentquery

import (
	"github.com/canonical/fluentquery/internal/ast"
)

// Predicate is the continuation returned by Where. Each operator adds one
// condition to the builder B, joined to the others with AND, and returns the
// builder.
//
// Operands may be literal values, another Column or a Bound parameter.
type Predicate[B any] struct {
	builder B
	col     ast.ColumnRef
	add     func(ast.Expr)
}

func newPredicate[B any](b B, col Column, add func(ast.Expr)) *Predicate[B] {
	return &Predicate[B]{builder: b, col: col.columnRef(), add: add}
}

// operand converts a caller supplied operand to its node form.
func operand(v any) any {
	switch v := v.(type) {
	case Column:
		return v.columnRef()
	case Bound:
		return v.param
	}
	return v
}

func (p *Predicate[B]) compare(op ast.Op, v any) B {
	p.add(ast.Comparison{Column: p.col, Op: op, Value: operand(v), HasValue: true})
	return p.builder
}

func (p *Predicate[B]) Eq(v any) B  { return p.compare(ast.Eq, v) }
func (p *Predicate[B]) Ne(v any) B  { return p.compare(ast.Ne, v) }
func (p *Predicate[B]) Gt(v any) B  { return p.compare(ast.Gt, v) }
func (p *Predicate[B]) Gte(v any) B { return p.compare(ast.Gte, v) }
func (p *Predicate[B]) Lt(v any) B  { return p.compare(ast.Lt, v) }
func (p *Predicate[B]) Lte(v any) B { return p.compare(ast.Lte, v) }

// Like matches against pattern, which may be a string or a Bound parameter.
// Wildcards are not escaped.
func (p *Predicate[B]) Like(pattern any) B { return p.compare(ast.Like, pattern) }

// In requires at least one value.
func (p *Predicate[B]) In(vs ...any) B {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = operand(v)
	}
	p.add(ast.Comparison{Column: p.col, Op: ast.In, Values: values})
	return p.builder
}

func (p *Predicate[B]) IsNull() B {
	p.add(ast.Comparison{Column: p.col, Op: ast.IsNull})
	return p.builder
}

func (p *Predicate[B]) IsNotNull() B {
	p.add(ast.Comparison{Column: p.col, Op: ast.IsNotNull})
	return p.builder
}
