// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package compile

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/internal/mapping"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

// Statement is SQL text together with its parameters in placeholder order.
type Statement struct {
	SQL    string
	Params []any
}

// slot is the source of one placeholder. Either value is fixed at compile
// time or source names the row field supplying it.
type slot struct {
	value  any
	source *typeinfo.Field
	column mapping.Column
}

// Template is a compiled statement. Templates are immutable and safe for
// concurrent use.
type Template struct {
	SQL string

	// Entity is the anchor entity of the statement.
	Entity *mapping.Entity

	rowType reflect.Type
	slots   []slot
}

// RowType returns the type whose values fill the bound parameters, or nil
// when the template has none.
func (t *Template) RowType() reflect.Type {
	return t.rowType
}

// Statement returns the statement of a template without bound parameters.
func (t *Template) Statement() (Statement, error) {
	if t.rowType != nil {
		return Statement{}, errors.Errorf("cannot build statement: parameters must be bound from a %s", t.rowType.Name())
	}
	return t.Bind(nil)
}

// Bind returns the statement with the bound parameters read from row. A zero
// value read from a field tagged "omitempty" is bound as NULL.
func (t *Template) Bind(row any) (Statement, error) {
	var rv reflect.Value
	if t.rowType != nil {
		rv = reflect.ValueOf(row)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv = rv.Elem()
		}
		if !rv.IsValid() || rv.Type() != t.rowType {
			return Statement{}, errors.Errorf("cannot bind parameters: need %s, got %T", t.rowType.Name(), row)
		}
	}
	params := make([]any, len(t.slots))
	for i, s := range t.slots {
		if s.source == nil {
			params[i] = s.value
			continue
		}
		fv := rv.Field(s.source.Index)
		if s.source.OmitEmpty && fv.IsZero() {
			continue
		}
		v, err := s.column.ToValue(fv.Interface())
		if err != nil {
			return Statement{}, errors.Errorf("cannot bind parameter %s.%s: %s", t.rowType.Name(), s.source.Name, err)
		}
		params[i] = v
	}
	return Statement{SQL: t.SQL, Params: params}, nil
}
