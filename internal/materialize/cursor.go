// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package materialize decodes result rows into entity values and projection
// structs.
package materialize

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"reflect"

	"github.com/canonical/fluentquery/internal/mapping"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

// ValueConverter converts a raw column value into a value of type to. It is
// used for columns that have no converter of their own.
type ValueConverter func(raw any, to reflect.Type) (any, error)

// Mappings looks up the conventions of entity types.
type Mappings interface {
	Entity(t reflect.Type) (*mapping.Entity, error)
}

var readerType = reflect.TypeOf((*io.Reader)(nil)).Elem()
var bytesType = reflect.TypeOf([]byte(nil))

// target describes where one result column is stored.
type target struct {
	column string
	// field is nil for columns that are not decoded.
	field *typeinfo.Field
	from  func(any) (any, error)
}

// plan maps the result columns onto the fields of one destination type.
type plan struct {
	typ     reflect.Type
	targets []target
}

// Cursor iterates over a result set. A registered entity type is decoded
// through its mapping convention, matching result columns to mapped columns.
// Any other struct is decoded by matching result column labels to its field
// labels. Both matches ignore case.
type Cursor struct {
	rows    *sql.Rows
	columns []string
	reg     Mappings
	conv    ValueConverter
	plans   map[reflect.Type]*plan
}

// New returns a cursor over rows. conv may be nil.
func New(rows *sql.Rows, reg Mappings, conv ValueConverter) (*Cursor, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return &Cursor{
		rows:    rows,
		columns: cols,
		reg:     reg,
		conv:    conv,
		plans:   make(map[reflect.Type]*plan),
	}, nil
}

// Columns returns the result column labels.
func (c *Cursor) Columns() []string {
	return c.columns
}

// Next prepares the next row for decoding.
func (c *Cursor) Next() bool {
	return c.rows.Next()
}

// Err returns the error, if any, that was encountered during iteration.
func (c *Cursor) Err() error {
	return c.rows.Err()
}

// Close releases the result set. It is safe to call more than once.
func (c *Cursor) Close() error {
	return c.rows.Close()
}

// Scan copies the current row into dest without any mapping.
func (c *Cursor) Scan(dest ...any) error {
	return c.rows.Scan(dest...)
}

// Decode copies the current row into the struct pointed to by dst. Fields
// without a matching column are left untouched.
func (c *Cursor) Decode(dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("need pointer to struct, got %T", dst)
	}
	v = v.Elem()
	p, err := c.plan(v.Type())
	if err != nil {
		return err
	}

	ptrs := make([]any, len(p.targets))
	finish := make([]func() error, 0, len(p.targets))
	for i, t := range p.targets {
		if t.field == nil {
			var x any
			ptrs[i] = &x
			continue
		}
		fv := v.Field(t.field.Index)
		ptr, done := c.slot(t, fv)
		ptrs[i] = ptr
		if done != nil {
			finish = append(finish, done)
		}
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return &ConversionError{Type: p.typ, Err: err}
	}
	for _, done := range finish {
		if err := done(); err != nil {
			return err
		}
	}
	return nil
}

// slot returns the scan destination for one field and the function storing
// the scanned value in the field, if one is needed.
func (c *Cursor) slot(t target, fv reflect.Value) (any, func() error) {
	ft := fv.Type()
	switch {
	case t.from != nil || (c.conv != nil && ft != readerType && ft != bytesType):
		var raw any
		return &raw, func() error {
			var v any
			var err error
			if t.from != nil {
				v, err = t.from(raw)
			} else {
				v, err = c.conv(raw, ft)
			}
			if err != nil {
				return &ConversionError{Column: t.column, Type: ft, Err: err}
			}
			return assign(fv, v, t.column)
		}
	case ft == readerType:
		// The driver hands over the whole value, so the reader is served
		// from a copy of it.
		var b []byte
		return &b, func() error {
			if b == nil {
				fv.Set(reflect.Zero(ft))
				return nil
			}
			fv.Set(reflect.ValueOf(bytes.NewReader(b)))
			return nil
		}
	case ft == bytesType:
		return fv.Addr().Interface(), nil
	default:
		proxy := scanProxy{original: fv, scan: reflect.New(reflect.PointerTo(ft))}
		return proxy.scan.Interface(), proxy.onSuccess
	}
}

func assign(fv reflect.Value, v any, column string) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	if !rv.Type().AssignableTo(fv.Type()) {
		return &ConversionError{Column: column, Type: fv.Type(), Err: fmt.Errorf("converter returned %s", rv.Type())}
	}
	fv.Set(rv)
	return nil
}

// plan returns the decoding plan of t for this result set, building it on
// first use.
func (c *Cursor) plan(t reflect.Type) (*plan, error) {
	if p, ok := c.plans[t]; ok {
		return p, nil
	}
	var e *mapping.Entity
	if c.reg != nil {
		e, _ = c.reg.Entity(t)
	}
	var info *typeinfo.Info
	if e == nil {
		var err error
		if info, err = typeinfo.GetTypeInfo(t); err != nil {
			return nil, err
		}
	}

	p := &plan{typ: t, targets: make([]target, len(c.columns))}
	seen := make(map[int]bool)
	for i, name := range c.columns {
		p.targets[i].column = name
		if e != nil {
			col, ok := e.ColumnByName(name)
			if !ok || seen[col.Field.Index] {
				continue
			}
			f := col.Field
			p.targets[i].field = &f
			if col.Conv != nil && col.Conv.From != nil {
				p.targets[i].from = col.Conv.From
			}
			seen[f.Index] = true
			continue
		}
		f, ok := info.FieldByLabel(name)
		if !ok || seen[f.Index] {
			continue
		}
		p.targets[i].field = &f
		seen[f.Index] = true
	}
	c.plans[t] = p
	return p, nil
}

// scanProxy is a shim for scanning into a field through a pointer, so that
// NULL results in the zero value instead of a scan error.
type scanProxy struct {
	original reflect.Value
	scan     reflect.Value
}

func (sp scanProxy) onSuccess() error {
	var val reflect.Value
	if !sp.scan.Elem().IsNil() {
		val = sp.scan.Elem().Elem()
	} else {
		val = reflect.Zero(sp.original.Type())
	}
	sp.original.Set(val)
	return nil
}
