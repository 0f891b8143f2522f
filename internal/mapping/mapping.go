// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mapping holds the conventions relating entity types to tables and
// their members to columns.
package mapping

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/canonical/fluentquery/internal/ast"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

var validTableRx = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z_0-9]*(\.[a-zA-Z_][a-zA-Z_0-9]*)?$`)

// Converter translates between a member's Go value and the value stored in
// its column. Type is the member type the converter was written for.
type Converter struct {
	Type reflect.Type
	To   func(any) (any, error)
	From func(any) (any, error)
}

// Column maps one member to one column.
type Column struct {
	Member string
	Name   string
	Field  typeinfo.Field
	// Conv is nil when values are passed through unchanged.
	Conv *Converter
}

// ToValue converts a member value into the value bound for the column.
func (c Column) ToValue(v any) (any, error) {
	if c.Conv == nil || c.Conv.To == nil {
		return v, nil
	}
	return c.Conv.To(v)
}

// Relation declares that Member holds the value of Target's column, so the
// two entities may be joined without an explicit condition.
type Relation struct {
	Member string
	Target ast.ColumnRef
}

// Entity is the mapping convention of one entity type.
type Entity struct {
	Type      reflect.Type
	Table     string
	Columns   []Column
	Relations []Relation

	info     *typeinfo.Info
	byMember map[string]int
	byColumn map[string]int
}

// NewEntity starts a mapping of the struct type t to table.
func NewEntity(t reflect.Type, table string) (*Entity, error) {
	info, err := typeinfo.GetTypeInfo(t)
	if err != nil {
		return nil, fmt.Errorf("cannot map %s: %s", t, err)
	}
	if !validTableRx.MatchString(table) {
		return nil, fmt.Errorf("cannot map %s: invalid table name %q", info.Type.Name(), table)
	}
	return &Entity{
		Type:     info.Type,
		Table:    table,
		info:     info,
		byMember: make(map[string]int),
		byColumn: make(map[string]int),
	}, nil
}

// AddColumn maps member to the column name. conv may be nil.
func (e *Entity) AddColumn(member, name string, conv *Converter) error {
	f, ok := e.info.FieldByName(member)
	if !ok || !f.Exported {
		return fmt.Errorf("cannot map %s.%s: no such exported member", e.Type.Name(), member)
	}
	if !typeinfo.ValidIdentifier.MatchString(name) {
		return fmt.Errorf("cannot map %s.%s: invalid column name %q", e.Type.Name(), member, name)
	}
	if _, dup := e.byMember[member]; dup {
		return fmt.Errorf("cannot map %s.%s: member already mapped", e.Type.Name(), member)
	}
	if i, dup := e.byColumn[strings.ToLower(name)]; dup {
		return fmt.Errorf("cannot map %s.%s: column %q already mapped to %s", e.Type.Name(), member, name, e.Columns[i].Member)
	}
	if conv != nil && conv.Type != f.Type {
		return fmt.Errorf("cannot map %s.%s: converter for %s used on member of type %s", e.Type.Name(), member, conv.Type, f.Type)
	}
	e.Columns = append(e.Columns, Column{Member: member, Name: name, Field: f, Conv: conv})
	e.byMember[member] = len(e.Columns) - 1
	e.byColumn[strings.ToLower(name)] = len(e.Columns) - 1
	return nil
}

// AddRelation declares that member references target.
func (e *Entity) AddRelation(member string, target ast.ColumnRef) error {
	if _, ok := e.byMember[member]; !ok {
		return fmt.Errorf("cannot relate %s.%s: member not mapped", e.Type.Name(), member)
	}
	if target.Err != nil {
		return fmt.Errorf("cannot relate %s.%s: %s", e.Type.Name(), member, target.Err)
	}
	e.Relations = append(e.Relations, Relation{Member: member, Target: target})
	return nil
}

// Column returns the column mapped to member.
func (e *Entity) Column(member string) (Column, bool) {
	i, ok := e.byMember[member]
	if !ok {
		return Column{}, false
	}
	return e.Columns[i], true
}

// ColumnByName returns the column with the given name, ignoring case.
func (e *Entity) ColumnByName(name string) (Column, bool) {
	i, ok := e.byColumn[strings.ToLower(name)]
	if !ok {
		return Column{}, false
	}
	return e.Columns[i], true
}
