// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package mapping

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/canonical/fluentquery/internal/ast"
	"github.com/canonical/fluentquery/internal/typeinfo"
)

// ErrNoMapping is returned when an entity type has no registered convention.
var ErrNoMapping = errors.New("no mapping")

type snapshot map[reflect.Type]*Entity

// Registry holds the conventions of all registered entity types. Lookups
// read an immutable snapshot and never lock; registration publishes a new
// snapshot.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{})
	return r
}

// Register adds the conventions to the registry. A convention for an entity
// type that is already registered replaces the previous one. Relations must
// target entity types that are registered, possibly by the same call.
func (r *Registry) Register(entities ...*Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snap.Load()
	next := make(snapshot, len(old)+len(entities))
	for t, e := range old {
		next[t] = e
	}
	for _, e := range entities {
		if len(e.Columns) == 0 {
			return errors.Errorf("cannot register %s: no columns mapped", e.Type.Name())
		}
		next[e.Type] = e
	}
	for _, e := range entities {
		for _, rel := range e.Relations {
			target, ok := next[rel.Target.Entity]
			if !ok {
				return errors.Wrapf(ErrNoMapping, "cannot register %s: relation %s targets unregistered entity", e.Type.Name(), rel.Member)
			}
			if _, ok := target.Column(rel.Target.Member); !ok {
				return errors.Errorf("cannot register %s: relation %s targets unmapped member %s", e.Type.Name(), rel.Member, rel.Target)
			}
		}
	}
	r.snap.Store(&next)
	return nil
}

// Entity returns the convention registered for t.
func (r *Registry) Entity(t reflect.Type) (*Entity, error) {
	e, ok := (*r.snap.Load())[t]
	if !ok {
		name := "<nil>"
		if t != nil {
			name = t.String()
		}
		return nil, errors.Wrapf(ErrNoMapping, "entity %s", name)
	}
	return e, nil
}

// Entities returns the registered conventions in no particular order.
func (r *Registry) Entities() []*Entity {
	snap := *r.snap.Load()
	es := make([]*Entity, 0, len(snap))
	for _, e := range snap {
		es = append(es, e)
	}
	return es
}

func (r *Registry) TableName(t reflect.Type) (string, error) {
	e, err := r.Entity(t)
	if err != nil {
		return "", err
	}
	return e.Table, nil
}

// Column returns the column a reference resolves to.
func (r *Registry) Column(ref ast.ColumnRef) (Column, error) {
	if ref.Err != nil {
		return Column{}, ref.Err
	}
	e, err := r.Entity(ref.Entity)
	if err != nil {
		return Column{}, err
	}
	col, ok := e.Column(ref.Member)
	if !ok {
		return Column{}, errors.Wrapf(typeinfo.ErrUnresolvableMember, "member %s is not mapped", ref)
	}
	return col, nil
}

func (r *Registry) ColumnOf(ref ast.ColumnRef) (string, error) {
	col, err := r.Column(ref)
	if err != nil {
		return "", err
	}
	return col.Name, nil
}

// MemberOf returns the member mapped to column, ignoring case.
func (r *Registry) MemberOf(t reflect.Type, column string) (string, error) {
	e, err := r.Entity(t)
	if err != nil {
		return "", err
	}
	col, ok := e.ColumnByName(column)
	if !ok {
		return "", errors.Wrapf(typeinfo.ErrUnresolvableMember, "column %s is not mapped for %s", column, t.Name())
	}
	return col.Member, nil
}
