package typeinfo

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrUnresolvableMember is returned when a struct member cannot be mapped to
// a single top-level field.
var ErrUnresolvableMember = errors.New("unresolvable member")

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type]*Info)

// GetTypeInfo will return the Info of a given struct type, generating and
// caching as required. Pointer types are dereferenced.
func GetTypeInfo(t reflect.Type) (*Info, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot reflect nil type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	cacheMutex.RLock()
	info, found := cache[t]
	cacheMutex.RUnlock()
	if found {
		return info, nil
	}

	info, err := generate(t)
	if err != nil {
		return nil, err
	}

	cacheMutex.Lock()
	if cached, ok := cache[t]; ok {
		info = cached
	} else {
		cache[t] = info
	}
	cacheMutex.Unlock()

	return info, nil
}

// generate produces the field table for the input struct type.
func generate(typ reflect.Type) (*Info, error) {
	// Reflection information is only generated for structs.
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("can only reflect struct type, got %s", typ.Kind())
	}

	info := &Info{
		Type:    typ,
		byName:  make(map[string]int),
		byLabel: make(map[string]int),
	}

	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		f := Field{
			Type:     sf.Type,
			Name:     sf.Name,
			Index:    i,
			Offset:   sf.Offset,
			Exported: sf.IsExported(),
		}
		tag := sf.Tag.Get("db")
		f.Ignored = tag == "-"
		if tag != "" && !f.Ignored {
			name, omitEmpty, err := parseTag(tag)
			if err != nil {
				return nil, fmt.Errorf("cannot parse tag for field %s.%s: %s", typ.Name(), sf.Name, err)
			}
			f.Tag, f.OmitEmpty = name, omitEmpty
			info.tagged = true
		}
		info.Fields = append(info.Fields, f)
		info.byName[f.Name] = len(info.Fields) - 1
		if !f.Exported || f.Ignored {
			continue
		}
		label := strings.ToLower(f.Label())
		if j, dup := info.byLabel[label]; dup {
			return nil, fmt.Errorf("fields %q and %q of %s share the label %q", info.Fields[j].Name, f.Name, typ.Name(), f.Label())
		}
		info.byLabel[label] = len(info.Fields) - 1
	}

	return info, nil
}

// ValidIdentifier matches bare SQL identifiers that may be rendered without
// quoting.
var ValidIdentifier = regexp.MustCompile(`^([a-zA-Z_])+([a-zA-Z_0-9])*$`)

// parseTag parses the input tag string and returns its
// name and whether it contains the "omitempty" option.
func parseTag(tag string) (string, bool, error) {
	options := strings.Split(tag, ",")

	var omitEmpty bool
	// Refuse to parse if there are more than 2 items.
	if len(options) > 2 {
		return "", false, fmt.Errorf("too many options in 'db' tag")
	}
	if len(options) == 2 {
		if strings.ToLower(options[1]) != "omitempty" {
			return "", false, fmt.Errorf("unexpected tag value %q", options[1])
		}
		omitEmpty = true
	}

	name := options[0]
	if len(name) == 0 {
		return "", false, fmt.Errorf("empty db tag")
	}

	if !ValidIdentifier.MatchString(name) {
		return "", false, fmt.Errorf("invalid column name in 'db' tag")
	}

	return name, omitEmpty, nil
}

// Resolve maps a pointer into the struct value at base back to the top-level
// field it addresses. The pointer must have been taken from a field of the
// value at base, e.g. by calling an accessor on it.
func Resolve(base reflect.Value, ptr reflect.Value) (Field, error) {
	if base.Kind() != reflect.Pointer || base.Elem().Kind() != reflect.Struct {
		return Field{}, errors.Wrapf(ErrUnresolvableMember, "need pointer to struct, got %s", base.Type())
	}
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return Field{}, errors.Wrap(ErrUnresolvableMember, "accessor returned nil")
	}
	info, err := GetTypeInfo(base.Type())
	if err != nil {
		return Field{}, errors.Wrap(ErrUnresolvableMember, err.Error())
	}
	start, addr := base.Pointer(), ptr.Pointer()
	size := info.Type.Size()
	if addr < start || addr >= start+size && size > 0 {
		return Field{}, errors.Wrapf(ErrUnresolvableMember, "accessor does not address a member of %s", info.Type.Name())
	}
	f, ok := info.FieldAt(addr-start, ptr.Type().Elem())
	if !ok {
		return Field{}, errors.Wrapf(ErrUnresolvableMember, "accessor does not address a top-level member of %s", info.Type.Name())
	}
	if !f.Exported {
		return Field{}, errors.Wrapf(ErrUnresolvableMember, "member %s.%s is not exported", info.Type.Name(), f.Name)
	}
	return f, nil
}
