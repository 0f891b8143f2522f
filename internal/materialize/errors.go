// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package materialize

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// ErrConversion is matched by every ConversionError.
var ErrConversion = errors.New("cannot convert value")

// ConversionError reports a result value that could not be stored in its
// destination field.
type ConversionError struct {
	// Column is empty when the failing column is not known.
	Column string
	Type   reflect.Type
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("cannot convert row into %s: %s", e.Type, e.Err)
	}
	return fmt.Sprintf("cannot convert column %s into %s: %s", e.Column, e.Type, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrConversion
}
