// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package compile renders statement trees into parameterized SQL.

The four statement compilers share one value and predicate core. Every value
becomes a placeholder; values known at compile time are stored in the
resulting Template while bound parameters are read from a row value each time
the template is bound. Compiling the same tree twice yields identical SQL and
parameter order.
*/
package compile
