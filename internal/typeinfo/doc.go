// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package typeinfo contains the per-type field tables used by fluentquery. As
much as possible, reflection over struct layouts is limited to this package.
The tables are generated once per type and cached; they are used to resolve
accessors to struct members, to derive mapping conventions and to match result
columns to the fields of projection types.
*/
package typeinfo
