// Package query builds the full-text search statement and the shell
// commands that run it over shard files.
package query

import (
	"fmt"
	"strings"
)

// Table and Column name the FTS table every shard file carries.
const (
	Table  = "syslog"
	Column = "logs"
)

// Statement returns the SQL for a search. A blank match selects every row
// (or counts them). Otherwise match is used as an FTS MATCH expression;
// exact wraps it in double quotes for phrase semantics.
//
// Quotes in match are doubled before interpolation. That escaping is not
// injection safe; it is what the shard query tools have always received.
func Statement(match string, count, exact bool) string {
	column := "*"
	if count {
		column = "count(*)"
	}

	if strings.TrimSpace(match) == "" {
		return fmt.Sprintf("select %s from %s", column, Table)
	}

	escaped := strings.ReplaceAll(match, "'", "''")
	if exact {
		return fmt.Sprintf(`select %s from %s where %s match '"%s"';`, column, Table, Column, escaped)
	}
	return fmt.Sprintf(`select %s from %s where %s match '%s';`, column, Table, Column, escaped)
}
