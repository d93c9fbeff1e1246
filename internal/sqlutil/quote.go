// Package sqlutil provides SQL utility functions.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, alias)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteQualified quotes a column reference qualified by a table alias.
// An empty qualifier yields the bare quoted column and the column "*" is left
// unquoted so it selects every column of the qualifier.
func QuoteQualified(qualifier, column string) string {
	col := "*"
	if column != "*" {
		col = QuoteIdentifier(column)
	}
	if qualifier == "" {
		return col
	}
	return QuoteIdentifier(qualifier) + "." + col
}
