package main

import (
	"fmt"
	"strings"
)

// createTableStatement renders CREATE [TEMPORARY] TABLE for the given columns.
// Temporary tables cannot be schema-qualified, so only the table name is used.
func createTableStatement(name QualifiedName, columns []ColumnDefinition, temporary bool) string {
	var b strings.Builder
	if temporary {
		fmt.Fprintf(&b, "CREATE TEMPORARY TABLE %s (\n", pgIdent(name.Table))
	} else {
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", name.Sanitized())
	}

	for i, col := range columns {
		fmt.Fprintf(&b, "  %s %s", pgIdent(col.Name), col.Type)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(columns)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}

	b.WriteString(");")
	return b.String()
}

// indexStatement renders the DDL that recreates idx on table. A primary key
// lists every key column, so composite keys survive the copy; a
// single-column key renders as ADD PRIMARY KEY (col).
func indexStatement(table QualifiedName, idx IndexDefinition) string {
	cols := strings.Join(idx.Columns, ", ")
	if idx.Primary {
		return fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", table.Sanitized(), cols)
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	q := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, pgIdent(idx.Name), table.Sanitized(), cols)
	if idx.Predicate != "" {
		q += " WHERE " + idx.Predicate
	}
	return q
}

// stripWrappingParens removes one pair of parentheses enclosing the whole
// expression, as pg_get_expr adds around index predicates.
func stripWrappingParens(expr string) string {
	if len(expr) < 2 || expr[0] != '(' || expr[len(expr)-1] != ')' {
		return expr
	}
	depth := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(expr)-1 {
				// "(a) AND (b)": the first paren closes early.
				return expr
			}
		}
	}
	return expr[1 : len(expr)-1]
}
