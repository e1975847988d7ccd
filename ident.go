package main

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// pgReserved holds PostgreSQL reserved key words that cannot appear
// unquoted as table or column names.
var pgReserved = func() map[string]struct{} {
	words := strings.Fields(`
		all analyse analyze and any array as asc asymmetric authorization
		between binary both case cast check collate collation column
		concurrently constraint create cross current_catalog current_date
		current_role current_schema current_time current_timestamp
		current_user default deferrable desc distinct do else end except
		false fetch for foreign freeze from full grant group having ilike
		in initially inner intersect into is isnull join lateral leading
		left like limit localtime localtimestamp natural not notnull null
		offset on only or order outer overlaps placing primary references
		returning right select session_user similar some symmetric system_user
		table tablesample then to trailing true union unique user using
		variadic verbose when where window with`)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()

// pgNeedsQuoting reports whether name would be folded or rejected by the
// parser when written bare.
func pgNeedsQuoting(name string) bool {
	if name == "" {
		return true
	}
	if _, ok := pgReserved[name]; ok {
		return true
	}
	for i, r := range name {
		if r >= 'a' && r <= 'z' || r == '_' {
			continue
		}
		if i > 0 && (r >= '0' && r <= '9' || r == '$') {
			continue
		}
		return true
	}
	return false
}

// pgIdent renders a single identifier for DDL. Plain lower-case names are
// emitted bare; everything else goes through pgx's sanitizer, which wraps
// the name in double quotes and doubles embedded quotes.
func pgIdent(name string) string {
	if pgNeedsQuoting(name) {
		return pgx.Identifier{name}.Sanitize()
	}
	return name
}
