package main

// ColumnDefinition is one column of an introspected table, in ordinal order.
type ColumnDefinition struct {
	Name     string
	Type     string // format_type() output, e.g. "character varying(64)", "integer[]"
	Nullable bool
}

// IndexDefinition is an index read from the source table and replayed on
// the destination after the data transfer.
type IndexDefinition struct {
	Name      string
	Unique    bool
	Primary   bool
	Predicate string   // partial-index WHERE clause without its wrapping parentheses
	Columns   []string // key column expressions as rendered by pg_get_indexdef
}

// CopyOptions controls a single CopyTable or CopyTables call.
type CopyOptions struct {
	CreateSchema bool
	SkipIndexes  bool
	ForceSchema  string

	// ListFromSource makes CopyTables enumerate candidate tables on the
	// source database instead of the destination.
	ListFromSource bool
}

func defaultCopyOptions() CopyOptions {
	return CopyOptions{CreateSchema: true}
}

// CreateTableOptions controls Catalog.CreateTable.
type CreateTableOptions struct {
	// Temporary creates and drops the table in one transaction to validate
	// the DDL without persisting anything.
	Temporary bool
}
