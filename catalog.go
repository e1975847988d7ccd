package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Catalog is the gateway to one PostgreSQL database. Every method opens
// its own connection and closes it before returning; nothing is pooled or
// shared between calls.
type Catalog struct {
	connConfig *pgx.ConnConfig
}

// newCatalog parses cfg once; connections are opened per call.
func newCatalog(cfg ConnectionConfig) (*Catalog, error) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	connConfig, err := pgx.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	return &Catalog{connConfig: connConfig}, nil
}

// String identifies the database in log lines. It never includes the password.
func (c *Catalog) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.connConfig.User, c.connConfig.Host, c.connConfig.Port, c.connConfig.Database)
}

func (c *Catalog) withConn(ctx context.Context, fn func(conn *pgx.Conn) error) error {
	conn, err := pgx.ConnectConfig(ctx, c.connConfig)
	if err != nil {
		return &ConnectionError{
			Host:     c.connConfig.Host,
			Port:     int(c.connConfig.Port),
			Database: c.connConfig.Database,
			Err:      err,
		}
	}
	defer conn.Close(context.WithoutCancel(ctx))
	return fn(conn)
}

// schemaExecutor is satisfied by both *pgx.Conn and pgx.Tx.
type schemaExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func execSQL(ctx context.Context, exec schemaExecutor, op, sql string, args ...any) error {
	if _, err := exec.Exec(ctx, sql, args...); err != nil {
		return newQueryError(op, sql, err)
	}
	return nil
}

func queryStrings(ctx context.Context, exec schemaExecutor, op, sql string, args ...any) ([]string, error) {
	rows, err := exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, newQueryError(op, sql, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, newQueryError(op, sql, err)
	}
	return out, nil
}

const listTablesSQL = `SELECT table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
  AND table_schema = $1
ORDER BY 1`

// ListTables returns the base tables of schema in ascending order.
func (c *Catalog) ListTables(ctx context.Context, schema string) ([]string, error) {
	var tables []string
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		var err error
		tables, err = queryStrings(ctx, conn, "list tables", listTablesSQL, schema)
		return err
	})
	return tables, err
}

const listSchemasSQL = `SELECT schema_name
FROM information_schema.schemata
WHERE schema_name <> 'information_schema'
  AND schema_name NOT LIKE 'pg\_%'
ORDER BY 1`

// ListSchemas returns user schemas, skipping information_schema and pg_*.
func (c *Catalog) ListSchemas(ctx context.Context) ([]string, error) {
	var schemas []string
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		var err error
		schemas, err = queryStrings(ctx, conn, "list schemas", listSchemasSQL)
		return err
	})
	return schemas, err
}

const tableTypeSQL = `SELECT table_type
FROM information_schema.tables
WHERE table_schema <> 'pg_catalog'
  AND table_schema <> 'information_schema'
  AND table_schema !~ '^pg_toast'
  AND table_schema = $1
  AND table_name = $2`

// tableExists reports whether schema.table exists. A view or foreign table
// at that name is an error: it can be neither dropped nor replaced as a table.
func tableExists(ctx context.Context, exec schemaExecutor, schema, table string) (bool, error) {
	var tableType string
	err := exec.QueryRow(ctx, tableTypeSQL, schema, table).Scan(&tableType)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, newQueryError("check table existence", tableTypeSQL, err)
	}
	if err := requireBaseTable(QualifiedName{Schema: schema, Table: table}, tableType); err != nil {
		return false, err
	}
	return true, nil
}

func requireBaseTable(name QualifiedName, tableType string) error {
	if tableType == "BASE TABLE" {
		return nil
	}
	kind := strings.ToLower(tableType)
	if tableType == "FOREIGN" {
		kind = "foreign table"
	}
	return &QueryError{
		Op:      "check table existence",
		SQL:     tableTypeSQL,
		Message: fmt.Sprintf("%s is a %s, not a base table", name, kind),
	}
}

// TableExists reports whether schema.table is a table visible to the
// connecting user outside the system schemas.
func (c *Catalog) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var exists bool
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		var err error
		exists, err = tableExists(ctx, conn, schema, table)
		return err
	})
	return exists, err
}

const columnDefinitionsSQL = `SELECT a.attname,
       pg_catalog.format_type(a.atttypid, a.atttypmod),
       NOT a.attnotnull
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1
  AND c.relname = $2
  AND c.relkind IN ('r', 'p')
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum`

// ColumnDefinitions returns the columns of schema.table in physical order.
func (c *Catalog) ColumnDefinitions(ctx context.Context, schema, table string) ([]ColumnDefinition, error) {
	var cols []ColumnDefinition
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, columnDefinitionsSQL, schema, table)
		if err != nil {
			return newQueryError("column definitions", columnDefinitionsSQL, err)
		}
		cols, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ColumnDefinition, error) {
			var col ColumnDefinition
			err := row.Scan(&col.Name, &col.Type, &col.Nullable)
			return col, err
		})
		if err != nil {
			return newQueryError("column definitions", columnDefinitionsSQL, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		name := QualifiedName{Schema: schema, Table: table}
		return nil, &QueryError{
			Op:      "column definitions",
			SQL:     columnDefinitionsSQL,
			Message: fmt.Sprintf("relation %s does not exist or has no columns", name),
		}
	}
	return cols, nil
}

const indexDefinitionsSQL = `SELECT ic.relname,
       i.indisunique,
       i.indisprimary,
       pg_catalog.pg_get_expr(i.indpred, i.indrelid),
       ARRAY(
         SELECT pg_catalog.pg_get_indexdef(i.indexrelid, k, true)
         FROM generate_series(1, i.indnkeyatts) AS k
         ORDER BY k
       )
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_class ic ON ic.oid = i.indexrelid
JOIN pg_catalog.pg_class tc ON tc.oid = i.indrelid
JOIN pg_catalog.pg_namespace n ON n.oid = tc.relnamespace
WHERE n.nspname = $1
  AND tc.relname = $2
ORDER BY ic.oid`

// IndexDefinitions returns every index on schema.table in creation order.
// Columns are expressions, so expression indexes round-trip.
func (c *Catalog) IndexDefinitions(ctx context.Context, schema, table string) ([]IndexDefinition, error) {
	var defs []IndexDefinition
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, indexDefinitionsSQL, schema, table)
		if err != nil {
			return newQueryError("index definitions", indexDefinitionsSQL, err)
		}
		defs, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (IndexDefinition, error) {
			var idx IndexDefinition
			var pred *string
			if err := row.Scan(&idx.Name, &idx.Unique, &idx.Primary, &pred, &idx.Columns); err != nil {
				return idx, err
			}
			if pred != nil {
				idx.Predicate = stripWrappingParens(*pred)
			}
			return idx, nil
		})
		if err != nil {
			return newQueryError("index definitions", indexDefinitionsSQL, err)
		}
		return nil
	})
	return defs, err
}

// CreateSchemaIfMissing is idempotent.
func (c *Catalog) CreateSchemaIfMissing(ctx context.Context, schema string) error {
	q := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", pgIdent(schema))
	return c.withConn(ctx, func(conn *pgx.Conn) error {
		return execSQL(ctx, conn, "create schema", q)
	})
}

// CreateTable creates schema.table from columns and reports whether it did.
// An existing table is left alone. With opts.Temporary the DDL is only
// validated: the table is created and dropped in one transaction, and the
// result is true when the server accepted it.
func (c *Catalog) CreateTable(ctx context.Context, schema, table string, columns []ColumnDefinition, opts CreateTableOptions) (bool, error) {
	name := QualifiedName{Schema: schema, Table: table}
	created := false
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		if opts.Temporary {
			ddl := createTableStatement(name, columns, true)
			return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
				if err := execSQL(ctx, tx, "create temporary table", ddl); err != nil {
					return err
				}
				drop := "DROP TABLE IF EXISTS pg_temp." + pgIdent(table)
				if err := execSQL(ctx, tx, "drop temporary table", drop); err != nil {
					return err
				}
				created = true
				return nil
			})
		}

		exists, err := tableExists(ctx, conn, schema, table)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		ddl := createTableStatement(name, columns, false)
		if err := execSQL(ctx, conn, "create table "+name.String(), ddl); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// DropTable drops schema.table when it exists.
func (c *Catalog) DropTable(ctx context.Context, schema, table string) error {
	name := QualifiedName{Schema: schema, Table: table}
	return c.withConn(ctx, func(conn *pgx.Conn) error {
		exists, err := tableExists(ctx, conn, schema, table)
		if err != nil || !exists {
			return err
		}
		return execSQL(ctx, conn, "drop table "+name.String(), "DROP TABLE "+name.Sanitized())
	})
}

// RenameTable moves from onto to inside a single transaction, dropping any
// table already at to. Readers of to observe either the old or the new
// table, never an intermediate state.
func (c *Catalog) RenameTable(ctx context.Context, schema, from, to string) error {
	src := QualifiedName{Schema: schema, Table: from}
	dst := QualifiedName{Schema: schema, Table: to}
	return c.withConn(ctx, func(conn *pgx.Conn) error {
		return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			exists, err := tableExists(ctx, tx, schema, to)
			if err != nil {
				return err
			}
			if exists {
				if err := execSQL(ctx, tx, "drop table "+dst.String(), "DROP TABLE "+dst.Sanitized()); err != nil {
					return err
				}
			}
			q := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", src.Sanitized(), pgIdent(to))
			return execSQL(ctx, tx, "rename table "+src.String(), q)
		})
	})
}

// ExportRows streams schema.table to w in COPY text format and returns the
// number of rows written.
func (c *Catalog) ExportRows(ctx context.Context, schema, table string, w io.Writer) (int64, error) {
	name := QualifiedName{Schema: schema, Table: table}
	q := fmt.Sprintf("COPY (SELECT * FROM %s) TO STDOUT", name.Sanitized())
	var n int64
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.PgConn().CopyTo(ctx, w, q)
		if err != nil {
			return newQueryError("export "+name.String(), q, err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// ImportRows loads COPY text format from r into schema.table and returns
// the number of rows loaded. The server applies the whole stream or none of it.
func (c *Catalog) ImportRows(ctx context.Context, schema, table string, r io.Reader) (int64, error) {
	name := QualifiedName{Schema: schema, Table: table}
	q := fmt.Sprintf("COPY %s FROM STDIN", name.Sanitized())
	var n int64
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.PgConn().CopyFrom(ctx, r, q)
		if err != nil {
			return newQueryError("import "+name.String(), q, err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// CreateIndexes applies defs to schema.table in the order given.
func (c *Catalog) CreateIndexes(ctx context.Context, schema, table string, defs []IndexDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	name := QualifiedName{Schema: schema, Table: table}
	return c.withConn(ctx, func(conn *pgx.Conn) error {
		for _, idx := range defs {
			if err := execSQL(ctx, conn, "create index "+idx.Name, indexStatement(name, idx)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CopyFromFile loads CSV from r into schema.table and returns the number
// of rows loaded. With header set the first line is skipped.
func (c *Catalog) CopyFromFile(ctx context.Context, schema, table string, r io.Reader, header bool) (int64, error) {
	name := QualifiedName{Schema: schema, Table: table}
	q := fmt.Sprintf("COPY %s FROM STDIN CSV", name.Sanitized())
	if header {
		q += " HEADER"
	}
	var n int64
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.PgConn().CopyFrom(ctx, r, q)
		if err != nil {
			return newQueryError("load "+name.String(), q, err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// CreateTableFromQuery replaces schema.table with the result of query in
// one transaction: drop if present, create from columns, insert.
func (c *Catalog) CreateTableFromQuery(ctx context.Context, schema, table string, columns []ColumnDefinition, query string) (int64, error) {
	name := QualifiedName{Schema: schema, Table: table}
	var n int64
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if err := execSQL(ctx, tx, "drop table "+name.String(), "DROP TABLE IF EXISTS "+name.Sanitized()); err != nil {
				return err
			}
			if err := execSQL(ctx, tx, "create table "+name.String(), createTableStatement(name, columns, false)); err != nil {
				return err
			}
			q := fmt.Sprintf("INSERT INTO %s\n%s", name.Sanitized(), query)
			tag, err := tx.Exec(ctx, q)
			if err != nil {
				return newQueryError("insert into "+name.String(), q, err)
			}
			n = tag.RowsAffected()
			return nil
		})
	})
	return n, err
}

const formatTypeSQL = `SELECT pg_catalog.format_type($1::oid, $2::int)`

// QueryColumns describes the result columns of query without running it.
// Every column is reported nullable.
func (c *Catalog) QueryColumns(ctx context.Context, query string) ([]ColumnDefinition, error) {
	var cols []ColumnDefinition
	err := c.withConn(ctx, func(conn *pgx.Conn) error {
		sd, err := conn.Prepare(ctx, "", query)
		if err != nil {
			return newQueryError("describe query", query, err)
		}
		for _, f := range sd.Fields {
			col := ColumnDefinition{Name: f.Name, Nullable: true}
			if err := conn.QueryRow(ctx, formatTypeSQL, f.DataTypeOID, f.TypeModifier).Scan(&col.Type); err != nil {
				return newQueryError("describe query", formatTypeSQL, err)
			}
			cols = append(cols, col)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &QueryError{Op: "describe query", SQL: query, Message: "query returns no columns"}
	}
	return cols, nil
}

// Exec runs an ad-hoc statement.
func (c *Catalog) Exec(ctx context.Context, sql string, args ...any) error {
	return c.withConn(ctx, func(conn *pgx.Conn) error {
		return execSQL(ctx, conn, "exec", sql, args...)
	})
}
