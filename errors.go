package main

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ConnectionError reports a database that could not be reached.
type ConnectionError struct {
	Host     string
	Port     int
	Database string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s:%d/%s: %v", e.Host, e.Port, e.Database, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError reports a failed statement. Message is the server's message
// when the failure came from PostgreSQL.
type QueryError struct {
	Op      string
	SQL     string
	Message string
	Code    string
	Err     error
}

func newQueryError(op, sql string, err error) *QueryError {
	qe := &QueryError{Op: op, SQL: sql, Message: err.Error(), Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		qe.Message = pgErr.Message
		qe.Code = pgErr.Code
	}
	return qe
}

func (e *QueryError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *QueryError) Unwrap() error { return e.Err }

// TransferError reports a failed row stream between two tables. Rows the
// importer may have written before the failure are rolled back by the
// server; callers should not rely on their presence or absence.
type TransferError struct {
	Source QualifiedName
	Dest   QualifiedName
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s -> %s: %v", e.Source, e.Dest, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// MalformedNameError rejects a table name that is not "schema.table".
type MalformedNameError struct {
	Input string
}

func (e *MalformedNameError) Error() string {
	return fmt.Sprintf("malformed table name %q: expected schema.table", e.Input)
}

// InvalidGlobError rejects a table pattern before any database I/O.
type InvalidGlobError struct {
	Pattern string
	Reason  string
}

func (e *InvalidGlobError) Error() string {
	return fmt.Sprintf("invalid table pattern %q: %s", e.Pattern, e.Reason)
}
