package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// callLog is shared by the fakes of one test so ordering across source and
// destination can be asserted.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) index(call string) int {
	for i, c := range l.snapshot() {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeTable struct {
	columns []ColumnDefinition
	indexes []IndexDefinition
	rows    []string
}

// fakeCatalog is an in-memory catalog. Rows are COPY text lines.
type fakeCatalog struct {
	name string
	log  *callLog

	mu      sync.Mutex
	schemas map[string]bool
	tables  map[QualifiedName]*fakeTable
	execs   []string

	// Failure injection.
	failExportAfter int // rows written before failExport is returned
	failExport      error
	failImport      error
	failRename      error
	failIndexes     error
	failExec        error

	// dropImportedRow makes ImportRows lose the last row it reads.
	dropImportedRow bool
	// importStarted, when set, is closed as ImportRows begins; the import
	// then blocks until its context is cancelled.
	importStarted chan struct{}
	// beforeCreate runs at the start of CreateTable.
	beforeCreate func()
}

func newFakeCatalog(name string, log *callLog) *fakeCatalog {
	return &fakeCatalog{
		name:    name,
		log:     log,
		schemas: map[string]bool{"public": true},
		tables:  map[QualifiedName]*fakeTable{},
	}
}

func (f *fakeCatalog) addTable(schema, table string, columns []ColumnDefinition, indexes []IndexDefinition, rows ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[schema] = true
	f.tables[QualifiedName{Schema: schema, Table: table}] = &fakeTable{
		columns: columns,
		indexes: indexes,
		rows:    rows,
	}
}

func (f *fakeCatalog) table(schema, table string) *fakeTable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[QualifiedName{Schema: schema, Table: table}]
}

func (f *fakeCatalog) tableNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for n := range f.tables {
		names = append(names, n.String())
	}
	sort.Strings(names)
	return names
}

func (f *fakeCatalog) record(format string, args ...any) {
	if f.log != nil {
		f.log.add(f.name+"."+format, args...)
	}
}

func (f *fakeCatalog) ListTables(_ context.Context, schema string) ([]string, error) {
	f.record("ListTables(%s)", schema)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for n := range f.tables {
		if n.Schema == schema {
			out = append(out, n.Table)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeCatalog) TableExists(_ context.Context, schema, table string) (bool, error) {
	f.record("TableExists(%s.%s)", schema, table)
	return f.table(schema, table) != nil, nil
}

func (f *fakeCatalog) ColumnDefinitions(_ context.Context, schema, table string) ([]ColumnDefinition, error) {
	f.record("ColumnDefinitions(%s.%s)", schema, table)
	t := f.table(schema, table)
	if t == nil {
		return nil, &QueryError{Op: "column definitions", Message: fmt.Sprintf("relation %s.%s does not exist", schema, table)}
	}
	return append([]ColumnDefinition(nil), t.columns...), nil
}

func (f *fakeCatalog) IndexDefinitions(_ context.Context, schema, table string) ([]IndexDefinition, error) {
	f.record("IndexDefinitions(%s.%s)", schema, table)
	t := f.table(schema, table)
	if t == nil {
		return nil, nil
	}
	return append([]IndexDefinition(nil), t.indexes...), nil
}

func (f *fakeCatalog) CreateSchemaIfMissing(_ context.Context, schema string) error {
	f.record("CreateSchemaIfMissing(%s)", schema)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[schema] = true
	return nil
}

func (f *fakeCatalog) CreateTable(_ context.Context, schema, table string, columns []ColumnDefinition, opts CreateTableOptions) (bool, error) {
	f.record("CreateTable(%s.%s)", schema, table)
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	if opts.Temporary {
		return true, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.schemas[schema] {
		return false, &QueryError{Op: "create table", Message: fmt.Sprintf("schema %q does not exist", schema)}
	}
	name := QualifiedName{Schema: schema, Table: table}
	if _, ok := f.tables[name]; ok {
		return false, nil
	}
	f.tables[name] = &fakeTable{columns: append([]ColumnDefinition(nil), columns...)}
	return true, nil
}

func (f *fakeCatalog) DropTable(_ context.Context, schema, table string) error {
	f.record("DropTable(%s.%s)", schema, table)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tables, QualifiedName{Schema: schema, Table: table})
	return nil
}

func (f *fakeCatalog) RenameTable(_ context.Context, schema, from, to string) error {
	f.record("RenameTable(%s.%s->%s)", schema, from, to)
	if f.failRename != nil {
		return f.failRename
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	src := QualifiedName{Schema: schema, Table: from}
	t, ok := f.tables[src]
	if !ok {
		return &QueryError{Op: "rename table", Message: fmt.Sprintf("relation %s does not exist", src)}
	}
	delete(f.tables, src)
	f.tables[QualifiedName{Schema: schema, Table: to}] = t
	return nil
}

func (f *fakeCatalog) ExportRows(_ context.Context, schema, table string, w io.Writer) (int64, error) {
	f.record("ExportRows(%s.%s)", schema, table)
	t := f.table(schema, table)
	if t == nil {
		return 0, &QueryError{Op: "export", Message: "relation does not exist"}
	}
	f.mu.Lock()
	rows := append([]string(nil), t.rows...)
	f.mu.Unlock()

	var n int64
	for _, row := range rows {
		if f.failExport != nil && int(n) == f.failExportAfter {
			return n, f.failExport
		}
		if _, err := io.WriteString(w, row+"\n"); err != nil {
			return n, err
		}
		n++
	}
	if f.failExport != nil {
		return n, f.failExport
	}
	return n, nil
}

func (f *fakeCatalog) ImportRows(ctx context.Context, schema, table string, r io.Reader) (int64, error) {
	f.record("ImportRows(%s.%s)", schema, table)
	if f.failImport != nil {
		return 0, f.failImport
	}
	if f.importStarted != nil {
		close(f.importStarted)
		<-ctx.Done()
		return 0, ctx.Err()
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	var rows []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		rows = append(rows, sc.Text())
	}
	if f.dropImportedRow && len(rows) > 0 {
		rows = rows[:len(rows)-1]
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[QualifiedName{Schema: schema, Table: table}]
	if !ok {
		return 0, &QueryError{Op: "import", Message: "relation does not exist"}
	}
	t.rows = append(t.rows, rows...)
	return int64(len(rows)), nil
}

func (f *fakeCatalog) CreateIndexes(_ context.Context, schema, table string, defs []IndexDefinition) error {
	f.record("CreateIndexes(%s.%s)", schema, table)
	if f.failIndexes != nil {
		return f.failIndexes
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[QualifiedName{Schema: schema, Table: table}]
	if !ok {
		return &QueryError{Op: "create index", Message: "relation does not exist"}
	}
	t.indexes = append(t.indexes, defs...)
	return nil
}

func (f *fakeCatalog) Exec(_ context.Context, sql string, _ ...any) error {
	f.record("Exec(%s)", strings.TrimSpace(sql))
	if f.failExec != nil {
		return f.failExec
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return nil
}

// recordingLogger keeps every line for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	infos []string
	errs  []string
}

func (l *recordingLogger) Infof(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Errorf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, fmt.Sprintf(format, args...))
}

// fakeRecorder stands in for the SQLite journal.
type fakeRecorder struct {
	begun    []string
	outcomes map[string]copyOutcome
}

func (r *fakeRecorder) Begin(_ context.Context, src, dst QualifiedName) (string, error) {
	id := fmt.Sprintf("run-%d", len(r.begun)+1)
	r.begun = append(r.begun, src.String()+"->"+dst.String())
	return id, nil
}

func (r *fakeRecorder) Finish(_ context.Context, id string, outcome copyOutcome) error {
	if r.outcomes == nil {
		r.outcomes = map[string]copyOutcome{}
	}
	r.outcomes[id] = outcome
	return nil
}
