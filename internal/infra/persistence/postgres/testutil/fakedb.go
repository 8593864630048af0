// Package testutil provides an in-memory database/sql driver that follows the
// catalog's Postgres DDL, so the Postgres store can be tested without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"

	"instrumentdb/internal/infra/persistence/sqlbundle"
)

// Faults makes selected operations of a FakeDB fail.
type Faults struct {
	Ping   bool
	Begin  bool
	Commit bool
	// Tables fails every INSERT and SELECT on the named tables.
	Tables map[string]bool
	// RowsErr is returned once a SELECT has yielded all its rows.
	RowsErr error
}

// FakeDB is the state shared by every connection of a fake database. Tables
// exist once a CREATE TABLE statement has been executed and enforce their
// primary keys, including the composite keys of the link tables.
type FakeDB struct {
	mu         sync.Mutex
	Statements []string
	Faults     Faults
	tables     map[string]*fakeTable
	// saved holds the rows as they were when the open transaction began.
	saved map[string][]fakeRow
}

type fakeTable struct {
	columns []string
	key     []string
	rows    []fakeRow
}

type fakeRow map[string]driver.Value

// Open returns a sql.DB backed by a new, empty FakeDB.
func Open() (*sql.DB, *FakeDB) {
	f := &FakeDB{tables: make(map[string]*fakeTable)}
	return sql.OpenDB(connector{db: f}), f
}

// OpenCatalog is Open with the catalog's Postgres DDL already applied.
func OpenCatalog() (*sql.DB, *FakeDB, error) {
	db, f := Open()
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.Postgres()) {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return db, f, nil
}

// Rows returns a copy of the rows of table in insertion order.
func (f *FakeDB) Rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[table]
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(t.rows))
	for _, r := range t.rows {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// HasTable reports whether a CREATE TABLE for name has run.
func (f *FakeDB) HasTable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[name]
	return ok
}

func (f *FakeDB) exec(query string, args []driver.NamedValue) (driver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stmt := normalizeSQL(query)
	f.Statements = append(f.Statements, stmt)
	upper := strings.ToUpper(stmt)
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return driver.RowsAffected(0), f.createTable(stmt)
	case strings.HasPrefix(upper, "CREATE INDEX"), strings.HasPrefix(upper, "CREATE UNIQUE INDEX"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO "):
		return f.insert(stmt, args)
	case strings.HasPrefix(upper, "DELETE FROM "):
		return f.delete(stmt, args)
	default:
		return nil, fmt.Errorf("fakedb: unsupported statement %q", stmt)
	}
}

func (f *FakeDB) createTable(stmt string) error {
	open, closeIdx := strings.Index(stmt, "("), strings.LastIndex(stmt, ")")
	if open == -1 || closeIdx < open {
		return fmt.Errorf("fakedb: cannot parse %q", stmt)
	}
	head := strings.Fields(stmt[:open])
	name := strings.ToLower(head[len(head)-1])
	if _, ok := f.tables[name]; ok {
		if strings.Contains(strings.ToUpper(stmt[:open]), "IF NOT EXISTS") {
			return nil
		}
		return fmt.Errorf("relation %q already exists", name)
	}
	t := &fakeTable{}
	for _, item := range splitTopLevel(stmt[open+1 : closeIdx]) {
		upper := strings.ToUpper(item)
		switch {
		case strings.HasPrefix(upper, "PRIMARY KEY"):
			t.key = parenList(item)
		case strings.HasPrefix(upper, "CONSTRAINT"), strings.HasPrefix(upper, "UNIQUE"), strings.HasPrefix(upper, "FOREIGN KEY"):
		default:
			col := strings.ToLower(strings.Fields(item)[0])
			t.columns = append(t.columns, col)
			if strings.Contains(upper, "PRIMARY KEY") {
				t.key = []string{col}
			}
		}
	}
	if len(t.key) == 0 {
		return fmt.Errorf("fakedb: table %s has no primary key", name)
	}
	f.tables[name] = t
	return nil
}

func (f *FakeDB) table(name string) (*fakeTable, error) {
	if f.Faults.Tables[name] {
		return nil, fmt.Errorf("fakedb: injected failure for %s", name)
	}
	t, ok := f.tables[name]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}
	return t, nil
}

func (t *fakeTable) hasColumn(col string) bool {
	for _, c := range t.columns {
		if c == col {
			return true
		}
	}
	return false
}

func (t *fakeTable) keyOf(r fakeRow) string {
	parts := make([]string, len(t.key))
	for i, col := range t.key {
		parts[i] = fmt.Sprint(r[col])
	}
	return strings.Join(parts, "\x00")
}

// insert handles INSERT INTO t (cols) VALUES (...) with an optional
// ON CONFLICT clause on the primary key.
func (f *FakeDB) insert(stmt string, args []driver.NamedValue) (driver.Result, error) {
	rest := stmt[len("INSERT INTO "):]
	open := strings.Index(rest, "(")
	if open == -1 {
		return nil, fmt.Errorf("fakedb: cannot parse %q", stmt)
	}
	name := strings.ToLower(strings.TrimSpace(rest[:open]))
	t, err := f.table(name)
	if err != nil {
		return nil, err
	}
	cols := parenList(rest[open:])
	if len(cols) != len(args) {
		return nil, fmt.Errorf("fakedb: %d columns but %d arguments for %s", len(cols), len(args), name)
	}
	r := make(fakeRow, len(t.columns))
	for i, col := range cols {
		if !t.hasColumn(col) {
			return nil, fmt.Errorf("column %q of relation %q does not exist", col, name)
		}
		r[col] = args[i].Value
	}
	upsert := false
	if idx := strings.Index(strings.ToUpper(stmt), " ON CONFLICT "); idx != -1 {
		target := parenList(stmt[idx:])
		if strings.Join(target, ",") != strings.Join(t.key, ",") {
			return nil, fmt.Errorf("no unique constraint matching ON CONFLICT (%s) on %s", strings.Join(target, ", "), name)
		}
		upsert = true
	}
	key := t.keyOf(r)
	for i, existing := range t.rows {
		if t.keyOf(existing) != key {
			continue
		}
		if !upsert {
			return nil, fmt.Errorf("duplicate key value violates unique constraint %q", name+"_pkey")
		}
		t.rows[i] = r
		return driver.RowsAffected(1), nil
	}
	t.rows = append(t.rows, r)
	return driver.RowsAffected(1), nil
}

// delete handles DELETE FROM t WHERE col = $1.
func (f *FakeDB) delete(stmt string, args []driver.NamedValue) (driver.Result, error) {
	rest := stmt[len("DELETE FROM "):]
	where := strings.Index(strings.ToUpper(rest), " WHERE ")
	if where == -1 {
		return nil, fmt.Errorf("fakedb: unconditional delete %q", stmt)
	}
	name := strings.ToLower(strings.TrimSpace(rest[:where]))
	t, err := f.table(name)
	if err != nil {
		return nil, err
	}
	pred := strings.SplitN(rest[where+len(" WHERE "):], "=", 2)
	col := strings.ToLower(strings.TrimSpace(pred[0]))
	if len(pred) != 2 || !t.hasColumn(col) {
		return nil, fmt.Errorf("fakedb: cannot parse predicate of %q", stmt)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("fakedb: delete from %s expects one argument", name)
	}
	target := fmt.Sprint(args[0].Value)
	kept := t.rows[:0:0]
	for _, r := range t.rows {
		if fmt.Sprint(r[col]) != target {
			kept = append(kept, r)
		}
	}
	removed := len(t.rows) - len(kept)
	t.rows = kept
	return driver.RowsAffected(int64(removed)), nil
}

// query handles SELECT cols FROM t.
func (f *FakeDB) query(query string) (driver.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stmt := normalizeSQL(query)
	upper := strings.ToUpper(stmt)
	from := strings.Index(upper, " FROM ")
	if !strings.HasPrefix(upper, "SELECT ") || from == -1 {
		return nil, fmt.Errorf("fakedb: unsupported query %q", stmt)
	}
	name := strings.ToLower(strings.Fields(stmt[from+len(" FROM "):])[0])
	t, err := f.table(name)
	if err != nil {
		return nil, err
	}
	cols := splitTopLevel(stmt[len("SELECT "):from])
	for i, col := range cols {
		cols[i] = strings.ToLower(col)
		if !t.hasColumn(cols[i]) {
			return nil, fmt.Errorf("column %q does not exist", col)
		}
	}
	values := make([][]driver.Value, 0, len(t.rows))
	for _, r := range t.rows {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = r[col]
		}
		values = append(values, vals)
	}
	return &fakeRows{cols: cols, rows: values, err: f.Faults.RowsErr}, nil
}

func (f *FakeDB) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Faults.Begin {
		return fmt.Errorf("fakedb: begin failed")
	}
	if f.saved != nil {
		return fmt.Errorf("fakedb: transaction already open")
	}
	f.saved = make(map[string][]fakeRow, len(f.tables))
	for name, t := range f.tables {
		f.saved[name] = append([]fakeRow(nil), t.rows...)
	}
	return nil
}

func (f *FakeDB) finish(commit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.saved = nil }()
	if commit && f.Faults.Commit {
		f.restore()
		return fmt.Errorf("fakedb: commit failed")
	}
	if !commit {
		f.restore()
	}
	return nil
}

func (f *FakeDB) restore() {
	for name, rows := range f.saved {
		if t, ok := f.tables[name]; ok {
			t.rows = rows
		}
	}
}

type connector struct{ db *FakeDB }

func (c connector) Connect(context.Context) (driver.Conn, error) { return &fakeConn{db: c.db}, nil }
func (c connector) Driver() driver.Driver                        { return fakeDriver{db: c.db} }

type fakeDriver struct{ db *FakeDB }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &fakeConn{db: d.db}, nil }

type fakeConn struct{ db *FakeDB }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("fakedb: prepared statements are not supported")
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return c.BeginTx(context.Background(), driver.TxOptions{}) }

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.db.begin(); err != nil {
		return nil, err
	}
	return fakeTx{db: c.db}, nil
}

func (c *fakeConn) Ping(context.Context) error {
	if c.db.Faults.Ping {
		return fmt.Errorf("fakedb: connection refused")
	}
	return nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.db.exec(query, args)
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	return c.db.query(query)
}

type fakeTx struct{ db *FakeDB }

func (t fakeTx) Commit() error   { return t.db.finish(true) }
func (t fakeTx) Rollback() error { return t.db.finish(false) }

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

// normalizeSQL drops comments and the trailing semicolon and collapses
// whitespace.
func normalizeSQL(query string) string {
	var b strings.Builder
	for _, line := range strings.Split(query, "\n") {
		if i := strings.Index(line, "--"); i != -1 {
			line = line[:i]
		}
		b.WriteString(line)
		b.WriteByte(' ')
	}
	return strings.TrimSuffix(strings.Join(strings.Fields(b.String()), " "), ";")
}

// splitTopLevel splits a comma separated list, ignoring commas nested in
// parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// parenList returns the lower-cased names in the first parenthesised list of s.
func parenList(s string) []string {
	open := strings.Index(s, "(")
	closeIdx := strings.Index(s, ")")
	if open == -1 || closeIdx < open {
		return nil
	}
	names := splitTopLevel(s[open+1 : closeIdx])
	for i, n := range names {
		names[i] = strings.ToLower(n)
	}
	return names
}
