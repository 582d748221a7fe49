package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// A Selection narrows the rows ReadTable returns. The zero value selects
// every row in insertion order.
type Selection struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
}

func (s Selection) clause() string {
	var b strings.Builder

	if s.Where != "" {
		b.WriteString(" WHERE " + s.Where)
	}

	if s.OrderBy != "" {
		b.WriteString(" ORDER BY " + s.OrderBy)
	}

	if s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}

	return b.String()
}

// A Reader reads back the tables written by a DataRecorder.
type Reader struct {
	db *sql.DB
}

// OpenReader opens a result database. The ".sqlite3" extension is added when
// path does not carry it.
func OpenReader(path string) (*Reader, error) {
	if !strings.HasSuffix(path, ".sqlite3") {
		path += ".sqlite3"
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}

	return &Reader{db: db}, nil
}

// Close releases the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Tables lists the tables in the database, sorted by name.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		names = append(names, name)
	}

	slices.Sort(names)

	return names, rows.Err()
}

// HasTable tells if the database holds the named table.
func (r *Reader) HasTable(ctx context.Context, name string) (bool, error) {
	tables, err := r.Tables(ctx)
	if err != nil {
		return false, err
	}

	_, found := slices.BinarySearch(tables, name)

	return found, nil
}

// Count returns the number of rows of a table that match sel. Order and limit
// are ignored.
func (r *Reader) Count(
	ctx context.Context,
	table string,
	sel Selection,
) (int, error) {
	sel.OrderBy = ""
	sel.Limit = 0

	var n int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+sel.clause(), sel.Args...).Scan(&n)

	return n, err
}

// ReadTable loads the rows of a table into values of T. Columns are matched to
// the exported fields of T by name and columns without a field are skipped.
func ReadTable[T any](
	ctx context.Context,
	r *Reader,
	table string,
	sel Selection,
) ([]T, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot read table %s into %s", table, t)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT * FROM "+table+sel.clause(), sel.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []T

	for rows.Next() {
		var entry T

		if err := rows.Scan(scanTargets(&entry, columns)...); err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}

		out = append(out, entry)
	}

	return out, rows.Err()
}

func scanTargets(entry any, columns []string) []any {
	v := reflect.ValueOf(entry).Elem()
	targets := make([]any, len(columns))

	for i, col := range columns {
		f := v.FieldByName(col)
		if f.IsValid() && f.CanSet() {
			targets[i] = f.Addr().Interface()
			continue
		}

		targets[i] = new(any)
	}

	return targets
}

// Profiles reads the clockable profile table. A database without the table
// yields no entries.
func (r *Reader) Profiles(ctx context.Context) ([]ProfileEntry, error) {
	return readIfPresent[ProfileEntry](ctx, r, ProfileTable,
		Selection{OrderBy: "Domain, Clockable"})
}

// FreqChanges reads the recorded frequency changes in the order they
// happened.
func (r *Reader) FreqChanges(ctx context.Context) ([]FreqChangeEntry, error) {
	return readIfPresent[FreqChangeEntry](ctx, r, FreqChangeTable, Selection{})
}

// ExecInfo reads the properties of the run.
func (r *Reader) ExecInfo(ctx context.Context) ([]ExecInfo, error) {
	return readIfPresent[ExecInfo](ctx, r, ExecTable, Selection{})
}

func readIfPresent[T any](
	ctx context.Context,
	r *Reader,
	table string,
	sel Selection,
) ([]T, error) {
	ok, err := r.HasTable(ctx, table)
	if err != nil || !ok {
		return nil, err
	}

	return ReadTable[T](ctx, r, table, sel)
}
