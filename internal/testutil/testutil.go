// Package testutil provides SQLite fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/sqliteutil"
)

// NewDatabase creates a database file in a temporary directory, runs stmts
// against it and closes it again. It returns the file path.
func NewDatabase(t *testing.T, stmts ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hub.db")
	db := Open(t, path)
	Exec(t, db, stmts...)
	if err := db.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
	return path
}

// Open opens path with the migration connection settings and closes it when
// the test ends.
func Open(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := sqliteutil.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Exec runs each statement in order.
func Exec(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

// Strings returns the first column of every row, NULL as "".
func Strings(t *testing.T, db *sql.DB, query string, args ...any) []string {
	t.Helper()

	rows, err := db.Query(query, args...)
	if err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan %q: %v", query, err)
		}
		out = append(out, v.String)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows %q: %v", query, err)
	}
	return out
}

// Int returns a single integer result.
func Int(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()

	var n int64
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

// ColumnType returns the declared type of table.column, "" if absent.
func ColumnType(t *testing.T, db *sql.DB, table, column string) string {
	t.Helper()

	var typ sql.NullString
	err := db.QueryRow(`SELECT type FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&typ)
	if err == sql.ErrNoRows {
		return ""
	}
	if err != nil {
		t.Fatalf("column type %s.%s: %v", table, column, err)
	}
	return strings.ToUpper(typ.String)
}

// Logger returns a logger that writes through t.Log.
func Logger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// UsersGoals is the smallest schema with a foreign key: users(1,'a'),
// users(2,'b') and goals(10, user_id=1).
var UsersGoals = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE goals (id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users (id), title TEXT)`,
	`INSERT INTO users (id, name) VALUES (1, 'a'), (2, 'b')`,
	`INSERT INTO goals (id, user_id, title) VALUES (10, 1, 'first goal')`,
}

// UsersGoalsGraph is the schema graph matching UsersGoals.
func UsersGoalsGraph(t *testing.T) *schema.Graph {
	t.Helper()

	g, err := schema.New([]schema.TableDef{
		{Name: "users", PrimaryKey: "id", Columns: []schema.ColumnDef{{Name: "id", Type: "TEXT"}, {Name: "name", Type: "TEXT"}}},
		{
			Name: "goals", PrimaryKey: "id",
			Columns:     []schema.ColumnDef{{Name: "id", Type: "TEXT"}, {Name: "user_id", Type: "TEXT"}, {Name: "title", Type: "TEXT"}},
			ForeignKeys: []schema.ForeignKeyDef{{Column: "user_id", References: schema.Reference{Table: "users", Column: "id"}}},
		},
	})
	if err != nil {
		t.Fatalf("users/goals graph: %v", err)
	}
	return g
}

// Sequence returns identifiers prefix-1, prefix-2, ... in call order.
func Sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// HubStatements creates every table of graph with an integer key and inserts
// two rows per table. Every foreign key points at the row with the same
// number. With shadow, each table also gets a shadow column holding
// "<table>-1" on its first row and NULL on its second.
func HubStatements(graph *schema.Graph, shadow bool) []string {
	var stmts []string
	for _, def := range graph.Tables() {
		shadowCol := def.PrimaryKey + "_uuid"

		var cols []string
		for _, c := range def.Columns {
			fk, isFK := def.ForeignKeyFor(c.Name)
			switch {
			case c.Name == def.PrimaryKey:
				cols = append(cols, quote(c.Name)+" INTEGER PRIMARY KEY")
			case isFK:
				cols = append(cols, fmt.Sprintf("%s INTEGER REFERENCES %s (%s)",
					quote(c.Name), quote(fk.References.Table), quote(fk.References.Column)))
			default:
				cols = append(cols, quote(c.Name)+" "+c.Type)
			}
		}
		if shadow {
			cols = append(cols, quote(shadowCol)+" TEXT")
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s (%s)", quote(def.Name), strings.Join(cols, ", ")))

		for row := 1; row <= 2; row++ {
			var names, values []string
			for _, c := range def.Columns {
				_, isFK := def.ForeignKeyFor(c.Name)
				if c.Name != def.PrimaryKey && !isFK && !c.NotNull && !c.Unique {
					continue
				}
				names = append(names, quote(c.Name))
				if c.Name == def.PrimaryKey || isFK {
					values = append(values, fmt.Sprint(row))
				} else {
					values = append(values, sampleValue(def.Name, c, row))
				}
			}
			if shadow && row == 1 {
				names = append(names, quote(shadowCol))
				values = append(values, fmt.Sprintf("'%s-1'", def.Name))
			}
			stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(def.Name), strings.Join(names, ", "), strings.Join(values, ", ")))
		}
	}
	return stmts
}

func sampleValue(table string, c schema.ColumnDef, row int) string {
	typ := strings.ToUpper(c.Type)
	switch {
	case strings.Contains(typ, "INT"):
		return fmt.Sprint(row)
	case strings.Contains(typ, "REAL"):
		return fmt.Sprintf("%d.5", row)
	case strings.Contains(typ, "DATE"):
		return fmt.Sprintf("'2024-01-0%d'", row)
	default:
		return fmt.Sprintf("'%s-%s-%d'", table, c.Name, row)
	}
}

func quote(name string) string {
	return `"` + name + `"`
}

// DanglingReferences returns the graph edges that hold a value matching no
// row of the referenced table.
func DanglingReferences(t *testing.T, db *sql.DB, graph *schema.Graph) []string {
	t.Helper()

	var out []string
	for _, e := range graph.Edges() {
		query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s IS NOT NULL AND %s NOT IN (SELECT %s FROM %s)`,
			quote(e.FromTable), quote(e.FromColumn), quote(e.FromColumn), quote(e.ToColumn), quote(e.ToTable))
		if Int(t, db, query) > 0 {
			out = append(out, e.String())
		}
	}
	return out
}
