// Package inplace converts integer keys to string identifiers one table at a
// time. Each table is converted inside its own transaction: identifiers are
// assigned, every reference to the table is rewritten by value, and the table
// is recreated with a text key.
package inplace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thehub/uuidshift/database"
	"github.com/thehub/uuidshift/internal/idgen"
	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/shadow"
	"github.com/thehub/uuidshift/internal/state"
)

// ErrNullKeys is returned before any table is touched when a table to convert
// has rows with a NULL integer key. They cannot receive an identifier by key.
var ErrNullKeys = errors.New("rows with a NULL primary key")

// Reference is a column holding key values of the table being converted.
type Reference struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
	// Rows counts the rows rewritten to the new identifiers.
	Rows int64 `json:"rows" yaml:"rows"`
}

// TableResult describes the conversion of one table.
type TableResult struct {
	Table      string      `json:"table" yaml:"table"`
	Keys       int         `json:"keys" yaml:"keys"`
	References []Reference `json:"references,omitempty" yaml:"references,omitempty"`
	DurationMS int64       `json:"duration_ms" yaml:"duration_ms"`
}

// Result lists the converted tables in the order they were converted.
type Result struct {
	Tables []TableResult `json:"tables" yaml:"tables"`
}

// Rewriter runs the in-place strategy.
type Rewriter struct {
	driver database.Driver
	graph  *schema.Graph
	ids    idgen.Generator
	naming shadow.Naming
	logger *slog.Logger
}

// New creates a rewriter. A nil generator uses random UUIDs and a nil logger
// the default logger.
func New(driver database.Driver, graph *schema.Graph, ids idgen.Generator, naming shadow.Naming, logger *slog.Logger) *Rewriter {
	if ids == nil {
		ids = idgen.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{driver: driver, graph: graph, ids: ids, naming: naming, logger: logger}
}

// Run converts every tracked table that has not been started, in schema
// declaration order. It stops at the first failing table; tables converted
// before it stay converted and are listed in the returned result.
func (r *Rewriter) Run(ctx context.Context, db *sql.DB, analysis *state.Analysis) (*Result, error) {
	if err := Check(analysis); err != nil {
		return nil, err
	}
	result := &Result{}

	for _, name := range r.order(analysis) {
		ts, ok := analysis.Table(name)
		if !ok || !ts.Exists || !ts.Tracked || ts.Phase != state.PhaseNotStarted {
			continue
		}

		start := time.Now()
		tr, err := r.convertTable(ctx, db, ts, analysis)
		if err != nil {
			r.logger.Error("table conversion failed", "table", name, "error", err)
			return result, fmt.Errorf("convert table %s: %w", name, err)
		}
		tr.DurationMS = time.Since(start).Milliseconds()

		r.logger.Info("converted table", "table", name, "keys", tr.Keys, "references", len(tr.References), "duration_ms", tr.DurationMS)
		result.Tables = append(result.Tables, *tr)
	}

	return result, nil
}

// Check reports the tables Run would refuse to convert.
func Check(analysis *state.Analysis) error {
	var errs []error
	for _, t := range analysis.NullKeyTables(state.PhaseNotStarted) {
		errs = append(errs, fmt.Errorf("%w: table %s has %d", ErrNullKeys, t.Name, t.NullKeyRows))
	}
	return errors.Join(errs...)
}

// order returns table names in graph declaration order, or analysis order
// when there is no graph.
func (r *Rewriter) order(analysis *state.Analysis) []string {
	if r.graph != nil {
		return r.graph.Names()
	}
	names := make([]string, len(analysis.Tables))
	for i, t := range analysis.Tables {
		names[i] = t.Name
	}
	return names
}

func (r *Rewriter) convertTable(ctx context.Context, db *sql.DB, ts *state.TableState, analysis *state.Analysis) (*TableResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	pk := ts.PrimaryKey
	shadowCol := r.naming.Column(pk)

	keys, err := r.readKeys(ctx, tx, ts.Name, pk)
	if err != nil {
		return nil, err
	}
	mapping, err := idgen.NewMapping(r.ids, keys)
	if err != nil {
		return nil, err
	}

	addSQL, _ := r.driver.AddColumn(ts.Name, database.Column{Name: shadowCol, Type: "TEXT", Nullable: true})
	if _, err := tx.ExecContext(ctx, addSQL); err != nil {
		return nil, fmt.Errorf("add shadow column: %w", err)
	}
	if _, err := r.rewrite(ctx, tx, ts.Name, shadowCol, pk, keys, mapping); err != nil {
		return nil, fmt.Errorf("assign identifiers: %w", err)
	}

	tr := &TableResult{Table: ts.Name, Keys: len(mapping)}
	for _, ref := range r.references(ts, analysis) {
		n, err := r.rewrite(ctx, tx, ref.Table, ref.Column, ref.Column, keys, mapping)
		if err != nil {
			return nil, fmt.Errorf("rewrite %s.%s: %w", ref.Table, ref.Column, err)
		}
		ref.Rows = n
		tr.References = append(tr.References, ref)
		r.logger.Debug("rewrote references", "table", ref.Table, "column", ref.Column, "rows", n)
	}

	if err := r.replaceKey(ctx, tx, ts, shadowCol); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return tr, nil
}

func (r *Rewriter) readKeys(ctx context.Context, tx *sql.Tx, table, pk string) ([]int64, error) {
	q := r.driver.QuoteIdentifier
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL", q(pk), q(table), q(pk)))
	if err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// rewrite sets setColumn to the new identifier on every row whose
// whereColumn holds an old key. Values without a mapping are left as they
// are.
func (r *Rewriter) rewrite(ctx context.Context, tx *sql.Tx, table, setColumn, whereColumn string, keys []int64, mapping idgen.Mapping) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, r.driver.UpdateWhere(table, setColumn, whereColumn))
	if err != nil {
		return 0, err
	}
	// The statement must be closed before the table is dropped.
	defer func() { _ = stmt.Close() }()

	var total int64
	for _, k := range keys {
		res, err := stmt.ExecContext(ctx, mapping[k], k)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// references returns every existing column that points at ts, from the graph
// and from foreign keys declared in the live schema.
func (r *Rewriter) references(ts *state.TableState, analysis *state.Analysis) []Reference {
	var refs []Reference
	seen := make(map[string]bool)

	add := func(table, column string) {
		key := table + "." + column
		if seen[key] {
			return
		}
		seen[key] = true

		src, ok := analysis.Table(table)
		if !ok || !src.Exists || !src.Table.HasColumn(column) {
			r.logger.Debug("skipping missing reference", "table", table, "column", column, "target", ts.Name)
			return
		}
		refs = append(refs, Reference{Table: table, Column: column})
	}

	if r.graph != nil {
		for _, e := range r.graph.EdgesInto(ts.Name) {
			add(e.FromTable, e.FromColumn)
		}
	}

	for _, src := range analysis.Tables {
		if !src.Exists {
			continue
		}
		for _, fk := range src.Table.ForeignKeys {
			if fk.ReferencedTable != ts.Name || len(fk.Columns) != 1 {
				continue
			}
			if len(fk.ReferencedColumns) == 1 && fk.ReferencedColumns[0] != "" && fk.ReferencedColumns[0] != ts.PrimaryKey {
				continue
			}
			add(src.Name, fk.Columns[0])
		}
	}

	return refs
}

// replaceKey swaps the integer key for the shadow column. Without support
// for dropping a key column the table is recreated with a text key, and its
// reference columns are retyped to text along the way.
func (r *Rewriter) replaceKey(ctx context.Context, tx *sql.Tx, ts *state.TableState, shadowCol string) error {
	if r.driver.SupportsFeature(database.FeatureDropPrimaryKeyColumn) {
		dropSQL, _ := r.driver.DropColumn(ts.Name, ts.PrimaryKey)
		renameSQL, _ := r.driver.RenameColumn(ts.Name, shadowCol, ts.PrimaryKey)
		for _, stmt := range []string{dropSQL, renameSQL} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("replace key column: %w", err)
			}
		}
		return nil
	}

	table, exprs := r.textKeyTable(ts, shadowCol)
	for _, step := range r.driver.RecreateTable(table, exprs) {
		if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
			return fmt.Errorf("%s: %w", step.Description, err)
		}
	}

	for _, idx := range ts.Table.Indexes {
		if idx.Origin != database.IndexOriginCreate || idx.SQL == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, idx.SQL); err != nil {
			return fmt.Errorf("recreate index %s: %w", idx.Name, err)
		}
	}
	return nil
}

// textKeyTable derives the replacement definition and the expressions that
// fill it from the old table.
func (r *Rewriter) textKeyTable(ts *state.TableState, shadowCol string) (database.Table, []string) {
	q := r.driver.QuoteIdentifier
	refCols := r.referenceColumns(ts)

	var def schema.TableDef
	if r.graph != nil {
		def, _ = r.graph.Table(ts.Name)
	}

	table := database.Table{Name: ts.Name, ForeignKeys: ts.Table.ForeignKeys}
	for _, idx := range ts.Table.Indexes {
		if idx.Origin == database.IndexOriginUnique {
			table.Indexes = append(table.Indexes, idx)
		}
	}

	var exprs []string
	for _, col := range ts.Table.Columns {
		c := col
		c.IsPrimaryKey = false
		c.PrimaryKeyOrdinal = 0
		if cd, ok := def.Column(col.Name); ok && cd.Check != "" {
			c.Check = cd.Check
		}

		switch {
		case col.Name == ts.PrimaryKey:
			c = database.Column{Name: col.Name, Type: "TEXT", IsPrimaryKey: true, PrimaryKeyOrdinal: 1}
			exprs = append(exprs, q(shadowCol))
		case col.Name == shadowCol:
			continue
		case refCols[col.Name]:
			c.Type = "TEXT"
			exprs = append(exprs, q(col.Name))
		default:
			exprs = append(exprs, q(col.Name))
		}
		table.Columns = append(table.Columns, c)
	}

	return table, exprs
}

// referenceColumns returns the columns of ts that point at tracked tables.
func (r *Rewriter) referenceColumns(ts *state.TableState) map[string]bool {
	cols := make(map[string]bool)
	if r.graph == nil {
		for _, fk := range ts.Table.ForeignKeys {
			if len(fk.Columns) == 1 {
				cols[fk.Columns[0]] = true
			}
		}
		return cols
	}

	for _, e := range r.graph.EdgesFrom(ts.Name) {
		cols[e.FromColumn] = true
	}
	for _, fk := range ts.Table.ForeignKeys {
		if len(fk.Columns) == 1 && r.graph.Contains(fk.ReferencedTable) {
			cols[fk.Columns[0]] = true
		}
	}
	return cols
}
