package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/thehub/uuidshift/database"
	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/shadow"
	"github.com/thehub/uuidshift/internal/strutil"
)

// maxSuggestionDistance bounds the edit distance between an untracked table
// and a missing graph table for the two to be reported as a likely rename.
const maxSuggestionDistance = 2

// tableIntrospector is implemented by drivers that can read one table at a
// time. Others fall back to the individual Introspector calls.
type tableIntrospector interface {
	IntrospectTable(ctx context.Context, db *sql.DB, tableName string) (*database.Table, error)
}

// Analyzer inspects a live database. It never writes.
type Analyzer struct {
	driver database.Driver
	graph  *schema.Graph
	naming shadow.Naming
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer. With a nil graph every table is tracked.
func NewAnalyzer(driver database.Driver, graph *schema.Graph, naming shadow.Naming, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{driver: driver, graph: graph, naming: naming, logger: logger}
}

// Analyze classifies every non-system table. A table that cannot be read is
// recorded with Exists=false and a warning; only failing to list the tables
// is an error.
func (a *Analyzer) Analyze(ctx context.Context, db *sql.DB) (*Analysis, error) {
	names, err := a.driver.GetTables(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	analysis := &Analysis{}
	live := make(map[string]bool, len(names))
	var untracked []string

	for _, name := range names {
		live[name] = true
		ts := a.analyzeTable(ctx, db, name)
		if ts.Error != "" {
			msg := fmt.Sprintf("could not analyze table %s: %s", name, ts.Error)
			a.logger.Warn("could not analyze table", "table", name, "error", ts.Error)
			analysis.Warnings = append(analysis.Warnings, msg)
		} else if !ts.Tracked {
			untracked = append(untracked, name)
		} else if ts.NullKeyRows > 0 {
			analysis.Warnings = append(analysis.Warnings,
				fmt.Sprintf("table %s has %d rows with a NULL primary key", name, ts.NullKeyRows))
			a.logger.Warn("rows with NULL primary key", "table", name, "rows", ts.NullKeyRows)
		}
		analysis.Tables = append(analysis.Tables, ts)
	}

	var missing []string
	if a.graph != nil {
		for _, name := range a.graph.Names() {
			if !live[name] {
				missing = append(missing, name)
				analysis.Tables = append(analysis.Tables, TableState{Name: name, Tracked: true})
				a.logger.Debug("table not present in database", "table", name)
			}
		}
	}

	for _, name := range untracked {
		msg := fmt.Sprintf("table %s is not part of the schema graph and will not be migrated", name)
		if suggestion := strutil.Closest(name, missing, maxSuggestionDistance); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %s?)", suggestion)
		}
		analysis.Warnings = append(analysis.Warnings, msg)
		a.logger.Debug("untracked table", "table", name)
	}

	analysis.Status = Classify(analysis.Tables)

	a.logger.Info("analyzed database",
		"status", analysis.Status,
		"not_started", analysis.Count(PhaseNotStarted),
		"shadowed", analysis.Count(PhaseShadowed),
		"converted", analysis.Count(PhaseConverted),
	)

	return analysis, nil
}

func (a *Analyzer) analyzeTable(ctx context.Context, db *sql.DB, name string) TableState {
	ts := TableState{
		Name:    name,
		Tracked: a.graph == nil || a.graph.Contains(name),
	}

	table, err := a.introspect(ctx, db, name)
	if err != nil {
		ts.Error = err.Error()
		return ts
	}
	ts.Exists = true
	ts.Table = *table

	pkName := "id"
	if def, ok := a.graphTable(name); ok {
		pkName = def.PrimaryKey
	}
	pk, hasPK := table.PrimaryKey()
	if hasPK {
		pkName = pk.Name
		ts.PrimaryKey = pk.Name
		ts.PrimaryKeyType = pk.Type
		ts.HasIntegerPK = pk.Kind() == database.TypeInteger
	}

	if shadowCol := a.naming.Column(pkName); table.HasColumn(shadowCol) {
		ts.ShadowColumn = shadowCol
	}

	switch {
	case !hasPK:
		ts.Phase = PhaseUnsupported
	case ts.HasIntegerPK && ts.HasShadow():
		ts.Phase = PhaseShadowed
	case ts.HasIntegerPK:
		ts.Phase = PhaseNotStarted
	case ts.HasShadow() || pk.Kind() == database.TypeText:
		ts.Phase = PhaseConverted
	default:
		ts.Phase = PhaseUnsupported
	}

	if err := a.countRows(ctx, db, &ts); err != nil {
		ts.Exists = false
		ts.Error = err.Error()
	}

	return ts
}

func (a *Analyzer) introspect(ctx context.Context, db *sql.DB, name string) (*database.Table, error) {
	if ti, ok := a.driver.(tableIntrospector); ok {
		return ti.IntrospectTable(ctx, db, name)
	}

	columns, err := a.driver.GetColumns(ctx, db, name)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", name)
	}
	indexes, err := a.driver.GetIndexes(ctx, db, name)
	if err != nil {
		return nil, err
	}
	fks, err := a.driver.GetForeignKeys(ctx, db, name)
	if err != nil {
		return nil, err
	}
	return &database.Table{Name: name, Columns: columns, Indexes: indexes, ForeignKeys: fks}, nil
}

func (a *Analyzer) countRows(ctx context.Context, db *sql.DB, ts *TableState) error {
	q := a.driver.QuoteIdentifier
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM "+q(ts.Name)).Scan(&ts.Rows); err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if ts.HasIntegerPK {
		query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NULL", q(ts.Name), q(ts.PrimaryKey))
		if err := db.QueryRowContext(ctx, query).Scan(&ts.NullKeyRows); err != nil {
			return fmt.Errorf("count null keys: %w", err)
		}
	}
	if !ts.HasShadow() {
		return nil
	}
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NULL OR %s = ''",
		q(ts.Name), q(ts.ShadowColumn), q(ts.ShadowColumn))
	if err := db.QueryRowContext(ctx, query).Scan(&ts.UnpopulatedRows); err != nil {
		return fmt.Errorf("count unpopulated rows: %w", err)
	}
	return nil
}

func (a *Analyzer) graphTable(name string) (schema.TableDef, bool) {
	if a.graph == nil {
		return schema.TableDef{}, false
	}
	return a.graph.Table(name)
}
