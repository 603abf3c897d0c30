package rebuild

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/thehub/uuidshift/database"
	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/state"
)

// ErrNoGraph is returned by Rebuild when the rewriter has no schema graph to
// build the replacement tables from.
var ErrNoGraph = errors.New("rebuild requires a schema graph")

// tablePlan is how one table is rebuilt.
type tablePlan struct {
	state   *state.TableState
	table   database.Table // replacement, named <t>_new
	columns []string
	exprs   []string
	keyExpr string
}

func (p *tablePlan) name() string { return p.state.Name }
func (p *tablePlan) temp() string { return p.state.Name + tempSuffix }

// Rebuild replaces every tracked table that has a shadow column or a
// converted key with a copy built from its graph definition. Creation, copy
// and swap run in one transaction. A table whose copy fails keeps its old
// contents and is reported in the result; it does not stop the others.
func (r *Rewriter) Rebuild(ctx context.Context, db *sql.DB, analysis *state.Analysis) (*RebuildResult, error) {
	if r.graph == nil {
		return nil, ErrNoGraph
	}
	for _, feature := range []string{database.FeatureSavepoints, database.FeatureRenameRewritesFKs} {
		if !r.driver.SupportsFeature(feature) {
			return nil, fmt.Errorf("rebuild: %s driver does not support %s", r.driver.Name(), feature)
		}
	}

	var names []string
	for _, name := range r.graph.Names() {
		ts, ok := analysis.Table(name)
		if ok && ts.Exists && (ts.Phase == state.PhaseShadowed || ts.Phase == state.PhaseConverted) {
			names = append(names, name)
		}
	}
	result := &RebuildResult{}
	if len(names) == 0 {
		return result, nil
	}

	order, err := r.graph.CreationOrder(names)
	if err != nil {
		return nil, fmt.Errorf("creation order: %w", err)
	}
	result.Order = order

	rebuilt := make(map[string]bool, len(order))
	for _, name := range order {
		rebuilt[name] = true
	}

	plans := make([]*tablePlan, 0, len(order))
	for _, name := range order {
		ts, _ := analysis.Table(name)
		plans = append(plans, r.plan(ts, analysis, rebuilt))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, p := range plans {
		createSQL, _ := r.driver.CreateTable(p.table)
		if _, err := tx.ExecContext(ctx, createSQL); err != nil {
			return nil, fmt.Errorf("create %s: %w", p.temp(), err)
		}
		r.logger.Debug("created replacement table", "table", p.temp())
	}

	for i, p := range plans {
		result.Tables = append(result.Tables, r.copyTable(ctx, tx, p, i))
	}
	r.holdTargets(ctx, tx, plans, result)

	r.swap(ctx, tx, plans, result)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("rebuilt tables", "tables", len(plans), "failed", len(result.Failed()))
	return result, nil
}

// plan derives the replacement definition and the select list that fills it.
func (r *Rewriter) plan(ts *state.TableState, analysis *state.Analysis, rebuilt map[string]bool) *tablePlan {
	q := r.driver.QuoteIdentifier
	def, _ := r.graph.Table(ts.Name)
	live := ts.Table

	refName := func(table string) string {
		if rebuilt[table] {
			return table + tempSuffix
		}
		return table
	}

	p := &tablePlan{state: ts}
	keyCol := ts.PrimaryKey
	if ts.Phase == state.PhaseShadowed {
		keyCol = ts.ShadowColumn
	}
	p.keyExpr = srcAlias + "." + q(keyCol)

	full := def.ToTable(p.temp(), refName)
	p.table = database.Table{Name: full.Name, ForeignKeys: full.ForeignKeys}

	for _, col := range full.Columns {
		var expr string
		switch {
		case col.Name == def.PrimaryKey:
			expr = p.keyExpr
		default:
			if fk, ok := def.ForeignKeyFor(col.Name); ok {
				expr = r.referenceExpr(live, col.Name, fk.References, analysis)
			} else if live.HasColumn(col.Name) {
				expr = srcAlias + "." + q(col.Name)
			}
		}
		p.table.Columns = append(p.table.Columns, col)
		if expr != "" {
			p.columns = append(p.columns, col.Name)
			p.exprs = append(p.exprs, expr)
		}
	}

	// Live columns the definition does not know about are carried over as
	// they are.
	for _, col := range live.Columns {
		if full.HasColumn(col.Name) || col.Name == ts.PrimaryKey || r.isShadow(ts, def, col.Name) {
			continue
		}
		c := col
		c.IsPrimaryKey = false
		c.PrimaryKeyOrdinal = 0
		p.table.Columns = append(p.table.Columns, c)
		p.columns = append(p.columns, col.Name)
		p.exprs = append(p.exprs, srcAlias+"."+q(col.Name))
		r.logger.Warn("carrying over column missing from schema graph", "table", ts.Name, "column", col.Name)
	}

	for _, idx := range live.Indexes {
		if idx.Origin != database.IndexOriginUnique || !allColumns(p.table, idx.Columns) {
			continue
		}
		p.table.Indexes = append(p.table.Indexes, idx)
	}

	return p
}

// isShadow reports whether column shadows the key or a foreign-key column of
// the table. Other columns that merely end in the suffix are data.
func (r *Rewriter) isShadow(ts *state.TableState, def schema.TableDef, column string) bool {
	if column == ts.ShadowColumn {
		return true
	}
	base, ok := r.naming.Base(column)
	if !ok {
		return false
	}
	if base == ts.PrimaryKey || base == def.PrimaryKey {
		return true
	}
	if _, ok := def.ForeignKeyFor(base); ok {
		return true
	}
	for _, fk := range ts.Table.ForeignKeys {
		if len(fk.Columns) == 1 && fk.Columns[0] == base {
			return true
		}
	}
	return false
}

// referenceExpr resolves a foreign-key column to the identifier of the row it
// points at. It prefers the column's own shadow value, then the target's
// shadow value looked up by the old key, then the value already stored.
func (r *Rewriter) referenceExpr(live database.Table, column string, ref schema.Reference, analysis *state.Analysis) string {
	q := r.driver.QuoteIdentifier
	var terms []string

	if shadowCol := r.naming.Column(column); live.HasColumn(shadowCol) {
		terms = append(terms, fmt.Sprintf("NULLIF(%s.%s, '')", srcAlias, q(shadowCol)))
	}

	if !live.HasColumn(column) {
		return coalesce(terms)
	}

	target, ok := analysis.Table(ref.Table)
	if ok && target.Exists && target.Phase == state.PhaseShadowed && target.PrimaryKey == ref.Column {
		terms = append(terms, fmt.Sprintf("(SELECT %s.%s FROM %s AS %s WHERE %s.%s = %s.%s)",
			refAlias, q(target.ShadowColumn), q(ref.Table), refAlias,
			refAlias, q(ref.Column), srcAlias, q(column)))
	}
	terms = append(terms, srcAlias+"."+q(column))

	return coalesce(terms)
}

func coalesce(terms []string) string {
	switch len(terms) {
	case 0:
		return ""
	case 1:
		return terms[0]
	default:
		return "COALESCE(" + strings.Join(terms, ", ") + ")"
	}
}

func allColumns(t database.Table, cols []string) bool {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return false
		}
	}
	return true
}

// copyTable fills the replacement table. Failures roll back to a savepoint,
// drop the replacement and are reported in the outcome.
func (r *Rewriter) copyTable(ctx context.Context, tx *sql.Tx, p *tablePlan, n int) TableOutcome {
	q := r.driver.QuoteIdentifier
	out := TableOutcome{Table: p.name()}

	missing := fmt.Sprintf("%s IS NULL OR %s = ''", p.keyExpr, p.keyExpr)
	lostQuery := fmt.Sprintf("SELECT count(*) FROM %s AS %s WHERE %s", q(p.name()), srcAlias, missing)
	if err := tx.QueryRowContext(ctx, lostQuery).Scan(&out.LostRows); err != nil {
		return r.abandon(ctx, tx, p, out, fmt.Errorf("count rows without identifier: %w", err))
	}
	if out.LostRows > 0 {
		if !r.AllowRowLoss {
			return r.abandon(ctx, tx, p, out, fmt.Errorf("%d rows have no identifier", out.LostRows))
		}
		r.logger.Warn("rows without identifier will not be copied", "table", p.name(), "rows", out.LostRows)
	}

	savepoint := fmt.Sprintf("copy_%d", n)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return r.abandon(ctx, tx, p, out, fmt.Errorf("savepoint: %w", err))
	}

	where := fmt.Sprintf("%s IS NOT NULL AND %s <> ''", p.keyExpr, p.keyExpr)
	insert := r.driver.InsertSelect(p.temp(), p.columns, p.exprs, p.name(), srcAlias, where)
	res, err := tx.ExecContext(ctx, insert)
	if err != nil {
		_, _ = tx.ExecContext(ctx, "ROLLBACK TO "+savepoint)
		_, _ = tx.ExecContext(ctx, "RELEASE "+savepoint)
		return r.abandon(ctx, tx, p, out, fmt.Errorf("copy rows: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "RELEASE "+savepoint); err != nil {
		return r.abandon(ctx, tx, p, out, fmt.Errorf("release savepoint: %w", err))
	}

	out.Rows, _ = res.RowsAffected()
	r.logger.Info("copied table", "table", p.name(), "rows", out.Rows)
	return out
}

// holdTargets keeps a shadowed table in place while a table that points at it
// keeps its old contents, so its shadow column still maps the old keys on the
// next run. Held tables hold their own targets in turn.
func (r *Rewriter) holdTargets(ctx context.Context, tx *sql.Tx, plans []*tablePlan, result *RebuildResult) {
	index := make(map[string]int, len(plans))
	var queue []int
	for i, p := range plans {
		index[p.name()] = i
		if result.Tables[i].Error != "" {
			queue = append(queue, i)
		}
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, target := range r.targets(plans[i]) {
			j, ok := index[target]
			if !ok || j == i || result.Tables[j].Error != "" || plans[j].state.Phase != state.PhaseShadowed {
				continue
			}
			out := result.Tables[j]
			out.Rows = 0
			result.Tables[j] = r.abandon(ctx, tx, plans[j], out,
				fmt.Errorf("held: %s references it and was not rebuilt", plans[i].name()))
			queue = append(queue, j)
		}
	}
}

// targets lists the tables p references, from the graph and the live schema.
func (r *Rewriter) targets(p *tablePlan) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(table string) {
		if !seen[table] {
			seen[table] = true
			out = append(out, table)
		}
	}
	for _, e := range r.graph.EdgesFrom(p.name()) {
		add(e.ToTable)
	}
	for _, fk := range p.state.Table.ForeignKeys {
		add(fk.ReferencedTable)
	}
	return out
}

// abandon records why a table is not swapped and drops its replacement so the
// old one stays in place.
func (r *Rewriter) abandon(ctx context.Context, tx *sql.Tx, p *tablePlan, out TableOutcome, err error) TableOutcome {
	out.Error = err.Error()
	r.logger.Error("keeping old table", "table", p.name(), "error", err)

	dropSQL, _ := r.driver.DropTable(p.temp())
	if _, derr := tx.ExecContext(ctx, dropSQL); derr != nil {
		r.logger.Error("drop replacement table failed", "table", p.temp(), "error", derr)
	}
	return out
}

// swap drops each copied old table and renames its replacement into place.
// Old tables whose copy failed are renamed through the temporary name and
// back, which repoints references to the abandoned replacement at them.
// Every failure is logged and the swap moves on.
func (r *Rewriter) swap(ctx context.Context, tx *sql.Tx, plans []*tablePlan, result *RebuildResult) {
	exec := func(stmt string) error {
		_, err := tx.ExecContext(ctx, stmt)
		return err
	}

	for i, p := range plans {
		if result.Tables[i].Error == "" {
			continue
		}
		there, _ := r.driver.RenameTable(p.name(), p.temp())
		back, _ := r.driver.RenameTable(p.temp(), p.name())
		if err := exec(there); err != nil {
			r.logger.Error("repoint references failed", "table", p.name(), "error", err)
			continue
		}
		if err := exec(back); err != nil {
			r.logger.Error("repoint references failed", "table", p.name(), "error", err)
		}
	}

	for i, p := range plans {
		out := &result.Tables[i]
		if out.Error != "" {
			continue
		}
		dropSQL, _ := r.driver.DropTable(p.name())
		if err := exec(dropSQL); err != nil {
			out.Error = fmt.Sprintf("drop old table: %v", err)
			r.logger.Error("drop old table failed", "table", p.name(), "error", err)
		}
	}

	for i, p := range plans {
		out := &result.Tables[i]
		if out.Error != "" {
			continue
		}
		renameSQL, _ := r.driver.RenameTable(p.temp(), p.name())
		if err := exec(renameSQL); err != nil {
			out.Error = fmt.Sprintf("rename replacement table: %v", err)
			r.logger.Error("rename replacement table failed", "table", p.temp(), "error", err)
			continue
		}
		out.Swapped = true
		r.recreateIndexes(ctx, tx, p)
	}
}

func (r *Rewriter) recreateIndexes(ctx context.Context, tx *sql.Tx, p *tablePlan) {
	for _, idx := range p.state.Table.Indexes {
		if idx.Origin != database.IndexOriginCreate || idx.SQL == "" {
			continue
		}
		if !allColumns(p.table, idx.Columns) {
			r.logger.Warn("not recreating index on removed column", "table", p.name(), "index", idx.Name)
			continue
		}
		if _, err := tx.ExecContext(ctx, idx.SQL); err != nil {
			r.logger.Warn("recreate index failed", "table", p.name(), "index", idx.Name, "error", err)
		}
	}
}
