package rebuild

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thehub/uuidshift/database"
	"github.com/thehub/uuidshift/internal/idgen"
	"github.com/thehub/uuidshift/internal/state"
)

// Populate assigns an identifier to every row whose shadow value is null or
// empty. Populated rows are never touched. Tables that have not been started
// get their shadow column first. The pass is a single transaction: any error
// rolls it back and is returned.
func (r *Rewriter) Populate(ctx context.Context, db *sql.DB, analysis *state.Analysis) (*PopulateResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result := &PopulateResult{}
	for _, name := range r.order(analysis) {
		ts, ok := analysis.Table(name)
		if !ok || !ts.Exists || !ts.Tracked {
			continue
		}

		pt := PopulatedTable{Table: name}
		shadowCol := ts.ShadowColumn

		switch ts.Phase {
		case state.PhaseShadowed:
		case state.PhaseNotStarted:
			shadowCol = r.naming.Column(ts.PrimaryKey)
			addSQL, _ := r.driver.AddColumn(name, database.Column{Name: shadowCol, Type: "TEXT", Nullable: true})
			if _, err := tx.ExecContext(ctx, addSQL); err != nil {
				r.logger.Error("add shadow column failed", "table", name, "error", err)
				return nil, fmt.Errorf("populate %s: add shadow column: %w", name, err)
			}
			pt.AddedColumn = true
		default:
			continue
		}

		n, err := r.fill(ctx, tx, name, shadowCol)
		if err != nil {
			r.logger.Error("populate failed", "table", name, "error", err)
			return nil, fmt.Errorf("populate %s: %w", name, err)
		}
		pt.Rows = n

		r.logger.Info("populated identifiers", "table", name, "rows", n, "added_column", pt.AddedColumn)
		result.Tables = append(result.Tables, pt)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func (r *Rewriter) fill(ctx context.Context, tx *sql.Tx, table, shadowCol string) (int, error) {
	q := r.driver.QuoteIdentifier
	query := fmt.Sprintf("SELECT rowid FROM %s WHERE %s IS NULL OR %s = ''", q(table), q(shadowCol), q(shadowCol))

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("find empty identifiers: %w", err)
	}
	var rowids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		rowids = append(rowids, id)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(rowids) == 0 {
		return 0, nil
	}

	mapping, err := idgen.NewMapping(r.ids, rowids)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, r.driver.UpdateWhere(table, shadowCol, "rowid"))
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range rowids {
		if _, err := stmt.ExecContext(ctx, mapping[id], id); err != nil {
			return 0, fmt.Errorf("set identifier for row %d: %w", id, err)
		}
	}
	return len(mapping), nil
}
