package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thehub/uuidshift/database"
)

// Introspector implements database.Introspector for SQLite.
//
// Every method drains and closes its result set before issuing the next query
// so it stays usable on a pool limited to a single connection.
type Introspector struct {
	gen *Generator
}

// NewIntrospector creates a new SQLite introspector
func NewIntrospector() *Introspector {
	return &Introspector{gen: NewGenerator()}
}

// IntrospectSchema reads the entire SQLite database schema
func (i *Introspector) IntrospectSchema(ctx context.Context, db *sql.DB) (*database.Schema, error) {
	schema := &database.Schema{}

	tables, err := i.GetTables(ctx, db)
	if err != nil {
		return nil, err
	}

	for _, tableName := range tables {
		table, err := i.IntrospectTable(ctx, db, tableName)
		if err != nil {
			return nil, err
		}
		schema.Tables = append(schema.Tables, *table)
	}

	return schema, nil
}

// IntrospectTable reads columns, indexes and foreign keys of one table.
func (i *Introspector) IntrospectTable(ctx context.Context, db *sql.DB, tableName string) (*database.Table, error) {
	table := &database.Table{Name: tableName}

	columns, err := i.GetColumns(ctx, db, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %s: %w", tableName, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns or does not exist", tableName)
	}
	table.Columns = columns

	indexes, err := i.GetIndexes(ctx, db, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes for table %s: %w", tableName, err)
	}
	table.Indexes = indexes

	foreignKeys, err := i.GetForeignKeys(ctx, db, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", tableName, err)
	}
	table.ForeignKeys = foreignKeys

	return table, nil
}

// GetTables returns all table names in the SQLite database
func (i *Introspector) GetTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}

	return tableNames, rows.Err()
}

// GetColumns returns all columns for a given SQLite table
func (i *Introspector) GetColumns(ctx context.Context, db *sql.DB, tableName string) ([]database.Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", i.gen.QuoteIdentifier(tableName)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []database.Column
	for rows.Next() {
		var cid int
		var col database.Column
		var notNull int
		var defaultVal sql.NullString
		var pk int

		// PRAGMA table_info returns: cid, name, type, notnull, dflt_value, pk
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}

		col.Nullable = notNull == 0
		col.IsPrimaryKey = pk > 0
		col.PrimaryKeyOrdinal = pk
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// GetIndexes returns the explicitly created indexes ("c") and UNIQUE
// constraints ("u") of a table. Primary-key indexes are skipped.
func (i *Introspector) GetIndexes(ctx context.Context, db *sql.DB, tableName string) ([]database.Index, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", i.gen.QuoteIdentifier(tableName)))
	if err != nil {
		return nil, err
	}

	var indexes []database.Index
	for rows.Next() {
		var seq int
		var idx database.Index
		var unique, partial int

		// PRAGMA index_list returns: seq, name, unique, origin, partial
		if err := rows.Scan(&seq, &idx.Name, &unique, &idx.Origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		idx.Unique = unique == 1

		if idx.Origin == database.IndexOriginPrimaryKey {
			continue
		}
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for n := range indexes {
		columns, err := i.indexColumns(ctx, db, indexes[n].Name)
		if err != nil {
			return nil, err
		}
		indexes[n].Columns = columns

		if indexes[n].Origin == database.IndexOriginCreate {
			var stmt sql.NullString
			err := db.QueryRowContext(ctx,
				"SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?", indexes[n].Name,
			).Scan(&stmt)
			if err != nil {
				return nil, fmt.Errorf("failed to read definition of index %s: %w", indexes[n].Name, err)
			}
			indexes[n].SQL = stmt.String
		}
	}

	return indexes, nil
}

func (i *Introspector) indexColumns(ctx context.Context, db *sql.DB, indexName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", i.gen.QuoteIdentifier(indexName)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString

		// PRAGMA index_info returns: seqno, cid, name
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			columns = append(columns, name.String)
		}
	}

	return columns, rows.Err()
}

// GetForeignKeys returns all foreign keys for a given SQLite table
func (i *Introspector) GetForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]database.ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", i.gen.QuoteIdentifier(tableName)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Group by id (foreign key constraint ID)
	fkMap := make(map[int]*database.ForeignKey)
	var fkIds []int

	for rows.Next() {
		var id, seq int
		var table, from string
		var to sql.NullString
		var onUpdate, onDelete, match string

		// PRAGMA foreign_key_list returns: id, seq, table, from, to, on_update, on_delete, match
		if err := rows.Scan(&id, &seq, &table, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}

		if _, exists := fkMap[id]; !exists {
			fk := &database.ForeignKey{
				Name:            fmt.Sprintf("fk_%s_%d", tableName, id),
				ReferencedTable: table,
			}

			if onUpdate != "NO ACTION" {
				fk.OnUpdate = &onUpdate
			}
			if onDelete != "NO ACTION" {
				fk.OnDelete = &onDelete
			}

			fkMap[id] = fk
			fkIds = append(fkIds, id)
		}

		// A NULL "to" means the constraint targets the parent's primary key.
		fkMap[id].Columns = append(fkMap[id].Columns, from)
		fkMap[id].ReferencedColumns = append(fkMap[id].ReferencedColumns, to.String)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var foreignKeys []database.ForeignKey
	for _, id := range fkIds {
		foreignKeys = append(foreignKeys, *fkMap[id])
	}

	return foreignKeys, nil
}
