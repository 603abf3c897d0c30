package database

import (
	"context"
	"database/sql"
)

// Schema represents a database schema
type Schema struct {
	Tables []Table `json:"tables"`
}

// Table represents a database table
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Column represents a table column
type Column struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default,omitempty"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	// PrimaryKeyOrdinal is the 1-based position within the primary key, 0 when
	// the column is not part of it.
	PrimaryKeyOrdinal int    `json:"primary_key_ordinal,omitempty"`
	Unique            bool   `json:"unique,omitempty"`
	Check             string `json:"check,omitempty"`
}

// Kind classifies the declared type of the column.
func (c Column) Kind() TypeKind {
	return ClassifyType(c.Type)
}

// Index origins as reported by the storage engine.
const (
	IndexOriginCreate     = "c"
	IndexOriginUnique     = "u"
	IndexOriginPrimaryKey = "pk"
)

// Index represents a table index
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Origin  string   `json:"origin,omitempty"`
	// SQL is the statement that created the index, empty for implicit ones.
	SQL string `json:"sql,omitempty"`
}

// ForeignKey represents a foreign key constraint
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
	OnDelete          *string  `json:"on_delete,omitempty"`
	OnUpdate          *string  `json:"on_update,omitempty"`
}

// Introspector defines the interface for database schema introspection
type Introspector interface {
	// IntrospectSchema reads the entire database schema
	IntrospectSchema(ctx context.Context, db *sql.DB) (*Schema, error)

	// GetTables returns all table names in the database
	GetTables(ctx context.Context, db *sql.DB) ([]string, error)

	// GetColumns returns all columns for a given table
	GetColumns(ctx context.Context, db *sql.DB, tableName string) ([]Column, error)

	// GetIndexes returns all indexes for a given table
	GetIndexes(ctx context.Context, db *sql.DB, tableName string) ([]Index, error)

	// GetForeignKeys returns all foreign keys for a given table
	GetForeignKeys(ctx context.Context, db *sql.DB, tableName string) ([]ForeignKey, error)
}

// PlanStep represents a single SQL operation
type PlanStep struct {
	Description string `json:"description"`
	SQL         string `json:"sql"`
}

// SQLGenerator defines the interface for generating database-specific SQL
type SQLGenerator interface {
	// CreateTable generates SQL to create a table
	CreateTable(table Table) (sql string, description string)

	// DropTable generates SQL to drop a table
	DropTable(tableName string) (sql string, description string)

	// RenameTable generates SQL to rename a table
	RenameTable(from, to string) (sql string, description string)

	// AddColumn generates SQL to add a column to a table
	AddColumn(tableName string, col Column) (sql string, description string)

	// DropColumn generates SQL to drop a column from a table
	DropColumn(tableName string, columnName string) (sql string, description string)

	// RenameColumn generates SQL to rename a column
	RenameColumn(tableName, from, to string) (sql string, description string)

	// UpdateWhere generates a parameterized UPDATE setting one column for rows
	// matching an equality predicate on another. The value to set is the first
	// parameter and the predicate value the second.
	UpdateWhere(tableName, setColumn, whereColumn string) string

	// InsertSelect generates INSERT INTO dst (columns) SELECT exprs FROM src
	// AS alias [WHERE where].
	InsertSelect(dst string, columns []string, exprs []string, src, alias, where string) string

	// RecreateTable returns the steps that rebuild a table under a new
	// definition, filling each column from the matching expression evaluated
	// against the old table.
	RecreateTable(table Table, exprs []string) []PlanStep

	// FormatColumnDefinition formats a column definition for CREATE TABLE
	FormatColumnDefinition(col Column) string

	// QuoteIdentifier quotes a table or column name
	QuoteIdentifier(name string) string

	// ParameterPlaceholder returns the parameter placeholder for this database
	ParameterPlaceholder(position int) string
}

// Driver represents a database driver with introspection and SQL generation
type Driver interface {
	Introspector
	SQLGenerator

	// Name returns the database driver name (e.g., "sqlite")
	Name() string

	// SupportsFeature checks if the database supports a specific feature
	SupportsFeature(feature string) bool
}

// Features queried through Driver.SupportsFeature.
const (
	FeatureDropColumn           = "DROP_COLUMN"
	FeatureRenameColumn         = "RENAME_COLUMN"
	FeatureDropPrimaryKeyColumn = "DROP_PRIMARY_KEY_COLUMN"
	FeatureRenameRewritesFKs    = "RENAME_TABLE_REWRITES_REFERENCES"
	FeatureSavepoints           = "SAVEPOINTS"
)

// PrimaryKey returns the single primary-key column of the table. ok is false
// when the table has no primary key or a composite one.
func (t Table) PrimaryKey() (Column, bool) {
	var found []Column
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			found = append(found, c)
		}
	}
	if len(found) != 1 {
		return Column{}, false
	}
	return found[0], true
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has a column with the given name.
func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}
