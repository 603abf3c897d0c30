package sqlite

import (
	"fmt"
	"strings"

	"github.com/thehub/uuidshift/database"
)

// Generator implements database.SQLGenerator for SQLite
type Generator struct{}

// NewGenerator creates a new SQLite SQL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// QuoteIdentifier wraps a name in double quotes, doubling embedded quotes.
// Every generated statement quotes names since the hub schema uses keywords
// such as "end" and "interval" as column names.
func (g *Generator) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (g *Generator) quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = g.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// CreateTable generates SQLite SQL to create a table. Unique indexes with the
// "u" origin are emitted as table constraints so they survive a rebuild.
func (g *Generator) CreateTable(table database.Table) (string, string) {
	var defs []string

	for _, col := range table.Columns {
		defs = append(defs, g.FormatColumnDefinition(col))
	}

	for _, idx := range table.Indexes {
		if idx.Origin == database.IndexOriginUnique && len(idx.Columns) > 0 {
			defs = append(defs, fmt.Sprintf("UNIQUE (%s)", g.quoteAll(idx.Columns)))
		}
	}

	for _, fk := range table.ForeignKeys {
		defs = append(defs, g.FormatForeignKeyConstraint(fk))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", g.QuoteIdentifier(table.Name))
	for i, def := range defs {
		sb.WriteString("  ")
		sb.WriteString(def)
		if i < len(defs)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(")")

	return sb.String(), fmt.Sprintf("Create table %s", table.Name)
}

// DropTable generates SQLite SQL to drop a table
func (g *Generator) DropTable(tableName string) (string, string) {
	return fmt.Sprintf("DROP TABLE %s", g.QuoteIdentifier(tableName)),
		fmt.Sprintf("Drop table %s", tableName)
}

// RenameTable generates SQLite SQL to rename a table. SQLite 3.26+ rewrites
// REFERENCES clauses in other tables that name the old table.
func (g *Generator) RenameTable(from, to string) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", g.QuoteIdentifier(from), g.QuoteIdentifier(to)),
		fmt.Sprintf("Rename table %s to %s", from, to)
}

// AddColumn generates SQLite SQL to add a column
func (g *Generator) AddColumn(tableName string, col database.Column) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", g.QuoteIdentifier(tableName), g.FormatColumnDefinition(col)),
		fmt.Sprintf("Add column %s to table %s", col.Name, tableName)
}

// DropColumn generates SQLite SQL to drop a column (SQLite 3.35.0+). SQLite
// refuses to drop PRIMARY KEY and UNIQUE columns.
func (g *Generator) DropColumn(tableName string, columnName string) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", g.QuoteIdentifier(tableName), g.QuoteIdentifier(columnName)),
		fmt.Sprintf("Drop column %s from table %s", columnName, tableName)
}

// RenameColumn generates SQLite SQL to rename a column (SQLite 3.25.0+)
func (g *Generator) RenameColumn(tableName, from, to string) (string, string) {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			g.QuoteIdentifier(tableName), g.QuoteIdentifier(from), g.QuoteIdentifier(to)),
		fmt.Sprintf("Rename column %s.%s to %s", tableName, from, to)
}

// UpdateWhere generates UPDATE t SET set = ? WHERE where = ?
func (g *Generator) UpdateWhere(tableName, setColumn, whereColumn string) string {
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		g.QuoteIdentifier(tableName),
		g.QuoteIdentifier(setColumn), g.ParameterPlaceholder(1),
		g.QuoteIdentifier(whereColumn), g.ParameterPlaceholder(2))
}

// InsertSelect generates INSERT INTO dst (cols) SELECT exprs FROM src AS alias.
// Expressions are emitted verbatim; callers quote the names they reference.
func (g *Generator) InsertSelect(dst string, columns []string, exprs []string, src, alias, where string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) SELECT %s FROM %s",
		g.QuoteIdentifier(dst), g.quoteAll(columns), strings.Join(exprs, ", "), g.QuoteIdentifier(src))
	if alias != "" {
		fmt.Fprintf(&sb, " AS %s", alias)
	}
	if where != "" {
		fmt.Fprintf(&sb, " WHERE %s", where)
	}
	return sb.String()
}

// FormatColumnDefinition formats a column definition for CREATE/ALTER statements
func (g *Generator) FormatColumnDefinition(col database.Column) string {
	var sb strings.Builder

	sb.WriteString(g.QuoteIdentifier(col.Name))
	if col.Type != "" {
		sb.WriteString(" ")
		sb.WriteString(col.Type)
	}

	// Primary key (must come before NOT NULL in SQLite)
	if col.IsPrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}

	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}

	if col.Unique && !col.IsPrimaryKey {
		sb.WriteString(" UNIQUE")
	}

	if col.Default != nil {
		fmt.Fprintf(&sb, " DEFAULT %s", *col.Default)
	}

	if col.Check != "" {
		fmt.Fprintf(&sb, " CHECK (%s)", col.Check)
	}

	return sb.String()
}

// FormatForeignKeyConstraint formats a foreign key constraint for CREATE TABLE.
// An empty referenced column list references the target's primary key.
func (g *Generator) FormatForeignKeyConstraint(fk database.ForeignKey) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "FOREIGN KEY (%s) REFERENCES %s", g.quoteAll(fk.Columns), g.QuoteIdentifier(fk.ReferencedTable))
	if len(fk.ReferencedColumns) > 0 && fk.ReferencedColumns[0] != "" {
		fmt.Fprintf(&sb, " (%s)", g.quoteAll(fk.ReferencedColumns))
	}

	if fk.OnDelete != nil {
		fmt.Fprintf(&sb, " ON DELETE %s", *fk.OnDelete)
	}
	if fk.OnUpdate != nil {
		fmt.Fprintf(&sb, " ON UPDATE %s", *fk.OnUpdate)
	}

	return sb.String()
}

// RecreateTable returns the statements that replace a table with a new
// definition: create <name>_new, copy rows with the given expressions, drop
// the original and rename the copy into place. Indexes are not included.
func (g *Generator) RecreateTable(table database.Table, exprs []string) []database.PlanStep {
	tmpName := table.Name + "_new"

	newTable := table
	newTable.Name = tmpName
	createSQL, _ := g.CreateTable(newTable)

	columns := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		columns[i] = col.Name
	}

	dropSQL, dropDesc := g.DropTable(table.Name)
	renameSQL, renameDesc := g.RenameTable(tmpName, table.Name)

	return []database.PlanStep{
		{Description: fmt.Sprintf("Create replacement table %s", tmpName), SQL: createSQL},
		{Description: fmt.Sprintf("Copy rows from %s", table.Name), SQL: g.InsertSelect(tmpName, columns, exprs, table.Name, "", "")},
		{Description: dropDesc, SQL: dropSQL},
		{Description: renameDesc, SQL: renameSQL},
	}
}

// ParameterPlaceholder returns the SQLite parameter placeholder (?)
func (g *Generator) ParameterPlaceholder(position int) string {
	return "?"
}
