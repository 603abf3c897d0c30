// Package schema describes the fixed set of tables being migrated and the
// foreign-key edges between them.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/thehub/uuidshift/database"
)

// ColumnDef is a column of the target schema.
type ColumnDef struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"not_null,omitempty"`
	Unique  bool   `json:"unique,omitempty"`
	Default string `json:"default,omitempty"`
	Check   string `json:"check,omitempty"`
}

// Reference names the column a foreign key points at.
type Reference struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ForeignKeyDef is an outgoing foreign key of a table.
type ForeignKeyDef struct {
	Column     string    `json:"column"`
	References Reference `json:"references"`
}

// TableDef is a table of the target schema.
type TableDef struct {
	Name        string          `json:"name"`
	PrimaryKey  string          `json:"primary_key"`
	Columns     []ColumnDef     `json:"columns"`
	ForeignKeys []ForeignKeyDef `json:"foreign_keys,omitempty"`
}

// Column looks up a column by name.
func (t TableDef) Column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// ForeignKeyFor returns the foreign key declared on column, if any.
func (t TableDef) ForeignKeyFor(column string) (ForeignKeyDef, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Column == column {
			return fk, true
		}
	}
	return ForeignKeyDef{}, false
}

// ToTable converts the definition into a database.Table named name.
// refName maps each referenced table to the name the REFERENCES clause should
// use; nil keeps the names unchanged.
func (t TableDef) ToTable(name string, refName func(string) string) database.Table {
	table := database.Table{Name: name}

	for _, c := range t.Columns {
		col := database.Column{
			Name:         c.Name,
			Type:         c.Type,
			Nullable:     !c.NotNull,
			IsPrimaryKey: c.Name == t.PrimaryKey,
			Unique:       c.Unique,
			Check:        c.Check,
		}
		if col.IsPrimaryKey {
			col.Nullable = false
			col.PrimaryKeyOrdinal = 1
		}
		if c.Default != "" {
			def := c.Default
			col.Default = &def
		}
		table.Columns = append(table.Columns, col)
	}

	for _, fk := range t.ForeignKeys {
		ref := fk.References.Table
		if refName != nil {
			ref = refName(ref)
		}
		table.ForeignKeys = append(table.ForeignKeys, database.ForeignKey{
			Name:              fmt.Sprintf("fk_%s_%s", t.Name, fk.Column),
			Columns:           []string{fk.Column},
			ReferencedTable:   ref,
			ReferencedColumns: []string{fk.References.Column},
		})
	}

	return table
}

// Edge is a foreign-key relationship: values of FromTable.FromColumn must
// match ToTable.ToColumn when non-null.
type Edge struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

func (e Edge) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", e.FromTable, e.FromColumn, e.ToTable, e.ToColumn)
}

// Graph is an ordered set of tables and the edges between them. The
// declaration order is significant: the in-place strategy walks tables in it
// and creation order uses it to break ties.
type Graph struct {
	tables []TableDef
	index  map[string]int
	edges  []Edge
}

// New builds a graph and checks that it is self-consistent.
func New(tables []TableDef) (*Graph, error) {
	g := &Graph{
		tables: tables,
		index:  make(map[string]int, len(tables)),
	}

	for i, t := range tables {
		if _, dup := g.index[t.Name]; dup {
			return nil, fmt.Errorf("table %s is declared twice", t.Name)
		}
		g.index[t.Name] = i

		seen := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if seen[c.Name] {
				return nil, fmt.Errorf("table %s declares column %s twice", t.Name, c.Name)
			}
			seen[c.Name] = true
		}
		if !seen[t.PrimaryKey] {
			return nil, fmt.Errorf("table %s: primary key %s is not a declared column", t.Name, t.PrimaryKey)
		}
	}

	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if _, ok := t.Column(fk.Column); !ok {
				return nil, fmt.Errorf("table %s: foreign key column %s is not declared", t.Name, fk.Column)
			}
			target, ok := g.Table(fk.References.Table)
			if !ok {
				return nil, fmt.Errorf("table %s: foreign key %s references unknown table %s", t.Name, fk.Column, fk.References.Table)
			}
			if _, ok := target.Column(fk.References.Column); !ok {
				return nil, fmt.Errorf("table %s: foreign key %s references unknown column %s.%s",
					t.Name, fk.Column, target.Name, fk.References.Column)
			}
			g.edges = append(g.edges, Edge{
				FromTable:  t.Name,
				FromColumn: fk.Column,
				ToTable:    fk.References.Table,
				ToColumn:   fk.References.Column,
			})
		}
	}

	return g, nil
}

// Tables returns the table definitions in declaration order.
func (g *Graph) Tables() []TableDef {
	out := make([]TableDef, len(g.tables))
	copy(out, g.tables)
	return out
}

// Names returns the table names in declaration order.
func (g *Graph) Names() []string {
	names := make([]string, len(g.tables))
	for i, t := range g.tables {
		names[i] = t.Name
	}
	return names
}

// Table looks up a table definition.
func (g *Graph) Table(name string) (TableDef, bool) {
	i, ok := g.index[name]
	if !ok {
		return TableDef{}, false
	}
	return g.tables[i], true
}

// Contains reports whether name is a declared table.
func (g *Graph) Contains(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Edges returns every foreign-key edge.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// EdgesInto returns the edges that reference table, self-references included.
func (g *Graph) EdgesInto(table string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.ToTable == table {
			out = append(out, e)
		}
	}
	return out
}

// EdgesFrom returns the outgoing edges of table.
func (g *Graph) EdgesFrom(table string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.FromTable == table {
			out = append(out, e)
		}
	}
	return out
}

// CycleError indicates that the tables cannot be ordered by their foreign keys.
type CycleError struct {
	Tables []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("foreign-key cycle between tables: %s", strings.Join(e.Tables, ", "))
}

// CreationOrder returns the tables of subset ordered so that every table
// comes after the tables it references. Self-references and edges leaving the
// subset are ignored. Ties keep declaration order. A nil subset means every
// table.
func (g *Graph) CreationOrder(subset []string) ([]string, error) {
	if subset == nil {
		subset = g.Names()
	}

	members := make(map[string]bool, len(subset))
	for _, name := range subset {
		if !g.Contains(name) {
			return nil, fmt.Errorf("unknown table %s", name)
		}
		members[name] = true
	}

	// Kahn's algorithm: inDegree counts unresolved dependencies per table.
	inDegree := make(map[string]int, len(members))
	dependents := make(map[string][]string)
	for name := range members {
		inDegree[name] = 0
	}
	for _, e := range g.edges {
		if e.FromTable == e.ToTable || !members[e.FromTable] || !members[e.ToTable] {
			continue
		}
		inDegree[e.FromTable]++
		dependents[e.ToTable] = append(dependents[e.ToTable], e.FromTable)
	}

	var ready []string
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	sorted := make([]string, 0, len(members))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return g.index[ready[i]] < g.index[ready[j]] })
		node := ready[0]
		ready = ready[1:]
		sorted = append(sorted, node)

		for _, dep := range dependents[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(sorted) != len(members) {
		var stuck []string
		for name, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Tables: stuck}
	}

	return sorted, nil
}
