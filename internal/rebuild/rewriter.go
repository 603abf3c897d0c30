// Package rebuild finishes a migration that already has shadow identifier
// columns. It fills the missing identifiers, builds replacement tables with
// text keys, copies rows across and swaps the tables in by rename.
package rebuild

import (
	"log/slog"

	"github.com/thehub/uuidshift/database"
	"github.com/thehub/uuidshift/internal/idgen"
	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/shadow"
	"github.com/thehub/uuidshift/internal/state"
)

const (
	tempSuffix = "_new"
	srcAlias   = "src"
	refAlias   = "ref"
)

// Rewriter runs the rebuild strategy.
type Rewriter struct {
	driver database.Driver
	graph  *schema.Graph
	ids    idgen.Generator
	naming shadow.Naming
	logger *slog.Logger

	// AllowRowLoss lets the copy drop rows that have no identifier instead of
	// skipping the table.
	AllowRowLoss bool
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

// PopulatedTable reports the identifiers assigned in one table.
type PopulatedTable struct {
	Table       string `json:"table" yaml:"table"`
	AddedColumn bool   `json:"added_column,omitempty" yaml:"added_column,omitempty"`
	Rows        int    `json:"rows" yaml:"rows"`
}

// PopulateResult is the outcome of the populate pass.
type PopulateResult struct {
	Tables []PopulatedTable `json:"tables" yaml:"tables"`
}

// TableOutcome is the rebuild outcome of one table.
type TableOutcome struct {
	Table string `json:"table" yaml:"table"`
	// Rows counts the rows copied into the replacement table.
	Rows int64 `json:"rows" yaml:"rows"`
	// LostRows counts rows left behind because they had no identifier.
	LostRows int64  `json:"lost_rows,omitempty" yaml:"lost_rows,omitempty"`
	Swapped  bool   `json:"swapped" yaml:"swapped"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RebuildResult is the outcome of the rebuild pass.
type RebuildResult struct {
	// Order is the creation order of the replacement tables.
	Order  []string       `json:"order" yaml:"order"`
	Tables []TableOutcome `json:"tables" yaml:"tables"`
}

// Failed returns the tables that were not swapped.
func (r *RebuildResult) Failed() []TableOutcome {
	var out []TableOutcome
	for _, t := range r.Tables {
		if !t.Swapped {
			out = append(out, t)
		}
	}
	return out
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
