// Package state classifies how far a database has progressed from integer
// keys to string identifiers. The classification is derived from the live
// schema on every run and serves as the resumption checkpoint.
package state

import (
	"github.com/thehub/uuidshift/database"
)

// Status is the migration state of the whole database.
type Status string

const (
	// StatusNotStarted means no tracked table carries a shadow column or a
	// converted key.
	StatusNotStarted Status = "not_started"
	// StatusUUIDColumnsExist means shadow columns exist but no table is
	// shadowed or converted.
	StatusUUIDColumnsExist Status = "uuid_columns_exist"
	// StatusPartial means at least one table still has an integer key next
	// to its shadow column, or some tables are converted and others are not.
	StatusPartial Status = "partial"
	// StatusCompleted means every tracked table has a string key.
	StatusCompleted Status = "completed"
)

// Phase is the migration state of one table.
type Phase string

const (
	PhaseNotStarted  Phase = "not_started" // integer key, no shadow column
	PhaseShadowed    Phase = "shadowed"    // integer key and a shadow column
	PhaseConverted   Phase = "converted"   // string key
	PhaseUnsupported Phase = "unsupported" // no usable single-column key
)

// TableState is what the analyzer learned about one table.
type TableState struct {
	Name    string `json:"name" yaml:"name"`
	Exists  bool   `json:"exists" yaml:"exists"`
	Tracked bool   `json:"tracked" yaml:"tracked"`
	Phase   Phase  `json:"phase,omitempty" yaml:"phase,omitempty"`

	PrimaryKey     string `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	PrimaryKeyType string `json:"primary_key_type,omitempty" yaml:"primary_key_type,omitempty"`
	HasIntegerPK   bool   `json:"has_integer_pk" yaml:"has_integer_pk"`
	// ShadowColumn is the name of the shadow column, empty when absent.
	ShadowColumn string `json:"shadow_column,omitempty" yaml:"shadow_column,omitempty"`

	Rows int64 `json:"rows" yaml:"rows"`
	// UnpopulatedRows counts rows whose shadow value is NULL or empty.
	UnpopulatedRows int64 `json:"unpopulated_rows,omitempty" yaml:"unpopulated_rows,omitempty"`
	// NullKeyRows counts rows whose integer key is NULL. Only tables whose key
	// is not a rowid alias can have them.
	NullKeyRows int64 `json:"null_key_rows,omitempty" yaml:"null_key_rows,omitempty"`

	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Table is the introspected definition.
	Table database.Table `json:"-" yaml:"-"`
}

// HasShadow reports whether the table carries a shadow column.
func (t TableState) HasShadow() bool {
	return t.ShadowColumn != ""
}

// PopulatedRows counts rows whose shadow value is set.
func (t TableState) PopulatedRows() int64 {
	if !t.HasShadow() {
		return 0
	}
	return t.Rows - t.UnpopulatedRows
}

// counts reports whether the table takes part in the global status.
func (t TableState) counts() bool {
	return t.Exists && t.Tracked && t.Phase != PhaseUnsupported
}

// Analysis is the result of one analyzer pass.
type Analysis struct {
	Status   Status       `json:"status" yaml:"status"`
	Tables   []TableState `json:"tables" yaml:"tables"`
	Warnings []string     `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Table looks up the state of a table by name.
func (a *Analysis) Table(name string) (*TableState, bool) {
	for i := range a.Tables {
		if a.Tables[i].Name == name {
			return &a.Tables[i], true
		}
	}
	return nil, false
}

// Count returns how many counted tables are in phase.
func (a *Analysis) Count(phase Phase) int {
	n := 0
	for _, t := range a.Tables {
		if t.counts() && t.Phase == phase {
			n++
		}
	}
	return n
}

// HasShadowColumns reports whether any counted table has a shadow column.
func (a *Analysis) HasShadowColumns() bool {
	for _, t := range a.Tables {
		if t.counts() && t.HasShadow() {
			return true
		}
	}
	return false
}

// Classify derives the global status from per-table states. Tables that do
// not exist or are not tracked are ignored. Unsupported tables only matter
// when they carry a shadow column.
//
// Any shadowed table makes the database partial, populated or not. A mix of
// converted and untouched tables is what an interrupted in-place run leaves
// behind, so it is partial rather than completed.
func Classify(tables []TableState) Status {
	var notStarted, shadowed, converted int
	strayShadow := false

	for _, t := range tables {
		if !t.Exists || !t.Tracked {
			continue
		}
		switch t.Phase {
		case PhaseNotStarted:
			notStarted++
		case PhaseShadowed:
			shadowed++
		case PhaseConverted:
			converted++
		case PhaseUnsupported:
			if t.HasShadow() {
				strayShadow = true
			}
		}
	}

	switch {
	case shadowed > 0:
		return StatusPartial
	case converted > 0 && notStarted > 0:
		return StatusPartial
	case converted > 0:
		return StatusCompleted
	case strayShadow:
		return StatusUUIDColumnsExist
	default:
		return StatusNotStarted
	}
}

// NullKeyTables returns the counted tables in phase that have rows with a
// NULL integer key.
func (a *Analysis) NullKeyTables(phase Phase) []TableState {
	var out []TableState
	for _, t := range a.Tables {
		if t.counts() && t.Phase == phase && t.NullKeyRows > 0 {
			out = append(out, t)
		}
	}
	return out
}
