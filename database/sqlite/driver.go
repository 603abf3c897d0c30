package sqlite

import (
	"github.com/thehub/uuidshift/database"
)

// Driver implements database.Driver for SQLite
type Driver struct {
	*Introspector
	*Generator
}

// NewDriver creates a new SQLite driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
		Generator:    NewGenerator(),
	}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "sqlite"
}

// SupportsFeature checks if SQLite supports a specific feature
func (d *Driver) SupportsFeature(feature string) bool {
	switch feature {
	case database.FeatureDropColumn:
		return true // SQLite 3.35.0+
	case database.FeatureRenameColumn:
		return true // SQLite 3.25.0+
	case database.FeatureDropPrimaryKeyColumn:
		return false // Requires table recreation
	case database.FeatureRenameRewritesFKs:
		return true // SQLite 3.26.0+ without legacy_alter_table
	case database.FeatureSavepoints:
		return true
	default:
		return false
	}
}

// Ensure Driver implements database.Driver
var _ database.Driver = (*Driver)(nil)

// Ensure Introspector implements database.Introspector
var _ database.Introspector = (*Introspector)(nil)

// Ensure Generator implements database.SQLGenerator
var _ database.SQLGenerator = (*Generator)(nil)
