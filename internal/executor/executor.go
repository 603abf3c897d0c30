package executor

import (
	"fmt"

	"github.com/thehub/uuidshift/database"
	"github.com/thehub/uuidshift/database/sqlite"
)

// NewDriver creates a new database driver based on the driver name.
func NewDriver(databaseType string) (database.Driver, error) {
	switch databaseType {
	case "", "sqlite", "sqlite3":
		return sqlite.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}
}
