// Package shadow names the temporary identifier columns that hold new keys
// next to the integer columns they replace.
package shadow

import "strings"

// DefaultSuffix is appended to a key column to name its shadow column.
const DefaultSuffix = "_uuid"

// Naming derives shadow column names from key column names.
type Naming struct {
	Suffix string
}

// NewNaming returns a Naming for suffix, falling back to DefaultSuffix.
func NewNaming(suffix string) Naming {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return Naming{Suffix: suffix}
}

func (n Naming) suffix() string {
	if n.Suffix == "" {
		return DefaultSuffix
	}
	return n.Suffix
}

// Column returns the shadow column for base, e.g. "id" -> "id_uuid".
func (n Naming) Column(base string) string {
	return base + n.suffix()
}

// Base returns the column name would shadow. A name ending in the suffix is
// only a shadow if its base is a key or foreign-key column of its table.
func (n Naming) Base(name string) (string, bool) {
	s := n.suffix()
	if len(name) <= len(s) || !strings.HasSuffix(name, s) {
		return "", false
	}
	return strings.TrimSuffix(name, s), true
}
