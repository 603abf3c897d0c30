package database

import "strings"

// TypeKind is the coarse category of a declared column type.
type TypeKind string

const (
	TypeInteger TypeKind = "integer"
	TypeText    TypeKind = "text"
	TypeOther   TypeKind = "other"
)

// ClassifyType maps a declared type to a TypeKind using SQLite's column
// affinity rules: "INT" anywhere means integer, then "CHAR", "CLOB" or "TEXT"
// means text. An empty declared type has no affinity.
func ClassifyType(declared string) TypeKind {
	t := strings.ToUpper(strings.TrimSpace(declared))
	switch {
	case t == "":
		return TypeOther
	case strings.Contains(t, "INT"):
		return TypeInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return TypeText
	case strings.Contains(t, "UUID"):
		return TypeText
	default:
		return TypeOther
	}
}
