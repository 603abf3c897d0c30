package database

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// ComputeSchemaHash returns a deterministic fingerprint of a schema. Tables,
// indexes and foreign keys are sorted; columns keep their declared position
// since it is part of the table's shape. A nil schema hashes like an empty one.
func ComputeSchemaHash(schema *Schema) (string, error) {
	if schema == nil {
		schema = &Schema{}
	}

	data, err := json.Marshal(canonicalizeSchema(schema))
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type canonicalTable struct {
	Name        string            `json:"name"`
	Columns     []canonicalColumn `json:"columns"`
	Indexes     []canonicalIndex  `json:"indexes,omitempty"`
	ForeignKeys []canonicalFK     `json:"foreign_keys,omitempty"`
}

type canonicalColumn struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	PrimaryKey bool    `json:"primary_key"`
	Default    *string `json:"default,omitempty"`
}

type canonicalIndex struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

type canonicalFK struct {
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
	OnDelete          string   `json:"on_delete,omitempty"`
	OnUpdate          string   `json:"on_update,omitempty"`
}

func canonicalizeSchema(schema *Schema) []canonicalTable {
	tables := make([]canonicalTable, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		ct := canonicalTable{Name: table.Name}

		for _, col := range table.Columns {
			ct.Columns = append(ct.Columns, canonicalColumn{
				Name:       col.Name,
				Type:       strings.ToUpper(strings.TrimSpace(col.Type)),
				Nullable:   col.Nullable,
				PrimaryKey: col.IsPrimaryKey,
				Default:    col.Default,
			})
		}

		for _, idx := range table.Indexes {
			ct.Indexes = append(ct.Indexes, canonicalIndex{Name: idx.Name, Columns: idx.Columns, Unique: idx.Unique})
		}
		sort.Slice(ct.Indexes, func(i, j int) bool { return ct.Indexes[i].Name < ct.Indexes[j].Name })

		for _, fk := range table.ForeignKeys {
			cfk := canonicalFK{
				Columns:           fk.Columns,
				ReferencedTable:   fk.ReferencedTable,
				ReferencedColumns: fk.ReferencedColumns,
			}
			if fk.OnDelete != nil {
				cfk.OnDelete = *fk.OnDelete
			}
			if fk.OnUpdate != nil {
				cfk.OnUpdate = *fk.OnUpdate
			}
			ct.ForeignKeys = append(ct.ForeignKeys, cfk)
		}
		sort.Slice(ct.ForeignKeys, func(i, j int) bool {
			return strings.Join(ct.ForeignKeys[i].Columns, ",") < strings.Join(ct.ForeignKeys[j].Columns, ",")
		})

		tables = append(tables, ct)
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables
}
