package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed graph.schema.json
var graphSchema []byte

//go:embed hub.json
var hubGraph []byte

// Load parses a graph document after validating it against the graph JSON
// Schema.
func Load(data []byte) (*Graph, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(graphSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate schema graph: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid schema graph:\n  - %s", strings.Join(msgs, "\n  - "))
	}

	var doc struct {
		Tables []TableDef `json:"tables"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema graph: %w", err)
	}

	return New(doc.Tables)
}

// LoadFile reads a graph document from disk.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema graph %s: %w", path, err)
	}
	g, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Hub returns the built-in graph of the hub backend tables.
func Hub() (*Graph, error) {
	return Load(hubGraph)
}

// MustHub is like Hub but panics if the embedded graph is invalid.
func MustHub() *Graph {
	g, err := Hub()
	if err != nil {
		panic(err)
	}
	return g
}
