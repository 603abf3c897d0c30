// Package idgen produces the string identifiers that replace integer keys.
package idgen

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrDuplicateID is returned when a generator hands out the same identifier
// twice while building one mapping.
var ErrDuplicateID = errors.New("generator returned a duplicate identifier")

// Generator produces a new unique identifier on each call.
type Generator interface {
	NewID() string
}

// UUID generates random version 4 UUIDs (122 random bits). Collisions are
// left to probability rather than checked against existing rows.
type UUID struct{}

// NewID returns a fresh random UUID string.
func (UUID) NewID() string {
	return uuid.NewString()
}

// Func adapts a function to the Generator interface.
type Func func() string

// NewID calls f.
func (f Func) NewID() string {
	return f()
}

// Default returns the generator used by migrations.
func Default() Generator {
	return UUID{}
}

// Mapping maps old integer keys of one table to their new identifiers.
type Mapping map[int64]string

// NewMapping assigns a fresh identifier to every key. A key listed twice keeps
// its first identifier; an identifier handed out twice is an error, so the
// result is always a bijection.
func NewMapping(gen Generator, keys []int64) (Mapping, error) {
	m := make(Mapping, len(keys))
	seen := make(map[string]int64, len(keys))

	for _, key := range keys {
		if _, ok := m[key]; ok {
			continue
		}
		id := gen.NewID()
		if id == "" {
			return nil, fmt.Errorf("generator returned an empty identifier for key %d", key)
		}
		if other, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s for keys %d and %d", ErrDuplicateID, id, other, key)
		}
		seen[id] = key
		m[key] = id
	}

	return m, nil
}
