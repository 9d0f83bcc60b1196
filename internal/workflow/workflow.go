// Package workflow defines the guided phases of a tally run and the state
// machine that moves a run through them.
package workflow

import (
	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/symbols"
)

// Kind selects the entry behaviour of a phase.
type Kind string

const (
	KindInput      Kind = "input"
	KindEntities   Kind = "entities"
	KindTally      Kind = "tally"
	KindLogic      Kind = "logic"
	KindValidation Kind = "validation"
)

// Valid reports whether k is a known phase kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInput, KindEntities, KindTally, KindLogic, KindValidation:
		return true
	}
	return false
}

// PhaseSpec describes one phase of a definition.
type PhaseSpec struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Kind  Kind   `json:"kind" yaml:"kind"`
	// RequiresExtraction blocks entry until a document has been processed.
	RequiresExtraction bool `json:"requires_extraction,omitempty" yaml:"requires_extraction,omitempty"`
}

// State is the single workflow instance of a session.
type State struct {
	// Current is the 1-based phase number.
	Current   int
	Entities  []entity.Entity
	Symbols   symbols.Table
	RunID     string
	Extracted bool
}

// Clone returns a copy that shares nothing mutable with s.
func (s State) Clone() State {
	s.Entities = entity.Clone(s.Entities)
	return s
}
