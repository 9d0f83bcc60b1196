package workflow

import (
	"fmt"
	"strings"
)

// Definition declares the ordered phases of a guided run.
type Definition struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Phases      []PhaseSpec `json:"phases" yaml:"phases"`
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := def
	if len(def.Phases) > 0 {
		clone.Phases = make([]PhaseSpec, len(def.Phases))
		copy(clone.Phases, def.Phases)
	}
	return clone
}

// Validate ensures the definition can drive a machine.
func (def Definition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("workflow: id is required")
	}
	if len(def.Phases) == 0 {
		return fmt.Errorf("workflow %s: at least one phase is required", def.ID)
	}
	seen := map[string]struct{}{}
	for idx, phase := range def.Phases {
		if phase.ID == "" {
			return fmt.Errorf("workflow %s phase[%d]: id is required", def.ID, idx)
		}
		if _, exists := seen[phase.ID]; exists {
			return fmt.Errorf("workflow %s: duplicate phase id %s", def.ID, phase.ID)
		}
		seen[phase.ID] = struct{}{}
		if !phase.Kind.Valid() {
			return fmt.Errorf("workflow %s phase %s: unknown kind %q", def.ID, phase.ID, phase.Kind)
		}
	}
	if def.Phases[0].RequiresExtraction {
		return fmt.Errorf("workflow %s: first phase %s cannot require extraction", def.ID, def.Phases[0].ID)
	}
	if def.FirstOf(KindEntities) == 0 {
		return fmt.Errorf("workflow %s: an %s phase is required", def.ID, KindEntities)
	}
	return nil
}

// Normalized clones the definition, trims identifiers, fills missing titles,
// and validates the result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.Name = strings.TrimSpace(clone.Name)
	if clone.Name == "" {
		clone.Name = clone.ID
	}
	for i := range clone.Phases {
		phase := &clone.Phases[i]
		phase.ID = strings.TrimSpace(phase.ID)
		phase.Kind = Kind(strings.ToLower(strings.TrimSpace(string(phase.Kind))))
		phase.Title = strings.TrimSpace(phase.Title)
		if phase.Title == "" {
			phase.Title = fmt.Sprintf("Phase %d: %s", i+1, phase.ID)
		}
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// Total is the number of phases.
func (def Definition) Total() int { return len(def.Phases) }

// Phase returns the spec of the 1-based phase n.
func (def Definition) Phase(n int) (PhaseSpec, bool) {
	if n < 1 || n > len(def.Phases) {
		return PhaseSpec{}, false
	}
	return def.Phases[n-1], true
}

// FirstOf returns the 1-based number of the first phase of kind, or 0.
func (def Definition) FirstOf(kind Kind) int {
	for i, phase := range def.Phases {
		if phase.Kind == kind {
			return i + 1
		}
	}
	return 0
}

// Titles returns the phase titles in order.
func (def Definition) Titles() []string {
	titles := make([]string, 0, len(def.Phases))
	for _, phase := range def.Phases {
		titles = append(titles, phase.Title)
	}
	return titles
}
