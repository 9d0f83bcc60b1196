package orchestrator

import (
	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/reveal"
	"github.com/kingrea/tally/internal/tally"
	"github.com/kingrea/tally/internal/validation"
)

// Presentation events carried by workflow effects. A sink renders them; the
// workflow never looks at them again.

// RenderEntities shows the extracted entities. Entities may be empty.
type RenderEntities struct {
	Entities []entity.Entity
}

// ClearBoard empties the tally board before records are revealed.
type ClearBoard struct {
	Total int
}

// RecordRevealed adds one reconciliation record to the board.
type RecordRevealed struct {
	Index  int
	Total  int
	Record tally.Record
}

// TallyComplete follows the last revealed record.
type TallyComplete struct {
	Summary tally.Summary
}

// RevealCode starts a character reveal of Text on Slot.
type RevealCode struct {
	Slot reveal.Slot
	Text string
}

// ResetChecks puts every validation check back to its unchecked state and
// clears the final output.
type ResetChecks struct {
	Checks []validation.Check
}

// CheckPassed marks one validation check as passed.
type CheckPassed struct {
	Check validation.Check
}
