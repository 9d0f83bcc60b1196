package orchestrator

import (
	"errors"
	"time"

	"github.com/kingrea/tally/internal/reveal"
	"github.com/kingrea/tally/internal/tally"
	"github.com/kingrea/tally/internal/templates"
	"github.com/kingrea/tally/internal/validation"
	"github.com/kingrea/tally/internal/workflow"
)

// DefaultStagger is the delay between two revealed tally records.
const DefaultStagger = 800 * time.Millisecond

// ErrNoSymbols is returned when the tally phase runs before a symbol table
// has been applied.
var ErrNoSymbols = errors.New("orchestrator: no symbol table has been applied")

// Actions binds the standard phase kinds to the tally engine, the logic
// templates and the validation simulator.
type Actions struct {
	Engine    *tally.Engine
	Templates templates.Set
	Simulator *validation.Simulator
	Stagger   time.Duration
}

// DefaultActions uses the built-in rules, snippets and timeline.
func DefaultActions() Actions {
	return Actions{
		Engine:    tally.NewEngine(nil),
		Templates: templates.Default(),
		Simulator: validation.NewSimulator(validation.DefaultTimeline()),
		Stagger:   DefaultStagger,
	}
}

// Options registers every entry action on a machine.
func (a Actions) Options() []workflow.Option {
	return []workflow.Option{
		workflow.WithAction(workflow.KindEntities, a.Entities),
		workflow.WithAction(workflow.KindTally, a.Tally),
		workflow.WithAction(workflow.KindLogic, a.Logic),
		workflow.WithAction(workflow.KindValidation, a.Validation),
	}
}

// Entities renders the current entities.
func (a Actions) Entities(ctx workflow.EntryContext) ([]workflow.Effect, error) {
	return []workflow.Effect{{Event: RenderEntities{Entities: ctx.State.Entities}}}, nil
}

// Tally reconciles every entity and reveals the records one stagger apart,
// in entity order.
func (a Actions) Tally(ctx workflow.EntryContext) ([]workflow.Effect, error) {
	if !ctx.State.Extracted {
		return nil, ErrNoSymbols
	}
	engine := a.Engine
	if engine == nil {
		engine = tally.NewEngine(nil)
	}
	records := engine.Reconcile(ctx.State.Entities, ctx.State.Symbols)
	effects := make([]workflow.Effect, 0, len(records)+2)
	effects = append(effects, workflow.Effect{Event: ClearBoard{Total: len(records)}})
	var last time.Duration
	for i, rec := range records {
		last = time.Duration(i) * a.Stagger
		effects = append(effects, workflow.Effect{
			After: last,
			Event: RecordRevealed{Index: i, Total: len(records), Record: rec},
		})
	}
	effects = append(effects, workflow.Effect{
		After: last,
		Event: TallyComplete{Summary: tally.Summarize(records)},
	})
	return effects, nil
}

// Logic reveals the initial snippet.
func (a Actions) Logic(workflow.EntryContext) ([]workflow.Effect, error) {
	return []workflow.Effect{{Event: RevealCode{Slot: reveal.SlotInitial, Text: a.templateSet().Initial}}}, nil
}

// Validation resets the checks, then schedules the simulator's timeline.
func (a Actions) Validation(workflow.EntryContext) ([]workflow.Effect, error) {
	sim := a.Simulator
	if sim == nil {
		sim = validation.NewSimulator(validation.DefaultTimeline())
	}
	steps := sim.Steps()
	effects := make([]workflow.Effect, 0, len(steps)+1)
	effects = append(effects, workflow.Effect{Event: ResetChecks{Checks: sim.Pending()}})
	for _, step := range steps {
		switch step.Kind {
		case validation.StepCheck:
			effects = append(effects, workflow.Effect{After: step.After, Event: CheckPassed{Check: step.Check}})
		case validation.StepFinal:
			effects = append(effects, workflow.Effect{
				After: step.After,
				Event: RevealCode{Slot: reveal.SlotFinal, Text: a.templateSet().Final},
			})
		}
	}
	return effects, nil
}

func (a Actions) templateSet() templates.Set {
	if a.Templates.Validate() != nil {
		return templates.Default()
	}
	return a.Templates
}
