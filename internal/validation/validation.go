// Package validation simulates the validation pass run on the generated
// logic. Nothing is actually validated: the simulator emits a fixed,
// time-ordered set of check results followed by the final snippet.
package validation

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// CheckID identifies one simulated check.
type CheckID string

const (
	CheckSyntax           CheckID = "syntax"
	CheckMissingParameter CheckID = "missing_parameter"
)

// Check is the visual state of one check.
type Check struct {
	ID      CheckID
	Label   string
	Passed  bool
	Message string
}

// Timeline holds the delays of each step relative to phase entry.
type Timeline struct {
	Syntax           time.Duration `yaml:"syntax"`
	MissingParameter time.Duration `yaml:"missing_parameter"`
	Final            time.Duration `yaml:"final"`
}

// DefaultTimeline returns the stock delays.
func DefaultTimeline() Timeline {
	return Timeline{
		Syntax:           1000 * time.Millisecond,
		MissingParameter: 2500 * time.Millisecond,
		Final:            3500 * time.Millisecond,
	}
}

// Validate rejects negative delays.
func (t Timeline) Validate() error {
	var errs []error
	if t.Syntax < 0 {
		errs = append(errs, fmt.Errorf("syntax delay %s is negative", t.Syntax))
	}
	if t.MissingParameter < 0 {
		errs = append(errs, fmt.Errorf("missing parameter delay %s is negative", t.MissingParameter))
	}
	if t.Final < 0 {
		errs = append(errs, fmt.Errorf("final delay %s is negative", t.Final))
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation: timeline: %w", errors.Join(errs...))
	}
	return nil
}

// StepKind distinguishes check results from the final reveal.
type StepKind int

const (
	StepCheck StepKind = iota + 1
	StepFinal
)

// Step is one scheduled outcome.
type Step struct {
	After time.Duration
	Kind  StepKind
	// Check is set for StepCheck.
	Check Check
}

// Simulator produces the validation timeline.
type Simulator struct {
	timeline Timeline
}

// NewSimulator builds a simulator. Zero-valued timelines get the defaults.
func NewSimulator(timeline Timeline) *Simulator {
	if timeline == (Timeline{}) {
		timeline = DefaultTimeline()
	}
	return &Simulator{timeline: timeline}
}

// Timeline returns the configured delays.
func (s *Simulator) Timeline() Timeline { return s.timeline }

// Pending returns every check in its initial unchecked state.
func (s *Simulator) Pending() []Check {
	return []Check{
		{ID: CheckSyntax, Label: "Checking Syntax..."},
		{ID: CheckMissingParameter, Label: "Checking for Time Constraint..."},
	}
}

// Steps returns the timeline sorted by delay. Steps with equal delays keep
// their natural order: syntax, missing parameter, final.
func (s *Simulator) Steps() []Step {
	steps := []Step{
		{
			After: s.timeline.Syntax,
			Kind:  StepCheck,
			Check: Check{ID: CheckSyntax, Label: "Syntax Check Passed", Passed: true},
		},
		{
			After: s.timeline.MissingParameter,
			Kind:  StepCheck,
			Check: Check{
				ID:      CheckMissingParameter,
				Label:   `Missing Parameter "configurable time" -> Added DELAY_TIME`,
				Passed:  true,
				Message: "DELAY_TIME",
			},
		},
		{After: s.timeline.Final, Kind: StepFinal},
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].After < steps[j].After })
	return steps
}
