package workflow

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/symbols"
)

var (
	// ErrBoundary is wrapped by both navigation boundary errors.
	ErrBoundary   = errors.New("workflow: navigation boundary")
	ErrFirstPhase = fmt.Errorf("%w: already at the first phase", ErrBoundary)
	ErrLastPhase  = fmt.Errorf("%w: already at the last phase", ErrBoundary)
	// ErrExtractionRequired is returned when a gated phase is entered before
	// any document has been processed.
	ErrExtractionRequired = errors.New("workflow: please upload and process a document first")
	ErrPhaseOutOfRange    = errors.New("workflow: phase out of range")
	ErrNotStarted         = errors.New("workflow: machine not started")
)

// Direction records how a phase was entered.
type Direction int

const (
	DirectionStart Direction = iota
	DirectionForward
	DirectionBackward
	DirectionJump
)

func (d Direction) String() string {
	switch d {
	case DirectionStart:
		return "start"
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	case DirectionJump:
		return "jump"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Effect is a presentation event scheduled relative to phase entry. Drivers
// must drop effects whose epoch is no longer current.
type Effect struct {
	Epoch uint64
	After time.Duration
	Event any
}

// Entry is the outcome of entering a phase.
type Entry struct {
	Phase     int
	Spec      PhaseSpec
	Epoch     uint64
	Direction Direction
	Effects   []Effect
	// Err is set when the entry action failed. The phase change stands.
	Err error
}

// EntryContext is handed to entry actions.
type EntryContext struct {
	Phase     int
	Spec      PhaseSpec
	State     State
	Direction Direction
}

// EntryAction computes the effects of entering a phase. Actions receive a
// copy of the state and cannot mutate it.
type EntryAction func(EntryContext) ([]Effect, error)

// Option configures a Machine.
type Option func(*Machine)

// WithAction registers the entry action for phases of kind.
func WithAction(kind Kind, action EntryAction) Option {
	return func(m *Machine) {
		if action != nil {
			m.actions[kind] = action
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Machine owns the workflow state and sequences phase entries. It is not
// safe for concurrent use; a single driver loop owns it.
type Machine struct {
	def     Definition
	actions map[Kind]EntryAction
	logger  *zap.Logger

	state   State
	epoch   uint64
	started bool
}

// NewMachine builds a machine over def, positioned at phase 1.
func NewMachine(def Definition, opts ...Option) (*Machine, error) {
	normalized, err := def.Normalized()
	if err != nil {
		return nil, err
	}
	m := &Machine{
		def:     normalized,
		actions: map[Kind]EntryAction{},
		logger:  zap.NewNop(),
		state:   State{Current: 1},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Start enters phase 1. Calling it again restarts phase 1 without touching
// the entities.
func (m *Machine) Start() Entry {
	m.started = true
	return m.enter(1, DirectionStart)
}

// Definition returns the normalized definition.
func (m *Machine) Definition() Definition { return m.def.Clone() }

// State returns a snapshot of the workflow state.
func (m *Machine) State() State { return m.state.Clone() }

// Current is the 1-based current phase.
func (m *Machine) Current() int { return m.state.Current }

// Total is the number of phases.
func (m *Machine) Total() int { return m.def.Total() }

// Spec returns the current phase spec.
func (m *Machine) Spec() PhaseSpec {
	spec, _ := m.def.Phase(m.state.Current)
	return spec
}

// Title returns the current phase title.
func (m *Machine) Title() string { return m.Spec().Title }

// Epoch identifies the latest phase entry.
func (m *Machine) Epoch() uint64 { return m.epoch }

// IsCurrent reports whether an effect stamped with epoch may still fire.
func (m *Machine) IsCurrent(epoch uint64) bool { return m.started && epoch == m.epoch }

// CanAdvance reports whether a next phase exists.
func (m *Machine) CanAdvance() bool { return m.state.Current < m.def.Total() }

// CanRetreat reports whether a previous phase exists.
func (m *Machine) CanRetreat() bool { return m.state.Current > 1 }

// Advance moves one phase forward and runs the new phase's entry action.
func (m *Machine) Advance() (Entry, error) {
	if !m.started {
		return Entry{}, ErrNotStarted
	}
	if !m.CanAdvance() {
		return Entry{}, ErrLastPhase
	}
	target := m.state.Current + 1
	if err := m.gate(target); err != nil {
		return Entry{}, err
	}
	return m.enter(target, DirectionForward), nil
}

// Retreat moves one phase back and re-runs that phase's entry action.
func (m *Machine) Retreat() (Entry, error) {
	if !m.started {
		return Entry{}, ErrNotStarted
	}
	if !m.CanRetreat() {
		return Entry{}, ErrFirstPhase
	}
	return m.enter(m.state.Current-1, DirectionBackward), nil
}

// JumpTo enters phase n directly.
func (m *Machine) JumpTo(n int) (Entry, error) {
	if !m.started {
		return Entry{}, ErrNotStarted
	}
	if n < 1 || n > m.def.Total() {
		return Entry{}, fmt.Errorf("%w: %d not in [1, %d]", ErrPhaseOutOfRange, n, m.def.Total())
	}
	if err := m.gate(n); err != nil {
		return Entry{}, err
	}
	return m.enter(n, DirectionJump), nil
}

// ApplyExtraction replaces the entities and symbol table wholesale with the
// result of a successful extraction and jumps to the first entities phase.
func (m *Machine) ApplyExtraction(entities []entity.Entity, table symbols.Table, runID string) (Entry, error) {
	if !m.started {
		return Entry{}, ErrNotStarted
	}
	target := m.def.FirstOf(KindEntities)
	if target == 0 {
		return Entry{}, fmt.Errorf("%w: no %s phase", ErrPhaseOutOfRange, KindEntities)
	}
	m.state.Entities = entity.Clone(entities)
	m.state.Symbols = table
	m.state.RunID = runID
	m.state.Extracted = true
	m.logger.Info("extraction applied",
		zap.String("run_id", runID),
		zap.Int("entities", len(entities)),
		zap.Int("symbols", table.Len()),
	)
	return m.enter(target, DirectionJump), nil
}

func (m *Machine) gate(target int) error {
	spec, ok := m.def.Phase(target)
	if !ok {
		return ErrPhaseOutOfRange
	}
	if spec.RequiresExtraction && !m.state.Extracted {
		return ErrExtractionRequired
	}
	return nil
}

func (m *Machine) enter(target int, dir Direction) Entry {
	m.state.Current = target
	m.epoch++
	spec, _ := m.def.Phase(target)
	entry := Entry{Phase: target, Spec: spec, Epoch: m.epoch, Direction: dir}

	effects, err := m.run(EntryContext{
		Phase:     target,
		Spec:      spec,
		State:     m.state.Clone(),
		Direction: dir,
	})
	if err != nil {
		entry.Err = err
		m.logger.Warn("phase entry failed",
			zap.Int("phase", target),
			zap.String("kind", string(spec.Kind)),
			zap.Error(err),
		)
		return entry
	}
	for i := range effects {
		effects[i].Epoch = m.epoch
	}
	entry.Effects = effects
	m.logger.Debug("phase entered",
		zap.Int("phase", target),
		zap.Stringer("direction", dir),
		zap.Uint64("epoch", m.epoch),
		zap.Int("effects", len(effects)),
	)
	return entry
}

func (m *Machine) run(ctx EntryContext) (effects []Effect, err error) {
	action, ok := m.actions[ctx.Spec.Kind]
	if !ok {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			effects = nil
			err = fmt.Errorf("workflow: phase %d entry panicked: %v", ctx.Phase, r)
		}
	}()
	effects, err = action(ctx)
	if err != nil {
		return nil, fmt.Errorf("workflow: phase %d entry: %w", ctx.Phase, err)
	}
	return effects, nil
}
