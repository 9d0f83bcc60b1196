package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/symbols"
)

func newTestMachine(t *testing.T, opts ...Option) *Machine {
	t.Helper()
	m, err := NewMachine(DefaultDefinition(), opts...)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	m.Start()
	return m
}

func extract(t *testing.T, m *Machine) Entry {
	t.Helper()
	entry, err := m.ApplyExtraction(
		[]entity.Entity{{Phrase: "tank weight", Type: entity.CategoryMeasurement}},
		symbols.New(symbols.Entry{Name: "Outgoing Flow", Tag: "FT-201.OUT"}),
		"run-1",
	)
	if err != nil {
		t.Fatalf("apply extraction: %v", err)
	}
	return entry
}

func TestNavigationBeforeStart(t *testing.T) {
	m, err := NewMachine(DefaultDefinition())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Advance(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if m.IsCurrent(0) {
		t.Fatalf("no epoch should be current before start")
	}
}

func TestRetreatAtFirstPhaseIsNoop(t *testing.T) {
	m := newTestMachine(t)
	epoch := m.Epoch()
	if m.CanRetreat() {
		t.Fatalf("retreat should be disabled at phase 1")
	}
	if _, err := m.Retreat(); !errors.Is(err, ErrFirstPhase) || !errors.Is(err, ErrBoundary) {
		t.Fatalf("expected first phase boundary, got %v", err)
	}
	if m.Current() != 1 || m.Epoch() != epoch {
		t.Fatalf("state changed on boundary: phase=%d epoch=%d", m.Current(), m.Epoch())
	}
}

func TestAdvanceWithoutExtractionIsGated(t *testing.T) {
	m := newTestMachine(t)
	if !m.CanAdvance() {
		t.Fatalf("advance control should be enabled at phase 1")
	}
	if _, err := m.Advance(); !errors.Is(err, ErrExtractionRequired) {
		t.Fatalf("expected ErrExtractionRequired, got %v", err)
	}
	if m.Current() != 1 {
		t.Fatalf("gated advance changed phase to %d", m.Current())
	}
	if _, err := m.JumpTo(4); !errors.Is(err, ErrExtractionRequired) {
		t.Fatalf("gated jump should fail, got %v", err)
	}
}

func TestExtractionAlwaysLandsOnEntitiesPhase(t *testing.T) {
	for start := 1; start <= 5; start++ {
		m := newTestMachine(t)
		if start > 1 {
			extract(t, m)
			if _, err := m.JumpTo(start); err != nil {
				t.Fatalf("jump to %d: %v", start, err)
			}
		}
		entry := extract(t, m)
		if entry.Phase != 2 || m.Current() != 2 {
			t.Fatalf("from phase %d: expected phase 2, got %d", start, m.Current())
		}
		if entry.Direction != DirectionJump {
			t.Fatalf("expected jump direction, got %s", entry.Direction)
		}
		if got := m.State(); len(got.Entities) != 1 || got.RunID != "run-1" || !got.Extracted {
			t.Fatalf("state not applied: %+v", got)
		}
	}
}

func TestInteriorNavigationMovesByOne(t *testing.T) {
	m := newTestMachine(t)
	extract(t, m)
	for phase := 2; phase < 5; phase++ {
		if !m.CanAdvance() || !m.CanRetreat() {
			t.Fatalf("both controls should be enabled at phase %d", phase)
		}
		if _, err := m.Advance(); err != nil {
			t.Fatalf("advance from %d: %v", phase, err)
		}
		if m.Current() != phase+1 {
			t.Fatalf("expected %d, got %d", phase+1, m.Current())
		}
	}
	if m.CanAdvance() {
		t.Fatalf("advance should be disabled at the last phase")
	}
	if _, err := m.Advance(); !errors.Is(err, ErrLastPhase) {
		t.Fatalf("expected ErrLastPhase, got %v", err)
	}
	if m.Current() != 5 {
		t.Fatalf("boundary advance changed phase")
	}
	if _, err := m.Retreat(); err != nil || m.Current() != 4 {
		t.Fatalf("retreat: phase=%d err=%v", m.Current(), err)
	}
}

func TestEveryEntryBumpsEpochAndRerunsAction(t *testing.T) {
	calls := map[Direction]int{}
	m := newTestMachine(t, WithAction(KindTally, func(ctx EntryContext) ([]Effect, error) {
		calls[ctx.Direction]++
		return []Effect{{After: time.Second, Event: "tick"}}, nil
	}))
	extract(t, m)

	first, err := m.Advance()
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Effects) != 1 || first.Effects[0].Epoch != first.Epoch {
		t.Fatalf("effects not stamped with entry epoch: %+v", first.Effects)
	}
	if !m.IsCurrent(first.Epoch) {
		t.Fatalf("fresh entry epoch should be current")
	}

	if _, err := m.Advance(); err != nil {
		t.Fatal(err)
	}
	if m.IsCurrent(first.Epoch) {
		t.Fatalf("leaving the phase should make its epoch stale")
	}
	again, err := m.Retreat()
	if err != nil {
		t.Fatal(err)
	}
	if again.Epoch <= first.Epoch || len(again.Effects) != 1 {
		t.Fatalf("re-entry should yield fresh effects, got %+v", again)
	}
	if calls[DirectionForward] != 1 || calls[DirectionBackward] != 1 {
		t.Fatalf("unexpected action calls: %v", calls)
	}
}

func TestFailingActionKeepsPhaseChangeAndState(t *testing.T) {
	m := newTestMachine(t,
		WithAction(KindTally, func(EntryContext) ([]Effect, error) {
			return []Effect{{Event: "partial"}}, errors.New("render broke")
		}),
		WithAction(KindLogic, func(ctx EntryContext) ([]Effect, error) {
			ctx.State.Entities[0].Phrase = "mutated"
			panic("boom")
		}),
	)
	extract(t, m)
	before := m.State()

	entry, err := m.Advance()
	if err != nil {
		t.Fatalf("advance should succeed even when the action fails: %v", err)
	}
	if entry.Err == nil || len(entry.Effects) != 0 {
		t.Fatalf("expected entry error and no effects, got %+v", entry)
	}
	if m.Current() != 3 {
		t.Fatalf("phase change should stand, got %d", m.Current())
	}

	entry, err = m.Advance()
	if err != nil {
		t.Fatal(err)
	}
	if entry.Err == nil {
		t.Fatalf("panic should surface as entry error")
	}
	after := m.State()
	if after.Entities[0].Phrase != before.Entities[0].Phrase {
		t.Fatalf("entry action mutated workflow state")
	}
}

func TestJumpOutOfRange(t *testing.T) {
	m := newTestMachine(t)
	if _, err := m.JumpTo(0); !errors.Is(err, ErrPhaseOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := m.JumpTo(6); !errors.Is(err, ErrPhaseOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestConfigurablePhaseCount(t *testing.T) {
	def := Definition{ID: "short", Phases: []PhaseSpec{
		{ID: "in", Kind: KindInput},
		{ID: "see", Kind: KindEntities},
	}}
	m, err := NewMachine(def)
	if err != nil {
		t.Fatal(err)
	}
	m.Start()
	if _, err := m.Advance(); err != nil {
		t.Fatalf("ungated advance: %v", err)
	}
	if m.CanAdvance() || m.Total() != 2 {
		t.Fatalf("expected last of 2 phases, total=%d", m.Total())
	}
}
