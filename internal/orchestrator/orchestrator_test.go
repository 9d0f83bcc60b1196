package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/extract"
	"github.com/kingrea/tally/internal/logbook"
	"github.com/kingrea/tally/internal/reveal"
	"github.com/kingrea/tally/internal/symbols"
	"github.com/kingrea/tally/internal/tally"
	"github.com/kingrea/tally/internal/validation"
	"github.com/kingrea/tally/internal/workflow"
)

type fakeExtractor struct {
	result extract.Result
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, doc extract.Document) (extract.Result, error) {
	f.calls++
	if f.err != nil {
		return extract.Result{}, f.err
	}
	res := f.result
	res.Document = doc.Name
	return res, nil
}

var narrative = extract.Document{Name: "narrative.txt", Content: []byte("tank weight")}

func newMachine(t *testing.T, actions Actions) *workflow.Machine {
	t.Helper()
	m, err := workflow.NewMachine(workflow.DefaultDefinition(), actions.Options()...)
	require.NoError(t, err)
	return m
}

func sampleEntities() []entity.Entity {
	return []entity.Entity{
		{Phrase: "SUSV", Type: entity.CategoryEquipment},
		{Phrase: "Outgoing Flow", Type: entity.CategoryMeasurement},
		{Phrase: "tank weight", Type: entity.CategoryMeasurement},
		{Phrase: "feed", Type: entity.CategoryVariable},
	}
}

func sampleTable() symbols.Table {
	return symbols.New(
		symbols.Entry{Name: "SUSV", Tag: "V-110"},
		symbols.Entry{Name: "Incoming Flow", Tag: "FT-201.IN"},
	)
}

func collect(events *[]any) Sink {
	return SinkFunc(func(event any) error {
		*events = append(*events, event)
		return nil
	})
}

func TestTallyScheduleIsStaggeredInEntityOrder(t *testing.T) {
	actions := DefaultActions()
	actions.Stagger = 100 * time.Millisecond
	effects, err := actions.Tally(workflow.EntryContext{State: workflow.State{
		Entities:  sampleEntities(),
		Symbols:   sampleTable(),
		Extracted: true,
	}})
	require.NoError(t, err)
	require.Len(t, effects, 6)

	assert.Equal(t, ClearBoard{Total: 4}, effects[0].Event)
	assert.Zero(t, effects[0].After)
	for i := 0; i < 4; i++ {
		ev, ok := effects[i+1].Event.(RecordRevealed)
		require.True(t, ok)
		assert.Equal(t, i, ev.Index)
		assert.Equal(t, time.Duration(i)*100*time.Millisecond, effects[i+1].After)
	}
	first := effects[1].Event.(RecordRevealed).Record
	assert.Equal(t, tally.KindMatched, first.Kind)
	assert.Equal(t, "V-110", first.TargetTag)
	last := effects[4].Event.(RecordRevealed).Record
	assert.Equal(t, tally.KindUnresolved, last.Kind)
	assert.Equal(t, tally.UnknownTag, last.TargetTag)

	done, ok := effects[5].Event.(TallyComplete)
	require.True(t, ok)
	assert.Equal(t, 300*time.Millisecond, effects[5].After)
	assert.Equal(t, 4, done.Summary.Total())
}

func TestTallyWithNoEntitiesClearsBoard(t *testing.T) {
	effects, err := DefaultActions().Tally(workflow.EntryContext{State: workflow.State{Extracted: true}})
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.Equal(t, ClearBoard{Total: 0}, effects[0].Event)
	assert.Equal(t, TallyComplete{}, effects[1].Event)
}

func TestTallyRequiresExtraction(t *testing.T) {
	_, err := DefaultActions().Tally(workflow.EntryContext{})
	assert.ErrorIs(t, err, ErrNoSymbols)
}

func TestValidationTimeline(t *testing.T) {
	effects, err := DefaultActions().Validation(workflow.EntryContext{})
	require.NoError(t, err)
	require.Len(t, effects, 4)

	reset, ok := effects[0].Event.(ResetChecks)
	require.True(t, ok)
	assert.Len(t, reset.Checks, 2)
	for _, check := range reset.Checks {
		assert.False(t, check.Passed)
	}

	assert.Equal(t, time.Second, effects[1].After)
	assert.Equal(t, validation.CheckSyntax, effects[1].Event.(CheckPassed).Check.ID)
	assert.Equal(t, 2500*time.Millisecond, effects[2].After)
	assert.Equal(t, validation.CheckMissingParameter, effects[2].Event.(CheckPassed).Check.ID)

	final, ok := effects[3].Event.(RevealCode)
	require.True(t, ok)
	assert.Equal(t, 3500*time.Millisecond, effects[3].After)
	assert.Equal(t, reveal.SlotFinal, final.Slot)
	assert.Contains(t, final.Text, "DELAY_TIME")
}

func TestLogicFallsBackToDefaultTemplates(t *testing.T) {
	actions := DefaultActions()
	actions.Templates.Initial = "   "
	effects, err := actions.Logic(workflow.EntryContext{})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	code := effects[0].Event.(RevealCode)
	assert.Equal(t, reveal.SlotInitial, code.Slot)
	assert.Contains(t, code.Text, "Initial Translation")
}

func TestPlayerDropsStaleEffects(t *testing.T) {
	m := newMachine(t, DefaultActions())
	m.Start()
	entry, err := m.ApplyExtraction(sampleEntities(), sampleTable(), "run-1")
	require.NoError(t, err)
	tallyEntry, err := m.Advance()
	require.NoError(t, err)

	var events []any
	player := NewPlayer(collect(&events), WithoutDelay())

	fired, err := player.Play(context.Background(), m, entry)
	require.NoError(t, err)
	assert.Zero(t, fired, "effects from a left phase must not render")

	fired, err = player.Play(context.Background(), m, tallyEntry)
	require.NoError(t, err)
	assert.Equal(t, len(tallyEntry.Effects), fired)
	assert.IsType(t, ClearBoard{}, events[0])
}

func TestPlayerStopsWhenPhaseChangesMidSchedule(t *testing.T) {
	m := newMachine(t, DefaultActions())
	m.Start()
	_, err := m.ApplyExtraction(sampleEntities(), sampleTable(), "run-1")
	require.NoError(t, err)
	entry, err := m.Advance()
	require.NoError(t, err)

	var events []any
	sleeps := 0
	player := NewPlayer(collect(&events), WithSleep(func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 1 {
			_, err := m.Retreat()
			require.NoError(t, err)
		}
		return ctx.Err()
	}))

	fired, err := player.Play(context.Background(), m, entry)
	require.NoError(t, err)
	assert.Equal(t, 2, fired)
	assert.Len(t, events, 2)
}

func TestPlayerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	player := NewPlayer(SinkFunc(func(any) error { return nil }))
	m := newMachine(t, DefaultActions())
	m.Start()
	entry := workflow.Entry{Effects: []workflow.Effect{{After: time.Hour, Epoch: m.Epoch()}}}
	_, err := player.Play(ctx, m, entry)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTextSinkRendersBoard(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTextSink(&buf)
	rec := tally.Record{
		Entity:        entity.Entity{Phrase: "SUSV", Type: entity.CategoryEquipment},
		Kind:          tally.KindMatched,
		TargetTag:     "V-110",
		DisplayStatus: tally.StatusMatch,
	}
	require.NoError(t, sink.Render(ClearBoard{Total: 1}))
	require.NoError(t, sink.Render(RecordRevealed{Total: 1, Record: rec}))
	require.NoError(t, sink.Render(RenderEntities{}))
	require.NoError(t, sink.Render(CheckPassed{Check: validation.Check{Label: "Syntax Check Passed"}}))

	out := buf.String()
	assert.Contains(t, out, "ENTITY")
	assert.Contains(t, out, "V-110")
	assert.Contains(t, out, tally.StatusMatch)
	assert.Contains(t, out, "(no entities)")
	assert.Contains(t, out, "[x] Syntax Check Passed")
}

func TestPrepareValidatesDocumentBeforeSymbols(t *testing.T) {
	_, err := Prepare(extract.Document{}, "{not json")
	assert.ErrorIs(t, err, extract.ErrNoDocument)

	_, err = Prepare(narrative, "{not json")
	assert.ErrorIs(t, err, symbols.ErrInvalidJSON)
	assert.Equal(t, KindInput, Classify(err))
	assert.Contains(t, Describe(err), "Invalid JSON in Symbol List")

	req, err := Prepare(narrative, `{"SUSV": "V-110"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, req.Symbols.Len())
}

func TestSessionSubmitAppliesExtraction(t *testing.T) {
	book, err := logbook.New(filepath.Join(t.TempDir(), logbook.FileName))
	require.NoError(t, err)
	fake := &fakeExtractor{result: extract.Result{RunID: "run-7", Entities: sampleEntities()}}
	session := NewSession(newMachine(t, DefaultActions()), fake, WithLogbook(book))
	session.Start()

	req, err := Prepare(narrative, `{"SUSV": "V-110"}`)
	require.NoError(t, err)
	entry, err := session.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, entry.Phase)
	require.Len(t, entry.Effects, 1)
	assert.Len(t, entry.Effects[0].Event.(RenderEntities).Entities, 4)
	state := session.Machine().State()
	assert.Equal(t, "run-7", state.RunID)
	assert.True(t, state.Extracted)

	lines, _ := book.Tail(10)
	joined := fmt.Sprint(lines)
	assert.Contains(t, joined, "processed narrative.txt: 4 entities (run run-7)")
}

func TestSessionFailedExtractionLeavesStateAlone(t *testing.T) {
	fake := &fakeExtractor{err: fmt.Errorf("%w: %w", extract.ErrUnavailable, errors.New("connection refused"))}
	session := NewSession(newMachine(t, DefaultActions()), fake)
	session.Start()

	req, err := Prepare(narrative, `{}`)
	require.NoError(t, err)
	_, err = session.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, KindTransport, Classify(err))
	assert.Contains(t, Describe(err), "Error processing document:")

	assert.Equal(t, 1, session.Machine().Current())
	assert.False(t, session.Machine().State().Extracted)

	_, err = session.Advance()
	assert.ErrorIs(t, err, workflow.ErrExtractionRequired)
	assert.Equal(t, "Please upload and process a document first.", Describe(err))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{extract.ErrNoDocument, KindInput},
		{workflow.ErrLastPhase, KindInput},
		{&extract.StatusError{Code: 503, Message: "ML Model not available"}, KindTransport},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), KindTransport},
		{extract.ErrBusy, KindTransport},
		{errors.New("boom"), KindLogic},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
	assert.Equal(t, "Unexpected error: boom", Describe(errors.New("boom")))
	assert.Equal(t, "Please upload a document file.", Describe(extract.ErrNoDocument))
	assert.Equal(t,
		"Error processing document: service returned 503 Service Unavailable: ML Model not available",
		Describe(&extract.StatusError{Code: 503, Message: "ML Model not available"}),
	)
}
