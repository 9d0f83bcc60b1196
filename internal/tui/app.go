// internal/tui/app.go
//
// This is the terminal front end for tally. It uses bubbletea, which follows
// The Elm Architecture:
//
// 1. Model: the App struct below
// 2. Update: turns messages into state changes and follow-up commands
// 3. View: renders the App to a string (see workflow_view.go)
//
// The workflow machine is only ever touched from Update. Extraction runs in a
// tea.Cmd and comes back as extractionDoneMsg; scheduled phase effects come
// back as effectMsg and are dropped once their epoch is stale.

package tui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/kingrea/tally/internal/config"
	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/extract"
	"github.com/kingrea/tally/internal/logbook"
	"github.com/kingrea/tally/internal/orchestrator"
	"github.com/kingrea/tally/internal/reveal"
	"github.com/kingrea/tally/internal/symbols"
	"github.com/kingrea/tally/internal/tally"
	"github.com/kingrea/tally/internal/validation"
	"github.com/kingrea/tally/internal/workflow"
)

// inputFocus is the focused field on the input phase.
type inputFocus int

const (
	focusDocument inputFocus = iota
	focusSymbols
)

// effectMsg resumes an entry's effect chain once elapsed has passed. The
// pending effects are ordered by delay; the head is due now.
type effectMsg struct {
	epoch   uint64
	elapsed time.Duration
	pending []workflow.Effect
}

// revealTickMsg shows the first n characters of a reveal.
type revealTickMsg struct {
	slot reveal.Slot
	gen  uint64
	n    int
}

type extractionDoneMsg struct {
	req    orchestrator.Request
	result extract.Result
	err    error
}

type symbolsReloadedMsg struct {
	update symbols.Update
}

// codeView is the visible part of a reveal on one slot.
type codeView struct {
	reveal reveal.Reveal
	shown  int
}

// Scheduler delivers msg after d.
type Scheduler func(d time.Duration, msg tea.Msg) tea.Cmd

func tickScheduler(d time.Duration, msg tea.Msg) tea.Cmd {
	if d <= 0 {
		return func() tea.Msg { return msg }
	}
	return tea.Tick(d, func(time.Time) tea.Msg { return msg })
}

type keyMap struct {
	Next    key.Binding
	Prev    key.Binding
	NextAlt key.Binding
	PrevAlt key.Binding
	Submit  key.Binding
	Focus   key.Binding
	Quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Next:    key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "next")),
		Prev:    key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "previous")),
		NextAlt: key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next")),
		PrevAlt: key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "previous")),
		Submit:  key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "upload & initialize")),
		Focus:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch field")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PrevAlt, k.NextAlt, k.Prev, k.Next, k.Submit, k.Focus, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithExtractor replaces the extraction client.
func WithExtractor(e orchestrator.Extractor) AppOption {
	return func(a *App) {
		if e != nil {
			a.extractor = e
		}
	}
}

// WithScheduler replaces the timer used for effects and reveals.
func WithScheduler(s Scheduler) AppOption {
	return func(a *App) {
		if s != nil {
			a.schedule = s
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDocumentPath pre-fills the document field.
func WithDocumentPath(path string) AppOption {
	return func(a *App) { a.docInput.SetValue(path) }
}

// WithSymbolsText pre-fills the symbol list.
func WithSymbolsText(text string) AppOption {
	return func(a *App) {
		if strings.TrimSpace(text) != "" {
			a.symbolsInput.SetValue(text)
		}
	}
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	config     *config.Config
	session    *orchestrator.Session
	extractor  orchestrator.Extractor
	logbook    *logbook.Logbook
	logger     *zap.Logger
	typewriter *reveal.Typewriter
	watcher    *symbols.Watcher
	schedule   Scheduler
	ctx        context.Context
	cancel     context.CancelFunc

	// Input phase widgets
	docInput     textinput.Model
	symbolsInput textarea.Model
	focus        inputFocus
	spinner      spinner.Model
	busy         bool

	keys keyMap
	help help.Model

	// Presentation state fed by effects
	entities   []entity.Entity
	board      []tally.Record
	boardTotal int
	summary    *tally.Summary
	checks     []validation.Check
	codes      map[reveal.Slot]codeView

	statusMsg string
	err       error

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// NewApp builds the TUI for a loaded project configuration.
func NewApp(cfg *config.Config, opts ...AppOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tui: config is nil")
	}
	lb, err := logbook.New(logbookPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("tui: open logbook: %w", err)
	}

	doc := textinput.New()
	doc.Placeholder = "path/to/narrative.pdf"
	doc.Prompt = "Document: "
	doc.CharLimit = 1024
	_ = doc.Cursor.SetMode(cursor.CursorStatic)

	syms := textarea.New()
	syms.Placeholder = `{"SUSV": "V-110", "Incoming Flow": "FT-201.IN"}`
	syms.ShowLineNumbers = false
	syms.SetHeight(6)
	_ = syms.Cursor.SetMode(cursor.CursorStatic)

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config:       cfg,
		logbook:      lb,
		logger:       zap.NewNop(),
		schedule:     tickScheduler,
		ctx:          ctx,
		cancel:       cancel,
		docInput:     doc,
		symbolsInput: syms,
		spinner:      spin,
		keys:         newKeyMap(),
		help:         help.New(),
		codes:        map[reveal.Slot]codeView{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}

	parts, err := orchestrator.Assemble(cfg, app.logger)
	if err != nil {
		cancel()
		return nil, err
	}
	app.typewriter = reveal.New(parts.RevealRate)
	session, err := parts.NewSession(app.extractor, lb, app.logger)
	if err != nil {
		cancel()
		return nil, err
	}
	app.session = session

	if path := cfg.SymbolsPath(); path != "" {
		app.loadSymbolsFile(path)
	}
	app.docInput.Focus()
	return app, nil
}

func logbookPath(cfg *config.Config) string {
	return filepath.Join(cfg.LogsDir(), logbook.FileName)
}

// loadSymbolsFile seeds the textarea from path and starts watching it.
func (a *App) loadSymbolsFile(path string) {
	table, err := symbols.LoadFile(path)
	if err != nil {
		a.logWarn("Symbol file %s unavailable: %v", path, err)
		return
	}
	if strings.TrimSpace(a.symbolsInput.Value()) == "" {
		a.symbolsInput.SetValue(formatTable(table))
	}
	w, err := symbols.Watch(path, a.logger)
	if err != nil {
		a.logWarn("Symbol file %s will not reload: %v", path, err)
		return
	}
	a.watcher = w
}

func formatTable(table symbols.Table) string {
	raw, err := table.MarshalJSON()
	if err != nil {
		return ""
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

// Close releases the watcher and cancels in-flight work.
func (a *App) Close() error {
	a.cancel()
	if a.watcher != nil {
		return a.watcher.Close()
	}
	return nil
}

func (a *App) logInfo(format string, args ...any) {
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	a.logbook.Warn(format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	entry := a.session.Start()
	a.logInfo("Session opened · %d phases", a.session.Machine().Total())
	return tea.Batch(a.applyEntry(entry), a.waitForSymbols())
}

func (a *App) waitForSymbols() tea.Cmd {
	if a.watcher == nil {
		return nil
	}
	updates := a.watcher.Updates()
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return symbolsReloadedMsg{update: u}
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.docInput.Width = max(20, msg.Width-16)
		a.symbolsInput.SetWidth(max(20, msg.Width-6))
		a.help.Width = msg.Width
		return a, nil

	case spinner.TickMsg:
		if !a.busy {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case extractionDoneMsg:
		return a, a.handleExtractionDone(msg)

	case effectMsg:
		if !a.session.Machine().IsCurrent(msg.epoch) {
			return a, nil
		}
		return a, a.playEffects(msg.epoch, msg.pending, msg.elapsed)

	case revealTickMsg:
		if !a.typewriter.IsCurrent(msg.slot, msg.gen) {
			return a, nil
		}
		view := a.codes[msg.slot]
		view.shown = msg.n
		a.codes[msg.slot] = view
		if msg.n >= view.reveal.Len() {
			return a, nil
		}
		return a, a.schedule(a.typewriter.Rate(), revealTickMsg{slot: msg.slot, gen: msg.gen, n: msg.n + 1})

	case symbolsReloadedMsg:
		if msg.update.Err != nil {
			a.statusMsg = fmt.Sprintf("Symbol file reload failed: %v", msg.update.Err)
			a.logWarn("%s", a.statusMsg)
		} else {
			a.symbolsInput.SetValue(formatTable(msg.update.Table))
			a.statusMsg = fmt.Sprintf("Symbol list reloaded (%d names)", msg.update.Table.Len())
			a.logInfo("%s", a.statusMsg)
		}
		return a, a.waitForSymbols()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	onInput := a.currentKind() == workflow.KindInput
	switch {
	case key.Matches(msg, a.keys.Quit):
		_ = a.Close()
		return a, tea.Quit
	case key.Matches(msg, a.keys.Next), !onInput && key.Matches(msg, a.keys.NextAlt):
		return a, a.navigate(a.session.Advance)
	case key.Matches(msg, a.keys.Prev), !onInput && key.Matches(msg, a.keys.PrevAlt):
		return a, a.navigate(a.session.Retreat)
	case !onInput && msg.String() == "q":
		_ = a.Close()
		return a, tea.Quit
	}
	if !onInput {
		return a, nil
	}
	switch {
	case key.Matches(msg, a.keys.Submit):
		return a, a.submit()
	case key.Matches(msg, a.keys.Focus):
		a.toggleFocus()
		return a, nil
	}
	var cmd tea.Cmd
	if a.focus == focusDocument {
		a.docInput, cmd = a.docInput.Update(msg)
	} else {
		a.symbolsInput, cmd = a.symbolsInput.Update(msg)
	}
	return a, cmd
}

func (a *App) toggleFocus() {
	if a.focus == focusDocument {
		a.focus = focusSymbols
		a.docInput.Blur()
		a.symbolsInput.Focus()
		return
	}
	a.focus = focusDocument
	a.symbolsInput.Blur()
	a.docInput.Focus()
}

func (a *App) currentKind() workflow.Kind {
	return a.session.Machine().Spec().Kind
}

func (a *App) navigate(step func() (workflow.Entry, error)) tea.Cmd {
	entry, err := step()
	if err != nil {
		if errors.Is(err, workflow.ErrBoundary) {
			return nil
		}
		a.setError(err)
		return nil
	}
	return a.applyEntry(entry)
}

// submit validates the input phase and starts an extraction. Nothing is sent
// when the document or the symbol list is invalid.
func (a *App) submit() tea.Cmd {
	if a.busy {
		a.setError(extract.ErrBusy)
		return nil
	}
	doc, err := extract.LoadDocument(strings.TrimSpace(a.docInput.Value()))
	if err != nil && !errors.Is(err, extract.ErrNoDocument) {
		a.err = err
		a.statusMsg = fmt.Sprintf("Could not read document: %v", err)
		return nil
	}
	req, err := orchestrator.Prepare(doc, a.symbolsInput.Value())
	if err != nil {
		a.setError(err)
		return nil
	}
	a.busy = true
	a.err = nil
	a.statusMsg = fmt.Sprintf("Processing %s...", req.Document.Name)
	session, ctx := a.session, a.ctx
	extractCmd := func() tea.Msg {
		res, err := session.Extract(ctx, req)
		return extractionDoneMsg{req: req, result: res, err: err}
	}
	return tea.Batch(a.spinner.Tick, extractCmd)
}

func (a *App) handleExtractionDone(msg extractionDoneMsg) tea.Cmd {
	a.busy = false
	if msg.err != nil {
		a.setError(msg.err)
		return nil
	}
	entry, err := a.session.Apply(msg.req, msg.result)
	if err != nil {
		a.setError(err)
		return nil
	}
	a.err = nil
	a.statusMsg = fmt.Sprintf("Extracted %d entities from %s", len(msg.result.Entities), msg.result.Document)
	if msg.result.Cached {
		a.statusMsg += " (cached)"
	}
	return a.applyEntry(entry)
}

func (a *App) setError(err error) {
	a.err = err
	a.statusMsg = orchestrator.Describe(err)
}

// applyEntry resets per-entry presentation and schedules the entry's effects.
func (a *App) applyEntry(entry workflow.Entry) tea.Cmd {
	a.typewriter.Cancel(reveal.SlotInitial)
	a.typewriter.Cancel(reveal.SlotFinal)
	a.syncKeys()
	if entry.Err != nil {
		a.setError(entry.Err)
		return nil
	}
	if entry.Spec.Kind != workflow.KindInput {
		a.err = nil
		a.statusMsg = ""
	}
	effects := slices.Clone(entry.Effects)
	slices.SortStableFunc(effects, func(x, y workflow.Effect) int {
		return cmp.Compare(x.After, y.After)
	})
	return a.playEffects(entry.Epoch, effects, 0)
}

// playEffects applies every effect due by elapsed in list order, then
// schedules one message for the next group. Only one timer per entry is
// outstanding, so effects never overtake each other.
func (a *App) playEffects(epoch uint64, effects []workflow.Effect, elapsed time.Duration) tea.Cmd {
	var cmds []tea.Cmd
	for len(effects) > 0 && effects[0].After <= elapsed {
		cmds = append(cmds, a.applyEvent(effects[0].Event))
		effects = effects[1:]
	}
	if len(effects) > 0 {
		next := effects[0].After
		cmds = append(cmds, a.schedule(next-elapsed, effectMsg{epoch: epoch, elapsed: next, pending: effects}))
	}
	return tea.Batch(cmds...)
}

func (a *App) syncKeys() {
	m := a.session.Machine()
	onInput := a.currentKind() == workflow.KindInput
	a.keys.Next.SetEnabled(m.CanAdvance())
	a.keys.Prev.SetEnabled(m.CanRetreat())
	a.keys.NextAlt.SetEnabled(m.CanAdvance() && !onInput)
	a.keys.PrevAlt.SetEnabled(m.CanRetreat() && !onInput)
	a.keys.Submit.SetEnabled(onInput)
	a.keys.Focus.SetEnabled(onInput)
}

// applyEvent renders one presentation event.
func (a *App) applyEvent(event any) tea.Cmd {
	switch ev := event.(type) {
	case orchestrator.RenderEntities:
		a.entities = entity.Clone(ev.Entities)
	case orchestrator.ClearBoard:
		a.board = a.board[:0]
		a.boardTotal = ev.Total
		a.summary = nil
	case orchestrator.RecordRevealed:
		a.board = append(a.board, ev.Record)
	case orchestrator.TallyComplete:
		summary := ev.Summary
		a.summary = &summary
	case orchestrator.RevealCode:
		return a.startReveal(ev.Slot, ev.Text)
	case orchestrator.ResetChecks:
		a.checks = append([]validation.Check(nil), ev.Checks...)
		a.typewriter.Cancel(reveal.SlotFinal)
		delete(a.codes, reveal.SlotFinal)
	case orchestrator.CheckPassed:
		for i := range a.checks {
			if a.checks[i].ID == ev.Check.ID {
				a.checks[i] = ev.Check
			}
		}
	default:
		a.logger.Debug("unhandled event", zap.String("type", fmt.Sprintf("%T", event)))
	}
	return nil
}

func (a *App) startReveal(slot reveal.Slot, text string) tea.Cmd {
	r := a.typewriter.Start(slot, text)
	a.codes[slot] = codeView{reveal: r}
	if r.Len() == 0 {
		return nil
	}
	return a.schedule(r.Rate, revealTickMsg{slot: slot, gen: r.Generation, n: 1})
}
