package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/reveal"
	"github.com/kingrea/tally/internal/tally"
	"github.com/kingrea/tally/internal/workflow"
)

var (
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	indicatorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	controlStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#CCCCCC"))
	controlOffStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	labelStyleMatch   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleInfer   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleUnknown = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	codeStyle         = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#444444")).
				Padding(0, 1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

// categoryStyles colour entity chips by type.
var categoryStyles = map[entity.Category]lipgloss.Style{
	entity.CategoryEquipment:   lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
	entity.CategoryVariable:    lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")),
	entity.CategoryParameter:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")),
	entity.CategoryMeasurement: lipgloss.NewStyle().Foreground(lipgloss.Color("#C792EA")),
}

// View renders the current state.
func (a *App) View() string {
	sections := []string{
		headerStyle.Render("⬡ TALLY"),
		a.renderNavigation(),
		"",
		a.renderPhase(),
	}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, "", logPanel)
	}
	footer := a.statusMsg
	if a.err != nil && footer != "" {
		footer = errorStyle.Render(footer)
	}
	sections = append(sections, "", footer, a.help.View(a.keys))
	return strings.Join(sections, "\n")
}

// PhaseIndicator is the title of the current phase and its position.
func (a *App) PhaseIndicator() string {
	m := a.session.Machine()
	return fmt.Sprintf("%s (%d/%d)", m.Title(), m.Current(), m.Total())
}

func (a *App) renderNavigation() string {
	m := a.session.Machine()
	prev := controlOffStyle.Render("‹ prev")
	if m.CanRetreat() {
		prev = controlStyle.Render("‹ prev")
	}
	next := controlOffStyle.Render("next ›")
	if m.CanAdvance() {
		next = controlStyle.Render("next ›")
	}
	return fmt.Sprintf("%s   %s   %s", prev, indicatorStyle.Render(a.PhaseIndicator()), next)
}

func (a *App) renderPhase() string {
	switch a.currentKind() {
	case workflow.KindInput:
		return a.renderInput()
	case workflow.KindEntities:
		return a.renderEntities()
	case workflow.KindTally:
		return a.renderBoard()
	case workflow.KindLogic:
		return a.renderCode(reveal.SlotInitial)
	case workflow.KindValidation:
		return a.renderValidation()
	default:
		return detailTextStyle.Render("Nothing to show for this phase.")
	}
}

func (a *App) renderInput() string {
	button := "[ Upload & Initialize Simulation ]"
	if a.busy {
		button = fmt.Sprintf("%s Processing document...", a.spinner.View())
	}
	return strings.Join([]string{
		a.docInput.View(),
		"",
		"Symbol list (JSON):",
		a.symbolsInput.View(),
		"",
		button,
	}, "\n")
}

func (a *App) renderEntities() string {
	if len(a.entities) == 0 {
		return detailTextStyle.Render("No entities were extracted from this document.")
	}
	chips := make([]string, 0, len(a.entities))
	for _, ent := range a.entities {
		style, ok := categoryStyles[ent.Type]
		if !ok {
			style = labelStylePending
		}
		chips = append(chips, fmt.Sprintf("%s %s", ent.Phrase, style.Render(strings.ToUpper(string(ent.Type)))))
	}
	return strings.Join(chips, "\n")
}

func (a *App) renderBoard() string {
	lines := []string{detailTextStyle.Render(fmt.Sprintf("%-24s %-14s %s", "ENTITY", "TARGET", "STATUS"))}
	for _, rec := range a.board {
		lines = append(lines, fmt.Sprintf("%-24s %-14s %s",
			truncate(rec.Entity.Phrase, 24),
			rec.TargetTag,
			statusStyle(rec.Kind).Render(rec.DisplayStatus),
		))
	}
	if pending := a.boardTotal - len(a.board); pending > 0 {
		lines = append(lines, labelStylePending.Render(fmt.Sprintf("… %d pending", pending)))
	}
	if a.summary != nil {
		lines = append(lines, "", detailTextStyle.Render(a.summary.String()))
	}
	return strings.Join(lines, "\n")
}

func statusStyle(kind tally.Kind) lipgloss.Style {
	switch kind {
	case tally.KindMatched:
		return labelStyleMatch
	case tally.KindInferred:
		return labelStyleInfer
	default:
		return labelStyleUnknown
	}
}

func (a *App) renderCode(slot reveal.Slot) string {
	view, ok := a.codes[slot]
	if !ok {
		return codeStyle.Render(" ")
	}
	text, _ := view.reveal.Frame(view.shown)
	if text == "" {
		text = " "
	}
	return codeStyle.Render(text)
}

func (a *App) renderValidation() string {
	lines := make([]string, 0, len(a.checks)+2)
	for _, check := range a.checks {
		if check.Passed {
			lines = append(lines, labelStyleMatch.Render("✓ "+check.Label))
			continue
		}
		lines = append(lines, labelStylePending.Render("… "+check.Label))
	}
	lines = append(lines, "", a.renderCode(reveal.SlotFinal))
	return strings.Join(lines, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func truncate(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
