package orchestrator

import (
	"fmt"
	"io"
	"strings"

	"github.com/kingrea/tally/internal/reveal"
)

// Sink receives presentation events.
type Sink interface {
	Render(event any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event any) error

// Render calls f.
func (f SinkFunc) Render(event any) error { return f(event) }

// TextSink writes events as plain text, for headless runs.
type TextSink struct {
	w io.Writer
}

// NewTextSink writes to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

// Render prints one event.
func (s *TextSink) Render(event any) error {
	var err error
	switch ev := event.(type) {
	case RenderEntities:
		if len(ev.Entities) == 0 {
			_, err = fmt.Fprintln(s.w, "  (no entities)")
			break
		}
		for _, ent := range ev.Entities {
			if _, err = fmt.Fprintf(s.w, "  %s\n", ent); err != nil {
				break
			}
		}
	case ClearBoard:
		_, err = fmt.Fprintf(s.w, "  %-24s %-14s %-12s %s\n", "ENTITY", "TAG", "STATUS", "KIND")
	case RecordRevealed:
		rec := ev.Record
		_, err = fmt.Fprintf(s.w, "  %-24s %-14s %-12s %s\n", rec.Entity.Phrase, rec.TargetTag, rec.DisplayStatus, rec.Kind)
	case TallyComplete:
		_, err = fmt.Fprintf(s.w, "  %s\n", ev.Summary)
	case RevealCode:
		label := "initial logic"
		if ev.Slot == reveal.SlotFinal {
			label = "final logic"
		}
		_, err = fmt.Fprintf(s.w, "  --- %s ---\n%s\n", label, indent(ev.Text))
	case ResetChecks:
		for _, check := range ev.Checks {
			if _, err = fmt.Fprintf(s.w, "  [ ] %s\n", check.Label); err != nil {
				break
			}
		}
	case CheckPassed:
		_, err = fmt.Fprintf(s.w, "  [x] %s\n", ev.Check.Label)
	default:
		_, err = fmt.Fprintf(s.w, "  %v\n", ev)
	}
	return err
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n")
}
