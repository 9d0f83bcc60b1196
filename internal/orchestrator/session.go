// Package orchestrator binds the workflow machine to the extraction client,
// the tally engine and the presentation sinks.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kingrea/tally/internal/extract"
	"github.com/kingrea/tally/internal/logbook"
	"github.com/kingrea/tally/internal/symbols"
	"github.com/kingrea/tally/internal/workflow"
)

// Extractor is the slice of *extract.Client a session needs.
type Extractor interface {
	Extract(ctx context.Context, doc extract.Document) (extract.Result, error)
}

// Request is a validated upload: a document and its parsed symbol table.
type Request struct {
	Document extract.Document
	Symbols  symbols.Table
}

// Prepare validates the document and parses the symbol list. It never
// touches the network.
func Prepare(doc extract.Document, symbolsText string) (Request, error) {
	if err := doc.Validate(); err != nil {
		return Request{}, err
	}
	table, err := symbols.Parse(symbolsText)
	if err != nil {
		return Request{}, err
	}
	return Request{Document: doc, Symbols: table}, nil
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogbook records the journey.
func WithLogbook(book *logbook.Logbook) SessionOption {
	return func(s *Session) { s.book = book }
}

// WithSessionLogger sets the diagnostic logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session drives one machine. Like the machine, it belongs to a single
// driver loop; only Extract may run on another goroutine.
type Session struct {
	machine   *workflow.Machine
	extractor Extractor
	book      *logbook.Logbook
	logger    *zap.Logger
}

// NewSession wraps machine and extractor.
func NewSession(machine *workflow.Machine, extractor Extractor, opts ...SessionOption) *Session {
	s := &Session{machine: machine, extractor: extractor, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Machine returns the underlying state machine.
func (s *Session) Machine() *workflow.Machine { return s.machine }

// Start enters the first phase.
func (s *Session) Start() workflow.Entry {
	return s.record(s.machine.Start())
}

// Advance moves forward one phase.
func (s *Session) Advance() (workflow.Entry, error) {
	return s.navigate(s.machine.Advance())
}

// Retreat moves back one phase.
func (s *Session) Retreat() (workflow.Entry, error) {
	return s.navigate(s.machine.Retreat())
}

// Extract runs the network round trip. It does not change workflow state
// and is safe to call off the driver loop.
func (s *Session) Extract(ctx context.Context, req Request) (extract.Result, error) {
	if s.extractor == nil {
		return extract.Result{}, fmt.Errorf("orchestrator: no extractor configured")
	}
	res, err := s.extractor.Extract(ctx, req.Document)
	if err != nil {
		s.book.Error("%s: %s", req.Document.Name, Describe(err))
		s.logger.Warn("extraction failed",
			zap.String("document", req.Document.Name),
			zap.Stringer("kind", Classify(err)),
			zap.Error(err),
		)
		return extract.Result{}, err
	}
	return res, nil
}

// Apply installs a successful extraction and jumps to the entities phase.
func (s *Session) Apply(req Request, res extract.Result) (workflow.Entry, error) {
	entry, err := s.machine.ApplyExtraction(res.Entities, req.Symbols, res.RunID)
	if err != nil {
		return workflow.Entry{}, err
	}
	s.book.Extraction(res.Document, len(res.Entities), res.RunID)
	return s.record(entry), nil
}

// Submit extracts and applies in one step, for headless drivers.
func (s *Session) Submit(ctx context.Context, req Request) (workflow.Entry, error) {
	res, err := s.Extract(ctx, req)
	if err != nil {
		return workflow.Entry{}, err
	}
	return s.Apply(req, res)
}

func (s *Session) navigate(entry workflow.Entry, err error) (workflow.Entry, error) {
	if err != nil {
		s.book.Warn("%s", Describe(err))
		return entry, err
	}
	return s.record(entry), nil
}

func (s *Session) record(entry workflow.Entry) workflow.Entry {
	s.book.Phase(entry.Phase, s.machine.Total(), entry.Spec.Title)
	if entry.Err != nil {
		s.book.Error("%s: %s", entry.Spec.Title, Describe(entry.Err))
	}
	return entry
}
