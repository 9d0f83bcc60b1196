package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/kingrea/tally/internal/extract"
	"github.com/kingrea/tally/internal/symbols"
	"github.com/kingrea/tally/internal/workflow"
)

// ErrorKind groups failures by how the user recovers from them.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindInput is bad user input; nothing was sent or changed.
	KindInput
	// KindTransport is a failed round trip to the extraction service.
	KindTransport
	// KindLogic is an unexpected failure while rendering a phase.
	KindLogic
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInput:
		return "input"
	case KindTransport:
		return "transport"
	default:
		return "logic"
	}
}

// Classify maps err onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var statusErr *extract.StatusError
	switch {
	case errors.Is(err, symbols.ErrInvalidJSON),
		errors.Is(err, extract.ErrNoDocument),
		errors.Is(err, workflow.ErrExtractionRequired),
		errors.Is(err, workflow.ErrBoundary),
		errors.Is(err, workflow.ErrPhaseOutOfRange):
		return KindInput
	case errors.As(err, &statusErr),
		errors.Is(err, extract.ErrUnavailable),
		errors.Is(err, extract.ErrMalformedResponse),
		errors.Is(err, extract.ErrBusy),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransport
	default:
		return KindLogic
	}
}

// Describe renders err as the message shown to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, symbols.ErrInvalidJSON):
		detail := strings.TrimPrefix(err.Error(), symbols.ErrInvalidJSON.Error())
		detail = strings.TrimPrefix(detail, ": ")
		if detail == "" {
			return "Invalid JSON in Symbol List"
		}
		return "Invalid JSON in Symbol List: " + detail
	case errors.Is(err, extract.ErrNoDocument):
		return "Please upload a document file."
	case errors.Is(err, workflow.ErrExtractionRequired):
		return "Please upload and process a document first."
	case errors.Is(err, extract.ErrBusy):
		return "A document is already being processed."
	case errors.Is(err, workflow.ErrFirstPhase):
		return "Already at the first phase."
	case errors.Is(err, workflow.ErrLastPhase):
		return "Already at the last phase."
	}
	switch Classify(err) {
	case KindTransport:
		return "Error processing document: " + strings.TrimPrefix(err.Error(), "extract: ")
	case KindInput:
		return err.Error()
	default:
		return "Unexpected error: " + err.Error()
	}
}
