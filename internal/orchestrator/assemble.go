package orchestrator

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/tally/internal/config"
	"github.com/kingrea/tally/internal/extract"
	"github.com/kingrea/tally/internal/logbook"
	"github.com/kingrea/tally/internal/reveal"
	"github.com/kingrea/tally/internal/tally"
	"github.com/kingrea/tally/internal/templates"
	"github.com/kingrea/tally/internal/validation"
	"github.com/kingrea/tally/internal/workflow"
)

// Components are the pieces a driver needs, built from project config.
type Components struct {
	Definition workflow.Definition
	Actions    Actions
	Client     *extract.Client
	RevealRate time.Duration
}

// Assemble loads the phase definition and templates named by cfg and builds
// the extraction client.
func Assemble(cfg *config.Config, logger *zap.Logger) (Components, error) {
	if cfg == nil {
		return Components{}, fmt.Errorf("orchestrator: config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def, err := workflow.LoadDefinitionFile(cfg.DefinitionPath())
	if err != nil {
		return Components{}, err
	}
	set, err := templates.Load(cfg.TemplatesPath())
	if err != nil {
		return Components{}, err
	}
	pc := cfg.Project
	client, err := extract.New(pc.Extraction.Endpoint,
		extract.WithTimeout(pc.Extraction.Timeout),
		extract.WithRateLimit(pc.Extraction.RateLimit, pc.Extraction.Burst),
		extract.WithCache(pc.Extraction.CacheTTL),
		extract.WithLogger(logger.Named("extract")),
	)
	if err != nil {
		return Components{}, err
	}
	rate := pc.Pacing.RevealRate
	if rate <= 0 {
		rate = reveal.DefaultRate
	}
	return Components{
		Definition: def,
		Actions: Actions{
			Engine:    tally.NewEngine(pc.Rules),
			Templates: set,
			Simulator: validation.NewSimulator(pc.Pacing.Validation),
			Stagger:   pc.Pacing.Stagger,
		},
		Client:     client,
		RevealRate: rate,
	}, nil
}

// NewSession builds a machine over the components and wraps it in a session.
// A nil extractor uses the assembled client.
func (c Components) NewSession(extractor Extractor, book *logbook.Logbook, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(c.Actions.Options(), workflow.WithLogger(logger.Named("workflow")))
	machine, err := workflow.NewMachine(c.Definition, opts...)
	if err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = c.Client
	}
	return NewSession(machine, extractor,
		WithLogbook(book),
		WithSessionLogger(logger.Named("session")),
	), nil
}
